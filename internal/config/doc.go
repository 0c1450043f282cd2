// Package config loads the server configuration.
//
// Defaults come from struct tags; a YAML file, GOPOOL_* environment variables and
// command line flags override them in that order.
package config
