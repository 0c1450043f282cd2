package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jzx17/gopool/pkg/types"
)

// EnvPrefix prefixes every environment override, e.g. GOPOOL_POOL_SIZE
const EnvPrefix = "GOPOOL"

// Configuration is the full process configuration
type Configuration struct {
	Pool      Pool    `mapstructure:"pool" yaml:"pool"`
	Server    Server  `mapstructure:"server" yaml:"server"`
	Content   Content `mapstructure:"content" yaml:"content"`
	Metrics   Metrics `mapstructure:"metrics" yaml:"metrics"`
	LogLevel  string  `mapstructure:"log_level" yaml:"log_level" default:"info"`
	LogFormat string  `mapstructure:"log_format" yaml:"log_format" default:"console"`
}

// Pool configures the worker pool
type Pool struct {
	Size         int  `mapstructure:"size" yaml:"size" default:"4"`
	LockOSThread bool `mapstructure:"lock_os_thread" yaml:"lock_os_thread" default:"true"`
}

// Server configures the listener and per-connection I/O
type Server struct {
	BindAddress    string        `mapstructure:"bind_address" yaml:"bind_address" default:"127.0.0.1"`
	BindPort       int           `mapstructure:"bind_port" yaml:"bind_port" default:"7878"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" default:"5s"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" default:"5s"`
	MaxHeaderLines int           `mapstructure:"max_header_lines" yaml:"max_header_lines" default:"100"`

	// ShutdownTimeout bounds how long shutdown waits for accepted connections to drain
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" default:"10s"`
}

// Content configures the static response
type Content struct {
	ResponseResource string `mapstructure:"response_resource" yaml:"response_resource" default:"hello.html"`
}

// Metrics configures the prometheus endpoint; an empty address disables it
type Metrics struct {
	Address string `mapstructure:"address" yaml:"address"`
}

// flagKeys maps command line flags to configuration keys
var flagKeys = map[string]string{
	"pool-size":         "pool.size",
	"lock-os-thread":    "pool.lock_os_thread",
	"bind-address":      "server.bind_address",
	"bind-port":         "server.bind_port",
	"read-timeout":      "server.read_timeout",
	"write-timeout":     "server.write_timeout",
	"shutdown-timeout":  "server.shutdown_timeout",
	"response-resource": "content.response_resource",
	"metrics-address":   "metrics.address",
	"log-level":         "log_level",
	"log-format":        "log_format",
}

// NewDefault returns a configuration with every default applied
func NewDefault() (*Configuration, error) {
	cfg := &Configuration{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// RegisterFlags adds the configuration flags to fs, using the defaults as flag defaults
func RegisterFlags(fs *pflag.FlagSet) error {
	d, err := NewDefault()
	if err != nil {
		return err
	}

	fs.Int("pool-size", d.Pool.Size, "Number of worker threads")
	fs.Bool("lock-os-thread", d.Pool.LockOSThread, "Pin each worker to its own OS thread")
	fs.String("bind-address", d.Server.BindAddress, "Address to listen on")
	fs.Int("bind-port", d.Server.BindPort, "Port to listen on")
	fs.Duration("read-timeout", d.Server.ReadTimeout, "Deadline for reading a request")
	fs.Duration("write-timeout", d.Server.WriteTimeout, "Deadline for writing a response")
	fs.Duration("shutdown-timeout", d.Server.ShutdownTimeout, "How long shutdown waits for in-flight connections")
	fs.String("response-resource", d.Content.ResponseResource, "Path to the static content served on every connection")
	fs.String("metrics-address", d.Metrics.Address, "Address of the prometheus endpoint (disabled when empty)")
	fs.String("log-level", d.LogLevel, "Log level: debug, info, warn, error")
	fs.String("log-format", d.LogFormat, "Log format: console or json")
	return nil
}

// Load builds the configuration from defaults, an optional file, GOPOOL_* environment
// variables and flags, in increasing order of precedence.
func Load(path string, fs *pflag.FlagSet) (*Configuration, error) {
	cfg, err := NewDefault()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, cfg)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key with viper so environment overrides are picked up
func setDefaults(v *viper.Viper, cfg *Configuration) {
	v.SetDefault("pool.size", cfg.Pool.Size)
	v.SetDefault("pool.lock_os_thread", cfg.Pool.LockOSThread)
	v.SetDefault("server.bind_address", cfg.Server.BindAddress)
	v.SetDefault("server.bind_port", cfg.Server.BindPort)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.max_header_lines", cfg.Server.MaxHeaderLines)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	v.SetDefault("content.response_resource", cfg.Content.ResponseResource)
	v.SetDefault("metrics.address", cfg.Metrics.Address)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
}

// Validate checks the configuration for values the server cannot run with
func (c *Configuration) Validate() error {
	var errs []error

	if c.Pool.Size <= 0 {
		errs = append(errs, fmt.Errorf("pool.size: %w, got %d", types.ErrInvalidPoolSize, c.Pool.Size))
	}
	if c.Server.BindPort < 0 || c.Server.BindPort > 65535 {
		errs = append(errs, fmt.Errorf("server.bind_port must be between 0 and 65535, got %d", c.Server.BindPort))
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server timeouts must be non-negative"))
	}
	if c.Server.MaxHeaderLines <= 0 {
		errs = append(errs, fmt.Errorf("server.max_header_lines must be positive, got %d", c.Server.MaxHeaderLines))
	}
	if c.Content.ResponseResource == "" {
		errs = append(errs, errors.New("content.response_resource must not be empty"))
	}

	return errors.Join(errs...)
}

// ListenAddress returns the host:port the server binds to
func (c *Configuration) ListenAddress() string {
	return net.JoinHostPort(c.Server.BindAddress, strconv.Itoa(c.Server.BindPort))
}

// YAML renders the effective configuration
func (c *Configuration) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
