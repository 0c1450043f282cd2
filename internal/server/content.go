package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sync/singleflight"

	"github.com/jzx17/gopool/pkg/types"
)

// Loader reads the static response body from disk.
//
// The file is read for every request so edits show up without a restart.
// Concurrent requests share a single read.
type Loader struct {
	path  string
	group singleflight.Group
}

// NewLoader creates a loader for the file at path
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Path returns the file served by the loader
func (l *Loader) Path() string {
	return l.path
}

// Load returns the current file contents. The returned slice is shared and must not be modified.
func (l *Loader) Load() ([]byte, error) {
	v, err, _ := l.group.Do(l.path, func() (interface{}, error) {
		body, err := os.ReadFile(l.path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", types.ErrResourceNotFound, l.path)
		}
		return body, err
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
