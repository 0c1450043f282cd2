// Package types defines error types
package types

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	// ErrInvalidPoolSize indicates a pool was requested with no workers
	ErrInvalidPoolSize = errors.New("pool size must be positive")

	// ErrPoolClosed indicates a submission after shutdown began
	ErrPoolClosed = errors.New("worker pool is closed")

	// ErrChannelClosed indicates the job channel reached its closed state
	ErrChannelClosed = errors.New("job channel is closed")

	// ErrNilJob indicates a nil job was submitted
	ErrNilJob = errors.New("job cannot be nil")

	// ErrJobFault indicates a job panicked during execution
	ErrJobFault = errors.New("job fault")

	// ErrResourceNotFound indicates the configured response resource is missing
	ErrResourceNotFound = errors.New("response resource not found")

	// ErrMalformedRequest indicates the request head could not be parsed
	ErrMalformedRequest = errors.New("malformed request")
)

// JobFault describes a panic recovered at the worker boundary
type JobFault struct {
	// JobID is the ID of the job that panicked
	JobID string

	// WorkerID is the ID of the worker that ran the job
	WorkerID int

	// Value is the recovered panic value
	Value interface{}

	// Stack is the goroutine stack captured at recovery
	Stack string
}

// NewJobFault creates a new job fault
func NewJobFault(jobID string, workerID int, value interface{}, stack []byte) *JobFault {
	return &JobFault{
		JobID:    jobID,
		WorkerID: workerID,
		Value:    value,
		Stack:    string(stack),
	}
}

// Error implements the error interface
func (f *JobFault) Error() string {
	return fmt.Sprintf("job %s panicked on worker %d: %v", f.JobID, f.WorkerID, f.Value)
}

// Unwrap returns ErrJobFault, or the panic value itself when it is an error
func (f *JobFault) Unwrap() []error {
	if err, ok := f.Value.(error); ok {
		return []error{ErrJobFault, err}
	}
	return []error{ErrJobFault}
}

// IsJobFault reports whether err is or wraps a JobFault
func IsJobFault(err error) bool {
	var fault *JobFault
	return errors.As(err, &fault)
}

// ConnectionError is a failure confined to a single connection
type ConnectionError struct {
	// ConnID identifies the connection in logs
	ConnID string

	// Op is the failed step: read, load, write or close
	Op string

	// Err is the underlying error
	Err error
}

// NewConnectionError creates a new connection error
func NewConnectionError(connID, op string, err error) *ConnectionError {
	return &ConnectionError{
		ConnID: connID,
		Op:     op,
		Err:    err,
	}
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %s: %v", e.ConnID, e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *ConnectionError) Unwrap() error {
	return e.Err
}
