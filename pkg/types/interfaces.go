// Package types defines core interfaces and types shared by the pool and the server
package types

import (
	"context"
	"time"
)

// Job defines a single unit of work
type Job interface {
	// Execute runs the job; it is invoked at most once
	Execute(ctx context.Context) error

	// ID returns the job ID (for tracking only)
	ID() string
}

// WorkerPool defines the worker pool interface
type WorkerPool interface {
	// Submit hands a job to the pool; it never runs the job on the caller
	Submit(job Job) error

	// Shutdown closes the pool and waits for every accepted job to finish
	Shutdown()

	// Size returns the number of workers
	Size() int

	// Stats returns worker pool statistics
	Stats() WorkerPoolStats
}

// WorkerPoolStats defines basic statistics for worker pools
type WorkerPoolStats struct {
	// PoolSize is the size of the pool
	PoolSize int

	// ActiveWorkers is the number of workers currently executing a job
	ActiveWorkers int

	// QueueSize is the current number of jobs waiting in the channel
	QueueSize int

	// TotalSubmitted is the number of jobs accepted by Submit
	TotalSubmitted int64

	// TotalRejected is the number of submissions refused after shutdown
	TotalRejected int64

	// TotalCompleted is the number of jobs that returned without error
	TotalCompleted int64

	// TotalFailed is the number of jobs that returned an error or panicked
	TotalFailed int64

	// Closed reports whether shutdown has begun
	Closed bool
}

// ErrorHandler receives every error returned or raised by a job
type ErrorHandler func(error)

// Observer receives pool lifecycle events, e.g. for metrics
type Observer interface {
	// JobSubmitted is called after a job is accepted
	JobSubmitted()

	// JobRejected is called when a submission fails
	JobRejected()

	// JobStarted is called when a worker claims a job
	JobStarted(workerID int)

	// JobFinished is called after a job returns or faults
	JobFinished(workerID int, duration time.Duration, err error)

	// QueueDepth reports the number of pending jobs after each enqueue or claim.
	// Calls are serialized by the job channel and must not block.
	QueueDepth(n int)
}

// NopObserver ignores all events
type NopObserver struct{}

func (NopObserver) JobSubmitted()                         {}
func (NopObserver) JobRejected()                          {}
func (NopObserver) JobStarted(int)                        {}
func (NopObserver) JobFinished(int, time.Duration, error) {}
func (NopObserver) QueueDepth(int)                        {}
