// Package worker provides worker pool implementations
package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jzx17/gopool/pkg/types"
)

// jobIDCounter is the global job ID counter
var jobIDCounter int64

// BasicJob is the basic implementation of the Job interface
type BasicJob struct {
	id string
	fn func(ctx context.Context) error
}

// NewJob creates a new basic job
func NewJob(fn func(ctx context.Context) error) *BasicJob {
	id := atomic.AddInt64(&jobIDCounter, 1)
	return &BasicJob{
		id: fmt.Sprintf("job-%d", id),
		fn: fn,
	}
}

// NewJobWithID creates a basic job with custom ID
func NewJobWithID(id string, fn func(ctx context.Context) error) *BasicJob {
	return &BasicJob{
		id: id,
		fn: fn,
	}
}

// Func wraps a plain closure as a job
func Func(fn func()) *BasicJob {
	return NewJob(func(context.Context) error {
		fn()
		return nil
	})
}

// Execute executes the job
func (j *BasicJob) Execute(ctx context.Context) error {
	if j.fn == nil {
		return fmt.Errorf("job %s has no execution function", j.id)
	}
	return j.fn(ctx)
}

// ID returns the job ID
func (j *BasicJob) ID() string {
	return j.id
}

var _ types.Job = (*BasicJob)(nil)

type workerIDKey struct{}

// withWorkerID returns a context carrying the executing worker's ID
func withWorkerID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, workerIDKey{}, id)
}

// WorkerIDFromContext returns the ID of the worker executing the job
func WorkerIDFromContext(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(workerIDKey{}).(int)
	return id, ok
}
