package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jzx17/gopool/pkg/types"
)

// FixedWorkerPoolConfig defines configuration for fixed worker pool
type FixedWorkerPoolConfig struct {
	// PoolSize is the number of workers; it must be positive
	PoolSize int

	// LockOSThread pins each worker goroutine to its own OS thread
	LockOSThread bool

	// Clock for time operations (optional, defaults to real clock)
	Clock types.Clock

	// ErrorHandler receives every job error and fault (optional)
	ErrorHandler types.ErrorHandler

	// Observer receives lifecycle events (optional)
	Observer types.Observer
}

// DefaultFixedWorkerPoolConfig returns default configuration
func DefaultFixedWorkerPoolConfig() *FixedWorkerPoolConfig {
	return &FixedWorkerPoolConfig{
		PoolSize: 4,
		Clock:    types.NewRealClock(),
	}
}

// FixedWorkerPool implements a fixed-size worker pool.
//
// Workers are spawned by the constructor and live until Shutdown. Submit only
// enqueues; a job never runs on the submitting goroutine.
type FixedWorkerPool struct {
	config  *FixedWorkerPoolConfig
	workers []*Worker
	jobs    *JobChannel
	sender  *Sender

	closed       atomic.Bool
	shutdownOnce sync.Once
	stopped      chan struct{}

	submitted int64
	rejected  int64

	observer types.Observer
	log      *zap.SugaredLogger
}

// NewFixedWorkerPool creates the pool and returns once every worker is live
func NewFixedWorkerPool(config *FixedWorkerPoolConfig) (*FixedWorkerPool, error) {
	if config == nil {
		config = DefaultFixedWorkerPoolConfig()
	}

	if config.PoolSize <= 0 {
		return nil, fmt.Errorf("%w, got %d", types.ErrInvalidPoolSize, config.PoolSize)
	}

	config.Clock = types.ClockOrReal(config.Clock)
	observer := config.Observer
	if observer == nil {
		observer = types.NopObserver{}
	}

	jobs, sender := NewJobChannel()
	jobs.OnDepth(observer.QueueDepth)
	pool := &FixedWorkerPool{
		config:   config,
		workers:  make([]*Worker, config.PoolSize),
		jobs:     jobs,
		sender:   sender,
		stopped:  make(chan struct{}),
		observer: observer,
		log:      zap.S().Named("worker_pool"),
	}

	for i := 0; i < config.PoolSize; i++ {
		w := NewWorkerWithClock(i, jobs, config.Clock)
		w.SetErrorHandler(config.ErrorHandler)
		w.SetObserver(observer)
		w.SetLockOSThread(config.LockOSThread)
		pool.workers[i] = w
	}

	ctx := context.Background()
	for _, w := range pool.workers {
		go w.Run(ctx)
	}
	for _, w := range pool.workers {
		<-w.Started()
	}

	pool.log.Infow("worker pool started", "size", config.PoolSize, "lock_os_thread", config.LockOSThread)
	return pool, nil
}

// Submit hands a job to the pool.
// It returns as soon as the job is enqueued, or ErrPoolClosed once shutdown has begun.
func (p *FixedWorkerPool) Submit(job types.Job) error {
	if job == nil {
		return types.ErrNilJob
	}

	if p.closed.Load() {
		return p.reject()
	}

	if err := p.sender.Send(job); err != nil {
		// shutdown raced with this submission
		return p.reject()
	}

	atomic.AddInt64(&p.submitted, 1)
	p.observer.JobSubmitted()
	return nil
}

func (p *FixedWorkerPool) reject() error {
	atomic.AddInt64(&p.rejected, 1)
	p.observer.JobRejected()
	return types.ErrPoolClosed
}

// Shutdown closes the job channel and blocks until every worker has exited.
// Jobs accepted before the call still run. Calling it again is a no-op.
func (p *FixedWorkerPool) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.closed.Store(true)
		p.log.Infow("shutting down worker pool", "pending", p.jobs.Len())

		p.sender.Close()
		for _, w := range p.workers {
			<-w.Done()
		}
		close(p.stopped)

		p.log.Info("worker pool stopped")
	})
	<-p.stopped
}

// ShutdownContext starts Shutdown and waits for it until ctx is done.
// When ctx expires first, shutdown keeps going in the background.
func (p *FixedWorkerPool) ShutdownContext(ctx context.Context) error {
	// reject new work before returning, even if ctx is already done
	p.closed.Store(true)
	go p.Shutdown()

	select {
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts the pool down; it implements io.Closer
func (p *FixedWorkerPool) Close() error {
	p.Shutdown()
	return nil
}

// Size returns the worker pool size
func (p *FixedWorkerPool) Size() int {
	return p.config.PoolSize
}

// Stats gets basic worker pool statistics
func (p *FixedWorkerPool) Stats() types.WorkerPoolStats {
	var activeWorkers int
	var completed, failed int64
	for _, w := range p.workers {
		ws := w.Stats()
		if ws.IsActive() {
			activeWorkers++
		}
		completed += ws.TotalProcessed
		failed += ws.TotalFailed
	}

	return types.WorkerPoolStats{
		PoolSize:       p.config.PoolSize,
		ActiveWorkers:  activeWorkers,
		QueueSize:      p.jobs.Len(),
		TotalSubmitted: atomic.LoadInt64(&p.submitted),
		TotalRejected:  atomic.LoadInt64(&p.rejected),
		TotalCompleted: completed,
		TotalFailed:    failed,
		Closed:         p.closed.Load(),
	}
}

// GetWorkerStats gets statistics of all Workers
func (p *FixedWorkerPool) GetWorkerStats() []WorkerStats {
	stats := make([]WorkerStats, len(p.workers))
	for i, w := range p.workers {
		stats[i] = w.Stats()
	}
	return stats
}

// IsClosed checks if shutdown has begun
func (p *FixedWorkerPool) IsClosed() bool {
	return p.closed.Load()
}

// QueueLength gets the current queue length
func (p *FixedWorkerPool) QueueLength() int {
	return p.jobs.Len()
}

var _ types.WorkerPool = (*FixedWorkerPool)(nil)
