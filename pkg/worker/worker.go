package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jzx17/gopool/pkg/types"
)

// WorkerState defines the state of a Worker
type WorkerState int32

const (
	// WorkerStateIdle represents a worker blocked in Receive
	WorkerStateIdle WorkerState = iota
	// WorkerStateWorking represents a worker executing a job
	WorkerStateWorking
	// WorkerStateStopped represents a worker that observed the closed channel
	WorkerStateStopped
)

// String returns the string representation of WorkerState
func (ws WorkerState) String() string {
	switch ws {
	case WorkerStateIdle:
		return "idle"
	case WorkerStateWorking:
		return "working"
	case WorkerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Worker pulls jobs from a shared JobChannel until the channel is closed
type Worker struct {
	id      int
	state   int32 // atomic state
	jobs    *JobChannel
	started chan struct{}
	done    chan struct{}
	runOnce sync.Once

	// statistics
	totalProcessed int64
	totalFailed    int64
	totalFaulted   int64
	lastJobTime    int64 // Unix nanosecond timestamp

	lockOSThread bool
	errorHandler types.ErrorHandler
	observer     types.Observer
	clock        types.Clock
	log          *zap.SugaredLogger

	mu sync.RWMutex
}

// NewWorker creates a new Worker with default real clock
func NewWorker(id int, jobs *JobChannel) *Worker {
	return NewWorkerWithClock(id, jobs, types.NewRealClock())
}

// NewWorkerWithClock creates a new Worker with specified clock
func NewWorkerWithClock(id int, jobs *JobChannel, clock types.Clock) *Worker {
	return &Worker{
		id:       id,
		state:    int32(WorkerStateIdle),
		jobs:     jobs,
		started:  make(chan struct{}),
		done:     make(chan struct{}),
		observer: types.NopObserver{},
		clock:    types.ClockOrReal(clock),
		log:      zap.S().Named("worker").With("worker_id", id),
	}
}

// ID returns the Worker ID
func (w *Worker) ID() int {
	return w.id
}

// State returns the current Worker state
func (w *Worker) State() WorkerState {
	return WorkerState(atomic.LoadInt32(&w.state))
}

// SetErrorHandler sets the error handler
func (w *Worker) SetErrorHandler(handler types.ErrorHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errorHandler = handler
}

// SetObserver sets the lifecycle observer
func (w *Worker) SetObserver(observer types.Observer) {
	if observer == nil {
		observer = types.NopObserver{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.observer = observer
}

// SetLockOSThread pins the worker goroutine to one OS thread for its lifetime.
// It must be called before Run.
func (w *Worker) SetLockOSThread(lock bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lockOSThread = lock
}

// Run receives and executes jobs until the channel is closed.
// ctx is handed to every job; the worker itself never cancels it.
// A worker runs at most once: later calls return immediately.
func (w *Worker) Run(ctx context.Context) {
	w.runOnce.Do(func() { w.run(ctx) })
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	w.mu.RLock()
	lock := w.lockOSThread
	w.mu.RUnlock()
	if lock {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	ctx = withWorkerID(ctx, w.id)
	close(w.started)

	for {
		job, err := w.jobs.Receive()
		if err != nil {
			atomic.StoreInt32(&w.state, int32(WorkerStateStopped))
			w.log.Debug("job channel closed, worker exiting")
			return
		}
		w.processJob(ctx, job)
	}
}

// processJob processes a single job
func (w *Worker) processJob(ctx context.Context, job types.Job) {
	atomic.StoreInt32(&w.state, int32(WorkerStateWorking))
	defer atomic.StoreInt32(&w.state, int32(WorkerStateIdle))

	w.mu.RLock()
	observer := w.observer
	w.mu.RUnlock()

	startTime := w.clock.Now()
	atomic.StoreInt64(&w.lastJobTime, startTime.UnixNano())
	observer.JobStarted(w.id)

	err := w.executeJob(ctx, job)

	executionTime := w.clock.Since(startTime)

	if err != nil {
		atomic.AddInt64(&w.totalFailed, 1)
		if types.IsJobFault(err) {
			atomic.AddInt64(&w.totalFaulted, 1)
		}
		w.handleError(err, job)
	} else {
		atomic.AddInt64(&w.totalProcessed, 1)
	}

	observer.JobFinished(w.id, executionTime, err)
}

// executeJob executes a job with panic recovery support
func (w *Worker) executeJob(ctx context.Context, job types.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			var buf [4096]byte
			n := runtime.Stack(buf[:], false)
			err = types.NewJobFault(job.ID(), w.id, r, buf[:n])
		}
	}()

	return job.Execute(ctx)
}

// handleError logs the failure and forwards it to the error handler
func (w *Worker) handleError(err error, job types.Job) {
	if fault, ok := err.(*types.JobFault); ok {
		w.log.Errorw("job panicked", "job_id", job.ID(), "panic", fault.Value, "stack", fault.Stack)
	} else {
		w.log.Warnw("job returned error", "job_id", job.ID(), "error", err)
	}

	w.mu.RLock()
	handler := w.errorHandler
	w.mu.RUnlock()

	if handler != nil {
		handler(err)
	}
}

// Started returns a channel closed once Run has begun receiving
func (w *Worker) Started() <-chan struct{} {
	return w.started
}

// Done returns a channel closed once Run has returned
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Stats gets Worker statistics
func (w *Worker) Stats() WorkerStats {
	var last time.Time
	if ns := atomic.LoadInt64(&w.lastJobTime); ns != 0 {
		last = time.Unix(0, ns)
	}
	return WorkerStats{
		ID:             w.id,
		State:          w.State(),
		TotalProcessed: atomic.LoadInt64(&w.totalProcessed),
		TotalFailed:    atomic.LoadInt64(&w.totalFailed),
		TotalFaulted:   atomic.LoadInt64(&w.totalFaulted),
		LastJobTime:    last,
	}
}

// WorkerStats defines Worker statistics
type WorkerStats struct {
	ID             int
	State          WorkerState
	TotalProcessed int64
	TotalFailed    int64
	TotalFaulted   int64
	LastJobTime    time.Time
}

// IsActive checks if Worker is active
func (ws WorkerStats) IsActive() bool {
	return ws.State == WorkerStateWorking
}

// IsIdle checks if Worker is idle
func (ws WorkerStats) IsIdle() bool {
	return ws.State == WorkerStateIdle
}

// GetErrorRate gets the error rate
func (ws WorkerStats) GetErrorRate() float64 {
	total := ws.TotalProcessed + ws.TotalFailed
	if total == 0 {
		return 0
	}
	return float64(ws.TotalFailed) / float64(total)
}
