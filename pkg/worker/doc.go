/*
Package worker provides a fixed-size worker pool that bounds concurrency by handing
every submitted job to exactly one long-lived worker goroutine.

# Overview

The package is built from three pieces:
- JobChannel: an unbounded many-producer/many-consumer FIFO with an irreversible closed state
- Worker: a goroutine bound to a numeric id that receives and executes jobs until the channel closes
- FixedWorkerPool: owns the workers and the sending side of the channel

# Dispatch

Submit only enqueues. Idle workers block in JobChannel.Receive and the first one to wake
claims the next job, so load balancing is plain FIFO contention. There is no fallback that
runs a job on the submitting goroutine: when every worker is busy the job waits in the
channel.

# Fault Isolation

A job that panics is recovered at the worker boundary and reported as a *types.JobFault
carrying the job id, worker id, panic value and stack. The worker logs the fault, passes it
to the configured ErrorHandler and goes back to receiving. A job that returns an error is
reported the same way. Nothing is propagated back to the submitter and nothing is retried.

# Shutdown

Shutdown marks the pool closed, drops the pool's sender, and waits until every worker has
observed the closed channel. Jobs accepted before Shutdown still run; Submit after that point
fails with types.ErrPoolClosed without blocking. Shutdown is idempotent.

# Usage Examples

Basic usage:

	pool, err := worker.NewFixedWorkerPool(&worker.FixedWorkerPoolConfig{
		PoolSize: 4,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Shutdown()

	job := worker.NewJob(func(ctx context.Context) error {
		id, _ := worker.WorkerIDFromContext(ctx)
		fmt.Println("running on worker", id)
		return nil
	})

	if err := pool.Submit(job); err != nil {
		log.Printf("Failed to submit job: %v", err)
	}

Retrieve statistics:

	stats := pool.Stats()
	fmt.Printf("Active Workers: %d/%d\n", stats.ActiveWorkers, stats.PoolSize)
	fmt.Printf("Queued: %d, Completed: %d\n", stats.QueueSize, stats.TotalCompleted)

# Configuration Options

FixedWorkerPoolConfig supports the following configurations:
- PoolSize: Number of worker goroutines (must be positive)
- LockOSThread: Pin every worker goroutine to its own OS thread
- ErrorHandler: Receives every job error and fault
- Observer: Receives lifecycle events, e.g. for metrics
- Clock: Time source for execution timing
*/
package worker
