// Package testutils provides testing utilities shared by the pool and server tests
package testutils

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// ExecutionTracker records which jobs ran and whether any ran concurrently on one worker
type ExecutionTracker struct {
	mu        sync.Mutex
	runs      map[string]int
	busy      map[int]bool
	overlaps  int
	completed int64
}

// NewExecutionTracker creates an empty tracker
func NewExecutionTracker() *ExecutionTracker {
	return &ExecutionTracker{
		runs: make(map[string]int),
		busy: make(map[int]bool),
	}
}

// Enter marks job id as running on worker workerID
func (et *ExecutionTracker) Enter(id string, workerID int) {
	et.mu.Lock()
	defer et.mu.Unlock()
	et.runs[id]++
	if et.busy[workerID] {
		et.overlaps++
	}
	et.busy[workerID] = true
}

// Leave marks worker workerID as free again
func (et *ExecutionTracker) Leave(workerID int) {
	et.mu.Lock()
	et.busy[workerID] = false
	et.mu.Unlock()
	atomic.AddInt64(&et.completed, 1)
}

// Runs returns how many times each job ran
func (et *ExecutionTracker) Runs() map[string]int {
	et.mu.Lock()
	defer et.mu.Unlock()
	out := make(map[string]int, len(et.runs))
	for k, v := range et.runs {
		out[k] = v
	}
	return out
}

// Overlaps returns how often a worker started a job while already busy
func (et *ExecutionTracker) Overlaps() int {
	et.mu.Lock()
	defer et.mu.Unlock()
	return et.overlaps
}

// Completed returns the number of finished jobs
func (et *ExecutionTracker) Completed() int64 {
	return atomic.LoadInt64(&et.completed)
}

// ObserveLogs replaces the global zap logger with an in-memory one for the test
func ObserveLogs(t testing.TB) *observer.ObservedLogs {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

// Context returns a context cancelled at test cleanup or after timeout
func Context(t testing.TB, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
