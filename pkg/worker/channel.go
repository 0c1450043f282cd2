package worker

import (
	"sync"
	"sync/atomic"

	"github.com/jzx17/gopool/pkg/types"
)

// JobChannel is an unbounded FIFO conduit shared by many senders and many receivers.
//
// Send never waits for a receiver. Receive blocks until a job is available or the
// channel is closed and drained. Every job is handed to exactly one receiver.
// Closing is irreversible; jobs enqueued before the close are still delivered.
type JobChannel struct {
	mu      sync.Mutex
	ready   *sync.Cond
	queue   []types.Job
	senders int
	closed  bool

	// depth is called with the queue length after every change, under mu
	depth func(int)
}

// Sender is one sending handle of a JobChannel.
// The channel closes when its last Sender is closed.
type Sender struct {
	ch      *JobChannel
	dropped atomic.Bool
}

// NewJobChannel creates a job channel together with its first sender
func NewJobChannel() (*JobChannel, *Sender) {
	ch := &JobChannel{senders: 1}
	ch.ready = sync.NewCond(&ch.mu)
	return ch, &Sender{ch: ch}
}

// Receive blocks until a job can be claimed or the channel is closed and empty
func (c *JobChannel) Receive() (types.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.queue) == 0 && !c.closed {
		c.ready.Wait()
	}
	if len(c.queue) == 0 {
		return nil, types.ErrChannelClosed
	}

	job := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	c.reportDepthLocked()
	return job, nil
}

// OnDepth registers fn to receive the queue length every time a job is
// enqueued or claimed. Calls are serialized, so fn always sees the latest
// length last. fn must not call back into the channel.
func (c *JobChannel) OnDepth(fn func(int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.depth = fn
}

func (c *JobChannel) reportDepthLocked() {
	if c.depth != nil {
		c.depth(len(c.queue))
	}
}

// Close closes the channel regardless of outstanding senders
func (c *JobChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *JobChannel) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	// wake every blocked receiver so it can observe the closed state
	c.ready.Broadcast()
}

// Len returns the number of jobs waiting to be received
func (c *JobChannel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Closed reports whether the channel has been closed
func (c *JobChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *JobChannel) send(job types.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return types.ErrChannelClosed
	}
	c.queue = append(c.queue, job)
	c.reportDepthLocked()
	c.ready.Signal()
	return nil
}

// Send enqueues a job for some future receiver
func (s *Sender) Send(job types.Job) error {
	if job == nil {
		return types.ErrNilJob
	}
	if s.dropped.Load() {
		return types.ErrChannelClosed
	}
	return s.ch.send(job)
}

// Clone creates another sender for the same channel
func (s *Sender) Clone() (*Sender, error) {
	if s.dropped.Load() {
		return nil, types.ErrChannelClosed
	}

	c := s.ch
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, types.ErrChannelClosed
	}
	c.senders++
	return &Sender{ch: c}, nil
}

// Close drops this sender; closing an already dropped sender is a no-op
func (s *Sender) Close() {
	if !s.dropped.CompareAndSwap(false, true) {
		return
	}

	c := s.ch
	c.mu.Lock()
	defer c.mu.Unlock()

	c.senders--
	if c.senders == 0 {
		c.closeLocked()
	}
}
