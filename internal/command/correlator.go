package command

import (
	"context"
	"sync"
	"time"
)

// Result is the outcome of a sent command. It is always a value: an
// unanswered command resolves with TimedOut set, never with an error.
type Result struct {
	TimedOut bool
	Payload  map[string]any
}

// Handle resolves exactly once with a Result.
type Handle struct {
	ch chan Result
}

// Await blocks until the handle resolves. Context cancellation also
// yields a timed-out result so callers always receive a value.
func (h *Handle) Await(ctx context.Context) Result {
	select {
	case result := <-h.ch:
		return result
	case <-ctx.Done():
		return Result{TimedOut: true}
	}
}

type pendingEntry struct {
	handle   *Handle
	deadline time.Time
	timer    *time.Timer
}

// Correlator matches command results to their in-flight handles.
type Correlator struct {
	mu      sync.Mutex
	timeout time.Duration
	pending map[string]*pendingEntry
}

// NewCorrelator creates a correlator with the given per-command timeout.
func NewCorrelator(timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Correlator{
		timeout: timeout,
		pending: make(map[string]*pendingEntry),
	}
}

// Register tracks a sent command. The returned handle resolves with the
// device result, or with the timeout flag at the deadline.
func (c *Correlator) Register(commandID string) *Handle {
	handle := &Handle{ch: make(chan Result, 1)}
	entry := &pendingEntry{handle: handle, deadline: time.Now().Add(c.timeout)}
	entry.timer = time.AfterFunc(c.timeout, func() { c.expire(commandID) })

	c.mu.Lock()
	c.pending[commandID] = entry
	c.mu.Unlock()
	return handle
}

// Complete resolves the matching handle. Unknown, late and duplicate
// command ids are silently ignored.
func (c *Correlator) Complete(commandID string, payload map[string]any) bool {
	c.mu.Lock()
	entry, ok := c.pending[commandID]
	if ok {
		delete(c.pending, commandID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	entry.timer.Stop()
	entry.handle.ch <- Result{Payload: payload}
	return true
}

// Pending returns the number of unresolved entries.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Sweep resolves entries whose deadlines have passed. The expiry timers
// normally handle this; the sweep is the periodic safety net.
func (c *Correlator) Sweep(now time.Time) int {
	c.mu.Lock()
	var expired []*pendingEntry
	for id, entry := range c.pending {
		if now.After(entry.deadline) {
			expired = append(expired, entry)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, entry := range expired {
		entry.timer.Stop()
		entry.handle.ch <- Result{TimedOut: true}
	}
	return len(expired)
}

func (c *Correlator) expire(commandID string) {
	c.mu.Lock()
	entry, ok := c.pending[commandID]
	if ok {
		delete(c.pending, commandID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	entry.handle.ch <- Result{TimedOut: true}
}
