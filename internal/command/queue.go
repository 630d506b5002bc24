package command

import "sync"

// Queue is a bounded per-device outbox. Priority commands insert at the
// head, others at the tail; when full, the oldest tail entry is evicted.
type Queue struct {
	mu       sync.Mutex
	capacity int
	items    []Command
}

// NewQueue creates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 100
	}
	return &Queue{capacity: capacity}
}

// Push enqueues cmd according to its priority.
func (q *Queue) Push(cmd Command) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cmd.Priority > 0 {
		q.items = append([]Command{cmd}, q.items...)
	} else {
		q.items = append(q.items, cmd)
	}
	if len(q.items) > q.capacity {
		q.evictLocked()
	}
}

// evictLocked drops the oldest non-priority command so that the most
// recent entries and any priority command at the head survive.
func (q *Queue) evictLocked() {
	for i, item := range q.items {
		if item.Priority <= 0 {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
	q.items = q.items[:len(q.items)-1]
}

// Pop removes and returns the head command.
func (q *Queue) Pop() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Command{}, false
	}
	cmd := q.items[0]
	q.items = q.items[1:]
	return cmd, true
}

// PopN removes and returns up to n head commands.
func (q *Queue) PopN(n int) []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || len(q.items) == 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}
	out := make([]Command, n)
	copy(out, q.items[:n])
	q.items = q.items[n:]
	return out
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
