package command

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestNewIDSortable(t *testing.T) {
	first := NewID()
	second := NewID()
	if first == second {
		t.Fatalf("ids collide: %s", first)
	}
	if !(first < second) {
		t.Fatalf("ids not sorted: %s >= %s", first, second)
	}
}

func TestQueueBoundRetainsMostRecent(t *testing.T) {
	q := NewQueue(5)
	for i := 0; i < 8; i++ {
		q.Push(Command{ID: NewID(), Name: fmt.Sprintf("cmd-%d", i)})
	}
	if got := q.Len(); got != 5 {
		t.Fatalf("len=%d, want 5", got)
	}
	for i := 3; i < 8; i++ {
		cmd, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop()=_, false at %d", i)
		}
		want := fmt.Sprintf("cmd-%d", i)
		if cmd.Name != want {
			t.Fatalf("popped %s, want %s", cmd.Name, want)
		}
	}
}

func TestQueuePriorityAtHeadWhenFull(t *testing.T) {
	q := NewQueue(3)
	for i := 0; i < 3; i++ {
		q.Push(Command{ID: NewID(), Name: fmt.Sprintf("low-%d", i)})
	}
	q.Push(Command{ID: NewID(), Name: "urgent", Priority: 5})

	if got := q.Len(); got != 3 {
		t.Fatalf("len=%d, want 3", got)
	}
	head, ok := q.Pop()
	if !ok || head.Name != "urgent" {
		t.Fatalf("head=%q, want %q", head.Name, "urgent")
	}
}

func TestQueuePopN(t *testing.T) {
	q := NewQueue(10)
	for i := 0; i < 5; i++ {
		q.Push(Command{ID: NewID(), Name: fmt.Sprintf("cmd-%d", i)})
	}
	batch := q.PopN(3)
	if len(batch) != 3 {
		t.Fatalf("batch len=%d, want 3", len(batch))
	}
	if batch[0].Name != "cmd-0" || batch[2].Name != "cmd-2" {
		t.Fatalf("batch order=%v", batch)
	}
	if got := q.Len(); got != 2 {
		t.Fatalf("remaining=%d, want 2", got)
	}
	if rest := q.PopN(10); len(rest) != 2 {
		t.Fatalf("rest len=%d, want 2", len(rest))
	}
}

func TestCorrelatorCompletes(t *testing.T) {
	c := NewCorrelator(time.Second)
	handle := c.Register("cmd-1")

	if !c.Complete("cmd-1", map[string]any{"ok": true}) {
		t.Fatal("Complete=false, want true")
	}
	result := handle.Await(context.Background())
	if result.TimedOut {
		t.Fatal("result timed out, want completed")
	}
	if result.Payload["ok"] != true {
		t.Fatalf("payload=%v, want ok=true", result.Payload)
	}
}

func TestCorrelatorTimesOutWithValue(t *testing.T) {
	c := NewCorrelator(30 * time.Millisecond)
	handle := c.Register("cmd-2")

	result := handle.Await(context.Background())
	if !result.TimedOut {
		t.Fatal("result.TimedOut=false, want true")
	}
	// Late result is silently ignored.
	if c.Complete("cmd-2", nil) {
		t.Fatal("late Complete=true, want false")
	}
}

func TestCorrelatorIgnoresUnknownAndDuplicate(t *testing.T) {
	c := NewCorrelator(time.Second)
	if c.Complete("never-registered", nil) {
		t.Fatal("unknown Complete=true, want false")
	}

	handle := c.Register("cmd-3")
	if !c.Complete("cmd-3", nil) {
		t.Fatal("first Complete=false, want true")
	}
	if c.Complete("cmd-3", nil) {
		t.Fatal("duplicate Complete=true, want false")
	}
	if result := handle.Await(context.Background()); result.TimedOut {
		t.Fatal("result timed out, want completed")
	}
}

func TestCorrelatorSweep(t *testing.T) {
	c := NewCorrelator(time.Minute)
	handle := c.Register("cmd-4")
	if got := c.Pending(); got != 1 {
		t.Fatalf("pending=%d, want 1", got)
	}

	if swept := c.Sweep(time.Now().Add(2 * time.Minute)); swept != 1 {
		t.Fatalf("swept=%d, want 1", swept)
	}
	if result := handle.Await(context.Background()); !result.TimedOut {
		t.Fatal("swept result.TimedOut=false, want true")
	}
	if got := c.Pending(); got != 0 {
		t.Fatalf("pending=%d, want 0", got)
	}
}
