package device

import (
	"context"
	"testing"
	"time"
)

func TestHeartbeatCheckHealthyProbes(t *testing.T) {
	m := NewHeartbeatMonitor(time.Second, 3*time.Second, 6*time.Second, nil)
	raw := &fakeConn{}
	conn := NewConnection(raw)

	if reason := m.check(time.Now(), conn); reason != "" {
		t.Fatalf("reason=%q, want healthy", reason)
	}
	probes := raw.typed("heartbeat_request")
	if len(probes) != 1 {
		t.Fatalf("probes=%d, want 1", len(probes))
	}
	if _, _, awaiting := conn.liveness(); !awaiting {
		t.Fatal("awaitingPong=false after probe")
	}
}

func TestHeartbeatCheckTimeout(t *testing.T) {
	m := NewHeartbeatMonitor(time.Second, 3*time.Second, 6*time.Second, nil)
	conn := NewConnection(&fakeConn{})

	if reason := m.check(time.Now().Add(4*time.Second), conn); reason != "heartbeat timeout" {
		t.Fatalf("reason=%q, want heartbeat timeout", reason)
	}
}

func TestHeartbeatCheckPongGrace(t *testing.T) {
	m := NewHeartbeatMonitor(time.Second, 3*time.Second, 6*time.Second, nil)
	conn := NewConnection(&fakeConn{})
	conn.markProbed()

	// Application traffic keeps arriving, but the transport never answers
	// the probe.
	now := time.Now().Add(7 * time.Second)
	conn.Touch()
	conn.mu.Lock()
	conn.lastSeen = now
	conn.mu.Unlock()

	if reason := m.check(now, conn); reason != "pong grace expired" {
		t.Fatalf("reason=%q, want pong grace expired", reason)
	}

	// A pong clears the probe flag and the connection survives.
	conn.MarkPong()
	conn.mu.Lock()
	conn.lastPong = now
	conn.mu.Unlock()
	if reason := m.check(now, conn); reason != "" {
		t.Fatalf("reason=%q, want healthy", reason)
	}
}

func TestHeartbeatWatchDeclaresDead(t *testing.T) {
	m := NewHeartbeatMonitor(10*time.Millisecond, 20*time.Millisecond, 40*time.Millisecond, nil)
	conn := NewConnection(&fakeConn{})
	conn.mu.Lock()
	conn.lastSeen = time.Now().Add(-time.Minute)
	conn.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dead := make(chan string, 1)
	done := make(chan struct{})
	go func() {
		m.Watch(ctx, conn, func(reason string) { dead <- reason })
		close(done)
	}()

	select {
	case reason := <-dead:
		if reason != "heartbeat timeout" {
			t.Fatalf("reason=%q, want heartbeat timeout", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch never declared the connection dead")
	}
	<-done
}
