package device

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/device-gateway/internal/protocol"
)

// HeartbeatMonitor watches one connection per Watch call. Application
// heartbeats are the primary liveness signal; transport pongs get the
// longer grace window.
type HeartbeatMonitor struct {
	interval  time.Duration
	timeout   time.Duration
	pongGrace time.Duration
	logger    *zap.Logger
}

// NewHeartbeatMonitor executes the newHeartbeatMonitor function.
func NewHeartbeatMonitor(interval, timeout, pongGrace time.Duration, logger *zap.Logger) *HeartbeatMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if pongGrace < timeout {
		pongGrace = timeout + interval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeartbeatMonitor{
		interval:  interval,
		timeout:   timeout,
		pongGrace: pongGrace,
		logger:    logger,
	}
}

// Watch blocks until the context ends or the connection is declared dead,
// in which case onDead runs once with the reason.
func (m *HeartbeatMonitor) Watch(ctx context.Context, conn *Connection, onDead func(reason string)) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if reason := m.check(now, conn); reason != "" {
				m.logger.Warn("connection declared dead",
					zap.String("device_id", conn.DeviceID()),
					zap.String("reason", reason),
				)
				if onDead != nil {
					onDead(reason)
				}
				return
			}
		}
	}
}

// check returns a non-empty reason when the connection is dead, otherwise
// probes it.
func (m *HeartbeatMonitor) check(now time.Time, conn *Connection) string {
	lastSeen, lastPong, awaitingPong := conn.liveness()
	if now.Sub(lastSeen) > m.timeout {
		return "heartbeat timeout"
	}
	if awaitingPong && now.Sub(lastPong) > m.pongGrace {
		return "pong grace expired"
	}
	m.probe(conn)
	return ""
}

func (m *HeartbeatMonitor) probe(conn *Connection) {
	conn.markProbed()
	if err := conn.Ping(); err != nil {
		m.logger.Debug("heartbeat ping failed",
			zap.String("device_id", conn.DeviceID()),
			zap.Error(err))
	}
	if err := conn.SendJSON(protocol.HeartbeatRequest{
		Type:      protocol.TypeHeartbeatRequest,
		Timestamp: time.Now(),
	}); err != nil {
		m.logger.Debug("heartbeat request failed",
			zap.String("device_id", conn.DeviceID()),
			zap.Error(err))
	}
}
