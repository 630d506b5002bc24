package asr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/device-gateway/pkg/voicevendor"
)

// State describes where a recognition session is in its lifecycle.
type State string

const (
	StateStarting      State = "starting"
	StateStreaming     State = "streaming"
	StateEnding        State = "ending"
	StateAwaitingFinal State = "awaiting_final"
)

// endingRunThreshold is how many consecutive "ending" VAD signals end the
// utterance before an explicit stop arrives.
const endingRunThreshold = 2

// Recognizer is the slice of the vendor client the coordinator drives.
type Recognizer interface {
	BeginUtterance(ctx context.Context, sessionID string, format voicevendor.AudioFormat) error
	SendAudio(ctx context.Context, sessionID string, audio []byte) error
	EndUtterance(ctx context.Context, sessionID string) error
}

// Hooks receive session outcomes. OnFinal fires once on a final transcript,
// OnFailure once when the final wait expires.
type Hooks struct {
	OnInterim func(sessionID string, text string)
	OnFinal   func(sessionID string, text string, durationMS int)
	OnFailure func(sessionID string)
}

type finalResult struct {
	text       string
	durationMS int
}

type session struct {
	mu           sync.Mutex
	id           string
	state        State
	format       voicevendor.AudioFormat
	buffer       [][]byte
	chunks       int
	bytes        int
	endingRun    int
	endSent      bool
	stopped      bool
	finalCh      chan finalResult
	lastActivity time.Time
}

// Coordinator owns the in-flight recognition sessions of one device.
type Coordinator struct {
	deviceID     string
	recognizer   Recognizer
	hooks        Hooks
	finalTimeout time.Duration
	logger       *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewCoordinator executes the newCoordinator function.
func NewCoordinator(deviceID string, recognizer Recognizer, hooks Hooks, finalTimeout time.Duration, logger *zap.Logger) *Coordinator {
	if finalTimeout <= 0 {
		finalTimeout = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		deviceID:     deviceID,
		recognizer:   recognizer,
		hooks:        hooks,
		finalTimeout: finalTimeout,
		logger:       logger,
		sessions:     map[string]*session{},
	}
}

// StartSession creates the session and opens the utterance with the vendor.
// On begin failure no session is retained.
func (c *Coordinator) StartSession(ctx context.Context, sessionID string, format voicevendor.AudioFormat) error {
	c.mu.Lock()
	if _, exists := c.sessions[sessionID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("asr session %s already active", sessionID)
	}
	sess := &session{
		id:           sessionID,
		state:        StateStarting,
		format:       format,
		finalCh:      make(chan finalResult, 1),
		lastActivity: time.Now(),
	}
	c.sessions[sessionID] = sess
	c.mu.Unlock()

	if err := c.recognizer.BeginUtterance(ctx, sessionID, format); err != nil {
		c.remove(sessionID)
		return err
	}

	sess.mu.Lock()
	sess.state = StateStreaming
	sess.mu.Unlock()
	return nil
}

// PushChunk buffers the chunk, relays it in arrival order, and applies the
// consecutive-ending heuristic.
func (c *Coordinator) PushChunk(ctx context.Context, sessionID string, audio []byte, vadState string) error {
	sess := c.lookup(sessionID)
	if sess == nil {
		return fmt.Errorf("asr session %s not found", sessionID)
	}

	sess.mu.Lock()
	sess.buffer = append(sess.buffer, audio)
	sess.chunks++
	sess.bytes += len(audio)
	sess.lastActivity = time.Now()

	if vadState == "ending" {
		sess.endingRun++
	} else {
		sess.endingRun = 0
	}
	relay := !sess.endSent && (sess.state == StateStreaming || sess.state == StateEnding)
	endNow := !sess.endSent && sess.endingRun >= endingRunThreshold
	if endNow {
		sess.endSent = true
		sess.state = StateEnding
	}
	sess.mu.Unlock()

	if relay {
		if err := c.recognizer.SendAudio(ctx, sessionID, audio); err != nil {
			c.logger.Warn("asr audio relay failed",
				zap.String("device_id", c.deviceID),
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}
	if endNow {
		c.endUtterance(ctx, sess)
	}
	return nil
}

// StopSession ends the utterance and starts the bounded final wait. A second
// stop for the same session is ignored.
func (c *Coordinator) StopSession(ctx context.Context, sessionID string) {
	sess := c.lookup(sessionID)
	if sess == nil {
		return
	}

	sess.mu.Lock()
	if sess.stopped {
		sess.mu.Unlock()
		return
	}
	sess.stopped = true
	sess.lastActivity = time.Now()
	sendEnd := !sess.endSent
	if sendEnd {
		sess.endSent = true
		sess.state = StateEnding
	}
	sess.mu.Unlock()

	if sendEnd {
		c.endUtterance(ctx, sess)
	}
}

// HandleInterim forwards an interim transcript immediately.
func (c *Coordinator) HandleInterim(sessionID string, text string) {
	if c.lookup(sessionID) == nil {
		return
	}
	if c.hooks.OnInterim != nil {
		c.hooks.OnInterim(sessionID, text)
	}
}

// HandleFinal resolves the session's final wait. Results for unknown
// sessions are dropped.
func (c *Coordinator) HandleFinal(sessionID string, text string, durationMS int) {
	sess := c.lookup(sessionID)
	if sess == nil {
		return
	}
	select {
	case sess.finalCh <- finalResult{text: text, durationMS: durationMS}:
	default:
	}
}

// ActiveSessions executes the activeSessions function.
func (c *Coordinator) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Sweep removes sessions idle longer than maxIdle and returns how many.
func (c *Coordinator) Sweep(now time.Time, maxIdle time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, sess := range c.sessions {
		sess.mu.Lock()
		idle := now.Sub(sess.lastActivity) > maxIdle
		sess.mu.Unlock()
		if idle {
			delete(c.sessions, id)
			removed++
			c.logger.Warn("abandoned asr session removed",
				zap.String("device_id", c.deviceID),
				zap.String("session_id", id))
		}
	}
	return removed
}

func (c *Coordinator) endUtterance(ctx context.Context, sess *session) {
	if err := c.recognizer.EndUtterance(ctx, sess.id); err != nil {
		c.logger.Warn("asr end utterance failed",
			zap.String("device_id", c.deviceID),
			zap.String("session_id", sess.id),
			zap.Error(err))
	}
	sess.mu.Lock()
	sess.state = StateAwaitingFinal
	sess.mu.Unlock()
	go c.awaitFinal(sess)
}

// awaitFinal waits for the final transcript without blocking other
// sessions. Either outcome removes the session.
func (c *Coordinator) awaitFinal(sess *session) {
	timer := time.NewTimer(c.finalTimeout)
	defer timer.Stop()

	select {
	case result := <-sess.finalCh:
		c.remove(sess.id)
		if c.hooks.OnFinal != nil {
			c.hooks.OnFinal(sess.id, result.text, result.durationMS)
		}
	case <-timer.C:
		c.remove(sess.id)
		c.logger.Warn("asr final transcript timed out",
			zap.String("device_id", c.deviceID),
			zap.String("session_id", sess.id))
		if c.hooks.OnFailure != nil {
			c.hooks.OnFailure(sess.id)
		}
	}
}

func (c *Coordinator) lookup(sessionID string) *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[sessionID]
}

func (c *Coordinator) remove(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}
