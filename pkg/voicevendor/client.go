package voicevendor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/device-gateway/internal/transport/voice/codec"
)

const defaultConnectTimeout = 10 * time.Second

// ErrNotConnected reports an operation attempted without a live connection.
var ErrNotConnected = errors.New("voicevendor: connection not ready")

// ErrCapabilityBusy reports a second session started while one is active.
var ErrCapabilityBusy = errors.New("voicevendor: session already active")

type wire interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (int, []byte, error)
	Close() error
}

type utterance struct {
	id          string
	started     bool
	ending      bool
	failed      error
	audioChunks int
	audioBytes  int
}

// Client owns one persistent vendor connection, reused across sessions.
type Client struct {
	cfg       Config
	logger    *zap.Logger
	callbacks Callbacks

	dialFunc func(ctx context.Context) (wire, error)

	mu           sync.Mutex
	writeMu      sync.Mutex
	conn         wire
	state        State
	connectionID string
	connectErr   error
	closed       bool
	session      *utterance
}

// NewClient executes the newClient function.
func NewClient(cfg Config, callbacks Callbacks, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	c := &Client{
		cfg:       cfg,
		logger:    logger,
		callbacks: callbacks,
		state:     StateDisconnected,
	}
	c.dialFunc = c.dialWebsocket
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether session traffic may be sent.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected || c.state == StateSessionActive
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	connectionID := c.connectionID
	c.conn = nil
	c.state = StateDisconnected
	c.session = nil
	c.mu.Unlock()

	if conn != nil {
		frame := codec.EncodeEvent(codec.EventConnectionFinish, connectionID, "", nil, false)
		c.writeMu.Lock()
		_ = conn.WriteMessage(websocket.BinaryMessage, frame)
		c.writeMu.Unlock()
		_ = conn.Close()
	}
}

// BeginUtterance opens a recognition session and waits for the vendor to
// acknowledge it.
func (c *Client) BeginUtterance(ctx context.Context, sessionID string, format AudioFormat) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	if c.session != nil && !c.session.ending {
		c.mu.Unlock()
		return ErrCapabilityBusy
	}
	if c.session != nil {
		// The previous session finished on our side but the vendor never
		// acknowledged it. Drop it; its late events no longer match.
		c.logger.Debug("discarding unacknowledged session",
			zap.String("session_id", c.session.id))
	}
	c.session = &utterance{id: sessionID}
	c.state = StateSessionActive
	c.mu.Unlock()

	payload, _ := json.Marshal(map[string]any{
		"kind":         "recognition",
		"audio_format": format,
	})
	if err := c.write(codec.EncodeEvent(codec.EventSessionStart, "", sessionID, payload, c.cfg.Compress)); err != nil {
		c.clearSession()
		return err
	}
	if err := c.waitSessionStarted(ctx, sessionID); err != nil {
		c.clearSession()
		return err
	}
	return nil
}

// SendAudio relays one audio chunk for the current utterance. Sends are
// suppressed once the utterance's ending flag is set.
func (c *Client) SendAudio(ctx context.Context, sessionID string, audio []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	session := c.session
	if session == nil || session.id != sessionID {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if session.ending {
		c.mu.Unlock()
		return nil
	}
	session.audioChunks++
	session.audioBytes += len(audio)
	c.mu.Unlock()

	return c.write(codec.EncodeAudio(codec.EventTaskRequest, sessionID, audio))
}

// EndUtterance marks the utterance ending and sends the finish frame.
// Further EndUtterance calls for the same session are no-ops.
func (c *Client) EndUtterance(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	session := c.session
	if session == nil || session.id != sessionID {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if session.ending {
		c.mu.Unlock()
		return nil
	}
	session.ending = true
	chunks, bytes := session.audioChunks, session.audioBytes
	c.mu.Unlock()

	c.logger.Debug("utterance audio complete",
		zap.String("session_id", sessionID),
		zap.Int("chunks", chunks),
		zap.Int("bytes", bytes),
	)
	return c.write(codec.EncodeEvent(codec.EventSessionFinish, "", sessionID, nil, false))
}

// Synthesize opens a synthesis session, sends the text task and finishes
// the session. Audio arrives asynchronously through OnAudio.
func (c *Client) Synthesize(ctx context.Context, sessionID string, text string, opts SynthesisOptions) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	if c.session != nil && !c.session.ending {
		c.mu.Unlock()
		return ErrCapabilityBusy
	}
	if c.session != nil {
		c.logger.Debug("discarding unacknowledged session",
			zap.String("session_id", c.session.id))
	}
	c.session = &utterance{id: sessionID, started: true}
	c.state = StateSessionActive
	c.mu.Unlock()

	startPayload, _ := json.Marshal(map[string]any{
		"kind":         "synthesis",
		"voice":        opts.Voice,
		"format":       opts.Format,
		"sample_rate":  opts.SampleRate,
		"emotion":      opts.Emotion,
		"speed_ratio":  opts.SpeedRatio,
		"session_meta": map[string]any{"app_id": c.cfg.AppID},
	})
	taskPayload, _ := json.Marshal(map[string]any{"text": text})

	if err := c.write(codec.EncodeEvent(codec.EventSessionStart, "", sessionID, startPayload, c.cfg.Compress)); err != nil {
		c.clearSession()
		return err
	}
	if err := c.write(codec.EncodeEvent(codec.EventTaskRequest, "", sessionID, taskPayload, c.cfg.Compress)); err != nil {
		c.clearSession()
		return err
	}
	if err := c.write(codec.EncodeEvent(codec.EventSessionFinish, "", sessionID, nil, false)); err != nil {
		c.clearSession()
		return err
	}
	c.mu.Lock()
	if c.session != nil && c.session.id == sessionID {
		c.session.ending = true
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("voicevendor: client closed")
	}
	if c.state == StateConnected || c.state == StateSessionActive {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.connectErr = nil
	c.mu.Unlock()

	conn, err := c.dialFunc(ctx)
	if err != nil {
		c.markDisconnected(nil)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return errors.New("voicevendor: client closed")
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)

	if err := c.write(codec.EncodeEvent(codec.EventConnectionOpen, "", "", []byte(`{}`), false)); err != nil {
		c.markDisconnected(conn)
		_ = conn.Close()
		return err
	}
	if err := c.waitConnected(ctx); err != nil {
		c.markDisconnected(conn)
		_ = conn.Close()
		return err
	}
	c.logger.Info("vendor connection established",
		zap.String("endpoint", c.cfg.Endpoint),
		zap.String("resource", c.cfg.Resource),
		zap.String("connection_id", c.ConnectionID()),
	)
	return nil
}

// ConnectionID returns the vendor-assigned connection id, if any.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

func (c *Client) dialWebsocket(ctx context.Context) (wire, error) {
	if c.cfg.Endpoint == "" {
		return nil, errors.New("voicevendor: endpoint is empty")
	}
	headers := http.Header{}
	headers.Set("X-App-Id", c.cfg.AppID)
	headers.Set("X-Resource-Id", c.cfg.Resource)
	headers.Set("X-Connect-Id", uuid.NewString())
	if c.cfg.AccessToken != "" {
		headers.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, c.cfg.Endpoint, headers)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) waitConnected(ctx context.Context) error {
	timer := time.NewTimer(c.cfg.ConnectTimeout)
	defer timer.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		c.mu.Lock()
		state := c.state
		connectErr := c.connectErr
		c.mu.Unlock()

		if connectErr != nil {
			return connectErr
		}
		if state == StateConnected || state == StateSessionActive {
			return nil
		}
		if state == StateDisconnected {
			return ErrNotConnected
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return errors.New("voicevendor: handshake not acknowledged")
		case <-ticker.C:
		}
	}
}

func (c *Client) waitSessionStarted(ctx context.Context, sessionID string) error {
	timer := time.NewTimer(c.cfg.ConnectTimeout)
	defer timer.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		c.mu.Lock()
		session := c.session
		var started bool
		var failed error
		if session != nil && session.id == sessionID {
			started = session.started
			failed = session.failed
		}
		state := c.state
		c.mu.Unlock()

		if failed != nil {
			return failed
		}
		if started {
			return nil
		}
		if state == StateDisconnected {
			return ErrNotConnected
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return errors.New("voicevendor: session not acknowledged")
		case <-ticker.C:
		}
	}
}

func (c *Client) readLoop(conn wire) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.markDisconnected(conn)
			c.reportError(err)
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		frame, err := codec.Decode(data)
		if err != nil {
			// Protocol violation: drop the frame, keep the connection.
			c.logger.Warn("undecodable vendor frame dropped", zap.Error(err))
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame *codec.Frame) {
	switch frame.Type {
	case codec.MsgTypeError:
		c.handleVendorError(&VendorError{Code: frame.ErrorCode, Message: frame.Message})
	case codec.MsgTypeAudio:
		if c.callbacks.OnAudio != nil {
			c.callbacks.OnAudio(frame.SessionID, frame.Payload)
		}
	case codec.MsgTypeEvent:
		c.handleEvent(frame)
	}
}

func (c *Client) handleEvent(frame *codec.Frame) {
	switch frame.Event {
	case codec.EventConnectionStarted:
		c.mu.Lock()
		c.connectionID = frame.ConnectionID
		if c.state == StateConnecting {
			c.state = StateConnected
		}
		c.mu.Unlock()
	case codec.EventConnectionFailed:
		err := decodeFailure(frame.Payload)
		c.mu.Lock()
		c.connectErr = err
		c.state = StateDisconnected
		c.mu.Unlock()
	case codec.EventConnectionFinished:
		c.markDisconnected(nil)
	case codec.EventSessionStarted:
		c.mu.Lock()
		if c.session != nil && c.session.id == frame.SessionID {
			c.session.started = true
		}
		c.mu.Unlock()
	case codec.EventSessionFailed:
		err := decodeFailure(frame.Payload)
		c.mu.Lock()
		if c.session != nil && c.session.id == frame.SessionID {
			c.session.failed = err
		}
		c.mu.Unlock()
		c.reportError(err)
	case codec.EventSessionFinished, codec.EventSessionCanceled:
		c.mu.Lock()
		if c.session != nil && c.session.id == frame.SessionID {
			c.session = nil
			c.state = StateConnected
		}
		c.mu.Unlock()
		if frame.Event == codec.EventSessionFinished && c.callbacks.OnSessionFinished != nil {
			c.callbacks.OnSessionFinished(frame.SessionID)
		}
	case codec.EventRecognitionResult:
		c.handleRecognitionResult(frame)
	case codec.EventSentenceStart, codec.EventSentenceEnd:
		c.logger.Debug("vendor sentence boundary",
			zap.String("session_id", frame.SessionID),
			zap.String("event", frame.Event.String()),
		)
	default:
		c.logger.Debug("unhandled vendor event",
			zap.String("event", frame.Event.String()),
			zap.String("session_id", frame.SessionID),
		)
	}
}

func (c *Client) handleRecognitionResult(frame *codec.Frame) {
	var result struct {
		Text       string `json:"text"`
		IsFinal    bool   `json:"is_final"`
		DurationMS int    `json:"duration_ms"`
	}
	if err := json.Unmarshal(frame.Payload, &result); err != nil {
		c.logger.Warn("bad recognition result payload",
			zap.String("session_id", frame.SessionID),
			zap.Error(err),
		)
		return
	}
	if result.IsFinal {
		if c.callbacks.OnFinal != nil {
			c.callbacks.OnFinal(frame.SessionID, result.Text, result.DurationMS)
		}
		return
	}
	if result.Text != "" && c.callbacks.OnInterim != nil {
		c.callbacks.OnInterim(frame.SessionID, result.Text)
	}
}

func (c *Client) handleVendorError(vendorErr *VendorError) {
	c.mu.Lock()
	if c.state == StateConnecting {
		c.connectErr = vendorErr
	}
	if c.session != nil {
		c.session.failed = vendorErr
	}
	c.mu.Unlock()
	c.reportError(vendorErr)
}

func (c *Client) clearSession() {
	c.mu.Lock()
	c.session = nil
	if c.state == StateSessionActive {
		c.state = StateConnected
	}
	c.mu.Unlock()
}

func (c *Client) markDisconnected(conn wire) {
	c.mu.Lock()
	if conn == nil || c.conn == conn {
		c.conn = nil
		c.state = StateDisconnected
		c.session = nil
	}
	c.mu.Unlock()
}

func (c *Client) write(frame []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *Client) reportError(err error) {
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(err)
	}
}

func decodeFailure(payload []byte) error {
	var body struct {
		Code    uint32 `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.Message == "" {
		return &VendorError{Code: body.Code, Message: "request rejected"}
	}
	return &VendorError{Code: body.Code, Message: body.Message}
}
