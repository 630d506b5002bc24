package device

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saker-ai/device-gateway/internal/agent"
	"github.com/saker-ai/device-gateway/internal/asr"
	"github.com/saker-ai/device-gateway/internal/command"
	"github.com/saker-ai/device-gateway/internal/protocol"
	"github.com/saker-ai/device-gateway/internal/storage"
	"github.com/saker-ai/device-gateway/pkg/voicevendor"
)

// ErrUnknownDevice is returned for commands addressed to an id that never
// registered.
var ErrUnknownDevice = errors.New("unknown device")

// VendorClient is the per-capability surface of the speech vendor client.
// *voicevendor.Client satisfies it.
type VendorClient interface {
	BeginUtterance(ctx context.Context, sessionID string, format voicevendor.AudioFormat) error
	SendAudio(ctx context.Context, sessionID string, audio []byte) error
	EndUtterance(ctx context.Context, sessionID string) error
	Synthesize(ctx context.Context, sessionID string, text string, opts voicevendor.SynthesisOptions) error
	Close()
}

// ClientFactory builds one vendor client per device per capability.
type ClientFactory func(deviceID string, capability string, callbacks voicevendor.Callbacks) VendorClient

// Options represents an options.
type Options struct {
	QueueSize        int
	CommandTimeout   time.Duration
	FinalTimeout     time.Duration
	SessionMaxIdle   time.Duration
	SweepInterval    time.Duration
	ChunkDurationMs  int
	VendorCodec      string
	VendorSampleRate int
	SynthesisVoice   string
	TranscriptDir    string

	// Capabilities listed here are refused even when a device declares
	// them.
	DisabledCapabilities []string

	Workflow agent.Workflow
	Clients  ClientFactory
	Logger   *zap.Logger

	OnOnline  func(deviceID string)
	OnOffline func(deviceID string)
}

// Outcome reports how a command delivery ended.
type Outcome struct {
	CommandID string         `json:"command_id"`
	Queued    bool           `json:"queued"`
	TimedOut  bool           `json:"timed_out"`
	Result    map[string]any `json:"result,omitempty"`
}

type deviceState struct {
	mu         sync.Mutex
	dev        Device
	conn       *Connection
	outbox     *command.Queue
	correlator *command.Correlator
	sessions   *asr.Coordinator
	asrClient  VendorClient
	ttsClient  VendorClient
	relay      *Relay
	transcript string
}

// Registry owns every device record and routes device traffic.
type Registry struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	devices map[string]*deviceState
}

// NewRegistry executes the newRegistry function.
func NewRegistry(opts Options) *Registry {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 10 * time.Second
	}
	if opts.FinalTimeout <= 0 {
		opts.FinalTimeout = 3 * time.Second
	}
	if opts.SessionMaxIdle <= 0 {
		opts.SessionMaxIdle = 5 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.VendorSampleRate <= 0 {
		opts.VendorSampleRate = 24000
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Registry{
		opts:    opts,
		logger:  opts.Logger,
		devices: make(map[string]*deviceState),
	}
}

// HandleMessage routes one inbound frame from a device connection.
func (r *Registry) HandleMessage(ctx context.Context, conn *Connection, data []byte) {
	var msg protocol.Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		conn.SendJSON(protocol.NewError("invalid json"))
		return
	}

	if msg.Type == protocol.TypeRegister {
		r.handleRegister(conn, msg)
		return
	}

	deviceID := conn.DeviceID()
	if deviceID == "" {
		conn.SendJSON(protocol.NewError("device not registered"))
		return
	}
	st := r.state(deviceID)
	if st == nil {
		conn.SendJSON(protocol.NewError("device not registered"))
		return
	}

	st.mu.Lock()
	st.dev.Counters.MessagesIn++
	st.dev.LastSeen = time.Now()
	st.mu.Unlock()
	conn.Touch()

	switch msg.Type {
	case protocol.TypeHeartbeat:
		r.handleHeartbeat(conn, st)
	case protocol.TypeASRSessionStart:
		r.handleSessionStart(ctx, conn, st, msg)
	case protocol.TypeASRAudioChunk:
		r.handleAudioChunk(ctx, conn, st, msg)
	case protocol.TypeASRSessionStop:
		if st.sessions != nil {
			st.sessions.StopSession(ctx, msg.SessionID)
		}
	case protocol.TypeCommandResult:
		r.handleCommandResult(st, msg)
	case protocol.TypeMessage:
		if msg.Text != "" {
			go r.respond(st, "", msg.Text)
		}
	case protocol.TypeLog:
		r.logger.Info("device log",
			zap.String("device_id", deviceID),
			zap.String("level", msg.Level),
			zap.String("message", msg.Message),
		)
	default:
		r.logger.Debug("unknown message type",
			zap.String("device_id", deviceID),
			zap.String("type", msg.Type),
		)
	}
}

// HandleDisconnect detaches the connection. Replaced connections do not
// touch the device's online state; the offline edge fires at most once.
func (r *Registry) HandleDisconnect(conn *Connection) {
	defer conn.Close()

	deviceID := conn.DeviceID()
	if deviceID == "" {
		return
	}
	st := r.state(deviceID)
	if st == nil {
		return
	}

	st.mu.Lock()
	if st.conn != conn {
		st.mu.Unlock()
		return
	}
	st.conn = nil
	wasOnline := st.dev.Online
	st.dev.Online = false
	st.mu.Unlock()

	if wasOnline {
		r.logger.Info("device offline", zap.String("device_id", deviceID))
		if r.opts.OnOffline != nil {
			r.opts.OnOffline(deviceID)
		}
	}
}

// SendCommand delivers a command to a device: pushed and awaited when the
// device is online, queued when it is not.
func (r *Registry) SendCommand(ctx context.Context, deviceID string, cmd command.Command) (Outcome, error) {
	st := r.state(deviceID)
	if st == nil {
		return Outcome{}, ErrUnknownDevice
	}

	st.mu.Lock()
	if st.conn == nil || !st.dev.Online {
		st.outbox.Push(cmd)
		st.mu.Unlock()
		return Outcome{CommandID: cmd.ID, Queued: true}, nil
	}
	conn := st.conn
	handle := st.correlator.Register(cmd.ID)
	st.dev.Counters.CommandsSent++
	st.mu.Unlock()

	if err := conn.SendJSON(protocol.CommandMessage{Type: protocol.TypeCommand, Command: payloadFor(cmd)}); err != nil {
		r.countError(st)
		return Outcome{}, err
	}
	r.countSent(st)

	waitCtx, cancel := context.WithTimeout(ctx, r.opts.CommandTimeout)
	defer cancel()
	result := handle.Await(waitCtx)
	if result.TimedOut {
		st.mu.Lock()
		st.dev.Counters.CommandsTimedOut++
		st.mu.Unlock()
	}
	return Outcome{CommandID: cmd.ID, TimedOut: result.TimedOut, Result: result.Payload}, nil
}

// Devices returns registry snapshots sorted by device id.
func (r *Registry) Devices() []Snapshot {
	r.mu.Lock()
	states := make([]*deviceState, 0, len(r.devices))
	for _, st := range r.devices {
		states = append(states, st)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		snap := Snapshot{
			Device:          st.dev,
			QueuedCommands:  st.outbox.Len(),
			PendingCommands: st.correlator.Pending(),
		}
		if st.sessions != nil {
			snap.ActiveSessions = st.sessions.ActiveSessions()
		}
		st.mu.Unlock()
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Run sweeps stale correlation rows and abandoned recognition sessions
// until the context ends.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

// Close shuts down vendor clients and open connections.
func (r *Registry) Close() {
	r.mu.Lock()
	states := make([]*deviceState, 0, len(r.devices))
	for _, st := range r.devices {
		states = append(states, st)
	}
	r.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		conn := st.conn
		asrClient, ttsClient := st.asrClient, st.ttsClient
		relay := st.relay
		st.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		if asrClient != nil {
			asrClient.Close()
		}
		if ttsClient != nil {
			ttsClient.Close()
		}
		if relay != nil {
			relay.Close()
		}
	}
}

func (r *Registry) handleRegister(conn *Connection, msg protocol.Inbound) {
	if msg.DeviceID == "" {
		conn.SendJSON(protocol.NewError("register requires device_id"))
		return
	}

	r.mu.Lock()
	st, existed := r.devices[msg.DeviceID]
	if !existed {
		st = &deviceState{
			dev:        Device{ID: msg.DeviceID, RegisteredAt: time.Now()},
			outbox:     command.NewQueue(r.opts.QueueSize),
			correlator: command.NewCorrelator(r.opts.CommandTimeout),
		}
		r.devices[msg.DeviceID] = st
	}
	r.mu.Unlock()

	st.mu.Lock()
	replaced := st.conn
	if existed {
		st.dev.Counters.Reconnects++
	}
	st.conn = conn
	wasOnline := st.dev.Online
	st.dev.Online = true
	st.dev.LastSeen = time.Now()
	if addr := conn.RemoteAddr(); addr != "" {
		st.dev.LastAddr = addr
	}
	st.dev.Name = msg.Name
	st.dev.DeviceType = msg.DeviceType
	st.dev.Firmware = msg.Firmware
	if len(msg.Capabilities) > 0 {
		st.dev.Capabilities = msg.Capabilities
	}
	if len(msg.Metadata) > 0 {
		st.dev.Metadata = msg.Metadata
	}
	if msg.SampleRateHz > 0 {
		st.dev.SampleRate = msg.SampleRateHz
	}
	if st.dev.SampleRate <= 0 {
		st.dev.SampleRate = 16000
	}
	if msg.ChannelCount > 0 {
		st.dev.Channels = msg.ChannelCount
	}
	if st.dev.Channels <= 0 {
		st.dev.Channels = 1
	}
	r.setupCollaboratorsLocked(st)
	queued := st.outbox.Len()
	st.mu.Unlock()

	conn.Bind(msg.DeviceID)
	conn.Touch()

	if replaced != nil && replaced != conn {
		r.logger.Warn("device connection replaced", zap.String("device_id", msg.DeviceID))
		replaced.Close()
	}
	if !wasOnline {
		r.logger.Info("device online",
			zap.String("device_id", msg.DeviceID),
			zap.String("device_type", msg.DeviceType),
			zap.String("firmware_version", msg.Firmware),
		)
		if r.opts.OnOnline != nil {
			r.opts.OnOnline(msg.DeviceID)
		}
	}

	if err := conn.SendJSON(protocol.RegisterResponse{
		Type:     protocol.TypeRegisterResponse,
		DeviceID: msg.DeviceID,
		Success:  true,
	}); err == nil {
		r.countSent(st)
	} else {
		r.countError(st)
	}
	if queued > 0 {
		// The offline backlog drains through heartbeat responses, three
		// commands per beat.
		r.logger.Info("device registered with queued commands",
			zap.String("device_id", msg.DeviceID),
			zap.Int("queued", queued))
	}
}

// setupCollaboratorsLocked builds the per-device vendor clients, the
// session coordinator, and the synthesis relay on first registration.
func (r *Registry) setupCollaboratorsLocked(st *deviceState) {
	if st.sessions != nil || r.opts.Clients == nil {
		return
	}
	deviceID := st.dev.ID

	st.asrClient = r.opts.Clients(deviceID, "asr", voicevendor.Callbacks{
		OnInterim: func(sessionID string, text string) {
			if c := r.coordinator(deviceID); c != nil {
				c.HandleInterim(sessionID, text)
			}
		},
		OnFinal: func(sessionID string, text string, durationMS int) {
			if c := r.coordinator(deviceID); c != nil {
				c.HandleFinal(sessionID, text, durationMS)
			}
		},
		OnError: func(err error) {
			r.logger.Warn("asr vendor error", zap.String("device_id", deviceID), zap.Error(err))
		},
	})

	relay, err := NewRelay(RelayConfig{
		DeviceID:         deviceID,
		VendorCodec:      r.opts.VendorCodec,
		VendorSampleRate: r.opts.VendorSampleRate,
		DeviceSampleRate: st.dev.SampleRate,
		Channels:         st.dev.Channels,
		ChunkDurationMs:  r.opts.ChunkDurationMs,
	}, func(cmd command.Command) { r.pushCommand(st, cmd) }, r.logger)
	if err != nil {
		r.logger.Warn("synthesis relay unavailable", zap.String("device_id", deviceID), zap.Error(err))
	} else {
		st.relay = relay
	}

	st.ttsClient = r.opts.Clients(deviceID, "tts", voicevendor.Callbacks{
		OnAudio: func(sessionID string, data []byte) {
			if rel := r.relayFor(deviceID); rel != nil {
				rel.HandleAudio(sessionID, data)
			}
		},
		OnSessionFinished: func(sessionID string) {
			if rel := r.relayFor(deviceID); rel != nil {
				rel.Finish(sessionID)
			}
		},
		OnError: func(err error) {
			r.logger.Warn("tts vendor error", zap.String("device_id", deviceID), zap.Error(err))
		},
	})

	st.sessions = asr.NewCoordinator(deviceID, st.asrClient, asr.Hooks{
		OnInterim: func(sessionID string, text string) {
			r.sendToDevice(st, protocol.Transcript{Type: protocol.TypeASRInterim, SessionID: sessionID, Text: text})
		},
		OnFinal: func(sessionID string, text string, durationMS int) {
			r.finishRecognition(st, sessionID, text, durationMS)
		},
		OnFailure: func(sessionID string) {
			r.failExchange(st, sessionID)
		},
	}, r.opts.FinalTimeout, r.logger)

	if r.opts.TranscriptDir != "" {
		uid, err := storage.CreateTranscript(r.opts.TranscriptDir, deviceID)
		if err != nil {
			r.logger.Warn("transcript create failed", zap.String("device_id", deviceID), zap.Error(err))
		} else {
			st.transcript = uid
		}
	}
}

func (r *Registry) handleHeartbeat(conn *Connection, st *deviceState) {
	st.mu.Lock()
	batch := st.outbox.PopN(3)
	st.dev.Counters.CommandsSent += int64(len(batch))
	st.mu.Unlock()

	resp := protocol.HeartbeatResponse{Type: protocol.TypeHeartbeatResponse}
	for _, cmd := range batch {
		resp.Commands = append(resp.Commands, payloadFor(cmd))
	}
	if err := conn.SendJSON(resp); err != nil {
		r.logger.Warn("heartbeat response failed",
			zap.String("device_id", st.dev.ID),
			zap.Error(err))
		r.countError(st)
		return
	}
	r.countSent(st)
}

func (r *Registry) handleSessionStart(ctx context.Context, conn *Connection, st *deviceState, msg protocol.Inbound) {
	if !r.capabilityEnabled(st, "asr") {
		conn.SendJSON(protocol.NewError("asr capability disabled"))
		return
	}
	if st.sessions == nil {
		conn.SendJSON(protocol.NewError("recognition not available"))
		return
	}
	st.mu.Lock()
	st.dev.Counters.Sessions++
	st.mu.Unlock()

	format := voicevendor.AudioFormat{
		Codec:      "pcm",
		SampleRate: msg.SampleRate,
		Bits:       msg.Bits,
		Channels:   msg.Channels,
	}
	if err := st.sessions.StartSession(ctx, msg.SessionID, format); err != nil {
		r.logger.Warn("asr session start failed",
			zap.String("device_id", st.dev.ID),
			zap.String("session_id", msg.SessionID),
			zap.Error(err))
		r.countError(st)
		conn.SendJSON(protocol.NewError("asr session start failed"))
	}
}

func (r *Registry) handleAudioChunk(ctx context.Context, conn *Connection, st *deviceState, msg protocol.Inbound) {
	if st.sessions == nil {
		return
	}
	data, err := hex.DecodeString(msg.Audio)
	if err != nil {
		r.countError(st)
		conn.SendJSON(protocol.NewError("invalid audio encoding"))
		return
	}
	if err := st.sessions.PushChunk(ctx, msg.SessionID, data, msg.VADState); err != nil {
		r.logger.Debug("audio chunk dropped",
			zap.String("device_id", st.dev.ID),
			zap.String("session_id", msg.SessionID),
			zap.Error(err))
	}
}

func (r *Registry) handleCommandResult(st *deviceState, msg protocol.Inbound) {
	st.mu.Lock()
	completed := st.correlator.Complete(msg.CommandID, msg.Result)
	if completed {
		st.dev.Counters.CommandsCompleted++
	}
	st.mu.Unlock()
	if !completed {
		r.logger.Debug("unmatched command result",
			zap.String("device_id", st.dev.ID),
			zap.String("command_id", msg.CommandID))
	}
}

// finishRecognition forwards the final transcript and drives the reply
// path shared with chat messages.
func (r *Registry) finishRecognition(st *deviceState, sessionID string, text string, durationMS int) {
	r.logger.Info("asr final",
		zap.String("device_id", st.dev.ID),
		zap.String("session_id", sessionID),
		zap.Int("duration_ms", durationMS),
		zap.Int("chars", len(text)),
	)
	r.sendToDevice(st, protocol.Transcript{Type: protocol.TypeASRFinal, SessionID: sessionID, Text: text})
	r.respond(st, sessionID, text)
}

// respond runs the workflow for an utterance, replies to the device, and
// starts synthesis of the reply text.
func (r *Registry) respond(st *deviceState, sessionID string, utterance string) {
	if r.opts.Workflow == nil {
		return
	}
	r.appendTranscript(st, storage.TranscriptEntry{Role: "user", Content: utterance, SessionID: sessionID})

	ctx, cancel := context.WithTimeout(context.Background(), 2*r.opts.CommandTimeout)
	defer cancel()
	reply, err := r.opts.Workflow.Respond(ctx, st.dev.ID, utterance)
	if err != nil {
		r.logger.Warn("workflow failed",
			zap.String("device_id", st.dev.ID),
			zap.String("session_id", sessionID),
			zap.Error(err))
		r.failExchange(st, sessionID)
		return
	}

	r.sendToDevice(st, protocol.Reply{Type: protocol.TypeReply, Segments: reply.Segments})
	r.appendTranscript(st, storage.TranscriptEntry{Role: "agent", Content: reply.Text(), SessionID: sessionID})

	st.mu.Lock()
	ttsClient := st.ttsClient
	relay := st.relay
	st.mu.Unlock()
	if relay != nil {
		relay.SetEmotion(reply.Emotion)
	}
	if ttsClient == nil || reply.Text() == "" {
		return
	}
	if !r.capabilityEnabled(st, "tts") {
		return
	}
	synthID := sessionID
	if synthID == "" {
		synthID = uuid.NewString()
	}
	if err := ttsClient.Synthesize(ctx, synthID, reply.Text(), voicevendor.SynthesisOptions{
		Voice:      r.opts.SynthesisVoice,
		Format:     r.opts.VendorCodec,
		SampleRate: r.opts.VendorSampleRate,
		Emotion:    reply.Emotion,
	}); err != nil {
		r.logger.Warn("synthesis failed",
			zap.String("device_id", st.dev.ID),
			zap.String("session_id", synthID),
			zap.Error(err))
		r.failExchange(st, sessionID)
	}
}

// failExchange notifies the device that an exchange broke somewhere in
// the recognition, workflow, or synthesis chain. One failure command per
// broken exchange.
func (r *Registry) failExchange(st *deviceState, sessionID string) {
	r.countError(st)
	r.pushCommand(st, command.New("asr_failure", map[string]any{"session_id": sessionID}, 0))
}

// pushCommand delivers without awaiting a result: straight over the open
// connection, otherwise into the outbox.
func (r *Registry) pushCommand(st *deviceState, cmd command.Command) {
	st.mu.Lock()
	conn := st.conn
	online := st.dev.Online
	if conn == nil || !online {
		st.outbox.Push(cmd)
		st.mu.Unlock()
		return
	}
	st.dev.Counters.CommandsSent++
	st.mu.Unlock()

	if err := conn.SendJSON(protocol.CommandMessage{Type: protocol.TypeCommand, Command: payloadFor(cmd)}); err != nil {
		r.logger.Warn("command push failed",
			zap.String("device_id", st.dev.ID),
			zap.String("command_id", cmd.ID),
			zap.Error(err))
		r.countError(st)
		return
	}
	r.countSent(st)
}

func (r *Registry) sendToDevice(st *deviceState, v any) {
	st.mu.Lock()
	conn := st.conn
	st.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.SendJSON(v); err != nil {
		r.logger.Warn("device send failed",
			zap.String("device_id", st.dev.ID),
			zap.Error(err))
		r.countError(st)
		return
	}
	r.countSent(st)
}

func (r *Registry) countSent(st *deviceState) {
	st.mu.Lock()
	st.dev.Counters.MessagesOut++
	st.mu.Unlock()
}

func (r *Registry) countError(st *deviceState) {
	st.mu.Lock()
	st.dev.Counters.Errors++
	st.mu.Unlock()
}

func (r *Registry) appendTranscript(st *deviceState, entry storage.TranscriptEntry) {
	st.mu.Lock()
	uid := st.transcript
	st.mu.Unlock()
	if uid == "" || r.opts.TranscriptDir == "" {
		return
	}
	if err := storage.AppendTranscript(r.opts.TranscriptDir, st.dev.ID, uid, entry); err != nil {
		r.logger.Warn("transcript append failed",
			zap.String("device_id", st.dev.ID),
			zap.Error(err))
	}
}

func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	states := make([]*deviceState, 0, len(r.devices))
	for _, st := range r.devices {
		states = append(states, st)
	}
	r.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		expired := st.correlator.Sweep(now)
		st.dev.Counters.CommandsTimedOut += int64(expired)
		sessions := st.sessions
		st.mu.Unlock()
		if sessions != nil {
			sessions.Sweep(now, r.opts.SessionMaxIdle)
		}
	}
}

// capabilityEnabled reports whether a capability may serve the device:
// not disabled in config, and present in the device's declared set when
// a set was declared. Devices declaring nothing get everything.
func (r *Registry) capabilityEnabled(st *deviceState, name string) bool {
	for _, disabled := range r.opts.DisabledCapabilities {
		if disabled == name {
			return false
		}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.dev.Capabilities) == 0 {
		return true
	}
	for _, declared := range st.dev.Capabilities {
		if declared == name {
			return true
		}
	}
	return false
}

func (r *Registry) state(deviceID string) *deviceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices[deviceID]
}

func (r *Registry) coordinator(deviceID string) *asr.Coordinator {
	st := r.state(deviceID)
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sessions
}

func (r *Registry) relayFor(deviceID string) *Relay {
	st := r.state(deviceID)
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.relay
}

func payloadFor(cmd command.Command) protocol.CommandPayload {
	return protocol.CommandPayload{
		ID:         cmd.ID,
		Command:    cmd.Name,
		Parameters: cmd.Parameters,
		Priority:   cmd.Priority,
		Timestamp:  cmd.CreatedAt,
	}
}
