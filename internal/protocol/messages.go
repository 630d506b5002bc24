// Package protocol defines the tagged JSON messages exchanged between
// devices and the gateway over the websocket transport.
package protocol

import "time"

// Inbound message types.
const (
	TypeRegister        = "register"
	TypeHeartbeat       = "heartbeat"
	TypeASRSessionStart = "asr_session_start"
	TypeASRAudioChunk   = "asr_audio_chunk"
	TypeASRSessionStop  = "asr_session_stop"
	TypeCommandResult   = "command_result"
	TypeMessage         = "message"
	TypeLog             = "log"
)

// Outbound message types.
const (
	TypeRegisterResponse  = "register_response"
	TypeHeartbeatResponse = "heartbeat_response"
	TypeHeartbeatRequest  = "heartbeat_request"
	TypeCommand           = "command"
	TypeASRInterim        = "asr_interim"
	TypeASRFinal          = "asr_final"
	TypeReply             = "reply"
	TypeError             = "error"
)

// Inbound is a device-to-gateway message. Fields are populated according
// to Type; it intentionally keeps wire-compatible names with the device
// firmware.
type Inbound struct {
	Type string `json:"type"`

	// register
	DeviceID     string            `json:"device_id,omitempty"`
	DeviceType   string            `json:"device_type,omitempty"`
	Name         string            `json:"name,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Firmware     string            `json:"firmware_version,omitempty"`
	SampleRateHz int               `json:"device_sample_rate,omitempty"`
	ChannelCount int               `json:"device_channels,omitempty"`

	// heartbeat
	Status string `json:"status,omitempty"`

	// asr_session_start / asr_audio_chunk / asr_session_stop
	SessionID     string `json:"session_id,omitempty"`
	SampleRate    int    `json:"sample_rate,omitempty"`
	Bits          int    `json:"bits,omitempty"`
	Channels      int    `json:"channels,omitempty"`
	SessionNumber int    `json:"session_number,omitempty"`
	ChunkIndex    int    `json:"chunk_index,omitempty"`
	Audio         string `json:"audio,omitempty"`
	VADState      string `json:"vad_state,omitempty"`
	Duration      int    `json:"duration,omitempty"`

	// command_result
	CommandID string         `json:"command_id,omitempty"`
	Result    map[string]any `json:"result,omitempty"`

	// message / log
	Text    string `json:"text,omitempty"`
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
}

// CommandPayload is a command as delivered to a device, either pushed or
// piggybacked onto a heartbeat response.
type CommandPayload struct {
	ID         string         `json:"id"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Priority   int            `json:"priority"`
	Timestamp  time.Time      `json:"timestamp"`
}

// RegisterResponse acknowledges a registration.
type RegisterResponse struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
	Success  bool   `json:"success"`
}

// HeartbeatResponse carries at most three piggybacked commands.
type HeartbeatResponse struct {
	Type     string           `json:"type"`
	Commands []CommandPayload `json:"commands,omitempty"`
}

// HeartbeatRequest is the liveness probe sent by the gateway.
type HeartbeatRequest struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandMessage pushes one command over an open connection.
type CommandMessage struct {
	Type    string         `json:"type"`
	Command CommandPayload `json:"command"`
}

// Transcript carries an interim or final recognition result.
type Transcript struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// Reply carries the AI workflow's answer.
type Reply struct {
	Type        string   `json:"type"`
	Segments    []string `json:"segments"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
}

// ErrorMessage reports a protocol-level failure to the device.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError builds an ErrorMessage.
func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}
