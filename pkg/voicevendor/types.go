package voicevendor

import (
	"fmt"
	"time"
)

// State describes the client connection state.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateSessionActive State = "session_active"
)

// Config represents the vendor connection settings for one capability.
type Config struct {
	Endpoint       string
	AppID          string
	AccessToken    string
	Resource       string
	ConnectTimeout time.Duration
	Compress       bool
}

// AudioFormat describes the upstream audio of a recognition utterance.
type AudioFormat struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Bits       int    `json:"bits"`
	Channels   int    `json:"channels"`
}

// SynthesisOptions carries per-request synthesis parameters.
type SynthesisOptions struct {
	Voice      string  `json:"voice,omitempty"`
	Format     string  `json:"format,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Emotion    string  `json:"emotion,omitempty"`
	SpeedRatio float64 `json:"speed_ratio,omitempty"`
}

// Callbacks represents the event hooks invoked from the read loop.
type Callbacks struct {
	OnInterim         func(sessionID string, text string)
	OnFinal           func(sessionID string, text string, durationMs int)
	OnAudio           func(sessionID string, audio []byte)
	OnSessionFinished func(sessionID string)
	OnError           func(err error)
}

// VendorError is an explicit error frame reported by the vendor.
type VendorError struct {
	Code    uint32
	Message string
}

// Error executes the error method.
func (e *VendorError) Error() string {
	return fmt.Sprintf("vendor error %d: %s", e.Code, e.Message)
}
