// Package device owns the device registry, per-device command delivery,
// connection liveness, and the synthesis audio relay.
package device

import (
	"time"
)

// Counters survive reconnects of the same device id.
type Counters struct {
	Reconnects        int64 `json:"reconnects"`
	MessagesIn        int64 `json:"messages_in"`
	MessagesOut       int64 `json:"messages_out"`
	Errors            int64 `json:"errors"`
	CommandsSent      int64 `json:"commands_sent"`
	CommandsCompleted int64 `json:"commands_completed"`
	CommandsTimedOut  int64 `json:"commands_timed_out"`
	Sessions          int64 `json:"sessions"`
}

// Device represents a device.
type Device struct {
	ID           string            `json:"id"`
	Name         string            `json:"name,omitempty"`
	DeviceType   string            `json:"device_type,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Firmware     string            `json:"firmware_version,omitempty"`
	SampleRate   int               `json:"sample_rate,omitempty"`
	Channels     int               `json:"channels,omitempty"`
	LastAddr     string            `json:"last_addr,omitempty"`
	Online       bool              `json:"online"`
	RegisteredAt time.Time         `json:"registered_at"`
	LastSeen     time.Time         `json:"last_seen"`
	Counters     Counters          `json:"counters"`
}

// Snapshot is a copy of a device record safe to serve over HTTP.
type Snapshot struct {
	Device
	QueuedCommands  int `json:"queued_commands"`
	PendingCommands int `json:"pending_commands"`
	ActiveSessions  int `json:"active_sessions"`
}
