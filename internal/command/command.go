// Package command implements the per-device outbox and the
// request/response correlation table for device command delivery.
package command

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Command is one instruction for a device.
type Command struct {
	ID         string
	Name       string
	Parameters map[string]any
	Priority   int
	CreatedAt  time.Time
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a collision-resistant, lexicographically sortable id.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// New builds a command with a fresh id.
func New(name string, parameters map[string]any, priority int) Command {
	return Command{
		ID:         NewID(),
		Name:       name,
		Parameters: parameters,
		Priority:   priority,
		CreatedAt:  time.Now(),
	}
}
