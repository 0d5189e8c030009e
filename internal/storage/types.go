package storage

import (
	"errors"
	"time"
)

var (
	ErrClosed = errors.New("storage closed")
	// ErrEmptyName is returned when an option name is blank.
	ErrEmptyName = errors.New("option name is required")
)

// Config configures storage.
//
// Driver values:
//   - "memory": process-local map (default when Driver is empty or "none")
//   - "file": JSON Lines journal + snapshot, compacted periodically
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At        time.Time `json:"at"`
	Actor     string    `json:"actor,omitempty"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	Value     string    `json:"value,omitempty"`
	OK        bool      `json:"ok"`
	Error     string    `json:"err,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}
