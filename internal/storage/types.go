package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one dispatch outcome.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time `json:"at"`
	Date    string    `json:"date"` // plan date, "YYYY-MM-DD"
	Slot    string    `json:"slot"` // "HH:MM"
	Trigger string    `json:"trigger"` // "fixed" or "supplement"
	Scene   string    `json:"scene"`
	Caption string    `json:"caption,omitempty"`
	Sent    int       `json:"sent"`
	Failed  int       `json:"failed"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms"`
}
