package storage

import (
	"context"
	"errors"
	"time"

	"subwatch/internal/record"
)

var (
	// ErrCorrupt means persisted data exists but cannot be decoded. Load still
	// returns an empty snapshot alongside it.
	ErrCorrupt = errors.New("store corrupt")

	// ErrBackupFailed accompanies ErrCorrupt when the corrupt data could not
	// be moved aside; saving over it would destroy the only copy.
	ErrBackupFailed = errors.New("corrupt store backup failed")

	ErrClosed = errors.New("store closed")
)

// Config configures storage.
//
// Driver values:
//   - "json" (or empty): JSON document at Path
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the record persistence API used by the monitor loop, the
// notification scan and the report commands.
type Store interface {
	// Load returns the persisted snapshot. A missing store is an empty
	// snapshot and no error.
	Load(ctx context.Context) (record.Snapshot, error)
	// Save replaces the persisted snapshot.
	Save(ctx context.Context, snap record.Snapshot) error
	// AppendCycle appends one entry to the cycle journal.
	AppendCycle(ctx context.Context, e CycleEntry) error
	Close() error
}

// CycleEntry records the outcome of one monitor cycle.
// Keep it compact and schema-stable.
type CycleEntry struct {
	At          time.Time `json:"at"`
	Session     string    `json:"session"`
	Cycle       uint64    `json:"cycle"`
	Accounts    int       `json:"accounts"`
	Fetched     int       `json:"fetched"`
	Added       int       `json:"added"`
	Total       int       `json:"total"`
	Pruned      int       `json:"pruned"`
	FetchErrors int       `json:"fetch_errors"`
	Error       string    `json:"error,omitempty"`
	TookMS      int64     `json:"took_ms"`
}
