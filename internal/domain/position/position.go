package position

import (
	"context"
	"time"
)

// SyncStatus is the upload state of a stored record
type SyncStatus int

const (
	// Pending records have not been acknowledged by the remote endpoint
	Pending SyncStatus = 0
	// Synced records were acknowledged; they never return to Pending
	Synced SyncStatus = 1
)

// String returns the status name
func (s SyncStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Synced:
		return "synced"
	default:
		return "unknown"
	}
}

// Fix is one sample delivered by a position provider
type Fix struct {
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Accuracy         float64 `json:"accuracy"`
	CapturedAtMillis int64   `json:"captured_at_ms"`
}

// CapturedAt returns the capture instant in UTC
func (f Fix) CapturedAt() time.Time {
	return time.UnixMilli(f.CapturedAtMillis).UTC()
}

// Record is a fix as stored in the queue
type Record struct {
	ID int64 `json:"id"`
	Fix
	SyncStatus SyncStatus `json:"sync_status"`
}

// Stats summarises the queue contents
type Stats struct {
	Pending int64   `json:"pending"`
	Synced  int64   `json:"synced"`
	Latest  *Record `json:"latest,omitempty"`
}

// Queue is the durable, append-only store of captured fixes.
//
// Records are created Pending, move to Synced at most once and are never deleted.
// Implementations keep no in-memory copy; every call goes to storage.
type Queue interface {
	// Insert appends a Pending record and returns its id
	Insert(ctx context.Context, fix Fix) (int64, error)
	// MarkSynced flips a record to Synced. Unknown or already synced ids are a no-op.
	MarkSynced(ctx context.Context, id int64) error
	// PendingInOrder returns every Pending record ordered by capture time, then id
	PendingInOrder(ctx context.Context) ([]Record, error)
	// Stats returns record counts and the most recently captured record
	Stats(ctx context.Context) (Stats, error)
}
