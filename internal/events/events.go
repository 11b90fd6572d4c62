package events

import (
	"context"
	"time"

	"github.com/danghamo/geotrack/internal/domain/position"
)

// FixCaptured is published after a fix has been stored in the queue
type FixCaptured struct {
	RecordID   int64        `json:"record_id"`
	Fix        position.Fix `json:"fix"`
	Online     bool         `json:"online"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// SyncPassCompleted is published at the end of every sync pass
type SyncPassCompleted struct {
	PassID     string    `json:"pass_id"`
	Attempted  int       `json:"attempted"`
	Synced     int       `json:"synced"`
	Remaining  int       `json:"remaining"`
	Skipped    string    `json:"skipped,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// LifecycleChanged is published when capture starts, stops or fails to subscribe
type LifecycleChanged struct {
	State      string    `json:"state"`
	Reason     string    `json:"reason"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher publishes events
type Publisher interface {
	Publish(ctx context.Context, event interface{}) error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event interface{}) error {
	return nil
}
