// Package platform holds the device-facing collaborators of the tracking agent:
// the position provider, the background execution host and the connectivity probe.
package platform

import (
	"context"
	"errors"
	"time"

	"github.com/danghamo/geotrack/internal/domain/position"
)

// ErrPermissionDenied is returned when the agent may not read the device location
var ErrPermissionDenied = errors.New("location permission not granted")

// Request describes how often the provider should deliver fixes
type Request struct {
	Interval              time.Duration
	FastestInterval       time.Duration
	MinDisplacementMeters float64
	HighAccuracy          bool
}

// NewRequest builds a high accuracy request; the fastest interval is half the interval
func NewRequest(intervalMillis int64, minDisplacementMeters float64) Request {
	interval := time.Duration(intervalMillis) * time.Millisecond
	return Request{
		Interval:              interval,
		FastestInterval:       interval / 2,
		MinDisplacementMeters: minDisplacementMeters,
		HighAccuracy:          true,
	}
}

// Subscription is a live stream of fixes. Fixes is closed after Close returns.
type Subscription interface {
	Fixes() <-chan position.Fix
	Close() error
}

// PositionProvider delivers fixes to subscribers
type PositionProvider interface {
	Subscribe(ctx context.Context, req Request) (Subscription, error)
	// LastKnown returns the last fix the provider has, or nil when it has none
	LastKnown(ctx context.Context) (*position.Fix, error)
}

// Indicator is the user visible notice shown while tracking runs
type Indicator struct {
	Title       string `json:"title"`
	Text        string `json:"text"`
	LowPriority bool   `json:"low_priority"`
}

// TrackingIndicator is the notice shown for background tracking
func TrackingIndicator() Indicator {
	return Indicator{
		Title:       "Tracking",
		Text:        "Active background tracking is enabled.",
		LowPriority: true,
	}
}

// Claim keeps the agent's background work alive until released or revoked
type Claim interface {
	// Revoked is closed when the host takes the claim away
	Revoked() <-chan struct{}
	Release() error
}

// ExecutionHost grants long running claims
type ExecutionHost interface {
	Acquire(ctx context.Context, indicator Indicator) (Claim, error)
}

// Connectivity reports whether a network is usable right now
type Connectivity interface {
	Available(ctx context.Context) bool
}
