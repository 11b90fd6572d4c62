package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"go.uber.org/zap"

	"github.com/danghamo/geotrack/internal/app/capture"
	"github.com/danghamo/geotrack/internal/domain/position"
	"github.com/danghamo/geotrack/internal/domain/settings"
	"github.com/danghamo/geotrack/internal/domain/shared"
	"github.com/danghamo/geotrack/internal/platform"
	"github.com/danghamo/geotrack/pkg/logger"
)

const redacted = "***"

// int64Limit is 2^63; numeric ids at or beyond it do not fit an int64
const int64Limit = 1 << 63

// FlexString accepts a JSON string or number. Numbers are kept as their integer part.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return shared.ErrInvalidInput(fmt.Sprintf("employeeId must be a string or number, got %s", trimmed))
	}
	if n >= int64Limit || n < -int64Limit {
		return shared.ErrInvalidInput(fmt.Sprintf("employeeId %s is out of range", trimmed))
	}
	*f = FlexString(strconv.FormatInt(int64(n), 10))
	return nil
}

// StartOptions are the options a host application passes to start.
// Nil fields keep their stored value; employeeId and tenantId are always rewritten.
type StartOptions struct {
	APIURL     *string    `json:"apiUrl,omitempty"`
	AuthToken  *string    `json:"authToken,omitempty"`
	EmployeeID FlexString `json:"employeeId,omitempty"`
	TenantID   string     `json:"tenantId,omitempty"`
	Interval   *int64     `json:"interval,omitempty"`
	Distance   *float64   `json:"distance,omitempty"`
}

// Apply returns prior with the options laid over it
func (o StartOptions) Apply(prior settings.TrackingConfig) settings.TrackingConfig {
	next := prior
	if o.APIURL != nil {
		next.APIURL = *o.APIURL
	}
	if o.AuthToken != nil {
		next.AuthToken = *o.AuthToken
	}
	if o.Interval != nil {
		next.IntervalMillis = *o.Interval
	}
	if o.Distance != nil {
		next.MinDisplacementMeters = *o.Distance
	}
	next.EmployeeID = string(o.EmployeeID)
	next.TenantID = o.TenantID
	next.TrackingEnabled = true
	return next
}

// StartResult reports what start changed
type StartResult struct {
	State   capture.State          `json:"state"`
	Changes map[string]interface{} `json:"changes"`
}

// CurrentPosition is a one-off position reading
type CurrentPosition struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
}

func positionFromFix(f position.Fix) *CurrentPosition {
	return &CurrentPosition{
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		Accuracy:  f.Accuracy,
		Timestamp: f.CapturedAtMillis,
	}
}

// ConfigView is the stored tracking config without the auth token
type ConfigView struct {
	APIURL                string  `json:"apiUrl"`
	AuthTokenSet          bool    `json:"authTokenSet"`
	EmployeeID            string  `json:"employeeId"`
	TenantID              string  `json:"tenantId"`
	IntervalMillis        int64   `json:"interval"`
	MinDisplacementMeters float64 `json:"distance"`
	TrackingEnabled       bool    `json:"isTrackingRunning"`
}

// Status is what a host application shows about tracking
type Status struct {
	IsTracking        bool             `json:"isTracking"`
	State             capture.State    `json:"state"`
	Since             time.Time        `json:"since"`
	LastKnownLocation *CurrentPosition `json:"lastKnownLocation,omitempty"`
	LastSyncTime      *time.Time       `json:"lastSyncTime,omitempty"`
	Error             string           `json:"error,omitempty"`
	ErrorCode         string           `json:"errorCode,omitempty"`
	Pending           int64            `json:"pending"`
	Synced            int64            `json:"synced"`
	Config            ConfigView       `json:"config"`
}

// Tracker is the capture lifecycle as the bridge drives it
type Tracker interface {
	Start(ctx context.Context, cfg settings.TrackingConfig) error
	Stop(ctx context.Context) error
	Status() capture.Snapshot
}

// SyncClock reports when records were last uploaded
type SyncClock interface {
	LastSyncTime() (time.Time, bool)
}

// Bridge is the start/stop/getCurrentPosition surface for host applications
type Bridge struct {
	tracker  Tracker
	settings settings.Store
	queue    position.Queue
	provider platform.PositionProvider
	sync     SyncClock
	logger   *logger.Logger
}

// New creates a bridge
func New(
	tracker Tracker,
	store settings.Store,
	queue position.Queue,
	provider platform.PositionProvider,
	sync SyncClock,
	logger *logger.Logger,
) *Bridge {
	return &Bridge{
		tracker:  tracker,
		settings: store,
		queue:    queue,
		provider: provider,
		sync:     sync,
		logger:   logger.WithComponent("bridge"),
	}
}

// Start stores the merged configuration and starts tracking
func (b *Bridge) Start(ctx context.Context, opts StartOptions) (StartResult, error) {
	prior := settings.LoadOrDefault(ctx, b.settings, b.logger)
	next := opts.Apply(prior)

	if err := next.Validate(); err != nil {
		return StartResult{}, err
	}

	changes, err := configChanges(prior, next)
	if err != nil {
		// the diff is informational only
		b.logger.Warn("Failed to diff tracking config", zap.Error(err))
	}

	if err := b.tracker.Start(ctx, next); err != nil {
		b.logger.Error("Failed to start tracking", zap.Error(err))
		return StartResult{}, err
	}

	b.logger.Info("Tracking started", zap.Any("changes", changes))
	return StartResult{State: b.tracker.Status().State, Changes: changes}, nil
}

// Stop disables tracking
func (b *Bridge) Stop(ctx context.Context) error {
	if err := b.tracker.Stop(ctx); err != nil {
		return err
	}
	b.logger.Info("Tracking stopped")
	return nil
}

// GetCurrentPosition reads the provider once, independent of the queue
func (b *Bridge) GetCurrentPosition(ctx context.Context) (CurrentPosition, error) {
	fix, err := b.provider.LastKnown(ctx)
	if err != nil {
		if errors.Is(err, platform.ErrPermissionDenied) {
			return CurrentPosition{}, shared.ErrPermissionDenied(err)
		}
		return CurrentPosition{}, shared.ErrLocationError(err)
	}
	if fix == nil {
		return CurrentPosition{}, shared.ErrLocationNull()
	}
	return *positionFromFix(*fix), nil
}

// Status combines lifecycle, queue and sync state
func (b *Bridge) Status(ctx context.Context) (Status, error) {
	snap := b.tracker.Status()
	cfg := settings.LoadOrDefault(ctx, b.settings, b.logger)

	stats, err := b.queue.Stats(ctx)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		IsTracking: snap.State == capture.StateRunning,
		State:      snap.State,
		Since:      snap.Since,
		Pending:    stats.Pending,
		Synced:     stats.Synced,
		Config: ConfigView{
			APIURL:                cfg.APIURL,
			AuthTokenSet:          cfg.AuthToken != "",
			EmployeeID:            cfg.EmployeeID,
			TenantID:              cfg.TenantID,
			IntervalMillis:        cfg.IntervalMillis,
			MinDisplacementMeters: cfg.MinDisplacementMeters,
			TrackingEnabled:       cfg.TrackingEnabled,
		},
	}

	switch {
	case snap.LastFix != nil:
		st.LastKnownLocation = positionFromFix(snap.LastFix.Fix)
	case stats.Latest != nil:
		st.LastKnownLocation = positionFromFix(stats.Latest.Fix)
	}

	if t, ok := b.sync.LastSyncTime(); ok {
		st.LastSyncTime = &t
	}

	if snap.LastError != nil {
		st.Error = snap.LastError.Error()
		st.ErrorCode = shared.CodeOf(snap.LastError)
	}
	return st, nil
}

// configChanges returns a JSON merge patch from prior to next with the token redacted
func configChanges(prior, next settings.TrackingConfig) (map[string]interface{}, error) {
	priorJSON, err := json.Marshal(prior)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prior config: %w", err)
	}
	nextJSON, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal next config: %w", err)
	}

	patch, err := jsonpatch.CreateMergePatch(priorJSON, nextJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to create merge patch: %w", err)
	}

	changes := map[string]interface{}{}
	if err := json.Unmarshal(patch, &changes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal merge patch: %w", err)
	}
	if _, ok := changes[settings.KeyAuthToken]; ok {
		changes[settings.KeyAuthToken] = redacted
	}
	return changes, nil
}
