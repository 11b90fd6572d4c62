package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/geotrack/internal/domain/position"
	"github.com/danghamo/geotrack/internal/domain/settings"
	"github.com/danghamo/geotrack/internal/domain/shared"
	"github.com/danghamo/geotrack/internal/events"
	"github.com/danghamo/geotrack/internal/platform"
	"github.com/danghamo/geotrack/pkg/logger"
)

// State of the tracking lifecycle
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Reasons carried by lifecycle events
const (
	ReasonStart   = "start"
	ReasonResume  = "resume"
	ReasonStop    = "stop"
	ReasonRevoked = "revoked"
)

// Snapshot is a point-in-time view of the lifecycle
type Snapshot struct {
	State     State
	Since     time.Time
	Config    settings.TrackingConfig
	LastFix   *position.Record
	LastError error
}

// Dependencies groups the collaborators a Lifecycle drives
type Dependencies struct {
	Settings     settings.Store
	Queue        position.Queue
	Provider     platform.PositionProvider
	Host         platform.ExecutionHost
	Connectivity platform.Connectivity
	Publisher    events.Publisher
}

// Lifecycle owns the Stopped/Running state machine and the capture session
type Lifecycle struct {
	deps   Dependencies
	logger *logger.Logger

	// opMu serializes Start, Stop, Resume and revocation so the persisted
	// tracking flag and the state change together. Taken before mu.
	opMu sync.Mutex

	mu      sync.Mutex
	state   State
	since   time.Time
	config  settings.TrackingConfig
	session *session
	lastErr error

	// fixMu guards lastFix; the session goroutine must never need mu
	fixMu   sync.Mutex
	lastFix *position.Record
}

// session is one Running period: a claim, a subscription and the goroutine reading it
type session struct {
	claim  platform.Claim
	sub    platform.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLifecycle creates a stopped lifecycle
func NewLifecycle(deps Dependencies, logger *logger.Logger) *Lifecycle {
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	return &Lifecycle{
		deps:   deps,
		logger: logger.WithComponent("capture-lifecycle"),
		state:  StateStopped,
		since:  time.Now().UTC(),
	}
}

// Start persists cfg with tracking enabled and enters Running.
// Starting while Running re-applies the configuration.
func (l *Lifecycle) Start(ctx context.Context, cfg settings.TrackingConfig) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	cfg.TrackingEnabled = true
	if err := l.deps.Settings.Save(ctx, cfg); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session != nil {
		l.logger.Info("Re-applying tracking configuration")
		l.teardown(l.session)
		l.session = nil
	}
	return l.begin(ctx, cfg, ReasonStart)
}

// Resume enters Running when the persisted config says tracking was enabled.
// It reports whether tracking was resumed.
func (l *Lifecycle) Resume(ctx context.Context) (bool, error) {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	cfg := settings.LoadOrDefault(ctx, l.deps.Settings, l.logger)
	if !cfg.TrackingEnabled {
		l.logger.Info("Tracking not enabled, nothing to resume")
		return false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session != nil {
		return true, nil
	}
	if err := l.begin(ctx, cfg, ReasonResume); err != nil {
		return false, err
	}
	return true, nil
}

// Stop halts capture, releases the claim and persists tracking disabled.
// Capture stops even when persisting fails; the write error is returned.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	l.stopLocked(ReasonStop)
	l.mu.Unlock()

	if err := l.deps.Settings.SetTrackingEnabled(ctx, false); err != nil {
		l.logger.Error("Failed to persist tracking disabled", zap.Error(err))
		return err
	}
	return nil
}

// Shutdown ends the session for process exit without touching persisted state,
// so the next start resumes tracking.
func (l *Lifecycle) Shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session == nil {
		return
	}
	l.teardown(l.session)
	l.session = nil
	l.logger.Info("Capture session closed for shutdown")
}

// State returns the current lifecycle state
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Status returns a snapshot of the lifecycle
func (l *Lifecycle) Status() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := Snapshot{
		State:     l.state,
		Since:     l.since,
		Config:    l.config,
		LastError: l.lastErr,
	}

	l.fixMu.Lock()
	if l.lastFix != nil {
		rec := *l.lastFix
		snap.LastFix = &rec
	}
	l.fixMu.Unlock()
	return snap
}

// begin must be called with l.mu held and no active session
func (l *Lifecycle) begin(ctx context.Context, cfg settings.TrackingConfig, reason string) error {
	claim, err := l.deps.Host.Acquire(ctx, platform.TrackingIndicator())
	if err != nil {
		l.lastErr = shared.WrapDomainError(err, shared.CodeGeneric, "failed to acquire background execution")
		l.logger.Error("Failed to acquire background execution", zap.Error(err))
		if l.state != StateStopped {
			l.state = StateStopped
			l.since = time.Now().UTC()
		}
		return l.lastErr
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	s := &session{claim: claim, cancel: cancel, done: make(chan struct{})}

	l.lastErr = nil
	req := platform.NewRequest(cfg.IntervalMillis, cfg.MinDisplacementMeters)
	sub, err := l.deps.Provider.Subscribe(sessionCtx, req)
	if err != nil {
		// nominally running without fixes until the next start
		if errors.Is(err, platform.ErrPermissionDenied) {
			l.lastErr = shared.ErrPermissionDenied(err)
		} else {
			l.lastErr = shared.ErrLocationError(err)
		}
		l.logger.Warn("Position subscription failed", zap.Error(err))
	} else {
		s.sub = sub
	}

	l.session = s
	l.config = cfg
	l.state = StateRunning
	l.since = time.Now().UTC()

	go l.run(sessionCtx, s)

	l.logger.Info("Tracking running",
		zap.String("reason", reason),
		zap.Int64("intervalMillis", cfg.IntervalMillis),
		zap.Float64("minDisplacementMeters", cfg.MinDisplacementMeters),
	)
	l.publishState(ctx, reason)
	return nil
}

// stopLocked must be called with l.mu held
func (l *Lifecycle) stopLocked(reason string) {
	if l.session != nil {
		l.teardown(l.session)
		l.session = nil
	}
	if l.state == StateStopped {
		return
	}
	l.state = StateStopped
	l.since = time.Now().UTC()
	l.logger.Info("Tracking stopped", zap.String("reason", reason))
	l.publishState(context.Background(), reason)
}

// teardown stops the session goroutine, unsubscribes and releases the claim
func (l *Lifecycle) teardown(s *session) {
	s.cancel()
	if s.sub != nil {
		if err := s.sub.Close(); err != nil {
			l.logger.Warn("Failed to close position subscription", zap.Error(err))
		}
	}
	<-s.done
	if err := s.claim.Release(); err != nil {
		l.logger.Warn("Failed to release background claim", zap.Error(err))
	}
}

func (l *Lifecycle) run(ctx context.Context, s *session) {
	defer close(s.done)

	var fixes <-chan position.Fix
	if s.sub != nil {
		fixes = s.sub.Fixes()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.claim.Revoked():
			go l.revoked(s)
			return
		case fix, ok := <-fixes:
			if !ok {
				l.logger.Info("Position stream ended")
				fixes = nil
				continue
			}
			l.handleFix(ctx, fix)
		}
	}
}

// revoked stops tracking after the host took the claim away
func (l *Lifecycle) revoked(s *session) {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	if l.session != s {
		l.mu.Unlock()
		return
	}
	l.logger.Warn("Background claim revoked, stopping tracking")
	l.stopLocked(ReasonRevoked)
	l.mu.Unlock()

	if err := l.deps.Settings.SetTrackingEnabled(context.Background(), false); err != nil {
		l.logger.Error("Failed to persist tracking disabled", zap.Error(err))
	}
}

// handleFix stores the fix and announces it; storage failures drop the fix
func (l *Lifecycle) handleFix(ctx context.Context, fix position.Fix) {
	id, err := l.deps.Queue.Insert(ctx, fix)
	if err != nil {
		l.logger.Error("Failed to store fix, dropped",
			zap.Int64("capturedAt", fix.CapturedAtMillis),
			zap.Error(err))
		return
	}

	l.fixMu.Lock()
	l.lastFix = &position.Record{ID: id, Fix: fix, SyncStatus: position.Pending}
	l.fixMu.Unlock()

	online := l.deps.Connectivity.Available(ctx)

	err = l.deps.Publisher.Publish(ctx, &events.FixCaptured{
		RecordID:   id,
		Fix:        fix,
		Online:     online,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		l.logger.Warn("Failed to publish fix event", zap.Int64("recordId", id), zap.Error(err))
	}
}

func (l *Lifecycle) publishState(ctx context.Context, reason string) {
	event := &events.LifecycleChanged{
		State:      string(l.state),
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
	if l.lastErr != nil {
		event.Error = l.lastErr.Error()
	}
	if err := l.deps.Publisher.Publish(ctx, event); err != nil {
		l.logger.Warn("Failed to publish lifecycle event", zap.Error(err))
	}
}
