package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danghamo/geotrack/internal/domain/position"
	"github.com/danghamo/geotrack/internal/domain/settings"
	"github.com/danghamo/geotrack/internal/domain/shared"
	"github.com/danghamo/geotrack/internal/events"
	"github.com/danghamo/geotrack/internal/remote"
	"github.com/danghamo/geotrack/pkg/logger"
)

// Reasons a pass ended without attempting every pending record
const (
	SkipQueueEmpty    = "queue_empty"
	SkipNotConfigured = "not_configured"
)

// Result summarizes one sync pass
type Result struct {
	PassID     string
	Attempted  int
	Synced     int
	Remaining  int
	Skipped    string
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Engine drains pending records to the remote endpoint in capture order
type Engine struct {
	queue     position.Queue
	settings  settings.Store
	uploader  remote.Uploader
	publisher events.Publisher
	logger    *logger.Logger

	// passMu serializes passes against the queue
	passMu sync.Mutex

	mu       sync.Mutex
	running  bool
	rerun    bool
	lastSync time.Time
	wg       sync.WaitGroup
}

// NewEngine creates a sync engine. publisher may be nil.
func NewEngine(
	queue position.Queue,
	store settings.Store,
	uploader remote.Uploader,
	publisher events.Publisher,
	logger *logger.Logger,
) *Engine {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Engine{
		queue:     queue,
		settings:  store,
		uploader:  uploader,
		publisher: publisher,
		logger:    logger.WithComponent("sync-engine"),
	}
}

// Trigger requests a pass without blocking. While a pass is in flight, triggers
// collapse into a single rerun that starts once it finishes.
func (e *Engine) Trigger() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		e.rerun = true
		return
	}
	e.running = true
	e.wg.Add(1)
	go e.drain()
}

func (e *Engine) drain() {
	defer e.wg.Done()

	for {
		// passes outlive the request that triggered them; Stop never cancels one
		e.RunPass(context.Background())

		e.mu.Lock()
		if !e.rerun {
			e.running = false
			e.mu.Unlock()
			return
		}
		e.rerun = false
		e.mu.Unlock()
	}
}

// Wait blocks until triggered passes, including queued reruns, have finished
func (e *Engine) Wait() {
	e.wg.Wait()
}

// LastSyncTime is when a pass last marked at least one record synced
func (e *Engine) LastSyncTime() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync, !e.lastSync.IsZero()
}

// RunPass runs one pass synchronously, stopping at the first failed upload
func (e *Engine) RunPass(ctx context.Context) Result {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	res := Result{PassID: uuid.NewString(), StartedAt: time.Now().UTC()}
	log := e.logger.WithPass(res.PassID)

	pending, err := e.queue.PendingInOrder(ctx)
	if err != nil {
		log.Error("Failed to read pending records", zap.Error(err))
		res.Err = err
		return e.finish(ctx, log, res)
	}
	res.Remaining = len(pending)

	if len(pending) == 0 {
		res.Skipped = SkipQueueEmpty
		res.FinishedAt = time.Now().UTC()
		return res
	}

	cfg := settings.LoadOrDefault(ctx, e.settings, log)
	if !cfg.CanSync() {
		log.Debug("Upload target not configured, pass skipped",
			zap.Int("pending", len(pending)))
		res.Skipped = SkipNotConfigured
		return e.finish(ctx, log, res)
	}

	target := remote.Target{
		APIURL:    cfg.APIURL,
		AuthToken: cfg.AuthToken,
		TenantID:  cfg.TenantID,
	}

	for _, rec := range pending {
		res.Attempted++

		if err := e.uploader.Upload(ctx, target, remote.NewPayload(cfg.EmployeeID, rec)); err != nil {
			res.Err = shared.ErrSync(err, rec.ID)
			log.Warn("Upload failed, pass stopped",
				zap.Int64("recordId", rec.ID),
				zap.Int("remaining", res.Remaining),
				zap.Error(err))
			break
		}

		if err := e.queue.MarkSynced(ctx, rec.ID); err != nil {
			// leave it pending so synced records stay a prefix of capture order
			res.Err = err
			log.Error("Failed to mark record synced, pass stopped",
				zap.Int64("recordId", rec.ID),
				zap.Error(err))
			break
		}
		res.Synced++
		res.Remaining--
	}

	if res.Synced > 0 {
		e.mu.Lock()
		e.lastSync = time.Now().UTC()
		e.mu.Unlock()
	}

	return e.finish(ctx, log, res)
}

func (e *Engine) finish(ctx context.Context, log *logger.Logger, res Result) Result {
	res.FinishedAt = time.Now().UTC()

	log.Info("Sync pass finished",
		zap.Int("attempted", res.Attempted),
		zap.Int("synced", res.Synced),
		zap.Int("remaining", res.Remaining),
		zap.String("skipped", res.Skipped),
		zap.Duration("duration", res.FinishedAt.Sub(res.StartedAt)),
	)

	event := &events.SyncPassCompleted{
		PassID:     res.PassID,
		Attempted:  res.Attempted,
		Synced:     res.Synced,
		Remaining:  res.Remaining,
		Skipped:    res.Skipped,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if res.Err != nil {
		event.Error = res.Err.Error()
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		log.Warn("Failed to publish sync pass event", zap.Error(err))
	}

	return res
}
