package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/geotrack/pkg/logger"
)

// ProcessHost grants claims for the lifetime of the daemon process.
// The indicator is logged and, when a status file is configured, written there as JSON.
type ProcessHost struct {
	statusFile string
	logger     *logger.Logger

	mu      sync.Mutex
	current *processClaim
}

// NewProcessHost creates a host; statusFile may be empty
func NewProcessHost(statusFile string, log *logger.Logger) *ProcessHost {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &ProcessHost{statusFile: statusFile, logger: log.WithComponent("execution-host")}
}

type indicatorFile struct {
	Indicator
	PID   int       `json:"pid"`
	Since time.Time `json:"since"`
}

// Acquire shows the indicator and returns a claim. An outstanding claim is handed back as is.
func (h *ProcessHost) Acquire(ctx context.Context, indicator Indicator) (Claim, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current != nil && !h.current.finished() {
		return h.current, nil
	}

	if h.statusFile != "" {
		data, err := json.Marshal(indicatorFile{Indicator: indicator, PID: os.Getpid(), Since: time.Now().UTC()})
		if err != nil {
			return nil, fmt.Errorf("failed to encode indicator: %w", err)
		}
		if err := os.WriteFile(h.statusFile, data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write status file: %w", err)
		}
	}

	h.logger.Info("Background claim acquired",
		zap.String("title", indicator.Title),
		zap.String("text", indicator.Text),
	)

	h.current = &processClaim{host: h, revoked: make(chan struct{})}
	return h.current, nil
}

// Revoke takes the outstanding claim away, as an OS would when it kills background work
func (h *ProcessHost) Revoke() {
	h.mu.Lock()
	c := h.current
	h.mu.Unlock()

	if c == nil {
		return
	}
	c.revokeOnce.Do(func() {
		h.logger.Warn("Background claim revoked")
		close(c.revoked)
	})
}

func (h *ProcessHost) release(c *processClaim) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current != c {
		// superseded by a newer claim that owns the status file
		return nil
	}
	h.current = nil
	if h.statusFile != "" {
		if err := os.Remove(h.statusFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove status file: %w", err)
		}
	}
	h.logger.Info("Background claim released")
	return nil
}

type processClaim struct {
	host       *ProcessHost
	revoked    chan struct{}
	revokeOnce sync.Once
	mu         sync.Mutex
	released   bool
}

func (c *processClaim) Revoked() <-chan struct{} {
	return c.revoked
}

func (c *processClaim) finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return true
	}
	select {
	case <-c.revoked:
		return true
	default:
		return false
	}
}

func (c *processClaim) Release() error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil
	}
	c.released = true
	c.mu.Unlock()
	return c.host.release(c)
}
