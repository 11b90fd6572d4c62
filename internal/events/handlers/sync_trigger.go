package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/danghamo/geotrack/internal/events"
	"github.com/danghamo/geotrack/pkg/logger"
)

// Triggerer asks for a sync pass; implementations coalesce bursts
type Triggerer interface {
	Trigger()
}

// SyncTriggerHandler requests a sync pass for every fix captured while online
type SyncTriggerHandler struct {
	engine Triggerer
	logger *logger.Logger
}

// NewSyncTriggerHandler creates a new sync trigger handler
func NewSyncTriggerHandler(engine Triggerer, logger *logger.Logger) *SyncTriggerHandler {
	return &SyncTriggerHandler{
		engine: engine,
		logger: logger.WithComponent("sync-trigger-handler"),
	}
}

// HandleFixCaptured triggers the engine when connectivity was available at capture time
func (h *SyncTriggerHandler) HandleFixCaptured(ctx context.Context, event *events.FixCaptured) error {
	if !event.Online {
		h.logger.Debug("Offline at capture time, sync not triggered",
			zap.Int64("recordId", event.RecordID))
		return nil
	}

	h.engine.Trigger()
	return nil
}
