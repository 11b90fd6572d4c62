package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/geotrack/internal/api/jsonrpcx"
	"github.com/danghamo/geotrack/internal/events"
	"github.com/danghamo/geotrack/pkg/logger"
)

// Notification methods pushed on the status stream
const (
	MethodFix       = "tracking.fix"
	MethodSync      = "tracking.sync"
	MethodLifecycle = "tracking.lifecycle"
)

// SSEBroadcaster interface for broadcasting SSE messages
type SSEBroadcaster interface {
	BroadcastToAll(notification jsonrpcx.JsonRpcNotification)
}

// SSEEventHandler handles events and converts them to SSE notifications
type SSEEventHandler struct {
	sseBroadcaster SSEBroadcaster
	logger         *logger.Logger
}

// NewSSEEventHandler creates a new SSE event handler
func NewSSEEventHandler(sseBroadcaster SSEBroadcaster, logger *logger.Logger) *SSEEventHandler {
	return &SSEEventHandler{
		sseBroadcaster: sseBroadcaster,
		logger:         logger.WithComponent("sse-event-handler"),
	}
}

// HandleFixCaptured broadcasts the stored fix to status stream clients
func (h *SSEEventHandler) HandleFixCaptured(ctx context.Context, event *events.FixCaptured) error {
	h.sseBroadcaster.BroadcastToAll(jsonrpcx.JsonRpcNotification{
		Jsonrpc: "2.0",
		Method:  MethodFix,
		Params: map[string]interface{}{
			"record_id":   event.RecordID,
			"latitude":    event.Fix.Latitude,
			"longitude":   event.Fix.Longitude,
			"accuracy":    event.Fix.Accuracy,
			"captured_at": event.Fix.CapturedAt().Format(time.RFC3339Nano),
			"online":      event.Online,
		},
	})

	h.logger.Debug("Fix broadcast", zap.Int64("recordId", event.RecordID))
	return nil
}

// HandleSyncPassCompleted broadcasts the outcome of a sync pass
func (h *SSEEventHandler) HandleSyncPassCompleted(ctx context.Context, event *events.SyncPassCompleted) error {
	params := map[string]interface{}{
		"pass_id":     event.PassID,
		"attempted":   event.Attempted,
		"synced":      event.Synced,
		"remaining":   event.Remaining,
		"finished_at": event.FinishedAt.Format(time.RFC3339),
	}
	if event.Skipped != "" {
		params["skipped"] = event.Skipped
	}
	if event.Error != "" {
		params["error"] = event.Error
	}

	h.sseBroadcaster.BroadcastToAll(jsonrpcx.JsonRpcNotification{
		Jsonrpc: "2.0",
		Method:  MethodSync,
		Params:  params,
	})

	h.logger.Debug("Sync pass broadcast", zap.String("passId", event.PassID))
	return nil
}

// HandleLifecycleChanged broadcasts tracking state transitions
func (h *SSEEventHandler) HandleLifecycleChanged(ctx context.Context, event *events.LifecycleChanged) error {
	params := map[string]interface{}{
		"state":     event.State,
		"reason":    event.Reason,
		"timestamp": event.OccurredAt.Format(time.RFC3339),
	}
	if event.Error != "" {
		params["error"] = event.Error
	}

	h.sseBroadcaster.BroadcastToAll(jsonrpcx.JsonRpcNotification{
		Jsonrpc: "2.0",
		Method:  MethodLifecycle,
		Params:  params,
	})

	h.logger.Debug("Lifecycle change broadcast",
		zap.String("state", event.State),
		zap.String("reason", event.Reason))
	return nil
}
