package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/danghamo/geotrack/internal/api/jsonrpcx"
	"github.com/danghamo/geotrack/internal/api/middleware"
	"github.com/danghamo/geotrack/internal/app/bridge"
	"github.com/danghamo/geotrack/internal/domain/shared"
	"github.com/danghamo/geotrack/pkg/logger"
)

// TrackingService is the bridge surface the handler exposes
type TrackingService interface {
	Start(ctx context.Context, opts bridge.StartOptions) (bridge.StartResult, error)
	Stop(ctx context.Context) error
	GetCurrentPosition(ctx context.Context) (bridge.CurrentPosition, error)
	Status(ctx context.Context) (bridge.Status, error)
}

// TrackingHandler serves tracking.* JSON-RPC 2.0 methods.
// Every exported method is picked up by the autorouter.
type TrackingHandler struct {
	logger  *logger.Logger
	service TrackingService
}

// NewTrackingHandler creates a new tracking handler
func NewTrackingHandler(logger *logger.Logger, service TrackingService) *TrackingHandler {
	return &TrackingHandler{
		logger:  logger.WithComponent("tracking-handler"),
		service: service,
	}
}

// StopResponse is returned by tracking.Stop
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// ErrorData is attached to application errors so clients can switch on the code
type ErrorData struct {
	Code string `json:"code"`
}

// Start handles POST /api/v1/tracking.Start
func (h *TrackingHandler) Start(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parse(r)
	if !ok {
		return
	}

	var params bridge.StartOptions
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			if shared.HasCode(err, shared.CodeInvalidInput) {
				h.fail(r, req.ID, "tracking.Start", err)
				return
			}
			jsonrpcx.WithError(r, req.ID, jsonrpcx.InvalidParams, "Invalid params")
			return
		}
	}

	result, err := h.service.Start(r.Context(), params)
	if err != nil {
		h.fail(r, req.ID, "tracking.Start", err)
		return
	}

	h.logger.Info("Tracking started via API", zap.String("caller", caller(r)))
	jsonrpcx.Success(w, req.ID, result)
}

// Stop handles POST /api/v1/tracking.Stop
func (h *TrackingHandler) Stop(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parse(r)
	if !ok {
		return
	}

	if err := h.service.Stop(r.Context()); err != nil {
		h.fail(r, req.ID, "tracking.Stop", err)
		return
	}

	h.logger.Info("Tracking stopped via API", zap.String("caller", caller(r)))
	jsonrpcx.Success(w, req.ID, StopResponse{Stopped: true})
}

// GetCurrentPosition handles POST /api/v1/tracking.GetCurrentPosition
func (h *TrackingHandler) GetCurrentPosition(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parse(r)
	if !ok {
		return
	}

	pos, err := h.service.GetCurrentPosition(r.Context())
	if err != nil {
		h.fail(r, req.ID, "tracking.GetCurrentPosition", err)
		return
	}
	jsonrpcx.Success(w, req.ID, pos)
}

// Status handles POST /api/v1/tracking.Status
func (h *TrackingHandler) Status(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parse(r)
	if !ok {
		return
	}

	status, err := h.service.Status(r.Context())
	if err != nil {
		h.fail(r, req.ID, "tracking.Status", err)
		return
	}
	jsonrpcx.Success(w, req.ID, status)
}

func (h *TrackingHandler) parse(r *http.Request) (*jsonrpcx.JSONRPCRequest, bool) {
	if r.Method != http.MethodPost {
		jsonrpcx.WithError(r, nil, jsonrpcx.MethodNotFound, "Method not allowed")
		return nil, false
	}

	req, err := jsonrpcx.ParseRequest(r)
	if err != nil {
		jsonrpcx.WithError(r, nil, jsonrpcx.ParseError, "Invalid JSON-RPC request")
		return nil, false
	}
	return req, true
}

// fail records err as an application error carrying its domain code
func (h *TrackingHandler) fail(r *http.Request, id any, method string, err error) {
	code := shared.CodeOf(err)
	h.logger.Warn("Tracking call failed",
		zap.String("method", method),
		zap.String("code", code),
		zap.Error(err),
	)
	jsonrpcx.WithErrorData(r, id, jsonrpcx.ApplicationError, err.Error(), ErrorData{Code: code})
}

func caller(r *http.Request) string {
	if id, ok := middleware.GetUserID(r.Context()); ok {
		return id
	}
	return "anonymous"
}
