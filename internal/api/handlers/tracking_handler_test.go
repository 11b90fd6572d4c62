package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/geotrack/internal/api/jsonrpcx"
	"github.com/danghamo/geotrack/internal/api/middleware"
	"github.com/danghamo/geotrack/internal/app/bridge"
	"github.com/danghamo/geotrack/internal/app/capture"
	"github.com/danghamo/geotrack/internal/domain/shared"
	"github.com/danghamo/geotrack/pkg/logger"
)

type mockTrackingService struct {
	mock.Mock
}

func (m *mockTrackingService) Start(ctx context.Context, opts bridge.StartOptions) (bridge.StartResult, error) {
	args := m.Called(ctx, opts)
	return args.Get(0).(bridge.StartResult), args.Error(1)
}

func (m *mockTrackingService) Stop(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockTrackingService) GetCurrentPosition(ctx context.Context) (bridge.CurrentPosition, error) {
	args := m.Called(ctx)
	return args.Get(0).(bridge.CurrentPosition), args.Error(1)
}

func (m *mockTrackingService) Status(ctx context.Context) (bridge.Status, error) {
	args := m.Called(ctx)
	return args.Get(0).(bridge.Status), args.Error(1)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int       `json:"code"`
		Message string    `json:"message"`
		Data    ErrorData `json:"data"`
	} `json:"error"`
	ID any `json:"id"`
}

func call(t *testing.T, fn http.HandlerFunc, method, body string) rpcResponse {
	t.Helper()
	handler := middleware.ErrorAdapter(logger.NewNop())(fn)

	req := httptest.NewRequest(method, "/api/v1/tracking.X", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestTrackingHandler_Start(t *testing.T) {
	svc := &mockTrackingService{}
	h := NewTrackingHandler(logger.NewNop(), svc)

	interval := int64(5000)
	want := bridge.StartOptions{EmployeeID: "42", Interval: &interval}
	svc.On("Start", mock.Anything, want).Return(bridge.StartResult{
		State:   capture.StateRunning,
		Changes: map[string]interface{}{"interval": float64(5000)},
	}, nil).Once()

	resp := call(t, h.Start, http.MethodPost,
		`{"jsonrpc":"2.0","method":"tracking.Start","params":{"employeeId":42,"interval":5000},"id":1}`)

	require.Nil(t, resp.Error)
	var result bridge.StartResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, capture.StateRunning, result.State)
	assert.Equal(t, float64(1), resp.ID)
	svc.AssertExpectations(t)
}

func TestTrackingHandler_StartWithoutParams(t *testing.T) {
	svc := &mockTrackingService{}
	h := NewTrackingHandler(logger.NewNop(), svc)
	svc.On("Start", mock.Anything, bridge.StartOptions{}).Return(bridge.StartResult{State: capture.StateRunning}, nil).Once()

	resp := call(t, h.Start, http.MethodPost, `{"jsonrpc":"2.0","method":"tracking.Start","id":"a"}`)

	assert.Nil(t, resp.Error)
	svc.AssertExpectations(t)
}

func TestTrackingHandler_Errors(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		body     string
		setup    func(svc *mockTrackingService)
		call     func(h *TrackingHandler) http.HandlerFunc
		wantCode int
		wantData string
	}{
		{
			name:     "should reject GET",
			method:   http.MethodGet,
			call:     func(h *TrackingHandler) http.HandlerFunc { return h.Status },
			wantCode: jsonrpcx.MethodNotFound,
		},
		{
			name:     "should reject malformed JSON",
			method:   http.MethodPost,
			body:     `{not json`,
			call:     func(h *TrackingHandler) http.HandlerFunc { return h.Status },
			wantCode: jsonrpcx.ParseError,
		},
		{
			name:     "should reject wrong jsonrpc version",
			method:   http.MethodPost,
			body:     `{"jsonrpc":"1.0","method":"tracking.Stop","id":1}`,
			call:     func(h *TrackingHandler) http.HandlerFunc { return h.Stop },
			wantCode: jsonrpcx.ParseError,
		},
		{
			name:     "should reject bad params",
			method:   http.MethodPost,
			body:     `{"jsonrpc":"2.0","method":"tracking.Start","params":{"interval":"soon"},"id":1}`,
			call:     func(h *TrackingHandler) http.HandlerFunc { return h.Start },
			wantCode: jsonrpcx.InvalidParams,
		},
		{
			name:     "should reject out of range employee ids",
			method:   http.MethodPost,
			body:     `{"jsonrpc":"2.0","method":"tracking.Start","params":{"employeeId":1e20},"id":1}`,
			call:     func(h *TrackingHandler) http.HandlerFunc { return h.Start },
			wantCode: jsonrpcx.ApplicationError,
			wantData: shared.CodeInvalidInput,
		},
		{
			name:   "should carry invalid input code",
			method: http.MethodPost,
			body:   `{"jsonrpc":"2.0","method":"tracking.Start","params":{"interval":0},"id":1}`,
			setup: func(svc *mockTrackingService) {
				svc.On("Start", mock.Anything, mock.Anything).
					Return(bridge.StartResult{}, shared.ErrInvalidInput("interval must be positive"))
			},
			call:     func(h *TrackingHandler) http.HandlerFunc { return h.Start },
			wantCode: jsonrpcx.ApplicationError,
			wantData: shared.CodeInvalidInput,
		},
		{
			name:   "should carry location null code",
			method: http.MethodPost,
			body:   `{"jsonrpc":"2.0","method":"tracking.GetCurrentPosition","id":1}`,
			setup: func(svc *mockTrackingService) {
				svc.On("GetCurrentPosition", mock.Anything).Return(bridge.CurrentPosition{}, shared.ErrLocationNull())
			},
			call:     func(h *TrackingHandler) http.HandlerFunc { return h.GetCurrentPosition },
			wantCode: jsonrpcx.ApplicationError,
			wantData: shared.CodeLocationNull,
		},
		{
			name:   "should carry permission denied code",
			method: http.MethodPost,
			body:   `{"jsonrpc":"2.0","method":"tracking.GetCurrentPosition","id":1}`,
			setup: func(svc *mockTrackingService) {
				svc.On("GetCurrentPosition", mock.Anything).Return(bridge.CurrentPosition{}, shared.ErrPermissionDenied(nil))
			},
			call:     func(h *TrackingHandler) http.HandlerFunc { return h.GetCurrentPosition },
			wantCode: jsonrpcx.ApplicationError,
			wantData: shared.CodePermissionDenied,
		},
		{
			name:   "should fall back to the generic code",
			method: http.MethodPost,
			body:   `{"jsonrpc":"2.0","method":"tracking.Stop","id":1}`,
			setup: func(svc *mockTrackingService) {
				svc.On("Stop", mock.Anything).Return(assert.AnError)
			},
			call:     func(h *TrackingHandler) http.HandlerFunc { return h.Stop },
			wantCode: jsonrpcx.ApplicationError,
			wantData: shared.CodeGeneric,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockTrackingService{}
			if tt.setup != nil {
				tt.setup(svc)
			}
			h := NewTrackingHandler(logger.NewNop(), svc)

			resp := call(t, tt.call(h), tt.method, tt.body)

			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, tt.wantData, resp.Error.Data.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestTrackingHandler_StopAndStatus(t *testing.T) {
	svc := &mockTrackingService{}
	h := NewTrackingHandler(logger.NewNop(), svc)

	svc.On("Stop", mock.Anything).Return(nil).Once()
	svc.On("Status", mock.Anything).Return(bridge.Status{
		IsTracking: false,
		State:      capture.StateStopped,
		Pending:    3,
	}, nil).Once()

	resp := call(t, h.Stop, http.MethodPost, `{"jsonrpc":"2.0","method":"tracking.Stop","id":1}`)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{"stopped":true}`, string(resp.Result))

	resp = call(t, h.Status, http.MethodPost, `{"jsonrpc":"2.0","method":"tracking.Status","id":2}`)
	require.Nil(t, resp.Error)
	var st bridge.Status
	require.NoError(t, json.Unmarshal(resp.Result, &st))
	assert.Equal(t, capture.StateStopped, st.State)
	assert.Equal(t, int64(3), st.Pending)

	svc.AssertExpectations(t)
}
