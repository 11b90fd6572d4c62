package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/geotrack/internal/api/jsonrpcx"
	"github.com/danghamo/geotrack/pkg/authx"
	"github.com/danghamo/geotrack/pkg/logger"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func decodeRPC(t *testing.T, rec *httptest.ResponseRecorder) jsonrpcx.JSONRPCResponse {
	t.Helper()
	var resp jsonrpcx.JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func whoAmI(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserID(r.Context())
	jsonrpcx.Success(w, 1, map[string]string{"user": userID})
}

func TestRequireAuth(t *testing.T) {
	log := logger.NewNop()
	svc := authx.NewJWTService(testSecret, "geotrackd", time.Hour)
	handler := Chain(ErrorAdapter(log))(NewAuthMiddleware(svc, log).RequireAuth(http.HandlerFunc(whoAmI)))

	token, err := svc.GenerateToken("host-app", "Field App")
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantUser string
	}{
		{name: "should reject missing header", wantCode: jsonrpcx.Unauthorized},
		{name: "should reject non bearer scheme", header: "Basic abc", wantCode: jsonrpcx.Unauthorized},
		{name: "should reject invalid token", header: "Bearer nope", wantCode: jsonrpcx.Unauthorized},
		{name: "should accept valid token", header: "Bearer " + token, wantUser: "host-app"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/tracking.Status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			resp := decodeRPC(t, rec)
			if tt.wantCode != 0 {
				require.NotNil(t, resp.Error)
				assert.Equal(t, tt.wantCode, resp.Error.Code)
				return
			}
			require.Nil(t, resp.Error)
			assert.Equal(t, map[string]interface{}{"user": tt.wantUser}, resp.Result)
		})
	}
}

func TestRequireAuth_Disabled(t *testing.T) {
	log := logger.NewNop()
	auth := NewAuthMiddleware(nil, log)
	assert.False(t, auth.Enabled())

	handler := Chain(ErrorAdapter(log))(auth.RequireAuth(http.HandlerFunc(whoAmI)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	resp := decodeRPC(t, rec)
	assert.Nil(t, resp.Error)
	assert.Equal(t, map[string]interface{}{"user": ""}, resp.Result)
}

func TestRecovery(t *testing.T) {
	handler := Recovery(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	resp := decodeRPC(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpcx.InternalError, resp.Error.Code)
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	handler := CORS()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/tracking.Start", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := RateLimit(ctx, logger.NewNop(), 1, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "10.0.0.7:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// a different client has its own bucket
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.8:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.4:40000"
	assert.Equal(t, "192.168.1.4", clientIP(req))

	// forwarding headers are ignored
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "192.168.1.4", clientIP(req))

	req.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", clientIP(req))
}

func TestLimiterSet_Sweep(t *testing.T) {
	set := &limiterSet{perSec: 1, burst: 1, clients: map[string]*limiterEntry{}}
	now := time.Now()

	assert.True(t, set.allow("10.0.0.1", now))
	assert.False(t, set.allow("10.0.0.1", now))
	set.allow("10.0.0.2", now.Add(2*time.Minute))

	set.sweep(now.Add(limiterIdleTTL + time.Second))
	assert.NotContains(t, set.clients, "10.0.0.1")
	assert.Contains(t, set.clients, "10.0.0.2")
}

func TestRPCMethod(t *testing.T) {
	assert.Equal(t, "tracking.Start", rpcMethod("/api/v1/tracking.Start"))
	assert.Equal(t, "", rpcMethod("/health"))
	assert.Equal(t, "", rpcMethod("/swagger/doc.json"))
	assert.Equal(t, "", rpcMethod("/api/v1/stream/status"))
}

func TestChain_Order(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(tag("outer"), tag("inner"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		target    string
		header    string
		wantToken string
	}{
		{name: "should read the header", method: http.MethodPost, target: "/", header: "Bearer abc", wantToken: "abc"},
		{name: "should reject empty bearer", method: http.MethodPost, target: "/", header: "Bearer "},
		{name: "should accept query token on streams", method: http.MethodGet, target: "/api/v1/stream/status?access_token=xyz", wantToken: "xyz"},
		{name: "should ignore query token on calls", method: http.MethodPost, target: "/api/v1/tracking.Stop?access_token=xyz"},
		{name: "should prefer the header", method: http.MethodGet, target: "/?access_token=xyz", header: "Bearer abc", wantToken: "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			token, reason := bearerToken(req)
			assert.Equal(t, tt.wantToken, token)
			if tt.wantToken == "" {
				assert.NotEmpty(t, reason)
			}
		})
	}
}
