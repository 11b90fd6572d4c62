package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/danghamo/geotrack/internal/api/jsonrpcx"
	"github.com/danghamo/geotrack/pkg/logger"
)

// Middleware is a function that wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Chain applies middleware in order (first listed runs outermost)
func Chain(middlewares ...Middleware) Middleware {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// Logging records one line per control call. Health probes log at debug so
// a supervisor polling /health does not flood the agent log.
func Logging(logger *logger.Logger) Middleware {
	l := logger.WithComponent("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status_code", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
			}
			if rpc := rpcMethod(r.URL.Path); rpc != "" {
				fields = append(fields, zap.String("rpc", rpc))
			}

			if r.URL.Path == "/health" {
				l.Debug("HTTP request", fields...)
				return
			}
			l.Info("HTTP request", fields...)
		})
	}
}

// rpcMethod returns "tracking.Start" for "/api/v1/tracking.Start"
func rpcMethod(path string) string {
	if !strings.HasPrefix(path, "/api/") {
		return ""
	}
	last := path[strings.LastIndex(path, "/")+1:]
	if !strings.Contains(last, ".") {
		return ""
	}
	return last
}

// CORS lets a host app's web view call the local API
func CORS() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Recovery turns handler panics into a JSON-RPC internal error
func Recovery(logger *logger.Logger) Middleware {
	l := logger.WithComponent("recovery")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					l.Error("HTTP handler panic",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
					)
					jsonrpcx.Fail(w, http.StatusOK, nil, jsonrpcx.InternalError, "Internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// ErrorAdapter writes the JSON-RPC error a handler recorded with jsonrpcx.WithError
func ErrorAdapter(logger *logger.Logger) Middleware {
	l := logger.WithComponent("rpc-errors")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = jsonrpcx.PrepareErrorSlot(r)

			next.ServeHTTP(w, r)

			if rpcResponse, ok := jsonrpcx.GetError(r); ok {
				l.Debug("JSON-RPC error",
					zap.String("path", r.URL.Path),
					zap.Int("code", rpcResponse.Error.Code),
					zap.String("message", rpcResponse.Error.Message),
				)
				jsonrpcx.Response(w, *rpcResponse)
			}
		})
	}
}

const limiterIdleTTL = 3 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet keeps one token bucket per client address
type limiterSet struct {
	mu      sync.Mutex
	perSec  rate.Limit
	burst   int
	clients map[string]*limiterEntry
}

func (s *limiterSet) allow(ip string, now time.Time) bool {
	s.mu.Lock()
	e, ok := s.clients[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(s.perSec, s.burst)}
		s.clients[ip] = e
	}
	e.lastSeen = now
	s.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

func (s *limiterSet) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ip, e := range s.clients {
		if now.Sub(e.lastSeen) > limiterIdleTTL {
			delete(s.clients, ip)
		}
	}
}

// RateLimit limits requests per client address. The idle-client sweeper stops with ctx.
func RateLimit(ctx context.Context, logger *logger.Logger, perSecond float64, burst int) Middleware {
	l := logger.WithComponent("ratelimit")
	set := &limiterSet{
		perSec:  rate.Limit(perSecond),
		burst:   burst,
		clients: make(map[string]*limiterEntry),
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				set.sweep(now)
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !set.allow(ip, time.Now()) {
				l.Warn("Rate limit exceeded", zap.String("ip", ip), zap.String("path", r.URL.Path))
				jsonrpcx.Fail(w, http.StatusTooManyRequests, nil, jsonrpcx.RateLimited, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter records the status code for logging
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streams working behind the logging middleware
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// clientIP is the peer address. The API listens for local callers only, so
// forwarding headers are not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
