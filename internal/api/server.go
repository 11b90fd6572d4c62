package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/danghamo/geotrack/internal/api/handlers"
	"github.com/danghamo/geotrack/internal/api/jsonrpcx"
	"github.com/danghamo/geotrack/internal/api/middleware"
	"github.com/danghamo/geotrack/pkg/authx"
	"github.com/danghamo/geotrack/pkg/autorouter"
	"github.com/danghamo/geotrack/pkg/logger"
	"github.com/danghamo/geotrack/pkg/sse"
)

// HealthChecker is anything /health should probe
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RateLimitPerSec float64
	RateLimitBurst  int
}

// Dependencies are the application pieces the API serves
type Dependencies struct {
	Tracking    handlers.TrackingService
	Broadcaster *sse.SSEBroadcaster
	// JWT is nil when the API runs without authentication
	JWT          *authx.JWTService
	HealthChecks map[string]HealthChecker
}

// Server represents the HTTP server
type Server struct {
	httpServer     *http.Server
	logger         *logger.Logger
	mux            *http.ServeMux
	router         *autorouter.Router
	authMiddleware *middleware.AuthMiddleware
	sseBroadcaster *sse.SSEBroadcaster
	healthChecks   map[string]HealthChecker

	// cancel stops background middleware work such as the rate limiter sweeper
	cancel context.CancelFunc
}

// NewServer creates a new HTTP server
func NewServer(config ServerConfig, deps Dependencies, logger *logger.Logger) (*Server, error) {
	if deps.Tracking == nil {
		return nil, errors.New("tracking service is required")
	}

	mux := http.NewServeMux()
	apiLogger := logger.WithComponent("api")
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		httpServer: &http.Server{
			Addr:         net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		logger:         apiLogger,
		mux:            mux,
		authMiddleware: middleware.NewAuthMiddleware(deps.JWT, apiLogger),
		sseBroadcaster: deps.Broadcaster,
		healthChecks:   deps.HealthChecks,
		cancel:         cancel,
	}

	s.router = autorouter.New(mux, autorouter.Options{
		Prefix:       "/api/v1/",
		MethodPrefix: "tracking.",
		OnError: func(w http.ResponseWriter, r *http.Request, err error) {
			jsonrpcx.WithError(r, nil, jsonrpcx.InternalError, err.Error())
		},
	}, apiLogger)

	if err := s.setupRoutes(handlers.NewTrackingHandler(apiLogger, deps.Tracking)); err != nil {
		cancel()
		return nil, err
	}
	s.setupMiddleware(ctx, config)

	if !s.authMiddleware.Enabled() {
		apiLogger.Warn("Control API authentication disabled")
	}
	return s, nil
}

// setupRoutes configures the server routes
func (s *Server) setupRoutes(tracking *handlers.TrackingHandler) error {
	// Health check endpoint (pure REST, no auth)
	s.mux.HandleFunc("/health", s.healthCheckHandler)

	// API docs (served from apiDoc, no auth)
	s.mux.HandleFunc("/swagger/", httpSwagger.WrapHandler)

	if err := s.router.RegisterGuarded(tracking, s.authMiddleware.RequireAuth); err != nil {
		return fmt.Errorf("failed to register tracking routes: %w", err)
	}
	for _, route := range s.router.Routes() {
		s.logger.Info("Route registered", zap.String("path", route.Path), zap.Bool("auth", s.authMiddleware.Enabled()))
	}

	if s.sseBroadcaster != nil {
		s.mux.Handle("/api/v1/stream/status", s.authMiddleware.RequireAuth(http.HandlerFunc(s.sseBroadcaster.HandleSSE)))
	}
	return nil
}

// setupMiddleware applies middleware to all routes
func (s *Server) setupMiddleware(ctx context.Context, config ServerConfig) {
	chain := []middleware.Middleware{
		middleware.Recovery(s.logger),
		middleware.ErrorAdapter(s.logger),
		middleware.CORS(),
		middleware.Logging(s.logger),
	}
	if config.RateLimitPerSec > 0 {
		chain = append(chain, middleware.RateLimit(ctx, s.logger, config.RateLimitPerSec, config.RateLimitBurst))
	}

	s.httpServer.Handler = middleware.Chain(chain...)(s.mux)
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is cancelled, then shuts down
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.httpServer.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.cancel()
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down HTTP server")
	defer s.cancel()

	// SSE streams hold their requests open; close them first
	if s.sseBroadcaster != nil {
		s.sseBroadcaster.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown error", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// GetAddr returns the server address
func (s *Server) GetAddr() string {
	return s.httpServer.Addr
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks"`
}

// healthCheckHandler probes every configured backend
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Checks: map[string]checkResult{}}
	status := http.StatusOK

	names := make([]string, 0, len(s.healthChecks))
	for name := range s.healthChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.healthChecks[name].HealthCheck(r.Context()); err != nil {
			s.logger.Error("Health check failed", zap.String("check", name), zap.Error(err))
			resp.Checks[name] = checkResult{Status: "down", Error: err.Error()}
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = checkResult{Status: "up"}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
