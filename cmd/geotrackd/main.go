package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/danghamo/geotrack/internal/api"
	"github.com/danghamo/geotrack/internal/app/bridge"
	"github.com/danghamo/geotrack/internal/app/capture"
	"github.com/danghamo/geotrack/internal/app/syncer"
	"github.com/danghamo/geotrack/internal/domain/position"
	"github.com/danghamo/geotrack/internal/domain/settings"
	"github.com/danghamo/geotrack/internal/events"
	eventhandlers "github.com/danghamo/geotrack/internal/events/handlers"
	"github.com/danghamo/geotrack/internal/platform"
	"github.com/danghamo/geotrack/internal/remote"
	"github.com/danghamo/geotrack/pkg/authx"
	"github.com/danghamo/geotrack/pkg/config"
	"github.com/danghamo/geotrack/pkg/logger"
	"github.com/danghamo/geotrack/pkg/redisx"
	"github.com/danghamo/geotrack/pkg/sqlitex"
	"github.com/danghamo/geotrack/pkg/sse"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to a geotrack.yaml config file")
	issueToken := flag.String("issue-token", "", "print a control API token for this subject and exit")
	tokenName := flag.String("token-name", "", "display name carried by an issued token")
	flag.Parse()

	// Initialize configuration and logger
	cfg, log, err := config.InitializeFrom(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	// Ensure logger is flushed on exit
	defer func() {
		_ = log.Sync()
	}()

	if *issueToken != "" {
		if err := printToken(cfg, *issueToken, *tokenName); err != nil {
			log.Error("Failed to issue token", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	log.Info("Starting geotrack agent",
		zap.String("version", version),
		zap.String("environment", cfg.Agent.Environment),
	)

	if err := run(cfg, log); err != nil {
		log.Error("Agent error", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Agent gracefully stopped")
}

func printToken(cfg *config.Config, subject, name string) error {
	if !cfg.API.AuthEnabled() {
		return errors.New("api.jwt_secret is not set")
	}
	token, err := authx.NewJWTService(cfg.API.JWTSecret, cfg.API.JWTIssuer, cfg.API.JWTExpiration).GenerateToken(subject, name)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func run(cfg *config.Config, log *logger.Logger) error {
	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := openStores(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer stores.close(log)

	bus, err := openBus(cfg.Events, log, stores)
	if err != nil {
		return err
	}

	provider, err := newProvider(cfg.Provider)
	if err != nil {
		return err
	}
	host := platform.NewProcessHost(cfg.Agent.StatusFile, log)

	engine := syncer.NewEngine(
		stores.queue,
		stores.settings,
		remote.NewClient(cfg.Sync.ConnectTimeout, cfg.Sync.ResponseTimeout, log),
		bus,
		log,
	)

	lifecycle := capture.NewLifecycle(capture.Dependencies{
		Settings:     stores.settings,
		Queue:        stores.queue,
		Provider:     provider,
		Host:         host,
		Connectivity: platform.InterfaceConnectivity{},
		Publisher:    bus,
	}, log)

	tracking := bridge.New(lifecycle, stores.settings, stores.queue, provider, engine, log)

	var (
		broadcaster *sse.SSEBroadcaster
		sseHandler  *eventhandlers.SSEEventHandler
	)
	if cfg.API.Enabled {
		broadcaster = sse.NewSSEBroadcaster(log)
		sseHandler = eventhandlers.NewSSEEventHandler(broadcaster, log)
	}

	// Handlers must be registered before the router runs
	err = bus.AddHandlers(eventhandlers.EventHandlers(eventhandlers.NewSyncTriggerHandler(engine, log), sseHandler)...)
	if err != nil {
		return fmt.Errorf("failed to register event handlers: %w", err)
	}

	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		if err := bus.Run(ctx); err != nil {
			log.Error("Event router error", zap.Error(err))
		}
	}()
	select {
	case <-bus.Running():
	case <-busDone:
		return errors.New("event router stopped before it was running")
	}

	// Restart hook: pick tracking back up if it was on when the process last ran
	if resumed, err := lifecycle.Resume(ctx); err != nil {
		log.Error("Failed to resume tracking", zap.Error(err))
	} else if resumed {
		log.Info("Tracking resumed from persisted state")
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	go func() {
		for sig := range signals {
			if sig == syscall.SIGHUP {
				// the stand-in for the OS killing background work
				host.Revoke()
				continue
			}
			log.Info("Shutting down agent...", zap.String("signal", sig.String()))
			cancel()
			return
		}
	}()

	if cfg.API.Enabled {
		var jwtService *authx.JWTService
		if cfg.API.AuthEnabled() {
			jwtService = authx.NewJWTService(cfg.API.JWTSecret, cfg.API.JWTIssuer, cfg.API.JWTExpiration)
		}

		server, err := api.NewServer(api.ServerConfig{
			Host:            cfg.API.Host,
			Port:            cfg.API.Port,
			ReadTimeout:     cfg.API.ReadTimeout,
			WriteTimeout:    cfg.API.WriteTimeout,
			IdleTimeout:     cfg.API.IdleTimeout,
			RateLimitPerSec: cfg.API.RateLimitPerSec,
			RateLimitBurst:  cfg.API.RateLimitBurst,
		}, api.Dependencies{
			Tracking:     tracking,
			Broadcaster:  broadcaster,
			JWT:          jwtService,
			HealthChecks: stores.health,
		}, log)
		if err != nil {
			cancel()
		} else if err = server.Start(ctx); err != nil {
			cancel()
		}
		shutdown(log, lifecycle, engine, bus, busDone)
		return err
	}

	<-ctx.Done()
	shutdown(log, lifecycle, engine, bus, busDone)
	return nil
}

// shutdown ends capture without persisting, stops the bus so no handler can
// trigger another pass, then lets an in-flight pass finish before stores close
func shutdown(log *logger.Logger, lifecycle *capture.Lifecycle, engine *syncer.Engine, bus *events.Bus, busDone <-chan struct{}) {
	lifecycle.Shutdown()

	if err := bus.Close(); err != nil {
		log.Warn("Failed to close event bus", zap.Error(err))
	}
	<-busDone

	engine.Wait()
}

type storeSet struct {
	queue    position.Queue
	settings settings.Store
	health   map[string]api.HealthChecker
	closers  []func() error
}

func (s *storeSet) close(log *logger.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Warn("Failed to close store", zap.Error(err))
		}
	}
}

func openStores(ctx context.Context, cfg config.StoreConfig, log *logger.Logger) (*storeSet, error) {
	set := &storeSet{health: map[string]api.HealthChecker{}}

	switch cfg.Driver {
	case "redis":
		client, err := redisx.NewClient(cfg.RedisURL, log, redisx.WithNamespace(cfg.Namespace))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis store: %w", err)
		}
		set.closers = append(set.closers, client.Close)
		set.health["redis"] = client
		set.queue = position.NewRedisQueue(client, log)
		set.settings = settings.NewRedisStore(client)

	default:
		db, err := sqlitex.Open(cfg.SQLitePath, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		set.closers = append(set.closers, db.Close)
		set.health["sqlite"] = db

		queue, err := position.NewSQLiteQueue(ctx, db, log)
		if err != nil {
			set.close(log)
			return nil, err
		}
		prefs, err := settings.NewSQLiteStore(ctx, db)
		if err != nil {
			set.close(log)
			return nil, err
		}
		set.queue, set.settings = queue, prefs
	}
	return set, nil
}

// openBus builds the event bus; the redisstream driver gets its own client closed with the stores
func openBus(cfg config.EventsConfig, log *logger.Logger, stores *storeSet) (*events.Bus, error) {
	busCfg := events.Config{
		Driver:        cfg.Driver,
		ConsumerGroup: cfg.ConsumerGroup,
		BufferSize:    cfg.BufferSize,
	}

	if cfg.Driver == events.DriverRedisStream {
		client, err := redisx.NewClient(cfg.RedisURL, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis events transport: %w", err)
		}
		stores.closers = append(stores.closers, client.Close)
		stores.health["events"] = client
		busCfg.RedisClient = client.Client
	}

	bus, err := events.NewBus(busCfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}
	return bus, nil
}

func newProvider(cfg config.ProviderConfig) (platform.PositionProvider, error) {
	if cfg.Driver == "replay" {
		points, err := platform.LoadReplayFile(cfg.ReplayFile)
		if err != nil {
			return nil, err
		}
		return platform.NewReplayProvider(points), nil
	}
	return platform.NewFixedProvider(cfg.Latitude, cfg.Longitude, cfg.Accuracy, cfg.PermissionGranted), nil
}
