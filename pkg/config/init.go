package config

import (
	"fmt"

	"github.com/danghamo/geotrack/pkg/logger"
)

// Initialize loads configuration and sets up the global logger
func Initialize() (*Config, *logger.Logger, error) {
	return InitializeFrom("")
}

// InitializeFrom is Initialize with an explicit config file path
func InitializeFrom(path string) (*Config, *logger.Logger, error) {
	cfg, err := LoadFrom(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Log.Level),
		Environment: cfg.Log.Environment,
		Encoding:    cfg.Log.Encoding,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logger.SetGlobalLogger(appLogger)

	fields := map[string]interface{}{
		"environment":     cfg.Agent.Environment,
		"store_driver":    cfg.Store.Driver,
		"events_driver":   cfg.Events.Driver,
		"provider_driver": cfg.Provider.Driver,
		"api_enabled":     cfg.API.Enabled,
		"api_auth":        cfg.API.AuthEnabled(),
		"log_level":       cfg.Log.Level,
	}
	appLogger.WithFields(fields).Info("Configuration and logger initialized successfully")

	return cfg, appLogger, nil
}
