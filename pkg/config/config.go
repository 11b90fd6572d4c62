package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the agent configuration
type Config struct {
	Agent    AgentConfig    `mapstructure:"agent"`
	Store    StoreConfig    `mapstructure:"store"`
	Events   EventsConfig   `mapstructure:"events"`
	API      APIConfig      `mapstructure:"api"`
	Provider ProviderConfig `mapstructure:"provider"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Log      LogConfig      `mapstructure:"log"`
}

// AgentConfig holds process-level settings
type AgentConfig struct {
	Environment string `mapstructure:"environment"`
	// StatusFile is where the execution host writes the visible tracking indicator
	StatusFile string `mapstructure:"status_file"`
}

// StoreConfig selects the durable backend for the position queue and prefs
type StoreConfig struct {
	Driver     string `mapstructure:"driver"` // sqlite or redis
	SQLitePath string `mapstructure:"sqlite_path"`
	RedisURL   string `mapstructure:"redis_url"`
	Namespace  string `mapstructure:"namespace"`
}

// EventsConfig selects the transport for internal tracking events
type EventsConfig struct {
	Driver        string `mapstructure:"driver"` // gochannel or redisstream
	RedisURL      string `mapstructure:"redis_url"`
	ConsumerGroup string `mapstructure:"consumer_group"`
	BufferSize    int64  `mapstructure:"buffer_size"`
}

// APIConfig holds the local control API settings
type APIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	JWTIssuer       string        `mapstructure:"jwt_issuer"`
	JWTExpiration   time.Duration `mapstructure:"jwt_expiration"`
	RateLimitPerSec float64       `mapstructure:"rate_limit_per_sec"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
}

// ProviderConfig selects the position provider implementation
type ProviderConfig struct {
	Driver            string  `mapstructure:"driver"` // fixed or replay
	Latitude          float64 `mapstructure:"latitude"`
	Longitude         float64 `mapstructure:"longitude"`
	Accuracy          float64 `mapstructure:"accuracy"`
	ReplayFile        string  `mapstructure:"replay_file"`
	PermissionGranted bool    `mapstructure:"permission_granted"`
}

// SyncConfig holds upload timeouts
type SyncConfig struct {
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
	Encoding    string `mapstructure:"encoding"`
}

// Load loads configuration from .env, environment variables and config files
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file; an empty path searches the default locations
func LoadFrom(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("geotrack")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/geotrack")
	}

	v.SetEnvPrefix("GEOTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, continue with env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.environment", "development")
	v.SetDefault("agent.status_file", "")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "geotrack.db")
	v.SetDefault("store.redis_url", "redis://localhost:6379/0")
	v.SetDefault("store.namespace", "geotrack")

	v.SetDefault("events.driver", "gochannel")
	v.SetDefault("events.redis_url", "redis://localhost:6379/0")
	v.SetDefault("events.consumer_group", "geotrackd")
	v.SetDefault("events.buffer_size", 256)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8787)
	v.SetDefault("api.read_timeout", "15s")
	v.SetDefault("api.write_timeout", "15s")
	v.SetDefault("api.idle_timeout", "60s")
	v.SetDefault("api.jwt_secret", "")
	v.SetDefault("api.jwt_issuer", "geotrackd")
	v.SetDefault("api.jwt_expiration", "720h")
	v.SetDefault("api.rate_limit_per_sec", 10.0)
	v.SetDefault("api.rate_limit_burst", 20)

	v.SetDefault("provider.driver", "fixed")
	v.SetDefault("provider.latitude", 0.0)
	v.SetDefault("provider.longitude", 0.0)
	v.SetDefault("provider.accuracy", 5.0)
	v.SetDefault("provider.replay_file", "")
	v.SetDefault("provider.permission_granted", true)

	v.SetDefault("sync.connect_timeout", "10s")
	v.SetDefault("sync.response_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "development")
	v.SetDefault("log.encoding", "console")
}

// validateConfig validates the loaded configuration
func validateConfig(cfg *Config) error {
	if !contains([]string{"sqlite", "redis"}, cfg.Store.Driver) {
		return fmt.Errorf("invalid store driver: %s", cfg.Store.Driver)
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.SQLitePath == "" {
		return fmt.Errorf("store sqlite_path cannot be empty")
	}
	if cfg.Store.Driver == "redis" && cfg.Store.RedisURL == "" {
		return fmt.Errorf("store redis_url cannot be empty")
	}

	if !contains([]string{"gochannel", "redisstream"}, cfg.Events.Driver) {
		return fmt.Errorf("invalid events driver: %s", cfg.Events.Driver)
	}
	if cfg.Events.Driver == "redisstream" && cfg.Events.RedisURL == "" {
		return fmt.Errorf("events redis_url cannot be empty")
	}

	if cfg.API.Enabled {
		if cfg.API.Port < 1 || cfg.API.Port > 65535 {
			return fmt.Errorf("invalid api port: %d", cfg.API.Port)
		}
		if cfg.API.Host == "" {
			return fmt.Errorf("api host cannot be empty")
		}
		if cfg.API.JWTSecret != "" && len(cfg.API.JWTSecret) < 8 {
			return fmt.Errorf("JWT secret must be at least 8 characters long")
		}
		if cfg.API.RateLimitPerSec <= 0 {
			return fmt.Errorf("api rate limit must be positive")
		}
	}

	if !contains([]string{"fixed", "replay"}, cfg.Provider.Driver) {
		return fmt.Errorf("invalid provider driver: %s", cfg.Provider.Driver)
	}
	if cfg.Provider.Driver == "replay" && cfg.Provider.ReplayFile == "" {
		return fmt.Errorf("provider replay_file is required for the replay driver")
	}
	if cfg.Provider.Latitude < -90 || cfg.Provider.Latitude > 90 {
		return fmt.Errorf("provider latitude out of range: %f", cfg.Provider.Latitude)
	}
	if cfg.Provider.Longitude < -180 || cfg.Provider.Longitude > 180 {
		return fmt.Errorf("provider longitude out of range: %f", cfg.Provider.Longitude)
	}

	if cfg.Sync.ConnectTimeout <= 0 || cfg.Sync.ResponseTimeout <= 0 {
		return fmt.Errorf("sync timeouts must be positive")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, cfg.Log.Level) {
		return fmt.Errorf("invalid log level: %s", cfg.Log.Level)
	}

	validEncodings := []string{"json", "console"}
	if !contains(validEncodings, cfg.Log.Encoding) {
		return fmt.Errorf("invalid log encoding: %s", cfg.Log.Encoding)
	}

	return nil
}

// GetAddr returns the control API address in host:port format
func (a *APIConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// AuthEnabled reports whether the control API requires a bearer token
func (a *APIConfig) AuthEnabled() bool {
	return a.JWTSecret != ""
}

// IsProduction returns true if the environment is production
func (a *AgentConfig) IsProduction() bool {
	return strings.ToLower(a.Environment) == "production"
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
