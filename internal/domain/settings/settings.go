package settings

import (
	"context"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/danghamo/geotrack/internal/domain/shared"
	"github.com/danghamo/geotrack/pkg/logger"
)

const (
	DefaultIntervalMillis        int64   = 30000
	DefaultMinDisplacementMeters float64 = 10
)

// Pref keys as laid out in the flat key/value store
const (
	KeyAPIURL          = "apiUrl"
	KeyAuthToken       = "authToken"
	KeyEmployeeID      = "employeeId"
	KeyTenantID        = "tenantId"
	KeyInterval        = "interval"
	KeyDistance        = "distance"
	KeyTrackingRunning = "isTrackingRunning"
)

// TrackingConfig is everything capture and sync need from durable prefs
type TrackingConfig struct {
	APIURL                string  `json:"apiUrl" validate:"omitempty,url"`
	AuthToken             string  `json:"authToken"`
	EmployeeID            string  `json:"employeeId"`
	TenantID              string  `json:"tenantId"`
	IntervalMillis        int64   `json:"interval" validate:"gt=0"`
	MinDisplacementMeters float64 `json:"distance" validate:"gte=0"`
	TrackingEnabled       bool    `json:"isTrackingRunning"`
}

var validate = validator.New()

// Defaults returns the config used when nothing has been stored yet
func Defaults() TrackingConfig {
	return TrackingConfig{
		IntervalMillis:        DefaultIntervalMillis,
		MinDisplacementMeters: DefaultMinDisplacementMeters,
	}
}

// Validate checks field constraints
func (c TrackingConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return shared.WrapDomainError(err, shared.CodeInvalidInput, "invalid tracking config")
	}
	return nil
}

// CanSync reports whether the upload target is fully configured
func (c TrackingConfig) CanSync() bool {
	return c.APIURL != "" && c.AuthToken != "" && c.EmployeeID != ""
}

// ToPrefs encodes the config as flat string prefs
func (c TrackingConfig) ToPrefs() map[string]string {
	return map[string]string{
		KeyAPIURL:          c.APIURL,
		KeyAuthToken:       c.AuthToken,
		KeyEmployeeID:      c.EmployeeID,
		KeyTenantID:        c.TenantID,
		KeyInterval:        strconv.FormatInt(c.IntervalMillis, 10),
		KeyDistance:        strconv.FormatFloat(c.MinDisplacementMeters, 'f', -1, 64),
		KeyTrackingRunning: strconv.FormatBool(c.TrackingEnabled),
	}
}

// FromPrefs decodes prefs; missing or unparsable values take their defaults
func FromPrefs(prefs map[string]string) TrackingConfig {
	c := Defaults()
	c.APIURL = prefs[KeyAPIURL]
	c.AuthToken = prefs[KeyAuthToken]
	c.EmployeeID = prefs[KeyEmployeeID]
	c.TenantID = prefs[KeyTenantID]

	if v, err := strconv.ParseInt(prefs[KeyInterval], 10, 64); err == nil && v > 0 {
		c.IntervalMillis = v
	}
	if v, err := strconv.ParseFloat(prefs[KeyDistance], 64); err == nil && v >= 0 {
		c.MinDisplacementMeters = v
	}
	if v, err := strconv.ParseBool(prefs[KeyTrackingRunning]); err == nil {
		c.TrackingEnabled = v
	}
	return c
}

// Store persists TrackingConfig. Every call reads or writes durable storage.
type Store interface {
	// Load returns the stored config, with defaults for absent keys
	Load(ctx context.Context) (TrackingConfig, error)
	// Save writes every field atomically
	Save(ctx context.Context, cfg TrackingConfig) error
	// SetTrackingEnabled writes only the tracking flag
	SetTrackingEnabled(ctx context.Context, enabled bool) error
}

// LoadOrDefault loads the config, falling back to defaults on a read failure
func LoadOrDefault(ctx context.Context, store Store, log *logger.Logger) TrackingConfig {
	cfg, err := store.Load(ctx)
	if err != nil {
		if log != nil {
			log.Warn("Failed to read tracking config, using defaults", zap.Error(err))
		}
		return Defaults()
	}
	return cfg
}
