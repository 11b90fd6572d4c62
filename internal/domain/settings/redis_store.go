package settings

import (
	"context"
	"strconv"

	"github.com/danghamo/geotrack/internal/domain/shared"
	"github.com/danghamo/geotrack/pkg/redisx"
)

// RedisStore implements Store on a single hash at {ns}:prefs
type RedisStore struct {
	client *redisx.Client
}

// NewRedisStore creates a Redis backed prefs store
func NewRedisStore(client *redisx.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) key() string {
	return s.client.Key("prefs")
}

func (s *RedisStore) Load(ctx context.Context) (TrackingConfig, error) {
	prefs, err := s.client.ReadHash(ctx, s.key())
	if err != nil {
		return TrackingConfig{}, shared.ErrStorage(err, "load_prefs")
	}
	return FromPrefs(prefs), nil
}

// Save writes all fields in one HSET, which Redis applies atomically
func (s *RedisStore) Save(ctx context.Context, cfg TrackingConfig) error {
	if err := s.client.WriteHash(ctx, s.key(), cfg.ToPrefs()); err != nil {
		return shared.ErrStorage(err, "save_prefs")
	}
	return nil
}

func (s *RedisStore) SetTrackingEnabled(ctx context.Context, enabled bool) error {
	if err := s.client.WriteHash(ctx, s.key(), map[string]string{KeyTrackingRunning: strconv.FormatBool(enabled)}); err != nil {
		return shared.ErrStorage(err, "save_prefs")
	}
	return nil
}
