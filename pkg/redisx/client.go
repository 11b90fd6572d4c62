package redisx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/danghamo/geotrack/pkg/logger"
)

const pingTimeout = 5 * time.Second

// Client is a redis.Client whose keys live under one namespace, so several
// agents can share a Redis instance without colliding.
type Client struct {
	*redis.Client
	namespace string
	logger    *logger.Logger
}

type ClientOption func(*Client)

// WithNamespace prefixes every key built through Key
func WithNamespace(ns string) ClientOption {
	return func(c *Client) {
		c.namespace = strings.Trim(ns, ":")
	}
}

// NewClient parses redisURL, connects and pings once before returning
func NewClient(redisURL string, log *logger.Logger, opts ...ClientOption) (*Client, error) {
	if redisURL == "" {
		return nil, errors.New("redis URL cannot be empty")
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	redisOptions, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := &Client{
		Client: redis.NewClient(redisOptions),
		logger: log.WithComponent("redisx"),
	}
	for _, opt := range opts {
		opt(client)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", redisOptions.Addr, err)
	}

	client.logger.Info("Redis connected",
		zap.String("addr", redisOptions.Addr),
		zap.Int("db", redisOptions.DB),
		zap.String("namespace", client.namespace),
	)
	return client, nil
}

// Key joins parts with ':' under the client namespace
func (c *Client) Key(parts ...string) string {
	key := strings.Join(parts, ":")
	if c.namespace == "" {
		return key
	}
	return c.namespace + ":" + key
}

func (c *Client) Close() error {
	c.logger.Info("Closing Redis connection")
	return c.Client.Close()
}

// HealthCheck pings the server; /health reports it as the "redis" check
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.timed("ping", "", func() error {
		return c.Ping(ctx).Err()
	})
}

// ReadHash returns every field of the hash at key, empty when it does not exist
func (c *Client) ReadHash(ctx context.Context, key string) (map[string]string, error) {
	var fields map[string]string
	err := c.timed("hgetall", key, func() error {
		var err error
		fields, err = c.HGetAll(ctx, key).Result()
		return err
	})
	return fields, err
}

// WriteHash sets all fields in a single HSET
func (c *Client) WriteHash(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	return c.timed("hset", key, func() error {
		return c.HSet(ctx, key, values...).Err()
	})
}

func (c *Client) timed(op, key string, fn func() error) error {
	start := time.Now()
	err := fn()
	fields := []zap.Field{
		zap.String("op", op),
		zap.Duration("duration", time.Since(start)),
	}
	if key != "" {
		fields = append(fields, zap.String("key", key))
	}

	if err != nil {
		c.logger.Error("Redis command failed", append(fields, zap.Error(err))...)
		return err
	}
	c.logger.Debug("Redis command", fields...)
	return nil
}
