package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/geotrack/pkg/logger"
)

func TestNewBus_Drivers(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "should default to gochannel", cfg: Config{}},
		{name: "should accept gochannel", cfg: Config{Driver: DriverGoChannel, BufferSize: 8}},
		{name: "should require a redis client for redisstream", cfg: Config{Driver: DriverRedisStream}, wantErr: true},
		{name: "should reject unknown drivers", cfg: Config{Driver: "kafka"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus, err := NewBus(tt.cfg, logger.NewNop())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, bus.Close())
		})
	}
}

func runBus(t *testing.T, bus *Bus) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = bus.Close()
		<-done
	})
	<-bus.Running()
	return ctx
}

func TestBus_DeliversToEveryHandler(t *testing.T) {
	bus, err := NewBus(Config{BufferSize: 8}, logger.NewNop())
	require.NoError(t, err)

	first := make(chan *LifecycleChanged, 1)
	second := make(chan *LifecycleChanged, 1)
	require.NoError(t, bus.AddHandlers(
		cqrs.NewEventHandler("First", func(ctx context.Context, e *LifecycleChanged) error {
			first <- e
			return nil
		}),
		cqrs.NewEventHandler("Second", func(ctx context.Context, e *LifecycleChanged) error {
			second <- e
			return nil
		}),
	))

	ctx := runBus(t, bus)
	require.NoError(t, bus.Publish(ctx, &LifecycleChanged{State: "running", Reason: "start"}))

	for _, ch := range []chan *LifecycleChanged{first, second} {
		select {
		case e := <-ch:
			assert.Equal(t, "start", e.Reason)
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBus_RedisStream(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set, skipping redisstream test")
	}

	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	bus, err := NewBus(Config{
		Driver:        DriverRedisStream,
		RedisClient:   client,
		ConsumerGroup: "geotrack-test-" + time.Now().Format("150405.000"),
	}, logger.NewNop())
	require.NoError(t, err)

	got := make(chan *SyncPassCompleted, 1)
	require.NoError(t, bus.AddHandlers(cqrs.NewEventHandler("Recorder", func(ctx context.Context, e *SyncPassCompleted) error {
		select {
		case got <- e:
		default:
		}
		return nil
	})))

	ctx := runBus(t, bus)
	passID := "pass-" + time.Now().Format(time.RFC3339Nano)
	require.NoError(t, bus.Publish(ctx, &SyncPassCompleted{PassID: passID, Synced: 2}))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-got:
			if e.PassID == passID {
				assert.Equal(t, 2, e.Synced)
				return
			}
		case <-deadline:
			t.Fatal("event not delivered over redis stream")
		}
	}
}
