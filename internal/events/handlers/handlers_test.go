package handlers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/geotrack/internal/api/jsonrpcx"
	"github.com/danghamo/geotrack/internal/domain/position"
	"github.com/danghamo/geotrack/internal/events"
	"github.com/danghamo/geotrack/pkg/logger"
)

type countingTrigger struct {
	calls int32
}

func (c *countingTrigger) Trigger() {
	atomic.AddInt32(&c.calls, 1)
}

func (c *countingTrigger) count() int32 {
	return atomic.LoadInt32(&c.calls)
}

type recordingBroadcaster struct {
	mu            sync.Mutex
	notifications []jsonrpcx.JsonRpcNotification
}

func (b *recordingBroadcaster) BroadcastToAll(n jsonrpcx.JsonRpcNotification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifications = append(b.notifications, n)
}

func (b *recordingBroadcaster) byMethod(method string) []jsonrpcx.JsonRpcNotification {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []jsonrpcx.JsonRpcNotification
	for _, n := range b.notifications {
		if n.Method == method {
			out = append(out, n)
		}
	}
	return out
}

func TestSyncTriggerHandler(t *testing.T) {
	tests := []struct {
		name   string
		online bool
		want   int32
	}{
		{name: "should trigger when online", online: true, want: 1},
		{name: "should not trigger when offline", online: false, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger := &countingTrigger{}
			h := NewSyncTriggerHandler(trigger, logger.NewNop())

			err := h.HandleFixCaptured(context.Background(), &events.FixCaptured{RecordID: 1, Online: tt.online})
			require.NoError(t, err)
			assert.Equal(t, tt.want, trigger.count())
		})
	}
}

func TestSSEEventHandler_Params(t *testing.T) {
	b := &recordingBroadcaster{}
	h := NewSSEEventHandler(b, logger.NewNop())
	ctx := context.Background()

	require.NoError(t, h.HandleSyncPassCompleted(ctx, &events.SyncPassCompleted{
		PassID:    "p1",
		Attempted: 3,
		Synced:    2,
		Remaining: 1,
		Error:     "upload of record 3 failed",
	}))
	require.NoError(t, h.HandleLifecycleChanged(ctx, &events.LifecycleChanged{State: "stopped", Reason: "revoked"}))

	passes := b.byMethod(MethodSync)
	require.Len(t, passes, 1)
	params := passes[0].Params.(map[string]interface{})
	assert.Equal(t, "p1", params["pass_id"])
	assert.Equal(t, 2, params["synced"])
	assert.Equal(t, "upload of record 3 failed", params["error"])
	assert.NotContains(t, params, "skipped")

	lifecycle := b.byMethod(MethodLifecycle)
	require.Len(t, lifecycle, 1)
	assert.Equal(t, "2.0", lifecycle[0].Jsonrpc)
	assert.Equal(t, "revoked", lifecycle[0].Params.(map[string]interface{})["reason"])
}

func TestEventHandlers_WithoutSSE(t *testing.T) {
	handlers := EventHandlers(NewSyncTriggerHandler(&countingTrigger{}, logger.NewNop()), nil)

	require.Len(t, handlers, 1)
	assert.Equal(t, "SyncTriggerOnFixCaptured", handlers[0].HandlerName())
}

func TestEventHandlers_OverGoChannelBus(t *testing.T) {
	log := logger.NewNop()
	bus, err := events.NewBus(events.Config{Driver: events.DriverGoChannel, BufferSize: 16}, log)
	require.NoError(t, err)

	trigger := &countingTrigger{}
	broadcaster := &recordingBroadcaster{}
	require.NoError(t, bus.AddHandlers(EventHandlers(
		NewSyncTriggerHandler(trigger, log),
		NewSSEEventHandler(broadcaster, log),
	)...))

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

	fix := position.Fix{Latitude: 37.5, Longitude: 127, Accuracy: 4, CapturedAtMillis: 1700000000000}
	require.NoError(t, bus.Publish(ctx, &events.FixCaptured{RecordID: 1, Fix: fix, Online: true}))
	require.NoError(t, bus.Publish(ctx, &events.FixCaptured{RecordID: 2, Fix: fix, Online: false}))
	require.NoError(t, bus.Publish(ctx, &events.SyncPassCompleted{PassID: "p1", Synced: 1}))
	require.NoError(t, bus.Publish(ctx, &events.LifecycleChanged{State: "running", Reason: "start"}))

	require.Eventually(t, func() bool {
		return len(broadcaster.byMethod(MethodFix)) == 2 &&
			len(broadcaster.byMethod(MethodSync)) == 1 &&
			len(broadcaster.byMethod(MethodLifecycle)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// only the online fix asks for a pass
	require.Eventually(t, func() bool { return trigger.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), trigger.count())

	fixes := broadcaster.byMethod(MethodFix)
	online := 0
	for _, n := range fixes {
		params := n.Params.(map[string]interface{})
		assert.Equal(t, 37.5, params["latitude"])
		if params["online"] == true {
			online++
		}
	}
	assert.Equal(t, 1, online)
}
