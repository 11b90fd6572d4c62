package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danghamo/geotrack/internal/api/jsonrpcx"
	"github.com/danghamo/geotrack/internal/api/middleware"
	"github.com/danghamo/geotrack/pkg/logger"
)

const (
	heartbeatInterval = 30 * time.Second
	cleanupInterval   = 30 * time.Second
	staleAfter        = 2 * heartbeatInterval
)

// SSEClient represents a connected SSE client
type SSEClient struct {
	ID       string
	UserID   string
	Writer   http.ResponseWriter
	Flusher  http.Flusher
	Done     chan struct{}
	LastSeen time.Time
	mutex    sync.Mutex // serializes writes to this client
	doneOnce sync.Once
}

// close waits for any in-flight write, so nothing touches Writer once the
// handler that owns it has returned
func (c *SSEClient) close() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.doneOnce.Do(func() { close(c.Done) })
}

func (c *SSEClient) lastSeen() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.LastSeen
}

// SSEBroadcaster fans JSON-RPC notifications out to every connected status stream
type SSEBroadcaster struct {
	logger    *logger.Logger
	clients   map[string]*SSEClient
	mutex     sync.RWMutex
	broadcast chan []byte
	cleanup   *time.Ticker
	shutdown  chan struct{}
	closeOnce sync.Once
}

// NewSSEBroadcaster creates a new SSE broadcaster
func NewSSEBroadcaster(logger *logger.Logger) *SSEBroadcaster {
	broadcaster := &SSEBroadcaster{
		logger:    logger.WithComponent("sse-broadcaster"),
		clients:   make(map[string]*SSEClient),
		broadcast: make(chan []byte, 1000),
		cleanup:   time.NewTicker(cleanupInterval),
		shutdown:  make(chan struct{}),
	}

	go broadcaster.broadcastLoop()
	go broadcaster.cleanupLoop()

	return broadcaster
}

// AddClient adds a new SSE client
func (b *SSEBroadcaster) AddClient(client *SSEClient) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.clients[client.ID] = client

	b.logger.Debug("SSE client connected",
		zap.String("clientId", client.ID),
		zap.String("userId", client.UserID))
}

// RemoveClient removes an SSE client
func (b *SSEBroadcaster) RemoveClient(clientID string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	client, exists := b.clients[clientID]
	if !exists {
		return
	}
	client.close()
	delete(b.clients, clientID)

	b.logger.Debug("SSE client disconnected",
		zap.String("clientId", clientID),
		zap.String("userId", client.UserID))
}

// BroadcastToAll sends a JSON-RPC notification to all connected clients
func (b *SSEBroadcaster) BroadcastToAll(notification jsonrpcx.JsonRpcNotification) {
	data, err := json.Marshal(notification)
	if err != nil {
		b.logger.Error("Failed to marshal JSON-RPC notification", zap.Error(err))
		return
	}

	select {
	case <-b.shutdown:
		return
	default:
	}

	select {
	case b.broadcast <- data:
	default:
		b.logger.Warn("Broadcast channel full, dropping message",
			zap.String("method", notification.Method))
	}
}

// broadcastLoop handles broadcasting messages to all connected clients
func (b *SSEBroadcaster) broadcastLoop() {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in broadcastLoop", zap.Any("panic", r))
			go b.broadcastLoop()
		}
	}()

	for {
		select {
		case <-b.shutdown:
			b.logger.Debug("Broadcast loop shutting down")
			return
		case data := <-b.broadcast:
			for _, client := range b.snapshot() {
				select {
				case <-client.Done:
					b.RemoveClient(client.ID)
				default:
					if err := b.sendToClient(client, data); err != nil {
						b.logger.Warn("Failed to send to client",
							zap.String("clientId", client.ID),
							zap.Error(err))
						b.RemoveClient(client.ID)
					}
				}
			}
		}
	}
}

func (b *SSEBroadcaster) snapshot() []*SSEClient {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	clients := make([]*SSEClient, 0, len(b.clients))
	for _, client := range b.clients {
		clients = append(clients, client)
	}
	return clients
}

// sendToClient writes one SSE frame to a client
func (b *SSEBroadcaster) sendToClient(client *SSEClient, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic recovered: %v", r)
		}
	}()

	if client.Writer == nil || client.Flusher == nil {
		return fmt.Errorf("client %s has no writer", client.ID)
	}

	client.mutex.Lock()
	defer client.mutex.Unlock()

	select {
	case <-client.Done:
		return fmt.Errorf("client connection closed")
	default:
	}

	// single write per frame to avoid chunk splitting
	frame := fmt.Sprintf("data: %s\n\n", data)
	n, err := client.Writer.Write([]byte(frame))
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("incomplete write: wrote %d/%d bytes", n, len(frame))
	}

	client.Flusher.Flush()
	client.LastSeen = time.Now()
	return nil
}

// cleanupLoop removes connections that have not been written to recently
func (b *SSEBroadcaster) cleanupLoop() {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in cleanupLoop", zap.Any("panic", r))
			go b.cleanupLoop()
		}
	}()

	for {
		select {
		case <-b.shutdown:
			return
		case now := <-b.cleanup.C:
			for _, client := range b.snapshot() {
				if now.Sub(client.lastSeen()) > staleAfter {
					b.logger.Debug("Removing stale SSE client", zap.String("clientId", client.ID))
					b.RemoveClient(client.ID)
				}
			}
		}
	}
}

// GetClientCount returns the number of connected clients
func (b *SSEBroadcaster) GetClientCount() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.clients)
}

// Close shuts down the broadcaster and disconnects every client
func (b *SSEBroadcaster) Close() {
	b.closeOnce.Do(func() {
		b.logger.Debug("Shutting down SSE broadcaster")

		close(b.shutdown)
		b.cleanup.Stop()

		b.mutex.Lock()
		defer b.mutex.Unlock()

		for _, client := range b.clients {
			client.close()
		}
		b.clients = make(map[string]*SSEClient)
	})
}

// HandleSSE streams tracking notifications to the caller until it disconnects
func (b *SSEBroadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		userID = "anonymous"
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		b.logger.Error("SSE: Client does not support flusher interface")
		http.Error(w, "Server-Sent Events not supported", http.StatusInternalServerError)
		return
	}

	// the stream outlives the server write timeout
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		b.logger.Debug("SSE: write deadline not adjustable", zap.Error(err))
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := &SSEClient{
		ID:       uuid.NewString(),
		UserID:   userID,
		Writer:   w,
		Flusher:  flusher,
		Done:     make(chan struct{}),
		LastSeen: time.Now(),
	}

	b.AddClient(client)
	defer b.RemoveClient(client.ID)

	hello := fmt.Sprintf(`{"type":"connected","client_id":%q}`, client.ID)
	if err := b.sendToClient(client, []byte(hello)); err != nil {
		b.logger.Warn("Failed to send initial message", zap.String("clientId", client.ID), zap.Error(err))
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-client.Done:
			return
		case <-r.Context().Done():
			b.logger.Debug("SSE request context cancelled", zap.String("clientId", client.ID))
			return
		case <-b.shutdown:
			return
		case now := <-heartbeat.C:
			data := fmt.Sprintf(`{"type":"heartbeat","timestamp":%q}`, now.UTC().Format(time.RFC3339))
			if err := b.sendToClient(client, []byte(data)); err != nil {
				b.logger.Warn("Failed to send heartbeat",
					zap.String("clientId", client.ID),
					zap.Error(err))
				return
			}
		}
	}
}
