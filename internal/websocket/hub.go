package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"bioinsight-be/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StreamChannel is the redis channel frames travel on between instances.
const StreamChannel = "bioinsight_stream"

// Frame is one message pushed to a session's sockets.
type Frame struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data,omitempty"`
}

const (
	FrameEvent       = "event"
	FrameInteraction = "interaction"
	FrameResult      = "result"
)

// InboundFunc receives messages a client sends on its socket.
type InboundFunc func(sessionID string, data []byte)

type Hub struct {
	// Registered clients: session id -> sockets (several tabs may follow one session)
	clients map[string][]*Client

	register   chan *Client
	unregister chan *Client
	// closed when Run returns
	done chan struct{}

	mu sync.RWMutex

	// Redis connection for cross-instance delivery; nil runs single-instance.
	rdb *redis.Client
	// origin tags published frames so an instance skips its own.
	origin string

	inbound InboundFunc
	logger  logger.ILogger
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[string][]*Client),
		rdb:        rdb,
		origin:     uuid.NewString(),
		logger:     log,
	}
}

// OnInbound sets the callback for client messages. Call before Run.
func (h *Hub) OnInbound(f InboundFunc) {
	h.inbound = f
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	if h.rdb != nil {
		go h.subscribeToRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.SessionID] = append(h.clients[client.SessionID], client)
			h.mu.Unlock()
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"session_id": client.SessionID})

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clients[client.SessionID]
	if !ok {
		return
	}
	for i, c := range clients {
		if c == client {
			h.clients[client.SessionID] = append(clients[:i], clients[i+1:]...)
			close(client.Send)
			break
		}
	}
	if len(h.clients[client.SessionID]) == 0 {
		delete(h.clients, client.SessionID)
		h.logger.Info("Hub", "Session has no sockets left", map[string]interface{}{"session_id": client.SessionID})
	}
}

// Send delivers frame to the session's local sockets and publishes it for
// the other instances.
func (h *Hub) Send(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("Hub", "Frame not serializable", map[string]interface{}{"error": err.Error()})
		return
	}

	h.deliver(frame.SessionID, data)

	if h.rdb != nil {
		payload, _ := json.Marshal(map[string]interface{}{
			"origin":            h.origin,
			"target_session_id": frame.SessionID,
			"message":           json.RawMessage(data),
		})
		if err := h.rdb.Publish(context.Background(), StreamChannel, payload).Err(); err != nil {
			h.logger.Warn("Hub", "Redis publish failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// Connected reports how many local sockets follow the session.
func (h *Hub) Connected(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

func (h *Hub) deliver(sessionID string, data []byte) {
	h.mu.RLock()
	clients := append([]*Client(nil), h.clients[sessionID]...)
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("Hub", "Client Send buffer full, dropping client", map[string]interface{}{"session_id": sessionID})
			go h.leave(client)
		}
	}
}

// subscribeToRedis relays frames published by other instances. Every
// instance receives every frame and keeps those for sessions it holds.
func (h *Hub) subscribeToRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, StreamChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var payload struct {
				Origin          string          `json:"origin"`
				TargetSessionID string          `json:"target_session_id"`
				Message         json.RawMessage `json:"message"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				h.logger.Warn("Hub", "Redis msg parse error", map[string]interface{}{"error": err.Error()})
				continue
			}
			if payload.Origin == h.origin {
				continue
			}
			h.deliver(payload.TargetSessionID, payload.Message)
		}
	}
}
