package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat (seconds).
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains studio_id -> set of dashboard connections and broadcasts studio events.
// Uses Redis pub/sub for horizontal scaling: local broadcast + publish to Redis.
type Hub struct {
	// studioID -> map[clientID]*Client
	studios  map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func() // cancel Redis subscription per studio
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishStudioEvent(studioID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to studio channels and invokes handler for events from other instances.
type RedisSubscriber interface {
	SubscribeStudio(studioID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	return &Hub{
		studios:  make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to a studio room. Starts the Redis subscription for this studio if first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.studios[c.StudioID] == nil {
		h.studios[c.StudioID] = make(map[string]*Client)
		if h.redisSub != nil {
			studioID := c.StudioID
			cancel, err := h.redisSub.SubscribeStudio(studioID, func(event string, payload []byte) {
				h.BroadcastToStudio(studioID, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[studioID] = cancel
			} else {
				h.logger.Warn("redis subscribe failed", zap.String("studio_id", studioID.String()), zap.Error(err))
			}
		}
	}
	h.studios[c.StudioID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client joined studio", zap.String("client_id", c.ID), zap.String("studio_id", c.StudioID.String()))
}

// Unregister removes a client from a studio room. Cancels the Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.studios[c.StudioID]; ok {
		if _, present := m[c.ID]; present {
			delete(m, c.ID)
			close(c.send)
		}
		if len(m) == 0 {
			delete(h.studios, c.StudioID)
			if cancel, ok := h.subs[c.StudioID]; ok {
				cancel()
				delete(h.subs, c.StudioID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client left studio", zap.String("client_id", c.ID), zap.String("studio_id", c.StudioID.String()))
}

func encode(payload interface{}) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}

// BroadcastToStudio sends a message to all clients in a studio (local only).
func (h *Hub) BroadcastToStudio(studioID uuid.UUID, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		h.logger.Warn("encode event failed", zap.String("event", event), zap.Error(err))
		return
	}
	h.deliver(studioID, WSMessage{Event: event, Data: data})
}

func (h *Hub) deliver(studioID uuid.UUID, msg WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.studios[studioID] {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// BroadcastToStudioAndPublish sends to local clients and publishes to Redis for other instances.
func (h *Hub) BroadcastToStudioAndPublish(studioID uuid.UUID, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		h.logger.Warn("encode event failed", zap.String("event", event), zap.Error(err))
		return
	}
	h.deliver(studioID, WSMessage{Event: event, Data: data})
	if h.redis != nil {
		if err := h.redis.PublishStudioEvent(studioID, event, data); err != nil {
			h.logger.Debug("redis publish failed", zap.String("event", event), zap.Error(err))
		}
	}
}

// ClientCount returns the number of connected dashboards in a studio.
func (h *Hub) ClientCount(studioID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.studios[studioID])
}

// SendToClient sends a message to a single client in a studio (for WebRTC signaling).
func (h *Hub) SendToClient(studioID uuid.UUID, clientID string, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.studios[studioID][clientID]
	if !ok || c == nil {
		return
	}
	select {
	case c.send <- WSMessage{Event: event, Data: data}:
	default:
	}
}
