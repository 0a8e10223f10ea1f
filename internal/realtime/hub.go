package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains session_id -> set of connections and fans session events out
// to them. Delivery is asynchronous per recipient: each client drains its own
// buffered channel, so one slow consultation participant never stalls the
// rest. Uses Redis pub/sub for horizontal scaling when configured.
type Hub struct {
	// sessionID -> map[socketID]*Client
	rooms    map[string]map[string]*Client
	subs     map[string]func() // cancel Redis subscription per session
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance
// fan-out). Origin carries the sending socket so subscribers can skip it.
type RedisPublisher interface {
	PublishSessionEvent(sessionID, origin, event string, payload []byte) error
}

// RedisSubscriber subscribes to session channels and invokes handler for
// incoming events.
type RedisSubscriber interface {
	SubscribeSession(sessionID string, handler func(origin, event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil for
// single-instance deployments.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	return &Hub{
		rooms:    make(map[string]map[string]*Client),
		subs:     make(map[string]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to a session room. Starts the Redis subscription for
// the session when the first client arrives.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	first := h.rooms[c.SessionID] == nil
	if first {
		h.rooms[c.SessionID] = make(map[string]*Client)
	}
	h.rooms[c.SessionID][c.ID] = c
	h.mu.Unlock()

	// The subscribe is a network round-trip; it must not run under the hub
	// lock or one slow Redis call stalls every room.
	if first && h.redisSub != nil {
		h.subscribeSession(c.SessionID)
	}
	h.logger.Debug("socket joined session",
		zap.String("socket_id", c.ID),
		zap.String("session_id", c.SessionID),
		zap.String("user_id", c.UserID),
	)
}

func (h *Hub) subscribeSession(sessionID string) {
	cancel, err := h.redisSub.SubscribeSession(sessionID, func(origin, event string, payload []byte) {
		h.BroadcastToOthers(sessionID, origin, event, json.RawMessage(payload))
	})
	if err != nil {
		h.logger.Warn("session subscribe failed",
			zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	// The room may have emptied, or been emptied and refilled, while the
	// subscribe was in flight; keep exactly one live subscription per room.
	h.mu.Lock()
	_, live := h.rooms[sessionID]
	_, dup := h.subs[sessionID]
	if !live || dup {
		h.mu.Unlock()
		cancel()
		return
	}
	h.subs[sessionID] = cancel
	h.mu.Unlock()
}

// Unregister removes a client from its session room. Cancels the Redis
// subscription when the last local client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.rooms[c.SessionID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.rooms, c.SessionID)
			if cancel, ok := h.subs[c.SessionID]; ok {
				cancel()
				delete(h.subs, c.SessionID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("socket left session",
		zap.String("socket_id", c.ID),
		zap.String("session_id", c.SessionID),
	)
}

// BroadcastToSession sends a message to all local clients in a session.
func (h *Hub) BroadcastToSession(sessionID, event string, payload interface{}) {
	h.BroadcastToOthers(sessionID, "", event, payload)
}

// BroadcastToOthers sends a message to all local clients in a session except
// the origin socket. An empty origin delivers to everyone. A recipient whose
// buffer is full has the event dropped; the failure is logged and the rest of
// the room is unaffected.
func (h *Hub) BroadcastToOthers(sessionID, originSocketID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	// Snapshot the recipients under the lock; the map itself keeps changing
	// as sockets join and leave.
	h.mu.RLock()
	recipients := make([]*Client, 0, len(h.rooms[sessionID]))
	for id, c := range h.rooms[sessionID] {
		if id == originSocketID {
			continue
		}
		recipients = append(recipients, c)
	}
	h.mu.RUnlock()

	for _, c := range recipients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("delivery failed, recipient buffer full",
				zap.String("session_id", sessionID),
				zap.String("socket_id", c.ID),
				zap.String("event", event),
			)
		}
	}
}

// PublishToSession delivers an event to every participant of a session across
// all instances. With Redis the event is published once and each instance's
// subscriber broadcasts it; without Redis it degrades to a local broadcast.
func (h *Hub) PublishToSession(sessionID, event string, payload interface{}) {
	h.publish(sessionID, "", event, payload)
}

// PublishToOthers is PublishToSession minus the origin socket, used for
// events a sender must never receive back.
func (h *Hub) PublishToOthers(sessionID, originSocketID, event string, payload interface{}) {
	h.publish(sessionID, originSocketID, event, payload)
}

func (h *Hub) publish(sessionID, origin, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if h.redis != nil {
		if err := h.redis.PublishSessionEvent(sessionID, origin, event, data); err == nil {
			return
		}
		h.logger.Warn("session publish failed, falling back to local broadcast",
			zap.String("session_id", sessionID), zap.String("event", event))
	}
	h.BroadcastToOthers(sessionID, origin, event, json.RawMessage(data))
}

// SendToClient sends a message to a single socket in a session.
func (h *Hub) SendToClient(sessionID, socketID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	c, ok := h.rooms[sessionID][socketID]
	h.mu.RUnlock()
	if !ok || c == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("delivery failed, recipient buffer full",
			zap.String("session_id", sessionID),
			zap.String("socket_id", socketID),
			zap.String("event", event),
		)
	}
}

// SendToUser sends a message to every socket a user currently has in the
// session. Signaling addresses participants by user id, not socket.
func (h *Hub) SendToUser(sessionID, userID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	var targets []*Client
	for _, c := range h.rooms[sessionID] {
		if c.UserID == userID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("delivery failed, recipient buffer full",
				zap.String("session_id", sessionID),
				zap.String("user_id", userID),
				zap.String("event", event),
			)
		}
	}
}

// ConnectionCount returns the number of local sockets in a session room.
func (h *Hub) ConnectionCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// CloseSession notifies every local client that the session ended and
// releases their connections. Wired as a registry close hook, so it runs for
// explicit closes and idle sweeps alike.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	room := h.rooms[sessionID]
	delete(h.rooms, sessionID)
	if cancel, ok := h.subs[sessionID]; ok {
		cancel()
		delete(h.subs, sessionID)
	}
	h.mu.Unlock()

	if len(room) == 0 {
		return
	}
	data, _ := json.Marshal(map[string]string{"session_id": sessionID})
	for _, c := range room {
		c.shutdown(WSMessage{Event: "session-closed", Data: data})
	}
	h.logger.Info("session room closed",
		zap.String("session_id", sessionID),
		zap.Int("sockets", len(room)),
	)
}
