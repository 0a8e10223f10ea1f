package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/cropconsult/backend/internal/models"
	"github.com/cropconsult/backend/internal/sessions"
	"github.com/cropconsult/backend/internal/signaling"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client represents a single WebSocket connection of one participant.
type Client struct {
	ID        string // socket id
	SessionID string // empty until join-session
	UserID    string
	Role      models.ParticipantRole
	JoinedAt  time.Time

	hub         *Hub
	registry    *sessions.Registry
	coordinator *signaling.Coordinator
	conn        *websocket.Conn
	send        chan WSMessage
	done        chan struct{}
	closeOnce   sync.Once
	logger      *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop. A
// session_id query parameter joins the session immediately; otherwise the
// client joins later with a join-session message.
func ServeWs(hub *Hub, registry *sessions.Registry, coordinator *signaling.Coordinator, logger *zap.Logger, jwtValidate func(token string) (userID, role string, err error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		userID, role, err := jwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:          uuid.New().String(),
			UserID:      userID,
			Role:        participantRole(role),
			JoinedAt:    time.Now(),
			hub:         hub,
			registry:    registry,
			coordinator: coordinator,
			conn:        conn,
			send:        make(chan WSMessage, 256),
			done:        make(chan struct{}),
			logger:      logger,
		}
		go client.writePump()
		if sessionID := c.Query("session_id"); sessionID != "" {
			client.joinSession(sessionID)
		}
		client.readPump()
	}
}

// participantRole maps a token role onto the session roster role. The
// registry promotes the session creator regardless of what is passed here.
func participantRole(tokenRole string) models.ParticipantRole {
	switch tokenRole {
	case "expert", "admin":
		return models.RoleExpert
	default:
		return models.RoleObserver
	}
}

func (c *Client) readPump() {
	defer func() {
		c.leaveSession()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg WSMessage) {
	switch msg.Event {
	case "join-session":
		var payload struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.SessionID == "" {
			c.sendError("session_id required")
			return
		}
		c.joinSession(payload.SessionID)

	case "leave-session":
		c.leaveSession()

	case "workspace-update":
		if c.SessionID == "" {
			c.sendError("join a session first")
			return
		}
		var payload struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError("invalid workspace update")
			return
		}
		ev, err := c.registry.AppendWorkspaceEvent(c.SessionID, c.UserID, models.WorkspaceEventType(payload.Type), payload.Data)
		if err != nil {
			c.sendError(registryErrorMessage(err))
			return
		}
		c.hub.PublishToOthers(c.SessionID, c.ID, "workspace-updated", map[string]interface{}{
			"session_id": c.SessionID,
			"event":      ev,
		})

	case "recommendation":
		if c.SessionID == "" {
			c.sendError("join a session first")
			return
		}
		if c.Role == models.RoleObserver {
			c.sendError("observers cannot submit recommendations")
			return
		}
		var payload struct {
			ID          string            `json:"id"`
			Title       string            `json:"title"`
			Description string            `json:"description"`
			Confidence  float64           `json:"confidence"`
			Metadata    map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.Title == "" {
			c.sendError("recommendation title required")
			return
		}
		if payload.Confidence < 0 || payload.Confidence > 1 {
			c.sendError("confidence must be between 0 and 1")
			return
		}
		id := payload.ID
		if id == "" {
			id = sessions.NewRecommendationID()
		}
		rec, err := c.registry.AddRecommendation(c.SessionID, models.Recommendation{
			ID:          id,
			ExpertID:    c.UserID,
			Title:       payload.Title,
			Description: payload.Description,
			Confidence:  payload.Confidence,
			Metadata:    payload.Metadata,
		})
		if err != nil {
			c.sendError(registryErrorMessage(err))
			return
		}
		c.hub.PublishToSession(c.SessionID, "recommendation-added", map[string]interface{}{
			"session_id":     c.SessionID,
			"recommendation": rec,
		})

	case "network-quality":
		var q models.NetworkQuality
		if err := json.Unmarshal(msg.Data, &q); err != nil {
			c.sendError("invalid network quality report")
			return
		}
		settings := c.coordinator.ReportQuality(c.SessionID, c.UserID, q)
		c.deliver("media-settings", settings)

	case "webrtc-offer", "webrtc-answer":
		if c.SessionID == "" {
			c.sendError("join a session first")
			return
		}
		var payload struct {
			Target string `json:"target"`
			SDP    string `json:"sdp"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.SDP == "" {
			c.sendError("invalid signaling payload")
			return
		}
		var err error
		if msg.Event == "webrtc-offer" {
			sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: payload.SDP}
			err = c.coordinator.RelayOffer(c.SessionID, c.UserID, payload.Target, sdp)
		} else {
			sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: payload.SDP}
			err = c.coordinator.RelayAnswer(c.SessionID, c.UserID, payload.Target, sdp)
		}
		if err != nil {
			c.sendError("peer unavailable")
		}

	case "webrtc-ice":
		if c.SessionID == "" {
			c.sendError("join a session first")
			return
		}
		var payload struct {
			Target        string `json:"target"`
			Candidate     string `json:"candidate"`
			SDPMid        string `json:"sdp_mid"`
			SDPMLineIndex uint16 `json:"sdp_mline_index"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.Candidate == "" {
			c.sendError("invalid signaling payload")
			return
		}
		cand := webrtc.ICECandidateInit{
			Candidate:     payload.Candidate,
			SDPMid:        lo.ToPtr(payload.SDPMid),
			SDPMLineIndex: lo.ToPtr(payload.SDPMLineIndex),
		}
		if err := c.coordinator.RelayICECandidate(c.SessionID, c.UserID, payload.Target, cand); err != nil {
			c.sendError("peer unavailable")
		}

	case "peer-connected":
		var payload struct {
			Peer string `json:"peer"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.Peer == "" {
			return
		}
		if err := c.coordinator.PeerConnected(c.SessionID, c.UserID, payload.Peer); err != nil {
			c.sendError("peer unavailable")
		}

	case "negotiation-failed":
		var payload struct {
			Peer   string `json:"peer"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.Peer == "" {
			return
		}
		if err := c.coordinator.NegotiationFailed(c.SessionID, c.UserID, payload.Peer, payload.Reason); err != nil {
			c.sendError("peer unavailable")
		}

	case "ping":
		c.deliver("pong", nil)

	default:
		// ignore
	}
}

// joinSession registers the participant, replies with the current session
// snapshot and announces the join to everyone else.
func (c *Client) joinSession(sessionID string) {
	if c.SessionID == sessionID {
		c.sendSnapshot()
		return
	}
	if c.SessionID != "" {
		c.leaveSession()
	}

	p, err := c.registry.AddParticipant(sessionID, models.Participant{
		UserID:   c.UserID,
		SocketID: c.ID,
		Role:     c.Role,
	})
	if err != nil {
		c.sendError(registryErrorMessage(err))
		return
	}
	c.SessionID = sessionID
	c.Role = p.Role
	c.hub.Register(c)
	c.sendSnapshot()
	c.hub.PublishToOthers(sessionID, c.ID, "participant-joined", map[string]interface{}{
		"session_id":  sessionID,
		"participant": p,
	})
}

// leaveSession removes the participant from the roster and announces the
// departure. Safe to call when the client never joined.
func (c *Client) leaveSession() {
	if c.SessionID == "" {
		return
	}
	sessionID := c.SessionID
	c.SessionID = ""

	c.registry.RemoveParticipant(sessionID, c.UserID)
	c.coordinator.ReleaseUser(sessionID, c.UserID)
	c.hub.Unregister(c)

	// A session torn down by close already said goodbye to everyone.
	snap, err := c.registry.Get(sessionID)
	if err != nil || snap.Status != models.SessionActive {
		return
	}
	c.hub.PublishToOthers(sessionID, c.ID, "participant-left", map[string]interface{}{
		"session_id": sessionID,
		"user_id":    c.UserID,
	})
}

// sendSnapshot replies with the full session state so a joining or rejoining
// client can rebuild its workspace from the log.
func (c *Client) sendSnapshot() {
	snap, err := c.registry.Get(c.SessionID)
	if err != nil {
		c.sendError(registryErrorMessage(err))
		return
	}
	c.deliver("session-state", map[string]interface{}{
		"session":     snap,
		"ice_servers": c.coordinator.ICEServers(),
	})
}

// deliver enqueues a message straight onto this connection, bypassing room
// lookup so it also works before the client has joined a session.
func (c *Client) deliver(event string, payload interface{}) {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return
		}
	}
	select {
	case c.send <- WSMessage{Event: event, Data: data}:
	default:
		c.logger.Warn("delivery failed, recipient buffer full",
			zap.String("socket_id", c.ID),
			zap.String("event", event),
		)
	}
}

func (c *Client) sendError(message string) {
	c.deliver("error", map[string]string{"message": message})
}

// shutdown enqueues a final message and signals the write pump to drain and
// close the connection. Only the hub calls this, after the client is out of
// its room.
func (c *Client) shutdown(msg WSMessage) {
	c.closeOnce.Do(func() {
		select {
		case c.send <- msg:
		default:
		}
		close(c.done)
	})
}

func registryErrorMessage(err error) string {
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound):
		return "session not found"
	case errors.Is(err, sessions.ErrSessionClosed):
		return "session is closed"
	case errors.Is(err, sessions.ErrDuplicateRecommendation):
		return "recommendation id already exists"
	case errors.Is(err, sessions.ErrInvalidEventType):
		return "invalid workspace event type"
	default:
		return "operation failed"
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			// Flush what is already buffered, then close the socket.
			for {
				select {
				case msg := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
					if err := c.conn.WriteJSON(msg); err != nil {
						return
					}
				default:
					_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
