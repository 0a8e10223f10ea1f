package sessions

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cropconsult/backend/internal/middleware"
	"github.com/cropconsult/backend/internal/models"
	"github.com/cropconsult/backend/pkg/response"
)

// Broadcaster is the slice of the realtime hub the session handlers need:
// pushing registry changes out to connected participants on every instance.
type Broadcaster interface {
	PublishToSession(sessionID, event string, data interface{})
}

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	ID    string `json:"id"`
	Title string `json:"title" binding:"required"`
}

// RecommendationRequest is the body for POST /sessions/:id/recommendations.
type RecommendationRequest struct {
	ID          string            `json:"id"`
	Title       string            `json:"title" binding:"required"`
	Description string            `json:"description"`
	Confidence  float64           `json:"confidence"`
	Metadata    map[string]string `json:"metadata"`
}

// Handler handles session HTTP endpoints.
type Handler struct {
	registry *Registry
	hub      Broadcaster
	logger   *zap.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(registry *Registry, hub Broadcaster, logger *zap.Logger) *Handler {
	return &Handler{registry: registry, hub: hub, logger: logger}
}

// Create handles POST /sessions. The caller becomes the session creator; when
// no id is supplied the server generates one.
func (h *Handler) Create(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(string)

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	id := req.ID
	if id == "" {
		id = NewSessionID()
	}

	summary, err := h.registry.Create(id, req.Title, userID)
	switch {
	case errors.Is(err, ErrDuplicateSession):
		response.Conflict(c, "session id already exists")
		return
	case err != nil:
		response.Internal(c, "session create failed")
		return
	}
	response.Created(c, summary)
}

// List handles GET /sessions.
func (h *Handler) List(c *gin.Context) {
	response.OK(c, gin.H{"sessions": h.registry.List()})
}

// Get handles GET /sessions/:id and returns the full session snapshot,
// including closed sessions that have not been evicted yet.
func (h *Handler) Get(c *gin.Context) {
	snap, err := h.registry.Get(c.Param("id"))
	if err != nil {
		response.NotFound(c, "session not found")
		return
	}
	response.OK(c, snap)
}

// Close handles DELETE /sessions/:id. Only the creator or an admin may close;
// closing an already-closed session succeeds without effect.
func (h *Handler) Close(c *gin.Context) {
	sessionID := c.Param("id")
	userID := c.MustGet(middleware.ContextUserID).(string)
	role := c.MustGet(middleware.ContextUserRole).(string)

	snap, err := h.registry.Get(sessionID)
	if err != nil {
		response.NotFound(c, "session not found")
		return
	}
	if snap.CreatorID != userID && role != "admin" {
		response.Forbidden(c, "only the session creator may close it")
		return
	}
	if err := h.registry.Close(sessionID); err != nil {
		response.NotFound(c, "session not found")
		return
	}
	response.OK(c, gin.H{"id": sessionID, "status": models.SessionClosed})
}

// AddRecommendation handles POST /sessions/:id/recommendations. Recommendations
// submitted over HTTP are fanned out to connected participants the same way
// realtime submissions are.
func (h *Handler) AddRecommendation(c *gin.Context) {
	sessionID := c.Param("id")
	userID := c.MustGet(middleware.ContextUserID).(string)
	role := c.MustGet(middleware.ContextUserRole).(string)

	if role != "expert" && role != "admin" {
		snap, err := h.registry.Get(sessionID)
		if err != nil {
			response.NotFound(c, "session not found")
			return
		}
		if snap.CreatorID != userID {
			response.Forbidden(c, "only experts or the session creator may submit recommendations")
			return
		}
	}

	var req RecommendationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		response.BadRequest(c, "confidence must be between 0 and 1")
		return
	}
	id := req.ID
	if id == "" {
		id = NewRecommendationID()
	}

	rec, err := h.registry.AddRecommendation(sessionID, models.Recommendation{
		ID:          id,
		ExpertID:    userID,
		Title:       req.Title,
		Description: req.Description,
		Confidence:  req.Confidence,
		Metadata:    req.Metadata,
	})
	switch {
	case errors.Is(err, ErrSessionNotFound):
		response.NotFound(c, "session not found")
		return
	case errors.Is(err, ErrSessionClosed):
		response.Conflict(c, "session is closed")
		return
	case errors.Is(err, ErrDuplicateRecommendation):
		response.Conflict(c, "recommendation id already exists")
		return
	}

	if h.hub != nil {
		h.hub.PublishToSession(sessionID, "recommendation-added", map[string]interface{}{
			"session_id":     sessionID,
			"recommendation": rec,
		})
	}
	response.Created(c, rec)
}

// Analytics handles GET /sessions/:id/analytics.
func (h *Handler) Analytics(c *gin.Context) {
	stats, err := h.registry.Analytics(c.Param("id"))
	if err != nil {
		response.NotFound(c, "session not found")
		return
	}
	response.OK(c, stats)
}
