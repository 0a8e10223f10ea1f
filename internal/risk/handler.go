package risk

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cropconsult/backend/internal/weather"
	"github.com/cropconsult/backend/pkg/response"
)

// AssessRequest is the body for POST /risk/assess.
type AssessRequest struct {
	Readings []weather.Reading `json:"readings" binding:"required"`
	Timezone string            `json:"timezone"`
}

// Handler handles risk HTTP endpoints.
type Handler struct{}

// NewHandler creates a risk handler.
func NewHandler() *Handler {
	return &Handler{}
}

// Assess handles POST /risk/assess.
func (h *Handler) Assess(c *gin.Context) {
	var req AssessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if len(req.Readings) == 0 {
		response.BadRequest(c, "at least one reading required")
		return
	}

	report, err := Assess(req.Readings, req.Timezone, time.Now())
	switch {
	case errors.Is(err, weather.ErrOutOfRange):
		response.BadRequest(c, err.Error())
		return
	case errors.Is(err, weather.ErrUnknownTimezone):
		response.BadRequest(c, err.Error())
		return
	case err != nil:
		response.Internal(c, "risk assessment failed")
		return
	}
	response.OK(c, report)
}
