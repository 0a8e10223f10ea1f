package inference

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/cropconsult/backend/pkg/response"
)

// DiagnoseHTTPRequest is the body for POST /inference/diagnose.
type DiagnoseHTTPRequest struct {
	ImageBase64 string `json:"image_base64" binding:"required"`
	Crop        string `json:"crop"`
	Notes       string `json:"notes"`
}

// Handler handles inference HTTP endpoints.
type Handler struct {
	client *Client
}

// NewHandler creates an inference handler.
func NewHandler(client *Client) *Handler {
	return &Handler{client: client}
}

// Diagnose handles POST /inference/diagnose.
func (h *Handler) Diagnose(c *gin.Context) {
	var req DiagnoseHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.client.Diagnose(c.Request.Context(), DiagnoseRequest{
		ImageBase64: req.ImageBase64,
		Crop:        req.Crop,
		Notes:       req.Notes,
	})
	if errors.Is(err, ErrUnavailable) {
		response.BadGateway(c, "diagnosis unavailable, try again later")
		return
	}
	if err != nil {
		response.Internal(c, "diagnosis failed")
		return
	}
	response.OK(c, result)
}
