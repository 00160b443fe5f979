package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/memeindex/internal/service"
)

const healthTimeout = 5 * time.Second

// HealthChecker reports whether the description model answers.
type HealthChecker interface {
	Health(ctx context.Context) service.HealthStatus
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	vlm HealthChecker
}

// NewHealthHandler creates a new health handler. vlm may be nil.
func NewHealthHandler(vlm HealthChecker) *HealthHandler {
	return &HealthHandler{vlm: vlm}
}

// Health returns liveness plus the description model status. The process
// is live even when the model is not, so the status code stays 200.
func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.vlm != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		vlm := h.vlm.Health(ctx)
		if !vlm.Available {
			body["status"] = "degraded"
		}
		body["vlm"] = vlm
	}
	c.JSON(http.StatusOK, body)
}
