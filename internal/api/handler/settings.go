package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/memeindex/internal/domain"
	"github.com/timmy/memeindex/internal/service"
)

// SettingsHandler exposes the key/value settings store.
type SettingsHandler struct {
	settings *service.SettingsService
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(settings *service.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// PutSettingRequest is the body of PUT /api/v1/settings/:key.
type PutSettingRequest struct {
	Value string `json:"value"`
}

// List handles GET /api/v1/settings.
func (h *SettingsHandler) List(c *gin.Context) {
	settings, err := h.settings.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if settings == nil {
		settings = []domain.Setting{}
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

// Get handles GET /api/v1/settings/:key.
func (h *SettingsHandler) Get(c *gin.Context) {
	setting, err := h.settings.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, setting)
}

// Put handles PUT /api/v1/settings/:key.
func (h *SettingsHandler) Put(c *gin.Context) {
	var req PutSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	setting, err := h.settings.Put(c.Request.Context(), c.Param("key"), req.Value)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, setting)
}
