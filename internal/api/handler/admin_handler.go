package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/memeindex/internal/service"
)

// AdminHandler handles scanning, batch processing and maintenance.
type AdminHandler struct {
	scanner   *service.Scanner
	processor *service.Processor
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - scanner: directory scanner.
//   - processor: processing state machine.
//
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(scanner *service.Scanner, processor *service.Processor) *AdminHandler {
	return &AdminHandler{
		scanner:   scanner,
		processor: processor,
	}
}

// ScanRequest represents the scan API request. Roots are optional.
type ScanRequest struct {
	Roots []string `json:"roots"`
}

// ScanResponse is returned when a scan was started.
type ScanResponse struct {
	Started  bool                 `json:"started"`
	Progress service.ScanProgress `json:"progress"`
}

// CountResponse carries the number of rows a reset changed.
type CountResponse struct {
	Count int64 `json:"count"`
}

// TriggerScan handles POST /api/v1/scan. The scan runs in the background.
func (h *AdminHandler) TriggerScan(c *gin.Context) {
	var req ScanRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request: "+err.Error())
			return
		}
	}

	progress, err := h.scanner.Start(c.Request.Context(), req.Roots...)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ScanResponse{Started: true, Progress: progress})
}

// ScanStatus handles GET /api/v1/scan/status.
func (h *AdminHandler) ScanStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scanner.Progress())
}

// GenerateBatch handles POST /api/v1/generate and waits for the batch.
func (h *AdminHandler) GenerateBatch(c *gin.Context) {
	result, err := h.processor.GenerateBatch(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GenerateStatus handles GET /api/v1/generate/status.
func (h *AdminHandler) GenerateStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.processor.BatchProgress())
}

// ResetProcessing handles POST /api/v1/reset/processing.
func (h *AdminHandler) ResetProcessing(c *gin.Context) {
	count, err := h.processor.ResetProcessing(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: count})
}

// ResetErrors handles POST /api/v1/reset/errors.
func (h *AdminHandler) ResetErrors(c *gin.Context) {
	count, err := h.processor.ResetErrors(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: count})
}

// Cleanup handles POST /api/v1/cleanup.
func (h *AdminHandler) Cleanup(c *gin.Context) {
	result, err := h.processor.Cleanup(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
