package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/memeindex/internal/domain"
	"github.com/timmy/memeindex/internal/repository"
	"github.com/timmy/memeindex/internal/service"
)

// MemeHandler handles meme-related endpoints.
type MemeHandler struct {
	memeService    *service.MemeService
	processor      *service.Processor
	maxUploadBytes int64
}

// NewMemeHandler creates a new meme handler.
// Parameters:
//   - memeService: meme read/edit/upload service.
//   - processor: processing state machine for single-item generation.
//   - maxUploadMB: upload size cap in megabytes; <= 0 means 20.
//
// Returns:
//   - *MemeHandler: initialized handler.
func NewMemeHandler(memeService *service.MemeService, processor *service.Processor, maxUploadMB int) *MemeHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 20
	}
	return &MemeHandler{
		memeService:    memeService,
		processor:      processor,
		maxUploadBytes: int64(maxUploadMB) << 20,
	}
}

// ListMemesResponse is one page of memes.
type ListMemesResponse struct {
	Results []domain.Meme `json:"results"`
	Total   int64         `json:"total"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
}

// ListMemes handles GET /api/v1/memes.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *MemeHandler) ListMemes(c *gin.Context) {
	filter, err := parseMemeFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}

	memes, total, err := h.memeService.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	if memes == nil {
		memes = []domain.Meme{}
	}
	c.JSON(http.StatusOK, ListMemesResponse{
		Results: memes,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	})
}

func parseMemeFilter(c *gin.Context) (repository.MemeFilter, error) {
	filter := repository.MemeFilter{
		Status: domain.MemeStatus(c.Query("status")),
		Folder: c.Query("folder"),
	}
	if v := c.Query("starred"); v != "" {
		starred, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("%w: starred must be a boolean", domain.ErrValidation)
		}
		filter.Starred = &starred
	}
	var err error
	if filter.Limit, err = intQuery(c, "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = intQuery(c, "offset"); err != nil {
		return filter, err
	}
	return filter, filter.Validate()
}

func intQuery(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrValidation, key)
	}
	return n, nil
}

// GetMeme handles GET /api/v1/memes/:id.
func (h *MemeHandler) GetMeme(c *gin.Context) {
	meme, err := h.memeService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meme)
}

// UpdateMeme handles PATCH /api/v1/memes/:id.
func (h *MemeHandler) UpdateMeme(c *gin.Context) {
	var edit domain.MemeEdit
	if err := c.ShouldBindJSON(&edit); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	meme, err := h.memeService.Edit(c.Request.Context(), c.Param("id"), edit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meme)
}

// DeleteMeme handles DELETE /api/v1/memes/:id.
func (h *MemeHandler) DeleteMeme(c *gin.Context) {
	if err := h.memeService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Generate handles POST /api/v1/memes/:id/generate.
func (h *MemeHandler) Generate(c *gin.Context) {
	meme, err := h.processor.Generate(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meme)
}

// Upload handles POST /api/v1/memes/upload with a multipart "file" field.
func (h *MemeHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "Missing or oversized file field: "+err.Error())
		return
	}
	f, err := header.Open()
	if err != nil {
		respondError(c, fmt.Errorf("%w: open upload: %w", domain.ErrIO, err))
		return
	}
	defer f.Close()

	meme, err := h.memeService.Upload(c.Request.Context(), header.Filename, f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, meme)
}

// Folders handles GET /api/v1/folders.
func (h *MemeHandler) Folders(c *gin.Context) {
	folders, err := h.memeService.Folders(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if folders == nil {
		folders = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"folders": folders,
		"total":   len(folders),
	})
}

// Stats handles GET /api/v1/stats.
func (h *MemeHandler) Stats(c *gin.Context) {
	counts, err := h.memeService.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}
