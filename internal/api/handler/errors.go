package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/memeindex/internal/domain"
	"github.com/timmy/memeindex/internal/logger"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindIO:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with the status that matches its kind.
func respondError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).WithError(err).Error("Request failed")
	}
	c.JSON(status, ErrorResponse{
		Error:     err.Error(),
		Kind:      string(kind),
		Retryable: kind.Retryable(),
	})
}

// badRequest reports a malformed request body or query.
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: msg,
		Kind:  string(domain.KindValidation),
	})
}
