package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forgesight/forgesight/pkg/ingest"
	"github.com/forgesight/forgesight/pkg/memory"
	"github.com/forgesight/forgesight/pkg/storage/relational"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// Error codes on the wire.
const (
	codeInvalidInput = "invalid_input"
	codeNotFound     = "not_found"
	codeBackpressure = "backpressure"
	codeUnauthorized = "unauthorized"
	codeInternal     = "internal"
)

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, memory.ErrThreadNotFound), errors.Is(err, relational.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			ErrorCode: codeNotFound, Message: err.Error(),
		})
	case errors.Is(err, ingest.ErrQueueFull):
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			ErrorCode: codeBackpressure, Message: "ingestion queue is full, retry later",
		})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			ErrorCode: codeInternal, Message: "internal error",
		})
	}
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: codeInvalidInput, Message: message})
}
