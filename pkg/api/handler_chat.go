package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/forgesight/forgesight/pkg/stream"
)

// ChatRequest is the body of both chat endpoints.
type ChatRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message" binding:"required"`
}

// handleChat runs one turn and streams the trace as server-sent events.
// Exactly one final or error event terminates the stream.
func (s *Server) handleChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "message is required")
		return
	}
	release, ok := s.acquireTurnSlot()
	if !ok {
		tooManyTurns(c)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	bus := stream.NewBus(uuid.NewString(), 0)
	done := make(chan struct{})
	started := time.Now()
	go func() {
		defer release()
		defer close(done)
		defer func() { metricTurnDuration.Observe(time.Since(started).Seconds()) }()
		// Errors surface on the bus; the stream is the response.
		_, _ = s.supervisor.HandleTurn(c.Request.Context(), req.ThreadID, req.Message, bus)
	}()

	if err := stream.RenderSSE(c.Writer, c.Writer, bus.Events()); err != nil {
		s.logger.Debug("client disconnected mid-stream", "error", err)
	}
	<-done
}

// handleChatSync runs one turn and returns the final answer as JSON.
// The trace events are consumed and discarded.
func (s *Server) handleChatSync(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "message is required")
		return
	}
	release, ok := s.acquireTurnSlot()
	if !ok {
		tooManyTurns(c)
		return
	}
	defer release()

	bus := stream.NewBus(uuid.NewString(), 0)
	go func() {
		for range bus.Events() {
		}
	}()

	started := time.Now()
	defer func() { metricTurnDuration.Observe(time.Since(started).Seconds()) }()
	result, err := s.supervisor.HandleTurn(c.Request.Context(), req.ThreadID, req.Message, bus)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
