package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type createThreadRequest struct {
	Title string `json:"title" binding:"required"`
}

func (s *Server) handleCreateThread(c *gin.Context) {
	var req createThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "title is required")
		return
	}
	thread, err := s.threads.NewThread(c.Request.Context(), req.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, thread)
}

func (s *Server) handleListThreads(c *gin.Context) {
	threads, err := s.threads.ListThreads(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

func (s *Server) handleGetThread(c *gin.Context) {
	thread, err := s.threads.GetThread(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, thread)
}

func (s *Server) handleDeleteThread(c *gin.Context) {
	if err := s.threads.DeleteThread(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
