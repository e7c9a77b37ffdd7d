package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forgesight/forgesight/pkg/models"
	"github.com/forgesight/forgesight/pkg/pipelines"
)

const defaultSearchLimit = 10

type prepRequest struct {
	DeveloperName  string `json:"developer_name" binding:"required"`
	ManagerContext string `json:"manager_context"`
}

func (s *Server) handlePrepOneOnOne(c *gin.Context) {
	var req prepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "developer_name is required")
		return
	}
	result, err := s.prep.Prepare(c.Request.Context(), req.DeveloperName, req.ManagerContext)
	if err != nil {
		respondError(c, err)
		return
	}
	if result.Status == pipelines.StatusNotFound {
		c.JSON(http.StatusNotFound, ErrorResponse{
			ErrorCode: codeNotFound,
			Message:   "no developer matches " + req.DeveloperName,
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

type anomaliesRequest struct {
	ProjectID    string `json:"project_id"`
	DaysCurrent  int    `json:"days_current"`
	DaysBaseline int    `json:"days_baseline"`
}

func (s *Server) handleAnomalies(c *gin.Context) {
	var req anomaliesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	result, err := s.anomalies.Detect(c.Request.Context(), req.ProjectID, req.DaysCurrent, req.DaysBaseline)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type findExpertsRequest struct {
	Query string `json:"query" binding:"required"`
	Mode  string `json:"mode"`
	Limit int    `json:"limit"`
}

func (s *Server) handleFindExperts(c *gin.Context) {
	var req findExpertsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "query is required")
		return
	}
	if req.Mode != "" && req.Mode != "quick" && req.Mode != "full" {
		respondBadRequest(c, "mode must be quick or full")
		return
	}
	result, err := s.experts.Run(c.Request.Context(), req.Query, req.Mode != "quick")
	if err != nil {
		respondError(c, err)
		return
	}
	if req.Limit > 0 && req.Limit < len(result.FusedRanking) {
		result.FusedRanking = result.FusedRanking[:req.Limit]
	}
	c.JSON(http.StatusOK, result)
}

type searchRequest struct {
	Query string `json:"query" binding:"required"`
	Type  string `json:"type"`
	Limit int    `json:"limit"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "query is required")
		return
	}
	embeddingType := models.EmbeddingType(req.Type)
	if req.Type != "" && !embeddingType.Valid() {
		respondBadRequest(c, "unknown embedding type "+req.Type)
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	vector, err := s.embedder.EmbedOne(c.Request.Context(), req.Query)
	if err != nil {
		respondError(c, err)
		return
	}
	matches, err := s.vectors.SearchSimilar(c.Request.Context(), vector, embeddingType, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": req.Query, "matches": matches})
}

type doraRequest struct {
	ProjectID string `json:"project_id"`
	Days      int    `json:"days"`
}

func (s *Server) handleDORAMetrics(c *gin.Context) {
	var req doraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	metrics, err := s.dora.DeploymentMetrics(c.Request.Context(), req.ProjectID, req.Days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": metrics})
}
