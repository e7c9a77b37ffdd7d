// Package api is the HTTP surface: chat (SSE and sync), thread CRUD,
// feature endpoints, webhook receivers, health, and metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forgesight/forgesight/pkg/agent"
	"github.com/forgesight/forgesight/pkg/ingest"
	"github.com/forgesight/forgesight/pkg/memory"
	"github.com/forgesight/forgesight/pkg/models"
	"github.com/forgesight/forgesight/pkg/pipelines"
	"github.com/forgesight/forgesight/pkg/stream"
)

// DefaultMaxConcurrentTurns bounds in-flight agent turns before the API
// starts shedding load with 429s.
const DefaultMaxConcurrentTurns = 16

type turnHandler interface {
	HandleTurn(ctx context.Context, threadID, userMessage string, bus *stream.Bus) (*agent.TurnResult, error)
}

type enqueuer interface {
	TryEnqueue(job ingest.Job) error
}

type prepPipeline interface {
	Prepare(ctx context.Context, developerName, managerContext string) (*pipelines.OneOnOneResult, error)
}

type anomalyPipeline interface {
	Detect(ctx context.Context, projectID string, daysCurrent, daysBaseline int) (*pipelines.AnomalyResult, error)
}

type expertPipeline interface {
	Run(ctx context.Context, query string, explain bool) (*pipelines.GraphRAGResult, error)
}

type queryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

type vectorSearcher interface {
	SearchSimilar(ctx context.Context, query []float32, embeddingType models.EmbeddingType, k int) ([]models.SimilarityMatch, error)
}

type doraSource interface {
	DeploymentMetrics(ctx context.Context, projectID string, days int) ([]models.DeploymentMetrics, error)
}

// Pinger is the health-check surface a backing store exposes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the handlers to the runtime pieces behind them.
type Server struct {
	supervisor turnHandler
	threads    memory.Store
	pipeline   enqueuer
	secrets    map[string]string

	prep      prepPipeline
	anomalies anomalyPipeline
	experts   expertPipeline
	embedder  queryEmbedder
	vectors   vectorSearcher
	dora      doraSource

	// stores pinged by the health endpoint, keyed by display name
	stores map[string]Pinger

	turnSlots chan struct{}
	logger    *slog.Logger
}

// Options carries the handler dependencies; every field is required
// unless noted.
type Options struct {
	Supervisor turnHandler
	Threads    memory.Store
	Ingest     enqueuer
	// WebhookSecrets maps source name → shared HMAC secret.
	WebhookSecrets map[string]string

	Prep      prepPipeline
	Anomalies anomalyPipeline
	Experts   expertPipeline
	Embedder  queryEmbedder
	Vectors   vectorSearcher
	DORA      doraSource

	Stores map[string]Pinger

	// MaxConcurrentTurns defaults to DefaultMaxConcurrentTurns.
	MaxConcurrentTurns int
	Logger             *slog.Logger
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	slots := opts.MaxConcurrentTurns
	if slots <= 0 {
		slots = DefaultMaxConcurrentTurns
	}
	return &Server{
		supervisor: opts.Supervisor,
		threads:    opts.Threads,
		pipeline:   opts.Ingest,
		secrets:    opts.WebhookSecrets,
		prep:       opts.Prep,
		anomalies:  opts.Anomalies,
		experts:    opts.Experts,
		embedder:   opts.Embedder,
		vectors:    opts.Vectors,
		dora:       opts.DORA,
		stores:     opts.Stores,
		turnSlots:  make(chan struct{}, slots),
		logger:     opts.Logger.With("component", "api"),
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	api := r.Group("/api")
	{
		api.POST("/chat", s.handleChat)
		api.POST("/chat/sync", s.handleChatSync)

		api.POST("/threads", s.handleCreateThread)
		api.GET("/threads", s.handleListThreads)
		api.GET("/threads/:id", s.handleGetThread)
		api.DELETE("/threads/:id", s.handleDeleteThread)

		api.POST("/prep/1on1", s.handlePrepOneOnOne)
		api.POST("/anomalies", s.handleAnomalies)
		api.POST("/experts/find", s.handleFindExperts)
		api.POST("/search", s.handleSearch)
		api.POST("/metrics/dora", s.handleDORAMetrics)

		api.GET("/health", s.handleHealth)
	}

	r.POST("/webhooks/:source", s.handleWebhook)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Request.URL.Path == "/api/health" || c.Request.URL.Path == "/metrics" {
			return
		}
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status())
	}
}

// acquireTurnSlot reserves an agent-turn slot, or reports exhaustion.
func (s *Server) acquireTurnSlot() (release func(), ok bool) {
	select {
	case s.turnSlots <- struct{}{}:
		return func() { <-s.turnSlots }, true
	default:
		return nil, false
	}
}

func tooManyTurns(c *gin.Context) {
	c.Header("Retry-After", "5")
	c.JSON(http.StatusTooManyRequests, ErrorResponse{
		ErrorCode: codeBackpressure,
		Message:   "too many concurrent turns, retry later",
	})
}
