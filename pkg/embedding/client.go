// Package embedding generates dense vectors through the hosted inference
// API. Calls are batched, retried with exponential backoff, and guarded
// by a circuit breaker so a provider outage degrades ingestion to
// EMBED_FAILED instead of stalling the pipeline.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sony/gobreaker"

	"github.com/forgesight/forgesight/pkg/config"
)

// ErrDimensionMismatch means the provider returned vectors of a different
// dimension than the vector column was created with. This is a deployment
// misconfiguration; callers must treat it as fatal, not retryable.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Kind discriminates the two sides of asymmetric embedding models.
// Passages are indexed documents; queries are search inputs. Symmetric
// models treat both identically.
type Kind string

const (
	KindPassage Kind = "passage"
	KindQuery   Kind = "query"
)

// embeddingsAPI is the slice of the OpenAI SDK the client uses,
// extracted so tests can substitute a fake.
type embeddingsAPI interface {
	New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// Client is the batching embedding generator.
type Client struct {
	api           embeddingsAPI
	model         string
	dimension     int
	batchSize     int
	retries       int
	passagePrefix string
	queryPrefix   string
	breaker       *gobreaker.CircuitBreaker
	logger        *slog.Logger
}

// NewClient builds a client against the configured provider endpoint.
func NewClient(cfg *config.EmbeddingConfig, logger *slog.Logger) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	api := openai.NewClient(opts...)
	return newClient(&api.Embeddings, cfg, logger)
}

func newClient(api embeddingsAPI, cfg *config.EmbeddingConfig, logger *slog.Logger) *Client {
	return &Client{
		api:           api,
		model:         cfg.Model,
		dimension:     cfg.Dimension,
		batchSize:     cfg.BatchSize,
		retries:       cfg.MaxRetries,
		passagePrefix: cfg.PassagePrefix,
		queryPrefix:   cfg.QueryPrefix,
		logger:        logger.With("component", "embedding"),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "embedding-provider",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Dimension returns the configured vector dimension D.
func (c *Client) Dimension() int {
	return c.dimension
}

// Embed generates one vector per input text, preserving order. The kind
// selects the configured asymmetric prefix, if any. Inputs are split into
// provider batches of at most the configured batch size; each batch is
// retried with exponential backoff on transient failure.
func (c *Client) Embed(ctx context.Context, texts []string, kind Kind) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	texts = c.prefixed(texts, kind)
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// EmbedOne embeds a single search query. Retrieval call sites use this.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text}, KindQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedPassage embeds a single document for indexing.
func (c *Client) EmbedPassage(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text}, KindPassage)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// prefixed applies the per-kind prefix, copying so callers keep their slice.
func (c *Client) prefixed(texts []string, kind Kind) []string {
	prefix := c.passagePrefix
	if kind == KindQuery {
		prefix = c.queryPrefix
	}
	if prefix == "" {
		return texts
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = prefix + t
	}
	return out
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var vectors [][]float32

	operation := func() error {
		result, err := c.breaker.Execute(func() (any, error) {
			return c.api.New(ctx, openai.EmbeddingNewParams{
				Model: openai.EmbeddingModel(c.model),
				Input: openai.EmbeddingNewParamsInputUnion{
					OfArrayOfStrings: batch,
				},
			})
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("embedding provider unavailable: %w", err))
			}
			return fmt.Errorf("embedding request failed: %w", err)
		}

		resp := result.(*openai.CreateEmbeddingResponse)
		if len(resp.Data) != len(batch) {
			return backoff.Permanent(fmt.Errorf(
				"embedding count mismatch: sent %d texts, got %d vectors", len(batch), len(resp.Data)))
		}

		vectors = make([][]float32, len(batch))
		for _, item := range resp.Data {
			if int(item.Index) >= len(vectors) {
				return backoff.Permanent(fmt.Errorf("embedding index %d out of range", item.Index))
			}
			if len(item.Embedding) != c.dimension {
				return backoff.Permanent(fmt.Errorf("%w: expected %d, got %d",
					ErrDimensionMismatch, c.dimension, len(item.Embedding)))
			}
			vec := make([]float32, len(item.Embedding))
			for i, v := range item.Embedding {
				vec[i] = float32(v)
			}
			vectors[item.Index] = vec
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.retries)), ctx)
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("embedding batch retry", "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return vectors, nil
}
