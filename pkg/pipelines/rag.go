// Package pipelines holds the bounded LLM workflows the specialists
// invoke as tools: self-correcting RAG, Graph-RAG expert fusion, 1:1
// preparation, anomaly detection, and guarded NL-to-query translation.
package pipelines

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/forgesight/forgesight/pkg/llm"
	"github.com/forgesight/forgesight/pkg/models"
)

// MaxRAGRetries bounds the rewrite loop.
const MaxRAGRetries = 2

// DefaultRetrievalK is the k-NN fan-out per retrieve step.
const DefaultRetrievalK = 6

// Terminal statuses shared by the pipelines. A run that produced an
// answer is done even when the grounding check flags it; the
// is_hallucinated field carries that detail.
const (
	StatusDone      = "done"
	StatusNoContext = "no_context"
)

type vectorSearcher interface {
	SearchSimilar(ctx context.Context, query []float32, embeddingType models.EmbeddingType, k int) ([]models.SimilarityMatch, error)
}

type queryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// RAGResult is the pipeline output surfaced to the agent as a tool result.
type RAGResult struct {
	Answer         string                   `json:"answer"`
	RelevantDocs   []models.SimilarityMatch `json:"relevant_docs"`
	RetryCount     int                      `json:"retry_count"`
	IsHallucinated bool                     `json:"is_hallucinated"`
	Status         string                   `json:"status"`
}

// RAGConfig carries the model split: a fast model for grading, rewriting,
// and the hallucination check, a stronger model for answer generation.
type RAGConfig struct {
	FastModel   string
	StrongModel string
	TopK        int
}

// RAGPipeline is the self-correcting retrieval loop:
// retrieve -> grade -> (rewrite and loop | generate) -> hallucination check.
type RAGPipeline struct {
	store    vectorSearcher
	embedder queryEmbedder
	client   llm.Client
	cfg      RAGConfig
	logger   *slog.Logger
}

func NewRAGPipeline(store vectorSearcher, embedder queryEmbedder, client llm.Client, cfg RAGConfig, logger *slog.Logger) *RAGPipeline {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultRetrievalK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RAGPipeline{store: store, embedder: embedder, client: client, cfg: cfg, logger: logger.With("pipeline", "rag")}
}

// Run executes the loop for one question. embeddingType narrows retrieval
// to one index partition; empty searches everything.
func (p *RAGPipeline) Run(ctx context.Context, question string, embeddingType models.EmbeddingType) (*RAGResult, error) {
	query := question
	result := &RAGResult{Status: StatusNoContext}

	for {
		docs, err := p.retrieve(ctx, query, embeddingType)
		if err != nil {
			return nil, err
		}

		relevant, err := p.grade(ctx, question, docs)
		if err != nil {
			return nil, err
		}

		if len(relevant) == 0 {
			if result.RetryCount >= MaxRAGRetries {
				result.Answer = "I could not find any relevant context for this question in the knowledge base."
				return result, nil
			}
			query, err = p.rewrite(ctx, question, query, docs)
			if err != nil {
				return nil, err
			}
			result.RetryCount++
			p.logger.Debug("query rewritten after irrelevant retrieval",
				"retry", result.RetryCount, "rewritten", query)
			continue
		}

		answer, err := p.generate(ctx, question, relevant)
		if err != nil {
			return nil, err
		}

		grounded, err := p.checkGrounding(ctx, answer, relevant)
		if err != nil {
			return nil, err
		}
		if grounded {
			result.Answer = answer
			result.RelevantDocs = relevant
			result.Status = StatusDone
			return result, nil
		}

		if result.RetryCount >= MaxRAGRetries {
			result.Answer = answer
			result.RelevantDocs = relevant
			result.IsHallucinated = true
			result.Status = StatusDone
			return result, nil
		}
		query, err = p.rewrite(ctx, question, query, relevant)
		if err != nil {
			return nil, err
		}
		result.RetryCount++
		p.logger.Debug("answer ungrounded, retrying with rewritten query",
			"retry", result.RetryCount)
	}
}

func (p *RAGPipeline) retrieve(ctx context.Context, query string, embeddingType models.EmbeddingType) ([]models.SimilarityMatch, error) {
	vec, err := p.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	docs, err := p.store.SearchSimilar(ctx, vec, embeddingType, p.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("failed to search vector index: %w", err)
	}
	return docs, nil
}

// grade asks the fast model which documents actually bear on the question
// and returns the relevant subset.
func (p *RAGPipeline) grade(ctx context.Context, question string, docs []models.SimilarityMatch) ([]models.SimilarityMatch, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	var b strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i, d.Title, snippet(d.Content, 600))
	}
	resp, err := p.client.Complete(ctx, &llm.Request{
		Model: p.cfg.FastModel,
		System: "You grade retrieved documents for relevance. Reply with a JSON array " +
			"of the zero-based indices of documents that contain information useful " +
			"for answering the question. Reply with [] if none do. No other text.",
		Messages: []llm.Message{{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("Question: %s\n\nDocuments:\n%s", question, b.String()),
		}},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to grade documents: %w", err)
	}

	indices, err := parseIndexArray(resp.Text)
	if err != nil {
		// An unparseable grade means we cannot trust the filter; keep
		// everything rather than dropping real context.
		p.logger.Warn("unparseable grading response, keeping all documents", "response", snippet(resp.Text, 120))
		return docs, nil
	}
	var relevant []models.SimilarityMatch
	for _, idx := range indices {
		if idx >= 0 && idx < len(docs) {
			relevant = append(relevant, docs[idx])
		}
	}
	return relevant, nil
}

func (p *RAGPipeline) rewrite(ctx context.Context, question, previous string, docs []models.SimilarityMatch) (string, error) {
	var b strings.Builder
	for _, d := range docs {
		fmt.Fprintf(&b, "- %s\n", d.Title)
	}
	resp, err := p.client.Complete(ctx, &llm.Request{
		Model: p.cfg.FastModel,
		System: "You reformulate search queries. Given the original question, the " +
			"previous query, and the titles it retrieved, write one better search " +
			"query. Reply with the query text only.",
		Messages: []llm.Message{{
			Role: models.RoleUser,
			Content: fmt.Sprintf("Question: %s\nPrevious query: %s\nRetrieved titles:\n%s",
				question, previous, b.String()),
		}},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("failed to rewrite query: %w", err)
	}
	rewritten := strings.TrimSpace(resp.Text)
	if rewritten == "" {
		return previous, nil
	}
	return rewritten, nil
}

func (p *RAGPipeline) generate(ctx context.Context, question string, docs []models.SimilarityMatch) (string, error) {
	var b strings.Builder
	for _, d := range docs {
		fmt.Fprintf(&b, "## %s\n%s\n\n", d.Title, d.Content)
	}
	resp, err := p.client.Complete(ctx, &llm.Request{
		Model: p.cfg.StrongModel,
		System: "Answer the question using ONLY the provided context. If the context " +
			"does not contain the answer, say so. Cite document titles when you use them.",
		Messages: []llm.Message{{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("Context:\n%s\nQuestion: %s", b.String(), question),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// checkGrounding verifies every factual claim in the answer is supported
// by the retrieved snippets.
func (p *RAGPipeline) checkGrounding(ctx context.Context, answer string, docs []models.SimilarityMatch) (bool, error) {
	var b strings.Builder
	for _, d := range docs {
		fmt.Fprintf(&b, "## %s\n%s\n\n", d.Title, snippet(d.Content, 800))
	}
	resp, err := p.client.Complete(ctx, &llm.Request{
		Model: p.cfg.FastModel,
		System: "You verify answers against source material. Reply \"grounded\" if " +
			"every factual claim in the answer is supported by the sources, " +
			"otherwise reply \"ungrounded\". One word only.",
		Messages: []llm.Message{{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("Sources:\n%s\nAnswer:\n%s", b.String(), answer),
		}},
		Temperature: 0,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check grounding: %w", err)
	}
	verdict := strings.ToLower(strings.TrimSpace(resp.Text))
	return strings.HasPrefix(verdict, "grounded"), nil
}

// parseIndexArray reads a JSON int array, tolerating surrounding prose.
func parseIndexArray(s string) ([]int, error) {
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in %q", snippet(s, 80))
	}
	var indices []int
	if err := json.Unmarshal([]byte(s[start:end+1]), &indices); err != nil {
		return nil, fmt.Errorf("failed to parse index array: %w", err)
	}
	return indices, nil
}

func snippet(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
