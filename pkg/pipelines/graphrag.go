package pipelines

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/forgesight/forgesight/pkg/llm"
	"github.com/forgesight/forgesight/pkg/models"
	"github.com/forgesight/forgesight/pkg/storage/graph"
)

// Fusion weights. Semantic similarity dominates; the graph contributes
// corroborating evidence.
const (
	SemanticWeight = 0.6
	GraphWeight    = 0.4
)

// DefaultExpertLimit bounds the ranked output.
const DefaultExpertLimit = 5

// expertPrefetchLimit bounds the parallel graph-signal prefetch.
const expertPrefetchLimit = 200

type expertGraph interface {
	TopExpertSignals(ctx context.Context, limit int) (map[string]graph.ExpertSignal, error)
}

// RankedExpert is one row of the fused ranking.
type RankedExpert struct {
	EmployeeID     string              `json:"employee_id"`
	Name           string              `json:"name"`
	SemanticScore  float64             `json:"semantic_score"`
	GraphScore     float64             `json:"graph_score"`
	CombinedScore  float64             `json:"combined_score"`
	GraphSynthetic bool                `json:"graph_synthetic,omitempty"`
	Signal         *graph.ExpertSignal `json:"signal,omitempty"`
	Rationale      string              `json:"rationale,omitempty"`
	ProfileTitle   string              `json:"profile_title,omitempty"`
}

// GraphRAGResult is the pipeline output.
type GraphRAGResult struct {
	Report       string         `json:"report"`
	FusedRanking []RankedExpert `json:"fused_ranking"`
	Status       string         `json:"status"`
}

// GraphRAGConfig carries the models: explanations come from the strong
// model; there is no fast-model stage here.
type GraphRAGConfig struct {
	Model string
	TopK  int
	Limit int
}

// GraphRAGPipeline runs vector search and graph traversal in parallel,
// fuses the normalised scores, and has an LLM explain the top candidates.
type GraphRAGPipeline struct {
	vectors  vectorSearcher
	graph    expertGraph
	embedder queryEmbedder
	client   llm.Client
	cfg      GraphRAGConfig
	logger   *slog.Logger
}

func NewGraphRAGPipeline(vectors vectorSearcher, g expertGraph, embedder queryEmbedder, client llm.Client, cfg GraphRAGConfig, logger *slog.Logger) *GraphRAGPipeline {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultExpertLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphRAGPipeline{vectors: vectors, graph: g, embedder: embedder, client: client, cfg: cfg, logger: logger.With("pipeline", "graphrag")}
}

// Run produces a ranked expert report for the query. explain=false skips
// the LLM stages and returns the fused ranking alone (the quick path).
func (p *GraphRAGPipeline) Run(ctx context.Context, query string, explain bool) (*GraphRAGResult, error) {
	vec, err := p.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// Both retrieval legs run concurrently. The graph leg pre-fetches
	// signals for the most active people; vector candidates missing from
	// that set fall back to a synthetic graph score in fuseAndRank.
	var (
		matches []models.SimilarityMatch
		signals map[string]graph.ExpertSignal
	)
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		var searchErr error
		matches, searchErr = p.vectors.SearchSimilar(grpCtx, vec, models.EmbeddingDeveloperProfile, p.cfg.TopK)
		return searchErr
	})
	grp.Go(func() error {
		var graphErr error
		signals, graphErr = p.graph.TopExpertSignals(grpCtx, expertPrefetchLimit)
		return graphErr
	})
	if err := grp.Wait(); err != nil {
		return nil, fmt.Errorf("failed to run retrieval legs: %w", err)
	}
	if len(matches) == 0 {
		return &GraphRAGResult{Status: StatusNoContext, FusedRanking: []RankedExpert{}}, nil
	}

	ranking := fuseAndRank(matches, signals)
	if len(ranking) > p.cfg.Limit {
		ranking = ranking[:p.cfg.Limit]
	}

	result := &GraphRAGResult{FusedRanking: ranking, Status: StatusDone}
	if !explain {
		result.Report = plainReport(query, ranking)
		return result, nil
	}

	if err := p.explain(ctx, query, ranking); err != nil {
		return nil, err
	}
	report, err := p.synthesize(ctx, query, ranking)
	if err != nil {
		return nil, err
	}
	result.Report = report
	return result, nil
}

// fuseAndRank normalises both score families to [0,1] and combines them
// 0.6 semantic + 0.4 graph. Candidates the graph does not know get a
// synthetic graph score proportional to their semantic evidence so sparse
// graphs still yield a full ranking. Ties break on semantic score.
func fuseAndRank(matches []models.SimilarityMatch, signals map[string]graph.ExpertSignal) []RankedExpert {
	maxSim, maxGraph := 0.0, 0.0
	for _, m := range matches {
		if m.Similarity > maxSim {
			maxSim = m.Similarity
		}
		if sig, ok := signals[m.SourceID]; ok && sig.GraphScore() > maxGraph {
			maxGraph = sig.GraphScore()
		}
	}

	out := make([]RankedExpert, 0, len(matches))
	for _, m := range matches {
		e := RankedExpert{
			EmployeeID:    m.SourceID,
			Name:          displayName(m),
			ProfileTitle:  m.Title,
			SemanticScore: normalize(m.Similarity, maxSim),
		}
		if sig, ok := signals[m.SourceID]; ok {
			s := sig
			e.Signal = &s
			e.GraphScore = normalize(sig.GraphScore(), maxGraph)
		} else {
			e.GraphScore = e.SemanticScore
			e.GraphSynthetic = true
		}
		e.CombinedScore = SemanticWeight*e.SemanticScore + GraphWeight*e.GraphScore
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CombinedScore != out[j].CombinedScore {
			return out[i].CombinedScore > out[j].CombinedScore
		}
		return out[i].SemanticScore > out[j].SemanticScore
	})
	return out
}

func normalize(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return v / max
}

func displayName(m models.SimilarityMatch) string {
	if name, ok := m.Metadata["full_name"].(string); ok && name != "" {
		return name
	}
	return m.Title
}

// explain writes a one-paragraph rationale per candidate, one LLM call
// for the whole batch.
func (p *GraphRAGPipeline) explain(ctx context.Context, query string, ranking []RankedExpert) error {
	var b strings.Builder
	for i, e := range ranking {
		fmt.Fprintf(&b, "[%d] %s — semantic %.2f, graph %.2f", i, e.Name, e.SemanticScore, e.GraphScore)
		if e.Signal != nil {
			fmt.Fprintf(&b, " (contributions %d, expertise edges %d, collaboration weight %d)",
				e.Signal.Contributions, e.Signal.ExpertiseEdges, e.Signal.CollaborationWeight)
		}
		b.WriteString("\n")
	}
	resp, err := p.client.Complete(ctx, &llm.Request{
		Model: p.cfg.Model,
		System: "For each numbered candidate write one paragraph explaining why they " +
			"fit the request, citing the listed evidence. Output one paragraph per " +
			"line, prefixed by the candidate index in brackets, e.g. \"[0] ...\".",
		Messages: []llm.Message{{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("Request: %s\n\nCandidates:\n%s", query, b.String()),
		}},
		Temperature: 0.2,
	})
	if err != nil {
		return fmt.Errorf("failed to explain recommendations: %w", err)
	}

	for _, line := range strings.Split(resp.Text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "[") {
			continue
		}
		close := strings.IndexByte(line, ']')
		if close < 0 {
			continue
		}
		var idx int
		if _, scanErr := fmt.Sscanf(line[:close+1], "[%d]", &idx); scanErr != nil {
			continue
		}
		if idx >= 0 && idx < len(ranking) {
			ranking[idx].Rationale = strings.TrimSpace(line[close+1:])
		}
	}
	return nil
}

func (p *GraphRAGPipeline) synthesize(ctx context.Context, query string, ranking []RankedExpert) (string, error) {
	resp, err := p.client.Complete(ctx, &llm.Request{
		Model: p.cfg.Model,
		System: "Compose a short expert-recommendation report from the ranked " +
			"candidates and their rationales. Keep the given order.",
		Messages: []llm.Message{{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("Request: %s\n\n%s", query, plainReport(query, ranking)),
		}},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("failed to synthesize report: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// plainReport is the deterministic fallback rendering used by the quick
// path and as LLM input for synthesis.
func plainReport(query string, ranking []RankedExpert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Experts for: %s\n", query)
	for i, e := range ranking {
		fmt.Fprintf(&b, "%d. %s (combined %.2f, semantic %.2f, graph %.2f)\n",
			i+1, e.Name, e.CombinedScore, e.SemanticScore, e.GraphScore)
		if e.Rationale != "" {
			fmt.Fprintf(&b, "   %s\n", e.Rationale)
		}
	}
	return b.String()
}
