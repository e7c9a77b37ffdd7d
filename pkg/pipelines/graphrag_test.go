package pipelines

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgesight/forgesight/pkg/models"
	"github.com/forgesight/forgesight/pkg/storage/graph"
)

type fakeExpertGraph struct {
	signals map[string]graph.ExpertSignal
}

func (f *fakeExpertGraph) TopExpertSignals(context.Context, int) (map[string]graph.ExpertSignal, error) {
	if f.signals == nil {
		return map[string]graph.ExpertSignal{}, nil
	}
	return f.signals, nil
}

func TestFuseAndRankWeights(t *testing.T) {
	matches := []models.SimilarityMatch{
		{SourceID: "dev-a", Title: "A", Similarity: 1.0},
		{SourceID: "dev-b", Title: "B", Similarity: 0.5},
	}
	signals := map[string]graph.ExpertSignal{
		"dev-a": {EmployeeID: "dev-a", Contributions: 1},                    // graph score 2
		"dev-b": {EmployeeID: "dev-b", Contributions: 4, ExpertiseEdges: 2}, // graph score 10
	}

	ranking := fuseAndRank(matches, signals)
	require.Len(t, ranking, 2)

	// A: semantic 1.0, graph 2/10 -> 0.6 + 0.08 = 0.68
	// B: semantic 0.5, graph 1.0  -> 0.3 + 0.4  = 0.70
	assert.Equal(t, "dev-b", ranking[0].EmployeeID)
	assert.InDelta(t, 0.70, ranking[0].CombinedScore, 1e-9)
	assert.InDelta(t, 0.68, ranking[1].CombinedScore, 1e-9)
}

func TestFuseAndRankTieBreaksOnSemantic(t *testing.T) {
	// Both candidates are graph-unknown, so graph mirrors semantic and
	// combined scores order the same way; force an exact tie via equal
	// similarity and check the semantic tie-break keeps input stability.
	matches := []models.SimilarityMatch{
		{SourceID: "dev-a", Title: "A", Similarity: 0.8},
		{SourceID: "dev-b", Title: "B", Similarity: 0.8},
	}
	ranking := fuseAndRank(matches, nil)
	require.Len(t, ranking, 2)
	assert.Equal(t, "dev-a", ranking[0].EmployeeID, "stable order on full tie")
	assert.Equal(t, ranking[0].CombinedScore, ranking[1].CombinedScore)
}

func TestFuseAndRankSyntheticFallback(t *testing.T) {
	matches := []models.SimilarityMatch{
		{SourceID: "dev-a", Title: "A", Similarity: 0.9},
	}
	ranking := fuseAndRank(matches, map[string]graph.ExpertSignal{})
	require.Len(t, ranking, 1)
	assert.True(t, ranking[0].GraphSynthetic)
	assert.Equal(t, ranking[0].SemanticScore, ranking[0].GraphScore)
	assert.InDelta(t, 1.0, ranking[0].CombinedScore, 1e-9)
}

func TestGraphRAGExpertDiscovery(t *testing.T) {
	// Developer D has both the best profile match and a real graph
	// contribution; the fused ranking must put D first and the report
	// must name D.
	matches := []models.SimilarityMatch{
		{SourceID: "dev-d", Title: "Dana Kim — profile", Similarity: 0.95,
			Metadata: map[string]any{"full_name": "Dana Kim"}},
		{SourceID: "dev-x", Title: "Pat Doyle — profile", Similarity: 0.60,
			Metadata: map[string]any{"full_name": "Pat Doyle"}},
	}
	signals := map[string]graph.ExpertSignal{
		"dev-d": {EmployeeID: "dev-d", Contributions: 12, ExpertiseEdges: 3, CollaborationWeight: 8},
	}

	p := NewGraphRAGPipeline(
		&fakeVectorIndex{batches: [][]models.SimilarityMatch{matches}},
		&fakeExpertGraph{signals: signals},
		fixedEmbedder{},
		&scriptedLLM{}, // quick path, no LLM calls
		GraphRAGConfig{Model: "strong"}, nil)

	result, err := p.Run(context.Background(), "Who can help with Kubernetes?", false)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, result.Status)
	require.NotEmpty(t, result.FusedRanking)

	top := result.FusedRanking[0]
	assert.Equal(t, "dev-d", top.EmployeeID)
	assert.False(t, top.GraphSynthetic)
	expected := SemanticWeight*top.SemanticScore + GraphWeight*top.GraphScore
	assert.InDelta(t, expected, top.CombinedScore, 1e-9)
	assert.Contains(t, result.Report, "Dana Kim")
}

func TestGraphRAGExplainedRun(t *testing.T) {
	matches := []models.SimilarityMatch{
		{SourceID: "dev-d", Title: "Dana Kim — profile", Similarity: 0.95,
			Metadata: map[string]any{"full_name": "Dana Kim"}},
	}
	client := &scriptedLLM{responses: []string{
		"[0] Dana has shipped the k8s platform twice.", // explain
		"Recommended: Dana Kim, based on platform contributions.", // synthesize
	}}
	p := NewGraphRAGPipeline(
		&fakeVectorIndex{batches: [][]models.SimilarityMatch{matches}},
		&fakeExpertGraph{},
		fixedEmbedder{},
		client,
		GraphRAGConfig{Model: "strong"}, nil)

	result, err := p.Run(context.Background(), "Who can help with Kubernetes?", true)
	require.NoError(t, err)
	assert.Equal(t, "Dana has shipped the k8s platform twice.", result.FusedRanking[0].Rationale)
	assert.Contains(t, result.Report, "Dana Kim")
	assert.Len(t, client.requests, 2)
}

func TestGraphRAGNoMatches(t *testing.T) {
	p := NewGraphRAGPipeline(
		&fakeVectorIndex{batches: [][]models.SimilarityMatch{{}}},
		&fakeExpertGraph{},
		fixedEmbedder{},
		&scriptedLLM{},
		GraphRAGConfig{Model: "strong"}, nil)

	result, err := p.Run(context.Background(), "anything", true)
	require.NoError(t, err)
	assert.Equal(t, StatusNoContext, result.Status)
	assert.Empty(t, result.FusedRanking)
}
