package pipelines

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgesight/forgesight/pkg/llm"
	"github.com/forgesight/forgesight/pkg/models"
)

// scriptedLLM returns canned responses in order and records the requests.
type scriptedLLM struct {
	responses []string
	requests  []*llm.Request
}

func (s *scriptedLLM) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("scripted llm exhausted after %d calls", len(s.requests))
	}
	text := s.responses[0]
	s.responses = s.responses[1:]
	return &llm.Response{Text: text, StopReason: "end_turn"}, nil
}

func (s *scriptedLLM) CompleteStream(ctx context.Context, req *llm.Request, onToken func(string)) (*llm.Response, error) {
	resp, err := s.Complete(ctx, req)
	if err == nil && onToken != nil {
		onToken(resp.Text)
	}
	return resp, err
}

type fakeVectorIndex struct {
	batches [][]models.SimilarityMatch
	calls   int
}

func (f *fakeVectorIndex) SearchSimilar(_ context.Context, _ []float32, _ models.EmbeddingType, _ int) ([]models.SimilarityMatch, error) {
	batch := f.batches[min(f.calls, len(f.batches)-1)]
	f.calls++
	return batch, nil
}

type fixedEmbedder struct{}

func (fixedEmbedder) EmbedOne(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func docs(titles ...string) []models.SimilarityMatch {
	out := make([]models.SimilarityMatch, len(titles))
	for i, title := range titles {
		out[i] = models.SimilarityMatch{Title: title, Content: "content of " + title, Similarity: 0.9 - float64(i)*0.1}
	}
	return out
}

func TestRAGHappyPath(t *testing.T) {
	client := &scriptedLLM{responses: []string{
		"[0, 1]",                                  // grade: both relevant
		"The deploy gate is configured in Atlas.", // generate
		"grounded",                                // hallucination check
	}}
	p := NewRAGPipeline(
		&fakeVectorIndex{batches: [][]models.SimilarityMatch{docs("Atlas runbook", "Deploy guide")}},
		fixedEmbedder{}, client, RAGConfig{FastModel: "fast", StrongModel: "strong"}, nil)

	result, err := p.Run(context.Background(), "How is the deploy gate configured?", "")
	require.NoError(t, err)
	assert.Equal(t, "done", result.Status, "the status literal is part of the API surface")
	assert.Equal(t, "The deploy gate is configured in Atlas.", result.Answer)
	assert.Len(t, result.RelevantDocs, 2)
	assert.Zero(t, result.RetryCount)
	assert.False(t, result.IsHallucinated)
}

func TestRAGRewritesThenGivesHonestAnswer(t *testing.T) {
	// Every grade comes back empty; after MaxRAGRetries rewrites the
	// pipeline stops with the no-context answer instead of looping.
	client := &scriptedLLM{responses: []string{
		"[]", "better query 1",
		"[]", "better query 2",
		"[]",
	}}
	p := NewRAGPipeline(
		&fakeVectorIndex{batches: [][]models.SimilarityMatch{docs("Unrelated doc")}},
		fixedEmbedder{}, client, RAGConfig{FastModel: "fast", StrongModel: "strong"}, nil)

	result, err := p.Run(context.Background(), "What is the moon made of?", "")
	require.NoError(t, err)
	assert.Equal(t, "no_context", result.Status)
	assert.Equal(t, MaxRAGRetries, result.RetryCount)
	assert.Contains(t, result.Answer, "could not find any relevant context")
	assert.Empty(t, result.RelevantDocs)
}

func TestRAGFlagsUngroundedAfterRetries(t *testing.T) {
	client := &scriptedLLM{responses: []string{
		"[0]", "made-up answer", "ungrounded", "rewrite 1",
		"[0]", "still made up", "ungrounded", "rewrite 2",
		"[0]", "final answer", "ungrounded",
	}}
	p := NewRAGPipeline(
		&fakeVectorIndex{batches: [][]models.SimilarityMatch{docs("Some doc")}},
		fixedEmbedder{}, client, RAGConfig{FastModel: "fast", StrongModel: "strong"}, nil)

	result, err := p.Run(context.Background(), "question", "")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, result.Status, "an answered run is done; the flag carries the verdict")
	assert.True(t, result.IsHallucinated)
	assert.Equal(t, MaxRAGRetries, result.RetryCount)
	assert.Equal(t, "final answer", result.Answer)
}

func TestRAGKeepsAllDocsOnUnparseableGrade(t *testing.T) {
	client := &scriptedLLM{responses: []string{
		"I think they all look relevant!", // no JSON array
		"answer",
		"grounded",
	}}
	p := NewRAGPipeline(
		&fakeVectorIndex{batches: [][]models.SimilarityMatch{docs("A", "B", "C")}},
		fixedEmbedder{}, client, RAGConfig{FastModel: "fast", StrongModel: "strong"}, nil)

	result, err := p.Run(context.Background(), "question", "")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, result.Status)
	assert.Len(t, result.RelevantDocs, 3)
}

func TestParseIndexArray(t *testing.T) {
	indices, err := parseIndexArray("Relevant documents: [0, 2]")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, indices)

	indices, err = parseIndexArray("[]")
	require.NoError(t, err)
	assert.Empty(t, indices)

	_, err = parseIndexArray("none of them")
	assert.Error(t, err)
}
