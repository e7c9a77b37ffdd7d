package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgesight/forgesight/pkg/config"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected TaskType
	}{
		{"dora question", "What's our DORA deployment frequency this month?", TaskAnalytics},
		{"lead time", "show lead time for the atlas project", TaskAnalytics},
		{"capacity question", "Who has capacity to take on the migration work?", TaskPlanning},
		{"overallocation", "is dana overallocated right now", TaskPlanning},
		{"one on one", "help me prepare for my 1:1 with Lee", TaskPlanning},
		{"commits", "summarise recent commits in the payments repo", TaskCodeAnalysis},
		{"pull requests", "any stale pull requests waiting on review?", TaskCodeAnalysis},
		{"who is", "who is the tech lead on Borealis?", TaskQuickLookup},
		{"email lookup", "what is the email for the platform team lead", TaskQuickLookup},
		{"fallback", "tell me something interesting about the org", TaskGeneral},
		{"empty", "", TaskGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.query))
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	q := "Who has capacity for deploy work on the commit pipeline?"
	first := Classify(q)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(q))
	}
}

type stubClient struct{ name string }

func (s *stubClient) Complete(context.Context, *Request) (*Response, error) {
	return &Response{Text: s.name}, nil
}

func (s *stubClient) CompleteStream(_ context.Context, _ *Request, _ func(string)) (*Response, error) {
	return &Response{Text: s.name}, nil
}

func testRouter(t *testing.T) *Router {
	t.Helper()
	cfg := &config.LLMConfig{
		Profiles: map[string]config.ModelProfile{
			"analytics": {Provider: "openai", Model: "gpt-4o", DisplayName: "Analytics", Emoji: "📊", Temperature: 0.2, Reason: "structured numeric work"},
			"general":   {Provider: "anthropic", Model: "claude-sonnet-4-0", DisplayName: "General", Emoji: "💬", Temperature: 0.7, Reason: "default"},
		},
	}
	registry := NewRegistryWithClients(map[string]Client{
		"openai":    &stubClient{name: "openai"},
		"anthropic": &stubClient{name: "anthropic"},
	})
	return NewRouter(cfg, registry)
}

func TestRouterSelect(t *testing.T) {
	router := testRouter(t)

	sel, client, err := router.Select(TaskAnalytics)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", sel.ModelName)
	assert.Equal(t, TaskAnalytics, sel.TaskType)
	assert.InDelta(t, 0.2, sel.Temperature, 1e-9)
	resp, _ := client.Complete(context.Background(), &Request{})
	assert.Equal(t, "openai", resp.Text)
}

func TestRouterFallsBackToGeneral(t *testing.T) {
	router := testRouter(t)

	// planning has no profile in this config → general serves it.
	sel, client, err := router.Select(TaskPlanning)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-0", sel.ModelName)
	resp, _ := client.Complete(context.Background(), &Request{})
	assert.Equal(t, "anthropic", resp.Text)
}

func TestRouterRoute(t *testing.T) {
	router := testRouter(t)

	sel, _, err := router.Route("what is our deployment frequency?")
	require.NoError(t, err)
	assert.Equal(t, TaskAnalytics, sel.TaskType)
}

func TestRegistryUnknownProvider(t *testing.T) {
	registry := NewRegistryWithClients(map[string]Client{})
	_, err := registry.ForProvider("mistral")
	assert.Error(t, err)
}
