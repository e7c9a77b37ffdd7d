package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgesight/forgesight/pkg/agent"
	"github.com/forgesight/forgesight/pkg/ingest"
	"github.com/forgesight/forgesight/pkg/memory"
	"github.com/forgesight/forgesight/pkg/models"
	"github.com/forgesight/forgesight/pkg/pipelines"
	"github.com/forgesight/forgesight/pkg/stream"
)

type fakeSupervisor struct {
	answer string
	err    error
}

func (f *fakeSupervisor) HandleTurn(_ context.Context, threadID, _ string, bus *stream.Bus) (*agent.TurnResult, error) {
	if f.err != nil {
		bus.Error("upstream_unavailable", "boom")
		return nil, f.err
	}
	bus.RoutingDecision("insights", "classified as general")
	bus.Token("Hello")
	bus.Final(f.answer, "gpt-4o", threadID)
	return &agent.TurnResult{Response: f.answer, ModelUsed: "gpt-4o", ThreadID: threadID}, nil
}

type fakeEnqueuer struct {
	jobs []ingest.Job
	err  error
}

func (f *fakeEnqueuer) TryEnqueue(job ingest.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakePrep struct{ result *pipelines.OneOnOneResult }

func (f *fakePrep) Prepare(context.Context, string, string) (*pipelines.OneOnOneResult, error) {
	return f.result, nil
}

type fakeAnomalies struct{ result *pipelines.AnomalyResult }

func (f *fakeAnomalies) Detect(context.Context, string, int, int) (*pipelines.AnomalyResult, error) {
	return f.result, nil
}

type fakeExperts struct{ result *pipelines.GraphRAGResult }

func (f *fakeExperts) Run(context.Context, string, bool) (*pipelines.GraphRAGResult, error) {
	return f.result, nil
}

type fakeAPIEmbedder struct{}

func (fakeAPIEmbedder) EmbedOne(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

type fakeAPIVectors struct{ matches []models.SimilarityMatch }

func (f *fakeAPIVectors) SearchSimilar(_ context.Context, _ []float32, _ models.EmbeddingType, _ int) ([]models.SimilarityMatch, error) {
	return f.matches, nil
}

type fakeDORA struct{ metrics []models.DeploymentMetrics }

func (f *fakeDORA) DeploymentMetrics(context.Context, string, int) ([]models.DeploymentMetrics, error) {
	return f.metrics, nil
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

func testServer(t *testing.T, mutate func(*Options)) *Server {
	t.Helper()
	opts := Options{
		Supervisor:     &fakeSupervisor{answer: "All quiet."},
		Threads:        memory.NewInProcStore(),
		Ingest:         &fakeEnqueuer{},
		WebhookSecrets: map[string]string{"code-host": "s3cret"},
		Prep:           &fakePrep{result: &pipelines.OneOnOneResult{Status: pipelines.StatusDone, Brief: "brief"}},
		Anomalies:      &fakeAnomalies{result: &pipelines.AnomalyResult{}},
		Experts:        &fakeExperts{result: &pipelines.GraphRAGResult{Status: pipelines.StatusDone}},
		Embedder:       fakeAPIEmbedder{},
		Vectors:        &fakeAPIVectors{},
		DORA:           &fakeDORA{},
		Stores:         map[string]Pinger{"relational": &fakePinger{}},
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewServer(opts)
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestChatStreamsSSE(t *testing.T) {
	s := testServer(t, nil)
	w := doJSON(t, s, http.MethodPost, "/api/chat", `{"message": "hi"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	iRouting := strings.Index(body, "event: routing_decision")
	iFinal := strings.Index(body, "event: final")
	require.GreaterOrEqual(t, iRouting, 0, body)
	require.Greater(t, iFinal, iRouting, "final must come after the trace")
	assert.Contains(t, body, "All quiet.")
	assert.Equal(t, 1, strings.Count(body, "event: final"), "exactly one terminal event")
}

func TestChatErrorsSurfaceOnStream(t *testing.T) {
	s := testServer(t, func(o *Options) {
		o.Supervisor = &fakeSupervisor{err: errors.New("model down")}
	})
	w := doJSON(t, s, http.MethodPost, "/api/chat", `{"message": "hi"}`)

	require.Equal(t, http.StatusOK, w.Code, "stream already started; errors ride the stream")
	body := w.Body.String()
	assert.Contains(t, body, "event: error")
	assert.NotContains(t, body, "event: final")
}

func TestChatSyncReturnsJSON(t *testing.T) {
	s := testServer(t, nil)
	w := doJSON(t, s, http.MethodPost, "/api/chat/sync", `{"message": "hi"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"response":"All quiet."`)
}

func TestChatRequiresMessage(t *testing.T) {
	s := testServer(t, nil)
	w := doJSON(t, s, http.MethodPost, "/api/chat", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_input")
}

func TestChatShedsLoadWhenSaturated(t *testing.T) {
	s := testServer(t, func(o *Options) { o.MaxConcurrentTurns = 1 })
	s.turnSlots <- struct{}{} // saturate

	w := doJSON(t, s, http.MethodPost, "/api/chat", `{"message": "hi"}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
}

func TestThreadLifecycle(t *testing.T) {
	s := testServer(t, nil)

	w := doJSON(t, s, http.MethodPost, "/api/threads", `{"title": "Deploy review"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var thread models.Thread
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &thread))
	require.NotEmpty(t, thread.ID)

	w = doJSON(t, s, http.MethodGet, "/api/threads/"+thread.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Deploy review")

	w = doJSON(t, s, http.MethodGet, "/api/threads", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodDelete, "/api/threads/"+thread.ID, "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/threads/"+thread.ID, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookAcceptsSignedDelivery(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := testServer(t, func(o *Options) { o.Ingest = enq })

	body := []byte(`{"action": "opened"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/code-host", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("s3cret", body))
	req.Header.Set("X-GitHub-Event", "pull_request")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, enq.jobs, 1)
	assert.Equal(t, models.SourceCodeHost, enq.jobs[0].Source)
	assert.Equal(t, "pull_request", enq.jobs[0].Headers.Get("X-GitHub-Event"))
	assert.Equal(t, body, enq.jobs[0].Body)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	s := testServer(t, nil)
	body := []byte(`{}`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/code-host", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("wrong-secret", body))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/code-host", bytes.NewReader(body))
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "missing signature header")
}

func TestWebhookRejectsSourceWithoutSecret(t *testing.T) {
	s := testServer(t, nil) // only code-host carries a secret
	body := []byte(`{}`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/issue-tracker", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code,
		"a source with no configured secret must not accept deliveries")
	assert.Contains(t, w.Body.String(), "no secret configured")
}

func TestWebhookBackpressure(t *testing.T) {
	s := testServer(t, func(o *Options) {
		o.Ingest = &fakeEnqueuer{err: ingest.ErrQueueFull}
	})
	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/code-host", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("s3cret", body))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
}

func TestWebhookUnknownSource(t *testing.T) {
	s := testServer(t, nil)
	w := doJSON(t, s, http.MethodPost, "/webhooks/payroll", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPrepNotFoundMapsTo404(t *testing.T) {
	s := testServer(t, func(o *Options) {
		o.Prep = &fakePrep{result: &pipelines.OneOnOneResult{Status: pipelines.StatusNotFound}}
	})
	w := doJSON(t, s, http.MethodPost, "/api/prep/1on1", `{"developer_name": "ghost"}`)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")
}

func TestPrepReturnsBrief(t *testing.T) {
	s := testServer(t, nil)
	w := doJSON(t, s, http.MethodPost, "/api/prep/1on1", `{"developer_name": "Mei"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "brief")
}

func TestFindExpertsValidatesMode(t *testing.T) {
	s := testServer(t, nil)
	w := doJSON(t, s, http.MethodPost, "/api/experts/find", `{"query": "go", "mode": "sideways"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFindExpertsLimitsRanking(t *testing.T) {
	s := testServer(t, func(o *Options) {
		o.Experts = &fakeExperts{result: &pipelines.GraphRAGResult{
			Status: pipelines.StatusDone,
			FusedRanking: []pipelines.RankedExpert{
				{Name: "A"}, {Name: "B"}, {Name: "C"},
			},
		}}
	})
	w := doJSON(t, s, http.MethodPost, "/api/experts/find", `{"query": "go", "mode": "quick", "limit": 2}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"B"`)
	assert.NotContains(t, w.Body.String(), `"C"`)
}

func TestSearchReturnsMatches(t *testing.T) {
	s := testServer(t, func(o *Options) {
		o.Vectors = &fakeAPIVectors{matches: []models.SimilarityMatch{
			{SourceID: "doc-1", Title: "Runbook", Similarity: 0.92},
		}}
	})
	w := doJSON(t, s, http.MethodPost, "/api/search", `{"query": "oncall escalation"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Runbook")
}

func TestSearchRejectsUnknownType(t *testing.T) {
	s := testServer(t, nil)
	w := doJSON(t, s, http.MethodPost, "/api/search", `{"query": "x", "type": "payroll"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthReportsStoreFailure(t *testing.T) {
	s := testServer(t, func(o *Options) {
		o.Stores = map[string]Pinger{
			"relational": &fakePinger{},
			"timeseries": &fakePinger{err: errors.New("connection refused")},
		}
	})
	w := doJSON(t, s, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unhealthy")
	assert.Contains(t, w.Body.String(), "connection refused")

	s = testServer(t, nil)
	w = doJSON(t, s, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}
