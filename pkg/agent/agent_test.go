package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgesight/forgesight/pkg/config"
	"github.com/forgesight/forgesight/pkg/llm"
	"github.com/forgesight/forgesight/pkg/memory"
	"github.com/forgesight/forgesight/pkg/models"
	"github.com/forgesight/forgesight/pkg/pipelines"
	"github.com/forgesight/forgesight/pkg/stream"
	"github.com/forgesight/forgesight/pkg/tools"
)

// scriptedClient plays back canned responses and records requests.
type scriptedClient struct {
	responses []*llm.Response
	requests  []*llm.Request
}

func (c *scriptedClient) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	c.requests = append(c.requests, req)
	if len(c.responses) == 0 {
		return nil, fmt.Errorf("scripted client exhausted after %d calls", len(c.requests))
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func (c *scriptedClient) CompleteStream(ctx context.Context, req *llm.Request, onToken func(string)) (*llm.Response, error) {
	resp, err := c.Complete(ctx, req)
	if err == nil && onToken != nil && resp.Text != "" {
		onToken(resp.Text)
	}
	return resp, err
}

func textResponse(text string) *llm.Response {
	return &llm.Response{Text: text, StopReason: "end_turn"}
}

func toolCallResponse(calls ...llm.ToolCall) *llm.Response {
	return &llm.Response{ToolCalls: calls, StopReason: "tool_use"}
}

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry(time.Second)
	r.MustRegister(tools.Tool{
		Name:        "get_deployment_metrics",
		Group:       tools.GroupTimeseries,
		Description: "metrics",
		InputSchema: map[string]any{"type": "object"},
		Handler: func(context.Context, json.RawMessage) (any, error) {
			return map[string]any{"deployments": 12}, nil
		},
	})
	r.MustRegister(tools.Tool{
		Name:        "broken_tool",
		Group:       tools.GroupTimeseries,
		Description: "always fails",
		InputSchema: map[string]any{"type": "object"},
		Handler: func(context.Context, json.RawMessage) (any, error) {
			return nil, fmt.Errorf("store offline")
		},
	})
	return r
}

func drain(bus *stream.Bus) []stream.Event {
	var events []stream.Event
	for evt := range bus.Events() {
		events = append(events, evt)
	}
	return events
}

func eventTypes(events []stream.Event) []stream.EventType {
	out := make([]stream.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func selection() llm.ModelSelection {
	return llm.ModelSelection{TaskType: llm.TaskAnalytics, ModelName: "gpt-4o", Temperature: 0.2}
}

func TestSpecialistAnswersDirectly(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{textResponse("Twelve deployments.")}}
	r := &runner{registry: testRegistry(t), logger: discardLogger()}
	bus := stream.NewBus("turn-1", 64)

	answer, err := r.run(context.Background(), DORASpecialist, client, selection(),
		[]llm.Message{{Role: models.RoleUser, Content: "How many deploys?"}}, bus)
	require.NoError(t, err)
	assert.Equal(t, "Twelve deployments.", answer)

	// Only the specialist's allowed tool groups were offered.
	for _, def := range client.requests[0].Tools {
		assert.NotEqual(t, "get_developer", def.Name)
	}
}

func TestSpecialistRunsToolsThenAnswers(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		toolCallResponse(llm.ToolCall{ID: "c1", Name: "get_deployment_metrics", Arguments: json.RawMessage(`{}`)}),
		textResponse("12 deployments in the window."),
	}}
	r := &runner{registry: testRegistry(t), logger: discardLogger()}
	bus := stream.NewBus("turn-1", 64)

	answer, err := r.run(context.Background(), DORASpecialist, client, selection(),
		[]llm.Message{{Role: models.RoleUser, Content: "deploys?"}}, bus)
	require.NoError(t, err)
	assert.Equal(t, "12 deployments in the window.", answer)

	// Second request carries the assistant tool call and the tool result.
	second := client.requests[1]
	require.Len(t, second.Messages, 3)
	assert.Equal(t, models.RoleAssistant, second.Messages[1].Role)
	require.Len(t, second.Messages[1].ToolCalls, 1)
	assert.Equal(t, models.RoleTool, second.Messages[2].Role)
	assert.Contains(t, second.Messages[2].Content, "12")

	bus.Final("done", "m", "t")
	types := eventTypes(drain(bus))
	assert.Contains(t, types, stream.EventToolStart)
	assert.Contains(t, types, stream.EventToolEnd)
}

func TestSpecialistFeedsToolErrorsBack(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		toolCallResponse(llm.ToolCall{ID: "c1", Name: "broken_tool", Arguments: json.RawMessage(`{}`)}),
		textResponse("The store is offline, try later."),
	}}
	r := &runner{registry: testRegistry(t), logger: discardLogger()}
	bus := stream.NewBus("turn-1", 64)

	answer, err := r.run(context.Background(), DORASpecialist, client, selection(),
		[]llm.Message{{Role: models.RoleUser, Content: "deploys?"}}, bus)
	require.NoError(t, err)
	assert.Contains(t, answer, "offline")

	toolMsg := client.requests[1].Messages[2]
	assert.True(t, toolMsg.IsError)
	assert.Contains(t, toolMsg.Content, "store offline")
}

func TestSpecialistCapsToolCallsPerStep(t *testing.T) {
	call := llm.ToolCall{Name: "get_deployment_metrics", Arguments: json.RawMessage(`{}`)}
	many := make([]llm.ToolCall, MaxToolCallsPerStep+3)
	for i := range many {
		c := call
		c.ID = fmt.Sprintf("c%d", i)
		many[i] = c
	}
	client := &scriptedClient{responses: []*llm.Response{
		toolCallResponse(many...),
		textResponse("done"),
	}}
	r := &runner{registry: testRegistry(t), logger: discardLogger()}
	bus := stream.NewBus("turn-1", 64)

	_, err := r.run(context.Background(), DORASpecialist, client, selection(),
		[]llm.Message{{Role: models.RoleUser, Content: "q"}}, bus)
	require.NoError(t, err)

	// assistant message + capped tool results + original user message
	assert.Len(t, client.requests[1].Messages, 1+1+MaxToolCallsPerStep)
}

func TestSpecialistSummarisesWhenBudgetExhausted(t *testing.T) {
	responses := make([]*llm.Response, 0, MaxSteps+1)
	for i := 0; i < MaxSteps; i++ {
		responses = append(responses, toolCallResponse(
			llm.ToolCall{ID: fmt.Sprintf("c%d", i), Name: "get_deployment_metrics", Arguments: json.RawMessage(`{}`)}))
	}
	responses = append(responses, textResponse("Partial: 12 deploys found, failure rate unverified."))
	client := &scriptedClient{responses: responses}
	r := &runner{registry: testRegistry(t), logger: discardLogger()}
	bus := stream.NewBus("turn-1", 512)

	answer, err := r.run(context.Background(), DORASpecialist, client, selection(),
		[]llm.Message{{Role: models.RoleUser, Content: "q"}}, bus)
	require.NoError(t, err)
	assert.Contains(t, answer, "Partial")
	require.Len(t, client.requests, MaxSteps+1)

	last := client.requests[MaxSteps]
	assert.Empty(t, last.Tools, "summary call offers no tools")
	assert.Contains(t, last.Messages[len(last.Messages)-1].Content, "investigation limit")
}

// --- supervisor ---

type fakeNLQuery struct {
	result *pipelines.NLQueryResult
	called bool
}

func (f *fakeNLQuery) Run(context.Context, string) (*pipelines.NLQueryResult, error) {
	f.called = true
	return f.result, nil
}

func newTestSupervisor(t *testing.T, client llm.Client, nlq nlQueryRunner) (*Supervisor, memory.Store) {
	t.Helper()
	registry := llm.NewRegistryWithClients(map[string]llm.Client{"openai": client})
	router := llm.NewRouter(&config.LLMConfig{
		Profiles: map[string]config.ModelProfile{
			"general":       {Provider: "openai", Model: "gpt-4o", DisplayName: "GPT-4o", Emoji: "🧠", Reason: "default"},
			"analytics":     {Provider: "openai", Model: "gpt-4o", DisplayName: "GPT-4o", Emoji: "📊", Reason: "metrics"},
			"code_analysis": {Provider: "openai", Model: "gpt-4o-mini", DisplayName: "GPT-4o mini", Emoji: "🔍", Reason: "queries"},
		},
	}, registry)
	store := memory.NewInProcStore()
	return NewSupervisor(router, testRegistry(t), store, nlq, discardLogger()), store
}

func TestSupervisorRunsFullTurn(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{textResponse("Deploy frequency is 3/week.")}}
	sup, store := newTestSupervisor(t, client, &fakeNLQuery{})
	bus := stream.NewBus("turn-1", 64)

	result, err := sup.HandleTurn(context.Background(), "", "What is our deploy frequency trend?", bus)
	require.NoError(t, err)
	assert.Equal(t, "Deploy frequency is 3/week.", result.Response)
	assert.Equal(t, "gpt-4o", result.ModelUsed)
	require.NotEmpty(t, result.ThreadID)

	events := drain(bus)
	types := eventTypes(events)
	assert.Equal(t, stream.EventRoutingDecision, types[0])
	assert.Equal(t, stream.EventModelSelection, types[1])
	assert.Equal(t, stream.EventFinal, types[len(types)-1])

	routing := events[0].Data.(stream.RoutingDecisionData)
	assert.Equal(t, "dora", routing.Specialist)

	thread, err := store.GetThread(context.Background(), result.ThreadID)
	require.NoError(t, err)
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, models.RoleUser, thread.Messages[0].Role)
	assert.Equal(t, models.RoleAssistant, thread.Messages[1].Role)
	assert.Equal(t, "gpt-4o", thread.Messages[1].ModelUsed)
}

func TestSupervisorRoutesCodeAnalysisToNLQuery(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{textResponse("14 pull requests merged.")}}
	nlq := &fakeNLQuery{result: &pipelines.NLQueryResult{
		Kind:        "events",
		Rows:        []map[string]any{{"event_type": "pr_merged"}},
		Explanation: "merged PRs in the window",
		Status:      "ok",
	}}
	sup, _ := newTestSupervisor(t, client, nlq)
	bus := stream.NewBus("turn-1", 64)

	result, err := sup.HandleTurn(context.Background(), "", "Summarise pull request activity", bus)
	require.NoError(t, err)
	assert.True(t, nlq.called)
	assert.Equal(t, "14 pull requests merged.", result.Response)
	assert.Equal(t, "gpt-4o-mini", result.ModelUsed)

	events := drain(bus)
	routing := events[0].Data.(stream.RoutingDecisionData)
	assert.Equal(t, "nl-query", routing.Specialist)
}

func TestSupervisorEmitsErrorOnModelFailure(t *testing.T) {
	client := &scriptedClient{} // exhausted immediately
	sup, _ := newTestSupervisor(t, client, &fakeNLQuery{})
	bus := stream.NewBus("turn-1", 64)

	_, err := sup.HandleTurn(context.Background(), "", "What is our deploy trend?", bus)
	require.Error(t, err)

	events := drain(bus)
	last := events[len(events)-1]
	assert.Equal(t, stream.EventError, last.Type)
}

func TestSupervisorUnknownThread(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{textResponse("x")}}
	sup, _ := newTestSupervisor(t, client, &fakeNLQuery{})
	bus := stream.NewBus("turn-1", 64)

	_, err := sup.HandleTurn(context.Background(), "no-such-thread", "hello", bus)
	require.Error(t, err)
	assert.ErrorIs(t, err, memory.ErrThreadNotFound)
}

func TestSupervisorReusesThreadHistory(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		textResponse("First answer."),
		textResponse("Second answer."),
	}}
	sup, store := newTestSupervisor(t, client, &fakeNLQuery{})

	bus1 := stream.NewBus("turn-1", 64)
	first, err := sup.HandleTurn(context.Background(), "", "What is our deploy trend?", bus1)
	require.NoError(t, err)
	drain(bus1)

	bus2 := stream.NewBus("turn-2", 64)
	_, err = sup.HandleTurn(context.Background(), first.ThreadID, "And the lead time metric?", bus2)
	require.NoError(t, err)
	drain(bus2)

	// The second model call saw the first exchange.
	secondReq := client.requests[1]
	require.Len(t, secondReq.Messages, 3)
	assert.Equal(t, "What is our deploy trend?", secondReq.Messages[0].Content)
	assert.Equal(t, "First answer.", secondReq.Messages[1].Content)

	thread, err := store.GetThread(context.Background(), first.ThreadID)
	require.NoError(t, err)
	assert.Len(t, thread.Messages, 4)
}
