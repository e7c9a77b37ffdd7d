package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/forgesight/forgesight/pkg/llm"
	"github.com/forgesight/forgesight/pkg/memory"
	"github.com/forgesight/forgesight/pkg/models"
	"github.com/forgesight/forgesight/pkg/pipelines"
	"github.com/forgesight/forgesight/pkg/stream"
	"github.com/forgesight/forgesight/pkg/tools"
)

// DefaultContextBudget is the token budget for trimmed thread history.
const DefaultContextBudget = 6000

// Error categories surfaced on the error stream event.
const (
	ErrCategoryUpstream = "upstream_unavailable"
	ErrCategoryTimeout  = "timeout"
	ErrCategoryInternal = "internal"
)

type nlQueryRunner interface {
	Run(ctx context.Context, question string) (*pipelines.NLQueryResult, error)
}

// TurnResult is what a completed turn produced, for the synchronous API.
type TurnResult struct {
	Response  string `json:"response"`
	ModelUsed string `json:"model_used"`
	ThreadID  string `json:"thread_id"`
}

// Supervisor owns turn orchestration: classify, select a model, route to
// a specialist, persist the exchange. Turns on the same thread are
// serialised; distinct threads run concurrently.
type Supervisor struct {
	router        *llm.Router
	registry      *tools.Registry
	store         memory.Store
	locks         *memory.TurnLocks
	nlQuery       nlQueryRunner
	contextBudget int
	logger        *slog.Logger
}

func NewSupervisor(router *llm.Router, registry *tools.Registry, store memory.Store, nlQuery nlQueryRunner, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		router:        router,
		registry:      registry,
		store:         store,
		locks:         memory.NewTurnLocks(),
		nlQuery:       nlQuery,
		contextBudget: DefaultContextBudget,
		logger:        logger.With("component", "supervisor"),
	}
}

// specialistFor maps a task type to the persona that handles it.
// code_analysis is special-cased to the NL-query pipeline in HandleTurn.
func specialistFor(taskType llm.TaskType) Specialist {
	switch taskType {
	case llm.TaskAnalytics:
		return DORASpecialist
	case llm.TaskPlanning:
		return ResourceSpecialist
	default:
		return InsightsSpecialist
	}
}

// HandleTurn runs one conversational turn and publishes its trace to the
// bus. Exactly one final or error event terminates the stream; on client
// cancellation the bus is abandoned instead. The returned TurnResult is
// nil when the turn did not complete.
func (s *Supervisor) HandleTurn(ctx context.Context, threadID, userMessage string, bus *stream.Bus) (*TurnResult, error) {
	thread, err := s.ensureThread(ctx, threadID, userMessage)
	if err != nil {
		bus.Error(ErrCategoryInternal, "failed to open thread")
		return nil, err
	}

	release := s.locks.Acquire(thread.ID)
	defer release()

	// Classification sees only the new question, not merged history, so
	// a long analytics thread cannot hijack a quick lookup.
	selection, client, err := s.router.Route(userMessage)
	if err != nil {
		bus.Error(ErrCategoryInternal, "no model available for this question")
		return nil, fmt.Errorf("failed to route turn: %w", err)
	}

	spec := specialistFor(selection.TaskType)
	routeName := spec.Name
	if selection.TaskType == llm.TaskCodeAnalysis {
		routeName = "nl-query"
	}
	bus.RoutingDecision(routeName, fmt.Sprintf("classified as %s", selection.TaskType))
	bus.ModelSelection(selection.ModelName, selection.DisplayName, selection.Emoji, selection.Reason)

	var answer string
	if selection.TaskType == llm.TaskCodeAnalysis {
		answer, err = s.runNLQuery(ctx, client, selection, userMessage)
	} else {
		answer, err = s.runSpecialist(ctx, thread, spec, client, selection, userMessage, bus)
	}
	if err != nil {
		if isCancelled(ctx, err) {
			bus.Abandon()
			return nil, err
		}
		s.logger.Error("turn failed", "thread_id", thread.ID, "error", err)
		bus.Error(categorise(err), "the assistant could not complete this turn")
		return nil, err
	}

	if err := s.persistTurn(ctx, thread.ID, userMessage, answer, selection); err != nil {
		bus.Error(ErrCategoryInternal, "failed to save the conversation")
		return nil, err
	}

	bus.Final(answer, selection.ModelName, thread.ID)
	return &TurnResult{Response: answer, ModelUsed: selection.ModelName, ThreadID: thread.ID}, nil
}

func (s *Supervisor) runSpecialist(ctx context.Context, thread *models.Thread, spec Specialist, client llm.Client, selection llm.ModelSelection, userMessage string, bus *stream.Bus) (string, error) {
	history := memory.TrimForContext(thread.Messages, s.contextBudget)
	messages := make([]llm.Message, 0, len(history)+1)
	for _, msg := range history {
		if msg.Role == models.RoleSystem {
			continue // the specialist brings its own system prompt
		}
		messages = append(messages, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, llm.Message{Role: models.RoleUser, Content: userMessage})

	r := &runner{registry: s.registry, logger: s.logger}
	return r.run(ctx, spec, client, selection, messages, bus)
}

// runNLQuery answers code-analysis questions by translating them into a
// guarded event-log query and having the model narrate the rows.
func (s *Supervisor) runNLQuery(ctx context.Context, client llm.Client, selection llm.ModelSelection, userMessage string) (string, error) {
	result, err := s.nlQuery.Run(ctx, userMessage)
	if err != nil {
		return "", fmt.Errorf("failed to run query pipeline: %w", err)
	}

	resp, err := client.Complete(ctx, &llm.Request{
		Model: selection.ModelName,
		System: "Answer the user's question from the query result below. Mention " +
			"what was queried and summarise the rows; do not invent data.",
		Messages: []llm.Message{{
			Role: models.RoleUser,
			Content: fmt.Sprintf("Question: %s\nQueried: %s\nRows: %s",
				userMessage, result.Explanation, renderRows(result)),
		}},
		Temperature: selection.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to narrate query result: %w", err)
	}
	return resp.Text, nil
}

func renderRows(result *pipelines.NLQueryResult) string {
	content, err := tools.MarshalResult(result.Rows)
	if err != nil {
		return "[]"
	}
	return content
}

func (s *Supervisor) ensureThread(ctx context.Context, threadID, userMessage string) (*models.Thread, error) {
	if threadID == "" {
		return s.store.NewThread(ctx, threadTitle(userMessage))
	}
	return s.store.GetThread(ctx, threadID)
}

// persistTurn appends the user and assistant messages. The lock is still
// held, so a concurrent turn cannot interleave its writes.
func (s *Supervisor) persistTurn(ctx context.Context, threadID, userMessage, answer string, selection llm.ModelSelection) error {
	if err := s.store.AppendMessage(ctx, threadID, models.Message{
		Role: models.RoleUser, Content: userMessage,
	}); err != nil {
		return fmt.Errorf("failed to append user message: %w", err)
	}
	if err := s.store.AppendMessage(ctx, threadID, models.Message{
		Role: models.RoleAssistant, Content: answer, ModelUsed: selection.ModelName,
	}); err != nil {
		return fmt.Errorf("failed to append assistant message: %w", err)
	}
	return nil
}

func threadTitle(userMessage string) string {
	title := strings.TrimSpace(userMessage)
	if len(title) > 60 {
		title = title[:60] + "…"
	}
	return title
}

func isCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

func categorise(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCategoryTimeout
	}
	return ErrCategoryUpstream
}
