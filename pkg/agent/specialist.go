// Package agent is the supervisor-routed reason-act runtime: a
// supervisor classifies each turn, picks a model, and hands the
// conversation to a specialist that loops between the LLM and the tool
// registry until it produces a final answer.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgesight/forgesight/pkg/llm"
	"github.com/forgesight/forgesight/pkg/models"
	"github.com/forgesight/forgesight/pkg/stream"
	"github.com/forgesight/forgesight/pkg/tools"
)

// Loop budgets. A turn never exceeds MaxSteps LLM round trips, and a
// single response never fans out to more than MaxToolCallsPerStep tools.
const (
	MaxSteps            = 8
	MaxToolCallsPerStep = 4
)

const resultPreviewLen = 200

// Specialist is a named persona: a fixed system prompt plus the tool
// groups it is allowed to call.
type Specialist struct {
	Name         string
	SystemPrompt string
	ToolGroups   []string
}

// The three personas the supervisor routes to.
var (
	DORASpecialist = Specialist{
		Name: "dora",
		SystemPrompt: "You are a delivery-metrics analyst. Use the event-log and " +
			"anomaly tools to answer questions about deployments, lead time, " +
			"failure rates, and team throughput. Quote concrete numbers and name " +
			"the window they cover.",
		ToolGroups: []string{tools.GroupTimeseries, tools.GroupPipeline},
	}
	ResourceSpecialist = Specialist{
		Name: "resource",
		SystemPrompt: "You are a resource-planning assistant. Use the people, " +
			"project, and workload tools to answer questions about allocation, " +
			"capacity, and 1:1 preparation. Flag overallocation explicitly.",
		ToolGroups: []string{tools.GroupRelational, tools.GroupPipeline},
	}
	InsightsSpecialist = Specialist{
		Name: "insights",
		SystemPrompt: "You are an engineering-intelligence assistant. Use lookup, " +
			"semantic-search, collaboration-graph, and knowledge-base tools to " +
			"answer questions about people, projects, and expertise. Cite the " +
			"evidence your answer rests on.",
		ToolGroups: []string{
			tools.GroupRelational, tools.GroupVector, tools.GroupGraph, tools.GroupPipeline,
		},
	}
)

// runner executes one specialist turn against the tool registry.
type runner struct {
	registry *tools.Registry
	logger   *slog.Logger
}

// run drives the reason-act loop and returns the specialist's final
// text. Tool failures flow back to the model as tool messages; only
// transport-level errors abort the turn.
func (r *runner) run(ctx context.Context, spec Specialist, client llm.Client, sel llm.ModelSelection, messages []llm.Message, bus *stream.Bus) (string, error) {
	defs := r.registry.Definitions(spec.ToolGroups...)
	history := append([]llm.Message{}, messages...)

	for step := 0; step < MaxSteps; step++ {
		bus.Thinking(fmt.Sprintf("%s specialist is thinking (step %d)", spec.Name, step+1))

		resp, err := client.CompleteStream(ctx, &llm.Request{
			Model:       sel.ModelName,
			System:      spec.SystemPrompt,
			Messages:    history,
			Tools:       defs,
			Temperature: sel.Temperature,
		}, bus.Token)
		if err != nil {
			return "", fmt.Errorf("failed to call model at step %d: %w", step+1, err)
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Text, nil
		}

		calls := resp.ToolCalls
		if len(calls) > MaxToolCallsPerStep {
			r.logger.Warn("model requested too many tool calls, truncating",
				"specialist", spec.Name, "requested", len(calls), "cap", MaxToolCallsPerStep)
			calls = calls[:MaxToolCallsPerStep]
		}

		history = append(history, llm.Message{
			Role:      models.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: calls,
		})
		for _, call := range calls {
			history = append(history, r.execute(ctx, call, bus))
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
		}
	}

	// Step budget exhausted: ask for the best partial answer from what
	// has been gathered, without offering more tools.
	bus.Thinking(fmt.Sprintf("%s specialist is summarising partial findings", spec.Name))
	history = append(history, llm.Message{
		Role: models.RoleUser,
		Content: "You have reached the investigation limit. Answer the original " +
			"question now as best you can from the information gathered so far, " +
			"and say what you could not verify.",
	})
	resp, err := client.CompleteStream(ctx, &llm.Request{
		Model:       sel.ModelName,
		System:      spec.SystemPrompt,
		Messages:    history,
		Temperature: sel.Temperature,
	}, bus.Token)
	if err != nil {
		return "", fmt.Errorf("failed to summarise partial findings: %w", err)
	}
	return resp.Text, nil
}

func (r *runner) execute(ctx context.Context, call llm.ToolCall, bus *stream.Bus) llm.Message {
	bus.ToolStart(call.Name, string(call.Arguments))
	start := time.Now()
	result := r.registry.Execute(ctx, call)
	bus.ToolEnd(call.Name, preview(result.Content), time.Since(start), result.IsError)

	if result.IsError {
		r.logger.Warn("tool call failed", "tool", call.Name, "error", result.Content)
	}
	return llm.Message{
		Role:       models.RoleTool,
		Content:    result.Content,
		ToolCallID: result.CallID,
		ToolName:   result.Name,
		IsError:    result.IsError,
	}
}

func preview(s string) string {
	if len(s) <= resultPreviewLen {
		return s
	}
	return s[:resultPreviewLen] + "…"
}
