// Package tools is the typed tool registry the agent runtime exposes to
// LLMs. Every tool declares a JSON-schema input surface; arguments are
// decoded into a typed struct and validated before the handler runs.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/forgesight/forgesight/pkg/llm"
)

// DefaultToolTimeout bounds a single tool invocation.
const DefaultToolTimeout = 30 * time.Second

// Tool groups. Specialists are granted subsets of these.
const (
	GroupRelational = "relational"
	GroupTimeseries = "timeseries"
	GroupGraph      = "graph"
	GroupVector     = "vector"
	GroupPipeline   = "pipeline"
	GroupActions    = "actions"
)

var validate = validator.New()

// Handler executes one tool call with already-validated raw arguments.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool is one registered capability.
type Tool struct {
	Name        string
	Description string
	Group       string
	InputSchema map[string]any
	Handler     Handler
}

// Result is the outcome fed back to the LLM as a tool message.
// Content is always valid JSON (or a plain error string when IsError).
type Result struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// Registry holds the tool table.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	timeout time.Duration
}

// NewRegistry creates an empty registry. timeout <= 0 uses the default
// per-call deadline.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	return &Registry{tools: make(map[string]Tool), timeout: timeout}
}

// Register adds one tool. Duplicate names are a programming error.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" || t.Handler == nil {
		return fmt.Errorf("tool requires a name and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// MustRegister panics on registration failure; wiring-time use only.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Definitions returns the LLM-facing schemas for the given groups, or
// all tools when no group is named. Sorted by name for a stable prompt.
func (r *Registry) Definitions(groups ...string) []llm.ToolDefinition {
	allowed := map[string]bool{}
	for _, g := range groups {
		allowed[g] = true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []llm.ToolDefinition
	for _, t := range r.tools {
		if len(allowed) > 0 && !allowed[t.Group] {
			continue
		}
		out = append(out, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs one tool call under the per-call deadline. Errors never
// escape as Go errors: they come back as IsError results so the LLM can
// read them and recover.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) *Result {
	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return &Result{
			CallID:  call.ID,
			Name:    call.Name,
			Content: fmt.Sprintf("unknown tool %q", call.Name),
			IsError: true,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	value, err := tool.Handler(ctx, call.Arguments)
	if err != nil {
		return &Result{CallID: call.ID, Name: call.Name, Content: err.Error(), IsError: true}
	}
	content, err := MarshalResult(value)
	if err != nil {
		return &Result{
			CallID:  call.ID,
			Name:    call.Name,
			Content: fmt.Sprintf("failed to serialise result: %v", err),
			IsError: true,
		}
	}
	return &Result{CallID: call.ID, Name: call.Name, Content: content}
}

// DecodeArgs unmarshals raw tool arguments into a typed input struct and
// runs its validate tags. Validation failures return a typed error the
// LLM sees verbatim.
func DecodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("argument validation failed: %w", err)
	}
	return nil
}
