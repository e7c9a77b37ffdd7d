// Package llm abstracts the chat-completion providers behind one client
// interface so the agent runtime never branches on provider. Adapters
// exist for the OpenAI and Anthropic APIs; the router picks a profile,
// the registry maps it to an adapter.
package llm

import (
	"context"
	"encoding/json"

	"github.com/forgesight/forgesight/pkg/models"
)

// ToolDefinition describes one callable tool advertised to the model.
// InputSchema is a JSON-schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one conversation entry in provider-neutral form. Assistant
// messages may carry ToolCalls; tool messages carry the ToolCallID they
// answer.
type Message struct {
	Role       models.MessageRole
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
	IsError    bool
}

// Request is a single completion call.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the provider-neutral completion result. A response with
// ToolCalls means the reason-act loop must execute them and continue.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	Usage      Usage
	StopReason string
}

// Client is the provider-neutral completion interface.
type Client interface {
	// Complete issues one blocking completion.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// CompleteStream issues one completion, invoking onToken for each
	// text delta as it arrives. The returned response is the fully
	// accumulated result, identical in shape to Complete's.
	CompleteStream(ctx context.Context, req *Request, onToken func(string)) (*Response, error)
}
