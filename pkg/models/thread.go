package models

import "time"

// MessageRole is the conversational role of a thread message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Message is one entry in a conversation thread.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	ModelUsed string      `json:"model_used,omitempty"`
	Timestamp time.Time   `json:"timestamp"`

	// ToolName and ToolCallID tie tool-result messages to the call that
	// produced them. Empty for user/assistant/system messages.
	ToolName   string `json:"tool_name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Thread is a conversation with ordered messages.
type Thread struct {
	ID         string    `json:"thread_id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Messages   []Message `json:"messages"`
}
