// Package stream carries the typed per-turn event protocol between the
// agent runtime and its renderers. A turn produces a sequence of events
// ending in exactly one final or error; the SSE and console renderers
// consume the same bus.
package stream

import "time"

// EventType discriminates stream events.
type EventType string

const (
	EventRoutingDecision EventType = "routing_decision"
	EventModelSelection  EventType = "model_selection"
	EventToken           EventType = "token"
	EventToolStart       EventType = "tool_start"
	EventToolEnd         EventType = "tool_end"
	EventThinking        EventType = "thinking"
	EventFinal           EventType = "final"
	EventError           EventType = "error"
)

// Essential reports whether an event survives backpressure. Slow
// consumers drop token and thinking events first.
func (t EventType) Essential() bool {
	switch t {
	case EventToken, EventThinking:
		return false
	}
	return true
}

// Terminal reports whether the event ends the turn.
func (t EventType) Terminal() bool {
	return t == EventFinal || t == EventError
}

// Event is one entry on the turn stream.
type Event struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	TurnID    string    `json:"turn_id"`
}

// RoutingDecisionData announces which specialist serves the turn.
type RoutingDecisionData struct {
	Specialist string `json:"specialist"`
	Reason     string `json:"reason"`
}

// ModelSelectionData announces the model profile picked by the router.
type ModelSelectionData struct {
	ModelName   string `json:"model_name"`
	DisplayName string `json:"display_name"`
	Emoji       string `json:"emoji"`
	Reason      string `json:"reason"`
}

// TokenData is one partial-assistant-text delta.
type TokenData struct {
	Text string `json:"text"`
}

// ToolStartData announces a tool invocation.
type ToolStartData struct {
	Name string `json:"name"`
	Args string `json:"args"`
}

// ToolEndData reports a finished tool invocation.
type ToolEndData struct {
	Name          string `json:"name"`
	ResultPreview string `json:"result_preview"`
	DurationMS    int64  `json:"duration_ms"`
	IsError       bool   `json:"is_error,omitempty"`
}

// ThinkingData is a transient specialist status line.
type ThinkingData struct {
	Status string `json:"status"`
}

// FinalData is the complete assistant message closing the turn.
type FinalData struct {
	Content   string `json:"content"`
	ModelUsed string `json:"model_used"`
	ThreadID  string `json:"thread_id"`
}

// ErrorData closes the turn on failure. Category follows the error
// taxonomy (invalid_input, upstream_unavailable, timeout, not_found,
// backpressure, internal).
type ErrorData struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}
