package stream

import (
	"sync"
	"time"
)

// DefaultBusSize bounds the per-turn event buffer.
const DefaultBusSize = 256

// Bus is the bounded per-turn event channel. One producer (the
// supervisor turn), one consumer (a renderer). Publishing a terminal
// event closes the bus; later publishes are silently ignored, which
// keeps the one-final-or-error contract even on racy error paths.
//
// Backpressure: when the buffer is full, non-essential events (token,
// thinking) are dropped; essential events block until the consumer
// catches up.
type Bus struct {
	ch     chan Event
	turnID string

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewBus creates a bus for one turn. size <= 0 uses DefaultBusSize.
func NewBus(turnID string, size int) *Bus {
	if size <= 0 {
		size = DefaultBusSize
	}
	return &Bus{ch: make(chan Event, size), turnID: turnID}
}

// Events is the consumer side. The channel closes after the terminal
// event (or an explicit Abandon).
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// TurnID returns the turn this bus belongs to.
func (b *Bus) TurnID() string {
	return b.turnID
}

// Dropped reports how many non-essential events were discarded under
// backpressure.
func (b *Bus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Publish emits one event. Returns false when the event was dropped or
// the bus is already closed.
func (b *Bus) Publish(eventType EventType, data any) bool {
	evt := Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
		TurnID:    b.turnID,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	if eventType.Terminal() {
		// Terminal events always get through: the consumer drains the
		// buffered backlog and then sees the close.
		b.closed = true
		b.mu.Unlock()
		b.ch <- evt
		close(b.ch)
		return true
	}
	b.mu.Unlock()

	if !eventType.Essential() {
		select {
		case b.ch <- evt:
			return true
		default:
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
			return false
		}
	}
	b.ch <- evt
	return true
}

// Abandon closes the bus without a terminal event. Used when the client
// disconnects mid-turn and no further events may be emitted.
func (b *Bus) Abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

// Convenience emitters used by the supervisor and specialists.

func (b *Bus) RoutingDecision(specialist, reason string) {
	b.Publish(EventRoutingDecision, RoutingDecisionData{Specialist: specialist, Reason: reason})
}

func (b *Bus) ModelSelection(modelName, displayName, emoji, reason string) {
	b.Publish(EventModelSelection, ModelSelectionData{
		ModelName: modelName, DisplayName: displayName, Emoji: emoji, Reason: reason,
	})
}

func (b *Bus) Token(text string) {
	b.Publish(EventToken, TokenData{Text: text})
}

func (b *Bus) ToolStart(name, args string) {
	b.Publish(EventToolStart, ToolStartData{Name: name, Args: args})
}

func (b *Bus) ToolEnd(name, preview string, duration time.Duration, isError bool) {
	b.Publish(EventToolEnd, ToolEndData{
		Name: name, ResultPreview: preview, DurationMS: duration.Milliseconds(), IsError: isError,
	})
}

func (b *Bus) Thinking(status string) {
	b.Publish(EventThinking, ThinkingData{Status: status})
}

func (b *Bus) Final(content, modelUsed, threadID string) {
	b.Publish(EventFinal, FinalData{Content: content, ModelUsed: modelUsed, ThreadID: threadID})
}

func (b *Bus) Error(category, message string) {
	b.Publish(EventError, ErrorData{Category: category, Message: message})
}
