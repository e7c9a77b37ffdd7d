package stream

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(bus *Bus) []Event {
	var out []Event
	for evt := range bus.Events() {
		out = append(out, evt)
	}
	return out
}

func TestBusClosesAfterFinal(t *testing.T) {
	bus := NewBus("turn-1", 16)
	bus.Thinking("routing")
	bus.Token("hello")
	bus.Final("hello world", "gpt-4o", "thread-1")

	// Publishes after the terminal event are ignored.
	assert.False(t, bus.Publish(EventToken, TokenData{Text: "late"}))
	assert.False(t, bus.Publish(EventError, ErrorData{Category: "internal", Message: "late"}))

	events := drain(bus)
	require.Len(t, events, 3)
	assert.Equal(t, EventFinal, events[2].Type)

	terminals := 0
	for _, evt := range events {
		if evt.Type.Terminal() {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals, "exactly one terminal event per turn")
}

func TestBusDropsNonEssentialUnderBackpressure(t *testing.T) {
	bus := NewBus("turn-1", 2)

	// No consumer yet: the buffer fills, extra tokens drop.
	assert.True(t, bus.Publish(EventToken, TokenData{Text: "a"}))
	assert.True(t, bus.Publish(EventToken, TokenData{Text: "b"}))
	assert.False(t, bus.Publish(EventToken, TokenData{Text: "c"}))
	assert.False(t, bus.Publish(EventThinking, ThinkingData{Status: "x"}))
	assert.Equal(t, 2, bus.Dropped())

	// Essential events still arrive once the consumer drains.
	go func() {
		bus.Publish(EventToolStart, ToolStartData{Name: "get_workload"})
		bus.Final("done", "gpt-4o", "thread-1")
	}()
	events := drain(bus)
	types := make([]EventType, 0, len(events))
	for _, evt := range events {
		types = append(types, evt.Type)
	}
	assert.Contains(t, types, EventToolStart)
	assert.Equal(t, EventFinal, types[len(types)-1])
}

func TestBusAbandonStopsEmission(t *testing.T) {
	bus := NewBus("turn-1", 4)
	bus.Token("partial")
	bus.Abandon()

	assert.False(t, bus.Publish(EventFinal, FinalData{Content: "x"}))
	events := drain(bus)
	require.Len(t, events, 1)
	assert.Equal(t, EventToken, events[0].Type)
}

func TestBusErrorIsTerminal(t *testing.T) {
	bus := NewBus("turn-1", 4)
	bus.Error("timeout", "tool deadline exceeded")
	events := drain(bus)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	data := events[0].Data.(ErrorData)
	assert.Equal(t, "timeout", data.Category)
}

func TestWriteSSEFraming(t *testing.T) {
	var buf bytes.Buffer
	evt := Event{
		Type:      EventToolEnd,
		Data:      ToolEndData{Name: "get_dora_metrics", DurationMS: 42},
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		TurnID:    "turn-9",
	}
	require.NoError(t, WriteSSE(&buf, evt))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "event: tool_end\ndata: "))
	assert.True(t, strings.HasSuffix(out, "\n\n"))
	assert.Contains(t, out, `"turn_id":"turn-9"`)
	assert.Contains(t, out, `"duration_ms":42`)
}

func TestRenderConsole(t *testing.T) {
	bus := NewBus("turn-1", 16)
	bus.RoutingDecision("dora_specialist", "analytics question")
	bus.Token("dep")
	bus.Token("loys: 10")
	bus.ToolEnd("get_dora_metrics", "{...}", 20*time.Millisecond, false)
	bus.Final("deploys: 10", "gpt-4o", "thread-1")

	var buf bytes.Buffer
	RenderConsole(&buf, bus.Events())
	out := buf.String()
	assert.Contains(t, out, "dora_specialist")
	assert.Contains(t, out, "deploys: 10")
	assert.Contains(t, out, "get_dora_metrics")
}
