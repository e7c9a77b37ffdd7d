package stream

import (
	"encoding/json"
	"fmt"
	"io"
)

// WriteSSE encodes one event in server-sent-event framing:
//
//	event: <type>
//	data: <json>
//
// The data line is the full event envelope so clients get the timestamp
// and turn_id without parsing headers.
func WriteSSE(w io.Writer, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal stream event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload); err != nil {
		return fmt.Errorf("failed to write SSE frame: %w", err)
	}
	return nil
}

// Flusher is the subset of http.Flusher the renderer needs.
type Flusher interface {
	Flush()
}

// RenderSSE drains the bus onto w, flushing after every frame. Returns
// on bus close or write error (client gone).
func RenderSSE(w io.Writer, flusher Flusher, events <-chan Event) error {
	for evt := range events {
		if err := WriteSSE(w, evt); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return nil
}
