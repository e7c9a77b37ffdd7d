package stream

import (
	"fmt"
	"io"
)

// ANSI colour codes for the console renderer.
const (
	ansiReset  = "\033[0m"
	ansiDim    = "\033[2m"
	ansiCyan   = "\033[36m"
	ansiYellow = "\033[33m"
	ansiGreen  = "\033[32m"
	ansiRed    = "\033[31m"
)

// RenderConsole drains the bus onto w in a colour-coded human-readable
// form. Token deltas are written inline; everything else gets its own
// line. Intended for the CLI chat mode and local debugging.
func RenderConsole(w io.Writer, events <-chan Event) {
	streaming := false
	endStream := func() {
		if streaming {
			fmt.Fprintln(w)
			streaming = false
		}
	}

	for evt := range events {
		switch data := evt.Data.(type) {
		case RoutingDecisionData:
			endStream()
			fmt.Fprintf(w, "%s→ %s%s %s(%s)%s\n", ansiCyan, data.Specialist, ansiReset, ansiDim, data.Reason, ansiReset)
		case ModelSelectionData:
			endStream()
			fmt.Fprintf(w, "%s%s %s%s %s(%s)%s\n", ansiCyan, data.Emoji, data.DisplayName, ansiReset, ansiDim, data.Reason, ansiReset)
		case TokenData:
			fmt.Fprint(w, data.Text)
			streaming = true
		case ToolStartData:
			endStream()
			fmt.Fprintf(w, "%s⚙ %s%s %s%s%s\n", ansiYellow, data.Name, ansiReset, ansiDim, data.Args, ansiReset)
		case ToolEndData:
			endStream()
			colour := ansiGreen
			if data.IsError {
				colour = ansiRed
			}
			fmt.Fprintf(w, "%s✓ %s (%dms)%s\n", colour, data.Name, data.DurationMS, ansiReset)
		case ThinkingData:
			endStream()
			fmt.Fprintf(w, "%s… %s%s\n", ansiDim, data.Status, ansiReset)
		case FinalData:
			endStream()
			fmt.Fprintf(w, "\n%s\n", data.Content)
		case ErrorData:
			endStream()
			fmt.Fprintf(w, "%s✗ %s: %s%s\n", ansiRed, data.Category, data.Message, ansiReset)
		}
	}
	endStream()
}
