package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// DeadLetterEntry is one JSONL line in the dead-letter sink. RawBody
// carries the original payload so no event is silently lost.
type DeadLetterEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Reason    string          `json:"reason"`
	RawBody   json.RawMessage `json:"raw_body"`
}

// DeadLetterSink appends failed events to a JSONL file. Writes are
// serialised; the file is opened lazily and kept open.
type DeadLetterSink struct {
	path string

	mu   sync.Mutex
	file *os.File
}

func NewDeadLetterSink(path string) *DeadLetterSink {
	return &DeadLetterSink{path: path}
}

// Write appends one entry. A sink failure is returned to the caller so
// it can at least be logged; there is no lower tier to fall back to.
func (s *DeadLetterSink) Write(source, reason string, rawBody []byte) error {
	if !json.Valid(rawBody) {
		quoted, _ := json.Marshal(string(rawBody))
		rawBody = quoted
	}
	line, err := json.Marshal(DeadLetterEntry{
		Timestamp: time.Now().UTC(),
		Source:    source,
		Reason:    reason,
		RawBody:   rawBody,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open dead-letter sink: %w", err)
		}
		s.file = f
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write dead-letter entry: %w", err)
	}
	return nil
}

func (s *DeadLetterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
