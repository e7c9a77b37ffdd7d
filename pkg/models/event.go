// Package models defines the canonical data types shared across the
// ingestion pipeline, the stores, and the agent runtime.
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source identifies where an event originated.
type Source string

const (
	SourceCodeHost     Source = "code-host"
	SourceIssueTracker Source = "issue-tracker"
	SourceDocs         Source = "docs"
	SourceInternal     Source = "internal"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceCodeHost, SourceIssueTracker, SourceDocs, SourceInternal:
		return true
	}
	return false
}

// MaxEventMetadataBytes caps the opaque metadata blob stored per event.
const MaxEventMetadataBytes = 64 * 1024

// eventIDNamespace is the UUIDv5 namespace for deterministic event IDs.
// Generated once; never change it or re-delivered events stop deduplicating.
var eventIDNamespace = uuid.MustParse("4f2d9e7a-1b8c-4a53-9c06-2e8f5b7d1a42")

// Event is the canonical, immutable event record stored in the
// time-series log. The natural dedup key is
// (source, event_type, entity_id, timestamp); EventID is derived from it
// so broker re-delivery is idempotent.
type Event struct {
	EventID    uuid.UUID      `json:"event_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Source     Source         `json:"source"`
	EventType  string         `json:"event_type"`
	ProjectID  string         `json:"project_id"`
	ActorID    string         `json:"actor_id"`
	EntityID   string         `json:"entity_id"`
	EntityType string         `json:"entity_type"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// DeriveEventID computes the deterministic event ID from the natural key.
// Timestamps are normalised to UTC RFC3339 so the same instant always
// hashes identically regardless of the producer's zone.
func DeriveEventID(source Source, eventType, entityID string, ts time.Time) uuid.UUID {
	key := fmt.Sprintf("%s|%s|%s|%s", source, eventType, entityID, ts.UTC().Format(time.RFC3339))
	return uuid.NewSHA1(eventIDNamespace, []byte(key))
}

// MetadataJSON serialises the metadata blob, enforcing the size cap.
// Oversized metadata is replaced by a truncation marker rather than
// failing the event.
func (e *Event) MetadataJSON() string {
	if len(e.Metadata) == 0 {
		return "{}"
	}
	data, err := json.Marshal(e.Metadata)
	if err != nil {
		return "{}"
	}
	if len(data) > MaxEventMetadataBytes {
		return fmt.Sprintf(`{"truncated":true,"original_bytes":%d}`, len(data))
	}
	return string(data)
}

// BrokerEnvelope is the JSON record carried (base64-encoded) in each
// broker message value.
type BrokerEnvelope struct {
	EventID   string          `json:"event_id"`
	Source    Source          `json:"source"`
	EventType string          `json:"event_type"`
	Timestamp json.RawMessage `json:"timestamp"` // ISO-8601 string or epoch number
	Raw       json.RawMessage `json:"raw"`
}

// ParseTimestamp decodes the envelope timestamp, accepting ISO-8601
// strings and epoch seconds.
func (b *BrokerEnvelope) ParseTimestamp() (time.Time, error) {
	var s string
	if err := json.Unmarshal(b.Timestamp, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("invalid timestamp string %q", s)
	}
	var epoch float64
	if err := json.Unmarshal(b.Timestamp, &epoch); err == nil {
		sec := int64(epoch)
		nsec := int64((epoch - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %s", string(b.Timestamp))
}
