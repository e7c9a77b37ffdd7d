// Package ingest turns raw webhook and broker payloads into canonical
// events and drives them through the bounded pipeline into the
// time-series log, with best-effort embedding fan-out.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/forgesight/forgesight/pkg/models"
)

// Normalisation failure modes. Unsupported events are logged and
// dropped, never fatal; invalid payloads are rejected to the caller.
var (
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrUnsupportedEvent = errors.New("unsupported event type")
)

// Webhook event-type headers per source.
const (
	codeHostEventHeader = "X-GitHub-Event"
	docsEventHeader     = "X-Docs-Event"
)

// Normalise converts one source-specific payload into a canonical event.
// It never performs I/O. The event-type header is preferred; structural
// tells on the body are the fallback.
func Normalise(source models.Source, headers http.Header, body []byte) (*models.Event, error) {
	if !source.Valid() {
		return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidPayload, source)
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch source {
	case models.SourceCodeHost:
		return normaliseCodeHost(headers, payload)
	case models.SourceIssueTracker:
		return normaliseIssueTracker(payload)
	case models.SourceDocs:
		return normaliseDocs(headers, payload)
	default:
		return normaliseInternal(payload)
	}
}

func normaliseCodeHost(headers http.Header, payload map[string]any) (*models.Event, error) {
	eventType := headers.Get(codeHostEventHeader)
	if eventType == "" {
		// Structural fallback when the header is absent (broker replays).
		switch {
		case payload["commits"] != nil:
			eventType = "push"
		case payload["pull_request"] != nil:
			eventType = "pull_request"
		case payload["issue"] != nil:
			eventType = "issues"
		case payload["deployment"] != nil:
			eventType = "deployment"
		case payload["workflow_run"] != nil:
			eventType = "workflow_run"
		default:
			return nil, fmt.Errorf("%w: no event header and no structural match", ErrUnsupportedEvent)
		}
	}

	eventType, entityID, entityType, err := codeHostEntity(eventType, payload)
	if err != nil {
		return nil, err
	}

	e := &models.Event{
		Source:     models.SourceCodeHost,
		EventType:  eventType,
		ProjectID:  stringField(payload, "repository", "full_name"),
		ActorID:    extractActor(payload),
		EntityID:   entityID,
		EntityType: entityType,
		Timestamp:  extractTimestamp(payload),
		Metadata:   compactMetadata(payload),
	}
	attachDurableText(e, payload, "pull_request", "issue")
	e.EventID = models.DeriveEventID(e.Source, e.EventType, e.EntityID, e.Timestamp)
	return e, nil
}

// codeHostEntity refines the generic webhook event into the canonical
// event type and the entity it concerns.
func codeHostEntity(eventType string, payload map[string]any) (string, string, string, error) {
	switch eventType {
	case "push":
		sha := stringField(payload, "head_commit", "id")
		if sha == "" {
			if after, _ := payload["after"].(string); after != "" {
				sha = after
			}
		}
		if sha == "" {
			return "", "", "", fmt.Errorf("%w: push without a commit sha", ErrInvalidPayload)
		}
		return "push", sha, "commit", nil
	case "pull_request":
		pr, _ := payload["pull_request"].(map[string]any)
		if pr == nil {
			return "", "", "", fmt.Errorf("%w: pull_request event without pull_request body", ErrInvalidPayload)
		}
		action, _ := payload["action"].(string)
		canonical := "pr_" + defaultString(action, "updated")
		if action == "closed" {
			if merged, _ := pr["merged"].(bool); merged {
				canonical = "pr_merged"
			}
		}
		return canonical, numberAsString(pr["number"]), "pull_request", nil
	case "issues":
		issue, _ := payload["issue"].(map[string]any)
		if issue == nil {
			return "", "", "", fmt.Errorf("%w: issues event without issue body", ErrInvalidPayload)
		}
		action, _ := payload["action"].(string)
		return "issue_" + defaultString(action, "updated"), numberAsString(issue["number"]), "issue", nil
	case "deployment", "deployment_status":
		dep, _ := payload["deployment"].(map[string]any)
		if dep == nil {
			return "", "", "", fmt.Errorf("%w: deployment event without deployment body", ErrInvalidPayload)
		}
		return "deployment", numberAsString(dep["id"]), "deployment", nil
	case "workflow_run":
		run, _ := payload["workflow_run"].(map[string]any)
		if run == nil {
			return "", "", "", fmt.Errorf("%w: workflow_run event without run body", ErrInvalidPayload)
		}
		conclusion, _ := run["conclusion"].(string)
		canonical := "ci_run"
		if conclusion == "failure" {
			canonical = "ci_failed"
		} else if conclusion == "success" {
			canonical = "ci_succeeded"
		}
		return canonical, numberAsString(run["id"]), "ci_run", nil
	default:
		return "", "", "", fmt.Errorf("%w: %s", ErrUnsupportedEvent, eventType)
	}
}

func normaliseIssueTracker(payload map[string]any) (*models.Event, error) {
	// The tracker carries its event name in the body, not a header.
	eventType, _ := payload["webhookEvent"].(string)
	if eventType == "" {
		return nil, fmt.Errorf("%w: missing webhookEvent field", ErrInvalidPayload)
	}
	issue, _ := payload["issue"].(map[string]any)
	if issue == nil {
		return nil, fmt.Errorf("%w: missing issue body", ErrInvalidPayload)
	}
	key, _ := issue["key"].(string)
	if key == "" {
		return nil, fmt.Errorf("%w: issue without key", ErrInvalidPayload)
	}

	canonical := strings.TrimPrefix(eventType, "jira:")
	canonical = strings.ReplaceAll(canonical, ":", "_")

	e := &models.Event{
		Source:     models.SourceIssueTracker,
		EventType:  canonical,
		ProjectID:  issueProject(key, issue),
		ActorID:    extractActor(payload),
		EntityID:   key,
		EntityType: "issue",
		Timestamp:  extractTimestamp(payload),
		Metadata:   compactMetadata(payload),
	}
	if fields, _ := issue["fields"].(map[string]any); fields != nil {
		setDurableText(e, fields["summary"], fields["description"])
		attachIssueFields(e, fields)
	}
	e.EventID = models.DeriveEventID(e.Source, e.EventType, e.EntityID, e.Timestamp)
	return e, nil
}

// attachIssueFields lifts the nested status and priority names into flat
// metadata. compactMetadata drops nested objects, so without this the
// tracker's workflow state never reaches the log row.
func attachIssueFields(e *models.Event, fields map[string]any) {
	for _, field := range []string{"status", "priority"} {
		obj, _ := fields[field].(map[string]any)
		if obj == nil {
			continue
		}
		name, _ := obj["name"].(string)
		if name == "" {
			continue
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata[field] = name
	}
}

func normaliseDocs(headers http.Header, payload map[string]any) (*models.Event, error) {
	eventType := headers.Get(docsEventHeader)
	if eventType == "" {
		eventType, _ = payload["event"].(string)
	}
	if eventType == "" {
		return nil, fmt.Errorf("%w: missing docs event type", ErrInvalidPayload)
	}
	page, _ := payload["page"].(map[string]any)
	pageID := ""
	if page != nil {
		pageID = numberAsString(page["id"])
	}
	if pageID == "" {
		return nil, fmt.Errorf("%w: docs event without page id", ErrInvalidPayload)
	}

	e := &models.Event{
		Source:     models.SourceDocs,
		EventType:  eventType,
		ProjectID:  stringField(payload, "space", "key"),
		ActorID:    extractActor(payload),
		EntityID:   pageID,
		EntityType: "page",
		Timestamp:  extractTimestamp(payload),
		Metadata:   compactMetadata(payload),
	}
	if page != nil {
		setDurableText(e, page["title"], page["body"])
	}
	e.EventID = models.DeriveEventID(e.Source, e.EventType, e.EntityID, e.Timestamp)
	return e, nil
}

func normaliseInternal(payload map[string]any) (*models.Event, error) {
	eventType, _ := payload["event_type"].(string)
	entityID, _ := payload["entity_id"].(string)
	if eventType == "" || entityID == "" {
		return nil, fmt.Errorf("%w: internal events require event_type and entity_id", ErrInvalidPayload)
	}
	e := &models.Event{
		Source:     models.SourceInternal,
		EventType:  eventType,
		ProjectID:  firstString(payload, "project_id"),
		ActorID:    firstString(payload, "actor_id"),
		EntityID:   entityID,
		EntityType: defaultString(firstString(payload, "entity_type"), "internal"),
		Timestamp:  extractTimestamp(payload),
		Metadata:   compactMetadata(payload),
	}
	e.EventID = models.DeriveEventID(e.Source, e.EventType, e.EntityID, e.Timestamp)
	return e, nil
}

// attachDurableText copies the entity's title and body into metadata so
// the embedding fan-out has text to index without re-parsing the raw
// payload. Only entities with long-lived prose qualify.
func attachDurableText(e *models.Event, payload map[string]any, containers ...string) {
	for _, container := range containers {
		if entity, _ := payload[container].(map[string]any); entity != nil {
			setDurableText(e, entity["title"], entity["body"])
			return
		}
	}
}

func setDurableText(e *models.Event, title, body any) {
	t, _ := title.(string)
	b, _ := body.(string)
	if t == "" && b == "" {
		return
	}
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	if t != "" {
		e.Metadata["title"] = t
	}
	if b != "" {
		e.Metadata["text"] = b
	}
}

// extractActor prefers email, then username, then display name, looking
// through the actor containers the sources use.
func extractActor(payload map[string]any) string {
	for _, container := range []string{"sender", "user", "actor", "author", "pusher"} {
		actor, _ := payload[container].(map[string]any)
		if actor == nil {
			continue
		}
		for _, field := range []string{"email", "emailAddress", "login", "name", "displayName"} {
			if v, _ := actor[field].(string); v != "" {
				return v
			}
		}
	}
	return ""
}

// extractTimestamp prefers updated_at, then created_at, then now.
func extractTimestamp(payload map[string]any) time.Time {
	for _, field := range []string{"updated_at", "updated", "created_at", "created", "timestamp"} {
		if v := findString(payload, field, 2); v != "" {
			if t, err := parseAnyTime(v); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Now().UTC()
}

func parseAnyTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000-0700", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}

// findString looks for a string field at the top level and one level
// deep (bounded, no recursion into arrays).
func findString(payload map[string]any, field string, depth int) string {
	if v, _ := payload[field].(string); v != "" {
		return v
	}
	if depth <= 1 {
		return ""
	}
	for _, v := range payload {
		if nested, ok := v.(map[string]any); ok {
			if s, _ := nested[field].(string); s != "" {
				return s
			}
		}
	}
	return ""
}

// compactMetadata keeps the scalar top-level fields as event metadata so
// the log row stays small; nested objects are dropped.
func compactMetadata(payload map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range payload {
		switch v.(type) {
		case string, float64, bool, nil:
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func stringField(payload map[string]any, container, field string) string {
	c, _ := payload[container].(map[string]any)
	if c == nil {
		return ""
	}
	v, _ := c[field].(string)
	return v
}

func firstString(payload map[string]any, field string) string {
	v, _ := payload[field].(string)
	return v
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func numberAsString(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return fmt.Sprintf("%.0f", n)
	default:
		return ""
	}
}

func issueProject(key string, issue map[string]any) string {
	if fields, _ := issue["fields"].(map[string]any); fields != nil {
		if project, _ := fields["project"].(map[string]any); project != nil {
			if k, _ := project["key"].(string); k != "" {
				return k
			}
		}
	}
	if i := strings.IndexByte(key, '-'); i > 0 {
		return key[:i]
	}
	return ""
}
