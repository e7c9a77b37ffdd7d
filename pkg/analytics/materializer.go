// Package analytics derives structured entities (tasks, participants,
// CI pipelines, monthly metrics) and graph edges from the raw event
// log. The materialiser is batch, idempotent, and safe to re-run: every
// write is an upsert on a natural key.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forgesight/forgesight/pkg/models"
	"github.com/forgesight/forgesight/pkg/storage/relational"
	"github.com/forgesight/forgesight/pkg/storage/timeseries"
)

// DefaultLookbackHours is the scan window when the caller passes zero.
const DefaultLookbackHours = 24

// issueKeyPattern extracts issue keys from PR titles and branch names.
var issueKeyPattern = regexp.MustCompile(`[A-Z]+-[0-9]+`)

type eventSource interface {
	QueryEvents(ctx context.Context, f timeseries.EventFilter) ([]timeseries.EventRow, error)
	ActorActivity(ctx context.Context, actorIDs []string, days int) ([]timeseries.ActivityCounts, error)
}

type structuredStore interface {
	UpsertTask(ctx context.Context, t *models.Task) (uuid.UUID, error)
	GetTaskByExternalKey(ctx context.Context, source models.Source, externalKey string) (*models.Task, error)
	InsertTaskEvent(ctx context.Context, ev *models.TaskEvent) (bool, error)
	UpsertParticipant(ctx context.Context, p *models.TaskParticipant) error
	UpsertCiPipeline(ctx context.Context, p *models.CiPipeline) error
	UpsertMonthlyMetrics(ctx context.Context, m *models.EmployeeMonthlyMetrics) error
	ResolveActor(ctx context.Context, source models.Source, actorID string) (uuid.UUID, error)
	FindProjectByExternalKey(ctx context.Context, key string) (*models.Project, error)
	ListEmployees(ctx context.Context, activeOnly bool, limit int) ([]models.Employee, error)
	ActorStrings(ctx context.Context, e *models.Employee) ([]string, error)
}

type graphWriter interface {
	RecordContribution(ctx context.Context, employeeID, projectID, kind string) error
	RecordCollaboration(ctx context.Context, employeeA, employeeB string) error
}

// EntityError is one failed entity in a batch. The batch itself always
// runs to completion.
type EntityError struct {
	Entity string `json:"entity"`
	Key    string `json:"key"`
	Error  string `json:"error"`
}

// Report summarises one materialiser run.
type Report struct {
	WindowHours     int           `json:"window_hours"`
	TasksUpserted   int           `json:"tasks_upserted"`
	TaskEvents      int           `json:"task_events_inserted"`
	Participants    int           `json:"participants_upserted"`
	Pipelines       int           `json:"pipelines_upserted"`
	MetricsUpserted int           `json:"monthly_metrics_upserted"`
	GraphEdges      int           `json:"graph_edges_written"`
	Errors          []EntityError `json:"errors,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	DurationSeconds float64       `json:"duration_seconds"`
}

func (r *Report) fail(entity, key string, err error) {
	r.Errors = append(r.Errors, EntityError{Entity: entity, Key: key, Error: err.Error()})
}

// Materialiser scans the event log and upserts derived entities into
// the structured and graph stores.
type Materialiser struct {
	events eventSource
	store  structuredStore
	graph  graphWriter
	logger *slog.Logger
}

func NewMaterialiser(events eventSource, store structuredStore, graph graphWriter, logger *slog.Logger) *Materialiser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materialiser{
		events: events,
		store:  store,
		graph:  graph,
		logger: logger.With("component", "materialiser"),
	}
}

// Run executes one materialisation pass over the trailing window.
// Entity-level failures are collected into the report and never abort
// the batch.
func (m *Materialiser) Run(ctx context.Context, lookbackHours int) (*Report, error) {
	if lookbackHours <= 0 {
		lookbackHours = DefaultLookbackHours
	}
	start := time.Now()
	report := &Report{WindowHours: lookbackHours, StartedAt: start.UTC()}
	since := start.Add(-time.Duration(lookbackHours) * time.Hour)

	m.materialiseTasks(ctx, since, report)
	m.materialiseCodeHost(ctx, since, report)
	m.materialiseMonthlyMetrics(ctx, report)

	report.DurationSeconds = time.Since(start).Seconds()
	m.logger.Info("materialiser run complete",
		"window_hours", lookbackHours,
		"tasks", report.TasksUpserted,
		"participants", report.Participants,
		"pipelines", report.Pipelines,
		"errors", len(report.Errors))
	return report, nil
}

// materialiseTasks upserts tasks and their status transitions from
// issue-tracker events.
func (m *Materialiser) materialiseTasks(ctx context.Context, since time.Time, report *Report) {
	rows, err := m.events.QueryEvents(ctx, timeseries.EventFilter{
		Source: models.SourceIssueTracker,
		Since:  since,
		Limit:  timeseries.DefaultQueryLimit,
	})
	if err != nil {
		report.fail("task", "query", err)
		return
	}

	for _, row := range rows {
		if row.EntityType != "issue" || row.EntityID == "" {
			continue
		}
		if err := m.upsertTaskFromRow(ctx, row, report); err != nil {
			report.fail("task", row.EntityID, err)
		}
	}
}

func (m *Materialiser) upsertTaskFromRow(ctx context.Context, row timeseries.EventRow, report *Report) error {
	status := metaString(row.Metadata, "status")
	if status == "" {
		status = statusFromEventType(row.EventType)
	}

	task := &models.Task{
		Source:          models.SourceIssueTracker,
		ExternalKey:     row.EntityID,
		Title:           metaString(row.Metadata, "title"),
		Description:     metaString(row.Metadata, "text"),
		Status:          status,
		StatusCategory:  CategoriseStatus(status),
		Priority:        metaString(row.Metadata, "priority"),
		UpdatedAtSource: &row.Timestamp,
	}
	if project, err := m.store.FindProjectByExternalKey(ctx, projectKeyOf(row.EntityID)); err == nil {
		task.ProjectID = &project.ID
	}
	if employeeID := m.resolveActor(ctx, row.Source, row.ActorID); employeeID != uuid.Nil {
		task.AssigneeEmployeeID = &employeeID
	}

	taskID, err := m.store.UpsertTask(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}
	report.TasksUpserted++

	ev := &models.TaskEvent{
		TaskID:     taskID,
		OccurredAt: row.Timestamp,
		EventType:  row.EventType,
		ToValue:    status,
	}
	if task.AssigneeEmployeeID != nil {
		ev.ActorEmployeeID = task.AssigneeEmployeeID
	}
	inserted, err := m.store.InsertTaskEvent(ctx, ev)
	if err != nil {
		return fmt.Errorf("failed to insert task event: %w", err)
	}
	if inserted {
		report.TaskEvents++
	}
	return nil
}

// materialiseCodeHost handles PR participants, CI pipelines, and the
// contribution/collaboration edges in one pass over code-host events.
func (m *Materialiser) materialiseCodeHost(ctx context.Context, since time.Time, report *Report) {
	rows, err := m.events.QueryEvents(ctx, timeseries.EventFilter{
		Source: models.SourceCodeHost,
		Since:  since,
		Limit:  timeseries.DefaultQueryLimit,
	})
	if err != nil {
		report.fail("code-host", "query", err)
		return
	}

	// taskMembers collects the employees touching each task this run, so
	// collaboration edges can be written pairwise afterwards.
	taskMembers := make(map[uuid.UUID][]uuid.UUID)

	for _, row := range rows {
		employeeID := m.resolveActor(ctx, row.Source, row.ActorID)

		switch row.EntityType {
		case "pull_request":
			m.materialiseParticipant(ctx, row, employeeID, taskMembers, report)
		case "ci_run":
			m.materialiseCiPipeline(ctx, row, report)
		}

		if employeeID != uuid.Nil && row.ProjectID != "" {
			if err := m.graph.RecordContribution(ctx, employeeID.String(), row.ProjectID, row.EventType); err != nil {
				report.fail("graph", row.EventID, err)
			} else {
				report.GraphEdges++
			}
		}
	}

	m.recordCollaborations(ctx, taskMembers, report)
}

func (m *Materialiser) materialiseParticipant(ctx context.Context, row timeseries.EventRow, employeeID uuid.UUID, taskMembers map[uuid.UUID][]uuid.UUID, report *Report) {
	if employeeID == uuid.Nil {
		return
	}
	text := metaString(row.Metadata, "title") + " " + metaString(row.Metadata, "branch")
	for _, key := range issueKeyPattern.FindAllString(text, -1) {
		task, err := m.store.GetTaskByExternalKey(ctx, models.SourceIssueTracker, key)
		if err != nil {
			if !errors.Is(err, relational.ErrNotFound) {
				report.fail("participant", key, err)
			}
			continue
		}
		role := "collaborator"
		if strings.HasPrefix(row.EventType, "pr_review") {
			role = "reviewer"
		}
		if err := m.store.UpsertParticipant(ctx, &models.TaskParticipant{
			TaskID: task.ID, EmployeeID: employeeID, Role: role,
		}); err != nil {
			report.fail("participant", key, err)
			continue
		}
		report.Participants++
		taskMembers[task.ID] = appendUnique(taskMembers[task.ID], employeeID)
	}
}

func (m *Materialiser) materialiseCiPipeline(ctx context.Context, row timeseries.EventRow, report *Report) {
	project, err := m.store.FindProjectByExternalKey(ctx, row.ProjectID)
	if err != nil {
		if !errors.Is(err, relational.ErrNotFound) {
			report.fail("pipeline", row.EntityID, err)
		}
		return
	}
	sha := metaString(row.Metadata, "head_sha")
	if sha == "" {
		sha = row.EntityID
	}

	pipeline := &models.CiPipeline{
		ProjectID:    project.ID,
		CommitSHA:    sha,
		Status:       ciStatus(row.EventType),
		TriggerActor: row.ActorID,
	}
	ts := row.Timestamp
	if pipeline.Status == "running" {
		pipeline.StartedAt = &ts
	} else {
		pipeline.FinishedAt = &ts
	}
	if err := m.store.UpsertCiPipeline(ctx, pipeline); err != nil {
		report.fail("pipeline", sha, err)
		return
	}
	report.Pipelines++
}

func (m *Materialiser) recordCollaborations(ctx context.Context, taskMembers map[uuid.UUID][]uuid.UUID, report *Report) {
	for taskID, members := range taskMembers {
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				if err := m.graph.RecordCollaboration(ctx, members[i].String(), members[j].String()); err != nil {
					report.fail("graph", taskID.String(), err)
					continue
				}
				report.GraphEdges++
			}
		}
	}
}

// materialiseMonthlyMetrics recomputes the current month's rollup for
// every active employee from their event-log activity.
func (m *Materialiser) materialiseMonthlyMetrics(ctx context.Context, report *Report) {
	employees, err := m.store.ListEmployees(ctx, true, 0)
	if err != nil {
		report.fail("monthly-metrics", "list", err)
		return
	}

	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	daysIntoMonth := int(now.Sub(monthStart).Hours()/24) + 1

	for i := range employees {
		e := &employees[i]
		actors, err := m.store.ActorStrings(ctx, e)
		if err != nil {
			report.fail("monthly-metrics", e.Email, err)
			continue
		}
		if len(actors) == 0 {
			continue
		}
		activity, err := m.events.ActorActivity(ctx, actors, daysIntoMonth)
		if err != nil {
			report.fail("monthly-metrics", e.Email, err)
			continue
		}

		metrics := &models.EmployeeMonthlyMetrics{
			EmployeeID:  e.ID,
			Month:       monthStart,
			GeneratedAt: now,
		}
		for _, a := range activity {
			for eventType, count := range a.ByType {
				switch {
				case eventType == "pr_merged":
					metrics.PRsMerged += count
				case strings.HasPrefix(eventType, "pr_review"):
					metrics.PRReviews += count
				case eventType == "issue_resolved" || eventType == "issue_closed":
					metrics.TasksCompleted += count
				case eventType == "issue_created":
					metrics.TasksStarted += count
				}
			}
		}
		if err := m.store.UpsertMonthlyMetrics(ctx, metrics); err != nil {
			report.fail("monthly-metrics", e.Email, err)
			continue
		}
		report.MetricsUpserted++
	}
}

// resolveActor maps an event actor to an employee, or Nil when unknown.
// An unresolvable actor is left null, never invented.
func (m *Materialiser) resolveActor(ctx context.Context, source, actorID string) uuid.UUID {
	if actorID == "" {
		return uuid.Nil
	}
	id, err := m.store.ResolveActor(ctx, models.Source(source), actorID)
	if err != nil {
		if !errors.Is(err, relational.ErrNotFound) {
			m.logger.Warn("actor resolution failed", "actor", actorID, "error", err)
		}
		return uuid.Nil
	}
	return id
}

func statusFromEventType(eventType string) string {
	switch eventType {
	case "issue_created":
		return "Open"
	case "issue_resolved":
		return "Resolved"
	case "issue_closed":
		return "Closed"
	default:
		return ""
	}
}

func ciStatus(eventType string) string {
	switch eventType {
	case "ci_succeeded":
		return "success"
	case "ci_failed":
		return "failure"
	default:
		return "running"
	}
}

func metaString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	v, _ := metadata[key].(string)
	return v
}

func projectKeyOf(issueKey string) string {
	if i := strings.IndexByte(issueKey, '-'); i > 0 {
		return issueKey[:i]
	}
	return ""
}

func appendUnique(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
