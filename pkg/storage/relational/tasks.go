package relational

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forgesight/forgesight/pkg/models"
)

// UpsertTask inserts or updates a task keyed by (source, external_key)
// and returns its ID. All materialiser writes are upserts with natural
// keys so the batch is safe to re-run.
func (c *Client) UpsertTask(ctx context.Context, t *models.Task) (uuid.UUID, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	labels, err := json.Marshal(t.Labels)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal labels: %w", err)
	}
	if t.Labels == nil {
		labels = []byte("[]")
	}
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if t.Metadata == nil {
		metadata = []byte("{}")
	}

	var id uuid.UUID
	err = c.db.GetContext(ctx, &id, `
		INSERT INTO tasks (source, external_key, project_id, title, description,
		                   status, status_category, priority,
		                   reporter_employee_id, assignee_employee_id,
		                   created_at_source, updated_at_source, due_date,
		                   estimate_points, labels, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (source, external_key) DO UPDATE SET
		    project_id           = COALESCE(EXCLUDED.project_id, tasks.project_id),
		    title                = EXCLUDED.title,
		    description          = EXCLUDED.description,
		    status               = EXCLUDED.status,
		    status_category      = EXCLUDED.status_category,
		    priority             = EXCLUDED.priority,
		    reporter_employee_id = COALESCE(EXCLUDED.reporter_employee_id, tasks.reporter_employee_id),
		    assignee_employee_id = EXCLUDED.assignee_employee_id,
		    updated_at_source    = EXCLUDED.updated_at_source,
		    due_date             = EXCLUDED.due_date,
		    estimate_points      = EXCLUDED.estimate_points,
		    labels               = EXCLUDED.labels,
		    metadata             = EXCLUDED.metadata
		RETURNING id`,
		string(t.Source), t.ExternalKey, t.ProjectID, t.Title, t.Description,
		t.Status, string(t.StatusCategory), t.Priority,
		t.ReporterEmployeeID, t.AssigneeEmployeeID,
		t.CreatedAtSource, t.UpdatedAtSource, t.DueDate,
		t.EstimatePoints, labels, metadata,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert task %s/%s: %w", t.Source, t.ExternalKey, err)
	}
	return id, nil
}

// GetTaskByExternalKey fetches a task by its natural key.
func (c *Client) GetTaskByExternalKey(ctx context.Context, source models.Source, externalKey string) (*models.Task, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	var t models.Task
	err := c.db.GetContext(ctx, &t, `
		SELECT id, source, external_key, project_id, title, description, status,
		       status_category, priority, reporter_employee_id, assignee_employee_id,
		       created_at_source, updated_at_source, due_date, estimate_points
		FROM tasks WHERE source = $1 AND external_key = $2`,
		string(source), externalKey)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s/%s: %w", source, externalKey, err)
	}
	return &t, nil
}

// InsertTaskEvent appends a status transition, deduplicating on
// (task_id, occurred_at, event_type). Returns false when the row already
// existed.
func (c *Client) InsertTaskEvent(ctx context.Context, ev *models.TaskEvent) (bool, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal payload: %w", err)
	}
	if ev.Payload == nil {
		payload = []byte("{}")
	}

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO task_events (task_id, occurred_at, event_type, from_value, to_value, actor_employee_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (task_id, occurred_at, event_type) DO NOTHING`,
		ev.TaskID, ev.OccurredAt.UTC(), ev.EventType, ev.FromValue, ev.ToValue,
		ev.ActorEmployeeID, payload,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert task event: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpsertParticipant records a reviewer/collaborator with conflict-ignore.
func (c *Client) UpsertParticipant(ctx context.Context, p *models.TaskParticipant) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO task_participants (task_id, employee_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (task_id, employee_id, role) DO NOTHING`,
		p.TaskID, p.EmployeeID, p.Role,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert participant: %w", err)
	}
	return nil
}

// UpsertCiPipeline inserts or updates a CI run keyed by
// (project_id, commit_sha), advancing status and finished_at on change.
func (c *Client) UpsertCiPipeline(ctx context.Context, p *models.CiPipeline) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO ci_pipelines (project_id, commit_sha, status, started_at, finished_at, error_log, trigger_actor)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id, commit_sha) DO UPDATE SET
		    status       = EXCLUDED.status,
		    started_at   = COALESCE(ci_pipelines.started_at, EXCLUDED.started_at),
		    finished_at  = COALESCE(EXCLUDED.finished_at, ci_pipelines.finished_at),
		    error_log    = CASE WHEN EXCLUDED.error_log != '' THEN EXCLUDED.error_log ELSE ci_pipelines.error_log END,
		    trigger_actor = CASE WHEN EXCLUDED.trigger_actor != '' THEN EXCLUDED.trigger_actor ELSE ci_pipelines.trigger_actor END`,
		p.ProjectID, p.CommitSHA, p.Status, p.StartedAt, p.FinishedAt,
		p.ErrorLog, p.TriggerActor,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert ci pipeline %s@%s: %w", p.ProjectID, p.CommitSHA, err)
	}
	return nil
}

// UpsertMonthlyMetrics writes one (employee, month) aggregate, replacing
// counters on conflict. The month is normalised to its first day.
func (c *Client) UpsertMonthlyMetrics(ctx context.Context, m *models.EmployeeMonthlyMetrics) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	month := time.Date(m.Month.Year(), m.Month.Month(), 1, 0, 0, 0, 0, time.UTC)
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO employee_monthly_metrics
		    (employee_id, month, tasks_completed, tasks_started, overdue_open,
		     blocked_items, prs_merged_count, pr_reviews_count, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (employee_id, month) DO UPDATE SET
		    tasks_completed  = EXCLUDED.tasks_completed,
		    tasks_started    = EXCLUDED.tasks_started,
		    overdue_open     = EXCLUDED.overdue_open,
		    blocked_items    = EXCLUDED.blocked_items,
		    prs_merged_count = EXCLUDED.prs_merged_count,
		    pr_reviews_count = EXCLUDED.pr_reviews_count,
		    generated_at     = now()`,
		m.EmployeeID, month, m.TasksCompleted, m.TasksStarted, m.OverdueOpen,
		m.BlockedItems, m.PRsMerged, m.PRReviews,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert monthly metrics: %w", err)
	}
	return nil
}

// GetMonthlyMetrics fetches the most recent aggregates for an employee.
func (c *Client) GetMonthlyMetrics(ctx context.Context, employeeID uuid.UUID, months int) ([]models.EmployeeMonthlyMetrics, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if months <= 0 {
		months = 3
	}
	var out []models.EmployeeMonthlyMetrics
	err := c.db.SelectContext(ctx, &out, fmt.Sprintf(`
		SELECT employee_id, month, tasks_completed, tasks_started, overdue_open,
		       blocked_items, prs_merged_count, pr_reviews_count, generated_at
		FROM employee_monthly_metrics
		WHERE employee_id = $1
		ORDER BY month DESC LIMIT %d`, months), employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get monthly metrics: %w", err)
	}
	return out, nil
}

// OpenTasksForEmployee lists the employee's unfinished tasks, oldest due
// first, for 1:1 prep and workload views.
func (c *Client) OpenTasksForEmployee(ctx context.Context, employeeID uuid.UUID, limit int) ([]models.Task, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if limit <= 0 || limit > MaxListLimit {
		limit = 50
	}
	var out []models.Task
	err := c.db.SelectContext(ctx, &out, fmt.Sprintf(`
		SELECT id, source, external_key, project_id, title, description, status,
		       status_category, priority, reporter_employee_id, assignee_employee_id,
		       created_at_source, updated_at_source, due_date, estimate_points
		FROM tasks
		WHERE assignee_employee_id = $1 AND status_category IN ('todo', 'in_progress', 'blocked')
		ORDER BY due_date NULLS LAST, updated_at_source DESC
		LIMIT %d`, limit), employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open tasks: %w", err)
	}
	return out, nil
}
