package models

import (
	"time"

	"github.com/google/uuid"
)

// Employee is a person in the organisation. Soft-deleted via Active=false;
// never hard-deleted while referenced.
type Employee struct {
	ID       uuid.UUID `db:"id" json:"id"`
	FullName string    `db:"full_name" json:"full_name"`
	Email    string    `db:"email" json:"email"`
	Title    string    `db:"title" json:"title"`
	Role     string    `db:"role" json:"role"`
	TeamID   *uuid.UUID `db:"team_id" json:"team_id,omitempty"`
	Level    string    `db:"level" json:"level"`
	Active   bool      `db:"active" json:"active"`
}

// Project is a unit of delivery with optional external keys linking it to
// the code host and issue tracker.
type Project struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	Name            string     `db:"name" json:"name"`
	Description     string     `db:"description" json:"description"`
	Status          string     `db:"status" json:"status"`
	Priority        string     `db:"priority" json:"priority"`
	TargetDate      *time.Time `db:"target_date" json:"target_date,omitempty"`
	RepoSlug        string     `db:"repo_slug" json:"repo_slug,omitempty"`
	IssueProjectKey string     `db:"issue_project_key" json:"issue_project_key,omitempty"`
}

// ProjectAssignment allocates an employee to a project.
// AllocatedPercent is within [0,100] per assignment; an employee's total
// across active projects may exceed 100 — that is what the resource
// planner flags.
type ProjectAssignment struct {
	EmployeeID       uuid.UUID `db:"employee_id" json:"employee_id"`
	ProjectID        uuid.UUID `db:"project_id" json:"project_id"`
	Role             string    `db:"role" json:"role"`
	AllocatedPercent int       `db:"allocated_percent" json:"allocated_percent"`
}

// IdentityMapping resolves an external actor string (e.g. a code-host
// login) to an employee.
type IdentityMapping struct {
	EmployeeID       uuid.UUID `db:"employee_id" json:"employee_id"`
	Source           Source    `db:"source" json:"source"`
	ExternalID       string    `db:"external_id" json:"external_id"`
	ExternalUsername string    `db:"external_username" json:"external_username"`
}

// StatusCategory is the normalised task status bucket.
type StatusCategory string

const (
	StatusTodo       StatusCategory = "todo"
	StatusInProgress StatusCategory = "in_progress"
	StatusDone       StatusCategory = "done"
	StatusBlocked    StatusCategory = "blocked"
)

// Task is materialised from issue-tracker events, keyed by
// (Source, ExternalKey).
type Task struct {
	ID                 uuid.UUID      `db:"id" json:"id"`
	Source             Source         `db:"source" json:"source"`
	ExternalKey        string         `db:"external_key" json:"external_key"`
	ProjectID          *uuid.UUID     `db:"project_id" json:"project_id,omitempty"`
	Title              string         `db:"title" json:"title"`
	Description        string         `db:"description" json:"description"`
	Status             string         `db:"status" json:"status"`
	StatusCategory     StatusCategory `db:"status_category" json:"status_category"`
	Priority           string         `db:"priority" json:"priority"`
	ReporterEmployeeID *uuid.UUID     `db:"reporter_employee_id" json:"reporter_employee_id,omitempty"`
	AssigneeEmployeeID *uuid.UUID     `db:"assignee_employee_id" json:"assignee_employee_id,omitempty"`
	CreatedAtSource    *time.Time     `db:"created_at_source" json:"created_at_source,omitempty"`
	UpdatedAtSource    *time.Time     `db:"updated_at_source" json:"updated_at_source,omitempty"`
	DueDate            *time.Time     `db:"due_date" json:"due_date,omitempty"`
	EstimatePoints     *float64       `db:"estimate_points" json:"estimate_points,omitempty"`
	Labels             []string       `db:"-" json:"labels,omitempty"`
	Metadata           map[string]any `db:"-" json:"metadata,omitempty"`
}

// TaskEvent is an append-only status transition.
// Dedup key: (TaskID, OccurredAt, EventType).
type TaskEvent struct {
	TaskID          uuid.UUID      `db:"task_id" json:"task_id"`
	OccurredAt      time.Time      `db:"occurred_at" json:"occurred_at"`
	EventType       string         `db:"event_type" json:"event_type"`
	FromValue       string         `db:"from_value" json:"from_value"`
	ToValue         string         `db:"to_value" json:"to_value"`
	ActorEmployeeID *uuid.UUID     `db:"actor_employee_id" json:"actor_employee_id,omitempty"`
	Payload         map[string]any `db:"-" json:"payload,omitempty"`
}

// TaskParticipant links reviewers/collaborators to a task.
type TaskParticipant struct {
	TaskID     uuid.UUID `db:"task_id" json:"task_id"`
	EmployeeID uuid.UUID `db:"employee_id" json:"employee_id"`
	Role       string    `db:"role" json:"role"`
}

// CiPipeline is one CI run, keyed by (ProjectID, CommitSHA).
type CiPipeline struct {
	ProjectID    uuid.UUID  `db:"project_id" json:"project_id"`
	CommitSHA    string     `db:"commit_sha" json:"commit_sha"`
	Status       string     `db:"status" json:"status"`
	StartedAt    *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt   *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	ErrorLog     string     `db:"error_log" json:"error_log,omitempty"`
	TriggerActor string     `db:"trigger_actor" json:"trigger_actor,omitempty"`
}

// EmployeeMonthlyMetrics aggregates per-employee activity for one month.
// Keyed by (EmployeeID, Month); recomputed idempotently.
type EmployeeMonthlyMetrics struct {
	EmployeeID     uuid.UUID `db:"employee_id" json:"employee_id"`
	Month          time.Time `db:"month" json:"month"` // first day of month, UTC
	TasksCompleted int       `db:"tasks_completed" json:"tasks_completed"`
	TasksStarted   int       `db:"tasks_started" json:"tasks_started"`
	OverdueOpen    int       `db:"overdue_open" json:"overdue_open"`
	BlockedItems   int       `db:"blocked_items" json:"blocked_items"`
	PRsMerged      int       `db:"prs_merged_count" json:"prs_merged_count"`
	PRReviews      int       `db:"pr_reviews_count" json:"pr_reviews_count"`
	GeneratedAt    time.Time `db:"generated_at" json:"generated_at"`
}

// DeploymentMetrics is the per-project DORA aggregate computed from the
// event log. ChangeFailureRatePct is nil when TotalDeployments is zero.
type DeploymentMetrics struct {
	ProjectID             string   `json:"project_id"`
	TotalDeployments      int      `json:"total_deployments"`
	TotalFailedDeploys    int      `json:"total_failed_deployments"`
	ChangeFailureRatePct  *float64 `json:"change_failure_rate_pct"`
	DeploymentFreqPerWeek float64  `json:"deployment_freq_per_week"`
	AvgLeadTimeHours      *float64 `json:"avg_lead_time_hours"`
	TotalPRsMerged        int      `json:"total_prs_merged"`
	TotalCommits          int      `json:"total_commits"`
	StoryPointsCompleted  float64  `json:"story_points_completed"`
}
