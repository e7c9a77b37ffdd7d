package pipelines

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/forgesight/forgesight/pkg/llm"
	"github.com/forgesight/forgesight/pkg/models"
	"github.com/forgesight/forgesight/pkg/storage/relational"
	"github.com/forgesight/forgesight/pkg/storage/timeseries"
)

// StatusNotFound marks a structured miss instead of an error.
const StatusNotFound = "not_found"

type prepStore interface {
	FindEmployeeByName(ctx context.Context, name string) (*models.Employee, error)
	GetWorkload(ctx context.Context, employeeID uuid.UUID) (*relational.Workload, error)
	GetMonthlyMetrics(ctx context.Context, employeeID uuid.UUID, months int) ([]models.EmployeeMonthlyMetrics, error)
	OpenTasksForEmployee(ctx context.Context, employeeID uuid.UUID, limit int) ([]models.Task, error)
}

type activitySource interface {
	ActorActivity(ctx context.Context, actorIDs []string, days int) ([]timeseries.ActivityCounts, error)
}

// OneOnOneResult is the prep brief handed to a manager.
type OneOnOneResult struct {
	Status        string                          `json:"status"`
	Developer     *models.Employee                `json:"developer,omitempty"`
	Workload      *relational.Workload            `json:"workload,omitempty"`
	Metrics       []models.EmployeeMonthlyMetrics `json:"monthly_metrics,omitempty"`
	OpenTasks     []models.Task                   `json:"open_tasks,omitempty"`
	Activity      []timeseries.ActivityCounts     `json:"recent_activity,omitempty"`
	Brief         string                          `json:"brief,omitempty"`
	TalkingPoints []string                        `json:"talking_points,omitempty"`
}

// OneOnOnePipeline collects a developer's workload, delivery metrics, and
// recent activity and has an LLM write the prep brief.
type OneOnOnePipeline struct {
	store    prepStore
	activity activitySource
	client   llm.Client
	model    string
	logger   *slog.Logger
}

func NewOneOnOnePipeline(store prepStore, activity activitySource, client llm.Client, model string, logger *slog.Logger) *OneOnOnePipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &OneOnOnePipeline{store: store, activity: activity, client: client, model: model, logger: logger.With("pipeline", "oneonone")}
}

// Prepare builds the full brief. An unknown developer yields
// status=not_found, never an error.
func (p *OneOnOnePipeline) Prepare(ctx context.Context, developerName, managerContext string) (*OneOnOneResult, error) {
	result, err := p.collect(ctx, developerName)
	if err != nil || result.Status == StatusNotFound {
		return result, err
	}

	prompt := p.renderContext(result)
	if managerContext != "" {
		prompt += "\nManager context: " + managerContext
	}
	resp, err := p.client.Complete(ctx, &llm.Request{
		Model: p.model,
		System: "You prepare a manager for a 1:1. Write a short brief (2-3 " +
			"paragraphs) covering workload, delivery trend, and anything that " +
			"needs attention, then a line \"TALKING POINTS:\" followed by 3-5 " +
			"bullet points, one per line, each starting with \"- \".",
		Messages:    []llm.Message{{Role: models.RoleUser, Content: prompt}},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate prep brief: %w", err)
	}

	brief, points := splitTalkingPoints(resp.Text)
	result.Brief = brief
	result.TalkingPoints = points
	return result, nil
}

// TalkingPoints is the lighter variant: same data collection, bullet
// points only.
func (p *OneOnOnePipeline) TalkingPoints(ctx context.Context, developerName, managerContext string) (*OneOnOneResult, error) {
	result, err := p.collect(ctx, developerName)
	if err != nil || result.Status == StatusNotFound {
		return result, err
	}

	prompt := p.renderContext(result)
	if managerContext != "" {
		prompt += "\nManager context: " + managerContext
	}
	resp, err := p.client.Complete(ctx, &llm.Request{
		Model: p.model,
		System: "Suggest 3-5 talking points for a 1:1 based on the data. " +
			"One per line, each starting with \"- \". Nothing else.",
		Messages:    []llm.Message{{Role: models.RoleUser, Content: prompt}},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to suggest talking points: %w", err)
	}
	_, points := splitTalkingPoints("TALKING POINTS:\n" + resp.Text)
	result.TalkingPoints = points
	return result, nil
}

func (p *OneOnOnePipeline) collect(ctx context.Context, developerName string) (*OneOnOneResult, error) {
	emp, err := p.store.FindEmployeeByName(ctx, developerName)
	if errors.Is(err, relational.ErrNotFound) {
		return &OneOnOneResult{Status: StatusNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up developer: %w", err)
	}

	result := &OneOnOneResult{Status: StatusDone, Developer: emp}
	if result.Workload, err = p.store.GetWorkload(ctx, emp.ID); err != nil {
		return nil, fmt.Errorf("failed to load workload: %w", err)
	}
	if result.Metrics, err = p.store.GetMonthlyMetrics(ctx, emp.ID, 3); err != nil {
		return nil, fmt.Errorf("failed to load monthly metrics: %w", err)
	}
	if result.OpenTasks, err = p.store.OpenTasksForEmployee(ctx, emp.ID, 10); err != nil {
		return nil, fmt.Errorf("failed to load open tasks: %w", err)
	}
	result.Activity, err = p.activity.ActorActivity(ctx, []string{emp.Email}, 30)
	if err != nil {
		// Activity is enrichment; a cold event log should not block the brief.
		p.logger.Warn("failed to load recent activity", "developer", emp.Email, "error", err)
		result.Activity = nil
	}
	return result, nil
}

func (p *OneOnOnePipeline) renderContext(r *OneOnOneResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Developer: %s (%s, %s)\n", r.Developer.FullName, r.Developer.Title, r.Developer.Level)
	if r.Workload != nil {
		fmt.Fprintf(&b, "Allocation: %d%% across %d projects (overallocated: %t)\n",
			r.Workload.TotalAllocationPercent, len(r.Workload.Assignments), r.Workload.IsOverallocated)
	}
	for _, m := range r.Metrics {
		fmt.Fprintf(&b, "Month %s: %d tasks completed, %d overdue, %d blocked, %d PRs merged, %d reviews\n",
			m.Month.Format("2006-01"), m.TasksCompleted, m.OverdueOpen, m.BlockedItems, m.PRsMerged, m.PRReviews)
	}
	if len(r.OpenTasks) > 0 {
		b.WriteString("Open tasks:\n")
		for _, t := range r.OpenTasks {
			fmt.Fprintf(&b, "- [%s] %s (%s)\n", t.ExternalKey, t.Title, t.Status)
		}
	}
	for _, a := range r.Activity {
		fmt.Fprintf(&b, "Activity last 30d (%s): %d events\n", a.ActorID, a.Total)
	}
	return b.String()
}

// splitTalkingPoints separates the prose brief from the bullet list.
func splitTalkingPoints(text string) (string, []string) {
	marker := "TALKING POINTS:"
	idx := strings.Index(strings.ToUpper(text), marker)
	if idx < 0 {
		return strings.TrimSpace(text), nil
	}
	brief := strings.TrimSpace(text[:idx])
	var points []string
	for _, line := range strings.Split(text[idx+len(marker):], "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") {
			points = append(points, strings.TrimPrefix(line, "- "))
		}
	}
	return brief, points
}
