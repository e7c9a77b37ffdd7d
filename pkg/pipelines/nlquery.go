package pipelines

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/forgesight/forgesight/pkg/llm"
	"github.com/forgesight/forgesight/pkg/models"
	"github.com/forgesight/forgesight/pkg/storage/timeseries"
)

// Query kinds the translator may emit. Anything else is rejected before
// touching a store; the plan is read-only by construction.
const (
	queryKindEvents      = "events"
	queryKindDeployments = "deployment_metrics"
	queryKindActivity    = "actor_activity"
)

type nlQueryStore interface {
	QueryEvents(ctx context.Context, f timeseries.EventFilter) ([]timeseries.EventRow, error)
	DeploymentMetrics(ctx context.Context, projectID string, days int) ([]models.DeploymentMetrics, error)
	ActorActivity(ctx context.Context, actorIDs []string, days int) ([]timeseries.ActivityCounts, error)
}

// queryPlan is the guarded intermediate the LLM produces.
type queryPlan struct {
	Kind        string   `json:"kind"`
	Source      string   `json:"source,omitempty"`
	EventType   string   `json:"event_type,omitempty"`
	ProjectID   string   `json:"project_id,omitempty"`
	ActorIDs    []string `json:"actor_ids,omitempty"`
	Days        int      `json:"days,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
}

// NLQueryResult carries the rows plus the plan that produced them.
type NLQueryResult struct {
	Kind        string `json:"kind"`
	Rows        any    `json:"rows"`
	Explanation string `json:"explanation"`
	Status      string `json:"status"`
}

// NLQueryPipeline translates a natural-language question into a
// whitelisted read-only query plan and executes it.
type NLQueryPipeline struct {
	store  nlQueryStore
	client llm.Client
	model  string
	logger *slog.Logger
}

func NewNLQueryPipeline(store nlQueryStore, client llm.Client, model string, logger *slog.Logger) *NLQueryPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &NLQueryPipeline{store: store, client: client, model: model, logger: logger.With("pipeline", "nlquery")}
}

const nlQuerySystemPrompt = `You translate questions about engineering activity into a JSON query plan. Output ONLY a JSON object:
{"kind": "events" | "deployment_metrics" | "actor_activity",
 "source": "code-host"|"issue-tracker"|"docs"|"internal" (events only, optional),
 "event_type": string (events only, optional),
 "project_id": string (optional),
 "actor_ids": [string] (optional),
 "days": int (trailing window, default 30),
 "limit": int (events only, max 500),
 "explanation": one sentence describing what the plan retrieves}`

// Run translates and executes. Plans referencing anything outside the
// whitelist fail with an error the caller surfaces as InvalidInput.
func (p *NLQueryPipeline) Run(ctx context.Context, question string) (*NLQueryResult, error) {
	resp, err := p.client.Complete(ctx, &llm.Request{
		Model:       p.model,
		System:      nlQuerySystemPrompt,
		Messages:    []llm.Message{{Role: models.RoleUser, Content: question}},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to translate question: %w", err)
	}

	plan, err := parseQueryPlan(resp.Text)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("query plan", "kind", plan.Kind, "days", plan.Days, "project_id", plan.ProjectID)

	result := &NLQueryResult{Kind: plan.Kind, Explanation: plan.Explanation, Status: StatusDone}
	switch plan.Kind {
	case queryKindEvents:
		days := plan.Days
		if days <= 0 {
			days = 30
		}
		rows, err := p.store.QueryEvents(ctx, timeseries.EventFilter{
			Source:    models.Source(plan.Source),
			EventType: plan.EventType,
			ProjectID: plan.ProjectID,
			ActorIDs:  plan.ActorIDs,
			Since:     time.Now().UTC().AddDate(0, 0, -days),
			Limit:     plan.Limit,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query events: %w", err)
		}
		result.Rows = rows
	case queryKindDeployments:
		rows, err := p.store.DeploymentMetrics(ctx, plan.ProjectID, plan.Days)
		if err != nil {
			return nil, fmt.Errorf("failed to query deployment metrics: %w", err)
		}
		result.Rows = rows
	case queryKindActivity:
		rows, err := p.store.ActorActivity(ctx, plan.ActorIDs, plan.Days)
		if err != nil {
			return nil, fmt.Errorf("failed to query actor activity: %w", err)
		}
		result.Rows = rows
	default:
		return nil, fmt.Errorf("query plan kind %q is not allowed", plan.Kind)
	}
	return result, nil
}

// parseQueryPlan extracts and validates the JSON object, tolerating
// surrounding prose and code fences.
func parseQueryPlan(text string) (*queryPlan, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no query plan in model output %q", snippet(text, 120))
	}
	var plan queryPlan
	if err := json.Unmarshal([]byte(text[start:end+1]), &plan); err != nil {
		return nil, fmt.Errorf("failed to parse query plan: %w", err)
	}

	switch plan.Kind {
	case queryKindEvents, queryKindDeployments, queryKindActivity:
	default:
		return nil, fmt.Errorf("query plan kind %q is not allowed", plan.Kind)
	}
	if plan.Source != "" && !models.Source(plan.Source).Valid() {
		return nil, fmt.Errorf("query plan source %q is not allowed", plan.Source)
	}
	if plan.Days < 0 || plan.Days > 365 {
		return nil, fmt.Errorf("query plan window %d days out of range", plan.Days)
	}
	if plan.Limit < 0 || plan.Limit > timeseries.DefaultQueryLimit {
		plan.Limit = timeseries.DefaultQueryLimit
	}
	return &plan, nil
}
