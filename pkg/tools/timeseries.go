package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/forgesight/forgesight/pkg/models"
	"github.com/forgesight/forgesight/pkg/storage/timeseries"
)

// timeseriesStore is the slice of the event-log client these tools use.
type timeseriesStore interface {
	QueryEvents(ctx context.Context, f timeseries.EventFilter) ([]timeseries.EventRow, error)
	DeploymentMetrics(ctx context.Context, projectID string, days int) ([]models.DeploymentMetrics, error)
	ActorActivity(ctx context.Context, actorIDs []string, days int) ([]timeseries.ActivityCounts, error)
}

type QueryEventsInput struct {
	Source    string   `json:"source,omitempty" validate:"omitempty,oneof=code-host issue-tracker docs internal"`
	EventType string   `json:"event_type,omitempty"`
	ProjectID string   `json:"project_id,omitempty"`
	ActorIDs  []string `json:"actor_ids,omitempty"`
	Days      int      `json:"days,omitempty" validate:"omitempty,min=1,max=365"`
	Limit     int      `json:"limit,omitempty" validate:"omitempty,min=1,max=500"`
}

type DeploymentMetricsInput struct {
	ProjectID string `json:"project_id,omitempty"`
	Days      int    `json:"days,omitempty" validate:"omitempty,min=1,max=365"`
}

type ActorActivityInput struct {
	ActorIDs []string `json:"actor_ids,omitempty"`
	Days     int      `json:"days,omitempty" validate:"omitempty,min=1,max=365"`
}

// RegisterTimeseriesTools wires the event-log read tools.
func RegisterTimeseriesTools(r *Registry, store timeseriesStore) {
	r.MustRegister(Tool{
		Name:        "query_events",
		Group:       GroupTimeseries,
		Description: "Query the raw event log filtered by source, type, actor, project, and trailing window in days.",
		InputSchema: objectSchema(map[string]any{
			"source":     stringProp("event source: code-host, issue-tracker, docs, internal"),
			"event_type": stringProp("canonical event type, e.g. pr_merged"),
			"project_id": stringProp("project scope"),
			"actor_ids":  map[string]any{"type": "array", "items": stringProp("actor id")},
			"days":       intProp("trailing window, default 30"),
			"limit":      intProp("max rows, default 500"),
		}, nil),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in QueryEventsInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			days := in.Days
			if days <= 0 {
				days = 30
			}
			return store.QueryEvents(ctx, timeseries.EventFilter{
				Source:    models.Source(in.Source),
				EventType: in.EventType,
				ProjectID: in.ProjectID,
				ActorIDs:  in.ActorIDs,
				Since:     time.Now().UTC().AddDate(0, 0, -days),
				Limit:     in.Limit,
			})
		},
	})

	r.MustRegister(Tool{
		Name:        "get_deployment_metrics",
		Group:       GroupTimeseries,
		Description: "Per-project DORA metrics over the trailing window: deployments, change failure rate, deploy frequency per week, average lead time, PRs merged, commits, story points.",
		InputSchema: objectSchema(map[string]any{
			"project_id": stringProp("project scope; empty means all projects"),
			"days":       intProp("trailing window, default 30"),
		}, nil),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in DeploymentMetricsInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return store.DeploymentMetrics(ctx, in.ProjectID, in.Days)
		},
	})

	r.MustRegister(Tool{
		Name:        "get_developer_activity",
		Group:       GroupTimeseries,
		Description: "Per-actor aggregated event counts by type over the trailing window.",
		InputSchema: objectSchema(map[string]any{
			"actor_ids": map[string]any{"type": "array", "items": stringProp("actor id")},
			"days":      intProp("trailing window, default 30"),
		}, nil),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in ActorActivityInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return store.ActorActivity(ctx, in.ActorIDs, in.Days)
		},
	})
}
