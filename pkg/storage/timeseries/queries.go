package timeseries

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/forgesight/forgesight/pkg/models"
)

// EventFilter narrows a log query. Zero values mean "no constraint".
type EventFilter struct {
	Source    models.Source
	EventType string
	ProjectID string
	ActorIDs  []string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// DefaultQueryLimit caps unbounded event queries.
const DefaultQueryLimit = 500

// QueryEvents returns log rows matching the filter, newest first.
func (c *Client) QueryEvents(ctx context.Context, f EventFilter) ([]EventRow, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	var (
		conds []string
		args  []any
	)
	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, string(f.Source))
	}
	if f.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.ProjectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if len(f.ActorIDs) > 0 {
		conds = append(conds, "actor_id IN (?)")
		args = append(args, f.ActorIDs)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "timestamp < ?")
		args = append(args, f.Until.UTC())
	}

	query := "SELECT event_id, timestamp, source, event_type, project_id, actor_id, entity_id, entity_type, metadata FROM events"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT %d", limit)

	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return scanEventRows(rows)
}

// DeploymentMetrics computes the DORA aggregate for one project (or all
// projects when projectID is empty) over the trailing window.
func (c *Client) DeploymentMetrics(ctx context.Context, projectID string, days int) ([]models.DeploymentMetrics, error) {
	if days <= 0 {
		days = 30
	}
	rows, err := c.QueryEvents(ctx, EventFilter{
		ProjectID: projectID,
		Since:     time.Now().UTC().AddDate(0, 0, -days),
		Limit:     100000,
	})
	if err != nil {
		return nil, err
	}
	return ComputeDeploymentMetrics(rows, days), nil
}

// ComputeDeploymentMetrics folds log rows into per-project DORA metrics.
// change_failure_rate_pct is nil when a project has no deployments;
// deployment_freq_per_week divides by max(days/7, 1).
func ComputeDeploymentMetrics(rows []EventRow, days int) []models.DeploymentMetrics {
	type acc struct {
		deploys, failed, prs, commits int
		leadSum                       float64
		leadCount                     int
		storyPoints                   float64
	}
	byProject := make(map[string]*acc)
	var order []string

	get := func(project string) *acc {
		a, ok := byProject[project]
		if !ok {
			a = &acc{}
			byProject[project] = a
			order = append(order, project)
		}
		return a
	}

	for _, r := range rows {
		a := get(r.ProjectID)
		switch r.EventType {
		case "deployment":
			a.deploys++
			if conclusion, _ := r.Metadata["conclusion"].(string); conclusion == "failure" {
				a.failed++
			}
		case "pr_merged":
			a.prs++
			if lt, ok := metadataNumber(r.Metadata, "lead_time_hours"); ok {
				a.leadSum += lt
				a.leadCount++
			}
		case "push":
			a.commits++
		case "task_completed":
			if sp, ok := metadataNumber(r.Metadata, "story_points"); ok {
				a.storyPoints += sp
			}
		}
	}

	weeks := float64(days) / 7
	if weeks < 1 {
		weeks = 1
	}

	out := make([]models.DeploymentMetrics, 0, len(order))
	for _, project := range order {
		a := byProject[project]
		m := models.DeploymentMetrics{
			ProjectID:             project,
			TotalDeployments:      a.deploys,
			TotalFailedDeploys:    a.failed,
			DeploymentFreqPerWeek: float64(a.deploys) / weeks,
			TotalPRsMerged:        a.prs,
			TotalCommits:          a.commits,
			StoryPointsCompleted:  a.storyPoints,
		}
		if a.deploys > 0 {
			rate := float64(a.failed) / float64(a.deploys) * 100
			m.ChangeFailureRatePct = &rate
		}
		if a.leadCount > 0 {
			avg := a.leadSum / float64(a.leadCount)
			m.AvgLeadTimeHours = &avg
		}
		out = append(out, m)
	}
	return out
}

func metadataNumber(md map[string]any, key string) (float64, bool) {
	switch v := md[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// ActivityCounts aggregates an actor's event counts by type.
type ActivityCounts struct {
	ActorID string         `json:"actor_id"`
	Total   int            `json:"total"`
	ByType  map[string]int `json:"by_type"`
}

// ActorActivity aggregates per-actor event counts over the trailing window.
func (c *Client) ActorActivity(ctx context.Context, actorIDs []string, days int) ([]ActivityCounts, error) {
	if days <= 0 {
		days = 30
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	query := `
		SELECT actor_id, event_type, count() AS n
		FROM events
		WHERE timestamp >= ? AND actor_id != ''`
	args := []any{time.Now().UTC().AddDate(0, 0, -days)}
	if len(actorIDs) > 0 {
		query += " AND actor_id IN (?)"
		args = append(args, actorIDs)
	}
	query += " GROUP BY actor_id, event_type ORDER BY actor_id"

	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query actor activity: %w", err)
	}
	defer rows.Close()

	byActor := make(map[string]*ActivityCounts)
	var order []string
	for rows.Next() {
		var (
			actor, eventType string
			n                uint64
		)
		if err := rows.Scan(&actor, &eventType, &n); err != nil {
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}
		a, ok := byActor[actor]
		if !ok {
			a = &ActivityCounts{ActorID: actor, ByType: map[string]int{}}
			byActor[actor] = a
			order = append(order, actor)
		}
		a.ByType[eventType] += int(n)
		a.Total += int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ActivityCounts, 0, len(order))
	for _, actor := range order {
		out = append(out, *byActor[actor])
	}
	return out, nil
}

// CountEventsByType returns event counts per type within [since, until),
// optionally scoped to a project. Used by the anomaly pipeline to compare
// a current window against a baseline.
func (c *Client) CountEventsByType(ctx context.Context, projectID string, since, until time.Time) (map[string]int, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	query := "SELECT event_type, count() FROM events WHERE timestamp >= ? AND timestamp < ?"
	args := []any{since.UTC(), until.UTC()}
	if projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}
	query += " GROUP BY event_type"

	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count events by type: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			eventType string
			n         uint64
		)
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, err
		}
		out[eventType] = int(n)
	}
	return out, rows.Err()
}
