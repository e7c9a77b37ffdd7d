package pipelines

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"
)

// Anomaly thresholds: a per-day rate more than SpikeRatio times the
// baseline (or less than DropRatio of it) is flagged. Event types with
// fewer than minBaselineEvents baseline events are skipped as noise.
const (
	SpikeRatio        = 2.0
	DropRatio         = 0.5
	minBaselineEvents = 5
)

type eventCounter interface {
	CountEventsByType(ctx context.Context, projectID string, since, until time.Time) (map[string]int, error)
}

// Anomaly is one flagged deviation between the windows.
type Anomaly struct {
	EventType      string  `json:"event_type"`
	Direction      string  `json:"direction"` // spike or drop
	CurrentPerDay  float64 `json:"current_per_day"`
	BaselinePerDay float64 `json:"baseline_per_day"`
	Ratio          float64 `json:"ratio"`
}

// AnomalyResult compares a current window against a baseline window.
type AnomalyResult struct {
	ProjectID    string    `json:"project_id,omitempty"`
	DaysCurrent  int       `json:"days_current"`
	DaysBaseline int       `json:"days_baseline"`
	Anomalies    []Anomaly `json:"anomalies"`
	Status       string    `json:"status"`
}

// AnomalyPipeline flags event-rate deviations between a current and a
// baseline window. Deterministic; no LLM involved.
type AnomalyPipeline struct {
	events eventCounter
	logger *slog.Logger
}

func NewAnomalyPipeline(events eventCounter, logger *slog.Logger) *AnomalyPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnomalyPipeline{events: events, logger: logger.With("pipeline", "anomaly")}
}

// Detect compares per-day event rates. daysCurrent defaults to 7,
// daysBaseline to 30; the baseline window ends where the current begins.
func (p *AnomalyPipeline) Detect(ctx context.Context, projectID string, daysCurrent, daysBaseline int) (*AnomalyResult, error) {
	if daysCurrent <= 0 {
		daysCurrent = 7
	}
	if daysBaseline <= 0 {
		daysBaseline = 30
	}
	now := time.Now().UTC()
	currentStart := now.AddDate(0, 0, -daysCurrent)
	baselineStart := currentStart.AddDate(0, 0, -daysBaseline)

	current, err := p.events.CountEventsByType(ctx, projectID, currentStart, now)
	if err != nil {
		return nil, fmt.Errorf("failed to count current window: %w", err)
	}
	baseline, err := p.events.CountEventsByType(ctx, projectID, baselineStart, currentStart)
	if err != nil {
		return nil, fmt.Errorf("failed to count baseline window: %w", err)
	}

	result := &AnomalyResult{
		ProjectID:    projectID,
		DaysCurrent:  daysCurrent,
		DaysBaseline: daysBaseline,
		Anomalies:    []Anomaly{},
		Status:       StatusDone,
	}

	types := map[string]bool{}
	for t := range current {
		types[t] = true
	}
	for t := range baseline {
		types[t] = true
	}

	for eventType := range types {
		baseCount := baseline[eventType]
		if baseCount < minBaselineEvents {
			continue
		}
		basePerDay := float64(baseCount) / float64(daysBaseline)
		curPerDay := float64(current[eventType]) / float64(daysCurrent)
		ratio := curPerDay / basePerDay

		var direction string
		switch {
		case ratio >= SpikeRatio:
			direction = "spike"
		case ratio <= DropRatio:
			direction = "drop"
		default:
			continue
		}
		result.Anomalies = append(result.Anomalies, Anomaly{
			EventType:      eventType,
			Direction:      direction,
			CurrentPerDay:  round2(curPerDay),
			BaselinePerDay: round2(basePerDay),
			Ratio:          round2(ratio),
		})
	}

	// Largest deviation first; drops rank by inverse ratio.
	sort.Slice(result.Anomalies, func(i, j int) bool {
		return deviation(result.Anomalies[i]) > deviation(result.Anomalies[j])
	})
	p.logger.Debug("anomaly scan complete",
		"project_id", projectID, "flagged", len(result.Anomalies))
	return result, nil
}

func deviation(a Anomaly) float64 {
	if a.Direction == "drop" {
		if a.Ratio == 0 {
			return math.Inf(1)
		}
		return 1 / a.Ratio
	}
	return a.Ratio
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
