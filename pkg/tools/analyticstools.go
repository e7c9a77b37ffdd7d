package tools

import (
	"context"
	"encoding/json"

	"github.com/forgesight/forgesight/pkg/analytics"
)

type materialiserRunner interface {
	Run(ctx context.Context, lookbackHours int) (*analytics.Report, error)
}

type MaterialiseInput struct {
	LookbackHours int `json:"lookback_hours" validate:"omitempty,min=1,max=720"`
}

// RegisterAnalyticsTools exposes the materialiser as an on-demand tool.
func RegisterAnalyticsTools(r *Registry, m materialiserRunner) {
	r.MustRegister(Tool{
		Name:  "materialise_analytics",
		Group: GroupPipeline,
		Description: "Re-derive tasks, participants, CI pipelines, and monthly metrics " +
			"from the raw event log over a look-back window (default 24 hours). " +
			"Safe to re-run; returns a per-entity report.",
		InputSchema: objectSchema(map[string]any{
			"lookback_hours": intProp("hours of event history to scan (1-720)"),
		}, nil),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in MaterialiseInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return m.Run(ctx, in.LookbackHours)
		},
	})
}
