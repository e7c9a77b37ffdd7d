package tools

import (
	"context"
	"encoding/json"

	"github.com/forgesight/forgesight/pkg/models"
	"github.com/forgesight/forgesight/pkg/pipelines"
)

// Pipeline surfaces exposed as tools. Narrow interfaces keep the toolset
// testable without real stores or models behind the pipelines.
type ragRunner interface {
	Run(ctx context.Context, question string, embeddingType models.EmbeddingType) (*pipelines.RAGResult, error)
}

type expertRunner interface {
	Run(ctx context.Context, query string, explain bool) (*pipelines.GraphRAGResult, error)
}

type nlQueryRunner interface {
	Run(ctx context.Context, question string) (*pipelines.NLQueryResult, error)
}

type prepRunner interface {
	Prepare(ctx context.Context, developerName, managerContext string) (*pipelines.OneOnOneResult, error)
	TalkingPoints(ctx context.Context, developerName, managerContext string) (*pipelines.OneOnOneResult, error)
}

type anomalyRunner interface {
	Detect(ctx context.Context, projectID string, daysCurrent, daysBaseline int) (*pipelines.AnomalyResult, error)
}

// PipelineSet bundles the workflows the pipeline tool group wraps.
type PipelineSet struct {
	RAG     ragRunner
	Experts expertRunner
	NLQuery nlQueryRunner
	Prep    prepRunner
	Anomaly anomalyRunner
}

type RAGSearchInput struct {
	Question string `json:"question" validate:"required"`
	Type     string `json:"type,omitempty" validate:"omitempty,oneof=developer_profile project_doc"`
}

type FindExpertInput struct {
	Topic string `json:"topic" validate:"required"`
}

type NLQueryInput struct {
	Question string `json:"question" validate:"required"`
}

type PrepInput struct {
	DeveloperName  string `json:"developer_name" validate:"required"`
	ManagerContext string `json:"manager_context,omitempty"`
}

type DetectAnomaliesInput struct {
	ProjectID    string `json:"project_id,omitempty"`
	DaysCurrent  int    `json:"days_current,omitempty" validate:"omitempty,min=1,max=90"`
	DaysBaseline int    `json:"days_baseline,omitempty" validate:"omitempty,min=1,max=365"`
}

// RegisterPipelineTools wires the workflow-invocation tools.
func RegisterPipelineTools(r *Registry, p PipelineSet) {
	r.MustRegister(Tool{
		Name:        "rag_search",
		Group:       GroupPipeline,
		Description: "Answer a question from the knowledge base with self-correcting retrieval. Returns the answer, supporting docs, and grounding status.",
		InputSchema: objectSchema(map[string]any{
			"question": stringProp("the question to answer"),
			"type":     stringProp("restrict retrieval to developer_profile or project_doc"),
		}, []string{"question"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in RAGSearchInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return p.RAG.Run(ctx, in.Question, models.EmbeddingType(in.Type))
		},
	})

	r.MustRegister(Tool{
		Name:        "find_expert_for_topic",
		Group:       GroupPipeline,
		Description: "Full expert discovery: vector + graph fusion with an LLM-written rationale per candidate.",
		InputSchema: objectSchema(map[string]any{
			"topic": stringProp("the topic or skill to find experts for"),
		}, []string{"topic"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in FindExpertInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return p.Experts.Run(ctx, in.Topic, true)
		},
	})

	r.MustRegister(Tool{
		Name:        "quick_expert_search",
		Group:       GroupPipeline,
		Description: "Fast expert lookup: fused ranking only, no LLM explanation stage.",
		InputSchema: objectSchema(map[string]any{
			"topic": stringProp("the topic or skill to find experts for"),
		}, []string{"topic"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in FindExpertInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return p.Experts.Run(ctx, in.Topic, false)
		},
	})

	r.MustRegister(Tool{
		Name:        "natural_language_query",
		Group:       GroupPipeline,
		Description: "Translate a question into a guarded read-only query over the event log and run it.",
		InputSchema: objectSchema(map[string]any{
			"question": stringProp("the question to translate and execute"),
		}, []string{"question"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in NLQueryInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return p.NLQuery.Run(ctx, in.Question)
		},
	})

	r.MustRegister(Tool{
		Name:        "prepare_one_on_one",
		Group:       GroupPipeline,
		Description: "Build a 1:1 prep brief for a developer: workload, delivery metrics, recent activity, talking points.",
		InputSchema: objectSchema(map[string]any{
			"developer_name":  stringProp("full or partial name"),
			"manager_context": stringProp("optional context from the manager"),
		}, []string{"developer_name"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in PrepInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return p.Prep.Prepare(ctx, in.DeveloperName, in.ManagerContext)
		},
	})

	r.MustRegister(Tool{
		Name:        "suggest_talking_points",
		Group:       GroupPipeline,
		Description: "Suggest 1:1 talking points for a developer without the full brief.",
		InputSchema: objectSchema(map[string]any{
			"developer_name":  stringProp("full or partial name"),
			"manager_context": stringProp("optional context from the manager"),
		}, []string{"developer_name"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in PrepInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return p.Prep.TalkingPoints(ctx, in.DeveloperName, in.ManagerContext)
		},
	})

	r.MustRegister(Tool{
		Name:        "detect_anomalies",
		Group:       GroupPipeline,
		Description: "Compare current vs baseline event rates per type and flag spikes and drops.",
		InputSchema: objectSchema(map[string]any{
			"project_id":    stringProp("optional project scope"),
			"days_current":  intProp("current window in days, default 7"),
			"days_baseline": intProp("baseline window in days, default 30"),
		}, nil),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in DetectAnomaliesInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return p.Anomaly.Detect(ctx, in.ProjectID, in.DaysCurrent, in.DaysBaseline)
		},
	})
}
