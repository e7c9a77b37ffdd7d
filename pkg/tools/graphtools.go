package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/forgesight/forgesight/pkg/models"
	"github.com/forgesight/forgesight/pkg/storage/graph"
	"github.com/forgesight/forgesight/pkg/storage/relational"
)

// graphStore is the slice of the graph client these tools use.
type graphStore interface {
	Collaborators(ctx context.Context, employeeID string, limit int) ([]graph.Collaborator, error)
	TeamGraph(ctx context.Context, employeeIDs []string) (*graph.TeamCollaborationGraph, error)
	ExpertScores(ctx context.Context, employeeIDs []string) (map[string]graph.ExpertSignal, error)
}

// employeeResolver resolves names to employees for graph lookups.
type employeeResolver interface {
	FindEmployeeByName(ctx context.Context, name string) (*models.Employee, error)
	ListEmployees(ctx context.Context, activeOnly bool, limit int) ([]models.Employee, error)
}

type GetCollaboratorsInput struct {
	DeveloperName string `json:"developer_name" validate:"required"`
	Limit         int    `json:"limit,omitempty" validate:"omitempty,min=1,max=50"`
}

type TeamGraphInput struct {
	DeveloperNames []string `json:"developer_names,omitempty" validate:"omitempty,max=50,dive,required"`
}

type FindExpertsInput struct {
	DeveloperNames []string `json:"developer_names,omitempty" validate:"omitempty,max=50,dive,required"`
}

// RegisterGraphTools wires the collaboration-graph read tools.
func RegisterGraphTools(r *Registry, store graphStore, resolver employeeResolver) {
	r.MustRegister(Tool{
		Name:        "get_collaborators",
		Group:       GroupGraph,
		Description: "People a developer has worked with, ordered by collaboration weight.",
		InputSchema: objectSchema(map[string]any{
			"developer_name": stringProp("full or partial name"),
			"limit":          intProp("max collaborators, default 10"),
		}, []string{"developer_name"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in GetCollaboratorsInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			emp, err := resolver.FindEmployeeByName(ctx, in.DeveloperName)
			if errors.Is(err, relational.ErrNotFound) {
				return notFoundPayload("developer"), nil
			}
			if err != nil {
				return nil, err
			}
			return store.Collaborators(ctx, emp.ID.String(), in.Limit)
		},
	})

	r.MustRegister(Tool{
		Name:        "get_team_collaboration_graph",
		Group:       GroupGraph,
		Description: "Collaboration subgraph (nodes + weighted edges) for the named developers, or all active developers when none are named.",
		InputSchema: objectSchema(map[string]any{
			"developer_names": map[string]any{"type": "array", "items": stringProp("developer name")},
		}, nil),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in TeamGraphInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			ids, err := resolveEmployeeIDs(ctx, resolver, in.DeveloperNames)
			if err != nil {
				return nil, err
			}
			return store.TeamGraph(ctx, ids)
		},
	})

	r.MustRegister(Tool{
		Name:        "find_knowledge_experts",
		Group:       GroupGraph,
		Description: "Graph-side expertise evidence per developer: contribution counts, expertise edges, collaboration weight.",
		InputSchema: objectSchema(map[string]any{
			"developer_names": map[string]any{"type": "array", "items": stringProp("developer name")},
		}, nil),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in FindExpertsInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			ids, err := resolveEmployeeIDs(ctx, resolver, in.DeveloperNames)
			if err != nil {
				return nil, err
			}
			return store.ExpertScores(ctx, ids)
		},
	})
}

// resolveEmployeeIDs maps names to IDs, defaulting to all active
// employees when no names are given. Unknown names are skipped rather
// than failing the whole lookup.
func resolveEmployeeIDs(ctx context.Context, resolver employeeResolver, names []string) ([]string, error) {
	if len(names) == 0 {
		employees, err := resolver.ListEmployees(ctx, true, 0)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(employees))
		for _, e := range employees {
			ids = append(ids, e.ID.String())
		}
		return ids, nil
	}
	var ids []string
	for _, name := range names {
		emp, err := resolver.FindEmployeeByName(ctx, name)
		if errors.Is(err, relational.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, emp.ID.String())
	}
	return ids, nil
}
