package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/forgesight/forgesight/pkg/models"
	"github.com/forgesight/forgesight/pkg/storage/relational"
)

// relationalStore is the slice of the relational client these tools use.
type relationalStore interface {
	GetEmployee(ctx context.Context, id uuid.UUID) (*models.Employee, error)
	GetEmployeeByEmail(ctx context.Context, email string) (*models.Employee, error)
	FindEmployeeByName(ctx context.Context, name string) (*models.Employee, error)
	ListEmployees(ctx context.Context, activeOnly bool, limit int) ([]models.Employee, error)
	GetWorkload(ctx context.Context, employeeID uuid.UUID) (*relational.Workload, error)
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	FindProjectByName(ctx context.Context, name string) (*models.Project, error)
	ListProjects(ctx context.Context, status string, limit int) ([]models.Project, error)
	GetTeam(ctx context.Context, id uuid.UUID) (*relational.Team, []models.Employee, error)
	OpenTasksForEmployee(ctx context.Context, employeeID uuid.UUID, limit int) ([]models.Task, error)
}

// GetDeveloperInput looks up one developer by exactly one of the keys.
type GetDeveloperInput struct {
	ID    string `json:"id,omitempty" validate:"omitempty,uuid4|uuid"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
	Name  string `json:"name,omitempty"`
}

type ListDevelopersInput struct {
	ActiveOnly bool `json:"active_only,omitempty"`
	Limit      int  `json:"limit,omitempty" validate:"omitempty,min=1,max=200"`
}

type GetProjectInput struct {
	ID   string `json:"id,omitempty" validate:"omitempty,uuid4|uuid"`
	Name string `json:"name,omitempty"`
}

type ListProjectsInput struct {
	Status string `json:"status,omitempty" validate:"omitempty,oneof=active paused done"`
	Limit  int    `json:"limit,omitempty" validate:"omitempty,min=1,max=200"`
}

type GetTeamInput struct {
	ID string `json:"id" validate:"required,uuid4|uuid"`
}

type GetWorkloadInput struct {
	DeveloperName string `json:"developer_name" validate:"required"`
}

// resolveDeveloper finds an employee by whichever key the input carries.
func resolveDeveloper(ctx context.Context, store relationalStore, in GetDeveloperInput) (*models.Employee, error) {
	switch {
	case in.ID != "":
		id, err := uuid.Parse(in.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid developer id: %w", err)
		}
		return store.GetEmployee(ctx, id)
	case in.Email != "":
		return store.GetEmployeeByEmail(ctx, in.Email)
	case in.Name != "":
		return store.FindEmployeeByName(ctx, in.Name)
	default:
		return nil, errors.New("one of id, email, or name is required")
	}
}

// notFoundPayload is the structured miss returned instead of an error
// for lookups of unknown people or projects, so the model can recover.
func notFoundPayload(what string) map[string]any {
	return map[string]any{"status": "not_found", "entity": what}
}

// RegisterRelationalTools wires the relational read tools.
func RegisterRelationalTools(r *Registry, store relationalStore) {
	r.MustRegister(Tool{
		Name:        "get_developer",
		Group:       GroupRelational,
		Description: "Look up one developer by id, email, or name. Returns the profile or status:not_found.",
		InputSchema: objectSchema(map[string]any{
			"id":    stringProp("employee UUID"),
			"email": stringProp("employee email"),
			"name":  stringProp("full or partial name"),
		}, nil),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in GetDeveloperInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			emp, err := resolveDeveloper(ctx, store, in)
			if errors.Is(err, relational.ErrNotFound) {
				return notFoundPayload("developer"), nil
			}
			if err != nil {
				return nil, err
			}
			return emp, nil
		},
	})

	r.MustRegister(Tool{
		Name:        "list_developers",
		Group:       GroupRelational,
		Description: "List developers, optionally active only. Limit capped at 200.",
		InputSchema: objectSchema(map[string]any{
			"active_only": boolProp("restrict to active employees"),
			"limit":       intProp("max rows, default 200"),
		}, nil),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in ListDevelopersInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return store.ListEmployees(ctx, in.ActiveOnly, in.Limit)
		},
	})

	r.MustRegister(Tool{
		Name:        "get_project",
		Group:       GroupRelational,
		Description: "Look up one project by id or name.",
		InputSchema: objectSchema(map[string]any{
			"id":   stringProp("project UUID"),
			"name": stringProp("full or partial project name"),
		}, nil),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in GetProjectInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			var (
				project *models.Project
				err     error
			)
			switch {
			case in.ID != "":
				var id uuid.UUID
				if id, err = uuid.Parse(in.ID); err != nil {
					return nil, fmt.Errorf("invalid project id: %w", err)
				}
				project, err = store.GetProject(ctx, id)
			case in.Name != "":
				project, err = store.FindProjectByName(ctx, in.Name)
			default:
				return nil, errors.New("one of id or name is required")
			}
			if errors.Is(err, relational.ErrNotFound) {
				return notFoundPayload("project"), nil
			}
			if err != nil {
				return nil, err
			}
			return project, nil
		},
	})

	r.MustRegister(Tool{
		Name:        "list_projects",
		Group:       GroupRelational,
		Description: "List projects, optionally filtered by status (active, paused, done).",
		InputSchema: objectSchema(map[string]any{
			"status": stringProp("project status filter"),
			"limit":  intProp("max rows, default 200"),
		}, nil),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in ListProjectsInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			return store.ListProjects(ctx, in.Status, in.Limit)
		},
	})

	r.MustRegister(Tool{
		Name:        "get_team",
		Group:       GroupRelational,
		Description: "Fetch a team with its active members.",
		InputSchema: objectSchema(map[string]any{
			"id": stringProp("team UUID"),
		}, []string{"id"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in GetTeamInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			id, err := uuid.Parse(in.ID)
			if err != nil {
				return nil, fmt.Errorf("invalid team id: %w", err)
			}
			team, members, err := store.GetTeam(ctx, id)
			if errors.Is(err, relational.ErrNotFound) {
				return notFoundPayload("team"), nil
			}
			if err != nil {
				return nil, err
			}
			return map[string]any{"team": team, "members": members}, nil
		},
	})

	r.MustRegister(Tool{
		Name:        "get_developer_workload",
		Group:       GroupRelational,
		Description: "Allocation summary for one developer: assignments, total percent, overallocation flag, available capacity.",
		InputSchema: objectSchema(map[string]any{
			"developer_name": stringProp("full or partial name"),
		}, []string{"developer_name"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in GetWorkloadInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			emp, err := store.FindEmployeeByName(ctx, in.DeveloperName)
			if errors.Is(err, relational.ErrNotFound) {
				return notFoundPayload("developer"), nil
			}
			if err != nil {
				return nil, err
			}
			workload, err := store.GetWorkload(ctx, emp.ID)
			if err != nil {
				return nil, err
			}
			openTasks, err := store.OpenTasksForEmployee(ctx, emp.ID, 20)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"developer":  emp,
				"workload":   workload,
				"open_tasks": openTasks,
			}, nil
		},
	})
}

// Schema helpers shared by the toolset files.

func objectSchema(props map[string]any, required []string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func numberProp(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}
