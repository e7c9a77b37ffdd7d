package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgesight/forgesight/pkg/llm"
	"github.com/forgesight/forgesight/pkg/models"
	"github.com/forgesight/forgesight/pkg/storage/graph"
	"github.com/forgesight/forgesight/pkg/storage/relational"
	"github.com/forgesight/forgesight/pkg/storage/timeseries"
)

type fakeRelational struct {
	employees map[string]*models.Employee
	workloads map[uuid.UUID]*relational.Workload
	openTasks map[uuid.UUID][]models.Task
}

func (f *fakeRelational) GetEmployee(_ context.Context, id uuid.UUID) (*models.Employee, error) {
	for _, e := range f.employees {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, relational.ErrNotFound
}

func (f *fakeRelational) GetEmployeeByEmail(_ context.Context, email string) (*models.Employee, error) {
	for _, e := range f.employees {
		if e.Email == email {
			return e, nil
		}
	}
	return nil, relational.ErrNotFound
}

func (f *fakeRelational) FindEmployeeByName(_ context.Context, name string) (*models.Employee, error) {
	if e, ok := f.employees[name]; ok {
		return e, nil
	}
	return nil, relational.ErrNotFound
}

func (f *fakeRelational) ListEmployees(context.Context, bool, int) ([]models.Employee, error) {
	var out []models.Employee
	for _, e := range f.employees {
		out = append(out, *e)
	}
	return out, nil
}

func (f *fakeRelational) GetWorkload(_ context.Context, employeeID uuid.UUID) (*relational.Workload, error) {
	if w, ok := f.workloads[employeeID]; ok {
		return w, nil
	}
	return &relational.Workload{EmployeeID: employeeID, AvailableCapacityPct: 100}, nil
}

func (f *fakeRelational) GetProject(context.Context, uuid.UUID) (*models.Project, error) {
	return nil, relational.ErrNotFound
}

func (f *fakeRelational) FindProjectByName(context.Context, string) (*models.Project, error) {
	return nil, relational.ErrNotFound
}

func (f *fakeRelational) ListProjects(context.Context, string, int) ([]models.Project, error) {
	return nil, nil
}

func (f *fakeRelational) GetTeam(context.Context, uuid.UUID) (*relational.Team, []models.Employee, error) {
	return nil, nil, relational.ErrNotFound
}

func (f *fakeRelational) OpenTasksForEmployee(_ context.Context, employeeID uuid.UUID, _ int) ([]models.Task, error) {
	return f.openTasks[employeeID], nil
}

func execTool(t *testing.T, r *Registry, name, args string) *Result {
	t.Helper()
	return r.Execute(context.Background(), llm.ToolCall{
		ID: "call-1", Name: name, Arguments: json.RawMessage(args),
	})
}

func TestGetDeveloperWorkloadOverallocated(t *testing.T) {
	empID := uuid.New()
	store := &fakeRelational{
		employees: map[string]*models.Employee{
			"Mara Voss": {ID: empID, FullName: "Mara Voss", Email: "mara@corp.example", Active: true},
		},
		workloads: map[uuid.UUID]*relational.Workload{
			empID: {
				EmployeeID:             empID,
				TotalAllocationPercent: 120,
				IsOverallocated:        true,
				AvailableCapacityPct:   0,
			},
		},
		openTasks: map[uuid.UUID][]models.Task{
			empID: {{ExternalKey: "PLAT-42", Title: "Fix flaky deploy gate", Status: "In Progress"}},
		},
	}

	r := NewRegistry(time.Second)
	RegisterRelationalTools(r, store)

	result := execTool(t, r, "get_developer_workload", `{"developer_name":"Mara Voss"}`)
	require.False(t, result.IsError, result.Content)

	var payload struct {
		Developer struct {
			FullName string `json:"full_name"`
		} `json:"developer"`
		Workload struct {
			TotalAllocationPercent int  `json:"total_allocation_percent"`
			IsOverallocated        bool `json:"is_overallocated"`
			AvailableCapacityPct   int  `json:"available_capacity_percent"`
		} `json:"workload"`
		OpenTasks []struct {
			ExternalKey string `json:"external_key"`
		} `json:"open_tasks"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Content), &payload))
	assert.Equal(t, "Mara Voss", payload.Developer.FullName)
	assert.Equal(t, 120, payload.Workload.TotalAllocationPercent)
	assert.True(t, payload.Workload.IsOverallocated)
	assert.Equal(t, 0, payload.Workload.AvailableCapacityPct)
	require.Len(t, payload.OpenTasks, 1)
	assert.Equal(t, "PLAT-42", payload.OpenTasks[0].ExternalKey)
}

func TestGetDeveloperNotFoundIsStructuredMiss(t *testing.T) {
	r := NewRegistry(time.Second)
	RegisterRelationalTools(r, &fakeRelational{employees: map[string]*models.Employee{}})

	result := execTool(t, r, "get_developer", `{"name":"Nobody"}`)
	require.False(t, result.IsError)
	assert.JSONEq(t, `{"status":"not_found","entity":"developer"}`, result.Content)
}

func TestGetDeveloperRequiresAKey(t *testing.T) {
	r := NewRegistry(time.Second)
	RegisterRelationalTools(r, &fakeRelational{})

	result := execTool(t, r, "get_developer", `{}`)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "one of id, email, or name")
}

type fakeTimeseries struct {
	lastFilter timeseries.EventFilter
}

func (f *fakeTimeseries) QueryEvents(_ context.Context, filter timeseries.EventFilter) ([]timeseries.EventRow, error) {
	f.lastFilter = filter
	return []timeseries.EventRow{}, nil
}

func (f *fakeTimeseries) DeploymentMetrics(context.Context, string, int) ([]models.DeploymentMetrics, error) {
	return []models.DeploymentMetrics{{ProjectID: "atlas", TotalDeployments: 7}}, nil
}

func (f *fakeTimeseries) ActorActivity(context.Context, []string, int) ([]timeseries.ActivityCounts, error) {
	return nil, nil
}

func TestQueryEventsDefaultsWindow(t *testing.T) {
	store := &fakeTimeseries{}
	r := NewRegistry(time.Second)
	RegisterTimeseriesTools(r, store)

	result := execTool(t, r, "query_events", `{"source":"code-host"}`)
	require.False(t, result.IsError, result.Content)

	assert.Equal(t, models.Source("code-host"), store.lastFilter.Source)
	expected := time.Now().UTC().AddDate(0, 0, -30)
	assert.WithinDuration(t, expected, store.lastFilter.Since, time.Minute)
}

func TestQueryEventsRejectsUnknownSource(t *testing.T) {
	r := NewRegistry(time.Second)
	RegisterTimeseriesTools(r, &fakeTimeseries{})

	result := execTool(t, r, "query_events", `{"source":"carrier-pigeon"}`)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "validation")
}

type fakeGraph struct {
	collaborators []graph.Collaborator
}

func (f *fakeGraph) Collaborators(context.Context, string, int) ([]graph.Collaborator, error) {
	return f.collaborators, nil
}

func (f *fakeGraph) TeamGraph(_ context.Context, ids []string) (*graph.TeamCollaborationGraph, error) {
	return &graph.TeamCollaborationGraph{}, nil
}

func (f *fakeGraph) ExpertScores(_ context.Context, ids []string) (map[string]graph.ExpertSignal, error) {
	out := make(map[string]graph.ExpertSignal, len(ids))
	for _, id := range ids {
		out[id] = graph.ExpertSignal{Contributions: 3}
	}
	return out, nil
}

func TestGetCollaborators(t *testing.T) {
	empID := uuid.New()
	rel := &fakeRelational{employees: map[string]*models.Employee{
		"Mara Voss": {ID: empID, FullName: "Mara Voss"},
	}}
	g := &fakeGraph{collaborators: []graph.Collaborator{
		{EmployeeID: uuid.NewString(), Name: "Iris Chen", Weight: 14},
	}}

	r := NewRegistry(time.Second)
	RegisterGraphTools(r, g, rel)

	result := execTool(t, r, "get_collaborators", `{"developer_name":"Mara Voss"}`)
	require.False(t, result.IsError, result.Content)
	assert.Contains(t, result.Content, "Iris Chen")
}

type fakeEmbedder struct {
	vector []float32
}

func (f *fakeEmbedder) EmbedOne(context.Context, string) ([]float32, error) {
	return f.vector, nil
}

type fakeVector struct {
	fakeRelational
	matches []models.SimilarityMatch
}

func (f *fakeVector) SearchSimilar(_ context.Context, _ []float32, _ models.EmbeddingType, k int) ([]models.SimilarityMatch, error) {
	if k < len(f.matches) {
		return f.matches[:k], nil
	}
	return f.matches, nil
}

func TestFindDeveloperBySkillsJoinsEmployees(t *testing.T) {
	empID := uuid.New()
	store := &fakeVector{
		fakeRelational: fakeRelational{employees: map[string]*models.Employee{
			"Mara Voss": {ID: empID, FullName: "Mara Voss", Title: "Staff Engineer"},
		}},
		matches: []models.SimilarityMatch{
			{SourceID: empID.String(), Title: "Mara Voss — profile", Similarity: 0.91},
			{SourceID: "not-a-uuid", Title: "orphan", Similarity: 0.40},
		},
	}

	r := NewRegistry(time.Second)
	RegisterVectorTools(r, store, &fakeEmbedder{vector: []float32{0.1, 0.2}})

	result := execTool(t, r, "find_developer_by_skills", `{"skills":"kubernetes and release tooling"}`)
	require.False(t, result.IsError, result.Content)

	var hits []struct {
		Developer *struct {
			FullName string `json:"full_name"`
		} `json:"developer"`
		SourceID   string  `json:"source_id"`
		Similarity float64 `json:"similarity"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Content), &hits))
	require.Len(t, hits, 2)
	require.NotNil(t, hits[0].Developer)
	assert.Equal(t, "Mara Voss", hits[0].Developer.FullName)
	assert.InDelta(t, 0.91, hits[0].Similarity, 1e-9)
	assert.Nil(t, hits[1].Developer, "non-uuid source ids stay unjoined")
}
