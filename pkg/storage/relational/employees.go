package relational

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/forgesight/forgesight/pkg/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// MaxListLimit caps list queries from agent tools.
const MaxListLimit = 200

const employeeColumns = "id, full_name, email, title, role, team_id, level, active"

// GetEmployee fetches one employee by ID.
func (c *Client) GetEmployee(ctx context.Context, id uuid.UUID) (*models.Employee, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	var e models.Employee
	err := c.db.GetContext(ctx, &e,
		"SELECT "+employeeColumns+" FROM employees WHERE id = $1", id)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee %s: %w", id, err)
	}
	return &e, nil
}

// GetEmployeeByEmail fetches one employee by email, case-insensitive.
func (c *Client) GetEmployeeByEmail(ctx context.Context, email string) (*models.Employee, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	var e models.Employee
	err := c.db.GetContext(ctx, &e,
		"SELECT "+employeeColumns+" FROM employees WHERE LOWER(email) = LOWER($1)", email)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee by email: %w", err)
	}
	return &e, nil
}

// FindEmployeeByName fetches the best name match (exact first, then
// case-insensitive substring).
func (c *Client) FindEmployeeByName(ctx context.Context, name string) (*models.Employee, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	var e models.Employee
	err := c.db.GetContext(ctx, &e, `
		SELECT `+employeeColumns+` FROM employees
		WHERE full_name ILIKE $1 OR full_name ILIKE $2
		ORDER BY (LOWER(full_name) = LOWER($1)) DESC, full_name
		LIMIT 1`,
		name, "%"+strings.TrimSpace(name)+"%")
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find employee by name: %w", err)
	}
	return &e, nil
}

// ListEmployees returns employees, optionally filtered to active only.
// The limit is clamped to MaxListLimit.
func (c *Client) ListEmployees(ctx context.Context, activeOnly bool, limit int) ([]models.Employee, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	query := "SELECT " + employeeColumns + " FROM employees"
	if activeOnly {
		query += " WHERE active"
	}
	query += fmt.Sprintf(" ORDER BY full_name LIMIT %d", limit)

	var out []models.Employee
	if err := c.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	return out, nil
}

// AssignmentDetail is one project assignment joined with the project name.
type AssignmentDetail struct {
	ProjectID        uuid.UUID `db:"project_id" json:"project_id"`
	ProjectName      string    `db:"project_name" json:"project_name"`
	ProjectStatus    string    `db:"project_status" json:"project_status"`
	Role             string    `db:"role" json:"role"`
	AllocatedPercent int       `db:"allocated_percent" json:"allocated_percent"`
}

// Workload summarises an employee's allocation across active projects.
type Workload struct {
	EmployeeID             uuid.UUID          `json:"employee_id"`
	Assignments            []AssignmentDetail `json:"assignments"`
	TotalAllocationPercent int                `json:"total_allocation_percent"`
	IsOverallocated        bool               `json:"is_overallocated"`
	AvailableCapacityPct   int                `json:"available_capacity_percent"`
}

// GetWorkload computes the allocation summary over active projects.
// Totals above 100 flag overallocation; available capacity floors at 0.
func (c *Client) GetWorkload(ctx context.Context, employeeID uuid.UUID) (*Workload, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	var assignments []AssignmentDetail
	err := c.db.SelectContext(ctx, &assignments, `
		SELECT pa.project_id, p.name AS project_name, p.status AS project_status,
		       pa.role, pa.allocated_percent
		FROM project_assignments pa
		JOIN projects p ON p.id = pa.project_id
		WHERE pa.employee_id = $1 AND p.status = 'active'
		ORDER BY pa.allocated_percent DESC`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get workload: %w", err)
	}

	total := 0
	for _, a := range assignments {
		total += a.AllocatedPercent
	}
	available := 100 - total
	if available < 0 {
		available = 0
	}
	return &Workload{
		EmployeeID:             employeeID,
		Assignments:            assignments,
		TotalAllocationPercent: total,
		IsOverallocated:        total > 100,
		AvailableCapacityPct:   available,
	}, nil
}

// IdentityMappings returns all external identities for an employee.
func (c *Client) IdentityMappings(ctx context.Context, employeeID uuid.UUID) ([]models.IdentityMapping, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	var out []models.IdentityMapping
	err := c.db.SelectContext(ctx, &out, `
		SELECT employee_id, source, external_id, external_username
		FROM identity_mappings WHERE employee_id = $1`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get identity mappings: %w", err)
	}
	return out, nil
}

// ResolveActor maps an event actor string to an employee ID.
// Lookup order: identity mapping on (source, external_id) or username,
// then case-insensitive email substring. Returns ErrNotFound when both
// miss — callers must leave the field null, never invent.
func (c *Client) ResolveActor(ctx context.Context, source models.Source, actorID string) (uuid.UUID, error) {
	if actorID == "" {
		return uuid.Nil, ErrNotFound
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	var id uuid.UUID
	err := c.db.GetContext(ctx, &id, `
		SELECT employee_id FROM identity_mappings
		WHERE source = $1 AND (external_id = $2 OR external_username = $2)
		LIMIT 1`, string(source), actorID)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, stdsql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("failed to resolve actor: %w", err)
	}

	err = c.db.GetContext(ctx, &id, `
		SELECT id FROM employees
		WHERE POSITION(LOWER($1) IN LOWER(email)) > 0
		LIMIT 1`, actorID)
	if errors.Is(err, stdsql.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve actor by email: %w", err)
	}
	return id, nil
}

// ActorStrings collects every external actor string for an employee
// (identity mapping IDs, usernames, and email) for event-log joins.
func (c *Client) ActorStrings(ctx context.Context, e *models.Employee) ([]string, error) {
	mappings, err := c.IdentityMappings(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, m := range mappings {
		add(m.ExternalID)
		add(m.ExternalUsername)
	}
	add(e.Email)
	return out, nil
}
