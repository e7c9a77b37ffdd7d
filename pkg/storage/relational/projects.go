package relational

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/forgesight/forgesight/pkg/models"
)

const projectColumns = "id, name, description, status, priority, target_date, repo_slug, issue_project_key"

// GetProject fetches one project by ID.
func (c *Client) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	var p models.Project
	err := c.db.GetContext(ctx, &p,
		"SELECT "+projectColumns+" FROM projects WHERE id = $1", id)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", id, err)
	}
	return &p, nil
}

// FindProjectByName fetches the best name match.
func (c *Client) FindProjectByName(ctx context.Context, name string) (*models.Project, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	var p models.Project
	err := c.db.GetContext(ctx, &p, `
		SELECT `+projectColumns+` FROM projects
		WHERE name ILIKE $1 OR name ILIKE $2
		ORDER BY (LOWER(name) = LOWER($1)) DESC, name
		LIMIT 1`, name, "%"+name+"%")
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project by name: %w", err)
	}
	return &p, nil
}

// FindProjectByExternalKey resolves a project from a code-repo slug or an
// issue-tracker project key. Used by the materialiser to attach events.
func (c *Client) FindProjectByExternalKey(ctx context.Context, key string) (*models.Project, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	var p models.Project
	err := c.db.GetContext(ctx, &p, `
		SELECT `+projectColumns+` FROM projects
		WHERE repo_slug = $1 OR issue_project_key = $1
		LIMIT 1`, key)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project by external key: %w", err)
	}
	return &p, nil
}

// ListProjects returns projects, optionally filtered by status.
func (c *Client) ListProjects(ctx context.Context, status string, limit int) ([]models.Project, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	query := "SELECT " + projectColumns + " FROM projects"
	args := []any{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += fmt.Sprintf(" ORDER BY name LIMIT %d", limit)

	var out []models.Project
	if err := c.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return out, nil
}

// Team is a team row with its member count.
type Team struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	MemberCount int       `db:"member_count" json:"member_count"`
}

// GetTeam fetches a team and its active members.
func (c *Client) GetTeam(ctx context.Context, id uuid.UUID) (*Team, []models.Employee, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	var t Team
	err := c.db.GetContext(ctx, &t, `
		SELECT t.id, t.name,
		       (SELECT COUNT(*) FROM employees e WHERE e.team_id = t.id AND e.active) AS member_count
		FROM teams t WHERE t.id = $1`, id)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get team %s: %w", id, err)
	}

	var members []models.Employee
	err = c.db.SelectContext(ctx, &members,
		"SELECT "+employeeColumns+" FROM employees WHERE team_id = $1 AND active ORDER BY full_name", id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list team members: %w", err)
	}
	return &t, members, nil
}
