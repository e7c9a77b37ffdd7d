package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Collaborator is one WORKED_WITH neighbour, heaviest edge first.
type Collaborator struct {
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name"`
	Weight     int64  `json:"weight"`
}

// GraphNode and GraphEdge make up a team collaboration subgraph.
type GraphNode struct {
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name"`
}

type GraphEdge struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Weight int64  `json:"weight"`
}

// TeamCollaborationGraph is the node/edge view a specialist renders for
// "how does this team work together" questions.
type TeamCollaborationGraph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// ExpertSignal aggregates the graph-side evidence for one candidate.
// GraphScore is the raw sum a caller normalises before fusion.
type ExpertSignal struct {
	EmployeeID          string `json:"employee_id"`
	Contributions       int64  `json:"contributions"`
	ExpertiseEdges      int64  `json:"expertise_edges"`
	CollaborationWeight int64  `json:"collaboration_weight"`
}

// GraphScore is the unnormalised rank signal: contribution volume counts
// double, expertise and collaboration once each.
func (s ExpertSignal) GraphScore() float64 {
	return float64(2*s.Contributions + s.ExpertiseEdges + s.CollaborationWeight)
}

// Collaborators returns an employee's WORKED_WITH neighbours ordered by
// edge weight. An unknown employee yields an empty slice, not an error.
func (c *Client) Collaborators(ctx context.Context, employeeID string, limit int) ([]Collaborator, error) {
	if limit <= 0 {
		limit = 10
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		rows, err := tx.Run(ctx, `
			MATCH (e:Person {id: $id})-[r:WORKED_WITH]-(other:Person)
			RETURN other.id AS id, other.name AS name, r.weight AS weight
			ORDER BY r.weight DESC
			LIMIT $limit`,
			map[string]any{"id": employeeID, "limit": limit})
		if err != nil {
			return nil, err
		}
		var out []Collaborator
		for rows.Next(ctx) {
			rec := rows.Record()
			out = append(out, Collaborator{
				EmployeeID: stringValue(rec, "id"),
				Name:       stringValue(rec, "name"),
				Weight:     intValue(rec, "weight"),
			})
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query collaborators: %w", err)
	}
	return result.([]Collaborator), nil
}

// TeamGraph returns the collaboration subgraph induced by the given
// employee IDs.
func (c *Client) TeamGraph(ctx context.Context, employeeIDs []string) (*TeamCollaborationGraph, error) {
	if len(employeeIDs) == 0 {
		return &TeamCollaborationGraph{}, nil
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		g := &TeamCollaborationGraph{}

		rows, err := tx.Run(ctx, `
			MATCH (p:Person) WHERE p.id IN $ids
			RETURN p.id AS id, p.name AS name`,
			map[string]any{"ids": employeeIDs})
		if err != nil {
			return nil, err
		}
		for rows.Next(ctx) {
			rec := rows.Record()
			g.Nodes = append(g.Nodes, GraphNode{
				EmployeeID: stringValue(rec, "id"),
				Name:       stringValue(rec, "name"),
			})
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		rows, err = tx.Run(ctx, `
			MATCH (a:Person)-[r:WORKED_WITH]->(b:Person)
			WHERE a.id IN $ids AND b.id IN $ids
			RETURN a.id AS from, b.id AS to, r.weight AS weight`,
			map[string]any{"ids": employeeIDs})
		if err != nil {
			return nil, err
		}
		for rows.Next(ctx) {
			rec := rows.Record()
			g.Edges = append(g.Edges, GraphEdge{
				From:   stringValue(rec, "from"),
				To:     stringValue(rec, "to"),
				Weight: intValue(rec, "weight"),
			})
		}
		return g, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query team graph: %w", err)
	}
	return result.(*TeamCollaborationGraph), nil
}

// ExpertScores collects per-candidate graph evidence in one round trip.
// Candidates absent from the graph are simply missing from the map; the
// Graph-RAG fusion step substitutes a synthetic score for those.
func (c *Client) ExpertScores(ctx context.Context, employeeIDs []string) (map[string]ExpertSignal, error) {
	if len(employeeIDs) == 0 {
		return map[string]ExpertSignal{}, nil
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		rows, err := tx.Run(ctx, `
			MATCH (e:Person) WHERE e.id IN $ids
			OPTIONAL MATCH (e)-[c:CONTRIBUTED_TO]->(:Project)
			OPTIONAL MATCH (e)-[x:HAS_EXPERTISE]->(:Topic)
			OPTIONAL MATCH (e)-[w:WORKED_WITH]-(:Person)
			RETURN e.id AS id,
			       coalesce(sum(DISTINCT c.count), 0) AS contributions,
			       count(DISTINCT x) AS expertise,
			       coalesce(sum(DISTINCT w.weight), 0) AS collaboration`,
			map[string]any{"ids": employeeIDs})
		if err != nil {
			return nil, err
		}
		out := map[string]ExpertSignal{}
		for rows.Next(ctx) {
			rec := rows.Record()
			id := stringValue(rec, "id")
			out[id] = ExpertSignal{
				EmployeeID:          id,
				Contributions:       intValue(rec, "contributions"),
				ExpertiseEdges:      intValue(rec, "expertise"),
				CollaborationWeight: intValue(rec, "collaboration"),
			}
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query expert scores: %w", err)
	}
	return result.(map[string]ExpertSignal), nil
}

// TopExpertSignals pre-fetches graph evidence for the most active people
// so it can run concurrently with a vector search that has not yet
// produced its candidate set.
func (c *Client) TopExpertSignals(ctx context.Context, limit int) (map[string]ExpertSignal, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		rows, err := tx.Run(ctx, `
			MATCH (e:Person)
			OPTIONAL MATCH (e)-[c:CONTRIBUTED_TO]->(:Project)
			OPTIONAL MATCH (e)-[x:HAS_EXPERTISE]->(:Topic)
			OPTIONAL MATCH (e)-[w:WORKED_WITH]-(:Person)
			RETURN e.id AS id,
			       coalesce(sum(DISTINCT c.count), 0) AS contributions,
			       count(DISTINCT x) AS expertise,
			       coalesce(sum(DISTINCT w.weight), 0) AS collaboration
			ORDER BY contributions DESC
			LIMIT $limit`,
			map[string]any{"limit": limit})
		if err != nil {
			return nil, err
		}
		out := map[string]ExpertSignal{}
		for rows.Next(ctx) {
			rec := rows.Record()
			id := stringValue(rec, "id")
			out[id] = ExpertSignal{
				EmployeeID:          id,
				Contributions:       intValue(rec, "contributions"),
				ExpertiseEdges:      intValue(rec, "expertise"),
				CollaborationWeight: intValue(rec, "collaboration"),
			}
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query top expert signals: %w", err)
	}
	return result.(map[string]ExpertSignal), nil
}

func stringValue(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func intValue(rec *neo4j.Record, key string) int64 {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return 0
	}
	n, _ := v.(int64)
	return n
}
