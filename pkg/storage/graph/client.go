// Package graph provides the Neo4j adapter for the collaboration and
// expertise graph. The materialiser merges nodes and edges on its async
// path; the Graph-RAG pipeline and agent tools read from it.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/forgesight/forgesight/pkg/config"
)

// Client wraps the Neo4j driver. The driver manages its own pool; the
// client adds the per-operation deadline and the database name.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
}

// NewClient connects to Neo4j. Connectivity is verified eagerly so a bad
// URI fails at startup rather than on the first query.
func NewClient(ctx context.Context, cfg *config.GraphConfig, timeout time.Duration) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create graph driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify graph connectivity: %w", err)
	}
	return &Client{driver: driver, database: cfg.Database, timeout: timeout}, nil
}

// Ping verifies connectivity within the operation deadline.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	return c.driver.VerifyConnectivity(ctx)
}

// Close shuts down the driver pool.
func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.database,
		AccessMode:   mode,
	})
}

// MergeEmployee upserts a Person node keyed by its relational ID.
func (c *Client) MergeEmployee(ctx context.Context, employeeID, name string) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx,
			"MERGE (p:Person {id: $id}) SET p.name = $name",
			map[string]any{"id": employeeID, "name": name})
	})
	if err != nil {
		return fmt.Errorf("failed to merge employee node: %w", err)
	}
	return nil
}

// MergeProject upserts a Project node keyed by its relational ID.
func (c *Client) MergeProject(ctx context.Context, projectID, name string) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx,
			"MERGE (p:Project {id: $id}) SET p.name = $name",
			map[string]any{"id": projectID, "name": name})
	})
	if err != nil {
		return fmt.Errorf("failed to merge project node: %w", err)
	}
	return nil
}

// RecordContribution increments the CONTRIBUTED_TO edge between an
// employee and a project. Kind is the activity flavour (commit, pr,
// review, task).
func (c *Client) RecordContribution(ctx context.Context, employeeID, projectID, kind string) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MATCH (e:Person {id: $employee}), (p:Project {id: $project})
			MERGE (e)-[r:CONTRIBUTED_TO]->(p)
			ON CREATE SET r.count = 1, r.kinds = [$kind]
			ON MATCH SET r.count = r.count + 1,
			             r.kinds = CASE WHEN $kind IN r.kinds THEN r.kinds ELSE r.kinds + $kind END`,
			map[string]any{"employee": employeeID, "project": projectID, "kind": kind})
	})
	if err != nil {
		return fmt.Errorf("failed to record contribution: %w", err)
	}
	return nil
}

// RecordCollaboration increments the undirected WORKED_WITH edge between
// two employees. The pair is ordered so (a,b) and (b,a) share one edge.
func (c *Client) RecordCollaboration(ctx context.Context, employeeA, employeeB string) error {
	if employeeA == employeeB {
		return nil
	}
	if employeeB < employeeA {
		employeeA, employeeB = employeeB, employeeA
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MATCH (a:Person {id: $a}), (b:Person {id: $b})
			MERGE (a)-[r:WORKED_WITH]->(b)
			ON CREATE SET r.weight = 1
			ON MATCH SET r.weight = r.weight + 1`,
			map[string]any{"a": employeeA, "b": employeeB})
	})
	if err != nil {
		return fmt.Errorf("failed to record collaboration: %w", err)
	}
	return nil
}

// RecordExpertise marks an employee as having worked in a topic area,
// incrementing the edge strength on repeat observations.
func (c *Client) RecordExpertise(ctx context.Context, employeeID, topic string) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MATCH (e:Person {id: $employee})
			MERGE (t:Topic {name: $topic})
			MERGE (e)-[r:HAS_EXPERTISE]->(t)
			ON CREATE SET r.strength = 1
			ON MATCH SET r.strength = r.strength + 1`,
			map[string]any{"employee": employeeID, "topic": topic})
	})
	if err != nil {
		return fmt.Errorf("failed to record expertise: %w", err)
	}
	return nil
}
