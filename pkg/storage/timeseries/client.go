// Package timeseries provides the ClickHouse adapter for the append-only
// event log. The ingestion pipeline is the only writer; the analytics
// materialiser and agent tools read from it.
package timeseries

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"github.com/forgesight/forgesight/pkg/config"
	"github.com/forgesight/forgesight/pkg/models"
)

// Client wraps the ClickHouse connection pool for the event log.
type Client struct {
	conn    driver.Conn
	timeout time.Duration
}

// NewClient opens the connection pool, verifies connectivity, and
// bootstraps the events table and the DORA materialised view.
func NewClient(ctx context.Context, cfg *config.TimeSeriesConfig, timeout time.Duration) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	c := &Client{conn: conn, timeout: timeout}
	if err := c.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	if err := c.bootstrap(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to bootstrap event log schema: %w", err)
	}
	return c, nil
}

// NewClientFromConn wraps an existing connection (useful for testing).
func NewClientFromConn(conn driver.Conn, timeout time.Duration) *Client {
	return &Client{conn: conn, timeout: timeout}
}

// Ping verifies connectivity within the operation deadline.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	return c.conn.Ping(ctx)
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.conn.Close()
}

// opCtx applies the per-operation deadline. No operation may block
// indefinitely.
func (c *Client) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// HasEvent reports whether an event with the given ID is already logged.
func (c *Client) HasEvent(ctx context.Context, id uuid.UUID) (bool, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	var count uint64
	row := c.conn.QueryRow(ctx, "SELECT count() FROM events WHERE event_id = ?", id.String())
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check event existence: %w", err)
	}
	return count > 0, nil
}

// InsertEvent writes one event. Returns false without writing when the
// event_id is already present — re-delivery is a no-op. The
// ReplacingMergeTree engine collapses any racing duplicate at merge time.
func (c *Client) InsertEvent(ctx context.Context, e *models.Event) (bool, error) {
	exists, err := c.HasEvent(ctx, e.EventID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	err = c.conn.Exec(ctx, `
		INSERT INTO events
			(event_id, timestamp, source, event_type, project_id, actor_id, entity_id, entity_type, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EventID.String(), e.Timestamp.UTC(), string(e.Source), e.EventType,
		e.ProjectID, e.ActorID, e.EntityID, e.EntityType, e.MetadataJSON(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert event %s: %w", e.EventID, err)
	}
	return true, nil
}

// InsertBatch writes a batch of events, skipping IDs already logged.
// Returns the number of rows actually inserted.
func (c *Client) InsertBatch(ctx context.Context, events []*models.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO events
			(event_id, timestamp, source, event_type, project_id, actor_id, entity_id, entity_type, metadata)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare batch: %w", err)
	}

	inserted := 0
	for _, e := range events {
		exists, err := c.HasEvent(ctx, e.EventID)
		if err != nil {
			return inserted, err
		}
		if exists {
			continue
		}
		if err := batch.Append(
			e.EventID.String(), e.Timestamp.UTC(), string(e.Source), e.EventType,
			e.ProjectID, e.ActorID, e.EntityID, e.EntityType, e.MetadataJSON(),
		); err != nil {
			return inserted, fmt.Errorf("failed to append to batch: %w", err)
		}
		inserted++
	}
	if inserted == 0 {
		_ = batch.Abort()
		return 0, nil
	}
	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send batch: %w", err)
	}
	return inserted, nil
}

// EventRow is a scanned log row with decoded metadata.
type EventRow struct {
	EventID    string
	Timestamp  time.Time
	Source     string
	EventType  string
	ProjectID  string
	ActorID    string
	EntityID   string
	EntityType string
	Metadata   map[string]any
}

func scanEventRows(rows driver.Rows) ([]EventRow, error) {
	defer rows.Close()
	var out []EventRow
	for rows.Next() {
		var r EventRow
		var metadata string
		if err := rows.Scan(&r.EventID, &r.Timestamp, &r.Source, &r.EventType,
			&r.ProjectID, &r.ActorID, &r.EntityID, &r.EntityType, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if metadata != "" {
			_ = json.Unmarshal([]byte(metadata), &r.Metadata)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
