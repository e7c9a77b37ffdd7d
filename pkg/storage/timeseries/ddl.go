package timeseries

import "context"

// Event log DDL. Partitioned daily, ordered by (source, event_type,
// timestamp); event_id closes the sorting key so ReplacingMergeTree
// collapses racing duplicate inserts of the same deterministic ID.
const eventsDDL = `
CREATE TABLE IF NOT EXISTS events (
    event_id    UUID,
    timestamp   DateTime('UTC'),
    source      LowCardinality(String),
    event_type  LowCardinality(String),
    project_id  String,
    actor_id    String,
    entity_id   String,
    entity_type String,
    metadata    String
)
ENGINE = ReplacingMergeTree
PARTITION BY toDate(timestamp)
ORDER BY (source, event_type, timestamp, event_id)
`

// Daily DORA rollup maintained by ClickHouse as events arrive.
const doraViewDDL = `
CREATE MATERIALIZED VIEW IF NOT EXISTS dora_daily_metrics
ENGINE = SummingMergeTree
PARTITION BY toYYYYMM(date)
ORDER BY (date, project_id)
AS SELECT
    toDate(timestamp)                                                         AS date,
    project_id,
    countIf(event_type = 'deployment')                                        AS deployments,
    avgIf(toFloat64OrZero(JSONExtractRaw(metadata, 'lead_time_hours')),
          event_type = 'pr_merged'
          AND JSONHas(metadata, 'lead_time_hours'))                           AS avg_lead_time_hours,
    countIf(event_type = 'pr_merged')                                         AS prs_merged,
    countIf(event_type = 'push')                                              AS commits,
    sumIf(toFloat64OrZero(JSONExtractRaw(metadata, 'story_points')),
          event_type = 'task_completed')                                      AS story_points_completed,
    countIf(event_type = 'deployment'
            AND JSONExtractString(metadata, 'conclusion') = 'failure')        AS failed_deployments
FROM events
GROUP BY date, project_id
`

// bootstrap creates the schema objects. Idempotent; runs on every startup.
func (c *Client) bootstrap(ctx context.Context) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	if err := c.conn.Exec(ctx, eventsDDL); err != nil {
		return err
	}
	return c.conn.Exec(ctx, doraViewDDL)
}
