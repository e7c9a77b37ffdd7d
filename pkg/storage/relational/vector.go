package relational

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/forgesight/forgesight/pkg/models"
)

// UpsertEmbedding writes one vector-index row, replacing any existing row
// for the same (source_id, embedding_type). Callers are responsible for
// producing vectors of the configured dimension; pgvector rejects any
// mismatch against the column type.
func (c *Client) UpsertEmbedding(ctx context.Context, rec *models.EmbeddingRecord) error {
	if !rec.Type.Valid() {
		return fmt.Errorf("unknown embedding type %q", rec.Type)
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding metadata: %w", err)
	}
	if rec.Metadata == nil {
		metadata = []byte("{}")
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO embeddings (embedding_type, source_id, source_table, title, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_id, embedding_type) DO UPDATE SET
		    source_table = EXCLUDED.source_table,
		    title        = EXCLUDED.title,
		    content      = EXCLUDED.content,
		    metadata     = EXCLUDED.metadata,
		    embedding    = EXCLUDED.embedding,
		    updated_at   = now()`,
		string(rec.Type), rec.SourceID, rec.SourceTable, rec.Title, rec.Content,
		metadata, pgvector.NewVector(rec.Vector),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding %s/%s: %w", rec.Type, rec.SourceID, err)
	}
	return nil
}

// DeleteEmbedding removes the row for (source_id, embedding_type).
// Deleting a missing row is not an error.
func (c *Client) DeleteEmbedding(ctx context.Context, embeddingType models.EmbeddingType, sourceID string) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	_, err := c.db.ExecContext(ctx,
		"DELETE FROM embeddings WHERE source_id = $1 AND embedding_type = $2",
		sourceID, string(embeddingType))
	if err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}
	return nil
}

type similarityRow struct {
	ID           string  `db:"id"`
	SourceID     string  `db:"source_id"`
	Type         string  `db:"embedding_type"`
	Title        string  `db:"title"`
	Content      string  `db:"content"`
	MetadataJSON []byte  `db:"metadata"`
	Similarity   float64 `db:"similarity"`
}

// SearchSimilar runs cosine k-NN over the vector index, optionally
// restricted to one embedding type. Similarity is 1 − cosine_distance,
// ordered best-first. k <= 0 returns an empty result without touching
// the database.
func (c *Client) SearchSimilar(ctx context.Context, query []float32, embeddingType models.EmbeddingType, k int) ([]models.SimilarityMatch, error) {
	if k <= 0 {
		return []models.SimilarityMatch{}, nil
	}
	if k > MaxListLimit {
		k = MaxListLimit
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	sql := `
		SELECT id, source_id, embedding_type, title, content, metadata,
		       1 - (embedding <=> $1) AS similarity
		FROM embeddings`
	args := []any{pgvector.NewVector(query)}
	if embeddingType != "" {
		sql += " WHERE embedding_type = $2"
		args = append(args, string(embeddingType))
	}
	sql += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT %d", k)

	var rows []similarityRow
	if err := c.db.SelectContext(ctx, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
	}

	out := make([]models.SimilarityMatch, 0, len(rows))
	for _, r := range rows {
		m := models.SimilarityMatch{
			SourceID:   r.SourceID,
			Type:       models.EmbeddingType(r.Type),
			Title:      r.Title,
			Content:    r.Content,
			Similarity: r.Similarity,
		}
		if id, err := uuid.Parse(r.ID); err == nil {
			m.ID = id
		}
		if len(r.MetadataJSON) > 0 {
			var meta map[string]any
			if err := json.Unmarshal(r.MetadataJSON, &meta); err == nil && len(meta) > 0 {
				m.Metadata = meta
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// CountEmbeddings reports rows per embedding type for health reporting.
func (c *Client) CountEmbeddings(ctx context.Context) (map[models.EmbeddingType]int, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	var rows []struct {
		Type  string `db:"embedding_type"`
		Count int    `db:"count"`
	}
	err := c.db.SelectContext(ctx, &rows,
		"SELECT embedding_type, COUNT(*) AS count FROM embeddings GROUP BY embedding_type")
	if err != nil {
		return nil, fmt.Errorf("failed to count embeddings: %w", err)
	}
	out := make(map[models.EmbeddingType]int, len(rows))
	for _, r := range rows {
		out[models.EmbeddingType(r.Type)] = r.Count
	}
	return out, nil
}
