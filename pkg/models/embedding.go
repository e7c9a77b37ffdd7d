package models

import (
	"time"

	"github.com/google/uuid"
)

// EmbeddingType is the closed set of embedding kinds. New values require
// a schema change (the embeddings table carries a CHECK constraint).
type EmbeddingType string

const (
	EmbeddingDeveloperProfile EmbeddingType = "developer_profile"
	EmbeddingProjectDoc       EmbeddingType = "project_doc"
)

// Valid reports whether t is a known embedding type.
func (t EmbeddingType) Valid() bool {
	switch t {
	case EmbeddingDeveloperProfile, EmbeddingProjectDoc:
		return true
	}
	return false
}

// EmbeddingRecord is one row of the vector index. At most one row exists
// per (SourceID, Type); re-embedding updates in place.
type EmbeddingRecord struct {
	ID          uuid.UUID      `db:"id"`
	Type        EmbeddingType  `db:"embedding_type"`
	SourceID    string         `db:"source_id"`
	SourceTable string         `db:"source_table"`
	Title       string         `db:"title"`
	Content     string         `db:"content"`
	Metadata    map[string]any `db:"-"`
	Vector      []float32      `db:"-"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// SimilarityMatch is one k-NN result from the vector index.
// Similarity is 1 − cosine_distance, in [0, 1] for non-negative
// embedding spaces and [−1, 1] in general.
type SimilarityMatch struct {
	ID         uuid.UUID      `json:"id"`
	SourceID   string         `json:"source_id"`
	Type       EmbeddingType  `json:"embedding_type"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Similarity float64        `json:"similarity"`
}
