package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/forgesight/forgesight/pkg/models"
	"github.com/forgesight/forgesight/pkg/storage/relational"
)

// vectorStore is the slice of the relational client the vector tools use.
type vectorStore interface {
	SearchSimilar(ctx context.Context, query []float32, embeddingType models.EmbeddingType, k int) ([]models.SimilarityMatch, error)
	GetEmployee(ctx context.Context, id uuid.UUID) (*models.Employee, error)
}

// queryEmbedder embeds a single query string.
type queryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

type SemanticSearchInput struct {
	Query string `json:"query" validate:"required"`
	Type  string `json:"type,omitempty" validate:"omitempty,oneof=developer_profile project_doc"`
	Limit int    `json:"limit,omitempty" validate:"omitempty,min=1,max=50"`
}

type FindBySkillsInput struct {
	Skills string `json:"skills" validate:"required"`
	Limit  int    `json:"limit,omitempty" validate:"omitempty,min=1,max=50"`
}

// RegisterVectorTools wires the semantic-search tools.
func RegisterVectorTools(r *Registry, store vectorStore, embedder queryEmbedder) {
	r.MustRegister(Tool{
		Name:        "semantic_search",
		Group:       GroupVector,
		Description: "Cosine k-NN over the vector index, optionally restricted to developer_profile or project_doc entries.",
		InputSchema: objectSchema(map[string]any{
			"query": stringProp("natural-language search text"),
			"type":  stringProp("developer_profile or project_doc"),
			"limit": intProp("max matches, default 10"),
		}, []string{"query"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in SemanticSearchInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			vec, err := embedder.EmbedOne(ctx, in.Query)
			if err != nil {
				return nil, err
			}
			limit := in.Limit
			if limit <= 0 {
				limit = 10
			}
			return store.SearchSimilar(ctx, vec, models.EmbeddingType(in.Type), limit)
		},
	})

	r.MustRegister(Tool{
		Name:        "find_developer_by_skills",
		Group:       GroupVector,
		Description: "Find developers whose profiles match the given skills, joined with their employee records.",
		InputSchema: objectSchema(map[string]any{
			"skills": stringProp("skills or expertise description"),
			"limit":  intProp("max developers, default 5"),
		}, []string{"skills"}),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in FindBySkillsInput
			if err := DecodeArgs(args, &in); err != nil {
				return nil, err
			}
			vec, err := embedder.EmbedOne(ctx, in.Skills)
			if err != nil {
				return nil, err
			}
			limit := in.Limit
			if limit <= 0 {
				limit = 5
			}
			matches, err := store.SearchSimilar(ctx, vec, models.EmbeddingDeveloperProfile, limit)
			if err != nil {
				return nil, err
			}

			type hit struct {
				Developer  *models.Employee `json:"developer,omitempty"`
				SourceID   string           `json:"source_id"`
				Title      string           `json:"title"`
				Similarity float64          `json:"similarity"`
			}
			out := make([]hit, 0, len(matches))
			for _, m := range matches {
				h := hit{SourceID: m.SourceID, Title: m.Title, Similarity: m.Similarity}
				if id, parseErr := uuid.Parse(m.SourceID); parseErr == nil {
					emp, getErr := store.GetEmployee(ctx, id)
					if getErr != nil && !errors.Is(getErr, relational.ErrNotFound) {
						return nil, getErr
					}
					h.Developer = emp
				}
				out = append(out, h)
			}
			return out, nil
		},
	})
}
