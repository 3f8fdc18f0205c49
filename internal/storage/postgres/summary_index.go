package postgres

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/scrypster/aide/internal/storage"
)

// ErrVectorUnavailable is returned when the server lacks the pgvector
// extension and a summary search operation is attempted anyway.
var ErrVectorUnavailable = fmt.Errorf("postgres: pgvector extension is not available")

// VectorAvailable reports whether summary embedding search is usable.
func (s *Store) VectorAvailable() bool {
	return s.pgvectorAvailable
}

// StoreSummaryEmbedding stores the embedding for a chunk summary using a
// pgvector column.
func (s *Store) StoreSummaryEmbedding(ctx context.Context, chunkID string, embedding []float32, model string) error {
	if !s.pgvectorAvailable {
		return ErrVectorUnavailable
	}
	if chunkID == "" {
		return fmt.Errorf("%w: chunk ID is required", storage.ErrInvalidInput)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summary_embeddings (chunk_id, embedding, dimension, model)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chunk_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			dimension = EXCLUDED.dimension,
			model = EXCLUDED.model
	`, chunkID, pgvector.NewVector(embedding), len(embedding), model)
	if err != nil {
		return fmt.Errorf("postgres: failed to store summary embedding: %w", err)
	}
	return nil
}

// SearchSummaries returns the chunks whose summary embeddings are closest
// to the query vector, best match first. Uses cosine distance; the score
// is converted back to cosine similarity so both backends agree.
func (s *Store) SearchSummaries(ctx context.Context, query []float32, limit int) ([]storage.SummaryMatch, error) {
	if !s.pgvectorAvailable {
		return nil, ErrVectorUnavailable
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: query vector cannot be empty", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, embedding <=> $1 AS distance
		FROM summary_embeddings
		WHERE dimension = $2
		ORDER BY distance ASC
		LIMIT $3
	`, pgvector.NewVector(query), len(query), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to search summary embeddings: %w", err)
	}
	defer rows.Close()

	var matches []storage.SummaryMatch
	for rows.Next() {
		var chunkID string
		var distance float64
		if err := rows.Scan(&chunkID, &distance); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan summary match: %w", err)
		}
		matches = append(matches, storage.SummaryMatch{
			ChunkID: chunkID,
			Score:   1 - distance,
		})
	}
	return matches, rows.Err()
}

// Compile-time assertion.
var _ storage.SummaryIndex = (*Store)(nil)
