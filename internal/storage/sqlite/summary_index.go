package sqlite

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/scrypster/aide/internal/storage"
)

// StoreSummaryEmbedding stores the embedding for a chunk summary. The
// vector is serialized as little-endian float32 for compact storage.
func (s *Store) StoreSummaryEmbedding(ctx context.Context, chunkID string, embedding []float32, model string) error {
	if chunkID == "" {
		return fmt.Errorf("%w: chunk ID is required", storage.ErrInvalidInput)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summary_embeddings (chunk_id, embedding, dimension, model)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			model = excluded.model
	`, chunkID, serializeEmbedding(embedding), len(embedding), model)
	if err != nil {
		return fmt.Errorf("sqlite: failed to store summary embedding: %w", err)
	}
	return nil
}

// SearchSummaries scores every stored summary embedding against the query
// vector in Go. The archive holds at most a few hundred chunks for a
// single-user conversation, so a full scan is fine here.
func (s *Store) SearchSummaries(ctx context.Context, query []float32, limit int) ([]storage.SummaryMatch, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: query vector cannot be empty", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id, embedding, dimension FROM summary_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query summary embeddings: %w", err)
	}
	defer rows.Close()

	var matches []storage.SummaryMatch
	for rows.Next() {
		var chunkID string
		var blob []byte
		var dimension int
		if err := rows.Scan(&chunkID, &blob, &dimension); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan summary embedding: %w", err)
		}

		embedding, err := deserializeEmbedding(blob, dimension)
		if err != nil {
			// Skip unreadable rows rather than failing the whole search.
			continue
		}
		if len(embedding) != len(query) {
			continue
		}

		matches = append(matches, storage.SummaryMatch{
			ChunkID: chunkID,
			Score:   cosineSimilarity(query, embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to iterate summary embeddings: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// serializeEmbedding encodes a vector as little-endian float32 bytes.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, 4*len(embedding))
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeEmbedding decodes little-endian float32 bytes back into a vector.
func deserializeEmbedding(data []byte, dimension int) ([]float32, error) {
	if len(data) != 4*dimension {
		return nil, fmt.Errorf("embedding blob has %d bytes, expected %d", len(data), 4*dimension)
	}
	embedding := make([]float32, dimension)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return embedding, nil
}

// cosineSimilarity computes the cosine of the angle between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Compile-time assertion.
var _ storage.SummaryIndex = (*Store)(nil)
