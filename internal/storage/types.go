package storage

import "errors"

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// SummaryMatch is one result of a summary embedding search.
type SummaryMatch struct {
	// ChunkID identifies the matched chunk.
	ChunkID string

	// Score is cosine similarity in [-1, 1]; higher is closer.
	Score float64
}
