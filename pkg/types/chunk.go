package types

import "time"

// ChunkType distinguishes freshly archived chunks from consolidated ones.
type ChunkType string

const (
	// ChunkTemporary is a chunk produced directly by archiving a slice of
	// the active conversation. Temporary chunks are merged away once
	// enough of them accumulate.
	ChunkTemporary ChunkType = "temporary"

	// ChunkConsolidated is a chunk produced by merging several temporary
	// chunks. Consolidated chunks are never re-consolidated.
	ChunkConsolidated ChunkType = "consolidated"
)

// Chunk is an archived, summarized slice of past conversation. The raw
// message batch behind it is stored as its own durable blob keyed by
// RawKey (which equals the chunk id).
type Chunk struct {
	ID           string    `json:"id"`
	Type         ChunkType `json:"type"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	TokenCount   int       `json:"token_count"`
	MessageCount int       `json:"message_count"`
	Summary      string    `json:"summary"`
	KeyTopics    []string  `json:"key_topics,omitempty"`
	RawKey       string    `json:"raw_key"`
	CreatedAt    time.Time `json:"created_at"`
}

// PendingChunk is the crash-recovery record for a chunk whose raw content
// is durably stored but whose summary has not been committed yet. It is
// written before summarization starts and deleted only after the
// finalized Chunk is committed.
type PendingChunk struct {
	ID           string    `json:"id"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	TokenCount   int       `json:"token_count"`
	MessageCount int       `json:"message_count"`
	RawKey       string    `json:"raw_key"`
	CreatedAt    time.Time `json:"created_at"`
}
