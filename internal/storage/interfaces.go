// Package storage provides composable storage interfaces for the aide
// conversational core.
//
// The storage layer is designed with small, focused interfaces that can
// be implemented independently and composed as needed. Both the SQLite
// and PostgreSQL backends implement all of them; callers depend only on
// the interfaces they actually use.
package storage

import (
	"context"

	"github.com/scrypster/aide/pkg/types"
)

// ChunkStore persists the archive: the finalized chunk index, the
// pending-chunk crash-recovery queue, and each chunk's raw message batch
// as its own durable blob keyed by chunk id.
type ChunkStore interface {
	// SaveChunk inserts or updates a finalized chunk in the index.
	SaveChunk(ctx context.Context, chunk *types.Chunk) error

	// GetChunk retrieves a chunk by ID.
	// Returns ErrNotFound if the chunk doesn't exist.
	GetChunk(ctx context.Context, id string) (*types.Chunk, error)

	// ListChunks returns all finalized chunks ordered by start time
	// ascending.
	ListChunks(ctx context.Context) ([]*types.Chunk, error)

	// DeleteChunk removes a chunk from the index, along with any summary
	// embedding stored for it. Returns ErrNotFound if it doesn't exist.
	DeleteChunk(ctx context.Context, id string) error

	// SavePending records a pending chunk. The record must be durable
	// before summarization starts.
	SavePending(ctx context.Context, pending *types.PendingChunk) error

	// ListPending returns all pending chunks ordered by creation time
	// ascending. An empty slice means a clean shutdown.
	ListPending(ctx context.Context) ([]*types.PendingChunk, error)

	// DeletePending clears a pending record once its chunk is committed.
	// Returns ErrNotFound if the record doesn't exist.
	DeletePending(ctx context.Context, id string) error

	// WriteRaw stores the raw message batch for a chunk.
	WriteRaw(ctx context.Context, id string, messages []types.Message) error

	// ReadRaw loads the raw message batch for a chunk.
	// Returns ErrNotFound if no batch is stored under the id.
	ReadRaw(ctx context.Context, id string) ([]types.Message, error)

	// DeleteRaw removes the raw batch for a chunk. Deleting a missing
	// batch is not an error; raw deletion runs during consolidation
	// cleanup and must be idempotent.
	DeleteRaw(ctx context.Context, id string) error

	// Close releases any resources held by the store.
	Close() error
}

// ConversationStore persists the active conversation as a single ordered
// record, written wholesale after every mutation.
type ConversationStore interface {
	// SaveConversation replaces the stored conversation.
	SaveConversation(ctx context.Context, messages []types.Message) error

	// LoadConversation returns the stored conversation. A corrupt record
	// is logged and treated as empty rather than refusing to start.
	LoadConversation(ctx context.Context) ([]types.Message, error)
}

// SettingsStore is a small key-value surface used for the cumulative
// spend ledger and user-adjustable settings.
type SettingsStore interface {
	// GetSetting retrieves a value by key.
	// Returns ErrNotFound if the key doesn't exist.
	GetSetting(ctx context.Context, key string) (string, error)

	// SetSetting writes a key-value pair with upsert semantics.
	SetSetting(ctx context.Context, key, value string) error
}

// SummaryIndex stores vector embeddings of chunk summaries and supports
// nearest-neighbour lookup over them. The PostgreSQL backend uses
// pgvector; the SQLite backend stores binary blobs and scores in Go.
// Obtained from a ChunkStore by type assertion, in the same way the
// full-text path is feature-detected elsewhere.
type SummaryIndex interface {
	// StoreSummaryEmbedding stores the embedding for a chunk summary,
	// replacing any previous one.
	StoreSummaryEmbedding(ctx context.Context, chunkID string, embedding []float32, model string) error

	// SearchSummaries returns up to limit chunks whose summary embeddings
	// are closest to the query vector, best match first.
	SearchSummaries(ctx context.Context, query []float32, limit int) ([]SummaryMatch, error)
}
