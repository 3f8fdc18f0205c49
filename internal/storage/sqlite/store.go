// Package sqlite provides a SQLite implementation of the storage
// interfaces. It is the default backend: a single local database file
// holds the chunk index, pending-chunk queue, raw message batches, the
// active conversation, settings, and summary embeddings.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/pkg/types"
)

// Schema creates all tables used by the aide core. Statements are
// idempotent so the schema can be applied on every startup.
const Schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id            TEXT PRIMARY KEY,
	type          TEXT NOT NULL,
	start_time    TIMESTAMP NOT NULL,
	end_time      TIMESTAMP NOT NULL,
	token_count   INTEGER NOT NULL DEFAULT 0,
	message_count INTEGER NOT NULL DEFAULT 0,
	summary       TEXT NOT NULL DEFAULT '',
	key_topics    TEXT NOT NULL DEFAULT '[]',
	raw_key       TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chunks_start_time ON chunks(start_time);

CREATE TABLE IF NOT EXISTS pending_chunks (
	id            TEXT PRIMARY KEY,
	start_time    TIMESTAMP NOT NULL,
	end_time      TIMESTAMP NOT NULL,
	token_count   INTEGER NOT NULL DEFAULT 0,
	message_count INTEGER NOT NULL DEFAULT 0,
	raw_key       TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chunk_raw (
	chunk_id TEXT PRIMARY KEY,
	content  BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	content    BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS summary_embeddings (
	chunk_id  TEXT PRIMARY KEY,
	embedding BLOB NOT NULL,
	dimension INTEGER NOT NULL,
	model     TEXT NOT NULL
);
`

// Store implements storage.ChunkStore, storage.ConversationStore,
// storage.SettingsStore and storage.SummaryIndex using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database, configures WAL mode, and creates the
// schema.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Using a single open
	// connection serialises writes and avoids SQLITE_BUSY errors under
	// concurrent load. WAL mode lets readers proceed without blocking
	// the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying handle for callers that need direct access
// (backups run VACUUM INTO against it).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveChunk inserts or updates a finalized chunk in the index.
func (s *Store) SaveChunk(ctx context.Context, chunk *types.Chunk) error {
	if chunk == nil || chunk.ID == "" {
		return fmt.Errorf("%w: chunk with ID is required", storage.ErrInvalidInput)
	}

	topicsJSON, err := json.Marshal(chunk.KeyTopics)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal key topics: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chunks (id, type, start_time, end_time, token_count, message_count, summary, key_topics, raw_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			token_count = excluded.token_count,
			message_count = excluded.message_count,
			summary = excluded.summary,
			key_topics = excluded.key_topics,
			raw_key = excluded.raw_key
	`, chunk.ID, string(chunk.Type), chunk.StartTime, chunk.EndTime,
		chunk.TokenCount, chunk.MessageCount, chunk.Summary, string(topicsJSON),
		chunk.RawKey, chunk.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: failed to save chunk: %w", err)
	}
	return nil
}

// GetChunk retrieves a chunk by ID.
func (s *Store) GetChunk(ctx context.Context, id string) (*types.Chunk, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: chunk ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, start_time, end_time, token_count, message_count, summary, key_topics, raw_key, created_at
		FROM chunks WHERE id = ?
	`, id)

	chunk, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get chunk: %w", err)
	}
	return chunk, nil
}

// ListChunks returns all finalized chunks ordered by start time ascending.
func (s *Store) ListChunks(ctx context.Context) ([]*types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, start_time, end_time, token_count, message_count, summary, key_topics, raw_key, created_at
		FROM chunks ORDER BY start_time ASC, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*types.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// DeleteChunk removes a chunk and its summary embedding.
func (s *Store) DeleteChunk(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: chunk ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete chunk: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check delete result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM summary_embeddings WHERE chunk_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: failed to delete summary embedding: %w", err)
	}
	return nil
}

// SavePending records a pending chunk.
func (s *Store) SavePending(ctx context.Context, pending *types.PendingChunk) error {
	if pending == nil || pending.ID == "" {
		return fmt.Errorf("%w: pending chunk with ID is required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_chunks (id, start_time, end_time, token_count, message_count, raw_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			token_count = excluded.token_count,
			message_count = excluded.message_count,
			raw_key = excluded.raw_key
	`, pending.ID, pending.StartTime, pending.EndTime,
		pending.TokenCount, pending.MessageCount, pending.RawKey, pending.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: failed to save pending chunk: %w", err)
	}
	return nil
}

// ListPending returns all pending chunks ordered by creation time ascending.
func (s *Store) ListPending(ctx context.Context) ([]*types.PendingChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, start_time, end_time, token_count, message_count, raw_key, created_at
		FROM pending_chunks ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list pending chunks: %w", err)
	}
	defer rows.Close()

	var pendings []*types.PendingChunk
	for rows.Next() {
		p := &types.PendingChunk{}
		if err := rows.Scan(&p.ID, &p.StartTime, &p.EndTime, &p.TokenCount, &p.MessageCount, &p.RawKey, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan pending chunk: %w", err)
		}
		pendings = append(pendings, p)
	}
	return pendings, rows.Err()
}

// DeletePending clears a pending record.
func (s *Store) DeletePending(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: pending chunk ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM pending_chunks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete pending chunk: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check delete result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// WriteRaw stores the raw message batch for a chunk as a JSON blob.
func (s *Store) WriteRaw(ctx context.Context, id string, messages []types.Message) error {
	if id == "" {
		return fmt.Errorf("%w: chunk ID is required", storage.ErrInvalidInput)
	}

	content, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal raw batch: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chunk_raw (chunk_id, content) VALUES (?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET content = excluded.content
	`, id, content)
	if err != nil {
		return fmt.Errorf("sqlite: failed to write raw batch: %w", err)
	}
	return nil
}

// ReadRaw loads the raw message batch for a chunk.
func (s *Store) ReadRaw(ctx context.Context, id string) ([]types.Message, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: chunk ID is required", storage.ErrInvalidInput)
	}

	var content []byte
	err := s.db.QueryRowContext(ctx, `SELECT content FROM chunk_raw WHERE chunk_id = ?`, id).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to read raw batch: %w", err)
	}

	var messages []types.Message
	if err := json.Unmarshal(content, &messages); err != nil {
		return nil, fmt.Errorf("sqlite: failed to unmarshal raw batch: %w", err)
	}
	return messages, nil
}

// DeleteRaw removes the raw batch for a chunk. Idempotent.
func (s *Store) DeleteRaw(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: chunk ID is required", storage.ErrInvalidInput)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunk_raw WHERE chunk_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: failed to delete raw batch: %w", err)
	}
	return nil
}

// SaveConversation replaces the stored conversation wholesale.
func (s *Store) SaveConversation(ctx context.Context, messages []types.Message) error {
	content, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal conversation: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation (id, content, updated_at) VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, updated_at = CURRENT_TIMESTAMP
	`, content)
	if err != nil {
		return fmt.Errorf("sqlite: failed to save conversation: %w", err)
	}
	return nil
}

// LoadConversation returns the stored conversation. A corrupt record is
// logged and treated as empty rather than refusing to start.
func (s *Store) LoadConversation(ctx context.Context) ([]types.Message, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, `SELECT content FROM conversation WHERE id = 1`).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load conversation: %w", err)
	}

	var messages []types.Message
	if err := json.Unmarshal(content, &messages); err != nil {
		log.Printf("WARNING: sqlite: conversation record is corrupt, starting empty: %v", err)
		return nil, nil
	}
	return messages, nil
}

// GetSetting retrieves a single setting value by key.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: failed to get setting %q: %w", key, err)
	}
	return value, nil
}

// SetSetting writes a key-value pair with upsert semantics.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("%w: setting key is required", storage.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("sqlite: failed to set setting %q: %w", key, err)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanChunk.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*types.Chunk, error) {
	chunk := &types.Chunk{}
	var chunkType, topicsJSON string

	err := row.Scan(&chunk.ID, &chunkType, &chunk.StartTime, &chunk.EndTime,
		&chunk.TokenCount, &chunk.MessageCount, &chunk.Summary, &topicsJSON,
		&chunk.RawKey, &chunk.CreatedAt)
	if err != nil {
		return nil, err
	}

	chunk.Type = types.ChunkType(chunkType)
	if topicsJSON != "" && topicsJSON != "[]" {
		if err := json.Unmarshal([]byte(topicsJSON), &chunk.KeyTopics); err != nil {
			log.Printf("WARNING: sqlite: corrupt key_topics for chunk %s: %v", chunk.ID, err)
		}
	}
	return chunk, nil
}

// Compile-time assertions.
var (
	_ storage.ChunkStore        = (*Store)(nil)
	_ storage.ConversationStore = (*Store)(nil)
	_ storage.SettingsStore     = (*Store)(nil)
)
