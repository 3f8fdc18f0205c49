package archive

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/pkg/types"
)

// memStore is an in-memory ChunkStore for archiver tests.
type memStore struct {
	mu       sync.Mutex
	chunks   map[string]*types.Chunk
	pendings map[string]*types.PendingChunk
	raws     map[string][]types.Message
}

func newMemStore() *memStore {
	return &memStore{
		chunks:   make(map[string]*types.Chunk),
		pendings: make(map[string]*types.PendingChunk),
		raws:     make(map[string][]types.Message),
	}
}

func (s *memStore) SaveChunk(_ context.Context, chunk *types.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *chunk
	s.chunks[chunk.ID] = &c
	return nil
}

func (s *memStore) GetChunk(_ context.Context, id string) (*types.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunk, ok := s.chunks[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *chunk
	return &c, nil
}

func (s *memStore) ListChunks(_ context.Context) ([]*types.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Chunk
	for _, chunk := range s.chunks {
		c := *chunk
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *memStore) DeleteChunk(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chunks[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.chunks, id)
	return nil
}

func (s *memStore) SavePending(_ context.Context, pending *types.PendingChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := *pending
	s.pendings[pending.ID] = &p
	return nil
}

func (s *memStore) ListPending(_ context.Context) ([]*types.PendingChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.PendingChunk
	for _, pending := range s.pendings {
		p := *pending
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) DeletePending(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pendings[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.pendings, id)
	return nil
}

func (s *memStore) WriteRaw(_ context.Context, id string, messages []types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raws[id] = append([]types.Message(nil), messages...)
	return nil
}

func (s *memStore) ReadRaw(_ context.Context, id string) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.raws[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]types.Message(nil), raw...), nil
}

func (s *memStore) DeleteRaw(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.raws, id)
	return nil
}

func (s *memStore) Close() error { return nil }

// stubSummarizer returns a canned summary, optionally failing the first
// few calls to exercise the retry path.
type stubSummarizer struct {
	mu        sync.Mutex
	calls     int
	failFirst int
}

func (s *stubSummarizer) Summarize(_ context.Context, messages []types.Message, _ SummaryContext) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failFirst {
		return Summary{}, fmt.Errorf("model unavailable")
	}
	return Summary{
		Text:      fmt.Sprintf("summary of %d messages", len(messages)),
		KeyTopics: []string{"testing"},
	}, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = RetryPolicy{Base: time.Millisecond, Cap: 5 * time.Millisecond}
	return cfg
}

func batchAt(t0 time.Time, n int) []types.Message {
	msgs := make([]types.Message, n)
	for i := range msgs {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		msgs[i] = types.Message{
			Role:      role,
			Content:   fmt.Sprintf("message %d", i),
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
		}
	}
	return msgs
}

func TestArchiveCommitsChunkAndClearsPending(t *testing.T) {
	store := newMemStore()
	archiver := NewArchiver(store, &stubSummarizer{}, testConfig())

	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	batch := batchAt(t0, 4)

	chunk, err := archiver.Archive(context.Background(), batch, SummaryContext{})
	require.NoError(t, err)

	assert.Equal(t, types.ChunkTemporary, chunk.Type)
	assert.Equal(t, 4, chunk.MessageCount)
	assert.Equal(t, batch[0].Timestamp, chunk.StartTime)
	assert.Equal(t, batch[3].Timestamp, chunk.EndTime)
	assert.NotEmpty(t, chunk.Summary)

	pendings, err := store.ListPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pendings, "pending record should be cleared after commit")

	raw, err := store.ReadRaw(context.Background(), chunk.RawKey)
	require.NoError(t, err)
	assert.Len(t, raw, 4)
}

func TestArchiveRejectsEmptyBatch(t *testing.T) {
	archiver := NewArchiver(newMemStore(), &stubSummarizer{}, testConfig())

	_, err := archiver.Archive(context.Background(), nil, SummaryContext{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestArchiveRetriesSummarizationFailures(t *testing.T) {
	store := newMemStore()
	summarizer := &stubSummarizer{failFirst: 3}
	archiver := NewArchiver(store, summarizer, testConfig())

	var notices []string
	archiver.SetSlowNotifier(func(msg string) { notices = append(notices, msg) })

	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	chunk, err := archiver.Archive(context.Background(), batchAt(t0, 2), SummaryContext{})
	require.NoError(t, err)

	assert.Equal(t, 4, summarizer.calls)
	assert.NotEmpty(t, chunk.Summary)
	assert.Len(t, notices, 1, "slow notice fires once per operation")
}

func TestRecoverPendingFinalizesCrashLeftovers(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	// Simulate a crash after the raw batch and pending record were made
	// durable but before the summary was committed.
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	batch := batchAt(t0, 3)
	require.NoError(t, store.WriteRaw(ctx, "pending-1", batch))
	require.NoError(t, store.SavePending(ctx, &types.PendingChunk{
		ID:           "pending-1",
		StartTime:    batch[0].Timestamp,
		EndTime:      batch[2].Timestamp,
		TokenCount:   120,
		MessageCount: 3,
		RawKey:       "pending-1",
		CreatedAt:    t0,
	}))

	archiver := NewArchiver(store, &stubSummarizer{}, testConfig())
	require.NoError(t, archiver.RecoverPending(ctx))

	chunk, err := store.GetChunk(ctx, "pending-1")
	require.NoError(t, err)
	assert.Equal(t, types.ChunkTemporary, chunk.Type)
	assert.Equal(t, 3, chunk.MessageCount)
	assert.NotEmpty(t, chunk.Summary)

	pendings, err := store.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pendings)

	// A second recovery pass over a clean queue is a no-op.
	require.NoError(t, archiver.RecoverPending(ctx))
	chunks, err := store.ListChunks(ctx)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestConsolidationMergesOldestFour(t *testing.T) {
	store := newMemStore()
	archiver := NewArchiver(store, &stubSummarizer{}, testConfig())
	ctx := context.Background()

	// Six temporary chunks T1..T6, two messages each.
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		batch := batchAt(t0.Add(time.Duration(i)*time.Hour), 2)
		_, err := archiver.Archive(ctx, batch, SummaryContext{})
		require.NoError(t, err)
	}

	require.NoError(t, archiver.CheckAndConsolidate(ctx, nil, "persona"))

	chunks, err := store.ListChunks(ctx)
	require.NoError(t, err)
	require.Len(t, chunks, 3, "four oldest merged, two newest remain")

	merged := chunks[0]
	assert.Equal(t, types.ChunkConsolidated, merged.Type)
	assert.Equal(t, 8, merged.MessageCount)
	assert.Equal(t, t0, merged.StartTime)
	assert.Equal(t, t0.Add(3*time.Hour+time.Minute), merged.EndTime)

	raw, err := store.ReadRaw(ctx, merged.RawKey)
	require.NoError(t, err)
	assert.Len(t, raw, 8, "raw batches concatenated in order")
	assert.True(t, sort.SliceIsSorted(raw, func(i, j int) bool {
		return raw[i].Timestamp.Before(raw[j].Timestamp)
	}))

	// The two survivors are still temporary and keep their raw batches.
	for _, chunk := range chunks[1:] {
		assert.Equal(t, types.ChunkTemporary, chunk.Type)
		_, err := store.ReadRaw(ctx, chunk.RawKey)
		assert.NoError(t, err)
	}
}

func TestConsolidationBelowTriggerIsNoop(t *testing.T) {
	store := newMemStore()
	archiver := NewArchiver(store, &stubSummarizer{}, testConfig())
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := archiver.Archive(ctx, batchAt(t0.Add(time.Duration(i)*time.Hour), 2), SummaryContext{})
		require.NoError(t, err)
	}

	require.NoError(t, archiver.CheckAndConsolidate(ctx, nil, ""))

	chunks, err := store.ListChunks(ctx)
	require.NoError(t, err)
	assert.Len(t, chunks, 5)
	for _, chunk := range chunks {
		assert.Equal(t, types.ChunkTemporary, chunk.Type)
	}
}

func TestRecentSummariesMergesTiersChronologically(t *testing.T) {
	store := newMemStore()
	archiver := NewArchiver(store, &stubSummarizer{}, testConfig())
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveChunk(ctx, &types.Chunk{
		ID: "c1", Type: types.ChunkConsolidated,
		StartTime: t0, EndTime: t0.Add(time.Hour), Summary: "old era",
	}))
	require.NoError(t, store.SaveChunk(ctx, &types.Chunk{
		ID: "c2", Type: types.ChunkConsolidated,
		StartTime: t0.Add(2 * time.Hour), EndTime: t0.Add(3 * time.Hour), Summary: "mid era",
	}))
	require.NoError(t, store.SaveChunk(ctx, &types.Chunk{
		ID: "t1", Type: types.ChunkTemporary,
		StartTime: t0.Add(4 * time.Hour), EndTime: t0.Add(5 * time.Hour), Summary: "recent",
	}))

	// n=1 keeps only the newest consolidated chunk but never hides
	// temporary chunks.
	chunks, err := archiver.RecentSummaries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "c2", chunks[0].ID)
	assert.Equal(t, "t1", chunks[1].ID)
}

func TestSearchChunkMatchesCaseInsensitively(t *testing.T) {
	store := newMemStore()
	archiver := NewArchiver(store, &stubSummarizer{}, testConfig())
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	batch := []types.Message{
		{Role: types.RoleUser, Content: "Remind me about the Berlin trip", Timestamp: t0},
		{Role: types.RoleAssistant, Content: "Noted.", Timestamp: t0.Add(time.Minute)},
		{Role: types.RoleUser, Content: "berlin hotel is booked", Timestamp: t0.Add(2 * time.Minute)},
	}
	chunk, err := archiver.Archive(ctx, batch, SummaryContext{})
	require.NoError(t, err)

	matches, err := archiver.SearchChunk(ctx, chunk.ID, "BERLIN")
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	matches, err = archiver.SearchChunk(ctx, chunk.ID, "paris")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchSummariesUnavailableWithoutEmbedder(t *testing.T) {
	archiver := NewArchiver(newMemStore(), &stubSummarizer{}, testConfig())

	_, err := archiver.SearchSummaries(context.Background(), "anything", 5)
	assert.Error(t, err)
}
