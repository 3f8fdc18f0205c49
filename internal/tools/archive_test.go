package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/aide/internal/archive"
	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/pkg/types"
)

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
	return nil, nil
}

func (s *memStore) DeletePending(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
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

type stubSummarizer struct{}

func (stubSummarizer) Summarize(_ context.Context, messages []types.Message, _ archive.SummaryContext) (archive.Summary, error) {
	return archive.Summary{Text: fmt.Sprintf("summary of %d messages", len(messages))}, nil
}

func newExecutor(t *testing.T) (*ArchiveExecutor, string) {
	t.Helper()

	cfg := archive.DefaultConfig()
	cfg.Retry = archive.RetryPolicy{Base: time.Millisecond, Cap: 5 * time.Millisecond}
	archiver := archive.NewArchiver(newMemStore(), stubSummarizer{}, cfg)

	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	chunk, err := archiver.Archive(context.Background(), []types.Message{
		{Role: types.RoleUser, Content: "the tomatoes need staking", Timestamp: t0},
		{Role: types.RoleAssistant, Content: "Noted, I'll remind you Saturday.", Timestamp: t0.Add(time.Minute)},
	}, archive.SummaryContext{})
	require.NoError(t, err)

	return NewArchiveExecutor(archiver), chunk.ID
}

func toolCall(id, name, args string) types.ToolCall {
	return types.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func TestArchiveListReturnsChunks(t *testing.T) {
	executor, chunkID := newExecutor(t)

	results, err := executor.ExecuteParallel(context.Background(), []types.ToolCall{
		toolCall("1", "archive_list", `{}`),
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].IsError)
	assert.Contains(t, results[0].Content, chunkID)
	assert.Contains(t, results[0].Content, "summary of 2 messages")
}

func TestArchiveReadReturnsTranscript(t *testing.T) {
	executor, chunkID := newExecutor(t)

	results, err := executor.ExecuteParallel(context.Background(), []types.ToolCall{
		toolCall("1", "archive_read", fmt.Sprintf(`{"chunk_id": %q}`, chunkID)),
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].IsError)
	assert.Contains(t, results[0].Content, "tomatoes need staking")
	assert.Contains(t, results[0].Content, "user:")
}

func TestArchiveSearchFindsMatches(t *testing.T) {
	executor, chunkID := newExecutor(t)

	results, err := executor.ExecuteParallel(context.Background(), []types.ToolCall{
		toolCall("1", "archive_search", fmt.Sprintf(`{"chunk_id": %q, "query": "TOMATOES"}`, chunkID)),
		toolCall("2", "archive_search", fmt.Sprintf(`{"chunk_id": %q, "query": "kumquats"}`, chunkID)),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[string]types.ToolResult{}
	for _, r := range results {
		byID[r.CallID] = r
	}
	assert.Contains(t, byID["1"].Content, "tomatoes")
	assert.Equal(t, "no matches", byID["2"].Content)
}

func TestArchiveRecallErrorsWithoutEmbedder(t *testing.T) {
	executor, _ := newExecutor(t)

	results, err := executor.ExecuteParallel(context.Background(), []types.ToolCall{
		toolCall("1", "archive_recall", `{"query": "garden"}`),
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
}

func TestUnknownToolReturnsError(t *testing.T) {
	executor, _ := newExecutor(t)

	results, err := executor.ExecuteParallel(context.Background(), []types.ToolCall{
		toolCall("1", "send_rocket", `{}`),
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Content, "not wired")
}

func TestMissingArgumentsReturnError(t *testing.T) {
	executor, _ := newExecutor(t)

	results, err := executor.ExecuteParallel(context.Background(), []types.ToolCall{
		toolCall("1", "archive_read", `{}`),
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Content, "chunk_id is required")
}
