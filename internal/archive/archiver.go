// Package archive implements the crash-safe tiered archive: old
// conversation messages are offloaded into summarized chunks, pending
// records make summarization recoverable across crashes, and temporary
// chunks are periodically consolidated into larger durable ones.
package archive

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/aide/internal/llm"
	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/internal/window"
	"github.com/scrypster/aide/pkg/types"
)

// Config tunes the archive.
type Config struct {
	// ConsolidationTrigger is the temporary-chunk count that triggers a
	// consolidation pass (default 6).
	ConsolidationTrigger int

	// ChunksToConsolidate is how many of the oldest temporary chunks are
	// merged per pass (default 4).
	ChunksToConsolidate int

	// Retry is the summarization retry schedule.
	Retry RetryPolicy
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		ConsolidationTrigger: 6,
		ChunksToConsolidate:  4,
		Retry:                DefaultRetryPolicy(),
	}
}

// Archiver is the archive store. It is a serialized-access boundary:
// operations execute one at a time in the order received, which keeps
// the pending-record protocol simple. The embedder is optional; without
// it summary search is disabled.
type Archiver struct {
	mu         sync.Mutex
	store      storage.ChunkStore
	summarizer Summarizer
	embedder   llm.EmbeddingGenerator
	cfg        Config

	// onSlow, when set, is invoked once per archive operation after the
	// first summarization failure so the user learns why the turn stalls.
	onSlow func(message string)

	now func() time.Time
}

// NewArchiver creates an archiver over the given store and summarizer.
func NewArchiver(store storage.ChunkStore, summarizer Summarizer, cfg Config) *Archiver {
	if cfg.ConsolidationTrigger <= 0 {
		cfg.ConsolidationTrigger = 6
	}
	if cfg.ChunksToConsolidate <= 0 {
		cfg.ChunksToConsolidate = 4
	}
	if cfg.Retry.Base <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Archiver{
		store:      store,
		summarizer: summarizer,
		cfg:        cfg,
		now:        time.Now,
	}
}

// SetEmbedder enables summary-embedding search.
func (a *Archiver) SetEmbedder(embedder llm.EmbeddingGenerator) {
	a.embedder = embedder
}

// SetSlowNotifier installs the user-notice callback for stalled archiving.
func (a *Archiver) SetSlowNotifier(fn func(message string)) {
	a.onSlow = fn
}

// SetClock overrides the time source. Used by tests.
func (a *Archiver) SetClock(now func() time.Time) {
	a.now = now
}

// Archive offloads a message batch into one temporary chunk. The raw
// batch and a pending record are durable before the first model call, so
// a crash at any later point leaves a recoverable pending record rather
// than losing data. Summarization is retried indefinitely; this call
// blocks the turn until the chunk is committed.
func (a *Archiver) Archive(ctx context.Context, messages []types.Message, sc SummaryContext) (*types.Chunk, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: cannot archive an empty batch", storage.ErrInvalidInput)
	}

	id := uuid.NewString()
	pending := &types.PendingChunk{
		ID:           id,
		StartTime:    messages[0].Timestamp,
		EndTime:      messages[len(messages)-1].Timestamp,
		TokenCount:   window.EstimateTotal(messages),
		MessageCount: len(messages),
		RawKey:       id,
		CreatedAt:    a.now(),
	}

	if err := a.store.WriteRaw(ctx, id, messages); err != nil {
		return nil, fmt.Errorf("archive: failed to write raw batch: %w", err)
	}
	if err := a.store.SavePending(ctx, pending); err != nil {
		return nil, fmt.Errorf("archive: failed to write pending record: %w", err)
	}

	return a.finalizePending(ctx, pending, messages, sc)
}

// RecoverPending finalizes chunks left behind by a crash. For every
// pending record the raw batch is reloaded and summarized under the same
// infinite-retry policy. Idempotent when the pending queue is empty.
func (a *Archiver) RecoverPending(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	pendings, err := a.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("archive: failed to list pending chunks: %w", err)
	}
	if len(pendings) == 0 {
		return nil
	}

	log.Printf("archive: recovering %d pending chunk(s) from previous run", len(pendings))

	for _, pending := range pendings {
		messages, err := a.store.ReadRaw(ctx, pending.RawKey)
		if err != nil {
			return fmt.Errorf("archive: failed to reload raw batch for pending chunk %s: %w", pending.ID, err)
		}

		sc := SummaryContext{PriorSummaries: a.summariesBefore(ctx, pending.StartTime)}
		if _, err := a.finalizePending(ctx, pending, messages, sc); err != nil {
			return err
		}
		log.Printf("archive: recovered pending chunk %s (%d messages)", pending.ID, pending.MessageCount)
	}
	return nil
}

// finalizePending summarizes a pending chunk and commits it. The pending
// record is deleted only after the chunk row is durable.
func (a *Archiver) finalizePending(ctx context.Context, pending *types.PendingChunk, messages []types.Message, sc SummaryContext) (*types.Chunk, error) {
	summary, err := a.summarizeWithRetry(ctx, messages, sc)
	if err != nil {
		return nil, err
	}

	chunk := &types.Chunk{
		ID:           pending.ID,
		Type:         types.ChunkTemporary,
		StartTime:    pending.StartTime,
		EndTime:      pending.EndTime,
		TokenCount:   pending.TokenCount,
		MessageCount: pending.MessageCount,
		Summary:      summary.Text,
		KeyTopics:    summary.KeyTopics,
		RawKey:       pending.RawKey,
		CreatedAt:    a.now(),
	}

	if err := a.store.SaveChunk(ctx, chunk); err != nil {
		return nil, fmt.Errorf("archive: failed to commit chunk %s: %w", chunk.ID, err)
	}
	if err := a.store.DeletePending(ctx, pending.ID); err != nil {
		return nil, fmt.Errorf("archive: failed to clear pending record %s: %w", pending.ID, err)
	}

	a.indexSummary(ctx, chunk)
	return chunk, nil
}

// summarizeWithRetry never gives up: a chunk whose raw content is safe
// must eventually get its summary. The first failure triggers the slow
// notifier so the user knows why the turn is taking long.
func (a *Archiver) summarizeWithRetry(ctx context.Context, messages []types.Message, sc SummaryContext) (Summary, error) {
	var summary Summary
	notified := false

	err := a.cfg.Retry.Run(ctx, func() error {
		var err error
		summary, err = a.summarizer.Summarize(ctx, messages, sc)
		return err
	}, func(attempt int, err error) {
		log.Printf("WARNING: archive: summarization attempt %d failed: %v", attempt, err)
		if !notified && a.onSlow != nil {
			notified = true
			a.onSlow("Archiving part of our conversation is taking longer than usual; I'll reply as soon as it's done.")
		}
	})
	if err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// CheckAndConsolidate merges the oldest temporary chunks into one
// consolidated chunk once enough of them accumulate. The live tail keeps
// the merged summary continuous with the current conversation. A no-op
// below the trigger threshold.
func (a *Archiver) CheckAndConsolidate(ctx context.Context, liveTail []types.Message, persona string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	chunks, err := a.store.ListChunks(ctx)
	if err != nil {
		return fmt.Errorf("archive: failed to list chunks: %w", err)
	}

	var temporary []*types.Chunk
	for _, chunk := range chunks {
		if chunk.Type == types.ChunkTemporary {
			temporary = append(temporary, chunk)
		}
	}
	if len(temporary) < a.cfg.ConsolidationTrigger {
		return nil
	}

	oldest := temporary[:a.cfg.ChunksToConsolidate]

	// Concatenate the raw batches in chronological order.
	var merged []types.Message
	for _, chunk := range oldest {
		batch, err := a.store.ReadRaw(ctx, chunk.RawKey)
		if err != nil {
			return fmt.Errorf("archive: failed to read raw batch for chunk %s: %w", chunk.ID, err)
		}
		merged = append(merged, batch...)
	}

	// Context for the merged summary: summaries of every chunk strictly
	// outside the merged span, in chronological order.
	spanStart := oldest[0].StartTime
	spanEnd := oldest[len(oldest)-1].EndTime
	var surrounding []string
	for _, chunk := range chunks {
		if chunk.EndTime.Before(spanStart) || chunk.StartTime.After(spanEnd) {
			surrounding = append(surrounding, chunk.Summary)
		}
	}

	newID := uuid.NewString()
	sc := SummaryContext{Persona: persona, PriorSummaries: surrounding, LiveTail: liveTail}
	summary, err := a.summarizeWithRetry(ctx, merged, sc)
	if err != nil {
		return err
	}

	tokenCount := 0
	messageCount := 0
	for _, chunk := range oldest {
		tokenCount += chunk.TokenCount
		messageCount += chunk.MessageCount
	}

	consolidated := &types.Chunk{
		ID:           newID,
		Type:         types.ChunkConsolidated,
		StartTime:    spanStart,
		EndTime:      spanEnd,
		TokenCount:   tokenCount,
		MessageCount: messageCount,
		Summary:      summary.Text,
		KeyTopics:    summary.KeyTopics,
		RawKey:       newID,
		CreatedAt:    a.now(),
	}

	// Commit the new chunk (raw first, then index) before destroying the
	// originals, so a crash mid-pass duplicates data instead of losing it.
	if err := a.store.WriteRaw(ctx, newID, merged); err != nil {
		return fmt.Errorf("archive: failed to write consolidated raw batch: %w", err)
	}
	if err := a.store.SaveChunk(ctx, consolidated); err != nil {
		return fmt.Errorf("archive: failed to commit consolidated chunk: %w", err)
	}
	a.indexSummary(ctx, consolidated)

	for _, chunk := range oldest {
		if err := a.store.DeleteRaw(ctx, chunk.RawKey); err != nil {
			return fmt.Errorf("archive: failed to delete raw batch for chunk %s: %w", chunk.ID, err)
		}
		if err := a.store.DeleteChunk(ctx, chunk.ID); err != nil {
			return fmt.Errorf("archive: failed to delete chunk %s: %w", chunk.ID, err)
		}
	}

	log.Printf("archive: consolidated %d temporary chunks into %s (%d messages)",
		len(oldest), newID, messageCount)
	return nil
}

// RecentSummaries returns the last n consolidated chunks plus all
// temporary chunks, chronologically merged. Temporary chunks are never
// hidden: until consolidated they are the only durable copy of that
// memory.
func (a *Archiver) RecentSummaries(ctx context.Context, n int) ([]*types.Chunk, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	chunks, err := a.store.ListChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: failed to list chunks: %w", err)
	}

	var consolidated, temporary []*types.Chunk
	for _, chunk := range chunks {
		if chunk.Type == types.ChunkConsolidated {
			consolidated = append(consolidated, chunk)
		} else {
			temporary = append(temporary, chunk)
		}
	}

	if n > 0 && len(consolidated) > n {
		consolidated = consolidated[len(consolidated)-n:]
	}

	result := append(consolidated, temporary...)
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result, nil
}

// AllChunks returns every finalized chunk, chronologically.
func (a *Archiver) AllChunks(ctx context.Context) ([]*types.Chunk, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.ListChunks(ctx)
}

// ChunkContent loads the raw message batch behind a chunk for on-demand
// deep lookups by the agent.
func (a *Archiver) ChunkContent(ctx context.Context, id string) ([]types.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	chunk, err := a.store.GetChunk(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.store.ReadRaw(ctx, chunk.RawKey)
}

// SearchChunk returns the messages inside one chunk whose text matches
// the query, case-insensitively.
func (a *Archiver) SearchChunk(ctx context.Context, id, query string) ([]types.Message, error) {
	messages, err := a.ChunkContent(ctx, id)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	var matches []types.Message
	for _, m := range messages {
		if strings.Contains(strings.ToLower(m.Content), needle) {
			matches = append(matches, m)
		}
	}
	return matches, nil
}

// SearchSummaries finds the chunks whose summaries are semantically
// closest to the query. Requires an embedder and a store that implements
// storage.SummaryIndex; otherwise it reports that search is unavailable.
func (a *Archiver) SearchSummaries(ctx context.Context, query string, limit int) ([]*types.Chunk, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	index, ok := a.store.(storage.SummaryIndex)
	if !ok || a.embedder == nil {
		return nil, fmt.Errorf("archive: summary search is not available")
	}

	embedding, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("archive: failed to embed query: %w", err)
	}

	matches, err := index.SearchSummaries(ctx, embedding, limit)
	if err != nil {
		return nil, err
	}

	var chunks []*types.Chunk
	for _, match := range matches {
		chunk, err := a.store.GetChunk(ctx, match.ChunkID)
		if err != nil {
			continue // a match for a chunk deleted by consolidation
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// indexSummary stores the chunk's summary embedding, best-effort.
func (a *Archiver) indexSummary(ctx context.Context, chunk *types.Chunk) {
	index, ok := a.store.(storage.SummaryIndex)
	if !ok || a.embedder == nil || chunk.Summary == "" {
		return
	}

	embedding, err := a.embedder.Embed(ctx, chunk.Summary)
	if err != nil {
		log.Printf("WARNING: archive: failed to embed summary for chunk %s: %v", chunk.ID, err)
		return
	}
	if err := index.StoreSummaryEmbedding(ctx, chunk.ID, embedding, a.embedder.GetModel()); err != nil {
		log.Printf("WARNING: archive: failed to index summary for chunk %s: %v", chunk.ID, err)
	}
}

// summariesBefore collects summaries of chunks ending before t, used as
// context when recovering a pending chunk. Errors only degrade the
// summary context, so they are logged and swallowed.
func (a *Archiver) summariesBefore(ctx context.Context, t time.Time) []string {
	chunks, err := a.store.ListChunks(ctx)
	if err != nil {
		log.Printf("WARNING: archive: failed to list chunks for recovery context: %v", err)
		return nil
	}

	var summaries []string
	for _, chunk := range chunks {
		if chunk.EndTime.Before(t) {
			summaries = append(summaries, chunk.Summary)
		}
	}
	return summaries
}
