// Package tools provides the built-in tool executor. Concrete outward
// tools (calendar, mail, web research) live outside the core; what the
// core ships itself are the archive lookup tools the model uses to dig
// into summarized history on demand.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/scrypster/aide/internal/agent"
	"github.com/scrypster/aide/internal/archive"
	"github.com/scrypster/aide/internal/llm"
	"github.com/scrypster/aide/pkg/types"
)

// readLimitChars caps how much raw transcript one archive_read returns.
const readLimitChars = 8000

var _ agent.Executor = (*ArchiveExecutor)(nil)

// ArchiveExecutor executes the archive lookup tools. Calls in one round
// run concurrently; Cancel aborts them all.
type ArchiveExecutor struct {
	archiver *archive.Archiver

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewArchiveExecutor creates the built-in executor.
func NewArchiveExecutor(archiver *archive.Archiver) *ArchiveExecutor {
	return &ArchiveExecutor{archiver: archiver}
}

// Specs returns the tool declarations offered to the model.
func (e *ArchiveExecutor) Specs() []llm.ToolSpec {
	return []llm.ToolSpec{
		{
			Name:        "archive_list",
			Description: "List all archived conversation chunks with their ids, time spans and summaries.",
			InputSchema: objectSchema(nil),
		},
		{
			Name:        "archive_read",
			Description: "Read the raw messages of one archived chunk by id.",
			InputSchema: objectSchema(map[string]string{"chunk_id": "string"}),
		},
		{
			Name:        "archive_search",
			Description: "Search the raw messages of one archived chunk for a text query.",
			InputSchema: objectSchema(map[string]string{"chunk_id": "string", "query": "string"}),
		},
		{
			Name:        "archive_recall",
			Description: "Find archived chunks whose summaries are semantically related to a query.",
			InputSchema: objectSchema(map[string]string{"query": "string"}),
		},
	}
}

// ExecuteParallel runs the calls concurrently and returns one result per
// call, in completion order.
func (e *ArchiveExecutor) ExecuteParallel(ctx context.Context, calls []types.ToolCall) ([]types.ToolResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	results := make(chan types.ToolResult, len(calls))
	var wg sync.WaitGroup
	for _, call := range calls {
		wg.Add(1)
		go func(call types.ToolCall) {
			defer wg.Done()
			results <- e.run(runCtx, call)
		}(call)
	}
	wg.Wait()
	close(results)

	out := make([]types.ToolResult, 0, len(calls))
	for result := range results {
		out = append(out, result)
	}
	return out, runCtx.Err()
}

// Cancel aborts any in-flight execution.
func (e *ArchiveExecutor) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// DrainOutputs implements agent.Executor. Archive lookups produce no
// files.
func (e *ArchiveExecutor) DrainOutputs() agent.Outputs {
	return agent.Outputs{}
}

func (e *ArchiveExecutor) run(ctx context.Context, call types.ToolCall) types.ToolResult {
	var args struct {
		ChunkID string `json:"chunk_id"`
		Query   string `json:"query"`
	}
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return errorResult(call, fmt.Sprintf("invalid arguments: %v", err))
		}
	}

	switch call.Name {
	case "archive_list":
		return e.list(ctx, call)
	case "archive_read":
		return e.read(ctx, call, args.ChunkID)
	case "archive_search":
		return e.search(ctx, call, args.ChunkID, args.Query)
	case "archive_recall":
		return e.recall(ctx, call, args.Query)
	default:
		return errorResult(call, fmt.Sprintf("tool %q is not wired to an implementation", call.Name))
	}
}

func (e *ArchiveExecutor) list(ctx context.Context, call types.ToolCall) types.ToolResult {
	chunks, err := e.archiver.AllChunks(ctx)
	if err != nil {
		return errorResult(call, err.Error())
	}

	type entry struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Start   string `json:"start"`
		End     string `json:"end"`
		Summary string `json:"summary"`
	}
	entries := make([]entry, 0, len(chunks))
	for _, chunk := range chunks {
		entries = append(entries, entry{
			ID:      chunk.ID,
			Type:    string(chunk.Type),
			Start:   chunk.StartTime.Format("2006-01-02 15:04"),
			End:     chunk.EndTime.Format("2006-01-02 15:04"),
			Summary: chunk.Summary,
		})
	}
	return jsonResult(call, entries)
}

func (e *ArchiveExecutor) read(ctx context.Context, call types.ToolCall, chunkID string) types.ToolResult {
	if chunkID == "" {
		return errorResult(call, "chunk_id is required")
	}
	messages, err := e.archiver.ChunkContent(ctx, chunkID)
	if err != nil {
		return errorResult(call, err.Error())
	}
	return types.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: clip(renderMessages(messages), readLimitChars),
	}
}

func (e *ArchiveExecutor) search(ctx context.Context, call types.ToolCall, chunkID, query string) types.ToolResult {
	if chunkID == "" || query == "" {
		return errorResult(call, "chunk_id and query are required")
	}
	matches, err := e.archiver.SearchChunk(ctx, chunkID, query)
	if err != nil {
		return errorResult(call, err.Error())
	}
	if len(matches) == 0 {
		return types.ToolResult{CallID: call.ID, Name: call.Name, Content: "no matches"}
	}
	return types.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: clip(renderMessages(matches), readLimitChars),
	}
}

func (e *ArchiveExecutor) recall(ctx context.Context, call types.ToolCall, query string) types.ToolResult {
	if query == "" {
		return errorResult(call, "query is required")
	}
	chunks, err := e.archiver.SearchSummaries(ctx, query, 5)
	if err != nil {
		return errorResult(call, err.Error())
	}

	type entry struct {
		ID      string `json:"id"`
		Summary string `json:"summary"`
	}
	entries := make([]entry, 0, len(chunks))
	for _, chunk := range chunks {
		entries = append(entries, entry{ID: chunk.ID, Summary: chunk.Summary})
	}
	return jsonResult(call, entries)
}

func renderMessages(messages []types.Message) string {
	var out string
	for _, m := range messages {
		out += fmt.Sprintf("[%s] %s: %s\n", m.Timestamp.Format("2006-01-02 15:04"), m.Role, m.Content)
	}
	return out
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n(truncated)"
}

func jsonResult(call types.ToolCall, payload any) types.ToolResult {
	data, err := json.Marshal(payload)
	if err != nil {
		return errorResult(call, err.Error())
	}
	return types.ToolResult{CallID: call.ID, Name: call.Name, Content: string(data)}
}

func errorResult(call types.ToolCall, message string) types.ToolResult {
	data, _ := json.Marshal(map[string]string{"error": message})
	return types.ToolResult{CallID: call.ID, Name: call.Name, Content: string(data), IsError: true}
}

func objectSchema(props map[string]string) json.RawMessage {
	properties := make(map[string]any, len(props))
	required := make([]string, 0, len(props))
	for name, kind := range props {
		properties[name] = map[string]any{"type": kind}
		required = append(required, name)
	}
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	data, _ := json.Marshal(schema)
	return data
}
