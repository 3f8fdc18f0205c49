// Package llm provides the model-facing surface of the aide core: a
// tool-calling chat interface with a tagged reply type, single-string
// completion for summarization, and embedding generation. All provider
// clients wrap their HTTP calls in a circuit breaker and a shared rate
// limiter.
package llm

import (
	"context"
	"encoding/json"

	"github.com/scrypster/aide/pkg/types"
)

// ToolSpec describes one tool offered to the model for a round.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ChatRequest is one tool-loop round's worth of input to the model.
type ChatRequest struct {
	// System carries the context strings for the turn: persona, archive
	// summaries, calendar and mail briefings. They are concatenated into
	// the provider's system prompt.
	System []string

	// Messages is the active conversation window, oldest first.
	Messages []types.Message

	// Interactions is the accumulated tool history of the current turn.
	Interactions []types.ToolInteraction

	// Tools is the set of tools the model may call this round. Nil or
	// empty means the model must answer in text.
	Tools []ToolSpec
}

// ChatModel is the tool-calling chat interface used by the tool loop.
type ChatModel interface {
	Chat(ctx context.Context, req ChatRequest) (Reply, error)
	GetModel() string
}

// TextGenerator is the interface for single-string LLM completion.
// Summarization prompts use completion style, not chat.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator is the interface for generating vector embeddings.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
