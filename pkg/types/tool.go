package types

import "encoding/json"

// ToolCall is one tool invocation requested by the model within a round.
// The ID is the model-assigned call id used to pair results back up.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of a single tool call. Failed executions set
// IsError and carry a structured {"error": ...} payload in Content; they
// are fed back to the model, never thrown out of the loop.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ToolInteraction is one assistant tool-call message plus its ordered
// results. Interactions chain within a single turn to build the
// multi-round tool history sent back to the model.
type ToolInteraction struct {
	// AssistantText is any text the model emitted alongside its tool
	// calls in this round.
	AssistantText string `json:"assistant_text,omitempty"`

	Calls   []ToolCall   `json:"calls"`
	Results []ToolResult `json:"results"`
}
