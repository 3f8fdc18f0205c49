package llm

import "github.com/scrypster/aide/pkg/types"

// Usage carries per-call accounting: the prompt size the provider
// reported and the estimated USD cost of the call.
type Usage struct {
	PromptTokens int
	SpendUSD     float64
}

// Reply is the tagged result of a chat call: either final text or a
// request to run tools. The two cases are distinct types so callers must
// switch exhaustively instead of probing nullable fields.
type Reply interface {
	ReplyUsage() Usage
	isReply()
}

// Text is a final textual answer from the model.
type Text struct {
	Content string
	Usage   Usage
}

func (Text) isReply() {}

// ReplyUsage returns the call accounting.
func (t Text) ReplyUsage() Usage { return t.Usage }

// ToolUse is a model request to execute one or more tools.
type ToolUse struct {
	// AssistantText is any text the model emitted alongside the calls.
	AssistantText string

	// Calls are the requested tool invocations, in the order the model
	// issued them. Results must be returned in this same order.
	Calls []types.ToolCall

	Usage Usage
}

func (ToolUse) isReply() {}

// ReplyUsage returns the call accounting.
func (t ToolUse) ReplyUsage() Usage { return t.Usage }
