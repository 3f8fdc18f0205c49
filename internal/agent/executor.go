package agent

import (
	"context"

	"github.com/scrypster/aide/pkg/types"
)

// Outputs are the out-of-band artifacts a tool run produced: generated
// image and document filenames plus anything downloaded on the user's
// behalf. The coordinator drains them after a turn completes.
type Outputs struct {
	Images     []string
	Documents  []string
	Downloaded []string
}

// Executor runs tool calls on behalf of the engine. Implementations own
// the concrete tools (calendar, mail, web research, project CLIs); the
// engine only routes calls and reassembles results.
type Executor interface {
	// ExecuteParallel runs the given calls concurrently and returns one
	// result per call. Results may arrive in completion order; the engine
	// reorders them. A failed tool is reported as a result with IsError
	// set, never as an error return.
	ExecuteParallel(ctx context.Context, calls []types.ToolCall) ([]types.ToolResult, error)

	// Cancel aborts any in-flight tool execution.
	Cancel()

	// DrainOutputs returns and clears the buffered artifacts.
	DrainOutputs() Outputs
}
