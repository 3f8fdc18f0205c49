// Package agent runs the bounded tool-calling loop for one turn:
// LLM rounds chained with tool execution under spend caps, a round
// safety cap, and tool gating, with deterministic result ordering.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/scrypster/aide/internal/llm"
	"github.com/scrypster/aide/internal/spend"
	"github.com/scrypster/aide/pkg/types"
)

const defaultMaxRounds = 120

// finalTextFallback is substituted when a terminating call produces no
// text. The final reply is never empty.
const finalTextFallback = "Sorry, I couldn't come up with a reply this time."

// Policy configures which tools the model may use and how.
type Policy struct {
	// Tools is the full tool set offered to the model.
	Tools []llm.ToolSpec

	// GatedTools are locked until UnlockTool is called once in the turn.
	GatedTools []string

	// UnlockTool names the tool that unlocks the gated set. It is removed
	// from the offered tools once used.
	UnlockTool string

	// ProjectTools are the tools whose "project_id" argument marks a
	// project as accessed by the turn.
	ProjectTools []string
}

// Result is the outcome of one completed turn.
type Result struct {
	// Text is the final assistant reply. Never empty.
	Text string

	// StepLog is a compact per-round record of the tools used.
	StepLog []string

	// Projects are the project ids touched by tool calls, in first-use
	// order.
	Projects []string

	// Interactions is the full tool history of the turn.
	Interactions []types.ToolInteraction

	Rounds int
}

// Engine drives the tool loop. One Engine serves the whole process; each
// Run call is an independent turn.
type Engine struct {
	model     llm.ChatModel
	executor  Executor
	spend     *spend.Tracker
	policy    Policy
	maxRounds int
	now       func() time.Time
}

// NewEngine creates a tool-loop engine.
func NewEngine(model llm.ChatModel, executor Executor, tracker *spend.Tracker, policy Policy) *Engine {
	return &Engine{
		model:     model,
		executor:  executor,
		spend:     tracker,
		policy:    policy,
		maxRounds: defaultMaxRounds,
		now:       time.Now,
	}
}

// SetMaxRounds overrides the round safety cap.
func (e *Engine) SetMaxRounds(n int) {
	if n > 0 {
		e.maxRounds = n
	}
}

// SetClock overrides the time source. Used by tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Run executes the tool loop for one turn. system carries the turn's
// context strings (persona, archive summaries, briefings); messages is
// the active conversation window. The per-turn spend counter must have
// been reset by the caller via the tracker's BeginTurn.
func (e *Engine) Run(ctx context.Context, system []string, messages []types.Message) (*Result, error) {
	var interactions []types.ToolInteraction
	var projects []string
	unlocked := false

	for round := 1; round <= e.maxRounds; round++ {
		reply, err := e.model.Chat(ctx, llm.ChatRequest{
			System:       system,
			Messages:     messages,
			Interactions: interactions,
			Tools:        e.allowedTools(unlocked),
		})
		if err != nil {
			return nil, fmt.Errorf("agent: model call failed in round %d: %w", round, err)
		}
		e.recordSpend(ctx, reply.ReplyUsage())

		switch r := reply.(type) {
		case llm.Text:
			return e.finish(r.Content, interactions, projects, round), nil

		case llm.ToolUse:
			projects = appendProjects(projects, e.policy.ProjectTools, r.Calls)

			// Spend caps are a normal termination path, not an error.
			if e.spend.TurnLimitReached() {
				text, err := e.forcedFinal(ctx, system, messages, interactions, fmt.Sprintf(
					"You have spent $%.2f this turn against a limit of $%.2f. "+
						"Do not request any more tools; answer the user now with what you already have.",
					e.spend.TurnUSD(), e.spend.TurnLimitUSD()))
				if err != nil {
					return nil, err
				}
				return e.finish(text, interactions, projects, round), nil
			}

			exceeded, reason, err := e.spend.CumulativeExceeded(ctx)
			if err != nil {
				return nil, fmt.Errorf("agent: spend check failed: %w", err)
			}
			if exceeded {
				text := fmt.Sprintf("Sorry, I have to stop here: my %s. I'll be able to do more once the budget resets.", reason)
				return e.finish(text, interactions, projects, round), nil
			}

			results, err := e.execute(ctx, r.Calls, unlocked)
			if err != nil {
				return nil, err
			}
			if !unlocked && e.unlockRequested(r.Calls) {
				unlocked = true
			}

			interactions = append(interactions, types.ToolInteraction{
				AssistantText: r.AssistantText,
				Calls:         r.Calls,
				Results:       results,
			})

		default:
			return nil, fmt.Errorf("agent: unknown reply type %T", reply)
		}
	}

	log.Printf("WARNING: agent: round cap of %d reached, forcing a final answer", e.maxRounds)
	text, err := e.forcedFinal(ctx, system, messages, interactions,
		"You have used the maximum number of tool rounds for this turn. "+
			"Do not request any more tools; give the user your best final answer now.")
	if err != nil {
		return nil, err
	}
	return e.finish(text, interactions, projects, e.maxRounds), nil
}

// allowedTools computes the tool set for a round: gated tools are hidden
// until unlocked, and the unlock tool disappears once used.
func (e *Engine) allowedTools(unlocked bool) []llm.ToolSpec {
	var tools []llm.ToolSpec
	for _, tool := range e.policy.Tools {
		if unlocked {
			if tool.Name == e.policy.UnlockTool {
				continue
			}
		} else if e.isGated(tool.Name) {
			continue
		}
		tools = append(tools, tool)
	}
	return tools
}

func (e *Engine) isGated(name string) bool {
	for _, gated := range e.policy.GatedTools {
		if gated == name {
			return true
		}
	}
	return false
}

func (e *Engine) isKnown(name string) bool {
	for _, tool := range e.policy.Tools {
		if tool.Name == name {
			return true
		}
	}
	return false
}

func (e *Engine) unlockRequested(calls []types.ToolCall) bool {
	if e.policy.UnlockTool == "" {
		return false
	}
	for _, call := range calls {
		if call.Name == e.policy.UnlockTool {
			return true
		}
	}
	return false
}

// execute runs one round's calls: blocked calls get synthesized error
// results, executable ones run concurrently, and everything is
// reassembled into the exact order the model issued the calls.
func (e *Engine) execute(ctx context.Context, calls []types.ToolCall, unlocked bool) ([]types.ToolResult, error) {
	var executable []types.ToolCall
	blocked := make(map[string]types.ToolResult)

	for _, call := range calls {
		switch {
		case !e.isKnown(call.Name):
			blocked[call.ID] = errorResult(call, fmt.Sprintf("tool %q is not available", call.Name))
		case !unlocked && e.isGated(call.Name):
			blocked[call.ID] = errorResult(call, fmt.Sprintf("tool %q is locked; call %q first", call.Name, e.policy.UnlockTool))
		default:
			executable = append(executable, call)
		}
	}

	executed := make(map[string]types.ToolResult)
	if len(executable) > 0 {
		results, err := e.executor.ExecuteParallel(ctx, executable)
		if err != nil {
			return nil, fmt.Errorf("agent: tool execution failed: %w", err)
		}
		for _, result := range results {
			executed[result.CallID] = result
		}
	}

	note := fmt.Sprintf("\n[current time: %s]", e.now().Format("Mon, 2 Jan 2006 15:04"))

	ordered := make([]types.ToolResult, 0, len(calls))
	for _, call := range calls {
		result, ok := blocked[call.ID]
		if !ok {
			result, ok = executed[call.ID]
		}
		if !ok {
			result = errorResult(call, fmt.Sprintf("tool %q returned no result", call.Name))
		}
		result.Content += note
		ordered = append(ordered, result)
	}
	return ordered, nil
}

// forcedFinal makes one last no-tools call. Its spend is recorded
// without a fresh limit check; it is the final billed call of the turn.
func (e *Engine) forcedFinal(ctx context.Context, system []string, messages []types.Message, interactions []types.ToolInteraction, instruction string) (string, error) {
	reply, err := e.model.Chat(ctx, llm.ChatRequest{
		System:       append(append([]string(nil), system...), instruction),
		Messages:     messages,
		Interactions: interactions,
	})
	if err != nil {
		return "", fmt.Errorf("agent: forced final call failed: %w", err)
	}
	e.recordSpend(ctx, reply.ReplyUsage())

	switch r := reply.(type) {
	case llm.Text:
		return r.Content, nil
	case llm.ToolUse:
		// No tools were offered; salvage whatever text came along.
		return r.AssistantText, nil
	default:
		return "", fmt.Errorf("agent: unknown reply type %T", reply)
	}
}

func (e *Engine) recordSpend(ctx context.Context, usage llm.Usage) {
	if err := e.spend.Add(ctx, usage.SpendUSD); err != nil {
		log.Printf("WARNING: agent: failed to record spend: %v", err)
	}
}

func (e *Engine) finish(text string, interactions []types.ToolInteraction, projects []string, rounds int) *Result {
	if strings.TrimSpace(text) == "" {
		text = finalTextFallback
	}
	return &Result{
		Text:         text,
		StepLog:      buildStepLog(interactions),
		Projects:     projects,
		Interactions: interactions,
		Rounds:       rounds,
	}
}

// buildStepLog renders one line per round naming the tools used.
func buildStepLog(interactions []types.ToolInteraction) []string {
	var steps []string
	for i, interaction := range interactions {
		names := make([]string, 0, len(interaction.Calls))
		for _, call := range interaction.Calls {
			names = append(names, call.Name)
		}
		steps = append(steps, fmt.Sprintf("round %d: %s", i+1, strings.Join(names, ", ")))
	}
	return steps
}

// appendProjects scans project-tool calls for a "project_id" argument
// and collects ids in first-use order.
func appendProjects(projects []string, projectTools []string, calls []types.ToolCall) []string {
	for _, call := range calls {
		if !containsName(projectTools, call.Name) {
			continue
		}
		for _, id := range projectIDs(call.Arguments) {
			if !containsName(projects, id) {
				projects = append(projects, id)
			}
		}
	}
	return projects
}

// projectIDs extracts the project_id argument, which tools pass as
// either a single string or an array of them.
func projectIDs(arguments json.RawMessage) []string {
	var args struct {
		ProjectID json.RawMessage `json:"project_id"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil || len(args.ProjectID) == 0 {
		return nil
	}

	var single string
	if err := json.Unmarshal(args.ProjectID, &single); err == nil {
		if single == "" {
			return nil
		}
		return []string{single}
	}

	var many []string
	if err := json.Unmarshal(args.ProjectID, &many); err != nil {
		return nil
	}
	var ids []string
	for _, id := range many {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func containsName(list []string, name string) bool {
	for _, item := range list {
		if item == name {
			return true
		}
	}
	return false
}

func errorResult(call types.ToolCall, message string) types.ToolResult {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return types.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: string(payload),
		IsError: true,
	}
}
