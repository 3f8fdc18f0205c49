// Package turn owns the single-active-run invariant: it admits triggers
// one at a time, drives archiving and the tool loop for each turn, and
// manages cooperative cancellation.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/aide/internal/agent"
	"github.com/scrypster/aide/internal/archive"
	"github.com/scrypster/aide/internal/config"
	"github.com/scrypster/aide/internal/spend"
	"github.com/scrypster/aide/internal/storage"
	"github.com/scrypster/aide/internal/window"
	"github.com/scrypster/aide/pkg/types"
)

// TriggerKind classifies what woke the assistant.
type TriggerKind string

const (
	TriggerUser     TriggerKind = "user"
	TriggerReminder TriggerKind = "reminder"
	TriggerMail     TriggerKind = "mail"
	TriggerDocument TriggerKind = "document"
)

// Trigger is one candidate event. Message is the record appended to the
// conversation when the trigger is admitted; for non-user triggers the
// caller synthesizes it (for example "Reminder due: dentist").
type Trigger struct {
	Kind    TriggerKind
	Message types.Message
}

// busyNotice is sent when a user message arrives mid-run.
const busyNotice = "I'm still working on your previous message. Send /stop to interrupt."

// liveTailLen is how many trailing live messages accompany a
// summarization request for continuity.
const liveTailLen = 10

// Deps wires the coordinator's collaborators. Conversation, Archiver,
// Engine, Executor, Tracker and Transport are required; Context and
// Describer are optional.
type Deps struct {
	Conversation storage.ConversationStore
	Settings     storage.SettingsStore
	Archiver     *archive.Archiver
	Engine       *agent.Engine
	Executor     agent.Executor
	Tracker      *spend.Tracker
	Transport    ChatTransport
	Context      ContextProvider
	Describer    Describer
	Persona      *config.Persona
	Agent        config.AgentConfig
}

// Coordinator serializes turns: at most one run is active at any time.
// The mutex guards the run slot and the conversation list; it is never
// held across an external call.
type Coordinator struct {
	mu        sync.Mutex
	runID     string
	cancelRun context.CancelFunc
	messages  []types.Message

	deps         Deps
	pollInterval time.Duration
	onEvent      func(event, detail string)
	now          func() time.Time
}

// NewCoordinator creates a coordinator. Call Start before submitting
// triggers.
func NewCoordinator(deps Deps) *Coordinator {
	return &Coordinator{
		deps:         deps,
		pollInterval: 500 * time.Millisecond,
		now:          time.Now,
	}
}

// SetEventHook installs a run-lifecycle callback (used by the status
// hub). Events: run_started, run_finished, run_cancelled, run_failed.
func (c *Coordinator) SetEventHook(fn func(event, detail string)) {
	c.onEvent = fn
}

// SetPollInterval overrides the admission poll interval. Used by tests.
func (c *Coordinator) SetPollInterval(d time.Duration) {
	c.pollInterval = d
}

// SetClock overrides the time source. Used by tests.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// Start loads the persisted conversation and recovers any pending
// archive work left by a crash.
func (c *Coordinator) Start(ctx context.Context) error {
	messages, err := c.deps.Conversation.LoadConversation(ctx)
	if err != nil {
		return fmt.Errorf("turn: failed to load conversation: %w", err)
	}
	c.mu.Lock()
	c.messages = messages
	c.mu.Unlock()

	return c.deps.Archiver.RecoverPending(ctx)
}

// Submit admits a trigger and runs the turn to completion. While a run
// is active, user triggers are rejected with a notice; reminder, mail
// and document triggers wait until the run clears so events are never
// dropped. Control commands are intercepted before admission and never
// create a run.
func (c *Coordinator) Submit(ctx context.Context, trig Trigger) error {
	if trig.Kind == TriggerUser && isControlCommand(trig.Message.Content) {
		return c.handleControl(ctx, trig.Message.Content)
	}

	for {
		runID, runCtx, admitted := c.tryAdmit(ctx)
		if admitted {
			c.emit("run_started", string(trig.Kind))
			err := c.runTurn(runCtx, runID, trig)
			c.clearRun(runID)
			switch {
			case err == nil:
				c.emit("run_finished", string(trig.Kind))
				return nil
			case errors.Is(err, context.Canceled):
				// Cancellation is a status update, not a failure.
				c.emit("run_cancelled", string(trig.Kind))
				return nil
			default:
				c.emit("run_failed", err.Error())
				log.Printf("ERROR: turn: run failed: %v", err)
				c.sendText(context.Background(), "Sorry, something went wrong while handling that. Please try again.")
				return err
			}
		}

		if trig.Kind == TriggerUser {
			c.sendText(ctx, busyNotice)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// Cancel aborts the active run: it cancels the run context, stops
// in-flight tool execution, discards buffered tool outputs, and clears
// the run slot. Idempotent when nothing is running.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	cancel := c.cancelRun
	active := c.runID != ""
	c.runID = ""
	c.cancelRun = nil
	c.mu.Unlock()

	if !active {
		return
	}
	if cancel != nil {
		cancel()
	}
	c.deps.Executor.Cancel()
	c.deps.Executor.DrainOutputs()
}

// Busy reports whether a run is active.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID != ""
}

// MessageCount returns the active conversation length.
func (c *Coordinator) MessageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// tryAdmit claims the run slot if it is free.
func (c *Coordinator) tryAdmit(ctx context.Context) (string, context.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runID != "" {
		return "", nil, false
	}
	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	c.runID = runID
	c.cancelRun = cancel
	return runID, runCtx, true
}

func (c *Coordinator) clearRun(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runID == runID {
		if c.cancelRun != nil {
			c.cancelRun()
		}
		c.runID = ""
		c.cancelRun = nil
	}
}

// active reports whether runID is still the current run. Checked after
// every external call: cancellation can land while a call is in flight,
// and stale work must not mutate shared state or reach the user.
func (c *Coordinator) active(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID == runID
}

func (c *Coordinator) runTurn(ctx context.Context, runID string, trig Trigger) error {
	c.deps.Tracker.BeginTurn()

	userMsg := c.appendMessage(ctx, trig.Message)

	// Turn-start context is gathered concurrently and awaited together.
	var (
		wg         sync.WaitGroup
		calendar   string
		mail       string
		summaries  []*types.Chunk
		chunkTotal int
	)
	if c.deps.Context != nil {
		wg.Add(2)
		go func() {
			defer wg.Done()
			var err error
			if calendar, err = c.deps.Context.CalendarBrief(ctx); err != nil {
				log.Printf("WARNING: turn: calendar brief failed: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			var err error
			if mail, err = c.deps.Context.MailBrief(ctx); err != nil {
				log.Printf("WARNING: turn: mail brief failed: %v", err)
			}
		}()
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		var err error
		if summaries, err = c.deps.Archiver.RecentSummaries(ctx, c.deps.Agent.RecentSummaries); err != nil {
			log.Printf("WARNING: turn: failed to load archive summaries: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		all, err := c.deps.Archiver.AllChunks(ctx)
		if err != nil {
			log.Printf("WARNING: turn: failed to count chunks: %v", err)
			return
		}
		chunkTotal = len(all)
	}()
	wg.Wait()
	if !c.active(runID) {
		return context.Canceled
	}

	toSend, err := c.shedHistory(ctx, runID, summaries)
	if err != nil {
		return err
	}

	system := c.buildSystem(summaries, calendar, mail, chunkTotal)
	result, err := c.deps.Engine.Run(ctx, system, toSend)
	if err != nil {
		return err
	}
	if !c.active(runID) {
		return context.Canceled
	}

	return c.finalize(ctx, runID, userMsg, result)
}

// shedHistory archives the oldest messages when the window exceeds its
// bound. Archiving blocks the turn; a slow archive is preferred over a
// lost one.
func (c *Coordinator) shedHistory(ctx context.Context, runID string, summaries []*types.Chunk) ([]types.Message, error) {
	messages := c.snapshot()
	toSend, toArchive, needsArchiving := window.SplitWindow(messages, c.deps.Agent.ChunkSize)
	if !needsArchiving {
		return toSend, nil
	}

	sc := archive.SummaryContext{
		Persona:        c.personaPrompt(),
		PriorSummaries: summaryTexts(summaries),
		LiveTail:       tail(toSend, liveTailLen),
	}
	if _, err := c.deps.Archiver.Archive(ctx, toArchive, sc); err != nil {
		return nil, err
	}
	if !c.active(runID) {
		return nil, context.Canceled
	}

	c.dropOldest(ctx, len(toArchive))

	if err := c.deps.Archiver.CheckAndConsolidate(ctx, tail(toSend, liveTailLen), c.personaPrompt()); err != nil {
		// The archive stays consistent; consolidation retries next turn.
		log.Printf("WARNING: turn: consolidation failed: %v", err)
	}
	if !c.active(runID) {
		return nil, context.Canceled
	}
	return toSend, nil
}

// finalize appends the assistant reply, persists, and relays outputs.
func (c *Coordinator) finalize(ctx context.Context, runID string, userMsg types.Message, result *agent.Result) error {
	outputs := c.deps.Executor.DrainOutputs()

	var downloaded []types.Attachment
	for _, filename := range outputs.Downloaded {
		downloaded = append(downloaded, types.Attachment{Kind: types.AttachmentDocument, Filename: filename})
	}

	reply := types.Message{
		Role:             types.RoleAssistant,
		Content:          truncateRunes(result.Text, c.deps.Agent.FinalMessageCap),
		Timestamp:        c.now(),
		Downloaded:       downloaded,
		AccessedProjects: result.Projects,
	}
	c.appendMessage(ctx, reply)

	for _, step := range result.StepLog {
		log.Printf("turn: %s", step)
	}

	c.sendText(ctx, reply.Content)
	for _, filename := range outputs.Images {
		if err := c.deps.Transport.SendPhoto(ctx, filename); err != nil {
			log.Printf("WARNING: turn: failed to send photo %s: %v", filename, err)
		}
	}
	for _, filename := range outputs.Documents {
		if err := c.deps.Transport.SendDocument(ctx, filename); err != nil {
			log.Printf("WARNING: turn: failed to send document %s: %v", filename, err)
		}
	}

	// Attachment descriptions are generated after the turn completes;
	// they only improve future context, so failures are tolerated.
	if c.deps.Describer != nil {
		go c.describeAttachments(userMsg)
	}
	return nil
}

// describeAttachments fills in missing descriptions on the given message
// and re-persists. The message is located by identity rather than
// position: archiving during the turn shifts the conversation left, and
// a later turn can shift it again while descriptions are in flight.
// Best effort.
func (c *Coordinator) describeAttachments(target types.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c.mu.Lock()
	index := c.indexOf(target)
	if index < 0 {
		c.mu.Unlock()
		return
	}
	attachments := append([]types.Attachment(nil), c.messages[index].Attachments...)
	c.mu.Unlock()

	changed := false
	for i, att := range attachments {
		if att.Description != "" || att.Kind == types.AttachmentVoice {
			continue
		}
		description, err := c.deps.Describer.Describe(ctx, att.Filename)
		if err != nil {
			log.Printf("WARNING: turn: failed to describe %s: %v", att.Filename, err)
			continue
		}
		attachments[i].Description = description
		changed = true
	}
	if !changed {
		return
	}

	c.mu.Lock()
	index = c.indexOf(target)
	if index < 0 {
		// Archived while describing; the raw batch already holds it.
		c.mu.Unlock()
		return
	}
	c.messages[index].Attachments = attachments
	snapshot := append([]types.Message(nil), c.messages...)
	c.mu.Unlock()

	if err := c.deps.Conversation.SaveConversation(ctx, snapshot); err != nil {
		log.Printf("WARNING: turn: failed to save conversation after describing: %v", err)
	}
}

// indexOf locates a message by timestamp, role and content. Caller holds
// c.mu. Returns -1 when the message has been archived out of the window.
func (c *Coordinator) indexOf(target types.Message) int {
	for i := len(c.messages) - 1; i >= 0; i-- {
		m := c.messages[i]
		if m.Role == target.Role && m.Content == target.Content && m.Timestamp.Equal(target.Timestamp) {
			return i
		}
	}
	return -1
}

// appendMessage appends and persists (save-after-mutate). Returns the
// message as stored, timestamp filled in.
func (c *Coordinator) appendMessage(ctx context.Context, msg types.Message) types.Message {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = c.now()
	}

	c.mu.Lock()
	c.messages = append(c.messages, msg)
	snapshot := append([]types.Message(nil), c.messages...)
	c.mu.Unlock()

	c.save(ctx, snapshot)
	return msg
}

// dropOldest removes the n oldest messages after they were archived.
func (c *Coordinator) dropOldest(ctx context.Context, n int) {
	c.mu.Lock()
	if n > len(c.messages) {
		n = len(c.messages)
	}
	c.messages = append([]types.Message(nil), c.messages[n:]...)
	snapshot := append([]types.Message(nil), c.messages...)
	c.mu.Unlock()

	c.save(ctx, snapshot)
}

func (c *Coordinator) snapshot() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Message(nil), c.messages...)
}

// save persists the full conversation. A crash between mutate and save
// loses at most the latest increment.
func (c *Coordinator) save(ctx context.Context, messages []types.Message) {
	if err := c.deps.Conversation.SaveConversation(ctx, messages); err != nil {
		log.Printf("ERROR: turn: failed to save conversation: %v", err)
	}
}

func (c *Coordinator) buildSystem(summaries []*types.Chunk, calendar, mail string, chunkTotal int) []string {
	var system []string
	if prompt := c.personaPrompt(); prompt != "" {
		system = append(system, prompt)
	}
	if len(summaries) > 0 {
		var b strings.Builder
		b.WriteString("Archived conversation summaries, oldest first")
		if chunkTotal > len(summaries) {
			fmt.Fprintf(&b, " (%d older chunks not shown)", chunkTotal-len(summaries))
		}
		b.WriteString(":\n")
		for _, chunk := range summaries {
			fmt.Fprintf(&b, "- [%s, %s to %s] %s\n",
				chunk.ID,
				chunk.StartTime.Format("2006-01-02 15:04"),
				chunk.EndTime.Format("2006-01-02 15:04"),
				chunk.Summary)
		}
		system = append(system, b.String())
	}
	if calendar != "" {
		system = append(system, "Calendar:\n"+calendar)
	}
	if mail != "" {
		system = append(system, "Mail:\n"+mail)
	}
	return system
}

func (c *Coordinator) personaPrompt() string {
	if c.deps.Persona == nil {
		return ""
	}
	return c.deps.Persona.SystemPrompt
}

func (c *Coordinator) sendText(ctx context.Context, text string) {
	if err := c.deps.Transport.SendText(ctx, text); err != nil {
		log.Printf("WARNING: turn: failed to send message: %v", err)
	}
}

func (c *Coordinator) emit(event, detail string) {
	if c.onEvent != nil {
		c.onEvent(event, detail)
	}
}

func summaryTexts(chunks []*types.Chunk) []string {
	var out []string
	for _, chunk := range chunks {
		out = append(out, chunk.Summary)
	}
	return out
}

func tail(messages []types.Message, n int) []types.Message {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}

// truncateRunes caps text at max runes. Overflow is truncated, never
// rejected.
func truncateRunes(text string, max int) string {
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
