package archive

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/scrypster/aide/internal/llm"
	"github.com/scrypster/aide/pkg/types"
)

// Summary is a finished chunk summary.
type Summary struct {
	Text      string
	KeyTopics []string
}

// SummaryContext carries everything the summarizer needs beyond the raw
// batch: the assistant persona, summaries of surrounding chunks in
// chronological order, and a tail of the live conversation so the new
// summary stays continuous with what the user is talking about now.
type SummaryContext struct {
	Persona        string
	PriorSummaries []string
	LiveTail       []types.Message
}

// Summarizer produces a natural-language summary for a batch of archived
// messages.
type Summarizer interface {
	Summarize(ctx context.Context, messages []types.Message, sc SummaryContext) (Summary, error)
}

// maxFallbackChars bounds the summary when the model ignores the JSON
// instructions and we fall back to its raw output.
const maxFallbackChars = 1000

// transcriptBudgetTokens is the point past which a raw transcript is
// split and summarized piecewise before the final pass.
const transcriptBudgetTokens = 6000

// LLMSummarizer implements Summarizer on top of a completion model.
type LLMSummarizer struct {
	gen     llm.TextGenerator
	chunker *llm.Chunker
}

// NewLLMSummarizer creates a summarizer backed by the given model.
func NewLLMSummarizer(gen llm.TextGenerator) *LLMSummarizer {
	return &LLMSummarizer{
		gen:     gen,
		chunker: &llm.Chunker{MaxChunkSize: transcriptBudgetTokens, Overlap: 200},
	}
}

// Summarize renders the batch as a transcript and asks the model for a
// strict-JSON {summary, key_topics} object. Oversized transcripts (a
// consolidation of several chunks can be large) are summarized piecewise
// first. A response that fails to parse falls back to the truncated raw
// output rather than failing the archive operation.
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []types.Message, sc SummaryContext) (Summary, error) {
	transcript := renderTranscript(messages)

	if llm.EstimateTokens(transcript) > transcriptBudgetTokens {
		reduced, err := s.reduceTranscript(ctx, transcript)
		if err != nil {
			return Summary{}, err
		}
		transcript = reduced
	}

	raw, err := s.gen.Complete(ctx, buildSummaryPrompt(transcript, sc))
	if err != nil {
		return Summary{}, fmt.Errorf("summarization call failed: %w", err)
	}

	parsed, err := llm.ParseChunkSummary(raw)
	if err != nil {
		log.Printf("WARNING: archive: summary response was not valid JSON, using truncated raw output: %v", err)
		return Summary{Text: truncate(strings.TrimSpace(raw), maxFallbackChars)}, nil
	}
	return Summary{Text: parsed.Summary, KeyTopics: parsed.KeyTopics}, nil
}

// reduceTranscript splits an oversized transcript and summarizes each
// piece, producing a shorter stand-in transcript for the final pass.
func (s *LLMSummarizer) reduceTranscript(ctx context.Context, transcript string) (string, error) {
	pieces, err := s.chunker.Chunk(transcript)
	if err != nil {
		return "", fmt.Errorf("failed to split transcript: %w", err)
	}

	var parts []string
	for i, piece := range pieces {
		prompt := fmt.Sprintf(
			"Condense this conversation excerpt into a short factual paragraph. Keep names, dates and decisions.\n\n%s",
			piece)
		condensed, err := s.gen.Complete(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("failed to condense transcript part %d/%d: %w", i+1, len(pieces), err)
		}
		parts = append(parts, strings.TrimSpace(condensed))
	}
	return strings.Join(parts, "\n"), nil
}

func buildSummaryPrompt(transcript string, sc SummaryContext) string {
	var sb strings.Builder

	if sc.Persona != "" {
		sb.WriteString(sc.Persona)
		sb.WriteString("\n\n")
	}

	if len(sc.PriorSummaries) > 0 {
		sb.WriteString("Summaries of earlier conversation, oldest first:\n")
		for _, prior := range sc.PriorSummaries {
			sb.WriteString("- ")
			sb.WriteString(prior)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if len(sc.LiveTail) > 0 {
		sb.WriteString("The conversation currently continues like this:\n")
		sb.WriteString(renderTranscript(sc.LiveTail))
		sb.WriteString("\n")
	}

	sb.WriteString("Summarize the following conversation section. Respond with strict JSON only, ")
	sb.WriteString(`in the shape {"summary": "...", "key_topics": ["..."]}. `)
	sb.WriteString("The summary should preserve facts, names, dates and decisions the assistant may need later.\n\n")
	sb.WriteString(transcript)

	return sb.String()
}

// renderTranscript flattens messages into a plain role-prefixed transcript.
func renderTranscript(messages []types.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(llm.RenderMessage(m))
		sb.WriteString("\n")
	}
	return sb.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// Compile-time assertion.
var _ Summarizer = (*LLMSummarizer)(nil)
