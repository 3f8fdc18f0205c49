package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChunkSummary_StrictJSON(t *testing.T) {
	raw := `{"summary":"We planned the trip to Lisbon.","key_topics":["travel","lisbon"]}`

	result, err := ParseChunkSummary(raw)
	require.NoError(t, err)
	assert.Equal(t, "We planned the trip to Lisbon.", result.Summary)
	assert.Equal(t, []string{"travel", "lisbon"}, result.KeyTopics)
}

func TestParseChunkSummary_CodeFencedWithProse(t *testing.T) {
	raw := "Here is the summary you asked for:\n```json\n{\"summary\":\"Budget review.\",\"key_topics\":[\"money\"]}\n```\nLet me know if you need more."

	result, err := ParseChunkSummary(raw)
	require.NoError(t, err)
	assert.Equal(t, "Budget review.", result.Summary)
}

func TestParseChunkSummary_BracesInsideStrings(t *testing.T) {
	raw := `{"summary":"Discussed {config} files and \"quotes\".","key_topics":[]}`

	result, err := ParseChunkSummary(raw)
	require.NoError(t, err)
	assert.Contains(t, result.Summary, "{config}")
}

func TestParseChunkSummary_NotJSON(t *testing.T) {
	_, err := ParseChunkSummary("I could not produce a summary, sorry.")
	assert.Error(t, err)
}

func TestParseChunkSummary_EmptySummaryField(t *testing.T) {
	_, err := ParseChunkSummary(`{"summary":"  ","key_topics":["a"]}`)
	assert.Error(t, err)
}

func TestExtractJSON_IgnoresLeadingAndTrailingText(t *testing.T) {
	got := extractJSON(`noise before {"a":1} noise after`)
	assert.Equal(t, `{"a":1}`, got)
}

func TestEstimateSpendUSD_PrefixMatching(t *testing.T) {
	// 1M input tokens of a haiku-class model is $1.00.
	assert.InDelta(t, 1.0, EstimateSpendUSD("claude-haiku-4-5-20251001", 1_000_000, 0), 1e-9)

	// gpt-4o must match the gpt-4o rate, not the bare gpt-4 rate.
	assert.InDelta(t, 2.5, EstimateSpendUSD("gpt-4o-2024-08-06", 1_000_000, 0), 1e-9)

	// Unknown models use the default rate.
	assert.InDelta(t, 3.0, EstimateSpendUSD("mystery-model", 1_000_000, 0), 1e-9)
}
