package llm

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_SmallTranscriptSinglePiece(t *testing.T) {
	c := &Chunker{MaxChunkSize: 3000, Overlap: 200}

	pieces, err := c.Chunk("user: anything on the calendar today?\nassistant: nothing until 3pm.")
	require.NoError(t, err)
	require.Len(t, pieces, 1)
}

func TestChunker_BlankTranscript(t *testing.T) {
	c := &Chunker{MaxChunkSize: 3000, Overlap: 200}

	pieces, err := c.Chunk("   \n  ")
	require.NoError(t, err)
	assert.Empty(t, pieces)
}

func TestChunker_SplitsOnMessageLines(t *testing.T) {
	c := &Chunker{MaxChunkSize: 100, Overlap: 0}

	var sb strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&sb, "user: message number %d about the garden project\n", i)
	}

	pieces, err := c.Chunk(sb.String())
	require.NoError(t, err)
	assert.Greater(t, len(pieces), 1)

	// No message line is cut in half across pieces.
	for _, piece := range pieces {
		for _, line := range strings.Split(piece, "\n") {
			if line == "" {
				continue
			}
			assert.True(t, strings.HasPrefix(line, "user: "), "split mid-line: %q", line)
		}
	}
}

func TestChunker_OverlapCarriesTailLines(t *testing.T) {
	c := &Chunker{MaxChunkSize: 60, Overlap: 20}

	var sb strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&sb, "assistant: reply %02d padded out to a fixed width\n", i)
	}

	pieces, err := c.Chunk(sb.String())
	require.NoError(t, err)
	require.Greater(t, len(pieces), 1)

	// Each piece after the first opens with the final line of its
	// predecessor.
	for i := 1; i < len(pieces); i++ {
		prev := strings.Split(strings.TrimRight(pieces[i-1], "\n"), "\n")
		assert.True(t, strings.HasPrefix(pieces[i], prev[len(prev)-1]),
			"piece %d does not continue from piece %d", i, i-1)
	}
}

func TestChunker_HardSplitsOversizeLine(t *testing.T) {
	c := &Chunker{MaxChunkSize: 50, Overlap: 0}

	line := "user: " + strings.Repeat("x", 1000)
	pieces, err := c.Chunk(line + "\nassistant: noted")
	require.NoError(t, err)
	assert.Greater(t, len(pieces), 1)
	for _, piece := range pieces {
		assert.LessOrEqual(t, EstimateTokens(piece), c.MaxChunkSize)
	}
}

func TestEstimateTokens_RoundsUp(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}
