package llm

import "strings"

// Chunker splits an oversized transcript into pieces small enough for a
// single completion call. Transcripts are newline-delimited "role:
// content" lines, so the splitter packs whole lines and never cuts a
// message in half unless one single line alone exceeds the budget.
// Overlap carries the tail of each piece into the next so the condensing
// pass keeps cross-piece references (a question at the end of one piece,
// its answer at the start of the next).
type Chunker struct {
	MaxChunkSize int // budget per piece, in estimated tokens
	Overlap      int // tail carried into the following piece, in estimated tokens
}

// Chunk splits transcript into token-bounded pieces. A transcript within
// budget comes back as a single piece; blank input yields none.
func (c *Chunker) Chunk(transcript string) ([]string, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, nil
	}
	if EstimateTokens(transcript) <= c.MaxChunkSize {
		return []string{transcript}, nil
	}

	var pieces []string
	var lines []string
	used := 0

	flush := func() {
		if len(lines) == 0 {
			return
		}
		pieces = append(pieces, strings.Join(lines, "\n"))
		carried, carriedCost := c.carryTail(lines)
		lines = carried
		used = carriedCost
	}

	for _, line := range strings.Split(transcript, "\n") {
		for _, part := range splitOversizeLine(line, c.MaxChunkSize) {
			cost := EstimateTokens(part)
			if used+cost > c.MaxChunkSize && used > 0 {
				flush()
			}
			lines = append(lines, part)
			used += cost
		}
	}
	if len(lines) > 0 {
		pieces = append(pieces, strings.Join(lines, "\n"))
	}
	return pieces, nil
}

// carryTail picks the trailing lines of a finished piece that fit in the
// overlap budget, newest kept first.
func (c *Chunker) carryTail(lines []string) ([]string, int) {
	cost := 0
	start := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		lineCost := EstimateTokens(lines[i])
		if cost+lineCost > c.Overlap {
			break
		}
		cost += lineCost
		start = i
	}
	return append([]string(nil), lines[start:]...), cost
}

// splitOversizeLine hard-splits a single line whose cost exceeds the
// piece budget; normal transcript lines pass through whole.
func splitOversizeLine(line string, budget int) []string {
	if EstimateTokens(line) <= budget {
		return []string{line}
	}
	limit := budget * charsPerToken
	runes := []rune(line)
	var parts []string
	for len(runes) > limit {
		parts = append(parts, string(runes[:limit]))
		runes = runes[limit:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

// charsPerToken is the crude text-to-token ratio used throughout; close
// enough for budgeting with the tokenizers the providers actually run.
const charsPerToken = 4

// EstimateTokens approximates the token cost of text, rounding up.
func EstimateTokens(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}
