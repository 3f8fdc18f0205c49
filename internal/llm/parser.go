package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ChunkSummary is the strict-JSON shape requested from the summarizer.
type ChunkSummary struct {
	Summary   string   `json:"summary"`
	KeyTopics []string `json:"key_topics"`
}

// ParseChunkSummary parses a summarization response. Models are told to
// return strict JSON but routinely wrap it in prose or code fences, so
// the first balanced JSON object is extracted before parsing. Callers
// fall back to the truncated raw output when parsing fails.
func ParseChunkSummary(raw string) (*ChunkSummary, error) {
	cleaned := extractJSON(raw)

	var result ChunkSummary
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, fmt.Errorf("failed to parse summary response: %w", err)
	}
	if strings.TrimSpace(result.Summary) == "" {
		return nil, fmt.Errorf("summary response has empty summary field")
	}
	return &result, nil
}

// extractJSON extracts the first valid JSON object from a string that may
// contain extra text. This handles cases where LLMs add explanations
// before/after the JSON despite instructions.
func extractJSON(text string) string {
	// Remove common markdown code block markers
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text // No JSON found, return as-is and let parser fail
	}

	// Find the matching closing brace, skipping braces inside strings.
	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	// Unbalanced braces; return the remainder and let the parser fail.
	return text[start:]
}
