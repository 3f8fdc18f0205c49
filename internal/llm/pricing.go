package llm

import "strings"

// modelRate holds USD prices per million tokens.
type modelRate struct {
	inputPerMTok  float64
	outputPerMTok float64
}

// modelRates maps model-name prefixes to prices. Longest matching prefix
// wins. The table is deliberately coarse: spend tracking is a budget
// heuristic, not a billing system.
var modelRates = []struct {
	prefix string
	rate   modelRate
}{
	{"claude-opus", modelRate{15.0, 75.0}},
	{"claude-sonnet", modelRate{3.0, 15.0}},
	{"claude-haiku", modelRate{1.0, 5.0}},
	{"claude-3-5-sonnet", modelRate{3.0, 15.0}},
	{"gpt-4o-mini", modelRate{0.15, 0.60}},
	{"gpt-4o", modelRate{2.50, 10.0}},
	{"gpt-4", modelRate{30.0, 60.0}},
}

// defaultRate is used for unrecognized models.
var defaultRate = modelRate{3.0, 15.0}

// EstimateSpendUSD converts reported token usage into an approximate USD
// cost for the given model.
func EstimateSpendUSD(model string, inputTokens, outputTokens int) float64 {
	rate := defaultRate
	best := -1
	for _, entry := range modelRates {
		if strings.HasPrefix(model, entry.prefix) && len(entry.prefix) > best {
			rate = entry.rate
			best = len(entry.prefix)
		}
	}
	return float64(inputTokens)/1e6*rate.inputPerMTok +
		float64(outputTokens)/1e6*rate.outputPerMTok
}
