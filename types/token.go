package types

import "strings"

// Tokenizer defines the interface for token counting. Counts are used for
// compression-threshold decisions only, never for correctness-critical
// limits, so implementations may be approximate.
type Tokenizer interface {
	// CountTokens returns the estimated token count for a text string.
	CountTokens(text string) int
}

// Estimation constants for HeuristicEstimator.
const (
	tokensPerWord = 1.3
	tokensPerChar = 0.5

	// minCharsPerWord decides when text looks non-space-delimited:
	// fewer than one word per this many characters switches the
	// estimator to the character-count fallback.
	minCharsPerWord = 20
)

// HeuristicEstimator estimates tokens with a word-count heuristic
// (~1.3 tokens/word) and a character-count fallback (~0.5 tokens/char)
// for text that is not space-delimited. Intentionally cheap; for exact
// counts on OpenAI-family models see the llm/tokenizer package.
type HeuristicEstimator struct{}

// NewHeuristicEstimator creates a HeuristicEstimator.
func NewHeuristicEstimator() *HeuristicEstimator {
	return &HeuristicEstimator{}
}

// CountTokens estimates the token count of text.
func (e *HeuristicEstimator) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	chars := len(text)
	var tokens float64
	if words*minCharsPerWord < chars {
		// Very few words relative to length: likely CJK or otherwise
		// non-space-delimited text.
		tokens = float64(chars) * tokensPerChar
	} else {
		tokens = float64(words) * tokensPerWord
	}
	if tokens < 1 {
		return 1
	}
	return int(tokens)
}

// CountAll sums the estimate across multiple strings.
func (e *HeuristicEstimator) CountAll(texts []string) int {
	total := 0
	for _, t := range texts {
		total += e.CountTokens(t)
	}
	return total
}
