package types

import (
	"strings"
	"testing"
)

func TestHeuristicEstimator_WordBased(t *testing.T) {
	t.Parallel()

	tok := NewHeuristicEstimator()

	if got := tok.CountTokens(""); got != 0 {
		t.Fatalf("expected 0 for empty, got %d", got)
	}
	if got := tok.CountTokens("a"); got != 1 {
		t.Fatalf("expected minimum 1 for non-empty, got %d", got)
	}

	// 10 words * 1.3 = 13.
	text := strings.Repeat("word ", 10)
	if got := tok.CountTokens(text); got != 13 {
		t.Fatalf("expected 13 tokens for 10 words, got %d", got)
	}
}

func TestHeuristicEstimator_CharFallback(t *testing.T) {
	t.Parallel()

	tok := NewHeuristicEstimator()

	// One "word" of 100 chars: fewer than one word per 20 chars, so the
	// character fallback (0.5 tokens/char) applies.
	text := strings.Repeat("x", 100)
	if got := tok.CountTokens(text); got != 50 {
		t.Fatalf("expected 50 tokens for 100 chars, got %d", got)
	}
}

func TestHeuristicEstimator_CountAll(t *testing.T) {
	t.Parallel()

	tok := NewHeuristicEstimator()
	texts := []string{"one two three", "four five"}
	want := tok.CountTokens(texts[0]) + tok.CountTokens(texts[1])
	if got := tok.CountAll(texts); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}
