// Package tokenizer provides an exact tiktoken-backed counter for
// OpenAI-family models, implementing the same types.Tokenizer interface
// as the cheap heuristic estimator. The engine's threshold decisions do
// not require exactness, so initialization failures degrade to the
// heuristic instead of surfacing errors.
package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/BaSui01/questflow/types"
)

// modelEncodings maps model names to their tiktoken encoding.
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4.1":       "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

const defaultEncoding = "cl100k_base"

// EncodingForModel returns the tiktoken encoding name for a model,
// falling back to a prefix match and then to cl100k_base.
func EncodingForModel(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	// Longest-prefix match so "gpt-4o-..." resolves via "gpt-4o", not "gpt-4".
	best, bestLen := "", -1
	for prefix, enc := range modelEncodings {
		if len(prefix) > bestLen && len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			best, bestLen = enc, len(prefix)
		}
	}
	if bestLen > 0 {
		return best
	}
	return defaultEncoding
}

// Counter is a tiktoken-backed types.Tokenizer. The encoding is
// initialized lazily because tiktoken may download encoding data on
// first use; if that fails the Counter falls back to the heuristic
// estimator permanently and logs once.
type Counter struct {
	encoding string
	logger   *zap.Logger

	once     sync.Once
	enc      *tiktoken.Tiktoken
	fallback *types.HeuristicEstimator
}

// NewCounter creates a Counter for the given model.
func NewCounter(model string, logger *zap.Logger) *Counter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Counter{
		encoding: EncodingForModel(model),
		logger:   logger.With(zap.String("component", "tokenizer")),
		fallback: types.NewHeuristicEstimator(),
	}
}

func (c *Counter) init() {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.logger.Warn("tiktoken init failed, falling back to heuristic estimation",
				zap.String("encoding", c.encoding), zap.Error(err))
			return
		}
		c.enc = enc
	})
}

// CountTokens implements types.Tokenizer.
func (c *Counter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	c.init()
	if c.enc == nil {
		return c.fallback.CountTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}
