package memory

import (
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/questflow/llm"
)

// Summarizer clients are cached process-wide per (provider, model) so
// repeated compression calls across rounds and sessions reuse the same
// stateless client. The cache has an explicit reset hook for test
// isolation; it is injectable process-wide state, not a hidden
// singleton.

type summarizerKey struct {
	provider string
	model    string
}

var (
	summarizerMu    sync.Mutex
	summarizerCache = make(map[summarizerKey]*Compressor)
)

// SummarizerFor returns the cached Compressor for the given provider and
// model, creating it on first use.
func SummarizerFor(provider llm.Provider, model string, logger *zap.Logger) *Compressor {
	key := summarizerKey{provider: provider.Name(), model: model}

	summarizerMu.Lock()
	defer summarizerMu.Unlock()
	if c, ok := summarizerCache[key]; ok {
		return c
	}
	c := NewCompressor(provider, model, logger)
	summarizerCache[key] = c
	return c
}

// ResetSummarizerCache clears all cached summarizer clients. Call
// between test runs.
func ResetSummarizerCache() {
	summarizerMu.Lock()
	defer summarizerMu.Unlock()
	summarizerCache = make(map[summarizerKey]*Compressor)
}
