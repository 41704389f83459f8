package memory

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/questflow/llm"
	"github.com/BaSui01/questflow/types"
)

const (
	// DefaultRetainCount is how many newest buffer entries survive a
	// compression pass.
	DefaultRetainCount = 3

	// maxSummarizerInputChars caps the text handed to the summarizer.
	maxSummarizerInputChars = 16000

	// SummarySeparator joins compression passes inside the long-term
	// summary. Summaries accumulate as a log of compression events;
	// they are never replaced wholesale by buffer compression.
	SummarySeparator = "\n\n---\n\n"
)

// bufferSummaryPrompt instructs the summarizer what narrative state must
// survive compression and what is disposable.
const bufferSummaryPrompt = `You compress tabletop-RPG narrative history into a dense summary.

PRESERVE, with exact spellings:
- Character names and who they are
- Relationships and how they changed
- Inventory gained or lost
- Active and completed quests
- Status effects, injuries, and conditions
- Key plot points and revealed secrets

DISCARD:
- Verbatim dialogue
- Dice mechanics and rolls
- Repetitive scene description

Write flowing prose, past tense, third person. No headings, no lists.
Do not invent events that are not in the input.`

// summaryRecompressPrompt drives the second-tier pass that shrinks the
// long-term summary itself.
const summaryRecompressPrompt = `You re-compress an already-summarized tabletop-RPG history into a shorter summary.

Keep every character name, relationship, quest, and unresolved plot
thread. Merge redundant passages. Drop scene-level color that carries no
ongoing consequence. Write flowing prose, past tense, third person.
Do not invent events that are not in the input.`

// Compressor runs summarizer calls against one provider/model pair.
// Compression never corrupts or partially applies: on any summarizer
// failure the target memory is left completely unmodified.
type Compressor struct {
	provider llm.Provider
	model    string
	retain   int
	logger   *zap.Logger
}

// NewCompressor creates a Compressor with the default retain count.
func NewCompressor(provider llm.Provider, model string, logger *zap.Logger) *Compressor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compressor{
		provider: provider,
		model:    model,
		retain:   DefaultRetainCount,
		logger:   logger.With(zap.String("component", "compressor")),
	}
}

// WithRetainCount overrides how many newest entries survive compression.
func (c *Compressor) WithRetainCount(n int) *Compressor {
	if n > 0 {
		c.retain = n
	}
	return c
}

// CompressBuffer compresses all but the newest retain-count entries of
// the buffer into the long-term summary (append-merged with a visible
// separator) and repopulates the buffer with only the retained suffix.
//
// Returns the new summary text and whether compression ran. A buffer at
// or below the retain count is a no-op. On summarizer failure the memory
// is untouched and the result is empty; the failure is logged, never
// propagated.
func (c *Compressor) CompressBuffer(ctx context.Context, mem *types.AgentMemory) (string, bool) {
	if len(mem.ShortTermBuffer) <= c.retain {
		return "", false
	}

	toCompress := mem.ShortTermBuffer[:len(mem.ShortTermBuffer)-c.retain]
	toRetain := mem.ShortTermBuffer[len(mem.ShortTermBuffer)-c.retain:]

	input := truncateInput(strings.Join(toCompress, "\n"))
	summary, err := llm.SingleTurn(ctx, c.provider, c.model, bufferSummaryPrompt, input)
	if err != nil {
		c.logger.Warn("buffer compression failed, memory left unmodified",
			zap.Int("entries", len(toCompress)), zap.Error(err))
		return "", false
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		c.logger.Warn("summarizer returned empty summary, memory left unmodified")
		return "", false
	}

	if mem.LongTermSummary == "" {
		mem.LongTermSummary = summary
	} else {
		mem.LongTermSummary = mem.LongTermSummary + SummarySeparator + summary
	}
	mem.ShortTermBuffer = append([]string(nil), toRetain...)
	return summary, true
}

// CompressLongTermSummary re-applies compression to the summary itself.
// Exists purely to bound total context size under the two-pass cap; the
// compressed rendition replaces the old summary text since both describe
// the same events. Same failure contract as CompressBuffer.
func (c *Compressor) CompressLongTermSummary(ctx context.Context, mem *types.AgentMemory) bool {
	if strings.TrimSpace(mem.LongTermSummary) == "" {
		return false
	}

	input := truncateInput(mem.LongTermSummary)
	summary, err := llm.SingleTurn(ctx, c.provider, c.model, summaryRecompressPrompt, input)
	if err != nil {
		c.logger.Warn("summary recompression failed, memory left unmodified", zap.Error(err))
		return false
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		c.logger.Warn("summarizer returned empty recompression, memory left unmodified")
		return false
	}

	mem.LongTermSummary = summary
	return true
}

func truncateInput(s string) string {
	if len(s) <= maxSummarizerInputChars {
		return s
	}
	return s[:maxSummarizerInputChars]
}
