package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/questflow/llm"
	"github.com/BaSui01/questflow/types"
)

func memoryWithEntries(t *testing.T, n int) *types.AgentMemory {
	t.Helper()
	m := types.NewAgentMemory(1000)
	for i := 0; i < n; i++ {
		require.NoError(t, m.AddToBuffer(fmt.Sprintf("entry %d", i)))
	}
	return m
}

func TestCompressBuffer_NoOpAtOrBelowRetainCount(t *testing.T) {
	t.Parallel()

	p := llm.NewScriptedProvider("sum", llm.Reply("should not be called"))
	c := NewCompressor(p, "m", nil)

	m := memoryWithEntries(t, 3)
	m.LongTermSummary = "unchanged"

	_, ok := c.CompressBuffer(context.Background(), m)
	assert.False(t, ok)
	assert.Equal(t, "unchanged", m.LongTermSummary)
	assert.Len(t, m.ShortTermBuffer, 3)
	assert.Zero(t, p.Calls(), "summarizer must not be invoked for a no-op")
}

func TestCompressBuffer_RetainsExactlyNewestN(t *testing.T) {
	t.Parallel()

	p := llm.NewScriptedProvider("sum", llm.Reply("The early entries, condensed."))
	c := NewCompressor(p, "m", nil)

	m := memoryWithEntries(t, 10)
	summary, ok := c.CompressBuffer(context.Background(), m)
	require.True(t, ok)
	assert.Equal(t, "The early entries, condensed.", summary)

	require.Len(t, m.ShortTermBuffer, 3)
	assert.Equal(t, []string{"entry 7", "entry 8", "entry 9"}, m.ShortTermBuffer,
		"retained suffix keeps original order")
	assert.Equal(t, "The early entries, condensed.", m.LongTermSummary)
}

func TestCompressBuffer_AppendMergesWithSeparator(t *testing.T) {
	t.Parallel()

	p := llm.NewScriptedProvider("sum", llm.Reply("Second compression."))
	c := NewCompressor(p, "m", nil)

	m := memoryWithEntries(t, 5)
	m.LongTermSummary = "First compression."

	_, ok := c.CompressBuffer(context.Background(), m)
	require.True(t, ok)
	assert.Equal(t, "First compression."+SummarySeparator+"Second compression.", m.LongTermSummary,
		"summaries accumulate, never replaced wholesale")
}

func TestCompressBuffer_FailureLeavesMemoryUntouched(t *testing.T) {
	t.Parallel()

	p := llm.NewScriptedProvider("sum",
		llm.Fail(types.NewError(types.ErrUpstreamTimeout, "slow").WithRetryable(true)))
	c := NewCompressor(p, "m", nil)

	m := memoryWithEntries(t, 10)
	m.LongTermSummary = "intact"
	before := append([]string(nil), m.ShortTermBuffer...)

	summary, ok := c.CompressBuffer(context.Background(), m)
	assert.False(t, ok)
	assert.Empty(t, summary)
	assert.Equal(t, "intact", m.LongTermSummary)
	assert.Equal(t, before, m.ShortTermBuffer, "no partial application on failure")
}

func TestCompressBuffer_EmptySummaryTreatedAsFailure(t *testing.T) {
	t.Parallel()

	p := llm.NewScriptedProvider("sum", llm.Reply("   "))
	c := NewCompressor(p, "m", nil)

	m := memoryWithEntries(t, 10)
	_, ok := c.CompressBuffer(context.Background(), m)
	assert.False(t, ok)
	assert.Len(t, m.ShortTermBuffer, 10)
}

func TestCompressBuffer_TruncatesOversizedInput(t *testing.T) {
	t.Parallel()

	var seen string
	p := probeProvider{onUser: func(u string) { seen = u }, reply: "ok"}
	c := NewCompressor(p, "m", nil)

	m := types.NewAgentMemory(1000)
	huge := strings.Repeat("w ", types.MaxBufferEntryChars/2)
	for i := 0; i < 4; i++ {
		require.NoError(t, m.AddToBuffer(huge))
	}

	_, ok := c.CompressBuffer(context.Background(), m)
	require.True(t, ok)
	assert.LessOrEqual(t, len(seen), maxSummarizerInputChars)
}

func TestCompressLongTermSummary(t *testing.T) {
	t.Parallel()

	p := llm.NewScriptedProvider("sum", llm.Reply("Tight summary."))
	c := NewCompressor(p, "m", nil)

	m := types.NewAgentMemory(1000)
	assert.False(t, c.CompressLongTermSummary(context.Background(), m), "empty summary is a no-op")

	m.LongTermSummary = "A long rambling summary." + SummarySeparator + "More rambling."
	require.True(t, c.CompressLongTermSummary(context.Background(), m))
	assert.Equal(t, "Tight summary.", m.LongTermSummary)
}

func TestSummarizerCache(t *testing.T) {
	ResetSummarizerCache()
	t.Cleanup(ResetSummarizerCache)

	p := llm.NewScriptedProvider("prov")
	a := SummarizerFor(p, "model_a", nil)
	b := SummarizerFor(p, "model_a", nil)
	other := SummarizerFor(p, "model_b", nil)

	assert.Same(t, a, b, "same (provider, model) reuses the cached client")
	assert.NotSame(t, a, other)

	ResetSummarizerCache()
	assert.NotSame(t, a, SummarizerFor(p, "model_a", nil), "reset clears the cache")
}

// probeProvider captures the user content it receives.
type probeProvider struct {
	onUser func(string)
	reply  string
}

func (p probeProvider) Name() string { return "probe" }

func (p probeProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	for _, m := range req.Messages {
		if m.Role == llm.RoleUser && p.onUser != nil {
			p.onUser(m.Content)
		}
	}
	return &llm.ChatResponse{Choices: []llm.ChatChoice{{Message: llm.Message{Role: llm.RoleAssistant, Content: p.reply}}}}, nil
}
