package persistence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/questflow/types"
)

func TestTranscript_AppendAndRead(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir(), nil)
	w := NewTranscriptWriter(store, nil)

	lines := []string{
		types.FormatLogLine("dm", "The rain starts."),
		types.FormatLogLine("pc1", "I pull up my hood."),
		"untagged system notice",
	}
	require.NoError(t, w.AppendLogLines("session_001", "", 1, lines))

	entries, err := w.Read("session_001", "")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, 1, entries[0].Turn, "turns are 1-indexed")
	assert.Equal(t, 2, entries[1].Turn)
	assert.Equal(t, 3, entries[2].Turn)

	assert.Equal(t, "dm", entries[0].Agent)
	assert.Equal(t, "The rain starts.", entries[0].Content)
	assert.Equal(t, "pc1", entries[1].Agent)
	assert.Equal(t, "system", entries[2].Agent, "untagged lines attribute to system")

	for _, e := range entries {
		assert.Equal(t, time.UTC, e.Timestamp.Location())
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestTranscript_AppendIsCumulative(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir(), nil)
	w := NewTranscriptWriter(store, nil)

	require.NoError(t, w.AppendLogLines("session_001", "", 1, []string{types.FormatLogLine("dm", "one")}))
	require.NoError(t, w.AppendLogLines("session_001", "", 2, []string{types.FormatLogLine("pc1", "two")}))

	entries, err := w.Read("session_001", "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "one", entries[0].Content)
	assert.Equal(t, "two", entries[1].Content)
}

func TestTranscript_ForkScoped(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir(), nil)
	w := NewTranscriptWriter(store, nil)

	require.NoError(t, w.AppendLogLines("session_001", "", 1, []string{types.FormatLogLine("dm", "main line")}))
	require.NoError(t, w.AppendLogLines("session_001", "fork_a", 1, []string{types.FormatLogLine("dm", "fork line")}))

	main, err := w.Read("session_001", "")
	require.NoError(t, err)
	forked, err := w.Read("session_001", "fork_a")
	require.NoError(t, err)

	require.Len(t, main, 1)
	require.Len(t, forked, 1)
	assert.Equal(t, "main line", main[0].Content)
	assert.Equal(t, "fork line", forked[0].Content)
}

func TestTranscript_ToolCallsSurvive(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir(), nil)
	w := NewTranscriptWriter(store, nil)

	entry := TranscriptEntry{
		Turn:    1,
		Agent:   "dm",
		Content: "The goblins attack!",
		ToolCalls: []ToolCallRecord{{
			Name:      "start_combat",
			Arguments: json.RawMessage(`{"participants":["pc1","dm:goblin"]}`),
		}},
	}
	require.NoError(t, w.Append("session_001", "", []TranscriptEntry{entry}))

	entries, err := w.Read("session_001", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Len(t, entries[0].ToolCalls, 1)
	assert.Equal(t, "start_combat", entries[0].ToolCalls[0].Name)
	assert.JSONEq(t, `{"participants":["pc1","dm:goblin"]}`, string(entries[0].ToolCalls[0].Arguments))
}

func TestTranscript_EmptyAndMissing(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir(), nil)
	w := NewTranscriptWriter(store, nil)

	require.NoError(t, w.Append("session_001", "", nil), "empty append is a no-op")

	entries, err := w.Read("session_001", "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
