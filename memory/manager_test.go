package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/questflow/llm"
	"github.com/BaSui01/questflow/types"
)

func stateWithBudget(t *testing.T, tokenLimit int) *types.GameState {
	t.Helper()
	s, err := types.NewGameState("mgr_test", []string{"pc1"}, types.GameConfig{TokenLimit: tokenLimit})
	require.NoError(t, err)
	return s
}

// words builds an n-word entry worth roughly n*1.3 heuristic tokens.
func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

func TestRunPreRound_BelowThresholdSkipsCompression(t *testing.T) {
	t.Parallel()

	p := llm.NewScriptedProvider("sum", llm.Reply("unused"))
	mgr := NewContextManager(NewCompressor(p, "m", nil), nil, nil)

	s := stateWithBudget(t, 1000)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AgentMemories["pc1"].AddToBuffer(words(10)))
	}

	next := mgr.RunPreRound(context.Background(), s)
	assert.Len(t, next.AgentMemories["pc1"].ShortTermBuffer, 5)
	assert.Zero(t, p.Calls())
}

func TestRunPreRound_ThresholdTriggersBufferCompression(t *testing.T) {
	t.Parallel()

	p := llm.NewScriptedProvider("sum", llm.Reply("Condensed."))
	mgr := NewContextManager(NewCompressor(p, "m", nil), nil, nil)

	var hooks []int
	mgr.SetCompressionHook(func(agentID string, tier int) {
		if agentID == "pc1" {
			hooks = append(hooks, tier)
		}
	})

	// 4 entries of 20 words each estimate to ~104 tokens, past the 80%
	// mark of a 100-token budget.
	s := stateWithBudget(t, 100)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.AgentMemories["pc1"].AddToBuffer(words(20)))
	}

	next := mgr.RunPreRound(context.Background(), s)

	mem := next.AgentMemories["pc1"]
	assert.Len(t, mem.ShortTermBuffer, DefaultRetainCount)
	assert.Equal(t, "Condensed.", mem.LongTermSummary)
	assert.Equal(t, []int{1}, hooks, "only the buffer pass should run")
}

func TestRunPreRound_SecondPassRecompressesSummary(t *testing.T) {
	t.Parallel()

	// The first reply is a deliberately bloated summary so the total
	// stays over budget and forces the second pass.
	p := llm.NewScriptedProvider("sum",
		llm.Reply(words(30)),
		llm.Reply("Brief."),
	)
	mgr := NewContextManager(NewCompressor(p, "m", nil), nil, nil)

	var hooks []int
	mgr.SetCompressionHook(func(agentID string, tier int) {
		if agentID == "pc1" {
			hooks = append(hooks, tier)
		}
	})

	s := stateWithBudget(t, 50)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.AgentMemories["pc1"].AddToBuffer(words(10)))
	}

	next := mgr.RunPreRound(context.Background(), s)

	mem := next.AgentMemories["pc1"]
	assert.Equal(t, "Brief.", mem.LongTermSummary, "second pass replaces the bloated summary")
	assert.Equal(t, []int{1, 2}, hooks)
}

func TestRunPreRound_InputStateUntouched(t *testing.T) {
	t.Parallel()

	p := llm.NewScriptedProvider("sum", llm.Reply("Condensed."))
	mgr := NewContextManager(NewCompressor(p, "m", nil), nil, nil)

	s := stateWithBudget(t, 100)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.AgentMemories["pc1"].AddToBuffer(words(20)))
	}

	next := mgr.RunPreRound(context.Background(), s)

	assert.Len(t, s.AgentMemories["pc1"].ShortTermBuffer, 4, "input buffer unchanged")
	assert.Empty(t, s.AgentMemories["pc1"].LongTermSummary)
	assert.NotSame(t, s, next)

	// The flag brackets the step; both states end with it cleared.
	assert.False(t, s.SummarizationInProgress)
	assert.False(t, next.SummarizationInProgress)
}

func TestRunPreRound_CombatRoundAdvances(t *testing.T) {
	t.Parallel()

	mgr := NewContextManager(nil, nil, nil)

	s := stateWithBudget(t, 1000)
	s.GameConfig.MaxCombatRounds = 10
	s.CombatState = &types.CombatState{
		Active:            true,
		RoundNumber:       1,
		InitiativeOrder:   []string{"pc1", "dm:goblin", "dm"},
		OriginalTurnQueue: []string{"dm", "pc1"},
	}

	next := mgr.RunPreRound(context.Background(), s)
	assert.Equal(t, 2, next.CombatState.RoundNumber)
	assert.True(t, next.CombatState.Active)
	assert.Equal(t, 1, s.CombatState.RoundNumber, "input combat state unchanged")
}

func TestRunPreRound_MaxRoundSafetyValve(t *testing.T) {
	t.Parallel()

	mgr := NewContextManager(nil, nil, nil)

	s := stateWithBudget(t, 1000)
	s.GameConfig.MaxCombatRounds = 3
	s.TurnQueue = []string{"dm", "pc1", "dm:goblin"}
	s.CombatState = &types.CombatState{
		Active:            true,
		RoundNumber:       3,
		InitiativeOrder:   []string{"dm:goblin", "pc1", "dm"},
		OriginalTurnQueue: []string{"dm", "pc1"},
	}
	logBefore := len(s.GroundTruthLog)

	next := mgr.RunPreRound(context.Background(), s)

	cs := next.CombatState
	assert.False(t, cs.Active, "combat force-ended")
	assert.Zero(t, cs.RoundNumber)
	assert.Empty(t, cs.InitiativeOrder)
	assert.Equal(t, []string{"dm", "pc1"}, next.TurnQueue, "pre-combat queue restored verbatim")

	require.Len(t, next.GroundTruthLog, logBefore+1, "exactly one narrative line explains the ending")
	agent, content := types.ParseLogLine(next.GroundTruthLog[len(next.GroundTruthLog)-1])
	assert.Equal(t, "system", agent)
	assert.Contains(t, content, "battle ends")
}

func TestRunPreRound_ValveDisabledWhenZero(t *testing.T) {
	t.Parallel()

	mgr := NewContextManager(nil, nil, nil)

	s := stateWithBudget(t, 1000)
	s.GameConfig.MaxCombatRounds = 0
	s.CombatState = &types.CombatState{Active: true, RoundNumber: 99, OriginalTurnQueue: []string{"dm", "pc1"}}

	next := mgr.RunPreRound(context.Background(), s)
	assert.True(t, next.CombatState.Active)
	assert.Equal(t, 100, next.CombatState.RoundNumber)
}

func TestRunPreRound_CompressionFailureDegradesGracefully(t *testing.T) {
	t.Parallel()

	p := llm.NewScriptedProvider("sum",
		llm.Fail(types.NewError(types.ErrUpstreamError, "backend down")))
	mgr := NewContextManager(NewCompressor(p, "m", nil), nil, nil)

	s := stateWithBudget(t, 100)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.AgentMemories["pc1"].AddToBuffer(words(20)))
	}

	next := mgr.RunPreRound(context.Background(), s)

	// Round proceeds with uncompressed memory rather than failing.
	assert.Len(t, next.AgentMemories["pc1"].ShortTermBuffer, 4)
	assert.Empty(t, next.AgentMemories["pc1"].LongTermSummary)
	assert.False(t, next.SummarizationInProgress)
}
