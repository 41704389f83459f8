package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/questflow/types"
)

func testState(t *testing.T, sessionID string) *types.GameState {
	t.Helper()
	s, err := types.NewGameState(sessionID, []string{"pc1", "pc2"}, types.GameConfig{
		TokenLimit:      4000,
		MaxCombatRounds: 30,
		PartySize:       2,
		CombatEnabled:   true,
	})
	require.NoError(t, err)

	require.NoError(t, s.AppendLog("dm", "The cellar door creaks open."))
	require.NoError(t, s.AppendLog("pc1", "I light a torch."))
	s.AgentMemories["pc1"].CharacterFacts = &types.CharacterFacts{
		Name:          "Kira",
		Traits:        []string{"impulsive", "loyal"},
		Relationships: map[string]string{"pc2": "rival"},
	}
	s.AgentMemories["pc1"].LongTermSummary = "Kira swore revenge on the baron."
	require.NoError(t, s.AgentMemories["pc1"].AddToBuffer("[pc1]: I light a torch."))
	s.CombatState = &types.CombatState{
		Active:            true,
		RoundNumber:       2,
		InitiativeOrder:   []string{"dm:rat_king", "pc1", "pc2", "dm"},
		OriginalTurnQueue: []string{"dm", "pc1", "pc2"},
		NPCProfiles: map[string]types.NPCProfile{
			"dm:rat_king": {Name: "Rat King", HitPoints: 12, ArmorClass: 13},
		},
	}
	return s
}

func TestFileStore_RoundTrip(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir(), nil)
	ctx := context.Background()
	state := testState(t, "session_001")

	require.NoError(t, store.Save(ctx, NewCheckpoint(state, 2)))

	ck, err := store.Load(ctx, "session_001", "", 2)
	require.NoError(t, err)
	require.NotNil(t, ck)
	assert.Equal(t, 2, ck.TurnNumber)
	assert.False(t, ck.SavedAt.IsZero())

	// Full fidelity through JSON, nested records included.
	assert.Equal(t, state.GroundTruthLog, ck.State.GroundTruthLog)
	assert.Equal(t, state.TurnQueue, ck.State.TurnQueue)
	assert.Equal(t, state.AgentMemories["pc1"], ck.State.AgentMemories["pc1"])
	assert.Equal(t, state.CombatState, ck.State.CombatState)
	assert.Equal(t, state.GameConfig, ck.State.GameConfig)
}

func TestFileStore_MissingIsAbsenceNotError(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir(), nil)
	ctx := context.Background()

	ck, err := store.Load(ctx, "session_001", "", 7)
	require.NoError(t, err)
	assert.Nil(t, ck)

	latest, err := store.LoadLatest(ctx, "session_001", "")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestFileStore_CorruptIsAbsenceNotError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewFileStore(dir, nil)
	ctx := context.Background()

	sessDir := filepath.Join(dir, "campaigns", "session_001")
	require.NoError(t, os.MkdirAll(sessDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sessDir, "turn_003.json"), []byte("{truncated"), 0o644))

	ck, err := store.Load(ctx, "session_001", "", 3)
	require.NoError(t, err)
	assert.Nil(t, ck)
}

func TestFileStore_LoadLatestSkipsCorruptTail(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewFileStore(dir, nil)
	ctx := context.Background()
	state := testState(t, "session_001")

	require.NoError(t, store.Save(ctx, NewCheckpoint(state, 1)))
	sessDir := filepath.Join(dir, "campaigns", "session_001")
	require.NoError(t, os.WriteFile(filepath.Join(sessDir, "turn_002.json"), []byte("garbage"), 0o644))

	ck, err := store.LoadLatest(ctx, "session_001", "")
	require.NoError(t, err)
	require.NotNil(t, ck)
	assert.Equal(t, 1, ck.TurnNumber)
}

func TestFileStore_PathTraversalRejected(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir(), nil)
	ctx := context.Background()

	for _, id := range []string{"../../etc", "a/b", "a.b", "", "x y"} {
		_, err := store.SessionDir(id)
		assert.Equal(t, types.ErrInvalidSessionID, types.GetErrorCode(err), "id %q", id)

		_, err = store.Load(ctx, id, "", 0)
		assert.Error(t, err, "id %q", id)
	}

	_, err := store.Load(ctx, "session_001", "../evil", 0)
	assert.Equal(t, types.ErrInvalidForkID, types.GetErrorCode(err))

	err = store.Save(ctx, &Checkpoint{SessionID: "session_001", TurnNumber: -1})
	assert.Equal(t, types.ErrInvalidTurn, types.GetErrorCode(err))
}

func TestFileStore_ListTurnsSortedAndDeleteAfter(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir(), nil)
	ctx := context.Background()
	state := testState(t, "session_001")

	for _, turn := range []int{5, 1, 3} {
		require.NoError(t, store.Save(ctx, NewCheckpoint(state, turn)))
	}

	turns, err := store.ListTurns(ctx, "session_001", "")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 5}, turns)

	require.NoError(t, store.DeleteAfter(ctx, "session_001", "", 3))
	turns, err = store.ListTurns(ctx, "session_001", "")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, turns)
}

func TestFileStore_InterruptedWriteLeavesOldCheckpointIntact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewFileStore(dir, nil)
	ctx := context.Background()
	state := testState(t, "session_001")

	require.NoError(t, store.Save(ctx, NewCheckpoint(state, 1)))

	// A crash between temp write and rename leaves only a stray temp
	// file behind; the published checkpoint must be unaffected.
	sessDir := filepath.Join(dir, "campaigns", "session_001")
	stray := filepath.Join(sessDir, ".turn_001.json.tmp-crash")
	require.NoError(t, os.WriteFile(stray, []byte(`{"half":`), 0o644))

	ck, err := store.Load(ctx, "session_001", "", 1)
	require.NoError(t, err)
	require.NotNil(t, ck)
	assert.Equal(t, state.GroundTruthLog, ck.State.GroundTruthLog)

	turns, err := store.ListTurns(ctx, "session_001", "")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, turns, "stray temp files are not listed as checkpoints")
}

func TestManager_LastGoodTurnAndRollback(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir(), nil)
	mgr := NewManager(store, nil)
	ctx := context.Background()
	state := testState(t, "session_001")

	assert.Equal(t, -1, mgr.LastGoodTurn(ctx, state), "nothing persisted yet")

	for turn := 1; turn <= 4; turn++ {
		require.NoError(t, mgr.SaveState(ctx, state, turn))
	}
	assert.Equal(t, 4, mgr.LastGoodTurn(ctx, state))

	ck, err := mgr.Rollback(ctx, "session_001", "", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, ck.TurnNumber)

	turns, err := store.ListTurns(ctx, "session_001", "")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, turns)

	_, err = mgr.Rollback(ctx, "session_001", "", 9)
	assert.Equal(t, types.ErrInvalidTurn, types.GetErrorCode(err))
}

func TestSessionDirName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "session_001", SessionDirName(1))
	assert.Equal(t, "session_042", SessionDirName(42))
	assert.True(t, types.ValidIdentifier(SessionDirName(7)))
}
