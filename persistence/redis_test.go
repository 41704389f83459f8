package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/questflow/types"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "questflow_test", time.Hour, nil)
}

func TestRedisStore_RoundTrip(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	state := testState(t, "session_001")

	require.NoError(t, store.Save(ctx, NewCheckpoint(state, 2)))

	ck, err := store.Load(ctx, "session_001", "", 2)
	require.NoError(t, err)
	require.NotNil(t, ck)
	assert.Equal(t, state.GroundTruthLog, ck.State.GroundTruthLog)
	assert.Equal(t, state.AgentMemories["pc1"], ck.State.AgentMemories["pc1"])
	assert.Equal(t, state.CombatState, ck.State.CombatState)
}

func TestRedisStore_MissingIsAbsence(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	ck, err := store.Load(ctx, "session_001", "", 5)
	require.NoError(t, err)
	assert.Nil(t, ck)

	latest, err := store.LoadLatest(ctx, "session_001", "")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestRedisStore_LoadLatestAndListTurns(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	state := testState(t, "session_001")

	for _, turn := range []int{4, 1, 2} {
		require.NoError(t, store.Save(ctx, NewCheckpoint(state, turn)))
	}

	turns, err := store.ListTurns(ctx, "session_001", "")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 4}, turns)

	latest, err := store.LoadLatest(ctx, "session_001", "")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 4, latest.TurnNumber)
}

func TestRedisStore_ForkIsolation(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	stateA := testState(t, "session_001")
	stateA.ActiveForkID = "fork_a"
	require.NoError(t, stateA.AppendLog("dm", "fork A path"))
	require.NoError(t, store.Save(ctx, NewCheckpoint(stateA, 2)))

	stateB := testState(t, "session_001")
	stateB.ActiveForkID = "fork_b"
	require.NoError(t, stateB.AppendLog("dm", "fork B path"))
	require.NoError(t, store.Save(ctx, NewCheckpoint(stateB, 2)))

	ckA, err := store.Load(ctx, "session_001", "fork_a", 2)
	require.NoError(t, err)
	ckB, err := store.Load(ctx, "session_001", "fork_b", 2)
	require.NoError(t, err)

	assert.Contains(t, ckA.State.GroundTruthLog[len(ckA.State.GroundTruthLog)-1], "fork A path")
	assert.Contains(t, ckB.State.GroundTruthLog[len(ckB.State.GroundTruthLog)-1], "fork B path")
}

func TestRedisStore_DeleteAfterAndDeleteSession(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	state := testState(t, "session_001")

	for turn := 1; turn <= 5; turn++ {
		require.NoError(t, store.Save(ctx, NewCheckpoint(state, turn)))
	}

	require.NoError(t, store.DeleteAfter(ctx, "session_001", "", 3))
	turns, err := store.ListTurns(ctx, "session_001", "")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, turns)

	require.NoError(t, store.DeleteSession(ctx, "session_001"))
	turns, err = store.ListTurns(ctx, "session_001", "")
	require.NoError(t, err)
	assert.Empty(t, turns)
	ck, err := store.Load(ctx, "session_001", "", 1)
	require.NoError(t, err)
	assert.Nil(t, ck)
}

func TestRedisStore_ValidationMatchesFileStore(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Load(ctx, "../../etc", "", 0)
	assert.Equal(t, types.ErrInvalidSessionID, types.GetErrorCode(err))

	_, err = store.Load(ctx, "session_001", "../evil", 0)
	assert.Equal(t, types.ErrInvalidForkID, types.GetErrorCode(err))

	err = store.Save(ctx, &Checkpoint{SessionID: "session_001", TurnNumber: -1})
	assert.Equal(t, types.ErrInvalidTurn, types.GetErrorCode(err))
}
