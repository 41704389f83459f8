package memory

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/questflow/types"
)

func buildPopulatedState(t *testing.T) *types.GameState {
	t.Helper()
	s, err := types.NewGameState("ctx_test", []string{"pc1", "pc2"}, types.GameConfig{TokenLimit: 4000})
	require.NoError(t, err)

	s.AgentMemories["dm"].LongTermSummary = "The party entered the sunken vault."
	require.NoError(t, s.AgentMemories["dm"].AddToBuffer("[dm]: dm-secret: the idol is cursed"))

	s.AgentMemories["pc1"].CharacterFacts = &types.CharacterFacts{Name: "Kira", Traits: []string{"impulsive"}}
	s.AgentMemories["pc1"].LongTermSummary = "Kira swore revenge on the baron."
	require.NoError(t, s.AgentMemories["pc1"].AddToBuffer("[pc1]: pc1-private: I pocket the gem"))

	s.AgentMemories["pc2"].CharacterFacts = &types.CharacterFacts{Name: "Dorn"}
	require.NoError(t, s.AgentMemories["pc2"].AddToBuffer("[pc2]: pc2-private: I watch the door"))

	return s
}

func TestBuildPCContext_Isolation(t *testing.T) {
	t.Parallel()

	s := buildPopulatedState(t)
	b := NewContextBuilder()

	ctx1 := b.BuildPCContext(s, "pc1")
	assert.Contains(t, ctx1, "Kira")
	assert.Contains(t, ctx1, "swore revenge")
	assert.Contains(t, ctx1, "pc1-private")

	// Strict isolation: no other PC buffer, no DM-only state.
	assert.NotContains(t, ctx1, "pc2-private")
	assert.NotContains(t, ctx1, "dm-secret")

	ctx2 := b.BuildPCContext(s, "pc2")
	assert.NotContains(t, ctx2, "pc1-private")
	assert.NotContains(t, ctx2, "dm-secret")
}

func TestBuildDMContext_AsymmetricVisibility(t *testing.T) {
	t.Parallel()

	s := buildPopulatedState(t)
	b := NewContextBuilder()

	ctx := b.BuildDMContext(s)
	assert.Contains(t, ctx, "dm-secret", "dm sees its own buffer")
	assert.Contains(t, ctx, "sunken vault", "dm sees its own summary")
	assert.Contains(t, ctx, "pc1-private", "dm cross-references pc1 recent entries")
	assert.Contains(t, ctx, "pc2-private", "dm cross-references pc2 recent entries")
	assert.Contains(t, ctx, "Kira", "dm sees pc character facts")
	assert.Contains(t, ctx, "Dorn")

	// Section order follows the turn queue.
	assert.Less(t, strings.Index(ctx, "Party: pc1"), strings.Index(ctx, "Party: pc2"))
}

func TestBuildDMContext_CrossRefWindowAndCondensing(t *testing.T) {
	t.Parallel()

	s := buildPopulatedState(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.AgentMemories["pc1"].AddToBuffer(fmt.Sprintf("[pc1]: event number %d", i)))
	}
	long := strings.Repeat("verbose description ", 30)
	require.NoError(t, s.AgentMemories["pc1"].AddToBuffer("[pc1]: "+long))

	ctx := NewContextBuilder().BuildDMContext(s)

	// Only the last M entries appear.
	assert.NotContains(t, ctx, "event number 0")
	assert.Contains(t, ctx, "event number 9")
	// Long entries are truncated in the cross-reference.
	assert.Contains(t, ctx, "...")
	assert.NotContains(t, ctx, long)
}

func TestBuildContext_Dispatch(t *testing.T) {
	t.Parallel()

	s := buildPopulatedState(t)
	b := NewContextBuilder()

	assert.Equal(t, b.BuildDMContext(s), b.BuildContext(s, "dm"))
	assert.Equal(t, b.BuildPCContext(s, "pc1"), b.BuildContext(s, "pc1"))
	assert.Empty(t, b.BuildContext(s, "nobody"), "unknown agent builds empty context")
}
