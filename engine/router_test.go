package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/questflow/types"
)

func routerState(t *testing.T, pcs ...string) *types.GameState {
	t.Helper()
	s, err := types.NewGameState("router_test", pcs, types.GameConfig{TokenLimit: 4000})
	require.NoError(t, err)
	return s
}

func TestRouter_RoundRobinCompleteness(t *testing.T) {
	t.Parallel()

	s := routerState(t, "a", "b")
	s.CurrentTurn = types.DMAgent

	var visited []string
	for {
		node := RouteToNextAgent(s)
		if node == NodeEnd {
			break
		}
		visited = append(visited, node)
		s.CurrentTurn = node
		require.Less(t, len(visited), 10, "router must terminate")
	}

	assert.Equal(t, []string{"a", "b"}, visited,
		"every entry visited once, dm never revisited mid-round")
}

func TestRouter_UnknownCurrentTurnFallsBackToDM(t *testing.T) {
	t.Parallel()

	s := routerState(t, "a")
	s.CurrentTurn = "ghost"
	assert.Equal(t, types.DMAgent, RouteToNextAgent(s))
}

func TestRouter_NPCRedirectsToDM(t *testing.T) {
	t.Parallel()

	s := routerState(t, "pc1")
	s.CombatState = &types.CombatState{
		Active:            true,
		InitiativeOrder:   []string{"dm", "dm:dm_npc_1", "pc1"},
		OriginalTurnQueue: []string{"dm", "pc1"},
		RoundNumber:       1,
	}
	s.CurrentTurn = types.DMAgent

	node := RouteToNextAgent(s)
	assert.Equal(t, types.DMAgent, node, "npc entries are voiced by the dm, never routed literally")

	// The position marker is still the NPC entry.
	entry, _ := routeStep(s)
	assert.Equal(t, "dm:dm_npc_1", entry)

	// From the NPC position the next combatant routes normally.
	s.CurrentTurn = "dm:dm_npc_1"
	assert.Equal(t, "pc1", RouteToNextAgent(s))
}

func TestRouter_CombatOrderingOverridesQueue(t *testing.T) {
	t.Parallel()

	s := routerState(t, "pc1", "pc2")
	s.CombatState = &types.CombatState{
		Active:            true,
		InitiativeOrder:   []string{"pc2", "dm", "pc1"},
		OriginalTurnQueue: []string{"dm", "pc1", "pc2"},
		RoundNumber:       1,
	}
	s.CurrentTurn = "pc2"
	assert.Equal(t, types.DMAgent, RouteToNextAgent(s))

	// Inactive combat falls back to the turn queue.
	s.CombatState.Active = false
	s.CurrentTurn = types.DMAgent
	assert.Equal(t, "pc1", RouteToNextAgent(s))
}

func TestRouter_LastPositionSignalsEnd(t *testing.T) {
	t.Parallel()

	s := routerState(t, "pc1")
	s.CurrentTurn = "pc1"
	assert.Equal(t, NodeEnd, RouteToNextAgent(s))
}

func TestRouter_HumanOverride(t *testing.T) {
	t.Parallel()

	s := routerState(t, "pc1", "pc2")
	s.HumanActive = true
	s.ControlledCharacter = "pc1"

	// Arriving at the controlled character routes to the human node.
	s.CurrentTurn = types.DMAgent
	assert.Equal(t, NodeHuman, RouteToNextAgent(s))

	// Positioned on the controlled character (resume after stall)
	// also routes to the human node.
	s.CurrentTurn = "pc1"
	assert.Equal(t, NodeHuman, RouteToNextAgent(s))

	// advanceFrom skips the human check to move past the consumed turn.
	entry, node := advanceFrom(s)
	assert.Equal(t, "pc2", entry)
	assert.Equal(t, "pc2", node)

	// A human never intercepts the DM.
	s.ControlledCharacter = types.DMAgent
	s.CurrentTurn = types.DMAgent
	assert.Equal(t, "pc1", RouteToNextAgent(s))
}

func TestRouter_Determinism(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 5).Draw(rt, "party_size")
		pcs := make([]string, n)
		for i := range pcs {
			pcs[i] = "pc" + string(rune('a'+i))
		}
		s, err := types.NewGameState("prop_test", pcs, types.GameConfig{TokenLimit: 4000})
		if err != nil {
			rt.Fatalf("state: %v", err)
		}

		candidates := append([]string{types.DMAgent, "ghost"}, pcs...)
		s.CurrentTurn = rapid.SampledFrom(candidates).Draw(rt, "current_turn")
		s.HumanActive = rapid.Bool().Draw(rt, "human_active")
		if s.HumanActive {
			s.ControlledCharacter = rapid.SampledFrom(pcs).Draw(rt, "controlled")
		}
		if rapid.Bool().Draw(rt, "combat") {
			order := append([]string{"dm:goblin"}, s.TurnQueue...)
			s.CombatState = &types.CombatState{
				Active:            true,
				RoundNumber:       1,
				InitiativeOrder:   order,
				OriginalTurnQueue: append([]string(nil), s.TurnQueue...),
			}
		}

		first := RouteToNextAgent(s)
		for i := 0; i < 3; i++ {
			if got := RouteToNextAgent(s); got != first {
				rt.Fatalf("routing not deterministic: %q then %q", first, got)
			}
		}

		// The result is always a real node: an agent in the ordering,
		// the DM, or a sentinel.
		valid := map[string]bool{NodeEnd: true, NodeHuman: true, types.DMAgent: true}
		for _, id := range s.ActiveOrdering() {
			valid[id] = true
		}
		if !valid[first] {
			rt.Fatalf("routed to unknown node %q", first)
		}
	})
}
