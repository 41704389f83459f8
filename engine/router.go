package engine

import "github.com/BaSui01/questflow/types"

// Sentinel node identifiers returned by the router alongside real
// agent IDs. They use characters outside the valid-identifier alphabet
// so they can never collide with an agent.
const (
	// NodeHuman routes to the human-intervention node.
	NodeHuman = "__human__"
	// NodeEnd signals round completion.
	NodeEnd = "__end__"
)

// RouteToNextAgent decides which node acts after the agent in
// state.CurrentTurn. It is a pure function of its input: repeated calls
// on the same state return the same result, which is what makes a round
// resumable from a checkpoint mid-round.
//
// Decision order:
//  1. A human controlling the current (non-DM) character routes to the
//     human node instead of auto-advancing.
//  2. Otherwise advance through the active ordering (initiative order
//     in combat, turn queue otherwise). An unknown current turn falls
//     back to the DM; the last position signals END; an NPC entry is
//     voiced by the DM.
func RouteToNextAgent(s *types.GameState) string {
	_, node := routeStep(s)
	return node
}

// routeStep is RouteToNextAgent plus the ordering entry the decision
// landed on. The orchestrator needs the entry as its position marker:
// for an NPC turn the node is the DM but the position is the NPC.
func routeStep(s *types.GameState) (entry, node string) {
	if humanControls(s, s.CurrentTurn) {
		return s.CurrentTurn, NodeHuman
	}
	return advanceFrom(s)
}

// advanceFrom walks one step through the active ordering, skipping the
// human check on the current position. Used directly after the human
// node completes, so the consumed turn is not re-routed to the human.
func advanceFrom(s *types.GameState) (entry, node string) {
	ordering := s.ActiveOrdering()

	idx := -1
	for i, id := range ordering {
		if id == s.CurrentTurn {
			idx = i
			break
		}
	}
	if idx == -1 {
		// Inconsistent state recovers to the DM, never errors.
		return types.DMAgent, types.DMAgent
	}
	if idx == len(ordering)-1 {
		return "", NodeEnd
	}

	next := ordering[idx+1]
	if humanControls(s, next) {
		return next, NodeHuman
	}
	if types.IsNPC(next) {
		return next, types.DMAgent
	}
	return next, next
}

func humanControls(s *types.GameState, id string) bool {
	return s.HumanActive &&
		s.ControlledCharacter != "" &&
		id == s.ControlledCharacter &&
		id != types.DMAgent
}
