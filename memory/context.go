package memory

import (
	"fmt"
	"strings"

	"github.com/BaSui01/questflow/types"
)

// Visibility window sizes. The DM window (K) is wider than the per-PC
// cross-reference window (M): the DM needs plot coherence, not every
// PC's full recent detail.
const (
	// DMRecentEvents is K, the DM's own recent-buffer window.
	DMRecentEvents = 8
	// PCRecentEvents is N, a PC's own recent-buffer window.
	PCRecentEvents = 8
	// CrossRefEvents is M, the per-PC window in the DM's condensed
	// cross-reference. Always smaller than DMRecentEvents.
	CrossRefEvents = 3

	// crossRefEntryChars truncates each cross-referenced entry so the
	// DM context stays condensed.
	crossRefEntryChars = 200
)

// ContextBuilder assembles visibility-respecting context strings for
// agent turns. It is stateless; all inputs come from the GameState.
type ContextBuilder struct{}

// NewContextBuilder creates a ContextBuilder.
func NewContextBuilder() *ContextBuilder {
	return &ContextBuilder{}
}

// BuildContext dispatches on the agent: the DM gets the privileged
// asymmetric view, every other agent gets the isolated PC view.
func (b *ContextBuilder) BuildContext(s *types.GameState, agentID string) string {
	if agentID == types.DMAgent {
		return b.BuildDMContext(s)
	}
	return b.BuildPCContext(s, agentID)
}

// BuildPCContext builds a player-character context: own character facts,
// own long-term summary, own recent buffer. Never any other agent's
// memory.
func (b *ContextBuilder) BuildPCContext(s *types.GameState, agentID string) string {
	mem := s.AgentMemories[agentID]
	if mem == nil {
		return ""
	}
	var sb strings.Builder
	if facts := mem.CharacterFacts.Render(); facts != "" {
		sb.WriteString("## Your character\n")
		sb.WriteString(facts)
		sb.WriteString("\n")
	}
	if mem.LongTermSummary != "" {
		sb.WriteString("## Story so far\n")
		sb.WriteString(mem.LongTermSummary)
		sb.WriteString("\n\n")
	}
	if recent := mem.RecentEntries(PCRecentEvents); len(recent) > 0 {
		sb.WriteString("## Recent events\n")
		for _, e := range recent {
			fmt.Fprintf(&sb, "- %s\n", e)
		}
	}
	return sb.String()
}

// BuildDMContext builds the DM context: own summary and recent buffer,
// every PC's character facts, and a condensed cross-reference of each
// PC's last few buffer entries. This is the only asymmetric-access
// point in the system.
func (b *ContextBuilder) BuildDMContext(s *types.GameState) string {
	var sb strings.Builder
	if dm := s.AgentMemories[types.DMAgent]; dm != nil {
		if dm.LongTermSummary != "" {
			sb.WriteString("## Story so far\n")
			sb.WriteString(dm.LongTermSummary)
			sb.WriteString("\n\n")
		}
		if recent := dm.RecentEntries(DMRecentEvents); len(recent) > 0 {
			sb.WriteString("## Recent events\n")
			for _, e := range recent {
				fmt.Fprintf(&sb, "- %s\n", e)
			}
			sb.WriteString("\n")
		}
	}

	// Walk the turn queue, not the memories map, so the section order is
	// deterministic.
	for _, id := range s.TurnQueue {
		if id == types.DMAgent {
			continue
		}
		mem := s.AgentMemories[id]
		if mem == nil {
			continue
		}
		fmt.Fprintf(&sb, "## Party: %s\n", id)
		if facts := mem.CharacterFacts.Render(); facts != "" {
			sb.WriteString(facts)
		}
		if recent := mem.RecentEntries(CrossRefEvents); len(recent) > 0 {
			sb.WriteString("Recently:\n")
			for _, e := range recent {
				fmt.Fprintf(&sb, "- %s\n", condense(e))
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func condense(entry string) string {
	entry = strings.TrimSpace(entry)
	if len(entry) <= crossRefEntryChars {
		return entry
	}
	return entry[:crossRefEntryChars] + "..."
}
