package types

import "strings"

// NPCPrefix namespaces NPC entries in the initiative order. NPCs are
// voiced by the DM, so routing to an NPC entry redirects to the DM node.
// This prefix is the only NPC marker; PC identifiers may not contain ':'.
const NPCPrefix = "dm:"

// IsNPC reports whether an identifier is a namespaced NPC entry.
func IsNPC(id string) bool {
	return strings.HasPrefix(id, NPCPrefix) && len(id) > len(NPCPrefix)
}

// NPCProfile holds the combat stats the DM uses when voicing an NPC.
type NPCProfile struct {
	Name       string `json:"name"`
	HitPoints  int    `json:"hit_points"`
	ArmorClass int    `json:"armor_class"`
	Initiative int    `json:"initiative,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// CombatState is the combat sub-state consulted by the turn router.
// While Active, routing follows InitiativeOrder instead of the turn
// queue; OriginalTurnQueue preserves the pre-combat ordering and is
// restored verbatim when combat ends or force-ends.
type CombatState struct {
	Active            bool                  `json:"active"`
	RoundNumber       int                   `json:"round_number"`
	InitiativeOrder   []string              `json:"initiative_order,omitempty"`
	OriginalTurnQueue []string              `json:"original_turn_queue,omitempty"`
	NPCProfiles       map[string]NPCProfile `json:"npc_profiles,omitempty"`
}

// NewCombatState creates an empty, inactive combat state.
func NewCombatState() *CombatState {
	return &CombatState{}
}

// Clone returns a deep copy.
func (c *CombatState) Clone() *CombatState {
	if c == nil {
		return nil
	}
	out := &CombatState{
		Active:      c.Active,
		RoundNumber: c.RoundNumber,
	}
	if c.InitiativeOrder != nil {
		out.InitiativeOrder = append([]string(nil), c.InitiativeOrder...)
	}
	if c.OriginalTurnQueue != nil {
		out.OriginalTurnQueue = append([]string(nil), c.OriginalTurnQueue...)
	}
	if c.NPCProfiles != nil {
		out.NPCProfiles = make(map[string]NPCProfile, len(c.NPCProfiles))
		for k, v := range c.NPCProfiles {
			out.NPCProfiles[k] = v
		}
	}
	return out
}

// Reset deactivates combat and clears all combat data in place.
func (c *CombatState) Reset() {
	c.Active = false
	c.RoundNumber = 0
	c.InitiativeOrder = nil
	c.OriginalTurnQueue = nil
	c.NPCProfiles = nil
}
