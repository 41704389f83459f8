package engine

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/questflow/types"
)

// CombatController implements the DM's combat tool surface: start
// combat, end combat, roll initiative. All mutations are copy-on-write
// and take effect in the router on the next round.
type CombatController struct {
	rng    *rand.Rand
	bus    EventBus
	logger *zap.Logger
}

// NewCombatController creates a combat controller. The seed fixes the
// initiative rolls for reproducible sessions and tests; zero seeds
// from the clock.
func NewCombatController(seed int64, bus EventBus, logger *zap.Logger) *CombatController {
	if logger == nil {
		logger = zap.NewNop()
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &CombatController{
		rng:    rand.New(rand.NewSource(seed)),
		bus:    bus,
		logger: logger.With(zap.String("component", "combat")),
	}
}

// NPCID namespaces an NPC name into its initiative-order identifier.
func NPCID(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r == ' ' || r == '-':
			return '_'
		}
		return -1
	}, id)
	return types.NPCPrefix + id
}

// StartCombat activates combat: it snapshots the turn queue for
// restoration, rolls initiative over the party plus the given NPCs, and
// sets the round counter to 1. The turn queue itself is preserved
// unmodified; the router follows the initiative order while combat is
// active.
func (c *CombatController) StartCombat(s *types.GameState, npcs []types.NPCProfile) (*types.GameState, error) {
	if !s.GameConfig.CombatEnabled {
		return nil, types.NewError(types.ErrInvalidRequest, "combat is disabled for this game")
	}
	if s.CombatState != nil && s.CombatState.Active {
		return nil, types.NewError(types.ErrInvalidRequest, "combat is already active")
	}

	next := s.Clone()

	profiles := make(map[string]types.NPCProfile, len(npcs))
	combatants := make([]string, 0, len(s.TurnQueue)+len(npcs))
	combatants = append(combatants, s.TurnQueue...)
	for _, npc := range npcs {
		id := NPCID(npc.Name)
		profiles[id] = npc
		combatants = append(combatants, id)
	}

	order := c.RollInitiative(combatants, profiles)
	next.CombatState = &types.CombatState{
		Active:            true,
		RoundNumber:       1,
		InitiativeOrder:   order,
		OriginalTurnQueue: append([]string(nil), s.TurnQueue...),
		NPCProfiles:       profiles,
	}

	next.GroundTruthLog = append(next.GroundTruthLog, types.FormatLogLine("system",
		"Combat begins! Initiative order: "+strings.Join(order, ", ")))

	c.logger.Info("combat started",
		zap.String("session_id", s.SessionID),
		zap.Strings("initiative_order", order))
	c.publish(next, true, 1)
	return next, nil
}

// EndCombat deactivates combat and restores the pre-combat turn queue
// verbatim.
func (c *CombatController) EndCombat(s *types.GameState) (*types.GameState, error) {
	if s.CombatState == nil || !s.CombatState.Active {
		return nil, types.NewError(types.ErrInvalidRequest, "no combat to end")
	}

	next := s.Clone()
	rounds := next.CombatState.RoundNumber
	if len(next.CombatState.OriginalTurnQueue) > 0 {
		next.TurnQueue = append([]string(nil), next.CombatState.OriginalTurnQueue...)
	}
	next.CombatState.Reset()

	next.GroundTruthLog = append(next.GroundTruthLog, types.FormatLogLine("system",
		fmt.Sprintf("Combat ends after %d rounds.", rounds)))

	c.logger.Info("combat ended",
		zap.String("session_id", s.SessionID),
		zap.Int("rounds", rounds))
	c.publish(next, false, rounds)
	return next, nil
}

// RollInitiative orders combatants by a d20 roll plus each NPC's
// initiative modifier, highest first. Ties keep the input order.
func (c *CombatController) RollInitiative(combatants []string, profiles map[string]types.NPCProfile) []string {
	type roll struct {
		id    string
		total int
	}
	rolls := make([]roll, 0, len(combatants))
	for _, id := range combatants {
		total := c.rng.Intn(20) + 1
		if p, ok := profiles[id]; ok {
			total += p.Initiative
		}
		rolls = append(rolls, roll{id: id, total: total})
	}
	sort.SliceStable(rolls, func(i, j int) bool { return rolls[i].total > rolls[j].total })

	order := make([]string, len(rolls))
	for i, r := range rolls {
		order[i] = r.id
	}
	return order
}

func (c *CombatController) publish(s *types.GameState, active bool, round int) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(&CombatEvent{
		SessionID: s.SessionID,
		Active:    active,
		Round:     round,
		At:        time.Now(),
	})
}
