package types

import (
	"fmt"
	"regexp"
	"strings"
)

// DMAgent is the fixed identifier of the Dungeon-Master agent. The turn
// queue invariant TurnQueue[0] == DMAgent holds for every valid state.
const DMAgent = "dm"

// identifierPattern restricts session, fork, and agent identifiers to
// alphanumeric-plus-underscore. Defense against path traversal: these
// identifiers become directory names in the persistence layer.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidIdentifier reports whether id is safe to use as a session, fork,
// or agent identifier.
func ValidIdentifier(id string) bool {
	return identifierPattern.MatchString(id)
}

// GameConfig holds round-level settings.
type GameConfig struct {
	// MaxCombatRounds is the combat safety valve: when positive and the
	// combat round counter exceeds it, combat is force-ended. Zero
	// disables the valve.
	MaxCombatRounds int `json:"max_combat_rounds" yaml:"max_combat_rounds"`
	// PartySize is the expected number of player characters.
	PartySize int `json:"party_size" yaml:"party_size"`
	// CombatEnabled gates whether the DM may start combat at all.
	CombatEnabled bool `json:"combat_enabled" yaml:"combat_enabled"`
	// TokenLimit is the per-agent buffer token budget.
	TokenLimit int `json:"token_limit" yaml:"token_limit"`
}

// GameState is the complete snapshot driving a session. It is mutated
// by replacement: orchestrated steps clone the state, modify the clone,
// and return it, leaving the input pristine for error recovery.
type GameState struct {
	SessionID     string `json:"session_id"`
	SessionNumber int    `json:"session_number"`
	ActiveForkID  string `json:"active_fork_id,omitempty"`

	// GroundTruthLog is the append-only source of truth for what
	// happened, one "[agent]: content" line per narrative turn.
	GroundTruthLog []string `json:"ground_truth_log"`

	// TurnQueue is the round-robin ordering; the DM is always first.
	// Preserved unmodified while combat substitutes its own ordering.
	TurnQueue   []string `json:"turn_queue"`
	CurrentTurn string   `json:"current_turn"`

	AgentMemories map[string]*AgentMemory `json:"agent_memories"`
	CombatState   *CombatState            `json:"combat_state,omitempty"`

	HumanActive         bool   `json:"human_active"`
	ControlledCharacter string `json:"controlled_character,omitempty"`
	// PendingHumanAction holds narrative input supplied by the human
	// while controlling a character; consumed by the human node.
	PendingHumanAction string `json:"pending_human_action,omitempty"`

	// SummarizationInProgress is an observability signal set around the
	// context-manager step. Not a lock.
	SummarizationInProgress bool `json:"summarization_in_progress,omitempty"`

	GameConfig GameConfig `json:"game_config"`
}

// NewGameState creates a validated initial state for a session with the
// given player-character identifiers. The DM memory and one memory per
// PC are created with the config's token budget.
func NewGameState(sessionID string, pcIDs []string, cfg GameConfig) (*GameState, error) {
	if !ValidIdentifier(sessionID) {
		return nil, NewError(ErrInvalidSessionID, fmt.Sprintf("session id %q is not alphanumeric/underscore", sessionID))
	}
	queue := make([]string, 0, len(pcIDs)+1)
	queue = append(queue, DMAgent)
	memories := map[string]*AgentMemory{
		DMAgent: NewAgentMemory(cfg.TokenLimit),
	}
	for _, id := range pcIDs {
		if id == DMAgent {
			return nil, NewError(ErrInvalidRequest, `player character may not use the reserved id "dm"`)
		}
		if !ValidIdentifier(id) {
			return nil, NewError(ErrInvalidRequest, fmt.Sprintf("agent id %q is not alphanumeric/underscore", id))
		}
		queue = append(queue, id)
		memories[id] = NewAgentMemory(cfg.TokenLimit)
	}
	s := &GameState{
		SessionID:     sessionID,
		SessionNumber: 1,
		TurnQueue:     queue,
		CurrentTurn:   DMAgent,
		AgentMemories: memories,
		CombatState:   NewCombatState(),
		GameConfig:    cfg,
	}
	return s, nil
}

// Validate checks the structural invariants. Called at construction and
// at deserialization boundaries, not on every mutation.
func (s *GameState) Validate() error {
	if !ValidIdentifier(s.SessionID) {
		return NewError(ErrInvalidSessionID, fmt.Sprintf("session id %q is not alphanumeric/underscore", s.SessionID))
	}
	if s.ActiveForkID != "" && !ValidIdentifier(s.ActiveForkID) {
		return NewError(ErrInvalidForkID, fmt.Sprintf("fork id %q is not alphanumeric/underscore", s.ActiveForkID))
	}
	if len(s.TurnQueue) == 0 || s.TurnQueue[0] != DMAgent {
		return NewError(ErrInvalidRequest, "turn queue must start with the dm")
	}
	for _, id := range s.TurnQueue {
		if id != DMAgent && strings.Contains(id, ":") {
			return NewError(ErrInvalidRequest, fmt.Sprintf("turn queue entry %q may not contain ':'", id))
		}
	}
	return nil
}

// PlayerCharacters returns the turn queue without the DM.
func (s *GameState) PlayerCharacters() []string {
	pcs := make([]string, 0, len(s.TurnQueue))
	for _, id := range s.TurnQueue {
		if id != DMAgent {
			pcs = append(pcs, id)
		}
	}
	return pcs
}

// ActiveOrdering returns the ordering the router should walk: the combat
// initiative order while combat is active and non-empty, otherwise the
// round-robin turn queue.
func (s *GameState) ActiveOrdering() []string {
	if s.CombatState != nil && s.CombatState.Active && len(s.CombatState.InitiativeOrder) > 0 {
		return s.CombatState.InitiativeOrder
	}
	return s.TurnQueue
}

// Clone returns a deep copy. Turn handlers clone their input state so a
// failed round can hand the caller the original value untouched.
func (s *GameState) Clone() *GameState {
	out := &GameState{
		SessionID:               s.SessionID,
		SessionNumber:           s.SessionNumber,
		ActiveForkID:            s.ActiveForkID,
		CurrentTurn:             s.CurrentTurn,
		HumanActive:             s.HumanActive,
		ControlledCharacter:     s.ControlledCharacter,
		PendingHumanAction:      s.PendingHumanAction,
		SummarizationInProgress: s.SummarizationInProgress,
		GameConfig:              s.GameConfig,
		CombatState:             s.CombatState.Clone(),
	}
	if s.GroundTruthLog != nil {
		out.GroundTruthLog = append([]string(nil), s.GroundTruthLog...)
	}
	if s.TurnQueue != nil {
		out.TurnQueue = append([]string(nil), s.TurnQueue...)
	}
	if s.AgentMemories != nil {
		out.AgentMemories = make(map[string]*AgentMemory, len(s.AgentMemories))
		for id, m := range s.AgentMemories {
			out.AgentMemories[id] = m.Clone()
		}
	}
	return out
}

// FormatLogLine renders a ground-truth log line with its speaker prefix.
func FormatLogLine(agent, content string) string {
	return fmt.Sprintf("[%s]: %s", agent, content)
}

// ParseLogLine splits a ground-truth log line into speaker and content.
// Lines without a recognizable prefix are attributed to "system".
func ParseLogLine(line string) (agent, content string) {
	if strings.HasPrefix(line, "[") {
		if end := strings.Index(line, "]: "); end > 0 {
			return line[1:end], line[end+3:]
		}
	}
	return "system", line
}

// AppendLog validates and appends a narrative line in place.
//
// Mutable convenience path for tests and offline tools; orchestrated
// steps append to a cloned state instead.
func (s *GameState) AppendLog(agent, content string) error {
	if strings.TrimSpace(content) == "" {
		return NewError(ErrEmptyContent, "log line content is empty")
	}
	s.GroundTruthLog = append(s.GroundTruthLog, FormatLogLine(agent, content))
	return nil
}
