package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/questflow/llm"
	"github.com/BaSui01/questflow/memory"
	"github.com/BaSui01/questflow/types"
)

// dmSystemPrompt frames the DM turn. The assembled context carries the
// story state; the prompt carries the role contract.
const dmSystemPrompt = `You are the Dungeon Master of an ongoing tabletop campaign.
Narrate the world's response to the party's actions: consequences,
NPC dialogue, scene changes, and hooks for the next player. Stay in
third person, present tense. Never speak for a player character.
Keep your turn to a few paragraphs at most.`

// pcSystemPrompt frames a player-character turn.
const pcSystemPrompt = `You are playing %s, one character in an ongoing tabletop campaign.
Act only as your character: declare what they do and say, in first
person, staying true to the character facts you are given. Never
narrate the world's response and never act for another character.
Keep your turn short, one action or line of dialogue.`

// TurnHandler executes one agent's turn. Handlers are copy-on-write:
// they clone the input state, apply their changes to the clone, and
// return it. A handler error leaves the input state untouched, which
// the orchestrator's recovery guarantee depends on.
type TurnHandler interface {
	AgentID() string
	HandleTurn(ctx context.Context, s *types.GameState) (*types.GameState, error)
}

// DMHandler runs the Dungeon Master's turn.
type DMHandler struct {
	provider llm.Provider
	model    string
	builder  *memory.ContextBuilder
	logger   *zap.Logger
}

// NewDMHandler creates the DM turn handler.
func NewDMHandler(provider llm.Provider, model string, logger *zap.Logger) *DMHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DMHandler{
		provider: provider,
		model:    model,
		builder:  memory.NewContextBuilder(),
		logger:   logger.With(zap.String("handler", "dm")),
	}
}

func (h *DMHandler) AgentID() string { return types.DMAgent }

// HandleTurn builds the DM's privileged context, invokes the model, and
// appends the reply to the log and the DM's own buffer on a clone.
func (h *DMHandler) HandleTurn(ctx context.Context, s *types.GameState) (*types.GameState, error) {
	prompt := h.builder.BuildDMContext(s)

	reply, err := llm.SingleTurn(ctx, h.provider, h.model, dmSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	return applyTurn(s, types.DMAgent, reply)
}

// PCHandler runs one player character's turn.
type PCHandler struct {
	agentID  string
	provider llm.Provider
	model    string
	builder  *memory.ContextBuilder
	logger   *zap.Logger
}

// NewPCHandler creates a turn handler for one player character.
func NewPCHandler(agentID string, provider llm.Provider, model string, logger *zap.Logger) *PCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PCHandler{
		agentID:  agentID,
		provider: provider,
		model:    model,
		builder:  memory.NewContextBuilder(),
		logger:   logger.With(zap.String("handler", "pc"), zap.String("agent", agentID)),
	}
}

func (h *PCHandler) AgentID() string { return h.agentID }

// HandleTurn builds the character's isolated context, invokes the
// model, and appends the reply on a clone.
func (h *PCHandler) HandleTurn(ctx context.Context, s *types.GameState) (*types.GameState, error) {
	persona := h.agentID
	if mem := s.AgentMemories[h.agentID]; mem != nil && mem.CharacterFacts != nil && mem.CharacterFacts.Name != "" {
		persona = mem.CharacterFacts.Name
	}

	prompt := h.builder.BuildPCContext(s, h.agentID)
	reply, err := llm.SingleTurn(ctx, h.provider, h.model, fmt.Sprintf(pcSystemPrompt, persona), prompt)
	if err != nil {
		return nil, err
	}

	return applyTurn(s, h.agentID, reply)
}

// applyTurn clones the state and records one agent's narrative output:
// one ground-truth log line plus one entry in the agent's own buffer.
func applyTurn(s *types.GameState, agentID, content string) (*types.GameState, error) {
	next := s.Clone()
	if err := next.AppendLog(agentID, content); err != nil {
		return nil, err
	}
	if mem := next.AgentMemories[agentID]; mem != nil {
		if err := mem.AddToBuffer(types.FormatLogLine(agentID, content)); err != nil {
			return nil, err
		}
	}
	return next, nil
}
