package memory

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/questflow/types"
)

const (
	// compressionThreshold triggers a buffer compression pass when the
	// estimated buffer tokens reach this fraction of the agent's limit.
	compressionThreshold = 0.8

	// maxCompressionPasses bounds compression work per agent per round.
	// Pass 1 compresses the buffer; pass 2 additionally compresses the
	// long-term summary. Remaining over-budget after the cap is logged,
	// never raised.
	maxCompressionPasses = 2
)

// CompressionHook observes compression passes (for events/metrics).
// tier is 1 for buffer compression, 2 for summary recompression.
type CompressionHook func(agentID string, tier int)

// ContextManager is the pre-DM step that runs once at the start of every
// round: it compresses over-budget agent memories, advances the combat
// round counter, and enforces the max-round safety valve. It operates on
// a clone and never fails the round; compression failures degrade
// gracefully inside the Compressor.
type ContextManager struct {
	comp   *Compressor
	tok    types.Tokenizer
	logger *zap.Logger
	hook   CompressionHook
}

// NewContextManager creates a ContextManager. A nil tokenizer falls back
// to the heuristic estimator.
func NewContextManager(comp *Compressor, tok types.Tokenizer, logger *zap.Logger) *ContextManager {
	if tok == nil {
		tok = types.NewHeuristicEstimator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextManager{
		comp:   comp,
		tok:    tok,
		logger: logger.With(zap.String("component", "context_manager")),
	}
}

// SetCompressionHook registers an observer for compression passes.
func (m *ContextManager) SetCompressionHook(hook CompressionHook) {
	m.hook = hook
}

// RunPreRound executes the context-manager step and returns the new
// state. The input state is never mutated. Compression must complete
// before the DM turn since the DM reads compressed context.
func (m *ContextManager) RunPreRound(ctx context.Context, s *types.GameState) *types.GameState {
	next := s.Clone()
	next.SummarizationInProgress = true

	// Deterministic agent order for reproducible logs and tests.
	ids := make([]string, 0, len(next.AgentMemories))
	for id := range next.AgentMemories {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		m.manageAgent(ctx, id, next.AgentMemories[id])
	}

	m.advanceCombat(next)

	next.SummarizationInProgress = false
	return next
}

func (m *ContextManager) manageAgent(ctx context.Context, id string, mem *types.AgentMemory) {
	if mem == nil || m.comp == nil {
		return
	}

	bufTokens := mem.EstimateBufferTokens(m.tok)
	threshold := int(float64(mem.TokenLimit) * compressionThreshold)
	if bufTokens < threshold {
		return
	}

	// Pass 1: buffer compression.
	if _, ok := m.comp.CompressBuffer(ctx, mem); ok && m.hook != nil {
		m.hook(id, 1)
	}

	// Pass 2: total context still over the limit means the summary
	// itself has grown too large.
	total := mem.EstimateTotalTokens(m.tok)
	if total <= mem.TokenLimit {
		return
	}
	if m.comp.CompressLongTermSummary(ctx, mem) && m.hook != nil {
		m.hook(id, 2)
	}

	if remaining := mem.EstimateTotalTokens(m.tok); remaining > mem.TokenLimit {
		m.logger.Warn("context still over budget after max compression passes",
			zap.String("agent", id),
			zap.Int("estimated_tokens", remaining),
			zap.Int("token_limit", mem.TokenLimit),
			zap.Int("passes", maxCompressionPasses),
		)
	}
}

// advanceCombat increments the combat round counter and enforces the
// max-round safety valve. Round 1 is set by the combat-start action, so
// the increment applies from the second round onward.
func (m *ContextManager) advanceCombat(s *types.GameState) {
	cs := s.CombatState
	if cs == nil || !cs.Active {
		return
	}
	if cs.RoundNumber >= 1 {
		cs.RoundNumber++
	}

	maxRounds := s.GameConfig.MaxCombatRounds
	if maxRounds <= 0 || cs.RoundNumber <= maxRounds {
		return
	}

	m.logger.Info("combat force-ended by max-round safety valve",
		zap.Int("round", cs.RoundNumber), zap.Int("max_rounds", maxRounds))

	if len(cs.OriginalTurnQueue) > 0 {
		s.TurnQueue = append([]string(nil), cs.OriginalTurnQueue...)
	}
	cs.Reset()
	s.GroundTruthLog = append(s.GroundTruthLog, types.FormatLogLine("system",
		fmt.Sprintf("The battle ends from sheer exhaustion after %d rounds; the combatants disengage.", maxRounds)))
}
