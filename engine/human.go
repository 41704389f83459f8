package engine

import (
	"go.uber.org/zap"

	"github.com/BaSui01/questflow/types"
)

// HumanNode is the single intentional suspension point of a round. When
// a human controls a character and the router reaches that character's
// turn, the node consumes the pending action from state; with nothing
// pending the round stalls here until a human supplies input.
type HumanNode struct {
	logger *zap.Logger
}

// NewHumanNode creates the human-intervention node.
func NewHumanNode(logger *zap.Logger) *HumanNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HumanNode{logger: logger.With(zap.String("component", "human_node"))}
}

// Handle takes the controlled character's turn from the pending human
// action. Returns (newState, true) when an action was consumed, applied
// exactly as a PC turn would be: log line, own buffer, slot cleared.
// Returns (state, false) untouched when no action is pending; the
// caller suspends the round at this exact position.
func (n *HumanNode) Handle(s *types.GameState, character string) (*types.GameState, bool) {
	if s.PendingHumanAction == "" {
		n.logger.Debug("no pending human action, round stalls",
			zap.String("character", character))
		return s, false
	}

	next, err := applyTurn(s, character, s.PendingHumanAction)
	if err != nil {
		// Invalid pending input (empty after trim, oversized) is
		// dropped rather than wedging the round on it forever.
		n.logger.Warn("pending human action rejected",
			zap.String("character", character), zap.Error(err))
		cleared := s.Clone()
		cleared.PendingHumanAction = ""
		return cleared, false
	}
	next.PendingHumanAction = ""

	n.logger.Info("human action applied",
		zap.String("character", character))
	return next, true
}
