package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/questflow/internal/metrics"
	"github.com/BaSui01/questflow/memory"
	"github.com/BaSui01/questflow/persistence"
	"github.com/BaSui01/questflow/types"
)

// RoundResult reports one RunRound invocation. State is always set: the
// advanced state on success or stall, the untouched input state on
// failure.
type RoundResult struct {
	State *types.GameState
	// NewLogLines counts narrative lines this round added.
	NewLogLines int
	// Stalled is true when the round suspended at the human node
	// awaiting input. Resume by calling RunRound again on the returned
	// state once PendingHumanAction is set.
	Stalled bool
	// CheckpointTurn is the turn number checkpointed this round, -1
	// when nothing was persisted.
	CheckpointTurn int
}

// Orchestrator drives one full round per RunRound call: context-manager
// step, then each agent turn in router order, then transcript append
// and a fork-aware checkpoint.
//
// Central correctness property: a failed round returns the original,
// unmodified input state with a *types.GameError attached. Partial
// turns never leak into the log or the memories.
//
// An orchestrator serves one session at a time; give concurrent
// sessions their own orchestrator.
type Orchestrator struct {
	handlers    map[string]TurnHandler
	ctxMgr      *memory.ContextManager
	human       *HumanNode
	combat      *CombatController
	checkpoints *persistence.Manager
	transcript  *persistence.TranscriptWriter
	bus         EventBus
	collector   *metrics.Collector
	logger      *zap.Logger
}

// NewOrchestrator creates an orchestrator with the mandatory pieces.
// Persistence, events, and metrics attach via the With methods.
func NewOrchestrator(ctxMgr *memory.ContextManager, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		handlers: make(map[string]TurnHandler),
		ctxMgr:   ctxMgr,
		human:    NewHumanNode(logger),
		logger:   logger.With(zap.String("component", "orchestrator")),
	}
}

// RegisterHandler installs an agent's turn handler.
func (o *Orchestrator) RegisterHandler(h TurnHandler) *Orchestrator {
	o.handlers[h.AgentID()] = h
	return o
}

// WithCombat attaches the DM's combat tool surface.
func (o *Orchestrator) WithCombat(c *CombatController) *Orchestrator {
	o.combat = c
	return o
}

// Combat returns the DM's combat tool surface, nil when none is
// attached. Tool-calling layers invoke StartCombat and EndCombat
// through it; the router picks the new ordering up next round.
func (o *Orchestrator) Combat() *CombatController {
	return o.combat
}

// WithCheckpoints attaches round checkpointing.
func (o *Orchestrator) WithCheckpoints(m *persistence.Manager) *Orchestrator {
	o.checkpoints = m
	return o
}

// WithTranscript attaches transcript recording.
func (o *Orchestrator) WithTranscript(w *persistence.TranscriptWriter) *Orchestrator {
	o.transcript = w
	return o
}

// WithEventBus attaches the event surface.
func (o *Orchestrator) WithEventBus(bus EventBus) *Orchestrator {
	o.bus = bus
	return o
}

// WithMetrics attaches Prometheus instrumentation.
func (o *Orchestrator) WithMetrics(c *metrics.Collector) *Orchestrator {
	o.collector = c
	return o
}

// RunRound drives one round to END, stall, or failure.
//
// A state suspended at the human node (a prior stall) resumes at that
// exact point: prior agents' turns are not re-run and the
// context-manager step is not repeated.
func (o *Orchestrator) RunRound(ctx context.Context, state *types.GameState) (res *RoundResult, err error) {
	original := state
	started := time.Now()
	baseline := len(state.GroundTruthLog)

	// An unhandled programming error must convert to the same
	// structured failure shape as an LLM error, with the input state
	// returned untouched.
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("round panicked", zap.Any("recover", r))
			res, err = o.roundFailure(ctx, original, original.CurrentTurn,
				types.NewError(types.ErrInternalError, fmt.Sprintf("unhandled round failure: %v", r)))
		}
	}()

	var cur *types.GameState
	if resuming := humanControls(state, state.CurrentTurn); resuming {
		cur = state.Clone()
	} else {
		if o.ctxMgr != nil {
			o.wireCompressionEvents(state.SessionID)
			cur = o.ctxMgr.RunPreRound(ctx, state)
		} else {
			cur = state.Clone()
		}
		// An empty current turn is not in any ordering; the router's
		// defensive fallback routes it to the DM, who opens the round.
		cur.CurrentTurn = ""
	}

	stalled := false
	skipHumanCheck := false
	limit := len(cur.ActiveOrdering()) + 2

drive:
	for steps := 0; ; steps++ {
		if steps > limit {
			return o.roundFailure(ctx, original, cur.CurrentTurn,
				types.NewError(types.ErrRoutingCycle,
					fmt.Sprintf("round exceeded %d routing steps", limit)))
		}

		var entry, node string
		if skipHumanCheck {
			entry, node = advanceFrom(cur)
			skipHumanCheck = false
		} else {
			entry, node = routeStep(cur)
		}

		switch node {
		case NodeEnd:
			break drive

		case NodeHuman:
			next, acted := o.human.Handle(cur, entry)
			cur = next
			cur.CurrentTurn = entry
			if !acted {
				stalled = true
				break drive
			}
			o.publishTurn(cur, entry)
			skipHumanCheck = true

		default:
			h := o.handlers[node]
			if h == nil {
				return o.roundFailure(ctx, original, node,
					types.NewError(types.ErrInternalError,
						fmt.Sprintf("no turn handler registered for agent %q", node)))
			}
			next, herr := h.HandleTurn(ctx, cur)
			if herr != nil {
				return o.roundFailure(ctx, original, node, herr)
			}
			cur = next
			cur.CurrentTurn = entry
			o.publishTurn(cur, node)
		}
	}

	newLines := len(cur.GroundTruthLog) - baseline
	ckTurn := -1
	if newLines > 0 {
		if o.transcript != nil {
			if terr := o.transcript.AppendLogLines(cur.SessionID, cur.ActiveForkID, baseline+1, cur.GroundTruthLog[baseline:]); terr != nil {
				// Audit artifact only; the round is not failed on it.
				o.logger.Warn("transcript append failed", zap.Error(terr))
			}
		}
		if o.checkpoints != nil {
			turn := len(cur.GroundTruthLog)
			if cerr := o.checkpoints.SaveState(ctx, cur, turn); cerr != nil {
				return o.roundFailure(ctx, original, cur.CurrentTurn, cerr)
			}
			ckTurn = turn
			o.collector.ObserveCheckpoint()
		}
	}

	result := "complete"
	if stalled {
		result = "stalled"
	}
	o.collector.ObserveRound(result, time.Since(started))
	if o.bus != nil {
		o.bus.Publish(&RoundCompleteEvent{
			SessionID:      cur.SessionID,
			NewLogLines:    newLines,
			Stalled:        stalled,
			CheckpointTurn: ckTurn,
			At:             time.Now(),
		})
	}
	o.logger.Info("round finished",
		zap.String("session_id", cur.SessionID),
		zap.Int("new_log_lines", newLines),
		zap.Bool("stalled", stalled),
		zap.Int("checkpoint_turn", ckTurn),
	)

	return &RoundResult{
		State:          cur,
		NewLogLines:    newLines,
		Stalled:        stalled,
		CheckpointTurn: ckTurn,
	}, nil
}

// SubmitHumanAction queues a human action on a clone of the state.
// The next RunRound consumes it at the human node.
func (o *Orchestrator) SubmitHumanAction(s *types.GameState, action string) *types.GameState {
	next := s.Clone()
	next.PendingHumanAction = action
	return next
}

func (o *Orchestrator) publishTurn(s *types.GameState, agent string) {
	o.collector.ObserveTurn(agent)
	if o.bus == nil {
		return
	}
	o.bus.Publish(&TurnUpdateEvent{
		SessionID:  s.SessionID,
		TurnNumber: len(s.GroundTruthLog),
		Agent:      agent,
		At:         time.Now(),
	})
}

func (o *Orchestrator) wireCompressionEvents(sessionID string) {
	o.ctxMgr.SetCompressionHook(func(agentID string, tier int) {
		o.collector.ObserveCompression(strconv.Itoa(tier))
		if o.bus != nil {
			o.bus.Publish(&CompressionEvent{
				SessionID: sessionID,
				Agent:     agentID,
				Tier:      tier,
				At:        time.Now(),
			})
		}
	})
}

// roundFailure builds the structured round error and hands back the
// pristine input state.
func (o *Orchestrator) roundFailure(ctx context.Context, original *types.GameState, agent string, cause error) (*RoundResult, error) {
	last := -1
	if o.checkpoints != nil {
		last = o.checkpoints.LastGoodTurn(ctx, original)
	}

	code := types.GetErrorCode(cause)
	if code == "" {
		code = types.ErrInternalError
	}
	gameErr := types.NewGameError(code, agent, "round failed").
		WithCause(cause).
		WithCheckpointTurn(last)

	o.logger.Error("round failed",
		zap.String("session_id", original.SessionID),
		zap.String("agent", agent),
		zap.Int("last_checkpoint_turn", last),
		zap.Error(cause),
	)
	o.collector.ObserveRound("failed", 0)
	if o.bus != nil {
		o.bus.Publish(&RoundFailedEvent{
			SessionID:          original.SessionID,
			Agent:              agent,
			Code:               string(code),
			Retryable:          gameErr.Retryable(),
			LastCheckpointTurn: last,
			At:                 time.Now(),
		})
	}

	return &RoundResult{State: original, CheckpointTurn: last}, gameErr
}
