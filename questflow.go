// Package questflow provides a top-level convenience entry point for
// running a campaign with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/questflow"
//
//	c, err := questflow.NewCampaign("demo", []string{"kira", "tomas"},
//		questflow.WithProvider(provider),
//		questflow.WithMaxRounds(10),
//	)
//	final, reason, err := c.Run(ctx)
//
// The facade wires the orchestrator, memory manager, and optional
// file persistence from one call. Processes that need the event bus,
// metrics, or the Redis backend should assemble the engine packages
// directly instead.
package questflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/questflow/engine"
	"github.com/BaSui01/questflow/llm"
	"github.com/BaSui01/questflow/llm/tokenizer"
	"github.com/BaSui01/questflow/memory"
	"github.com/BaSui01/questflow/persistence"
	"github.com/BaSui01/questflow/types"
)

// Campaign is a ready-to-run session: an initial state plus the
// autopilot driving it.
type Campaign struct {
	state *types.GameState
	orch  *engine.Orchestrator
	ap    *engine.Autopilot
}

type settings struct {
	provider       llm.Provider
	dmModel        string
	pcModel        string
	logger         *zap.Logger
	checkpointDir  string
	initiativeSeed int64
	game           types.GameConfig
	autopilot      engine.AutopilotConfig
}

// Option configures the campaign created by [NewCampaign].
type Option func(*settings)

// WithProvider sets the chat backend for every agent.
func WithProvider(p llm.Provider) Option {
	return func(s *settings) { s.provider = p }
}

// WithModels sets the model names for the DM and the player characters.
func WithModels(dm, pc string) Option {
	return func(s *settings) { s.dmModel, s.pcModel = dm, pc }
}

// WithLogger sets a custom zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithCheckpoints persists a checkpoint after every round under dir.
func WithCheckpoints(dir string) Option {
	return func(s *settings) { s.checkpointDir = dir }
}

// WithTokenLimit sets the per-agent memory budget.
func WithTokenLimit(n int) Option {
	return func(s *settings) { s.game.TokenLimit = n }
}

// WithCombat gates combat and its round safety valve.
func WithCombat(enabled bool, maxRounds int) Option {
	return func(s *settings) {
		s.game.CombatEnabled = enabled
		s.game.MaxCombatRounds = maxRounds
	}
}

// WithInitiativeSeed fixes the combat dice for reproducible sessions.
func WithInitiativeSeed(seed int64) Option {
	return func(s *settings) { s.initiativeSeed = seed }
}

// WithMaxRounds stops the session after n rounds. Zero runs until a
// stall or an error.
func WithMaxRounds(n int) Option {
	return func(s *settings) { s.autopilot.MaxRounds = n }
}

// NewCampaign assembles a session for the given party. At minimum a
// provider must be supplied via [WithProvider].
func NewCampaign(sessionID string, pcs []string, opts ...Option) (*Campaign, error) {
	s := settings{
		dmModel: "gpt-4o",
		pcModel: "gpt-4o-mini",
		game: types.GameConfig{
			TokenLimit:      8000,
			CombatEnabled:   true,
			MaxCombatRounds: 50,
		},
		autopilot: engine.DefaultAutopilotConfig(),
	}
	s.autopilot.MaxRounds = 0
	for _, opt := range opts {
		opt(&s)
	}
	if s.provider == nil {
		return nil, types.NewError(types.ErrMissingCredential, "a provider is required, use WithProvider")
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	state, err := types.NewGameState(sessionID, pcs, s.game)
	if err != nil {
		return nil, err
	}

	comp := memory.NewCompressor(s.provider, s.pcModel, s.logger)
	counter := tokenizer.NewCounter(s.dmModel, s.logger)
	orch := engine.NewOrchestrator(memory.NewContextManager(comp, counter, s.logger), s.logger).
		WithCombat(engine.NewCombatController(s.initiativeSeed, nil, s.logger))
	orch.RegisterHandler(engine.NewDMHandler(s.provider, s.dmModel, s.logger))
	for _, pc := range pcs {
		orch.RegisterHandler(engine.NewPCHandler(pc, s.provider, s.pcModel, s.logger))
	}
	if s.checkpointDir != "" {
		store := persistence.NewFileStore(s.checkpointDir, s.logger)
		orch.WithCheckpoints(persistence.NewManager(store, s.logger)).
			WithTranscript(persistence.NewTranscriptWriter(store, s.logger))
	}

	return &Campaign{
		state: state,
		orch:  orch,
		ap:    engine.NewAutopilot(orch, s.autopilot, s.logger),
	}, nil
}

// Run drives rounds until a stop condition and returns the final
// state with the reason the session stopped.
func (c *Campaign) Run(ctx context.Context) (*types.GameState, engine.StopReason, error) {
	return c.ap.Run(ctx, c.state)
}

// State returns the campaign's current initial state. After Run it is
// superseded by the returned final state.
func (c *Campaign) State() *types.GameState {
	return c.state
}

// Orchestrator exposes the round driver for advanced flows such as
// single-round stepping, human actions, and the combat tool surface.
func (c *Campaign) Orchestrator() *engine.Orchestrator {
	return c.orch
}
