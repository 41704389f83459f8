package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/questflow/internal/metrics"
	"github.com/BaSui01/questflow/types"
)

// StopReason is the machine-readable code explaining why an autopilot
// run ended.
type StopReason string

const (
	// StopTurnLimit: the configured round limit was reached.
	StopTurnLimit StopReason = "turn_limit"
	// StopError: a round failed and retries were exhausted or the
	// failure was not retryable.
	StopError StopReason = "error"
	// StopStall: the round suspended at the human node awaiting input.
	StopStall StopReason = "stall"
	// StopRequested: an external Stop took effect at a round boundary.
	StopRequested StopReason = "stopped"
)

// maxRetryBackoff caps the doubling retry delay; without it a large
// MaxRetries config overflows time.Duration.
const maxRetryBackoff = time.Minute

// AutopilotConfig tunes the autonomous round driver.
type AutopilotConfig struct {
	// MaxRounds caps the run; zero or negative means unlimited.
	MaxRounds int
	// MaxRetries bounds consecutive retries of one failed round.
	MaxRetries int
	// InitialBackoff is the first retry delay; it doubles per attempt.
	InitialBackoff time.Duration
	// RoundsPerSecond throttles round starts; zero or negative means
	// no throttle.
	RoundsPerSecond float64
}

// DefaultAutopilotConfig returns the production defaults.
func DefaultAutopilotConfig() AutopilotConfig {
	return AutopilotConfig{
		MaxRounds:      0,
		MaxRetries:     3,
		InitialBackoff: 2 * time.Second,
	}
}

// Autopilot repeatedly drives rounds until a stop condition. Stop
// requests take effect at round boundaries only; an in-flight round
// finishes or fails first.
type Autopilot struct {
	orch      *Orchestrator
	cfg       AutopilotConfig
	limiter   *rate.Limiter
	bus       EventBus
	collector *metrics.Collector
	logger    *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// NewAutopilot creates an autopilot over an orchestrator.
func NewAutopilot(orch *Orchestrator, cfg AutopilotConfig, logger *zap.Logger) *Autopilot {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RoundsPerSecond > 0 {
		limit = rate.Limit(cfg.RoundsPerSecond)
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	return &Autopilot{
		orch:      orch,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, 1),
		bus:       orch.bus,
		collector: orch.collector,
		logger:    logger.With(zap.String("component", "autopilot")),
		stop:      make(chan struct{}),
	}
}

// Stop requests a stop; the current round still finishes or fails.
// Safe to call multiple times and from any goroutine.
func (a *Autopilot) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// Run drives rounds until a stop condition and returns the final state,
// the stop reason, and the terminal error for StopError. The returned
// state is always safe to persist or resume from.
func (a *Autopilot) Run(ctx context.Context, state *types.GameState) (*types.GameState, StopReason, error) {
	cur := state
	rounds := 0
	attempt := 0

	a.publishPhase(cur.SessionID, "started", "", rounds)

	for {
		select {
		case <-a.stop:
			return a.finish(cur, StopRequested, nil, rounds)
		case <-ctx.Done():
			return a.finish(cur, StopRequested, nil, rounds)
		default:
		}

		if err := a.limiter.Wait(ctx); err != nil {
			return a.finish(cur, StopRequested, nil, rounds)
		}

		res, err := a.orch.RunRound(ctx, cur)
		if err != nil {
			// res.State is the untouched prior state; retrying replays
			// the same round.
			if types.IsRetryable(err) && attempt < a.cfg.MaxRetries {
				attempt++
				a.collector.ObserveRetry()
				if !a.backoff(ctx, cur.SessionID, attempt) {
					return a.finish(cur, StopRequested, nil, rounds)
				}
				continue
			}
			return a.finish(res.State, StopError, err, rounds)
		}
		attempt = 0
		cur = res.State
		rounds++

		if res.Stalled {
			return a.finish(cur, StopStall, nil, rounds)
		}
		if a.cfg.MaxRounds > 0 && rounds >= a.cfg.MaxRounds {
			return a.finish(cur, StopTurnLimit, nil, rounds)
		}
	}
}

// retryDelay doubles the configured initial backoff per attempt,
// clamped to maxRetryBackoff. The clamp also catches shift overflow on
// high attempt counts.
func (a *Autopilot) retryDelay(attempt int) time.Duration {
	if a.cfg.InitialBackoff <= 0 {
		return 0
	}
	delay := a.cfg.InitialBackoff << (attempt - 1)
	if delay <= 0 || delay > maxRetryBackoff {
		return maxRetryBackoff
	}
	return delay
}

// backoff waits out the retry delay, emitting retry and heartbeat
// events. Returns false when interrupted by stop or context.
func (a *Autopilot) backoff(ctx context.Context, sessionID string, attempt int) bool {
	delay := a.retryDelay(attempt)
	status := fmt.Sprintf("retrying round, attempt %d of %d in %s", attempt, a.cfg.MaxRetries, delay)
	a.logger.Warn("round retry scheduled",
		zap.String("session_id", sessionID),
		zap.Int("attempt", attempt),
		zap.Duration("backoff", delay))
	if a.bus != nil {
		a.bus.Publish(&RetryEvent{
			SessionID:      sessionID,
			Attempt:        attempt,
			BackoffSeconds: delay.Seconds(),
			Status:         status,
			At:             time.Now(),
		})
	}

	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return true
		case <-heartbeat.C:
			if a.bus != nil {
				a.bus.Publish(&HeartbeatEvent{SessionID: sessionID, Status: status, At: time.Now()})
			}
		case <-a.stop:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func (a *Autopilot) finish(state *types.GameState, reason StopReason, err error, rounds int) (*types.GameState, StopReason, error) {
	a.logger.Info("autopilot stopped",
		zap.String("session_id", state.SessionID),
		zap.String("reason", string(reason)),
		zap.Int("rounds", rounds),
		zap.Error(err))
	a.publishPhase(state.SessionID, "stopped", reason, rounds)
	return state, reason, err
}

func (a *Autopilot) publishPhase(sessionID, phase string, reason StopReason, rounds int) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(&AutopilotEvent{
		SessionID: sessionID,
		Phase:     phase,
		Reason:    reason,
		Rounds:    rounds,
		At:        time.Now(),
	})
}
