package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/questflow/types"
)

// SessionStatus is a point-in-time view of one running or finished
// session.
type SessionStatus struct {
	SessionID string
	Running   bool
	Reason    StopReason
	Err       error
	LogLines  int
}

// session is one managed campaign loop.
type session struct {
	id        string
	autopilot *Autopilot

	mu     sync.Mutex
	state  *types.GameState
	reason StopReason
	err    error
	done   bool
}

// SessionManager runs multiple sessions concurrently, one autopilot
// goroutine each. Within a session rounds stay strictly sequential;
// only sessions run in parallel.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*session
	group    *errgroup.Group
	ctx      context.Context
	logger   *zap.Logger
}

// NewSessionManager creates a session manager bound to ctx; cancelling
// it stops every session at its next round boundary.
func NewSessionManager(ctx context.Context, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	g, gctx := errgroup.WithContext(ctx)
	return &SessionManager{
		sessions: make(map[string]*session),
		group:    g,
		ctx:      gctx,
		logger:   logger.With(zap.String("component", "session_manager")),
	}
}

// Start launches a session's autopilot. The session ID must be unique
// among managed sessions.
func (m *SessionManager) Start(state *types.GameState, ap *Autopilot) error {
	if err := state.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.sessions[state.SessionID]; exists {
		m.mu.Unlock()
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("session %q is already managed", state.SessionID))
	}
	s := &session{id: state.SessionID, autopilot: ap, state: state}
	m.sessions[state.SessionID] = s
	m.mu.Unlock()

	m.logger.Info("session started", zap.String("session_id", s.id))
	m.group.Go(func() error {
		final, reason, err := ap.Run(m.ctx, state)

		s.mu.Lock()
		s.state = final
		s.reason = reason
		s.err = err
		s.done = true
		s.mu.Unlock()

		m.logger.Info("session finished",
			zap.String("session_id", s.id),
			zap.String("reason", string(reason)),
			zap.Error(err))
		// A failed session never takes the others down.
		return nil
	})
	return nil
}

// Resume relaunches a session stalled at the human node, feeding it the
// controlled character's action. A fresh autopilot is required; the old
// one's stop channel may already be closed.
func (m *SessionManager) Resume(sessionID, action string, ap *Autopilot) error {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("session %q is not managed", sessionID))
	}

	s.mu.Lock()
	if !s.done || s.reason != StopStall {
		s.mu.Unlock()
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("session %q is not awaiting human input", sessionID))
	}
	state := s.state.Clone()
	state.PendingHumanAction = action
	s.autopilot = ap
	s.state = state
	s.reason = ""
	s.err = nil
	s.done = false
	s.mu.Unlock()

	m.logger.Info("session resumed",
		zap.String("session_id", sessionID))
	m.group.Go(func() error {
		final, reason, err := ap.Run(m.ctx, state)

		s.mu.Lock()
		s.state = final
		s.reason = reason
		s.err = err
		s.done = true
		s.mu.Unlock()

		m.logger.Info("session finished",
			zap.String("session_id", sessionID),
			zap.String("reason", string(reason)),
			zap.Error(err))
		return nil
	})
	return nil
}

// Stop requests one session to stop at its next round boundary.
func (m *SessionManager) Stop(sessionID string) error {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("session %q is not managed", sessionID))
	}
	s.autopilot.Stop()
	return nil
}

// StopAll requests every session to stop.
func (m *SessionManager) StopAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		s.autopilot.Stop()
	}
}

// Wait blocks until every started session has finished.
func (m *SessionManager) Wait() error {
	return m.group.Wait()
}

// Status reports one session's current view.
func (m *SessionManager) Status(sessionID string) (SessionStatus, bool) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return SessionStatus{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStatus{
		SessionID: s.id,
		Running:   !s.done,
		Reason:    s.reason,
		Err:       s.err,
		LogLines:  len(s.state.GroundTruthLog),
	}, true
}

// State returns a session's latest settled state. While the autopilot
// is running this is the state it started with; call after Wait or a
// stop for the final value.
func (m *SessionManager) State(sessionID string) (*types.GameState, bool) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, true
}
