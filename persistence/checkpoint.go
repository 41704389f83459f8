package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/questflow/types"
)

// Checkpoint is the persisted form of a GameState: one immutable,
// self-contained JSON document per (session, fork, turn). No delta
// encoding; any single file is independently loadable.
type Checkpoint struct {
	SessionID  string           `json:"session_id"`
	ForkID     string           `json:"fork_id,omitempty"`
	TurnNumber int              `json:"turn_number"`
	SavedAt    time.Time        `json:"saved_at"`
	State      *types.GameState `json:"state"`
}

// NewCheckpoint wraps a state snapshot for persistence. Session and
// fork linkage are taken from the state itself.
func NewCheckpoint(state *types.GameState, turn int) *Checkpoint {
	return &Checkpoint{
		SessionID:  state.SessionID,
		ForkID:     state.ActiveForkID,
		TurnNumber: turn,
		SavedAt:    time.Now().UTC(),
		State:      state,
	}
}

// Store is the checkpoint storage interface. forkID "" addresses the
// main timeline.
//
// Load and LoadLatest return (nil, nil) when no readable checkpoint
// exists: a missing or corrupt checkpoint is an absence signal, never
// an error, so callers fall back to session defaults. Write failures do
// propagate since losing a checkpoint silently is unacceptable.
type Store interface {
	Save(ctx context.Context, ck *Checkpoint) error
	Load(ctx context.Context, sessionID, forkID string, turn int) (*Checkpoint, error)
	LoadLatest(ctx context.Context, sessionID, forkID string) (*Checkpoint, error)
	ListTurns(ctx context.Context, sessionID, forkID string) ([]int, error)
	DeleteAfter(ctx context.Context, sessionID, forkID string, turn int) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// SessionDirName renders the conventional identifier for the nth
// session of a campaign.
func SessionDirName(n int) string {
	return fmt.Sprintf("session_%03d", n)
}

func turnFileName(turn int) string {
	return fmt.Sprintf("turn_%03d.json", turn)
}

// ====== File implementation ======

// FileStore is the canonical checkpoint store. Layout under the root:
//
//	campaigns/<session_id>/turn_<TTT>.json
//	campaigns/<session_id>/forks/<fork_id>/turn_<TTT>.json
//	campaigns/<session_id>/forks/forks.yaml
//
// Every write goes through a temp-file-then-rename so a crash mid-write
// leaves either the old file intact or no file at all.
type FileStore struct {
	root   string
	logger *zap.Logger
}

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		root:   dir,
		logger: logger.With(zap.String("store", "file_checkpoint")),
	}
}

// SessionDir resolves a session's directory, rejecting path-traversal
// shaped identifiers before they touch the filesystem.
func (s *FileStore) SessionDir(sessionID string) (string, error) {
	if !types.ValidIdentifier(sessionID) {
		return "", types.NewError(types.ErrInvalidSessionID,
			fmt.Sprintf("session id %q is not alphanumeric/underscore", sessionID))
	}
	return filepath.Join(s.root, "campaigns", sessionID), nil
}

func (s *FileStore) timelineDir(sessionID, forkID string) (string, error) {
	dir, err := s.SessionDir(sessionID)
	if err != nil {
		return "", err
	}
	if forkID == "" {
		return dir, nil
	}
	if !types.ValidIdentifier(forkID) {
		return "", types.NewError(types.ErrInvalidForkID,
			fmt.Sprintf("fork id %q is not alphanumeric/underscore", forkID))
	}
	return filepath.Join(dir, "forks", forkID), nil
}

func (s *FileStore) turnPath(sessionID, forkID string, turn int) (string, error) {
	if turn < 0 {
		return "", types.NewError(types.ErrInvalidTurn,
			fmt.Sprintf("turn number %d is negative", turn))
	}
	dir, err := s.timelineDir(sessionID, forkID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, turnFileName(turn)), nil
}

// Save writes one checkpoint atomically.
func (s *FileStore) Save(ctx context.Context, ck *Checkpoint) error {
	path, err := s.turnPath(ck.SessionID, ck.ForkID, ck.TurnNumber)
	if err != nil {
		return err
	}
	if ck.SavedAt.IsZero() {
		ck.SavedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(ck, "", "  ")
	if err != nil {
		return types.NewError(types.ErrCheckpointWrite, "failed to marshal checkpoint").WithCause(err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return types.NewError(types.ErrCheckpointWrite,
			fmt.Sprintf("failed to write checkpoint turn %d", ck.TurnNumber)).WithCause(err)
	}

	s.logger.Debug("checkpoint saved",
		zap.String("session_id", ck.SessionID),
		zap.String("fork_id", ck.ForkID),
		zap.Int("turn", ck.TurnNumber),
	)
	return nil
}

// Load reads one checkpoint. Missing or unreadable files are an absence
// signal, not an error.
func (s *FileStore) Load(ctx context.Context, sessionID, forkID string, turn int) (*Checkpoint, error) {
	path, err := s.turnPath(sessionID, forkID, turn)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		s.logger.Warn("unreadable checkpoint treated as absent", zap.String("path", path), zap.Error(err))
		return nil, nil
	}

	var ck Checkpoint
	if err := json.Unmarshal(data, &ck); err != nil {
		s.logger.Warn("corrupt checkpoint treated as absent", zap.String("path", path), zap.Error(err))
		return nil, nil
	}
	return &ck, nil
}

// LoadLatest reads the highest-numbered checkpoint of a timeline.
func (s *FileStore) LoadLatest(ctx context.Context, sessionID, forkID string) (*Checkpoint, error) {
	turns, err := s.ListTurns(ctx, sessionID, forkID)
	if err != nil {
		return nil, err
	}
	// Walk backwards past any corrupt tail.
	for i := len(turns) - 1; i >= 0; i-- {
		ck, err := s.Load(ctx, sessionID, forkID, turns[i])
		if err != nil {
			return nil, err
		}
		if ck != nil {
			return ck, nil
		}
	}
	return nil, nil
}

// ListTurns returns the turn numbers present for a timeline, ascending.
func (s *FileStore) ListTurns(ctx context.Context, sessionID, forkID string) ([]int, error) {
	dir, err := s.timelineDir(sessionID, forkID)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	turns := make([]int, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var turn int
		if n, err := fmt.Sscanf(e.Name(), "turn_%d.json", &turn); n == 1 && err == nil {
			turns = append(turns, turn)
		}
	}
	sort.Ints(turns)
	return turns, nil
}

// DeleteAfter removes every checkpoint with a turn number strictly
// greater than turn. Used by rollback.
func (s *FileStore) DeleteAfter(ctx context.Context, sessionID, forkID string, turn int) error {
	turns, err := s.ListTurns(ctx, sessionID, forkID)
	if err != nil {
		return err
	}
	for _, t := range turns {
		if t <= turn {
			continue
		}
		path, err := s.turnPath(sessionID, forkID, t)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete checkpoint turn %d: %w", t, err)
		}
	}
	return nil
}

// DeleteSession removes a session's entire directory, forks included.
func (s *FileStore) DeleteSession(ctx context.Context, sessionID string) error {
	dir, err := s.SessionDir(sessionID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// writeFileAtomic writes data to a sibling temp file, fsyncs it, and
// renames it over the destination. A crash mid-write leaves either the
// old file intact or no file, never a truncated one.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Manager wraps a Store with the round-level persistence operations the
// orchestrator needs.
type Manager struct {
	store  Store
	logger *zap.Logger
}

// NewManager creates a checkpoint manager.
func NewManager(store Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		logger: logger.With(zap.String("component", "checkpoint_manager")),
	}
}

// Store exposes the underlying store.
func (m *Manager) Store() Store { return m.store }

// SaveState checkpoints a state snapshot at the given turn, routing to
// the fork directory when the state carries an active fork.
func (m *Manager) SaveState(ctx context.Context, state *types.GameState, turn int) error {
	ck := NewCheckpoint(state, turn)
	if err := m.store.Save(ctx, ck); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LastGoodTurn reports the highest persisted turn for the state's
// timeline, or -1 when nothing has been persisted yet. Used to build
// recovery messages after a failed round.
func (m *Manager) LastGoodTurn(ctx context.Context, state *types.GameState) int {
	turns, err := m.store.ListTurns(ctx, state.SessionID, state.ActiveForkID)
	if err != nil || len(turns) == 0 {
		return -1
	}
	return turns[len(turns)-1]
}

// Rollback discards every checkpoint after the given turn and returns
// the checkpoint now at the head of the timeline.
func (m *Manager) Rollback(ctx context.Context, sessionID, forkID string, turn int) (*Checkpoint, error) {
	if err := m.store.DeleteAfter(ctx, sessionID, forkID, turn); err != nil {
		return nil, err
	}
	ck, err := m.store.Load(ctx, sessionID, forkID, turn)
	if err != nil {
		return nil, err
	}
	if ck == nil {
		return nil, types.NewError(types.ErrInvalidTurn,
			fmt.Sprintf("no checkpoint at turn %d to roll back to", turn))
	}
	m.logger.Info("rolled back timeline",
		zap.String("session_id", sessionID),
		zap.String("fork_id", forkID),
		zap.Int("turn", turn),
	)
	return ck, nil
}
