package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/questflow/types"
)

const forkRegistryFile = "forks.yaml"

// ForkMetadata describes one named branch of a session.
type ForkMetadata struct {
	ID        string    `yaml:"id" json:"id"`
	Name      string    `yaml:"name" json:"name"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
	// TurnCount is the number of checkpoints the fork held at last
	// registry update; refreshed on fork writes, informational only.
	TurnCount int `yaml:"turn_count" json:"turn_count"`
	// Archived marks a prior main timeline preserved by a promote.
	Archived bool `yaml:"archived,omitempty" json:"archived,omitempty"`
}

// forkRegistry is the YAML document at forks/forks.yaml. An absent
// registry means no forks exist; sessions created before forking are
// fully compatible.
type forkRegistry struct {
	Forks []*ForkMetadata `yaml:"forks"`
}

// ForkComparison reports how two timelines of a session diverge.
type ForkComparison struct {
	SessionID string `json:"session_id"`
	// ForkA / ForkB name the compared timelines; "" is the main line.
	ForkA string `json:"fork_a"`
	ForkB string `json:"fork_b"`

	TurnsA []int `json:"turns_a"`
	TurnsB []int `json:"turns_b"`

	// DivergedAtLine is the first ground-truth-log index where the two
	// latest snapshots disagree, or -1 when one log is a prefix of the
	// other.
	DivergedAtLine int `json:"diverged_at_line"`
	CommonLogLines int `json:"common_log_lines"`
}

// ForkManager runs fork lifecycle operations against a file store. The
// registry and the fork directories live inside the session directory,
// so forks travel with the campaign files.
type ForkManager struct {
	store  *FileStore
	logger *zap.Logger
}

// NewForkManager creates a fork manager.
func NewForkManager(store *FileStore, logger *zap.Logger) *ForkManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ForkManager{
		store:  store,
		logger: logger.With(zap.String("component", "fork_manager")),
	}
}

// newForkID generates a registry-safe fork identifier.
func newForkID() string {
	return "fork_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateFork branches a session at the given turn: the source
// checkpoint is copied into a fresh fork directory and the registry
// gains an entry. fromTurn -1 branches from the latest main checkpoint.
func (m *ForkManager) CreateFork(ctx context.Context, sessionID, name string, fromTurn int) (*ForkMetadata, error) {
	var src *Checkpoint
	var err error
	if fromTurn < 0 {
		src, err = m.store.LoadLatest(ctx, sessionID, "")
	} else {
		src, err = m.store.Load(ctx, sessionID, "", fromTurn)
	}
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, types.NewError(types.ErrInvalidTurn,
			fmt.Sprintf("no main checkpoint to branch from (turn %d)", fromTurn))
	}

	meta := &ForkMetadata{
		ID:        newForkID(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		TurnCount: 1,
	}

	// The fork's first checkpoint is the branch point, re-linked so
	// subsequent saves route into the fork directory.
	branch := &Checkpoint{
		SessionID:  src.SessionID,
		ForkID:     meta.ID,
		TurnNumber: src.TurnNumber,
		SavedAt:    time.Now().UTC(),
		State:      src.State.Clone(),
	}
	branch.State.ActiveForkID = meta.ID
	if err := m.store.Save(ctx, branch); err != nil {
		return nil, err
	}

	if err := m.updateRegistry(sessionID, func(reg *forkRegistry) error {
		reg.Forks = append(reg.Forks, meta)
		return nil
	}); err != nil {
		return nil, err
	}

	m.logger.Info("fork created",
		zap.String("session_id", sessionID),
		zap.String("fork_id", meta.ID),
		zap.String("name", name),
		zap.Int("branch_turn", src.TurnNumber),
	)
	return meta, nil
}

// ListForks returns the session's fork registry. A missing registry is
// an empty list.
func (m *ForkManager) ListForks(sessionID string) ([]*ForkMetadata, error) {
	reg, err := m.loadRegistry(sessionID)
	if err != nil {
		return nil, err
	}
	return reg.Forks, nil
}

// Compare diffs the latest snapshots of two timelines of one session.
func (m *ForkManager) Compare(ctx context.Context, sessionID, forkA, forkB string) (*ForkComparison, error) {
	turnsA, err := m.store.ListTurns(ctx, sessionID, forkA)
	if err != nil {
		return nil, err
	}
	turnsB, err := m.store.ListTurns(ctx, sessionID, forkB)
	if err != nil {
		return nil, err
	}

	cmp := &ForkComparison{
		SessionID:      sessionID,
		ForkA:          forkA,
		ForkB:          forkB,
		TurnsA:         turnsA,
		TurnsB:         turnsB,
		DivergedAtLine: -1,
	}

	ckA, err := m.store.LoadLatest(ctx, sessionID, forkA)
	if err != nil {
		return nil, err
	}
	ckB, err := m.store.LoadLatest(ctx, sessionID, forkB)
	if err != nil {
		return nil, err
	}
	if ckA == nil || ckB == nil {
		return cmp, nil
	}

	logA := ckA.State.GroundTruthLog
	logB := ckB.State.GroundTruthLog
	shorter := len(logA)
	if len(logB) < shorter {
		shorter = len(logB)
	}
	common := shorter
	for i := 0; i < shorter; i++ {
		if logA[i] != logB[i] {
			cmp.DivergedAtLine = i
			common = i
			break
		}
	}
	cmp.CommonLogLines = common
	return cmp, nil
}

// Promote makes a fork the main timeline. The prior main checkpoints
// are preserved as an archival fork, never destroyed.
func (m *ForkManager) Promote(ctx context.Context, sessionID, forkID string) (*ForkMetadata, error) {
	meta, err := m.findFork(sessionID, forkID)
	if err != nil {
		return nil, err
	}

	sessionDir, err := m.store.SessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	forkDir, err := m.store.timelineDir(sessionID, forkID)
	if err != nil {
		return nil, err
	}

	archive := &ForkMetadata{
		ID:        newForkID(),
		Name:      "main before promoting " + meta.Name,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		Archived:  true,
	}
	archiveDir := filepath.Join(sessionDir, "forks", archive.ID)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive fork: %w", err)
	}

	// Move main's turn files aside, then the fork's into their place.
	mainTurns, err := m.store.ListTurns(ctx, sessionID, "")
	if err != nil {
		return nil, err
	}
	for _, t := range mainTurns {
		name := turnFileName(t)
		if err := os.Rename(filepath.Join(sessionDir, name), filepath.Join(archiveDir, name)); err != nil {
			return nil, fmt.Errorf("failed to archive main turn %d: %w", t, err)
		}
	}
	archive.TurnCount = len(mainTurns)

	forkTurns, err := m.store.ListTurns(ctx, sessionID, forkID)
	if err != nil {
		return nil, err
	}
	for _, t := range forkTurns {
		name := turnFileName(t)
		if err := os.Rename(filepath.Join(forkDir, name), filepath.Join(sessionDir, name)); err != nil {
			return nil, fmt.Errorf("failed to promote fork turn %d: %w", t, err)
		}
	}
	if err := os.RemoveAll(forkDir); err != nil {
		return nil, fmt.Errorf("failed to remove promoted fork directory: %w", err)
	}

	// Promoted checkpoints belong to the main line now; clear the fork
	// linkage inside each snapshot.
	for _, t := range forkTurns {
		ck, err := m.store.Load(ctx, sessionID, "", t)
		if err != nil || ck == nil {
			continue
		}
		ck.ForkID = ""
		if ck.State != nil {
			ck.State.ActiveForkID = ""
		}
		if err := m.store.Save(ctx, ck); err != nil {
			return nil, err
		}
	}

	if err := m.updateRegistry(sessionID, func(reg *forkRegistry) error {
		kept := reg.Forks[:0]
		for _, f := range reg.Forks {
			if f.ID != forkID {
				kept = append(kept, f)
			}
		}
		reg.Forks = append(kept, archive)
		return nil
	}); err != nil {
		return nil, err
	}

	m.logger.Info("fork promoted to main",
		zap.String("session_id", sessionID),
		zap.String("fork_id", forkID),
		zap.String("archive_fork_id", archive.ID),
	)
	return archive, nil
}

// DeleteFork removes a fork's checkpoints and registry entry.
func (m *ForkManager) DeleteFork(ctx context.Context, sessionID, forkID string) error {
	if _, err := m.findFork(sessionID, forkID); err != nil {
		return err
	}
	dir, err := m.store.timelineDir(sessionID, forkID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove fork directory: %w", err)
	}
	return m.updateRegistry(sessionID, func(reg *forkRegistry) error {
		kept := reg.Forks[:0]
		for _, f := range reg.Forks {
			if f.ID != forkID {
				kept = append(kept, f)
			}
		}
		reg.Forks = kept
		return nil
	})
}

// TouchFork refreshes a fork's registry entry after new checkpoints.
func (m *ForkManager) TouchFork(ctx context.Context, sessionID, forkID string) error {
	turns, err := m.store.ListTurns(ctx, sessionID, forkID)
	if err != nil {
		return err
	}
	return m.updateRegistry(sessionID, func(reg *forkRegistry) error {
		for _, f := range reg.Forks {
			if f.ID == forkID {
				f.UpdatedAt = time.Now().UTC()
				f.TurnCount = len(turns)
				return nil
			}
		}
		return types.NewError(types.ErrForkNotFound, fmt.Sprintf("fork %q is not registered", forkID))
	})
}

func (m *ForkManager) findFork(sessionID, forkID string) (*ForkMetadata, error) {
	reg, err := m.loadRegistry(sessionID)
	if err != nil {
		return nil, err
	}
	for _, f := range reg.Forks {
		if f.ID == forkID {
			return f, nil
		}
	}
	return nil, types.NewError(types.ErrForkNotFound, fmt.Sprintf("fork %q is not registered", forkID))
}

func (m *ForkManager) registryPath(sessionID string) (string, error) {
	dir, err := m.store.SessionDir(sessionID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "forks", forkRegistryFile), nil
}

func (m *ForkManager) loadRegistry(sessionID string) (*forkRegistry, error) {
	path, err := m.registryPath(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &forkRegistry{}, nil
		}
		return nil, fmt.Errorf("failed to read fork registry: %w", err)
	}
	var reg forkRegistry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse fork registry: %w", err)
	}
	return &reg, nil
}

func (m *ForkManager) updateRegistry(sessionID string, mutate func(*forkRegistry) error) error {
	reg, err := m.loadRegistry(sessionID)
	if err != nil {
		return err
	}
	if err := mutate(reg); err != nil {
		return err
	}
	data, err := yaml.Marshal(reg)
	if err != nil {
		return fmt.Errorf("failed to marshal fork registry: %w", err)
	}
	path, err := m.registryPath(sessionID)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write fork registry: %w", err)
	}
	return nil
}
