package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/questflow/types"
)

// ====== Redis implementation ======

// RedisStore is a hot checkpoint store keyed by (session, fork, turn),
// with a sorted-set turn index per timeline. It implements the same
// Store contract as FileStore; the file store stays canonical and this
// one fronts it in deployments that want shared fast rollback.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore creates a Redis checkpoint store. A zero ttl keeps
// checkpoints until deleted.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "questflow"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(zap.String("store", "redis_checkpoint")),
	}
}

func (s *RedisStore) validate(sessionID, forkID string) error {
	if !types.ValidIdentifier(sessionID) {
		return types.NewError(types.ErrInvalidSessionID,
			fmt.Sprintf("session id %q is not alphanumeric/underscore", sessionID))
	}
	if forkID != "" && !types.ValidIdentifier(forkID) {
		return types.NewError(types.ErrInvalidForkID,
			fmt.Sprintf("fork id %q is not alphanumeric/underscore", forkID))
	}
	return nil
}

func (s *RedisStore) checkpointKey(sessionID, forkID string, turn int) string {
	return fmt.Sprintf("%s:ckpt:%s:%s:%d", s.prefix, sessionID, timelineName(forkID), turn)
}

func (s *RedisStore) indexKey(sessionID, forkID string) string {
	return fmt.Sprintf("%s:turns:%s:%s", s.prefix, sessionID, timelineName(forkID))
}

func timelineName(forkID string) string {
	if forkID == "" {
		return "main"
	}
	return forkID
}

// Save stores the checkpoint and records its turn in the index.
func (s *RedisStore) Save(ctx context.Context, ck *Checkpoint) error {
	if err := s.validate(ck.SessionID, ck.ForkID); err != nil {
		return err
	}
	if ck.TurnNumber < 0 {
		return types.NewError(types.ErrInvalidTurn,
			fmt.Sprintf("turn number %d is negative", ck.TurnNumber))
	}
	if ck.SavedAt.IsZero() {
		ck.SavedAt = time.Now().UTC()
	}

	data, err := json.Marshal(ck)
	if err != nil {
		return types.NewError(types.ErrCheckpointWrite, "failed to marshal checkpoint").WithCause(err)
	}

	key := s.checkpointKey(ck.SessionID, ck.ForkID, ck.TurnNumber)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return types.NewError(types.ErrCheckpointWrite,
			fmt.Sprintf("failed to write checkpoint turn %d", ck.TurnNumber)).WithCause(err)
	}

	idx := s.indexKey(ck.SessionID, ck.ForkID)
	member := strconv.Itoa(ck.TurnNumber)
	if err := s.client.ZAdd(ctx, idx, redis.Z{Score: float64(ck.TurnNumber), Member: member}).Err(); err != nil {
		return types.NewError(types.ErrCheckpointWrite, "failed to index checkpoint").WithCause(err)
	}

	s.logger.Debug("checkpoint saved to redis",
		zap.String("session_id", ck.SessionID),
		zap.String("fork_id", ck.ForkID),
		zap.Int("turn", ck.TurnNumber),
	)
	return nil
}

// Load reads one checkpoint. Missing keys and corrupt payloads are an
// absence signal, matching the file store.
func (s *RedisStore) Load(ctx context.Context, sessionID, forkID string, turn int) (*Checkpoint, error) {
	if err := s.validate(sessionID, forkID); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.checkpointKey(sessionID, forkID, turn)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var ck Checkpoint
	if err := json.Unmarshal(data, &ck); err != nil {
		s.logger.Warn("corrupt checkpoint treated as absent",
			zap.String("session_id", sessionID), zap.Int("turn", turn), zap.Error(err))
		return nil, nil
	}
	return &ck, nil
}

// LoadLatest reads the highest-numbered checkpoint of a timeline.
func (s *RedisStore) LoadLatest(ctx context.Context, sessionID, forkID string) (*Checkpoint, error) {
	if err := s.validate(sessionID, forkID); err != nil {
		return nil, err
	}

	members, err := s.client.ZRevRange(ctx, s.indexKey(sessionID, forkID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint index: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	turn, err := strconv.Atoi(members[0])
	if err != nil {
		return nil, nil
	}
	return s.Load(ctx, sessionID, forkID, turn)
}

// ListTurns returns the indexed turn numbers, ascending.
func (s *RedisStore) ListTurns(ctx context.Context, sessionID, forkID string) ([]int, error) {
	if err := s.validate(sessionID, forkID); err != nil {
		return nil, err
	}

	members, err := s.client.ZRange(ctx, s.indexKey(sessionID, forkID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint index: %w", err)
	}
	turns := make([]int, 0, len(members))
	for _, m := range members {
		if t, err := strconv.Atoi(m); err == nil {
			turns = append(turns, t)
		}
	}
	return turns, nil
}

// DeleteAfter removes every checkpoint strictly after turn.
func (s *RedisStore) DeleteAfter(ctx context.Context, sessionID, forkID string, turn int) error {
	turns, err := s.ListTurns(ctx, sessionID, forkID)
	if err != nil {
		return err
	}
	idx := s.indexKey(sessionID, forkID)
	for _, t := range turns {
		if t <= turn {
			continue
		}
		if err := s.client.Del(ctx, s.checkpointKey(sessionID, forkID, t)).Err(); err != nil {
			return fmt.Errorf("failed to delete checkpoint turn %d: %w", t, err)
		}
		if err := s.client.ZRem(ctx, idx, strconv.Itoa(t)).Err(); err != nil {
			return fmt.Errorf("failed to unindex checkpoint turn %d: %w", t, err)
		}
	}
	return nil
}

// DeleteSession removes every checkpoint and index of a session, forks
// included.
func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	if !types.ValidIdentifier(sessionID) {
		return types.NewError(types.ErrInvalidSessionID,
			fmt.Sprintf("session id %q is not alphanumeric/underscore", sessionID))
	}

	patterns := []string{
		fmt.Sprintf("%s:ckpt:%s:*", s.prefix, sessionID),
		fmt.Sprintf("%s:turns:%s:*", s.prefix, sessionID),
	}
	for _, pattern := range patterns {
		keys, err := s.client.Keys(ctx, pattern).Result()
		if err != nil {
			return fmt.Errorf("failed to scan session keys: %w", err)
		}
		if len(keys) == 0 {
			continue
		}
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete session keys: %w", err)
		}
	}
	return nil
}
