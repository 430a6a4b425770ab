package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "recall:session:"
	lockKeyPrefix    = "recall:lock:"
)

// RedisStore keeps one hash per session: field = card ID, value = JSON state.
type RedisStore struct {
	rdb *redis.Client
}

// OpenRedis connects to the server at url (redis://...).
func OpenRedis(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

// Client exposes the underlying client so a RedisLocker can share it.
func (s *RedisStore) Client() *redis.Client {
	return s.rdb
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Get retrieves every card state of a session.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	fields, err := s.rdb.HGetAll(ctx, sessionKeyPrefix+sessionID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	items := make([]domain.MemoryState, 0, len(fields))
	for cardID, raw := range fields {
		var st domain.MemoryState
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return nil, fmt.Errorf("failed to decode card %s in session %s: %w", cardID, sessionID, err)
		}
		items = append(items, st)
	}
	domain.SortStates(items)
	return &domain.Snapshot{SessionID: sessionID, Items: items}, nil
}

// UpsertCard writes a single hash field.
func (s *RedisStore) UpsertCard(ctx context.Context, sessionID string, state domain.MemoryState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode card %s: %w", state.CardID, err)
	}
	if err := s.rdb.HSet(ctx, sessionKeyPrefix+sessionID, state.CardID, raw).Err(); err != nil {
		return fmt.Errorf("failed to upsert card %s in session %s: %w", state.CardID, sessionID, err)
	}
	return nil
}

// ReplaceAll deletes and rewrites the hash in one MULTI/EXEC.
func (s *RedisStore) ReplaceAll(ctx context.Context, sessionID string, states []domain.MemoryState) error {
	values := make([]any, 0, 2*len(states))
	for _, st := range states {
		raw, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("failed to encode card %s: %w", st.CardID, err)
		}
		values = append(values, st.CardID, raw)
	}

	key := sessionKeyPrefix + sessionID
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.HSet(ctx, key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace session %s: %w", sessionID, err)
	}
	return nil
}

// unlockScript deletes the lock only if this holder still owns it.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a single-instance Redis lock (SET NX PX) shared by all
// replicas that point at the same server.
type RedisLocker struct {
	rdb   *redis.Client
	ttl   time.Duration
	retry time.Duration
	// OnLost is called when a release finds the lock already expired.
	OnLost func(key string)
}

// NewRedisLocker creates a locker whose locks expire after ttl.
func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, retry: 10 * time.Millisecond}
}

// Lock polls until the lock is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	lockKey := lockKeyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.rdb.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	return ctx, func() {
		n, err := unlockScript.Run(context.Background(), l.rdb, []string{lockKey}, token).Int()
		if (err != nil || n == 0) && l.OnLost != nil {
			l.OnLost(key)
		}
	}, nil
}
