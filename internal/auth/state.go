package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"
)

// PendingAuth is what the consent flow remembers between issuing a consent
// URL and receiving the provider's callback.
type PendingAuth struct {
	UserID    string    `json:"user_id"`
	Verifier  string    `json:"verifier"` // PKCE verifier; NEVER log
	CreatedAt time.Time `json:"created_at"`
}

// StateStore keeps pending consent states. TakeState is single-use: it
// returns (nil, nil) for unknown, expired or already-taken states.
type StateStore interface {
	SaveState(ctx context.Context, state string, p PendingAuth, ttl time.Duration) error
	TakeState(ctx context.Context, state string) (*PendingAuth, error)
}

// MemoryStateStore is a process-local StateStore.
type MemoryStateStore struct {
	states  *xsync.MapOf[string, memoryState]
	nowFunc func() time.Time
}

type memoryState struct {
	pending PendingAuth
	expires time.Time
}

var _ StateStore = (*MemoryStateStore)(nil)

// NewMemoryStateStore returns an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		states:  xsync.NewMapOf[string, memoryState](),
		nowFunc: time.Now,
	}
}

// SaveState stores p under state and drops any expired entries.
func (s *MemoryStateStore) SaveState(_ context.Context, state string, p PendingAuth, ttl time.Duration) error {
	now := s.nowFunc()

	s.states.Range(func(k string, v memoryState) bool {
		if !v.expires.After(now) {
			s.states.Delete(k)
		}

		return true
	})

	s.states.Store(state, memoryState{pending: p, expires: now.Add(ttl)})

	return nil
}

// TakeState removes and returns the pending auth if it has not expired.
func (s *MemoryStateStore) TakeState(_ context.Context, state string) (*PendingAuth, error) {
	v, ok := s.states.LoadAndDelete(state)
	if !ok || !v.expires.After(s.nowFunc()) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	return &v.pending, nil
}

// redisStatePrefix namespaces consent states in a shared Redis.
const redisStatePrefix = "linedrive:oauth_state:"

// RedisStateStore shares pending consent states between bot replicas.
type RedisStateStore struct {
	client redis.UniversalClient
}

var _ StateStore = (*RedisStateStore)(nil)

// NewRedisStateStore constructs a Redis-backed state store.
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// SaveState stores the encoded state payload with TTL.
func (s *RedisStateStore) SaveState(ctx context.Context, state string, p PendingAuth, ttl time.Duration) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("auth: encoding state: %w", err)
	}

	if err := s.client.Set(ctx, redisStatePrefix+state, payload, ttl).Err(); err != nil {
		return fmt.Errorf("auth: persisting state: %w", err)
	}

	return nil
}

// TakeState atomically reads and deletes the state.
func (s *RedisStateStore) TakeState(ctx context.Context, state string) (*PendingAuth, error) {
	raw, err := s.client.GetDel(ctx, redisStatePrefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("auth: loading state: %w", err)
	}

	var p PendingAuth
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("auth: decoding state: %w", err)
	}

	return &p, nil
}
