package deposit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/cache"
)

// DefaultPendingKey is the Redis key holding every pending entry
const DefaultPendingKey = "pendingTransactions"

// ErrEntryNotFound is returned by Update when no entry exists for the hash
var ErrEntryNotFound = errors.New("pending entry not found")

// PendingStore is the durable collection of not-yet-final deposits
type PendingStore interface {
	Put(ctx context.Context, entry *entities.PendingEntry) error
	Get(ctx context.Context, hash string) (*entities.PendingEntry, error)
	List(ctx context.Context) ([]*entities.PendingEntry, error)
	Remove(ctx context.Context, hash string) (bool, error)
	Update(ctx context.Context, hash string, fn func(*entities.PendingEntry) error) error
}

// RedisPendingStore keeps all entries as one JSON map under a single key.
// Every mutation is a load-modify-store under WATCH so concurrent processes
// cannot lose each other's writes.
type RedisPendingStore struct {
	client cache.RedisClient
	key    string
	now    func() time.Time
}

// NewRedisPendingStore creates a pending store under key
func NewRedisPendingStore(client cache.RedisClient, key string) *RedisPendingStore {
	if key == "" {
		key = DefaultPendingKey
	}
	return &RedisPendingStore{client: client, key: key, now: time.Now}
}

type pendingMap map[string]*entities.PendingEntry

func decodeMap(raw []byte) (pendingMap, error) {
	m := pendingMap{}
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode pending entries: %w", err)
	}
	return m, nil
}

func (s *RedisPendingStore) mutate(ctx context.Context, fn func(pendingMap) error) error {
	return s.client.Update(ctx, s.key, func(current []byte) ([]byte, error) {
		m, err := decodeMap(current)
		if err != nil {
			return nil, err
		}
		if err := fn(m); err != nil {
			return nil, err
		}
		return json.Marshal(m)
	})
}

// Put inserts or overwrites the entry for its hash. The first-seen time of an
// existing entry is kept, and a terminal status is never downgraded.
func (s *RedisPendingStore) Put(ctx context.Context, entry *entities.PendingEntry) error {
	if entry.Key() == "" {
		return errors.New("pending entry has no transaction hash")
	}
	return s.mutate(ctx, func(m pendingMap) error {
		stored := *entry
		stored.LastUpdatedAt = s.now().UTC()
		if existing, ok := m[entry.Key()]; ok {
			stored.FirstSeenAt = existing.FirstSeenAt
			stored.Flagged = existing.Flagged
			if existing.Status != stored.Status && !existing.Status.CanTransitionTo(stored.Status) {
				stored.Status = existing.Status
			}
		}
		if stored.FirstSeenAt.IsZero() {
			stored.FirstSeenAt = stored.LastUpdatedAt
		}
		m[entry.Key()] = &stored
		return nil
	})
}

// Get returns the entry for hash, or nil
func (s *RedisPendingStore) Get(ctx context.Context, hash string) (*entities.PendingEntry, error) {
	m, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return m[hash], nil
}

// List returns every entry ordered by first-seen time
func (s *RedisPendingStore) List(ctx context.Context) ([]*entities.PendingEntry, error) {
	m, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*entities.PendingEntry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeenAt.Before(out[j].FirstSeenAt) })
	return out, nil
}

// Remove deletes the entry for hash and reports whether it existed
func (s *RedisPendingStore) Remove(ctx context.Context, hash string) (bool, error) {
	var existed bool
	err := s.mutate(ctx, func(m pendingMap) error {
		_, existed = m[hash]
		delete(m, hash)
		return nil
	})
	return existed, err
}

// Update applies fn to the stored entry for hash
func (s *RedisPendingStore) Update(ctx context.Context, hash string, fn func(*entities.PendingEntry) error) error {
	return s.mutate(ctx, func(m pendingMap) error {
		e, ok := m[hash]
		if !ok {
			return ErrEntryNotFound
		}
		if err := fn(e); err != nil {
			return err
		}
		e.LastUpdatedAt = s.now().UTC()
		return nil
	})
}

func (s *RedisPendingStore) load(ctx context.Context) (pendingMap, error) {
	raw, err := s.client.GetRaw(ctx, s.key)
	if errors.Is(err, cache.ErrKeyNotFound) {
		return pendingMap{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeMap(raw)
}
