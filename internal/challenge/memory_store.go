package challenge

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ocx/zkauth/internal/zkp"
)

// MemoryStore is the single-binary backend for dev mode and tests. Expiry is
// handled by go-cache; the mutex serialises consume/delete so that each id is
// observed by at most one caller, matching the Redis GETDEL guarantee.
type MemoryStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

// NewMemoryStore returns a store whose entries default to the given TTL and
// are purged once a minute.
func NewMemoryStore(defaultTTL time.Duration) *MemoryStore {
	return &MemoryStore{cache: gocache.New(defaultTTL, time.Minute)}
}

// Put persists the record. Values round-trip through the shared string codec
// so both backends persist byte-identical state.
func (s *MemoryStore) Put(_ context.Context, id string, rec zkp.ChallengeRecord, ttl time.Duration) error {
	s.cache.Set(KeyPrefix+id, encodeRecord(rec), ttl)
	return nil
}

// Get reads the record without consuming it.
func (s *MemoryStore) Get(_ context.Context, id string) (zkp.ChallengeRecord, bool, error) {
	val, ok := s.cache.Get(KeyPrefix + id)
	if !ok {
		return zkp.ChallengeRecord{}, false, nil
	}
	rec, err := decodeRecord(val.(string))
	if err != nil {
		return zkp.ChallengeRecord{}, false, fmt.Errorf("challenge get %s: %w", id, err)
	}
	return rec, true, nil
}

// Consume reads and removes the record under the store lock.
func (s *MemoryStore) Consume(ctx context.Context, id string) (zkp.ChallengeRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok, err := s.Get(ctx, id)
	if err != nil || !ok {
		return zkp.ChallengeRecord{}, false, err
	}
	s.cache.Delete(KeyPrefix + id)
	return rec, true, nil
}

// Delete removes the record, reporting whether it existed.
func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.cache.Get(KeyPrefix + id)
	if ok {
		s.cache.Delete(KeyPrefix + id)
	}
	return ok, nil
}

// Ping always succeeds; the backend lives in-process.
func (s *MemoryStore) Ping(context.Context) error { return nil }

var _ Store = (*MemoryStore)(nil)
