package challenge

import (
	"context"
	"fmt"
	"time"

	"github.com/ocx/zkauth/internal/zkp"
)

// RedisClient is the slice of the Redis surface the store needs. Implemented
// by infra.GoRedisAdapter; kept minimal so tests can fake it without a server.
type RedisClient interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	GetDel(ctx context.Context, key string) ([]byte, bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Ping(ctx context.Context) error
}

// RedisStore persists challenge sessions in Redis under KeyPrefix. Expiry is
// server-side (SET EX), and consumption uses GETDEL so that of two concurrent
// verifies for one id, Redis itself guarantees at most one sees the record.
type RedisStore struct {
	client RedisClient
}

// NewRedisStore wraps an already-connected client.
func NewRedisStore(client RedisClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) key(id string) string {
	return KeyPrefix + id
}

// Put persists the record with the given TTL.
func (s *RedisStore) Put(ctx context.Context, id string, rec zkp.ChallengeRecord, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(id), []byte(encodeRecord(rec)), ttl); err != nil {
		return fmt.Errorf("challenge put %s: %w", id, err)
	}
	return nil
}

// Get reads the record without consuming it.
func (s *RedisStore) Get(ctx context.Context, id string) (zkp.ChallengeRecord, bool, error) {
	val, ok, err := s.client.Get(ctx, s.key(id))
	if err != nil {
		return zkp.ChallengeRecord{}, false, fmt.Errorf("challenge get %s: %w", id, err)
	}
	if !ok {
		return zkp.ChallengeRecord{}, false, nil
	}
	rec, err := decodeRecord(string(val))
	if err != nil {
		return zkp.ChallengeRecord{}, false, fmt.Errorf("challenge get %s: %w", id, err)
	}
	return rec, true, nil
}

// Consume atomically reads and removes the record via GETDEL.
func (s *RedisStore) Consume(ctx context.Context, id string) (zkp.ChallengeRecord, bool, error) {
	val, ok, err := s.client.GetDel(ctx, s.key(id))
	if err != nil {
		return zkp.ChallengeRecord{}, false, fmt.Errorf("challenge consume %s: %w", id, err)
	}
	if !ok {
		return zkp.ChallengeRecord{}, false, nil
	}
	rec, err := decodeRecord(string(val))
	if err != nil {
		// The entry is already gone; a corrupt value cannot be retried.
		return zkp.ChallengeRecord{}, false, fmt.Errorf("challenge consume %s: %w", id, err)
	}
	return rec, true, nil
}

// Delete removes the record, reporting whether it existed (DEL count == 1).
func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(id))
	if err != nil {
		return false, fmt.Errorf("challenge delete %s: %w", id, err)
	}
	return n > 0, nil
}

// Ping reports backend reachability for readiness checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

var _ Store = (*RedisStore)(nil)
