// Package infra provides the concrete Redis adapter.
//
// The adapter wraps go-redis v9 and implements challenge.RedisClient. When
// Redis is not configured the app falls back to the in-memory challenge
// store in main.go.
package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// GoRedisAdapter wraps go-redis v9 behind the minimal key-value surface the
// challenge store expects: plain SET-with-TTL, GET, atomic GETDEL, and DEL
// with a removed-key count.
type GoRedisAdapter struct {
	rdb *redis.Client
}

// NewGoRedisAdapter connects to Redis and verifies the connection with a
// ping. Returns the adapter and any connection error (caller decides whether
// to fall back to in-memory).
func NewGoRedisAdapter(addr, password string, db int) (*GoRedisAdapter, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("Redis connected", "addr", addr, "db", db)
	return &GoRedisAdapter{rdb: rdb}, nil
}

// Close shuts down the underlying redis client.
func (a *GoRedisAdapter) Close() error {
	return a.rdb.Close()
}

// Set stores value under key with the given TTL.
func (a *GoRedisAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return a.rdb.Set(ctx, key, value, ttl).Err()
}

// Get reads key. A missing key is reported via the found flag, not an error.
func (a *GoRedisAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := a.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// GetDel atomically reads and removes key. Of two concurrent calls at most
// one observes the value; the server guarantees this, no client-side locking
// involved.
func (a *GoRedisAdapter) GetDel(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := a.rdb.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Del removes the given keys and returns how many actually existed.
func (a *GoRedisAdapter) Del(ctx context.Context, keys ...string) (int64, error) {
	return a.rdb.Del(ctx, keys...).Result()
}

// Ping verifies the connection is still alive; used by readiness checks.
func (a *GoRedisAdapter) Ping(ctx context.Context) error {
	return a.rdb.Ping(ctx).Err()
}
