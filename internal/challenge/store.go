// Package challenge persists issued challenge sessions. A session lives for
// at most the challenge TTL, is consumed at most once, and is never updated
// in place. The Redis backend serves multi-pod deployments; the in-memory
// backend serves single-binary dev mode and tests.
package challenge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ocx/zkauth/internal/zkp"
)

// KeyPrefix namespaces challenge entries in the shared keyspace.
const KeyPrefix = "zkp:challenge:"

// Store is the full challenge-session contract. Consume and Delete are the
// one-shot enforcement points: of concurrent calls for one id, at most one
// Consume observes the record and at most one Delete reports was-present.
type Store interface {
	// Put persists a record under id with the given TTL.
	Put(ctx context.Context, id string, rec zkp.ChallengeRecord, ttl time.Duration) error

	// Get reads a record without consuming it. Expired entries are absent.
	Get(ctx context.Context, id string) (zkp.ChallengeRecord, bool, error)

	// Consume atomically reads and removes a record.
	Consume(ctx context.Context, id string) (zkp.ChallengeRecord, bool, error)

	// Delete removes a record unconditionally, reporting whether it existed.
	Delete(ctx context.Context, id string) (bool, error)

	// Ping verifies the backend is reachable; used by readiness checks.
	Ping(ctx context.Context) error
}

// encodeRecord renders the persisted value: "username:R_hex:c_hex". The
// username charset excludes ':' so the separator is unambiguous. This format
// is shared state with operational tooling; change it nowhere.
func encodeRecord(rec zkp.ChallengeRecord) string {
	return rec.Username + ":" + zkp.EncodeHex(rec.R) + ":" + zkp.EncodeHex(rec.C)
}

// decodeRecord parses the persisted value back into a record.
func decodeRecord(value string) (zkp.ChallengeRecord, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return zkp.ChallengeRecord{}, fmt.Errorf("malformed challenge value: %d fields", len(parts))
	}
	r, err := zkp.DecodeHex(parts[1])
	if err != nil {
		return zkp.ChallengeRecord{}, fmt.Errorf("malformed challenge R: %w", err)
	}
	c, err := zkp.DecodeHex(parts[2])
	if err != nil {
		return zkp.ChallengeRecord{}, fmt.Errorf("malformed challenge c: %w", err)
	}
	return zkp.ChallengeRecord{Username: parts[0], R: r, C: c}, nil
}
