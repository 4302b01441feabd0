package zkp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"
)

// Protocol error taxonomy. Callers collapse all three rejection reasons to a
// single generic "authentication failed" before anything leaves the process;
// the distinction exists for logs, metrics and audit events only.
var (
	// ErrInvalidArgument marks malformed or out-of-range protocol input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSessionNotFound marks an unknown, expired, or already consumed
	// challenge session.
	ErrSessionNotFound = errors.New("challenge session not found")

	// ErrBindingMismatch marks a verify whose username or commitment does
	// not match what the challenge was issued against.
	ErrBindingMismatch = errors.New("challenge binding mismatch")

	// ErrProofInvalid marks a verification equation failure.
	ErrProofInvalid = errors.New("proof invalid")
)

// DefaultChallengeTTL bounds the lifetime of an issued challenge.
const DefaultChallengeTTL = 5 * time.Minute

// ChallengeRecord is the tuple persisted for each issued challenge. C is a
// pure function of (R, Y at issue time, Username); the record is never
// updated after the put.
type ChallengeRecord struct {
	Username string
	R        *big.Int
	C        *big.Int
}

// ChallengeStore is the engine-facing slice of the challenge store. The
// engine doesn't import a concrete backend; cmd/api/main constructs one
// (Redis in production, in-memory for dev) and injects it.
//
// Consume must be atomic: of two concurrent Consume calls for the same id,
// at most one may observe the record. Entries expire server-side after the
// TTL passed to Put and then behave as absent.
type ChallengeStore interface {
	Put(ctx context.Context, id string, rec ChallengeRecord, ttl time.Duration) error
	Consume(ctx context.Context, id string) (ChallengeRecord, bool, error)
}

// Dispatcher runs a CPU-heavy task on a bounded worker pool, blocking until
// the task has run. It fails fast when the pool is saturated instead of
// queueing without bound.
type Dispatcher interface {
	Do(ctx context.Context, task func()) error
}

// Challenge is the engine's answer to an issue request. The group parameters
// travel alongside it on the wire; the HTTP layer adds their hex forms.
type Challenge struct {
	ID string
	R  *big.Int
	C  *big.Int
}

// Engine orchestrates challenge issuance and proof verification. It holds no
// per-session state of its own; everything shared lives in the store, so a
// single Engine serves all requests concurrently.
type Engine struct {
	group *Group
	store ChallengeStore
	cpu   Dispatcher
	ttl   time.Duration
}

// NewEngine wires the engine to its store and CPU pool. A non-positive ttl
// falls back to DefaultChallengeTTL.
func NewEngine(group *Group, store ChallengeStore, cpu Dispatcher, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &Engine{group: group, store: store, cpu: cpu, ttl: ttl}
}

// Group exposes the engine's group parameters for response encoding.
func (e *Engine) Group() *Group { return e.group }

// TTL reports the challenge lifetime the engine persists with.
func (e *Engine) TTL() time.Duration { return e.ttl }

// IssueChallenge validates the client's commitment R, derives the binding
// challenge c = H(R, Y, username), and persists (username, R, c) under a
// fresh identifier with the configured TTL.
//
// yForUser is either the registered public key or a decoy drawn for an
// unknown username. The engine cannot tell which, and must not try: both
// paths have to stay observably identical.
func (e *Engine) IssueChallenge(ctx context.Context, username string, clientR, yForUser *big.Int) (Challenge, error) {
	if !e.group.IsValidElement(clientR) {
		return Challenge{}, fmt.Errorf("commitment R out of range: %w", ErrInvalidArgument)
	}

	id := NewChallengeID()
	c := e.group.ChallengeHash(clientR, yForUser, username)

	rec := ChallengeRecord{Username: username, R: clientR, C: c}
	if err := e.store.Put(ctx, id, rec, e.ttl); err != nil {
		return Challenge{}, fmt.Errorf("persist challenge: %w", err)
	}

	slog.Debug("[ZKP] Challenge issued",
		"challenge_id", id,
		"username", username,
		"r", HexPrefix(clientR),
		"c", HexPrefix(c))

	return Challenge{ID: id, R: clientR, C: c}, nil
}

// VerifyProof checks the Schnorr equation g^s ≡ R · Y^c (mod p) against the
// stored challenge. It returns nil on acceptance and a taxonomy error on any
// rejection.
//
// The record is consumed atomically before the equation is evaluated: every
// verify attempt retires its session whatever the outcome, so an attacker
// cannot probe proofs against one challenge, and of two concurrent attempts
// at most one observes the record; the loser reports ErrSessionNotFound
// even when its equation would have held.
//
// s may be any non-negative integer; it is reduced mod q before use. The
// caller must never log s.
func (e *Engine) VerifyProof(ctx context.Context, challengeID string, s, clientR *big.Int, username string, y *big.Int) error {
	if s == nil || s.Sign() < 0 {
		return fmt.Errorf("proof scalar must be a non-negative integer: %w", ErrInvalidArgument)
	}
	if clientR == nil {
		return fmt.Errorf("missing commitment: %w", ErrInvalidArgument)
	}
	if !e.group.IsValidElement(y) {
		// The directory handed us a key that can't have passed registration.
		return fmt.Errorf("directory returned out-of-range public key for %q", username)
	}

	rec, ok, err := e.store.Consume(ctx, challengeID)
	if err != nil {
		return fmt.Errorf("consume challenge: %w", err)
	}
	if !ok {
		return fmt.Errorf("challenge %s absent or expired: %w", challengeID, ErrSessionNotFound)
	}

	// The session is spent from here on, success or not.
	if rec.Username != username {
		return fmt.Errorf("username does not match issued challenge: %w", ErrBindingMismatch)
	}
	if rec.R.Cmp(clientR) != 0 {
		return fmt.Errorf("commitment does not match issued challenge: %w", ErrBindingMismatch)
	}

	sRed := e.group.ScalarReduce(s)

	// The two 1536-bit exponentiations dominate the request cost; both run
	// on the CPU pool, in parallel, so a verify burst cannot starve the
	// serving goroutines. The challenge used is the stored one, never
	// recomputed from the verify inputs.
	var lhs, yc *big.Int
	lhsErr := make(chan error, 1)
	go func() {
		lhsErr <- e.cpu.Do(ctx, func() { lhs = e.group.ModPow(e.group.g, sRed) })
	}()
	rhsDispatch := e.cpu.Do(ctx, func() { yc = e.group.ModPow(y, rec.C) })
	if err := <-lhsErr; err != nil {
		return fmt.Errorf("dispatch verification: %w", err)
	}
	if rhsDispatch != nil {
		return fmt.Errorf("dispatch verification: %w", rhsDispatch)
	}

	rhs := e.group.ModMul(rec.R, yc)
	if lhs.Cmp(rhs) != 0 {
		return fmt.Errorf("verification equation failed for challenge %s: %w", challengeID, ErrProofInvalid)
	}

	slog.Debug("[ZKP] Proof accepted",
		"challenge_id", challengeID,
		"username", username,
		"r", HexPrefix(rec.R),
		"c", HexPrefix(rec.C))

	return nil
}
