// Package auth is the facade over the protocol engine: it owns the register,
// challenge, and verify flows, the decoy path that hides which usernames
// exist, audit event emission, and token minting.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ocx/zkauth/internal/challenge"
	"github.com/ocx/zkauth/internal/directory"
	"github.com/ocx/zkauth/internal/events"
	"github.com/ocx/zkauth/internal/metrics"
	"github.com/ocx/zkauth/internal/token"
	"github.com/ocx/zkauth/internal/zkp"
)

// Directory reads are idempotent and may retry; verifies never do.
const (
	readAttempts  = 3
	readBackoff   = 50 * time.Millisecond
	lastLoginWait = 5 * time.Second
)

// Service wires the engine to its collaborators. Stateless apart from what
// the store and directory hold; safe for concurrent use.
type Service struct {
	engine  *zkp.Engine
	store   challenge.Store
	dir     directory.Directory
	issuer  *token.Issuer
	bus     events.Emitter
	cpu     zkp.Dispatcher
	metrics *metrics.Metrics
}

// NewService constructs the facade.
func NewService(engine *zkp.Engine, store challenge.Store, dir directory.Directory, issuer *token.Issuer, bus events.Emitter, cpu zkp.Dispatcher, m *metrics.Metrics) *Service {
	return &Service{
		engine:  engine,
		store:   store,
		dir:     dir,
		issuer:  issuer,
		bus:     bus,
		cpu:     cpu,
		metrics: m,
	}
}

// Group exposes the protocol parameters for response encoding.
func (s *Service) Group() *zkp.Group { return s.engine.Group() }

// RegisterResult is the outcome of a successful registration.
type RegisterResult struct {
	UserID    int64
	Username  string
	CreatedAt time.Time
}

// Register parses and checks the public key, persists the credentials, and
// emits USER_REGISTERED. The salt is stored opaquely; the protocol never
// consumes it.
func (s *Service) Register(ctx context.Context, username, publicKeyYHex, saltHex string) (RegisterResult, error) {
	y, err := zkp.DecodeHex(publicKeyYHex)
	if err != nil {
		s.metrics.RecordRegistration("invalid")
		return RegisterResult{}, fmt.Errorf("publicKeyY: %v: %w", err, ErrInvalidArgument)
	}

	gr := s.engine.Group()
	pMinus1 := new(big.Int).Sub(gr.P(), big.NewInt(1))
	if !gr.IsValidElement(y) || y.Cmp(pMinus1) >= 0 {
		s.metrics.RecordRegistration("invalid")
		return RegisterResult{}, fmt.Errorf("publicKeyY out of range: %w", ErrInvalidArgument)
	}

	// One extra exponentiation at register time confirms Y lives in the
	// order-q subgroup; the cheap range check alone does not.
	var inSubgroup bool
	if err := s.cpu.Do(ctx, func() {
		t0 := time.Now()
		inSubgroup = gr.InSubgroup(y)
		s.metrics.ModPowDuration.Observe(time.Since(t0).Seconds())
	}); err != nil {
		s.metrics.RecordRegistration("error")
		return RegisterResult{}, fmt.Errorf("subgroup check: %v: %w", err, ErrDependencyUnavailable)
	}
	if !inSubgroup {
		s.metrics.RecordRegistration("invalid")
		return RegisterResult{}, fmt.Errorf("publicKeyY outside the prime-order subgroup: %w", ErrInvalidArgument)
	}

	rec, err := s.dir.Create(ctx, username, zkp.EncodeHex(y), saltHex)
	if errors.Is(err, directory.ErrDuplicate) {
		s.metrics.RecordRegistration("conflict")
		return RegisterResult{}, fmt.Errorf("username %q: %w", username, ErrConflict)
	}
	if err != nil {
		s.metrics.RecordRegistration("error")
		return RegisterResult{}, fmt.Errorf("persist credentials: %v: %w", err, ErrDependencyUnavailable)
	}

	s.metrics.RecordRegistration("created")
	s.bus.Emit(events.TypeUserRegistered, username, map[string]interface{}{
		"userId":    rec.ID,
		"username":  username,
		"timestamp": rec.CreatedAt.Unix(),
	})
	slog.Info("User registered", "username", username, "user_id", rec.ID, "y", zkp.HexPrefix(y))

	return RegisterResult{UserID: rec.ID, Username: username, CreatedAt: rec.CreatedAt}, nil
}

// ChallengeResult carries everything the challenge response encodes.
type ChallengeResult struct {
	ChallengeID string
	C           *big.Int
}

// Challenge validates the client's commitment and issues a one-shot challenge
// bound to (R, Y, username). An unknown username gets a fresh decoy Y drawn
// from the same distribution as real keys, so the response shape and timing
// do not reveal whether the user exists. The decoy is never persisted or
// logged; the later verify fails at the directory lookup.
func (s *Service) Challenge(ctx context.Context, username, clientRHex string) (ChallengeResult, error) {
	clientR, err := zkp.DecodeHex(clientRHex)
	if err != nil {
		return ChallengeResult{}, fmt.Errorf("clientR: %v: %w", err, ErrInvalidArgument)
	}

	var y *big.Int
	rec, err := s.lookupUser(ctx, username)
	switch {
	case err == nil:
		if y, err = zkp.DecodeHex(rec.PublicKeyY); err != nil {
			return ChallengeResult{}, fmt.Errorf("stored key for %q corrupt: %v: %w", username, err, ErrDependencyUnavailable)
		}
	case errors.Is(err, directory.ErrNotFound):
		if y, err = s.engine.Group().RandomElement(); err != nil {
			return ChallengeResult{}, fmt.Errorf("decoy synthesis: %v: %w", err, ErrDependencyUnavailable)
		}
	default:
		return ChallengeResult{}, fmt.Errorf("directory lookup: %v: %w", err, ErrDependencyUnavailable)
	}

	ch, err := s.engine.IssueChallenge(ctx, username, clientR, y)
	if err != nil {
		if errors.Is(err, ErrInvalidArgument) {
			return ChallengeResult{}, err
		}
		return ChallengeResult{}, fmt.Errorf("issue challenge: %v: %w", err, ErrDependencyUnavailable)
	}

	s.metrics.RecordChallenge()
	return ChallengeResult{ChallengeID: ch.ID, C: ch.C}, nil
}

// VerifyResult is the outcome of an accepted proof.
type VerifyResult struct {
	Token     string
	TokenType string
	Username  string
	ExpiresIn int64
}

// Verify checks the proof against the stored challenge. Whatever the outcome,
// the challenge session is consumed; LOGIN_SUCCESS or LOGIN_FAILED is emitted
// with the internal reason, and on acceptance a bearer token is minted and
// last_login_at updated best-effort.
func (s *Service) Verify(ctx context.Context, challengeID, sHex, clientRHex, username string) (VerifyResult, error) {
	started := time.Now()
	res, err := s.verify(ctx, challengeID, sHex, clientRHex, username)
	if err != nil {
		outcome := "error"
		if IsAuthFailure(err) || errors.Is(err, ErrInvalidArgument) {
			outcome = reasonLabel(err)
			s.bus.Emit(events.TypeLoginFailed, username, map[string]interface{}{
				"username":  username,
				"reason":    Reason(err),
				"timestamp": time.Now().Unix(),
			})
		}
		s.metrics.RecordVerify(outcome, time.Since(started))
		return VerifyResult{}, err
	}

	s.metrics.RecordVerify("accept", time.Since(started))
	s.bus.Emit(events.TypeLoginSuccess, username, map[string]interface{}{
		"username":  username,
		"timestamp": time.Now().Unix(),
	})
	return res, nil
}

func (s *Service) verify(ctx context.Context, challengeID, sHex, clientRHex, username string) (VerifyResult, error) {
	sVal, err := zkp.DecodeHex(sHex)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("s: %v: %w", err, ErrInvalidArgument)
	}
	clientR, err := zkp.DecodeHex(clientRHex)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("clientR: %v: %w", err, ErrInvalidArgument)
	}

	rec, err := s.lookupUser(ctx, username)
	if errors.Is(err, directory.ErrNotFound) {
		// The challenge was issued against a decoy. The session must still
		// die: leaving it would let an attacker distinguish decoy sessions
		// by probing them repeatedly.
		if _, derr := s.store.Delete(context.WithoutCancel(ctx), challengeID); derr != nil {
			slog.Warn("Failed to consume decoy challenge", "challenge_id", challengeID, "error", derr)
		}
		return VerifyResult{}, fmt.Errorf("no credentials for %q: %w", username, ErrSessionNotFound)
	}
	if err != nil {
		return VerifyResult{}, fmt.Errorf("directory lookup: %v: %w", err, ErrDependencyUnavailable)
	}

	y, err := zkp.DecodeHex(rec.PublicKeyY)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("stored key for %q corrupt: %v: %w", username, err, ErrDependencyUnavailable)
	}

	if err := s.engine.VerifyProof(ctx, challengeID, sVal, clientR, username, y); err != nil {
		if IsAuthFailure(err) || errors.Is(err, ErrInvalidArgument) {
			return VerifyResult{}, err
		}
		return VerifyResult{}, fmt.Errorf("verify proof: %v: %w", err, ErrDependencyUnavailable)
	}

	tok, err := s.issuer.Mint(username)
	if err != nil {
		// The proof was accepted and the session consumed; without a token
		// the client must start over with a fresh challenge.
		return VerifyResult{}, fmt.Errorf("mint token: %v: %w", err, ErrDependencyUnavailable)
	}

	s.touchLastLogin(username)

	slog.Info("Login accepted", "username", username)
	return VerifyResult{
		Token:     tok.Value,
		TokenType: tok.Type,
		Username:  username,
		ExpiresIn: tok.ExpiresIn,
	}, nil
}

// touchLastLogin stamps last_login_at asynchronously. Failure is logged and
// swallowed; the login outcome is already decided.
func (s *Service) touchLastLogin(username string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), lastLoginWait)
		defer cancel()
		if err := s.dir.UpdateLastLogin(ctx, username, time.Now().UTC()); err != nil {
			slog.Warn("Failed to update last login", "username", username, "error", err)
		}
	}()
}

// lookupUser reads the directory with bounded backoff. Reads are idempotent;
// nothing downstream has happened yet when they run.
func (s *Service) lookupUser(ctx context.Context, username string) (directory.UserRecord, error) {
	var rec directory.UserRecord
	var err error
	backoff := readBackoff
	for attempt := 0; attempt < readAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return directory.UserRecord{}, ctx.Err()
			}
		}
		rec, err = s.dir.FindByUsername(ctx, username)
		if err == nil || errors.Is(err, directory.ErrNotFound) {
			return rec, err
		}
		slog.Warn("Directory read failed", "username", username, "attempt", attempt+1, "error", err)
	}
	return directory.UserRecord{}, err
}

// Ping reports whether the store and directory are reachable.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("challenge store: %w", err)
	}
	if err := s.dir.Ping(ctx); err != nil {
		return fmt.Errorf("user directory: %w", err)
	}
	return nil
}

// reasonLabel maps an error to the metrics outcome label.
func reasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrBindingMismatch):
		return "binding_mismatch"
	case errors.Is(err, ErrProofInvalid):
		return "proof_invalid"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid"
	default:
		return "error"
	}
}
