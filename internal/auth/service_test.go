package auth

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/zkauth/internal/challenge"
	"github.com/ocx/zkauth/internal/directory"
	"github.com/ocx/zkauth/internal/metrics"
	"github.com/ocx/zkauth/internal/token"
	"github.com/ocx/zkauth/internal/zkp"
)

// promauto registers on the process-global registry; one Metrics instance is
// shared across every test in the package.
var testMetrics = sync.OnceValue(metrics.New)

// recordingBus captures emitted audit events.
type recordingBus struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Type string
	Data map[string]interface{}
}

func (b *recordingBus) Emit(eventType, _ string, data map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{Type: eventType, Data: data})
}

func (b *recordingBus) last() (recordedEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return recordedEvent{}, false
	}
	return b.events[len(b.events)-1], true
}

type inlineDispatcher struct{}

func (inlineDispatcher) Do(_ context.Context, task func()) error {
	task()
	return nil
}

type fixture struct {
	svc   *Service
	store challenge.Store
	dir   *directory.MemoryDirectory
	bus   *recordingBus
	group *zkp.Group
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	group := zkp.NewGroup()
	store := challenge.NewMemoryStore(time.Minute)
	dir := directory.NewMemoryDirectory()
	bus := &recordingBus{}
	cpu := inlineDispatcher{}
	engine := zkp.NewEngine(group, store, cpu, time.Minute)
	issuer, err := token.NewIssuer(token.Config{Secret: "0123456789abcdef0123456789abcdef"})
	require.NoError(t, err)

	return &fixture{
		svc:   NewService(engine, store, dir, issuer, bus, cpu, testMetrics()),
		store: store,
		dir:   dir,
		bus:   bus,
		group: group,
	}
}

// registerAlice registers a user with x=7 and returns (x, Y).
func registerAlice(t *testing.T, f *fixture) (*big.Int, *big.Int) {
	t.Helper()
	x := big.NewInt(7)
	y := f.group.ModPow(f.group.G(), x)

	res, err := f.svc.Register(context.Background(), "alice", zkp.EncodeHex(y), "ab12")
	require.NoError(t, err)
	require.Equal(t, "alice", res.Username)
	return x, y
}

// login runs the client side of the protocol: challenge with R = g^r, then
// s = (r + c·x) mod q.
func login(t *testing.T, f *fixture, username string, x, r *big.Int) (VerifyResult, error) {
	t.Helper()
	gr := f.group
	bigR := gr.ModPow(gr.G(), r)

	ch, err := f.svc.Challenge(context.Background(), username, zkp.EncodeHex(bigR))
	require.NoError(t, err)

	s := new(big.Int).Mul(ch.C, x)
	s.Add(s, r)
	s.Mod(s, gr.Q())

	return f.svc.Verify(context.Background(), ch.ChallengeID, zkp.EncodeHex(s), zkp.EncodeHex(bigR), username)
}

func TestRegisterEmitsEventAndNormalizesKey(t *testing.T) {
	f := newFixture(t)
	_, y := registerAlice(t, f)

	rec, err := f.dir.FindByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, zkp.EncodeHex(y), rec.PublicKeyY)

	ev, ok := f.bus.last()
	require.True(t, ok)
	assert.Equal(t, "USER_REGISTERED", ev.Type)
	assert.Equal(t, "alice", ev.Data["username"])
}

func TestRegisterUppercaseKeyIsNormalized(t *testing.T) {
	f := newFixture(t)
	y := f.group.ModPow(f.group.G(), big.NewInt(9))
	hexUpper := []byte(zkp.EncodeHex(y))
	for i, c := range hexUpper {
		if c >= 'a' && c <= 'f' {
			hexUpper[i] = c - 32
		}
	}

	_, err := f.svc.Register(context.Background(), "carol", string(hexUpper), "")
	require.NoError(t, err)

	rec, err := f.dir.FindByUsername(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, zkp.EncodeHex(y), rec.PublicKeyY, "keys are stored in lowercase wire form")
}

func TestRegisterRejectsBadKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pMinus1 := new(big.Int).Sub(f.group.P(), big.NewInt(1))

	for name, keyHex := range map[string]string{
		"zero":           "0",
		"one":            "1",
		"p":              zkp.EncodeHex(f.group.P()),
		"p-1":            zkp.EncodeHex(pMinus1),
		"above p":        zkp.EncodeHex(new(big.Int).Add(f.group.P(), big.NewInt(7))),
		"not hex":        "xyz",
		"empty":          "",
		"outside subgrp": zkp.EncodeHex(big.NewInt(31)), // smallest non-residue mod p
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, "dave", keyHex, "")
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestRegisterDuplicateConflicts(t *testing.T) {
	f := newFixture(t)
	registerAlice(t, f)

	y := f.group.ModPow(f.group.G(), big.NewInt(13))
	_, err := f.svc.Register(context.Background(), "alice", zkp.EncodeHex(y), "")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestHappyPathLogin(t *testing.T) {
	f := newFixture(t)
	x, _ := registerAlice(t, f)

	res, err := login(t, f, "alice", x, big.NewInt(11))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "Bearer", res.TokenType)
	assert.Equal(t, "alice", res.Username)
	assert.Equal(t, int64(86400), res.ExpiresIn)

	ev, ok := f.bus.last()
	require.True(t, ok)
	assert.Equal(t, "LOGIN_SUCCESS", ev.Type)

	// last_login_at lands asynchronously.
	require.Eventually(t, func() bool {
		rec, err := f.dir.FindByUsername(context.Background(), "alice")
		return err == nil && rec.LastLoginAt != nil
	}, time.Second, 10*time.Millisecond)
}

func TestWrongProofConsumesSession(t *testing.T) {
	f := newFixture(t)
	x, _ := registerAlice(t, f)
	gr := f.group
	ctx := context.Background()

	r := big.NewInt(11)
	bigR := gr.ModPow(gr.G(), r)
	ch, err := f.svc.Challenge(ctx, "alice", zkp.EncodeHex(bigR))
	require.NoError(t, err)

	s := new(big.Int).Mul(ch.C, x)
	s.Add(s, r)
	s.Mod(s, gr.Q())
	bad := new(big.Int).Add(s, big.NewInt(1))

	_, err = f.svc.Verify(ctx, ch.ChallengeID, zkp.EncodeHex(bad), zkp.EncodeHex(bigR), "alice")
	assert.ErrorIs(t, err, ErrProofInvalid)

	ev, ok := f.bus.last()
	require.True(t, ok)
	assert.Equal(t, "LOGIN_FAILED", ev.Type)
	assert.Equal(t, "PROOF_INVALID", ev.Data["reason"])

	// The correct proof arrives too late.
	_, err = f.svc.Verify(ctx, ch.ChallengeID, zkp.EncodeHex(s), zkp.EncodeHex(bigR), "alice")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestUnknownUserGetsDecoyChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gr := f.group

	bigR := gr.ModPow(gr.G(), big.NewInt(11))
	ch, err := f.svc.Challenge(ctx, "ghost", zkp.EncodeHex(bigR))
	require.NoError(t, err, "unknown users must receive a well-formed challenge")
	assert.NotEmpty(t, ch.ChallengeID)
	assert.True(t, gr.IsValidScalar(ch.C))

	// Any verify against a decoy session fails and consumes the session.
	_, err = f.svc.Verify(ctx, ch.ChallengeID, "2a", zkp.EncodeHex(bigR), "ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, ok, err := f.store.Get(ctx, ch.ChallengeID)
	require.NoError(t, err)
	assert.False(t, ok, "decoy sessions must not survive a verify attempt")
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	f := newFixture(t)
	registerAlice(t, f)
	ctx := context.Background()

	_, err := f.svc.Verify(ctx, "some-id", "nothex!", "2a", "alice")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.svc.Verify(ctx, "some-id", "2a", "", "alice")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestVerifyUnknownChallengeID(t *testing.T) {
	f := newFixture(t)
	registerAlice(t, f)

	_, err := f.svc.Verify(context.Background(), zkp.NewChallengeID(), "2a", "2b", "alice")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConcurrentReplayExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	x, _ := registerAlice(t, f)
	gr := f.group
	ctx := context.Background()

	r := big.NewInt(11)
	bigR := gr.ModPow(gr.G(), r)
	ch, err := f.svc.Challenge(ctx, "alice", zkp.EncodeHex(bigR))
	require.NoError(t, err)

	s := new(big.Int).Mul(ch.C, x)
	s.Add(s, r)
	s.Mod(s, gr.Q())
	sHex, rHex := zkp.EncodeHex(s), zkp.EncodeHex(bigR)

	const attempts = 6
	results := make(chan error, attempts)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < attempts; i++ {
		go func() {
			start.Wait()
			_, err := f.svc.Verify(ctx, ch.ChallengeID, sHex, rHex, "alice")
			results <- err
		}()
	}
	start.Done()

	accepted := 0
	for i := 0; i < attempts; i++ {
		if err := <-results; err == nil {
			accepted++
		} else {
			assert.ErrorIs(t, err, ErrSessionNotFound)
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestChallengeTimingEnvelope(t *testing.T) {
	if testing.Short() {
		t.Skip("timing comparison")
	}
	f := newFixture(t)
	registerAlice(t, f)
	ctx := context.Background()
	bigR := f.group.ModPow(f.group.G(), big.NewInt(11))
	rHex := zkp.EncodeHex(bigR)

	timeChallenge := func(username string) time.Duration {
		start := time.Now()
		for i := 0; i < 20; i++ {
			_, err := f.svc.Challenge(ctx, username, rHex)
			require.NoError(t, err)
		}
		return time.Since(start)
	}

	registered := timeChallenge("alice")
	decoy := timeChallenge("ghost")

	// Coarse envelope: the decoy path must not be an order of magnitude
	// apart from the real one.
	ratio := float64(decoy) / float64(registered)
	assert.Greater(t, ratio, 0.1, "decoy path suspiciously fast")
	assert.Less(t, ratio, 10.0, "decoy path suspiciously slow")
}
