package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/zkauth/internal/auth"
	"github.com/ocx/zkauth/internal/challenge"
	"github.com/ocx/zkauth/internal/cpupool"
	"github.com/ocx/zkauth/internal/directory"
	"github.com/ocx/zkauth/internal/events"
	"github.com/ocx/zkauth/internal/metrics"
	"github.com/ocx/zkauth/internal/token"
	"github.com/ocx/zkauth/internal/zkp"
)

var testMetrics = sync.OnceValue(metrics.New)

type testServer struct {
	handler http.Handler
	group   *zkp.Group
	store   challenge.Store
}

// newTestServer wires the whole stack on in-memory backends, with a short
// challenge TTL so expiry is testable.
func newTestServer(t *testing.T, ttl time.Duration) *testServer {
	t.Helper()

	group := zkp.NewGroup()
	store := challenge.NewMemoryStore(ttl)
	dir := directory.NewMemoryDirectory()
	bus := events.NewBus()
	pool := cpupool.New(2, 128)
	t.Cleanup(pool.Close)

	engine := zkp.NewEngine(group, store, pool, ttl)
	issuer, err := token.NewIssuer(token.Config{Secret: "0123456789abcdef0123456789abcdef"})
	require.NoError(t, err)

	svc := auth.NewService(engine, store, dir, issuer, bus, pool, testMetrics())
	srv := NewServer(ServerOptions{
		Port:               "0",
		RegisterPerMinute:  1000,
		ChallengePerMinute: 1000,
	}, svc, NewEventStream(bus))

	return &testServer{handler: srv.Handler(), group: group, store: store}
}

func (ts *testServer) post(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.1.2.3:5555"
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "body: %s", rr.Body.String())
	return out
}

// registerUser registers username with secret x and returns Y.
func (ts *testServer) registerUser(t *testing.T, username string, x *big.Int) *big.Int {
	t.Helper()
	y := ts.group.ModPow(ts.group.G(), x)
	rr := ts.post(t, "/api/v1/auth/register", RegisterRequest{
		Username:   username,
		PublicKeyY: zkp.EncodeHex(y),
		Salt:       "ab12cd",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return y
}

// obtainChallenge runs the challenge round with R = g^r.
func (ts *testServer) obtainChallenge(t *testing.T, username string, r *big.Int) (ChallengeResponse, *big.Int) {
	t.Helper()
	bigR := ts.group.ModPow(ts.group.G(), r)
	rr := ts.post(t, "/api/v1/auth/challenge", ChallengeRequest{
		Username: username,
		ClientR:  zkp.EncodeHex(bigR),
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decodeBody[ChallengeResponse](t, rr), bigR
}

// proof computes s = (r + c·x) mod q from the wire challenge.
func (ts *testServer) proof(t *testing.T, ch ChallengeResponse, x, r *big.Int) string {
	t.Helper()
	c, err := zkp.DecodeHex(ch.C)
	require.NoError(t, err)
	s := new(big.Int).Mul(c, x)
	s.Add(s, r)
	s.Mod(s, ts.group.Q())
	return zkp.EncodeHex(s)
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestServer(t, time.Minute)

	tests := map[string]RegisterRequest{
		"short username":    {Username: "ab", PublicKeyY: "2a"},
		"long username":     {Username: strings.Repeat("a", 33), PublicKeyY: "2a"},
		"bad chars":         {Username: "al ice!", PublicKeyY: "2a"},
		"missing key":       {Username: "alice"},
		"non-hex key":       {Username: "alice", PublicKeyY: "zz"},
		"non-hex salt":      {Username: "alice", PublicKeyY: "2a", Salt: "qq"},
		"out-of-range zero": {Username: "alice", PublicKeyY: "0"},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			rr := ts.post(t, "/api/v1/auth/register", req)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			body := decodeBody[ErrorResponse](t, rr)
			assert.Equal(t, "BAD_REQUEST", body.Code)
		})
	}
}

func TestRegisterDuplicateReturns409(t *testing.T) {
	ts := newTestServer(t, time.Minute)
	ts.registerUser(t, "alice", big.NewInt(7))

	y := ts.group.ModPow(ts.group.G(), big.NewInt(9))
	rr := ts.post(t, "/api/v1/auth/register", RegisterRequest{
		Username:   "alice",
		PublicKeyY: zkp.EncodeHex(y),
	})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "CONFLICT", decodeBody[ErrorResponse](t, rr).Code)
}

func TestHappyPathAndReplay(t *testing.T) {
	// S1: register, challenge, verify, then replay the same payload.
	ts := newTestServer(t, time.Minute)
	x := big.NewInt(7)
	r := big.NewInt(11)
	ts.registerUser(t, "alice", x)

	ch, bigR := ts.obtainChallenge(t, "alice", r)
	assert.Equal(t, ts.group.PHex(), ch.P)
	assert.Equal(t, ts.group.QHex(), ch.Q)
	assert.Equal(t, "2", ch.G)

	verifyReq := VerifyRequest{
		ChallengeID: ch.ChallengeID,
		S:           ts.proof(t, ch, x, r),
		ClientR:     zkp.EncodeHex(bigR),
		Username:    "alice",
	}

	rr := ts.post(t, "/api/v1/auth/verify", verifyReq)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeBody[VerifyResponse](t, rr)
	assert.NotEmpty(t, body.Token)
	assert.Equal(t, "Bearer", body.Type)
	assert.Equal(t, "alice", body.Username)
	assert.Equal(t, int64(86400), body.ExpiresIn)

	rr = ts.post(t, "/api/v1/auth/verify", verifyReq)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "replay must fail")
	assert.Equal(t, "UNAUTHORIZED", decodeBody[ErrorResponse](t, rr).Code)
}

func TestWrongProofThenCorrect(t *testing.T) {
	// S2: a wrong s consumes the session; the correct s then finds nothing.
	ts := newTestServer(t, time.Minute)
	x := big.NewInt(7)
	r := big.NewInt(11)
	ts.registerUser(t, "alice", x)

	ch, bigR := ts.obtainChallenge(t, "alice", r)
	good := ts.proof(t, ch, x, r)

	goodInt, err := zkp.DecodeHex(good)
	require.NoError(t, err)
	bad := zkp.EncodeHex(new(big.Int).Add(goodInt, big.NewInt(1)))

	rr := ts.post(t, "/api/v1/auth/verify", VerifyRequest{
		ChallengeID: ch.ChallengeID, S: bad, ClientR: zkp.EncodeHex(bigR), Username: "alice",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ts.post(t, "/api/v1/auth/verify", VerifyRequest{
		ChallengeID: ch.ChallengeID, S: good, ClientR: zkp.EncodeHex(bigR), Username: "alice",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "session already consumed")
}

func TestTamperedCommitment(t *testing.T) {
	// S3: echoing a different R than the one hashed at issue time.
	ts := newTestServer(t, time.Minute)
	x := big.NewInt(7)
	r := big.NewInt(11)
	ts.registerUser(t, "alice", x)

	ch, bigR := ts.obtainChallenge(t, "alice", r)
	tampered := new(big.Int).Add(bigR, big.NewInt(1))

	rr := ts.post(t, "/api/v1/auth/verify", VerifyRequest{
		ChallengeID: ch.ChallengeID,
		S:           ts.proof(t, ch, x, r),
		ClientR:     zkp.EncodeHex(tampered),
		Username:    "alice",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	_, ok, err := ts.store.Get(context.Background(), ch.ChallengeID)
	require.NoError(t, err)
	assert.False(t, ok, "store entry must be removed")
}

func TestUnknownUserDecoy(t *testing.T) {
	// S4: ghost gets a well-formed challenge; any verify fails.
	ts := newTestServer(t, time.Minute)
	ts.registerUser(t, "alice", big.NewInt(7))

	ch, bigR := ts.obtainChallenge(t, "ghost", big.NewInt(11))
	assert.NotEmpty(t, ch.ChallengeID)
	assert.NotEmpty(t, ch.C)
	assert.Equal(t, ts.group.PHex(), ch.P)
	assert.Equal(t, "2", ch.G)

	rr := ts.post(t, "/api/v1/auth/verify", VerifyRequest{
		ChallengeID: ch.ChallengeID, S: "2a", ClientR: zkp.EncodeHex(bigR), Username: "ghost",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestExpiredChallenge(t *testing.T) {
	// S5, with the TTL shrunk from 300s to keep the test fast.
	ts := newTestServer(t, 30*time.Millisecond)
	x := big.NewInt(7)
	r := big.NewInt(11)
	ts.registerUser(t, "alice", x)

	ch, bigR := ts.obtainChallenge(t, "alice", r)
	good := ts.proof(t, ch, x, r)

	time.Sleep(60 * time.Millisecond)

	rr := ts.post(t, "/api/v1/auth/verify", VerifyRequest{
		ChallengeID: ch.ChallengeID, S: good, ClientR: zkp.EncodeHex(bigR), Username: "alice",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "expired session must reject even a valid proof")
}

func TestConcurrentReplayOneWinner(t *testing.T) {
	// S6: two identical verifies in parallel; exactly one 200.
	ts := newTestServer(t, time.Minute)
	x := big.NewInt(7)
	r := big.NewInt(11)
	ts.registerUser(t, "alice", x)

	ch, bigR := ts.obtainChallenge(t, "alice", r)
	req := VerifyRequest{
		ChallengeID: ch.ChallengeID,
		S:           ts.proof(t, ch, x, r),
		ClientR:     zkp.EncodeHex(bigR),
		Username:    "alice",
	}

	codes := make(chan int, 2)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < 2; i++ {
		go func() {
			start.Wait()
			codes <- ts.post(t, "/api/v1/auth/verify", req).Code
		}()
	}
	start.Done()

	got := []int{<-codes, <-codes}
	assert.ElementsMatch(t, []int{http.StatusOK, http.StatusUnauthorized}, got)
}

func TestVerifyValidation(t *testing.T) {
	ts := newTestServer(t, time.Minute)

	tests := map[string]VerifyRequest{
		"bad challenge id": {ChallengeID: "not-a-uuid", S: "2a", ClientR: "2b", Username: "alice"},
		"missing s":        {ChallengeID: zkp.NewChallengeID(), ClientR: "2b", Username: "alice"},
		"non-hex r":        {ChallengeID: zkp.NewChallengeID(), S: "2a", ClientR: "g", Username: "alice"},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			rr := ts.post(t, "/api/v1/auth/verify", req)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/verify", strings.NewReader("{"))
		rr := httptest.NewRecorder()
		ts.handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestUppercaseHexAccepted(t *testing.T) {
	ts := newTestServer(t, time.Minute)
	x := big.NewInt(7)
	r := big.NewInt(11)
	ts.registerUser(t, "alice", x)

	bigR := ts.group.ModPow(ts.group.G(), r)
	rr := ts.post(t, "/api/v1/auth/challenge", ChallengeRequest{
		Username: "alice",
		ClientR:  strings.ToUpper(zkp.EncodeHex(bigR)),
	})
	require.Equal(t, http.StatusOK, rr.Code)
	ch := decodeBody[ChallengeResponse](t, rr)

	verify := ts.post(t, "/api/v1/auth/verify", VerifyRequest{
		ChallengeID: ch.ChallengeID,
		S:           strings.ToUpper(ts.proof(t, ch, x, r)),
		ClientR:     zkp.EncodeHex(bigR),
		Username:    "alice",
	})
	assert.Equal(t, http.StatusOK, verify.Code, verify.Body.String())
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/ready", nil)
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
