package zkp

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// RandomScalar returns a uniformly random scalar in [1, q-1], suitable for
// private keys and nonces. The caller must never log the result.
func (gr *Group) RandomScalar() (*big.Int, error) {
	// rand.Int draws uniformly from [0, q-1); shifting by one gives [1, q-1].
	n, err := rand.Int(rand.Reader, new(big.Int).Sub(gr.q, big.NewInt(1)))
	if err != nil {
		return nil, fmt.Errorf("random scalar: %w", err)
	}
	return n.Add(n, big.NewInt(1)), nil
}

// RandomElement returns a uniformly random group element in (1, p-1). This
// is the decoy distribution for unknown usernames: a fresh draw per request,
// never persisted and never logged, so the challenge path for a missing user
// is indistinguishable from a real one.
func (gr *Group) RandomElement() (*big.Int, error) {
	// Uniform over [2, p-2]: draw [0, p-3) and shift by two.
	n, err := rand.Int(rand.Reader, new(big.Int).Sub(gr.p, big.NewInt(3)))
	if err != nil {
		return nil, fmt.Errorf("random element: %w", err)
	}
	return n.Add(n, big.NewInt(2)), nil
}

// NewChallengeID returns a fresh opaque session identifier with 128 bits of
// randomness. IDs are never reused; collisions are treated as impossible.
func NewChallengeID() string {
	return uuid.NewString()
}
