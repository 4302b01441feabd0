package zkp

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallengeHashKnownAnswers(t *testing.T) {
	gr := NewGroup()

	// Pinned vectors: SHA-256 over the concatenated hex TEXT (not raw bytes),
	// digest read big-endian, reduced mod q. Any change here breaks every
	// deployed client.
	t.Run("small values", func(t *testing.T) {
		c := gr.ChallengeHash(big.NewInt(2), big.NewInt(3), "alice")
		assert.Equal(t,
			"57f92143ef5f0baa0e10bd67cd7736a088da21c6c84857c9bf738d94414f2213",
			EncodeHex(c))
	})

	t.Run("group powers", func(t *testing.T) {
		y := gr.ModPow(gr.G(), big.NewInt(7))   // hex "80"
		r := gr.ModPow(gr.G(), big.NewInt(11))  // hex "800"
		require.Equal(t, "80", EncodeHex(y))
		require.Equal(t, "800", EncodeHex(r))

		c := gr.ChallengeHash(r, y, "alice")
		assert.Equal(t,
			"eec384cbc3979eb11a37732a1d4becc02df827256edf8cdf0d980214b3b5b797",
			EncodeHex(c))
	})
}

func TestChallengeHashDeterministic(t *testing.T) {
	gr := NewGroup()
	r := gr.ModPow(gr.G(), big.NewInt(11))
	y := gr.ModPow(gr.G(), big.NewInt(7))

	c1 := gr.ChallengeHash(r, y, "alice")
	c2 := gr.ChallengeHash(r, y, "alice")
	assert.Zero(t, c1.Cmp(c2))
}

func TestChallengeHashBindsEveryInput(t *testing.T) {
	gr := NewGroup()
	r := gr.ModPow(gr.G(), big.NewInt(11))
	y := gr.ModPow(gr.G(), big.NewInt(7))
	base := gr.ChallengeHash(r, y, "alice")

	t.Run("commitment", func(t *testing.T) {
		r2 := new(big.Int).Add(r, big.NewInt(1))
		assert.NotZero(t, gr.ChallengeHash(r2, y, "alice").Cmp(base))
	})

	t.Run("public key", func(t *testing.T) {
		y2 := new(big.Int).Add(y, big.NewInt(1))
		assert.NotZero(t, gr.ChallengeHash(r, y2, "alice").Cmp(base))
	})

	t.Run("username", func(t *testing.T) {
		assert.NotZero(t, gr.ChallengeHash(r, y, "alicf").Cmp(base))
	})
}

func TestChallengeHashRange(t *testing.T) {
	gr := NewGroup()

	// A handful of spread-out inputs; every output must be a reduced scalar.
	for i := int64(1); i <= 50; i++ {
		r := gr.ModPow(gr.G(), big.NewInt(i*31))
		y := gr.ModPow(gr.G(), big.NewInt(i*17))
		c := gr.ChallengeHash(r, y, "user_42")
		assert.True(t, gr.IsValidScalar(c), "c must lie in [0, q)")
	}
}

func BenchmarkChallengeHash(b *testing.B) {
	gr := NewGroup()
	r, err := gr.RandomElement()
	require.NoError(b, err)
	y, err := gr.RandomElement()
	require.NoError(b, err)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		gr.ChallengeHash(r, y, "alice")
	}
}
