package zkp

import (
	"crypto/sha256"
	"math/big"
)

// ChallengeHash derives the challenge scalar c = H(R, Y, username), reduced
// into [0, q). It binds the client's commitment, the public key fixed at
// issue time, and the claimed identity, so a proof computed for one user's
// key cannot be replayed as another's.
//
// The hash input is the wire TEXT, not raw bytes:
//
//	SHA-256( hex(R) || hex(Y) || utf8(username) )
//
// with hex the lowercase no-leading-zero encoding of EncodeHex. Client and
// server must agree on the input bytes exactly; a raw two's-complement or
// fixed-width encoding would diverge silently. The 32-byte digest is read
// as a big-endian unsigned integer and reduced mod q.
func (gr *Group) ChallengeHash(r, y *big.Int, username string) *big.Int {
	h := sha256.New()
	h.Write([]byte(EncodeHex(r)))
	h.Write([]byte(EncodeHex(y)))
	h.Write([]byte(username))

	c := new(big.Int).SetBytes(h.Sum(nil))
	return c.Mod(c, gr.q)
}
