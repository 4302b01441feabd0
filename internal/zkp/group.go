// Package zkp implements the Schnorr identification protocol used for
// zero-knowledge login: the fixed 1536-bit MODP group, the challenge hash
// binding (R, Y, username), and the protocol engine that issues one-shot
// challenges and verifies proofs against them.
package zkp

import (
	"fmt"
	"math/big"
)

// RFC 3526 1536-bit MODP Group. p is a safe prime (p = 2q + 1) and g = 2
// generates the subgroup of order q. The values are wire-visible (every
// challenge response returns them) and must be byte-identical across
// deployments, so they live here as a fixed constant rather than in config.
var (
	groupP = initP()
	groupQ = new(big.Int).Rsh(new(big.Int).Sub(groupP, big.NewInt(1)), 1)
	groupG = big.NewInt(2)
)

// initP initializes the 1536-bit safe prime from RFC 3526 section 2.
func initP() *big.Int {
	p := new(big.Int)
	p.SetString(
		"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74"+
			"020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F1437"+
			"4FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED"+
			"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF05"+
			"98DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB"+
			"9ED529077096966D670C354E4ABC9804F1746C08CA237327FFFFFFFFFFFFFFFF", 16)
	return p
}

// Group bundles the fixed Schnorr parameters (p, q, g) with the modular
// arithmetic and validity predicates the rest of the protocol uses.
// Immutable after construction and safe for concurrent use.
type Group struct {
	p *big.Int
	q *big.Int
	g *big.Int

	// Hex forms are precomputed because every challenge response carries them.
	pHex string
	qHex string
	gHex string
}

// NewGroup returns the process-wide RFC 3526 1536-bit group.
func NewGroup() *Group {
	return &Group{
		p:    groupP,
		q:    groupQ,
		g:    groupG,
		pHex: EncodeHex(groupP),
		qHex: EncodeHex(groupQ),
		gHex: EncodeHex(groupG),
	}
}

// P returns the group modulus. Callers must treat it as read-only.
func (gr *Group) P() *big.Int { return gr.p }

// Q returns the subgroup order (p-1)/2. Callers must treat it as read-only.
func (gr *Group) Q() *big.Int { return gr.q }

// G returns the generator. Callers must treat it as read-only.
func (gr *Group) G() *big.Int { return gr.g }

// PHex, QHex and GHex return the wire encodings of the parameters.
// g encodes as the single digit "2".
func (gr *Group) PHex() string { return gr.pHex }
func (gr *Group) QHex() string { return gr.qHex }
func (gr *Group) GHex() string { return gr.gHex }

// IsValidElement reports whether x is a usable group element for the
// protocol: strictly greater than 1 and strictly less than p. 0 and 1 are
// rejected as trivial fixed points.
func (gr *Group) IsValidElement(x *big.Int) bool {
	if x == nil || x.Sign() <= 0 {
		return false
	}
	return x.Cmp(big.NewInt(1)) > 0 && x.Cmp(gr.p) < 0
}

// IsValidScalar reports whether k is a reduced scalar: 0 <= k < q.
func (gr *Group) IsValidScalar(k *big.Int) bool {
	if k == nil || k.Sign() < 0 {
		return false
	}
	return k.Cmp(gr.q) < 0
}

// ModPow computes base^exp mod p.
func (gr *Group) ModPow(base, exp *big.Int) *big.Int {
	return new(big.Int).Exp(base, exp, gr.p)
}

// ModMul computes a*b mod p.
func (gr *Group) ModMul(a, b *big.Int) *big.Int {
	m := new(big.Int).Mul(a, b)
	return m.Mod(m, gr.p)
}

// ScalarReduce returns the non-negative residue n mod q.
func (gr *Group) ScalarReduce(n *big.Int) *big.Int {
	return new(big.Int).Mod(n, gr.q)
}

// InSubgroup reports whether y lies in the order-q subgroup (y^q ≡ 1 mod p).
// The range check in IsValidElement admits the full multiplicative group;
// this closes the small-subgroup gap at the cost of one exponentiation, so
// it runs once at registration rather than on every verify.
func (gr *Group) InSubgroup(y *big.Int) bool {
	return gr.ModPow(y, gr.q).Cmp(big.NewInt(1)) == 0
}

// EncodeHex renders n in the wire encoding: lowercase hexadecimal of the
// unsigned magnitude with no leading zeros, "0" for zero. This exact text is
// also the challenge-hash input, so its shape must never change. n must be
// non-negative; protocol values always are.
func EncodeHex(n *big.Int) string {
	return n.Text(16)
}

// DecodeHex parses a wire hex string into a big integer. Uppercase digits
// are accepted; empty strings, signs, prefixes and separators are not.
func DecodeHex(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty hex value")
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return nil, fmt.Errorf("invalid hex character %q at position %d", c, i)
		}
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("unparseable hex value")
	}
	return n, nil
}

// HexPrefix returns a short prefix of n's hex form for log lines. Group
// elements and challenges may be logged this way; proof scalars and nonces
// must not be logged at all.
func HexPrefix(n *big.Int) string {
	h := EncodeHex(n)
	if len(h) > 12 {
		return h[:12] + "…"
	}
	return h
}
