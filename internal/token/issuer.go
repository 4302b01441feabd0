// Package token mints the bearer credential returned after a successful
// proof. The protocol core never touches tokens; the auth facade calls in
// here once per accepted login.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrSecretTooShort rejects HMAC keys under 32 bytes at construction time.
var ErrSecretTooShort = errors.New("jwt secret must be at least 32 bytes")

// Config holds the issuer settings.
type Config struct {
	// Secret is the HS256 signing key. Must be at least 32 bytes.
	Secret string

	// Issuer is the iss claim. Default "zkauth".
	Issuer string

	// TTL is the token lifetime. Default 24h.
	TTL time.Duration
}

// Issuer mints HS256 JWTs for authenticated users.
type Issuer struct {
	cfg Config
}

// Token is a minted credential plus the metadata the verify response carries.
type Token struct {
	Value     string
	Type      string
	ExpiresIn int64
}

// NewIssuer validates the config and returns an issuer.
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) < 32 {
		return nil, ErrSecretTooShort
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "zkauth"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Issuer{cfg: cfg}, nil
}

// Mint signs a token for username with the configured issuer and TTL.
func (i *Issuer) Mint(username string) (Token, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		Issuer:    i.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.TTL)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.cfg.Secret))
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}

	return Token{
		Value:     signed,
		Type:      "Bearer",
		ExpiresIn: int64(i.cfg.TTL.Seconds()),
	}, nil
}

// Validate parses and verifies a token, returning the subject username. Used
// by the CLI and by operators inspecting minted tokens; the auth flow itself
// never validates (this service only issues).
func (i *Issuer) Validate(tokenString string) (string, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(i.cfg.Secret), nil
	}, jwt.WithIssuer(i.cfg.Issuer))
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	claims, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || !tok.Valid {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}
