// Package directory is the user-credentials store: username → registered
// public key. The service reads it on every challenge and verify, writes it
// once on register, and touches last_login_at best-effort after a successful
// login. It never holds private scalars.
package directory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound marks a username with no registered credentials.
var ErrNotFound = errors.New("user not found")

// ErrDuplicate marks an attempt to register a username that already exists.
var ErrDuplicate = errors.New("username already registered")

// UserRecord mirrors one row of user_credentials. PublicKeyY and Salt carry
// the wire hex encoding; Salt is opaque metadata the protocol never consumes.
type UserRecord struct {
	ID          int64
	Username    string
	PublicKeyY  string
	Salt        string
	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Directory is the store contract. Backends: Postgres in production, the
// in-memory map for dev mode and tests.
type Directory interface {
	// FindByUsername returns the record for username, or ErrNotFound.
	FindByUsername(ctx context.Context, username string) (UserRecord, error)

	// Create inserts a new record and returns it with ID and timestamps
	// filled in. Returns ErrDuplicate when the username is taken.
	Create(ctx context.Context, username, publicKeyY, salt string) (UserRecord, error)

	// UpdateLastLogin stamps last_login_at for username. Missing users are
	// not an error; the caller treats the whole call as best-effort.
	UpdateLastLogin(ctx context.Context, username string, at time.Time) error

	// Ping verifies the backend is reachable; used by readiness checks.
	Ping(ctx context.Context) error
}
