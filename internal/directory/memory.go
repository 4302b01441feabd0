package directory

import (
	"context"
	"sync"
	"time"
)

// MemoryDirectory is the in-process backend for dev mode and tests.
type MemoryDirectory struct {
	mu     sync.RWMutex
	nextID int64
	users  map[string]UserRecord
}

// NewMemoryDirectory returns an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{nextID: 1, users: make(map[string]UserRecord)}
}

// FindByUsername returns the record for username, or ErrNotFound.
func (d *MemoryDirectory) FindByUsername(_ context.Context, username string) (UserRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.users[username]
	if !ok {
		return UserRecord{}, ErrNotFound
	}
	return rec, nil
}

// Create inserts a new record or returns ErrDuplicate.
func (d *MemoryDirectory) Create(_ context.Context, username, publicKeyY, salt string) (UserRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.users[username]; ok {
		return UserRecord{}, ErrDuplicate
	}

	now := time.Now().UTC()
	rec := UserRecord{
		ID:         d.nextID,
		Username:   username,
		PublicKeyY: publicKeyY,
		Salt:       salt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	d.nextID++
	d.users[username] = rec
	return rec, nil
}

// UpdateLastLogin stamps last_login_at; a missing user is a no-op.
func (d *MemoryDirectory) UpdateLastLogin(_ context.Context, username string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.users[username]
	if !ok {
		return nil
	}
	t := at
	rec.LastLoginAt = &t
	rec.UpdatedAt = time.Now().UTC()
	d.users[username] = rec
	return nil
}

// Ping always succeeds; the backend lives in-process.
func (d *MemoryDirectory) Ping(context.Context) error { return nil }

var _ Directory = (*MemoryDirectory)(nil)
