package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// uniqueViolation is the Postgres error code raised by the username UNIQUE
// constraint.
const uniqueViolation = "23505"

// PostgresDirectory stores credentials in the user_credentials table (schema
// in scripts/schema.sql).
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory opens the database and verifies the connection with a
// ping.
func NewPostgresDirectory(dsn string) (*PostgresDirectory, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	slog.Info("Postgres connected")
	return &PostgresDirectory{db: db}, nil
}

// Close releases the connection pool.
func (d *PostgresDirectory) Close() error { return d.db.Close() }

// FindByUsername returns the record for username, or ErrNotFound.
func (d *PostgresDirectory) FindByUsername(ctx context.Context, username string) (UserRecord, error) {
	const q = `
		SELECT id, username, public_key_y, COALESCE(salt, ''), last_login_at, created_at, updated_at
		FROM user_credentials
		WHERE username = $1`

	var rec UserRecord
	var lastLogin sql.NullTime
	err := d.db.QueryRowContext(ctx, q, username).Scan(
		&rec.ID, &rec.Username, &rec.PublicKeyY, &rec.Salt,
		&lastLogin, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, ErrNotFound
	}
	if err != nil {
		return UserRecord{}, fmt.Errorf("find user %q: %w", username, err)
	}
	if lastLogin.Valid {
		rec.LastLoginAt = &lastLogin.Time
	}
	return rec, nil
}

// Create inserts a new record, mapping the UNIQUE violation to ErrDuplicate.
func (d *PostgresDirectory) Create(ctx context.Context, username, publicKeyY, salt string) (UserRecord, error) {
	const q = `
		INSERT INTO user_credentials (username, public_key_y, salt, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	rec := UserRecord{Username: username, PublicKeyY: publicKeyY, Salt: salt}
	err := d.db.QueryRowContext(ctx, q, username, publicKeyY, salt).
		Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return UserRecord{}, ErrDuplicate
		}
		return UserRecord{}, fmt.Errorf("create user %q: %w", username, err)
	}
	return rec, nil
}

// UpdateLastLogin stamps last_login_at and updated_at.
func (d *PostgresDirectory) UpdateLastLogin(ctx context.Context, username string, at time.Time) error {
	const q = `
		UPDATE user_credentials
		SET last_login_at = $2, updated_at = NOW()
		WHERE username = $1`

	if _, err := d.db.ExecContext(ctx, q, username, at); err != nil {
		return fmt.Errorf("update last login for %q: %w", username, err)
	}
	return nil
}

// Ping reports backend reachability for readiness checks.
func (d *PostgresDirectory) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

var _ Directory = (*PostgresDirectory)(nil)
