package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"chatservice/internal/domain"
)

var _ domain.UserRepository = (*DB)(nil)

const userColumns = "id, username, email, password_hash, last_active, created_at"

func scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.LastActive, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByUsername retrieves a user by username.
func (d *DB) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return scanUser(d.sql.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = $1", username))
}

// GetByEmail retrieves a user by email, ignoring case.
func (d *DB) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(d.sql.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE lower(email) = lower($1)", email))
}

// GetByID retrieves a user by ID.
func (d *DB) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return scanUser(d.sql.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

// Create creates a new user.
func (d *DB) Create(ctx context.Context, username, email, passwordHash string) (*domain.User, error) {
	now := time.Now().UTC()
	u, err := scanUser(d.sql.QueryRowContext(ctx,
		"INSERT INTO users (username, email, password_hash, last_active, created_at) VALUES ($1, $2, $3, $4, $4) RETURNING "+userColumns,
		username, email, passwordHash, now,
	))
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

// TouchLastActive records activity for a user.
func (d *DB) TouchLastActive(ctx context.Context, id int64, at time.Time) error {
	_, err := d.sql.ExecContext(ctx, "UPDATE users SET last_active = $1 WHERE id = $2", at.UTC(), id)
	return err
}
