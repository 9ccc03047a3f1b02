package sqlite

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
	var (
		u                   domain.User
		lastActive, created string
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &lastActive, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if u.LastActive, err = parseTime(lastActive); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByUsername retrieves a user by username.
func (d *DB) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return scanUser(d.sql.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ?", username))
}

// GetByEmail retrieves a user by email, ignoring case.
func (d *DB) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(d.sql.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE lower(email) = lower(?)", email))
}

// GetByID retrieves a user by ID.
func (d *DB) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return scanUser(d.sql.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// Create creates a new user.
func (d *DB) Create(ctx context.Context, username, email, passwordHash string) (*domain.User, error) {
	now := formatTime(d.now())
	res, err := d.sql.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash, last_active, created_at) VALUES (?, ?, ?, ?, ?)",
		username, email, passwordHash, now, now,
	)
	if err != nil {
		return nil, mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return d.GetByID(ctx, id)
}

// TouchLastActive records activity for a user.
func (d *DB) TouchLastActive(ctx context.Context, id int64, at time.Time) error {
	_, err := d.sql.ExecContext(ctx, "UPDATE users SET last_active = ? WHERE id = ?", formatTime(at), id)
	return err
}
