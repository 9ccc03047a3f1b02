package domain

import "errors"

var (
	// ErrStoreUnavailable wraps any communication failure with the
	// key-value store.
	ErrStoreUnavailable = errors.New("key-value store unavailable")
	// ErrUsernameTaken is returned when a username is already registered.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrEmailTaken is returned when an email is already registered.
	ErrEmailTaken = errors.New("email already exists")
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")
)
