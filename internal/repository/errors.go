package repository

import "errors"

var (
	// ErrSessionNotFound is returned when an operation names a session id
	// that has no row.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoActiveSession is returned when an event is logged without an
	// owning session id.
	ErrNoActiveSession = errors.New("no active session")

	// ErrInvalidDuration is returned when an event carries a non-positive
	// duration. Zero-length episodes are never persisted.
	ErrInvalidDuration = errors.New("event duration must be positive")

	// ErrUserExists is returned on a registration conflict.
	ErrUserExists = errors.New("user already exists")

	// ErrUserNotFound is returned when a user lookup matches no row.
	ErrUserNotFound = errors.New("user not found")
)
