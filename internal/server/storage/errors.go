package storage

import "errors"

// Common storage errors
var (
	// ErrUserNotFound indicates that user was not found in storage
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates that user with this username already exists
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrRecordNotFound indicates that record was not found
	ErrRecordNotFound = errors.New("record not found")

	// ErrRevisionConflict indicates that a push change was based on a stale
	// server revision and must be re-based after a pull
	ErrRevisionConflict = errors.New("revision conflict")

	// ErrKeyNotFound indicates that no idempotency entry exists for the key
	ErrKeyNotFound = errors.New("idempotency key not found")

	// ErrTaskNotFound indicates that queued task was not found
	ErrTaskNotFound = errors.New("task not found")

	// ErrClaimMismatch indicates a task operation with a stale or foreign claim
	ErrClaimMismatch = errors.New("claim mismatch")
)
