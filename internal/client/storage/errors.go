package storage

import "errors"

// Common client storage errors
var (
	// ErrRecordNotFound indicates that syncable record was not found
	ErrRecordNotFound = errors.New("record not found")

	// ErrEntryNotFound indicates that outbox entry was not found
	ErrEntryNotFound = errors.New("outbox entry not found")

	// ErrSessionNotFound indicates that no authentication session exists
	ErrSessionNotFound = errors.New("session not found")

	// ErrTombstoned indicates a mutation attempt on a tombstoned record
	ErrTombstoned = errors.New("record is tombstoned")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
