package storage

import "context"

//go:generate moq -out metadatastorage_mock.go . MetadataStorage

// MetadataStorage defines interface for storing client sync metadata
type MetadataStorage interface {
	// SaveLastPulledAt saves the server timestamp of the last successful pull
	SaveLastPulledAt(ctx context.Context, timestampMs int64) error

	// GetLastPulledAt retrieves the server timestamp of the last successful pull
	// Returns 0 if no pull has been performed yet
	GetLastPulledAt(ctx context.Context) (int64, error)

	// SaveCursor saves the opaque pull cursor
	SaveCursor(ctx context.Context, cursor string) error

	// GetCursor retrieves the opaque pull cursor
	// Returns empty string if no cursor has been saved yet
	GetCursor(ctx context.Context) (string, error)
}
