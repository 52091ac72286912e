package boltdb

import (
	"context"
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/iudanet/growlog/internal/client/storage"
)

// Metadata keys
var (
	keyLastPulledAt = []byte("last_pulled_at")
	keyCursor       = []byte("cursor")
)

// SaveLastPulledAt saves the server timestamp of the last successful pull
func (s *Storage) SaveLastPulledAt(ctx context.Context, timestampMs int64) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(timestampMs))
		return bucket.Put(keyLastPulledAt, buf)
	})
}

// GetLastPulledAt retrieves the server timestamp of the last successful pull
func (s *Storage) GetLastPulledAt(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}
	var ts int64

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return nil
		}

		data := bucket.Get(keyLastPulledAt)
		if data == nil || len(data) != 8 {
			return nil
		}
		ts = int64(binary.BigEndian.Uint64(data))
		return nil
	})
	if err != nil {
		return 0, err
	}

	return ts, nil
}

// SaveCursor saves the opaque pull cursor
func (s *Storage) SaveCursor(ctx context.Context, cursor string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return fmt.Errorf("metadata bucket not found")
		}
		return bucket.Put(keyCursor, []byte(cursor))
	})
}

// GetCursor retrieves the opaque pull cursor
func (s *Storage) GetCursor(ctx context.Context) (string, error) {
	if s.db == nil {
		return "", storage.ErrStorageClosed
	}
	var cursor string

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetadata)
		if bucket == nil {
			return nil
		}
		cursor = string(bucket.Get(keyCursor))
		return nil
	})
	if err != nil {
		return "", err
	}

	return cursor, nil
}
