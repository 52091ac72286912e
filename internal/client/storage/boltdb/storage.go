package boltdb

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/iudanet/growlog/internal/models"
)

// Bucket names
var (
	bucketOutbox   = []byte("outbox")
	bucketMetadata = []byte("metadata")
	bucketAuth     = []byte("auth")
)

// recordsBucket returns the bucket name for a syncable table
func recordsBucket(table string) []byte {
	return []byte("records:" + table)
}

// Storage implements client storage interfaces using BoltDB
type Storage struct {
	db *bolt.DB
}

// New creates a new BoltDB storage instance
func New(dbPath string) (*Storage, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	storage := &Storage{db: db}

	if err := storage.initBuckets(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init buckets: %w", err)
	}

	return storage, nil
}

// initBuckets creates required buckets if they don't exist
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for table := range models.Tables {
			if _, err := tx.CreateBucketIfNotExists(recordsBucket(table)); err != nil {
				return fmt.Errorf("create bucket for table %s: %w", table, err)
			}
		}
		for _, name := range [][]byte{bucketOutbox, bucketMetadata, bucketAuth} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the database
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
