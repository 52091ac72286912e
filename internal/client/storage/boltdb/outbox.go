package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/iudanet/growlog/internal/client/storage"
	"github.com/iudanet/growlog/internal/models"
)

// seqKey builds a big-endian bucket key preserving enqueue order
func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// Enqueue appends a new entry and assigns its sequence number
func (s *Storage) Enqueue(ctx context.Context, entry *models.OutboxEntry) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putOutboxEntryTx(tx, entry)
	})
}

// putOutboxEntryTx appends an entry inside an open transaction.
// NextSequence даёт монотонный ключ: итерация по bucket — это FIFO.
func putOutboxEntryTx(tx *bolt.Tx, entry *models.OutboxEntry) error {
	bucket := tx.Bucket(bucketOutbox)
	if bucket == nil {
		return fmt.Errorf("outbox bucket not found")
	}

	if entry.Seq == 0 {
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		entry.Seq = seq
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox entry: %w", err)
	}

	if err := bucket.Put(seqKey(entry.Seq), data); err != nil {
		return fmt.Errorf("failed to save outbox entry: %w", err)
	}
	return nil
}

// GetEntry retrieves an entry by id
func (s *Storage) GetEntry(ctx context.Context, id string) (*models.OutboxEntry, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}
	var found *models.OutboxEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketOutbox)
		if bucket == nil {
			return storage.ErrEntryNotFound
		}

		return bucket.ForEach(func(_, v []byte) error {
			var entry models.OutboxEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("failed to unmarshal outbox entry: %w", err)
			}
			if entry.ID == id {
				found = &entry
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, storage.ErrEntryNotFound
	}

	return found, nil
}

// DueEntries returns up to limit pending entries ready at nowMs,
// oldest-created-first
func (s *Storage) DueEntries(ctx context.Context, nowMs int64, limit int) ([]*models.OutboxEntry, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}
	var entries []*models.OutboxEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketOutbox)
		if bucket == nil {
			return nil
		}

		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var entry models.OutboxEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("failed to unmarshal outbox entry: %w", err)
			}
			if entry.Status != models.OutboxStatusPending {
				continue
			}
			if entry.NextRetryAt > nowMs {
				continue
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// UpdateEntry persists status/retry changes of an entry
func (s *Storage) UpdateEntry(ctx context.Context, entry *models.OutboxEntry) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}
	if entry.Seq == 0 {
		return storage.ErrEntryNotFound
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketOutbox)
		if bucket == nil {
			return storage.ErrEntryNotFound
		}
		if bucket.Get(seqKey(entry.Seq)) == nil {
			return storage.ErrEntryNotFound
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal outbox entry: %w", err)
		}
		return bucket.Put(seqKey(entry.Seq), data)
	})
}

// RequeueProcessing returns processing entries back to pending so the next
// drain picks them up. Retries не увеличиваются: прерванная попытка могла
// вообще не дойти до сети.
func (s *Storage) RequeueProcessing(ctx context.Context, nowMs int64) (int, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}
	requeued := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketOutbox)
		if bucket == nil {
			return nil
		}

		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var entry models.OutboxEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("failed to unmarshal outbox entry: %w", err)
			}
			if entry.Status != models.OutboxStatusProcessing {
				continue
			}

			entry.Status = models.OutboxStatusPending
			entry.NextRetryAt = nowMs
			entry.LastError = "push interrupted before result was recorded"

			data, err := json.Marshal(&entry)
			if err != nil {
				return fmt.Errorf("failed to marshal outbox entry: %w", err)
			}
			if err := bucket.Put(k, data); err != nil {
				return fmt.Errorf("failed to requeue outbox entry: %w", err)
			}
			requeued++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return requeued, nil
}

// EntriesByStatus returns all entries with the given status, oldest first
func (s *Storage) EntriesByStatus(ctx context.Context, status models.OutboxStatus) ([]*models.OutboxEntry, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}
	var entries []*models.OutboxEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketOutbox)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(_, v []byte) error {
			var entry models.OutboxEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("failed to unmarshal outbox entry: %w", err)
			}
			if entry.Status == status {
				entries = append(entries, &entry)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}
