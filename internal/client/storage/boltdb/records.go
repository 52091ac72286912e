package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/iudanet/growlog/internal/client/storage"
	"github.com/iudanet/growlog/internal/models"
)

// SaveRecord stores or updates a single record
func (s *Storage) SaveRecord(ctx context.Context, record *models.Record) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putRecordTx(tx, record)
	})
}

// SaveRecordWithOutbox atomically writes the record and the outbox entry
func (s *Storage) SaveRecordWithOutbox(ctx context.Context, record *models.Record, entry *models.OutboxEntry) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := putRecordTx(tx, record); err != nil {
			return err
		}
		return putOutboxEntryTx(tx, entry)
	})
}

// GetRecord retrieves a record by table and id
func (s *Storage) GetRecord(ctx context.Context, table, id string) (*models.Record, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}
	var record *models.Record

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(recordsBucket(table))
		if bucket == nil {
			return storage.ErrRecordNotFound
		}

		data := bucket.Get([]byte(id))
		if data == nil {
			return storage.ErrRecordNotFound
		}

		record = &models.Record{}
		if err := json.Unmarshal(data, record); err != nil {
			return fmt.Errorf("failed to unmarshal record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// ListRecords returns all non-tombstoned records of a table
func (s *Storage) ListRecords(ctx context.Context, table string) ([]*models.Record, error) {
	return s.scanRecords(table, func(r *models.Record) bool {
		return !r.IsTombstoned()
	})
}

// RecordsUpdatedSince returns records (including tombstones) with
// updatedAt strictly greater than sinceMs
func (s *Storage) RecordsUpdatedSince(ctx context.Context, table string, sinceMs int64) ([]*models.Record, error) {
	return s.scanRecords(table, func(r *models.Record) bool {
		return r.UpdatedAt > sinceMs
	})
}

// scanRecords iterates a table bucket and collects records matching keep,
// sorted by updatedAt ascending
func (s *Storage) scanRecords(table string, keep func(*models.Record) bool) ([]*models.Record, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}
	var records []*models.Record

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(recordsBucket(table))
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(_, v []byte) error {
			var record models.Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
			if keep(&record) {
				records = append(records, &record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt < records[j].UpdatedAt
	})

	return records, nil
}

// ApplyRemote atomically writes a batch of merged records
func (s *Storage) ApplyRemote(ctx context.Context, records []*models.Record) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, record := range records {
			if err := putRecordTx(tx, record); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClaimOwnership atomically reassigns all unowned non-tombstoned records
// to ownerID. Записи, созданные до логина, получают владельца и попадают
// в outbox для загрузки при следующем push.
func (s *Storage) ClaimOwnership(ctx context.Context, ownerID string, nowMs int64, makeEntry func(*models.Record) (*models.OutboxEntry, error)) (int, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}
	claimed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		for table := range models.Tables {
			bucket := tx.Bucket(recordsBucket(table))
			if bucket == nil {
				continue
			}

			// collect first, mutate after: нельзя писать в bucket во время ForEach
			var toClaim []*models.Record
			err := bucket.ForEach(func(_, v []byte) error {
				var record models.Record
				if err := json.Unmarshal(v, &record); err != nil {
					return fmt.Errorf("failed to unmarshal record: %w", err)
				}
				if record.OwnerID == "" && !record.IsTombstoned() {
					toClaim = append(toClaim, &record)
				}
				return nil
			})
			if err != nil {
				return err
			}

			for _, record := range toClaim {
				record.OwnerID = ownerID
				record.Touch(nowMs)
				if err := putRecordTx(tx, record); err != nil {
					return err
				}
				entry, err := makeEntry(record)
				if err != nil {
					return fmt.Errorf("failed to build outbox entry: %w", err)
				}
				if err := putOutboxEntryTx(tx, entry); err != nil {
					return err
				}
				claimed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return claimed, nil
}

// PurgeTombstones permanently deletes records tombstoned before cutoffMs
func (s *Storage) PurgeTombstones(ctx context.Context, ownerID string, cutoffMs int64) (int, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}
	purged := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		for table := range models.Tables {
			bucket := tx.Bucket(recordsBucket(table))
			if bucket == nil {
				continue
			}

			var toDelete [][]byte
			err := bucket.ForEach(func(k, v []byte) error {
				var record models.Record
				if err := json.Unmarshal(v, &record); err != nil {
					return fmt.Errorf("failed to unmarshal record: %w", err)
				}
				if record.OwnerID != "" && record.OwnerID != ownerID {
					return nil
				}
				if record.IsTombstoned() && record.DeletedAt < cutoffMs {
					key := make([]byte, len(k))
					copy(key, k)
					toDelete = append(toDelete, key)
				}
				return nil
			})
			if err != nil {
				return err
			}

			for _, key := range toDelete {
				if err := bucket.Delete(key); err != nil {
					return fmt.Errorf("failed to delete tombstone: %w", err)
				}
				purged++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return purged, nil
}

// putRecordTx writes a record inside an open transaction
func putRecordTx(tx *bolt.Tx, record *models.Record) error {
	bucket := tx.Bucket(recordsBucket(record.Table))
	if bucket == nil {
		return fmt.Errorf("unknown table %q", record.Table)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := bucket.Put([]byte(record.ID), data); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}
