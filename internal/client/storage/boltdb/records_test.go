package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/growlog/internal/client/storage"
	"github.com/iudanet/growlog/internal/models"
)

func testRecord(table, id string, updatedAt int64) *models.Record {
	return &models.Record{
		ID:        id,
		Table:     table,
		Payload:   json.RawMessage(`{"name":"Northern Lights"}`),
		UpdatedAt: updatedAt,
		CreatedAt: updatedAt,
	}
}

func TestStorage_SaveGetRecord(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.GetRecord(ctx, models.TablePlants, "missing")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)

	record := testRecord(models.TablePlants, "plant-1", 100)
	require.NoError(t, s.SaveRecord(ctx, record))

	got, err := s.GetRecord(ctx, models.TablePlants, "plant-1")
	require.NoError(t, err)
	assert.Equal(t, record, got)

	// overwrite with newer version
	record.UpdatedAt = 200
	record.Payload = json.RawMessage(`{"name":"Northern Lights","stage":"veg"}`)
	require.NoError(t, s.SaveRecord(ctx, record))

	got, err = s.GetRecord(ctx, models.TablePlants, "plant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.UpdatedAt)
}

func TestStorage_SaveRecord_UnknownTable(t *testing.T) {
	s := newTestStorage(t)

	err := s.SaveRecord(context.Background(), testRecord("no_such_table", "x", 1))
	require.Error(t, err)
}

func TestStorage_ListRecords_SkipsTombstones(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	alive := testRecord(models.TablePlants, "plant-1", 100)
	dead := testRecord(models.TablePlants, "plant-2", 150)
	dead.DeletedAt = 150

	require.NoError(t, s.SaveRecord(ctx, alive))
	require.NoError(t, s.SaveRecord(ctx, dead))

	records, err := s.ListRecords(ctx, models.TablePlants)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "plant-1", records[0].ID)
}

func TestStorage_RecordsUpdatedSince(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for i, updatedAt := range []int64{100, 200, 300} {
		record := testRecord(models.TableJournalEntries, fmt.Sprintf("entry-%d", i), updatedAt)
		require.NoError(t, s.SaveRecord(ctx, record))
	}
	// tombstone is included: удаления тоже синхронизируются
	dead := testRecord(models.TableJournalEntries, "entry-dead", 250)
	dead.DeletedAt = 250
	require.NoError(t, s.SaveRecord(ctx, dead))

	records, err := s.RecordsUpdatedSince(ctx, models.TableJournalEntries, 100)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// sorted by updatedAt ascending, boundary is strict
	assert.Equal(t, int64(200), records[0].UpdatedAt)
	assert.Equal(t, int64(250), records[1].UpdatedAt)
	assert.Equal(t, int64(300), records[2].UpdatedAt)
}

func TestStorage_ApplyRemote_Atomic(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	batch := []*models.Record{
		testRecord(models.TablePlants, "plant-1", 100),
		testRecord(models.TableHarvests, "harvest-1", 110),
	}
	require.NoError(t, s.ApplyRemote(ctx, batch))

	_, err := s.GetRecord(ctx, models.TablePlants, "plant-1")
	require.NoError(t, err)
	_, err = s.GetRecord(ctx, models.TableHarvests, "harvest-1")
	require.NoError(t, err)

	// batch with an invalid record must not apply partially
	bad := []*models.Record{
		testRecord(models.TablePlants, "plant-2", 120),
		testRecord("bogus", "x", 130),
	}
	require.Error(t, s.ApplyRemote(ctx, bad))

	_, err = s.GetRecord(ctx, models.TablePlants, "plant-2")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
}

func TestStorage_ClaimOwnership(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	unowned := testRecord(models.TablePlants, "plant-1", 100)
	owned := testRecord(models.TablePlants, "plant-2", 100)
	owned.OwnerID = "someone-else"
	dead := testRecord(models.TablePlants, "plant-3", 100)
	dead.DeletedAt = 100

	require.NoError(t, s.SaveRecord(ctx, unowned))
	require.NoError(t, s.SaveRecord(ctx, owned))
	require.NoError(t, s.SaveRecord(ctx, dead))

	claimed, err := s.ClaimOwnership(ctx, "user-1", 500, func(r *models.Record) (*models.OutboxEntry, error) {
		return &models.OutboxEntry{
			ID:        "ob-" + r.ID,
			Table:     r.Table,
			Operation: models.OperationUpdate,
			RecordID:  r.ID,
			Status:    models.OutboxStatusPending,
		}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)

	got, err := s.GetRecord(ctx, models.TablePlants, "plant-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.OwnerID)
	assert.Equal(t, int64(500), got.UpdatedAt)

	// foreign ownership untouched
	got, err = s.GetRecord(ctx, models.TablePlants, "plant-2")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got.OwnerID)

	// tombstone not claimed
	got, err = s.GetRecord(ctx, models.TablePlants, "plant-3")
	require.NoError(t, err)
	assert.Empty(t, got.OwnerID)

	// outbox entry enqueued in the same transaction
	entries, err := s.DueEntries(ctx, 1000, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "plant-1", entries[0].RecordID)

	// second claim finds nothing: операция идемпотентна
	claimed, err = s.ClaimOwnership(ctx, "user-1", 600, func(r *models.Record) (*models.OutboxEntry, error) {
		return nil, fmt.Errorf("must not be called")
	})
	require.NoError(t, err)
	assert.Zero(t, claimed)
}

func TestStorage_PurgeTombstones(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	old := testRecord(models.TablePlants, "plant-old", 100)
	old.OwnerID = "user-1"
	old.DeletedAt = 100

	fresh := testRecord(models.TablePlants, "plant-fresh", 900)
	fresh.OwnerID = "user-1"
	fresh.DeletedAt = 900

	foreign := testRecord(models.TablePlants, "plant-foreign", 100)
	foreign.OwnerID = "someone-else"
	foreign.DeletedAt = 100

	alive := testRecord(models.TablePlants, "plant-alive", 100)
	alive.OwnerID = "user-1"

	for _, r := range []*models.Record{old, fresh, foreign, alive} {
		require.NoError(t, s.SaveRecord(ctx, r))
	}

	purged, err := s.PurgeTombstones(ctx, "user-1", 500)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = s.GetRecord(ctx, models.TablePlants, "plant-old")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)

	// fresh tombstone, foreign tombstone and live record survive
	for _, id := range []string{"plant-fresh", "plant-foreign", "plant-alive"} {
		_, err = s.GetRecord(ctx, models.TablePlants, id)
		require.NoError(t, err, id)
	}

	// idempotent: second purge is a no-op
	purged, err = s.PurgeTombstones(ctx, "user-1", 500)
	require.NoError(t, err)
	assert.Zero(t, purged)
}
