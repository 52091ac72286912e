package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/growlog/internal/models"
	"github.com/iudanet/growlog/internal/server/storage"
)

func serverRecord(table, id string, updatedAt int64) *models.Record {
	return &models.Record{
		ID:        id,
		Table:     table,
		Payload:   json.RawMessage(`{"name":"Gelato"}`),
		UpdatedAt: updatedAt,
		CreatedAt: updatedAt,
	}
}

func TestStorage_ApplyChange_AssignsRevisions(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	applied, err := s.ApplyChange(ctx, "user-1", serverRecord(models.TablePlants, "plant-1", 100), models.OperationCreate, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), applied.ServerRevision)
	assert.Equal(t, int64(1000), applied.ServerUpdatedAtMs)

	// ревизии монотонно растут в рамках пользователя
	applied, err = s.ApplyChange(ctx, "user-1", serverRecord(models.TablePlants, "plant-2", 110), models.OperationCreate, 0, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(2), applied.ServerRevision)

	// у другого пользователя своя последовательность
	applied, err = s.ApplyChange(ctx, "user-2", serverRecord(models.TablePlants, "plant-1", 100), models.OperationCreate, 0, 1002)
	require.NoError(t, err)
	assert.Equal(t, int64(1), applied.ServerRevision)
}

func TestStorage_ApplyChange_RevisionConflict(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	applied, err := s.ApplyChange(ctx, "user-1", serverRecord(models.TablePlants, "plant-1", 100), models.OperationCreate, 0, 1000)
	require.NoError(t, err)

	// update поверх актуальной ревизии проходит
	rec := serverRecord(models.TablePlants, "plant-1", 200)
	applied2, err := s.ApplyChange(ctx, "user-1", rec, models.OperationUpdate, applied.ServerRevision, 1001)
	require.NoError(t, err)
	assert.Greater(t, applied2.ServerRevision, applied.ServerRevision)

	// update на основе устаревшей ревизии отклоняется
	stale := serverRecord(models.TablePlants, "plant-1", 300)
	_, err = s.ApplyChange(ctx, "user-1", stale, models.OperationUpdate, applied.ServerRevision, 1002)
	assert.ErrorIs(t, err, storage.ErrRevisionConflict)
}

func TestStorage_ApplyChange_TombstoneRules(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	applied, err := s.ApplyChange(ctx, "user-1", serverRecord(models.TablePlants, "plant-1", 100), models.OperationCreate, 0, 1000)
	require.NoError(t, err)

	// delete
	del := serverRecord(models.TablePlants, "plant-1", 200)
	deleted, err := s.ApplyChange(ctx, "user-1", del, models.OperationDelete, applied.ServerRevision, 1001)
	require.NoError(t, err)

	got, err := s.GetRecord(ctx, "user-1", models.TablePlants, "plant-1")
	require.NoError(t, err)
	assert.True(t, got.IsTombstoned())

	// повторный delete идемпотентен и не создаёт новую ревизию
	again, err := s.ApplyChange(ctx, "user-1", del, models.OperationDelete, deleted.ServerRevision, 1002)
	require.NoError(t, err)
	assert.Equal(t, deleted.ServerRevision, again.ServerRevision)

	// update tombstone отклоняется: никакого воскрешения
	upd := serverRecord(models.TablePlants, "plant-1", 300)
	_, err = s.ApplyChange(ctx, "user-1", upd, models.OperationUpdate, again.ServerRevision, 1003)
	assert.ErrorIs(t, err, storage.ErrRevisionConflict)
}

func TestStorage_ChangesSince(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for i := range 5 {
		_, err := s.ApplyChange(ctx, "user-1",
			serverRecord(models.TablePlants, fmt.Sprintf("plant-%d", i), int64(100+i)),
			models.OperationCreate, 0, int64(1000+i))
		require.NoError(t, err)
	}

	// первая страница
	records, maxRev, hasMore, err := s.ChangesSince(ctx, "user-1", 0, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.True(t, hasMore)
	assert.Equal(t, int64(3), maxRev)
	assert.Equal(t, "plant-0", records[0].ID)

	// вторая страница продолжает с maxRev
	records, maxRev, hasMore, err = s.ChangesSince(ctx, "user-1", maxRev, 3)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.False(t, hasMore)
	assert.Equal(t, int64(5), maxRev)

	// пустая страница, когда изменений нет
	records, maxRev, hasMore, err = s.ChangesSince(ctx, "user-1", maxRev, 3)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.False(t, hasMore)
	assert.Equal(t, int64(5), maxRev)

	// чужие записи не видны
	records, _, _, err = s.ChangesSince(ctx, "user-2", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStorage_ChangesSince_CreatedRev(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	applied, err := s.ApplyChange(ctx, "user-1", serverRecord(models.TablePlants, "plant-1", 100), models.OperationCreate, 0, 1000)
	require.NoError(t, err)

	// update сдвигает server_rev, но created_rev остаётся ревизией вставки
	_, err = s.ApplyChange(ctx, "user-1", serverRecord(models.TablePlants, "plant-1", 200), models.OperationUpdate, applied.ServerRevision, 1001)
	require.NoError(t, err)

	records, _, _, err := s.ChangesSince(ctx, "user-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].CreatedRev)
	assert.Equal(t, int64(2), records[0].ServerRevision)
}

func TestStorage_PurgeTombstones(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	applied, err := s.ApplyChange(ctx, "user-1", serverRecord(models.TablePlants, "plant-1", 100), models.OperationCreate, 0, 1000)
	require.NoError(t, err)
	_, err = s.ApplyChange(ctx, "user-1", serverRecord(models.TablePlants, "plant-1", 200), models.OperationDelete, applied.ServerRevision, 2000)
	require.NoError(t, err)

	// cutoff до удаления — ничего не удаляется
	purged, err := s.PurgeTombstones(ctx, "user-1", 1500)
	require.NoError(t, err)
	assert.Zero(t, purged)

	purged, err = s.PurgeTombstones(ctx, "user-1", 5000)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = s.GetRecord(ctx, "user-1", models.TablePlants, "plant-1")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)

	// идемпотентность
	purged, err = s.PurgeTombstones(ctx, "user-1", 5000)
	require.NoError(t, err)
	assert.Zero(t, purged)
}
