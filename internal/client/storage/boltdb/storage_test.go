package boltdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/growlog/internal/client/storage"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "growlog-test.db")
	s, err := New(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

func TestNew(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "growlog.db")

	s, err := New(dbPath)
	require.NoError(t, err)
	require.NotNil(t, s)

	require.NoError(t, s.Close())
}

func TestStorage_Closed(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Close())

	ctx := context.Background()

	_, err := s.GetRecord(ctx, "plants", "some-id")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	_, err = s.DueEntries(ctx, 0, 0)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	_, err = s.GetCursor(ctx)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestStorage_Session(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.GetSession(ctx)
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)

	session := &storage.Session{
		UserID:      "user-1",
		Username:    "grower",
		AccessToken: "token-abc",
		ExpiresAt:   1700000000000,
	}
	require.NoError(t, s.SaveSession(ctx, session))

	got, err := s.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, session, got)

	require.NoError(t, s.DeleteSession(ctx))

	_, err = s.GetSession(ctx)
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)

	// delete is idempotent
	require.NoError(t, s.DeleteSession(ctx))
}

func TestStorage_Metadata(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	ts, err := s.GetLastPulledAt(ctx)
	require.NoError(t, err)
	assert.Zero(t, ts)

	require.NoError(t, s.SaveLastPulledAt(ctx, 1699999999123))

	ts, err = s.GetLastPulledAt(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1699999999123), ts)

	cursor, err := s.GetCursor(ctx)
	require.NoError(t, err)
	assert.Empty(t, cursor)

	require.NoError(t, s.SaveCursor(ctx, "cmV2OjQy"))

	cursor, err = s.GetCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cmV2OjQy", cursor)
}
