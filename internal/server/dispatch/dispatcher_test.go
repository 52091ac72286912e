package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/growlog/internal/faults"
	"github.com/iudanet/growlog/internal/models"
	"github.com/iudanet/growlog/internal/server/storage/sqlite"
)

// fakeHandler counts invocations and returns scripted errors
type fakeHandler struct {
	kind  string
	errs  []error
	calls int
}

func (f *fakeHandler) Kind() string { return f.kind }

func (f *fakeHandler) Handle(ctx context.Context, task *models.QueuedTask) error {
	f.calls++
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func newTestDispatcher(t *testing.T, handlers ...Handler) (*Dispatcher, *sqlite.Storage) {
	t.Helper()

	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	d := New(store, slog.New(slog.NewTextHandler(io.Discard, nil)), handlers...)
	d.nowMs = func() int64 { return 10_000 }
	d.retryBase = time.Millisecond

	return d, store
}

func notePayload() json.RawMessage {
	return json.RawMessage(`{"user_id":"user-1","title":"harvest ready"}`)
}

func TestDispatcher_RunOnce_Ack(t *testing.T) {
	handler := &fakeHandler{kind: models.TaskKindPushNotification}
	d, store := newTestDispatcher(t, handler)
	ctx := context.Background()

	task, err := d.Enqueue(ctx, models.TaskKindPushNotification, notePayload())
	require.NoError(t, err)

	processed, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, handler.calls)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.False(t, got.HasLiveClaim(10_001))
}

func TestDispatcher_RunOnce_Empty(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeHandler{kind: models.TaskKindPushNotification})

	processed, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processed)
}

func TestDispatcher_InProcessRetriesThenSuccess(t *testing.T) {
	transient := fmt.Errorf("%w: provider hiccup", faults.ErrTransient)
	handler := &fakeHandler{
		kind: models.TaskKindPushNotification,
		errs: []error{transient, transient}, // третья попытка успешна
	}
	d, store := newTestDispatcher(t, handler)
	ctx := context.Background()

	task, err := d.Enqueue(ctx, models.TaskKindPushNotification, notePayload())
	require.NoError(t, err)

	_, err = d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, handler.calls)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed)
}

func TestDispatcher_ReleaseWithBackoff(t *testing.T) {
	transient := fmt.Errorf("%w: provider down", faults.ErrTransient)
	handler := &fakeHandler{
		kind: models.TaskKindPushNotification,
		// все in-process попытки неудачны
		errs: []error{transient, transient, transient},
	}
	d, store := newTestDispatcher(t, handler)
	ctx := context.Background()

	task, err := d.Enqueue(ctx, models.TaskKindPushNotification, notePayload())
	require.NoError(t, err)

	_, err = d.RunOnce(ctx)
	require.NoError(t, err)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, got.Processed)
	assert.Empty(t, got.ClaimID)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Contains(t, got.LastError, "provider down")
	// задержка перед следующей попыткой не меньше базовых 10s
	assert.GreaterOrEqual(t, got.NextAttemptAt, int64(10_000+10_000))
}

func TestDispatcher_ValidationIsTerminal(t *testing.T) {
	handler := &fakeHandler{
		kind: models.TaskKindPushNotification,
		errs: []error{fmt.Errorf("%w: bad payload", faults.ErrValidation)},
	}
	d, store := newTestDispatcher(t, handler)
	ctx := context.Background()

	task, err := d.Enqueue(ctx, models.TaskKindPushNotification, notePayload())
	require.NoError(t, err)

	_, err = d.RunOnce(ctx)
	require.NoError(t, err)
	// non-retryable ошибка не получает in-process повторов
	assert.Equal(t, 1, handler.calls)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.Contains(t, got.LastError, "bad payload")
}

func TestDispatcher_PermanentDestinationIsTerminal(t *testing.T) {
	handler := &fakeHandler{
		kind: models.TaskKindPushNotification,
		errs: []error{fmt.Errorf("%w: endpoint gone", faults.ErrPermanentDestination)},
	}
	d, store := newTestDispatcher(t, handler)
	ctx := context.Background()

	task, err := d.Enqueue(ctx, models.TaskKindPushNotification, notePayload())
	require.NoError(t, err)

	_, err = d.RunOnce(ctx)
	require.NoError(t, err)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.Contains(t, got.LastError, "endpoint gone")
}

func TestDispatcher_AttemptBudgetExhausted(t *testing.T) {
	d, store := newTestDispatcher(t)
	ctx := context.Background()

	transient := fmt.Errorf("%w: flaky provider", faults.ErrTransient)

	// задача уже четыре раза возвращалась в очередь
	handler := &fakeHandler{
		kind: models.TaskKindPushNotification,
		errs: []error{transient, transient, transient},
	}
	d.handlers[handler.kind] = handler

	task, err := d.Enqueue(ctx, models.TaskKindPushNotification, notePayload())
	require.NoError(t, err)

	claimed, err := store.ClaimBatch(ctx, "setup", 1, 10_000, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, store.ReleaseTask(ctx, task.ID, "setup", 0, 4, "earlier failures", 10_000))

	_, err = d.RunOnce(ctx)
	require.NoError(t, err)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.Contains(t, got.LastError, "attempt budget exhausted")
}

func TestDispatcher_NoHandlerIsTerminal(t *testing.T) {
	d, store := newTestDispatcher(t) // без обработчиков
	ctx := context.Background()

	task, err := d.Enqueue(ctx, "unknown_kind", notePayload())
	require.NoError(t, err)

	processed, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.Contains(t, got.LastError, "no handler")
}
