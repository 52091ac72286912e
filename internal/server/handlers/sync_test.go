package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/growlog/internal/models"
	"github.com/iudanet/growlog/internal/server/idempotency"
	"github.com/iudanet/growlog/internal/server/storage/sqlite"
	"github.com/iudanet/growlog/pkg/api"
)

type capturedTask struct {
	kind    string
	payload json.RawMessage
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []capturedTask
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, kind string, payload json.RawMessage) (*models.QueuedTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, capturedTask{kind: kind, payload: payload})
	return &models.QueuedTask{ID: "task-1", Kind: kind, Payload: payload}, nil
}

func (f *fakeEnqueuer) taskCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func newTestSyncHandler(t *testing.T) (*SyncHandler, *fakeEnqueuer) {
	t.Helper()

	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	enqueuer := &fakeEnqueuer{}

	h := NewSyncHandler(log, store, idempotency.New(store, log), enqueuer)
	h.nowMs = func() int64 { return 50_000 }
	return h, enqueuer
}

func authedRequest(method, path string, body []byte) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	ctx := context.WithValue(req.Context(), UserIDKey, "user-1")
	ctx = context.WithValue(ctx, UsernameKey, "grower_1")
	return req.WithContext(ctx)
}

func doPush(t *testing.T, h *SyncHandler, req *api.PushRequest, idempotencyKey string) (*httptest.ResponseRecorder, *api.PushResponse) {
	t.Helper()

	body, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq := authedRequest(http.MethodPost, "/api/v1/sync/push", body)
	if idempotencyKey != "" {
		httpReq.Header.Set(api.IdempotencyKeyHeader, idempotencyKey)
	}

	w := httptest.NewRecorder()
	h.Push(w, httpReq)

	if w.Code != http.StatusOK {
		return w, nil
	}
	var resp api.PushResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return w, &resp
}

func doPull(t *testing.T, h *SyncHandler, cursor string) *api.PullResponse {
	t.Helper()

	path := "/api/v1/sync/pull"
	if cursor != "" {
		path += "?cursor=" + cursor
	}

	w := httptest.NewRecorder()
	h.Pull(w, authedRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.PullResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return &resp
}

func plantChange(id, name string, baseRev int64, operation string) api.PushChange {
	return api.PushChange{
		Record: api.Record{
			ID:        id,
			Table:     models.TablePlants,
			Payload:   json.RawMessage(`{"name":"` + name + `"}`),
			UpdatedAt: 40_000,
			CreatedAt: 30_000,
		},
		Operation:          operation,
		ClientTxID:         "tx-" + id,
		BaseServerRevision: baseRev,
	}
}

func TestSyncHandler_RequiresAuthenticatedContext(t *testing.T) {
	h, _ := newTestSyncHandler(t)

	w := httptest.NewRecorder()
	h.Pull(w, httptest.NewRequest(http.MethodGet, "/api/v1/sync/pull", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	h.Push(w, httptest.NewRequest(http.MethodPost, "/api/v1/sync/push", bytes.NewReader([]byte(`{}`))))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSyncHandler_PullEmpty(t *testing.T) {
	h, _ := newTestSyncHandler(t)

	resp := doPull(t, h, "")
	assert.Empty(t, resp.Changes)
	assert.False(t, resp.HasMore)
	assert.Equal(t, int64(50_000), resp.ServerTimestamp)
	assert.NotEmpty(t, resp.NextCursor)
}

func TestSyncHandler_PushThenPull(t *testing.T) {
	h, _ := newTestSyncHandler(t)

	_, pushResp := doPush(t, h, &api.PushRequest{
		Changes: []api.PushChange{plantChange("plant-1", "Northern Lights", 0, models.OperationCreate)},
	}, "")
	require.Len(t, pushResp.Results, 1)
	assert.Equal(t, api.PushStatusOK, pushResp.Results[0].Status)
	assert.Equal(t, int64(1), pushResp.Results[0].ServerRevision)
	assert.Equal(t, "tx-plant-1", pushResp.Results[0].ClientTxID)

	pullResp := doPull(t, h, "")
	require.Contains(t, pullResp.Changes, models.TablePlants)
	tc := pullResp.Changes[models.TablePlants]
	require.Len(t, tc.Created, 1)
	assert.Equal(t, "plant-1", tc.Created[0].ID)
	assert.Equal(t, int64(1), tc.Created[0].ServerRevision)
	assert.Empty(t, tc.Updated)
	assert.Empty(t, tc.Deleted)
}

func TestSyncHandler_CreatedUpdatedSplit(t *testing.T) {
	h, _ := newTestSyncHandler(t)

	_, pushResp := doPush(t, h, &api.PushRequest{
		Changes: []api.PushChange{plantChange("plant-1", "Northern Lights", 0, models.OperationCreate)},
	}, "")
	require.Equal(t, api.PushStatusOK, pushResp.Results[0].Status)

	// первый pull фиксирует watermark
	firstPull := doPull(t, h, "")
	cursor := firstPull.NextCursor

	_, pushResp = doPush(t, h, &api.PushRequest{
		Changes: []api.PushChange{plantChange("plant-1", "Northern Lights v2", 1, models.OperationUpdate)},
	}, "")
	require.Equal(t, api.PushStatusOK, pushResp.Results[0].Status)

	// запись создана до watermark — относительно него это update
	secondPull := doPull(t, h, cursor)
	tc := secondPull.Changes[models.TablePlants]
	assert.Empty(t, tc.Created)
	require.Len(t, tc.Updated, 1)
	assert.Equal(t, int64(2), tc.Updated[0].ServerRevision)
}

func TestSyncHandler_StaleBaseRevisionConflicts(t *testing.T) {
	h, _ := newTestSyncHandler(t)

	_, pushResp := doPush(t, h, &api.PushRequest{
		Changes: []api.PushChange{plantChange("plant-1", "Northern Lights", 0, models.OperationCreate)},
	}, "")
	require.Equal(t, api.PushStatusOK, pushResp.Results[0].Status)

	// второй клиент пишет с устаревшей base revision
	_, pushResp = doPush(t, h, &api.PushRequest{
		Changes: []api.PushChange{plantChange("plant-1", "Stale edit", 0, models.OperationUpdate)},
	}, "")
	require.Len(t, pushResp.Results, 1)
	assert.Equal(t, api.PushStatusConflict, pushResp.Results[0].Status)
	assert.NotEmpty(t, pushResp.Results[0].Message)
}

func TestSyncHandler_DeleteShowsInPull(t *testing.T) {
	h, _ := newTestSyncHandler(t)

	_, pushResp := doPush(t, h, &api.PushRequest{
		Changes: []api.PushChange{plantChange("plant-1", "Northern Lights", 0, models.OperationCreate)},
	}, "")
	require.Equal(t, api.PushStatusOK, pushResp.Results[0].Status)

	_, pushResp = doPush(t, h, &api.PushRequest{
		Changes: []api.PushChange{plantChange("plant-1", "Northern Lights", 1, models.OperationDelete)},
	}, "")
	require.Equal(t, api.PushStatusOK, pushResp.Results[0].Status)

	pullResp := doPull(t, h, "")
	tc := pullResp.Changes[models.TablePlants]
	assert.Empty(t, tc.Created)
	assert.Empty(t, tc.Updated)
	assert.Equal(t, []string{"plant-1"}, tc.Deleted)
}

func TestSyncHandler_InvalidChanges(t *testing.T) {
	h, _ := newTestSyncHandler(t)

	tests := []struct {
		name   string
		change api.PushChange
	}{
		{
			name: "missing id",
			change: api.PushChange{
				Record:    api.Record{Table: models.TablePlants},
				Operation: models.OperationCreate,
			},
		},
		{
			name: "unknown table",
			change: api.PushChange{
				Record:    api.Record{ID: "x-1", Table: "sensors"},
				Operation: models.OperationCreate,
			},
		},
		{
			name: "unknown operation",
			change: api.PushChange{
				Record:    api.Record{ID: "x-1", Table: models.TablePlants},
				Operation: "merge",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, pushResp := doPush(t, h, &api.PushRequest{Changes: []api.PushChange{tt.change}}, "")
			require.Len(t, pushResp.Results, 1)
			assert.Equal(t, api.PushStatusInvalid, pushResp.Results[0].Status)
		})
	}
}

func TestSyncHandler_IdempotentReplay(t *testing.T) {
	h, enqueuer := newTestSyncHandler(t)

	req := &api.PushRequest{
		Changes: []api.PushChange{plantChange("plant-1", "Northern Lights", 0, models.OperationCreate)},
	}

	_, first := doPush(t, h, req, "batch-key-1")
	require.Equal(t, api.PushStatusOK, first.Results[0].Status)
	require.Equal(t, int64(1), first.Results[0].ServerRevision)

	// повтор того же batch с тем же ключом отдаёт закешированный ответ
	_, second := doPush(t, h, req, "batch-key-1")
	require.Len(t, second.Results, 1)
	assert.Equal(t, api.PushStatusOK, second.Results[0].Status)
	assert.Equal(t, int64(1), second.Results[0].ServerRevision)

	// мутация применена ровно один раз: без replay повтор дал бы конфликт,
	// а уведомление ставится в очередь только при реальном применении
	assert.Len(t, enqueuer.tasks, 1)

	pullResp := doPull(t, h, "")
	tc := pullResp.Changes[models.TablePlants]
	require.Len(t, tc.Created, 1)
	assert.Equal(t, int64(1), tc.Created[0].ServerRevision)
}

func TestSyncHandler_ConcurrentPushSameKeyAppliesOnce(t *testing.T) {
	h, enqueuer := newTestSyncHandler(t)

	body, err := json.Marshal(&api.PushRequest{
		Changes: []api.PushChange{plantChange("plant-1", "Northern Lights", 0, models.OperationCreate)},
	})
	require.NoError(t, err)

	// два клиента шлют идентичный batch с одним ключом одновременно:
	// claim атомарен, эффект выполняется ровно один раз
	const workers = 2
	codes := make([]int, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			req := authedRequest(http.MethodPost, "/api/v1/sync/push", body)
			req.Header.Set(api.IdempotencyKeyHeader, "batch-key-race")
			w := httptest.NewRecorder()
			h.Push(w, req)
			codes[slot] = w.Code
		}(i)
	}
	wg.Wait()

	// проигравший получает либо replay (200), либо 429 и повторяет позже
	okCount := 0
	for _, code := range codes {
		require.Contains(t, []int{http.StatusOK, http.StatusTooManyRequests}, code)
		if code == http.StatusOK {
			okCount++
		}
	}
	require.GreaterOrEqual(t, okCount, 1)

	assert.Equal(t, 1, enqueuer.taskCount())

	pullResp := doPull(t, h, "")
	tc := pullResp.Changes[models.TablePlants]
	require.Len(t, tc.Created, 1)
	assert.Equal(t, int64(1), tc.Created[0].ServerRevision)
}

func TestSyncHandler_BadBodyReleasesClaim(t *testing.T) {
	h, _ := newTestSyncHandler(t)

	req := authedRequest(http.MethodPost, "/api/v1/sync/push", []byte(`{not json`))
	req.Header.Set(api.IdempotencyKeyHeader, "batch-key-1")
	w := httptest.NewRecorder()
	h.Push(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// claim освобождён: исправленный повтор с тем же ключом проходит сразу
	retry, resp := doPush(t, h, &api.PushRequest{
		Changes: []api.PushChange{plantChange("plant-1", "Northern Lights", 0, models.OperationCreate)},
	}, "batch-key-1")
	require.Equal(t, http.StatusOK, retry.Code)
	assert.Equal(t, api.PushStatusOK, resp.Results[0].Status)
}

func TestSyncHandler_KeyReuseWithDifferentPayload(t *testing.T) {
	h, _ := newTestSyncHandler(t)

	_, first := doPush(t, h, &api.PushRequest{
		Changes: []api.PushChange{plantChange("plant-1", "Northern Lights", 0, models.OperationCreate)},
	}, "batch-key-1")
	require.Equal(t, api.PushStatusOK, first.Results[0].Status)

	w, _ := doPush(t, h, &api.PushRequest{
		Changes: []api.PushChange{plantChange("plant-2", "Blue Dream", 0, models.OperationCreate)},
	}, "batch-key-1")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSyncHandler_PullPagination(t *testing.T) {
	h, _ := newTestSyncHandler(t)
	h.pullLimit = 2

	_, pushResp := doPush(t, h, &api.PushRequest{
		Changes: []api.PushChange{
			plantChange("plant-1", "Northern Lights", 0, models.OperationCreate),
			plantChange("plant-2", "Blue Dream", 0, models.OperationCreate),
			plantChange("plant-3", "White Widow", 0, models.OperationCreate),
		},
	}, "")
	for _, res := range pushResp.Results {
		require.Equal(t, api.PushStatusOK, res.Status)
	}

	firstPage := doPull(t, h, "")
	assert.True(t, firstPage.HasMore)
	require.Len(t, firstPage.Changes[models.TablePlants].Created, 2)

	secondPage := doPull(t, h, firstPage.NextCursor)
	assert.False(t, secondPage.HasMore)
	require.Len(t, secondPage.Changes[models.TablePlants].Created, 1)
	assert.Equal(t, "plant-3", secondPage.Changes[models.TablePlants].Created[0].ID)

	// исчерпанный курсор стабилен и возвращает пустую страницу
	thirdPage := doPull(t, h, secondPage.NextCursor)
	assert.Empty(t, thirdPage.Changes)
	assert.Equal(t, secondPage.NextCursor, thirdPage.NextCursor)
}

func TestSyncHandler_PushEnqueuesNotification(t *testing.T) {
	h, enqueuer := newTestSyncHandler(t)

	_, pushResp := doPush(t, h, &api.PushRequest{
		Changes: []api.PushChange{plantChange("plant-1", "Northern Lights", 0, models.OperationCreate)},
	}, "")
	require.Equal(t, api.PushStatusOK, pushResp.Results[0].Status)

	require.Len(t, enqueuer.tasks, 1)
	assert.Equal(t, models.TaskKindPushNotification, enqueuer.tasks[0].kind)

	var note map[string]any
	require.NoError(t, json.Unmarshal(enqueuer.tasks[0].payload, &note))
	assert.Equal(t, "user-1", note["user_id"])
}

func TestSyncHandler_InvalidCursor(t *testing.T) {
	h, _ := newTestSyncHandler(t)

	w := httptest.NewRecorder()
	h.Pull(w, authedRequest(http.MethodGet, "/api/v1/sync/pull?cursor=%21%21not-base64", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCursorRoundtrip(t *testing.T) {
	for _, rev := range []int64{0, 1, 42, 1 << 40} {
		rev2, err := decodeCursor(encodeCursor(rev))
		require.NoError(t, err)
		assert.Equal(t, rev, rev2)
	}

	// пустой курсор означает начало истории
	rev, err := decodeCursor("")
	require.NoError(t, err)
	assert.Zero(t, rev)
}
