package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goretry "github.com/sethvargo/go-retry"

	"github.com/iudanet/growlog/internal/faults"
	"github.com/iudanet/growlog/internal/models"
	backoff "github.com/iudanet/growlog/internal/retry"
	"github.com/iudanet/growlog/internal/server/storage"
)

const (
	// defaultBatchSize — сколько задач забирает один вызов RunOnce
	defaultBatchSize = 10
	// defaultLease — длительность claim; после истечения задачу может
	// перехватить другой вызов диспетчера
	defaultLease = 30 * time.Second
	// inProcessRetries — быстрые повторы внутри одного claim
	// (всего 3 попытки: 1s, 2s между ними)
	inProcessRetries = 2
	// inProcessBase — базовая задержка быстрых повторов
	inProcessBase = 1 * time.Second
)

//go:generate moq -out handler_mock.go . Handler

// Handler executes tasks of one kind
type Handler interface {
	Kind() string
	Handle(ctx context.Context, task *models.QueuedTask) error
}

// Dispatcher обрабатывает claim-based очередь задач: забирает batch
// эксклюзивной арендой, выполняет и переводит задачи в терминальное
// состояние или возвращает в очередь с задержкой.
type Dispatcher struct {
	storage  storage.TaskStorage
	handlers map[string]Handler
	log      *slog.Logger

	nowMs     func() int64
	batchSize int
	lease     time.Duration
	retryBase time.Duration
}

// New creates a new dispatcher with the given handlers
func New(taskStorage storage.TaskStorage, log *slog.Logger, handlers ...Handler) *Dispatcher {
	registry := make(map[string]Handler, len(handlers))
	for _, h := range handlers {
		registry[h.Kind()] = h
	}
	return &Dispatcher{
		storage:   taskStorage,
		handlers:  registry,
		log:       log,
		nowMs:     func() int64 { return time.Now().UnixMilli() },
		batchSize: defaultBatchSize,
		lease:     defaultLease,
		retryBase: inProcessBase,
	}
}

// Enqueue appends a new task to the queue
func (d *Dispatcher) Enqueue(ctx context.Context, kind string, payload json.RawMessage) (*models.QueuedTask, error) {
	now := d.nowMs()
	task := &models.QueuedTask{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.storage.EnqueueTask(ctx, task); err != nil {
		return nil, err
	}

	d.log.Debug("task enqueued", "task_id", task.ID, "kind", kind)
	return task, nil
}

// RunOnce claims and processes one batch of due tasks.
// Возвращает число обработанных задач (включая терминальные отказы).
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	claimID := uuid.NewString()

	tasks, err := d.storage.ClaimBatch(ctx, claimID, d.batchSize, d.nowMs(), d.lease.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("failed to claim batch: %w", err)
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	processed := 0
	for _, task := range tasks {
		if err := d.process(ctx, claimID, task); err != nil {
			// claim mismatch значит задачу перехватили после истечения
			// lease — результат этого вызова отбрасывается
			if errors.Is(err, storage.ErrClaimMismatch) {
				d.log.Warn("lost claim on task", "task_id", task.ID)
				continue
			}
			return processed, err
		}
		processed++
	}
	return processed, nil
}

// Run processes batches until the context is cancelled
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil {
				d.log.Error("dispatch cycle failed", "error", err)
			}
		}
	}
}

// process executes one claimed task and settles its state
func (d *Dispatcher) process(ctx context.Context, claimID string, task *models.QueuedTask) error {
	handler, ok := d.handlers[task.Kind]
	if !ok {
		// нет обработчика — задача никогда не выполнится
		return d.storage.FailTaskTerminally(ctx, task.ID, claimID,
			fmt.Sprintf("no handler for kind %q", task.Kind), d.nowMs())
	}

	execErr := d.executeWithRetry(ctx, handler, task)
	if execErr == nil {
		return d.storage.AckTask(ctx, task.ID, claimID, d.nowMs())
	}

	attemptCount := task.AttemptCount + 1

	switch {
	case faults.IsTerminal(execErr):
		d.log.Warn("task failed terminally",
			"task_id", task.ID, "kind", task.Kind, "error", execErr)
		return d.storage.FailTaskTerminally(ctx, task.ID, claimID, execErr.Error(), d.nowMs())

	case attemptCount >= backoff.TaskMaxAttempts:
		d.log.Warn("task exhausted attempts",
			"task_id", task.ID, "kind", task.Kind, "attempts", attemptCount)
		return d.storage.FailTaskTerminally(ctx, task.ID, claimID,
			fmt.Sprintf("attempt budget exhausted: %v", execErr), d.nowMs())

	default:
		nextAttemptAt := d.nowMs() + backoff.TaskDelayWithJitter(task.ID, attemptCount).Milliseconds()
		d.log.Debug("task released for retry",
			"task_id", task.ID, "attempt", attemptCount, "next_attempt_at", nextAttemptAt)
		return d.storage.ReleaseTask(ctx, task.ID, claimID, nextAttemptAt, attemptCount, execErr.Error(), d.nowMs())
	}
}

// executeWithRetry runs the handler with fast in-process retries for
// transient errors. Долгие паузы живут в очереди, не в claim.
func (d *Dispatcher) executeWithRetry(ctx context.Context, handler Handler, task *models.QueuedTask) error {
	b := goretry.WithMaxRetries(inProcessRetries, goretry.NewExponential(d.retryBase))

	return goretry.Do(ctx, b, func(ctx context.Context) error {
		err := handler.Handle(ctx, task)
		if err == nil {
			return nil
		}
		if faults.IsRetryable(err) {
			return goretry.RetryableError(err)
		}
		return err
	})
}
