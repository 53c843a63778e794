package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kingithegreat/AquaProject-sub000/internal/domain"
	"github.com/kingithegreat/AquaProject-sub000/internal/events"
	"github.com/kingithegreat/AquaProject-sub000/internal/metrics"
	"github.com/kingithegreat/AquaProject-sub000/internal/models"
)

// OperationQueue is the ordered list of pending remote writes. It owns the
// in-memory slice exclusively; the key-value store holds a serialized
// mirror under offline_queue, rewritten whole after every mutation so the
// queue survives restarts without cross-key transactions.
type OperationQueue struct {
	mu  sync.Mutex
	ops []models.QueuedOperation

	kv         domain.KeyValueStore
	syncer     domain.Syncer
	eventBus   domain.EventPublisher
	logger     *zerolog.Logger
	maxRetries int
	opDelay    time.Duration
}

func NewOperationQueue(
	kv domain.KeyValueStore,
	syncer domain.Syncer,
	eventBus domain.EventPublisher,
	maxRetries int,
	opDelay time.Duration,
	logger *zerolog.Logger,
) *OperationQueue {
	if maxRetries <= 0 {
		maxRetries = models.MaxSyncRetries
	}
	return &OperationQueue{
		kv:         kv,
		syncer:     syncer,
		eventBus:   eventBus,
		logger:     logger,
		maxRetries: maxRetries,
		opDelay:    opDelay,
	}
}

// Enqueue appends in FIFO order and persists the whole queue. Duplicate
// references are allowed here; de-duplication happens at sync time via the
// remote lookup. The in-memory append holds even when persistence fails.
func (q *OperationQueue) Enqueue(ctx context.Context, op models.QueuedOperation) error {
	q.mu.Lock()
	q.ops = append(q.ops, op)
	depth := len(q.ops)
	q.mu.Unlock()

	metrics.SetQueueDepth(depth)
	return q.persist(ctx)
}

// Size reports the current in-memory count.
func (q *OperationQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Drain processes a snapshot of the current queue. The list is cleared at
// entry (copy-then-clear) so an overlapping Drain sees an empty snapshot
// instead of double-processing; operations are never lost, only possibly
// reordered across two partial drains. Failed operations below the retry
// ceiling are re-appended; the rest are dropped with a terminal event.
func (q *OperationQueue) Drain(ctx context.Context) {
	q.mu.Lock()
	snapshot := q.ops
	q.ops = nil
	q.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}

	q.logger.Info().Int("count", len(snapshot)).Msg("draining offline queue")

	for i, op := range snapshot {
		if !q.waitInterOp(ctx) {
			// Context gone: put the unprocessed tail back untouched.
			q.requeue(snapshot[i:])
			break
		}

		if q.process(ctx, op) {
			metrics.IncSync("success")
			continue
		}

		op.RetryCount++
		if op.RetryCount < q.maxRetries {
			metrics.IncSync("retry")
			q.requeue([]models.QueuedOperation{op})
			continue
		}

		metrics.IncSync("dropped")
		metrics.IncDropped()
		q.logger.Error().
			Str("op_id", op.ID).
			Str("type", op.Type).
			Int("retry_count", op.RetryCount).
			Msg("operation dropped after retry ceiling")
		q.publishSyncFailed(op)
	}

	if err := q.persist(ctx); err != nil {
		q.logger.Error().Err(err).Msg("persist queue after drain failed")
	}
	metrics.SetQueueDepth(q.Size())
}

// LoadFromStore merges persisted operations missing from memory, matched
// by type plus booking reference, recovering work queued before a crash.
func (q *OperationQueue) LoadFromStore(ctx context.Context) {
	raw, err := q.kv.Get(ctx, models.KeyOfflineQueue)
	if err != nil {
		q.logger.Error().Err(err).Msg("load offline queue failed")
		return
	}
	if raw == nil {
		return
	}

	var persisted []models.QueuedOperation
	if err := json.Unmarshal(raw, &persisted); err != nil {
		q.logger.Warn().Err(err).Msg("corrupt offline queue discarded")
		return
	}

	q.mu.Lock()
	existing := make(map[string]bool, len(q.ops))
	for _, op := range q.ops {
		existing[opKey(op)] = true
	}
	merged := 0
	for _, op := range persisted {
		if existing[opKey(op)] {
			continue
		}
		q.ops = append(q.ops, op)
		merged++
	}
	depth := len(q.ops)
	q.mu.Unlock()

	metrics.SetQueueDepth(depth)
	if merged > 0 {
		q.logger.Info().Int("recovered", merged).Msg("recovered queued operations from store")
	}
}

func (q *OperationQueue) process(ctx context.Context, op models.QueuedOperation) bool {
	switch op.Type {
	case models.OpTypeBooking:
		if op.Booking == nil {
			q.logger.Error().Str("op_id", op.ID).Msg("booking operation without payload dropped")
			return true
		}
		return q.syncer.SyncBooking(ctx, op.Booking)
	default:
		q.logger.Error().Str("op_id", op.ID).Str("type", op.Type).Msg("unknown operation type dropped")
		return true
	}
}

// waitInterOp spaces out remote writes; returns false when the context is
// cancelled before the delay elapses.
func (q *OperationQueue) waitInterOp(ctx context.Context) bool {
	if q.opDelay <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(q.opDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (q *OperationQueue) requeue(ops []models.QueuedOperation) {
	if len(ops) == 0 {
		return
	}
	q.mu.Lock()
	q.ops = append(q.ops, ops...)
	q.mu.Unlock()
}

func (q *OperationQueue) persist(ctx context.Context) error {
	q.mu.Lock()
	snapshot := append([]models.QueuedOperation(nil), q.ops...)
	q.mu.Unlock()

	raw, err := json.Marshal(snapshot)
	if err != nil {
		q.logger.Error().Err(err).Msg("marshal offline queue failed")
		return err
	}
	if err := q.kv.Put(ctx, models.KeyOfflineQueue, raw); err != nil {
		q.logger.Error().Err(err).Msg("persist offline queue failed")
		return err
	}
	return nil
}

func (q *OperationQueue) publishSyncFailed(op models.QueuedOperation) {
	if q.eventBus == nil || op.Booking == nil {
		return
	}

	payload := events.BookingEventPayload{
		Reference:   op.Booking.Reference,
		UserID:      op.Booking.UserID,
		TotalAmount: op.Booking.TotalAmount,
		RetryCount:  op.RetryCount,
		FinalStatus: "sync_failed",
		OccurredAt:  time.Now(),
	}
	if err := q.eventBus.PublishJSON(events.EventBookingSyncFailed, payload); err != nil {
		q.logger.Error().Err(err).Str("reference", op.Booking.Reference).Msg("publish sync_failed event")
	}
}

func opKey(op models.QueuedOperation) string {
	ref := ""
	if op.Booking != nil {
		ref = op.Booking.Reference
	}
	return op.Type + ":" + ref
}
