// Package queue implements the durable share-retry queue: pending shares
// are persisted as one JSON blob in a key-value store and retried with
// bounded exponential backoff until delivered, abandoned, or expired.
package queue

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"time"

	"shareq/internal/config"
	"shareq/internal/id"
	"shareq/internal/kv"
	"shareq/internal/log"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DeliverFunc attempts to submit one pending share to the journal API.
// It returns true when the share was delivered and the item may be removed,
// false or an error when the attempt failed and should be recorded.
type DeliverFunc func(ctx context.Context, item Item) (bool, error)

// Queue owns the serialized item list stored under cfg.StorageKey. Every
// read-modify-write holds mu for the full span; waiters acquire in FIFO
// order, so concurrent callers (foreground flush, connectivity watcher,
// manual retry) never lose each other's updates.
type Queue struct {
	store  kv.Store
	cfg    *config.Config
	logger *log.Logger
	ids    *id.Generator
	mu     *semaphore.Weighted
	now    func() time.Time
}

func New(store kv.Store, cfg *config.Config, logger *log.Logger) *Queue {
	h := fnv.New32a()
	h.Write([]byte(cfg.InstallationID))
	gen, err := id.NewGenerator(int64(h.Sum32() % 1024))
	if err != nil {
		logger.Fatal("Failed to initialize ID generator", zap.Error(err))
	}
	return &Queue{
		store:  store,
		cfg:    cfg,
		logger: logger,
		ids:    gen,
		mu:     semaphore.NewWeighted(1),
		now:    time.Now,
	}
}

// lock acquires the queue mutex, reporting false when the context was
// canceled before the lock was granted.
func (q *Queue) lock(ctx context.Context) bool {
	if err := q.mu.Acquire(ctx, 1); err != nil {
		q.logger.Warn("Abandoned queue operation, context canceled while waiting for lock", zap.Error(err))
		return false
	}
	return true
}

func (q *Queue) unlock() {
	q.mu.Release(1)
}

// load reads the stored item list. Callers mutating the result must hold the
// lock for the whole read-modify-write span. A corrupt blob is logged and
// treated as empty so one bad write cannot wedge the queue forever.
func (q *Queue) load(ctx context.Context) ([]Item, error) {
	raw, ok, err := q.store.Get(ctx, q.cfg.StorageKey)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var items []Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		q.logger.Error("Discarding corrupt share queue blob", zap.Error(err))
		return nil, nil
	}
	return items, nil
}

func (q *Queue) save(ctx context.Context, items []Item) error {
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return q.store.Set(ctx, q.cfg.StorageKey, string(data))
}

// Enqueue adds a share, or refreshes the existing item when the key is
// already queued: the latest payload wins but ID, CreatedAt, RetryCount and
// LastRetryAt survive from the first enqueue. Storage failures are logged
// and swallowed; a broken retry queue must not crash the share handoff whose
// primary action already failed.
func (q *Queue) Enqueue(ctx context.Context, key string, p Payload) {
	if key == "" {
		return
	}
	if !q.lock(ctx) {
		return
	}
	defer q.unlock()

	items, err := q.load(ctx)
	if err != nil {
		q.logger.Error("Failed to read share queue for enqueue", zap.Error(err), zap.String("key", key))
		return
	}
	nowMs := q.now().UnixMilli()
	for i := range items {
		if items[i].Key != key {
			continue
		}
		if q.expired(items[i], nowMs) {
			// An expired match is logically absent: refreshing it would keep
			// the stale CreatedAt and the share would be pruned without ever
			// being attempted. Start the item over in place.
			items[i] = Item{
				ID:        q.ids.NextID(),
				Key:       key,
				Payload:   p,
				CreatedAt: nowMs,
			}
		} else {
			items[i].Payload = p
		}
		if err := q.save(ctx, items); err != nil {
			q.logger.Error("Failed to persist refreshed share", zap.Error(err), zap.String("key", key))
		}
		return
	}
	items = append(items, Item{
		ID:        q.ids.NextID(),
		Key:       key,
		Payload:   p,
		CreatedAt: nowMs,
	})
	if err := q.save(ctx, items); err != nil {
		q.logger.Error("Failed to persist enqueued share", zap.Error(err), zap.String("key", key))
	}
}

// ListPending returns all non-expired items in insertion order. It reads
// without the lock; a listing that is stale by one in-flight mutation is
// acceptable for display purposes. Expired items are filtered but not
// removed here — pruning is PruneExpired's job.
func (q *Queue) ListPending(ctx context.Context) []Item {
	items, err := q.load(ctx)
	if err != nil {
		q.logger.Error("Failed to read share queue", zap.Error(err))
		return nil
	}
	nowMs := q.now().UnixMilli()
	var pending []Item
	for _, it := range items {
		if !q.expired(it, nowMs) {
			pending = append(pending, it)
		}
	}
	return pending
}

// Lookup returns the non-expired item with the given ID. Lock-free read.
func (q *Queue) Lookup(ctx context.Context, itemID string) (Item, bool) {
	items, err := q.load(ctx)
	if err != nil {
		q.logger.Error("Failed to read share queue for lookup", zap.Error(err), zap.String("id", itemID))
		return Item{}, false
	}
	nowMs := q.now().UnixMilli()
	for _, it := range items {
		if it.ID == itemID && !q.expired(it, nowMs) {
			return it, true
		}
	}
	return Item{}, false
}

// Dequeue removes the item after a successful delivery. No-op when absent.
func (q *Queue) Dequeue(ctx context.Context, itemID string) {
	q.Remove(ctx, itemID)
}

// Remove deletes the item and reports whether it was present, for UI
// feedback on a user-initiated removal.
func (q *Queue) Remove(ctx context.Context, itemID string) bool {
	if !q.lock(ctx) {
		return false
	}
	defer q.unlock()

	items, err := q.load(ctx)
	if err != nil {
		q.logger.Error("Failed to read share queue for remove", zap.Error(err), zap.String("id", itemID))
		return false
	}
	for i := range items {
		if items[i].ID == itemID {
			items = append(items[:i], items[i+1:]...)
			if err := q.save(ctx, items); err != nil {
				q.logger.Error("Failed to persist removal", zap.Error(err), zap.String("id", itemID))
			}
			return true
		}
	}
	return false
}

// Update merges the patch into the matching item, e.g. attaching the trip a
// user picked after the share was queued. No-op when the item is gone.
func (q *Queue) Update(ctx context.Context, itemID string, patch Patch) {
	if !q.lock(ctx) {
		return
	}
	defer q.unlock()

	items, err := q.load(ctx)
	if err != nil {
		q.logger.Error("Failed to read share queue for update", zap.Error(err), zap.String("id", itemID))
		return
	}
	for i := range items {
		if items[i].ID != itemID {
			continue
		}
		if patch.TripID != nil {
			items[i].Payload.TripID = *patch.TripID
		}
		if patch.Note != nil {
			items[i].Payload.Note = *patch.Note
		}
		if patch.Source != nil {
			items[i].Payload.Source = *patch.Source
		}
		if err := q.save(ctx, items); err != nil {
			q.logger.Error("Failed to persist update", zap.Error(err), zap.String("id", itemID))
		}
		return
	}
}

// PruneExpired removes every item older than the expiry window and returns
// how many were dropped. Writes back only when something was actually
// dropped.
func (q *Queue) PruneExpired(ctx context.Context) int {
	if !q.lock(ctx) {
		return 0
	}
	defer q.unlock()

	items, err := q.load(ctx)
	if err != nil {
		q.logger.Error("Failed to read share queue for pruning", zap.Error(err))
		return 0
	}
	nowMs := q.now().UnixMilli()
	kept := items[:0]
	for _, it := range items {
		if !q.expired(it, nowMs) {
			kept = append(kept, it)
		}
	}
	pruned := len(items) - len(kept)
	if pruned == 0 {
		return 0
	}
	q.logger.Info("Pruned expired shares", zap.Int("count", pruned))
	if err := q.save(ctx, kept); err != nil {
		q.logger.Error("Failed to persist pruned queue", zap.Error(err))
	}
	return pruned
}

// ClearAll erases the entire stored collection. It takes the lock even
// though it replaces rather than patches state: an unlocked erase racing an
// in-flight enqueue could be resurrected by that enqueue's stale write-back.
func (q *Queue) ClearAll(ctx context.Context) {
	if !q.lock(ctx) {
		return
	}
	defer q.unlock()

	if err := q.store.Delete(ctx, q.cfg.StorageKey); err != nil {
		q.logger.Error("Failed to clear share queue", zap.Error(err))
	}
}

// NextReady returns the first non-expired item whose backoff window has
// elapsed and whose retry budget remains, in insertion order. It reads under
// the lock so the flush loop sees a view consistent with concurrent
// mutators.
func (q *Queue) NextReady(ctx context.Context) (Item, bool) {
	if !q.lock(ctx) {
		return Item{}, false
	}
	defer q.unlock()

	items, err := q.load(ctx)
	if err != nil {
		q.logger.Error("Failed to read share queue for ready scan", zap.Error(err))
		return Item{}, false
	}
	nowMs := q.now().UnixMilli()
	for _, it := range items {
		if q.expired(it, nowMs) {
			continue
		}
		if q.ready(it, nowMs) {
			return it, true
		}
	}
	return Item{}, false
}

// RecordAttempt books a failed delivery against the item. When the new
// retry count reaches the budget the item is removed in the same operation,
// so an over-budget item never persists.
func (q *Queue) RecordAttempt(ctx context.Context, itemID string, errMsg string) AttemptResult {
	if !q.lock(ctx) {
		return AttemptNotFound
	}
	defer q.unlock()

	items, err := q.load(ctx)
	if err != nil {
		q.logger.Error("Failed to read share queue for attempt", zap.Error(err), zap.String("id", itemID))
		return AttemptNotFound
	}
	for i := range items {
		if items[i].ID != itemID {
			continue
		}
		newCount := items[i].RetryCount + 1
		if newCount >= q.cfg.MaxRetries {
			items = append(items[:i], items[i+1:]...)
			if err := q.save(ctx, items); err != nil {
				q.logger.Error("Failed to persist abandonment", zap.Error(err), zap.String("id", itemID))
			}
			q.logger.Warn("Abandoned share after exhausting retries",
				zap.String("id", itemID), zap.Int("retries", newCount), zap.String("last_error", errMsg))
			return AttemptAbandoned
		}
		nowMs := q.now().UnixMilli()
		items[i].RetryCount = newCount
		items[i].LastRetryAt = &nowMs
		items[i].LastError = &errMsg
		if err := q.save(ctx, items); err != nil {
			q.logger.Error("Failed to persist attempt", zap.Error(err), zap.String("id", itemID))
		}
		return AttemptRecorded
	}
	return AttemptNotFound
}

// Flush drains the currently-ready set through deliver. It is a driver over
// the locked primitives, not one long critical section, so unrelated
// enqueues can interleave between iterations; the store is consistent at
// every loop boundary. Each failed attempt pushes the item's readiness past
// its backoff window, so the loop terminates once nothing is ready even with
// items still queued.
func (q *Queue) Flush(ctx context.Context, deliver DeliverFunc) FlushResult {
	var res FlushResult
	res.Pruned = q.PruneExpired(ctx)

	attempted := make(map[string]bool)
	for {
		item, ok := q.NextReady(ctx)
		if !ok {
			return res
		}
		// A failed write in RecordAttempt can leave an item permanently
		// ready; never attempt the same item twice in one pass.
		if attempted[item.ID] {
			return res
		}
		attempted[item.ID] = true

		delivered, err := deliver(ctx, item)
		switch {
		case err != nil:
			if q.RecordAttempt(ctx, item.ID, err.Error()) == AttemptAbandoned {
				res.Abandoned++
			}
			res.Failed++
		case delivered:
			q.Dequeue(ctx, item.ID)
			res.Succeeded++
		default:
			if q.RecordAttempt(ctx, item.ID, "delivery rejected") == AttemptAbandoned {
				res.Abandoned++
			}
			res.Failed++
		}
		if ctx.Err() != nil {
			return res
		}
	}
}

// RetryOne attempts a single item immediately, bypassing the readiness
// check. Used for the explicit "retry now" action. The second result
// reports whether a failed attempt exhausted the item's retry budget.
func (q *Queue) RetryOne(ctx context.Context, itemID string, deliver DeliverFunc) (RetryOutcome, bool) {
	item, ok := q.Lookup(ctx, itemID)
	if !ok {
		return RetryNotFound, false
	}
	delivered, err := deliver(ctx, item)
	switch {
	case err != nil:
		abandoned := q.RecordAttempt(ctx, itemID, err.Error()) == AttemptAbandoned
		return RetryFailed, abandoned
	case delivered:
		q.Dequeue(ctx, itemID)
		return RetryDelivered, false
	default:
		abandoned := q.RecordAttempt(ctx, itemID, "delivery rejected") == AttemptAbandoned
		return RetryFailed, abandoned
	}
}
