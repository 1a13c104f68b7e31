// Package syncqueue is the durable list of pending worklog operations and the
// reservation protocol deciding which execution context may send an item.
//
// Reservations are stored alongside the items. A reservation is live while its
// holder is alive or its timeout has not passed; the timeout is what frees items
// of holders that died without unreserving.
package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gotrack/liveness"
	"gotrack/storage"
	"gotrack/worklog"
)

const (
	DefaultReservationTimeout = 60 * time.Second
	DefaultGuardWait          = 5 * time.Second
)

var (
	// ErrReservationDenied is a normal skip: another context owns the item or it vanished.
	ErrReservationDenied = errors.New("reservation denied")
	// ErrQueueBusy means another queue write of this process did not finish in time.
	ErrQueueBusy    = errors.New("queue busy")
	ErrItemReserved = errors.New("item is reserved by another context")
	ErrNotQueued    = errors.New("operation not queued")
)

// errUnchanged aborts an update that has nothing to write.
var errUnchanged = errors.New("unchanged")

type Options struct {
	Liveness           liveness.Checker
	ReservationTimeout time.Duration
	GuardWait          time.Duration
	Now                func() time.Time
	Logger             *slog.Logger
}

type Queue struct {
	store     storage.Store
	alive     liveness.Checker
	timeout   time.Duration
	guardWait time.Duration
	now       func() time.Time
	logger    *slog.Logger

	// guard serializes this process' read-modify-write cycles on the queue.
	guard chan struct{}
}

func New(store storage.Store, opts Options) *Queue {
	q := &Queue{
		store:     store,
		alive:     opts.Liveness,
		timeout:   opts.ReservationTimeout,
		guardWait: opts.GuardWait,
		now:       opts.Now,
		logger:    opts.Logger,
		guard:     make(chan struct{}, 1),
	}
	if q.alive == nil {
		q.alive = liveness.ProcessChecker{}
	}
	if q.timeout <= 0 {
		q.timeout = DefaultReservationTimeout
	}
	if q.guardWait <= 0 {
		q.guardWait = DefaultGuardWait
	}
	if q.now == nil {
		q.now = time.Now
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	return q
}

func (q *Queue) lock(ctx context.Context) (func(), error) {
	timer := time.NewTimer(q.guardWait)
	defer timer.Stop()

	select {
	case q.guard <- struct{}{}:
		return func() { <-q.guard }, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: waited %s", ErrQueueBusy, q.guardWait)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) update(ctx context.Context, fn func(items *[]worklog.Temporary) error) error {
	unlock, err := q.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	err = storage.UpdateJSON(ctx, q.store, storage.KeyQueue, fn)
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

func (q *Queue) List(ctx context.Context) ([]worklog.Temporary, error) {
	items, err := storage.GetJSON[[]worklog.Temporary](ctx, q.store, storage.KeyQueue)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	return items, nil
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	items, err := q.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (q *Queue) Get(ctx context.Context, key worklog.Key) (worklog.Temporary, bool, error) {
	items, err := q.List(ctx)
	if err != nil {
		return worklog.Temporary{}, false, err
	}
	if i := indexOf(items, key); i >= 0 {
		return items[i], true, nil
	}
	return worklog.Temporary{}, false, nil
}

// Enqueue adds item, replacing any queued operation with the same identity key.
// A replacement inherits the reservation of the item it replaces, so a key
// never has two senders; MarkSynced tells the two apart by Revision.
func (q *Queue) Enqueue(ctx context.Context, item worklog.Temporary) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid operation: %w", err)
	}
	item.Synced = false
	item.ClearReservation()
	item.SyncError = ""
	item.Attempts = 0
	item.Revision = 0

	return q.update(ctx, func(items *[]worklog.Temporary) error {
		if i := indexOf(*items, item.Key()); i >= 0 {
			current := (*items)[i]
			item.SyncTabID = current.SyncTabID
			item.SyncTimeout = current.SyncTimeout
			item.Revision = current.Revision + 1
			(*items)[i] = item
			return nil
		}
		*items = append(*items, item)
		return nil
	})
}

// Discard drops a queued operation that no other context is sending.
func (q *Queue) Discard(ctx context.Context, key worklog.Key) error {
	now := q.now()
	return q.update(ctx, func(items *[]worklog.Temporary) error {
		i := indexOf(*items, key)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotQueued, key)
		}
		if q.reservationLive((*items)[i], now, "") {
			return fmt.Errorf("%w: %s held by %s", ErrItemReserved, key, (*items)[i].SyncTabID)
		}
		*items = append((*items)[:i], (*items)[i+1:]...)
		return nil
	})
}

// Reserve claims key for holder until the reservation timeout and returns the
// operation as it was reserved. That snapshot is what the holder sends.
func (q *Queue) Reserve(ctx context.Context, key worklog.Key, holder string) (worklog.Temporary, error) {
	now := q.now()
	var reserved worklog.Temporary
	err := q.update(ctx, func(items *[]worklog.Temporary) error {
		i := indexOf(*items, key)
		if i < 0 {
			return fmt.Errorf("%w: %s is no longer queued", ErrReservationDenied, key)
		}
		item := &(*items)[i]
		if q.reservationLive(*item, now, holder) {
			return fmt.Errorf("%w: %s held by %s", ErrReservationDenied, key, item.SyncTabID)
		}
		expires := now.Add(q.timeout)
		item.SyncTabID = holder
		item.SyncTimeout = &expires
		reserved = *item
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrReservationDenied) {
			q.logger.Debug("reservation denied", slog.String("key", key.String()), slog.String("holder", holder))
		}
		return worklog.Temporary{}, err
	}
	return reserved, nil
}

// Unreserve releases key when holder still owns it and records cause as the
// item's last sync error. A stale holder is ignored.
func (q *Queue) Unreserve(ctx context.Context, key worklog.Key, holder string, cause error) error {
	return q.update(ctx, func(items *[]worklog.Temporary) error {
		i := indexOf(*items, key)
		if i < 0 || (*items)[i].SyncTabID != holder {
			return errUnchanged
		}
		item := &(*items)[i]
		item.ClearReservation()
		if cause != nil {
			item.SyncError = cause.Error()
			item.Attempts++
		}
		return nil
	})
}

// MarkSynced removes the operation sent by holder once the remote confirmed it
// and folds result into the worklog cache. An operation replaced while it was
// in flight stays queued without the reservation; a replaced create becomes an
// update of result.ID.
func (q *Queue) MarkSynced(ctx context.Context, sent worklog.Temporary, holder string, result worklog.Worklog, deleted bool) error {
	key := sent.Key()
	err := q.update(ctx, func(items *[]worklog.Temporary) error {
		i := indexOf(*items, key)
		if i < 0 {
			return errUnchanged
		}
		item := &(*items)[i]
		if item.SyncTabID == holder && item.Revision == sent.Revision {
			*items = append((*items)[:i], (*items)[i+1:]...)
			return nil
		}
		if item.SyncTabID == holder {
			item.ClearReservation()
		}
		if item.IsCreate() && !deleted && result.ID != "" {
			// The temp key is gone after the rewrite, so no holder can release it.
			origin := result.Issue
			item.TempID = ""
			item.ID = result.ID
			item.OriginIssue = &origin
			item.ClearReservation()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove synced operation %s: %w", key, err)
	}

	err = storage.UpdateJSON(ctx, q.store, storage.KeyWorklogs, func(cache *worklog.Cache) error {
		if deleted {
			cache.Remove(result.ID)
			return nil
		}
		cache.Put(result)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fold synced worklog %s into cache: %w", result.ID, err)
	}
	return nil
}

// Eligible reports whether item may be picked up at now: it is unreserved or
// its reservation timeout has passed.
func Eligible(item worklog.Temporary, now time.Time) bool {
	if !item.Reserved() {
		return true
	}
	return item.SyncTimeout == nil || !now.Before(*item.SyncTimeout)
}

func (q *Queue) reservationLive(item worklog.Temporary, now time.Time, self string) bool {
	if !item.Reserved() || (self != "" && item.SyncTabID == self) {
		return false
	}
	if q.alive.Alive(item.SyncTabID) {
		return true
	}
	return item.SyncTimeout != nil && now.Before(*item.SyncTimeout)
}

func indexOf(items []worklog.Temporary, key worklog.Key) int {
	for i := range items {
		if items[i].Key() == key {
			return i
		}
	}
	return -1
}
