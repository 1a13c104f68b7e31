package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gotrack/liveness"
	"gotrack/storage"
	"gotrack/worklog"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type aliveSet struct {
	mu   sync.Mutex
	dead map[string]bool
}

func (a *aliveSet) Alive(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.dead[id]
}

func (a *aliveSet) Kill(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dead == nil {
		a.dead = map[string]bool{}
	}
	a.dead[id] = true
}

func newTestQueue(store storage.Store, clock *fakeClock, alive liveness.Checker) *Queue {
	return New(store, Options{Liveness: alive, Now: clock.Now, GuardWait: time.Second})
}

func createOp(tempID string) worklog.Temporary {
	return worklog.Temporary{
		TempID: tempID,
		Issue:  worklog.Issue{Key: "ABC-1"},
		Start:  t0,
		End:    t0.Add(time.Hour),
	}
}

func TestEnqueue_ReplacesSameIdentity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := newTestQueue(storage.NewMemoryStore(), &fakeClock{now: t0}, &aliveSet{})

	first := createOp("a")
	first.Comment = "first"
	second := createOp("a")
	second.Comment = "second"
	update := worklog.Temporary{ID: "a", Issue: worklog.Issue{Key: "ABC-1"}, Start: t0, End: t0.Add(time.Minute)}

	for _, item := range []worklog.Temporary{first, second, update} {
		if err := q.Enqueue(ctx, item); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	items, err := q.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items (tempId and id namespaces differ), got %d", len(items))
	}
	if items[0].Comment != "second" {
		t.Fatalf("expected last write to win, got %q", items[0].Comment)
	}

	seen := map[worklog.Key]bool{}
	for _, item := range items {
		if seen[item.Key()] {
			t.Fatalf("duplicate identity key %s", item.Key())
		}
		seen[item.Key()] = true
	}
}

func TestEnqueue_RejectsInvalidOperations(t *testing.T) {
	t.Parallel()

	q := newTestQueue(storage.NewMemoryStore(), &fakeClock{now: t0}, &aliveSet{})
	err := q.Enqueue(context.Background(), worklog.Temporary{TempID: "x", Delete: true})
	if err == nil {
		t.Fatalf("delete of a never-created entry must be rejected")
	}
}

func TestEnqueue_ReplacementKeepsReservation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()
	clock := &fakeClock{now: t0}
	alive := &aliveSet{}
	q := newTestQueue(store, clock, alive)
	key := worklog.Key{TempID: "a"}

	if err := q.Enqueue(ctx, createOp("a")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	reserved, err := q.Reserve(ctx, key, "holder-1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	edited := createOp("a")
	edited.Comment = "edited while sending"
	if err := q.Enqueue(ctx, edited); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	item, ok, err := q.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("get: ok=%t err=%v", ok, err)
	}
	if item.SyncTabID != "holder-1" || item.SyncTimeout == nil || !item.SyncTimeout.Equal(*reserved.SyncTimeout) {
		t.Fatalf("replacement must keep the reservation: %+v", item)
	}
	if item.Revision != reserved.Revision+1 || item.Comment != "edited while sending" {
		t.Fatalf("unexpected replacement %+v", item)
	}

	other := newTestQueue(store, clock, alive)
	if _, err := other.Reserve(ctx, key, "holder-2"); !errors.Is(err, ErrReservationDenied) {
		t.Fatalf("second context must not reserve an item in flight, got %v", err)
	}
}

func TestReserve_Exclusive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := newTestQueue(storage.NewMemoryStore(), &fakeClock{now: t0}, &aliveSet{})
	key := worklog.Key{TempID: "a"}

	if _, err := q.Reserve(ctx, key, "holder-1"); !errors.Is(err, ErrReservationDenied) {
		t.Fatalf("reserving a missing item must be denied, got %v", err)
	}

	if err := q.Enqueue(ctx, createOp("a")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	reserved, err := q.Reserve(ctx, key, "holder-1")
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if reserved.TempID != "a" || reserved.SyncTabID != "holder-1" {
		t.Fatalf("unexpected reserved snapshot %+v", reserved)
	}
	if _, err := q.Reserve(ctx, key, "holder-2"); !errors.Is(err, ErrReservationDenied) {
		t.Fatalf("second holder must be denied, got %v", err)
	}
	if _, err := q.Reserve(ctx, key, "holder-1"); err != nil {
		t.Fatalf("holder refreshing its own reservation: %v", err)
	}

	item, _, _ := q.Get(ctx, key)
	if item.SyncTabID != "holder-1" {
		t.Fatalf("unexpected holder %q", item.SyncTabID)
	}
	if item.SyncTimeout == nil || !item.SyncTimeout.Equal(t0.Add(DefaultReservationTimeout)) {
		t.Fatalf("unexpected timeout %v", item.SyncTimeout)
	}
}

func TestReserve_TimeoutFreesDeadHolder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: t0}
	alive := &aliveSet{}
	q := newTestQueue(storage.NewMemoryStore(), clock, alive)
	key := worklog.Key{TempID: "a"}

	if err := q.Enqueue(ctx, createOp("a")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Reserve(ctx, key, "holder-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	alive.Kill("holder-1")

	clock.Advance(59 * time.Second)
	if _, err := q.Reserve(ctx, key, "holder-2"); !errors.Is(err, ErrReservationDenied) {
		t.Fatalf("unexpired timeout must still deny, got %v", err)
	}

	clock.Advance(time.Second)
	if _, err := q.Reserve(ctx, key, "holder-2"); err != nil {
		t.Fatalf("dead holder past timeout must be reservable: %v", err)
	}
}

func TestReserve_AliveHolderKeepsItemPastTimeout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: t0}
	q := newTestQueue(storage.NewMemoryStore(), clock, &aliveSet{})
	key := worklog.Key{TempID: "a"}

	if err := q.Enqueue(ctx, createOp("a")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Reserve(ctx, key, "holder-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	clock.Advance(2 * DefaultReservationTimeout)
	if _, err := q.Reserve(ctx, key, "holder-2"); !errors.Is(err, ErrReservationDenied) {
		t.Fatalf("live holder must keep the item, got %v", err)
	}
}

func TestReserve_ConcurrentContextsExactlyOneWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()
	clock := &fakeClock{now: t0}
	alive := &aliveSet{}

	seed := newTestQueue(store, clock, alive)
	if err := seed.Enqueue(ctx, createOp("a")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	const contexts = 8
	var (
		wg      sync.WaitGroup
		granted atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < contexts; i++ {
		q := newTestQueue(store, clock, alive)
		holder := fmt.Sprintf("holder-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := q.Reserve(ctx, worklog.Key{TempID: "a"}, holder)
			switch {
			case err == nil:
				granted.Add(1)
			case !errors.Is(err, ErrReservationDenied):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := granted.Load(); got != 1 {
		t.Fatalf("expected exactly one reservation, got %d", got)
	}
}

func TestUnreserve_OnlyHolder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := newTestQueue(storage.NewMemoryStore(), &fakeClock{now: t0}, &aliveSet{})
	key := worklog.Key{TempID: "a"}

	if err := q.Enqueue(ctx, createOp("a")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Reserve(ctx, key, "holder-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if err := q.Unreserve(ctx, key, "holder-2", errors.New("late")); err != nil {
		t.Fatalf("stale unreserve: %v", err)
	}
	item, _, _ := q.Get(ctx, key)
	if item.SyncTabID != "holder-1" || item.SyncError != "" {
		t.Fatalf("stale unreserve clobbered the reservation: %+v", item)
	}

	if err := q.Unreserve(ctx, key, "holder-1", errors.New("remote unavailable")); err != nil {
		t.Fatalf("unreserve: %v", err)
	}
	item, _, _ = q.Get(ctx, key)
	if item.Reserved() || item.SyncTimeout != nil {
		t.Fatalf("reservation not cleared: %+v", item)
	}
	if item.SyncError != "remote unavailable" || item.Attempts != 1 {
		t.Fatalf("failure not recorded: %+v", item)
	}
}

func TestMarkSynced_RemovesAndFoldsIntoCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()
	q := newTestQueue(store, &fakeClock{now: t0}, &aliveSet{})

	if err := storage.SetJSON(ctx, store, storage.KeyWorklogs, worklog.Cache{Data: []worklog.Worklog{{ID: "old"}}}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	if err := q.Enqueue(ctx, createOp("a")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, worklog.Temporary{ID: "old", Delete: true}); err != nil {
		t.Fatalf("enqueue delete: %v", err)
	}

	sent := map[worklog.Key]worklog.Temporary{}
	for _, key := range []worklog.Key{{TempID: "a"}, {ID: "old"}} {
		item, err := q.Reserve(ctx, key, "me")
		if err != nil {
			t.Fatalf("reserve %s: %v", key, err)
		}
		sent[key] = item
	}

	created := worklog.Worklog{ID: "100", Issue: worklog.Issue{Key: "ABC-1"}, Start: t0, End: t0.Add(time.Hour)}
	if err := q.MarkSynced(ctx, sent[worklog.Key{TempID: "a"}], "me", created, false); err != nil {
		t.Fatalf("mark created: %v", err)
	}
	if err := q.MarkSynced(ctx, sent[worklog.Key{ID: "old"}], "me", worklog.Worklog{ID: "old"}, true); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}

	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}
	cache, err := storage.GetJSON[worklog.Cache](ctx, store, storage.KeyWorklogs)
	if err != nil {
		t.Fatalf("read cache: %v", err)
	}
	if len(cache.Data) != 1 || cache.Data[0].ID != "100" || !cache.Data[0].Synced {
		t.Fatalf("unexpected cache: %+v", cache.Data)
	}
}

func TestMarkSynced_KeepsReplacementQueued(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := newTestQueue(storage.NewMemoryStore(), &fakeClock{now: t0}, &aliveSet{})
	key := worklog.Key{TempID: "a"}

	if err := q.Enqueue(ctx, createOp("a")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	sent, err := q.Reserve(ctx, key, "me")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	edited := createOp("a")
	edited.Comment = "edited while sending"
	if err := q.Enqueue(ctx, edited); err != nil {
		t.Fatalf("enqueue edit: %v", err)
	}

	created := worklog.Worklog{ID: "100", Issue: worklog.Issue{Key: "ABC-1"}, Start: t0, End: t0.Add(time.Hour)}
	if err := q.MarkSynced(ctx, sent, "me", created, false); err != nil {
		t.Fatalf("mark synced: %v", err)
	}

	items, _ := q.List(ctx)
	if len(items) != 1 {
		t.Fatalf("expected the edit to stay queued, got %d items", len(items))
	}
	if items[0].TempID != "" || items[0].ID != "100" || items[0].Comment != "edited while sending" {
		t.Fatalf("replacement should become an update of the created entry: %+v", items[0])
	}
	if items[0].Reserved() || items[0].SyncTimeout != nil {
		t.Fatalf("replacement must be free to send: %+v", items[0])
	}
}

func TestMarkSynced_ReplacedUpdateIsReleased(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := newTestQueue(storage.NewMemoryStore(), &fakeClock{now: t0}, &aliveSet{})
	key := worklog.Key{ID: "100"}
	update := worklog.Temporary{ID: "100", Issue: worklog.Issue{Key: "ABC-1"}, Start: t0, End: t0.Add(time.Hour)}

	if err := q.Enqueue(ctx, update); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	sent, err := q.Reserve(ctx, key, "me")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	update.Comment = "second edit"
	if err := q.Enqueue(ctx, update); err != nil {
		t.Fatalf("enqueue edit: %v", err)
	}

	if err := q.MarkSynced(ctx, sent, "me", worklog.Worklog{ID: "100", Issue: update.Issue, Start: t0, End: t0.Add(time.Hour)}, false); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	item, ok, err := q.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("replacement must stay queued: ok=%t err=%v", ok, err)
	}
	if item.Reserved() || item.Comment != "second edit" {
		t.Fatalf("unexpected replacement %+v", item)
	}

	// The next reservation sends the replacement and removes it.
	next, err := q.Reserve(ctx, key, "me")
	if err != nil {
		t.Fatalf("reserve replacement: %v", err)
	}
	if err := q.MarkSynced(ctx, next, "me", worklog.Worklog{ID: "100", Issue: update.Issue, Comment: "second edit", Start: t0, End: t0.Add(time.Hour)}, false); err != nil {
		t.Fatalf("mark replacement: %v", err)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("expected empty queue, got %d", n)
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := newTestQueue(storage.NewMemoryStore(), &fakeClock{now: t0}, &aliveSet{})

	if err := q.Discard(ctx, worklog.Key{TempID: "missing"}); !errors.Is(err, ErrNotQueued) {
		t.Fatalf("expected ErrNotQueued, got %v", err)
	}

	for _, id := range []string{"a", "b"} {
		if err := q.Enqueue(ctx, createOp(id)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if _, err := q.Reserve(ctx, worklog.Key{TempID: "b"}, "other"); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if err := q.Discard(ctx, worklog.Key{TempID: "a"}); err != nil {
		t.Fatalf("discard free item: %v", err)
	}
	if err := q.Discard(ctx, worklog.Key{TempID: "b"}); !errors.Is(err, ErrItemReserved) {
		t.Fatalf("expected ErrItemReserved, got %v", err)
	}
	if n, _ := q.Len(ctx); n != 1 {
		t.Fatalf("expected one remaining item, got %d", n)
	}
}

func TestGuard_BoundedWait(t *testing.T) {
	t.Parallel()

	q := New(storage.NewMemoryStore(), Options{Liveness: &aliveSet{}, GuardWait: 20 * time.Millisecond})
	q.guard <- struct{}{}
	defer func() { <-q.guard }()

	err := q.Enqueue(context.Background(), createOp("a"))
	if !errors.Is(err, ErrQueueBusy) {
		t.Fatalf("expected ErrQueueBusy, got %v", err)
	}
}

func TestEligible(t *testing.T) {
	t.Parallel()

	item := createOp("a")
	if !Eligible(item, t0) {
		t.Fatalf("unreserved item must be eligible")
	}
	expires := t0.Add(time.Minute)
	item.SyncTabID = "x"
	item.SyncTimeout = &expires
	if Eligible(item, t0) {
		t.Fatalf("reserved item before timeout must not be eligible")
	}
	if !Eligible(item, expires) {
		t.Fatalf("reserved item at timeout must be eligible")
	}
}
