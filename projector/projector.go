// Package projector merges the sync queue with the last known remote snapshot
// into the worklog list shown to users.
package projector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gotrack/storage"
	"gotrack/worklog"
)

const DefaultTTL = 15 * time.Minute

// Fetcher loads confirmed worklogs from the remote.
type Fetcher interface {
	Fetch(ctx context.Context, from, to time.Time) ([]worklog.Worklog, error)
}

type Options struct {
	TTL    time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

type Projector struct {
	store  storage.Store
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func New(store storage.Store, opts Options) *Projector {
	p := &Projector{store: store, ttl: opts.TTL, now: opts.Now, logger: opts.Logger}
	if p.ttl <= 0 {
		p.ttl = DefaultTTL
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Merge returns one entry per worklog identity. Queued operations win over the
// cached remote state and are marked pending.
func Merge(queue []worklog.Temporary, cache []worklog.Worklog) []worklog.Entry {
	entries := make([]worklog.Entry, 0, len(cache)+len(queue))
	byID := make(map[string]int, len(cache))
	for _, w := range cache {
		if _, seen := byID[w.ID]; seen {
			continue
		}
		byID[w.ID] = len(entries)
		entries = append(entries, worklog.Entry{
			ID:      w.ID,
			Issue:   w.Issue,
			Comment: w.Comment,
			Start:   w.Start,
			End:     w.End,
			Synced:  true,
		})
	}

	for _, item := range queue {
		pending := worklog.Entry{
			ID:        item.ID,
			TempID:    item.TempID,
			Issue:     item.Issue,
			Comment:   item.Comment,
			Start:     item.Start,
			End:       item.End,
			Deleting:  item.Delete,
			SyncError: item.SyncError,
		}
		i, known := byID[item.ID]
		if item.ID == "" || !known {
			if item.ID != "" {
				byID[item.ID] = len(entries)
			}
			entries = append(entries, pending)
			continue
		}
		if item.Delete {
			// Delete operations carry no worklog fields of their own.
			cached := entries[i]
			cached.Synced = false
			cached.Deleting = true
			cached.SyncError = item.SyncError
			entries[i] = cached
			continue
		}
		entries[i] = pending
	}

	worklog.SortEntries(entries)
	return entries
}

// List returns the merged entries starting in [from, to). Zero bounds are open.
func (p *Projector) List(ctx context.Context, from, to time.Time) ([]worklog.Entry, error) {
	queue, err := storage.GetJSON[[]worklog.Temporary](ctx, p.store, storage.KeyQueue)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	cache, err := storage.GetJSON[worklog.Cache](ctx, p.store, storage.KeyWorklogs)
	if err != nil {
		return nil, fmt.Errorf("read worklog cache: %w", err)
	}

	merged := Merge(queue, cache.Data)
	out := merged[:0]
	for _, entry := range merged {
		if inRange(entry.Start, from, to) {
			out = append(out, entry)
		}
	}
	return out, nil
}

// Refresh replaces the cached worklogs of [from, to) with the remote state once
// the cache expired, or always when force is set. It reports whether it fetched.
// Worklogs folded in or removed by a sync that finished while the fetch was
// running keep that newer state.
func (p *Projector) Refresh(ctx context.Context, fetcher Fetcher, from, to time.Time, force bool) (bool, error) {
	now := p.now()
	before, err := storage.GetJSON[worklog.Cache](ctx, p.store, storage.KeyWorklogs)
	if err != nil {
		return false, fmt.Errorf("read worklog cache: %w", err)
	}
	if !force && now.Before(before.ValidUntil) {
		return false, nil
	}
	known := make(map[string]bool, len(before.Data))
	for _, w := range before.Data {
		known[w.ID] = true
	}

	fetched, err := fetcher.Fetch(ctx, from, to)
	if err != nil {
		return false, fmt.Errorf("fetch worklogs %s..%s: %w", from.Format(time.DateOnly), to.Format(time.DateOnly), err)
	}

	err = storage.UpdateJSON(ctx, p.store, storage.KeyWorklogs, func(cache *worklog.Cache) error {
		present := make(map[string]bool, len(cache.Data))
		kept := cache.Data[:0]
		for _, w := range cache.Data {
			present[w.ID] = true
			if !inRange(w.Start, from, to) || !known[w.ID] {
				kept = append(kept, w)
			}
		}
		cache.Data = kept
		for _, w := range fetched {
			if known[w.ID] && !present[w.ID] {
				continue
			}
			cache.Put(w)
		}
		cache.ValidUntil = now.Add(p.ttl)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("write worklog cache: %w", err)
	}
	p.logger.Debug("worklog cache refreshed", slog.Int("worklogs", len(fetched)), slog.Time("valid_until", now.Add(p.ttl)))
	return true, nil
}

func inRange(start, from, to time.Time) bool {
	if !from.IsZero() && start.Before(from) {
		return false
	}
	if !to.IsZero() && !start.Before(to) {
		return false
	}
	return true
}
