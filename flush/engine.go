// Package flush drains the sync queue against a backend adapter.
package flush

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"gotrack/backend"
	"gotrack/liveness"
	"gotrack/syncqueue"
	"gotrack/worklog"
)

type Options struct {
	// Holder names this execution context in reservations.
	Holder string
	Now    func() time.Time
	Logger *slog.Logger
}

// Engine runs at most one flush at a time per instance.
type Engine struct {
	queue   *syncqueue.Queue
	adapter backend.Adapter
	holder  string
	now     func() time.Time
	logger  *slog.Logger

	running atomic.Bool
}

type Failure struct {
	Key worklog.Key
	Err error
}

// Report summarizes one flush run.
type Report struct {
	// Skipped is set when another run of the same engine was in progress.
	Skipped  bool
	Synced   int
	Denied   int
	Failures []Failure
}

func (r Report) Failed() int { return len(r.Failures) }

func (r Report) String() string {
	if r.Skipped {
		return "flush already running"
	}
	return fmt.Sprintf("synced=%d failed=%d denied=%d", r.Synced, r.Failed(), r.Denied)
}

func New(queue *syncqueue.Queue, adapter backend.Adapter, opts Options) *Engine {
	e := &Engine{
		queue:   queue,
		adapter: adapter,
		holder:  opts.Holder,
		now:     opts.Now,
		logger:  opts.Logger,
	}
	if e.holder == "" {
		e.holder = liveness.NewContextID()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

func (e *Engine) Holder() string { return e.holder }

// FlushAll sends every eligible queued operation once. Item failures are
// recorded in the report; only failing to read the queue at all is returned.
func (e *Engine) FlushAll(ctx context.Context) (Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Debug("flush skipped, already running")
		return Report{Skipped: true}, nil
	}
	defer e.running.Store(false)

	report := Report{}
	items, err := e.queue.List(ctx)
	if err != nil {
		return report, fmt.Errorf("start flush: %w", err)
	}

	tried := make(map[worklog.Key]bool, len(items))
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		item, ok := nextEligible(items, tried, e.now())
		if !ok {
			break
		}
		key := item.Key()
		tried[key] = true
		e.flushOne(ctx, key, &report)

		items, err = e.queue.List(ctx)
		if err != nil {
			e.logger.Warn("flush stopped, queue unreadable", slog.String("error", err.Error()))
			break
		}
	}

	if report.Synced > 0 || len(report.Failures) > 0 {
		e.logger.Info(
			"flush finished",
			slog.Int("synced", report.Synced),
			slog.Int("failed", report.Failed()),
			slog.Int("denied", report.Denied),
		)
	}
	return report, nil
}

func (e *Engine) flushOne(ctx context.Context, key worklog.Key, report *Report) {
	logger := e.logger.With(slog.String("key", key.String()), slog.String("holder", e.holder))

	item, err := e.queue.Reserve(ctx, key, e.holder)
	if err != nil {
		if errors.Is(err, syncqueue.ErrReservationDenied) {
			report.Denied++
			return
		}
		logger.Warn("reserve failed", slog.String("error", err.Error()))
		report.Failures = append(report.Failures, Failure{Key: key, Err: err})
		return
	}

	// Once reserved, the remote call and its bookkeeping run to completion even
	// when ctx is cancelled; a remote write must never be left unrecorded.
	settle := context.WithoutCancel(ctx)

	result, deleted, err := e.dispatch(settle, item)
	if err != nil {
		logger.Warn("sync failed", slog.String("error", err.Error()))
		e.release(settle, key, err, logger)
		report.Failures = append(report.Failures, Failure{Key: key, Err: err})
		return
	}

	if err := e.queue.MarkSynced(settle, item, e.holder, result, deleted); err != nil {
		// The remote write happened; the reservation expires and the item is resent.
		logger.Error("mark synced failed", slog.String("error", err.Error()))
		report.Failures = append(report.Failures, Failure{Key: key, Err: err})
		return
	}
	logger.Debug("synced", slog.String("id", result.ID), slog.Bool("deleted", deleted))
	report.Synced++
}

func (e *Engine) dispatch(ctx context.Context, item worklog.Temporary) (worklog.Worklog, bool, error) {
	switch {
	case item.Delete:
		if err := e.adapter.Delete(ctx, item.ID); err != nil {
			return worklog.Worklog{}, true, fmt.Errorf("delete worklog %s: %w", item.ID, err)
		}
		return worklog.Worklog{ID: item.ID, Issue: item.Issue}, true, nil
	case item.IsUpdate():
		result, err := e.adapter.Update(ctx, item)
		if err != nil {
			return worklog.Worklog{}, false, fmt.Errorf("update worklog %s: %w", item.ID, err)
		}
		return result, false, nil
	default:
		result, err := e.adapter.Create(ctx, item)
		if err != nil {
			return worklog.Worklog{}, false, fmt.Errorf("create worklog on %s: %w", item.Issue, err)
		}
		return result, false, nil
	}
}

func (e *Engine) release(ctx context.Context, key worklog.Key, cause error, logger *slog.Logger) {
	if err := e.queue.Unreserve(ctx, key, e.holder, cause); err != nil {
		logger.Warn("unreserve failed", slog.String("error", err.Error()))
	}
}

func nextEligible(items []worklog.Temporary, tried map[worklog.Key]bool, now time.Time) (worklog.Temporary, bool) {
	for _, item := range items {
		if tried[item.Key()] {
			continue
		}
		if syncqueue.Eligible(item, now) {
			return item, true
		}
	}
	return worklog.Temporary{}, false
}
