// Package tracking owns the single running tracking session and the heartbeat
// bookkeeping that detects gaps in it.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gotrack/storage"
	"gotrack/worklog"
)

const (
	// MinDuration is the shortest session that is recorded on stop.
	MinDuration = 30 * time.Second
	// GapThreshold is the heartbeat silence that turns into a pending gap.
	GapThreshold = 30 * time.Minute
)

var (
	ErrNotTracking = errors.New("no tracking session is active")
	ErrNoGap       = errors.New("no gap is pending")
	ErrNoIssue     = errors.New("issue is required")

	// ErrEmptyWorklog means the worklog for a gap would not cover any time.
	ErrEmptyWorklog = errors.New("nothing was tracked before the gap")
)

// Enqueuer receives the worklogs produced by tracking transitions.
type Enqueuer interface {
	Enqueue(ctx context.Context, item worklog.Temporary) error
}

type Options struct {
	Now    func() time.Time
	Logger *slog.Logger
}

type Tracker struct {
	store  storage.Store
	queue  Enqueuer
	now    func() time.Time
	logger *slog.Logger
}

func New(store storage.Store, queue Enqueuer, opts Options) *Tracker {
	t := &Tracker{store: store, queue: queue, now: opts.Now, logger: opts.Logger}
	if t.now == nil {
		t.now = time.Now
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

func (t *Tracker) Current(ctx context.Context) (worklog.Tracking, error) {
	current, err := storage.GetJSON[worklog.Tracking](ctx, t.store, storage.KeyTracking)
	if err != nil {
		return worklog.Tracking{}, fmt.Errorf("read tracking: %w", err)
	}
	return current, nil
}

// Start begins tracking issue at at. A running session is stopped at the same
// instant first; its worklog, if one was recorded, is returned.
func (t *Tracker) Start(ctx context.Context, issue worklog.Issue, at time.Time) (*worklog.Temporary, error) {
	if issue.IsZero() {
		return nil, ErrNoIssue
	}
	current, err := t.Current(ctx)
	if err != nil {
		return nil, err
	}

	var stopped *worklog.Temporary
	if current.State() != worklog.Idle {
		if at.Before(*current.Start) {
			return nil, fmt.Errorf("start %s is before the running session started at %s", at.Format(time.RFC3339), current.Start.Format(time.RFC3339))
		}
		stopped, err = t.record(ctx, current, at)
		if err != nil {
			return nil, err
		}
	}

	startAt := at
	next := worklog.Tracking{Issue: &issue, Start: &startAt}
	if err := storage.SetJSON(ctx, t.store, storage.KeyTracking, next); err != nil {
		return stopped, fmt.Errorf("write tracking: %w", err)
	}
	t.logger.Debug("tracking started", slog.String("issue", issue.String()), slog.Time("at", at))
	return stopped, nil
}

// Stop ends the running session at at. Sessions shorter than MinDuration are
// dropped without a worklog.
func (t *Tracker) Stop(ctx context.Context, at time.Time) (*worklog.Temporary, error) {
	current, err := t.Current(ctx)
	if err != nil {
		return nil, err
	}
	if current.State() == worklog.Idle {
		return nil, ErrNotTracking
	}
	stopped, err := t.record(ctx, current, at)
	if err != nil {
		return nil, err
	}
	if err := t.clear(ctx, current); err != nil {
		return stopped, err
	}
	return stopped, nil
}

// Split records the running session up to at and keeps tracking the same
// issue from at.
func (t *Tracker) Split(ctx context.Context, at time.Time) (*worklog.Temporary, error) {
	current, err := t.Current(ctx)
	if err != nil {
		return nil, err
	}
	if current.State() == worklog.Idle {
		return nil, ErrNotTracking
	}
	return t.Start(ctx, *current.Issue, at)
}

// Abort drops the running session without recording it.
func (t *Tracker) Abort(ctx context.Context) error {
	current, err := t.Current(ctx)
	if err != nil {
		return err
	}
	if current.State() == worklog.Idle {
		return ErrNotTracking
	}
	return t.clear(ctx, current)
}

func (t *Tracker) SetComment(ctx context.Context, comment string) error {
	err := storage.UpdateJSON(ctx, t.store, storage.KeyTracking, func(current *worklog.Tracking) error {
		if current.State() == worklog.Idle {
			return ErrNotTracking
		}
		current.Comment = strings.TrimSpace(comment)
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotTracking) {
		return fmt.Errorf("update tracking comment: %w", err)
	}
	return err
}

// record enqueues the worklog for current ending at at.
func (t *Tracker) record(ctx context.Context, current worklog.Tracking, at time.Time) (*worklog.Temporary, error) {
	elapsed := at.Sub(*current.Start)
	if elapsed < MinDuration {
		t.logger.Debug("session too short, not recorded", slog.Duration("elapsed", elapsed))
		return nil, nil
	}
	item := worklog.Temporary{
		TempID:  worklog.NewTempID(),
		Issue:   *current.Issue,
		Comment: current.Comment,
		Start:   *current.Start,
		End:     at,
	}
	if err := t.queue.Enqueue(ctx, item); err != nil {
		return nil, fmt.Errorf("queue worklog for %s: %w", current.Issue, err)
	}
	return &item, nil
}

// clear resets tracking to idle unless another context already replaced the
// session that was read.
func (t *Tracker) clear(ctx context.Context, read worklog.Tracking) error {
	err := storage.UpdateJSON(ctx, t.store, storage.KeyTracking, func(current *worklog.Tracking) error {
		if current.State() != worklog.Idle && current.Start.Equal(*read.Start) {
			*current = worklog.Tracking{}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear tracking: %w", err)
	}
	return nil
}
