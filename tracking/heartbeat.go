package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gotrack/storage"
	"gotrack/worklog"
)

// errNoChange aborts a tracking update that has nothing to write.
var errNoChange = errors.New("no change")

// Gap is a stretch of a running session in which no heartbeat was observed.
type Gap struct {
	Issue          worklog.Issue
	Comment        string
	Start          time.Time
	LastHeartbeat  time.Time
	FirstHeartbeat time.Time
}

func gapOf(current worklog.Tracking) (Gap, bool) {
	if current.State() != worklog.GapPending {
		return Gap{}, false
	}
	return Gap{
		Issue:          *current.Issue,
		Comment:        current.Comment,
		Start:          *current.Start,
		LastHeartbeat:  *current.LastHeartbeat,
		FirstHeartbeat: *current.FirstHeartbeat,
	}, true
}

func (g Gap) Duration() time.Duration {
	return g.FirstHeartbeat.Sub(g.LastHeartbeat)
}

// Worklog returns the entry for the work observed before the gap.
func (g Gap) Worklog() worklog.Temporary {
	return worklog.Temporary{
		TempID:  worklog.NewTempID(),
		Issue:   g.Issue,
		Comment: g.Comment,
		Start:   g.Start,
		End:     g.LastHeartbeat,
	}
}

// Tick records a heartbeat at now. When the previous heartbeat is at least
// GapThreshold old the silence becomes the pending gap, which is returned.
// A heartbeat never moves backwards, never precedes the session start and a
// pending gap is never replaced.
func (t *Tracker) Tick(ctx context.Context, now time.Time) (*Gap, error) {
	var detected *Gap
	err := storage.UpdateJSON(ctx, t.store, storage.KeyTracking, func(current *worklog.Tracking) error {
		detected = nil
		state := current.State()
		if state == worklog.Idle {
			return errNoChange
		}
		if now.Before(*current.Start) {
			// The session was started ahead of time.
			return errNoChange
		}
		beat := now
		last := current.Heartbeat
		if last != nil && now.Before(*last) {
			return errNoChange
		}
		if state == worklog.Active && last != nil && now.Sub(*last) >= GapThreshold {
			previous := *last
			first := now
			current.LastHeartbeat = &previous
			current.FirstHeartbeat = &first
			if gap, ok := gapOf(*current); ok {
				detected = &gap
			}
		}
		current.Heartbeat = &beat
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("record heartbeat: %w", err)
	}
	if detected != nil {
		t.logger.Info(
			"tracking gap detected",
			slog.String("issue", detected.Issue.String()),
			slog.Time("last_heartbeat", detected.LastHeartbeat),
			slog.Duration("gap", detected.Duration()),
		)
	}
	return detected, nil
}

func (t *Tracker) PendingGap(ctx context.Context) (Gap, bool, error) {
	current, err := t.Current(ctx)
	if err != nil {
		return Gap{}, false, err
	}
	gap, ok := gapOf(current)
	return gap, ok, nil
}

// DiscardGap keeps the session running as if no gap had happened.
func (t *Tracker) DiscardGap(ctx context.Context) error {
	err := storage.UpdateJSON(ctx, t.store, storage.KeyTracking, func(current *worklog.Tracking) error {
		if current.State() != worklog.GapPending {
			return ErrNoGap
		}
		current.LastHeartbeat = nil
		current.FirstHeartbeat = nil
		return nil
	})
	if err != nil && !errors.Is(err, ErrNoGap) {
		return fmt.Errorf("discard gap: %w", err)
	}
	return err
}

// FixGap queues entry for the time before the gap and restarts the session at
// the first heartbeat after it.
func (t *Tracker) FixGap(ctx context.Context, entry worklog.Temporary) error {
	gap, ok, err := t.PendingGap(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoGap
	}
	if !entry.End.After(entry.Start) {
		return fmt.Errorf("%w: %s..%s", ErrEmptyWorklog, entry.Start.Format(time.RFC3339), entry.End.Format(time.RFC3339))
	}
	if entry.TempID == "" && entry.ID == "" {
		entry.TempID = worklog.NewTempID()
	}
	if err := t.queue.Enqueue(ctx, entry); err != nil {
		return fmt.Errorf("queue gap worklog: %w", err)
	}

	err = storage.UpdateJSON(ctx, t.store, storage.KeyTracking, func(current *worklog.Tracking) error {
		if current.State() != worklog.GapPending || !current.FirstHeartbeat.Equal(gap.FirstHeartbeat) {
			return errNoChange
		}
		restart := *current.FirstHeartbeat
		current.Start = &restart
		current.LastHeartbeat = nil
		current.FirstHeartbeat = nil
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve gap: %w", err)
	}
	return nil
}
