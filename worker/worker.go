// Package worker runs the daemon's periodic cycle: heartbeat, flush and cache refresh.
package worker

import (
	"context"
	"log/slog"
	"time"

	"gotrack/flush"
	"gotrack/internal/timeutil"
	"gotrack/projector"
	"gotrack/tracking"
)

const DefaultInterval = time.Minute

type Ticker interface {
	Tick(ctx context.Context, now time.Time) (*tracking.Gap, error)
}

type Flusher interface {
	FlushAll(ctx context.Context) (flush.Report, error)
}

type Refresher interface {
	Refresh(ctx context.Context, fetcher projector.Fetcher, from, to time.Time, force bool) (bool, error)
}

type Config struct {
	Interval time.Duration
	Tracker  Ticker
	Flusher  Flusher
	Cache    Refresher
	Fetcher  projector.Fetcher
	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger
}

type Worker struct {
	cfg Config
}

func New(cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{cfg: cfg}
}

// Run performs one cycle immediately and then one per interval until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	w.cfg.Logger.Info("worker started", slog.Duration("interval", w.cfg.Interval))
	w.Cycle(ctx)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.cfg.Logger.Info("worker stopped")
			return nil
		case <-ticker.C:
			w.Cycle(ctx)
		}
	}
}

// Cycle runs every step once. A failing step is logged and retried next cycle.
func (w *Worker) Cycle(ctx context.Context) {
	now := w.cfg.Now()
	logger := w.cfg.Logger

	if w.cfg.Tracker != nil {
		gap, err := w.cfg.Tracker.Tick(ctx, now)
		if err != nil {
			logger.Warn("heartbeat failed", slog.String("error", err.Error()))
		} else if gap != nil {
			logger.Info("gap awaiting resolution", slog.String("issue", gap.Issue.String()), slog.Duration("gap", gap.Duration()))
		}
	}

	if w.cfg.Flusher != nil {
		if _, err := w.cfg.Flusher.FlushAll(ctx); err != nil {
			logger.Warn("flush failed", slog.String("error", err.Error()))
		}
	}

	if w.cfg.Cache != nil && w.cfg.Fetcher != nil {
		from, to := timeutil.WeekRange(now.In(w.cfg.Location))
		if _, err := w.cfg.Cache.Refresh(ctx, w.cfg.Fetcher, from, to, false); err != nil {
			logger.Warn("cache refresh failed", slog.String("error", err.Error()))
		}
	}
}
