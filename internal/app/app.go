// Package app builds the sync components of one execution context from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gotrack/backend"
	"gotrack/config"
	"gotrack/flush"
	"gotrack/liveness"
	"gotrack/messaging"
	"gotrack/projector"
	"gotrack/storage"
	"gotrack/syncqueue"
	"gotrack/tracking"
	"gotrack/worklog"
)

const userAgent = "gotrack/1.0"

type Options struct {
	// DBPath overrides storage.db.
	DBPath string
	// Memory keeps all state in process memory; nothing is persisted.
	Memory    bool
	Holder    string
	Transport http.RoundTripper
	Now       func() time.Time
	Logger    *slog.Logger
}

type App struct {
	Config   *config.Config
	Store    storage.Store
	Adapter  backend.Adapter
	Queue    *syncqueue.Queue
	Flusher  *flush.Engine
	Tracker  *tracking.Tracker
	Worklogs *projector.Projector
	Daemon   *messaging.Client
	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger

	closer io.Closer
}

func Open(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	a := &App{Config: cfg, Location: cfg.Location(), Now: opts.Now, Logger: opts.Logger}

	if opts.Memory {
		a.Store = storage.NewMemoryStore()
	} else {
		path := cfg.DBPath()
		if strings.TrimSpace(opts.DBPath) != "" {
			path = config.ExpandPath(opts.DBPath)
		}
		store, err := storage.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		a.Store = store
		a.closer = store
	}

	adapter, err := backend.New(backend.Config{
		Instance:   cfg.Backend.Instance,
		JiraURL:    cfg.Backend.JiraURL,
		TempoURL:   cfg.Backend.TempoURL,
		User:       cfg.Backend.User,
		Email:      cfg.Backend.Email,
		APIToken:   cfg.Backend.APIToken,
		TempoToken: cfg.Backend.TempoToken,
		UserAgent:  userAgent,
		Location:   a.Location,
		Transport:  opts.Transport,
		Issues:     backend.NewStoreIssueCache(a.Store),
		Logger:     opts.Logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Adapter = adapter

	a.Queue = syncqueue.New(a.Store, syncqueue.Options{
		Liveness:           liveness.ProcessChecker{},
		ReservationTimeout: cfg.Sync.ReservationTimeout,
		GuardWait:          cfg.Sync.GuardWait,
		Now:                opts.Now,
		Logger:             opts.Logger,
	})
	a.Flusher = flush.New(a.Queue, adapter, flush.Options{Holder: opts.Holder, Now: opts.Now, Logger: opts.Logger})
	a.Tracker = tracking.New(a.Store, a.Queue, tracking.Options{Now: opts.Now, Logger: opts.Logger})
	a.Worklogs = projector.New(a.Store, projector.Options{TTL: cfg.Sync.CacheTTL, Now: opts.Now, Logger: opts.Logger})
	a.Daemon = messaging.NewClient(cfg.Daemon.Listen, cfg.Sync.ResponseTimeout)

	return a, nil
}

func (a *App) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// ResolveIssue looks key up remotely and falls back to the bare key when the
// remote cannot be reached.
func (a *App) ResolveIssue(ctx context.Context, key string) (worklog.Issue, error) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if key == "" {
		return worklog.Issue{}, tracking.ErrNoIssue
	}
	issue, err := a.Adapter.LookupIssue(ctx, key)
	if err == nil {
		return issue, nil
	}
	if errors.Is(err, backend.ErrRemoteRejected) {
		return worklog.Issue{}, fmt.Errorf("lookup issue %s: %w", key, err)
	}
	a.Logger.Warn("issue lookup failed, using bare key", slog.String("issue", key), slog.String("error", err.Error()))
	return worklog.Issue{Key: key}, nil
}

// FindEntry returns the merged list entry for key, regardless of its date.
func (a *App) FindEntry(ctx context.Context, key worklog.Key) (worklog.Entry, bool, error) {
	entries, err := a.Worklogs.List(ctx, time.Time{}, time.Time{})
	if err != nil {
		return worklog.Entry{}, false, err
	}
	for _, entry := range entries {
		if entry.Key() == key {
			return entry, true, nil
		}
	}
	return worklog.Entry{}, false, nil
}

// Pending returns the queued operation for key, or one built from the cached entry.
func (a *App) Pending(ctx context.Context, key worklog.Key) (worklog.Temporary, error) {
	item, ok, err := a.Queue.Get(ctx, key)
	if err != nil {
		return worklog.Temporary{}, err
	}
	if ok {
		item.ClearReservation()
		item.SyncError = ""
		return item, nil
	}
	if key.TempID != "" {
		return worklog.Temporary{}, fmt.Errorf("%w: %s", syncqueue.ErrNotQueued, key)
	}

	entry, found, err := a.FindEntry(ctx, key)
	if err != nil {
		return worklog.Temporary{}, err
	}
	if !found {
		return worklog.Temporary{}, fmt.Errorf("worklog %s not found", key)
	}
	return worklog.FromWorklog(worklog.Worklog{
		ID:      entry.ID,
		Issue:   entry.Issue,
		Comment: entry.Comment,
		Start:   entry.Start,
		End:     entry.End,
		Synced:  true,
	}), nil
}
