// Package backend translates generic worklog operations into requests against
// one concrete remote worklog API and maps the responses back to the
// canonical worklog shape.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gotrack/worklog"
)

const (
	InstanceCloud      = "cloud"
	InstanceDatacenter = "datacenter"
)

var (
	// ErrRemoteUnavailable covers network errors, timeouts and server-side failures.
	ErrRemoteUnavailable = errors.New("remote unavailable")
	// ErrRemoteRejected covers client errors; the request will not succeed unchanged.
	ErrRemoteRejected = errors.New("rejected by remote")
)

// Adapter is implemented once per remote API.
type Adapter interface {
	Fetch(ctx context.Context, from, to time.Time) ([]worklog.Worklog, error)
	Create(ctx context.Context, op worklog.Temporary) (worklog.Worklog, error)
	Update(ctx context.Context, op worklog.Temporary) (worklog.Worklog, error)
	// Delete treats an entry that no longer exists as deleted.
	Delete(ctx context.Context, id string) error
	LookupIssue(ctx context.Context, key string) (worklog.Issue, error)
}

type Config struct {
	Instance string
	JiraURL  string
	// TempoURL is the Tempo Cloud API root; unused for datacenter.
	TempoURL string
	// User is the Atlassian account id (cloud) or the Jira user name (datacenter).
	User       string
	Email      string
	APIToken   string
	TempoToken string
	UserAgent  string
	Location   *time.Location
	Transport  http.RoundTripper
	Issues     IssueCache
	Logger     *slog.Logger
}

// New returns the adapter selected by cfg.Instance.
func New(cfg Config) (Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Instance)) {
	case InstanceCloud:
		return NewCloudAdapter(cfg)
	case InstanceDatacenter:
		return NewDatacenterAdapter(cfg)
	default:
		return nil, fmt.Errorf("unsupported backend instance %q (valid: cloud, datacenter)", cfg.Instance)
	}
}

// RemoteError describes a failed remote call. It matches ErrRemoteUnavailable
// or ErrRemoteRejected with errors.Is.
type RemoteError struct {
	Method string
	Path   string
	Status int
	Body   string
	Kind   error
	Err    error
}

func (e *RemoteError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: request %s %s failed with status %d: %s", e.Kind, e.Method, e.Path, e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: request %s %s failed: %v", e.Kind, e.Method, e.Path, e.Err)
	default:
		return fmt.Sprintf("%s: request %s %s failed", e.Kind, e.Method, e.Path)
	}
}

func (e *RemoteError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// isWorklogGone reports a 404 whose body says the worklog does not exist.
func isWorklogGone(err error) bool {
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) || remoteErr.Status != http.StatusNotFound {
		return false
	}
	return strings.Contains(strings.ToLower(remoteErr.Body), "worklog")
}

func defaultLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func spentSeconds(start, end time.Time) int {
	return int(end.Sub(start) / time.Second)
}
