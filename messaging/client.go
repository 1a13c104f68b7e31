package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gotrack/internal/timeutil"
	"gotrack/worklog"
)

const (
	DefaultListenAddr      = "127.0.0.1:47615"
	DefaultResponseTimeout = 60 * time.Second
)

// ErrNoResponse means the daemon did not answer: it is not running, the
// connection failed, or no reply arrived within the response timeout.
var ErrNoResponse = errors.New("no response from daemon")

// Failure is a reply the daemon sent with a non-2xx status.
type Failure struct {
	Status  int
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("daemon replied with status %d: %s", f.Status, f.Message)
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	baseURL string
	doer    httpDoer
}

// NewClient talks to the daemon listening on addr. A zero timeout uses
// DefaultResponseTimeout.
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}
	return &Client{
		baseURL: baseURL(addr),
		doer:    &http.Client{Timeout: timeout},
	}
}

func baseURL(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = DefaultListenAddr
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	return "http://" + addr
}

// Request sends one JSON request and decodes the reply into out.
func (c *Client) Request(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrNoResponse, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var failure errorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		message := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &failure) == nil && failure.Error != "" {
			message = failure.Error
		}
		return &Failure{Status: resp.StatusCode, Message: message}
	}
	if out == nil {
		return nil
	}
	if err := decodeJSON(resp.Body, out); err != nil {
		return fmt.Errorf("%w: decode reply %s %s: %v", ErrNoResponse, method, path, err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) (HealthResponse, error) {
	var health HealthResponse
	err := c.Request(ctx, http.MethodGet, "/healthz", nil, &health)
	return health, err
}

func (c *Client) Flush(ctx context.Context) (FlushResponse, error) {
	var response FlushResponse
	err := c.Request(ctx, http.MethodPost, "/api/flush", nil, &response)
	return response, err
}

func (c *Client) Tick(ctx context.Context) (TickResponse, error) {
	var response TickResponse
	err := c.Request(ctx, http.MethodPost, "/api/tick", nil, &response)
	return response, err
}

func (c *Client) Tracking(ctx context.Context) (TrackingResponse, error) {
	var response TrackingResponse
	err := c.Request(ctx, http.MethodGet, "/api/tracking", nil, &response)
	return response, err
}

// Worklogs lists the merged entries of the days from..to, both inclusive.
func (c *Client) Worklogs(ctx context.Context, from, to time.Time) ([]worklog.Entry, error) {
	query := url.Values{}
	query.Set("from", from.Format(timeutil.DayLayout))
	query.Set("to", to.Format(timeutil.DayLayout))
	var entries []worklog.Entry
	err := c.Request(ctx, http.MethodGet, "/api/worklogs?"+query.Encode(), nil, &entries)
	return entries, err
}
