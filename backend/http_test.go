package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(r *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonResponse(status int, payload any) *http.Response {
	body, _ := json.Marshal(payload)
	return textResponse(status, string(body))
}

func textResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestDoJSON_ClassifiesStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   error
	}{
		{status: http.StatusBadRequest, want: ErrRemoteRejected},
		{status: http.StatusForbidden, want: ErrRemoteRejected},
		{status: http.StatusNotFound, want: ErrRemoteRejected},
		{status: http.StatusRequestTimeout, want: ErrRemoteUnavailable},
		{status: http.StatusTooManyRequests, want: ErrRemoteUnavailable},
		{status: http.StatusInternalServerError, want: ErrRemoteUnavailable},
		{status: http.StatusServiceUnavailable, want: ErrRemoteUnavailable},
	}

	for _, tc := range cases {
		client := &apiClient{
			baseURL: "https://example.test",
			doer: newHTTPClient(roundTripFunc(func(r *http.Request) (*http.Response, error) {
				return textResponse(tc.status, "nope"), nil
			})),
		}
		err := client.doJSON(context.Background(), http.MethodGet, "/x", nil, nil)
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		var remoteErr *RemoteError
		if !errors.As(err, &remoteErr) || remoteErr.Status != tc.status || remoteErr.Body != "nope" {
			t.Fatalf("status %d: unexpected remote error %#v", tc.status, err)
		}
	}
}

func TestDoJSON_TransportErrorIsUnavailable(t *testing.T) {
	t.Parallel()

	dialErr := errors.New("connection refused")
	client := &apiClient{
		baseURL: "https://example.test",
		doer: newHTTPClient(roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return nil, dialErr
		})),
	}
	err := client.doJSON(context.Background(), http.MethodGet, "/x", nil, nil)
	if !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if !errors.Is(err, dialErr) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
}

func TestDoJSON_HeadersAndAbsoluteURL(t *testing.T) {
	t.Parallel()

	var seen []string
	client := &apiClient{
		baseURL:   "https://example.test/api",
		userAgent: "gotrack-test",
		authorize: func(r *http.Request) { r.Header.Set("X-Auth", "yes") },
		doer: newHTTPClient(roundTripFunc(func(r *http.Request) (*http.Response, error) {
			seen = append(seen, r.URL.String())
			if r.Header.Get("X-Auth") != "yes" {
				t.Fatalf("missing authorization hook header")
			}
			if r.Header.Get("User-Agent") != "gotrack-test" {
				t.Fatalf("unexpected user agent %q", r.Header.Get("User-Agent"))
			}
			if r.Method == http.MethodPost && !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
				t.Fatalf("unexpected content type %q", r.Header.Get("Content-Type"))
			}
			return jsonResponse(http.StatusOK, map[string]string{"ok": "1"}), nil
		})),
	}

	var out map[string]string
	if err := client.doJSON(context.Background(), http.MethodPost, "/items", map[string]int{"a": 1}, &out); err != nil {
		t.Fatalf("post: %v", err)
	}
	if out["ok"] != "1" {
		t.Fatalf("unexpected decoded body %v", out)
	}
	if err := client.doJSON(context.Background(), http.MethodGet, "https://other.test/next?page=2", nil, &out); err != nil {
		t.Fatalf("get absolute: %v", err)
	}

	want := []string{"https://example.test/api/items", "https://other.test/next?page=2"}
	if len(seen) != len(want) || seen[0] != want[0] || seen[1] != want[1] {
		t.Fatalf("unexpected urls %v", seen)
	}
}

func TestIsWorklogGone(t *testing.T) {
	t.Parallel()

	gone := &RemoteError{Status: http.StatusNotFound, Body: `{"errors":[{"message":"Worklog not found"}]}`, Kind: ErrRemoteRejected}
	if !isWorklogGone(gone) {
		t.Fatalf("expected worklog 404 to count as gone")
	}
	issueMissing := &RemoteError{Status: http.StatusNotFound, Body: "Issue does not exist", Kind: ErrRemoteRejected}
	if isWorklogGone(issueMissing) {
		t.Fatalf("expected unrelated 404 not to count as gone")
	}
	if isWorklogGone(errors.New("worklog")) {
		t.Fatalf("expected plain error not to count as gone")
	}
}

func TestNew_SelectsAdapter(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Instance: "server"}); err == nil {
		t.Fatalf("expected unsupported instance error")
	}
	adapter, err := New(Config{Instance: "Datacenter", JiraURL: "https://jira.example.test/", User: "jdoe"})
	if err != nil {
		t.Fatalf("new datacenter: %v", err)
	}
	if _, ok := adapter.(*DatacenterAdapter); !ok {
		t.Fatalf("expected datacenter adapter, got %T", adapter)
	}
}
