package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"gotrack/worklog"
)

func newTestDatacenter(t *testing.T, fn roundTripFunc) *DatacenterAdapter {
	t.Helper()

	adapter, err := NewDatacenterAdapter(Config{
		JiraURL:   "https://jira.example.test/",
		User:      "jdoe",
		APIToken:  "secret",
		Location:  time.UTC,
		Transport: fn,
	})
	if err != nil {
		t.Fatalf("new datacenter adapter: %v", err)
	}
	return adapter
}

func checkBasicAuth(t *testing.T, r *http.Request) {
	t.Helper()
	user, pass, ok := r.BasicAuth()
	if !ok || user != "jdoe" || pass != "secret" {
		t.Fatalf("unexpected basic auth %q/%q (%v)", user, pass, ok)
	}
}

func TestDatacenter_FetchSearchesByWorker(t *testing.T) {
	t.Parallel()

	adapter := newTestDatacenter(t, func(r *http.Request) (*http.Response, error) {
		checkBasicAuth(t, r)
		if r.Method != http.MethodPost || r.URL.Path != "/rest/tempo-timesheets/4/worklogs/search" {
			return nil, fmt.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var search datacenterSearch
		if err := json.NewDecoder(r.Body).Decode(&search); err != nil {
			t.Fatalf("decode search: %v", err)
		}
		if search.From != "2026-03-02" || search.To != "2026-03-08" || len(search.Worker) != 1 || search.Worker[0] != "jdoe" {
			t.Fatalf("unexpected search %+v", search)
		}
		return jsonResponse(http.StatusOK, []datacenterWorklog{{
			TempoWorklogID:   77,
			OriginTaskID:     "10001",
			Issue:            datacenterIssue{ID: 10001, Key: "OPS-1", Summary: "Operations"},
			Comment:          "on call",
			Started:          "2026-03-03 09:15:00.000",
			TimeSpentSeconds: 5400,
		}}), nil
	})

	got, err := adapter.Fetch(context.Background(),
		time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 worklog, got %d", len(got))
	}
	w := got[0]
	if w.ID != "77" || w.Issue.Key != "OPS-1" || w.Issue.ID != "10001" || w.Issue.Name != "Operations" {
		t.Fatalf("unexpected worklog %+v", w)
	}
	if !w.Start.Equal(time.Date(2026, 3, 3, 9, 15, 0, 0, time.UTC)) || w.Duration() != 90*time.Minute || !w.Synced {
		t.Fatalf("unexpected times %+v", w)
	}
}

func TestDatacenter_CreateReadsArrayResponse(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 3, 13, 0, 0, 0, time.UTC)
	adapter := newTestDatacenter(t, func(r *http.Request) (*http.Response, error) {
		var input datacenterWorklogInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			t.Fatalf("decode input: %v", err)
		}
		if input.OriginTaskID != "OPS-2" || input.Started != "2026-03-03 13:00:00.000" || input.TimeSpentSeconds != 1800 || input.Worker != "jdoe" {
			t.Fatalf("unexpected input %+v", input)
		}
		return jsonResponse(http.StatusOK, []datacenterWorklog{{
			TempoWorklogID:   501,
			Issue:            datacenterIssue{ID: 10002, Key: "OPS-2"},
			Comment:          input.Comment,
			Started:          input.Started,
			TimeSpentSeconds: input.TimeSpentSeconds,
		}}), nil
	})

	created, err := adapter.Create(context.Background(), worklog.Temporary{
		TempID:  "t1",
		Issue:   worklog.Issue{Key: "OPS-2"},
		Comment: " review ",
		Start:   start,
		End:     start.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "501" || created.Comment != "review" || created.Issue.Key != "OPS-2" {
		t.Fatalf("unexpected created worklog %+v", created)
	}
}

func TestDatacenter_UpdateMovesToNewIssue(t *testing.T) {
	t.Parallel()

	var calls []string
	adapter := newTestDatacenter(t, func(r *http.Request) (*http.Response, error) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/rest/tempo-timesheets/4/worklogs/42":
			return textResponse(http.StatusBadRequest, `{"errors":{"issue":"cannot change issue"}}`), nil
		case "/rest/tempo-timesheets/4/worklogs/42/move":
			var input datacenterWorklogInput
			if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
				t.Fatalf("decode move: %v", err)
			}
			if input.OriginTaskID != "NEW-9" || input.Comment != "moved" {
				t.Fatalf("move carried wrong payload %+v", input)
			}
			return jsonResponse(http.StatusOK, datacenterWorklog{
				TempoWorklogID:   42,
				Issue:            datacenterIssue{ID: 20009, Key: "NEW-9", Summary: "New"},
				Comment:          input.Comment,
				Started:          input.Started,
				TimeSpentSeconds: input.TimeSpentSeconds,
			}), nil
		default:
			return nil, fmt.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	start := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	updated, err := adapter.Update(context.Background(), worklog.Temporary{
		ID:          "42",
		Issue:       worklog.Issue{Key: "NEW-9"},
		OriginIssue: &worklog.Issue{Key: "OLD-1", ID: "10001"},
		Comment:     "moved",
		Start:       start,
		End:         start.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(calls) != 2 || calls[0] != "PUT /rest/tempo-timesheets/4/worklogs/42" || calls[1] != "PUT /rest/tempo-timesheets/4/worklogs/42/move" {
		t.Fatalf("unexpected calls %v", calls)
	}
	if updated.Issue.Key != "NEW-9" || updated.ID != "42" {
		t.Fatalf("expected worklog on new issue, got %+v", updated)
	}
}

func TestDatacenter_UpdateRejectedWithoutIssueChangeDoesNotMove(t *testing.T) {
	t.Parallel()

	calls := 0
	adapter := newTestDatacenter(t, func(r *http.Request) (*http.Response, error) {
		calls++
		return textResponse(http.StatusBadRequest, "bad comment"), nil
	})

	start := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	_, err := adapter.Update(context.Background(), worklog.Temporary{
		ID:          "42",
		Issue:       worklog.Issue{Key: "OLD-1"},
		OriginIssue: &worklog.Issue{Key: "OLD-1"},
		Start:       start,
		End:         start.Add(time.Hour),
	})
	if !errors.Is(err, ErrRemoteRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one request, got %d", calls)
	}
}

func TestDatacenter_DeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	deleted := false
	adapter := newTestDatacenter(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodDelete || r.URL.Path != "/rest/tempo-timesheets/4/worklogs/9" {
			return nil, fmt.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if deleted {
			return textResponse(http.StatusNotFound, `{"errors":{"id":"Worklog with id 9 does not exist"}}`), nil
		}
		deleted = true
		return textResponse(http.StatusNoContent, ""), nil
	})

	for i := 0; i < 2; i++ {
		if err := adapter.Delete(context.Background(), "9"); err != nil {
			t.Fatalf("delete attempt %d: %v", i+1, err)
		}
	}
}

func TestDatacenter_LookupIssueUsesJiraV2(t *testing.T) {
	t.Parallel()

	adapter := newTestDatacenter(t, func(r *http.Request) (*http.Response, error) {
		checkBasicAuth(t, r)
		if r.URL.Path != "/rest/api/2/issue/OPS-3" || r.URL.Query().Get("fields") != "summary" {
			return nil, fmt.Errorf("unexpected request %s", r.URL.String())
		}
		return textResponse(http.StatusOK, `{"id":"10003","key":"OPS-3","fields":{"summary":"Patch servers"}}`), nil
	})

	issue, err := adapter.LookupIssue(context.Background(), "OPS-3")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if issue != (worklog.Issue{ID: "10003", Key: "OPS-3", Name: "Patch servers"}) {
		t.Fatalf("unexpected issue %+v", issue)
	}
}
