package worklog

import (
	"testing"
	"time"
)

func TestTemporaryValidate(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	issue := Issue{Key: "ABC-1"}

	cases := []struct {
		name    string
		item    Temporary
		wantErr bool
	}{
		{name: "create", item: Temporary{TempID: "t1", Issue: issue, Start: start, End: start.Add(time.Hour)}},
		{name: "update", item: Temporary{ID: "42", Issue: issue, Start: start, End: start.Add(time.Hour)}},
		{name: "delete", item: Temporary{ID: "42", Delete: true}},
		{name: "both keys", item: Temporary{TempID: "t1", ID: "42", Issue: issue, Start: start, End: start.Add(time.Hour)}, wantErr: true},
		{name: "no key", item: Temporary{Issue: issue, Start: start, End: start.Add(time.Hour)}, wantErr: true},
		{name: "delete without id", item: Temporary{TempID: "t1", Delete: true}, wantErr: true},
		{name: "reversed range", item: Temporary{TempID: "t1", Issue: issue, Start: start, End: start}, wantErr: true},
		{name: "no issue", item: Temporary{TempID: "t1", Start: start, End: start.Add(time.Hour)}, wantErr: true},
	}

	for _, tc := range cases {
		err := tc.item.Validate()
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
	}
}

func TestParseKeyRoundTrip(t *testing.T) {
	t.Parallel()

	for _, key := range []Key{{TempID: "abc"}, {ID: "123"}} {
		parsed, err := ParseKey(key.String())
		if err != nil {
			t.Fatalf("parse %q: %v", key, err)
		}
		if parsed != key {
			t.Fatalf("expected %+v, got %+v", key, parsed)
		}
	}

	parsed, err := ParseKey("9001")
	if err != nil || parsed.ID != "9001" {
		t.Fatalf("bare value should be a remote id, got %+v (%v)", parsed, err)
	}
}

func TestCachePutReplacesByID(t *testing.T) {
	t.Parallel()

	var cache Cache
	cache.Put(Worklog{ID: "1", Comment: "first"})
	cache.Put(Worklog{ID: "2"})
	cache.Put(Worklog{ID: "1", Comment: "second"})

	if len(cache.Data) != 2 {
		t.Fatalf("expected 2 cached worklogs, got %d", len(cache.Data))
	}
	got, ok := cache.Find("1")
	if !ok || got.Comment != "second" || !got.Synced {
		t.Fatalf("unexpected cached worklog: %+v", got)
	}
	if !cache.Remove("2") || cache.Remove("2") {
		t.Fatalf("remove should succeed exactly once")
	}
}

func TestTrackingState(t *testing.T) {
	t.Parallel()

	now := time.Now()
	if (Tracking{}).State() != Idle {
		t.Fatalf("empty tracking must be idle")
	}
	active := Tracking{Issue: &Issue{Key: "ABC-1"}, Start: &now}
	if active.State() != Active {
		t.Fatalf("expected active")
	}
	active.LastHeartbeat = &now
	active.FirstHeartbeat = &now
	if active.State() != GapPending {
		t.Fatalf("expected gap pending")
	}
}

func TestChangesIssue(t *testing.T) {
	t.Parallel()

	op := FromWorklog(Worklog{ID: "7", Issue: Issue{ID: "100", Key: "ABC-1"}})
	if op.ChangesIssue() {
		t.Fatalf("unchanged issue reported as change")
	}
	op.Issue = Issue{Key: "ABC-2"}
	if !op.ChangesIssue() {
		t.Fatalf("expected issue change")
	}
}
