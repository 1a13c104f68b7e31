package cmd

import (
	"strings"
	"testing"
	"time"

	"gotrack/worklog"
)

var testNow = time.Date(2026, 3, 4, 14, 30, 0, 0, time.UTC)

func TestResolveAt(t *testing.T) {
	t.Parallel()

	at, err := resolveAt("", testNow)
	if err != nil || !at.Equal(testNow) {
		t.Fatalf("expected testNow, got %v (%v)", at, err)
	}
	at, err = resolveAt("08:45", testNow)
	if err != nil || !at.Equal(time.Date(2026, 3, 4, 8, 45, 0, 0, time.UTC)) {
		t.Fatalf("unexpected clock time %v (%v)", at, err)
	}
	if _, err := resolveAt("quarter past", testNow); err == nil {
		t.Fatalf("expected invalid --at error")
	}
}

func TestApplyLogEdits(t *testing.T) {
	t.Parallel()

	t.Run("new worklog on a given day", func(t *testing.T) {
		item := worklog.Temporary{TempID: "t"}
		err := applyLogEdits(&item, logEdits{day: "2026-03-02", start: "09:00", end: "10:30", comment: " review ", setComment: true}, testNow)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if !item.Start.Equal(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)) || !item.End.Equal(time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)) {
			t.Fatalf("unexpected range %v - %v", item.Start, item.End)
		}
		if item.Comment != "review" {
			t.Fatalf("unexpected comment %q", item.Comment)
		}
	})

	t.Run("moving the day keeps clock times", func(t *testing.T) {
		item := worklog.Temporary{ID: "7", Comment: "keep", Start: testNow, End: testNow.Add(time.Hour)}
		if err := applyLogEdits(&item, logEdits{day: "2026-03-06"}, testNow); err != nil {
			t.Fatalf("apply: %v", err)
		}
		if !item.Start.Equal(time.Date(2026, 3, 6, 14, 30, 0, 0, time.UTC)) || item.End.Sub(item.Start) != time.Hour {
			t.Fatalf("unexpected range %v - %v", item.Start, item.End)
		}
		if item.Comment != "keep" {
			t.Fatalf("comment must stay without --comment, got %q", item.Comment)
		}
	})

	t.Run("end before start is rejected", func(t *testing.T) {
		item := worklog.Temporary{ID: "7", Start: testNow, End: testNow.Add(time.Hour)}
		if err := applyLogEdits(&item, logEdits{end: "13:00"}, testNow); err == nil {
			t.Fatalf("expected ordering error")
		}
	})
}

func TestParseDayRange(t *testing.T) {
	t.Parallel()

	from, to, err := parseDayRange("", "", testNow)
	if err != nil {
		t.Fatalf("default range: %v", err)
	}
	if !from.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) || !to.Equal(time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected current week, got [%v, %v)", from, to)
	}

	from, to, err = parseDayRange("2026-03-10", "2026-03-10", testNow)
	if err != nil || to.Sub(from) != 24*time.Hour {
		t.Fatalf("expected single inclusive day, got [%v, %v) (%v)", from, to, err)
	}

	if _, _, err := parseDayRange("2026-03-11", "2026-03-10", testNow); err == nil {
		t.Fatalf("expected inverted range error")
	}
}

func TestBadgeText(t *testing.T) {
	t.Parallel()

	start := testNow.Add(-95 * time.Minute)
	issue := worklog.Issue{Key: "ABC-1"}
	active := worklog.Tracking{Issue: &issue, Start: &start}
	if got := badgeText(active, testNow, 0); got != "1:35" {
		t.Fatalf("unexpected active badge %q", got)
	}

	last, first := start.Add(10*time.Minute), testNow
	gap := worklog.Tracking{Issue: &issue, Start: &start, LastHeartbeat: &last, FirstHeartbeat: &first}
	if got := badgeText(gap, testNow, 2); got != "!*" {
		t.Fatalf("unexpected gap badge %q", got)
	}
	if got := badgeText(worklog.Tracking{}, testNow, 0); got != "" {
		t.Fatalf("expected empty idle badge, got %q", got)
	}
}

func TestPrintEntries(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	printEntries(&out, []worklog.Entry{
		{ID: "1", Issue: worklog.Issue{Key: "ABC-1"}, Start: testNow, End: testNow.Add(time.Hour), Synced: true},
		{ID: "2", Issue: worklog.Issue{Key: "ABC-2"}, Start: testNow, End: testNow.Add(time.Hour), Deleting: true},
		{TempID: "x", Issue: worklog.Issue{Key: "ABC-3"}, Start: testNow, End: testNow.Add(30 * time.Minute), SyncError: "rejected by remote"},
	}, time.UTC)

	text := out.String()
	for _, want := range []string{"id:1", "deleting", "temp:x", "failed (rejected by remote)", "Total: 1h 30m"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
}

func TestDetectExportFormat(t *testing.T) {
	t.Parallel()

	if detectExportFormat("out.XLSX") != "excel" || detectExportFormat("out.csv") != "csv" || detectExportFormat("out") != "csv" {
		t.Fatalf("unexpected format detection")
	}
}
