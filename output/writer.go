package output

import (
	"fmt"
	"strings"
	"time"

	"gotrack/worklog"
)

type Writer interface {
	Write(path string, entries []worklog.Entry) error
}

var entryHeaders = []string{"ID", "Issue", "IssueName", "Start", "End", "Minutes", "Comment", "Status", "SyncError"}

func WriterForFormat(format string) (Writer, error) {
	switch normalizeFormat(format) {
	case "csv":
		return &CSVWriter{}, nil
	case "excel", "xlsx":
		return &ExcelWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

func normalizeFormat(value string) string {
	return strings.TrimSpace(strings.ToLower(value))
}

// Status labels an entry the way list output shows it.
func Status(entry worklog.Entry) string {
	switch {
	case entry.Deleting:
		return "deleting"
	case entry.SyncError != "":
		return "failed"
	case !entry.Synced:
		return "pending"
	default:
		return "synced"
	}
}

func entryRow(entry worklog.Entry) []string {
	id := entry.ID
	if id == "" {
		id = entry.Key().String()
	}
	return []string{
		id,
		entry.Issue.Key,
		entry.Issue.Name,
		entry.Start.Format(time.RFC3339),
		entry.End.Format(time.RFC3339),
		fmt.Sprintf("%d", int(entry.End.Sub(entry.Start)/time.Minute)),
		entry.Comment,
		Status(entry),
		entry.SyncError,
	}
}
