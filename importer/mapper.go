package importer

import (
	"fmt"
	"strings"
	"time"

	"gotrack/worklog"
)

// Row is one imported worklog before its issue key is resolved.
type Row struct {
	RowNumber int
	IssueKey  string
	Comment   string
	Start     time.Time
	End       time.Time
}

// mapRecord reads one row. Rows that already exist remotely (a plain id in the
// ID column) or are marked for deletion are skipped.
func mapRecord(record Record, loc *time.Location) (Row, bool, error) {
	id := record.Get("id", "key")
	if id != "" && !strings.HasPrefix(id, "temp:") {
		return Row{}, false, nil
	}
	if strings.EqualFold(record.Get("status"), "deleting") {
		return Row{}, false, nil
	}

	issue := strings.ToUpper(record.Get("issue", "issuekey", "ticket"))
	if issue == "" {
		return Row{}, false, fmt.Errorf("row %d: issue is required", record.RowNumber)
	}

	start, err := recordTime(record, loc, "start", "startdatetime", "from")
	if err != nil {
		return Row{}, false, fmt.Errorf("row %d: parse start: %w", record.RowNumber, err)
	}

	var end time.Time
	if record.Get("end", "enddatetime", "to") != "" {
		end, err = recordTime(record, loc, "end", "enddatetime", "to")
		if err != nil {
			return Row{}, false, fmt.Errorf("row %d: parse end: %w", record.RowNumber, err)
		}
	} else {
		minutes, err := parseMinutes(record.Get("minutes", "duration"))
		if err != nil {
			return Row{}, false, fmt.Errorf("row %d: %w", record.RowNumber, err)
		}
		end = start.Add(time.Duration(minutes) * time.Minute)
	}
	if !end.After(start) {
		return Row{}, false, fmt.Errorf("row %d: end must be after start", record.RowNumber)
	}

	return Row{
		RowNumber: record.RowNumber,
		IssueKey:  issue,
		Comment:   record.Get("comment", "description"),
		Start:     start,
		End:       end,
	}, true, nil
}

// recordTime reads a full timestamp column, or a clock column combined with
// the row's day/date column.
func recordTime(record Record, loc *time.Location, keys ...string) (time.Time, error) {
	value := record.Get(keys...)
	if day := record.Get("day", "date"); day != "" && len(value) <= len("15:04:05") {
		return parseDateAndTime(day, value, loc)
	}
	return parseDateTime(value, loc)
}

// Temporary turns the row into a queued create for issue.
func (r Row) Temporary(issue worklog.Issue) worklog.Temporary {
	return worklog.Temporary{
		TempID:  worklog.NewTempID(),
		Issue:   issue,
		Comment: r.Comment,
		Start:   r.Start,
		End:     r.End,
	}
}
