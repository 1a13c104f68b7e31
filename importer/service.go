// Package importer reads worklogs from CSV or Excel files, including files
// written by the export command, and turns them into queued creates.
package importer

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

type Result struct {
	FilesProcessed int
	RowsRead       int
	RowsSkipped    int
	Rows           []Row
}

func Run(paths []string, format string, loc *time.Location) (*Result, error) {
	if loc == nil {
		loc = time.Local
	}
	result := &Result{Rows: make([]Row, 0, 64)}
	for _, path := range paths {
		sourceFormat, err := inferFormat(path, format)
		if err != nil {
			return nil, err
		}
		reader, err := ReaderForFormat(sourceFormat)
		if err != nil {
			return nil, err
		}

		records, err := reader.Read(path)
		if err != nil {
			return nil, err
		}

		result.FilesProcessed++
		result.RowsRead += len(records)
		for _, record := range records {
			row, ok, mapErr := mapRecord(record, loc)
			if mapErr != nil {
				return nil, fmt.Errorf("%s: %w", filepath.Base(path), mapErr)
			}
			if !ok {
				result.RowsSkipped++
				continue
			}
			result.Rows = append(result.Rows, row)
		}
	}

	return result, nil
}

// IssueKeys returns the distinct issue keys of the imported rows in first-seen order.
func (r *Result) IssueKeys() []string {
	seen := make(map[string]bool, len(r.Rows))
	keys := make([]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		if !seen[row.IssueKey] {
			seen[row.IssueKey] = true
			keys = append(keys, row.IssueKey)
		}
	}
	return keys
}

func inferFormat(path string, format string) (string, error) {
	if strings.TrimSpace(format) != "" {
		return format, nil
	}

	extension := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch extension {
	case "csv":
		return "csv", nil
	case "xlsx", "xlsm", "xls":
		return "excel", nil
	default:
		return "", fmt.Errorf("unsupported file extension for %s", path)
	}
}
