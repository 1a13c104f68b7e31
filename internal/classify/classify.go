// Package classify sorts candidate worklogs against the worklogs already known.
package classify

import (
	"gotrack/worklog"
)

// Overlap pairs a candidate with the first existing entry it intersects.
type Overlap struct {
	Candidate worklog.Temporary
	Existing  worklog.Entry
}

// Result is the outcome of Worklogs.
type Result struct {
	ToAdd      []worklog.Temporary
	Overlaps   []Overlap
	Duplicates int
}

// Worklogs splits candidates into new entries, overlaps and duplicates of
// existing. Entries being deleted are ignored. Candidates are compared against
// each other too, so a file listing the same worklog twice adds it once.
func Worklogs(candidates []worklog.Temporary, existing []worklog.Entry) Result {
	known := make([]worklog.Entry, 0, len(existing)+len(candidates))
	for _, entry := range existing {
		if !entry.Deleting {
			known = append(known, entry)
		}
	}

	result := Result{ToAdd: make([]worklog.Temporary, 0, len(candidates))}
	for _, candidate := range candidates {
		if duplicateOfAny(candidate, known) {
			result.Duplicates++
			continue
		}

		if existing, ok := firstOverlap(candidate, known); ok {
			result.Overlaps = append(result.Overlaps, Overlap{Candidate: candidate, Existing: existing})
			continue
		}

		result.ToAdd = append(result.ToAdd, candidate)
		known = append(known, worklog.Entry{
			TempID:  candidate.TempID,
			Issue:   candidate.Issue,
			Comment: candidate.Comment,
			Start:   candidate.Start,
			End:     candidate.End,
		})
	}
	return result
}

// Equivalent reports the same issue and the same time range; comments are ignored.
func Equivalent(candidate worklog.Temporary, entry worklog.Entry) bool {
	return candidate.Issue.SameAs(entry.Issue) &&
		candidate.Start.Equal(entry.Start) &&
		candidate.End.Equal(entry.End)
}

// Overlaps reports whether the half-open ranges intersect.
func Overlaps(candidate worklog.Temporary, entry worklog.Entry) bool {
	return candidate.Start.Before(entry.End) && entry.Start.Before(candidate.End)
}

func duplicateOfAny(candidate worklog.Temporary, known []worklog.Entry) bool {
	for _, entry := range known {
		if Equivalent(candidate, entry) {
			return true
		}
	}
	return false
}

func firstOverlap(candidate worklog.Temporary, known []worklog.Entry) (worklog.Entry, bool) {
	for _, entry := range known {
		if Overlaps(candidate, entry) {
			return entry, true
		}
	}
	return worklog.Entry{}, false
}
