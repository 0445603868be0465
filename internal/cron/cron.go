package cron

import (
	"fmt"
	"time"
)

// Schedule represents a parsed five-field cron expression
type Schedule struct {
	// Each field stores all valid values for that field
	minutes     []int // 0-59
	hours       []int // 0-23
	daysOfMonth []int // 1-31
	months      []int // 1-12
	daysOfWeek  []int // 0-6 (0=Sunday, 7 folded into 0 at parse time)

	// Wildcard flags drive the day-of-month/day-of-week OR semantics
	domWildcard bool
	dowWildcard bool

	// Store original expression for debugging
	original string
}

// nextSearchBound caps how far Next scans for a match. Parse already rejects
// expressions with no satisfiable date, so in practice the furthest match is a
// Feb 29 schedule, at most four years out.
const nextSearchBound = 5 * 366 * 24 * time.Hour

// Parse parses a cron expression and validates all constraints.
// Returns error if:
// - Format is invalid (not 5 fields)
// - Any field contains invalid syntax or out-of-bounds values
// - Impossible dates are specified (e.g., Feb 31st)
func Parse(expr string) (*Schedule, error) {
	return parse(expr)
}

// Validate reports whether expr is a well-formed cron expression without
// retaining the parsed schedule. Registration-time validation uses this so a
// bad expression is rejected up front, never discovered at first fire.
func Validate(expr string) error {
	_, err := parse(expr)
	return err
}

// String returns the original expression
func (s *Schedule) String() string {
	return s.original
}

// Next calculates the first occurrence of this schedule strictly after the
// given time. "Strictly" means that if 'after' lands exactly on a scheduled
// minute, that minute is NOT returned. The search walks minute boundaries and
// is bounded; exhausting the bound returns an error so callers can fall back
// loudly instead of looping forever.
func (s *Schedule) Next(after time.Time) (time.Time, error) {
	// Start checking from the next minute after 'after'
	// Truncate to minute boundary, then advance by 1 minute
	current := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(nextSearchBound)

	for current.Before(limit) {
		if s.matches(current) {
			return current, nil
		}
		current = s.advance(current)
	}

	return time.Time{}, fmt.Errorf("no occurrence of %q within %v after %v", s.original, nextSearchBound, after)
}

// NextN calculates the next count occurrences strictly after the given time
func (s *Schedule) NextN(after time.Time, count int) ([]time.Time, error) {
	results := make([]time.Time, 0, count)

	current := after
	for len(results) < count {
		next, err := s.Next(current)
		if err != nil {
			return results, err
		}
		results = append(results, next)
		current = next
	}

	return results, nil
}

// advance moves to the next candidate minute, skipping whole days and months
// that can never match so a sparse schedule (e.g. yearly) stays cheap.
func (s *Schedule) advance(current time.Time) time.Time {
	// Month can never match: jump to the first minute of the next month
	if !contains(s.months, int(current.Month())) {
		next := time.Date(current.Year(), current.Month(), 1, 0, 0, 0, 0, current.Location())
		return next.AddDate(0, 1, 0)
	}

	// Day can never match: jump to the first minute of the next day
	if !s.matchesDayConstraints(current) {
		next := time.Date(current.Year(), current.Month(), current.Day(), 0, 0, 0, 0, current.Location())
		return next.AddDate(0, 0, 1)
	}

	return current.Add(time.Minute)
}
