package cron

import "time"

// matches checks if a time matches the schedule
func (s *Schedule) matches(t time.Time) bool {
	return contains(s.minutes, t.Minute()) &&
		contains(s.hours, t.Hour()) &&
		s.matchesDayConstraints(t) &&
		contains(s.months, int(t.Month()))
}

// matchesDayConstraints handles the special day-of-month vs day-of-week logic
//
// Cron standard behavior:
// - If both day-of-month and day-of-week are restricted (not *): match if EITHER matches (OR logic)
// - If only one is restricted: match on that field only
// - If both are *: match any day
func (s *Schedule) matchesDayConstraints(t time.Time) bool {
	domRestricted := !s.domWildcard
	dowRestricted := !s.dowWildcard

	if domRestricted && dowRestricted {
		// OR logic: either day-of-month OR day-of-week must match
		domMatch := contains(s.daysOfMonth, t.Day())
		dowMatch := contains(s.daysOfWeek, int(t.Weekday()))

		// Also need to validate the date is actually valid (Feb 29 in non-leap year)
		if domMatch && !isValidDate(t.Year(), int(t.Month()), t.Day()) {
			domMatch = false
		}

		return domMatch || dowMatch
	} else if domRestricted {
		// Only day-of-month is restricted
		if !contains(s.daysOfMonth, t.Day()) {
			return false
		}
		// Validate the date is actually valid
		return isValidDate(t.Year(), int(t.Month()), t.Day())
	} else if dowRestricted {
		// Only day-of-week is restricted
		return contains(s.daysOfWeek, int(t.Weekday()))
	}

	// Both unrestricted, match any day
	// Still need to validate the date exists (Feb 29 in non-leap year)
	return isValidDate(t.Year(), int(t.Month()), t.Day())
}

// contains checks if a slice contains a value
func contains(slice []int, val int) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}
