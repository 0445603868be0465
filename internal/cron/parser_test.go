package cron

import (
	"strings"
	"testing"
)

func TestParse_Valid_BasicForms(t *testing.T) {
	tests := []struct {
		expr string
		desc string
	}{
		{"* * * * *", "every minute"},
		{"0 * * * *", "every hour"},
		{"0 0 * * *", "every day at midnight"},
		{"0 0 * * 0", "every Sunday"},
		{"0 0 1 * *", "first day of month"},
		{"15 10 5 6 3", "June 5th or Wednesdays in June at 10:15"},
		{"0,30 * * * *", "minutes 0 and 30"},
		{"0 9-17 * * 1-5", "business hours on weekdays"},
		{"*/15 * * * *", "every 15 minutes"},
		{"0 0-12/2 * * *", "even hours until noon"},
		{"0 0 * * 7", "Sunday as 7"},
		{"5,10-20,45 * * * *", "list with embedded range"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if _, err := Parse(tt.expr); err != nil {
				t.Errorf("Parse(%q) unexpected error: %v", tt.expr, err)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		expr    string
		desc    string
		wantMsg string
	}{
		{"* * * *", "four fields", "expected 5 fields"},
		{"* * * * * *", "six fields", "expected 5 fields"},
		{"60 * * * *", "minute out of bounds", "invalid minute field"},
		{"* 24 * * *", "hour out of bounds", "invalid hour field"},
		{"* * 0 * *", "day-of-month zero", "invalid day-of-month field"},
		{"* * 32 * *", "day-of-month out of bounds", "invalid day-of-month field"},
		{"* * * 13 *", "month out of bounds", "invalid month field"},
		{"* * * * 8", "day-of-week out of bounds", "invalid day-of-week field"},
		{"abc * * * *", "non-numeric value", "invalid minute field"},
		{"*/0 * * * *", "zero step", "invalid minute field"},
		{"5-1 * * * *", "inverted range", "invalid minute field"},
		{"1,,3 * * * *", "empty list element", "invalid minute field"},
		{"0 0 31 2 *", "Feb 31st", "impossible date"},
		{"0 0 30 2 *", "Feb 30th", "impossible date"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			_, err := Parse(tt.expr)
			if err == nil {
				t.Fatalf("Parse(%q) expected error, got nil", tt.expr)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Parse(%q) error %q does not mention %q", tt.expr, err, tt.wantMsg)
			}
		})
	}
}

// TestParse_FieldSpecificMessages verifies that every field reports its own
// name so callers can surface which field of the expression is wrong.
func TestParse_FieldSpecificMessages(t *testing.T) {
	fields := []struct {
		expr string
		want string
	}{
		{"99 * * * *", "minute"},
		{"* 99 * * *", "hour"},
		{"* * 99 * *", "day-of-month"},
		{"* * * 99 *", "month"},
		{"* * * * 99", "day-of-week"},
	}

	for _, tt := range fields {
		_, err := Parse(tt.expr)
		if err == nil {
			t.Fatalf("Parse(%q) expected error", tt.expr)
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("Parse(%q) error %q should name the %s field", tt.expr, err, tt.want)
		}
	}
}

func TestParse_SundayAliases(t *testing.T) {
	zero := mustParse(t, "0 0 * * 0")
	seven := mustParse(t, "0 0 * * 7")

	if len(seven.daysOfWeek) != 1 || seven.daysOfWeek[0] != 0 {
		t.Errorf("expected day-of-week 7 to normalize to [0], got %v", seven.daysOfWeek)
	}
	if len(zero.daysOfWeek) != len(seven.daysOfWeek) {
		t.Errorf("0 and 7 should produce identical schedules: %v vs %v", zero.daysOfWeek, seven.daysOfWeek)
	}
}

func TestParse_StepExpansion(t *testing.T) {
	s := mustParse(t, "*/15 * * * *")

	want := []int{0, 15, 30, 45}
	if len(s.minutes) != len(want) {
		t.Fatalf("expected %v minutes, got %v", want, s.minutes)
	}
	for i, m := range want {
		if s.minutes[i] != m {
			t.Errorf("minute[%d]: expected %d, got %d", i, m, s.minutes[i])
		}
	}
}

func TestParse_ListDeduplicatesAndSorts(t *testing.T) {
	s := mustParse(t, "30,5,30,5-7 * * * *")

	want := []int{5, 6, 7, 30}
	if len(s.minutes) != len(want) {
		t.Fatalf("expected %v minutes, got %v", want, s.minutes)
	}
	for i, m := range want {
		if s.minutes[i] != m {
			t.Errorf("minute[%d]: expected %d, got %d", i, m, s.minutes[i])
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Validate("*/5 * * * *"); err != nil {
		t.Errorf("Validate of valid expression returned %v", err)
	}
	if err := Validate("not a cron"); err == nil {
		t.Error("Validate of garbage expression returned nil")
	}
}
