package planvalidator

import (
	"fmt"
	"time"
)

// ResolveNamedRange coerces a named relative/calendar time range into a
// concrete [start, end) pair, anchored at now (always treated as UTC) and
// using UTC day boundaries throughout. Calendar ranges ("last_week",
// "last_month", "last_quarter", "last_year") snap to calendar boundaries;
// rolling ranges ("last_N_days") are a sliding window ending at the start
// of today. Weeks start Monday; quarters start Jan/Apr/Jul/Oct.
func ResolveNamedRange(named string, now time.Time) (time.Time, time.Time, error) {
	now = now.UTC()
	today := startOfDay(now)

	switch named {
	case "today":
		return today, today.AddDate(0, 0, 1), nil
	case "yesterday":
		return today.AddDate(0, 0, -1), today, nil
	case "this_week":
		start := startOfWeek(today)
		return start, start.AddDate(0, 0, 7), nil
	case "last_week":
		start := startOfWeek(today).AddDate(0, 0, -7)
		return start, start.AddDate(0, 0, 7), nil
	case "this_month":
		start := startOfMonth(today)
		return start, start.AddDate(0, 1, 0), nil
	case "last_month":
		start := startOfMonth(today).AddDate(0, -1, 0)
		return start, start.AddDate(0, 1, 0), nil
	case "this_quarter":
		start := startOfQuarter(today)
		return start, start.AddDate(0, 3, 0), nil
	case "last_quarter":
		start := startOfQuarter(today).AddDate(0, -3, 0)
		return start, start.AddDate(0, 3, 0), nil
	case "this_year":
		start := startOfYear(today)
		return start, start.AddDate(1, 0, 0), nil
	case "last_year":
		start := startOfYear(today).AddDate(-1, 0, 0)
		return start, start.AddDate(1, 0, 0), nil
	case "last_7_days":
		return today.AddDate(0, 0, -7), today, nil
	case "last_30_days":
		return today.AddDate(0, 0, -30), today, nil
	case "last_90_days":
		return today.AddDate(0, 0, -90), today, nil
	case "last_365_days":
		return today.AddDate(0, 0, -365), today, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unrecognized named time range %q", named)
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// startOfWeek returns the Monday of the week containing t.
func startOfWeek(t time.Time) time.Time {
	weekday := int(t.Weekday())
	if weekday == 0 { // Sunday
		weekday = 7
	}
	return t.AddDate(0, 0, -(weekday - 1))
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// startOfQuarter returns Jan/Apr/Jul/Oct 1st, whichever begins the
// quarter containing t.
func startOfQuarter(t time.Time) time.Time {
	quarterStartMonth := ((int(t.Month())-1)/3)*3 + 1
	return time.Date(t.Year(), time.Month(quarterStartMonth), 1, 0, 0, 0, 0, time.UTC)
}

func startOfYear(t time.Time) time.Time {
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
}
