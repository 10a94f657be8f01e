package appointment

import (
	"iter"
	"time"
)

const dateLayout = "2006-01-02"

// ExpandRecurrence yields the calendar dates of a recurrence starting at start
// and ending on or before end. Monthly steps keep the start's day of month,
// clamped to the length of each target month. RecurNone yields start alone.
// Unknown patterns yield nothing.
func ExpandRecurrence(start time.Time, pattern RecurrencePattern, end time.Time) iter.Seq[time.Time] {
	start, end = dateOf(start), dateOf(end)

	return func(yield func(time.Time) bool) {
		if pattern == RecurNone {
			yield(start)
			return
		}
		if !pattern.Valid() {
			return
		}

		for i := 0; ; i++ {
			d := stepDate(start, pattern, i)
			if d.After(end) {
				return
			}
			if !yield(d) {
				return
			}
		}
	}
}

func stepDate(start time.Time, pattern RecurrencePattern, n int) time.Time {
	switch pattern {
	case RecurDaily:
		return start.AddDate(0, 0, n)
	case RecurWeekly:
		return start.AddDate(0, 0, 7*n)
	default:
		return addMonthsClamped(start, n)
	}
}

// addMonthsClamped moves d forward n months keeping its day of month, or the
// last day of the target month when that month is shorter.
func addMonthsClamped(d time.Time, n int) time.Time {
	y, m, day := d.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := daysIn(first.Year(), first.Month())
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// dateOf truncates t to its calendar date, expressed at UTC midnight.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}
