package appointment

import (
	"fmt"
	"iter"
	"sync"
	"time"
)

// TimeOfDay is minutes since midnight.
type TimeOfDay int

// ParseTimeOfDay accepts strict 24-hour HH:MM between 00:00 and 23:59.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("time %q must be HH:MM", s)
	}
	h, okH := twoDigits(s[0], s[1])
	m, okM := twoDigits(s[3], s[4])
	if !okH || !okM || h > 23 || m > 59 {
		return 0, fmt.Errorf("time %q must be HH:MM between 00:00 and 23:59", s)
	}
	return TimeOfDay(h*60 + m), nil
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// SlotInterval is a half-open [Start, End) span within one day.
type SlotInterval struct {
	Start TimeOfDay
	End   TimeOfDay
}

// GenerateSlots yields consecutive slots of duration minutes separated by
// brk minutes, none of which extends past end. Callers validate the bounds.
func GenerateSlots(start, end TimeOfDay, duration, brk int) iter.Seq[SlotInterval] {
	if brk < 0 {
		brk = 0
	}

	return func(yield func(SlotInterval) bool) {
		if duration <= 0 {
			return
		}
		for cur := start; end >= cur && int(end-cur) >= duration; {
			next := cur + TimeOfDay(duration)
			if !yield(SlotInterval{Start: cur, End: next}) {
				return
			}
			// compared against the remaining minutes so a huge break cannot wrap
			if brk > int(end-next) {
				return
			}
			cur = next + TimeOfDay(brk)
		}
	}
}

// on combines a calendar date with a time of day in loc.
func (t TimeOfDay) on(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc)
}

var locations sync.Map

// loadLocation caches zone lookups and falls back to UTC for unknown names.
func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	if loc, ok := locations.Load(name); ok {
		return loc.(*time.Location)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	locations.Store(name, loc)
	return loc
}
