package appointment

import (
	"iter"
	"time"
)

// PlanSlots expands an availability into its slots, not yet persisted. The
// returned sequence is restartable; every slot is available and unbound.
// Slot ids and timestamps are left for the caller to assign.
//
// horizon bounds how far a recurring availability may reach past its first
// date. Zero disables the bound.
func PlanSlots(av ProviderAvailability, horizon time.Duration) (iter.Seq[AppointmentSlot], error) {
	if av.StartTime >= av.EndTime {
		return nil, configError("start time %s is not before end time %s", av.StartTime, av.EndTime)
	}

	loc, err := time.LoadLocation(av.Timezone)
	if err != nil {
		return nil, configError("unknown timezone %q", av.Timezone)
	}

	pattern := RecurNone
	end := av.Date
	if av.IsRecurring {
		if !av.RecurrencePattern.Valid() || av.RecurrencePattern == RecurNone {
			return nil, configError("recurring availability needs a daily, weekly or monthly pattern")
		}
		if av.RecurrenceEndDate == nil {
			return nil, configError("recurring availability needs a recurrence end date")
		}
		end = dateOf(*av.RecurrenceEndDate)
		if end.Before(dateOf(av.Date)) {
			return nil, configError("recurrence end date %s is before %s", FormatDate(end), FormatDate(av.Date))
		}
		if horizon > 0 && end.Sub(dateOf(av.Date)) > horizon {
			return nil, configError("recurrence spans more than %d days", int(horizon.Hours()/24))
		}
		pattern = av.RecurrencePattern
	}

	return func(yield func(AppointmentSlot) bool) {
		var prevEnd time.Time
		for date := range ExpandRecurrence(av.Date, pattern, end) {
			for iv := range GenerateSlots(av.StartTime, av.EndTime, av.SlotDuration, av.BreakDuration) {
				start := iv.Start.on(date, loc).UTC()
				stop := iv.End.on(date, loc).UTC()

				// Wall clock times that fold or vanish around a DST change can
				// produce empty or overlapping instants.
				if !start.Before(stop) || start.Before(prevEnd) {
					continue
				}
				prevEnd = stop

				slot := AppointmentSlot{
					AvailabilityID:  av.ID,
					ProviderID:      av.ProviderID,
					StartTime:       start,
					EndTime:         stop,
					Timezone:        av.Timezone,
					Status:          SlotAvailable,
					AppointmentType: av.AppointmentType,
				}
				if !yield(slot) {
					return
				}
			}
		}
	}, nil
}
