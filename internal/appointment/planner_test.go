package appointment

import (
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseAvailability(t *testing.T) ProviderAvailability {
	t.Helper()
	return ProviderAvailability{
		ID:              uuid.New(),
		ProviderID:      uuid.New(),
		Date:            mustDate(t, "2030-03-04"),
		StartTime:       tod(t, "09:00"),
		EndTime:         tod(t, "10:00"),
		Timezone:        "America/New_York",
		SlotDuration:    30,
		AppointmentType: TypeConsultation,
	}
}

func TestPlanSlots_Single(t *testing.T) {
	av := baseAvailability(t)

	seq, err := PlanSlots(av, 0)
	require.NoError(t, err)
	slots := slices.Collect(seq)
	require.Len(t, slots, 2)

	ny, _ := time.LoadLocation("America/New_York")
	assert.Equal(t, time.Date(2030, 3, 4, 9, 0, 0, 0, ny).UTC(), slots[0].StartTime)
	assert.Equal(t, time.Date(2030, 3, 4, 9, 30, 0, 0, ny).UTC(), slots[0].EndTime)
	assert.Equal(t, time.UTC, slots[0].StartTime.Location())

	for _, s := range slots {
		assert.Equal(t, SlotAvailable, s.Status)
		assert.Equal(t, av.ID, s.AvailabilityID)
		assert.Equal(t, av.ProviderID, s.ProviderID)
		assert.Equal(t, "America/New_York", s.Timezone)
		assert.Nil(t, s.PatientID)
		assert.Nil(t, s.BookingReference)
		assert.Equal(t, "2030-03-04", FormatDate(s.LocalDate()))
	}
}

func TestPlanSlots_RecurringNeverOverlaps(t *testing.T) {
	av := baseAvailability(t)
	av.IsRecurring = true
	av.RecurrencePattern = RecurDaily
	end := mustDate(t, "2030-03-17")
	av.RecurrenceEndDate = &end
	av.EndTime = tod(t, "17:00")
	av.BreakDuration = 10

	seq, err := PlanSlots(av, 366*24*time.Hour)
	require.NoError(t, err)
	slots := slices.Collect(seq)
	require.NotEmpty(t, slots)

	slices.SortFunc(slots, func(a, b AppointmentSlot) int { return a.StartTime.Compare(b.StartTime) })
	for i := 1; i < len(slots); i++ {
		assert.False(t, slots[i].StartTime.Before(slots[i-1].EndTime), "slot %d overlaps previous", i)
	}
	assert.Equal(t, "2030-03-17", FormatDate(slots[len(slots)-1].LocalDate()))
}

func TestPlanSlots_SpringForwardGap(t *testing.T) {
	av := baseAvailability(t)
	av.Date = mustDate(t, "2030-03-10") // US DST starts at 02:00 local
	av.StartTime = tod(t, "01:00")
	av.EndTime = tod(t, "04:00")
	av.SlotDuration = 60

	seq, err := PlanSlots(av, 0)
	require.NoError(t, err)
	slots := slices.Collect(seq)

	for _, s := range slots {
		assert.True(t, s.StartTime.Before(s.EndTime))
	}
	for i := 1; i < len(slots); i++ {
		assert.False(t, slots[i].StartTime.Before(slots[i-1].EndTime))
	}
}

func TestPlanSlots_ConfigurationErrors(t *testing.T) {
	end := mustDate(t, "2030-03-01")
	far := mustDate(t, "2032-03-04")
	ok := mustDate(t, "2030-04-04")

	tests := []struct {
		name   string
		mutate func(*ProviderAvailability)
	}{
		{"recurring without pattern", func(a *ProviderAvailability) {
			a.IsRecurring, a.RecurrencePattern, a.RecurrenceEndDate = true, RecurNone, &ok
		}},
		{"recurring without end date", func(a *ProviderAvailability) {
			a.IsRecurring, a.RecurrencePattern = true, RecurWeekly
		}},
		{"end before date", func(a *ProviderAvailability) {
			a.IsRecurring, a.RecurrencePattern, a.RecurrenceEndDate = true, RecurDaily, &end
		}},
		{"beyond horizon", func(a *ProviderAvailability) {
			a.IsRecurring, a.RecurrencePattern, a.RecurrenceEndDate = true, RecurMonthly, &far
		}},
		{"start not before end", func(a *ProviderAvailability) {
			a.EndTime = a.StartTime
		}},
		{"unknown timezone", func(a *ProviderAvailability) {
			a.Timezone = "Mars/Olympus"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			av := baseAvailability(t)
			tt.mutate(&av)
			_, err := PlanSlots(av, 366*24*time.Hour)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.Equal(t, KindConfiguration, KindOf(err))
		})
	}
}

func TestPlanSlots_NonRecurringIgnoresPattern(t *testing.T) {
	av := baseAvailability(t)
	av.RecurrencePattern = RecurDaily

	seq, err := PlanSlots(av, 0)
	require.NoError(t, err)
	assert.Len(t, slices.Collect(seq), 2)
}
