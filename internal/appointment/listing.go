package appointment

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// PatientFilter narrows ListForPatient. StartDate and EndDate are calendar
// dates compared against each slot's local start date.
type PatientFilter struct {
	Status     *SlotStatus
	ProviderID *uuid.UUID
	StartDate  *time.Time
	EndDate    *time.Time
	PageSize   int
}

// ListForPatient yields the patient's appointments ordered by start time,
// latest first. Pages are fetched lazily as the sequence is consumed, and
// ranging over it again re-queries. A failed fetch is yielded once as the
// error and ends the sequence.
func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID, f PatientFilter) iter.Seq2[PatientAppointment, error] {
	size := f.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	query := PatientSlotFilter{PatientID: patientID, Status: f.Status, ProviderID: f.ProviderID}
	if f.StartDate != nil {
		from := dateOf(*f.StartDate).Add(-maxZoneOffset)
		query.StartFrom = &from
	}
	if f.EndDate != nil {
		before := dateOf(*f.EndDate).AddDate(0, 0, 1).Add(maxZoneOffset)
		query.StartBefore = &before
	}

	return func(yield func(PatientAppointment, error) bool) {
		now := s.clock.Now()
		var cursor *PageCursor

		for {
			page, err := s.fetchPage(ctx, query, cursor, size)
			if err != nil {
				yield(PatientAppointment{}, err)
				return
			}

			for _, a := range page {
				if !inDateRange(a.Slot.LocalDate(), f.StartDate, f.EndDate) {
					continue
				}
				if !yield(withTimeFlags(a, now), nil) {
					return
				}
			}

			if len(page) < size {
				return
			}
			last := page[len(page)-1].Slot
			cursor = &PageCursor{StartTime: last.StartTime, ID: last.ID}
		}
	}
}

func (s *Service) fetchPage(ctx context.Context, q PatientSlotFilter, cursor *PageCursor, size int) (_ []PatientAppointment, err error) {
	ctx, end := s.begin(ctx, "ListForPatient")
	defer end(&err)
	return s.repo.ListPatientAppointments(ctx, q, cursor, size)
}

func inDateRange(d time.Time, from, to *time.Time) bool {
	if from != nil && d.Before(dateOf(*from)) {
		return false
	}
	if to != nil && d.After(dateOf(*to)) {
		return false
	}
	return true
}

// withTimeFlags sets IsPast, IsToday and IsUpcoming relative to now, with
// "today" taken in the slot's own timezone.
func withTimeFlags(a PatientAppointment, now time.Time) PatientAppointment {
	loc := loadLocation(a.Slot.Timezone)
	a.IsPast = a.Slot.StartTime.Before(now)
	a.IsUpcoming = a.Slot.StartTime.After(now)
	a.IsToday = a.Slot.LocalDate().Equal(dateOf(now.In(loc)))
	return a
}
