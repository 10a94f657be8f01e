package appointment

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	redisclient "github.com/hackgods/availability-booking/internal/redis"
)

const (
	minSlotDuration     = 15
	maxSlotDuration     = 240
	defaultSlotDuration = 30
	minutesPerDay       = 24 * 60
	maxNotesLength      = 500
	defaultCurrency     = "USD"

	// widest UTC offset in the tz database, used to widen date-range queries
	maxZoneOffset = 14 * time.Hour
)

// AvailabilityInput is the raw declaration submitted by a provider.
type AvailabilityInput struct {
	Date                string
	StartTime           string
	EndTime             string
	Timezone            string
	SlotDuration        int
	BreakDuration       int
	IsRecurring         bool
	RecurrencePattern   string
	RecurrenceEndDate   string
	AppointmentType     string
	Location            *LocationInput
	Pricing             *PricingInput
	SpecialRequirements []string
	Notes               string
	Capacity            int
}

type LocationInput struct {
	Type       string
	Address    string
	RoomNumber string
}

type PricingInput struct {
	BaseFee           float64
	InsuranceAccepted bool
	Currency          string
}

type DateRange struct {
	Start time.Time
	End   time.Time
}

type AvailabilityResult struct {
	AvailabilityID uuid.UUID
	SlotsCreated   int
	DateRange      DateRange
}

// ValidateAvailability checks in field by field and returns the availability
// it describes. All field failures are reported together.
func ValidateAvailability(providerID uuid.UUID, in AvailabilityInput, now time.Time) (*ProviderAvailability, error) {
	verr := &ValidationError{}
	av := &ProviderAvailability{
		ProviderID:          providerID,
		Timezone:            in.Timezone,
		SlotDuration:        in.SlotDuration,
		BreakDuration:       in.BreakDuration,
		IsRecurring:         in.IsRecurring,
		RecurrencePattern:   RecurNone,
		AppointmentType:     TypeConsultation,
		SpecialRequirements: in.SpecialRequirements,
		Capacity:            in.Capacity,
		Notes:               in.Notes,
	}

	loc := time.UTC
	if in.Timezone == "" {
		verr.add("timezone", "is required")
	} else if l, err := time.LoadLocation(in.Timezone); err != nil {
		verr.add("timezone", fmt.Sprintf("unknown timezone %q", in.Timezone))
	} else {
		loc = l
	}

	if in.Date == "" {
		verr.add("date", "is required")
	} else if d, err := ParseDate(in.Date); err != nil {
		verr.add("date", "must be YYYY-MM-DD")
	} else {
		av.Date = d
		if d.Before(dateOf(now.In(loc))) {
			verr.add("date", "cannot create availability for past dates")
		}
	}

	start, errStart := ParseTimeOfDay(in.StartTime)
	if errStart != nil {
		verr.add("start_time", errStart.Error())
	}
	end, errEnd := ParseTimeOfDay(in.EndTime)
	if errEnd != nil {
		verr.add("end_time", errEnd.Error())
	}
	if errStart == nil && errEnd == nil && start >= end {
		verr.add("end_time", "must be after start_time")
	}
	av.StartTime, av.EndTime = start, end

	if av.SlotDuration == 0 {
		av.SlotDuration = defaultSlotDuration
	}
	if av.SlotDuration < minSlotDuration || av.SlotDuration > maxSlotDuration {
		verr.add("slot_duration", fmt.Sprintf("must be between %d and %d minutes", minSlotDuration, maxSlotDuration))
	}
	maxBreak := minutesPerDay - minSlotDuration
	if av.SlotDuration >= minSlotDuration && av.SlotDuration <= maxSlotDuration {
		maxBreak = minutesPerDay - av.SlotDuration
	}
	if av.BreakDuration < 0 {
		verr.add("break_duration", "cannot be negative")
	} else if av.BreakDuration > maxBreak {
		verr.add("break_duration", fmt.Sprintf("cannot exceed %d minutes", maxBreak))
	}

	if in.RecurrencePattern != "" {
		p := RecurrencePattern(in.RecurrencePattern)
		if !p.Valid() {
			verr.add("recurrence_pattern", "must be one of none, daily, weekly, monthly")
		}
		av.RecurrencePattern = p
	}
	if in.RecurrenceEndDate != "" {
		d, err := ParseDate(in.RecurrenceEndDate)
		if err != nil {
			verr.add("recurrence_end_date", "must be YYYY-MM-DD")
		} else {
			av.RecurrenceEndDate = &d
		}
	}

	if in.AppointmentType != "" {
		t := AppointmentType(in.AppointmentType)
		if !t.Valid() {
			verr.add("appointment_type", "must be one of consultation, follow_up, emergency, telemedicine")
		}
		av.AppointmentType = t
	}

	if in.Location != nil {
		lt := LocationType(in.Location.Type)
		if !lt.Valid() {
			verr.add("location.type", "must be one of clinic, hospital, telemedicine, home_visit")
		}
		if strings.TrimSpace(in.Location.Address) == "" {
			verr.add("location.address", "is required")
		}
		av.Location = Location{Type: lt, Address: in.Location.Address, RoomNumber: optional(in.Location.RoomNumber)}
	}

	if in.Pricing != nil {
		if in.Pricing.BaseFee < 0 {
			verr.add("pricing.base_fee", "cannot be negative")
		}
		currency := strings.ToUpper(in.Pricing.Currency)
		if currency == "" {
			currency = defaultCurrency
		}
		if len(currency) != 3 {
			verr.add("pricing.currency", "must be a three letter code")
		}
		av.Pricing = &Pricing{BaseFee: in.Pricing.BaseFee, InsuranceAccepted: in.Pricing.InsuranceAccepted, Currency: currency}
	}

	if len([]rune(in.Notes)) > maxNotesLength {
		verr.add("notes", fmt.Sprintf("cannot exceed %d characters", maxNotesLength))
	}

	if av.Capacity == 0 {
		av.Capacity = 1
	}
	if av.Capacity < 1 {
		verr.add("capacity", "must be at least 1")
	}

	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return av, nil
}

func providerLockKey(providerID uuid.UUID) string {
	return "provider:" + providerID.String()
}

// CreateAvailability validates and plans the declaration, then persists it
// with its slots in one transaction, refusing any slot that overlaps time the
// provider has already offered.
func (s *Service) CreateAvailability(ctx context.Context, providerID uuid.UUID, in AvailabilityInput) (_ *AvailabilityResult, err error) {
	ctx, end := s.begin(ctx, "CreateAvailability", attribute.String("provider.id", providerID.String()))
	defer end(&err)

	now := s.clock.Now()
	av, err := ValidateAvailability(providerID, in, now)
	if err != nil {
		return nil, err
	}

	plan, err := PlanSlots(*av, s.cfg.RecurrenceHorizon)
	if err != nil {
		return nil, err
	}

	av.ID = uuid.New()
	av.CreatedAt, av.UpdatedAt = now, now

	var slots []AppointmentSlot
	for slot := range plan {
		slot.ID = uuid.New()
		slot.AvailabilityID = av.ID
		slot.CreatedAt, slot.UpdatedAt = now, now
		slots = append(slots, slot)
	}
	if len(slots) == 0 {
		return nil, fieldError("slot_duration", "no slot fits between start_time and end_time")
	}

	if _, err := s.repo.GetProvider(ctx, providerID); err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}

	err = s.locker.WithLock(ctx, providerLockKey(providerID), func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context) error {
			if err := s.repo.LockProviderSchedule(ctx, providerID); err != nil {
				return fmt.Errorf("lock provider schedule: %w", err)
			}

			existing, err := s.repo.FindOverlappingSlot(ctx, providerID, slots)
			if err != nil {
				return fmt.Errorf("check overlap: %w", err)
			}
			if existing != nil {
				return conflict(ErrSlotOverlap, existing)
			}

			if err := s.repo.InsertAvailability(ctx, av, slots); err != nil {
				return fmt.Errorf("insert availability: %w", err)
			}
			return nil
		})
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return nil, conflict(ErrProviderBusy, nil)
	}
	if err != nil {
		return nil, err
	}

	result := &AvailabilityResult{
		AvailabilityID: av.ID,
		SlotsCreated:   len(slots),
		DateRange: DateRange{
			Start: slots[0].LocalDate(),
			End:   slots[len(slots)-1].LocalDate(),
		},
	}

	s.logEvent(ctx, EventAvailabilityCreated, nil, &av.ID, map[string]any{
		"provider_id":   providerID.String(),
		"slots_created": result.SlotsCreated,
		"start_date":    FormatDate(result.DateRange.Start),
		"end_date":      FormatDate(result.DateRange.End),
	})

	return result, nil
}

// GetAvailability returns one availability declaration.
func (s *Service) GetAvailability(ctx context.Context, id uuid.UUID) (*ProviderAvailability, error) {
	av, err := s.repo.GetAvailability(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get availability: %w", err)
	}
	return av, nil
}

type ScheduleQuery struct {
	ProviderID uuid.UUID
	StartDate  time.Time
	EndDate    time.Time
	Status     *SlotStatus
	Type       *AppointmentType
}

type DaySchedule struct {
	Date  time.Time
	Slots []AppointmentSlot
}

type ScheduleSummary struct {
	Total     int
	Available int
	Booked    int
	Cancelled int
	Blocked   int
}

type ProviderSchedule struct {
	ProviderID uuid.UUID
	StartDate  time.Time
	EndDate    time.Time
	Days       []DaySchedule
	Summary    ScheduleSummary
}

// GetProviderAvailability lists the provider's slots whose local start date
// falls in [StartDate, EndDate], grouped by that date.
func (s *Service) GetProviderAvailability(ctx context.Context, q ScheduleQuery) (_ *ProviderSchedule, err error) {
	ctx, end := s.begin(ctx, "GetProviderAvailability", attribute.String("provider.id", q.ProviderID.String()))
	defer end(&err)

	from, to := dateOf(q.StartDate), dateOf(q.EndDate)
	if to.Before(from) {
		return nil, fieldError("end_date", "must not be before start_date")
	}

	if _, err := s.repo.GetProvider(ctx, q.ProviderID); err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}

	slots, err := s.repo.ListProviderSlots(ctx, ProviderSlotFilter{
		ProviderID:  q.ProviderID,
		StartFrom:   from.Add(-maxZoneOffset),
		StartBefore: to.AddDate(0, 0, 1).Add(maxZoneOffset),
		Status:      q.Status,
		Type:        q.Type,
	})
	if err != nil {
		return nil, fmt.Errorf("list provider slots: %w", err)
	}

	out := &ProviderSchedule{ProviderID: q.ProviderID, StartDate: from, EndDate: to}
	byDate := make(map[time.Time][]AppointmentSlot)
	for _, slot := range slots {
		d := slot.LocalDate()
		if d.Before(from) || d.After(to) {
			continue
		}
		byDate[d] = append(byDate[d], slot)
		out.Summary.add(slot.Status)
	}

	for _, d := range slices.SortedFunc(maps.Keys(byDate), time.Time.Compare) {
		out.Days = append(out.Days, DaySchedule{Date: d, Slots: byDate[d]})
	}
	return out, nil
}

func (s *ScheduleSummary) add(status SlotStatus) {
	s.Total++
	switch status {
	case SlotAvailable:
		s.Available++
	case SlotBooked:
		s.Booked++
	case SlotCancelled:
		s.Cancelled++
	case SlotBlocked:
		s.Blocked++
	}
}
