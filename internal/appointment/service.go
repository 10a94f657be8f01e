package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/availability-booking/internal/config"
	"github.com/hackgods/availability-booking/internal/observability"
	redisclient "github.com/hackgods/availability-booking/internal/redis"
)

const (
	EventSlotBooked          = "SLOT_BOOKED"
	EventSlotReleased        = "SLOT_RELEASED"
	EventSlotCancelled       = "SLOT_CANCELLED"
	EventSlotBlocked         = "SLOT_BLOCKED"
	EventSlotRescheduled     = "SLOT_RESCHEDULED"
	EventAvailabilityCreated = "AVAILABILITY_CREATED"
)

const tracerName = "github.com/hackgods/availability-booking/internal/appointment"

type Service struct {
	repo         Repository
	locker       redisclient.Locker
	cfg          config.Config
	clock        Clock
	newReference ReferenceFunc
	tracer       trace.Tracer
}

type Option func(*Service)

func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithReferenceFunc(fn ReferenceFunc) Option {
	return func(s *Service) { s.newReference = fn }
}

// WithTracerProvider records spans on tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(tracerName) }
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		locker:       locker,
		cfg:          cfg,
		clock:        SystemClock,
		newReference: NewBookingReference,
		tracer:       observability.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.ReferenceAttempts < 1 {
		s.cfg.ReferenceAttempts = 1
	}
	return s
}

type BookingConfirmation struct {
	BookingReference string
	SlotID           uuid.UUID
	ProviderID       uuid.UUID
	PatientID        uuid.UUID
	StartTime        time.Time
	EndTime          time.Time
	Timezone         string
	AppointmentType  AppointmentType
	Notes            *string
	BookedAt         time.Time
}

type CancellationConfirmation struct {
	SlotID           uuid.UUID
	ProviderID       uuid.UUID
	BookingReference string
	StartTime        time.Time
	Status           SlotStatus
	Reason           string
	CancelledAt      time.Time
}

type RescheduleConfirmation struct {
	OldSlotID        uuid.UUID
	NewSlotID        uuid.UUID
	BookingReference string
	ProviderID       uuid.UUID
	StartTime        time.Time
	EndTime          time.Time
	Timezone         string
	AppointmentType  AppointmentType
	Notes            *string
	UpdatedAt        time.Time
}

// begin starts the span and applies the operation timeout.
func (s *Service) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := s.tracer.Start(ctx, "appointment."+op, trace.WithAttributes(attrs...))

	cancel := func() {}
	if s.cfg.OperationTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cfg.OperationTimeout)
	}

	return ctx, func(errp *error) {
		cancel()
		if *errp != nil {
			*errp = asTimeout(*errp)
			span.RecordError(*errp)
			span.SetStatus(codes.Error, KindOf(*errp))
		}
		span.End()
	}
}

// Book binds an available future slot to patientID.
func (s *Service) Book(ctx context.Context, patientID, slotID uuid.UUID, notes string) (_ *BookingConfirmation, err error) {
	ctx, end := s.begin(ctx, "Book",
		attribute.String("slot.id", slotID.String()),
		attribute.String("patient.id", patientID.String()))
	defer end(&err)

	if _, err := s.repo.GetPatient(ctx, patientID); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}

	slot, err := s.repo.GetSlot(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}

	now := s.clock.Now()
	if err := CheckBook(slot, now); err != nil {
		return nil, err
	}

	booked, err := s.bookSlot(ctx, slotID, patientID, optional(notes), now)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, EventSlotBooked, &booked.ID, &booked.AvailabilityID, map[string]any{
		"patient_id":        patientID.String(),
		"booking_reference": *booked.BookingReference,
	})
	zerolog.Ctx(ctx).Debug().Str("slot_id", slotID.String()).Str("reference", *booked.BookingReference).Msg("slot booked")

	return confirmationFor(booked, now), nil
}

// bookSlot runs the conditional available -> booked write, regenerating the
// reference on collision up to the configured number of attempts.
func (s *Service) bookSlot(ctx context.Context, slotID, patientID uuid.UUID, notes *string, now time.Time) (*AppointmentSlot, error) {
	for attempt := 1; ; attempt++ {
		ref, err := s.newReference(now)
		if err != nil {
			return nil, err
		}

		var booked *AppointmentSlot
		err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
			var err error
			booked, err = s.repo.TransitionSlot(ctx, bookTransition(slotID, patientID, ref, notes, now))
			return err
		})
		switch {
		case err == nil:
			return booked, nil
		case errors.Is(err, ErrReferenceCollision) && attempt < s.cfg.ReferenceAttempts:
			zerolog.Ctx(ctx).Warn().Str("slot_id", slotID.String()).Int("attempt", attempt).Msg("booking reference collision, regenerating")
			continue
		case errors.Is(err, ErrTransitionRejected):
			return nil, s.explainRejection(ctx, slotID, func(slot *AppointmentSlot) error {
				return CheckBook(slot, now)
			}, ErrSlotNotAvailable)
		default:
			return nil, fmt.Errorf("book slot: %w", err)
		}
	}
}

// explainRejection re-reads a slot whose conditional write matched nothing and
// reports what it looks like now.
func (s *Service) explainRejection(ctx context.Context, slotID uuid.UUID, check func(*AppointmentSlot) error, fallback error) error {
	slot, err := s.repo.GetSlot(ctx, slotID)
	if err != nil {
		return fmt.Errorf("reload slot: %w", err)
	}
	if err := check(slot); err != nil {
		return err
	}
	return conflict(fallback, slot)
}

// Cancel releases patientID's future booking so the slot can be booked again.
func (s *Service) Cancel(ctx context.Context, patientID, slotID uuid.UUID, reason string) (_ *CancellationConfirmation, err error) {
	ctx, end := s.begin(ctx, "Cancel",
		attribute.String("slot.id", slotID.String()),
		attribute.String("patient.id", patientID.String()))
	defer end(&err)

	slot, err := s.repo.GetSlot(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}

	now := s.clock.Now()
	if err := CheckCancel(slot, patientID, now); err != nil {
		return nil, err
	}
	ref := deref(slot.BookingReference)

	released, err := s.repo.TransitionSlot(ctx, releaseTransition(slotID, patientID, now))
	if errors.Is(err, ErrTransitionRejected) {
		return nil, s.explainRejection(ctx, slotID, func(slot *AppointmentSlot) error {
			return CheckCancel(slot, patientID, now)
		}, ErrNotBookingOwner)
	}
	if err != nil {
		return nil, fmt.Errorf("cancel slot: %w", err)
	}

	s.logEvent(ctx, EventSlotReleased, &released.ID, &released.AvailabilityID, map[string]any{
		"patient_id":        patientID.String(),
		"booking_reference": ref,
		"reason":            reason,
	})

	return &CancellationConfirmation{
		SlotID:           released.ID,
		ProviderID:       released.ProviderID,
		BookingReference: ref,
		StartTime:        released.StartTime,
		Status:           released.Status,
		Reason:           reason,
		CancelledAt:      now,
	}, nil
}

// Reschedule moves patientID's booking from currentID to newID. Both writes
// commit together or not at all.
func (s *Service) Reschedule(ctx context.Context, patientID, currentID, newID uuid.UUID, notes string) (_ *RescheduleConfirmation, err error) {
	ctx, end := s.begin(ctx, "Reschedule",
		attribute.String("slot.id", currentID.String()),
		attribute.String("slot.new_id", newID.String()),
		attribute.String("patient.id", patientID.String()))
	defer end(&err)

	if currentID == newID {
		return nil, fieldError("new_slot_id", "must differ from the current slot")
	}

	current, err := s.repo.GetSlot(ctx, currentID)
	if err != nil {
		return nil, fmt.Errorf("load current slot: %w", err)
	}
	next, err := s.repo.GetSlot(ctx, newID)
	if err != nil {
		return nil, fmt.Errorf("load new slot: %w", err)
	}

	now := s.clock.Now()
	if err := CheckCancel(current, patientID, now); err != nil {
		return nil, err
	}
	if err := CheckBook(next, now); err != nil {
		return nil, err
	}

	bookingNotes := optional(notes)
	if bookingNotes == nil {
		bookingNotes = current.Notes
	}
	oldRef := deref(current.BookingReference)

	var booked *AppointmentSlot
	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		_, err := s.repo.TransitionSlot(ctx, releaseTransition(currentID, patientID, now))
		if errors.Is(err, ErrTransitionRejected) {
			return s.explainRejection(ctx, currentID, func(slot *AppointmentSlot) error {
				return CheckCancel(slot, patientID, now)
			}, ErrNotBookingOwner)
		}
		if err != nil {
			return fmt.Errorf("release current slot: %w", err)
		}

		booked, err = s.bookSlot(ctx, newID, patientID, bookingNotes, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, EventSlotRescheduled, &booked.ID, &booked.AvailabilityID, map[string]any{
		"patient_id":           patientID.String(),
		"from_slot_id":         currentID.String(),
		"previous_reference":   oldRef,
		"booking_reference":    *booked.BookingReference,
		"from_availability_id": current.AvailabilityID.String(),
	})

	return &RescheduleConfirmation{
		OldSlotID:        currentID,
		NewSlotID:        booked.ID,
		BookingReference: *booked.BookingReference,
		ProviderID:       booked.ProviderID,
		StartTime:        booked.StartTime,
		EndTime:          booked.EndTime,
		Timezone:         booked.Timezone,
		AppointmentType:  booked.AppointmentType,
		Notes:            booked.Notes,
		UpdatedAt:        booked.UpdatedAt,
	}, nil
}

// BlockSlot withdraws an available slot from booking. Blocking a blocked slot
// returns it unchanged.
func (s *Service) BlockSlot(ctx context.Context, providerID, slotID uuid.UUID) (_ *AppointmentSlot, err error) {
	ctx, end := s.begin(ctx, "BlockSlot",
		attribute.String("slot.id", slotID.String()),
		attribute.String("provider.id", providerID.String()))
	defer end(&err)

	slot, err := s.repo.GetSlot(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}

	done, err := CheckBlock(slot, providerID)
	if err != nil || done {
		return slot, err
	}

	now := s.clock.Now()
	blocked, err := s.repo.TransitionSlot(ctx, blockTransition(slotID, providerID, now))
	if errors.Is(err, ErrTransitionRejected) {
		return nil, s.explainRejection(ctx, slotID, func(slot *AppointmentSlot) error {
			_, err := CheckBlock(slot, providerID)
			return err
		}, ErrSlotNotAvailable)
	}
	if err != nil {
		return nil, fmt.Errorf("block slot: %w", err)
	}

	s.logEvent(ctx, EventSlotBlocked, &blocked.ID, &blocked.AvailabilityID, map[string]any{
		"provider_id": providerID.String(),
	})
	return blocked, nil
}

// ProviderCancelSlot withdraws a booked slot on the provider's behalf. The
// patient binding is cleared and the slot stays cancelled.
func (s *Service) ProviderCancelSlot(ctx context.Context, providerID, slotID uuid.UUID, reason string) (_ *CancellationConfirmation, err error) {
	ctx, end := s.begin(ctx, "ProviderCancelSlot",
		attribute.String("slot.id", slotID.String()),
		attribute.String("provider.id", providerID.String()))
	defer end(&err)

	slot, err := s.repo.GetSlot(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}
	if err := CheckProviderCancel(slot, providerID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	ref := deref(slot.BookingReference)
	var patient string
	if slot.PatientID != nil {
		patient = slot.PatientID.String()
	}

	cancelled, err := s.repo.TransitionSlot(ctx, providerCancelTransition(slotID, providerID, reason, now))
	if errors.Is(err, ErrTransitionRejected) {
		return nil, s.explainRejection(ctx, slotID, func(slot *AppointmentSlot) error {
			return CheckProviderCancel(slot, providerID)
		}, ErrSlotNotAvailable)
	}
	if err != nil {
		return nil, fmt.Errorf("cancel slot: %w", err)
	}

	s.logEvent(ctx, EventSlotCancelled, &cancelled.ID, &cancelled.AvailabilityID, map[string]any{
		"provider_id":       providerID.String(),
		"patient_id":        patient,
		"booking_reference": ref,
		"reason":            reason,
	})

	return &CancellationConfirmation{
		SlotID:           cancelled.ID,
		ProviderID:       cancelled.ProviderID,
		BookingReference: ref,
		StartTime:        cancelled.StartTime,
		Status:           cancelled.Status,
		Reason:           reason,
		CancelledAt:      now,
	}, nil
}

// GetSlot returns one slot by id.
func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*AppointmentSlot, error) {
	slot, err := s.repo.GetSlot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return slot, nil
}

// logEvent appends to the slot history. It runs after the mutation committed,
// so a failure is logged and otherwise ignored.
func (s *Service) logEvent(ctx context.Context, eventType string, slotID, availabilityID *uuid.UUID, payload map[string]any) {
	ctx = context.WithoutCancel(ctx)
	logger := observability.LoggerFromContext(ctx)

	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}

	ev := SlotEvent{
		EventType:      eventType,
		SlotID:         slotID,
		AvailabilityID: availabilityID,
		Payload:        data,
		CreatedAt:      s.clock.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		logger.Warn().Err(err).Str("event", eventType).Msg("insert slot event")
	}
}

func confirmationFor(slot *AppointmentSlot, now time.Time) *BookingConfirmation {
	c := &BookingConfirmation{
		SlotID:          slot.ID,
		ProviderID:      slot.ProviderID,
		StartTime:       slot.StartTime,
		EndTime:         slot.EndTime,
		Timezone:        slot.Timezone,
		AppointmentType: slot.AppointmentType,
		Notes:           slot.Notes,
		BookedAt:        now,
	}
	if slot.BookingReference != nil {
		c.BookingReference = *slot.BookingReference
	}
	if slot.PatientID != nil {
		c.PatientID = *slot.PatientID
	}
	return c
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
