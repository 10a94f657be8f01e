package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ProviderSlotFilter struct {
	ProviderID  uuid.UUID
	StartFrom   time.Time // inclusive
	StartBefore time.Time // exclusive
	Status      *SlotStatus
	Type        *AppointmentType
}

type PatientSlotFilter struct {
	PatientID   uuid.UUID
	Status      *SlotStatus
	ProviderID  *uuid.UUID
	StartFrom   *time.Time
	StartBefore *time.Time
}

// PageCursor is the last row of the previous page, in
// (start time DESC, id DESC) order.
type PageCursor struct {
	StartTime time.Time
	ID        uuid.UUID
}

// Repository contains all storage interactions needed by the service.
type Repository interface {
	// WithinTx runs fn in one transaction carried by the context passed to
	// fn. Nested calls join the outer transaction.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetSlot(ctx context.Context, id uuid.UUID) (*AppointmentSlot, error)
	GetAvailability(ctx context.Context, id uuid.UUID) (*ProviderAvailability, error)

	// Availability creation, inside WithinTx
	LockProviderSchedule(ctx context.Context, providerID uuid.UUID) error
	FindOverlappingSlot(ctx context.Context, providerID uuid.UUID, slots []AppointmentSlot) (*AppointmentSlot, error)
	InsertAvailability(ctx context.Context, av *ProviderAvailability, slots []AppointmentSlot) error

	// Listings
	ListProviderSlots(ctx context.Context, f ProviderSlotFilter) ([]AppointmentSlot, error)
	ListPatientAppointments(ctx context.Context, f PatientSlotFilter, after *PageCursor, limit int) ([]PatientAppointment, error)

	// TransitionSlot applies t atomically. It returns ErrTransitionRejected
	// when the slot no longer satisfies t, ErrSlotNotFound when it does not
	// exist, and ErrReferenceCollision when the booking reference is taken.
	TransitionSlot(ctx context.Context, t SlotTransition) (*AppointmentSlot, error)

	// Event logging
	InsertEvent(ctx context.Context, ev SlotEvent) error
}
