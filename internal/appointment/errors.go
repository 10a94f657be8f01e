package appointment

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrConfiguration = errors.New("inconsistent recurrence configuration")

	ErrSlotNotFound         = errors.New("slot not found")
	ErrAvailabilityNotFound = errors.New("availability not found")
	ErrProviderNotFound     = errors.New("provider not found")
	ErrPatientNotFound      = errors.New("patient not found")

	ErrSlotNotAvailable = errors.New("slot is not available")
	ErrSlotInPast       = errors.New("slot is in the past")
	ErrNotBookingOwner  = errors.New("slot is not booked by this patient")
	ErrNotSlotProvider  = errors.New("slot belongs to another provider")
	ErrSlotOverlap      = errors.New("slot overlaps an existing slot of the provider")
	ErrProviderBusy     = errors.New("provider schedule is being changed, please retry")

	ErrReferenceCollision = errors.New("booking reference collision")
	ErrTimeout            = errors.New("operation timed out")

	// ErrTransitionRejected reports that a conditional slot update matched no
	// row. The service turns it into a ConflictError.
	ErrTransitionRejected = errors.New("slot transition rejected")
)

// ValidationError carries every field failure of one request.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := slices.Sorted(maps.Keys(e.Fields))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func fieldError(field, msg string) error {
	v := &ValidationError{}
	v.add(field, msg)
	return v
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// ConflictError is a failed state precondition. Status is the slot's actual
// status at the time of the failure.
type ConflictError struct {
	Err    error
	SlotID uuid.UUID
	Status SlotStatus
}

func (e *ConflictError) Error() string {
	if e.Status == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (slot %s is %s)", e.Err, e.SlotID, e.Status)
}

func (e *ConflictError) Unwrap() error { return e.Err }

func conflict(err error, slot *AppointmentSlot) error {
	if slot == nil {
		return &ConflictError{Err: err}
	}
	return &ConflictError{Err: err, SlotID: slot.ID, Status: slot.Status}
}

const (
	KindValidation         = "validation_error"
	KindConfiguration      = "configuration_error"
	KindNotFound           = "not_found"
	KindConflict           = "conflict"
	KindTimeout            = "timeout"
	KindReferenceCollision = "reference_collision"
	KindInternal           = "internal_error"
)

// KindOf maps an error returned by this package to a stable kind.
func KindOf(err error) string {
	var conflictErr *ConflictError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrSlotNotFound),
		errors.Is(err, ErrAvailabilityNotFound),
		errors.Is(err, ErrProviderNotFound),
		errors.Is(err, ErrPatientNotFound):
		return KindNotFound
	case errors.As(err, &conflictErr),
		errors.Is(err, ErrSlotNotAvailable),
		errors.Is(err, ErrSlotInPast),
		errors.Is(err, ErrNotBookingOwner),
		errors.Is(err, ErrNotSlotProvider),
		errors.Is(err, ErrSlotOverlap),
		errors.Is(err, ErrProviderBusy),
		errors.Is(err, ErrTransitionRejected):
		return KindConflict
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrReferenceCollision):
		return KindReferenceCollision
	default:
		return KindInternal
	}
}

// asTimeout turns deadline and driver timeouts into ErrTimeout.
func asTimeout(err error) error {
	if err == nil || errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
