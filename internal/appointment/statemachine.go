package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Slot lifecycle:
//
//	available -> booked     Book, patient binding and reference set
//	booked    -> available  Cancel by the bound patient, binding cleared
//	booked    -> cancelled  ProviderCancel, binding cleared, reason kept
//	available -> blocked    Block by the owning provider
//	blocked   -> blocked    Block again, no write
//
// The guards below run against a freshly read slot. The matching write is a
// conditional update repeating the same conditions, so a slot that changed in
// between is rejected by storage rather than overwritten.

// CheckBook reports whether slot can be booked at now.
func CheckBook(slot *AppointmentSlot, now time.Time) error {
	if !slot.StartTime.After(now) {
		return conflict(ErrSlotInPast, slot)
	}
	if slot.Status != SlotAvailable {
		return conflict(ErrSlotNotAvailable, slot)
	}
	return nil
}

// CheckCancel reports whether patientID may release slot at now.
func CheckCancel(slot *AppointmentSlot, patientID uuid.UUID, now time.Time) error {
	if !slot.StartTime.After(now) {
		return conflict(ErrSlotInPast, slot)
	}
	if !slot.BookedBy(patientID) {
		return conflict(ErrNotBookingOwner, slot)
	}
	return nil
}

// CheckProviderCancel reports whether providerID may withdraw the booking.
func CheckProviderCancel(slot *AppointmentSlot, providerID uuid.UUID) error {
	if slot.ProviderID != providerID {
		return conflict(ErrNotSlotProvider, slot)
	}
	if slot.Status != SlotBooked {
		return conflict(ErrSlotNotAvailable, slot)
	}
	return nil
}

// CheckBlock reports whether providerID may block slot. A blocked slot is
// reported as already done.
func CheckBlock(slot *AppointmentSlot, providerID uuid.UUID) (done bool, err error) {
	if slot.ProviderID != providerID {
		return false, conflict(ErrNotSlotProvider, slot)
	}
	switch slot.Status {
	case SlotBlocked:
		return true, nil
	case SlotAvailable:
		return false, nil
	default:
		return false, conflict(ErrSlotNotAvailable, slot)
	}
}

// SlotTransition is one conditional slot update. The From status and every
// non-zero condition must hold at write time or the update matches nothing.
// The binding columns are always overwritten with the given values.
type SlotTransition struct {
	SlotID uuid.UUID
	From   SlotStatus
	To     SlotStatus

	BoundPatient *uuid.UUID
	Provider     *uuid.UUID
	StartsAfter  time.Time

	Patient            *uuid.UUID
	BookingReference   *string
	Notes              *string
	CancellationReason *string
	At                 time.Time
}

func bookTransition(slotID, patientID uuid.UUID, ref string, notes *string, now time.Time) SlotTransition {
	return SlotTransition{
		SlotID:           slotID,
		From:             SlotAvailable,
		To:               SlotBooked,
		StartsAfter:      now,
		Patient:          &patientID,
		BookingReference: &ref,
		Notes:            notes,
		At:               now,
	}
}

func releaseTransition(slotID, patientID uuid.UUID, now time.Time) SlotTransition {
	return SlotTransition{
		SlotID:       slotID,
		From:         SlotBooked,
		To:           SlotAvailable,
		BoundPatient: &patientID,
		StartsAfter:  now,
		At:           now,
	}
}

func providerCancelTransition(slotID, providerID uuid.UUID, reason string, now time.Time) SlotTransition {
	return SlotTransition{
		SlotID:             slotID,
		From:               SlotBooked,
		To:                 SlotCancelled,
		Provider:           &providerID,
		CancellationReason: &reason,
		At:                 now,
	}
}

func blockTransition(slotID, providerID uuid.UUID, now time.Time) SlotTransition {
	return SlotTransition{
		SlotID:   slotID,
		From:     SlotAvailable,
		To:       SlotBlocked,
		Provider: &providerID,
		At:       now,
	}
}

// apply mutates slot as the transition would, after matches returned true.
func (t SlotTransition) apply(slot *AppointmentSlot) {
	slot.Status = t.To
	slot.PatientID = t.Patient
	slot.BookingReference = t.BookingReference
	slot.Notes = t.Notes
	slot.CancellationReason = t.CancellationReason
	slot.UpdatedAt = t.At
}

// matches reports whether slot satisfies every condition of t.
func (t SlotTransition) matches(slot *AppointmentSlot) bool {
	if slot.Status != t.From {
		return false
	}
	if t.BoundPatient != nil && (slot.PatientID == nil || *slot.PatientID != *t.BoundPatient) {
		return false
	}
	if t.Provider != nil && slot.ProviderID != *t.Provider {
		return false
	}
	if !t.StartsAfter.IsZero() && !slot.StartTime.After(t.StartsAfter) {
		return false
	}
	return true
}
