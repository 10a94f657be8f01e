package appointment

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotCancelled SlotStatus = "cancelled"
	SlotBlocked   SlotStatus = "blocked"
)

func (s SlotStatus) Valid() bool {
	switch s {
	case SlotAvailable, SlotBooked, SlotCancelled, SlotBlocked:
		return true
	}
	return false
}

type RecurrencePattern string

const (
	RecurNone    RecurrencePattern = "none"
	RecurDaily   RecurrencePattern = "daily"
	RecurWeekly  RecurrencePattern = "weekly"
	RecurMonthly RecurrencePattern = "monthly"
)

func (p RecurrencePattern) Valid() bool {
	switch p {
	case RecurNone, RecurDaily, RecurWeekly, RecurMonthly:
		return true
	}
	return false
}

type AppointmentType string

const (
	TypeConsultation AppointmentType = "consultation"
	TypeFollowUp     AppointmentType = "follow_up"
	TypeEmergency    AppointmentType = "emergency"
	TypeTelemedicine AppointmentType = "telemedicine"
)

func (t AppointmentType) Valid() bool {
	switch t {
	case TypeConsultation, TypeFollowUp, TypeEmergency, TypeTelemedicine:
		return true
	}
	return false
}

type LocationType string

const (
	LocationClinic       LocationType = "clinic"
	LocationHospital     LocationType = "hospital"
	LocationTelemedicine LocationType = "telemedicine"
	LocationHomeVisit    LocationType = "home_visit"
)

func (t LocationType) Valid() bool {
	switch t {
	case LocationClinic, LocationHospital, LocationTelemedicine, LocationHomeVisit:
		return true
	}
	return false
}

// Location and Pricing are stored as jsonb.
type Location struct {
	Type       LocationType `json:"type"`
	Address    string       `json:"address"`
	RoomNumber *string      `json:"room_number,omitempty"`
}

type Pricing struct {
	BaseFee           float64 `json:"base_fee"`
	InsuranceAccepted bool    `json:"insurance_accepted"`
	Currency          string  `json:"currency"`
}

type Provider struct {
	ID             uuid.UUID
	FirstName      string
	LastName       string
	Specialization string
	Email          string
	CreatedAt      time.Time
}

func (p Provider) FullName() string {
	return p.FirstName + " " + p.LastName
}

type Patient struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	Email     string
	CreatedAt time.Time
}

// ProviderAvailability is a declared window of bookable time. Date and
// RecurrenceEndDate are calendar dates held at UTC midnight.
type ProviderAvailability struct {
	ID                  uuid.UUID
	ProviderID          uuid.UUID
	Date                time.Time
	StartTime           TimeOfDay
	EndTime             TimeOfDay
	Timezone            string
	SlotDuration        int
	BreakDuration       int
	IsRecurring         bool
	RecurrencePattern   RecurrencePattern
	RecurrenceEndDate   *time.Time
	AppointmentType     AppointmentType
	Location            Location
	Pricing             *Pricing
	SpecialRequirements []string
	Capacity            int
	Notes               string
	SupersededBy        *uuid.UUID
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// LastDate is the final calendar date the availability may produce.
func (a ProviderAvailability) LastDate() time.Time {
	if a.IsRecurring && a.RecurrenceEndDate != nil {
		return *a.RecurrenceEndDate
	}
	return a.Date
}

// AppointmentSlot is one bookable unit. Start and end are absolute instants;
// Timezone is the zone the owning availability was declared in.
type AppointmentSlot struct {
	ID                 uuid.UUID
	AvailabilityID     uuid.UUID
	ProviderID         uuid.UUID
	StartTime          time.Time
	EndTime            time.Time
	Timezone           string
	Status             SlotStatus
	PatientID          *uuid.UUID
	AppointmentType    AppointmentType
	BookingReference   *string
	Notes              *string
	CancellationReason *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// LocalStart is the slot start in its own timezone, falling back to UTC.
func (s AppointmentSlot) LocalStart() time.Time {
	return s.StartTime.In(loadLocation(s.Timezone))
}

func (s AppointmentSlot) LocalEnd() time.Time {
	return s.EndTime.In(loadLocation(s.Timezone))
}

// LocalDate is the calendar date of the slot start in its own timezone.
func (s AppointmentSlot) LocalDate() time.Time {
	return dateOf(s.LocalStart())
}

func (s AppointmentSlot) BookedBy(patientID uuid.UUID) bool {
	return s.Status == SlotBooked && s.PatientID != nil && *s.PatientID == patientID
}

type SlotEvent struct {
	ID             int64
	EventType      string
	SlotID         *uuid.UUID
	AvailabilityID *uuid.UUID
	Payload        []byte
	CreatedAt      time.Time
}

// PatientAppointment is a slot bound to a patient with provider display info.
type PatientAppointment struct {
	Slot       AppointmentSlot
	Provider   Provider
	IsPast     bool
	IsToday    bool
	IsUpcoming bool
}
