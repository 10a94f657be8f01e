package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/availability-booking/internal/appointment"
)

type CreateAvailabilityRequest struct {
	Date                string           `json:"date"`
	StartTime           string           `json:"start_time"`
	EndTime             string           `json:"end_time"`
	Timezone            string           `json:"timezone"`
	SlotDuration        int              `json:"slot_duration"`
	BreakDuration       int              `json:"break_duration"`
	IsRecurring         bool             `json:"is_recurring"`
	RecurrencePattern   string           `json:"recurrence_pattern"`
	RecurrenceEndDate   string           `json:"recurrence_end_date"`
	AppointmentType     string           `json:"appointment_type"`
	Location            *LocationRequest `json:"location"`
	Pricing             *PricingRequest  `json:"pricing"`
	SpecialRequirements []string         `json:"special_requirements"`
	Notes               string           `json:"notes"`
	Capacity            int              `json:"capacity"`
}

type LocationRequest struct {
	Type       string `json:"type"`
	Address    string `json:"address"`
	RoomNumber string `json:"room_number"`
}

type PricingRequest struct {
	BaseFee           float64 `json:"base_fee"`
	InsuranceAccepted bool    `json:"insurance_accepted"`
	Currency          string  `json:"currency"`
}

func (r CreateAvailabilityRequest) input() appointment.AvailabilityInput {
	in := appointment.AvailabilityInput{
		Date:                r.Date,
		StartTime:           r.StartTime,
		EndTime:             r.EndTime,
		Timezone:            r.Timezone,
		SlotDuration:        r.SlotDuration,
		BreakDuration:       r.BreakDuration,
		IsRecurring:         r.IsRecurring,
		RecurrencePattern:   r.RecurrencePattern,
		RecurrenceEndDate:   r.RecurrenceEndDate,
		AppointmentType:     r.AppointmentType,
		SpecialRequirements: r.SpecialRequirements,
		Notes:               r.Notes,
		Capacity:            r.Capacity,
	}
	if r.Location != nil {
		in.Location = &appointment.LocationInput{
			Type:       r.Location.Type,
			Address:    r.Location.Address,
			RoomNumber: r.Location.RoomNumber,
		}
	}
	if r.Pricing != nil {
		in.Pricing = &appointment.PricingInput{
			BaseFee:           r.Pricing.BaseFee,
			InsuranceAccepted: r.Pricing.InsuranceAccepted,
			Currency:          r.Pricing.Currency,
		}
	}
	return in
}

type DateRangeResponse struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type CreateAvailabilityResponse struct {
	AvailabilityID             uuid.UUID         `json:"availability_id"`
	SlotsCreated               int               `json:"slots_created"`
	TotalAppointmentsAvailable int               `json:"total_appointments_available"`
	DateRange                  DateRangeResponse `json:"date_range"`
}

type AvailabilityResponse struct {
	ID                  uuid.UUID            `json:"id"`
	ProviderID          uuid.UUID            `json:"provider_id"`
	Date                string               `json:"date"`
	StartTime           string               `json:"start_time"`
	EndTime             string               `json:"end_time"`
	Timezone            string               `json:"timezone"`
	SlotDuration        int                  `json:"slot_duration"`
	BreakDuration       int                  `json:"break_duration"`
	IsRecurring         bool                 `json:"is_recurring"`
	RecurrencePattern   string               `json:"recurrence_pattern"`
	RecurrenceEndDate   *string              `json:"recurrence_end_date,omitempty"`
	AppointmentType     string               `json:"appointment_type"`
	Location            appointment.Location `json:"location"`
	Pricing             *appointment.Pricing `json:"pricing,omitempty"`
	SpecialRequirements []string             `json:"special_requirements,omitempty"`
	Capacity            int                  `json:"capacity"`
	Notes               string               `json:"notes,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
}

func availabilityResponse(av *appointment.ProviderAvailability) AvailabilityResponse {
	resp := AvailabilityResponse{
		ID:                  av.ID,
		ProviderID:          av.ProviderID,
		Date:                appointment.FormatDate(av.Date),
		StartTime:           av.StartTime.String(),
		EndTime:             av.EndTime.String(),
		Timezone:            av.Timezone,
		SlotDuration:        av.SlotDuration,
		BreakDuration:       av.BreakDuration,
		IsRecurring:         av.IsRecurring,
		RecurrencePattern:   string(av.RecurrencePattern),
		AppointmentType:     string(av.AppointmentType),
		Location:            av.Location,
		Pricing:             av.Pricing,
		SpecialRequirements: av.SpecialRequirements,
		Capacity:            av.Capacity,
		Notes:               av.Notes,
		CreatedAt:           av.CreatedAt,
	}
	if av.RecurrenceEndDate != nil {
		d := appointment.FormatDate(*av.RecurrenceEndDate)
		resp.RecurrenceEndDate = &d
	}
	return resp
}

type SlotResponse struct {
	ID                 uuid.UUID  `json:"id"`
	AvailabilityID     uuid.UUID  `json:"availability_id"`
	ProviderID         uuid.UUID  `json:"provider_id"`
	StartTime          time.Time  `json:"slot_start_time"`
	EndTime            time.Time  `json:"slot_end_time"`
	LocalStartTime     string     `json:"local_start_time"`
	LocalEndTime       string     `json:"local_end_time"`
	Timezone           string     `json:"timezone"`
	Status             string     `json:"status"`
	PatientID          *uuid.UUID `json:"patient_id,omitempty"`
	AppointmentType    string     `json:"appointment_type"`
	BookingReference   *string    `json:"booking_reference,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func slotResponse(s appointment.AppointmentSlot) SlotResponse {
	return SlotResponse{
		ID:                 s.ID,
		AvailabilityID:     s.AvailabilityID,
		ProviderID:         s.ProviderID,
		StartTime:          s.StartTime,
		EndTime:            s.EndTime,
		LocalStartTime:     s.LocalStart().Format("15:04"),
		LocalEndTime:       s.LocalEnd().Format("15:04"),
		Timezone:           s.Timezone,
		Status:             string(s.Status),
		PatientID:          s.PatientID,
		AppointmentType:    string(s.AppointmentType),
		BookingReference:   s.BookingReference,
		CancellationReason: s.CancellationReason,
		UpdatedAt:          s.UpdatedAt,
	}
}

type DayResponse struct {
	Date  string         `json:"date"`
	Slots []SlotResponse `json:"slots"`
}

type ScheduleSummaryResponse struct {
	TotalSlots     int `json:"total_slots"`
	AvailableSlots int `json:"available_slots"`
	BookedSlots    int `json:"booked_slots"`
	CancelledSlots int `json:"cancelled_slots"`
	BlockedSlots   int `json:"blocked_slots"`
}

type ProviderAvailabilityResponse struct {
	ProviderID          uuid.UUID               `json:"provider_id"`
	StartDate           string                  `json:"start_date"`
	EndDate             string                  `json:"end_date"`
	AvailabilitySummary ScheduleSummaryResponse `json:"availability_summary"`
	Availability        []DayResponse           `json:"availability"`
}

func providerAvailabilityResponse(s *appointment.ProviderSchedule) ProviderAvailabilityResponse {
	resp := ProviderAvailabilityResponse{
		ProviderID: s.ProviderID,
		StartDate:  appointment.FormatDate(s.StartDate),
		EndDate:    appointment.FormatDate(s.EndDate),
		AvailabilitySummary: ScheduleSummaryResponse{
			TotalSlots:     s.Summary.Total,
			AvailableSlots: s.Summary.Available,
			BookedSlots:    s.Summary.Booked,
			CancelledSlots: s.Summary.Cancelled,
			BlockedSlots:   s.Summary.Blocked,
		},
		Availability: make([]DayResponse, 0, len(s.Days)),
	}
	for _, day := range s.Days {
		d := DayResponse{Date: appointment.FormatDate(day.Date), Slots: make([]SlotResponse, 0, len(day.Slots))}
		for _, slot := range day.Slots {
			d.Slots = append(d.Slots, slotResponse(slot))
		}
		resp.Availability = append(resp.Availability, d)
	}
	return resp
}

type BookSlotRequest struct {
	Notes string `json:"notes"`
}

type CancelSlotRequest struct {
	Reason string `json:"reason"`
}

type RescheduleSlotRequest struct {
	NewSlotID string `json:"new_slot_id"`
	Notes     string `json:"notes"`
}

type BookingResponse struct {
	BookingReference string    `json:"booking_reference"`
	SlotID           uuid.UUID `json:"slot_id"`
	ProviderID       uuid.UUID `json:"provider_id"`
	PatientID        uuid.UUID `json:"patient_id"`
	StartTime        time.Time `json:"slot_start_time"`
	EndTime          time.Time `json:"slot_end_time"`
	Timezone         string    `json:"timezone"`
	AppointmentType  string    `json:"appointment_type"`
	Notes            *string   `json:"notes,omitempty"`
	BookedAt         time.Time `json:"booked_at"`
}

func bookingResponse(c *appointment.BookingConfirmation) BookingResponse {
	return BookingResponse{
		BookingReference: c.BookingReference,
		SlotID:           c.SlotID,
		ProviderID:       c.ProviderID,
		PatientID:        c.PatientID,
		StartTime:        c.StartTime,
		EndTime:          c.EndTime,
		Timezone:         c.Timezone,
		AppointmentType:  string(c.AppointmentType),
		Notes:            c.Notes,
		BookedAt:         c.BookedAt,
	}
}

type CancellationResponse struct {
	SlotID           uuid.UUID `json:"slot_id"`
	ProviderID       uuid.UUID `json:"provider_id"`
	BookingReference string    `json:"booking_reference"`
	StartTime        time.Time `json:"slot_start_time"`
	Status           string    `json:"status"`
	Reason           string    `json:"reason,omitempty"`
	CancelledAt      time.Time `json:"cancelled_at"`
}

func cancellationResponse(c *appointment.CancellationConfirmation) CancellationResponse {
	return CancellationResponse{
		SlotID:           c.SlotID,
		ProviderID:       c.ProviderID,
		BookingReference: c.BookingReference,
		StartTime:        c.StartTime,
		Status:           string(c.Status),
		Reason:           c.Reason,
		CancelledAt:      c.CancelledAt,
	}
}

type RescheduleResponse struct {
	OldSlotID        uuid.UUID `json:"old_slot_id"`
	NewSlotID        uuid.UUID `json:"new_slot_id"`
	BookingReference string    `json:"booking_reference"`
	ProviderID       uuid.UUID `json:"provider_id"`
	StartTime        time.Time `json:"slot_start_time"`
	EndTime          time.Time `json:"slot_end_time"`
	Timezone         string    `json:"timezone"`
	AppointmentType  string    `json:"appointment_type"`
	Notes            *string   `json:"notes,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func rescheduleResponse(c *appointment.RescheduleConfirmation) RescheduleResponse {
	return RescheduleResponse{
		OldSlotID:        c.OldSlotID,
		NewSlotID:        c.NewSlotID,
		BookingReference: c.BookingReference,
		ProviderID:       c.ProviderID,
		StartTime:        c.StartTime,
		EndTime:          c.EndTime,
		Timezone:         c.Timezone,
		AppointmentType:  string(c.AppointmentType),
		Notes:            c.Notes,
		UpdatedAt:        c.UpdatedAt,
	}
}

type ProviderInfo struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization"`
	Email          string    `json:"email"`
}

type PatientAppointmentResponse struct {
	SlotID             uuid.UUID    `json:"slot_id"`
	BookingReference   *string      `json:"booking_reference,omitempty"`
	Status             string       `json:"status"`
	AppointmentDate    string       `json:"appointment_date"`
	AppointmentTime    string       `json:"appointment_time"`
	AppointmentEndTime string       `json:"appointment_end_time"`
	Timezone           string       `json:"timezone"`
	AppointmentType    string       `json:"appointment_type"`
	Notes              *string      `json:"notes,omitempty"`
	Provider           ProviderInfo `json:"provider"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
	IsPast             bool         `json:"is_past"`
	IsToday            bool         `json:"is_today"`
	IsUpcoming         bool         `json:"is_upcoming"`
}

func patientAppointmentResponse(a appointment.PatientAppointment) PatientAppointmentResponse {
	return PatientAppointmentResponse{
		SlotID:             a.Slot.ID,
		BookingReference:   a.Slot.BookingReference,
		Status:             string(a.Slot.Status),
		AppointmentDate:    appointment.FormatDate(a.Slot.LocalDate()),
		AppointmentTime:    a.Slot.LocalStart().Format("15:04"),
		AppointmentEndTime: a.Slot.LocalEnd().Format("15:04"),
		Timezone:           a.Slot.Timezone,
		AppointmentType:    string(a.Slot.AppointmentType),
		Notes:              a.Slot.Notes,
		Provider: ProviderInfo{
			ID:             a.Provider.ID,
			Name:           a.Provider.FullName(),
			Specialization: a.Provider.Specialization,
			Email:          a.Provider.Email,
		},
		CreatedAt:  a.Slot.CreatedAt,
		UpdatedAt:  a.Slot.UpdatedAt,
		IsPast:     a.IsPast,
		IsToday:    a.IsToday,
		IsUpcoming: a.IsUpcoming,
	}
}

type AppointmentSummary struct {
	Total    int `json:"total_appointments"`
	Booked   int `json:"booked_appointments"`
	Past     int `json:"past_appointments"`
	Upcoming int `json:"upcoming_appointments"`
}

type AppliedFilters struct {
	Status     *string `json:"status"`
	StartDate  *string `json:"start_date"`
	EndDate    *string `json:"end_date"`
	ProviderID *string `json:"provider_id"`
}

type PatientAppointmentsResponse struct {
	PatientID      uuid.UUID                    `json:"patient_id"`
	Summary        AppointmentSummary           `json:"summary"`
	FiltersApplied AppliedFilters               `json:"filters_applied"`
	Appointments   []PatientAppointmentResponse `json:"appointments"`
}

type ErrorResponse struct {
	Error         string            `json:"error"`
	Code          int               `json:"code"`
	Message       string            `json:"message"`
	Details       map[string]string `json:"details,omitempty"`
	CurrentStatus string            `json:"current_status,omitempty"`
}
