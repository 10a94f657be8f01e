package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/availability-booking/internal/appointment"
	"github.com/hackgods/availability-booking/internal/identity"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

type handlers struct {
	svc *appointment.Service
}

// decodeBody reads an optional JSON body into v. An empty body leaves v as is.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
	return false
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// queryDate parses an optional YYYY-MM-DD query parameter.
func queryDate(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	d, err := appointment.ParseDate(raw)
	if err != nil {
		writeFieldError(w, name, "must be YYYY-MM-DD")
		return nil, false
	}
	return &d, true
}

func queryStatus(w http.ResponseWriter, r *http.Request) (*appointment.SlotStatus, bool) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return nil, true
	}
	s := appointment.SlotStatus(raw)
	if !s.Valid() {
		writeFieldError(w, "status", "must be one of available, booked, cancelled, blocked")
		return nil, false
	}
	return &s, true
}

func (h *handlers) createAvailability(w http.ResponseWriter, r *http.Request) {
	providerID, err := identity.CurrentProviderID(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var req CreateAvailabilityRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.svc.CreateAvailability(r.Context(), providerID, req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateAvailabilityResponse{
		AvailabilityID:             res.AvailabilityID,
		SlotsCreated:               res.SlotsCreated,
		TotalAppointmentsAvailable: res.SlotsCreated,
		DateRange: DateRangeResponse{
			Start: appointment.FormatDate(res.DateRange.Start),
			End:   appointment.FormatDate(res.DateRange.End),
		},
	})
}

func (h *handlers) getProviderAvailability(w http.ResponseWriter, r *http.Request) {
	providerID, ok := pathID(w, r)
	if !ok {
		return
	}

	start, ok := queryDate(w, r, "start_date")
	if !ok {
		return
	}
	end, ok := queryDate(w, r, "end_date")
	if !ok {
		return
	}
	if start == nil {
		writeFieldError(w, "start_date", "is required")
		return
	}
	if end == nil {
		writeFieldError(w, "end_date", "is required")
		return
	}

	status, ok := queryStatus(w, r)
	if !ok {
		return
	}

	q := appointment.ScheduleQuery{ProviderID: providerID, StartDate: *start, EndDate: *end, Status: status}
	if raw := r.URL.Query().Get("appointment_type"); raw != "" {
		t := appointment.AppointmentType(raw)
		if !t.Valid() {
			writeFieldError(w, "appointment_type", "must be one of consultation, follow_up, emergency, telemedicine")
			return
		}
		q.Type = &t
	}

	sched, err := h.svc.GetProviderAvailability(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, providerAvailabilityResponse(sched))
}

func (h *handlers) getAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	av, err := h.svc.GetAvailability(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse(av))
}

func (h *handlers) getSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	slot, err := h.svc.GetSlot(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slotResponse(*slot))
}

func (h *handlers) bookSlot(w http.ResponseWriter, r *http.Request) {
	patientID, err := identity.CurrentPatientID(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	slotID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req BookSlotRequest
	if !decodeBody(w, r, &req) {
		return
	}

	conf, err := h.svc.Book(r.Context(), patientID, slotID, req.Notes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bookingResponse(conf))
}

func (h *handlers) cancelSlot(w http.ResponseWriter, r *http.Request) {
	patientID, err := identity.CurrentPatientID(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	slotID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req CancelSlotRequest
	if !decodeBody(w, r, &req) {
		return
	}

	conf, err := h.svc.Cancel(r.Context(), patientID, slotID, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cancellationResponse(conf))
}

func (h *handlers) rescheduleSlot(w http.ResponseWriter, r *http.Request) {
	patientID, err := identity.CurrentPatientID(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	currentID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req RescheduleSlotRequest
	if !decodeBody(w, r, &req) {
		return
	}
	newID, err := uuid.Parse(req.NewSlotID)
	if err != nil {
		writeFieldError(w, "new_slot_id", "must be a valid UUID")
		return
	}

	conf, err := h.svc.Reschedule(r.Context(), patientID, currentID, newID, req.Notes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rescheduleResponse(conf))
}

func (h *handlers) blockSlot(w http.ResponseWriter, r *http.Request) {
	providerID, err := identity.CurrentProviderID(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	slotID, ok := pathID(w, r)
	if !ok {
		return
	}

	slot, err := h.svc.BlockSlot(r.Context(), providerID, slotID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slotResponse(*slot))
}

func (h *handlers) providerCancelSlot(w http.ResponseWriter, r *http.Request) {
	providerID, err := identity.CurrentProviderID(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	slotID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req CancelSlotRequest
	if !decodeBody(w, r, &req) {
		return
	}

	conf, err := h.svc.ProviderCancelSlot(r.Context(), providerID, slotID, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cancellationResponse(conf))
}

func (h *handlers) listPatientAppointments(w http.ResponseWriter, r *http.Request) {
	patientID, err := identity.CurrentPatientID(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	q := r.URL.Query()
	var filter appointment.PatientFilter
	var applied AppliedFilters
	var ok bool

	if filter.Status, ok = queryStatus(w, r); !ok {
		return
	}
	// cancelling clears the patient binding, so only booked slots list here
	if filter.Status != nil && *filter.Status != appointment.SlotBooked {
		writeFieldError(w, "status", "only booked appointments are listed for a patient")
		return
	}
	if filter.StartDate, ok = queryDate(w, r, "start_date"); !ok {
		return
	}
	if filter.EndDate, ok = queryDate(w, r, "end_date"); !ok {
		return
	}
	if raw := q.Get("provider_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeFieldError(w, "provider_id", "must be a valid UUID")
			return
		}
		filter.ProviderID = &id
		applied.ProviderID = &raw
	}
	if filter.Status != nil {
		s := string(*filter.Status)
		applied.Status = &s
	}
	if filter.StartDate != nil {
		s := appointment.FormatDate(*filter.StartDate)
		applied.StartDate = &s
	}
	if filter.EndDate != nil {
		s := appointment.FormatDate(*filter.EndDate)
		applied.EndDate = &s
	}

	limit := defaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			writeFieldError(w, "limit", "must be between 1 and "+strconv.Itoa(maxListLimit))
			return
		}
		limit = n
	}
	filter.PageSize = limit

	resp := PatientAppointmentsResponse{
		PatientID:      patientID,
		FiltersApplied: applied,
		Appointments:   make([]PatientAppointmentResponse, 0),
	}
	for a, err := range h.svc.ListForPatient(r.Context(), patientID, filter) {
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp.Appointments = append(resp.Appointments, patientAppointmentResponse(a))
		resp.Summary.Total++
		if a.Slot.Status == appointment.SlotBooked {
			resp.Summary.Booked++
		}
		if a.IsPast {
			resp.Summary.Past++
		}
		if a.IsUpcoming {
			resp.Summary.Upcoming++
		}

		if len(resp.Appointments) == limit {
			break
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
