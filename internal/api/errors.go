package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/availability-booking/internal/appointment"
	"github.com/hackgods/availability-booking/internal/identity"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Code: status, Message: message})
}

func writeFieldError(w http.ResponseWriter, field, message string) {
	writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error:   appointment.KindValidation,
		Code:    http.StatusUnprocessableEntity,
		Message: "validation failed",
		Details: map[string]string{field: message},
	})
}

var kindStatus = map[string]int{
	appointment.KindValidation:         http.StatusUnprocessableEntity,
	appointment.KindConfiguration:      http.StatusUnprocessableEntity,
	appointment.KindNotFound:           http.StatusNotFound,
	appointment.KindConflict:           http.StatusConflict,
	appointment.KindTimeout:            http.StatusGatewayTimeout,
	appointment.KindReferenceCollision: http.StatusServiceUnavailable,
	appointment.KindInternal:           http.StatusInternalServerError,
}

// writeServiceError maps a service or identity error onto the error envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return
	case errors.Is(err, identity.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "unauthorized", err.Error())
		return
	}

	kind := appointment.KindOf(err)
	status := kindStatus[kind]
	resp := ErrorResponse{Error: kind, Code: status, Message: err.Error()}

	var verr *appointment.ValidationError
	if errors.As(err, &verr) {
		resp.Message = "validation failed"
		resp.Details = verr.Fields
	}

	var cerr *appointment.ConflictError
	if errors.As(err, &cerr) {
		resp.Message = cerr.Err.Error()
		resp.CurrentStatus = string(cerr.Status)
	}

	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("kind", kind).Msg("request failed")
		if kind == appointment.KindInternal {
			resp.Message = "internal error"
		}
	}

	writeJSON(w, status, resp)
}
