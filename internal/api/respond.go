package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/carebridge/telehealth-scheduling/internal/actor"
	"github.com/carebridge/telehealth-scheduling/internal/appointment"
	"github.com/carebridge/telehealth-scheduling/internal/availability"
	redisclient "github.com/carebridge/telehealth-scheduling/internal/redis"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// handleServiceError maps engine errors onto HTTP responses. Slot races are
// ordinary conflicts the UI resolves by offering another slot, not server
// failures.
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, availability.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
	case errors.Is(err, appointment.ErrInvalidType):
		writeError(w, http.StatusBadRequest, "invalid_appointment_type", err.Error())
	case errors.Is(err, appointment.ErrSlotDoctorMismatch):
		writeError(w, http.StatusBadRequest, "slot_doctor_mismatch", err.Error())
	case errors.Is(err, actor.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, availability.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, availability.ErrTimeOffNotFound):
		writeError(w, http.StatusNotFound, "time_off_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrRescheduleNotFound):
		writeError(w, http.StatusNotFound, "reschedule_request_not_found", err.Error())
	case errors.Is(err, availability.ErrWindowOverlap):
		writeError(w, http.StatusConflict, "window_overlap", err.Error())
	case errors.Is(err, availability.ErrBookedSlotOverlap):
		writeError(w, http.StatusConflict, "booked_slot_overlap", err.Error())
	case errors.Is(err, appointment.ErrSlotUnavailable),
		errors.Is(err, availability.ErrAlreadyClaimed):
		writeError(w, http.StatusConflict, "slot_unavailable", "slot is not available for booking")
	case errors.Is(err, appointment.ErrSlotBeingBooked),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrPendingRescheduleExists):
		writeError(w, http.StatusConflict, "pending_reschedule_exists", err.Error())
	case errors.Is(err, appointment.ErrRescheduleResolved):
		writeError(w, http.StatusConflict, "reschedule_already_resolved", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
