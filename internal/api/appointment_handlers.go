package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carebridge/telehealth-scheduling/internal/actor"
	"github.com/carebridge/telehealth-scheduling/internal/appointment"
)

func allocateHandler(svc *appointment.Service) http.HandlerFunc {
	return requireActor(func(w http.ResponseWriter, r *http.Request, act actor.Actor) {
		var req AllocateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}

		appt, err := svc.Allocate(r.Context(), slotID, act, appointment.Type(req.Type), req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	})
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return requireActor(func(w http.ResponseWriter, r *http.Request, act actor.Actor) {
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), id, act)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	})
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return requireActor(func(w http.ResponseWriter, r *http.Request, act actor.Actor) {
		q := r.URL.Query()

		var status *appointment.Status
		if raw := q.Get("status"); raw != "" {
			st := appointment.Status(raw)
			status = &st
		}

		page, pageSize := appointment.ClampPage(intParam(q.Get("page"), 1), intParam(q.Get("page_size"), 20))

		items, total, err := svc.List(r.Context(), act, status, page, pageSize)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := ListAppointmentsResponse{
			Items:      make([]AppointmentResponse, 0, len(items)),
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: (total + pageSize - 1) / pageSize,
		}
		for i := range items {
			resp.Items = append(resp.Items, toAppointmentResponse(&items[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	})
}

func confirmAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(svc.Confirm)
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(svc.Cancel)
}

func completeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(svc.MarkCompleted)
}

func noShowAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(svc.MarkNoShow)
}

func requestRescheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return requireActor(func(w http.ResponseWriter, r *http.Request, act actor.Actor) {
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		var req RequestRescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		newSlotID, err := uuid.Parse(req.NewSlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "new_slot_id must be a valid UUID")
			return
		}

		resched, err := svc.RequestReschedule(r.Context(), id, newSlotID, act)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toRescheduleResponse(resched))
	})
}

func approveRescheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return requireActor(func(w http.ResponseWriter, r *http.Request, act actor.Actor) {
		id, err := uuid.Parse(chi.URLParam(r, "requestID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_id", "requestID must be a valid UUID")
			return
		}

		appt, err := svc.ApproveReschedule(r.Context(), id, act)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	})
}

func rejectRescheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return requireActor(func(w http.ResponseWriter, r *http.Request, act actor.Actor) {
		id, err := uuid.Parse(chi.URLParam(r, "requestID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_id", "requestID must be a valid UUID")
			return
		}

		resched, err := svc.RejectReschedule(r.Context(), id, act)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toRescheduleResponse(resched))
	})
}

// transitionHandler adapts the confirm/cancel/complete/no-show service
// methods, which all share a signature.
func transitionHandler(op func(ctx context.Context, id uuid.UUID, act actor.Actor) (*appointment.Appointment, error)) http.HandlerFunc {
	return requireActor(func(w http.ResponseWriter, r *http.Request, act actor.Actor) {
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		appt, err := op(r.Context(), id, act)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	})
}

func appointmentIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
