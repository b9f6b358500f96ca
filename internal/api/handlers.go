package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carebridge/telehealth-scheduling/internal/actor"
	"github.com/carebridge/telehealth-scheduling/internal/availability"
)

func publishSlotHandler(svc *availability.Service) http.HandlerFunc {
	return requireActor(func(w http.ResponseWriter, r *http.Request, act actor.Actor) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}
		if act.Role != actor.RoleDoctor || act.UserID != doctorID {
			writeError(w, http.StatusForbidden, "forbidden", "only the doctor may publish their own slots")
			return
		}

		var req PublishSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slot, err := svc.PublishSlot(r.Context(), doctorID, req.Start, req.End)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSlotResponse(slot))
	})
}

func listSlotsHandler(svc *availability.Service) http.HandlerFunc {
	return requireActor(func(w http.ResponseWriter, r *http.Request, _ actor.Actor) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}

		from, ok := parseTimeParam(w, r, "from")
		if !ok {
			return
		}
		to, ok := parseTimeParam(w, r, "to")
		if !ok {
			return
		}

		slots, err := svc.ListSlots(r.Context(), doctorID, from, to)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for i := range slots {
			resp = append(resp, toSlotResponse(&slots[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	})
}

func markTimeOffHandler(svc *availability.Service) http.HandlerFunc {
	return requireActor(func(w http.ResponseWriter, r *http.Request, act actor.Actor) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}
		if act.Role != actor.RoleDoctor || act.UserID != doctorID {
			writeError(w, http.StatusForbidden, "forbidden", "only the doctor may mark their own time-off")
			return
		}

		var req MarkTimeOffRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		off, err := svc.MarkTimeOff(r.Context(), doctorID, req.Start, req.End, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toTimeOffResponse(off))
	})
}

func removeTimeOffHandler(svc *availability.Service) http.HandlerFunc {
	return requireActor(func(w http.ResponseWriter, r *http.Request, act actor.Actor) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}
		timeOffID, err := uuid.Parse(chi.URLParam(r, "timeOffID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time_off_id", "timeOffID must be a valid UUID")
			return
		}
		if act.Role != actor.RoleDoctor || act.UserID != doctorID {
			writeError(w, http.StatusForbidden, "forbidden", "only the doctor may remove their own time-off")
			return
		}

		if err := svc.RemoveTimeOff(r.Context(), doctorID, timeOffID); err != nil {
			handleServiceError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func listTimeOffHandler(svc *availability.Service) http.HandlerFunc {
	return requireActor(func(w http.ResponseWriter, r *http.Request, act actor.Actor) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}
		if act.Role != actor.RoleDoctor || act.UserID != doctorID {
			writeError(w, http.StatusForbidden, "forbidden", "only the doctor may list their own time-off")
			return
		}

		offs, err := svc.ListTimeOff(r.Context(), doctorID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]TimeOffResponse, 0, len(offs))
		for i := range offs {
			resp = append(resp, toTimeOffResponse(&offs[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	})
}

// parseTimeParam parses an optional RFC3339 query parameter. The bool result
// is false when the response has already been written.
func parseTimeParam(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be RFC3339")
		return nil, false
	}
	return &t, true
}
