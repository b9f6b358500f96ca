package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/telehealth-scheduling/internal/appointment"
	"github.com/carebridge/telehealth-scheduling/internal/availability"
	"github.com/carebridge/telehealth-scheduling/internal/db"
	"github.com/carebridge/telehealth-scheduling/internal/notify"
)

type nopLocker struct{}

func (nopLocker) WithSlotLocks(ctx context.Context, fn func(ctx context.Context) error, _ ...uuid.UUID) error {
	return fn(ctx)
}

type testEnv struct {
	router    http.Handler
	avail     *availability.Service
	doctorID  uuid.UUID
	patientID uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zerolog.Nop()
	availSvc := availability.NewService(availability.NewMemoryRepository(), db.InlineRunner{}, logger)
	apptSvc := appointment.NewService(
		appointment.NewMemoryRepository(),
		availSvc,
		nopLocker{},
		db.InlineRunner{},
		notify.NewLogDispatcher(logger),
		logger,
	)

	router := NewRouter(RouterConfig{
		Availability: availSvc,
		Appointments: apptSvc,
		Logger:       logger,
		Env:          "test",
		Version:      "test",
	})

	return &testEnv{
		router:    router,
		avail:     availSvc,
		doctorID:  uuid.New(),
		patientID: uuid.New(),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, userID uuid.UUID, role string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != uuid.Nil {
		req.Header.Set("X-User-ID", userID.String())
		req.Header.Set("X-User-Role", role)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func (e *testEnv) publishSlot(t *testing.T, hour int) SlotResponse {
	t.Helper()
	start := time.Date(2026, 3, 2, hour, 0, 0, 0, time.UTC)
	rec := e.do(t, http.MethodPost, "/doctors/"+e.doctorID.String()+"/slots",
		PublishSlotRequest{Start: start, End: start.Add(30 * time.Minute)},
		e.doctorID, "doctor")
	if rec.Code != http.StatusCreated {
		t.Fatalf("publish slot: status %d, body %s", rec.Code, rec.Body.String())
	}
	return decodeBody[SlotResponse](t, rec)
}

func (e *testEnv) book(t *testing.T, slotID uuid.UUID) AppointmentResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/appointments",
		AllocateRequest{SlotID: slotID.String(), Type: "video"},
		e.patientID, "patient")
	if rec.Code != http.StatusCreated {
		t.Fatalf("allocate: status %d, body %s", rec.Code, rec.Body.String())
	}
	return decodeBody[AppointmentResponse](t, rec)
}

func TestMissingIdentity(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/appointments", nil, uuid.Nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	resp := decodeBody[ErrorResponse](t, rec)
	if resp.Error != "missing_identity" {
		t.Errorf("error = %q, want missing_identity", resp.Error)
	}
}

func TestPublishSlotEndpoint(t *testing.T) {
	e := newTestEnv(t)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	path := "/doctors/" + e.doctorID.String() + "/slots"

	rec := e.do(t, http.MethodPost, path,
		PublishSlotRequest{Start: start, End: start.Add(30 * time.Minute)},
		e.doctorID, "doctor")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	slot := decodeBody[SlotResponse](t, rec)
	if !slot.Bookable {
		t.Error("new slot should be bookable")
	}

	// Same window again is a conflict.
	rec = e.do(t, http.MethodPost, path,
		PublishSlotRequest{Start: start, End: start.Add(30 * time.Minute)},
		e.doctorID, "doctor")
	if rec.Code != http.StatusConflict {
		t.Errorf("overlap status = %d, want 409", rec.Code)
	}
	if resp := decodeBody[ErrorResponse](t, rec); resp.Error != "window_overlap" {
		t.Errorf("error = %q, want window_overlap", resp.Error)
	}

	// Inverted window is a bad request.
	rec = e.do(t, http.MethodPost, path,
		PublishSlotRequest{Start: start.Add(time.Hour), End: start},
		e.doctorID, "doctor")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("inverted window status = %d, want 400", rec.Code)
	}

	// Another doctor may not publish on this calendar.
	rec = e.do(t, http.MethodPost, path,
		PublishSlotRequest{Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour)},
		uuid.New(), "doctor")
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign doctor status = %d, want 403", rec.Code)
	}

	// Patients cannot publish at all.
	rec = e.do(t, http.MethodPost, path,
		PublishSlotRequest{Start: start.Add(4 * time.Hour), End: start.Add(5 * time.Hour)},
		e.patientID, "patient")
	if rec.Code != http.StatusForbidden {
		t.Errorf("patient publish status = %d, want 403", rec.Code)
	}
}

func TestListSlotsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.publishSlot(t, 9)
	e.publishSlot(t, 10)

	// Any authenticated caller may browse a doctor's calendar.
	rec := e.do(t, http.MethodGet, "/doctors/"+e.doctorID.String()+"/slots", nil, e.patientID, "patient")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	slots := decodeBody[[]SlotResponse](t, rec)
	if len(slots) != 2 {
		t.Errorf("len = %d, want 2", len(slots))
	}

	rec = e.do(t, http.MethodGet, "/doctors/"+e.doctorID.String()+"/slots?from=not-a-time", nil, e.patientID, "patient")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad from param status = %d, want 400", rec.Code)
	}
}

func TestTimeOffEndpoints(t *testing.T) {
	e := newTestEnv(t)
	slot := e.publishSlot(t, 9)
	base := "/doctors/" + e.doctorID.String() + "/time-off"

	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	rec := e.do(t, http.MethodPost, base,
		MarkTimeOffRequest{Start: start, End: start.Add(4 * time.Hour)},
		e.doctorID, "doctor")
	if rec.Code != http.StatusCreated {
		t.Fatalf("mark time-off: status %d, body %s", rec.Code, rec.Body.String())
	}
	off := decodeBody[TimeOffResponse](t, rec)

	// The covered slot is no longer bookable.
	rec = e.do(t, http.MethodGet, "/doctors/"+e.doctorID.String()+"/slots", nil, e.patientID, "patient")
	for _, s := range decodeBody[[]SlotResponse](t, rec) {
		if s.ID == slot.ID && s.Bookable {
			t.Error("slot under time-off should not be bookable")
		}
	}

	rec = e.do(t, http.MethodGet, base, nil, e.doctorID, "doctor")
	if rec.Code != http.StatusOK {
		t.Fatalf("list time-off: status %d", rec.Code)
	}
	if offs := decodeBody[[]TimeOffResponse](t, rec); len(offs) != 1 {
		t.Errorf("time-off list len = %d, want 1", len(offs))
	}

	rec = e.do(t, http.MethodDelete, base+"/"+off.ID.String(), nil, e.doctorID, "doctor")
	if rec.Code != http.StatusNoContent {
		t.Errorf("remove time-off: status %d, want 204", rec.Code)
	}

	rec = e.do(t, http.MethodDelete, base+"/"+off.ID.String(), nil, e.doctorID, "doctor")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second remove: status %d, want 404", rec.Code)
	}
}

func TestAllocateEndpoint(t *testing.T) {
	e := newTestEnv(t)
	slot := e.publishSlot(t, 9)

	appt := e.book(t, slot.ID)
	if appt.Status != "pending" {
		t.Errorf("status = %q, want pending", appt.Status)
	}
	if appt.SlotID != slot.ID {
		t.Errorf("slot_id = %s, want %s", appt.SlotID, slot.ID)
	}

	// Second booking of the same slot conflicts.
	rec := e.do(t, http.MethodPost, "/appointments",
		AllocateRequest{SlotID: slot.ID.String(), Type: "video"},
		uuid.New(), "patient")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	if resp := decodeBody[ErrorResponse](t, rec); resp.Error != "slot_unavailable" {
		t.Errorf("error = %q, want slot_unavailable", resp.Error)
	}

	// Unknown slot, invalid type, malformed slot id.
	rec = e.do(t, http.MethodPost, "/appointments",
		AllocateRequest{SlotID: uuid.NewString(), Type: "video"},
		e.patientID, "patient")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown slot status = %d, want 404", rec.Code)
	}

	slot2 := e.publishSlot(t, 10)
	rec = e.do(t, http.MethodPost, "/appointments",
		AllocateRequest{SlotID: slot2.ID.String(), Type: "carrier-pigeon"},
		e.patientID, "patient")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad type status = %d, want 400", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/appointments",
		AllocateRequest{SlotID: "nope", Type: "video"},
		e.patientID, "patient")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad slot id status = %d, want 400", rec.Code)
	}
}

func TestAppointmentLifecycleEndpoints(t *testing.T) {
	e := newTestEnv(t)
	slot := e.publishSlot(t, 9)
	appt := e.book(t, slot.ID)
	base := "/appointments/" + appt.ID.String()

	// Get: parties only.
	if rec := e.do(t, http.MethodGet, base, nil, e.patientID, "patient"); rec.Code != http.StatusOK {
		t.Errorf("patient get: status %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, base, nil, uuid.New(), "patient"); rec.Code != http.StatusForbidden {
		t.Errorf("outsider get: status %d, want 403", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/appointments/"+uuid.NewString(), nil, e.patientID, "patient"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown get: status %d, want 404", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/appointments/not-a-uuid", nil, e.patientID, "patient"); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed id: status %d, want 400", rec.Code)
	}

	// Patient cannot confirm.
	if rec := e.do(t, http.MethodPost, base+"/confirm", nil, e.patientID, "patient"); rec.Code != http.StatusForbidden {
		t.Errorf("patient confirm: status %d, want 403", rec.Code)
	}

	rec := e.do(t, http.MethodPost, base+"/confirm", nil, e.doctorID, "doctor")
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: status %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[AppointmentResponse](t, rec); got.Status != "confirmed" {
		t.Errorf("status = %q, want confirmed", got.Status)
	}

	// Double confirm is a conflict.
	rec = e.do(t, http.MethodPost, base+"/confirm", nil, e.doctorID, "doctor")
	if rec.Code != http.StatusConflict {
		t.Errorf("double confirm: status %d, want 409", rec.Code)
	}
	if resp := decodeBody[ErrorResponse](t, rec); resp.Error != "invalid_status_transition" {
		t.Errorf("error = %q, want invalid_status_transition", resp.Error)
	}

	// Closing out before the scheduled start is a conflict too.
	if slot.Start.After(time.Now()) {
		rec = e.do(t, http.MethodPost, base+"/complete", nil, e.doctorID, "doctor")
		if rec.Code != http.StatusConflict {
			t.Errorf("early complete: status %d, want 409", rec.Code)
		}
	}

	rec = e.do(t, http.MethodPost, base+"/cancel", nil, e.patientID, "patient")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: status %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[AppointmentResponse](t, rec); got.Status != "canceled" {
		t.Errorf("status = %q, want canceled", got.Status)
	}

	// The slot came back.
	rec = e.do(t, http.MethodGet, "/doctors/"+e.doctorID.String()+"/slots", nil, e.patientID, "patient")
	for _, s := range decodeBody[[]SlotResponse](t, rec) {
		if s.ID == slot.ID && !s.Bookable {
			t.Error("slot should be bookable again after cancel")
		}
	}
}

func TestListAppointmentsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	for hour := 9; hour < 14; hour++ {
		slot := e.publishSlot(t, hour)
		e.book(t, slot.ID)
	}

	rec := e.do(t, http.MethodGet, "/appointments?page=1&page_size=2", nil, e.patientID, "patient")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[ListAppointmentsResponse](t, rec)
	if resp.Total != 5 || len(resp.Items) != 2 || resp.TotalPages != 3 {
		t.Errorf("total=%d items=%d pages=%d, want 5/2/3", resp.Total, len(resp.Items), resp.TotalPages)
	}

	rec = e.do(t, http.MethodGet, "/appointments?status=confirmed", nil, e.patientID, "patient")
	resp = decodeBody[ListAppointmentsResponse](t, rec)
	if resp.Total != 0 {
		t.Errorf("confirmed total = %d, want 0", resp.Total)
	}

	// A doctor sees their calendar.
	rec = e.do(t, http.MethodGet, "/appointments", nil, e.doctorID, "doctor")
	resp = decodeBody[ListAppointmentsResponse](t, rec)
	if resp.Total != 5 {
		t.Errorf("doctor total = %d, want 5", resp.Total)
	}

	// Another patient sees nothing.
	rec = e.do(t, http.MethodGet, "/appointments", nil, uuid.New(), "patient")
	resp = decodeBody[ListAppointmentsResponse](t, rec)
	if resp.Total != 0 {
		t.Errorf("stranger total = %d, want 0", resp.Total)
	}
}

func TestListAppointmentsPaginationClamped(t *testing.T) {
	e := newTestEnv(t)
	slot := e.publishSlot(t, 9)
	e.book(t, slot.ID)

	// page_size=0 parses as a real zero; it must be clamped to the default
	// before the response math, not divided by.
	rec := e.do(t, http.MethodGet, "/appointments?page_size=0", nil, e.patientID, "patient")
	if rec.Code != http.StatusOK {
		t.Fatalf("page_size=0: status %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[ListAppointmentsResponse](t, rec)
	if resp.PageSize != 20 || resp.TotalPages != 1 {
		t.Errorf("page_size=0: page_size=%d pages=%d, want 20/1", resp.PageSize, resp.TotalPages)
	}

	// Oversized and negative inputs echo the values actually served.
	rec = e.do(t, http.MethodGet, "/appointments?page=-3&page_size=1000", nil, e.patientID, "patient")
	resp = decodeBody[ListAppointmentsResponse](t, rec)
	if resp.Page != 1 || resp.PageSize != 100 {
		t.Errorf("clamped echo: page=%d page_size=%d, want 1/100", resp.Page, resp.PageSize)
	}
	if resp.TotalPages != 1 {
		t.Errorf("total_pages = %d, want 1", resp.TotalPages)
	}
}

func TestRescheduleEndpoints(t *testing.T) {
	e := newTestEnv(t)
	slot := e.publishSlot(t, 9)
	appt := e.book(t, slot.ID)
	newSlot := e.publishSlot(t, 10)

	rec := e.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/reschedule",
		RequestRescheduleRequest{NewSlotID: newSlot.ID.String()},
		e.patientID, "patient")
	if rec.Code != http.StatusCreated {
		t.Fatalf("request reschedule: status %d, body %s", rec.Code, rec.Body.String())
	}
	req := decodeBody[RescheduleResponse](t, rec)
	if req.Status != "pending" {
		t.Errorf("status = %q, want pending", req.Status)
	}

	// A second request conflicts while the first is pending.
	third := e.publishSlot(t, 11)
	rec = e.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/reschedule",
		RequestRescheduleRequest{NewSlotID: third.ID.String()},
		e.doctorID, "doctor")
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate request: status %d, want 409", rec.Code)
	}

	// Requester cannot approve.
	rec = e.do(t, http.MethodPost, "/reschedules/"+req.ID.String()+"/approve", nil, e.patientID, "patient")
	if rec.Code != http.StatusForbidden {
		t.Errorf("self approve: status %d, want 403", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/reschedules/"+req.ID.String()+"/approve", nil, e.doctorID, "doctor")
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: status %d, body %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[AppointmentResponse](t, rec)
	if updated.SlotID != newSlot.ID {
		t.Errorf("slot_id = %s, want %s", updated.SlotID, newSlot.ID)
	}

	// Deciding again conflicts.
	rec = e.do(t, http.MethodPost, "/reschedules/"+req.ID.String()+"/reject", nil, e.doctorID, "doctor")
	if rec.Code != http.StatusConflict {
		t.Errorf("reject resolved: status %d, want 409", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/reschedules/"+uuid.NewString()+"/approve", nil, e.doctorID, "doctor")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown request: status %d, want 404", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/appointments", nil, e.patientID, "patient")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("response should carry an X-Request-ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	req.Header.Set("X-User-ID", e.patientID.String())
	req.Header.Set("X-User-Role", "patient")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "fixed-id" {
		t.Errorf("X-Request-ID = %q, want propagated fixed-id", got)
	}
}

func TestHealthLive(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeBody[LivenessResponse](t, rec)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
}
