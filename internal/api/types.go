package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/telehealth-scheduling/internal/appointment"
	"github.com/carebridge/telehealth-scheduling/internal/availability"
)

type PublishSlotRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type SlotResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	IsBooked  bool      `json:"is_booked"`
	IsTimeOff bool      `json:"is_time_off"`
	Bookable  bool      `json:"bookable"`
}

func toSlotResponse(s *availability.Slot) SlotResponse {
	return SlotResponse{
		ID:        s.ID,
		DoctorID:  s.DoctorID,
		Start:     s.StartTime,
		End:       s.EndTime,
		IsBooked:  s.IsBooked,
		IsTimeOff: s.IsTimeOff,
		Bookable:  s.Bookable(),
	}
}

type MarkTimeOffRequest struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Reason *string   `json:"reason,omitempty"`
}

type TimeOffResponse struct {
	ID       uuid.UUID `json:"id"`
	DoctorID uuid.UUID `json:"doctor_id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Reason   *string   `json:"reason,omitempty"`
}

func toTimeOffResponse(t *availability.TimeOff) TimeOffResponse {
	return TimeOffResponse{
		ID:       t.ID,
		DoctorID: t.DoctorID,
		Start:    t.StartTime,
		End:      t.EndTime,
		Reason:   t.Reason,
	}
}

type AllocateRequest struct {
	SlotID string  `json:"slot_id"`
	Type   string  `json:"type"`
	Reason *string `json:"reason,omitempty"`
}

type AppointmentResponse struct {
	ID             uuid.UUID `json:"id"`
	PatientID      uuid.UUID `json:"patient_id"`
	DoctorID       uuid.UUID `json:"doctor_id"`
	SlotID         uuid.UUID `json:"slot_id"`
	ScheduledStart time.Time `json:"scheduled_start"`
	ScheduledEnd   time.Time `json:"scheduled_end"`
	Type           string    `json:"type"`
	Reason         *string   `json:"reason,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:             a.ID,
		PatientID:      a.PatientID,
		DoctorID:       a.DoctorID,
		SlotID:         a.SlotID,
		ScheduledStart: a.ScheduledStart,
		ScheduledEnd:   a.ScheduledEnd,
		Type:           string(a.Type),
		Reason:         a.Reason,
		Status:         string(a.Status),
		CreatedAt:      a.CreatedAt,
	}
}

type RequestRescheduleRequest struct {
	NewSlotID string `json:"new_slot_id"`
}

type RescheduleResponse struct {
	ID              uuid.UUID  `json:"id"`
	AppointmentID   uuid.UUID  `json:"appointment_id"`
	RequestedSlotID uuid.UUID  `json:"requested_slot_id"`
	RequestedBy     uuid.UUID  `json:"requested_by"`
	RequestedByRole string     `json:"requested_by_role"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

func toRescheduleResponse(r *appointment.RescheduleRequest) RescheduleResponse {
	return RescheduleResponse{
		ID:              r.ID,
		AppointmentID:   r.AppointmentID,
		RequestedSlotID: r.RequestedSlotID,
		RequestedBy:     r.RequestedBy,
		RequestedByRole: string(r.RequestedByRole),
		Status:          string(r.Status),
		CreatedAt:       r.CreatedAt,
		ResolvedAt:      r.ResolvedAt,
	}
}

type ListAppointmentsResponse struct {
	Items      []AppointmentResponse `json:"items"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	Total      int                   `json:"total"`
	TotalPages int                   `json:"total_pages"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
