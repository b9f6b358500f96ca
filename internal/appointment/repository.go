package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrRescheduleNotFound  = errors.New("reschedule request not found")

	// ErrStaleStatus means a conditional status update matched no row
	// because the entity moved on since it was read. The caller lost a race.
	ErrStaleStatus = errors.New("status changed concurrently")

	// ErrPendingRescheduleExists enforces the one-pending-request-per-
	// appointment invariant at the storage layer.
	ErrPendingRescheduleExists = errors.New("appointment already has a pending reschedule request")
)

// ListFilter narrows ListAppointments. Nil fields are ignored.
type ListFilter struct {
	Status    *Status
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
}

// Repository contains all appointment and reschedule persistence needed by
// the service.
type Repository interface {
	CreateAppointment(ctx context.Context, a *Appointment) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetAppointmentForUpdate reads the appointment and, on SQL stores,
	// locks its row for the rest of the transaction so the status cannot
	// move underneath the caller before commit.
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateAppointmentStatus applies from -> to conditionally: the update
	// only matches while the stored status is still from, so racing
	// transitions resolve to one winner.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	// SetAppointmentSchedule atomically repoints the appointment at a new
	// slot and window (reschedule approval).
	SetAppointmentSchedule(ctx context.Context, id, slotID uuid.UUID, start, end time.Time) (*Appointment, error)
	ListAppointments(ctx context.Context, filter ListFilter, limit, offset int) ([]Appointment, int, error)

	// CreateRescheduleRequest fails with ErrPendingRescheduleExists when a
	// pending request for the same appointment already exists.
	CreateRescheduleRequest(ctx context.Context, r *RescheduleRequest) error
	GetRescheduleRequestByID(ctx context.Context, id uuid.UUID) (*RescheduleRequest, error)
	GetPendingRescheduleForAppointment(ctx context.Context, appointmentID uuid.UUID) (*RescheduleRequest, error)
	UpdateRescheduleStatus(ctx context.Context, id uuid.UUID, from, to RescheduleStatus) (*RescheduleRequest, error)
	// ListPendingReschedules feeds the sweeper.
	ListPendingReschedules(ctx context.Context) ([]RescheduleRequest, error)

	// Event logging
	InsertEvent(ctx context.Context, ev Event) error
}
