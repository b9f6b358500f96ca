package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/telehealth-scheduling/internal/actor"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
	StatusNoShow    Status = "no_show"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusNoShow:
		return true
	}
	return false
}

// transitions is the legal state machine. Statuses move monotonically along
// these edges; anything absent here is rejected.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCanceled},
	StatusConfirmed: {StatusCompleted, StatusCanceled, StatusNoShow},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Type string

const (
	TypeVideo    Type = "video"
	TypeInPerson Type = "in_person"
	TypeChat     Type = "chat"
	TypeVoice    Type = "voice"
)

func (t Type) Valid() bool {
	switch t {
	case TypeVideo, TypeInPerson, TypeChat, TypeVoice:
		return true
	}
	return false
}

// Appointment is a booked visit. Its scheduled window is copied from the
// slot at allocation time and afterwards changes only through an approved
// reschedule; later slot edits never reach a booked appointment.
type Appointment struct {
	ID             uuid.UUID
	PatientID      uuid.UUID
	DoctorID       uuid.UUID
	SlotID         uuid.UUID
	ScheduledStart time.Time
	ScheduledEnd   time.Time
	Type           Type
	Reason         *string
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsParty reports whether a is the appointment's patient or doctor.
func (ap *Appointment) IsParty(a actor.Actor) bool {
	switch a.Role {
	case actor.RolePatient:
		return a.UserID == ap.PatientID
	case actor.RoleDoctor:
		return a.UserID == ap.DoctorID
	}
	return false
}

type RescheduleStatus string

const (
	RescheduleStatusPending  RescheduleStatus = "pending"
	RescheduleStatusApproved RescheduleStatus = "approved"
	RescheduleStatusRejected RescheduleStatus = "rejected"
)

// RescheduleRequest is one party's proposal to move an appointment to a
// different slot, awaiting the counterparty's decision. The requested slot
// is held for the lifetime of the request so nobody else can take it.
type RescheduleRequest struct {
	ID              uuid.UUID
	AppointmentID   uuid.UUID
	RequestedSlotID uuid.UUID
	RequestedBy     uuid.UUID
	RequestedByRole actor.Role
	Status          RescheduleStatus
	CreatedAt       time.Time
	ResolvedAt      *time.Time
}

// Counterparty reports whether a sits on the opposite side of the request
// within the given appointment.
func (r *RescheduleRequest) Counterparty(ap *Appointment, a actor.Actor) bool {
	switch r.RequestedByRole {
	case actor.RolePatient:
		return a.Role == actor.RoleDoctor && a.UserID == ap.DoctorID
	case actor.RoleDoctor:
		return a.Role == actor.RolePatient && a.UserID == ap.PatientID
	}
	return false
}

// Event is an audit record of one engine action, written in the same
// transaction as the state change it describes.
type Event struct {
	ID            int64
	AppointmentID uuid.UUID
	EventType     string
	ActorID       uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
