// Package actor identifies who is performing an engine operation.
//
// Identity and role management live outside this service; the caller (API
// layer, worker, test) passes an Actor explicitly into every operation
// instead of relying on any ambient request state.
package actor

import (
	"errors"

	"github.com/google/uuid"
)

// ErrForbidden is returned when the acting user lacks standing for the
// requested operation.
var ErrForbidden = errors.New("actor is not allowed to perform this action")

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Valid reports whether r is a role this engine knows about.
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

type Actor struct {
	UserID uuid.UUID
	Role   Role
}

// Patient builds a patient actor.
func Patient(id uuid.UUID) Actor {
	return Actor{UserID: id, Role: RolePatient}
}

// Doctor builds a doctor actor.
func Doctor(id uuid.UUID) Actor {
	return Actor{UserID: id, Role: RoleDoctor}
}
