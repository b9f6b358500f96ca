package availability

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSlotNotFound    = errors.New("slot not found")
	ErrTimeOffNotFound = errors.New("time-off entry not found")

	// ErrAlreadyClaimed is returned by ClaimSlot when the slot exists but is
	// already booked or disabled by time-off. Losing this race is a normal
	// outcome, not a system failure.
	ErrAlreadyClaimed = errors.New("slot already claimed or unavailable")

	// ErrNotClaimed is returned by ReleaseSlot when the slot was not booked.
	ErrNotClaimed = errors.New("slot is not claimed")
)

// Repository is the durable record of slots and time-off windows.
type Repository interface {
	CreateSlot(ctx context.Context, s *Slot) error
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	// ListSlots returns the doctor's slots ordered by start time. A nil
	// bound leaves that side of the range open.
	ListSlots(ctx context.Context, doctorID uuid.UUID, from, to *time.Time) ([]Slot, error)
	// FindOverlappingSlots returns non-time-off slots of the doctor that
	// intersect [start, end).
	FindOverlappingSlots(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]Slot, error)

	// ClaimSlot atomically flips is_booked false -> true. It is the single
	// serialization point for booking: the update is conditional, so of two
	// racing claims exactly one succeeds and the other gets ErrAlreadyClaimed.
	ClaimSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	// ReleaseSlot flips is_booked true -> false.
	ReleaseSlot(ctx context.Context, id uuid.UUID) error

	SetSlotTimeOff(ctx context.Context, id uuid.UUID, timeOff bool) error

	CreateTimeOff(ctx context.Context, t *TimeOff) error
	GetTimeOffByID(ctx context.Context, id uuid.UUID) (*TimeOff, error)
	DeleteTimeOff(ctx context.Context, id uuid.UUID) error
	ListTimeOff(ctx context.Context, doctorID uuid.UUID) ([]TimeOff, error)
	// FindOverlappingTimeOff returns the doctor's time-off windows that
	// intersect [start, end).
	FindOverlappingTimeOff(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]TimeOff, error)
}
