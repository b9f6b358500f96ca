package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/telehealth-scheduling/internal/actor"
	"github.com/carebridge/telehealth-scheduling/internal/db"
)

var (
	// ErrInvalidWindow is returned for malformed windows (start >= end).
	ErrInvalidWindow = errors.New("start time must be before end time")

	// ErrWindowOverlap is returned when a published slot would intersect an
	// existing slot or time-off window of the same doctor.
	ErrWindowOverlap = errors.New("window overlaps an existing slot or time-off")

	// ErrBookedSlotOverlap is returned when time-off would cover a slot that
	// already carries a booking.
	ErrBookedSlotOverlap = errors.New("time-off window overlaps a booked slot")
)

// Service owns the doctor-published availability substrate: slots, time-off
// windows, and the claim/release primitives the allocator builds on.
type Service struct {
	repo   Repository
	tx     db.TxRunner
	logger zerolog.Logger
}

func NewService(repo Repository, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{repo: repo, tx: tx, logger: logger}
}

// PublishSlot records a new bookable window for the doctor. The window must
// be well formed and must not intersect any of the doctor's existing
// non-time-off slots or time-off windows.
func (s *Service) PublishSlot(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (*Slot, error) {
	if !start.Before(end) {
		return nil, ErrInvalidWindow
	}

	var created *Slot

	err := s.tx.WithTx(ctx, func(txCtx context.Context) error {
		slots, err := s.repo.FindOverlappingSlots(txCtx, doctorID, start, end)
		if err != nil {
			return fmt.Errorf("check slot overlap: %w", err)
		}
		if len(slots) > 0 {
			return ErrWindowOverlap
		}

		offs, err := s.repo.FindOverlappingTimeOff(txCtx, doctorID, start, end)
		if err != nil {
			return fmt.Errorf("check time-off overlap: %w", err)
		}
		if len(offs) > 0 {
			return ErrWindowOverlap
		}

		slot := &Slot{
			DoctorID:  doctorID,
			StartTime: start,
			EndTime:   end,
		}
		if err := s.repo.CreateSlot(txCtx, slot); err != nil {
			return fmt.Errorf("create slot: %w", err)
		}

		created = slot
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Stringer("slot_id", created.ID).
		Stringer("doctor_id", doctorID).
		Time("start", start).
		Time("end", end).
		Msg("slot published")

	return created, nil
}

// ListSlots returns the doctor's slots ordered by start time, optionally
// restricted to a range. Booked and time-off flags are included so callers
// can compute bookability without further calls.
func (s *Service) ListSlots(ctx context.Context, doctorID uuid.UUID, from, to *time.Time) ([]Slot, error) {
	if from != nil && to != nil && !from.Before(*to) {
		return nil, ErrInvalidWindow
	}
	return s.repo.ListSlots(ctx, doctorID, from, to)
}

// MarkTimeOff declares the doctor unavailable over [start, end). Published
// unbooked slots in the window are disabled; a window covering a booked slot
// is rejected outright.
func (s *Service) MarkTimeOff(ctx context.Context, doctorID uuid.UUID, start, end time.Time, reason *string) (*TimeOff, error) {
	if !start.Before(end) {
		return nil, ErrInvalidWindow
	}

	var created *TimeOff

	err := s.tx.WithTx(ctx, func(txCtx context.Context) error {
		slots, err := s.repo.FindOverlappingSlots(txCtx, doctorID, start, end)
		if err != nil {
			return fmt.Errorf("check slot overlap: %w", err)
		}
		for _, sl := range slots {
			if sl.IsBooked {
				return ErrBookedSlotOverlap
			}
		}

		off := &TimeOff{
			DoctorID:  doctorID,
			StartTime: start,
			EndTime:   end,
			Reason:    reason,
		}
		if err := s.repo.CreateTimeOff(txCtx, off); err != nil {
			return fmt.Errorf("create time-off: %w", err)
		}

		for _, sl := range slots {
			if err := s.repo.SetSlotTimeOff(txCtx, sl.ID, true); err != nil {
				return fmt.Errorf("disable slot %s: %w", sl.ID, err)
			}
		}

		created = off
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Stringer("time_off_id", created.ID).
		Stringer("doctor_id", doctorID).
		Time("start", start).
		Time("end", end).
		Msg("time-off marked")

	return created, nil
}

// RemoveTimeOff deletes a time-off window and re-enables slots it disabled,
// unless another remaining window still covers them.
func (s *Service) RemoveTimeOff(ctx context.Context, doctorID, timeOffID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(txCtx context.Context) error {
		off, err := s.repo.GetTimeOffByID(txCtx, timeOffID)
		if err != nil {
			return err
		}
		if off.DoctorID != doctorID {
			return actor.ErrForbidden
		}

		if err := s.repo.DeleteTimeOff(txCtx, timeOffID); err != nil {
			return err
		}

		slots, err := s.repo.ListSlots(txCtx, doctorID, &off.StartTime, &off.EndTime)
		if err != nil {
			return fmt.Errorf("list affected slots: %w", err)
		}

		for _, sl := range slots {
			if !sl.IsTimeOff {
				continue
			}
			remaining, err := s.repo.FindOverlappingTimeOff(txCtx, doctorID, sl.StartTime, sl.EndTime)
			if err != nil {
				return fmt.Errorf("check remaining time-off: %w", err)
			}
			if len(remaining) == 0 {
				if err := s.repo.SetSlotTimeOff(txCtx, sl.ID, false); err != nil {
					return fmt.Errorf("re-enable slot %s: %w", sl.ID, err)
				}
			}
		}

		return nil
	})
}

// ListTimeOff returns the doctor's time-off windows ordered by start time.
func (s *Service) ListTimeOff(ctx context.Context, doctorID uuid.UUID) ([]TimeOff, error) {
	return s.repo.ListTimeOff(ctx, doctorID)
}

// GetSlot fetches a slot by id.
func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return s.repo.GetSlotByID(ctx, id)
}

// ClaimSlot and ReleaseSlot expose the atomic booking primitives to the
// appointment allocator. They share whatever transaction the caller is in.

func (s *Service) ClaimSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return s.repo.ClaimSlot(ctx, id)
}

func (s *Service) ReleaseSlot(ctx context.Context, id uuid.UUID) error {
	return s.repo.ReleaseSlot(ctx, id)
}
