package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/telehealth-scheduling/internal/actor"
	"github.com/carebridge/telehealth-scheduling/internal/availability"
	"github.com/carebridge/telehealth-scheduling/internal/notify"
	redisclient "github.com/carebridge/telehealth-scheduling/internal/redis"
)

// RequestReschedule proposes moving the appointment to newSlotID. The new
// slot is claimed immediately so no third party can take it while the
// counterparty decides; the hold is released on reject or auto-reject.
// At most one pending request may exist per appointment.
func (s *Service) RequestReschedule(ctx context.Context, appointmentID, newSlotID uuid.UUID, act actor.Actor) (*RescheduleRequest, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !appt.IsParty(act) {
		return nil, actor.ErrForbidden
	}
	if appt.Status.Terminal() {
		return nil, ErrInvalidTransition
	}

	newSlot, err := s.slots.GetSlot(ctx, newSlotID)
	if err != nil {
		return nil, err
	}
	if newSlot.DoctorID != appt.DoctorID {
		return nil, ErrSlotDoctorMismatch
	}

	var created *RescheduleRequest

	err = s.locker.WithSlotLocks(ctx, func(lockCtx context.Context) error {
		return s.tx.WithTx(lockCtx, func(txCtx context.Context) error {
			// Re-check under the row lock: a cancel committing after the
			// pre-flight read must not end up with a pending request
			// holding the slot.
			current, err := s.repo.GetAppointmentForUpdate(txCtx, appointmentID)
			if err != nil {
				return err
			}
			if current.Status.Terminal() {
				return ErrInvalidTransition
			}

			if _, err := s.slots.ClaimSlot(txCtx, newSlotID); err != nil {
				if errors.Is(err, availability.ErrAlreadyClaimed) {
					return ErrSlotUnavailable
				}
				return err
			}

			req := &RescheduleRequest{
				AppointmentID:   appointmentID,
				RequestedSlotID: newSlotID,
				RequestedBy:     act.UserID,
				RequestedByRole: act.Role,
			}
			// A concurrent duplicate rolls the claim back with the tx.
			if err := s.repo.CreateRescheduleRequest(txCtx, req); err != nil {
				return err
			}

			created = req

			return s.logEvent(txCtx, appointmentID, notify.KindRescheduleRequested, act, map[string]any{
				"reschedule_request_id": req.ID.String(),
				"requested_slot_id":     newSlotID.String(),
			})
		})
	}, newSlotID)

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.notifyTransition(ctx, appt, notify.KindRescheduleRequested, "", "", act)

	return created, nil
}

// ApproveReschedule applies a pending request: the appointment's previous
// slot is released, its window and slot reference move to the requested
// slot, and the request is marked approved — all in one transaction, so no
// intermediate state where both or neither slot is held is ever observable.
// Only the counterparty to the requester may approve.
func (s *Service) ApproveReschedule(ctx context.Context, requestID uuid.UUID, act actor.Actor) (*Appointment, error) {
	req, appt, err := s.loadRescheduleForDecision(ctx, requestID, act)
	if err != nil {
		return nil, err
	}

	newSlot, err := s.slots.GetSlot(ctx, req.RequestedSlotID)
	if err != nil {
		return nil, err
	}

	var updated *Appointment

	err = s.locker.WithSlotLocks(ctx, func(lockCtx context.Context) error {
		return s.tx.WithTx(lockCtx, func(txCtx context.Context) error {
			if _, err := s.repo.UpdateRescheduleStatus(txCtx, requestID, RescheduleStatusPending, RescheduleStatusApproved); err != nil {
				if errors.Is(err, ErrStaleStatus) {
					return ErrRescheduleResolved
				}
				return fmt.Errorf("approve reschedule: %w", err)
			}

			if err := s.slots.ReleaseSlot(txCtx, appt.SlotID); err != nil {
				return fmt.Errorf("release previous slot: %w", err)
			}

			updated, err = s.repo.SetAppointmentSchedule(txCtx, appt.ID, newSlot.ID, newSlot.StartTime, newSlot.EndTime)
			if err != nil {
				return fmt.Errorf("apply new schedule: %w", err)
			}

			return s.logEvent(txCtx, appt.ID, notify.KindRescheduleApproved, act, map[string]any{
				"reschedule_request_id": requestID.String(),
				"previous_slot_id":      appt.SlotID.String(),
				"new_slot_id":           newSlot.ID.String(),
			})
		})
	}, appt.SlotID, req.RequestedSlotID)

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.notifyTransition(ctx, updated, notify.KindRescheduleApproved, "", "", act)

	return updated, nil
}

// RejectReschedule declines a pending request, releasing the hold on the
// requested slot. The original appointment is untouched. Only the
// counterparty to the requester may reject.
func (s *Service) RejectReschedule(ctx context.Context, requestID uuid.UUID, act actor.Actor) (*RescheduleRequest, error) {
	req, appt, err := s.loadRescheduleForDecision(ctx, requestID, act)
	if err != nil {
		return nil, err
	}

	var rejected *RescheduleRequest

	err = s.tx.WithTx(ctx, func(txCtx context.Context) error {
		rejected, err = s.repo.UpdateRescheduleStatus(txCtx, requestID, RescheduleStatusPending, RescheduleStatusRejected)
		if err != nil {
			if errors.Is(err, ErrStaleStatus) {
				return ErrRescheduleResolved
			}
			return fmt.Errorf("reject reschedule: %w", err)
		}

		if err := s.slots.ReleaseSlot(txCtx, req.RequestedSlotID); err != nil {
			return fmt.Errorf("release requested slot: %w", err)
		}

		return s.logEvent(txCtx, appt.ID, notify.KindRescheduleRejected, act, map[string]any{
			"reschedule_request_id": requestID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.notifyTransition(ctx, appt, notify.KindRescheduleRejected, "", "", act)

	return rejected, nil
}

func (s *Service) loadRescheduleForDecision(ctx context.Context, requestID uuid.UUID, act actor.Actor) (*RescheduleRequest, *Appointment, error) {
	req, err := s.repo.GetRescheduleRequestByID(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if req.Status != RescheduleStatusPending {
		return nil, nil, ErrRescheduleResolved
	}

	appt, err := s.repo.GetAppointmentByID(ctx, req.AppointmentID)
	if err != nil {
		return nil, nil, err
	}
	if !req.Counterparty(appt, act) {
		return nil, nil, actor.ErrForbidden
	}
	if appt.Status.Terminal() {
		return nil, nil, ErrInvalidTransition
	}

	return req, appt, nil
}

// SweepStaleReschedules auto-rejects pending requests whose requested slot
// start has already passed and releases their holds. Run periodically by
// the reschedule-sweeper worker. Failures on individual requests are logged
// and skipped so one bad row cannot wedge the sweep.
func (s *Service) SweepStaleReschedules(ctx context.Context, now time.Time) (int, error) {
	pending, err := s.repo.ListPendingReschedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending reschedules: %w", err)
	}

	swept := 0
	for _, req := range pending {
		slot, err := s.slots.GetSlot(ctx, req.RequestedSlotID)
		if err != nil {
			s.logger.Error().Err(err).
				Stringer("reschedule_request_id", req.ID).
				Msg("sweep: load requested slot")
			continue
		}
		if slot.StartTime.After(now) {
			continue
		}

		sweeper := actor.Actor{UserID: uuid.Nil, Role: actor.Role("system")}

		err = s.tx.WithTx(ctx, func(txCtx context.Context) error {
			if _, err := s.repo.UpdateRescheduleStatus(txCtx, req.ID, RescheduleStatusPending, RescheduleStatusRejected); err != nil {
				return err
			}
			if err := s.slots.ReleaseSlot(txCtx, req.RequestedSlotID); err != nil {
				return err
			}
			return s.logEvent(txCtx, req.AppointmentID, notify.KindRescheduleAutoRejected, sweeper, map[string]any{
				"reschedule_request_id": req.ID.String(),
				"reason":                "requested_slot_in_past",
			})
		})
		if err != nil {
			if errors.Is(err, ErrStaleStatus) {
				// Resolved concurrently, nothing to do.
				continue
			}
			s.logger.Error().Err(err).
				Stringer("reschedule_request_id", req.ID).
				Msg("sweep: auto-reject failed")
			continue
		}

		swept++

		if appt, err := s.repo.GetAppointmentByID(ctx, req.AppointmentID); err == nil {
			s.notifyTransition(ctx, appt, notify.KindRescheduleAutoRejected, "", "", sweeper)
		}
	}

	return swept, nil
}
