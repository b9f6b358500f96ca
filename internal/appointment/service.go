package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/telehealth-scheduling/internal/actor"
	"github.com/carebridge/telehealth-scheduling/internal/availability"
	"github.com/carebridge/telehealth-scheduling/internal/db"
	"github.com/carebridge/telehealth-scheduling/internal/notify"
	redisclient "github.com/carebridge/telehealth-scheduling/internal/redis"
)

var (
	// ErrSlotUnavailable is the normal outcome of losing a booking race or
	// targeting a booked/time-off slot. Callers should offer another slot.
	ErrSlotUnavailable = errors.New("slot is not available for booking")

	// ErrSlotBeingBooked means the per-slot lock was held by another
	// request. The caller should retry shortly.
	ErrSlotBeingBooked = errors.New("slot is currently being booked, please retry")

	ErrInvalidTransition  = errors.New("invalid appointment status transition")
	ErrInvalidType        = errors.New("invalid appointment type")
	ErrRescheduleResolved = errors.New("reschedule request is already resolved")
	ErrSlotDoctorMismatch = errors.New("requested slot belongs to a different doctor")
)

// SlotStore is the slice of the availability store the engine needs: reads
// plus the atomic claim/release primitives. Claims and releases made inside
// a transaction commit or roll back with it.
type SlotStore interface {
	GetSlot(ctx context.Context, id uuid.UUID) (*availability.Slot, error)
	ClaimSlot(ctx context.Context, id uuid.UUID) (*availability.Slot, error)
	ReleaseSlot(ctx context.Context, id uuid.UUID) error
}

// Service is the scheduling engine: slot allocation, the appointment state
// machine, and the reschedule coordinator (reschedule.go).
type Service struct {
	repo       Repository
	slots      SlotStore
	locker     redisclient.Locker
	tx         db.TxRunner
	dispatcher notify.Dispatcher
	logger     zerolog.Logger

	now func() time.Time // test hook
}

func NewService(repo Repository, slots SlotStore, locker redisclient.Locker, tx db.TxRunner, dispatcher notify.Dispatcher, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		slots:      slots,
		locker:     locker,
		tx:         tx,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// Allocate converts a free slot into a PENDING appointment for the patient.
// Claiming the slot and creating the appointment are one atomic unit: no
// observer sees the slot claimed without an appointment, or the reverse.
// Two concurrent allocations of the same slot resolve to exactly one
// success; the loser gets ErrSlotUnavailable (or ErrSlotBeingBooked when
// the distributed lock turned it away earlier).
func (s *Service) Allocate(ctx context.Context, slotID uuid.UUID, patient actor.Actor, apptType Type, reason *string) (*Appointment, error) {
	if patient.Role != actor.RolePatient {
		return nil, actor.ErrForbidden
	}
	if !apptType.Valid() {
		return nil, ErrInvalidType
	}

	var created *Appointment

	err := s.locker.WithSlotLocks(ctx, func(lockCtx context.Context) error {
		return s.tx.WithTx(lockCtx, func(txCtx context.Context) error {
			slot, err := s.slots.ClaimSlot(txCtx, slotID)
			if err != nil {
				if errors.Is(err, availability.ErrAlreadyClaimed) {
					return ErrSlotUnavailable
				}
				return err
			}

			appt := &Appointment{
				PatientID:      patient.UserID,
				DoctorID:       slot.DoctorID,
				SlotID:         slot.ID,
				ScheduledStart: slot.StartTime,
				ScheduledEnd:   slot.EndTime,
				Type:           apptType,
				Reason:         reason,
			}
			if err := s.repo.CreateAppointment(txCtx, appt); err != nil {
				return fmt.Errorf("create pending appointment: %w", err)
			}

			created = appt

			return s.logEvent(txCtx, appt.ID, notify.KindAppointmentBooked, patient, map[string]any{
				"slot_id":    slot.ID.String(),
				"patient_id": patient.UserID.String(),
			})
		})
	}, slotID)

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.notifyTransition(ctx, created, notify.KindAppointmentBooked, "", StatusPending, patient)

	return created, nil
}

// Confirm moves a PENDING appointment to CONFIRMED. Doctor-only.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, act actor.Actor) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if act.Role != actor.RoleDoctor || act.UserID != appt.DoctorID {
		return nil, actor.ErrForbidden
	}
	if !CanTransition(appt.Status, StatusConfirmed) {
		return nil, ErrInvalidTransition
	}

	var updated *Appointment

	err = s.tx.WithTx(ctx, func(txCtx context.Context) error {
		updated, err = s.repo.UpdateAppointmentStatus(txCtx, id, StatusPending, StatusConfirmed)
		if err != nil {
			if errors.Is(err, ErrStaleStatus) {
				return ErrInvalidTransition
			}
			return fmt.Errorf("confirm appointment: %w", err)
		}
		return s.logEvent(txCtx, id, notify.KindAppointmentConfirmed, act, nil)
	})
	if err != nil {
		return nil, err
	}

	s.notifyTransition(ctx, updated, notify.KindAppointmentConfirmed, StatusPending, StatusConfirmed, act)

	return updated, nil
}

// Cancel moves a PENDING or CONFIRMED appointment to CANCELED, releases its
// slot, and auto-rejects any pending reschedule request so no slot stays
// orphaned on hold. Patient or doctor of the appointment may cancel;
// canceling an already-terminal appointment is ErrInvalidTransition, never a
// silent second release.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, act actor.Actor) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appt.IsParty(act) {
		return nil, actor.ErrForbidden
	}
	if !CanTransition(appt.Status, StatusCanceled) {
		return nil, ErrInvalidTransition
	}

	prevStatus := appt.Status

	var (
		updated      *Appointment
		autoRejected *RescheduleRequest
	)

	err = s.tx.WithTx(ctx, func(txCtx context.Context) error {
		updated, err = s.repo.UpdateAppointmentStatus(txCtx, id, prevStatus, StatusCanceled)
		if err != nil {
			if errors.Is(err, ErrStaleStatus) {
				return ErrInvalidTransition
			}
			return fmt.Errorf("cancel appointment: %w", err)
		}

		// updated carries the current slot reference: an approved reschedule
		// landing after the pre-flight read may have repointed the
		// appointment, and the old slot is already released.
		if err := s.slots.ReleaseSlot(txCtx, updated.SlotID); err != nil {
			return fmt.Errorf("release slot: %w", err)
		}

		pending, err := s.repo.GetPendingRescheduleForAppointment(txCtx, id)
		if err != nil && !errors.Is(err, ErrRescheduleNotFound) {
			return fmt.Errorf("check pending reschedule: %w", err)
		}
		if pending != nil {
			autoRejected, err = s.repo.UpdateRescheduleStatus(txCtx, pending.ID, RescheduleStatusPending, RescheduleStatusRejected)
			if err != nil {
				return fmt.Errorf("auto-reject reschedule: %w", err)
			}
			if err := s.slots.ReleaseSlot(txCtx, pending.RequestedSlotID); err != nil {
				return fmt.Errorf("release reschedule slot: %w", err)
			}
			if err := s.logEvent(txCtx, id, notify.KindRescheduleAutoRejected, act, map[string]any{
				"reschedule_request_id": pending.ID.String(),
				"reason":                "appointment_canceled",
			}); err != nil {
				return err
			}
		}

		return s.logEvent(txCtx, id, notify.KindAppointmentCanceled, act, map[string]any{
			"previous_status": string(prevStatus),
		})
	})
	if err != nil {
		return nil, err
	}

	s.notifyTransition(ctx, updated, notify.KindAppointmentCanceled, prevStatus, StatusCanceled, act)
	if autoRejected != nil {
		s.notifyTransition(ctx, updated, notify.KindRescheduleAutoRejected, "", "", act)
	}

	return updated, nil
}

// MarkCompleted moves a CONFIRMED appointment to COMPLETED. Doctor-only, and
// only once the scheduled start has passed.
func (s *Service) MarkCompleted(ctx context.Context, id uuid.UUID, act actor.Actor) (*Appointment, error) {
	return s.closeOut(ctx, id, act, StatusCompleted, notify.KindAppointmentCompleted)
}

// MarkNoShow moves a CONFIRMED appointment to NO_SHOW. Doctor-only, and only
// once the scheduled start has passed.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID, act actor.Actor) (*Appointment, error) {
	return s.closeOut(ctx, id, act, StatusNoShow, notify.KindAppointmentNoShow)
}

func (s *Service) closeOut(ctx context.Context, id uuid.UUID, act actor.Actor, target Status, eventKind string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if act.Role != actor.RoleDoctor || act.UserID != appt.DoctorID {
		return nil, actor.ErrForbidden
	}
	if !CanTransition(appt.Status, target) {
		return nil, ErrInvalidTransition
	}
	if s.now().Before(appt.ScheduledStart) {
		// Closing out an appointment that has not started yet.
		return nil, ErrInvalidTransition
	}

	var updated *Appointment

	err = s.tx.WithTx(ctx, func(txCtx context.Context) error {
		updated, err = s.repo.UpdateAppointmentStatus(txCtx, id, StatusConfirmed, target)
		if err != nil {
			if errors.Is(err, ErrStaleStatus) {
				return ErrInvalidTransition
			}
			return fmt.Errorf("close out appointment: %w", err)
		}
		return s.logEvent(txCtx, id, eventKind, act, nil)
	})
	if err != nil {
		return nil, err
	}

	s.notifyTransition(ctx, updated, eventKind, StatusConfirmed, target, act)

	return updated, nil
}

// Get returns the appointment if act is one of its parties.
func (s *Service) Get(ctx context.Context, id uuid.UUID, act actor.Actor) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appt.IsParty(act) {
		return nil, actor.ErrForbidden
	}
	return appt, nil
}

// List returns the actor's own appointments, optionally filtered by status,
// ordered by scheduled start. Patients see their bookings, doctors their
// calendar. Returns the matching page and the total match count.
func (s *Service) List(ctx context.Context, act actor.Actor, status *Status, page, pageSize int) ([]Appointment, int, error) {
	page, pageSize = ClampPage(page, pageSize)

	filter := ListFilter{Status: status}
	switch act.Role {
	case actor.RolePatient:
		filter.PatientID = &act.UserID
	case actor.RoleDoctor:
		filter.DoctorID = &act.UserID
	default:
		return nil, 0, actor.ErrForbidden
	}

	return s.repo.ListAppointments(ctx, filter, pageSize, (page-1)*pageSize)
}

// ClampPage normalizes pagination inputs: page floors at 1, page size
// defaults to 20 and caps at 100. Handlers clamp with it too, so the echoed
// pagination always matches what was actually served.
func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, act actor.Actor, payload map[string]any) error {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal event payload for %s: %w", eventType, err)
		}
	}

	ev := Event{
		AppointmentID: appointmentID,
		EventType:     eventType,
		ActorID:       act.UserID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("insert event %s for appointment %s: %w", eventType, appointmentID, err)
	}
	return nil
}

// notifyTransition informs both parties after the transition has committed.
// Dispatch failures are the dispatcher's to log; they never surface here.
func (s *Service) notifyTransition(ctx context.Context, appt *Appointment, kind string, oldStatus, newStatus Status, act actor.Actor) {
	s.dispatcher.Notify(ctx, notify.Event{
		AppointmentID: appt.ID,
		Kind:          kind,
		OldStatus:     string(oldStatus),
		NewStatus:     string(newStatus),
		ActorID:       act.UserID,
		ActorRole:     string(act.Role),
		Recipients:    []uuid.UUID{appt.PatientID, appt.DoctorID},
		OccurredAt:    s.now().UTC(),
	})
}
