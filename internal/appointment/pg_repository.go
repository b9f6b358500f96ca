package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/telehealth-scheduling/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) conn(ctx context.Context) db.Conn {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const apptCols = `id, patient_id, doctor_id, slot_id, scheduled_start, scheduled_end,
	appointment_type, reason, status, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var reason *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.SlotID,
		&a.ScheduledStart,
		&a.ScheduledEnd,
		&a.Type,
		&reason,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Reason = reason
	return &a, nil
}

const reschedCols = `id, appointment_id, requested_slot_id, requested_by, requested_by_role,
	status, created_at, resolved_at`

func scanReschedule(row pgx.Row) (*RescheduleRequest, error) {
	var rr RescheduleRequest
	var resolvedAt *time.Time

	err := row.Scan(
		&rr.ID,
		&rr.AppointmentID,
		&rr.RequestedSlotID,
		&rr.RequestedBy,
		&rr.RequestedByRole,
		&rr.Status,
		&rr.CreatedAt,
		&resolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRescheduleNotFound
		}
		return nil, err
	}

	rr.ResolvedAt = resolvedAt
	return &rr, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, slot_id, scheduled_start, scheduled_end,
			appointment_type, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', now(), now())
		RETURNING `+apptCols+`
	`, a.ID, a.PatientID, a.DoctorID, a.SlotID, a.ScheduledStart, a.ScheduledEnd, a.Type, a.Reason)

	created, err := scanAppointment(row)
	if err != nil {
		return err
	}
	*a = *created
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+apptCols+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+apptCols+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+apptCols+`
	`, id, to, from)

	a, err := scanAppointment(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, err
	}

	// No row matched: missing appointment or a lost status race.
	if _, getErr := r.GetAppointmentByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrStaleStatus
}

func (r *PgRepository) SetAppointmentSchedule(ctx context.Context, id, slotID uuid.UUID, start, end time.Time) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments
		SET slot_id = $2,
		    scheduled_start = $3,
		    scheduled_end = $4,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+apptCols+`
	`, id, slotID, start, end)

	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, filter ListFilter, limit, offset int) ([]Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []any
	idx := 1

	if filter.Status != nil {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, *filter.Status)
		idx++
	}
	if filter.DoctorID != nil {
		where += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, *filter.DoctorID)
		idx++
	}
	if filter.PatientID != nil {
		where += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, *filter.PatientID)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + apptCols + ` FROM appointments` + where +
		fmt.Sprintf(` ORDER BY scheduled_start ASC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return result, total, nil
}

func (r *PgRepository) CreateRescheduleRequest(ctx context.Context, rr *RescheduleRequest) error {
	if rr.ID == uuid.Nil {
		rr.ID = uuid.New()
	}

	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO reschedule_requests (id, appointment_id, requested_slot_id, requested_by,
			requested_by_role, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', now())
		RETURNING `+reschedCols+`
	`, rr.ID, rr.AppointmentID, rr.RequestedSlotID, rr.RequestedBy, rr.RequestedByRole)

	created, err := scanReschedule(row)
	if err != nil {
		// The partial unique index on (appointment_id) WHERE status =
		// 'pending' backs the one-pending-request invariant.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrPendingRescheduleExists
		}
		return err
	}
	*rr = *created
	return nil
}

func (r *PgRepository) GetRescheduleRequestByID(ctx context.Context, id uuid.UUID) (*RescheduleRequest, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+reschedCols+`
		FROM reschedule_requests
		WHERE id = $1
	`, id)
	return scanReschedule(row)
}

func (r *PgRepository) GetPendingRescheduleForAppointment(ctx context.Context, appointmentID uuid.UUID) (*RescheduleRequest, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+reschedCols+`
		FROM reschedule_requests
		WHERE appointment_id = $1 AND status = 'pending'
	`, appointmentID)
	return scanReschedule(row)
}

func (r *PgRepository) UpdateRescheduleStatus(ctx context.Context, id uuid.UUID, from, to RescheduleStatus) (*RescheduleRequest, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE reschedule_requests
		SET status = $2,
		    resolved_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+reschedCols+`
	`, id, to, from)

	rr, err := scanReschedule(row)
	if err == nil {
		return rr, nil
	}
	if !errors.Is(err, ErrRescheduleNotFound) {
		return nil, err
	}

	if _, getErr := r.GetRescheduleRequestByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrStaleStatus
}

func (r *PgRepository) ListPendingReschedules(ctx context.Context) ([]RescheduleRequest, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+reschedCols+`
		FROM reschedule_requests
		WHERE status = 'pending'
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []RescheduleRequest
	for rows.Next() {
		rr, err := scanReschedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rr)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev Event) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment_events (appointment_id, event_type, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.AppointmentID, ev.EventType, ev.ActorID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert appointment event: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
