package availability

import (
	"context"
	"errors"
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

// conn joins an open transaction when the caller started one via db.WithTx.
func (r *PgRepository) conn(ctx context.Context) db.Conn {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const slotCols = `id, doctor_id, start_time, end_time, is_booked, is_time_off, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.IsBooked,
		&s.IsTimeOff,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanTimeOff(row pgx.Row) (*TimeOff, error) {
	var t TimeOff
	var reason *string

	err := row.Scan(
		&t.ID,
		&t.DoctorID,
		&t.StartTime,
		&t.EndTime,
		&reason,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTimeOffNotFound
		}
		return nil, err
	}

	t.Reason = reason
	return &t, nil
}

func (r *PgRepository) CreateSlot(ctx context.Context, s *Slot) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO availability_slots (id, doctor_id, start_time, end_time, is_booked, is_time_off, created_at, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, now(), now())
		RETURNING `+slotCols+`
	`, s.ID, s.DoctorID, s.StartTime, s.EndTime, s.IsTimeOff)

	created, err := scanSlot(row)
	if err != nil {
		// 23P01: the doctor-window exclusion constraint caught a
		// concurrent publish of an intersecting window.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23P01" {
			return ErrWindowOverlap
		}
		return err
	}
	*s = *created
	return nil
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+slotCols+`
		FROM availability_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListSlots(ctx context.Context, doctorID uuid.UUID, from, to *time.Time) ([]Slot, error) {
	query := `
		SELECT ` + slotCols + `
		FROM availability_slots
		WHERE doctor_id = $1`
	args := []any{doctorID}

	if from != nil {
		args = append(args, *from)
		query += ` AND end_time > $2`
	}
	if to != nil {
		args = append(args, *to)
		if from != nil {
			query += ` AND start_time < $3`
		} else {
			query += ` AND start_time < $2`
		}
	}
	query += ` ORDER BY start_time ASC`

	return r.querySlots(ctx, query, args...)
}

func (r *PgRepository) FindOverlappingSlots(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]Slot, error) {
	return r.querySlots(ctx, `
		SELECT `+slotCols+`
		FROM availability_slots
		WHERE doctor_id = $1
		  AND is_time_off = FALSE
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time ASC
	`, doctorID, start, end)
}

func (r *PgRepository) querySlots(ctx context.Context, query string, args ...any) ([]Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// ClaimSlot is the concurrency-critical operation: the WHERE clause makes the
// flip conditional, so the database serializes racing claims. A zero-row
// update is disambiguated with a follow-up read.
func (r *PgRepository) ClaimSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE availability_slots
		SET is_booked = TRUE,
		    updated_at = now()
		WHERE id = $1
		  AND is_booked = FALSE
		  AND is_time_off = FALSE
		RETURNING `+slotCols+`
	`, id)

	s, err := scanSlot(row)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrSlotNotFound) {
		return nil, err
	}

	// No row updated: either the slot does not exist or it lost the race.
	if _, getErr := r.GetSlotByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrAlreadyClaimed
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE availability_slots
		SET is_booked = FALSE,
		    updated_at = now()
		WHERE id = $1
		  AND is_booked = TRUE
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetSlotByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrNotClaimed
	}
	return nil
}

// SetSlotTimeOff flips the time-off flag. Disabling is conditional on the
// slot being unbooked, so a claim committing between the caller's overlap
// check and this update loses nothing: one of the two conditional updates
// sees the other's write and fails.
func (r *PgRepository) SetSlotTimeOff(ctx context.Context, id uuid.UUID, timeOff bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE availability_slots
		SET is_time_off = $2,
		    updated_at = now()
		WHERE id = $1
		  AND ($2 = FALSE OR is_booked = FALSE)
	`, id, timeOff)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetSlotByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrBookedSlotOverlap
	}
	return nil
}

func (r *PgRepository) CreateTimeOff(ctx context.Context, t *TimeOff) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO time_off (id, doctor_id, start_time, end_time, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id, doctor_id, start_time, end_time, reason, created_at
	`, t.ID, t.DoctorID, t.StartTime, t.EndTime, t.Reason)

	created, err := scanTimeOff(row)
	if err != nil {
		return err
	}
	*t = *created
	return nil
}

func (r *PgRepository) GetTimeOffByID(ctx context.Context, id uuid.UUID) (*TimeOff, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT id, doctor_id, start_time, end_time, reason, created_at
		FROM time_off
		WHERE id = $1
	`, id)
	return scanTimeOff(row)
}

func (r *PgRepository) DeleteTimeOff(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM time_off
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTimeOffNotFound
	}
	return nil
}

func (r *PgRepository) ListTimeOff(ctx context.Context, doctorID uuid.UUID) ([]TimeOff, error) {
	return r.queryTimeOff(ctx, `
		SELECT id, doctor_id, start_time, end_time, reason, created_at
		FROM time_off
		WHERE doctor_id = $1
		ORDER BY start_time ASC
	`, doctorID)
}

func (r *PgRepository) FindOverlappingTimeOff(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]TimeOff, error) {
	return r.queryTimeOff(ctx, `
		SELECT id, doctor_id, start_time, end_time, reason, created_at
		FROM time_off
		WHERE doctor_id = $1
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time ASC
	`, doctorID, start, end)
}

func (r *PgRepository) queryTimeOff(ctx context.Context, query string, args ...any) ([]TimeOff, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []TimeOff
	for rows.Next() {
		t, err := scanTimeOff(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
