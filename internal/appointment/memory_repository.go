package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a mutex-guarded in-memory Repository used by tests and
// memory-backed setups. Conditional status updates happen under the lock, so
// it keeps the same lost-race semantics as the SQL implementation.
type MemoryRepository struct {
	mu          sync.Mutex
	appts       map[uuid.UUID]*Appointment
	reschedules map[uuid.UUID]*RescheduleRequest
	events      []Event
	nextEventID int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appts:       make(map[uuid.UUID]*Appointment),
		reschedules: make(map[uuid.UUID]*RescheduleRequest),
	}
}

func (r *MemoryRepository) CreateAppointment(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now()
	a.Status = StatusPending
	a.CreatedAt = now
	a.UpdatedAt = now

	cp := *a
	r.appts[a.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

// GetAppointmentForUpdate is a plain read here; the repository mutex already
// serializes every write.
func (r *MemoryRepository) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.GetAppointmentByID(ctx, id)
}

func (r *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, ErrStaleStatus
	}

	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) SetAppointmentSchedule(_ context.Context, id, slotID uuid.UUID, start, end time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}

	a.SlotID = slotID
	a.ScheduledStart = start
	a.ScheduledEnd = end
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) ListAppointments(_ context.Context, filter ListFilter, limit, offset int) ([]Appointment, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []Appointment
	for _, a := range r.appts {
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.DoctorID != nil && a.DoctorID != *filter.DoctorID {
			continue
		}
		if filter.PatientID != nil && a.PatientID != *filter.PatientID {
			continue
		}
		matched = append(matched, *a)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ScheduledStart.Before(matched[j].ScheduledStart)
	})

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r *MemoryRepository) CreateRescheduleRequest(_ context.Context, rr *RescheduleRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.reschedules {
		if existing.AppointmentID == rr.AppointmentID && existing.Status == RescheduleStatusPending {
			return ErrPendingRescheduleExists
		}
	}

	if rr.ID == uuid.Nil {
		rr.ID = uuid.New()
	}
	rr.Status = RescheduleStatusPending
	rr.CreatedAt = time.Now()

	cp := *rr
	r.reschedules[rr.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetRescheduleRequestByID(_ context.Context, id uuid.UUID) (*RescheduleRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rr, ok := r.reschedules[id]
	if !ok {
		return nil, ErrRescheduleNotFound
	}
	cp := *rr
	return &cp, nil
}

func (r *MemoryRepository) GetPendingRescheduleForAppointment(_ context.Context, appointmentID uuid.UUID) (*RescheduleRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rr := range r.reschedules {
		if rr.AppointmentID == appointmentID && rr.Status == RescheduleStatusPending {
			cp := *rr
			return &cp, nil
		}
	}
	return nil, ErrRescheduleNotFound
}

func (r *MemoryRepository) UpdateRescheduleStatus(_ context.Context, id uuid.UUID, from, to RescheduleStatus) (*RescheduleRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rr, ok := r.reschedules[id]
	if !ok {
		return nil, ErrRescheduleNotFound
	}
	if rr.Status != from {
		return nil, ErrStaleStatus
	}

	now := time.Now()
	rr.Status = to
	rr.ResolvedAt = &now
	cp := *rr
	return &cp, nil
}

func (r *MemoryRepository) ListPendingReschedules(_ context.Context) ([]RescheduleRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []RescheduleRequest
	for _, rr := range r.reschedules {
		if rr.Status == RescheduleStatusPending {
			result = append(result, *rr)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextEventID++
	ev.ID = r.nextEventID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events, oldest first.
func (r *MemoryRepository) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
