package availability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a mutex-guarded in-memory Repository. It backs unit
// tests and local development without Postgres; claim/release keep the same
// atomicity guarantees under the lock that the SQL guard provides.
type MemoryRepository struct {
	mu      sync.Mutex
	slots   map[uuid.UUID]*Slot
	timeOff map[uuid.UUID]*TimeOff
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		slots:   make(map[uuid.UUID]*Slot),
		timeOff: make(map[uuid.UUID]*TimeOff),
	}
}

func (r *MemoryRepository) CreateSlot(_ context.Context, s *Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Mirrors the exclusion constraint on availability_slots: no two
	// bookable windows of one doctor may intersect.
	if !s.IsTimeOff {
		for _, existing := range r.slots {
			if existing.DoctorID != s.DoctorID || existing.IsTimeOff {
				continue
			}
			if Overlaps(existing.StartTime, existing.EndTime, s.StartTime, s.EndTime) {
				return ErrWindowOverlap
			}
		}
	}

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now

	cp := *s
	r.slots[s.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) ListSlots(_ context.Context, doctorID uuid.UUID, from, to *time.Time) ([]Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Slot
	for _, s := range r.slots {
		if s.DoctorID != doctorID {
			continue
		}
		if from != nil && !s.EndTime.After(*from) {
			continue
		}
		if to != nil && !s.StartTime.Before(*to) {
			continue
		}
		result = append(result, *s)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result, nil
}

func (r *MemoryRepository) FindOverlappingSlots(_ context.Context, doctorID uuid.UUID, start, end time.Time) ([]Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Slot
	for _, s := range r.slots {
		if s.DoctorID != doctorID || s.IsTimeOff {
			continue
		}
		if Overlaps(s.StartTime, s.EndTime, start, end) {
			result = append(result, *s)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result, nil
}

func (r *MemoryRepository) ClaimSlot(_ context.Context, id uuid.UUID) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if s.IsBooked || s.IsTimeOff {
		return nil, ErrAlreadyClaimed
	}

	s.IsBooked = true
	s.UpdatedAt = time.Now()
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) ReleaseSlot(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	if !s.IsBooked {
		return ErrNotClaimed
	}

	s.IsBooked = false
	s.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryRepository) SetSlotTimeOff(_ context.Context, id uuid.UUID, timeOff bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	if timeOff && s.IsBooked {
		return ErrBookedSlotOverlap
	}
	s.IsTimeOff = timeOff
	s.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryRepository) CreateTimeOff(_ context.Context, t *TimeOff) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = time.Now()

	cp := *t
	r.timeOff[t.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetTimeOffByID(_ context.Context, id uuid.UUID) (*TimeOff, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.timeOff[id]
	if !ok {
		return nil, ErrTimeOffNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *MemoryRepository) DeleteTimeOff(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.timeOff[id]; !ok {
		return ErrTimeOffNotFound
	}
	delete(r.timeOff, id)
	return nil
}

func (r *MemoryRepository) ListTimeOff(_ context.Context, doctorID uuid.UUID) ([]TimeOff, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []TimeOff
	for _, t := range r.timeOff {
		if t.DoctorID == doctorID {
			result = append(result, *t)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result, nil
}

func (r *MemoryRepository) FindOverlappingTimeOff(_ context.Context, doctorID uuid.UUID, start, end time.Time) ([]TimeOff, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []TimeOff
	for _, t := range r.timeOff {
		if t.DoctorID != doctorID {
			continue
		}
		if Overlaps(t.StartTime, t.EndTime, start, end) {
			result = append(result, *t)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result, nil
}
