package availability

import (
	"time"

	"github.com/google/uuid"
)

// Slot is a doctor-published time window eligible for booking. A slot is
// bookable while it is neither booked nor suppressed by time-off.
type Slot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	IsBooked  bool
	IsTimeOff bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Bookable reports whether the slot can currently be claimed.
func (s *Slot) Bookable() bool {
	return !s.IsBooked && !s.IsTimeOff
}

// TimeOff is a doctor-declared unavailable window. Published, unbooked slots
// it overlaps are disabled for as long as the window exists.
type TimeOff struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	Reason    *string
	CreatedAt time.Time
}

// Overlaps reports whether the half-open windows [aStart, aEnd) and
// [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
