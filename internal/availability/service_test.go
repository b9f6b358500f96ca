package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/telehealth-scheduling/internal/actor"
	"github.com/carebridge/telehealth-scheduling/internal/db"
)

func newTestService() (*Service, *MemoryRepository) {
	repo := NewMemoryRepository()
	return NewService(repo, db.InlineRunner{}, zerolog.Nop()), repo
}

func window(t *testing.T, hour, durMin int) (time.Time, time.Time) {
	t.Helper()
	start := time.Date(2026, 3, 2, hour, 0, 0, 0, time.UTC)
	return start, start.Add(time.Duration(durMin) * time.Minute)
}

func TestPublishSlot(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	doctorID := uuid.New()

	start, end := window(t, 9, 30)
	slot, err := svc.PublishSlot(ctx, doctorID, start, end)
	if err != nil {
		t.Fatalf("PublishSlot: %v", err)
	}
	if slot.ID == uuid.Nil {
		t.Error("expected slot ID to be assigned")
	}
	if !slot.Bookable() {
		t.Error("new slot should be bookable")
	}

	// Same window again collides.
	if _, err := svc.PublishSlot(ctx, doctorID, start, end); !errors.Is(err, ErrWindowOverlap) {
		t.Errorf("duplicate window: got %v, want ErrWindowOverlap", err)
	}

	// Partial overlap collides too.
	if _, err := svc.PublishSlot(ctx, doctorID, start.Add(15*time.Minute), end.Add(15*time.Minute)); !errors.Is(err, ErrWindowOverlap) {
		t.Errorf("partial overlap: got %v, want ErrWindowOverlap", err)
	}

	// Adjacent window is fine.
	if _, err := svc.PublishSlot(ctx, doctorID, end, end.Add(30*time.Minute)); err != nil {
		t.Errorf("adjacent window: %v", err)
	}

	// A different doctor can publish the same window.
	if _, err := svc.PublishSlot(ctx, uuid.New(), start, end); err != nil {
		t.Errorf("other doctor, same window: %v", err)
	}
}

func TestPublishSlotInvalidWindow(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	start, end := window(t, 9, 30)

	if _, err := svc.PublishSlot(ctx, uuid.New(), end, start); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("inverted window: got %v, want ErrInvalidWindow", err)
	}
	if _, err := svc.PublishSlot(ctx, uuid.New(), start, start); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("zero-length window: got %v, want ErrInvalidWindow", err)
	}
}

func TestPublishSlotRejectedDuringTimeOff(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	doctorID := uuid.New()

	offStart, offEnd := window(t, 13, 120)
	if _, err := svc.MarkTimeOff(ctx, doctorID, offStart, offEnd, nil); err != nil {
		t.Fatalf("MarkTimeOff: %v", err)
	}

	if _, err := svc.PublishSlot(ctx, doctorID, offStart.Add(30*time.Minute), offStart.Add(time.Hour)); !errors.Is(err, ErrWindowOverlap) {
		t.Errorf("publish inside time-off: got %v, want ErrWindowOverlap", err)
	}
}

func TestMarkTimeOffDisablesOverlappingSlots(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	doctorID := uuid.New()

	s1Start, s1End := window(t, 9, 30)
	s2Start, s2End := window(t, 10, 30)
	inside, err := svc.PublishSlot(ctx, doctorID, s1Start, s1End)
	if err != nil {
		t.Fatal(err)
	}
	outside, err := svc.PublishSlot(ctx, doctorID, s2Start, s2End)
	if err != nil {
		t.Fatal(err)
	}

	reason := "conference"
	off, err := svc.MarkTimeOff(ctx, doctorID, s1Start, s1End, &reason)
	if err != nil {
		t.Fatalf("MarkTimeOff: %v", err)
	}
	if off.Reason == nil || *off.Reason != reason {
		t.Errorf("reason not persisted: %v", off.Reason)
	}

	got, err := svc.GetSlot(ctx, inside.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsTimeOff || got.Bookable() {
		t.Errorf("covered slot should be disabled, got %+v", got)
	}

	got, err = svc.GetSlot(ctx, outside.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsTimeOff {
		t.Error("slot outside the window should be untouched")
	}
}

func TestMarkTimeOffRejectsBookedSlot(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	doctorID := uuid.New()

	start, end := window(t, 9, 30)
	slot, err := svc.PublishSlot(ctx, doctorID, start, end)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ClaimSlot(ctx, slot.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.MarkTimeOff(ctx, doctorID, start, end, nil); !errors.Is(err, ErrBookedSlotOverlap) {
		t.Errorf("time-off over booked slot: got %v, want ErrBookedSlotOverlap", err)
	}
}

func TestRemoveTimeOff(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	doctorID := uuid.New()

	start, end := window(t, 9, 30)
	slot, err := svc.PublishSlot(ctx, doctorID, start, end)
	if err != nil {
		t.Fatal(err)
	}

	off, err := svc.MarkTimeOff(ctx, doctorID, start, end, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Another doctor cannot remove it.
	if err := svc.RemoveTimeOff(ctx, uuid.New(), off.ID); !errors.Is(err, actor.ErrForbidden) {
		t.Errorf("foreign removal: got %v, want ErrForbidden", err)
	}

	if err := svc.RemoveTimeOff(ctx, doctorID, off.ID); err != nil {
		t.Fatalf("RemoveTimeOff: %v", err)
	}

	got, err := svc.GetSlot(ctx, slot.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsTimeOff {
		t.Error("slot should be re-enabled after time-off removal")
	}

	if err := svc.RemoveTimeOff(ctx, doctorID, off.ID); !errors.Is(err, ErrTimeOffNotFound) {
		t.Errorf("second removal: got %v, want ErrTimeOffNotFound", err)
	}
}

func TestRemoveTimeOffKeepsSlotsCoveredElsewhere(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	doctorID := uuid.New()

	start, end := window(t, 9, 30)
	slot, err := svc.PublishSlot(ctx, doctorID, start, end)
	if err != nil {
		t.Fatal(err)
	}

	// Two windows both covering the slot.
	first, err := svc.MarkTimeOff(ctx, doctorID, start, end, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.MarkTimeOff(ctx, doctorID, start.Add(-time.Hour), end.Add(time.Hour), nil); err != nil {
		t.Fatal(err)
	}

	if err := svc.RemoveTimeOff(ctx, doctorID, first.ID); err != nil {
		t.Fatal(err)
	}

	got, err := svc.GetSlot(ctx, slot.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsTimeOff {
		t.Error("slot still covered by the wider window should stay disabled")
	}
}

func TestClaimRelease(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	doctorID := uuid.New()

	start, end := window(t, 9, 30)
	slot, err := svc.PublishSlot(ctx, doctorID, start, end)
	if err != nil {
		t.Fatal(err)
	}

	claimed, err := svc.ClaimSlot(ctx, slot.ID)
	if err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}
	if !claimed.IsBooked {
		t.Error("claimed slot should report booked")
	}

	if _, err := svc.ClaimSlot(ctx, slot.ID); !errors.Is(err, ErrAlreadyClaimed) {
		t.Errorf("double claim: got %v, want ErrAlreadyClaimed", err)
	}

	if err := svc.ReleaseSlot(ctx, slot.ID); err != nil {
		t.Fatalf("ReleaseSlot: %v", err)
	}
	if err := svc.ReleaseSlot(ctx, slot.ID); !errors.Is(err, ErrNotClaimed) {
		t.Errorf("double release: got %v, want ErrNotClaimed", err)
	}

	// Released slot can be claimed again.
	if _, err := svc.ClaimSlot(ctx, slot.ID); err != nil {
		t.Errorf("reclaim after release: %v", err)
	}

	if _, err := svc.ClaimSlot(ctx, uuid.New()); !errors.Is(err, ErrSlotNotFound) {
		t.Errorf("claim unknown slot: got %v, want ErrSlotNotFound", err)
	}
}

func TestListSlotsRange(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	doctorID := uuid.New()

	for hour := 9; hour < 12; hour++ {
		start, end := window(t, hour, 30)
		if _, err := svc.PublishSlot(ctx, doctorID, start, end); err != nil {
			t.Fatal(err)
		}
	}

	all, err := svc.ListSlots(ctx, doctorID, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].StartTime.Before(all[i-1].StartTime) {
			t.Error("slots should be ordered by start time")
		}
	}

	from := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	ranged, err := svc.ListSlots(ctx, doctorID, &from, &to)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranged) != 1 {
		t.Fatalf("expected 1 slot in range, got %d", len(ranged))
	}

	if _, err := svc.ListSlots(ctx, doctorID, &to, &from); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("inverted range: got %v, want ErrInvalidWindow", err)
	}
}

// blindOverlapRepo reports no overlapping slots regardless of the store,
// standing in for two concurrent publishes that both pass the overlap check
// before either inserts.
type blindOverlapRepo struct {
	Repository
}

func (blindOverlapRepo) FindOverlappingSlots(context.Context, uuid.UUID, time.Time, time.Time) ([]Slot, error) {
	return nil, nil
}

func TestPublishSlotOverlapGuardedAtStore(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	svc := NewService(blindOverlapRepo{repo}, db.InlineRunner{}, zerolog.Nop())
	doctorID := uuid.New()

	start, end := window(t, 9, 30)
	if _, err := svc.PublishSlot(ctx, doctorID, start, end); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if _, err := svc.PublishSlot(ctx, doctorID, start, end); !errors.Is(err, ErrWindowOverlap) {
		t.Fatalf("second publish: got %v, want ErrWindowOverlap", err)
	}

	slots, err := repo.ListSlots(ctx, doctorID, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 1 {
		t.Errorf("stored slots = %d, want 1", len(slots))
	}
}

func TestSetSlotTimeOffRejectsBookedSlot(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService()
	doctorID := uuid.New()

	start, end := window(t, 9, 30)
	slot, err := svc.PublishSlot(ctx, doctorID, start, end)
	if err != nil {
		t.Fatalf("PublishSlot: %v", err)
	}
	if _, err := svc.ClaimSlot(ctx, slot.ID); err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}

	// A claim that lands after the caller's booked check must still win.
	if err := repo.SetSlotTimeOff(ctx, slot.ID, true); !errors.Is(err, ErrBookedSlotOverlap) {
		t.Fatalf("SetSlotTimeOff: got %v, want ErrBookedSlotOverlap", err)
	}

	got, err := svc.GetSlot(ctx, slot.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsTimeOff {
		t.Error("booked slot should not be marked time-off")
	}
}
