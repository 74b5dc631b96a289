package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"keycabinet/internal/adapters/persistence/models"
	"keycabinet/internal/core/domain"
)

func TestMaterializeIsIdempotent(t *testing.T) {
	f := newFixture(t, AdhocPolicy{})
	ctx := context.Background()

	first, err := f.reservations.Materialize(ctx, at(6, 0))
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if first.Date != "2024-01-15" || first.Schedules != 1 || first.Created != 1 {
		t.Fatalf("unexpected first run: %+v", first)
	}

	second, err := f.reservations.Materialize(ctx, at(18, 0))
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if second.Created != 0 || second.SkippedExisting != 1 {
		t.Fatalf("unexpected second run: %+v", second)
	}

	var b models.Booking
	if err := f.db.Where("schedule_id = ?", f.schedule.ID).First(&b).Error; err != nil {
		t.Fatalf("reservation missing: %v", err)
	}
	if b.Status != string(domain.BookingReserved) || b.UserID != f.teacher.ID || b.KeyID != f.keyA.ID {
		t.Fatalf("unexpected reservation: %+v", b)
	}
	if !b.BorrowAt.Equal(at(9, 0)) || !b.DueAt.Equal(at(10, 0)) {
		t.Fatalf("window = [%v, %v), want 09:00-10:00 ICT", b.BorrowAt, b.DueAt)
	}
}

func TestMaterializeConcurrentRuns(t *testing.T) {
	f := newFileFixture(t, AdhocPolicy{})
	ctx := context.Background()

	const runs = 4
	sums := make([]*MaterializeSummary, runs)
	errs := make([]error, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sums[i], errs[i] = f.reservations.Materialize(ctx, at(0, 5))
		}(i)
	}
	wg.Wait()

	created, existing := 0, 0
	for i := range sums {
		if errs[i] != nil {
			t.Fatalf("Materialize run %d failed: %v", i, errs[i])
		}
		created += sums[i].Created
		existing += sums[i].SkippedExisting
	}
	if created != 1 || existing != runs-1 {
		t.Fatalf("created=%d existing=%d, want 1 and %d", created, existing, runs-1)
	}

	var n int64
	f.db.Model(&models.Booking{}).Where("schedule_id = ?", f.schedule.ID).Count(&n)
	if n != 1 {
		t.Fatalf("expected 1 reservation for the slot, got %d", n)
	}
}

func TestMaterializeSkipsClaimedReservation(t *testing.T) {
	f := newFixture(t, AdhocPolicy{})
	f.materialize(t)
	ctx := context.Background()

	if _, err := f.lending.Borrow(ctx, "S0001", "A101", at(9, 5), RequestMeta{}); err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}

	sum, err := f.reservations.Materialize(ctx, at(9, 30))
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if sum.Created != 0 {
		t.Fatalf("claimed reservation was materialized again: %+v", sum)
	}

	var n int64
	f.db.Model(&models.Booking{}).Where("schedule_id = ?", f.schedule.ID).Count(&n)
	if n != 1 {
		t.Fatalf("expected 1 booking for the schedule, got %d", n)
	}
}

func TestMaterializeOtherDaysAndInvalidSlots(t *testing.T) {
	f := newFixture(t, AdhocPolicy{})
	ctx := context.Background()

	if err := f.db.Create(&models.Schedule{
		SubjectID: f.schedule.SubjectID,
		RoomCode:  "B201",
		DayOfWeek: int(time.Tuesday),
		StartTime: "14:00",
		EndTime:   "13:00",
		TeacherID: f.teacher.ID,
		IsActive:  true,
	}).Error; err != nil {
		t.Fatalf("create schedule failed: %v", err)
	}

	tuesday := at(6, 0).AddDate(0, 0, 1)
	sum, err := f.reservations.Materialize(ctx, tuesday)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if sum.Schedules != 1 || sum.Created != 0 || sum.SkippedInvalid != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestMaterializeUsesLocalDate(t *testing.T) {
	f := newFixture(t, AdhocPolicy{})

	// Sunday 20:00 UTC is already Monday 03:00 in ICT
	sunday := time.Date(2024, time.January, 14, 20, 0, 0, 0, time.UTC)
	sum, err := f.reservations.Materialize(context.Background(), sunday)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if sum.Date != "2024-01-15" || sum.Created != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}
