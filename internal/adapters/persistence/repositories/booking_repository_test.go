package repositories

import (
	"context"
	"testing"
	"time"

	"keycabinet/internal/adapters/persistence/models"
)

func TestCreateReservationOncePerSlot(t *testing.T) {
	db := openTestDB(t)
	uow := NewUnitOfWork(db, UnitOfWorkOptions{Timeout: time.Second})
	ctx := context.Background()

	from := time.Date(2024, 1, 15, 2, 0, 0, 0, time.UTC)
	scheduleID := uint(7)
	slot := func(keyID uint) *models.Booking {
		id := scheduleID
		return &models.Booking{UserID: 1, KeyID: keyID, ScheduleID: &id, BorrowAt: from, DueAt: from.Add(time.Hour), Status: "RESERVED"}
	}

	err := uow.Do(ctx, func(ctx context.Context, s *Stores) error {
		created, err := s.Bookings.CreateReservation(ctx, slot(1))
		if err != nil || !created {
			t.Fatalf("first CreateReservation = %v, %v", created, err)
		}
		created, err = s.Bookings.CreateReservation(ctx, slot(2))
		if err != nil || created {
			t.Fatalf("second CreateReservation = %v, %v; want false, nil", created, err)
		}
		// the transaction survives the rejected insert
		return s.Users.Create(ctx, &models.User{Code: "U1", FullName: "One"})
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	var n int64
	db.Model(&models.Booking{}).Where("schedule_id = ?", scheduleID).Count(&n)
	if n != 1 {
		t.Fatalf("expected 1 booking for the slot, got %d", n)
	}
	db.Model(&models.User{}).Where("code = ?", "U1").Count(&n)
	if n != 1 {
		t.Fatalf("write after the rejected insert was lost")
	}

	// ad-hoc bookings carry no schedule and are not constrained
	stores := NewStores(db)
	for i := 0; i < 2; i++ {
		b := &models.Booking{UserID: 2, KeyID: 3, Source: "ADHOC", BorrowAt: from, DueAt: from.Add(time.Hour), Status: "RETURNED"}
		if err := stores.Bookings.Create(ctx, b); err != nil {
			t.Fatalf("Create ad-hoc booking failed: %v", err)
		}
	}
}

func TestReservationsEarlyWindow(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	stores := NewStores(db)

	key := &models.Key{RoomCode: "A101", SlotNumber: 1, IsActive: true}
	if err := stores.Keys.Create(ctx, key); err != nil {
		t.Fatalf("Create key failed: %v", err)
	}
	start := time.Date(2024, 1, 15, 2, 0, 0, 0, time.UTC)
	if err := stores.Bookings.Create(ctx, &models.Booking{UserID: 1, KeyID: key.ID, BorrowAt: start, DueAt: start.Add(time.Hour), Status: "RESERVED"}); err != nil {
		t.Fatalf("Create booking failed: %v", err)
	}

	tests := []struct {
		name  string
		at    time.Time
		early time.Duration
		want  int
	}{
		{"before start, no window", start.Add(-10 * time.Minute), 0, 0},
		{"inside the window", start.Add(-10 * time.Minute), 15 * time.Minute, 1},
		{"window opens", start.Add(-15 * time.Minute), 15 * time.Minute, 1},
		{"before the window", start.Add(-16 * time.Minute), 15 * time.Minute, 0},
		{"during the slot", start.Add(30 * time.Minute), 0, 1},
		{"slot over", start.Add(time.Hour), 15 * time.Minute, 0},
	}
	for _, tt := range tests {
		for _, lock := range []bool{false, true} {
			got, err := stores.Bookings.ListReservationsForRoomAtTime(ctx, "A101", tt.at, tt.early, lock)
			if err != nil {
				t.Fatalf("%s: ListReservationsForRoomAtTime failed: %v", tt.name, err)
			}
			if len(got) != tt.want {
				t.Fatalf("%s (lock=%v): got %d reservations, want %d", tt.name, lock, len(got), tt.want)
			}
		}
	}
}
