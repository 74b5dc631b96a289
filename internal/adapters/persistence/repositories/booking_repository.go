package repositories

import (
	"context"
	"errors"
	"time"

	"keycabinet/internal/adapters/persistence/models"
	"keycabinet/internal/core/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BookingFilter filters for admin booking listings
type BookingFilter struct {
	Status   string
	UserID   uint
	RoomCode string
	From     *time.Time
	To       *time.Time
}

// BookingRepository is the reservation/custody ledger
type BookingRepository struct {
	db *gorm.DB
}

// NewBookingRepository creates a new booking repository
func NewBookingRepository(db *gorm.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// Create inserts a booking
func (r *BookingRepository) Create(ctx context.Context, b *models.Booking) error {
	return r.db.WithContext(ctx).Create(b).Error
}

// GetByID returns a booking with its key
func (r *BookingRepository) GetByID(ctx context.Context, id uint) (*models.Booking, error) {
	var b models.Booking
	err := r.db.WithContext(ctx).Preload("Key").First(&b, id).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ============================================================
// Active Bookings (BORROWED)
// ============================================================

// FindActiveForUser returns the user's BORROWED booking, or nil
func (r *BookingRepository) FindActiveForUser(ctx context.Context, userID uint) (*models.Booking, error) {
	var b models.Booking
	err := r.db.WithContext(ctx).
		Preload("Key").
		Where("user_id = ? AND status = ?", userID, string(domain.BookingBorrowed)).
		Order("id ASC").
		Take(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// FindActiveForKey returns the key's BORROWED booking, or nil
func (r *BookingRepository) FindActiveForKey(ctx context.Context, keyID uint) (*models.Booking, error) {
	var b models.Booking
	err := r.db.WithContext(ctx).
		Where("key_id = ? AND status = ?", keyID, string(domain.BookingBorrowed)).
		Take(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// ListBorrowedKeyIDs returns the ids of keys currently out of the cabinet
func (r *BookingRepository) ListBorrowedKeyIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Booking{}).
		Where("status = ?", string(domain.BookingBorrowed)).
		Distinct().
		Pluck("key_id", &ids).Error
	return ids, err
}

// ListOverdue returns BORROWED bookings whose due time is before cutoff
func (r *BookingRepository) ListOverdue(ctx context.Context, cutoff time.Time) ([]models.Booking, error) {
	var bookings []models.Booking
	err := r.db.WithContext(ctx).
		Preload("Key").
		Preload("User").
		Where("status = ? AND due_at < ?", string(domain.BookingBorrowed), cutoff).
		Order("due_at ASC").
		Find(&bookings).Error
	return bookings, err
}

// ============================================================
// Reservations (RESERVED)
// ============================================================

// ListReservationsForRoomAtTime returns RESERVED bookings on the room's active
// keys whose [borrow_at - early, due_at) contains at. With lock the rows are
// read FOR UPDATE.
func (r *BookingRepository) ListReservationsForRoomAtTime(ctx context.Context, roomCode string, at time.Time, early time.Duration, lock bool) ([]models.Booking, error) {
	keyIDs := r.db.Model(&models.Key{}).
		Select("id").
		Where("room_code = ? AND is_active = ?", roomCode, true)

	q := r.db.WithContext(ctx)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var bookings []models.Booking
	err := q.
		Where("key_id IN (?)", keyIDs).
		Where("status = ?", string(domain.BookingReserved)).
		Where("borrow_at <= ? AND due_at > ?", at.Add(early), at).
		Order("borrow_at ASC, id ASC").
		Find(&bookings).Error
	return bookings, err
}

// FindOwnedReservationAt returns the RESERVED booking nominally owned by userID
// that covers at, or nil
func (r *BookingRepository) FindOwnedReservationAt(ctx context.Context, userID uint, at time.Time) (*models.Booking, error) {
	var b models.Booking
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("status = ?", string(domain.BookingReserved)).
		Where("(nominal_owner_id = ? OR (nominal_owner_id IS NULL AND user_id = ?))", userID, userID).
		Where("borrow_at <= ? AND due_at > ?", at, at).
		Order("borrow_at ASC, id ASC").
		Take(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// HasOverlap reports whether the key has a RESERVED or BORROWED booking
// overlapping [from, to). excludeID skips one booking (0 = none).
func (r *BookingRepository) HasOverlap(ctx context.Context, keyID uint, from, to time.Time, excludeID uint) (bool, error) {
	q := r.db.WithContext(ctx).Model(&models.Booking{}).
		Where("key_id = ? AND status IN ?", keyID, []string{string(domain.BookingReserved), string(domain.BookingBorrowed)}).
		Where("borrow_at < ? AND due_at > ?", to, from) // overlap condition
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// NextReservationAfter returns the first RESERVED booking on a key starting after at, or nil
func (r *BookingRepository) NextReservationAfter(ctx context.Context, keyID uint, at time.Time) (*models.Booking, error) {
	var b models.Booking
	err := r.db.WithContext(ctx).
		Where("key_id = ? AND status = ? AND borrow_at > ?", keyID, string(domain.BookingReserved), at).
		Order("borrow_at ASC").
		Take(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// ExistsForSchedule reports whether a booking was already materialized for a
// schedule slot ending at dueAt, whatever its status. borrow_at is not used
// because claiming a reservation rewrites it.
func (r *BookingRepository) ExistsForSchedule(ctx context.Context, scheduleID uint, dueAt time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Booking{}).
		Where("schedule_id = ? AND due_at = ?", scheduleID, dueAt).
		Count(&count).Error
	return count > 0, err
}

// ============================================================
// Mutations
// ============================================================

// CreateReservation inserts a materialized reservation inside a savepoint.
// It returns false, with the outer transaction still usable, when the slot
// was already materialized by a concurrent run.
func (r *BookingRepository) CreateReservation(ctx context.Context, b *models.Booking) (bool, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(b).Error
	})
	if IsDuplicateKey(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Transition updates a booking only while it is still in status from.
// It returns false when another transaction moved the booking first.
func (r *BookingRepository) Transition(ctx context.Context, id uint, from string, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Booking{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ============================================================
// Admin Listings
// ============================================================

// List returns bookings matching filter with pagination
func (r *BookingRepository) List(ctx context.Context, f BookingFilter, offset, limit int) ([]models.Booking, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Booking{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.RoomCode != "" {
		q = q.Where("key_id IN (?)", r.db.Model(&models.Key{}).Select("id").Where("room_code = ?", f.RoomCode))
	}
	if f.From != nil {
		q = q.Where("borrow_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("borrow_at < ?", f.To.UTC())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var bookings []models.Booking
	err := q.Preload("Key").Preload("User").
		Order("borrow_at DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&bookings).Error
	if err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}
