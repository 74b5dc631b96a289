package repositories

import (
	"context"
	"time"

	"keycabinet/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// UserRepository defines user repository interface
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	FindByIdentity(ctx context.Context, code string) ([]*models.User, error)
	LockByID(ctx context.Context, id uint) (*models.User, error)
	UpdateStanding(ctx context.Context, id uint, score int, suspended bool, suspendedAt *time.Time) error
	ListForRestore(ctx context.Context, quietSince time.Time) ([]*models.User, error)
	List(ctx context.Context, offset, limit int) ([]*models.User, int64, error)
}

// UnitOfWork runs fn inside one store transaction. Every repository reachable
// through Stores is bound to that transaction, so whatever fn writes commits
// together or not at all. Retryable store conflicts re-run fn from scratch.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, s *Stores) error) error
}

// Stores bundles the repositories bound to one database handle
type Stores struct {
	Users     UserRepository
	Keys      *KeyRepository
	Schedules *ScheduleRepository
	Bookings  *BookingRepository
	Penalties *PenaltyRepository
	Audit     *AuditRepository
	Overrides *OverrideRepository
	Kiosks    *KioskRepository
}

// NewStores creates repositories over db (a plain handle or a transaction)
func NewStores(db *gorm.DB) *Stores {
	return &Stores{
		Users:     NewUserRepository(db),
		Keys:      NewKeyRepository(db),
		Schedules: NewScheduleRepository(db),
		Bookings:  NewBookingRepository(db),
		Penalties: NewPenaltyRepository(db),
		Audit:     NewAuditRepository(db),
		Overrides: NewOverrideRepository(db),
		Kiosks:    NewKioskRepository(db),
	}
}
