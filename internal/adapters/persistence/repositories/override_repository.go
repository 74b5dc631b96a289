package repositories

import (
	"context"
	"time"

	"keycabinet/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// OverrideRepository stores staff-issued access grants
type OverrideRepository struct {
	db *gorm.DB
}

// NewOverrideRepository creates a new override repository
func NewOverrideRepository(db *gorm.DB) *OverrideRepository {
	return &OverrideRepository{db: db}
}

// Create inserts a grant
func (r *OverrideRepository) Create(ctx context.Context, o *models.AccessOverride) error {
	return r.db.WithContext(ctx).Create(o).Error
}

// HasValidGrant reports whether userID holds an unrevoked grant for roomCode at at
func (r *OverrideRepository) HasValidGrant(ctx context.Context, userID uint, roomCode string, at time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.AccessOverride{}).
		Where("user_id = ? AND room_code = ?", userID, roomCode).
		Where("revoked_at IS NULL").
		Where("valid_from <= ? AND valid_until > ?", at, at).
		Count(&count).Error
	return count > 0, err
}

// ListValidRooms returns the room codes userID holds a valid grant for at at
func (r *OverrideRepository) ListValidRooms(ctx context.Context, userID uint, at time.Time) ([]string, error) {
	var rooms []string
	err := r.db.WithContext(ctx).Model(&models.AccessOverride{}).
		Where("user_id = ?", userID).
		Where("revoked_at IS NULL").
		Where("valid_from <= ? AND valid_until > ?", at, at).
		Distinct().
		Pluck("room_code", &rooms).Error
	return rooms, err
}

// Revoke marks a grant as revoked
func (r *OverrideRepository) Revoke(ctx context.Context, id uint, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.AccessOverride{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListActive returns grants not yet expired or revoked at at
func (r *OverrideRepository) ListActive(ctx context.Context, at time.Time) ([]models.AccessOverride, error) {
	var list []models.AccessOverride
	err := r.db.WithContext(ctx).
		Where("revoked_at IS NULL AND valid_until > ?", at).
		Order("valid_from ASC").
		Find(&list).Error
	return list, err
}
