package repositories

import (
	"context"
	"errors"

	"keycabinet/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// KioskRepository stores registered kiosk devices
type KioskRepository struct {
	db *gorm.DB
}

// NewKioskRepository creates a new kiosk repository
func NewKioskRepository(db *gorm.DB) *KioskRepository {
	return &KioskRepository{db: db}
}

// GetByCode returns an active kiosk by code, or nil
func (r *KioskRepository) GetByCode(ctx context.Context, code string) (*models.Kiosk, error) {
	var k models.Kiosk
	err := r.db.WithContext(ctx).Where("code = ? AND is_active = ?", code, true).Take(&k).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &k, nil
}

// Create registers a kiosk
func (r *KioskRepository) Create(ctx context.Context, k *models.Kiosk) error {
	return r.db.WithContext(ctx).Create(k).Error
}

// Exists checks if a kiosk code is registered
func (r *KioskRepository) Exists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Kiosk{}).Where("code = ?", code).Count(&count).Error
	return count > 0, err
}
