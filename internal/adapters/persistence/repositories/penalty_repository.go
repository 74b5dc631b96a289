package repositories

import (
	"context"
	"errors"

	"keycabinet/internal/adapters/persistence/models"
	"keycabinet/internal/core/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PenaltyRepository stores penalty configs and the penalty log
type PenaltyRepository struct {
	db *gorm.DB
}

// NewPenaltyRepository creates a new penalty repository
func NewPenaltyRepository(db *gorm.DB) *PenaltyRepository {
	return &PenaltyRepository{db: db}
}

// ============================================================
// Penalty Config
// ============================================================

// GetActiveConfig returns the active config, or nil when none is active
func (r *PenaltyRepository) GetActiveConfig(ctx context.Context) (*models.PenaltyConfig, error) {
	var cfg models.PenaltyConfig
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id DESC").
		Take(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cfg, nil
}

// GetConfigByID returns a config by ID
func (r *PenaltyRepository) GetConfigByID(ctx context.Context, id uint) (*models.PenaltyConfig, error) {
	var cfg models.PenaltyConfig
	err := r.db.WithContext(ctx).First(&cfg, id).Error
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ListConfigs returns all configs, newest first
func (r *PenaltyRepository) ListConfigs(ctx context.Context) ([]models.PenaltyConfig, error) {
	var cfgs []models.PenaltyConfig
	err := r.db.WithContext(ctx).Order("id DESC").Find(&cfgs).Error
	return cfgs, err
}

// CreateConfig inserts a config
func (r *PenaltyRepository) CreateConfig(ctx context.Context, cfg *models.PenaltyConfig) error {
	return r.db.WithContext(ctx).Create(cfg).Error
}

// ActivateConfig deactivates every other config and activates id.
// Run it inside a unit of work so readers never see zero or two active rows.
// Every config row is locked first: two concurrent activations then run one
// after the other and the second one deactivates the first one's row.
func (r *PenaltyRepository) ActivateConfig(ctx context.Context, id uint) error {
	var locked []models.PenaltyConfig
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Order("id ASC").
		Find(&locked).Error; err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Model(&models.PenaltyConfig{}).
		Where("id <> ? AND is_active = ?", id, true).
		Update("is_active", false).Error; err != nil {
		return err
	}

	res := r.db.WithContext(ctx).Model(&models.PenaltyConfig{}).
		Where("id = ?", id).
		Update("is_active", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ============================================================
// Penalty Log (append-only)
// ============================================================

// AppendLog inserts a penalty log row
func (r *PenaltyRepository) AppendLog(ctx context.Context, l *models.PenaltyLog) error {
	return r.db.WithContext(ctx).Create(l).Error
}

// ListLogsByUser returns a user's penalty history, newest first
func (r *PenaltyRepository) ListLogsByUser(ctx context.Context, userID uint, offset, limit int) ([]models.PenaltyLog, int64, error) {
	var logs []models.PenaltyLog
	var total int64

	q := r.db.WithContext(ctx).Model(&models.PenaltyLog{}).Where("user_id = ?", userID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// SumLateCutsByBooking returns total LATE_RETURN score cut recorded for a booking
func (r *PenaltyRepository) SumLateCutsByBooking(ctx context.Context, bookingID uint) (int, error) {
	var sum int
	err := r.db.WithContext(ctx).Model(&models.PenaltyLog{}).
		Select("COALESCE(SUM(score_cut), 0)").
		Where("booking_id = ? AND type = ?", bookingID, string(domain.PenaltyLateReturn)).
		Scan(&sum).Error
	return sum, err
}
