package repositories

import (
	"context"
	"time"

	"keycabinet/internal/adapters/persistence/models"
	"keycabinet/internal/core/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// userRepository implements UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create creates a new user
func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// GetByID gets a user by ID
func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByIdentity returns every user whose code or card UID equals code.
// More than one row means the presented identity is ambiguous.
func (r *userRepository) FindByIdentity(ctx context.Context, code string) ([]*models.User, error) {
	var users []*models.User
	err := r.db.WithContext(ctx).
		Where("code = ? OR card_uid = ?", code, code).
		Order("id ASC").
		Limit(2).
		Find(&users).Error
	return users, err
}

// LockByID reads a user row with FOR UPDATE
func (r *userRepository) LockByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateStanding writes score and suspension flags
func (r *userRepository) UpdateStanding(ctx context.Context, id uint, score int, suspended bool, suspendedAt *time.Time) error {
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"standing_score": score,
			"is_suspended":   suspended,
			"suspended_at":   suspendedAt,
		}).Error
}

// ListForRestore returns users below the initial score with no penalty log
// newer than quietSince
func (r *userRepository) ListForRestore(ctx context.Context, quietSince time.Time) ([]*models.User, error) {
	var users []*models.User
	recent := r.db.Model(&models.PenaltyLog{}).
		Select("user_id").
		Where("created_at >= ?", quietSince)

	err := r.db.WithContext(ctx).
		Where("standing_score < ?", domain.InitialStandingScore).
		Where("id NOT IN (?)", recent).
		Order("id ASC").
		Find(&users).Error
	return users, err
}

// List lists users with pagination
func (r *userRepository) List(ctx context.Context, offset, limit int) ([]*models.User, int64, error) {
	var users []*models.User
	var total int64

	// Count total
	if err := r.db.WithContext(ctx).Model(&models.User{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// Get users with pagination
	if err := r.db.WithContext(ctx).Order("id ASC").Offset(offset).Limit(limit).Find(&users).Error; err != nil {
		return nil, 0, err
	}

	return users, total, nil
}
