package repositories

import (
	"context"

	"keycabinet/internal/adapters/persistence/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScheduleRepository is read-only access to weekly schedules and rosters
type ScheduleRepository struct {
	db *gorm.DB
}

// NewScheduleRepository creates a new schedule repository
func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// GetByID returns a schedule by ID
func (r *ScheduleRepository) GetByID(ctx context.Context, id uint) (*models.Schedule, error) {
	var s models.Schedule
	err := r.db.WithContext(ctx).First(&s, id).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// LockActiveByDay returns active schedules for a day of week (0=Sunday),
// read FOR UPDATE in id order so concurrent materialization runs of one day
// queue behind each other
func (r *ScheduleRepository) LockActiveByDay(ctx context.Context, dayOfWeek int) ([]models.Schedule, error) {
	var schedules []models.Schedule
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("day_of_week = ? AND is_active = ?", dayOfWeek, true).
		Order("id ASC").
		Find(&schedules).Error
	return schedules, err
}

// ListCandidates returns active schedules matching subject, room and day.
// The caller filters by time window.
func (r *ScheduleRepository) ListCandidates(ctx context.Context, subjectID uint, roomCode string, dayOfWeek int) ([]models.Schedule, error) {
	var schedules []models.Schedule
	err := r.db.WithContext(ctx).
		Where("subject_id = ? AND room_code = ? AND day_of_week = ? AND is_active = ?",
			subjectID, roomCode, dayOfWeek, true).
		Order("start_time ASC").
		Find(&schedules).Error
	return schedules, err
}

// IsEnrolled checks whether a user appears on a schedule's roster
func (r *ScheduleRepository) IsEnrolled(ctx context.Context, scheduleID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ScheduleEnrollment{}).
		Where("schedule_id = ? AND user_id = ?", scheduleID, userID).
		Count(&count).Error
	return count > 0, err
}

// Create creates a schedule with its enrollments
func (r *ScheduleRepository) Create(ctx context.Context, s *models.Schedule) error {
	return r.db.WithContext(ctx).Create(s).Error
}
