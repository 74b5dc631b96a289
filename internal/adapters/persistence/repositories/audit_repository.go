package repositories

import (
	"context"
	"encoding/json"

	"keycabinet/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// AuditEntry is one system log line to append
type AuditEntry struct {
	Action    string
	UserID    *uint
	ActorID   *uint
	KioskID   *uint
	RequestID string
	IPAddress string
	Detail    interface{}
}

// AuditFilter filters for system log listings
type AuditFilter struct {
	Action string
	UserID uint
}

// AuditRepository writes the append-only system log
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append writes an entry; Detail is stored as JSON
func (r *AuditRepository) Append(ctx context.Context, e AuditEntry) error {
	detail := "{}"
	if e.Detail != nil {
		b, err := json.Marshal(e.Detail)
		if err != nil {
			return err
		}
		detail = string(b)
	}

	return r.db.WithContext(ctx).Create(&models.SystemLog{
		Action:    e.Action,
		UserID:    e.UserID,
		ActorID:   e.ActorID,
		KioskID:   e.KioskID,
		RequestID: e.RequestID,
		Detail:    detail,
		IPAddress: e.IPAddress,
	}).Error
}

// List returns system logs, newest first
func (r *AuditRepository) List(ctx context.Context, f AuditFilter, offset, limit int) ([]models.SystemLog, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.SystemLog{})
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var logs []models.SystemLog
	if err := q.Order("id DESC").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
