package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrAppendOnly is returned by hooks on append-only tables
var ErrAppendOnly = errors.New("append-only table: update and delete are not allowed")

// ============================================================
// Lending Tables
// ============================================================

// Booking is one occupancy intent or custody event for a key.
// A schedule slot materializes at most once (ux_booking_schedule_due).
type Booking struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"not null;index:idx_booking_user_status,priority:1" json:"user_id"`
	KeyID          uint       `gorm:"not null;index:idx_booking_key_status,priority:1" json:"key_id"`
	SubjectID      *uint      `gorm:"index" json:"subject_id,omitempty"`
	ScheduleID     *uint      `gorm:"uniqueIndex:ux_booking_schedule_due,priority:1" json:"schedule_id,omitempty"`
	NominalOwnerID *uint      `json:"nominal_owner_id,omitempty"`
	Source         string     `gorm:"size:10;default:'SCHEDULE'" json:"source"`
	BorrowAt       time.Time  `gorm:"not null;index" json:"borrow_at"`
	DueAt          time.Time  `gorm:"not null;uniqueIndex:ux_booking_schedule_due,priority:2" json:"due_at"`
	ReturnAt       *time.Time `json:"return_at,omitempty"`
	Status         string     `gorm:"size:10;not null;default:'RESERVED';index:idx_booking_user_status,priority:2;index:idx_booking_key_status,priority:2" json:"status"`
	LateMinutes    int        `gorm:"default:0" json:"late_minutes"`
	PenaltyScore   int        `gorm:"default:0" json:"penalty_score"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	Key            *Key       `gorm:"foreignKey:KeyID" json:"key,omitempty"`
	User           *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Subject        *Subject   `gorm:"foreignKey:SubjectID" json:"subject,omitempty"`
}

func (Booking) TableName() string {
	return "bookings"
}

// PenaltyConfig กฎการหักคะแนน. At most one row is active.
type PenaltyConfig struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Name             string    `gorm:"size:100" json:"name"`
	GraceMinutes     int       `gorm:"not null;default:30" json:"grace_minutes"`
	IntervalMinutes  int       `gorm:"not null;default:15" json:"interval_minutes"`
	ScorePerInterval int       `gorm:"not null;default:5" json:"score_per_interval"`
	RestoreDays      int       `gorm:"not null;default:30" json:"restore_days"`
	IsActive         bool      `gorm:"default:false;index" json:"is_active"`
	CreatedBy        *uint     `json:"created_by,omitempty"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PenaltyConfig) TableName() string {
	return "penalty_configs"
}

// PenaltyLog is an immutable record of a score deduction
type PenaltyLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;index" json:"user_id"`
	BookingID  *uint     `gorm:"index" json:"booking_id,omitempty"`
	Type       string    `gorm:"size:20;not null" json:"type"`
	ScoreCut   int       `gorm:"not null" json:"score_cut"`
	ScoreAfter int       `gorm:"not null" json:"score_after"`
	Reason     string    `gorm:"type:text" json:"reason"`
	CreatedBy  *uint     `json:"created_by,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (PenaltyLog) TableName() string {
	return "penalty_logs"
}

func (PenaltyLog) BeforeUpdate(*gorm.DB) error { return ErrAppendOnly }
func (PenaltyLog) BeforeDelete(*gorm.DB) error { return ErrAppendOnly }

// SystemLog is the append-only audit trail
type SystemLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Action    string    `gorm:"size:30;not null;index" json:"action"`
	UserID    *uint     `gorm:"index" json:"user_id,omitempty"`
	ActorID   *uint     `json:"actor_id,omitempty"`
	KioskID   *uint     `json:"kiosk_id,omitempty"`
	RequestID string    `gorm:"size:36;index" json:"request_id"`
	Detail    string    `gorm:"type:text" json:"detail"`
	IPAddress string    `gorm:"size:50" json:"ip_address"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (SystemLog) TableName() string {
	return "system_logs"
}

func (SystemLog) BeforeUpdate(*gorm.DB) error { return ErrAppendOnly }
func (SystemLog) BeforeDelete(*gorm.DB) error { return ErrAppendOnly }
