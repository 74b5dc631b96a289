package models

import (
	"time"

	"keycabinet/internal/core/domain"

	"gorm.io/gorm"
)

// ============================================================
// Identity Tables
// ============================================================

// User represents users table (students, teachers, staff)
type User struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Code          string         `gorm:"uniqueIndex;size:30;not null" json:"code"`
	CardUID       *string        `gorm:"uniqueIndex;size:64" json:"card_uid,omitempty"`
	FullName      string         `gorm:"size:150;not null" json:"full_name"`
	Role          string         `gorm:"size:20;default:'STUDENT'" json:"role"`
	StandingScore int            `gorm:"not null;default:100" json:"standing_score"`
	IsSuspended   bool           `gorm:"default:false;index" json:"is_suspended"`
	SuspendedAt   *time.Time     `json:"suspended_at,omitempty"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string {
	return "users"
}

// UserResponse DTO
type UserResponse struct {
	ID            uint   `json:"id"`
	Code          string `json:"code"`
	FullName      string `json:"full_name"`
	Role          string `json:"role"`
	StandingScore int    `json:"standing_score"`
	IsSuspended   bool   `json:"is_suspended"`
}

func (u *User) ToResponse() *UserResponse {
	return &UserResponse{
		ID:            u.ID,
		Code:          u.Code,
		FullName:      u.FullName,
		Role:          u.Role,
		StandingScore: u.StandingScore,
		IsSuspended:   u.IsSuspended,
	}
}

// Kiosk represents a registered kiosk device
type Kiosk struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Code       string    `gorm:"uniqueIndex;size:30;not null" json:"code"`
	Name       string    `gorm:"size:100" json:"name"`
	Location   string    `gorm:"size:150" json:"location"`
	SecretHash string    `gorm:"size:255;not null" json:"-"`
	IsActive   bool      `gorm:"default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Kiosk) TableName() string {
	return "kiosks"
}

// ============================================================
// Registry Tables (rooms, keys, subjects, schedules)
// ============================================================

// Subject วิชา
type Subject struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Code      string    `gorm:"uniqueIndex;size:30;not null" json:"code"`
	Name      string    `gorm:"size:150;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subject) TableName() string {
	return "subjects"
}

// Room ห้องเรียน
type Room struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Code      string    `gorm:"uniqueIndex;size:30;not null" json:"code"`
	Name      string    `gorm:"size:100" json:"name"`
	Building  string    `gorm:"size:100" json:"building"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Room) TableName() string {
	return "rooms"
}

// Key is one physical key stored in a cabinet slot.
// Availability is derived from bookings and never stored here.
type Key struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RoomCode   string    `gorm:"size:30;not null;index" json:"room_code"`
	SlotNumber int       `gorm:"uniqueIndex;not null" json:"slot_number"`
	Label      string    `gorm:"size:50" json:"label"`
	IsActive   bool      `gorm:"default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// KEYS is reserved in MySQL
func (Key) TableName() string {
	return "room_keys"
}

// Schedule is a recurring weekly room allocation
type Schedule struct {
	ID          uint                 `gorm:"primaryKey" json:"id"`
	SubjectID   uint                 `gorm:"not null;index" json:"subject_id"`
	RoomCode    string               `gorm:"size:30;not null;index:idx_schedule_slot,priority:1" json:"room_code"`
	DayOfWeek   int                  `gorm:"not null;index:idx_schedule_slot,priority:2" json:"day_of_week"` // 0-6 (Sunday-Saturday)
	StartTime   string               `gorm:"size:8;not null" json:"start_time"`                              // "09:00"
	EndTime     string               `gorm:"size:8;not null" json:"end_time"`                                // "10:00"
	TeacherID   uint                 `gorm:"not null;index" json:"teacher_id"`
	IsActive    bool                 `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
	Subject     *Subject             `gorm:"foreignKey:SubjectID" json:"subject,omitempty"`
	Teacher     *User                `gorm:"foreignKey:TeacherID" json:"teacher,omitempty"`
	Enrollments []ScheduleEnrollment `gorm:"foreignKey:ScheduleID" json:"enrollments,omitempty"`
}

func (Schedule) TableName() string {
	return "schedules"
}

// BeforeSave stores slot times as zero-padded HH:MM so they sort as text.
// Unparseable values are kept and skipped at materialization.
func (s *Schedule) BeforeSave(*gorm.DB) error {
	if t, err := domain.ParseTimeOfDay(s.StartTime); err == nil {
		s.StartTime = t.String()
	}
	if t, err := domain.ParseTimeOfDay(s.EndTime); err == nil {
		s.EndTime = t.String()
	}
	return nil
}

// ScheduleEnrollment is one roster entry of a schedule
type ScheduleEnrollment struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ScheduleID uint      `gorm:"not null;uniqueIndex:ux_schedule_user,priority:1" json:"schedule_id"`
	UserID     uint      `gorm:"not null;uniqueIndex:ux_schedule_user,priority:2;index" json:"user_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ScheduleEnrollment) TableName() string {
	return "schedule_enrollments"
}

// AccessOverride is a staff-issued grant letting a user take a room's key
// inside [ValidFrom, ValidUntil) without a roster entry.
type AccessOverride struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UserID     uint       `gorm:"not null;index" json:"user_id"`
	RoomCode   string     `gorm:"size:30;not null;index" json:"room_code"`
	ValidFrom  time.Time  `gorm:"not null" json:"valid_from"`
	ValidUntil time.Time  `gorm:"not null" json:"valid_until"`
	Reason     string     `gorm:"size:255" json:"reason"`
	GrantedBy  uint       `gorm:"not null" json:"granted_by"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (AccessOverride) TableName() string {
	return "access_overrides"
}

// ============================================================
// Auto Migration
// ============================================================

// AutoMigrate runs auto migration for all engine tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		// Identity
		&User{},
		&Kiosk{},
		// Registry
		&Subject{},
		&Room{},
		&Key{},
		&Schedule{},
		&ScheduleEnrollment{},
		&AccessOverride{},
		// Lending
		&Booking{},
		&PenaltyConfig{},
		&PenaltyLog{},
		&SystemLog{},
	)
}
