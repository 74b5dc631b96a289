package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Role represents user role in the system
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleTeacher Role = "TEACHER"
	RoleStaff   Role = "STAFF"
	RoleAdmin   Role = "ADMIN"
)

// CanBorrowAdhoc reports whether the role may take a key without a reservation
// when ad-hoc lending is enabled.
func (r Role) CanBorrowAdhoc() bool {
	return r == RoleTeacher || r == RoleStaff || r == RoleAdmin
}

// BookingStatus is the state of a booking row
type BookingStatus string

const (
	BookingReserved BookingStatus = "RESERVED"
	BookingBorrowed BookingStatus = "BORROWED"
	BookingReturned BookingStatus = "RETURNED"
	BookingLate     BookingStatus = "LATE"
)

// IsTerminal reports whether no further transition is allowed
func (s BookingStatus) IsTerminal() bool {
	return s == BookingReturned || s == BookingLate
}

// BookingSource records how a booking came to exist
type BookingSource string

const (
	SourceSchedule BookingSource = "SCHEDULE"
	SourceAdhoc    BookingSource = "ADHOC"
)

// PenaltyType classifies penalty log rows
type PenaltyType string

const (
	PenaltyLateReturn PenaltyType = "LATE_RETURN"
	PenaltyManual     PenaltyType = "MANUAL"
)

// AuditAction is the action column of system_logs
type AuditAction string

const (
	ActionBorrowKey       AuditAction = "BORROW_KEY"
	ActionReturnKey       AuditAction = "RETURN_KEY"
	ActionUserBanned      AuditAction = "USER_BANNED"
	ActionUserUnbanned    AuditAction = "USER_UNBANNED"
	ActionTransferKey     AuditAction = "TRANSFER_KEY"
	ActionSwapKey         AuditAction = "SWAP_KEY"
	ActionMoveReservation AuditAction = "MOVE_RESERVATION"
	ActionManualPenalty   AuditAction = "MANUAL_PENALTY"
)

// Standing score bounds
const (
	InitialStandingScore = 100
	MinStandingScore     = 0
)

// Penalty defaults used when no active configuration exists
const (
	DefaultGraceMinutes     = 30
	DefaultIntervalMinutes  = 15
	DefaultScorePerInterval = 5
	DefaultRestoreDays      = 30
)

// PenaltyRules is the active penalty configuration captured for one transaction
type PenaltyRules struct {
	ConfigID         *uint
	GraceMinutes     int
	IntervalMinutes  int
	ScorePerInterval int
	RestoreDays      int
}

// DefaultPenaltyRules returns the documented fallback rule set
func DefaultPenaltyRules() PenaltyRules {
	return PenaltyRules{
		GraceMinutes:     DefaultGraceMinutes,
		IntervalMinutes:  DefaultIntervalMinutes,
		ScorePerInterval: DefaultScorePerInterval,
		RestoreDays:      DefaultRestoreDays,
	}
}

// PenaltyVerdict is the outcome of the penalty calculator
type PenaltyVerdict struct {
	LateMinutes  int  `json:"late_minutes"`
	PenaltyScore int  `json:"penalty_score"`
	IsLate       bool `json:"is_late"`
}

// Standing is the result of applying a score cut to a user
type Standing struct {
	Score        int
	Suspended    bool
	NewlyBanned  bool
	ScoreApplied int
}

// ApplyScoreCut decrements score by cut, clamping at MinStandingScore.
// A user reaching the floor becomes suspended.
func ApplyScoreCut(score int, suspended bool, cut int) Standing {
	if cut < 0 {
		cut = 0
	}
	next := score - cut
	if next < MinStandingScore {
		next = MinStandingScore
	}
	st := Standing{
		Score:        next,
		Suspended:    suspended,
		ScoreApplied: score - next,
	}
	if next == MinStandingScore && !suspended {
		st.Suspended = true
		st.NewlyBanned = true
	}
	return st
}

// TimeOfDay is a wall-clock "HH:MM" value used by weekly schedules
type TimeOfDay struct {
	Hour   int
	Minute int
}

// On returns the instant of t's calendar day (in loc) at this time of day
func (d TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	day = day.In(loc)
	return time.Date(day.Year(), day.Month(), day.Day(), d.Hour, d.Minute, 0, 0, loc)
}

// Minutes returns minutes since midnight
func (d TimeOfDay) Minutes() int {
	return d.Hour*60 + d.Minute
}

// String formats as zero-padded "HH:MM"
func (d TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", d.Hour, d.Minute)
}

// ParseTimeOfDay parses "HH:MM" (also accepts "HH:MM:SS", seconds ignored)
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return TimeOfDay{}, ErrInvalidTimeOfDay
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, ErrInvalidTimeOfDay
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, ErrInvalidTimeOfDay
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}
