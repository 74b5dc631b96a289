package services

import (
	"context"
	"errors"
	"log"
	"time"

	"keycabinet/internal/adapters/persistence/models"
	"keycabinet/internal/adapters/persistence/repositories"
	"keycabinet/internal/core/domain"

	"gorm.io/gorm"
)

// Standing errors
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrAlreadySuspended = errors.New("user is already suspended")
	ErrNotSuspended     = errors.New("user is not suspended")
	ErrInvalidScoreCut  = errors.New("score cut must be greater than 0")
	ErrReasonRequired   = errors.New("reason is required")
	ErrOverrideNotFound = errors.New("access override not found")
	ErrInvalidOverride  = errors.New("valid_until must be after valid_from")
	ErrRoomNotFound     = errors.New("room not found")
)

// StandingService handles staff actions on user standing
type StandingService struct {
	uow      repositories.UnitOfWork
	events   EventPublisher
	notifier *NotificationService
}

// NewStandingService creates a new standing service
func NewStandingService(uow repositories.UnitOfWork, events EventPublisher, notifier *NotificationService) *StandingService {
	if events == nil {
		events = NopPublisher{}
	}
	return &StandingService{uow: uow, events: events, notifier: notifier}
}

// ============================================================
// ADMIN - Users
// ============================================================

// ListUsers lists users with pagination
func (s *StandingService) ListUsers(ctx context.Context, offset, limit int) ([]*models.User, int64, error) {
	var (
		users []*models.User
		total int64
	)
	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		var err error
		users, total, err = st.Users.List(ctx, offset, limit)
		return err
	})
	return users, total, err
}

// PenaltyHistory returns a user's penalty log
func (s *StandingService) PenaltyHistory(ctx context.Context, userID uint, offset, limit int) ([]models.PenaltyLog, int64, error) {
	var (
		logs  []models.PenaltyLog
		total int64
	)
	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		var err error
		logs, total, err = st.Penalties.ListLogsByUser(ctx, userID, offset, limit)
		return err
	})
	return logs, total, err
}

// ============================================================
// ADMIN - Ban / Unban / Manual penalty
// ============================================================

// Ban suspends a user without touching the score
func (s *StandingService) Ban(ctx context.Context, userID uint, reason string, now time.Time, meta RequestMeta) (*models.User, error) {
	now = now.UTC()
	if reason == "" {
		return nil, ErrReasonRequired
	}

	var user *models.User
	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		var err error
		user, err = lockUser(ctx, st, userID)
		if err != nil {
			return err
		}
		if user.IsSuspended {
			return ErrAlreadySuspended
		}

		if err := st.Users.UpdateStanding(ctx, user.ID, user.StandingScore, true, &now); err != nil {
			return err
		}
		user.IsSuspended, user.SuspendedAt = true, &now

		return st.Audit.Append(ctx, repositories.AuditEntry{
			Action:    string(domain.ActionUserBanned),
			UserID:    &user.ID,
			ActorID:   meta.ActorID,
			RequestID: meta.RequestID,
			IPAddress: meta.IPAddress,
			Detail:    map[string]interface{}{"reason": reason, "standing_score": user.StandingScore},
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("⚠️ User banned by staff: %s", user.Code)
	publish(ctx, s.events, LendingEvent{Type: EventUserSuspended, UserID: user.ID, UserCode: user.Code, Score: user.StandingScore, OccurredAt: now})
	if s.notifier != nil {
		s.notifier.NotifyUserSuspended(user.Code, user.FullName, user.StandingScore)
	}
	return user, nil
}

// Unban lifts a suspension. A user at score 0 is lifted to resetScore so
// the next late return does not immediately re-suspend.
func (s *StandingService) Unban(ctx context.Context, userID uint, reason string, resetScore int, now time.Time, meta RequestMeta) (*models.User, error) {
	now = now.UTC()
	if resetScore <= 0 || resetScore > domain.InitialStandingScore {
		resetScore = domain.InitialStandingScore
	}

	var user *models.User
	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		var err error
		user, err = lockUser(ctx, st, userID)
		if err != nil {
			return err
		}
		if !user.IsSuspended {
			return ErrNotSuspended
		}

		score := user.StandingScore
		if score <= domain.MinStandingScore {
			score = resetScore
		}
		if err := st.Users.UpdateStanding(ctx, user.ID, score, false, nil); err != nil {
			return err
		}
		user.StandingScore, user.IsSuspended, user.SuspendedAt = score, false, nil

		return st.Audit.Append(ctx, repositories.AuditEntry{
			Action:    string(domain.ActionUserUnbanned),
			UserID:    &user.ID,
			ActorID:   meta.ActorID,
			RequestID: meta.RequestID,
			IPAddress: meta.IPAddress,
			Detail:    map[string]interface{}{"reason": reason, "standing_score": score},
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("✅ User unbanned: %s score=%d", user.Code, user.StandingScore)
	publish(ctx, s.events, LendingEvent{Type: EventUserUnsuspended, UserID: user.ID, UserCode: user.Code, Score: user.StandingScore, OccurredAt: now})
	return user, nil
}

// ManualPenalty deducts score outside a return, with the same clamp and
// suspension rule as late returns
func (s *StandingService) ManualPenalty(ctx context.Context, userID uint, cut int, reason string, now time.Time, meta RequestMeta) (*models.User, error) {
	now = now.UTC()
	if cut <= 0 {
		return nil, ErrInvalidScoreCut
	}
	if reason == "" {
		return nil, ErrReasonRequired
	}

	var (
		user     *models.User
		standing domain.Standing
	)
	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		var err error
		user, err = lockUser(ctx, st, userID)
		if err != nil {
			return err
		}

		standing, err = applyPenalty(ctx, st, user, cut, domain.PenaltyManual, nil, reason, meta.ActorID, now, meta)
		if err != nil {
			return err
		}

		return st.Audit.Append(ctx, repositories.AuditEntry{
			Action:    string(domain.ActionManualPenalty),
			UserID:    &user.ID,
			ActorID:   meta.ActorID,
			RequestID: meta.RequestID,
			IPAddress: meta.IPAddress,
			Detail:    map[string]interface{}{"reason": reason, "score_cut": cut, "standing_score": standing.Score},
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("⚠️ Manual penalty: %s -%d -> %d", user.Code, cut, standing.Score)
	if standing.NewlyBanned {
		publish(ctx, s.events, LendingEvent{Type: EventUserSuspended, UserID: user.ID, UserCode: user.Code, Score: standing.Score, OccurredAt: now})
		if s.notifier != nil {
			s.notifier.NotifyUserSuspended(user.Code, user.FullName, standing.Score)
		}
	}
	return user, nil
}

// ============================================================
// Restore
// ============================================================

// RestoreSummary reports one restore run
type RestoreSummary struct {
	RestoreDays int `json:"restore_days"`
	Restored    int `json:"restored"`
	Unbanned    int `json:"unbanned"`
}

// Restore resets users with no penalty in the last restoreDays back to the
// initial score and lifts their suspension
func (s *StandingService) Restore(ctx context.Context, now time.Time) (*RestoreSummary, error) {
	now = now.UTC()
	sum := &RestoreSummary{}
	var unbanned []models.User

	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		*sum = RestoreSummary{}
		unbanned = nil

		rules, err := loadPenaltyRules(ctx, st)
		if err != nil {
			return err
		}
		sum.RestoreDays = rules.RestoreDays

		quietSince := now.AddDate(0, 0, -rules.RestoreDays)
		users, err := st.Users.ListForRestore(ctx, quietSince)
		if err != nil {
			return err
		}

		for _, u := range users {
			locked, err := st.Users.LockByID(ctx, u.ID)
			if err != nil {
				return err
			}
			if err := st.Users.UpdateStanding(ctx, locked.ID, domain.InitialStandingScore, false, nil); err != nil {
				return err
			}
			sum.Restored++

			if !locked.IsSuspended {
				continue
			}
			sum.Unbanned++
			if err := st.Audit.Append(ctx, repositories.AuditEntry{
				Action: string(domain.ActionUserUnbanned),
				UserID: &locked.ID,
				Detail: map[string]interface{}{
					"reason":         "standing restored",
					"restore_days":   rules.RestoreDays,
					"previous_score": locked.StandingScore,
				},
			}); err != nil {
				return err
			}
			unbanned = append(unbanned, *locked)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, u := range unbanned {
		publish(ctx, s.events, LendingEvent{Type: EventUserUnsuspended, UserID: u.ID, UserCode: u.Code, Score: domain.InitialStandingScore, OccurredAt: now})
	}
	log.Printf("✅ Standing restore: %d restored, %d unbanned", sum.Restored, sum.Unbanned)
	return sum, nil
}

// ============================================================
// ADMIN - Access overrides
// ============================================================

// OverrideInput represents a staff access grant
type OverrideInput struct {
	UserID     uint      `json:"user_id"`
	RoomCode   string    `json:"room_code"`
	ValidFrom  time.Time `json:"valid_from"`
	ValidUntil time.Time `json:"valid_until"`
	Reason     string    `json:"reason"`
}

// GrantOverride lets a user take a room's key without a roster entry
func (s *StandingService) GrantOverride(ctx context.Context, input *OverrideInput, grantedBy uint) (*models.AccessOverride, error) {
	if !input.ValidUntil.After(input.ValidFrom) {
		return nil, ErrInvalidOverride
	}

	o := &models.AccessOverride{
		UserID:     input.UserID,
		RoomCode:   input.RoomCode,
		ValidFrom:  input.ValidFrom.UTC(),
		ValidUntil: input.ValidUntil.UTC(),
		Reason:     input.Reason,
		GrantedBy:  grantedBy,
	}
	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		o.ID = 0
		if _, err := st.Users.GetByID(ctx, input.UserID); err != nil {
			return err
		}
		if _, err := st.Keys.GetRoomByCode(ctx, input.RoomCode); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoomNotFound
			}
			return err
		}
		return st.Overrides.Create(ctx, o)
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return o, nil
}

// RevokeOverride ends a grant early
func (s *StandingService) RevokeOverride(ctx context.Context, id uint, now time.Time) error {
	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		return st.Overrides.Revoke(ctx, id, now.UTC())
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrOverrideNotFound
	}
	return err
}

// ListOverrides returns grants still in force at now
func (s *StandingService) ListOverrides(ctx context.Context, now time.Time) ([]models.AccessOverride, error) {
	var list []models.AccessOverride
	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		var err error
		list, err = st.Overrides.ListActive(ctx, now.UTC())
		return err
	})
	return list, err
}

// lockUser locks a user by id, mapping a missing row to ErrUserNotFound
func lockUser(ctx context.Context, st *repositories.Stores, id uint) (*models.User, error) {
	u, err := st.Users.LockByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}
