package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"keycabinet/internal/adapters/persistence/models"
	"keycabinet/internal/adapters/persistence/repositories"
	"keycabinet/internal/core/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Lending errors
var (
	ErrStoreUnavailable = errors.New("operation failed, please retry")
)

// RequestMeta identifies who and what issued a request, for the audit trail
type RequestMeta struct {
	KioskID   *uint
	ActorID   *uint
	RequestID string
	IPAddress string
}

// LendingService is the transactional core: borrow, return and custody moves
type LendingService struct {
	uow      repositories.UnitOfWork
	resolver *EligibilityResolver
	events   EventPublisher
	notifier *NotificationService
	tracer   trace.Tracer
}

// NewLendingService creates a new lending service
func NewLendingService(uow repositories.UnitOfWork, resolver *EligibilityResolver, events EventPublisher, notifier *NotificationService) *LendingService {
	if events == nil {
		events = NopPublisher{}
	}
	return &LendingService{
		uow:      uow,
		resolver: resolver,
		events:   events,
		notifier: notifier,
		tracer:   otel.Tracer("keycabinet/lending"),
	}
}

// ============================================================
// Results
// ============================================================

// LendingData is the data part of a kiosk result
type LendingData struct {
	BookingID     uint      `json:"booking_id"`
	RoomCode      string    `json:"room_code"`
	SlotNumber    int       `json:"slot_number"`
	DueAt         time.Time `json:"due_at"`
	LateMinutes   *int      `json:"late_minutes,omitempty"`
	PenaltyScore  *int      `json:"penalty_score,omitempty"`
	StandingScore *int      `json:"standing_score,omitempty"`
	Suspended     *bool     `json:"is_suspended,omitempty"`
}

// ActiveBookingView is the presenter's current custody, for display
type ActiveBookingView struct {
	BookingID      uint      `json:"booking_id"`
	RoomCode       string    `json:"room_code"`
	SlotNumber     int       `json:"slot_number"`
	BorrowAt       time.Time `json:"borrow_at"`
	DueAt          time.Time `json:"due_at"`
	IsOverdue      bool      `json:"is_overdue"`
	OverdueMinutes int       `json:"overdue_minutes"`
}

// IdentifyResult is the eligibility summary shown after a scan
type IdentifyResult struct {
	User          *models.UserResponse `json:"user"`
	ActiveBooking *ActiveBookingView   `json:"active_booking,omitempty"`
	EligibleRooms []string             `json:"eligible_rooms"`
}

// RoomAvailability is one row of the kiosk room list
type RoomAvailability struct {
	RoomCode  string `json:"room_code"`
	Name      string `json:"name"`
	Building  string `json:"building"`
	TotalKeys int    `json:"total_keys"`
	FreeKeys  int    `json:"free_keys"`
	Reserved  bool   `json:"reserved_now"`
}

// ============================================================
// KIOSK - Borrow / Return
// ============================================================

// Borrow hands a room's key to the presenter. Eligibility is re-run inside
// the same transaction as the mutation.
func (s *LendingService) Borrow(ctx context.Context, code, roomCode string, now time.Time, meta RequestMeta) (*LendingData, error) {
	now = now.UTC() // stored instants are UTC
	ctx, span := s.tracer.Start(ctx, "LendingService.Borrow",
		trace.WithAttributes(attribute.String("room.code", roomCode)))
	defer span.End()

	var (
		data    *LendingData
		user    models.User
		nominal *uint
	)

	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		data = nil

		// 1. Resolve eligibility (locks user, reservation and key rows)
		decision, err := s.resolver.ResolveBorrowEligibility(ctx, st, code, roomCode, now)
		if err != nil {
			return err
		}
		user = *decision.User

		// 2. Claim the reservation or open an ad-hoc booking
		var bookingID uint
		source := domain.SourceAdhoc
		if res := decision.Reservation; res != nil {
			source = domain.SourceSchedule
			nominal = res.NominalOwnerID
			if nominal == nil {
				owner := res.UserID
				nominal = &owner
			}

			ok, err := st.Bookings.Transition(ctx, res.ID, string(domain.BookingReserved), map[string]interface{}{
				"status":           string(domain.BookingBorrowed),
				"user_id":          user.ID,
				"borrow_at":        now,
				"nominal_owner_id": *nominal,
			})
			if err != nil {
				return err
			}
			if !ok {
				return domain.NewLendingError(domain.KindKeyUnavailable, domain.ReasonKeyUnavailable)
			}
			bookingID = res.ID
		} else {
			nominal = nil
			b := &models.Booking{
				UserID:   user.ID,
				KeyID:    decision.Key.ID,
				Source:   string(domain.SourceAdhoc),
				BorrowAt: now,
				DueAt:    decision.DueAt,
				Status:   string(domain.BookingBorrowed),
			}
			if err := st.Bookings.Create(ctx, b); err != nil {
				return err
			}
			bookingID = b.ID
		}

		// 3. Audit
		if err := st.Audit.Append(ctx, repositories.AuditEntry{
			Action:    string(domain.ActionBorrowKey),
			UserID:    &user.ID,
			ActorID:   meta.ActorID,
			KioskID:   meta.KioskID,
			RequestID: meta.RequestID,
			IPAddress: meta.IPAddress,
			Detail: map[string]interface{}{
				"booking_id":       bookingID,
				"room_code":        decision.Key.RoomCode,
				"slot_number":      decision.Key.SlotNumber,
				"due_at":           decision.DueAt,
				"source":           source,
				"strategy":         decision.Strategy,
				"nominal_owner_id": nominal,
			},
		}); err != nil {
			return err
		}

		data = &LendingData{
			BookingID:  bookingID,
			RoomCode:   decision.Key.RoomCode,
			SlotNumber: decision.Key.SlotNumber,
			DueAt:      decision.DueAt,
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(span, "Borrow", err)
	}

	log.Printf("✅ Key borrowed: room=%s slot=%d user=%s booking=%d", data.RoomCode, data.SlotNumber, user.Code, data.BookingID)
	publish(ctx, s.events, LendingEvent{
		Type:       EventKeyBorrowed,
		BookingID:  data.BookingID,
		UserID:     user.ID,
		UserCode:   user.Code,
		RoomCode:   data.RoomCode,
		SlotNumber: data.SlotNumber,
		DueAt:      data.DueAt,
		Score:      user.StandingScore,
		OccurredAt: now,
	})
	return data, nil
}

// ReturnKey closes the presenter's active booking. Lateness, the booking
// update, the score cut and both logs commit together.
func (s *LendingService) ReturnKey(ctx context.Context, code string, now time.Time, meta RequestMeta) (*LendingData, error) {
	now = now.UTC()
	ctx, span := s.tracer.Start(ctx, "LendingService.ReturnKey")
	defer span.End()

	var (
		data     *LendingData
		user     models.User
		standing domain.Standing
	)

	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		data = nil
		standing = domain.Standing{}

		// 1. Active booking for the presenter
		decision, err := s.resolver.ResolveReturnEligibility(ctx, st, code, now)
		if err != nil {
			return err
		}
		user = *decision.User
		b := decision.Booking

		// 2. Rules read once inside this transaction
		rules, err := loadPenaltyRules(ctx, st)
		if err != nil {
			return err
		}
		verdict := ComputePenalty(b.BorrowAt, b.DueAt, now, rules)

		status := domain.BookingReturned
		if verdict.IsLate {
			status = domain.BookingLate
		}

		// 3. Close the booking
		ok, err := st.Bookings.Transition(ctx, b.ID, string(domain.BookingBorrowed), map[string]interface{}{
			"status":        string(status),
			"return_at":     now,
			"late_minutes":  verdict.LateMinutes,
			"penalty_score": verdict.PenaltyScore,
		})
		if err != nil {
			return err
		}
		if !ok {
			return domain.NewLendingError(domain.KindInvalidTransition, domain.ReasonInvalidTransition)
		}

		// 4. Score cut, penalty log, suspension
		standing = domain.Standing{Score: user.StandingScore, Suspended: user.IsSuspended}
		if verdict.PenaltyScore > 0 {
			standing, err = applyPenalty(ctx, st, &user, verdict.PenaltyScore, domain.PenaltyLateReturn, &b.ID,
				fmt.Sprintf("late return %d min (booking #%d)", verdict.LateMinutes, b.ID), nil, now, meta)
			if err != nil {
				return err
			}
		}

		roomCode, slot := "", 0
		if b.Key != nil {
			roomCode, slot = b.Key.RoomCode, b.Key.SlotNumber
		}

		// 5. Audit
		if err := st.Audit.Append(ctx, repositories.AuditEntry{
			Action:    string(domain.ActionReturnKey),
			UserID:    &user.ID,
			ActorID:   meta.ActorID,
			KioskID:   meta.KioskID,
			RequestID: meta.RequestID,
			IPAddress: meta.IPAddress,
			Detail: map[string]interface{}{
				"booking_id":     b.ID,
				"room_code":      roomCode,
				"slot_number":    slot,
				"status":         status,
				"late_minutes":   verdict.LateMinutes,
				"penalty_score":  verdict.PenaltyScore,
				"standing_score": standing.Score,
				"config_id":      rules.ConfigID,
			},
		}); err != nil {
			return err
		}

		late, penalty, score, suspended := verdict.LateMinutes, verdict.PenaltyScore, standing.Score, standing.Suspended
		data = &LendingData{
			BookingID:     b.ID,
			RoomCode:      roomCode,
			SlotNumber:    slot,
			DueAt:         b.DueAt,
			LateMinutes:   &late,
			PenaltyScore:  &penalty,
			StandingScore: &score,
			Suspended:     &suspended,
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(span, "ReturnKey", err)
	}

	log.Printf("✅ Key returned: room=%s slot=%d user=%s late=%dmin penalty=%d", data.RoomCode, data.SlotNumber, user.Code, *data.LateMinutes, *data.PenaltyScore)
	publish(ctx, s.events, LendingEvent{
		Type:         EventKeyReturned,
		BookingID:    data.BookingID,
		UserID:       user.ID,
		UserCode:     user.Code,
		RoomCode:     data.RoomCode,
		SlotNumber:   data.SlotNumber,
		DueAt:        data.DueAt,
		LateMinutes:  *data.LateMinutes,
		PenaltyScore: *data.PenaltyScore,
		Score:        standing.Score,
		OccurredAt:   now,
	})
	if standing.NewlyBanned {
		s.announceSuspension(ctx, &user, standing.Score, now)
	}
	return data, nil
}

// Identify returns the presenter's standing, custody and borrowable rooms
func (s *LendingService) Identify(ctx context.Context, code string, now time.Time) (*IdentifyResult, error) {
	now = now.UTC()
	var result *IdentifyResult

	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		user, err := s.resolver.LookupIdentity(ctx, st, code)
		if err != nil {
			return err
		}

		result = &IdentifyResult{User: user.ToResponse(), EligibleRooms: []string{}}

		active, err := st.Bookings.FindActiveForUser(ctx, user.ID)
		if err != nil {
			return err
		}
		if active != nil {
			view := &ActiveBookingView{
				BookingID:      active.ID,
				BorrowAt:       active.BorrowAt,
				DueAt:          active.DueAt,
				OverdueMinutes: OverdueMinutes(active.DueAt, now),
			}
			view.IsOverdue = view.OverdueMinutes > 0
			if active.Key != nil {
				view.RoomCode, view.SlotNumber = active.Key.RoomCode, active.Key.SlotNumber
			}
			result.ActiveBooking = view
			return nil
		}

		rooms, err := s.resolver.EligibleRooms(ctx, st, user, now)
		if err != nil {
			return err
		}
		result.EligibleRooms = rooms
		return nil
	})
	if err != nil {
		return nil, s.fail(nil, "Identify", err)
	}
	return result, nil
}

// ListAvailableRooms lists active rooms with their key counts at now
func (s *LendingService) ListAvailableRooms(ctx context.Context, now time.Time) ([]RoomAvailability, error) {
	now = now.UTC()
	var out []RoomAvailability

	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		out = []RoomAvailability{}

		rooms, err := st.Keys.ListActiveRooms(ctx)
		if err != nil {
			return err
		}
		keys, err := st.Keys.ListActive(ctx)
		if err != nil {
			return err
		}
		borrowedIDs, err := st.Bookings.ListBorrowedKeyIDs(ctx)
		if err != nil {
			return err
		}
		borrowed := make(map[uint]bool, len(borrowedIDs))
		for _, id := range borrowedIDs {
			borrowed[id] = true
		}

		byRoom := make(map[string][]models.Key)
		for _, k := range keys {
			byRoom[k.RoomCode] = append(byRoom[k.RoomCode], k)
		}

		for _, room := range rooms {
			ra := RoomAvailability{RoomCode: room.Code, Name: room.Name, Building: room.Building}
			for _, k := range byRoom[room.Code] {
				ra.TotalKeys++
				if borrowed[k.ID] {
					continue
				}
				ra.FreeKeys++
				reserved, err := st.Bookings.HasOverlap(ctx, k.ID, now, now.Add(time.Second), 0)
				if err != nil {
					return err
				}
				if reserved {
					ra.Reserved = true
				}
			}
			if ra.FreeKeys > 0 {
				out = append(out, ra)
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(nil, "ListAvailableRooms", err)
	}
	return out, nil
}

// ============================================================
// Shared helpers
// ============================================================

// loadPenaltyRules reads the active config, falling back to defaults
func loadPenaltyRules(ctx context.Context, st *repositories.Stores) (domain.PenaltyRules, error) {
	cfg, err := st.Penalties.GetActiveConfig(ctx)
	if err != nil {
		return domain.PenaltyRules{}, err
	}
	if cfg == nil {
		log.Printf("⚠️ %v: no active penalty config, using defaults", domain.ErrPenaltyConfigMissing)
		return domain.DefaultPenaltyRules(), nil
	}
	return normalizeRules(domain.PenaltyRules{
		ConfigID:         &cfg.ID,
		GraceMinutes:     cfg.GraceMinutes,
		IntervalMinutes:  cfg.IntervalMinutes,
		ScorePerInterval: cfg.ScorePerInterval,
		RestoreDays:      cfg.RestoreDays,
	}), nil
}

// applyPenalty cuts a locked user's score, appends the penalty log and,
// when the score hits the floor, suspends the user and audits USER_BANNED.
// user is updated in place.
func applyPenalty(ctx context.Context, st *repositories.Stores, user *models.User, cut int, kind domain.PenaltyType, bookingID *uint, reason string, createdBy *uint, now time.Time, meta RequestMeta) (domain.Standing, error) {
	standing := domain.ApplyScoreCut(user.StandingScore, user.IsSuspended, cut)

	suspendedAt := user.SuspendedAt
	if standing.NewlyBanned {
		suspendedAt = &now
	}
	if err := st.Users.UpdateStanding(ctx, user.ID, standing.Score, standing.Suspended, suspendedAt); err != nil {
		return standing, err
	}

	if err := st.Penalties.AppendLog(ctx, &models.PenaltyLog{
		UserID:     user.ID,
		BookingID:  bookingID,
		Type:       string(kind),
		ScoreCut:   cut,
		ScoreAfter: standing.Score,
		Reason:     reason,
		CreatedBy:  createdBy,
		CreatedAt:  now,
	}); err != nil {
		return standing, err
	}

	if standing.NewlyBanned {
		if err := st.Audit.Append(ctx, repositories.AuditEntry{
			Action:    string(domain.ActionUserBanned),
			UserID:    &user.ID,
			ActorID:   meta.ActorID,
			KioskID:   meta.KioskID,
			RequestID: meta.RequestID,
			IPAddress: meta.IPAddress,
			Detail: map[string]interface{}{
				"reason":         "standing score reached zero",
				"penalty_type":   kind,
				"booking_id":     bookingID,
				"standing_score": standing.Score,
			},
		}); err != nil {
			return standing, err
		}
	}

	user.StandingScore = standing.Score
	user.IsSuspended = standing.Suspended
	user.SuspendedAt = suspendedAt
	return standing, nil
}

// announceSuspension publishes and notifies a fresh suspension
func (s *LendingService) announceSuspension(ctx context.Context, user *models.User, score int, now time.Time) {
	log.Printf("⚠️ User suspended: %s score=%d", user.Code, score)
	publish(ctx, s.events, LendingEvent{
		Type:       EventUserSuspended,
		UserID:     user.ID,
		UserCode:   user.Code,
		Score:      score,
		OccurredAt: now,
	})
	if s.notifier != nil {
		s.notifier.NotifyUserSuspended(user.Code, user.FullName, score)
	}
}

// fail maps a unit-of-work error to what callers see.
// Lending failures pass through; exhausted retries become ErrStoreUnavailable.
func (s *LendingService) fail(span trace.Span, op string, err error) error {
	if le, ok := domain.AsLendingError(err); ok {
		if span != nil {
			span.SetAttributes(attribute.String("lending.reason", le.Reason))
		}
		return le
	}

	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if errors.Is(err, repositories.ErrRetriesExhausted) ||
		errors.Is(err, context.DeadlineExceeded) ||
		repositories.IsRetryable(err) {
		log.Printf("❌ %s: store unavailable: %v", op, err)
		return ErrStoreUnavailable
	}
	log.Printf("❌ %s failed: %v", op, err)
	return fmt.Errorf("%s: %w", op, err)
}
