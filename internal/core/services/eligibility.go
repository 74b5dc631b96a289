package services

import (
	"context"
	"errors"
	"time"

	"keycabinet/internal/adapters/persistence/models"
	"keycabinet/internal/adapters/persistence/repositories"
	"keycabinet/internal/core/domain"

	"gorm.io/gorm"
)

// ============================================================
// Authorization Strategies
// ============================================================

// Authorizer decides whether user may claim a room's key at now.
// reservation is nil on the ad-hoc path.
type Authorizer interface {
	Name() string
	Authorize(ctx context.Context, s *repositories.Stores, user *models.User, roomCode string, reservation *models.Booking, now time.Time) (bool, error)
}

// OwnerStrategy authorizes the reservation's nominal owner
type OwnerStrategy struct{}

func (OwnerStrategy) Name() string { return "OWNER" }

func (OwnerStrategy) Authorize(_ context.Context, _ *repositories.Stores, user *models.User, _ string, reservation *models.Booking, _ time.Time) (bool, error) {
	if reservation == nil {
		return false, nil
	}
	if reservation.NominalOwnerID != nil {
		return *reservation.NominalOwnerID == user.ID, nil
	}
	return reservation.UserID == user.ID, nil
}

// RosterStrategy authorizes students enrolled in the schedule slot that
// matches the reservation's subject, room, weekday and a window containing now.
type RosterStrategy struct {
	Location     *time.Location
	EarlyMinutes int
}

func (RosterStrategy) Name() string { return "ROSTER" }

func (r RosterStrategy) Authorize(ctx context.Context, s *repositories.Stores, user *models.User, roomCode string, reservation *models.Booking, now time.Time) (bool, error) {
	if reservation == nil || reservation.SubjectID == nil {
		return false, nil
	}

	slot, err := FindScheduleSlot(ctx, s, *reservation.SubjectID, roomCode, now, r.Location, r.EarlyMinutes)
	if err != nil || slot == nil {
		return false, err
	}
	return s.Schedules.IsEnrolled(ctx, slot.ID, user.ID)
}

// OverrideStrategy authorizes holders of a staff-issued access grant
type OverrideStrategy struct{}

func (OverrideStrategy) Name() string { return "OVERRIDE" }

func (OverrideStrategy) Authorize(ctx context.Context, s *repositories.Stores, user *models.User, roomCode string, _ *models.Booking, now time.Time) (bool, error) {
	return s.Overrides.HasValidGrant(ctx, user.ID, roomCode, now)
}

// FindScheduleSlot returns the active schedule for subject+room on now's
// weekday whose [start-early, end) window contains now, or nil
func FindScheduleSlot(ctx context.Context, s *repositories.Stores, subjectID uint, roomCode string, now time.Time, loc *time.Location, earlyMinutes int) (*models.Schedule, error) {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)

	candidates, err := s.Schedules.ListCandidates(ctx, subjectID, roomCode, int(local.Weekday()))
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		start, err := domain.ParseTimeOfDay(candidates[i].StartTime)
		if err != nil {
			continue
		}
		end, err := domain.ParseTimeOfDay(candidates[i].EndTime)
		if err != nil {
			continue
		}
		from := start.On(local, loc).Add(-time.Duration(earlyMinutes) * time.Minute)
		to := end.On(local, loc)
		if !local.Before(from) && local.Before(to) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

// ============================================================
// Eligibility Resolver
// ============================================================

// AdhocPolicy controls borrowing without a reservation
type AdhocPolicy struct {
	Enabled bool
	Minutes int
}

// BorrowDecision is a positive borrow eligibility outcome
type BorrowDecision struct {
	User        *models.User
	Key         *models.Key
	Reservation *models.Booking // nil on the ad-hoc path
	Strategy    string
	DueAt       time.Time
}

// ReturnDecision is a positive return eligibility outcome
type ReturnDecision struct {
	User           *models.User
	Booking        *models.Booking
	IsOverdue      bool
	OverdueMinutes int
}

// EligibilityResolver decides whether an identity may move a key now.
// Every method runs against Stores bound to the caller's transaction.
type EligibilityResolver struct {
	strategies []Authorizer
	override   Authorizer
	adhoc      AdhocPolicy
	early      time.Duration
}

// NewEligibilityResolver creates a resolver with the given strategies.
// The override strategy also gates the ad-hoc path.
func NewEligibilityResolver(adhoc AdhocPolicy, strategies ...Authorizer) *EligibilityResolver {
	r := &EligibilityResolver{strategies: strategies, adhoc: adhoc}
	for _, st := range strategies {
		if _, ok := st.(OverrideStrategy); ok {
			r.override = st
		}
	}
	if r.adhoc.Minutes <= 0 {
		r.adhoc.Minutes = 60
	}
	return r
}

// WithEarlyPickup lets a reservation be claimed up to minutes before it starts.
// The due time stays the reservation's end.
func (r *EligibilityResolver) WithEarlyPickup(minutes int) *EligibilityResolver {
	if minutes < 0 {
		minutes = 0
	}
	r.early = time.Duration(minutes) * time.Minute
	return r
}

// ResolveIdentity finds exactly one user for code and locks the row
func (r *EligibilityResolver) ResolveIdentity(ctx context.Context, s *repositories.Stores, code string) (*models.User, error) {
	user, err := r.LookupIdentity(ctx, s, code)
	if err != nil {
		return nil, err
	}
	return s.Users.LockByID(ctx, user.ID)
}

// LookupIdentity finds exactly one user for code without locking
func (r *EligibilityResolver) LookupIdentity(ctx context.Context, s *repositories.Stores, code string) (*models.User, error) {
	users, err := s.Users.FindByIdentity(ctx, code)
	if err != nil {
		return nil, err
	}
	switch len(users) {
	case 0:
		return nil, domain.NewLendingError(domain.KindNotFound, domain.ReasonIdentityNotFound)
	case 1:
		return users[0], nil
	default:
		return nil, domain.NewLendingError(domain.KindNotFound, domain.ReasonIdentityAmbiguous)
	}
}

// ResolveBorrowEligibility runs the borrow checks in order and stops at the
// first failure, which is returned as *domain.LendingError.
func (r *EligibilityResolver) ResolveBorrowEligibility(ctx context.Context, s *repositories.Stores, code, roomCode string, now time.Time) (*BorrowDecision, error) {
	// 1. Identity exists and is not suspended
	user, err := r.ResolveIdentity(ctx, s, code)
	if err != nil {
		return nil, err
	}
	if user.IsSuspended {
		return nil, domain.NewLendingError(domain.KindSuspended, domain.ReasonIdentitySuspended)
	}

	// 2. No key already held
	active, err := s.Bookings.FindActiveForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, domain.NewLendingError(domain.KindAlreadyHolding, domain.ReasonAlreadyHolding)
	}

	// 3-4. Reservation covering now that the presenter is authorized for
	return r.resolveRoom(ctx, s, user, roomCode, now, true)
}

// resolveRoom runs steps 3-4 for one room. With lock the reservation and key
// rows it reads are locked FOR UPDATE; without it the result is advisory.
func (r *EligibilityResolver) resolveRoom(ctx context.Context, s *repositories.Stores, user *models.User, roomCode string, now time.Time, lock bool) (*BorrowDecision, error) {
	room, err := s.Keys.GetRoomByCode(ctx, roomCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewLendingError(domain.KindNotFound, domain.ReasonRoomNotFound)
		}
		return nil, err
	}
	if !room.IsActive {
		return nil, domain.NewLendingError(domain.KindNotFound, domain.ReasonRoomNotFound)
	}

	reservations, err := s.Bookings.ListReservationsForRoomAtTime(ctx, roomCode, now, r.early, lock)
	if err != nil {
		return nil, err
	}

	if len(reservations) > 0 {
		authorizedButBusy := false
		for i := range reservations {
			res := &reservations[i]
			strategy, err := r.authorize(ctx, s, user, roomCode, res, now)
			if err != nil {
				return nil, err
			}
			if strategy == "" {
				continue
			}

			key, free, err := r.keyState(ctx, s, res.KeyID, lock)
			if err != nil {
				return nil, err
			}
			if !free {
				authorizedButBusy = true
				continue
			}
			return &BorrowDecision{
				User:        user,
				Key:         key,
				Reservation: res,
				Strategy:    strategy,
				DueAt:       res.DueAt,
			}, nil
		}
		if authorizedButBusy {
			return nil, domain.NewLendingError(domain.KindKeyUnavailable, domain.ReasonKeyUnavailable)
		}
		return nil, domain.NewLendingError(domain.KindNotAuthorized, domain.ReasonNotAuthorized)
	}

	return r.resolveAdhoc(ctx, s, user, roomCode, now, lock)
}

// resolveAdhoc handles a room with no reservation covering now
func (r *EligibilityResolver) resolveAdhoc(ctx context.Context, s *repositories.Stores, user *models.User, roomCode string, now time.Time, lock bool) (*BorrowDecision, error) {
	allowed := r.adhoc.Enabled && domain.Role(user.Role).CanBorrowAdhoc()
	strategy := "ADHOC"
	if !allowed && r.override != nil {
		ok, err := r.override.Authorize(ctx, s, user, roomCode, nil, now)
		if err != nil {
			return nil, err
		}
		allowed = ok
		strategy = r.override.Name()
	}
	if !allowed {
		return nil, domain.NewLendingError(domain.KindNotAuthorized, domain.ReasonNoReservation)
	}

	keys, err := s.Keys.ListActiveByRoom(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, domain.NewLendingError(domain.KindNotFound, domain.ReasonNoFreeKey)
	}

	anyOut := false
	for i := range keys {
		key, free, err := r.keyState(ctx, s, keys[i].ID, lock)
		if err != nil {
			return nil, err
		}
		if !free {
			anyOut = true
			continue
		}

		// A reservation starting right now on this key belongs to someone else
		busy, err := s.Bookings.HasOverlap(ctx, key.ID, now, now.Add(time.Minute), 0)
		if err != nil {
			return nil, err
		}
		if busy {
			continue
		}

		due := now.Add(time.Duration(r.adhoc.Minutes) * time.Minute)
		next, err := s.Bookings.NextReservationAfter(ctx, key.ID, now)
		if err != nil {
			return nil, err
		}
		if next != nil && next.BorrowAt.Before(due) {
			due = next.BorrowAt
		}
		return &BorrowDecision{User: user, Key: key, Strategy: strategy, DueAt: due}, nil
	}

	if anyOut {
		return nil, domain.NewLendingError(domain.KindKeyUnavailable, domain.ReasonKeyUnavailable)
	}
	return nil, domain.NewLendingError(domain.KindKeyUnavailable, domain.ReasonNoFreeKey)
}

// authorize returns the name of the first strategy that accepts, or ""
func (r *EligibilityResolver) authorize(ctx context.Context, s *repositories.Stores, user *models.User, roomCode string, res *models.Booking, now time.Time) (string, error) {
	for _, st := range r.strategies {
		ok, err := st.Authorize(ctx, s, user, roomCode, res, now)
		if err != nil {
			return "", err
		}
		if ok {
			return st.Name(), nil
		}
	}
	return "", nil
}

// keyState reads the key row, locked when lock is set, and reports whether
// it is in the cabinet
func (r *EligibilityResolver) keyState(ctx context.Context, s *repositories.Stores, keyID uint, lock bool) (*models.Key, bool, error) {
	get := s.Keys.GetByID
	if lock {
		get = s.Keys.LockByID
	}
	key, err := get(ctx, keyID)
	if err != nil {
		return nil, false, err
	}
	if !key.IsActive {
		return key, false, nil
	}
	holder, err := s.Bookings.FindActiveForKey(ctx, key.ID)
	if err != nil {
		return nil, false, err
	}
	return key, holder == nil, nil
}

// ResolveReturnEligibility requires one active booking for the identity.
// Overdue values are for display; lateness is recomputed at commit.
func (r *EligibilityResolver) ResolveReturnEligibility(ctx context.Context, s *repositories.Stores, code string, now time.Time) (*ReturnDecision, error) {
	user, err := r.ResolveIdentity(ctx, s, code)
	if err != nil {
		return nil, err
	}

	active, err := s.Bookings.FindActiveForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, domain.NewLendingError(domain.KindNotFound, domain.ReasonNoActiveBooking)
	}

	overdue := OverdueMinutes(active.DueAt, now)
	return &ReturnDecision{
		User:           user,
		Booking:        active,
		IsOverdue:      overdue > 0,
		OverdueMinutes: overdue,
	}, nil
}

// EligibleRooms lists the rooms user could borrow from at now.
// Rooms failing any check are skipped. Nothing is locked.
func (r *EligibilityResolver) EligibleRooms(ctx context.Context, s *repositories.Stores, user *models.User, now time.Time) ([]string, error) {
	if user.IsSuspended {
		return []string{}, nil
	}
	active, err := s.Bookings.FindActiveForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return []string{}, nil
	}

	rooms, err := s.Keys.ListActiveRooms(ctx)
	if err != nil {
		return nil, err
	}

	codes := []string{}
	for _, room := range rooms {
		if _, err := r.resolveRoom(ctx, s, user, room.Code, now, false); err != nil {
			if _, ok := domain.AsLendingError(err); ok {
				continue
			}
			return nil, err
		}
		codes = append(codes, room.Code)
	}
	return codes, nil
}
