package services

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"keycabinet/internal/adapters/persistence/models"
	"keycabinet/internal/adapters/persistence/repositories"
	"keycabinet/internal/core/domain"

	"gorm.io/gorm"
)

// ============================================================
// KIOSK - Multi-party custody moves
// ============================================================

// CustodyResult describes the bookings touched by a transfer, swap or move
type CustodyResult struct {
	Bookings []LendingData `json:"bookings"`
}

// Transfer hands fromCode's borrowed key over to toCode
func (s *LendingService) Transfer(ctx context.Context, fromCode, toCode string, now time.Time, meta RequestMeta) (*CustodyResult, error) {
	now = now.UTC()
	var (
		result   *CustodyResult
		from, to models.User
	)

	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		result = nil

		users, err := lockPair(ctx, st, fromCode, toCode)
		if err != nil {
			return err
		}
		from, to = *users[0], *users[1]

		// 1. Source holds a key
		b, err := st.Bookings.FindActiveForUser(ctx, from.ID)
		if err != nil {
			return err
		}
		if b == nil {
			return domain.NewLendingError(domain.KindNotFound, domain.ReasonNoActiveBooking)
		}

		// 2. Target may hold it
		if to.IsSuspended {
			return domain.NewLendingError(domain.KindSuspended, domain.ReasonIdentitySuspended)
		}
		held, err := st.Bookings.FindActiveForUser(ctx, to.ID)
		if err != nil {
			return err
		}
		if held != nil {
			return domain.NewLendingError(domain.KindAlreadyHolding, domain.ReasonTargetHolding)
		}

		// 3. Re-point custody
		ok, err := st.Bookings.Transition(ctx, b.ID, string(domain.BookingBorrowed), map[string]interface{}{
			"user_id": to.ID,
		})
		if err != nil {
			return err
		}
		if !ok {
			return domain.NewLendingError(domain.KindInvalidTransition, domain.ReasonInvalidTransition)
		}

		if err := st.Audit.Append(ctx, repositories.AuditEntry{
			Action:    string(domain.ActionTransferKey),
			UserID:    &from.ID,
			ActorID:   meta.ActorID,
			KioskID:   meta.KioskID,
			RequestID: meta.RequestID,
			IPAddress: meta.IPAddress,
			Detail: map[string]interface{}{
				"booking_id":   b.ID,
				"from_user_id": from.ID,
				"to_user_id":   to.ID,
				"room_code":    b.Key.RoomCode,
			},
		}); err != nil {
			return err
		}

		result = &CustodyResult{Bookings: []LendingData{bookingData(b)}}
		return nil
	})
	if err != nil {
		return nil, s.fail(nil, "Transfer", err)
	}

	room := result.Bookings[0].RoomCode
	log.Printf("✅ Key transferred: room=%s %s -> %s", room, from.Code, to.Code)
	publish(ctx, s.events, LendingEvent{
		Type:       EventKeyTransferred,
		BookingID:  result.Bookings[0].BookingID,
		UserID:     to.ID,
		UserCode:   to.Code,
		RoomCode:   room,
		SlotNumber: result.Bookings[0].SlotNumber,
		DueAt:      result.Bookings[0].DueAt,
		Score:      to.StandingScore,
		OccurredAt: now,
	})
	if s.notifier != nil {
		s.notifier.NotifyCustodyChange(string(domain.ActionTransferKey), from.Code, to.Code, room)
	}
	return result, nil
}

// Swap exchanges the borrowed keys of two identities
func (s *LendingService) Swap(ctx context.Context, codeA, codeB string, now time.Time, meta RequestMeta) (*CustodyResult, error) {
	now = now.UTC()
	var (
		result *CustodyResult
		a, b   models.User
	)

	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		result = nil

		users, err := lockPair(ctx, st, codeA, codeB)
		if err != nil {
			return err
		}
		a, b = *users[0], *users[1]

		if a.IsSuspended || b.IsSuspended {
			return domain.NewLendingError(domain.KindSuspended, domain.ReasonIdentitySuspended)
		}

		ba, err := st.Bookings.FindActiveForUser(ctx, a.ID)
		if err != nil {
			return err
		}
		bb, err := st.Bookings.FindActiveForUser(ctx, b.ID)
		if err != nil {
			return err
		}
		if ba == nil || bb == nil {
			return domain.NewLendingError(domain.KindNotFound, domain.ReasonNoActiveBooking)
		}

		for _, step := range []struct {
			booking *models.Booking
			userID  uint
		}{{ba, b.ID}, {bb, a.ID}} {
			ok, err := st.Bookings.Transition(ctx, step.booking.ID, string(domain.BookingBorrowed), map[string]interface{}{
				"user_id": step.userID,
			})
			if err != nil {
				return err
			}
			if !ok {
				return domain.NewLendingError(domain.KindInvalidTransition, domain.ReasonInvalidTransition)
			}
		}

		if err := st.Audit.Append(ctx, repositories.AuditEntry{
			Action:    string(domain.ActionSwapKey),
			UserID:    &a.ID,
			ActorID:   meta.ActorID,
			KioskID:   meta.KioskID,
			RequestID: meta.RequestID,
			IPAddress: meta.IPAddress,
			Detail: map[string]interface{}{
				"user_a":    a.ID,
				"user_b":    b.ID,
				"booking_a": ba.ID,
				"booking_b": bb.ID,
				"room_a":    ba.Key.RoomCode,
				"room_b":    bb.Key.RoomCode,
			},
		}); err != nil {
			return err
		}

		result = &CustodyResult{Bookings: []LendingData{bookingData(ba), bookingData(bb)}}
		return nil
	})
	if err != nil {
		return nil, s.fail(nil, "Swap", err)
	}

	log.Printf("✅ Keys swapped: %s <-> %s", a.Code, b.Code)
	for i, holder := range []models.User{b, a} {
		publish(ctx, s.events, LendingEvent{
			Type:       EventKeyTransferred,
			BookingID:  result.Bookings[i].BookingID,
			UserID:     holder.ID,
			UserCode:   holder.Code,
			RoomCode:   result.Bookings[i].RoomCode,
			SlotNumber: result.Bookings[i].SlotNumber,
			DueAt:      result.Bookings[i].DueAt,
			Score:      holder.StandingScore,
			OccurredAt: now,
		})
	}
	if s.notifier != nil {
		s.notifier.NotifyCustodyChange(string(domain.ActionSwapKey), a.Code, b.Code,
			result.Bookings[0].RoomCode+" ⇄ "+result.Bookings[1].RoomCode)
	}
	return result, nil
}

// Move re-points the identity's current reservation to a free key of roomCode
func (s *LendingService) Move(ctx context.Context, code, roomCode string, now time.Time, meta RequestMeta) (*CustodyResult, error) {
	now = now.UTC()
	var result *CustodyResult

	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		result = nil

		user, err := s.resolver.ResolveIdentity(ctx, st, code)
		if err != nil {
			return err
		}
		if user.IsSuspended {
			return domain.NewLendingError(domain.KindSuspended, domain.ReasonIdentitySuspended)
		}

		// 1. Reservation owned by the presenter covering now
		res, err := st.Bookings.FindOwnedReservationAt(ctx, user.ID, now)
		if err != nil {
			return err
		}
		if res == nil {
			active, err := st.Bookings.FindActiveForUser(ctx, user.ID)
			if err != nil {
				return err
			}
			if active != nil {
				// a key already out of the cabinet cannot change rooms
				return domain.NewLendingError(domain.KindInvalidTransition, domain.ReasonInvalidTransition)
			}
			return domain.NewLendingError(domain.KindNotFound, domain.ReasonNoReservation)
		}

		current, err := st.Keys.GetByID(ctx, res.KeyID)
		if err != nil {
			return err
		}
		if current.RoomCode == roomCode {
			return domain.NewLendingError(domain.KindInvalidTransition, domain.ReasonInvalidTransition)
		}

		// 2. Target room
		room, err := st.Keys.GetRoomByCode(ctx, roomCode)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NewLendingError(domain.KindNotFound, domain.ReasonRoomNotFound)
			}
			return err
		}
		if !room.IsActive {
			return domain.NewLendingError(domain.KindNotFound, domain.ReasonRoomNotFound)
		}

		// 3. First key free for the whole reservation window
		keys, err := st.Keys.ListActiveByRoom(ctx, roomCode)
		if err != nil {
			return err
		}
		var target *models.Key
		for i := range keys {
			key, free, err := s.resolver.keyState(ctx, st, keys[i].ID, true)
			if err != nil {
				return err
			}
			if !free {
				continue
			}
			overlap, err := st.Bookings.HasOverlap(ctx, key.ID, res.BorrowAt, res.DueAt, res.ID)
			if err != nil {
				return err
			}
			if !overlap {
				target = key
				break
			}
		}
		if target == nil {
			return domain.NewLendingError(domain.KindKeyUnavailable, domain.ReasonNoFreeKey)
		}

		// 4. Re-point
		ok, err := st.Bookings.Transition(ctx, res.ID, string(domain.BookingReserved), map[string]interface{}{
			"key_id": target.ID,
		})
		if err != nil {
			return err
		}
		if !ok {
			return domain.NewLendingError(domain.KindInvalidTransition, domain.ReasonInvalidTransition)
		}

		if err := st.Audit.Append(ctx, repositories.AuditEntry{
			Action:    string(domain.ActionMoveReservation),
			UserID:    &user.ID,
			ActorID:   meta.ActorID,
			KioskID:   meta.KioskID,
			RequestID: meta.RequestID,
			IPAddress: meta.IPAddress,
			Detail: map[string]interface{}{
				"booking_id": res.ID,
				"from_room":  current.RoomCode,
				"from_key":   current.ID,
				"to_room":    target.RoomCode,
				"to_key":     target.ID,
			},
		}); err != nil {
			return err
		}

		res.KeyID = target.ID
		res.Key = target
		result = &CustodyResult{Bookings: []LendingData{bookingData(res)}}
		return nil
	})
	if err != nil {
		return nil, s.fail(nil, "Move", err)
	}

	log.Printf("✅ Reservation moved: booking=%d -> room=%s", result.Bookings[0].BookingID, roomCode)
	return result, nil
}

// lockPair resolves two distinct identities and locks their rows in
// ascending id order. The result keeps the argument order.
func lockPair(ctx context.Context, st *repositories.Stores, codeA, codeB string) ([2]*models.User, error) {
	var out [2]*models.User

	ids := [2]uint{}
	for i, code := range []string{codeA, codeB} {
		users, err := st.Users.FindByIdentity(ctx, code)
		if err != nil {
			return out, err
		}
		switch len(users) {
		case 0:
			return out, domain.NewLendingError(domain.KindNotFound, domain.ReasonIdentityNotFound)
		case 1:
			ids[i] = users[0].ID
		default:
			return out, domain.NewLendingError(domain.KindNotFound, domain.ReasonIdentityAmbiguous)
		}
	}
	if ids[0] == ids[1] {
		return out, domain.NewLendingError(domain.KindInvalidTransition, domain.ReasonSameIdentity)
	}

	order := []int{0, 1}
	sort.Slice(order, func(i, j int) bool { return ids[order[i]] < ids[order[j]] })
	for _, idx := range order {
		u, err := st.Users.LockByID(ctx, ids[idx])
		if err != nil {
			return out, err
		}
		out[idx] = u
	}
	return out, nil
}

// bookingData renders a booking with its key for a result
func bookingData(b *models.Booking) LendingData {
	d := LendingData{BookingID: b.ID, DueAt: b.DueAt}
	if b.Key != nil {
		d.RoomCode, d.SlotNumber = b.Key.RoomCode, b.Key.SlotNumber
	}
	return d
}
