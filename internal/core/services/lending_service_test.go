package services

import (
	"context"
	"sync"
	"testing"

	"keycabinet/internal/adapters/persistence/models"
	"keycabinet/internal/adapters/persistence/repositories"
	"keycabinet/internal/core/domain"
)

func TestBorrowEligibilityFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T, f *fixture)
		code   string
		room   string
		hh, mm int
		kind   domain.ErrorKind
		reason string
	}{
		{
			name: "unknown identity", code: "NOPE", room: "A101", hh: 9, mm: 5,
			kind: domain.KindNotFound, reason: domain.ReasonIdentityNotFound,
		},
		{
			name: "suspended", code: "S0001", room: "A101", hh: 9, mm: 5,
			setup: func(t *testing.T, f *fixture) { f.setScore(t, f.student.ID, 0, true) },
			kind:  domain.KindSuspended, reason: domain.ReasonIdentitySuspended,
		},
		{
			name: "unknown room", code: "S0001", room: "Z999", hh: 9, mm: 5,
			kind: domain.KindNotFound, reason: domain.ReasonRoomNotFound,
		},
		{
			name: "not on roster", code: "S0099", room: "A101", hh: 9, mm: 5,
			kind: domain.KindNotAuthorized, reason: domain.ReasonNotAuthorized,
		},
		{
			name: "before the pickup window", code: "S0001", room: "A101", hh: 8, mm: 40,
			kind: domain.KindNotAuthorized, reason: domain.ReasonNoReservation,
		},
		{
			name: "room without reservation", code: "T0001", room: "B201", hh: 9, mm: 5,
			kind: domain.KindNotAuthorized, reason: domain.ReasonNoReservation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, AdhocPolicy{})
			f.materialize(t)
			if tt.setup != nil {
				tt.setup(t, f)
			}

			_, err := f.lending.Borrow(context.Background(), tt.code, tt.room, at(tt.hh, tt.mm), RequestMeta{})
			wantKind(t, err, tt.kind, tt.reason)

			// a failed borrow leaves no trace
			var borrowed int64
			f.db.Model(&models.Booking{}).Where("status = ?", string(domain.BookingBorrowed)).Count(&borrowed)
			if borrowed != 0 {
				t.Fatalf("expected no BORROWED booking, got %d", borrowed)
			}
			if n := f.countAudit(t, domain.ActionBorrowKey); n != 0 {
				t.Fatalf("expected no BORROW_KEY audit, got %d", n)
			}
		})
	}
}

func TestBorrowByRosterStudent(t *testing.T) {
	f := newFixture(t, AdhocPolicy{})
	f.materialize(t)

	data, err := f.lending.Borrow(context.Background(), "S0001", "A101", at(9, 5), RequestMeta{RequestID: "req-1"})
	if err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	if data.RoomCode != "A101" || data.SlotNumber != 1 {
		t.Fatalf("unexpected key: %+v", data)
	}
	if !data.DueAt.Equal(at(10, 0)) {
		t.Fatalf("DueAt = %v, want %v", data.DueAt, at(10, 0))
	}

	b := f.booking(t, data.BookingID)
	if b.Status != string(domain.BookingBorrowed) {
		t.Fatalf("status = %s, want BORROWED", b.Status)
	}
	if b.UserID != f.student.ID {
		t.Fatalf("user_id = %d, want presenter %d", b.UserID, f.student.ID)
	}
	if b.NominalOwnerID == nil || *b.NominalOwnerID != f.teacher.ID {
		t.Fatalf("nominal owner should stay the teacher, got %v", b.NominalOwnerID)
	}
	if !b.BorrowAt.Equal(at(9, 5)) {
		t.Fatalf("borrow_at = %v, want pickup time", b.BorrowAt)
	}
	if n := f.countAudit(t, domain.ActionBorrowKey); n != 1 {
		t.Fatalf("expected 1 BORROW_KEY audit, got %d", n)
	}
}

func TestBorrowByOwnerAndCardUID(t *testing.T) {
	f := newFixture(t, AdhocPolicy{})
	f.materialize(t)

	uid := "04A1B2C3"
	if err := f.db.Model(&models.User{}).Where("id = ?", f.teacher.ID).Update("card_uid", uid).Error; err != nil {
		t.Fatalf("set card uid failed: %v", err)
	}

	data, err := f.lending.Borrow(context.Background(), uid, "A101", at(9, 0), RequestMeta{})
	if err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	if b := f.booking(t, data.BookingID); b.UserID != f.teacher.ID {
		t.Fatalf("user_id = %d, want teacher", b.UserID)
	}
}

func TestBorrowAlreadyHolding(t *testing.T) {
	f := newFixture(t, AdhocPolicy{Enabled: true, Minutes: 60})
	f.materialize(t)
	ctx := context.Background()

	if _, err := f.lending.Borrow(ctx, "T0001", "A101", at(9, 5), RequestMeta{}); err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	_, err := f.lending.Borrow(ctx, "T0001", "B201", at(9, 6), RequestMeta{})
	wantKind(t, err, domain.KindAlreadyHolding, domain.ReasonAlreadyHolding)
}

func TestBorrowSameKeyConcurrently(t *testing.T) {
	f := newFixture(t, AdhocPolicy{})
	f.materialize(t)

	codes := []string{"T0001", "S0001", "S0002"}
	errs := make([]error, len(codes))
	var wg sync.WaitGroup
	for i, code := range codes {
		wg.Add(1)
		go func(i int, code string) {
			defer wg.Done()
			_, errs[i] = f.lending.Borrow(context.Background(), code, "A101", at(9, 5), RequestMeta{})
		}(i, code)
	}
	wg.Wait()

	success := 0
	for _, err := range errs {
		if err == nil {
			success++
			continue
		}
		wantKind(t, err, domain.KindKeyUnavailable, domain.ReasonKeyUnavailable)
	}
	if success != 1 {
		t.Fatalf("expected exactly one successful borrow, got %d", success)
	}

	var holders int64
	f.db.Model(&models.Booking{}).
		Where("key_id = ? AND status = ?", f.keyA.ID, string(domain.BookingBorrowed)).
		Count(&holders)
	if holders != 1 {
		t.Fatalf("expected one BORROWED booking on the key, got %d", holders)
	}
}

func TestBorrowSameIdentityConcurrently(t *testing.T) {
	f := newFixture(t, AdhocPolicy{})
	f.materialize(t)

	const attempts = 4
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.lending.Borrow(context.Background(), "S0001", "A101", at(9, 5), RequestMeta{})
		}(i)
	}
	wg.Wait()

	success := 0
	for _, err := range errs {
		if err == nil {
			success++
			continue
		}
		wantKind(t, err, domain.KindAlreadyHolding, domain.ReasonAlreadyHolding)
	}
	if success != 1 {
		t.Fatalf("expected exactly one successful borrow, got %d", success)
	}
}

func TestBorrowSameIdentityDifferentRooms(t *testing.T) {
	f := newFixture(t, AdhocPolicy{})
	f.materialize(t)
	ctx := context.Background()

	// S0001 is on the A101 roster and holds a grant for B201
	if _, err := f.standing.GrantOverride(ctx, &OverrideInput{
		UserID:     f.student.ID,
		RoomCode:   "B201",
		ValidFrom:  at(8, 0),
		ValidUntil: at(12, 0),
		Reason:     "lab setup",
	}, f.teacher.ID); err != nil {
		t.Fatalf("GrantOverride failed: %v", err)
	}

	rooms := []string{"A101", "B201", "A101", "B201"}
	errs := make([]error, len(rooms))
	var wg sync.WaitGroup
	for i, room := range rooms {
		wg.Add(1)
		go func(i int, room string) {
			defer wg.Done()
			_, errs[i] = f.lending.Borrow(ctx, "S0001", room, at(9, 5), RequestMeta{})
		}(i, room)
	}
	wg.Wait()

	success := 0
	for _, err := range errs {
		if err == nil {
			success++
			continue
		}
		wantKind(t, err, domain.KindAlreadyHolding, domain.ReasonAlreadyHolding)
	}
	if success != 1 {
		t.Fatalf("expected exactly one successful borrow, got %d", success)
	}

	var held int64
	f.db.Model(&models.Booking{}).
		Where("user_id = ? AND status = ?", f.student.ID, string(domain.BookingBorrowed)).
		Count(&held)
	if held != 1 {
		t.Fatalf("expected one BORROWED booking for S0001, got %d", held)
	}
}

func TestBorrowEarlyPickup(t *testing.T) {
	tests := []struct {
		name string
		code string
		mm   int
	}{
		{"roster student", "S0001", 50},
		{"nominal owner", "T0001", 45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, AdhocPolicy{})
			f.materialize(t)

			data, err := f.lending.Borrow(context.Background(), tt.code, "A101", at(8, tt.mm), RequestMeta{})
			if err != nil {
				t.Fatalf("Borrow failed: %v", err)
			}
			if !data.DueAt.Equal(at(10, 0)) {
				t.Fatalf("DueAt = %v, want the slot end", data.DueAt)
			}
			b := f.booking(t, data.BookingID)
			if b.Source != string(domain.SourceSchedule) || b.ScheduleID == nil || *b.ScheduleID != f.schedule.ID {
				t.Fatalf("early pickup did not claim the reservation: %+v", b)
			}
		})
	}
}

func TestReadOnlyChecksTakeNoKeyLocks(t *testing.T) {
	f := newFixture(t, AdhocPolicy{})
	f.materialize(t)
	ctx := context.Background()
	locks := f.countLocks(t)

	res, err := f.lending.Identify(ctx, "T0001", at(9, 5))
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if len(res.EligibleRooms) != 1 || res.EligibleRooms[0] != "A101" {
		t.Fatalf("EligibleRooms = %v, want [A101]", res.EligibleRooms)
	}
	if got := locks(); len(got) != 0 {
		t.Fatalf("Identify took row locks: %v", got)
	}

	// no reservation and no ad-hoc right: rejected before any key is read
	_, err = f.lending.Borrow(ctx, "S0099", "B201", at(9, 5), RequestMeta{})
	wantKind(t, err, domain.KindNotAuthorized, domain.ReasonNoReservation)
	if n := locks()["room_keys"]; n != 0 {
		t.Fatalf("rejected borrow locked %d key rows", n)
	}
}

func TestReturnLateAppliesPenaltyOnce(t *testing.T) {
	f := newFixture(t, AdhocPolicy{})
	f.materialize(t)
	ctx := context.Background()

	borrowed, err := f.lending.Borrow(ctx, "S0001", "A101", at(9, 0), RequestMeta{})
	if err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}

	data, err := f.lending.ReturnKey(ctx, "S0001", at(10, 47), RequestMeta{})
	if err != nil {
		t.Fatalf("ReturnKey failed: %v", err)
	}
	if *data.LateMinutes != 17 || *data.PenaltyScore != 10 || *data.StandingScore != 90 {
		t.Fatalf("unexpected return data: late=%d penalty=%d score=%d", *data.LateMinutes, *data.PenaltyScore, *data.StandingScore)
	}

	b := f.booking(t, borrowed.BookingID)
	if b.Status != string(domain.BookingLate) || b.ReturnAt == nil {
		t.Fatalf("booking not closed as LATE: %+v", b)
	}
	if b.LateMinutes != 17 || b.PenaltyScore != 10 {
		t.Fatalf("booking late=%d penalty=%d", b.LateMinutes, b.PenaltyScore)
	}

	// second return finds nothing to close
	_, err = f.lending.ReturnKey(ctx, "S0001", at(10, 48), RequestMeta{})
	wantKind(t, err, domain.KindNotFound, domain.ReasonNoActiveBooking)

	sum, err := repositories.NewPenaltyRepository(f.db).SumLateCutsByBooking(ctx, borrowed.BookingID)
	if err != nil {
		t.Fatalf("SumLateCutsByBooking failed: %v", err)
	}
	if sum != 10 {
		t.Fatalf("penalty recorded %d, want 10", sum)
	}
	if u := f.user(t, f.student.ID); u.StandingScore != 90 || u.IsSuspended {
		t.Fatalf("user score=%d suspended=%v", u.StandingScore, u.IsSuspended)
	}
	if n := f.countAudit(t, domain.ActionReturnKey); n != 1 {
		t.Fatalf("expected 1 RETURN_KEY audit, got %d", n)
	}
}

func TestReturnWithinGrace(t *testing.T) {
	f := newFixture(t, AdhocPolicy{})
	f.materialize(t)
	ctx := context.Background()

	borrowed, err := f.lending.Borrow(ctx, "S0001", "A101", at(9, 10), RequestMeta{})
	if err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	data, err := f.lending.ReturnKey(ctx, "S0001", at(10, 30), RequestMeta{})
	if err != nil {
		t.Fatalf("ReturnKey failed: %v", err)
	}
	if *data.PenaltyScore != 0 {
		t.Fatalf("penalty = %d, want 0", *data.PenaltyScore)
	}
	if b := f.booking(t, borrowed.BookingID); b.Status != string(domain.BookingReturned) {
		t.Fatalf("status = %s, want RETURNED", b.Status)
	}

	var logs int64
	f.db.Model(&models.PenaltyLog{}).Count(&logs)
	if logs != 0 {
		t.Fatalf("expected no penalty log, got %d", logs)
	}
}

func TestReturnClampsAndSuspends(t *testing.T) {
	f := newFixture(t, AdhocPolicy{})
	f.materialize(t)
	ctx := context.Background()
	f.setScore(t, f.student.ID, 4, false)

	if _, err := f.lending.Borrow(ctx, "S0001", "A101", at(9, 5), RequestMeta{}); err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	data, err := f.lending.ReturnKey(ctx, "S0001", at(10, 31), RequestMeta{})
	if err != nil {
		t.Fatalf("ReturnKey failed: %v", err)
	}
	if *data.StandingScore != 0 || !*data.Suspended {
		t.Fatalf("expected score 0 and suspended, got %d %v", *data.StandingScore, *data.Suspended)
	}

	u := f.user(t, f.student.ID)
	if u.StandingScore != 0 || !u.IsSuspended || u.SuspendedAt == nil {
		t.Fatalf("user not suspended: %+v", u)
	}
	if n := f.countAudit(t, domain.ActionUserBanned); n != 1 {
		t.Fatalf("expected 1 USER_BANNED audit, got %d", n)
	}

	var log models.PenaltyLog
	if err := f.db.Where("user_id = ?", f.student.ID).First(&log).Error; err != nil {
		t.Fatalf("penalty log missing: %v", err)
	}
	if log.ScoreCut != 5 || log.ScoreAfter != 0 {
		t.Fatalf("penalty log cut=%d after=%d", log.ScoreCut, log.ScoreAfter)
	}

	_, err = f.lending.Borrow(ctx, "S0001", "B201", at(10, 32), RequestMeta{})
	wantKind(t, err, domain.KindSuspended, domain.ReasonIdentitySuspended)
}

func TestAdhocBorrow(t *testing.T) {
	f := newFixture(t, AdhocPolicy{Enabled: true, Minutes: 60})
	f.materialize(t)
	ctx := context.Background()

	// students never borrow without a reservation
	_, err := f.lending.Borrow(ctx, "S0001", "B201", at(11, 0), RequestMeta{})
	wantKind(t, err, domain.KindNotAuthorized, domain.ReasonNoReservation)

	data, err := f.lending.Borrow(ctx, "T0001", "B201", at(11, 0), RequestMeta{})
	if err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	if !data.DueAt.Equal(at(12, 0)) {
		t.Fatalf("DueAt = %v, want one hour later", data.DueAt)
	}
	b := f.booking(t, data.BookingID)
	if b.Source != string(domain.SourceAdhoc) || b.Status != string(domain.BookingBorrowed) {
		t.Fatalf("unexpected ad-hoc booking: source=%s status=%s", b.Source, b.Status)
	}
}

func TestAdhocDueClippedByNextReservation(t *testing.T) {
	f := newFixture(t, AdhocPolicy{Enabled: true, Minutes: 60})
	f.materialize(t)

	data, err := f.lending.Borrow(context.Background(), "T0001", "A101", at(8, 30), RequestMeta{})
	if err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	if !data.DueAt.Equal(at(9, 0)) {
		t.Fatalf("DueAt = %v, want the next reservation start", data.DueAt)
	}
}

func TestBorrowWithAccessOverride(t *testing.T) {
	f := newFixture(t, AdhocPolicy{})
	f.materialize(t)
	ctx := context.Background()

	if _, err := f.standing.GrantOverride(ctx, &OverrideInput{
		UserID:     f.outsider.ID,
		RoomCode:   "A101",
		ValidFrom:  at(8, 0),
		ValidUntil: at(12, 0),
		Reason:     "lab assistant",
	}, f.teacher.ID); err != nil {
		t.Fatalf("GrantOverride failed: %v", err)
	}

	if _, err := f.lending.Borrow(ctx, "S0099", "A101", at(9, 5), RequestMeta{}); err != nil {
		t.Fatalf("Borrow with override failed: %v", err)
	}
}

func TestIdentify(t *testing.T) {
	f := newFixture(t, AdhocPolicy{})
	f.materialize(t)
	ctx := context.Background()

	res, err := f.lending.Identify(ctx, "S0001", at(9, 5))
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if res.User.Code != "S0001" || res.ActiveBooking != nil {
		t.Fatalf("unexpected identify result: %+v", res)
	}
	if len(res.EligibleRooms) != 1 || res.EligibleRooms[0] != "A101" {
		t.Fatalf("EligibleRooms = %v, want [A101]", res.EligibleRooms)
	}

	if _, err := f.lending.Borrow(ctx, "S0001", "A101", at(9, 5), RequestMeta{}); err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	res, err = f.lending.Identify(ctx, "S0001", at(10, 10))
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if res.ActiveBooking == nil || !res.ActiveBooking.IsOverdue || res.ActiveBooking.OverdueMinutes != 10 {
		t.Fatalf("unexpected active booking: %+v", res.ActiveBooking)
	}
}

func TestListAvailableRooms(t *testing.T) {
	f := newFixture(t, AdhocPolicy{})
	f.materialize(t)
	ctx := context.Background()

	if _, err := f.lending.Borrow(ctx, "S0001", "A101", at(9, 5), RequestMeta{}); err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	rooms, err := f.lending.ListAvailableRooms(ctx, at(9, 6))
	if err != nil {
		t.Fatalf("ListAvailableRooms failed: %v", err)
	}
	if len(rooms) != 1 || rooms[0].RoomCode != "B201" || rooms[0].FreeKeys != 2 {
		t.Fatalf("unexpected rooms: %+v", rooms)
	}
}
