package services

import (
	"context"
	"errors"
	"log"
	"time"

	"keycabinet/internal/adapters/persistence/models"
	"keycabinet/internal/adapters/persistence/repositories"
	"keycabinet/internal/core/domain"
)

// MaterializeSummary reports one materialization run
type MaterializeSummary struct {
	Date            string `json:"date"`
	Schedules       int    `json:"schedules"`
	Created         int    `json:"created"`
	SkippedExisting int    `json:"skipped_existing"`
	SkippedNoKey    int    `json:"skipped_no_key"`
	SkippedInvalid  int    `json:"skipped_invalid"`
}

// ReservationService expands weekly schedules into RESERVED bookings
type ReservationService struct {
	uow repositories.UnitOfWork
	loc *time.Location
}

// NewReservationService creates a new reservation service
func NewReservationService(uow repositories.UnitOfWork, loc *time.Location) *ReservationService {
	if loc == nil {
		loc = time.Local
	}
	return &ReservationService{uow: uow, loc: loc}
}

// Location returns the timezone schedules are interpreted in
func (s *ReservationService) Location() *time.Location {
	return s.loc
}

// Materialize creates the reservations for date's weekday. Running it twice
// for the same date creates nothing the second time.
func (s *ReservationService) Materialize(ctx context.Context, date time.Time) (*MaterializeSummary, error) {
	day := date.In(s.loc)
	sum := &MaterializeSummary{Date: day.Format("2006-01-02")}

	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		*sum = MaterializeSummary{Date: sum.Date}

		schedules, err := st.Schedules.LockActiveByDay(ctx, int(day.Weekday()))
		if err != nil {
			return err
		}
		sum.Schedules = len(schedules)

		for i := range schedules {
			sc := &schedules[i]

			// 1. Slot window on this date
			start, err1 := domain.ParseTimeOfDay(sc.StartTime)
			end, err2 := domain.ParseTimeOfDay(sc.EndTime)
			if err1 != nil || err2 != nil || end.Minutes() <= start.Minutes() {
				log.Printf("⚠️ Schedule #%d has invalid time window %s-%s", sc.ID, sc.StartTime, sc.EndTime)
				sum.SkippedInvalid++
				continue
			}
			from, to := start.On(day, s.loc).UTC(), end.On(day, s.loc).UTC()

			// 2. Already materialized
			exists, err := st.Bookings.ExistsForSchedule(ctx, sc.ID, to)
			if err != nil {
				return err
			}
			if exists {
				sum.SkippedExisting++
				continue
			}

			// 3. A key of the room with nothing overlapping
			keys, err := st.Keys.ListActiveByRoom(ctx, sc.RoomCode)
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				log.Printf("⚠️ Room %s has no active key, schedule #%d skipped", sc.RoomCode, sc.ID)
				sum.SkippedNoKey++
				continue
			}

			var keyID uint
			for _, k := range keys {
				overlap, err := st.Bookings.HasOverlap(ctx, k.ID, from, to, 0)
				if err != nil {
					return err
				}
				if !overlap {
					keyID = k.ID
					break
				}
			}
			if keyID == 0 {
				sum.SkippedExisting++
				continue
			}

			// 4. Reserve for the owning teacher
			subjectID, scheduleID, owner := sc.SubjectID, sc.ID, sc.TeacherID
			created, err := st.Bookings.CreateReservation(ctx, &models.Booking{
				UserID:         sc.TeacherID,
				KeyID:          keyID,
				SubjectID:      &subjectID,
				ScheduleID:     &scheduleID,
				NominalOwnerID: &owner,
				Source:         string(domain.SourceSchedule),
				BorrowAt:       from,
				DueAt:          to,
				Status:         string(domain.BookingReserved),
			})
			if err != nil {
				return err
			}
			if !created {
				sum.SkippedExisting++
				continue
			}
			sum.Created++
		}
		return nil
	})
	if err != nil {
		log.Printf("❌ Materialize %s failed: %v", sum.Date, err)
		if errors.Is(err, repositories.ErrRetriesExhausted) || repositories.IsRetryable(err) {
			return nil, ErrStoreUnavailable
		}
		return nil, err
	}

	log.Printf("✅ Materialized %s: %d created, %d existing, %d without key", sum.Date, sum.Created, sum.SkippedExisting, sum.SkippedNoKey)
	return sum, nil
}
