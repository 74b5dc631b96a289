package services

import (
	"context"
	"time"

	"keycabinet/internal/adapters/persistence/models"
	"keycabinet/internal/adapters/persistence/repositories"
)

// AdminService serves staff read views over the ledger
type AdminService struct {
	uow repositories.UnitOfWork
}

// NewAdminService creates a new admin service
func NewAdminService(uow repositories.UnitOfWork) *AdminService {
	return &AdminService{uow: uow}
}

// ListBookings returns bookings matching filter
func (s *AdminService) ListBookings(ctx context.Context, f repositories.BookingFilter, offset, limit int) ([]models.Booking, int64, error) {
	var (
		list  []models.Booking
		total int64
	)
	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		var err error
		list, total, err = st.Bookings.List(ctx, f, offset, limit)
		return err
	})
	return list, total, err
}

// ListAudit returns system log entries
func (s *AdminService) ListAudit(ctx context.Context, f repositories.AuditFilter, offset, limit int) ([]models.SystemLog, int64, error) {
	var (
		list  []models.SystemLog
		total int64
	)
	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		var err error
		list, total, err = st.Audit.List(ctx, f, offset, limit)
		return err
	})
	return list, total, err
}

// OverdueReport lists borrowed keys past due plus the grace period at now
func (s *AdminService) OverdueReport(ctx context.Context, now time.Time) ([]OverdueItem, error) {
	now = now.UTC()
	var items []OverdueItem

	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		items = []OverdueItem{}

		rules, err := loadPenaltyRules(ctx, st)
		if err != nil {
			return err
		}
		cutoff := now.Add(-time.Duration(rules.GraceMinutes) * time.Minute)

		bookings, err := st.Bookings.ListOverdue(ctx, cutoff)
		if err != nil {
			return err
		}
		for _, b := range bookings {
			it := OverdueItem{
				BookingID: b.ID,
				DueAt:     b.DueAt,
				LateMin:   OverdueMinutes(b.DueAt, now),
			}
			if b.User != nil {
				it.UserCode, it.UserName = b.User.Code, b.User.FullName
			}
			if b.Key != nil {
				it.RoomCode, it.SlotNumber = b.Key.RoomCode, b.Key.SlotNumber
			}
			items = append(items, it)
		}
		return nil
	})
	return items, err
}
