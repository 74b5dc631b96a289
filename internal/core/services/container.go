package services

import (
	"keycabinet/internal/adapters/persistence/repositories"
	"keycabinet/internal/config"

	"gorm.io/gorm"
)

// Container holds the wired engine services shared by the HTTP server,
// the cron jobs and the operator CLI
type Container struct {
	UoW          repositories.UnitOfWork
	Kiosks       *repositories.KioskRepository
	Lending      *LendingService
	Reservations *ReservationService
	Penalties    *PenaltyConfigService
	Standing     *StandingService
	Admin        *AdminService
	Notifier     *NotificationService
	Cron         *CronService
}

// NewContainer wires every service from configuration
func NewContainer(db *gorm.DB, cfg *config.Config, events EventPublisher) *Container {
	lc := cfg.Lending
	loc := lc.Location()

	uow := repositories.NewUnitOfWork(db, repositories.UnitOfWorkOptions{
		Retries: lc.TxRetries,
		Timeout: lc.TxTimeout,
	})

	// Owner first: the nominal owner never needs a roster entry
	resolver := NewEligibilityResolver(
		AdhocPolicy{Enabled: lc.AllowAdhoc, Minutes: lc.AdhocMinutes},
		OwnerStrategy{},
		RosterStrategy{Location: loc, EarlyMinutes: lc.EarlyPickupMinutes},
		OverrideStrategy{},
	).WithEarlyPickup(lc.EarlyPickupMinutes)

	notifier := NewNotificationService(cfg.Telegram.BotToken, cfg.Telegram.StaffChatID, loc)
	reservations := NewReservationService(uow, loc)
	standing := NewStandingService(uow, events, notifier)
	admin := NewAdminService(uow)

	return &Container{
		UoW:          uow,
		Kiosks:       repositories.NewKioskRepository(db),
		Lending:      NewLendingService(uow, resolver, events, notifier),
		Reservations: reservations,
		Penalties:    NewPenaltyConfigService(uow),
		Standing:     standing,
		Admin:        admin,
		Notifier:     notifier,
		Cron: NewCronService(reservations, standing, admin, notifier, CronSchedules{
			Materialize: lc.MaterializeCron,
			Overdue:     lc.OverdueCron,
			Restore:     lc.RestoreCron,
		}),
	}
}
