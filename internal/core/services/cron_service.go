package services

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// CronSchedules are the cron specs of the background jobs. Empty disables a job.
type CronSchedules struct {
	Materialize string
	Overdue     string
	Restore     string
}

// CronService runs reservation materialization, the overdue watch and
// standing restoration
type CronService struct {
	cron         *cron.Cron
	reservations *ReservationService
	standing     *StandingService
	admin        *AdminService
	notifier     *NotificationService
	schedules    CronSchedules
	timeout      time.Duration
}

// NewCronService creates a new cron service
func NewCronService(reservations *ReservationService, standing *StandingService, admin *AdminService, notifier *NotificationService, schedules CronSchedules) *CronService {
	return &CronService{
		cron:         cron.New(cron.WithLocation(reservations.Location())),
		reservations: reservations,
		standing:     standing,
		admin:        admin,
		notifier:     notifier,
		schedules:    schedules,
		timeout:      2 * time.Minute,
	}
}

// Start registers the jobs and starts the scheduler
func (s *CronService) Start() error {
	jobs := []struct {
		name string
		spec string
		fn   func()
	}{
		{"materialize", s.schedules.Materialize, s.runMaterialize},
		{"overdue", s.schedules.Overdue, s.runOverdue},
		{"restore", s.schedules.Restore, s.runRestore},
	}

	for _, j := range jobs {
		if j.spec == "" {
			log.Printf("⚠️ Cron job %s disabled", j.name)
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, j.fn); err != nil {
			return err
		}
		log.Printf("✅ Cron job %s scheduled: %s", j.name, j.spec)
	}

	s.cron.Start()
	log.Println("🚀 CronService started")
	return nil
}

// Stop waits for running jobs to finish
func (s *CronService) Stop() {
	<-s.cron.Stop().Done()
	log.Println("🛑 CronService stopped")
}

// runMaterialize creates today's reservations
func (s *CronService) runMaterialize() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.reservations.Materialize(ctx, time.Now()); err != nil {
		log.Printf("❌ Cron materialize error: %v", err)
	}
}

// runOverdue notifies staff of keys past due plus grace
func (s *CronService) runOverdue() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	items, err := s.admin.OverdueReport(ctx, time.Now())
	if err != nil {
		log.Printf("❌ Cron overdue error: %v", err)
		return
	}
	if len(items) == 0 {
		return
	}

	log.Printf("⚠️ %d overdue key(s)", len(items))
	if s.notifier != nil {
		s.notifier.NotifyOverdue(items)
	}
}

// runRestore resets standing of users with a quiet penalty history
func (s *CronService) runRestore() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.standing.Restore(ctx, time.Now()); err != nil {
		log.Printf("❌ Cron restore error: %v", err)
	}
}
