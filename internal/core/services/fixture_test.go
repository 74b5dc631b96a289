package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"keycabinet/internal/adapters/persistence/models"
	"keycabinet/internal/adapters/persistence/repositories"
	"keycabinet/internal/config"
	"keycabinet/internal/core/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// schedules are interpreted in ICT, stored instants are UTC
var testLoc = time.FixedZone("ICT", 7*60*60)

// at returns Monday 15 Jan 2024 hh:mm local time
func at(hh, mm int) time.Time {
	return time.Date(2024, time.January, 15, hh, mm, 0, 0, testLoc)
}

type fixture struct {
	db           *gorm.DB
	uow          repositories.UnitOfWork
	lending      *LendingService
	reservations *ReservationService
	standing     *StandingService
	penalties    *PenaltyConfigService

	teacher  *models.User
	student  *models.User
	student2 *models.User
	outsider *models.User

	keyA  *models.Key
	keyB1 *models.Key
	keyB2 *models.Key

	schedule *models.Schedule
}

// newFixture builds an in-memory registry:
//   - rooms A101 (one key) and B201 (two keys)
//   - CS101 taught by T0001 in A101 on Mondays 09:00-10:00
//   - S0001 and S0002 enrolled, S0099 not enrolled
func newFixture(t *testing.T, adhoc AdhocPolicy) *fixture {
	t.Helper()
	return newFixtureOn(t, adhoc, sqlite.Open(":memory:"))
}

// newFileFixture is newFixture on a database file, so separate connections
// of the pool see each other's commits
func newFileFixture(t *testing.T, adhoc AdhocPolicy) *fixture {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "cabinet.db") + "?_pragma=busy_timeout(5000)"
	return newFixtureOn(t, adhoc, sqlite.Open(dsn))
}

func newFixtureOn(t *testing.T, adhoc AdhocPolicy, dialector gorm.Dialector) *fixture {
	t.Helper()

	db, err := config.Open(dialector, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate failed: %v", err)
	}

	f := &fixture{db: db}
	mustCreate := func(v interface{}) {
		t.Helper()
		if err := db.Create(v).Error; err != nil {
			t.Fatalf("Create %T failed: %v", v, err)
		}
	}

	for _, code := range []string{"A101", "B201"} {
		mustCreate(&models.Room{Code: code, Name: code, IsActive: true})
	}
	f.keyA = &models.Key{RoomCode: "A101", SlotNumber: 1, Label: "A101-1", IsActive: true}
	f.keyB1 = &models.Key{RoomCode: "B201", SlotNumber: 2, Label: "B201-1", IsActive: true}
	f.keyB2 = &models.Key{RoomCode: "B201", SlotNumber: 3, Label: "B201-2", IsActive: true}
	mustCreate(f.keyA)
	mustCreate(f.keyB1)
	mustCreate(f.keyB2)

	subject := &models.Subject{Code: "CS101", Name: "Programming"}
	mustCreate(subject)

	f.teacher = &models.User{Code: "T0001", FullName: "Teacher", Role: string(domain.RoleTeacher), StandingScore: 100}
	f.student = &models.User{Code: "S0001", FullName: "Student One", Role: string(domain.RoleStudent), StandingScore: 100}
	f.student2 = &models.User{Code: "S0002", FullName: "Student Two", Role: string(domain.RoleStudent), StandingScore: 100}
	f.outsider = &models.User{Code: "S0099", FullName: "Outsider", Role: string(domain.RoleStudent), StandingScore: 100}
	for _, u := range []*models.User{f.teacher, f.student, f.student2, f.outsider} {
		mustCreate(u)
	}

	f.schedule = &models.Schedule{
		SubjectID: subject.ID,
		RoomCode:  "A101",
		DayOfWeek: int(time.Monday),
		StartTime: "09:00",
		EndTime:   "10:00",
		TeacherID: f.teacher.ID,
		IsActive:  true,
	}
	mustCreate(f.schedule)
	mustCreate(&models.ScheduleEnrollment{ScheduleID: f.schedule.ID, UserID: f.student.ID})
	mustCreate(&models.ScheduleEnrollment{ScheduleID: f.schedule.ID, UserID: f.student2.ID})

	mustCreate(&models.PenaltyConfig{
		Name:             "default",
		GraceMinutes:     30,
		IntervalMinutes:  15,
		ScorePerInterval: 5,
		RestoreDays:      30,
		IsActive:         true,
	})

	f.uow = repositories.NewUnitOfWork(db, repositories.UnitOfWorkOptions{Retries: 2, Timeout: 10 * time.Second})
	resolver := NewEligibilityResolver(adhoc,
		OwnerStrategy{},
		RosterStrategy{Location: testLoc, EarlyMinutes: 15},
		OverrideStrategy{},
	).WithEarlyPickup(15)
	notifier := NewNotificationService("", 0, testLoc)

	f.lending = NewLendingService(f.uow, resolver, NopPublisher{}, notifier)
	f.reservations = NewReservationService(f.uow, testLoc)
	f.standing = NewStandingService(f.uow, NopPublisher{}, notifier)
	f.penalties = NewPenaltyConfigService(f.uow)
	return f
}

// materialize creates Monday's reservations
func (f *fixture) materialize(t *testing.T) {
	t.Helper()
	if _, err := f.reservations.Materialize(context.Background(), at(0, 0)); err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
}

func (f *fixture) booking(t *testing.T, id uint) models.Booking {
	t.Helper()
	var b models.Booking
	if err := f.db.First(&b, id).Error; err != nil {
		t.Fatalf("load booking #%d failed: %v", id, err)
	}
	return b
}

func (f *fixture) user(t *testing.T, id uint) models.User {
	t.Helper()
	var u models.User
	if err := f.db.First(&u, id).Error; err != nil {
		t.Fatalf("load user #%d failed: %v", id, err)
	}
	return u
}

func (f *fixture) setScore(t *testing.T, id uint, score int, suspended bool) {
	t.Helper()
	if err := f.db.Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]interface{}{"standing_score": score, "is_suspended": suspended}).Error; err != nil {
		t.Fatalf("set score failed: %v", err)
	}
}

func (f *fixture) countAudit(t *testing.T, action domain.AuditAction) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(&models.SystemLog{}).Where("action = ?", string(action)).Count(&n).Error; err != nil {
		t.Fatalf("count audit failed: %v", err)
	}
	return n
}

// countLocks counts queries carrying a FOR UPDATE clause, per table
func (f *fixture) countLocks(t *testing.T) func() map[string]int {
	t.Helper()
	var mu sync.Mutex
	locks := map[string]int{}
	err := f.db.Callback().Query().Before("gorm:query").Register("test:count_locks", func(tx *gorm.DB) {
		if _, ok := tx.Statement.Clauses["FOR"]; ok {
			mu.Lock()
			locks[tx.Statement.Table]++
			mu.Unlock()
		}
	})
	if err != nil {
		t.Fatalf("register callback failed: %v", err)
	}
	return func() map[string]int {
		mu.Lock()
		defer mu.Unlock()
		out := make(map[string]int, len(locks))
		for k, v := range locks {
			out[k] = v
		}
		return out
	}
}

// wantKind fails unless err is a lending error of kind with reason
func wantKind(t *testing.T, err error, kind domain.ErrorKind, reason string) {
	t.Helper()
	le, ok := domain.AsLendingError(err)
	if !ok {
		t.Fatalf("expected lending error %s/%s, got %v", kind, reason, err)
	}
	if le.Kind != kind || le.Reason != reason {
		t.Fatalf("expected %s/%s, got %s/%s", kind, reason, le.Kind, le.Reason)
	}
}
