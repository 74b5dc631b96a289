package repositories

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"keycabinet/internal/adapters/persistence/models"

	"github.com/glebarez/sqlite"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return openTestDBAt(t, ":memory:")
}

// openFileTestDB opens a database file in a temp dir
func openFileTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return openTestDBAt(t, filepath.Join(t.TempDir(), "cabinet.db")+"?_pragma=busy_timeout(5000)")
}

func openTestDBAt(t *testing.T, dsn string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("DB failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate failed: %v", err)
	}
	return db
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, true},
		{"mysql lock wait", fmt.Errorf("wrapped: %w", &mysql.MySQLError{Number: 1205}), true},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, false},
		{"pg serialization", &pgconn.PgError{Code: "40001"}, true},
		{"pg deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"pg unique", &pgconn.PgError{Code: "23505"}, false},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
	}

	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Fatalf("%s: IsRetryable = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsDuplicateKey(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"gorm translated", gorm.ErrDuplicatedKey, true},
		{"mysql duplicate", fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062}), true},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, false},
		{"pg unique", &pgconn.PgError{Code: "23505"}, true},
		{"pg serialization", &pgconn.PgError{Code: "40001"}, false},
		{"sqlite unique", errors.New("constraint failed: UNIQUE constraint failed: bookings.schedule_id, bookings.due_at (2067)"), true},
	}

	for _, tt := range tests {
		if got := IsDuplicateKey(tt.err); got != tt.want {
			t.Fatalf("%s: IsDuplicateKey = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestUnitOfWorkRollsBack(t *testing.T) {
	db := openTestDB(t)
	uow := NewUnitOfWork(db, UnitOfWorkOptions{Retries: 1, Timeout: time.Second})
	ctx := context.Background()

	errStop := errors.New("stop")
	err := uow.Do(ctx, func(ctx context.Context, s *Stores) error {
		if err := s.Users.Create(ctx, &models.User{Code: "U1", FullName: "One"}); err != nil {
			return err
		}
		return errStop
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("expected errStop, got %v", err)
	}

	var n int64
	db.Model(&models.User{}).Count(&n)
	if n != 0 {
		t.Fatalf("write survived a failed unit of work: %d users", n)
	}
}

func TestUnitOfWorkRetriesConflicts(t *testing.T) {
	db := openTestDB(t)
	uow := NewUnitOfWork(db, UnitOfWorkOptions{Retries: 2, Timeout: time.Second})

	calls := 0
	err := uow.Do(context.Background(), func(ctx context.Context, s *Stores) error {
		calls++
		if calls < 3 {
			return &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}

	calls = 0
	err = uow.Do(context.Background(), func(ctx context.Context, s *Stores) error {
		calls++
		return &pgconn.PgError{Code: "40001"}
	})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestAppendOnlyTables(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	stores := NewStores(db)

	l := &models.PenaltyLog{UserID: 1, Type: "MANUAL", ScoreCut: 5, ScoreAfter: 95}
	if err := stores.Penalties.AppendLog(ctx, l); err != nil {
		t.Fatalf("AppendLog failed: %v", err)
	}
	if err := db.Model(l).Update("score_cut", 1).Error; !errors.Is(err, models.ErrAppendOnly) {
		t.Fatalf("expected ErrAppendOnly on update, got %v", err)
	}
	if err := db.Delete(l).Error; !errors.Is(err, models.ErrAppendOnly) {
		t.Fatalf("expected ErrAppendOnly on delete, got %v", err)
	}

	if err := stores.Audit.Append(ctx, AuditEntry{Action: "BORROW_KEY", Detail: map[string]interface{}{"room_code": "A101"}}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	logs, total, err := stores.Audit.List(ctx, AuditFilter{Action: "BORROW_KEY"}, 0, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 1 || logs[0].Detail != `{"room_code":"A101"}` {
		t.Fatalf("unexpected audit rows: %+v", logs)
	}
	if err := db.Delete(&logs[0]).Error; !errors.Is(err, models.ErrAppendOnly) {
		t.Fatalf("expected ErrAppendOnly on audit delete, got %v", err)
	}
}

func TestBookingOverlap(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	stores := NewStores(db)

	key := &models.Key{RoomCode: "A101", SlotNumber: 1, IsActive: true}
	if err := stores.Keys.Create(ctx, key); err != nil {
		t.Fatalf("Create key failed: %v", err)
	}
	from := time.Date(2024, 1, 15, 2, 0, 0, 0, time.UTC)
	b := &models.Booking{UserID: 1, KeyID: key.ID, BorrowAt: from, DueAt: from.Add(time.Hour), Status: "RESERVED"}
	if err := stores.Bookings.Create(ctx, b); err != nil {
		t.Fatalf("Create booking failed: %v", err)
	}

	tests := []struct {
		name     string
		from, to time.Time
		exclude  uint
		want     bool
	}{
		{"inside", from.Add(10 * time.Minute), from.Add(20 * time.Minute), 0, true},
		{"touching end", from.Add(time.Hour), from.Add(2 * time.Hour), 0, false},
		{"touching start", from.Add(-time.Hour), from, 0, false},
		{"excluded self", from, from.Add(time.Hour), b.ID, false},
	}
	for _, tt := range tests {
		got, err := stores.Bookings.HasOverlap(ctx, key.ID, tt.from, tt.to, tt.exclude)
		if err != nil {
			t.Fatalf("%s: HasOverlap failed: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: HasOverlap = %v, want %v", tt.name, got, tt.want)
		}
	}

	ok, err := stores.Bookings.Transition(ctx, b.ID, "BORROWED", map[string]interface{}{"status": "RETURNED"})
	if err != nil || ok {
		t.Fatalf("Transition from wrong status = %v, %v; want false", ok, err)
	}
	ok, err = stores.Bookings.Transition(ctx, b.ID, "RESERVED", map[string]interface{}{"status": "BORROWED"})
	if err != nil || !ok {
		t.Fatalf("Transition = %v, %v; want true", ok, err)
	}
}
