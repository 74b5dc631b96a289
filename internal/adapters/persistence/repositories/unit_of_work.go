package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ErrRetriesExhausted is returned when a transaction kept conflicting
var ErrRetriesExhausted = errors.New("transaction retries exhausted")

// UnitOfWorkOptions tunes retry and timeout behaviour
type UnitOfWorkOptions struct {
	Retries int
	Timeout time.Duration
}

// gormUnitOfWork implements UnitOfWork on top of gorm transactions
type gormUnitOfWork struct {
	db      *gorm.DB
	txOpts  *sql.TxOptions
	retries int
	timeout time.Duration
}

// NewUnitOfWork creates a unit of work.
// MySQL and Postgres run READ COMMITTED so a re-check after waiting on a row
// lock sees the winner's committed rows. SQLite keeps its default isolation;
// its pool is pinned to a single connection by config.ConnectDatabase.
func NewUnitOfWork(db *gorm.DB, opts UnitOfWorkOptions) UnitOfWork {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	var txOpts *sql.TxOptions
	switch db.Dialector.Name() {
	case "mysql", "postgres":
		txOpts = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}

	return &gormUnitOfWork{
		db:      db,
		txOpts:  txOpts,
		retries: opts.Retries,
		timeout: opts.Timeout,
	}
}

// Do runs fn in a transaction, retrying bounded times on store conflicts
func (u *gormUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, s *Stores) error) error {
	var err error
	for attempt := 0; attempt <= u.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt*25) * time.Millisecond):
			}
		}

		err = u.run(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		log.Printf("⚠️ Transaction conflict (attempt %d/%d): %v", attempt+1, u.retries+1, err)
	}
	return fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
}

func (u *gormUnitOfWork) run(ctx context.Context, fn func(ctx context.Context, s *Stores) error) error {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewStores(tx))
	}, u.txOpts)
}

// IsRetryable reports whether err is a transient store conflict
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		// 1213 deadlock, 1205 lock wait timeout
		return myErr.Number == 1213 || myErr.Number == 1205
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

// IsDuplicateKey reports whether err is a unique constraint violation
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}

	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
