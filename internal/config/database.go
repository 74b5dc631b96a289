package config

import (
	"fmt"
	"log"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the global database instance
var DB *gorm.DB

// ConnectDatabase opens the configured database (MySQL, PostgreSQL or SQLite)
func ConnectDatabase(cfg *Config) (*gorm.DB, error) {
	dialector, where, err := buildDialector(cfg.Database)
	if err != nil {
		return nil, err
	}

	// Configure GORM logger based on mode
	var gormLogger logger.Interface
	if cfg.IsDev() {
		gormLogger = logger.Default.LogMode(logger.Info)
	} else {
		gormLogger = logger.Default.LogMode(logger.Error)
	}

	db, err := Open(dialector, gormLogger)
	if err != nil {
		return nil, err
	}

	// Set global DB instance
	DB = db

	log.Printf("✅ Database connected successfully [%s %s]", cfg.Database.Driver, where)
	return db, nil
}

// Open opens a gorm handle and applies pool settings for its dialect.
// SQLite is pinned to one connection so transactions serialize.
func Open(dialector gorm.Dialector, gormLogger logger.Interface) (*gorm.DB, error) {
	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true, // Better performance
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pool settings
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if dialector.Name() == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// buildDialector returns the gorm dialector and a log-safe target description
func buildDialector(d DatabaseConfig) (gorm.Dialector, string, error) {
	switch d.Driver {
	case "mysql", "":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			d.User,
			d.Password,
			d.Host,
			d.Port,
			d.DBName,
		)
		return mysql.Open(dsn), fmt.Sprintf("%s:%s/%s", d.Host, d.Port, d.DBName), nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			d.Host,
			d.User,
			d.Password,
			d.DBName,
			d.Port,
			d.SSLMode,
		)
		return postgres.Open(dsn), fmt.Sprintf("%s:%s/%s", d.Host, d.Port, d.DBName), nil
	case "sqlite":
		return sqlite.Open(d.SQLitePath), d.SQLitePath, nil
	default:
		return nil, "", fmt.Errorf("unsupported DB_DRIVER: '%s' (must be mysql, postgres or sqlite)", d.Driver)
	}
}

// CloseDatabase closes the database connection
func CloseDatabase() error {
	if DB == nil {
		return nil
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// HealthCheck checks if database is healthy
func HealthCheck() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Ping()
}
