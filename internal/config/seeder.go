package config

import (
	"errors"
	"log"

	"keycabinet/internal/adapters/persistence/models"
	"keycabinet/internal/core/domain"
	"keycabinet/internal/pkg/password"

	"gorm.io/gorm"
)

// Seeder handles database seeding
type Seeder struct {
	db  *gorm.DB
	cfg *Config
}

// NewSeeder creates a new seeder instance
func NewSeeder(db *gorm.DB, cfg *Config) *Seeder {
	return &Seeder{db: db, cfg: cfg}
}

// Run executes all seeders
func (s *Seeder) Run() error {
	log.Println("🌱 Running database seeders...")

	if err := s.seedPenaltyConfig(); err != nil {
		log.Printf("⚠️ Penalty config seeder skipped: %v", err)
	}

	if err := s.seedBootstrapKiosk(); err != nil {
		log.Printf("⚠️ Kiosk seeder skipped: %v", err)
	}

	log.Println("✅ Database seeding completed")
	return nil
}

// seedPenaltyConfig creates the default rule set when no config exists at all
func (s *Seeder) seedPenaltyConfig() error {
	var count int64
	if err := s.db.Model(&models.PenaltyConfig{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	cfg := &models.PenaltyConfig{
		Name:             "default",
		GraceMinutes:     domain.DefaultGraceMinutes,
		IntervalMinutes:  domain.DefaultIntervalMinutes,
		ScorePerInterval: domain.DefaultScorePerInterval,
		RestoreDays:      domain.DefaultRestoreDays,
		IsActive:         true,
	}
	if err := s.db.Create(cfg).Error; err != nil {
		return err
	}

	log.Printf("✅ Default penalty config created: grace=%d interval=%d score=%d",
		cfg.GraceMinutes, cfg.IntervalMinutes, cfg.ScorePerInterval)
	return nil
}

// seedBootstrapKiosk registers KIOSK_BOOTSTRAP_CODE when it is not registered yet
func (s *Seeder) seedBootstrapKiosk() error {
	if s.cfg == nil || s.cfg.Kiosk.Code == "" {
		return nil
	}
	if !password.ValidateSecret(s.cfg.Kiosk.Secret) {
		return errors.New("KIOSK_BOOTSTRAP_SECRET is too short")
	}

	var existing models.Kiosk
	err := s.db.Where("code = ?", s.cfg.Kiosk.Code).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hash, err := password.Hash(s.cfg.Kiosk.Secret)
	if err != nil {
		return err
	}
	kiosk := &models.Kiosk{
		Code:       s.cfg.Kiosk.Code,
		Name:       "Bootstrap kiosk",
		SecretHash: hash,
		IsActive:   true,
	}
	if err := s.db.Create(kiosk).Error; err != nil {
		return err
	}

	log.Printf("✅ Kiosk registered: %s", kiosk.Code)
	return nil
}
