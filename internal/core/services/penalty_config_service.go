package services

import (
	"context"
	"errors"
	"log"

	"keycabinet/internal/adapters/persistence/models"
	"keycabinet/internal/adapters/persistence/repositories"
	"keycabinet/internal/core/domain"

	"gorm.io/gorm"
)

// Penalty config errors
var (
	ErrPenaltyConfigNotFound = errors.New("penalty config not found")
	ErrInvalidPenaltyConfig  = errors.New("grace must be >= 0, interval > 0 and score per interval >= 0")
)

// PenaltyConfigInput represents a new rule set
type PenaltyConfigInput struct {
	Name             string `json:"name"`
	GraceMinutes     int    `json:"grace_minutes"`
	IntervalMinutes  int    `json:"interval_minutes"`
	ScorePerInterval int    `json:"score_per_interval"`
	RestoreDays      int    `json:"restore_days"`
	Activate         bool   `json:"activate"`
}

// ActivePenaltyConfig is the rule set in force, with whether it came from defaults
type ActivePenaltyConfig struct {
	Config    *models.PenaltyConfig `json:"config,omitempty"`
	Rules     domain.PenaltyRules   `json:"rules"`
	IsDefault bool                  `json:"is_default"`
	Warning   string                `json:"warning,omitempty"`
}

// PenaltyConfigService manages penalty rule sets
type PenaltyConfigService struct {
	uow repositories.UnitOfWork
}

// NewPenaltyConfigService creates a new penalty config service
func NewPenaltyConfigService(uow repositories.UnitOfWork) *PenaltyConfigService {
	return &PenaltyConfigService{uow: uow}
}

// List returns every config, newest first
func (s *PenaltyConfigService) List(ctx context.Context) ([]models.PenaltyConfig, error) {
	var cfgs []models.PenaltyConfig
	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		var err error
		cfgs, err = st.Penalties.ListConfigs(ctx)
		return err
	})
	return cfgs, err
}

// GetActive returns the rule set a return would use right now
func (s *PenaltyConfigService) GetActive(ctx context.Context) (*ActivePenaltyConfig, error) {
	var out *ActivePenaltyConfig
	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		cfg, err := st.Penalties.GetActiveConfig(ctx)
		if err != nil {
			return err
		}
		rules, err := loadPenaltyRules(ctx, st)
		if err != nil {
			return err
		}
		out = &ActivePenaltyConfig{Config: cfg, Rules: rules, IsDefault: cfg == nil}
		if out.IsDefault {
			out.Warning = domain.ErrPenaltyConfigMissing.Reason
		}
		return nil
	})
	return out, err
}

// Create stores a rule set, activating it in the same transaction if asked
func (s *PenaltyConfigService) Create(ctx context.Context, input *PenaltyConfigInput, createdBy *uint) (*models.PenaltyConfig, error) {
	if input.GraceMinutes < 0 || input.IntervalMinutes <= 0 || input.ScorePerInterval < 0 {
		return nil, ErrInvalidPenaltyConfig
	}
	if input.RestoreDays <= 0 {
		input.RestoreDays = domain.DefaultRestoreDays
	}

	cfg := &models.PenaltyConfig{
		Name:             input.Name,
		GraceMinutes:     input.GraceMinutes,
		IntervalMinutes:  input.IntervalMinutes,
		ScorePerInterval: input.ScorePerInterval,
		RestoreDays:      input.RestoreDays,
		CreatedBy:        createdBy,
	}

	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		cfg.ID = 0
		cfg.IsActive = false
		if err := st.Penalties.CreateConfig(ctx, cfg); err != nil {
			return err
		}
		if !input.Activate {
			return nil
		}
		if err := st.Penalties.ActivateConfig(ctx, cfg.ID); err != nil {
			return err
		}
		cfg.IsActive = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("✅ Penalty config #%d created (active=%v)", cfg.ID, cfg.IsActive)
	return cfg, nil
}

// Activate makes id the only active config
func (s *PenaltyConfigService) Activate(ctx context.Context, id uint) (*models.PenaltyConfig, error) {
	var cfg *models.PenaltyConfig
	err := s.uow.Do(ctx, func(ctx context.Context, st *repositories.Stores) error {
		if err := st.Penalties.ActivateConfig(ctx, id); err != nil {
			return err
		}
		var err error
		cfg, err = st.Penalties.GetConfigByID(ctx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPenaltyConfigNotFound
		}
		return nil, err
	}

	log.Printf("✅ Penalty config #%d activated", id)
	return cfg, nil
}
