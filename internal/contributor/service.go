// Package contributor stores per-contributor payout rules and the global
// revenue-share settings.
package contributor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"reseller/internal/domain"
	"reseller/pkg/errors"
	"reseller/pkg/logger"
	"reseller/pkg/validator"
)

// ConfigRepository enforces one config per user; Create returns
// errors.ErrDuplicateConfig otherwise.
type ConfigRepository interface {
	Create(ctx context.Context, cfg *domain.ContributorPaymentConfig) error
	Update(ctx context.Context, cfg *domain.ContributorPaymentConfig) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.ContributorPaymentConfig, error)
	FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.ContributorPaymentConfig, error)
	List(ctx context.Context, activeOnly bool) ([]*domain.ContributorPaymentConfig, error)
}

// SettingsRepository reads and writes the single settings row.
type SettingsRepository interface {
	Get(ctx context.Context) (*domain.GlobalPaymentSettings, error)
	Update(ctx context.Context, settings *domain.GlobalPaymentSettings) error
	// StampLastRun records a completed run of period. The stored period only
	// moves forward, so a catch-up run of an older month leaves it alone.
	StampLastRun(ctx context.Context, at time.Time, period string) error
}

type Currencies interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Currency, error)
}

type Service struct {
	configs    ConfigRepository
	settings   SettingsRepository
	currencies Currencies
	logger     logger.Logger
}

func NewService(configs ConfigRepository, settings SettingsRepository, currencies Currencies, log logger.Logger) *Service {
	return &Service{
		configs:    configs,
		settings:   settings,
		currencies: currencies,
		logger:     log,
	}
}

type ConfigRequest struct {
	UserID             uuid.UUID         `json:"user_id" validate:"required"`
	PayeeName          string            `json:"payee_name" validate:"required,max=120"`
	IsActive           *bool             `json:"is_active,omitempty"`
	AmountType         domain.AmountType `json:"amount_type" validate:"required,oneof=FIXED PERCENTAGE"`
	FixedAmount        *decimal.Decimal  `json:"fixed_amount,omitempty"`
	PercentageValue    *decimal.Decimal  `json:"percentage_value,omitempty"`
	MinProfitThreshold *decimal.Decimal  `json:"min_profit_threshold,omitempty"`
	UseGlobalThreshold bool              `json:"use_global_threshold"`
	AlwaysPay          bool              `json:"always_pay"`
	CurrencyID         uuid.UUID         `json:"currency_id" validate:"required"`
	PhoneNumber        string            `json:"phone_number" validate:"required,msisdn"`
	Operator           *domain.Operator  `json:"operator,omitempty"`
}

type SettingsRequest struct {
	MinProfitThreshold *decimal.Decimal `json:"min_profit_threshold"`
	PaymentDayOfMonth  int              `json:"payment_day_of_month" validate:"min=1,max=28"`
	IsEnabled          bool             `json:"is_enabled"`
}

func (s *Service) CreateConfig(ctx context.Context, req *ConfigRequest) (*domain.ContributorPaymentConfig, error) {
	if err := s.validateConfig(ctx, req); err != nil {
		return nil, err
	}

	now := time.Now()
	cfg := &domain.ContributorPaymentConfig{
		ID:        uuid.New(),
		UserID:    req.UserID,
		IsActive:  true,
		CreatedAt: now,
	}
	applyConfig(cfg, req, now)

	if err := s.configs.Create(ctx, cfg); err != nil {
		return nil, err
	}

	s.logger.Info("Contributor payment config created", map[string]interface{}{
		"config_id":   cfg.ID,
		"user_id":     cfg.UserID,
		"amount_type": cfg.AmountType,
	})
	s.warnIncomplete(cfg)
	return cfg, nil
}

// UpdateConfig replaces the payout rule; the owning user cannot change.
func (s *Service) UpdateConfig(ctx context.Context, id uuid.UUID, req *ConfigRequest) (*domain.ContributorPaymentConfig, error) {
	cfg, err := s.configs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	req.UserID = cfg.UserID
	if err := s.validateConfig(ctx, req); err != nil {
		return nil, err
	}

	applyConfig(cfg, req, time.Now())
	if err := s.configs.Update(ctx, cfg); err != nil {
		return nil, err
	}

	s.logger.Info("Contributor payment config updated", map[string]interface{}{
		"config_id": cfg.ID,
		"is_active": cfg.IsActive,
	})
	s.warnIncomplete(cfg)
	return cfg, nil
}

func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) (*domain.ContributorPaymentConfig, error) {
	cfg, err := s.configs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	cfg.IsActive = active
	cfg.UpdatedAt = time.Now()
	if err := s.configs.Update(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *Service) GetConfig(ctx context.Context, id uuid.UUID) (*domain.ContributorPaymentConfig, error) {
	return s.configs.FindByID(ctx, id)
}

func (s *Service) GetConfigByUser(ctx context.Context, userID uuid.UUID) (*domain.ContributorPaymentConfig, error) {
	return s.configs.FindByUserID(ctx, userID)
}

func (s *Service) ListConfigs(ctx context.Context, activeOnly bool) ([]*domain.ContributorPaymentConfig, error) {
	return s.configs.List(ctx, activeOnly)
}

func (s *Service) GetSettings(ctx context.Context) (*domain.GlobalPaymentSettings, error) {
	return s.settings.Get(ctx)
}

func (s *Service) UpdateSettings(ctx context.Context, req *SettingsRequest) (*domain.GlobalPaymentSettings, error) {
	if req.PaymentDayOfMonth < 1 || req.PaymentDayOfMonth > 28 {
		return nil, fmt.Errorf("%w: payment day must be between 1 and 28", errors.ErrInvalidSettings)
	}
	if req.MinProfitThreshold != nil && req.MinProfitThreshold.IsNegative() {
		return nil, fmt.Errorf("%w: threshold must not be negative", errors.ErrInvalidSettings)
	}

	current, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	current.MinProfitThreshold = req.MinProfitThreshold
	current.PaymentDayOfMonth = req.PaymentDayOfMonth
	current.IsEnabled = req.IsEnabled
	current.UpdatedAt = time.Now()

	if err := s.settings.Update(ctx, current); err != nil {
		return nil, err
	}

	s.logger.Info("Global payment settings updated", map[string]interface{}{
		"payment_day_of_month": current.PaymentDayOfMonth,
		"is_enabled":           current.IsEnabled,
	})
	return current, nil
}

func (s *Service) validateConfig(ctx context.Context, req *ConfigRequest) error {
	switch req.AmountType {
	case domain.AmountTypeFixed:
		if req.FixedAmount == nil || !req.FixedAmount.IsPositive() {
			return fmt.Errorf("%w: fixed amount must be positive", errors.ErrInvalidConfig)
		}
	case domain.AmountTypePercentage:
		if req.PercentageValue == nil || !req.PercentageValue.IsPositive() || req.PercentageValue.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("%w: percentage must be in (0, 100]", errors.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown amount type %q", errors.ErrInvalidConfig, req.AmountType)
	}

	if req.MinProfitThreshold != nil && req.MinProfitThreshold.IsNegative() {
		return fmt.Errorf("%w: threshold must not be negative", errors.ErrInvalidConfig)
	}
	if !validator.ValidPhone(req.PhoneNumber) {
		return fmt.Errorf("%w: phone number must be E.164", errors.ErrInvalidRecipient)
	}
	if req.Operator != nil && !req.Operator.Valid() {
		return fmt.Errorf("%w: unsupported operator", errors.ErrInvalidRecipient)
	}
	if strings.TrimSpace(req.PayeeName) == "" {
		return fmt.Errorf("%w: payee name required", errors.ErrInvalidRecipient)
	}
	if _, err := s.currencies.Get(ctx, req.CurrencyID); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return errors.ErrInvalidCurrency
		}
		return err
	}
	return nil
}

func (s *Service) warnIncomplete(cfg *domain.ContributorPaymentConfig) {
	if !cfg.AlwaysPay && !cfg.UseGlobalThreshold && cfg.MinProfitThreshold == nil {
		s.logger.Warn("Contributor config has no applicable threshold and will be skipped", map[string]interface{}{
			"config_id": cfg.ID,
		})
	}
}

func applyConfig(cfg *domain.ContributorPaymentConfig, req *ConfigRequest, now time.Time) {
	cfg.PayeeName = strings.TrimSpace(req.PayeeName)
	if req.IsActive != nil {
		cfg.IsActive = *req.IsActive
	}
	cfg.AmountType = req.AmountType
	cfg.FixedAmount = nil
	cfg.PercentageValue = nil
	if req.AmountType == domain.AmountTypeFixed {
		cfg.FixedAmount = req.FixedAmount
	} else {
		cfg.PercentageValue = req.PercentageValue
	}
	cfg.MinProfitThreshold = req.MinProfitThreshold
	cfg.UseGlobalThreshold = req.UseGlobalThreshold
	cfg.AlwaysPay = req.AlwaysPay
	cfg.CurrencyID = req.CurrencyID
	cfg.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	cfg.Operator = req.Operator
	cfg.UpdatedAt = now
}
