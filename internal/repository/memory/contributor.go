package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"reseller/internal/domain"
	"reseller/pkg/errors"
)

type ConfigRepository struct {
	s *Store
}

func (r *ConfigRepository) Create(_ context.Context, cfg *domain.ContributorPaymentConfig) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.configs {
		if existing.UserID == cfg.UserID {
			return errors.ErrDuplicateConfig
		}
	}
	r.s.configs[cfg.ID] = *cfg
	r.s.configOrder = append(r.s.configOrder, cfg.ID)
	return nil
}

func (r *ConfigRepository) Update(_ context.Context, cfg *domain.ContributorPaymentConfig) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.configs[cfg.ID]; !ok {
		return errors.ErrConfigNotFound
	}
	r.s.configs[cfg.ID] = *cfg
	return nil
}

func (r *ConfigRepository) FindByID(_ context.Context, id uuid.UUID) (*domain.ContributorPaymentConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cfg, ok := r.s.configs[id]
	if !ok {
		return nil, errors.ErrConfigNotFound
	}
	return &cfg, nil
}

func (r *ConfigRepository) FindByUserID(_ context.Context, userID uuid.UUID) (*domain.ContributorPaymentConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, cfg := range r.s.configs {
		if cfg.UserID == userID {
			cfg := cfg
			return &cfg, nil
		}
	}
	return nil, errors.ErrConfigNotFound
}

// List returns configs in creation order.
func (r *ConfigRepository) List(_ context.Context, activeOnly bool) ([]*domain.ContributorPaymentConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.ContributorPaymentConfig
	for _, id := range r.s.configOrder {
		cfg := r.s.configs[id]
		if activeOnly && !cfg.IsActive {
			continue
		}
		out = append(out, &cfg)
	}
	return out, nil
}

type SettingsRepository struct {
	s *Store
}

// Get returns the settings row, seeding disabled defaults on first use the
// way the migration does.
func (r *SettingsRepository) Get(_ context.Context) (*domain.GlobalPaymentSettings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.settings == nil {
		r.s.settings = &domain.GlobalPaymentSettings{PaymentDayOfMonth: 1, UpdatedAt: time.Now()}
	}
	out := *r.s.settings
	return &out, nil
}

// Update writes the editable fields; the last-run markers belong to StampLastRun.
func (r *SettingsRepository) Update(_ context.Context, settings *domain.GlobalPaymentSettings) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored := *settings
	if r.s.settings != nil {
		stored.LastPaymentRun = r.s.settings.LastPaymentRun
		stored.LastPaymentPeriod = r.s.settings.LastPaymentPeriod
	}
	r.s.settings = &stored
	return nil
}

func (r *SettingsRepository) StampLastRun(_ context.Context, at time.Time, period string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.settings == nil {
		r.s.settings = &domain.GlobalPaymentSettings{PaymentDayOfMonth: 1}
	}
	r.s.settings.LastPaymentRun = &at
	if last := r.s.settings.LastPaymentPeriod; last == nil || period > *last {
		r.s.settings.LastPaymentPeriod = &period
	}
	r.s.settings.UpdatedAt = time.Now()
	return nil
}

type PaymentRepository struct {
	s *Store
}

func paymentKey(configID uuid.UUID, period string) string {
	return configID.String() + "|" + period
}

func (r *PaymentRepository) Create(_ context.Context, p *domain.ContributorPayment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := paymentKey(p.ConfigID, p.PaymentPeriod)
	if _, dup := r.s.paymentByKey[key]; dup {
		return errors.ErrDuplicatePeriodPayment
	}
	r.s.payments[p.ID] = *p
	r.s.paymentByKey[key] = p.ID
	r.s.paymentOrder = append(r.s.paymentOrder, p.ID)
	return nil
}

func (r *PaymentRepository) FindByID(_ context.Context, id uuid.UUID) (*domain.ContributorPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return nil, errors.ErrPaymentNotFound
	}
	return &p, nil
}

func (r *PaymentRepository) FindByConfigAndPeriod(_ context.Context, configID uuid.UUID, period string) (*domain.ContributorPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.paymentByKey[paymentKey(configID, period)]
	if !ok {
		return nil, errors.ErrPaymentNotFound
	}
	p := r.s.payments[id]
	return &p, nil
}

func (r *PaymentRepository) ListByPeriod(_ context.Context, period string) ([]*domain.ContributorPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.ContributorPayment
	for _, id := range r.s.paymentOrder {
		p := r.s.payments[id]
		if p.PaymentPeriod == period {
			out = append(out, &p)
		}
	}
	return out, nil
}

func (r *PaymentRepository) ListByStatus(_ context.Context, status domain.PaymentStatus, limit int) ([]*domain.ContributorPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.ContributorPayment
	for _, id := range r.s.paymentOrder {
		p := r.s.payments[id]
		if p.PaymentStatus == status {
			out = append(out, &p)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *PaymentRepository) Transition(_ context.Context, p *domain.ContributorPayment, from domain.PaymentStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.payments[p.ID]
	if !ok {
		return errors.ErrPaymentNotFound
	}
	if stored.PaymentStatus != from {
		return errors.ErrStaleState
	}
	r.s.payments[p.ID] = *p
	return nil
}

// ReportRepository serves net profit figures per period.
type ReportRepository struct {
	s *Store
}

func (r *ReportRepository) SetNetProfit(period string, amount decimal.Decimal) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.profits[period] = amount
}

func (r *ReportRepository) NetProfit(_ context.Context, period string) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	amount, ok := r.s.profits[period]
	if !ok {
		return decimal.Zero, errors.ErrFinancialReportNotFound
	}
	return amount, nil
}
