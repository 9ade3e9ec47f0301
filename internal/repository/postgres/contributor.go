package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"reseller/internal/domain"
	"reseller/pkg/errors"
)

const (
	configColumns = `id, user_id, payee_name, is_active, amount_type, fixed_amount, percentage_value,
		min_profit_threshold, use_global_threshold, always_pay, currency_id, phone_number, operator,
		created_at, updated_at`
	settingsColumns = `min_profit_threshold, payment_day_of_month, is_enabled, last_payment_run, last_payment_period, updated_at`
	paymentColumns  = `id, config_id, user_id, amount_paid, currency_id, payment_period, net_profit_at_time,
		payment_status, withdrawal_id, provider_transaction_ref, provider_response, failure_reason,
		attempt, processed_at, created_at, updated_at`
)

// ==============================================================================
// CONTRIBUTOR PAYMENT CONFIGS
// ==============================================================================

type ContributorConfigRepository struct {
	db *sqlx.DB
}

func NewContributorConfigRepository(db *sqlx.DB) *ContributorConfigRepository {
	return &ContributorConfigRepository{db: db}
}

func (r *ContributorConfigRepository) Create(ctx context.Context, cfg *domain.ContributorPaymentConfig) error {
	query := `
		INSERT INTO finance.contributor_payment_configs (` + configColumns + `) VALUES (
			:id, :user_id, :payee_name, :is_active, :amount_type, :fixed_amount, :percentage_value,
			:min_profit_threshold, :use_global_threshold, :always_pay, :currency_id, :phone_number, :operator,
			:created_at, :updated_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, cfg)
	if violates(err, codeUniqueViolation, "user_id") {
		return errors.ErrDuplicateConfig
	}
	if violates(err, codeForeignKeyViolation, "currency") {
		return errors.ErrInvalidCurrency
	}
	return errors.Wrap(err, "failed to create contributor payment config")
}

func (r *ContributorConfigRepository) Update(ctx context.Context, cfg *domain.ContributorPaymentConfig) error {
	query := `
		UPDATE finance.contributor_payment_configs SET
			payee_name = :payee_name,
			is_active = :is_active,
			amount_type = :amount_type,
			fixed_amount = :fixed_amount,
			percentage_value = :percentage_value,
			min_profit_threshold = :min_profit_threshold,
			use_global_threshold = :use_global_threshold,
			always_pay = :always_pay,
			currency_id = :currency_id,
			phone_number = :phone_number,
			operator = :operator,
			updated_at = :updated_at
		WHERE id = :id
	`
	res, err := r.db.NamedExecContext(ctx, query, cfg)
	if err != nil {
		return errors.Wrap(err, "failed to update contributor payment config")
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return errors.ErrConfigNotFound
	}
	return nil
}

func (r *ContributorConfigRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.ContributorPaymentConfig, error) {
	cfg := &domain.ContributorPaymentConfig{}
	err := r.db.GetContext(ctx, cfg, `SELECT `+configColumns+` FROM finance.contributor_payment_configs WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, errors.ErrConfigNotFound, "failed to find contributor payment config")
	}
	return cfg, nil
}

func (r *ContributorConfigRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.ContributorPaymentConfig, error) {
	cfg := &domain.ContributorPaymentConfig{}
	err := r.db.GetContext(ctx, cfg, `SELECT `+configColumns+` FROM finance.contributor_payment_configs WHERE user_id = $1`, userID)
	if err != nil {
		return nil, notFound(err, errors.ErrConfigNotFound, "failed to find contributor payment config by user")
	}
	return cfg, nil
}

func (r *ContributorConfigRepository) List(ctx context.Context, activeOnly bool) ([]*domain.ContributorPaymentConfig, error) {
	var cfgs []*domain.ContributorPaymentConfig
	query := `SELECT ` + configColumns + ` FROM finance.contributor_payment_configs`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &cfgs, query); err != nil {
		return nil, errors.Wrap(err, "failed to list contributor payment configs")
	}
	return cfgs, nil
}

// ==============================================================================
// GLOBAL PAYMENT SETTINGS
// ==============================================================================

// SettingsRepository reads the single row with id 1 seeded by the migration.
type SettingsRepository struct {
	db *sqlx.DB
}

func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) Get(ctx context.Context) (*domain.GlobalPaymentSettings, error) {
	settings := &domain.GlobalPaymentSettings{}
	err := r.db.GetContext(ctx, settings, `SELECT `+settingsColumns+` FROM finance.global_payment_settings WHERE id = 1`)
	if err != nil {
		return nil, notFound(err, errors.ErrSettingsNotFound, "failed to load global payment settings")
	}
	return settings, nil
}

func (r *SettingsRepository) Update(ctx context.Context, settings *domain.GlobalPaymentSettings) error {
	query := `
		UPDATE finance.global_payment_settings SET
			min_profit_threshold = :min_profit_threshold,
			payment_day_of_month = :payment_day_of_month,
			is_enabled = :is_enabled,
			updated_at = :updated_at
		WHERE id = 1
	`
	_, err := r.db.NamedExecContext(ctx, query, settings)
	if violates(err, codeCheckViolation, "payment_day") {
		return errors.ErrInvalidSettings
	}
	return errors.Wrap(err, "failed to update global payment settings")
}

func (r *SettingsRepository) StampLastRun(ctx context.Context, at time.Time, period string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE finance.global_payment_settings SET
			last_payment_run = $1,
			last_payment_period = GREATEST(COALESCE(last_payment_period, $2), $2),
			updated_at = NOW()
		WHERE id = 1`, at, period)
	return errors.Wrap(err, "failed to stamp last payment run")
}

// ==============================================================================
// CONTRIBUTOR PAYMENTS
// ==============================================================================

type ContributorPaymentRepository struct {
	db *sqlx.DB
}

func NewContributorPaymentRepository(db *sqlx.DB) *ContributorPaymentRepository {
	return &ContributorPaymentRepository{db: db}
}

// Create relies on the (config_id, payment_period) unique index; it is what
// keeps concurrent runs from paying a contributor twice.
func (r *ContributorPaymentRepository) Create(ctx context.Context, p *domain.ContributorPayment) error {
	query := `
		INSERT INTO finance.contributor_payments (` + paymentColumns + `) VALUES (
			:id, :config_id, :user_id, :amount_paid, :currency_id, :payment_period, :net_profit_at_time,
			:payment_status, :withdrawal_id, :provider_transaction_ref, :provider_response, :failure_reason,
			:attempt, :processed_at, :created_at, :updated_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, p)
	if violates(err, codeUniqueViolation, "period") {
		return errors.ErrDuplicatePeriodPayment
	}
	return errors.Wrap(err, "failed to create contributor payment")
}

func (r *ContributorPaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.ContributorPayment, error) {
	p := &domain.ContributorPayment{}
	err := r.db.GetContext(ctx, p, `SELECT `+paymentColumns+` FROM finance.contributor_payments WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, errors.ErrPaymentNotFound, "failed to find contributor payment")
	}
	return p, nil
}

func (r *ContributorPaymentRepository) FindByConfigAndPeriod(ctx context.Context, configID uuid.UUID, period string) (*domain.ContributorPayment, error) {
	p := &domain.ContributorPayment{}
	query := `SELECT ` + paymentColumns + ` FROM finance.contributor_payments WHERE config_id = $1 AND payment_period = $2`
	if err := r.db.GetContext(ctx, p, query, configID, period); err != nil {
		return nil, notFound(err, errors.ErrPaymentNotFound, "failed to find contributor payment for period")
	}
	return p, nil
}

func (r *ContributorPaymentRepository) ListByPeriod(ctx context.Context, period string) ([]*domain.ContributorPayment, error) {
	var ps []*domain.ContributorPayment
	query := `SELECT ` + paymentColumns + ` FROM finance.contributor_payments WHERE payment_period = $1 ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &ps, query, period); err != nil {
		return nil, errors.Wrap(err, "failed to list contributor payments")
	}
	return ps, nil
}

func (r *ContributorPaymentRepository) ListByStatus(ctx context.Context, status domain.PaymentStatus, limit int) ([]*domain.ContributorPayment, error) {
	var ps []*domain.ContributorPayment
	query := `SELECT ` + paymentColumns + ` FROM finance.contributor_payments WHERE payment_status = $1 ORDER BY created_at LIMIT $2`
	if err := r.db.SelectContext(ctx, &ps, query, status, limit); err != nil {
		return nil, errors.Wrap(err, "failed to list contributor payments by status")
	}
	return ps, nil
}

func (r *ContributorPaymentRepository) Transition(ctx context.Context, p *domain.ContributorPayment, from domain.PaymentStatus) error {
	query := `
		UPDATE finance.contributor_payments SET
			amount_paid = $1,
			payment_status = $2,
			withdrawal_id = $3,
			provider_transaction_ref = $4,
			provider_response = $5,
			failure_reason = $6,
			attempt = $7,
			processed_at = $8,
			updated_at = $9
		WHERE id = $10 AND payment_status = $11
	`
	res, err := r.db.ExecContext(ctx, query,
		p.AmountPaid, p.PaymentStatus, p.WithdrawalID, p.ProviderTransactionRef, p.ProviderResponse,
		p.FailureReason, p.Attempt, p.ProcessedAt, p.UpdatedAt,
		p.ID, from,
	)
	if err != nil {
		return errors.Wrap(err, "failed to transition contributor payment")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		if _, err := r.FindByID(ctx, p.ID); err != nil {
			return err
		}
		return errors.ErrStaleState
	}
	return nil
}

// ==============================================================================
// FINANCIAL REPORTS
// ==============================================================================

// ReportRepository reads the net profit of a period from the accounting
// rollup table.
type ReportRepository struct {
	db *sqlx.DB
}

func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

func (r *ReportRepository) NetProfit(ctx context.Context, period string) (decimal.Decimal, error) {
	var netProfit decimal.Decimal
	err := r.db.GetContext(ctx, &netProfit, `SELECT net_profit FROM finance.financial_reports WHERE period = $1`, period)
	if err == sql.ErrNoRows {
		return decimal.Zero, errors.ErrFinancialReportNotFound
	}
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to load net profit")
	}
	return netProfit, nil
}

// UpsertReport records the figures for a period.
func (r *ReportRepository) UpsertReport(ctx context.Context, period string, revenue, expenses decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO finance.financial_reports (period, revenue, expenses, net_profit, updated_at)
		VALUES ($1, $2, $3, $2::numeric - $3::numeric, NOW())
		ON CONFLICT (period) DO UPDATE SET
			revenue = EXCLUDED.revenue,
			expenses = EXCLUDED.expenses,
			net_profit = EXCLUDED.net_profit,
			updated_at = NOW()`, period, revenue, expenses)
	return errors.Wrap(err, "failed to upsert financial report")
}
