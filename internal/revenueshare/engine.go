// ==============================================================================
// REVENUE SHARING ENGINE - internal/revenueshare/engine.go
// ==============================================================================
package revenueshare

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"reseller/internal/contributor"
	"reseller/internal/domain"
	"reseller/internal/monitoring"
	"reseller/internal/withdrawal"
	"reseller/pkg/errors"
	"reseller/pkg/logger"
)

// PaymentRepository enforces one payment per (config, period): Create
// returns errors.ErrDuplicatePeriodPayment on a second insert. Transition is
// a compare-and-set on payment_status returning errors.ErrStaleState.
type PaymentRepository interface {
	Create(ctx context.Context, p *domain.ContributorPayment) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.ContributorPayment, error)
	FindByConfigAndPeriod(ctx context.Context, configID uuid.UUID, period string) (*domain.ContributorPayment, error)
	ListByPeriod(ctx context.Context, period string) ([]*domain.ContributorPayment, error)
	ListByStatus(ctx context.Context, status domain.PaymentStatus, limit int) ([]*domain.ContributorPayment, error)
	Transition(ctx context.Context, p *domain.ContributorPayment, from domain.PaymentStatus) error
}

// ProfitReporter supplies the net profit for a YYYY-MM period.
type ProfitReporter interface {
	NetProfit(ctx context.Context, period string) (decimal.Decimal, error)
}

// Payouts is satisfied by withdrawal.Service.
type Payouts interface {
	Create(ctx context.Context, req *withdrawal.CreateRequest) (*domain.Withdrawal, error)
	Submit(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error)
	FindBySource(ctx context.Context, sourceID uuid.UUID) ([]*domain.Withdrawal, error)
}

type Currencies interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Currency, error)
}

type Config struct {
	Operator  domain.Operator
	LockTTL   time.Duration
	MaxPayout decimal.Decimal
	Location  *time.Location
	// SyncAfter is how long a PENDING payment without a withdrawal may sit
	// before SyncProcessing treats its run as interrupted.
	SyncAfter time.Duration
}

type Engine struct {
	configs    contributor.ConfigRepository
	settings   contributor.SettingsRepository
	payments   PaymentRepository
	profits    ProfitReporter
	payouts    Payouts
	currencies Currencies
	locker     Locker
	logger     logger.Logger
	cfg        Config
	now        func() time.Time
}

func NewEngine(
	configs contributor.ConfigRepository,
	settings contributor.SettingsRepository,
	payments PaymentRepository,
	profits ProfitReporter,
	payouts Payouts,
	currencies Currencies,
	locker Locker,
	cfg Config,
	log logger.Logger,
) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Operator == "" {
		cfg.Operator = domain.OperatorMpesa
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	if cfg.SyncAfter <= 0 {
		cfg.SyncAfter = 15 * time.Minute
	}
	return &Engine{
		configs:    configs,
		settings:   settings,
		payments:   payments,
		profits:    profits,
		payouts:    payouts,
		currencies: currencies,
		locker:     locker,
		logger:     log,
		cfg:        cfg,
		now:        time.Now,
	}
}

type OutcomeStatus string

const (
	OutcomeSkipped     OutcomeStatus = "skipped"
	OutcomeAlreadyPaid OutcomeStatus = "already_paid"
	OutcomeProcessing  OutcomeStatus = "processing"
	OutcomeCompleted   OutcomeStatus = "completed"
	OutcomeFailed      OutcomeStatus = "failed"
)

// Outcome is what happened to one contributor in a run.
type Outcome struct {
	ConfigID     uuid.UUID       `json:"config_id"`
	UserID       uuid.UUID       `json:"user_id"`
	Status       OutcomeStatus   `json:"status"`
	Reason       string          `json:"reason,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	PaymentID    *uuid.UUID      `json:"payment_id,omitempty"`
	WithdrawalID *uuid.UUID      `json:"withdrawal_id,omitempty"`
}

type RunReport struct {
	Period     string          `json:"period"`
	NetProfit  decimal.Decimal `json:"net_profit"`
	SkipReason string          `json:"skip_reason,omitempty"`
	Outcomes   []Outcome       `json:"outcomes"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Count returns how many outcomes have the given status.
func (r *RunReport) Count(status OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

type RunOptions struct {
	// Force runs even when disabled or when the period already ran. It never
	// bypasses the one-payment-per-period rule.
	Force bool
}

// CurrentPeriod is the YYYY-MM period of now in the settlement time zone.
func (e *Engine) CurrentPeriod() string {
	return PeriodOf(e.now().In(e.cfg.Location))
}

// RunCheck is the daily scheduler entry point. It runs the current period
// when settlement is enabled and today is the payment day.
func (e *Engine) RunCheck(ctx context.Context) (*RunReport, error) {
	now := e.now().In(e.cfg.Location)
	period := PeriodOf(now)

	settings, err := e.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.IsEnabled {
		return e.skipped(period, "revenue sharing disabled"), nil
	}
	if day := EffectivePaymentDay(settings.PaymentDayOfMonth, now); now.Day() != day {
		return e.skipped(period, fmt.Sprintf("payment day is %d", day)), nil
	}
	return e.run(ctx, period, settings, RunOptions{})
}

// Run executes the monthly settlement for period. Concurrent or repeated
// runs are safe: each contributor gets at most one payment per period.
func (e *Engine) Run(ctx context.Context, period string, opts RunOptions) (*RunReport, error) {
	if _, err := ParsePeriod(period); err != nil {
		return nil, err
	}
	settings, err := e.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.IsEnabled && !opts.Force {
		return e.skipped(period, "revenue sharing disabled"), nil
	}
	return e.run(ctx, period, settings, opts)
}

func (e *Engine) run(ctx context.Context, period string, settings *domain.GlobalPaymentSettings, opts RunOptions) (*RunReport, error) {
	if !opts.Force && settings.LastPaymentPeriod != nil && *settings.LastPaymentPeriod == period {
		return e.skipped(period, "period already processed"), nil
	}

	release, err := e.locker.Acquire(ctx, "revenue-share:"+period, e.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, errors.ErrRunInProgress) {
			monitoring.RevenueShareRuns.WithLabelValues("locked").Inc()
		}
		return nil, err
	}
	defer release()

	report := &RunReport{Period: period, StartedAt: e.now()}
	log := e.logger.With(map[string]interface{}{"period": period})

	netProfit, err := e.profits.NetProfit(ctx, period)
	if err != nil {
		monitoring.RevenueShareRuns.WithLabelValues("error").Inc()
		return nil, errors.Wrap(err, "failed to load net profit")
	}
	report.NetProfit = netProfit

	configs, err := e.configs.List(ctx, true)
	if err != nil {
		monitoring.RevenueShareRuns.WithLabelValues("error").Inc()
		return nil, err
	}

	log.Info("Revenue share run started", map[string]interface{}{
		"net_profit":   netProfit.String(),
		"contributors": len(configs),
		"forced":       opts.Force,
	})

	for _, cfg := range configs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		outcome := e.processConfig(ctx, cfg, settings, netProfit, period)
		monitoring.ContributorPayments.WithLabelValues(string(outcome.Status)).Inc()
		report.Outcomes = append(report.Outcomes, outcome)
	}

	report.FinishedAt = e.now()
	if err := e.settings.StampLastRun(ctx, report.FinishedAt, period); err != nil {
		log.Error("Failed to stamp last payment run", map[string]interface{}{"error": err})
		return report, err
	}

	monitoring.RevenueShareRuns.WithLabelValues("completed").Inc()
	log.Info("Revenue share run finished", map[string]interface{}{
		"completed":    report.Count(OutcomeCompleted),
		"processing":   report.Count(OutcomeProcessing),
		"failed":       report.Count(OutcomeFailed),
		"skipped":      report.Count(OutcomeSkipped),
		"already_paid": report.Count(OutcomeAlreadyPaid),
	})
	return report, nil
}

func (e *Engine) skipped(period, reason string) *RunReport {
	monitoring.RevenueShareRuns.WithLabelValues("skipped").Inc()
	e.logger.Debug("Revenue share run skipped", map[string]interface{}{
		"period": period,
		"reason": reason,
	})
	now := e.now()
	return &RunReport{Period: period, SkipReason: reason, StartedAt: now, FinishedAt: now}
}

// processConfig never returns an error: a failure is recorded on the
// contributor's outcome and the run moves on.
func (e *Engine) processConfig(ctx context.Context, cfg *domain.ContributorPaymentConfig, settings *domain.GlobalPaymentSettings, netProfit decimal.Decimal, period string) Outcome {
	out := Outcome{ConfigID: cfg.ID, UserID: cfg.UserID}
	log := e.logger.With(map[string]interface{}{
		"period":    period,
		"config_id": cfg.ID,
		"user_id":   cfg.UserID,
	})

	currency, err := e.currencies.Get(ctx, cfg.CurrencyID)
	if err != nil {
		log.Error("Contributor currency unavailable", map[string]interface{}{"error": err})
		out.Status, out.Reason = OutcomeFailed, err.Error()
		return out
	}

	ev := Evaluate(cfg, settings, netProfit, currency.Decimals, e.cfg.MaxPayout)
	out.Amount = ev.Amount
	if !ev.Eligible {
		if ev.Reason == ReasonNoThreshold || ev.Reason == ReasonNoAmount {
			log.Warn("Contributor skipped: config incomplete", map[string]interface{}{"reason": ev.Reason})
		} else {
			log.Info("Contributor not eligible", map[string]interface{}{"reason": ev.Reason})
		}
		out.Status, out.Reason = OutcomeSkipped, string(ev.Reason)
		return out
	}
	if ev.Capped {
		log.Warn("Contributor payout capped", map[string]interface{}{"amount": ev.Amount.String()})
	}

	if existing, err := e.payments.FindByConfigAndPeriod(ctx, cfg.ID, period); err == nil {
		return alreadyPaid(out, existing)
	} else if !errors.Is(err, errors.ErrNotFound) {
		out.Status, out.Reason = OutcomeFailed, err.Error()
		return out
	}

	now := e.now()
	p := &domain.ContributorPayment{
		ID:              uuid.New(),
		ConfigID:        cfg.ID,
		UserID:          cfg.UserID,
		AmountPaid:      ev.Amount,
		CurrencyID:      cfg.CurrencyID,
		PaymentPeriod:   period,
		NetProfitAtTime: netProfit,
		PaymentStatus:   domain.PaymentStatusPending,
		Attempt:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.payments.Create(ctx, p); err != nil {
		if errors.Is(err, errors.ErrDuplicatePeriodPayment) {
			// another trigger won the insert
			existing, ferr := e.payments.FindByConfigAndPeriod(ctx, cfg.ID, period)
			if ferr != nil {
				out.Status, out.Reason = OutcomeAlreadyPaid, "payment exists for period"
				return out
			}
			return alreadyPaid(out, existing)
		}
		log.Error("Failed to record contributor payment", map[string]interface{}{"error": err})
		out.Status, out.Reason = OutcomeFailed, err.Error()
		return out
	}

	out.PaymentID = &p.ID
	return e.pay(ctx, cfg, p, out)
}

func alreadyPaid(out Outcome, p *domain.ContributorPayment) Outcome {
	out.Status = OutcomeAlreadyPaid
	out.Reason = string(p.PaymentStatus)
	out.Amount = p.AmountPaid
	out.PaymentID = &p.ID
	out.WithdrawalID = p.WithdrawalID
	return out
}

// pay drives a PENDING payment through a withdrawal and reports where it
// ended up. Settlement of the payment itself happens in WithdrawalSettled.
func (e *Engine) pay(ctx context.Context, cfg *domain.ContributorPaymentConfig, p *domain.ContributorPayment, out Outcome) Outcome {
	log := e.logger.With(map[string]interface{}{
		"payment_id": p.ID,
		"period":     p.PaymentPeriod,
		"config_id":  cfg.ID,
	})

	operator := e.cfg.Operator
	if cfg.Operator != nil {
		operator = *cfg.Operator
	}
	name := cfg.PayeeName
	if name == "" {
		name = "Contributor " + cfg.UserID.String()
	}

	w, err := e.payouts.Create(ctx, &withdrawal.CreateRequest{
		Amount:        p.AmountPaid,
		CurrencyID:    p.CurrencyID,
		Operator:      operator,
		CustomerName:  name,
		CustomerPhone: cfg.PhoneNumber,
		Reason:        fmt.Sprintf("Revenue share %s", p.PaymentPeriod),
		Purpose:       domain.WithdrawalPurposeContributorShare,
		SourceID:      &p.ID,
	})
	if err != nil {
		log.Error("Failed to create contributor withdrawal", map[string]interface{}{"error": err})
		if ferr := e.failPayment(ctx, p, "withdrawal not created: "+err.Error()); ferr != nil {
			log.Error("Failed to mark contributor payment failed", map[string]interface{}{"error": ferr})
		}
		out.Status, out.Reason = OutcomeFailed, err.Error()
		return out
	}
	out.WithdrawalID = &w.ID

	next := *p
	next.WithdrawalID = &w.ID
	next.PaymentStatus = domain.PaymentStatusProcessing
	next.UpdatedAt = e.now()
	if err := e.payments.Transition(ctx, &next, domain.PaymentStatusPending); err != nil && !errors.Is(err, errors.ErrStaleState) {
		log.Error("Failed to mark contributor payment processing", map[string]interface{}{"error": err})
	}

	if _, err := e.payouts.Submit(ctx, w.ID); err != nil {
		log.Warn("Contributor payout not accepted", map[string]interface{}{
			"withdrawal_id": w.ID,
			"error":         err,
		})
	}

	current, err := e.payments.FindByID(ctx, p.ID)
	if err != nil {
		out.Status, out.Reason = OutcomeProcessing, err.Error()
		return out
	}
	switch current.PaymentStatus {
	case domain.PaymentStatusCompleted:
		out.Status = OutcomeCompleted
	case domain.PaymentStatusFailed:
		out.Status = OutcomeFailed
		if current.FailureReason != nil {
			out.Reason = *current.FailureReason
		}
	default:
		out.Status = OutcomeProcessing
	}
	return out
}

func (e *Engine) failPayment(ctx context.Context, p *domain.ContributorPayment, reason string) error {
	next := *p
	next.PaymentStatus = domain.PaymentStatusFailed
	next.FailureReason = &reason
	next.UpdatedAt = e.now()
	if err := e.payments.Transition(ctx, &next, p.PaymentStatus); err != nil {
		return err
	}
	*p = next
	return nil
}

// Payments lists the payments recorded for period.
func (e *Engine) Payments(ctx context.Context, period string) ([]*domain.ContributorPayment, error) {
	if _, err := ParsePeriod(period); err != nil {
		return nil, err
	}
	return e.payments.ListByPeriod(ctx, period)
}
