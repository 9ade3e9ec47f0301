package revenueshare

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"reseller/internal/domain"
	"reseller/pkg/errors"
)

const periodLayout = "2006-01"

// PeriodOf returns the YYYY-MM payment period containing t.
func PeriodOf(t time.Time) string {
	return t.Format(periodLayout)
}

// ParsePeriod validates a YYYY-MM period.
func ParsePeriod(period string) (time.Time, error) {
	t, err := time.Parse(periodLayout, period)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", errors.ErrInvalidPeriod, period)
	}
	return t, nil
}

// EffectivePaymentDay clamps the configured day to the length of t's month.
func EffectivePaymentDay(day int, t time.Time) int {
	last := time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
	switch {
	case day < 1:
		return 1
	case day > last:
		return last
	}
	return day
}

type Reason string

const (
	ReasonAlwaysPay      Reason = "always_pay"
	ReasonThresholdMet   Reason = "threshold_met"
	ReasonBelowThreshold Reason = "below_threshold"
	ReasonNoThreshold    Reason = "no_threshold"
	ReasonNoAmount       Reason = "incomplete_amount"
	ReasonNonPositive    Reason = "non_positive_amount"
	ReasonInactive       Reason = "inactive"
)

// Evaluation is the eligibility and amount decision for one config.
type Evaluation struct {
	Eligible  bool             `json:"eligible"`
	Reason    Reason           `json:"reason"`
	Threshold *decimal.Decimal `json:"threshold,omitempty"`
	Amount    decimal.Decimal  `json:"amount"`
	Capped    bool             `json:"capped,omitempty"`
}

// Evaluate decides whether cfg is paid for a period with the given net
// profit, and how much. decimals is the payout currency's minor-unit
// precision; a positive maxPayout caps the amount.
func Evaluate(cfg *domain.ContributorPaymentConfig, settings *domain.GlobalPaymentSettings, netProfit decimal.Decimal, decimals int32, maxPayout decimal.Decimal) Evaluation {
	if !cfg.IsActive {
		return Evaluation{Reason: ReasonInactive}
	}

	threshold := cfg.MinProfitThreshold
	if cfg.UseGlobalThreshold {
		threshold = settings.MinProfitThreshold
	}

	ev := Evaluation{Threshold: threshold}
	switch {
	case cfg.AlwaysPay:
		ev.Reason = ReasonAlwaysPay
	case threshold == nil:
		ev.Reason = ReasonNoThreshold
		return ev
	case netProfit.GreaterThanOrEqual(*threshold):
		ev.Reason = ReasonThresholdMet
	default:
		ev.Reason = ReasonBelowThreshold
		return ev
	}

	amount, err := ComputeAmount(cfg, netProfit, decimals)
	if err != nil {
		ev.Reason = ReasonNoAmount
		return ev
	}
	if maxPayout.IsPositive() && amount.GreaterThan(maxPayout) {
		amount = maxPayout.Round(decimals)
		ev.Capped = true
	}
	if !amount.IsPositive() {
		ev.Reason = ReasonNonPositive
		return ev
	}

	ev.Eligible = true
	ev.Amount = amount
	return ev
}

// ComputeAmount applies the config's FIXED or PERCENTAGE rule and rounds
// half-up to decimals.
func ComputeAmount(cfg *domain.ContributorPaymentConfig, netProfit decimal.Decimal, decimals int32) (decimal.Decimal, error) {
	switch cfg.AmountType {
	case domain.AmountTypeFixed:
		if cfg.FixedAmount == nil {
			return decimal.Zero, errors.ErrConfigIncomplete
		}
		return cfg.FixedAmount.Round(decimals), nil
	case domain.AmountTypePercentage:
		if cfg.PercentageValue == nil {
			return decimal.Zero, errors.ErrConfigIncomplete
		}
		return netProfit.Mul(*cfg.PercentageValue).Div(decimal.NewFromInt(100)).Round(decimals), nil
	}
	return decimal.Zero, errors.ErrConfigIncomplete
}
