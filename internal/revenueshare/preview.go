package revenueshare

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"reseller/pkg/errors"
)

type PreviewLine struct {
	ConfigID    uuid.UUID  `json:"config_id"`
	UserID      uuid.UUID  `json:"user_id"`
	PayeeName   string     `json:"payee_name"`
	CurrencyID  uuid.UUID  `json:"currency_id"`
	Evaluation  Evaluation `json:"evaluation"`
	AlreadyPaid bool       `json:"already_paid"`
}

type Preview struct {
	Period    string          `json:"period"`
	NetProfit decimal.Decimal `json:"net_profit"`
	Enabled   bool            `json:"enabled"`
	Lines     []PreviewLine   `json:"lines"`
	// Totals sums the amounts that a run would pay now, per currency.
	Totals map[uuid.UUID]decimal.Decimal `json:"totals"`
}

// Preview computes eligibility and amounts for period exactly as Run would,
// without writing anything.
func (e *Engine) Preview(ctx context.Context, period string) (*Preview, error) {
	if _, err := ParsePeriod(period); err != nil {
		return nil, err
	}
	settings, err := e.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	netProfit, err := e.profits.NetProfit(ctx, period)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load net profit")
	}
	configs, err := e.configs.List(ctx, true)
	if err != nil {
		return nil, err
	}

	preview := &Preview{
		Period:    period,
		NetProfit: netProfit,
		Enabled:   settings.IsEnabled,
		Totals:    make(map[uuid.UUID]decimal.Decimal),
	}
	for _, cfg := range configs {
		currency, err := e.currencies.Get(ctx, cfg.CurrencyID)
		if err != nil {
			return nil, err
		}

		line := PreviewLine{
			ConfigID:   cfg.ID,
			UserID:     cfg.UserID,
			PayeeName:  cfg.PayeeName,
			CurrencyID: cfg.CurrencyID,
			Evaluation: Evaluate(cfg, settings, netProfit, currency.Decimals, e.cfg.MaxPayout),
		}
		if _, err := e.payments.FindByConfigAndPeriod(ctx, cfg.ID, period); err == nil {
			line.AlreadyPaid = true
		} else if !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}

		if line.Evaluation.Eligible && !line.AlreadyPaid {
			preview.Totals[cfg.CurrencyID] = preview.Totals[cfg.CurrencyID].Add(line.Evaluation.Amount)
		}
		preview.Lines = append(preview.Lines, line)
	}
	return preview, nil
}
