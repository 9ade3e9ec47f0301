package currency

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"reseller/internal/domain"
	"reseller/internal/repository/memory"
	"reseller/pkg/errors"
	"reseller/pkg/logger"
)

func seed(t *testing.T) (*Service, *memory.CurrencyRepository, *domain.Currency, *domain.Currency) {
	t.Helper()
	repo := memory.NewStore().Currencies()
	usd := &domain.Currency{ID: uuid.New(), Code: "USD", Name: "US Dollar", ExchangeRate: decimal.NewFromInt(1), Decimals: 2}
	ugx := &domain.Currency{ID: uuid.New(), Code: "UGX", Name: "Ugandan Shilling", ExchangeRate: decimal.NewFromInt(3700), Decimals: 0}
	repo.Add(usd)
	repo.Add(ugx)
	return NewService(repo, nil, 0, logger.NewNop()), repo, usd, ugx
}

func TestConvert(t *testing.T) {
	ctx := context.Background()
	svc, _, usd, ugx := seed(t)

	tests := []struct {
		name     string
		amount   string
		from, to uuid.UUID
		want     string
	}{
		{"same currency rounds", "10.005", usd.ID, usd.ID, "10.01"},
		{"into zero-decimal currency", "1.5", usd.ID, ugx.ID, "5550"},
		{"back into base", "3700", ugx.ID, usd.ID, "1"},
		{"half-up on minor unit", "1850", ugx.ID, usd.ID, "0.5"},
		{"small amount rounds half-up", "18.5", ugx.ID, usd.ID, "0.01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Convert(ctx, decimal.RequireFromString(tt.amount), tt.from, tt.to)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestConvert_UnknownCurrency(t *testing.T) {
	svc, _, usd, _ := seed(t)
	_, err := svc.Convert(context.Background(), decimal.NewFromInt(1), usd.ID, uuid.New())
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestConvert_RejectsNonPositiveRate(t *testing.T) {
	svc, repo, usd, _ := seed(t)
	broken := &domain.Currency{ID: uuid.New(), Code: "XXX", ExchangeRate: decimal.Zero, Decimals: 2}
	repo.Add(broken)

	_, err := svc.Convert(context.Background(), decimal.NewFromInt(1), usd.ID, broken.ID)
	assert.ErrorIs(t, err, errors.ErrInvalidCurrency)
}

func TestWithSnapshot_PinsRate(t *testing.T) {
	svc, repo, usd, ugx := seed(t)
	ctx := WithSnapshot(context.Background())

	first, err := svc.Convert(ctx, decimal.NewFromInt(1), usd.ID, ugx.ID)
	require.NoError(t, err)

	repo.Add(&domain.Currency{ID: ugx.ID, Code: "UGX", ExchangeRate: decimal.NewFromInt(4000), Decimals: 0})

	second, err := svc.Convert(ctx, decimal.NewFromInt(1), usd.ID, ugx.ID)
	require.NoError(t, err)
	assert.True(t, first.Equal(second))

	fresh, err := svc.Convert(context.Background(), decimal.NewFromInt(1), usd.ID, ugx.ID)
	require.NoError(t, err)
	assert.True(t, fresh.Equal(decimal.NewFromInt(4000)))

	assert.Equal(t, ctx, WithSnapshot(ctx))
}

func TestGetByCode(t *testing.T) {
	svc, _, usd, _ := seed(t)

	c, err := svc.GetByCode(context.Background(), " usd ")
	require.NoError(t, err)
	assert.Equal(t, usd.ID, c.ID)

	_, err = svc.GetByCode(context.Background(), "")
	assert.ErrorIs(t, err, errors.ErrInvalidCurrency)
}
