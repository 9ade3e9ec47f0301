package contributor

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"reseller/internal/currency"
	"reseller/internal/domain"
	"reseller/internal/repository/memory"
	"reseller/pkg/errors"
	"reseller/pkg/logger"
)

func newTestService(t *testing.T) (*Service, *domain.Currency) {
	t.Helper()
	store := memory.NewStore()
	kes := &domain.Currency{ID: uuid.New(), Code: "KES", ExchangeRate: decimal.NewFromInt(130), Decimals: 2}
	store.Currencies().Add(kes)
	currencies := currency.NewService(store.Currencies(), nil, 0, logger.NewNop())
	return NewService(store.Configs(), store.Settings(), currencies, logger.NewNop()), kes
}

func pct(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func validRequest(currencyID uuid.UUID) *ConfigRequest {
	return &ConfigRequest{
		UserID:             uuid.New(),
		PayeeName:          "Amina Odhiambo",
		AmountType:         domain.AmountTypePercentage,
		PercentageValue:    pct("5"),
		UseGlobalThreshold: true,
		CurrencyID:         currencyID,
		PhoneNumber:        "+254712345678",
	}
}

func TestCreateConfig(t *testing.T) {
	ctx := context.Background()
	svc, kes := newTestService(t)

	req := validRequest(kes.ID)
	cfg, err := svc.CreateConfig(ctx, req)
	require.NoError(t, err)
	assert.True(t, cfg.IsActive)
	assert.Nil(t, cfg.FixedAmount)
	assert.True(t, cfg.PercentageValue.Equal(decimal.NewFromInt(5)))

	byUser, err := svc.GetConfigByUser(ctx, req.UserID)
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, byUser.ID)

	_, err = svc.CreateConfig(ctx, req)
	assert.ErrorIs(t, err, errors.ErrDuplicateConfig)
}

func TestCreateConfig_Validation(t *testing.T) {
	svc, kes := newTestService(t)
	mpesa := domain.OperatorMpesa
	bogus := domain.Operator("CARRIER_PIGEON")

	tests := []struct {
		name   string
		mutate func(r *ConfigRequest)
		want   error
	}{
		{"percentage zero", func(r *ConfigRequest) { r.PercentageValue = pct("0") }, errors.ErrInvalidConfig},
		{"percentage above 100", func(r *ConfigRequest) { r.PercentageValue = pct("100.01") }, errors.ErrInvalidConfig},
		{"percentage missing", func(r *ConfigRequest) { r.PercentageValue = nil }, errors.ErrInvalidConfig},
		{"fixed missing", func(r *ConfigRequest) { r.AmountType = domain.AmountTypeFixed }, errors.ErrInvalidConfig},
		{"fixed negative", func(r *ConfigRequest) {
			r.AmountType = domain.AmountTypeFixed
			r.FixedAmount = pct("-1")
		}, errors.ErrInvalidConfig},
		{"unknown amount type", func(r *ConfigRequest) { r.AmountType = "SHARES" }, errors.ErrInvalidConfig},
		{"negative threshold", func(r *ConfigRequest) { r.MinProfitThreshold = pct("-10") }, errors.ErrInvalidConfig},
		{"local phone format", func(r *ConfigRequest) { r.PhoneNumber = "0712345678" }, errors.ErrInvalidRecipient},
		{"unknown operator", func(r *ConfigRequest) { r.Operator = &bogus }, errors.ErrInvalidRecipient},
		{"blank payee", func(r *ConfigRequest) { r.PayeeName = " " }, errors.ErrInvalidRecipient},
		{"unknown currency", func(r *ConfigRequest) { r.CurrencyID = uuid.New() }, errors.ErrInvalidCurrency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest(kes.ID)
			req.Operator = &mpesa
			tt.mutate(req)
			_, err := svc.CreateConfig(context.Background(), req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUpdateConfig_KeepsOwnerAndClearsOtherAmount(t *testing.T) {
	ctx := context.Background()
	svc, kes := newTestService(t)
	cfg, err := svc.CreateConfig(ctx, validRequest(kes.ID))
	require.NoError(t, err)

	inactive := false
	req := validRequest(kes.ID)
	req.AmountType = domain.AmountTypeFixed
	req.FixedAmount = pct("250")
	req.IsActive = &inactive

	updated, err := svc.UpdateConfig(ctx, cfg.ID, req)
	require.NoError(t, err)
	assert.Equal(t, cfg.UserID, updated.UserID)
	assert.Nil(t, updated.PercentageValue)
	assert.True(t, updated.FixedAmount.Equal(decimal.NewFromInt(250)))
	assert.False(t, updated.IsActive)

	active, err := svc.ListConfigs(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	reactivated, err := svc.SetActive(ctx, cfg.ID, true)
	require.NoError(t, err)
	assert.True(t, reactivated.IsActive)

	_, err = svc.UpdateConfig(ctx, uuid.New(), req)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	defaults, err := svc.GetSettings(ctx)
	require.NoError(t, err)
	assert.False(t, defaults.IsEnabled)
	assert.Equal(t, 1, defaults.PaymentDayOfMonth)

	updated, err := svc.UpdateSettings(ctx, &SettingsRequest{MinProfitThreshold: pct("1000"), PaymentDayOfMonth: 28, IsEnabled: true})
	require.NoError(t, err)
	assert.True(t, updated.IsEnabled)

	got, err := svc.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 28, got.PaymentDayOfMonth)
	assert.True(t, got.MinProfitThreshold.Equal(decimal.NewFromInt(1000)))

	for _, req := range []*SettingsRequest{
		{PaymentDayOfMonth: 0},
		{PaymentDayOfMonth: 29},
		{PaymentDayOfMonth: 10, MinProfitThreshold: pct("-1")},
	} {
		_, err := svc.UpdateSettings(ctx, req)
		assert.ErrorIs(t, err, errors.ErrInvalidSettings)
	}
	got, err = svc.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 28, got.PaymentDayOfMonth)
}
