package revenueshare

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"reseller/internal/currency"
	"reseller/internal/domain"
	"reseller/internal/gateway"
	"reseller/internal/repository/memory"
	"reseller/internal/wallet"
	"reseller/internal/withdrawal"
	"reseller/pkg/errors"
	"reseller/pkg/logger"
)

// stubGateway accepts every payout except those to rejected phone numbers,
// and reports everything it was asked about as pending.
type stubGateway struct {
	mu      sync.Mutex
	reject  map[string]bool
	submits int
}

func (g *stubGateway) Submit(_ context.Context, req *gateway.PayoutRequest) (*gateway.SubmitResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submits++
	if g.reject[req.Recipient.Phone] {
		return &gateway.SubmitResult{Accepted: false, Reason: "RECIPIENT_BARRED"}, nil
	}
	return &gateway.SubmitResult{Accepted: true, ProviderTransactionRef: "P-" + req.AppTransactionRef}, nil
}

func (g *stubGateway) QueryStatus(_ context.Context, _ string) (*gateway.StatusResult, error) {
	return &gateway.StatusResult{Status: gateway.StatusPending}, nil
}

func (g *stubGateway) setReject(phone string, v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reject[phone] = v
}

func (g *stubGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.submits
}

type env struct {
	engine  *Engine
	store   *memory.Store
	payouts *withdrawal.Service
	gw      *stubGateway
	signer  *gateway.Signer
	kes     *domain.Currency
}

func newEnv(t *testing.T, now time.Time) *env {
	return newEnvWithPayouts(t, now, withdrawal.Config{
		MaxAttempts:    1,
		AttemptTimeout: time.Second,
		CallbackWindow: 10 * time.Minute,
		ExpiryWindow:   24 * time.Hour,
	})
}

func newEnvWithPayouts(t *testing.T, now time.Time, payoutCfg withdrawal.Config) *env {
	t.Helper()
	log := logger.NewNop()
	store := memory.NewStore()
	kes := &domain.Currency{ID: uuid.New(), Code: "KES", Name: "Kenyan Shilling", ExchangeRate: decimal.NewFromInt(130), Decimals: 2}
	store.Currencies().Add(kes)

	currencies := currency.NewService(store.Currencies(), nil, 0, log)
	wallets := wallet.NewService(store.Wallets(), currencies, log)
	gw := &stubGateway{reject: make(map[string]bool)}
	signer := gateway.NewSigner("callback-secret")
	payouts := withdrawal.NewService(store.Withdrawals(), wallets, currencies, gw, signer, payoutCfg, log)

	engine := NewEngine(store.Configs(), store.Settings(), store.Payments(), store.Reports(), payouts, currencies, NewLocalLocker(), Config{}, log)
	engine.now = func() time.Time { return now }
	payouts.Observe(engine)

	return &env{engine: engine, store: store, payouts: payouts, gw: gw, signer: signer, kes: kes}
}

func (e *env) settings(t *testing.T, enabled bool, threshold *decimal.Decimal, day int) {
	t.Helper()
	require.NoError(t, e.store.Settings().Update(context.Background(), &domain.GlobalPaymentSettings{
		MinProfitThreshold: threshold,
		PaymentDayOfMonth:  day,
		IsEnabled:          enabled,
	}))
}

func (e *env) contributor(t *testing.T, phone string, mutate func(c *domain.ContributorPaymentConfig)) *domain.ContributorPaymentConfig {
	t.Helper()
	cfg := &domain.ContributorPaymentConfig{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		PayeeName:          "Contributor " + phone,
		IsActive:           true,
		AmountType:         domain.AmountTypePercentage,
		PercentageValue:    dec("5"),
		UseGlobalThreshold: true,
		CurrencyID:         e.kes.ID,
		PhoneNumber:        phone,
	}
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, e.store.Configs().Create(context.Background(), cfg))
	return cfg
}

func (e *env) payments(t *testing.T, period string) []*domain.ContributorPayment {
	t.Helper()
	ps, err := e.engine.Payments(context.Background(), period)
	require.NoError(t, err)
	return ps
}

func (e *env) withdrawals(t *testing.T) []*domain.Withdrawal {
	t.Helper()
	ws, err := e.payouts.List(context.Background(), withdrawal.ListFilter{})
	require.NoError(t, err)
	return ws
}

func (e *env) callback(t *testing.T, w *domain.Withdrawal, status string) []byte {
	t.Helper()
	cb := &gateway.Callback{
		AppTransactionRef:      w.AppTransactionRef,
		ProviderTransactionRef: "P-" + w.AppTransactionRef,
		Status:                 status,
		Amount:                 w.Amount.StringFixed(2),
		Currency:               "KES",
	}
	e.signer.SignCallback(cb)
	body, err := json.Marshal(cb)
	require.NoError(t, err)
	return body
}

var june15 = time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

// ==============================================================================
// RUN
// ==============================================================================

func TestRun_PaysPercentageShareOncePerPeriod(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, june15)
	e.settings(t, true, dec("1000"), 15)
	e.store.Reports().SetNetProfit("2024-06", decimal.NewFromInt(2000))
	cfg := e.contributor(t, "+254700000001", nil)

	report, err := e.engine.Run(ctx, "2024-06", RunOptions{})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	out := report.Outcomes[0]
	assert.Equal(t, OutcomeProcessing, out.Status)
	assert.Equal(t, "100.00", out.Amount.StringFixed(2))
	require.NotNil(t, out.WithdrawalID)

	ps := e.payments(t, "2024-06")
	require.Len(t, ps, 1)
	p := ps[0]
	assert.Equal(t, cfg.ID, p.ConfigID)
	assert.Equal(t, domain.PaymentStatusProcessing, p.PaymentStatus)
	assert.True(t, p.NetProfitAtTime.Equal(decimal.NewFromInt(2000)))

	ws := e.withdrawals(t)
	require.Len(t, ws, 1)
	w := ws[0]
	assert.Equal(t, domain.WithdrawalPurposeContributorShare, w.Purpose)
	assert.Equal(t, p.ID, *w.SourceID)
	assert.Equal(t, domain.OperatorMpesa, w.Operator)
	assert.Equal(t, domain.WithdrawalStatusSubmitted, w.Status)

	settings, err := e.store.Settings().Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, settings.LastPaymentRun)
	require.NotNil(t, settings.LastPaymentPeriod)
	assert.Equal(t, "2024-06", *settings.LastPaymentPeriod)

	// provider confirms
	_, err = e.payouts.HandleCallback(ctx, e.callback(t, w, "success"))
	require.NoError(t, err)
	ps = e.payments(t, "2024-06")
	assert.Equal(t, domain.PaymentStatusCompleted, ps[0].PaymentStatus)
	assert.NotNil(t, ps[0].ProcessedAt)
	require.NotNil(t, ps[0].ProviderTransactionRef)

	// the period is done
	again, err := e.engine.Run(ctx, "2024-06", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "period already processed", again.SkipReason)

	forced, err := e.engine.Run(ctx, "2024-06", RunOptions{Force: true})
	require.NoError(t, err)
	require.Len(t, forced.Outcomes, 1)
	assert.Equal(t, OutcomeAlreadyPaid, forced.Outcomes[0].Status)
	assert.Len(t, e.payments(t, "2024-06"), 1)
	assert.Len(t, e.withdrawals(t), 1)
	assert.Equal(t, 1, e.gw.count())
}

func TestRun_ConcurrentTriggersCreateOnePayment(t *testing.T) {
	tests := []struct {
		name   string
		locker Locker
	}{
		{"with run lock", NewLocalLocker()},
		{"without run lock", noLock{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, june15)
			e.engine.locker = tt.locker
			e.settings(t, true, dec("1000"), 15)
			e.store.Reports().SetNetProfit("2024-06", decimal.NewFromInt(2000))
			e.contributor(t, "+254700000001", nil)
			e.contributor(t, "+254700000002", nil)

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := e.engine.Run(context.Background(), "2024-06", RunOptions{Force: true})
					if err != nil {
						assert.ErrorIs(t, err, errors.ErrRunInProgress)
					}
				}()
			}
			wg.Wait()

			assert.Len(t, e.payments(t, "2024-06"), 2)
			assert.Len(t, e.withdrawals(t), 2)
			assert.Equal(t, 2, e.gw.count())
		})
	}
}

type noLock struct{}

func (noLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

func TestRun_FailureIsolation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, june15)
	e.settings(t, true, dec("1000"), 15)
	e.store.Reports().SetNetProfit("2024-06", decimal.NewFromInt(2000))

	first := e.contributor(t, "+254700000001", nil)
	barred := e.contributor(t, "+254700000002", nil)
	orphan := e.contributor(t, "+254700000003", func(c *domain.ContributorPaymentConfig) { c.CurrencyID = uuid.New() })
	below := e.contributor(t, "+254700000004", func(c *domain.ContributorPaymentConfig) {
		c.UseGlobalThreshold = false
		c.MinProfitThreshold = dec("5000")
	})
	last := e.contributor(t, "+254700000005", func(c *domain.ContributorPaymentConfig) {
		c.AmountType = domain.AmountTypeFixed
		c.FixedAmount = dec("75.50")
		c.PercentageValue = nil
	})
	e.gw.setReject(barred.PhoneNumber, true)

	report, err := e.engine.Run(ctx, "2024-06", RunOptions{})
	require.NoError(t, err)

	byConfig := make(map[uuid.UUID]Outcome)
	for _, o := range report.Outcomes {
		byConfig[o.ConfigID] = o
	}
	assert.Equal(t, OutcomeProcessing, byConfig[first.ID].Status)
	assert.Equal(t, OutcomeFailed, byConfig[barred.ID].Status)
	assert.Equal(t, "RECIPIENT_BARRED", byConfig[barred.ID].Reason)
	assert.Equal(t, OutcomeFailed, byConfig[orphan.ID].Status)
	assert.Equal(t, OutcomeSkipped, byConfig[below.ID].Status)
	assert.Equal(t, string(ReasonBelowThreshold), byConfig[below.ID].Reason)
	assert.Equal(t, OutcomeProcessing, byConfig[last.ID].Status)
	assert.Equal(t, "75.50", byConfig[last.ID].Amount.StringFixed(2))

	assert.Len(t, e.payments(t, "2024-06"), 3)
	settings, err := e.store.Settings().Get(ctx)
	require.NoError(t, err)
	assert.NotNil(t, settings.LastPaymentRun)
}

func TestRun_Gates(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled unless forced", func(t *testing.T) {
		e := newEnv(t, june15)
		e.settings(t, false, dec("1000"), 15)
		e.store.Reports().SetNetProfit("2024-06", decimal.NewFromInt(2000))
		e.contributor(t, "+254700000001", nil)

		report, err := e.engine.Run(ctx, "2024-06", RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, "revenue sharing disabled", report.SkipReason)
		assert.Empty(t, e.payments(t, "2024-06"))

		report, err = e.engine.Run(ctx, "2024-06", RunOptions{Force: true})
		require.NoError(t, err)
		assert.Equal(t, 1, report.Count(OutcomeProcessing))
	})

	t.Run("missing net profit", func(t *testing.T) {
		e := newEnv(t, june15)
		e.settings(t, true, dec("1000"), 15)
		e.contributor(t, "+254700000001", nil)

		_, err := e.engine.Run(ctx, "2024-06", RunOptions{})
		assert.ErrorIs(t, err, errors.ErrFinancialReportNotFound)
		settings, err := e.store.Settings().Get(ctx)
		require.NoError(t, err)
		assert.Nil(t, settings.LastPaymentRun)
	})

	t.Run("bad period", func(t *testing.T) {
		e := newEnv(t, june15)
		_, err := e.engine.Run(ctx, "2024/06", RunOptions{})
		assert.ErrorIs(t, err, errors.ErrInvalidPeriod)
	})
}

func TestRunCheck_CatchUpRunDoesNotBlockCurrentPeriod(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC))
	e.settings(t, true, dec("1000"), 15)
	e.store.Reports().SetNetProfit("2024-05", decimal.NewFromInt(2000))
	e.store.Reports().SetNetProfit("2024-06", decimal.NewFromInt(3000))
	e.contributor(t, "+254700000001", nil)

	may, err := e.engine.Run(ctx, "2024-05", RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, may.SkipReason)
	assert.Len(t, e.payments(t, "2024-05"), 1)

	e.engine.now = func() time.Time { return june15 }
	june, err := e.engine.RunCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-06", june.Period)
	assert.Empty(t, june.SkipReason)
	assert.Len(t, e.payments(t, "2024-06"), 1)

	// an older period run later does not move the marker back
	e.store.Reports().SetNetProfit("2024-04", decimal.NewFromInt(2000))
	_, err = e.engine.Run(ctx, "2024-04", RunOptions{})
	require.NoError(t, err)
	settings, err := e.store.Settings().Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, settings.LastPaymentPeriod)
	assert.Equal(t, "2024-06", *settings.LastPaymentPeriod)

	again, err := e.engine.RunCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, "period already processed", again.SkipReason)
}

func TestRunCheck(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		now      time.Time
		day      int
		enabled  bool
		wantRun  bool
		wantSkip string
	}{
		{"payment day", time.Date(2024, 6, 15, 2, 0, 0, 0, time.UTC), 15, true, true, ""},
		{"other day", time.Date(2024, 6, 14, 2, 0, 0, 0, time.UTC), 15, true, false, "payment day is 15"},
		{"disabled", time.Date(2024, 6, 15, 2, 0, 0, 0, time.UTC), 15, false, false, "revenue sharing disabled"},
		{"day clamped to end of february", time.Date(2024, 2, 29, 2, 0, 0, 0, time.UTC), 31, true, true, ""},
		{"not yet end of february", time.Date(2024, 2, 28, 2, 0, 0, 0, time.UTC), 31, true, false, "payment day is 29"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, tt.now)
			e.settings(t, tt.enabled, dec("1000"), tt.day)
			period := PeriodOf(tt.now)
			e.store.Reports().SetNetProfit(period, decimal.NewFromInt(2000))
			e.contributor(t, "+254700000001", nil)

			report, err := e.engine.RunCheck(ctx)
			require.NoError(t, err)
			assert.Equal(t, period, report.Period)
			assert.Equal(t, tt.wantSkip, report.SkipReason)
			if tt.wantRun {
				assert.Len(t, e.payments(t, period), 1)
			} else {
				assert.Empty(t, e.payments(t, period))
			}
		})
	}
}

// ==============================================================================
// PREVIEW
// ==============================================================================

func TestPreview_DoesNotMutate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, june15)
	e.settings(t, true, dec("1000"), 15)
	e.store.Reports().SetNetProfit("2024-06", decimal.NewFromInt(2000))
	e.contributor(t, "+254700000001", nil)
	e.contributor(t, "+254700000002", func(c *domain.ContributorPaymentConfig) { c.PercentageValue = dec("2.5") })
	e.contributor(t, "+254700000003", func(c *domain.ContributorPaymentConfig) {
		c.UseGlobalThreshold = false
		c.MinProfitThreshold = nil
	})

	preview, err := e.engine.Preview(ctx, "2024-06")
	require.NoError(t, err)
	require.Len(t, preview.Lines, 3)
	assert.True(t, preview.Enabled)
	assert.True(t, preview.Lines[0].Evaluation.Eligible)
	assert.True(t, preview.Lines[1].Evaluation.Eligible)
	assert.Equal(t, ReasonNoThreshold, preview.Lines[2].Evaluation.Reason)
	assert.Equal(t, "150.00", preview.Totals[e.kes.ID].StringFixed(2))

	assert.Empty(t, e.payments(t, "2024-06"))
	assert.Empty(t, e.withdrawals(t))
	assert.Zero(t, e.gw.count())
	settings, err := e.store.Settings().Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, settings.LastPaymentRun)

	// once paid, the line is flagged and leaves the totals
	_, err = e.engine.Run(ctx, "2024-06", RunOptions{})
	require.NoError(t, err)
	preview, err = e.engine.Preview(ctx, "2024-06")
	require.NoError(t, err)
	assert.True(t, preview.Lines[0].AlreadyPaid)
	assert.True(t, preview.Totals[e.kes.ID].IsZero())
}

// ==============================================================================
// SETTLEMENT AND RETRY
// ==============================================================================

func TestRetryPayment(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, june15)
	e.settings(t, true, dec("1000"), 15)
	e.store.Reports().SetNetProfit("2024-06", decimal.NewFromInt(2000))
	cfg := e.contributor(t, "+254700000001", nil)
	e.gw.setReject(cfg.PhoneNumber, true)

	report, err := e.engine.Run(ctx, "2024-06", RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Count(OutcomeFailed))
	failed := e.payments(t, "2024-06")[0]
	require.Equal(t, domain.PaymentStatusFailed, failed.PaymentStatus)
	firstWithdrawal := *failed.WithdrawalID

	e.gw.setReject(cfg.PhoneNumber, false)
	retried, err := e.engine.RetryPayment(ctx, failed.ID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusProcessing, retried.PaymentStatus)
	assert.Equal(t, 2, retried.Attempt)
	require.NotNil(t, retried.WithdrawalID)
	assert.NotEqual(t, firstWithdrawal, *retried.WithdrawalID)
	assert.Nil(t, retried.FailureReason)

	ws := e.withdrawals(t)
	require.Len(t, ws, 2)
	assert.NotEqual(t, ws[0].AppTransactionRef, ws[1].AppTransactionRef)

	// the superseded withdrawal cannot settle the payment
	old, err := e.payouts.Get(ctx, firstWithdrawal)
	require.NoError(t, err)
	old.Status = domain.WithdrawalStatusSuccess
	e.engine.WithdrawalSettled(ctx, old)
	p, err := e.store.Payments().FindByID(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusProcessing, p.PaymentStatus)

	_, err = e.engine.RetryPayment(ctx, failed.ID, false)
	assert.ErrorIs(t, err, errors.ErrPaymentNotRetryable)
}

func TestRetryPayment_ExpiredNeedsForce(t *testing.T) {
	ctx := context.Background()
	// windows in the past make every submitted withdrawal immediately stale
	e := newEnvWithPayouts(t, june15, withdrawal.Config{
		MaxAttempts:    1,
		AttemptTimeout: time.Second,
		CallbackWindow: -time.Minute,
		ExpiryWindow:   -time.Minute,
	})
	e.settings(t, true, dec("1000"), 15)
	e.store.Reports().SetNetProfit("2024-06", decimal.NewFromInt(2000))
	e.contributor(t, "+254700000001", nil)

	_, err := e.engine.Run(ctx, "2024-06", RunOptions{})
	require.NoError(t, err)

	sweep, err := e.payouts.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sweep.Expired)

	p := e.payments(t, "2024-06")[0]
	assert.Equal(t, domain.PaymentStatusFailed, p.PaymentStatus)
	require.NotNil(t, p.FailureReason)

	_, err = e.engine.RetryPayment(ctx, p.ID, false)
	assert.ErrorIs(t, err, errors.ErrPaymentNotRetryable)

	retried, err := e.engine.RetryPayment(ctx, p.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, retried.Attempt)
	assert.Equal(t, domain.PaymentStatusProcessing, retried.PaymentStatus)
}

func TestSyncProcessing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, june15)
	cfg := e.contributor(t, "+254700000001", nil)
	other := e.contributor(t, "+254700000002", nil)

	// a run that crashed before creating the payout
	stranded := &domain.ContributorPayment{
		ID:            uuid.New(),
		ConfigID:      cfg.ID,
		UserID:        cfg.UserID,
		AmountPaid:    decimal.NewFromInt(100),
		CurrencyID:    e.kes.ID,
		PaymentPeriod: "2024-05",
		PaymentStatus: domain.PaymentStatusPending,
		Attempt:       1,
		CreatedAt:     june15.Add(-time.Hour),
	}
	require.NoError(t, e.store.Payments().Create(ctx, stranded))

	// a run that crashed after creating the payout but before linking it
	linked := &domain.ContributorPayment{
		ID:            uuid.New(),
		ConfigID:      other.ID,
		UserID:        other.UserID,
		AmountPaid:    decimal.NewFromInt(100),
		CurrencyID:    e.kes.ID,
		PaymentPeriod: "2024-05",
		PaymentStatus: domain.PaymentStatusPending,
		Attempt:       1,
		CreatedAt:     june15.Add(-time.Hour),
	}
	require.NoError(t, e.store.Payments().Create(ctx, linked))
	w, err := e.payouts.Create(ctx, &withdrawal.CreateRequest{
		Amount:        linked.AmountPaid,
		CurrencyID:    e.kes.ID,
		Operator:      domain.OperatorMpesa,
		CustomerName:  other.PayeeName,
		CustomerPhone: other.PhoneNumber,
		Reason:        "Revenue share 2024-05",
		Purpose:       domain.WithdrawalPurposeContributorShare,
		SourceID:      &linked.ID,
	})
	require.NoError(t, err)

	changed, err := e.engine.SyncProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	got, err := e.store.Payments().FindByID(ctx, stranded.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, got.PaymentStatus)

	got, err = e.store.Payments().FindByID(ctx, linked.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusProcessing, got.PaymentStatus)
	assert.Equal(t, w.ID, *got.WithdrawalID)

	// nothing left to repair
	changed, err = e.engine.SyncProcessing(ctx)
	require.NoError(t, err)
	assert.Zero(t, changed)
}
