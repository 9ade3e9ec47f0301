package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"reseller/internal/domain"
	"reseller/pkg/errors"

	_ "github.com/lib/pq"
)

// openTestDB connects to DATABASE_URL with the migrations applied, or skips.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		t.Skip("Skipping integration test: database not available")
	}
	var exists bool
	if err := db.Get(&exists, `SELECT to_regclass('finance.withdrawals') IS NOT NULL`); err != nil || !exists {
		db.Close()
		t.Skip("Skipping integration test: migrations not applied")
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedCurrency(t *testing.T, db *sqlx.DB) *domain.Currency {
	t.Helper()
	c := &domain.Currency{ID: uuid.New(), Code: "T" + uuid.NewString()[:2], Name: "Test", ExchangeRate: decimal.NewFromInt(1), Decimals: 2}
	_, err := db.NamedExec(`INSERT INTO finance.currencies (`+currencyColumns+`) VALUES (:id, :code, :name, :exchange_rate, :decimals)`, c)
	require.NoError(t, err)
	t.Cleanup(func() { db.Exec(`DELETE FROM finance.currencies WHERE id = $1`, c.ID) })
	return c
}

func TestWalletRepository_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewWalletRepository(db)
	c := seedCurrency(t, db)

	w := &domain.Wallet{ID: uuid.New(), OwnerUserID: uuid.New(), Balance: decimal.NewFromInt(100), CurrencyID: c.ID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, repo.Create(ctx, w))
	t.Cleanup(func() {
		db.Exec(`DELETE FROM finance.transactions WHERE sender_wallet_id = $1`, w.ID)
		db.Exec(`DELETE FROM finance.wallets WHERE id = $1`, w.ID)
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := w.ID
			entry := &domain.Transaction{
				ID: uuid.New(), Reference: "it:" + uuid.NewString(), Type: domain.TransactionTypeDebit,
				SenderWalletID: &id, Amount: decimal.NewFromInt(10), CurrencyID: c.ID,
				Status: domain.TransactionStatusCompleted, TransactionDate: time.Now(),
			}
			if _, err := repo.ApplyDebit(ctx, w.ID, decimal.NewFromInt(10), entry); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, errors.ErrInsufficientFunds)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	got, err := repo.FindByID(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())
}

func TestContributorPaymentRepository_UniquePerPeriod(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	c := seedCurrency(t, db)
	configs := NewContributorConfigRepository(db)
	payments := NewContributorPaymentRepository(db)

	cfg := &domain.ContributorPaymentConfig{
		ID: uuid.New(), UserID: uuid.New(), PayeeName: "Test", IsActive: true,
		AmountType: domain.AmountTypeFixed, FixedAmount: func() *decimal.Decimal { d := decimal.NewFromInt(5); return &d }(),
		CurrencyID: c.ID, PhoneNumber: "+254700000001", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, configs.Create(ctx, cfg))
	t.Cleanup(func() {
		db.Exec(`DELETE FROM finance.contributor_payments WHERE config_id = $1`, cfg.ID)
		db.Exec(`DELETE FROM finance.contributor_payment_configs WHERE id = $1`, cfg.ID)
	})

	newPayment := func() *domain.ContributorPayment {
		return &domain.ContributorPayment{
			ID: uuid.New(), ConfigID: cfg.ID, UserID: cfg.UserID, AmountPaid: decimal.NewFromInt(5),
			CurrencyID: c.ID, PaymentPeriod: "2024-06", PaymentStatus: domain.PaymentStatusPending,
			Attempt: 1, CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}
	}
	first := newPayment()
	require.NoError(t, payments.Create(ctx, first))
	assert.ErrorIs(t, payments.Create(ctx, newPayment()), errors.ErrDuplicatePeriodPayment)

	next := *first
	next.PaymentStatus = domain.PaymentStatusProcessing
	require.NoError(t, payments.Transition(ctx, &next, domain.PaymentStatusPending))
	assert.ErrorIs(t, payments.Transition(ctx, &next, domain.PaymentStatusPending), errors.ErrStaleState)
}
