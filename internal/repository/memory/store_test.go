package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"reseller/internal/domain"
	"reseller/pkg/errors"
)

func TestPaymentRepository_OnePerConfigAndPeriod(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Payments()
	configID := uuid.New()

	p := &domain.ContributorPayment{ID: uuid.New(), ConfigID: configID, PaymentPeriod: "2024-06", PaymentStatus: domain.PaymentStatusPending}
	require.NoError(t, repo.Create(ctx, p))

	dup := &domain.ContributorPayment{ID: uuid.New(), ConfigID: configID, PaymentPeriod: "2024-06", PaymentStatus: domain.PaymentStatusPending}
	assert.ErrorIs(t, repo.Create(ctx, dup), errors.ErrDuplicatePeriodPayment)

	next := &domain.ContributorPayment{ID: uuid.New(), ConfigID: configID, PaymentPeriod: "2024-07", PaymentStatus: domain.PaymentStatusPending}
	assert.NoError(t, repo.Create(ctx, next))

	moved := *p
	moved.PaymentStatus = domain.PaymentStatusProcessing
	require.NoError(t, repo.Transition(ctx, &moved, domain.PaymentStatusPending))
	assert.ErrorIs(t, repo.Transition(ctx, &moved, domain.PaymentStatusPending), errors.ErrStaleState)
}

func TestWithdrawalRepository_Transition(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Withdrawals()
	w := &domain.Withdrawal{
		ID:                uuid.New(),
		Amount:            decimal.NewFromInt(10),
		AppTransactionRef: "W-1",
		Status:            domain.WithdrawalStatusCreated,
		CreatedAt:         time.Now(),
	}
	require.NoError(t, repo.Create(ctx, w))
	assert.ErrorIs(t, repo.Create(ctx, &domain.Withdrawal{ID: uuid.New(), AppTransactionRef: "W-1"}), errors.ErrDuplicateAppRef)

	submitted := *w
	submitted.Status = domain.WithdrawalStatusSubmitted
	require.NoError(t, repo.Transition(ctx, &submitted, domain.WithdrawalStatusCreated))

	// a second writer still thinks it is CREATED
	stale := *w
	stale.Status = domain.WithdrawalStatusFailed
	assert.ErrorIs(t, repo.Transition(ctx, &stale, domain.WithdrawalStatusCreated), errors.ErrStaleState)

	back := submitted
	back.Status = domain.WithdrawalStatusCreated
	assert.ErrorIs(t, repo.Transition(ctx, &back, domain.WithdrawalStatusSubmitted), errors.ErrInvalidTransition)

	refundID := uuid.New()
	require.NoError(t, repo.MarkRefunded(ctx, w.ID, refundID))
	require.NoError(t, repo.MarkRefunded(ctx, w.ID, uuid.New()))
	got, err := repo.FindByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, refundID, *got.RefundTransactionID)
}

func TestWalletRepository_DebitIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Wallets()
	w := &domain.Wallet{ID: uuid.New(), OwnerUserID: uuid.New(), Balance: decimal.NewFromInt(50)}
	require.NoError(t, repo.Create(ctx, w))

	entry := func(ref string) *domain.Transaction {
		return &domain.Transaction{ID: uuid.New(), Reference: ref, Type: domain.TransactionTypeDebit, Amount: decimal.NewFromInt(30)}
	}

	_, err := repo.ApplyDebit(ctx, w.ID, decimal.NewFromInt(30), entry("a"))
	require.NoError(t, err)
	_, err = repo.ApplyDebit(ctx, w.ID, decimal.NewFromInt(30), entry("b"))
	assert.ErrorIs(t, err, errors.ErrInsufficientFunds)
	_, err = repo.ApplyDebit(ctx, w.ID, decimal.NewFromInt(10), entry("a"))
	assert.ErrorIs(t, err, errors.ErrDuplicateReference)

	got, err := repo.FindByID(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, 1, repo.CountEntries())
}
