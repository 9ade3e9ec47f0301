package notification

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reseller/internal/domain"
	"reseller/pkg/logger"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recordingSender) Send(to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Notification{To: to, Subject: subject, Body: body})
	return r.err
}

type stubCurrencies struct{ c *domain.Currency }

func (s stubCurrencies) Get(context.Context, uuid.UUID) (*domain.Currency, error) {
	if s.c == nil {
		return nil, errors.New("not found")
	}
	return s.c, nil
}

func withdrawalWith(status domain.WithdrawalStatus, email string) *domain.Withdrawal {
	w := &domain.Withdrawal{
		ID:                uuid.New(),
		Amount:            decimal.RequireFromString("120.5"),
		CurrencyID:        uuid.New(),
		Operator:          domain.OperatorMpesa,
		CustomerName:      "Jane",
		CustomerPhone:     "+254700000001",
		AppTransactionRef: "W-01TEST",
		Status:            status,
	}
	if email != "" {
		w.CustomerEmail = &email
	}
	return w
}

func TestWithdrawalSettled_SendsOnTerminalStatus(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, stubCurrencies{c: &domain.Currency{Code: "KES", Decimals: 2}}, 10, logger.NewNop())
	svc.Start(context.Background())

	svc.WithdrawalSettled(context.Background(), withdrawalWith(domain.WithdrawalStatusSuccess, "jane@example.com"))
	svc.WithdrawalSettled(context.Background(), withdrawalWith(domain.WithdrawalStatusExpired, "jane@example.com"))
	svc.Close()

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "jane@example.com", sender.sent[0].To)
	assert.Equal(t, "Your payout has been sent", sender.sent[0].Subject)
	assert.Contains(t, sender.sent[0].Body, "120.50 KES")
	assert.Contains(t, sender.sent[0].Body, "W-01TEST")
	assert.Equal(t, "Your payout could not be completed", sender.sent[1].Subject)
}

func TestWithdrawalSettled_SkipsWithoutEmailOrTerminalStatus(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, stubCurrencies{}, 10, logger.NewNop())
	svc.Start(context.Background())

	svc.WithdrawalSettled(context.Background(), withdrawalWith(domain.WithdrawalStatusSuccess, ""))
	svc.WithdrawalSettled(context.Background(), withdrawalWith(domain.WithdrawalStatusSubmitted, "jane@example.com"))
	svc.Close()

	assert.Empty(t, sender.sent)
}

func TestWithdrawalSettled_UnknownCurrencyFallsBackToRawAmount(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, stubCurrencies{}, 10, logger.NewNop())
	svc.Start(context.Background())

	svc.WithdrawalSettled(context.Background(), withdrawalWith(domain.WithdrawalStatusFailed, "jane@example.com"))
	svc.Close()

	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Body, "120.5 to +254700000001")
}

func TestWithdrawalSettled_DropsWhenQueueFullAndAfterClose(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, stubCurrencies{}, 1, logger.NewNop())

	// no worker yet, so the second message does not fit
	svc.WithdrawalSettled(context.Background(), withdrawalWith(domain.WithdrawalStatusSuccess, "a@example.com"))
	svc.WithdrawalSettled(context.Background(), withdrawalWith(domain.WithdrawalStatusSuccess, "b@example.com"))

	svc.Start(context.Background())
	svc.Close()
	svc.WithdrawalSettled(context.Background(), withdrawalWith(domain.WithdrawalStatusSuccess, "c@example.com"))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "a@example.com", sender.sent[0].To)
}

func TestDeliver_SendErrorIsLogged(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	svc := NewService(sender, stubCurrencies{}, 1, logger.NewNop())
	svc.Start(context.Background())

	svc.WithdrawalSettled(context.Background(), withdrawalWith(domain.WithdrawalStatusSuccess, "jane@example.com"))
	svc.Close()

	assert.Len(t, sender.sent, 1)
}
