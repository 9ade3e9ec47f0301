// Package notification emails withdrawal recipients when their payout
// reaches a terminal status. Delivery runs on a background queue so a slow
// mail server never holds up settlement.
package notification

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"reseller/internal/domain"
	"reseller/pkg/logger"
)

// Sender delivers one message. *mailer.Mailer satisfies it.
type Sender interface {
	Send(to, subject, body string) error
}

type Currencies interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Currency, error)
}

// Notification is one rendered message waiting for delivery.
type Notification struct {
	WithdrawalID uuid.UUID
	To           string
	Subject      string
	Body         string
}

type Service struct {
	sender     Sender
	currencies Currencies
	logger     logger.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan *Notification
	wg     sync.WaitGroup
}

// NewService returns a notifier with room for queueSize undelivered messages.
// Messages beyond that are dropped and logged.
func NewService(sender Sender, currencies Currencies, queueSize int, log logger.Logger) *Service {
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Service{
		sender:     sender,
		currencies: currencies,
		logger:     log,
		queue:      make(chan *Notification, queueSize),
	}
}

// WithdrawalSettled queues an email for withdrawals that carry a customer
// address. It never blocks.
func (s *Service) WithdrawalSettled(ctx context.Context, w *domain.Withdrawal) {
	if w.CustomerEmail == nil || *w.CustomerEmail == "" {
		return
	}
	n := s.render(ctx, w)
	if n == nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- n:
	default:
		s.logger.Warn("Notification queue full, dropping message", map[string]interface{}{
			"withdrawal_id": w.ID,
			"status":        w.Status,
		})
	}
}

func (s *Service) render(ctx context.Context, w *domain.Withdrawal) *Notification {
	amount := w.Amount.String()
	if c, err := s.currencies.Get(ctx, w.CurrencyID); err == nil {
		amount = w.Amount.StringFixed(c.Decimals) + " " + c.Code
	}

	n := &Notification{WithdrawalID: w.ID, To: *w.CustomerEmail}
	switch w.Status {
	case domain.WithdrawalStatusSuccess:
		n.Subject = "Your payout has been sent"
		n.Body = fmt.Sprintf("Hello %s,\n\n%s has been sent to %s via %s.\nReference: %s\n",
			w.CustomerName, amount, w.CustomerPhone, w.Operator, w.AppTransactionRef)
	case domain.WithdrawalStatusFailed, domain.WithdrawalStatusExpired:
		n.Subject = "Your payout could not be completed"
		n.Body = fmt.Sprintf("Hello %s,\n\nThe payout of %s to %s could not be completed.\nReference: %s\n",
			w.CustomerName, amount, w.CustomerPhone, w.AppTransactionRef)
	default:
		return nil
	}
	return n
}

// Start runs the delivery worker until ctx is cancelled or Close is called.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-s.queue:
				if !ok {
					return
				}
				s.deliver(n)
			}
		}
	}()
}

func (s *Service) deliver(n *Notification) {
	if err := s.sender.Send(n.To, n.Subject, n.Body); err != nil {
		s.logger.Error("Failed to send payout notification", map[string]interface{}{
			"withdrawal_id": n.WithdrawalID,
			"error":         err.Error(),
		})
		return
	}
	s.logger.Info("Payout notification sent", map[string]interface{}{
		"withdrawal_id": n.WithdrawalID,
		"subject":       n.Subject,
	})
}

// Close stops accepting work, drains what is queued and waits for the worker.
func (s *Service) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
