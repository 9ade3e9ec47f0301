package revenueshare

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"reseller/internal/domain"
	"reseller/pkg/errors"
)

// WithdrawalSettled settles the contributor payment behind a terminal
// CONTRIBUTOR_SHARE withdrawal. It is registered with withdrawal.Service.
func (e *Engine) WithdrawalSettled(ctx context.Context, w *domain.Withdrawal) {
	if w.Purpose != domain.WithdrawalPurposeContributorShare || w.SourceID == nil || !w.Status.IsTerminal() {
		return
	}
	if err := e.settlePayment(ctx, *w.SourceID, w); err != nil {
		e.logger.Error("Failed to settle contributor payment", map[string]interface{}{
			"payment_id":    *w.SourceID,
			"withdrawal_id": w.ID,
			"error":         err,
		})
	}
}

func (e *Engine) settlePayment(ctx context.Context, paymentID uuid.UUID, w *domain.Withdrawal) error {
	for i := 0; i < 3; i++ {
		p, err := e.payments.FindByID(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.PaymentStatus.IsTerminal() {
			return nil
		}
		if p.WithdrawalID != nil && *p.WithdrawalID != w.ID {
			// an older attempt; the payment has moved on
			return nil
		}

		now := e.now()
		next := *p
		next.WithdrawalID = &w.ID
		next.UpdatedAt = now
		response := fmt.Sprintf("withdrawal %s %s", w.AppTransactionRef, w.Status)
		next.ProviderResponse = &response

		switch w.Status {
		case domain.WithdrawalStatusSuccess:
			next.PaymentStatus = domain.PaymentStatusCompleted
			next.AmountPaid = w.Amount
			next.ProviderTransactionRef = w.ProviderTransactionRef
			next.ProcessedAt = &now
			next.FailureReason = nil
		case domain.WithdrawalStatusExpired:
			reason := "payout outcome unknown after expiry window; confirm with the provider before retrying"
			next.PaymentStatus = domain.PaymentStatusFailed
			next.FailureReason = &reason
		default:
			reason := "payout failed"
			if w.ErrorMessage != nil {
				reason = *w.ErrorMessage
			}
			next.PaymentStatus = domain.PaymentStatusFailed
			next.FailureReason = &reason
		}

		err = e.payments.Transition(ctx, &next, p.PaymentStatus)
		if errors.Is(err, errors.ErrStaleState) {
			continue
		}
		if err != nil {
			return err
		}

		e.logger.Info("Contributor payment settled", map[string]interface{}{
			"payment_id":    next.ID,
			"period":        next.PaymentPeriod,
			"status":        next.PaymentStatus,
			"withdrawal_id": w.ID,
		})
		return nil
	}
	return errors.ErrStaleState
}

// SyncProcessing repairs payments left open by a crash: payments whose
// withdrawal already settled are settled, and PENDING payments that never got
// a withdrawal are failed for manual retry. It returns how many payments
// changed.
func (e *Engine) SyncProcessing(ctx context.Context) (int, error) {
	var open []*domain.ContributorPayment
	for _, status := range []domain.PaymentStatus{domain.PaymentStatusProcessing, domain.PaymentStatusPending} {
		ps, err := e.payments.ListByStatus(ctx, status, 200)
		if err != nil {
			return 0, err
		}
		open = append(open, ps...)
	}

	changed := 0
	for _, p := range open {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		ok, err := e.syncPayment(ctx, p)
		if err != nil {
			e.logger.Error("Failed to sync contributor payment", map[string]interface{}{
				"payment_id": p.ID,
				"error":      err,
			})
			continue
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

func (e *Engine) syncPayment(ctx context.Context, p *domain.ContributorPayment) (bool, error) {
	var w *domain.Withdrawal
	if p.WithdrawalID != nil {
		found, err := e.payouts.Get(ctx, *p.WithdrawalID)
		if err != nil {
			return false, err
		}
		w = found
	} else {
		ws, err := e.payouts.FindBySource(ctx, p.ID)
		if err != nil {
			return false, err
		}
		if len(ws) == 0 {
			if e.now().Sub(p.CreatedAt) < e.cfg.SyncAfter {
				return false, nil
			}
			return true, e.failPayment(ctx, p, "run interrupted before payout was created")
		}
		sort.Slice(ws, func(i, j int) bool { return ws[i].CreatedAt.After(ws[j].CreatedAt) })
		w = ws[0]
	}

	if !w.Status.IsTerminal() {
		if p.WithdrawalID == nil {
			next := *p
			next.WithdrawalID = &w.ID
			next.PaymentStatus = domain.PaymentStatusProcessing
			next.UpdatedAt = e.now()
			if err := e.payments.Transition(ctx, &next, p.PaymentStatus); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, nil
	}

	if err := e.settlePayment(ctx, p.ID, w); err != nil {
		return false, err
	}
	return true, nil
}

// RetryPayment re-pays a FAILED payment with a new withdrawal and a new
// reference. A payment whose last withdrawal EXPIRED may have been paid out
// already, so it is only retried with force.
func (e *Engine) RetryPayment(ctx context.Context, paymentID uuid.UUID, force bool) (*domain.ContributorPayment, error) {
	p, err := e.payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.PaymentStatus != domain.PaymentStatusFailed {
		return nil, errors.ErrPaymentNotRetryable
	}
	if p.WithdrawalID != nil {
		w, err := e.payouts.Get(ctx, *p.WithdrawalID)
		if err != nil {
			return nil, err
		}
		if !w.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: withdrawal %s still %s", errors.ErrPaymentNotRetryable, w.AppTransactionRef, w.Status)
		}
		if w.Status == domain.WithdrawalStatusExpired && !force {
			return nil, fmt.Errorf("%w: withdrawal %s expired; confirm with the provider and retry with force", errors.ErrPaymentNotRetryable, w.AppTransactionRef)
		}
	}

	cfg, err := e.configs.FindByID(ctx, p.ConfigID)
	if err != nil {
		return nil, err
	}

	next := *p
	next.PaymentStatus = domain.PaymentStatusPending
	next.Attempt = p.Attempt + 1
	next.WithdrawalID = nil
	next.FailureReason = nil
	next.ProviderResponse = nil
	next.UpdatedAt = e.now()
	if err := e.payments.Transition(ctx, &next, domain.PaymentStatusFailed); err != nil {
		if errors.Is(err, errors.ErrStaleState) {
			return nil, errors.ErrPaymentNotRetryable
		}
		return nil, err
	}

	e.logger.Info("Retrying contributor payment", map[string]interface{}{
		"payment_id": next.ID,
		"period":     next.PaymentPeriod,
		"attempt":    next.Attempt,
	})
	e.pay(ctx, cfg, &next, Outcome{ConfigID: cfg.ID, UserID: cfg.UserID})
	return e.payments.FindByID(ctx, p.ID)
}
