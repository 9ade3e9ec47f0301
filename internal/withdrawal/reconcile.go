package withdrawal

import (
	"context"
	"strings"

	"reseller/internal/domain"
	"reseller/internal/gateway"
	"reseller/internal/monitoring"
	"reseller/pkg/errors"
)

// Result reports what a reconciliation did. Duplicate is set when the
// withdrawal was already terminal and nothing changed.
type Result struct {
	Withdrawal *domain.Withdrawal `json:"withdrawal"`
	Applied    bool               `json:"applied"`
	Duplicate  bool               `json:"duplicate"`
}

// HandleCallback verifies and applies a raw provider callback. Nothing is
// read or written for a callback whose signature does not verify.
func (s *Service) HandleCallback(ctx context.Context, payload []byte) (*Result, error) {
	cb, err := gateway.ParseCallback(payload)
	if err != nil {
		if errors.Is(err, errors.ErrInvalidSignature) {
			monitoring.CallbacksReceived.WithLabelValues("invalid_signature").Inc()
		} else {
			monitoring.CallbacksReceived.WithLabelValues("malformed").Inc()
		}
		return nil, err
	}

	if err := s.verifier.VerifyCallback(cb); err != nil {
		monitoring.CallbacksReceived.WithLabelValues("invalid_signature").Inc()
		s.logger.Warn("Security event: callback signature rejected", map[string]interface{}{
			"event":                    "invalid_callback_signature",
			"app_transaction_ref":      cb.AppTransactionRef,
			"provider_transaction_ref": cb.ProviderTransactionRef,
		})
		return nil, errors.ErrInvalidSignature
	}

	res, err := s.Reconcile(ctx, cb.Outcome())
	switch {
	case errors.Is(err, errors.ErrCallbackMismatch):
		monitoring.CallbacksReceived.WithLabelValues("mismatch").Inc()
	case err != nil:
		monitoring.CallbacksReceived.WithLabelValues("error").Inc()
	case res.Duplicate:
		monitoring.CallbacksReceived.WithLabelValues("duplicate").Inc()
	case !res.Applied:
		monitoring.CallbacksReceived.WithLabelValues("pending").Inc()
	default:
		monitoring.CallbacksReceived.WithLabelValues("applied").Inc()
	}
	return res, err
}

// Reconcile applies a provider outcome from any channel. Outcomes for
// terminal withdrawals are acknowledged without side effects, so replays and
// late callbacks after a poll are harmless.
func (s *Service) Reconcile(ctx context.Context, o *gateway.Outcome) (*Result, error) {
	w, err := s.lookup(ctx, o)
	if err != nil {
		return nil, err
	}
	return s.reconcileWithdrawal(ctx, w, o)
}

func (s *Service) lookup(ctx context.Context, o *gateway.Outcome) (*domain.Withdrawal, error) {
	if o.AppTransactionRef != "" {
		w, err := s.repo.FindByAppRef(ctx, o.AppTransactionRef)
		if err == nil || !errors.Is(err, errors.ErrNotFound) || o.ProviderTransactionRef == "" {
			return w, err
		}
	}
	if o.ProviderTransactionRef != "" {
		return s.repo.FindByProviderRef(ctx, o.ProviderTransactionRef)
	}
	return nil, errors.ErrWithdrawalNotFound
}

func (s *Service) reconcileWithdrawal(ctx context.Context, w *domain.Withdrawal, o *gateway.Outcome) (*Result, error) {
	if w.Status.IsTerminal() {
		s.logger.Info("Duplicate outcome ignored", map[string]interface{}{
			"withdrawal_id":       w.ID,
			"app_transaction_ref": w.AppTransactionRef,
			"status":              w.Status,
			"source":              o.Source,
		})
		return &Result{Withdrawal: w, Duplicate: true}, nil
	}

	if err := s.checkOutcome(ctx, w, o); err != nil {
		return nil, err
	}
	return s.applyOutcome(ctx, w, o)
}

// checkOutcome rejects outcomes whose amount, currency or provider reference
// disagree with the stored withdrawal.
func (s *Service) checkOutcome(ctx context.Context, w *domain.Withdrawal, o *gateway.Outcome) error {
	var field string
	switch {
	case o.Amount != nil && !o.Amount.Equal(w.Amount):
		field = "amount"
	case o.ProviderTransactionRef != "" && w.ProviderTransactionRef != nil && *w.ProviderTransactionRef != o.ProviderTransactionRef:
		field = "provider_transaction_ref"
	case o.AppTransactionRef != "" && o.AppTransactionRef != w.AppTransactionRef:
		field = "app_transaction_ref"
	}
	if field == "" && o.Currency != "" {
		currency, err := s.currencies.Get(ctx, w.CurrencyID)
		if err != nil {
			return err
		}
		if !strings.EqualFold(currency.Code, o.Currency) {
			field = "currency"
		}
	}
	if field == "" {
		return nil
	}

	s.logger.Warn("Security event: provider outcome does not match withdrawal", map[string]interface{}{
		"event":               "callback_mismatch",
		"field":               field,
		"withdrawal_id":       w.ID,
		"app_transaction_ref": w.AppTransactionRef,
		"source":              o.Source,
	})
	return errors.ErrCallbackMismatch
}

// applyOutcome moves w to the terminal state named by o using a status
// compare-and-set. Losing the race to another writer reloads and reports the
// winner's result as a duplicate.
func (s *Service) applyOutcome(ctx context.Context, w *domain.Withdrawal, o *gateway.Outcome) (*Result, error) {
	for i := 0; i < 3; i++ {
		if w.Status.IsTerminal() {
			return &Result{Withdrawal: w, Duplicate: true}, nil
		}
		if !o.Status.Definitive() {
			return &Result{Withdrawal: w}, nil
		}

		from := w.Status
		next := *w
		now := s.now()
		next.CompletedAt = &now
		next.UpdatedAt = now
		if o.ProviderTransactionRef != "" {
			ref := o.ProviderTransactionRef
			next.ProviderTransactionRef = &ref
		}
		if o.Status == gateway.StatusSuccess {
			next.Status = domain.WithdrawalStatusSuccess
		} else {
			next.Status = domain.WithdrawalStatusFailed
			reason := o.ReasonCode
			if reason == "" {
				reason = "provider reported failure"
			}
			next.ErrorMessage = &reason
		}

		err := s.repo.Transition(ctx, &next, from)
		if errors.Is(err, errors.ErrStaleState) {
			if w, err = s.repo.FindByID(ctx, w.ID); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		monitoring.WithdrawalTransitions.WithLabelValues(string(next.Status), string(o.Source)).Inc()
		s.logger.Info("Withdrawal settled", map[string]interface{}{
			"withdrawal_id":       next.ID,
			"app_transaction_ref": next.AppTransactionRef,
			"from":                from,
			"to":                  next.Status,
			"source":              o.Source,
		})

		if next.Status == domain.WithdrawalStatusFailed {
			// a failed refund stays pending and is retried by the sweep
			_ = s.refund(ctx, &next)
		}
		s.notify(ctx, &next)
		return &Result{Withdrawal: &next, Applied: true}, nil
	}
	return nil, errors.ErrStaleState
}

// refund returns the withdrawal's debit to its wallet. The ledger reference
// makes a repeated refund return the original credit, and the refunded marker
// is only ever set once.
func (s *Service) refund(ctx context.Context, w *domain.Withdrawal) error {
	if err := s.recoverDebit(ctx, w); err != nil {
		return err
	}
	if !w.NeedsRefund() {
		return nil
	}

	tx, err := s.ledger.Refund(ctx, *w.DebitTransactionID, refundReference(w), "Refund for withdrawal "+w.AppTransactionRef)
	if err != nil {
		s.logger.Error("Withdrawal refund failed", map[string]interface{}{
			"withdrawal_id":       w.ID,
			"app_transaction_ref": w.AppTransactionRef,
			"error":               err,
		})
		return err
	}
	if err := s.repo.MarkRefunded(ctx, w.ID, tx.ID); err != nil {
		s.logger.Error("Failed to mark withdrawal refunded", map[string]interface{}{
			"withdrawal_id": w.ID,
			"error":         err,
		})
		return err
	}

	w.Refunded = true
	w.RefundTransactionID = &tx.ID
	monitoring.RefundsIssued.Inc()
	s.logger.Info("Withdrawal refunded", map[string]interface{}{
		"withdrawal_id":         w.ID,
		"app_transaction_ref":   w.AppTransactionRef,
		"refund_transaction_id": tx.ID,
	})
	return nil
}
