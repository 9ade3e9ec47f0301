package withdrawal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"reseller/internal/domain"
	"reseller/internal/gateway"
	"reseller/internal/monitoring"
	"reseller/pkg/errors"
)

// Submit sends a CREATED withdrawal to the provider. Transient failures are
// retried with exponential backoff under the same AppTransactionRef. Once
// attempts are exhausted the provider is asked for the status: an unknown
// reference fails the withdrawal and refunds the wallet, anything ambiguous
// leaves it for the sweep. A definitive rejection returns the FAILED
// withdrawal together with errors.ErrGatewayRejected.
//
// Withdrawals that are no longer CREATED are returned unchanged.
func (s *Service) Submit(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error) {
	w, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status != domain.WithdrawalStatusCreated {
		return w, nil
	}

	log := s.logger.With(map[string]interface{}{
		"withdrawal_id":       w.ID,
		"app_transaction_ref": w.AppTransactionRef,
	})

	if w.WalletID != nil && w.DebitTransactionID == nil {
		if err := s.fund(ctx, w); err != nil {
			if debitRefused(err) {
				res, ferr := s.applyOutcome(ctx, w, &gateway.Outcome{
					Status:     gateway.StatusFailed,
					ReasonCode: "wallet debit failed: " + err.Error(),
					Source:     gateway.SourceSubmit,
				})
				if ferr != nil {
					return nil, ferr
				}
				return res.Withdrawal, err
			}
			return nil, err
		}
	}

	req, err := s.payoutRequest(ctx, w)
	if err != nil {
		return nil, err
	}

	res, err := s.submitWithRetry(ctx, w, req)
	if err != nil {
		log.Warn("Payout submit exhausted retries", map[string]interface{}{
			"attempts": w.Attempts,
			"error":    err,
		})
		return s.resolveUnsubmitted(ctx, w, err)
	}

	if !res.Accepted {
		monitoring.GatewaySubmitAttempts.WithLabelValues("rejected").Inc()
		log.Warn("Payout rejected by provider", map[string]interface{}{"reason": res.Reason})
		out, err := s.applyOutcome(ctx, w, &gateway.Outcome{
			AppTransactionRef:      w.AppTransactionRef,
			ProviderTransactionRef: res.ProviderTransactionRef,
			Status:                 gateway.StatusFailed,
			ReasonCode:             res.Reason,
			Source:                 gateway.SourceSubmit,
		})
		if err != nil {
			return nil, err
		}
		return out.Withdrawal, fmt.Errorf("%w: %s", errors.ErrGatewayRejected, res.Reason)
	}

	monitoring.GatewaySubmitAttempts.WithLabelValues("accepted").Inc()
	return s.markSubmitted(ctx, w, res.ProviderTransactionRef)
}

func (s *Service) markSubmitted(ctx context.Context, w *domain.Withdrawal, providerRef string) (*domain.Withdrawal, error) {
	next := *w
	now := s.now()
	next.Status = domain.WithdrawalStatusSubmitted
	next.SubmittedAt = &now
	next.UpdatedAt = now
	if providerRef != "" {
		next.ProviderTransactionRef = &providerRef
	}

	if err := s.repo.Transition(ctx, &next, domain.WithdrawalStatusCreated); err != nil {
		if errors.Is(err, errors.ErrStaleState) {
			// a callback or concurrent submit got there first
			return s.repo.FindByID(ctx, w.ID)
		}
		return nil, err
	}

	monitoring.WithdrawalTransitions.WithLabelValues(string(next.Status), string(gateway.SourceSubmit)).Inc()
	s.logger.Info("Withdrawal submitted", map[string]interface{}{
		"withdrawal_id":            next.ID,
		"app_transaction_ref":      next.AppTransactionRef,
		"provider_transaction_ref": providerRef,
	})
	return &next, nil
}

func (s *Service) submitWithRetry(ctx context.Context, w *domain.Withdrawal, req *gateway.PayoutRequest) (*gateway.SubmitResult, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if n, err := s.repo.IncrementAttempts(ctx, w.ID); err == nil {
			w.Attempts = n
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
		res, err := s.gateway.Submit(attemptCtx, req)
		cancel()
		if err == nil {
			return res, nil
		}

		lastErr = err
		monitoring.GatewaySubmitAttempts.WithLabelValues("error").Inc()
		s.logger.Warn("Payout submit attempt failed", map[string]interface{}{
			"app_transaction_ref": w.AppTransactionRef,
			"attempt":             attempt,
			"error":               err,
		})

		if attempt == s.cfg.MaxAttempts {
			break
		}
		if err := s.sleep(ctx, backoff(s.cfg.RetryBackoff, attempt)); err != nil {
			return nil, err
		}
	}
	if !errors.Is(lastErr, errors.ErrGatewayTimeout) {
		lastErr = fmt.Errorf("%w: %v", errors.ErrGatewayTimeout, lastErr)
	}
	return nil, lastErr
}

// resolveUnsubmitted decides what an exhausted submit means by asking the
// provider directly.
func (s *Service) resolveUnsubmitted(ctx context.Context, w *domain.Withdrawal, cause error) (*domain.Withdrawal, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	st, err := s.gateway.QueryStatus(queryCtx, w.AppTransactionRef)
	cancel()
	if err != nil {
		// provider state unknown; the sweep resubmits under the same reference
		return w, cause
	}

	switch {
	case st.Status.Definitive():
		res, err := s.reconcileWithdrawal(ctx, w, gateway.OutcomeFromStatus(w.AppTransactionRef, st))
		if err != nil {
			return nil, err
		}
		return res.Withdrawal, nil
	case st.Status == gateway.StatusPending:
		return s.markSubmitted(ctx, w, st.ProviderTransactionRef)
	default:
		res, err := s.applyOutcome(ctx, w, &gateway.Outcome{
			AppTransactionRef: w.AppTransactionRef,
			Status:            gateway.StatusFailed,
			ReasonCode:        fmt.Sprintf("gateway unavailable after %d attempts", w.Attempts),
			Source:            gateway.SourceSubmit,
		})
		if err != nil {
			return nil, err
		}
		return res.Withdrawal, cause
	}
}

func (s *Service) payoutRequest(ctx context.Context, w *domain.Withdrawal) (*gateway.PayoutRequest, error) {
	currency, err := s.currencies.Get(ctx, w.CurrencyID)
	if err != nil {
		return nil, err
	}
	req := &gateway.PayoutRequest{
		AppTransactionRef: w.AppTransactionRef,
		Amount:            w.Amount,
		Currency:          currency.Code,
		Operator:          w.Operator,
		Recipient: gateway.Recipient{
			Name:  w.CustomerName,
			Phone: w.CustomerPhone,
		},
		Reason: w.Reason,
	}
	if w.CustomerEmail != nil {
		req.Recipient.Email = *w.CustomerEmail
	}
	return req, nil
}

func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base << uint(attempt-1)
	if d > time.Minute {
		return time.Minute
	}
	return d
}
