package withdrawal

import (
	"context"
	"time"

	"reseller/internal/domain"
	"reseller/internal/gateway"
	"reseller/internal/monitoring"
)

type SweepReport struct {
	Resubmitted int `json:"resubmitted"`
	Polled      int `json:"polled"`
	Settled     int `json:"settled"`
	Expired     int `json:"expired"`
	Refunded    int `json:"refunded"`
	Errors      int `json:"errors"`
}

// Sweep resolves withdrawals whose callback never arrived. CREATED ones left
// behind by a crash or exhausted retries are submitted again, SUBMITTED ones
// are polled, and anything still unresolved after the expiry window becomes
// EXPIRED for manual review. Failed withdrawals whose refund did not go
// through are refunded.
func (s *Service) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}
	now := s.now()
	cutoff := now.Add(-s.cfg.CallbackWindow)
	expiry := now.Add(-s.cfg.ExpiryWindow)

	created, err := s.repo.FindStale(ctx, domain.WithdrawalStatusCreated, cutoff, s.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	for _, w := range created {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if w.CreatedAt.Before(expiry) {
			s.pollOrExpire(ctx, w, expiry, report)
			continue
		}
		report.Resubmitted++
		if _, err := s.Submit(ctx, w.ID); err != nil {
			report.Errors++
		}
	}

	submitted, err := s.repo.FindStale(ctx, domain.WithdrawalStatusSubmitted, cutoff, s.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	for _, w := range submitted {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		s.pollOrExpire(ctx, w, expiry, report)
	}

	refunds, err := s.repo.FindPendingRefunds(ctx, s.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	for _, w := range refunds {
		if err := s.refund(ctx, w); err != nil {
			report.Errors++
			continue
		}
		report.Refunded++
	}

	if report.Resubmitted+report.Polled+report.Refunded > 0 {
		s.logger.Info("Withdrawal sweep finished", map[string]interface{}{
			"resubmitted": report.Resubmitted,
			"polled":      report.Polled,
			"settled":     report.Settled,
			"expired":     report.Expired,
			"refunded":    report.Refunded,
			"errors":      report.Errors,
		})
	}
	return report, nil
}

func (s *Service) pollOrExpire(ctx context.Context, w *domain.Withdrawal, expiry time.Time, report *SweepReport) {
	report.Polled++

	if err := s.recoverDebit(ctx, w); err != nil {
		s.logger.Error("Failed to check withdrawal debit", map[string]interface{}{
			"withdrawal_id": w.ID,
			"error":         err,
		})
		report.Errors++
		return
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	st, err := s.gateway.QueryStatus(queryCtx, w.AppTransactionRef)
	cancel()

	if err == nil && st.Status.Definitive() {
		res, err := s.reconcileWithdrawal(ctx, w, gateway.OutcomeFromStatus(w.AppTransactionRef, st))
		if err != nil {
			report.Errors++
			return
		}
		if res.Applied {
			report.Settled++
		}
		return
	}

	if err != nil {
		s.logger.Warn("Withdrawal status poll failed", map[string]interface{}{
			"app_transaction_ref": w.AppTransactionRef,
			"error":               err,
		})
	}

	since := w.CreatedAt
	if w.SubmittedAt != nil {
		since = *w.SubmittedAt
	}
	if !since.Before(expiry) {
		return
	}

	if w.Status == domain.WithdrawalStatusCreated && err == nil && st.Status == gateway.StatusNotFound {
		// the provider never received it, so the funds can safely go back
		res, err := s.applyOutcome(ctx, w, &gateway.Outcome{
			AppTransactionRef: w.AppTransactionRef,
			Status:            gateway.StatusFailed,
			ReasonCode:        "never accepted by provider",
			Source:            gateway.SourcePoll,
		})
		if err != nil {
			report.Errors++
		} else if res.Applied {
			report.Settled++
		}
		return
	}

	if err := s.expire(ctx, w); err != nil {
		report.Errors++
		return
	}
	report.Expired++
}

// expire closes a withdrawal whose outcome could not be determined. No refund
// is issued: the payout may still have reached the customer.
func (s *Service) expire(ctx context.Context, w *domain.Withdrawal) error {
	next := *w
	now := s.now()
	reason := "no provider outcome within expiry window; manual review required"
	next.Status = domain.WithdrawalStatusExpired
	next.ErrorMessage = &reason
	next.CompletedAt = &now
	next.UpdatedAt = now

	if err := s.repo.Transition(ctx, &next, w.Status); err != nil {
		return err
	}

	monitoring.WithdrawalTransitions.WithLabelValues(string(next.Status), string(gateway.SourcePoll)).Inc()
	s.logger.Warn("Withdrawal expired", map[string]interface{}{
		"withdrawal_id":       next.ID,
		"app_transaction_ref": next.AppTransactionRef,
		"from":                w.Status,
	})
	s.notify(ctx, &next)
	return nil
}
