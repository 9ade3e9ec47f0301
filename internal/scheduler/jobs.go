package scheduler

import (
	"context"
	"time"

	"reseller/internal/revenueshare"
	"reseller/internal/withdrawal"
	"reseller/pkg/logger"
)

// RevenueShareJob runs the daily eligibility check. RunCheck itself decides
// whether today is the payment day, so ticking more often than daily is safe.
func RevenueShareJob(engine *revenueshare.Engine, interval time.Duration, log logger.Logger) *Job {
	return &Job{
		Name:     "revenue-share",
		Interval: interval,
		Timeout:  30 * time.Minute,
		Run: func(ctx context.Context) error {
			report, err := engine.RunCheck(ctx)
			if err != nil {
				return err
			}
			if report.SkipReason == "" {
				log.Info("Revenue share run finished", map[string]interface{}{
					"period":     report.Period,
					"completed":  report.Count(revenueshare.OutcomeCompleted),
					"processing": report.Count(revenueshare.OutcomeProcessing),
					"failed":     report.Count(revenueshare.OutcomeFailed),
				})
			}
			return nil
		},
	}
}

func SweepJob(payouts *withdrawal.Service, interval time.Duration, log logger.Logger) *Job {
	return &Job{
		Name:     "withdrawal-sweep",
		Interval: interval,
		Run: func(ctx context.Context) error {
			report, err := payouts.Sweep(ctx)
			if err != nil {
				return err
			}
			if *report != (withdrawal.SweepReport{}) {
				log.Info("Withdrawal sweep finished", map[string]interface{}{
					"resubmitted": report.Resubmitted,
					"polled":      report.Polled,
					"settled":     report.Settled,
					"expired":     report.Expired,
					"refunded":    report.Refunded,
					"errors":      report.Errors,
				})
			}
			return nil
		},
	}
}

func SyncJob(engine *revenueshare.Engine, interval time.Duration) *Job {
	return &Job{
		Name:     "revenue-share-sync",
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := engine.SyncProcessing(ctx)
			return err
		},
	}
}
