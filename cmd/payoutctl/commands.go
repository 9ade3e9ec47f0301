package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"reseller/internal/repository/postgres"
	"reseller/internal/revenueshare"
)

func init() {
	rootCmd.AddCommand(previewCmd, runCmd, sweepCmd, syncCmd, retryCmd, auditCmd)

	previewCmd.Flags().String("period", "", "Payment period YYYY-MM (default: current)")
	runCmd.Flags().String("period", "", "Payment period YYYY-MM (default: current)")
	runCmd.Flags().Bool("force", false, "Run even when disabled or already run for the period")
	retryCmd.Flags().Bool("force", false, "Retry even though the previous withdrawal expired")
	auditCmd.Flags().Duration("stuck-after", 24*time.Hour, "Report non-terminal withdrawals older than this")
}

func periodFlag(cmd *cobra.Command, engine *revenueshare.Engine) string {
	period, _ := cmd.Flags().GetString("period")
	if period == "" {
		return engine.CurrentPeriod()
	}
	return period
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show what a revenue share run would pay, without paying",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := connect()
		if err != nil {
			return err
		}
		defer a.Close()

		preview, err := a.Engine.Preview(cmd.Context(), periodFlag(cmd, a.Engine))
		if err != nil {
			return err
		}
		return printJSON(cmd, preview)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run revenue share for a period",
	Long: `Run revenue share for a period. Contributors already paid for the
period are skipped even with --force.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := connect()
		if err != nil {
			return err
		}
		defer a.Close()

		force, _ := cmd.Flags().GetBool("force")
		report, err := a.Engine.Run(cmd.Context(), periodFlag(cmd, a.Engine), revenueshare.RunOptions{Force: force})
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Resolve withdrawals whose provider callback never arrived",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := connect()
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Payouts.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Settle contributor payments whose withdrawal already finished",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := connect()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Engine.SyncProcessing(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]int{"settled": n})
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry PAYMENT_ID",
	Short: "Re-pay a FAILED contributor payment with a new withdrawal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid payment id %q", args[0])
		}
		a, err := connect()
		if err != nil {
			return err
		}
		defer a.Close()

		force, _ := cmd.Flags().GetBool("force")
		p, err := a.Engine.RetryPayment(cmd.Context(), id, force)
		if err != nil {
			return err
		}
		return printJSON(cmd, p)
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check ledger and withdrawal consistency",
	Long: `Check ledger and withdrawal consistency: negative balances, stuck
withdrawals, refund markers that disagree with the ledger and contributor
payments that disagree with their withdrawal. Exits non-zero on findings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := connect()
		if err != nil {
			return err
		}
		defer a.Close()

		stuckAfter, _ := cmd.Flags().GetDuration("stuck-after")
		ctx := cmd.Context()

		checks := []func() ([]postgres.AuditFinding, error){
			func() ([]postgres.AuditFinding, error) { return a.Audit.NegativeBalances(ctx) },
			func() ([]postgres.AuditFinding, error) {
				return a.Audit.StuckWithdrawals(ctx, time.Now().Add(-stuckAfter))
			},
			func() ([]postgres.AuditFinding, error) { return a.Audit.RefundMismatches(ctx) },
			func() ([]postgres.AuditFinding, error) { return a.Audit.PaymentMismatches(ctx) },
		}

		findings := []postgres.AuditFinding{}
		for _, check := range checks {
			found, err := check()
			if err != nil {
				return err
			}
			findings = append(findings, found...)
		}

		if err := printJSON(cmd, findings); err != nil {
			return err
		}
		if len(findings) > 0 {
			return fmt.Errorf("audit found %d problem(s)", len(findings))
		}
		return nil
	},
}
