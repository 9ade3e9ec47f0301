// ==============================================================================
// PAYOUT OPERATOR CLI - cmd/payoutctl/main.go
// ==============================================================================
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"reseller/internal/app"
	"reseller/pkg/config"
	"reseller/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "payoutctl",
	Short: "Operate contributor payouts and withdrawal settlement",
	Long: `payoutctl runs the settlement jobs by hand against the configured
database and payout provider: revenue share preview and runs, the
withdrawal reconciliation sweep, manual payment retries and a read-only
consistency audit.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// connect builds the settlement core for one command invocation.
func connect() (*app.App, error) {
	cfg := config.Load()
	if err := cfg.ValidateCore(); err != nil {
		return nil, err
	}
	return app.Build(cfg, logger.New("payoutctl"))
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
