package cmd

import (
	"fmt"
	"time"

	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/store"
	"github.com/spf13/cobra"
)

var breakerCmd = &cobra.Command{
	Use:   "breaker",
	Short: "Inspect or reset per-account circuit breakers",
}

var breakerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted breaker state of every account",
	Args:  cobra.NoArgs,
	RunE:  runBreakerStatus,
}

var breakerResetCmd = &cobra.Command{
	Use:   "reset <account-id>",
	Short: "Clear a tripped breaker and its loss streak",
	Long: `Write a cleared breaker state for an account. A running engine picks
the change up on its next start; restart it to apply immediately.

Example:
  trader breaker reset SIM-001 -f autotrader.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runBreakerReset,
}

func init() {
	rootCmd.AddCommand(breakerCmd)
	breakerCmd.AddCommand(breakerStatusCmd)
	breakerCmd.AddCommand(breakerResetCmd)
}

func runBreakerStatus(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	states, err := st.RiskStates(cmd.Context())
	if err != nil {
		return fmt.Errorf("load risk state: %w", err)
	}
	if len(states) == 0 {
		fmt.Println("No breaker state recorded")
		return nil
	}
	for _, s := range states {
		fmt.Printf("%s: %s losses=%d daily_dd=%.2f%% weekly_dd=%.2f%%",
			s.AccountID, s.State, s.ConsecutiveLosses, s.DailyDrawdownPct(), s.WeeklyDrawdownPct())
		if s.Tripped() {
			fmt.Printf(" reason=%q since=%s", s.TripReason, s.TrippedAt.UTC().Format(time.RFC3339))
		}
		fmt.Println()
	}
	return nil
}

func runBreakerReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	states, err := st.RiskStates(ctx)
	if err != nil {
		return fmt.Errorf("load risk state: %w", err)
	}

	// The breaker persists asynchronously; write the cleared state here so
	// it is on disk before the process exits.
	cb := risk.NewCircuitBreaker(cfg.Risk.Breaker, nil)
	cb.Load(states)
	cleared := cb.Reset(args[0], time.Now())
	if err := st.SaveRiskState(ctx, cleared); err != nil {
		return fmt.Errorf("save risk state: %w", err)
	}

	fmt.Printf("✓ Breaker reset for %s\n", args[0])
	return nil
}
