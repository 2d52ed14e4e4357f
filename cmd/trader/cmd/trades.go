package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/autotrader/store"
	"github.com/spf13/cobra"
)

var tradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "Query trades recorded by the engine",
	Long: `Query and display trades from the configured store.

Subcommands:
  open    - List trades still open
  history - List closed trades, newest first
  show    - Show one trade

Examples:
  trader trades open -f autotrader.yaml
  trader trades history --since 72h --limit 20
  trader trades show <trade-id>`,
}

var tradesOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "List open trades",
	Args:  cobra.NoArgs,
	RunE:  runTradesOpen,
}

var tradesHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List closed trades, newest first",
	Args:  cobra.NoArgs,
	RunE:  runTradesHistory,
}

var tradesShowCmd = &cobra.Command{
	Use:   "show <trade-id>",
	Short: "Show details of a single trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runTradesShow,
}

var (
	tradesAccount string
	tradesSince   time.Duration
	tradesLimit   int
)

func init() {
	rootCmd.AddCommand(tradesCmd)
	tradesCmd.AddCommand(tradesOpenCmd)
	tradesCmd.AddCommand(tradesHistoryCmd)
	tradesCmd.AddCommand(tradesShowCmd)

	tradesCmd.PersistentFlags().StringVarP(&tradesAccount, "account", "a", "", "only this trading account")
	tradesHistoryCmd.Flags().DurationVar(&tradesSince, "since", 24*time.Hour, "how far back to look")
	tradesHistoryCmd.Flags().IntVarP(&tradesLimit, "limit", "n", 50, "maximum trades to list (0 for all)")
}

func openStore() (store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func runTradesOpen(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	trades, err := st.OpenTrades(cmd.Context(), tradesAccount)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	if len(trades) == 0 {
		fmt.Println("No open trades")
		return nil
	}
	fmt.Println(store.FormatTradesOrg(trades))
	return nil
}

func runTradesHistory(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	since := time.Now().Add(-tradesSince)
	trades, err := st.TradeHistory(cmd.Context(), tradesAccount, since, tradesLimit)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	if len(trades) == 0 {
		fmt.Printf("No trades closed since %s\n", since.Format(time.RFC3339))
		return nil
	}

	fmt.Println(store.FormatTradesOrg(trades))
	fmt.Println()
	fmt.Println(historySummary(trades))
	return nil
}

func runTradesShow(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	t, err := st.GetTrade(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}
	fmt.Println(store.FormatTradeOrg(t))
	return nil
}

// historySummary totals closed trades: count, win rate, net P&L and profit
// factor.
func historySummary(trades []store.Trade) string {
	var wins int
	var gross, loss float64
	for _, t := range trades {
		switch {
		case t.PnL > 0:
			wins++
			gross += t.PnL
		case t.PnL < 0:
			loss -= t.PnL
		}
	}
	pf := "n/a"
	if loss > 0 {
		pf = fmt.Sprintf("%.2f", gross/loss)
	}
	return fmt.Sprintf("%d trades, %d wins (%.0f%%), net %.2f, profit factor %s",
		len(trades), wins, 100*float64(wins)/float64(len(trades)), gross-loss, pf)
}
