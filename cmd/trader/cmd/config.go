package cmd

import (
	"fmt"

	"github.com/rustyeddy/autotrader/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage trader configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  trader config init -o autotrader.yaml
  trader config validate -f autotrader.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Long: `Create a new configuration file with default settings. Secrets are
never written; supply them with OANDA_TOKEN, ORACLE_API_KEY and
TRADER_STORE_DSN.

Example:
  trader config init -o autotrader.yaml`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check if a configuration file is valid and can be loaded.

Example:
  trader config validate -f autotrader.yaml`,
	RunE: runConfigValidate,
}

var configInitOutput string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "autotrader.yaml", "output config file path")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nEdit the file and run with:")
	fmt.Printf("  trader run -f %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("✓ Configuration valid: %s\n", configPath)
	fmt.Printf("  Feed: %s\n", cfg.Feed)
	fmt.Printf("  Store: %s\n", cfg.Store.Driver)
	fmt.Printf("  Symbols: %v (%s)\n", cfg.Engine.Symbols, cfg.Engine.Timeframe)
	fmt.Printf("  Risk: %.2f%% default, %.2f%% max, min confidence %.0f\n",
		cfg.Risk.Limits.DefaultRiskPercent, cfg.Risk.Limits.MaxRiskPercent, cfg.Risk.Limits.MinConfidence)
	for _, a := range cfg.Accounts {
		state := "active"
		switch {
		case a.Frozen:
			state = "frozen"
		case !a.Active:
			state = "inactive"
		}
		fmt.Printf("  Account: %s (%s, %s, min balance %.2f, %s)\n", a.ID, a.Broker, a.Currency, a.MinBalance, state)
	}
	return nil
}
