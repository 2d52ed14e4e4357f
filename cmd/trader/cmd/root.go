package cmd

import (
	"fmt"
	"os"

	"github.com/rustyeddy/autotrader/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "An automated FX, metals and crypto trading engine",
	Long: `Trader streams prices from a broker, filters out untradeable market
conditions, asks a decision oracle for trade plans and executes approved
signals across every configured account under strict risk controls.

It provides tools for:
  - Running the trading engine against the simulator or OANDA
  - Generating and validating configuration files
  - Inspecting open trades and trade history
  - Resetting a tripped circuit breaker
  - Publishing runtime settings the engine hot-reloads`,
	SilenceUsage: true,
}

var configPath string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "f", "", "path to config file (YAML or JSON); defaults apply when empty")
}

// loadConfig reads the config file, or the defaults when no file is given,
// and overlays the process environment.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}
