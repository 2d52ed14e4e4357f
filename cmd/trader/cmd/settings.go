package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/store"
	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or publish runtime settings",
	Long: `Runtime settings are stored with a version number. A running engine
polls the store and applies every new version without a restart.

Examples:
  trader settings show
  trader settings set --trading=false
  trader settings set --risk 0.75 --max-positions 2 --interval 2m`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current runtime settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Publish a new settings version",
	Long: `Publish a new settings version. Flags that are not given keep the
current stored value, or the config file value when nothing is stored yet.`,
	Args: cobra.NoArgs,
	RunE: runSettingsSet,
}

var newSettings store.Settings

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	f := settingsSetCmd.Flags()
	f.BoolVar(&newSettings.TradingEnabled, "trading", true, "master trading switch")
	f.Float64Var(&newSettings.RiskPercent, "risk", 0, "default risk percent per trade")
	f.Float64Var(&newSettings.MaxRiskPercent, "max-risk", 0, "hard ceiling on risk percent")
	f.Float64Var(&newSettings.MinConfidence, "min-confidence", 0, "minimum oracle confidence")
	f.Float64Var(&newSettings.ADXThreshold, "adx", 0, "trend strength threshold")
	f.IntVar(&newSettings.MaxOpenPositions, "max-positions", 0, "maximum open positions per account")
	f.DurationVar(&newSettings.AnalysisInterval, "interval", 0, "minimum time between analyses of one symbol")
}

// baseSettings is the stored settings, or the config-derived values when
// none have been published.
func baseSettings(cmd *cobra.Command, cfg *config.Config, st store.Store) (store.Settings, error) {
	cur, err := st.Settings(cmd.Context())
	if err == nil {
		return cur, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return store.Settings{
		TradingEnabled:   true,
		RiskPercent:      cfg.Risk.Limits.DefaultRiskPercent,
		MaxRiskPercent:   cfg.Risk.Limits.MaxRiskPercent,
		MinConfidence:    cfg.Risk.Limits.MinConfidence,
		ADXThreshold:     cfg.Filter.ADXThreshold,
		MaxOpenPositions: cfg.Execution.MaxOpenPositions,
		AnalysisInterval: cfg.Engine.AnalysisInterval,
	}, nil
}

func printSettings(s store.Settings) {
	fmt.Printf("  Version: %d\n", s.Version)
	fmt.Printf("  Trading: %t\n", s.TradingEnabled)
	fmt.Printf("  Risk: %.2f%% (max %.2f%%)\n", s.RiskPercent, s.MaxRiskPercent)
	fmt.Printf("  Min confidence: %.0f\n", s.MinConfidence)
	fmt.Printf("  ADX threshold: %.0f\n", s.ADXThreshold)
	fmt.Printf("  Max open positions: %d\n", s.MaxOpenPositions)
	fmt.Printf("  Analysis interval: %s\n", s.AnalysisInterval)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	s, err := baseSettings(cmd, cfg, st)
	if err != nil {
		return err
	}
	if s.Version == 0 {
		fmt.Println("No settings published; engine uses config values:")
	}
	printSettings(s)
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	s, err := baseSettings(cmd, cfg, st)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	if f.Changed("trading") {
		s.TradingEnabled = newSettings.TradingEnabled
	}
	if f.Changed("risk") {
		s.RiskPercent = newSettings.RiskPercent
	}
	if f.Changed("max-risk") {
		s.MaxRiskPercent = newSettings.MaxRiskPercent
	}
	if f.Changed("min-confidence") {
		s.MinConfidence = newSettings.MinConfidence
	}
	if f.Changed("adx") {
		s.ADXThreshold = newSettings.ADXThreshold
	}
	if f.Changed("max-positions") {
		s.MaxOpenPositions = newSettings.MaxOpenPositions
	}
	if f.Changed("interval") {
		s.AnalysisInterval = newSettings.AnalysisInterval
	}
	if s.RiskPercent > 0 && s.MaxRiskPercent > 0 && s.RiskPercent > s.MaxRiskPercent {
		return fmt.Errorf("risk %.2f%% exceeds max risk %.2f%%", s.RiskPercent, s.MaxRiskPercent)
	}

	s.UpdatedAt = time.Time{}
	saved, err := st.SaveSettings(cmd.Context(), s)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	fmt.Println("✓ Settings published")
	printSettings(saved)
	return nil
}
