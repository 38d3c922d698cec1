package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "backsim",
	Short: "A deterministic event-driven backtest engine for bar data",
	Long: `Backsim replays historical bar data through a simulated venue and
drives trading strategies against it.

It provides tools for:
  - Running reproducible backtests over CSV bar series
  - Probabilistic fill modelling with a fixed random seed
  - Netting or hedging position accounting
  - Journaling fills and equity to CSV or SQLite`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	viper.SetEnvPrefix("BACKSIM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}
