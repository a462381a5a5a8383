// Package cmd holds the trendbot command tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "trendbot",
	Short: "Trend-following spot trading bot with a transactional trade ledger",
	Long: `Trendbot trades one symbol on bar closes with an EMA cross entry filtered by RSI,
ATR-based stops and a daily loss kill-switch. Every decision, order and fill is
recorded in a SQLite ledger.

Infrastructure settings come from the environment (or a .env file); strategy and
risk parameters come from the YAML file named by STRATEGY_CONFIG.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var strategyPath string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&strategyPath, "strategy", "s", "", "strategy YAML file (overrides STRATEGY_CONFIG)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if strategyPath != "" {
			return os.Setenv("STRATEGY_CONFIG", strategyPath)
		}
		return nil
	}
}
