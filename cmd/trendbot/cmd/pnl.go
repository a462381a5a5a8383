package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"trendbot/config"
	"trendbot/internal/domain"
	"trendbot/internal/ledger"
	"trendbot/internal/pnl"
)

var pnlCmd = &cobra.Command{
	Use:   "pnl",
	Short: "Print daily PnL and performance from the ledger",
	Long: `Pnl reads the ledger at DB_PATH (or --db) and prints the daily PnL buckets the
kill-switch uses, followed by performance metrics over closed positions.`,
	RunE: runPnL,
}

var (
	pnlDBPath string
	pnlSymbol string
)

func init() {
	rootCmd.AddCommand(pnlCmd)

	pnlCmd.Flags().StringVarP(&pnlDBPath, "db", "d", "", "SQLite ledger path (default: DB_PATH)")
	pnlCmd.Flags().StringVar(&pnlSymbol, "symbol", "", "only positions of this symbol (default: all)")
}

func runPnL(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.LoadOfflineConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	dbPath := cfg.DBPath
	if pnlDBPath != "" {
		dbPath = pnlDBPath
	}
	s, err := newStack(cfg, dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	var (
		days   []*domain.DailyPnL
		closed []*domain.Position
	)
	err = s.ledger.Run(ctx, func(u *ledger.Unit) error {
		var err error
		if days, err = u.DailyPnLHistory(ctx); err != nil {
			return err
		}
		closed, err = u.ClosedPositions(ctx, domain.NormalizeSymbol(pnlSymbol))
		return err
	})
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(days) == 0 {
		fmt.Fprintln(out, "No daily PnL recorded.")
	} else {
		printDailyPnL(out, days)
	}
	fmt.Fprintln(out)
	printReport(out, pnl.AnalyzePerformance(closed, cfg.InitialEquity), cfg.InitialEquity)
	return nil
}
