package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"trendbot/config"
	"trendbot/internal/adapters/csvfeed"
	"trendbot/internal/adapters/logger"
	"trendbot/internal/domain"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download closed Binance klines to CSV",
	Long: `Fetch downloads closed bars for SYMBOL and TIMEFRAME from the Binance REST API
and writes them in the CSV layout replay reads. Without --start the most recent
--limit bars are fetched.

Examples:
  trendbot fetch --limit 1000
  trendbot fetch --start 2024-01-01 --end 2024-04-01 --out data/btc_q1.csv`,
	RunE: runFetch,
}

var (
	fetchLimit int
	fetchStart string
	fetchEnd   string
	fetchOut   string
)

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().IntVarP(&fetchLimit, "limit", "n", 500, "number of recent bars when --start is not set")
	fetchCmd.Flags().StringVar(&fetchStart, "start", "", "range start (2006-01-02 or RFC3339)")
	fetchCmd.Flags().StringVar(&fetchEnd, "end", "", "range end (default: now)")
	fetchCmd.Flags().StringVarP(&fetchOut, "out", "o", "", "output CSV (default: data/SYMBOL_TIMEFRAME.csv)")
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want 2006-01-02 or RFC3339", s)
	}
	return t.UTC(), nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.LoadOfflineConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	s := &stack{cfg: cfg, logger: logger.NewStdLogger(cfg.LogLevel)}
	client, err := s.newBinanceClient()
	if err != nil {
		return err
	}
	feed := client.NewFeed(cfg.Symbol, cfg.Timeframe)

	var bars []*domain.Bar
	if fetchStart != "" {
		var start, end time.Time
		if start, err = parseDate(fetchStart); err != nil {
			return err
		}
		end = time.Now().UTC()
		if fetchEnd != "" {
			if end, err = parseDate(fetchEnd); err != nil {
				return err
			}
		}
		if !start.Before(end) {
			return fmt.Errorf("start %s must be before end %s", start, end)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Fetching %s %s from %s to %s...\n", cfg.Symbol, cfg.Timeframe, start, end)
		bars, err = feed.Range(ctx, start, end)
	} else {
		if fetchLimit <= 0 {
			return fmt.Errorf("limit must be positive")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Fetching the last %d %s %s bars...\n", fetchLimit, cfg.Symbol, cfg.Timeframe)
		bars, err = feed.History(ctx, fetchLimit)
	}
	if err != nil {
		return fmt.Errorf("fetch klines: %w", err)
	}

	out := fetchOut
	if out == "" {
		out = fmt.Sprintf("data/%s_%s.csv", cfg.Symbol, cfg.Timeframe)
	}
	if err := csvfeed.WriteFile(out, bars); err != nil {
		return err
	}
	s.logger.Info(ctx, "Saved klines", map[string]interface{}{"count": len(bars), "filename": out})
	return nil
}
