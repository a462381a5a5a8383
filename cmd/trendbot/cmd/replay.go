package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"trendbot/config"
	"trendbot/internal/adapters/csvfeed"
	"trendbot/internal/app"
	"trendbot/internal/domain"
	"trendbot/internal/indicators"
	"trendbot/internal/ledger"
	"trendbot/internal/pnl"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay historical bars from CSV on the paper venue",
	Long: `Replay feeds bars from a CSV file through the same decision pipeline as run,
filling orders on the paper venue at each bar's close, then prints a performance
report built from the ledger.

Examples:
  trendbot replay --csv data/BTCUSDT_1h.csv
  trendbot replay --csv data/BTCUSDT_1h.csv --db data/replay.db --close-end=false`,
	RunE: runReplay,
}

var (
	replayCSVPath  string
	replayDBPath   string
	replayWarmup   int
	replayCloseEnd bool
)

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVarP(&replayCSVPath, "csv", "c", "", "CSV file of bars (open_time,open,high,low,close,...)")
	replayCmd.Flags().StringVarP(&replayDBPath, "db", "d", "", "SQLite ledger path (default: temporary)")
	replayCmd.Flags().IntVarP(&replayWarmup, "warmup", "w", 0, "bars loaded as history before trading (default: indicator requirement)")
	replayCmd.Flags().BoolVar(&replayCloseEnd, "close-end", true, "close the open position at the last bar")
	_ = replayCmd.MarkFlagRequired("csv")
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.LoadOfflineConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	bars, err := csvfeed.ReadFile(replayCSVPath)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		return fmt.Errorf("no bars in %s", replayCSVPath)
	}
	if sym := bars[0].Symbol; sym != "" {
		cfg.Symbol = sym
	}
	if tf := bars[0].Interval; tf != "" {
		cfg.Timeframe = tf
	}

	dbPath := replayDBPath
	if dbPath == "" {
		dir, err := os.MkdirTemp("", "trendbot-replay-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		dbPath = filepath.Join(dir, "replay.db")
	}
	s, err := newStack(cfg, dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	warmup := replayWarmup
	if warmup <= 0 {
		if warmup, err = requiredBars(cfg); err != nil {
			return err
		}
	}
	feed := csvfeed.NewFeed(bars, warmup)

	venue, err := s.newPaperVenue()
	if err != nil {
		return err
	}
	equity, err := s.equity(venue)
	if err != nil {
		return err
	}
	orch, err := s.orchestrator(venue, feed, equity, 0)
	if err != nil {
		return fmt.Errorf("initialize orchestrator: %w", err)
	}

	hist, err := feed.History(ctx, 0)
	if err != nil {
		return err
	}
	if n := len(hist); n > 0 {
		venue.Mark(hist[n-1].Close)
	}
	if err := orch.Warmup(ctx); err != nil {
		return err
	}

	stream, err := feed.Stream(ctx)
	if err != nil {
		return err
	}
	actions := map[domain.Action]int{}
	var last *domain.Bar
	for bar := range stream {
		venue.Mark(bar.Close)
		res, err := orch.OnBarClose(ctx, bar)
		if err != nil {
			s.logger.Error(ctx, err, "replay: Bar evaluation failed", map[string]interface{}{"openTime": bar.OpenTime})
			continue
		}
		actions[res.Action]++
		last = bar
	}

	if replayCloseEnd && last != nil {
		res, err := orch.ForceSellIntent(ctx, app.ForcedIntent{
			Symbol: cfg.Symbol, RefPrice: last.Close, BarTime: last.CloseTime, Source: "replay-end",
		})
		if err != nil {
			s.logger.Error(ctx, err, "replay: Closing final position failed")
		} else if res.Action == domain.ActionSell {
			actions[domain.ActionSell]++
		}
	}

	var closed []*domain.Position
	if err := s.ledger.Run(ctx, func(u *ledger.Unit) error {
		closed, err = u.ClosedPositions(ctx, cfg.Symbol)
		return err
	}); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Replayed %d bars of %s %s (%d warmup): %d buys, %d sells, %d holds\n\n",
		len(bars), cfg.Symbol, cfg.Timeframe, warmup,
		actions[domain.ActionBuy], actions[domain.ActionSell], actions[domain.ActionHold])
	printReport(out, pnl.AnalyzePerformance(closed, cfg.InitialEquity), cfg.InitialEquity)
	cash, base := venue.Holdings()
	fmt.Fprintf(out, "\nPaper holdings: %.2f quote, %.8f base\n", cash, base)
	return nil
}

func requiredBars(cfg *config.Config) (int, error) {
	ind := cfg.Strategy.Indicators
	p, err := indicators.NewProvider(indicators.Config{
		FastPeriod:       ind.FastPeriod,
		SlowPeriod:       ind.SlowPeriod,
		OscillatorPeriod: ind.OscillatorPeriod,
		VolatilityPeriod: ind.VolatilityPeriod,
	})
	if err != nil {
		return 0, err
	}
	return p.RequiredBars(), nil
}
