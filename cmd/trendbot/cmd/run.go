package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"trendbot/config"
	"trendbot/internal/adapters/binanceclient"
	"trendbot/internal/adapters/webhook"
	"trendbot/internal/ports"
	"trendbot/internal/signal"
)

// maxClockSkew stays well inside Binance's default 5s receive window.
const maxClockSkew = time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Trade live bars from Binance",
	Long: `Run backfills indicator history, then evaluates every closed bar from the Binance
kline stream. With PAPER_TRADING=true orders fill on a simulated venue at the last
close. When WEBHOOK_ADDR is set, TradingView alerts are accepted as forced intents.

Examples:
  PAPER_TRADING=true trendbot run
  trendbot run --strategy config.yaml`,
	RunE: runLive,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	s, err := newStack(cfg, cfg.DBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := s.newBinanceClient()
	if err != nil {
		return err
	}
	if err := client.Ping(ctx); err != nil {
		s.logger.Warn(ctx, "Binance ping failed, continuing", map[string]interface{}{"error": err.Error()})
	}
	if skew, err := client.ClockSkew(ctx); err != nil {
		s.logger.Warn(ctx, "Binance server time unavailable, continuing", map[string]interface{}{"error": err.Error()})
	} else if skew > maxClockSkew || skew < -maxClockSkew {
		s.logger.Warn(ctx, "Local clock differs from Binance server time", map[string]interface{}{"skew": skew.String()})
	}

	var (
		feed    ports.DataFeed = client.NewFeed(cfg.Symbol, cfg.Timeframe)
		exec    ports.ExecutionAdapter
		venueEq ports.EquityProvider
	)
	if cfg.PaperTrading {
		v, err := s.newPaperVenue()
		if err != nil {
			return err
		}
		feed = v.Follow(feed)
		exec, venueEq = v, v
		s.logger.Info(ctx, "Paper trading enabled", map[string]interface{}{"cash": cfg.InitialEquity, "feeRate": cfg.FeeRate})
	} else {
		exec = client
		venueEq = &binanceclient.VenueEquity{Client: client, Symbol: cfg.Symbol}
	}
	equity, err := s.equity(venueEq)
	if err != nil {
		return err
	}

	orch, err := s.orchestrator(exec, feed, equity, cfg.ReconcileInterval)
	if err != nil {
		return fmt.Errorf("initialize orchestrator: %w", err)
	}

	if n, err := orch.Reconcile(ctx); err != nil {
		s.logger.Error(ctx, err, "Startup reconcile failed")
	} else if n > 0 {
		s.logger.Info(ctx, "Startup reconcile applied changes", map[string]interface{}{"changes": n})
	}
	if err := orch.Warmup(ctx); err != nil {
		return err
	}

	webhookErr := make(chan error, 1)
	if cfg.WebhookAddr != "" {
		router, err := signal.NewRouter(signal.Config{Ledger: s.ledger, Logger: s.logger})
		if err != nil {
			return err
		}
		if err := router.Register(orch); err != nil {
			return err
		}
		srv, err := webhook.NewServer(webhook.Config{
			Addr:           cfg.WebhookAddr,
			Secret:         cfg.WebhookSecret,
			Router:         router,
			Logger:         s.logger,
			RatePerSecond:  cfg.WebhookRateLimit,
			RequestTimeout: cfg.RequestTimeout,
		})
		if err != nil {
			return err
		}
		go func() { webhookErr <- srv.Start(ctx) }()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- orch.Run(ctx) }()

	select {
	case err = <-runErr:
	case err = <-webhookErr:
		stop()
		<-runErr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error(context.Background(), err, "Trading stopped with error")
		return err
	}
	s.logger.Info(context.Background(), "Application finished gracefully.")
	return nil
}
