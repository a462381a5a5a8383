package cmd

import (
	"context"
	"fmt"
	"time"

	"trendbot/config"
	"trendbot/internal/adapters/binanceclient"
	"trendbot/internal/adapters/logger"
	"trendbot/internal/adapters/paper"
	"trendbot/internal/adapters/sqlite"
	"trendbot/internal/app"
	"trendbot/internal/indicators"
	"trendbot/internal/ledger"
	"trendbot/internal/pnl"
	"trendbot/internal/ports"
	"trendbot/internal/risk"
	"trendbot/internal/strategy"
)

// stack is the ledger side every command shares. repo and ledger are nil for
// commands that only read market data.
type stack struct {
	cfg    *config.Config
	logger *logger.StdLogger
	repo   *sqlite.Repository
	ledger *ledger.Ledger
}

func newStack(cfg *config.Config, dbPath string) (*stack, error) {
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: dbPath, Logger: appLogger})
	if err != nil {
		return nil, fmt.Errorf("initialize database repository: %w", err)
	}
	l, err := ledger.New(ledger.Config{
		Store:          repo,
		Logger:         appLogger,
		TargetFraction: cfg.Strategy.Risk.TargetFraction,
	})
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("initialize ledger: %w", err)
	}
	return &stack{cfg: cfg, logger: appLogger, repo: repo, ledger: l}, nil
}

func (s *stack) Close() {
	if s.repo == nil {
		return
	}
	if err := s.repo.Close(); err != nil {
		s.logger.Error(context.Background(), err, "Error closing database repository")
	}
}

func (s *stack) newBinanceClient() (*binanceclient.Client, error) {
	c, err := binanceclient.New(binanceclient.Config{
		APIKey:               s.cfg.APIKey,
		SecretKey:            s.cfg.SecretKey,
		UseTestnet:           s.cfg.IsTestnet,
		Logger:               s.logger,
		RequestTimeout:       s.cfg.RequestTimeout,
		RequestsPerSecond:    s.cfg.RequestsPerSecond,
		ReconnectDelay:       s.cfg.ReconnectDelay,
		MaxReconnectAttempts: s.cfg.MaxReconnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize Binance client: %w", err)
	}
	return c, nil
}

func (s *stack) newPaperVenue() (*paper.Venue, error) {
	v, err := paper.New(paper.Config{
		Symbol:      s.cfg.Symbol,
		InitialCash: s.cfg.InitialEquity,
		FeeRate:     s.cfg.FeeRate,
		Logger:      s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize paper venue: %w", err)
	}
	return v, nil
}

// equity picks the sizing source. venue is the live balance source or, in paper
// mode, the paper venue itself.
func (s *stack) equity(venue ports.EquityProvider) (ports.EquityProvider, error) {
	switch s.cfg.EquitySource {
	case config.EquityStatic:
		return risk.StaticEquity(s.cfg.InitialEquity), nil
	case config.EquityVenue:
		if venue == nil {
			return nil, fmt.Errorf("no venue equity source available: %w", ports.ErrConfigurationError)
		}
		return venue, nil
	default:
		return &risk.LedgerEquity{Ledger: s.ledger, Initial: s.cfg.InitialEquity}, nil
	}
}

// orchestrator assembles the decision pipeline for the configured symbol.
func (s *stack) orchestrator(exec ports.ExecutionAdapter, feed ports.DataFeed, equity ports.EquityProvider, reconcile time.Duration) (*app.Orchestrator, error) {
	st := s.cfg.Strategy
	provider, err := indicators.NewProvider(indicators.Config{
		FastPeriod:       st.Indicators.FastPeriod,
		SlowPeriod:       st.Indicators.SlowPeriod,
		OscillatorPeriod: st.Indicators.OscillatorPeriod,
		VolatilityPeriod: st.Indicators.VolatilityPeriod,
	})
	if err != nil {
		return nil, err
	}
	session, err := strategy.NewSession(strategy.Params{
		Name:           st.Name,
		Version:        st.Version,
		EntryThreshold: st.Entry.EntryThreshold,
		ExitThreshold:  st.Exit.ExitThreshold,
		StopATRMult:    st.Risk.StopATRMult,
		TrailATRMult:   st.Exit.TrailATRMult,
		CooldownBars:   st.Entry.CooldownBars,
	}, s.logger)
	if err != nil {
		return nil, err
	}
	engine, err := risk.NewEngine(risk.Config{
		PerTradeRiskPct: st.Risk.PerTradeRiskPct,
		MaxDailyLossPct: st.Risk.MaxDailyLossPct,
		StopATRMult:     st.Risk.StopATRMult,
	}, equity)
	if err != nil {
		return nil, err
	}
	agg, err := pnl.New(pnl.Config{Risk: engine, Equity: equity, Logger: s.logger})
	if err != nil {
		return nil, err
	}
	return app.NewOrchestrator(app.Config{
		Symbol:         s.cfg.Symbol,
		Timeframe:      s.cfg.Timeframe,
		Ledger:         s.ledger,
		Session:        session,
		Risk:           engine,
		PnL:            agg,
		Indicators:     provider,
		Execution:      exec,
		Feed:           feed,
		Logger:         s.logger,
		TargetRMult:    st.Exit.TargetRMultiple,
		ReconcileEvery: reconcile,
	})
}
