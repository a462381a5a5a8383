// Package app composes the ledger, strategy, risk engine and venue adapters into
// a per-symbol trading loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trendbot/internal/domain"
	"trendbot/internal/ledger"
	"trendbot/internal/pnl"
	"trendbot/internal/ports"
	"trendbot/internal/risk"
	"trendbot/internal/strategy"
)

const (
	maxBarCacheSize = 500 // Limit cache size to avoid memory issues

	sourceBar = "bar"
)

// Config holds orchestrator dependencies. Feed is only needed by Warmup and Run.
type Config struct {
	Symbol         string
	Timeframe      string
	Ledger         *ledger.Ledger
	Session        *strategy.Session
	Risk           *risk.Engine
	PnL            *pnl.Aggregator
	Indicators     ports.IndicatorProvider
	Execution      ports.ExecutionAdapter
	Feed           ports.DataFeed
	Logger         ports.Logger
	TargetRMult    float64       // TP1 at entry + R * stop distance; 0 places no target
	ReconcileEvery time.Duration // 0 disables periodic reconciliation in Run
	Now            func() time.Time
}

// Result describes what one invocation did.
type Result struct {
	Action     domain.Action
	Reason     string
	PositionID int64
	Quantity   float64
	Price      float64
}

// Orchestrator runs the decision pipeline for one symbol-timeframe. Every entry
// point holds mu for its whole duration, so one evaluation runs at a time.
type Orchestrator struct {
	symbol      string
	timeframe   string
	ledger      *ledger.Ledger
	session     *strategy.Session
	risk        *risk.Engine
	pnl         *pnl.Aggregator
	indicators  ports.IndicatorProvider
	execution   ports.ExecutionAdapter
	feed        ports.DataFeed
	logger      ports.Logger
	targetRMult float64
	reconcile   time.Duration
	now         func() time.Time

	mu   sync.Mutex // Protects bars and serializes invocations
	bars []*domain.Bar
}

// NewOrchestrator validates dependencies and creates an Orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Ledger == nil || cfg.Session == nil || cfg.Risk == nil || cfg.PnL == nil ||
		cfg.Indicators == nil || cfg.Execution == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for orchestrator")
	}
	symbol := domain.NormalizeSymbol(cfg.Symbol)
	if symbol == "" || cfg.Timeframe == "" {
		return nil, fmt.Errorf("orchestrator needs a symbol and timeframe: %w", ports.ErrConfigurationError)
	}
	if cfg.TargetRMult < 0 {
		return nil, fmt.Errorf("target r multiple must not be negative: %w", ports.ErrConfigurationError)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		symbol:      symbol,
		timeframe:   cfg.Timeframe,
		ledger:      cfg.Ledger,
		session:     cfg.Session,
		risk:        cfg.Risk,
		pnl:         cfg.PnL,
		indicators:  cfg.Indicators,
		execution:   cfg.Execution,
		feed:        cfg.Feed,
		logger:      cfg.Logger,
		targetRMult: cfg.TargetRMult,
		reconcile:   cfg.ReconcileEvery,
		now:         now,
		bars:        make([]*domain.Bar, 0, maxBarCacheSize),
	}, nil
}

// Symbol returns the normalized symbol the orchestrator trades.
func (o *Orchestrator) Symbol() string { return o.symbol }

// Timeframe returns the bar interval the orchestrator evaluates.
func (o *Orchestrator) Timeframe() string { return o.timeframe }

// appendBar adds a closed bar to the cache. A repeated open time replaces the
// cached bar and older bars are dropped. Caller holds mu.
func (o *Orchestrator) appendBar(bar *domain.Bar) bool {
	if n := len(o.bars); n > 0 {
		last := o.bars[n-1]
		switch {
		case bar.OpenTime.Equal(last.OpenTime):
			o.bars[n-1] = bar
			return true
		case bar.OpenTime.Before(last.OpenTime):
			return false
		}
	}
	o.bars = append(o.bars, bar)
	if len(o.bars) > maxBarCacheSize {
		o.bars = o.bars[len(o.bars)-maxBarCacheSize:]
	}
	return true
}

// Warmup backfills the bar cache from the feed's history.
func (o *Orchestrator) Warmup(ctx context.Context) error {
	if o.feed == nil {
		return fmt.Errorf("warmup: no data feed: %w", ports.ErrConfigurationError)
	}
	required := o.indicators.RequiredBars()
	bars, err := o.feed.History(ctx, maxBarCacheSize)
	if err != nil {
		o.logger.Error(ctx, err, "warmup: Failed to load history")
		return fmt.Errorf("warmup: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, b := range bars {
		o.appendBar(b)
	}
	if len(o.bars) < required {
		o.logger.Warn(ctx, "warmup: Insufficient history, decisions wait for more bars", map[string]interface{}{
			"loaded": len(o.bars), "required": required,
		})
		return nil
	}
	o.logger.Info(ctx, "warmup: Loaded history", map[string]interface{}{"count": len(o.bars), "symbol": o.symbol})
	return nil
}

// Run consumes the feed's bar stream until ctx is canceled or the stream ends.
// Evaluation errors are logged and the loop continues with the next bar.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.feed == nil {
		return fmt.Errorf("run: no data feed: %w", ports.ErrConfigurationError)
	}
	stream, err := o.feed.Stream(ctx)
	if err != nil {
		o.logger.Error(ctx, err, "run: Failed to start bar stream")
		return fmt.Errorf("run: %w", err)
	}
	o.logger.Info(ctx, "run: Bar stream started", map[string]interface{}{"symbol": o.symbol, "timeframe": o.timeframe})

	var tick <-chan time.Time
	if o.reconcile > 0 {
		ticker := time.NewTicker(o.reconcile)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			o.logger.Info(ctx, "run: Context cancelled, stopping")
			return ctx.Err()
		case <-tick:
			if _, err := o.Reconcile(ctx); err != nil {
				o.logger.Error(ctx, err, "run: Reconcile failed")
			}
		case bar, ok := <-stream:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				o.logger.Warn(ctx, "run: Bar stream ended")
				return nil
			}
			if !bar.IsFinal {
				continue
			}
			if _, err := o.OnBarClose(ctx, bar); err != nil {
				o.logger.Error(ctx, err, "run: Bar evaluation failed", map[string]interface{}{
					"openTime": bar.OpenTime, "kind": ports.KindOf(err).String(),
				})
			}
		}
	}
}

func (o *Orchestrator) signal(at time.Time, action domain.Action, notes, source string) *domain.SignalLog {
	params := o.session.Params()
	return &domain.SignalLog{
		Symbol:          o.symbol,
		Timeframe:       o.timeframe,
		BarTime:         at,
		Strategy:        params.Name,
		StrategyVersion: params.Version,
		DecidedAction:   action,
		Notes:           notes,
		Source:          source,
	}
}

// logSignal commits a SignalLog row in its own unit.
func (o *Orchestrator) logSignal(ctx context.Context, s *domain.SignalLog) error {
	return o.ledger.Run(ctx, func(u *ledger.Unit) error {
		return u.LogSignal(ctx, s)
	})
}

// OnBarClose evaluates a closed bar: kill-switch, strategy decision, then entry,
// exit or position management.
func (o *Orchestrator) OnBarClose(ctx context.Context, bar *domain.Bar) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.appendBar(bar) {
		o.logger.Warn(ctx, "onBarClose: Out of order bar ignored", map[string]interface{}{"openTime": bar.OpenTime})
		return &Result{Action: domain.ActionIgnored, Reason: "out-of-order"}, nil
	}
	at := bar.OpenTime.UTC()

	var (
		killed   bool
		pos      *domain.Position
		curr     domain.IndicatorSnapshot
		decision strategy.Decision
	)
	err := o.ledger.Run(ctx, func(u *ledger.Unit) error {
		ks, err := o.pnl.KillSwitch(ctx, u, at)
		if err != nil {
			return err
		}
		if ks.Tripped {
			killed = true
			return u.LogSignal(ctx, o.signal(at, domain.ActionHold, "kill-switch", sourceBar))
		}
		if pos, err = u.OpenPositionFor(ctx, o.symbol); err != nil {
			return err
		}
		var prev domain.IndicatorSnapshot
		prev, curr, err = o.indicators.Latest(ctx, o.bars)
		if err != nil {
			if errors.Is(err, ports.ErrInsufficientData) {
				decision = strategy.Decision{Action: domain.ActionHold, Reason: "insufficient-data"}
				return u.LogSignal(ctx, o.signal(at, domain.ActionHold, decision.Reason, sourceBar))
			}
			return err
		}
		decision = o.session.Decide(ctx, prev, curr, bar.Close, pos != nil)
		s := o.signal(at, decision.Action, decision.Reason, sourceBar).WithSnapshot(curr)
		s.EntrySignal, s.ExitSignal = decision.EntrySignal, decision.ExitSignal
		return u.LogSignal(ctx, s)
	})
	if err != nil {
		o.logger.Error(ctx, err, "onBarClose: Failed to evaluate bar", map[string]interface{}{"openTime": at})
		return nil, err
	}
	o.session.Commit(decision)

	switch {
	case killed:
		return &Result{Action: domain.ActionHold, Reason: "kill-switch"}, nil
	case decision.Action == domain.ActionBuy:
		res, err := o.enter(ctx, at, bar.Close, curr.Volatility, decimal.NewNullDecimal(roundPrice(decision.Stop)), sourceBar)
		if err != nil {
			return nil, err
		}
		if res.Action == domain.ActionBuy {
			o.session.ArmCooldown()
		}
		return res, nil
	case decision.Action == domain.ActionSell && pos != nil:
		return o.exit(ctx, at, pos.ID, bar.Close, domain.CloseReasonStrategy, sourceBar)
	case pos != nil && pos.StopPrice.Valid && bar.Low <= pos.StopPrice.Decimal.InexactFloat64():
		if err := o.logSignal(ctx, o.signal(at, domain.ActionSell, "stop-hit", sourceBar)); err != nil {
			return nil, err
		}
		return o.exit(ctx, at, pos.ID, pos.StopPrice.Decimal.InexactFloat64(), domain.CloseReasonStopLoss, sourceBar)
	case pos != nil && decision.Reason != "insufficient-data":
		return o.manage(ctx, at, pos.ID, bar.Close, curr.Volatility)
	default:
		return &Result{Action: domain.ActionHold, Reason: decision.Reason}, nil
	}
}

// roundPrice converts a computed price to a decimal with venue-scale precision.
func roundPrice(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(8)
}
