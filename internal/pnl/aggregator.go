// Package pnl rolls realized and unrealized PnL into daily buckets and feeds
// the kill-switch.
package pnl

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trendbot/internal/domain"
	"trendbot/internal/ledger"
	"trendbot/internal/ports"
	"trendbot/internal/risk"
)

// UnitEquity is implemented by equity sources that read the ledger. Inside a
// unit they must use the unit's transaction instead of opening another one.
type UnitEquity interface {
	EquityIn(ctx context.Context, u *ledger.Unit) (float64, error)
}

// Aggregator maintains DailyPnL rows through a ledger unit.
type Aggregator struct {
	risk   *risk.Engine
	equity ports.EquityProvider
	logger ports.Logger
	now    func() time.Time
}

// Config holds aggregator dependencies.
type Config struct {
	Risk   *risk.Engine
	Equity ports.EquityProvider
	Logger ports.Logger
	Now    func() time.Time // used when a call carries no timestamp
}

// New creates an Aggregator.
func New(cfg Config) (*Aggregator, error) {
	if cfg.Risk == nil || cfg.Equity == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for pnl aggregator")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Aggregator{risk: cfg.Risk, equity: cfg.Equity, logger: cfg.Logger, now: now}, nil
}

func (a *Aggregator) stamp(at time.Time) time.Time {
	if at.IsZero() {
		return a.now().UTC()
	}
	return at.UTC()
}

// Equity reads current equity, through the unit when the source supports it.
func (a *Aggregator) Equity(ctx context.Context, u *ledger.Unit) (float64, error) {
	if ue, ok := a.equity.(UnitEquity); ok && u != nil {
		return ue.EquityIn(ctx, u)
	}
	return a.equity.Equity(ctx)
}

// KillSwitchStatus is the outcome of a kill-switch evaluation.
type KillSwitchStatus struct {
	Tripped bool
	Pct     float64 // realized PnL of the day as a percentage of equity
	Day     string
}

// KillSwitch evaluates the day's realized PnL against the loss limit. A day
// without a row is never tripped.
func (a *Aggregator) KillSwitch(ctx context.Context, u *ledger.Unit, at time.Time) (KillSwitchStatus, error) {
	status := KillSwitchStatus{Day: domain.DayOf(a.stamp(at))}
	row, err := u.DailyPnL(ctx, status.Day)
	if err != nil {
		return status, fmt.Errorf("kill-switch: read daily pnl: %w", err)
	}
	if row == nil {
		return status, nil
	}
	var equity float64
	if row.Equity.Valid {
		equity = row.Equity.Decimal.InexactFloat64()
	} else if equity, err = a.Equity(ctx, u); err != nil {
		return status, fmt.Errorf("kill-switch: read equity: %w", err)
	}
	status.Pct = risk.DayPnLPct(row.RealizedPNL.InexactFloat64(), equity)
	status.Tripped = a.risk.DailyKillSwitch(status.Pct)
	if status.Tripped {
		a.logger.Warn(ctx, "Daily kill-switch tripped", map[string]interface{}{
			"day": status.Day, "pnlPct": status.Pct, "realized": row.RealizedPNL.String(),
		})
	}
	return status, nil
}

// RecordClose adds a realized PnL delta to the closing day and snapshots equity.
// The unrealized mark resets since the position is gone.
func (a *Aggregator) RecordClose(ctx context.Context, u *ledger.Unit, realized decimal.Decimal, at time.Time) (*domain.DailyPnL, error) {
	equity, err := a.Equity(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("record close: read equity: %w", err)
	}
	at = a.stamp(at)
	return u.UpsertDailyPnL(ctx, domain.DayOf(at), realized, decimal.Zero,
		decimal.NewNullDecimal(decimal.NewFromFloat(equity)), at)
}

// MarkUnrealized overwrites the day's unrealized PnL for an open position.
func (a *Aggregator) MarkUnrealized(ctx context.Context, u *ledger.Unit, pos *domain.Position, price decimal.Decimal, at time.Time) (*domain.DailyPnL, error) {
	at = a.stamp(at)
	unrealized := price.Sub(pos.EntryPrice).Mul(pos.Quantity)
	return u.UpsertDailyPnL(ctx, domain.DayOf(at), decimal.Zero, unrealized, decimal.NullDecimal{}, at)
}
