// Package risk sizes positions and guards the daily loss limit.
package risk

import (
	"context"
	"fmt"
	"math"

	"trendbot/internal/ports"
)

// Config holds risk parameters. It is copied into the Engine and never changes.
type Config struct {
	PerTradeRiskPct float64 // percent of equity risked per trade
	MaxDailyLossPct float64 // kill-switch threshold, sign ignored
	StopATRMult     float64 // stop distance in volatility units
}

// Validate checks the parameters are usable.
func (c Config) Validate() error {
	if c.PerTradeRiskPct <= 0 || c.PerTradeRiskPct > 100 {
		return fmt.Errorf("per trade risk pct %v out of range (0, 100]: %w", c.PerTradeRiskPct, ports.ErrConfigurationError)
	}
	if c.MaxDailyLossPct == 0 {
		return fmt.Errorf("max daily loss pct must be set: %w", ports.ErrConfigurationError)
	}
	if c.StopATRMult <= 0 {
		return fmt.Errorf("stop atr mult %v must be positive: %w", c.StopATRMult, ports.ErrConfigurationError)
	}
	return nil
}

// Engine implements position sizing and the daily kill-switch.
type Engine struct {
	config Config
	equity ports.EquityProvider
}

// NewEngine creates a risk engine reading equity from provider on every sizing call.
func NewEngine(cfg Config, equity ports.EquityProvider) (*Engine, error) {
	if equity == nil {
		return nil, fmt.Errorf("risk engine requires an equity provider")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{config: cfg, equity: equity}, nil
}

// Config returns a copy of the engine's parameters.
func (e *Engine) Config() Config { return e.config }

// PositionSize returns the quantity whose loss at the volatility stop equals the
// per-trade risk budget. A non-positive stop distance yields 0.
func (e *Engine) PositionSize(ctx context.Context, price, volatility float64) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("position size price %v: %w", price, ports.ErrInvalidRequest)
	}
	stopDist := volatility * e.config.StopATRMult
	if stopDist <= 0 || math.IsNaN(stopDist) {
		return 0, nil
	}
	equity, err := e.equity.Equity(ctx)
	if err != nil {
		return 0, fmt.Errorf("position size: read equity: %w", err)
	}
	if equity <= 0 {
		return 0, nil
	}
	risk := equity * e.config.PerTradeRiskPct / 100
	return risk / stopDist, nil
}

// StopPrice is the initial protective stop for a long entered at price.
func (e *Engine) StopPrice(price, volatility float64) float64 {
	return price - e.config.StopATRMult*volatility
}

// DailyKillSwitch reports whether today's PnL percentage has reached the loss limit.
func (e *Engine) DailyKillSwitch(dayPnLPct float64) bool {
	return dayPnLPct <= -math.Abs(e.config.MaxDailyLossPct)
}

// DayPnLPct expresses realized PnL as a percentage of equity, with equity floored at 1.
func DayPnLPct(realized, equity float64) float64 {
	return realized / math.Max(equity, 1) * 100
}
