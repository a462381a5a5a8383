package indicators

import (
	"context"
	"fmt"

	"trendbot/internal/domain"
	"trendbot/internal/ports"
)

// Config selects the periods of the four snapshot fields.
type Config struct {
	FastPeriod       int
	SlowPeriod       int
	OscillatorPeriod int
	VolatilityPeriod int
}

// Provider computes EMA fast/slow, RSI and ATR snapshots. It implements
// ports.IndicatorProvider.
type Provider struct {
	fast, slow Indicator
	oscillator Indicator
	volatility Indicator
}

// NewProvider validates the periods and builds the indicators.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.FastPeriod <= 0 || cfg.SlowPeriod <= 0 || cfg.OscillatorPeriod <= 0 || cfg.VolatilityPeriod <= 0 {
		return nil, fmt.Errorf("indicator periods must be positive (%+v): %w", cfg, ports.ErrConfigurationError)
	}
	if cfg.FastPeriod >= cfg.SlowPeriod {
		return nil, fmt.Errorf("fast period %d must be below slow period %d: %w", cfg.FastPeriod, cfg.SlowPeriod, ports.ErrConfigurationError)
	}
	return &Provider{
		fast:       NewMovingAverage(MovingAverageConfig{IndicatorConfig: IndicatorConfig{Period: cfg.FastPeriod}, Type: ExponentialMovingAverage}),
		slow:       NewMovingAverage(MovingAverageConfig{IndicatorConfig: IndicatorConfig{Period: cfg.SlowPeriod}, Type: ExponentialMovingAverage}),
		oscillator: NewRSI(IndicatorConfig{Period: cfg.OscillatorPeriod}),
		volatility: NewATR(IndicatorConfig{Period: cfg.VolatilityPeriod}),
	}, nil
}

func (p *Provider) all() []Indicator {
	return []Indicator{p.fast, p.slow, p.oscillator, p.volatility}
}

// RequiredBars is the longest indicator window plus one bar for the previous snapshot.
func (p *Provider) RequiredBars() int {
	n := 0
	for _, ind := range p.all() {
		if r := ind.RequiredDataPoints(); r > n {
			n = r
		}
	}
	return n + 1
}

// Latest returns the snapshots at the second to last and the last bar.
func (p *Provider) Latest(ctx context.Context, bars []*domain.Bar) (prev, curr domain.IndicatorSnapshot, err error) {
	if len(bars) < p.RequiredBars() {
		return prev, curr, fmt.Errorf("indicators need %d bars, have %d: %w", p.RequiredBars(), len(bars), ports.ErrInsufficientData)
	}
	if prev, err = p.Snapshot(ctx, bars[:len(bars)-1]); err != nil {
		return prev, curr, err
	}
	curr, err = p.Snapshot(ctx, bars)
	return prev, curr, err
}

// Snapshot computes every indicator at the last bar of bars.
func (p *Provider) Snapshot(ctx context.Context, bars []*domain.Bar) (domain.IndicatorSnapshot, error) {
	var snap domain.IndicatorSnapshot
	targets := []*float64{&snap.Fast, &snap.Slow, &snap.Oscillator, &snap.Volatility}
	for i, ind := range p.all() {
		v, err := ind.Calculate(ctx, bars)
		if err != nil {
			return snap, fmt.Errorf("%s: %w", ind.Name(), err)
		}
		*targets[i] = v
	}
	return snap, nil
}
