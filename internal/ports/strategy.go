package ports

import (
	"context"

	"trendbot/internal/domain"
)

// IndicatorProvider computes the indicator snapshot the strategy consumes.
type IndicatorProvider interface {
	// RequiredBars returns the minimum history length Latest needs.
	RequiredBars() int
	// Latest returns the snapshots for the previous and the current (last) bar.
	Latest(ctx context.Context, bars []*domain.Bar) (prev, curr domain.IndicatorSnapshot, err error)
}

// EquityProvider reports current account equity in quote currency.
// It is evaluated on every sizing call and never cached.
type EquityProvider interface {
	Equity(ctx context.Context) (float64, error)
}

// EquityFunc adapts a function to EquityProvider.
type EquityFunc func(ctx context.Context) (float64, error)

// Equity calls f.
func (f EquityFunc) Equity(ctx context.Context) (float64, error) { return f(ctx) }
