// Package indicators computes moving averages, RSI and ATR over closed bars and
// assembles them into the snapshots the strategy reads.
package indicators

import (
	"context"

	"trendbot/internal/domain"
)

// Indicator represents a technical indicator that can be calculated from bars
type Indicator interface {
	// Calculate computes the indicator value at the last bar
	Calculate(ctx context.Context, bars []*domain.Bar) (float64, error)

	// RequiredDataPoints returns the minimum number of bars needed for calculation
	RequiredDataPoints() int

	// Name returns the name of the indicator
	Name() string
}

// IndicatorConfig holds common configuration for indicators
type IndicatorConfig struct {
	Period int
}

// BaseIndicator provides common functionality for indicators
type BaseIndicator struct {
	Config IndicatorConfig
}

// RequiredDataPoints returns the minimum number of bars needed for calculation
func (b *BaseIndicator) RequiredDataPoints() int {
	return b.Config.Period
}
