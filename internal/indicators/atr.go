package indicators

import (
	"context"
	"fmt"
	"math"

	"trendbot/internal/domain"
	"trendbot/internal/ports"
)

// ATR implements the Average True Range with Wilder's smoothing
type ATR struct {
	BaseIndicator
}

// NewATR creates a new Average True Range indicator instance
func NewATR(config IndicatorConfig) *ATR {
	return &ATR{BaseIndicator: BaseIndicator{Config: config}}
}

// Name returns e.g. "ATR(14)"
func (a *ATR) Name() string {
	return fmt.Sprintf("ATR(%d)", a.Config.Period)
}

// RequiredDataPoints is one more than the period: true range needs the previous close.
func (a *ATR) RequiredDataPoints() int {
	return a.Config.Period + 1
}

// Calculate computes the Average True Range value at the last bar
func (a *ATR) Calculate(ctx context.Context, bars []*domain.Bar) (float64, error) {
	period := a.Config.Period
	if period <= 0 || len(bars) < period+1 {
		return 0, fmt.Errorf("ATR(%d) over %d bars: %w", period, len(bars), ports.ErrInsufficientData)
	}

	trueRanges := make([]float64, len(bars))
	trueRanges[0] = bars[0].High - bars[0].Low
	for i := 1; i < len(bars); i++ {
		prevClose := bars[i-1].Close
		trueRanges[i] = math.Max(bars[i].High-bars[i].Low,
			math.Max(math.Abs(bars[i].High-prevClose), math.Abs(bars[i].Low-prevClose)))
	}

	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)

	for i := period; i < len(bars); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
	}
	return atr, nil
}
