package indicators

import (
	"context"
	"fmt"

	"trendbot/internal/domain"
	"trendbot/internal/ports"
)

// RSI implements the Relative Strength Index with Wilder's smoothing
type RSI struct {
	BaseIndicator
}

// NewRSI creates a new RSI indicator instance
func NewRSI(config IndicatorConfig) *RSI {
	return &RSI{BaseIndicator: BaseIndicator{Config: config}}
}

// Name returns e.g. "RSI(14)"
func (r *RSI) Name() string {
	return fmt.Sprintf("RSI(%d)", r.Config.Period)
}

// RequiredDataPoints is one more than the period: RSI works on price changes.
func (r *RSI) RequiredDataPoints() int {
	return r.Config.Period + 1
}

// Calculate computes the RSI value at the last bar
func (r *RSI) Calculate(ctx context.Context, bars []*domain.Bar) (float64, error) {
	period := r.Config.Period
	if period <= 0 || len(bars) <= period {
		return 0, fmt.Errorf("RSI(%d) over %d bars: %w", period, len(bars), ports.ErrInsufficientData)
	}

	changes := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		changes = append(changes, bars[i].Close-bars[i-1].Close)
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		if changes[i] > 0 {
			avgGain += changes[i]
		} else {
			avgLoss -= changes[i]
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period; i < len(changes); i++ {
		gain, loss := 0.0, 0.0
		if changes[i] > 0 {
			gain = changes[i]
		} else {
			loss = -changes[i]
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, nil
		}
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), nil
}
