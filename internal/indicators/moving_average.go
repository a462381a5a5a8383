package indicators

import (
	"context"
	"fmt"

	"trendbot/internal/domain"
	"trendbot/internal/ports"
)

// MovingAverageType defines the type of moving average
type MovingAverageType string

const (
	SimpleMovingAverage      MovingAverageType = "SMA"
	ExponentialMovingAverage MovingAverageType = "EMA"
)

// MovingAverageConfig holds configuration for moving average indicators
type MovingAverageConfig struct {
	IndicatorConfig
	Type MovingAverageType
}

// MovingAverage implements both SMA and EMA over closing prices
type MovingAverage struct {
	BaseIndicator
	config MovingAverageConfig
}

// NewMovingAverage creates a new moving average indicator instance
func NewMovingAverage(config MovingAverageConfig) *MovingAverage {
	return &MovingAverage{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns e.g. "EMA(12)"
func (m *MovingAverage) Name() string {
	return fmt.Sprintf("%s(%d)", m.config.Type, m.Config.Period)
}

// Calculate computes the moving average value based on the configured type
func (m *MovingAverage) Calculate(ctx context.Context, bars []*domain.Bar) (float64, error) {
	switch m.config.Type {
	case SimpleMovingAverage:
		return m.calculateSMA(bars)
	case ExponentialMovingAverage:
		return m.calculateEMA(bars)
	default:
		return 0, fmt.Errorf("unsupported moving average type %q: %w", m.config.Type, ports.ErrConfigurationError)
	}
}

func (m *MovingAverage) calculateSMA(bars []*domain.Bar) (float64, error) {
	if m.Config.Period <= 0 || len(bars) < m.Config.Period {
		return 0, fmt.Errorf("SMA(%d) over %d bars: %w", m.Config.Period, len(bars), ports.ErrInsufficientData)
	}

	total := 0.0
	for i := len(bars) - m.Config.Period; i < len(bars); i++ {
		total += bars[i].Close
	}
	return total / float64(m.Config.Period), nil
}

// calculateEMA seeds with the SMA of the first period bars.
func (m *MovingAverage) calculateEMA(bars []*domain.Bar) (float64, error) {
	if m.Config.Period <= 0 || len(bars) < m.Config.Period {
		return 0, fmt.Errorf("EMA(%d) over %d bars: %w", m.Config.Period, len(bars), ports.ErrInsufficientData)
	}

	multiplier := 2.0 / float64(m.Config.Period+1)
	ema, err := m.calculateSMA(bars[:m.Config.Period])
	if err != nil {
		return 0, err
	}
	for i := m.Config.Period; i < len(bars); i++ {
		ema = (bars[i].Close-ema)*multiplier + ema
	}
	return ema, nil
}
