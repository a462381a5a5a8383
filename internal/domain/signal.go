package domain

import "time"

// SignalLog is the audit row for one bar or external signal evaluation.
// It is unique on (Symbol, Timeframe, BarTime).
type SignalLog struct {
	ID              int64
	Symbol          string
	Timeframe       string
	BarTime         time.Time
	Strategy        string
	StrategyVersion string
	FastMA          *float64
	SlowMA          *float64
	Oscillator      *float64
	Volatility      *float64
	EntrySignal     bool
	ExitSignal      bool
	DecidedAction   Action
	Notes           string
	Source          string
	CreatedAt       time.Time
}

// WithSnapshot copies indicator values into the log row.
func (s *SignalLog) WithSnapshot(snap IndicatorSnapshot) *SignalLog {
	fast, slow, osc, vol := snap.Fast, snap.Slow, snap.Oscillator, snap.Volatility
	s.FastMA, s.SlowMA, s.Oscillator, s.Volatility = &fast, &slow, &osc, &vol
	return s
}
