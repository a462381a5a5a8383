package domain

import "time"

// Bar is a single OHLCV candle, identified by its open time.
type Bar struct {
	OpenTime  time.Time
	CloseTime time.Time
	Symbol    string
	Interval  string // e.g. "1m", "1h"
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	IsFinal   bool // closed candles only drive decisions
}

// IndicatorSnapshot holds the indicator values computed for one bar.
type IndicatorSnapshot struct {
	Fast       float64 // fast moving average
	Slow       float64 // slow moving average
	Oscillator float64 // RSI
	Volatility float64 // ATR
}
