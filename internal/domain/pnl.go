package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DayLayout is the format of DailyPnL.Day.
const DayLayout = "2006-01-02"

// DailyPnL is the per-day PnL bucket. Days are UTC calendar days.
type DailyPnL struct {
	Day           string
	RealizedPNL   decimal.Decimal
	UnrealizedPNL decimal.Decimal
	Equity        decimal.NullDecimal
	UpdatedAt     time.Time
}

// DayOf returns the bucket key for t.
func DayOf(t time.Time) string {
	return t.UTC().Format(DayLayout)
}
