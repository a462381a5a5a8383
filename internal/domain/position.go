package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position represents one open episode on a symbol.
type Position struct {
	ID               int64
	Symbol           string
	Side             Side
	Quantity         decimal.Decimal
	EntryPrice       decimal.Decimal
	InitialStopPrice decimal.NullDecimal // stop at entry; the breakeven rule measures against it
	StopPrice        decimal.NullDecimal
	TargetPrice      decimal.NullDecimal
	ExitPrice        decimal.NullDecimal
	OpenedAt         time.Time
	ClosedAt         *time.Time
	RealizedPNL      decimal.Decimal
	FeesPaid         decimal.Decimal
	Strategy         string
	StrategyVersion  string
	Status           PositionStatus
	CloseReason      CloseReason
}

// IsOpen checks if the position status is open.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// StopDistance returns entry minus initial stop, or zero when no stop was set.
func (p *Position) StopDistance() decimal.Decimal {
	if !p.InitialStopPrice.Valid {
		return decimal.Zero
	}
	return p.EntryPrice.Sub(p.InitialStopPrice.Decimal)
}
