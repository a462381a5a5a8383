package risk

import (
	"context"

	"trendbot/internal/ledger"
)

// StaticEquity is a fixed account value.
type StaticEquity float64

// Equity implements ports.EquityProvider.
func (s StaticEquity) Equity(context.Context) (float64, error) { return float64(s), nil }

// LedgerEquity derives equity from initial capital plus realized PnL of every
// closed position in the ledger.
type LedgerEquity struct {
	Ledger  *ledger.Ledger
	Initial float64
}

// Equity implements ports.EquityProvider. It opens its own unit, so callers
// already inside a unit use EquityIn.
func (e *LedgerEquity) Equity(ctx context.Context) (float64, error) {
	var total float64
	err := e.Ledger.Run(ctx, func(u *ledger.Unit) error {
		var err error
		total, err = e.EquityIn(ctx, u)
		return err
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// EquityIn computes equity through an open unit.
func (e *LedgerEquity) EquityIn(ctx context.Context, u *ledger.Unit) (float64, error) {
	closed, err := u.ClosedPositions(ctx, "")
	if err != nil {
		return 0, err
	}
	total := e.Initial
	for _, p := range closed {
		total += p.RealizedPNL.InexactFloat64()
	}
	return total, nil
}
