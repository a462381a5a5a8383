package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an append-only fill record belonging to an order.
type Trade struct {
	ID           int64
	OrderID      int64
	VenueTradeID string // empty when the venue did not report one
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	Fee          decimal.Decimal
	FeeAsset     string
	Time         time.Time
}
