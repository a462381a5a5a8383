package ports

import (
	"context"
	"time"

	"trendbot/internal/domain"
)

// ExecutionReport is the venue's answer to an order request.
// A report with an empty VenueOrderID is not an acknowledgment.
type ExecutionReport struct {
	VenueOrderID  string
	ClientOrderID string
	Symbol        string
	Status        domain.OrderStatus
	Quantity      float64 // requested, after venue normalization
	FilledQty     float64 // cumulative
	AvgPrice      float64 // 0 when unknown
	VenueTradeID  string
	Timestamp     time.Time

	// Fees are cumulative for the order. Fee is valued in FeeAsset, the quote
	// asset, and includes BaseFee at the fill price. BaseFee is base quantity the
	// venue withheld from a buy. OtherFee was charged in a third asset and is
	// not part of Fee.
	Fee           float64
	FeeAsset      string
	BaseFee       float64
	OtherFee      float64
	OtherFeeAsset string
}

// ExecutionAdapter places and tracks orders on a trading venue.
// Implementations must return an error on venue-side failures instead of partial data,
// and must bound every call with their own timeout.
type ExecutionAdapter interface {
	BuyMarket(ctx context.Context, symbol string, qty float64, clientOrderID string) (*ExecutionReport, error)
	SellMarket(ctx context.Context, symbol string, qty float64, clientOrderID string) (*ExecutionReport, error)
	CancelOrder(ctx context.Context, symbol, venueOrderID string) error
	GetOrder(ctx context.Context, symbol, venueOrderID string) (*ExecutionReport, error)
}

// QuantityNormalizer is implemented by adapters that know the venue's lot rules.
// NormalizeQuantity rounds qty down to a tradable amount at price and returns
// ErrNotionalTooSmall when the result is below the venue minimum.
type QuantityNormalizer interface {
	NormalizeQuantity(ctx context.Context, symbol string, qty, price float64) (float64, error)
}
