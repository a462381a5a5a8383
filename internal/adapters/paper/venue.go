// Package paper is a simulated spot venue: market orders fill instantly at the
// last marked price, less a proportional fee.
package paper

import (
	"context"
	cryptoRand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"trendbot/internal/domain"
	"trendbot/internal/ports"
)

// Config holds paper venue settings.
type Config struct {
	Symbol      string
	InitialCash float64 // quote currency
	FeeRate     float64 // e.g. 0.001 for 10 bps, charged in quote
	QuoteAsset  string  // reported fee asset; "" selects USDT
	Logger      ports.Logger
	Now         func() time.Time
}

// Venue implements ports.ExecutionAdapter and ports.EquityProvider.
type Venue struct {
	symbol  string
	feeRate decimal.Decimal
	asset   string
	logger  ports.Logger
	now     func() time.Time

	mu     sync.Mutex
	mono   io.Reader
	mark   decimal.Decimal
	cash   decimal.Decimal
	base   decimal.Decimal
	orders map[string]*ports.ExecutionReport
}

// New creates a Venue holding InitialCash and no base asset.
func New(cfg Config) (*Venue, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for paper venue")
	}
	if cfg.InitialCash < 0 || cfg.FeeRate < 0 || cfg.FeeRate >= 1 {
		return nil, fmt.Errorf("paper venue cash %v fee %v: %w", cfg.InitialCash, cfg.FeeRate, ports.ErrConfigurationError)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	asset := cfg.QuoteAsset
	if asset == "" {
		asset = "USDT"
	}
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Venue{
		symbol:  domain.NormalizeSymbol(cfg.Symbol),
		feeRate: decimal.NewFromFloat(cfg.FeeRate),
		asset:   asset,
		logger:  cfg.Logger,
		now:     now,
		mono:    ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
		cash:    decimal.NewFromFloat(cfg.InitialCash),
		orders:  make(map[string]*ports.ExecutionReport),
	}, nil
}

// Mark sets the price the next market orders fill at.
func (v *Venue) Mark(price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mark = decimal.NewFromFloat(price)
}

// nextID returns a time-sortable id. Caller holds mu.
func (v *Venue) nextID() string {
	id, err := ulid.New(ulid.Timestamp(v.now().UTC()), v.mono)
	if err != nil {
		// monotonic entropy only fails on overflow within one millisecond
		panic(err)
	}
	return id.String()
}

func (v *Venue) checkSymbol(symbol string) error {
	if domain.NormalizeSymbol(symbol) != v.symbol {
		return fmt.Errorf("paper venue trades %s, got %s: %w", v.symbol, symbol, ports.ErrInvalidRequest)
	}
	return nil
}

// BuyMarket fills qty at the mark, paying cost plus fee from cash.
func (v *Venue) BuyMarket(ctx context.Context, symbol string, qty float64, clientOrderID string) (*ports.ExecutionReport, error) {
	return v.fill(ctx, domain.Buy, symbol, qty, clientOrderID)
}

// SellMarket fills qty at the mark; the base holding must cover it.
func (v *Venue) SellMarket(ctx context.Context, symbol string, qty float64, clientOrderID string) (*ports.ExecutionReport, error) {
	return v.fill(ctx, domain.Sell, symbol, qty, clientOrderID)
}

func (v *Venue) fill(ctx context.Context, side domain.OrderSide, symbol string, qty float64, clientOrderID string) (*ports.ExecutionReport, error) {
	op := "paper" + string(side)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrContextCanceled, err)
	}
	if err := v.checkSymbol(symbol); err != nil {
		return nil, err
	}
	q := decimal.NewFromFloat(qty)
	if !q.IsPositive() {
		return nil, fmt.Errorf("%s quantity %v: %w", op, qty, ports.ErrInvalidQuantity)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.mark.IsPositive() {
		return nil, fmt.Errorf("%s: no mark price: %w", op, ports.ErrExchangeUnavailable)
	}
	notional := q.Mul(v.mark)
	fee := notional.Mul(v.feeRate)
	switch side {
	case domain.Buy:
		if cost := notional.Add(fee); cost.GreaterThan(v.cash) {
			return nil, fmt.Errorf("%s cost %s exceeds cash %s: %w", op, cost, v.cash, ports.ErrInsufficientFunds)
		}
		v.cash = v.cash.Sub(notional).Sub(fee)
		v.base = v.base.Add(q)
	case domain.Sell:
		if q.GreaterThan(v.base) {
			return nil, fmt.Errorf("%s qty %s exceeds holding %s: %w", op, q, v.base, ports.ErrInsufficientFunds)
		}
		v.base = v.base.Sub(q)
		v.cash = v.cash.Add(notional).Sub(fee)
	}

	r := &ports.ExecutionReport{
		VenueOrderID:  v.nextID(),
		ClientOrderID: clientOrderID,
		Symbol:        v.symbol,
		Status:        domain.OrderStatusFilled,
		Quantity:      qty,
		FilledQty:     qty,
		AvgPrice:      v.mark.InexactFloat64(),
		Fee:           fee.InexactFloat64(),
		FeeAsset:      v.asset,
		Timestamp:     v.now().UTC(),
	}
	r.VenueTradeID = r.VenueOrderID
	stored := *r
	v.orders[r.VenueOrderID] = &stored

	v.logger.Info(ctx, op+": Filled", map[string]interface{}{
		"clientOrderID": clientOrderID, "qty": qty, "price": r.AvgPrice, "fee": r.Fee,
	})
	return r, nil
}

// CancelOrder fails for known orders since every paper order is filled.
func (v *Venue) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.orders[venueOrderID]; !ok {
		return fmt.Errorf("paper cancel %s: %w", venueOrderID, ports.ErrOrderNotFound)
	}
	return fmt.Errorf("paper cancel %s: %w", venueOrderID, ports.ErrOrderTerminal)
}

// GetOrder returns the stored report.
func (v *Venue) GetOrder(ctx context.Context, symbol, venueOrderID string) (*ports.ExecutionReport, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	r, ok := v.orders[venueOrderID]
	if !ok {
		return nil, fmt.Errorf("paper order %s: %w", venueOrderID, ports.ErrOrderNotFound)
	}
	copied := *r
	return &copied, nil
}

// Equity is cash plus the base holding at the mark.
func (v *Venue) Equity(ctx context.Context) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cash.Add(v.base.Mul(v.mark)).InexactFloat64(), nil
}

// Holdings returns the quote cash and base quantity.
func (v *Venue) Holdings() (cash, base float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cash.InexactFloat64(), v.base.InexactFloat64()
}
