package binanceclient

import (
	"context"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

// VenueEquity implements ports.EquityProvider from spot balances: the quote
// asset plus the base asset valued at the last price.
type VenueEquity struct {
	Client *Client
	Symbol string
}

// Equity reads balances and the last price on every call.
func (v *VenueEquity) Equity(ctx context.Context) (float64, error) {
	op := "Equity"
	c := v.Client
	rules, err := c.symbolRulesFor(ctx, v.Symbol)
	if err != nil {
		return 0, err
	}
	price, err := c.GetTickerPrice(ctx, v.Symbol)
	if err != nil {
		return 0, err
	}

	rctx, cancel, err := c.begin(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	defer cancel()
	account, err := c.spot.NewGetAccountService().Do(rctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	equity := balanceEquity(account.Balances, rules.BaseAsset, rules.QuoteAsset, price)
	c.logger.Debug(ctx, op+": Venue equity", map[string]interface{}{"symbol": v.Symbol, "equity": equity, "price": price})
	return equity, nil
}

func balanceEquity(balances []binance.Balance, base, quote string, price float64) float64 {
	total := decimal.Zero
	for _, b := range balances {
		held := parseDecimal(b.Free).Add(parseDecimal(b.Locked))
		switch b.Asset {
		case quote:
			total = total.Add(held)
		case base:
			total = total.Add(held.Mul(decimal.NewFromFloat(price)))
		}
	}
	return total.InexactFloat64()
}
