package binanceclient

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"trendbot/internal/ports"
)

// symbolRulesFor loads and caches exchange-info filters for symbol.
func (c *Client) symbolRulesFor(ctx context.Context, symbol string) (*symbolRules, error) {
	op := "ExchangeInfo"
	c.mu.Lock()
	r, ok := c.rules[symbol]
	c.mu.Unlock()
	if ok {
		return r, nil
	}

	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	defer cancel()
	info, err := c.spot.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	for i := range info.Symbols {
		if info.Symbols[i].Symbol != symbol {
			continue
		}
		r = rulesFromSymbol(&info.Symbols[i])
		c.mu.Lock()
		c.rules[symbol] = r
		c.mu.Unlock()
		c.logger.Debug(ctx, op+": Symbol rules loaded", map[string]interface{}{
			"symbol": symbol, "stepSize": r.StepSize.String(), "minQty": r.MinQty.String(), "minNotional": r.MinNotional.String(),
		})
		return r, nil
	}
	return nil, c.handleError(ctx, fmt.Errorf("symbol %s not in exchange info: %w", symbol, ports.ErrUnknownSymbol), op)
}

// NormalizeQuantity floors qty to the LOT_SIZE step and checks MIN_NOTIONAL at price.
func (c *Client) NormalizeQuantity(ctx context.Context, symbol string, qty, price float64) (float64, error) {
	rules, err := c.symbolRulesFor(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return rules.normalize(qty, price)
}

// BuyMarket places a market buy and waits for the FULL response.
func (c *Client) BuyMarket(ctx context.Context, symbol string, qty float64, clientOrderID string) (*ports.ExecutionReport, error) {
	return c.placeMarket(ctx, "BuyMarket", binance.SideTypeBuy, symbol, qty, clientOrderID)
}

// SellMarket places a market sell and waits for the FULL response.
func (c *Client) SellMarket(ctx context.Context, symbol string, qty float64, clientOrderID string) (*ports.ExecutionReport, error) {
	return c.placeMarket(ctx, "SellMarket", binance.SideTypeSell, symbol, qty, clientOrderID)
}

func (c *Client) placeMarket(ctx context.Context, op string, side binance.SideType, symbol string, qty float64, clientOrderID string) (*ports.ExecutionReport, error) {
	rules, err := c.symbolRulesFor(ctx, symbol)
	if err != nil {
		return nil, err
	}
	quantity := decimal.NewFromFloat(qty)
	if rules.StepSize.IsPositive() {
		quantity = quantity.Div(rules.StepSize).Floor().Mul(rules.StepSize)
	}
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%s %s: %w", op, quantity, ports.ErrInvalidQuantity)
	}

	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	defer cancel()
	order, err := c.spot.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(quantity.String()).
		NewClientOrderID(clientOrderID).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateCreateOrder(order, rules)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "quantity": quantity.String(), "clientOrderID": clientOrderID,
		"orderID": resp.VenueOrderID, "status": resp.Status, "avgPrice": resp.AvgPrice, "fills": len(order.Fills),
	})
	return resp, nil
}

func parseOrderID(venueOrderID string) (int64, error) {
	id, err := strconv.ParseInt(venueOrderID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("venue order id %q: %w", venueOrderID, ports.ErrInvalidRequest)
	}
	return id, nil
}

// CancelOrder cancels an open order on Binance.
func (c *Client) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	op := "CancelOrder"
	orderID, err := parseOrderID(venueOrderID)
	if err != nil {
		return err
	}
	c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"symbol": symbol, "orderID": orderID})

	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	defer cancel()
	res, err := c.spot.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		// -2011 "Unknown order sent." maps to ErrOrderNotFound
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID, "status": res.Status})
	return nil
}

// GetOrder queries the current state of an order. Orders with executions also
// load their trades so the report carries fees and the latest trade id.
func (c *Client) GetOrder(ctx context.Context, symbol, venueOrderID string) (*ports.ExecutionReport, error) {
	op := "GetOrder"
	orderID, err := parseOrderID(venueOrderID)
	if err != nil {
		return nil, err
	}
	rules, err := c.symbolRulesFor(ctx, symbol)
	if err != nil {
		return nil, err
	}
	order, err := c.queryOrder(ctx, op, symbol, orderID)
	if err != nil {
		return nil, err
	}
	var trades []*binance.TradeV3
	if parseDecimal(order.ExecutedQuantity).IsPositive() {
		if trades, err = c.orderTrades(ctx, symbol, orderID); err != nil {
			return nil, err
		}
	}
	return translateOrder(order, trades, rules), nil
}

func (c *Client) queryOrder(ctx context.Context, op, symbol string, orderID int64) (*binance.Order, error) {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	defer cancel()
	order, err := c.spot.NewGetOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return order, nil
}

func (c *Client) orderTrades(ctx context.Context, symbol string, orderID int64) ([]*binance.TradeV3, error) {
	op := "ListTrades"
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	defer cancel()
	trades, err := c.spot.NewListTradesService().Symbol(symbol).OrderId(orderID).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+": Order trades loaded", map[string]interface{}{"symbol": symbol, "orderID": orderID, "trades": len(trades)})
	return trades, nil
}
