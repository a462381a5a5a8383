package binanceclient

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"trendbot/internal/domain"
	"trendbot/internal/ports"
)

// --- Translation Helpers ---

func parseFloat(field, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s '%s': %w", field, s, err)
	}
	return v, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// symbolRules are the exchange-info filters that shape a tradable quantity.
type symbolRules struct {
	BaseAsset   string
	QuoteAsset  string
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
}

func rulesFromSymbol(s *binance.Symbol) *symbolRules {
	r := &symbolRules{BaseAsset: s.BaseAsset, QuoteAsset: s.QuoteAsset}
	if lot := s.LotSizeFilter(); lot != nil {
		r.StepSize = parseDecimal(lot.StepSize)
		r.MinQty = parseDecimal(lot.MinQuantity)
	}
	if mn := s.MinNotionalFilter(); mn != nil {
		r.MinNotional = parseDecimal(mn.MinNotional)
	}
	return r
}

// normalize floors qty to the lot step and enforces the minimum quantity and notional.
func (r *symbolRules) normalize(qty, price float64) (float64, error) {
	q := decimal.NewFromFloat(qty)
	if r.StepSize.IsPositive() {
		q = q.Div(r.StepSize).Floor().Mul(r.StepSize)
	}
	if !q.IsPositive() || q.LessThan(r.MinQty) {
		return 0, fmt.Errorf("quantity %s below lot minimum %s: %w", q, r.MinQty, ports.ErrNotionalTooSmall)
	}
	if notional := q.Mul(decimal.NewFromFloat(price)); notional.LessThan(r.MinNotional) {
		return 0, fmt.Errorf("notional %s below minimum %s: %w", notional, r.MinNotional, ports.ErrNotionalTooSmall)
	}
	return q.InexactFloat64(), nil
}

func translateStatus(s binance.OrderStatusType, executed float64) domain.OrderStatus {
	switch s {
	case binance.OrderStatusTypeFilled:
		return domain.OrderStatusFilled
	case binance.OrderStatusTypePartiallyFilled:
		return domain.OrderStatusPartiallyFilled
	case binance.OrderStatusTypeCanceled:
		return domain.OrderStatusCanceled
	case binance.OrderStatusTypeRejected:
		return domain.OrderStatusRejected
	case binance.OrderStatusTypeExpired, binance.OrderStatusType("EXPIRED_IN_MATCH"):
		return domain.OrderStatusExpired
	}
	if executed > 0 {
		return domain.OrderStatusPartiallyFilled
	}
	return domain.OrderStatusNew
}

// avgPrice derives the average fill price from the cumulative quote amount.
func avgPrice(executed, cumQuote string) float64 {
	qty := parseDecimal(executed)
	if !qty.IsPositive() {
		return 0
	}
	return parseDecimal(cumQuote).Div(qty).InexactFloat64()
}

// commission is the fee line of one fill.
type commission struct {
	Amount string
	Asset  string
	Price  string
}

func fillCommissions(fills []*binance.Fill) []commission {
	out := make([]commission, 0, len(fills))
	for _, f := range fills {
		if f != nil {
			out = append(out, commission{Amount: f.Commission, Asset: f.CommissionAsset, Price: f.Price})
		}
	}
	return out
}

func tradeCommissions(trades []*binance.TradeV3) []commission {
	out := make([]commission, 0, len(trades))
	for _, t := range trades {
		out = append(out, commission{Amount: t.Commission, Asset: t.CommissionAsset, Price: t.Price})
	}
	return out
}

// feeSplit groups commissions by the asset they were charged in.
// Quote holds quote-asset fees plus base-asset fees valued at the fill price.
// Other is a third asset (BNB) that cannot be valued without its own price.
type feeSplit struct {
	Quote      decimal.Decimal
	Base       decimal.Decimal
	Other      decimal.Decimal
	OtherAsset string
}

func splitFees(lines []commission, rules *symbolRules) feeSplit {
	var fs feeSplit
	for _, c := range lines {
		amount := parseDecimal(c.Amount)
		if amount.IsZero() {
			continue
		}
		switch {
		case rules != nil && c.Asset == rules.QuoteAsset:
			fs.Quote = fs.Quote.Add(amount)
		case rules != nil && c.Asset == rules.BaseAsset:
			fs.Base = fs.Base.Add(amount)
			fs.Quote = fs.Quote.Add(amount.Mul(parseDecimal(c.Price)))
		default:
			fs.Other = fs.Other.Add(amount)
			fs.OtherAsset = c.Asset
		}
	}
	return fs
}

func (fs feeSplit) apply(r *ports.ExecutionReport, rules *symbolRules) {
	r.Fee = fs.Quote.InexactFloat64()
	if rules != nil {
		r.FeeAsset = rules.QuoteAsset
	}
	r.BaseFee = fs.Base.InexactFloat64()
	r.OtherFee = fs.Other.InexactFloat64()
	r.OtherFeeAsset = fs.OtherAsset
}

func translateCreateOrder(order *binance.CreateOrderResponse, rules *symbolRules) *ports.ExecutionReport {
	if order == nil {
		return nil
	}
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	r := &ports.ExecutionReport{
		VenueOrderID:  strconv.FormatInt(order.OrderID, 10),
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Status:        translateStatus(order.Status, execQty),
		Quantity:      origQty,
		FilledQty:     execQty,
		AvgPrice:      avgPrice(order.ExecutedQuantity, order.CummulativeQuoteQuantity),
		Timestamp:     time.UnixMilli(order.TransactTime).UTC(),
	}
	splitFees(fillCommissions(order.Fills), rules).apply(r, rules)
	if len(order.Fills) > 0 && order.Fills[0] != nil {
		r.VenueTradeID = strconv.FormatInt(order.Fills[0].TradeID, 10)
	}
	return r
}

// translateOrder maps an order query. The query carries no fills, so fees and
// the trade id come from the order's trades when the caller fetched them.
func translateOrder(order *binance.Order, trades []*binance.TradeV3, rules *symbolRules) *ports.ExecutionReport {
	if order == nil {
		return nil
	}
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	r := &ports.ExecutionReport{
		VenueOrderID:  strconv.FormatInt(order.OrderID, 10),
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Status:        translateStatus(order.Status, execQty),
		Quantity:      origQty,
		FilledQty:     execQty,
		AvgPrice:      avgPrice(order.ExecutedQuantity, order.CummulativeQuoteQuantity),
		Timestamp:     time.UnixMilli(order.UpdateTime).UTC(),
	}
	var (
		own  []*binance.TradeV3
		last int64
	)
	for _, t := range trades {
		if t == nil || t.OrderID != order.OrderID {
			continue
		}
		own = append(own, t)
		if t.ID > last {
			last = t.ID
		}
	}
	splitFees(tradeCommissions(own), rules).apply(r, rules)
	if last > 0 {
		r.VenueTradeID = strconv.FormatInt(last, 10)
	}
	return r
}

func translateWsKline(event *binance.WsKlineEvent) (*domain.Bar, error) {
	if event == nil {
		return nil, errors.New("received nil kline event")
	}
	k := event.Kline
	open, err := parseFloat("open price", k.Open)
	if err != nil {
		return nil, err
	}
	high, err := parseFloat("high price", k.High)
	if err != nil {
		return nil, err
	}
	low, err := parseFloat("low price", k.Low)
	if err != nil {
		return nil, err
	}
	cls, err := parseFloat("close price", k.Close)
	if err != nil {
		return nil, err
	}
	vol, err := parseFloat("volume", k.Volume)
	if err != nil {
		return nil, err
	}

	return &domain.Bar{
		OpenTime:  time.UnixMilli(k.StartTime).UTC(),
		CloseTime: time.UnixMilli(k.EndTime).UTC(),
		Symbol:    domain.NormalizeSymbol(k.Symbol),
		Interval:  k.Interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		IsFinal:   k.IsFinal,
	}, nil
}

// translateKline converts a REST kline; it is final once its close time has passed.
func translateKline(bk *binance.Kline, symbol, interval string, now time.Time) (*domain.Bar, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	open, err := parseFloat("open price", bk.Open)
	if err != nil {
		return nil, err
	}
	high, err := parseFloat("high price", bk.High)
	if err != nil {
		return nil, err
	}
	low, err := parseFloat("low price", bk.Low)
	if err != nil {
		return nil, err
	}
	cls, err := parseFloat("close price", bk.Close)
	if err != nil {
		return nil, err
	}
	vol, err := parseFloat("volume", bk.Volume)
	if err != nil {
		return nil, err
	}

	closeTime := time.UnixMilli(bk.CloseTime).UTC()
	return &domain.Bar{
		OpenTime:  time.UnixMilli(bk.OpenTime).UTC(),
		CloseTime: closeTime,
		Symbol:    symbol,
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		IsFinal:   !closeTime.After(now),
	}, nil
}
