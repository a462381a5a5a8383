package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendbot/internal/domain"
	"trendbot/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	c, err := New(Config{Logger: &mockLogger{}, UseTestnet: true})
	require.NoError(t, err)
	assert.Equal(t, baseURLTestnet, c.spot.BaseURL)
	assert.Equal(t, defaultRequestTimeout, c.timeout)
	binance.UseTestnet = false
}

func TestHandleError(t *testing.T) {
	c := &Client{logger: &mockLogger{}}
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rate limit", &common.APIError{Code: -1003}, ports.ErrRateLimited},
		{"recv window", &common.APIError{Code: -1021}, ports.ErrTimeout},
		{"signature", &common.APIError{Code: -1022}, ports.ErrAuthenticationFailed},
		{"notional filter", &common.APIError{Code: -1013, Message: "Filter failure: NOTIONAL"}, ports.ErrNotionalTooSmall},
		{"lot filter", &common.APIError{Code: -1013, Message: "Filter failure: LOT_SIZE"}, ports.ErrInvalidRequest},
		{"insufficient balance", &common.APIError{Code: -2010, Message: "Account has insufficient balance for requested action."}, ports.ErrInsufficientFunds},
		{"rejected", &common.APIError{Code: -2010, Message: "Market is closed."}, ports.ErrOrderPlacementFailed},
		{"unknown cancel", &common.APIError{Code: -2011, Message: "Unknown order sent."}, ports.ErrOrderNotFound},
		{"no such order", &common.APIError{Code: -2013}, ports.ErrOrderNotFound},
		{"bad key", &common.APIError{Code: -2015}, ports.ErrInvalidAPIKeys},
		{"unmapped", &common.APIError{Code: -9999}, ports.ErrUnknown},
		{"deadline", fmt.Errorf("do: %w", context.DeadlineExceeded), ports.ErrTimeout},
		{"canceled", context.Canceled, ports.ErrContextCanceled},
		{"network", errors.New("read tcp: connection reset by peer"), ports.ErrConnectionFailed},
		{"limiter", fmt.Errorf("rate limiter: %w", ports.ErrRateLimited), ports.ErrRateLimited},
		{"other", errors.New("boom"), ports.ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.handleError(context.Background(), tt.err, "op")
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err, "original error stays in the chain")
		})
	}
	assert.NoError(t, c.handleError(context.Background(), nil, "op"))
}

func TestSymbolRules_Normalize(t *testing.T) {
	rules := &symbolRules{
		StepSize:    decimal.RequireFromString("0.001"),
		MinQty:      decimal.RequireFromString("0.001"),
		MinNotional: decimal.RequireFromString("10"),
	}
	tests := []struct {
		name  string
		qty   float64
		price float64
		want  float64
		err   error
	}{
		{"floors to step", 0.123456, 1000, 0.123, nil},
		{"exact step", 0.5, 1000, 0.5, nil},
		{"below lot minimum", 0.0009, 1000, 0, ports.ErrNotionalTooSmall},
		{"below notional", 0.005, 1000, 0, ports.ErrNotionalTooSmall},
		{"notional boundary", 0.01, 1000, 0.01, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rules.normalize(tt.qty, tt.price)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestRulesFromSymbol(t *testing.T) {
	s := &binance.Symbol{
		Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT",
		Filters: []map[string]interface{}{
			{"filterType": "LOT_SIZE", "minQty": "0.00001000", "maxQty": "9000.00000000", "stepSize": "0.00001000"},
			{"filterType": "MIN_NOTIONAL", "minNotional": "5.00000000"},
		},
	}
	r := rulesFromSymbol(s)
	assert.Equal(t, "BTC", r.BaseAsset)
	assert.True(t, r.StepSize.Equal(decimal.RequireFromString("0.00001")))
	assert.True(t, r.MinNotional.Equal(decimal.NewFromInt(5)))

	bare := rulesFromSymbol(&binance.Symbol{Symbol: "X", BaseAsset: "X", QuoteAsset: "USDT"})
	got, err := bare.normalize(0.1234, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.1234, got, 1e-12)
}

func TestTranslateCreateOrder(t *testing.T) {
	rules := &symbolRules{BaseAsset: "BTC", QuoteAsset: "USDT"}
	order := &binance.CreateOrderResponse{
		Symbol:                   "BTCUSDT",
		OrderID:                  12345,
		ClientOrderID:            "ENTRY-BTCUSDT-20240601100000",
		TransactTime:             1717236000000,
		OrigQuantity:             "2.00000000",
		ExecutedQuantity:         "2.00000000",
		CummulativeQuoteQuantity: "206.00000000",
		Status:                   binance.OrderStatusTypeFilled,
		Fills: []*binance.Fill{
			{TradeID: 1, Price: "100", Quantity: "1", Commission: "0.1", CommissionAsset: "USDT"},
			{TradeID: 2, Price: "106", Quantity: "1", Commission: "0.001", CommissionAsset: "BTC"},
		},
	}
	r := translateCreateOrder(order, rules)
	require.NotNil(t, r)
	assert.Equal(t, "12345", r.VenueOrderID)
	assert.Equal(t, domain.OrderStatusFilled, r.Status)
	assert.InDelta(t, 2.0, r.FilledQty, 1e-12)
	assert.InDelta(t, 103.0, r.AvgPrice, 1e-12)
	assert.InDelta(t, 0.1+0.106, r.Fee, 1e-12)
	assert.Equal(t, "USDT", r.FeeAsset)
	assert.InDelta(t, 0.001, r.BaseFee, 1e-12, "base commission leaves 1.999 BTC in the account")
	assert.Zero(t, r.OtherFee)
	assert.Equal(t, "1", r.VenueTradeID)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), r.Timestamp)

	assert.Nil(t, translateCreateOrder(nil, rules))
}

func TestTranslateStatus(t *testing.T) {
	assert.Equal(t, domain.OrderStatusNew, translateStatus(binance.OrderStatusTypeNew, 0))
	assert.Equal(t, domain.OrderStatusPartiallyFilled, translateStatus(binance.OrderStatusTypePendingCancel, 1))
	assert.Equal(t, domain.OrderStatusExpired, translateStatus("EXPIRED_IN_MATCH", 0))
	assert.Equal(t, domain.OrderStatusCanceled, translateStatus(binance.OrderStatusTypeCanceled, 0))
}

func TestTranslateOrder(t *testing.T) {
	rules := &symbolRules{BaseAsset: "BTC", QuoteAsset: "USDT"}
	order := &binance.Order{
		Symbol: "BTCUSDT", OrderID: 9, OrigQuantity: "1", ExecutedQuantity: "0.5",
		CummulativeQuoteQuantity: "50", Status: binance.OrderStatusTypePartiallyFilled, UpdateTime: 1717236000000,
	}
	r := translateOrder(order, nil, rules)
	assert.Equal(t, "9", r.VenueOrderID)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, r.Status)
	assert.InDelta(t, 100.0, r.AvgPrice, 1e-12)
	assert.Zero(t, r.Fee)
	assert.Empty(t, r.VenueTradeID)
	assert.Equal(t, 0.0, avgPrice("0", "0"))

	trades := []*binance.TradeV3{
		{ID: 41, OrderID: 9, Price: "100", Quantity: "0.2", Commission: "0.0002", CommissionAsset: "BTC"},
		{ID: 43, OrderID: 9, Price: "100", Quantity: "0.3", Commission: "0.01", CommissionAsset: "BNB"},
		{ID: 44, OrderID: 10, Price: "100", Quantity: "1", Commission: "5", CommissionAsset: "USDT"},
		nil,
	}
	r = translateOrder(order, trades, rules)
	assert.InDelta(t, 0.02, r.Fee, 1e-12, "base commission valued at the fill price")
	assert.Equal(t, "USDT", r.FeeAsset)
	assert.InDelta(t, 0.0002, r.BaseFee, 1e-12)
	assert.InDelta(t, 0.01, r.OtherFee, 1e-12)
	assert.Equal(t, "BNB", r.OtherFeeAsset)
	assert.Equal(t, "43", r.VenueTradeID, "latest trade of this order")
}

func TestSplitFees(t *testing.T) {
	rules := &symbolRules{BaseAsset: "BTC", QuoteAsset: "USDT"}
	fs := splitFees([]commission{
		{Amount: "0.5", Asset: "USDT", Price: "100"},
		{Amount: "0.001", Asset: "BTC", Price: "200"},
		{Amount: "0", Asset: "BNB", Price: "100"},
		{Amount: "0.02", Asset: "BNB", Price: "100"},
	}, rules)
	assert.True(t, fs.Quote.Equal(decimal.RequireFromString("0.7")), fs.Quote.String())
	assert.True(t, fs.Base.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, fs.Other.Equal(decimal.RequireFromString("0.02")))
	assert.Equal(t, "BNB", fs.OtherAsset)

	// without symbol rules nothing can be valued in the quote asset
	fs = splitFees([]commission{{Amount: "0.5", Asset: "USDT", Price: "100"}}, nil)
	assert.True(t, fs.Quote.IsZero())
	assert.True(t, fs.Other.Equal(decimal.RequireFromString("0.5")))
}

func TestTranslateKlines(t *testing.T) {
	now := time.Date(2024, 6, 1, 11, 30, 0, 0, time.UTC)
	closed := &binance.Kline{OpenTime: 1717236000000, CloseTime: 1717239599999, Open: "1", High: "2", Low: "0.5", Close: "1.5", Volume: "10"}
	bar, err := translateKline(closed, "BTCUSDT", "1h", now)
	require.NoError(t, err)
	assert.True(t, bar.IsFinal)
	assert.Equal(t, 1.5, bar.Close)

	open := &binance.Kline{OpenTime: 1717239600000, CloseTime: 1717243199999, Open: "1", High: "2", Low: "0.5", Close: "1.5", Volume: "10"}
	bar, err = translateKline(open, "BTCUSDT", "1h", now)
	require.NoError(t, err)
	assert.False(t, bar.IsFinal)

	_, err = translateKline(&binance.Kline{Open: "x"}, "BTCUSDT", "1h", now)
	assert.Error(t, err)

	f := &Feed{symbol: "BTCUSDT", interval: "1h", now: func() time.Time { return now }}
	bars, err := f.translate([]*binance.Kline{closed, open})
	require.NoError(t, err)
	assert.Len(t, bars, 1, "open candle dropped")

	ws, err := translateWsKline(&binance.WsKlineEvent{Kline: binance.WsKline{
		StartTime: 1717236000000, EndTime: 1717239599999, Symbol: "btcusdt", Interval: "1h",
		Open: "1", High: "2", Low: "0.5", Close: "1.5", Volume: "10", IsFinal: true,
	}})
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", ws.Symbol)
	assert.True(t, ws.IsFinal)
	_, err = translateWsKline(nil)
	assert.Error(t, err)
}

func TestBalanceEquity(t *testing.T) {
	balances := []binance.Balance{
		{Asset: "USDT", Free: "1000", Locked: "50"},
		{Asset: "BTC", Free: "0.5", Locked: "0"},
		{Asset: "BNB", Free: "3", Locked: "0"},
	}
	assert.InDelta(t, 1050+0.5*20000, balanceEquity(balances, "BTC", "USDT", 20000), 1e-9)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(time.Second, 1))
	assert.Equal(t, 4*time.Second, backoff(time.Second, 3))
	assert.Equal(t, time.Minute, backoff(time.Second, 30))
}

func TestClockSkew(t *testing.T) {
	sent := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	received := sent.Add(200 * time.Millisecond)

	assert.Equal(t, time.Duration(0), clockSkew(sent, received, sent.Add(100*time.Millisecond)))
	assert.Equal(t, 2*time.Second, clockSkew(sent, received, sent.Add(-1900*time.Millisecond)), "local clock ahead")
	assert.Equal(t, -time.Second, clockSkew(sent, received, sent.Add(1100*time.Millisecond)))
}

func TestParseOrderID(t *testing.T) {
	id, err := parseOrderID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	_, err = parseOrderID("paper-1")
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}
