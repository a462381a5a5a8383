package signal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendbot/internal/adapters/sqlite"
	"trendbot/internal/app"
	"trendbot/internal/domain"
	"trendbot/internal/ledger"
	"trendbot/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type fakeTarget struct {
	symbol, timeframe string
	buys, sells       []app.ForcedIntent
	err               error
}

func (f *fakeTarget) Symbol() string    { return f.symbol }
func (f *fakeTarget) Timeframe() string { return f.timeframe }

func (f *fakeTarget) ForceBuyIntent(ctx context.Context, in app.ForcedIntent) (*app.Result, error) {
	f.buys = append(f.buys, in)
	return &app.Result{Action: domain.ActionBuy}, f.err
}

func (f *fakeTarget) ForceSellIntent(ctx context.Context, in app.ForcedIntent) (*app.Result, error) {
	f.sells = append(f.sells, in)
	return &app.Result{Action: domain.ActionSell}, f.err
}

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func setupRouter(t *testing.T) (*Router, *ledger.Ledger, *fakeTarget) {
	t.Helper()
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "router.db"), Logger: &mockLogger{}})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	l, err := ledger.New(ledger.Config{Store: repo, Logger: &mockLogger{}})
	require.NoError(t, err)
	r, err := NewRouter(Config{Ledger: l, Logger: &mockLogger{}, Now: func() time.Time { return t0 }})
	require.NoError(t, err)
	target := &fakeTarget{symbol: "BTCUSDT", timeframe: "1h"}
	require.NoError(t, r.Register(target))
	return r, l, target
}

func signalLog(t *testing.T, l *ledger.Ledger, symbol, timeframe string, at time.Time) *domain.SignalLog {
	t.Helper()
	var s *domain.SignalLog
	ctx := context.Background()
	require.NoError(t, l.Run(ctx, func(u *ledger.Unit) error {
		var err error
		s, err = u.SignalLog(ctx, symbol, timeframe, at)
		return err
	}))
	return s
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in   string
		want Direction
		ok   bool
	}{
		{"buy", DirectionBuy, true},
		{" LONG ", DirectionBuy, true},
		{"entry", DirectionBuy, true},
		{"sell", DirectionSell, true},
		{"Exit", DirectionSell, true},
		{"close", DirectionSell, true},
		{"hold", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDirection(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRouter_ForwardsBuy(t *testing.T) {
	r, l, target := setupRouter(t)

	res, err := r.Route(context.Background(), Directive{
		Symbol: "BINANCE:BTCUSDT.P", Timeframe: "60", Direction: "long", Price: 1000, BarTime: t0, Source: "tradingview",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBuy, res.Action)
	require.Len(t, target.buys, 1)
	assert.Equal(t, "BTCUSDT", target.buys[0].Symbol)
	assert.Equal(t, 1000.0, target.buys[0].RefPrice)
	assert.Equal(t, "tradingview", target.buys[0].Source)

	log := signalLog(t, l, "BTCUSDT", "1h", t0)
	require.NotNil(t, log, "logged under the orchestrator's timeframe")
	assert.Equal(t, domain.ActionForwarded, log.DecidedAction)
	assert.Equal(t, "source=tradingview", log.Notes)
}

func TestRouter_ForwardsSellWithDefaultTime(t *testing.T) {
	r, l, target := setupRouter(t)

	_, err := r.Route(context.Background(), Directive{Symbol: "btc/usdt", Direction: "CLOSE", Price: 990})
	require.NoError(t, err)
	require.Len(t, target.sells, 1)
	assert.Equal(t, t0, target.sells[0].BarTime)
	assert.Equal(t, defaultSource, target.sells[0].Source)
	assert.NotNil(t, signalLog(t, l, "BTCUSDT", "1h", t0))
}

func TestRouter_UnknownDirection(t *testing.T) {
	r, l, target := setupRouter(t)

	res, err := r.Route(context.Background(), Directive{Symbol: "BTCUSDT", Direction: "flip", Price: 1000, BarTime: t0, Source: "tv"})
	require.ErrorIs(t, err, ports.ErrInvalidRequest)
	require.NotNil(t, res)
	assert.Equal(t, domain.ActionIgnored, res.Action)
	assert.Empty(t, target.buys)
	assert.Empty(t, target.sells)

	log := signalLog(t, l, "BTCUSDT", "1h", t0)
	require.NotNil(t, log)
	assert.Equal(t, domain.ActionIgnored, log.DecidedAction)
	assert.Contains(t, log.Notes, "unknown-direction=flip")
}

func TestRouter_UnknownSymbolIsLogged(t *testing.T) {
	r, l, _ := setupRouter(t)

	_, err := r.Route(context.Background(), Directive{Symbol: "ETHUSDT", Timeframe: "15m", Direction: "buy", Price: 3000, BarTime: t0})
	require.ErrorIs(t, err, ports.ErrUnknownSymbol)
	assert.Equal(t, ports.KindValidation, ports.KindOf(err))

	log := signalLog(t, l, "ETHUSDT", "15m", t0)
	require.NotNil(t, log)
	assert.Equal(t, domain.ActionForwarded, log.DecidedAction)
}

func TestRouter_RegisterTwice(t *testing.T) {
	r, _, _ := setupRouter(t)
	err := r.Register(&fakeTarget{symbol: "btcusdt", timeframe: "4h"})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
	assert.Equal(t, []string{"BTCUSDT"}, r.Symbols())
}

func TestRouter_EmptySymbol(t *testing.T) {
	r, _, _ := setupRouter(t)
	_, err := r.Route(context.Background(), Directive{Direction: "buy"})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}
