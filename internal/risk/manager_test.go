package risk

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendbot/internal/adapters/sqlite"
	"trendbot/internal/ledger"
	"trendbot/internal/ports"
)

var defaultConfig = Config{PerTradeRiskPct: 0.5, MaxDailyLossPct: 5, StopATRMult: 2}

func newEngine(t *testing.T, equity float64) *Engine {
	t.Helper()
	e, err := NewEngine(defaultConfig, StaticEquity(equity))
	require.NoError(t, err)
	return e
}

func TestNewEngine_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero risk", Config{PerTradeRiskPct: 0, MaxDailyLossPct: 5, StopATRMult: 2}},
		{"risk above 100", Config{PerTradeRiskPct: 150, MaxDailyLossPct: 5, StopATRMult: 2}},
		{"no loss limit", Config{PerTradeRiskPct: 1, StopATRMult: 2}},
		{"zero stop mult", Config{PerTradeRiskPct: 1, MaxDailyLossPct: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.cfg, StaticEquity(1000))
			assert.ErrorIs(t, err, ports.ErrConfigurationError)
		})
	}
	_, err := NewEngine(defaultConfig, nil)
	assert.Error(t, err)
}

func TestEngine_PositionSize(t *testing.T) {
	ctx := context.Background()

	t.Run("risk 100 over stop distance 100", func(t *testing.T) {
		e, err := NewEngine(Config{PerTradeRiskPct: 1, MaxDailyLossPct: 5, StopATRMult: 2}, StaticEquity(10000))
		require.NoError(t, err)
		size, err := e.PositionSize(ctx, 30000, 50)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, size, 1e-12)
	})

	t.Run("zero volatility sizes nothing", func(t *testing.T) {
		size, err := newEngine(t, 10000).PositionSize(ctx, 30000, 0)
		require.NoError(t, err)
		assert.Zero(t, size)
	})

	t.Run("negative volatility sizes nothing", func(t *testing.T) {
		size, err := newEngine(t, 10000).PositionSize(ctx, 30000, -3)
		require.NoError(t, err)
		assert.Zero(t, size)
	})

	t.Run("linear in equity", func(t *testing.T) {
		base, err := newEngine(t, 10000).PositionSize(ctx, 30000, 25)
		require.NoError(t, err)
		for _, k := range []float64{0.5, 2, 3.7, 10} {
			scaled, err := newEngine(t, 10000*k).PositionSize(ctx, 30000, 25)
			require.NoError(t, err)
			assert.InDelta(t, base*k, scaled, 1e-9, "k=%v", k)
		}
	})

	t.Run("invalid price", func(t *testing.T) {
		_, err := newEngine(t, 10000).PositionSize(ctx, 0, 25)
		assert.ErrorIs(t, err, ports.ErrInvalidRequest)
	})

	t.Run("equity read failure", func(t *testing.T) {
		down := errors.New("balance unavailable")
		e, err := NewEngine(defaultConfig, ports.EquityFunc(func(context.Context) (float64, error) { return 0, down }))
		require.NoError(t, err)
		_, err = e.PositionSize(ctx, 30000, 25)
		assert.ErrorIs(t, err, down)
	})

	t.Run("equity read on every call", func(t *testing.T) {
		equity := 10000.0
		e, err := NewEngine(defaultConfig, ports.EquityFunc(func(context.Context) (float64, error) { return equity, nil }))
		require.NoError(t, err)
		first, _ := e.PositionSize(ctx, 30000, 25)
		equity = 20000
		second, _ := e.PositionSize(ctx, 30000, 25)
		assert.InDelta(t, first*2, second, 1e-12)
	})
}

func TestEngine_DailyKillSwitch(t *testing.T) {
	e := newEngine(t, 10000)
	tests := []struct {
		pct  float64
		want bool
	}{
		{-5.0, true},
		{-4.999, false},
		{-7.5, true},
		{0, false},
		{3, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.DailyKillSwitch(tt.pct), "pct=%v", tt.pct)
	}

	positive, err := NewEngine(Config{PerTradeRiskPct: 1, MaxDailyLossPct: -5, StopATRMult: 2}, StaticEquity(1))
	require.NoError(t, err)
	assert.True(t, positive.DailyKillSwitch(-5))
	assert.False(t, positive.DailyKillSwitch(-4.999))
}

func TestDayPnLPct(t *testing.T) {
	assert.InDelta(t, -5.0, DayPnLPct(-500, 10000), 1e-12)
	assert.InDelta(t, -50.0, DayPnLPct(-0.5, 0), 1e-12)
	assert.InDelta(t, 2.0, DayPnLPct(200, 10000), 1e-12)
}

func TestEngine_StopPrice(t *testing.T) {
	assert.InDelta(t, 29950.0, newEngine(t, 1).StopPrice(30000, 25), 1e-9)
}

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...map[string]interface{})        {}
func (nopLogger) Info(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Warn(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Error(context.Context, error, string, ...map[string]interface{}) {}

func TestLedgerEquity(t *testing.T) {
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "eq.db"), Logger: nopLogger{}})
	require.NoError(t, err)
	defer repo.Close()
	l, err := ledger.New(ledger.Config{Store: repo, Logger: nopLogger{}})
	require.NoError(t, err)

	ctx := context.Background()
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	err = l.Run(ctx, func(u *ledger.Unit) error {
		pos, order, err := u.OpenPosition(ctx, ledger.OpenRequest{Symbol: "BTCUSDT", Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100), At: at})
		if err != nil {
			return err
		}
		if _, err := u.RecordFill(ctx, ledger.FillRequest{OrderID: order.ID, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), At: at}); err != nil {
			return err
		}
		_, err = u.ClosePosition(ctx, ledger.CloseRequest{PositionID: pos.ID, ExitPrice: decimal.NewFromInt(90), At: at.Add(time.Hour)})
		return err
	})
	require.NoError(t, err)

	eq, err := (&LedgerEquity{Ledger: l, Initial: 1000}).Equity(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 990.0, eq, 1e-9)
}
