package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

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

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(Config{
		DBPath: filepath.Join(t.TempDir(), "nested", "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newPosition(symbol string) *domain.Position {
	return &domain.Position{
		Symbol:     symbol,
		Side:       domain.Long,
		Quantity:   d("1.5"),
		EntryPrice: d("100.25"),
		StopPrice:  decimal.NewNullDecimal(d("95")),
		OpenedAt:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Strategy:   "ema_rsi",
		Status:     domain.StatusOpen,
	}
}

func newOrder(posID int64, cid string) *domain.Order {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return &domain.Order{
		PositionID:     posID,
		ClientOrderID:  cid,
		Symbol:         "BTCUSDT",
		Side:           domain.Buy,
		Type:           domain.OrderTypeMarket,
		Status:         domain.OrderStatusNew,
		Purpose:        domain.PurposeEntry,
		Quantity:       d("1.5"),
		FilledQuantity: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestRepository_PositionRoundTrip(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	err := repo.WithinTx(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		pos := newPosition("BTCUSDT")
		id, err := tx.InsertPosition(ctx, pos)
		require.NoError(t, err)
		assert.Equal(t, id, pos.ID)

		got, err := tx.OpenPositionBySymbol(ctx, "BTCUSDT")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, got.Quantity.Equal(d("1.5")))
		assert.True(t, got.EntryPrice.Equal(d("100.25")))
		assert.True(t, got.StopPrice.Valid)
		assert.True(t, got.StopPrice.Decimal.Equal(d("95")))
		assert.False(t, got.TargetPrice.Valid)
		assert.Nil(t, got.ClosedAt)
		assert.True(t, got.OpenedAt.Equal(pos.OpenedAt))

		closedAt := pos.OpenedAt.Add(time.Hour)
		got.Status = domain.StatusClosed
		got.ClosedAt = &closedAt
		got.RealizedPNL = d("-3.125")
		require.NoError(t, tx.UpdatePosition(ctx, got))

		open, err := tx.OpenPositionBySymbol(ctx, "BTCUSDT")
		require.NoError(t, err)
		assert.Nil(t, open)

		closed, err := tx.ClosedPositions(ctx, "")
		require.NoError(t, err)
		require.Len(t, closed, 1)
		assert.True(t, closed[0].RealizedPNL.Equal(d("-3.125")))
		require.NotNil(t, closed[0].ClosedAt)
		return nil
	})
	require.NoError(t, err)
}

func TestRepository_SingleOpenPositionPerSymbol(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	err := repo.WithinTx(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		_, err := tx.InsertPosition(ctx, newPosition("ETHUSDT"))
		require.NoError(t, err)
		_, err = tx.InsertPosition(ctx, newPosition("ETHUSDT"))
		assert.ErrorIs(t, err, ports.ErrDuplicateEntry)
		_, err = tx.InsertPosition(ctx, newPosition("BTCUSDT"))
		assert.NoError(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestRepository_OrderAndTradeUniqueness(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	err := repo.WithinTx(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		pos := newPosition("BTCUSDT")
		_, err := tx.InsertPosition(ctx, pos)
		require.NoError(t, err)

		o := newOrder(pos.ID, "ENTRY-BTCUSDT-20240102030405")
		_, err = tx.InsertOrder(ctx, o)
		require.NoError(t, err)
		_, err = tx.InsertOrder(ctx, newOrder(pos.ID, o.ClientOrderID))
		assert.ErrorIs(t, err, ports.ErrDuplicateEntry)

		byCID, err := tx.OrderByClientID(ctx, o.ClientOrderID)
		require.NoError(t, err)
		require.NotNil(t, byCID)
		assert.Equal(t, o.ID, byCID.ID)
		assert.Empty(t, byCID.VenueOrderID)
		assert.False(t, byCID.AvgFillPrice.Valid)

		tr := &domain.Trade{OrderID: o.ID, VenueTradeID: "t-1", Price: d("100"), Quantity: d("1"), Fee: d("0.1"), Time: o.CreatedAt}
		_, err = tx.InsertTrade(ctx, tr)
		require.NoError(t, err)
		_, err = tx.InsertTrade(ctx, &domain.Trade{OrderID: o.ID, VenueTradeID: "t-1", Price: d("100"), Quantity: d("1"), Time: o.CreatedAt})
		assert.ErrorIs(t, err, ports.ErrDuplicateEntry)

		// trades without a venue id are never deduplicated
		for i := 0; i < 2; i++ {
			_, err = tx.InsertTrade(ctx, &domain.Trade{OrderID: o.ID, Price: d("100"), Quantity: d("0.1"), Time: o.CreatedAt})
			require.NoError(t, err)
		}
		trades, err := tx.TradesByOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Len(t, trades, 3)

		found, err := tx.TradeByVenueID(ctx, o.ID, "t-1")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.True(t, found.Fee.Equal(d("0.1")))

		missing, err := tx.TradeByVenueID(ctx, o.ID, "t-404")
		require.NoError(t, err)
		assert.Nil(t, missing)
		return nil
	})
	require.NoError(t, err)
}

func TestRepository_WorkingOrders(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	err := repo.WithinTx(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		pos := newPosition("BTCUSDT")
		_, err := tx.InsertPosition(ctx, pos)
		require.NoError(t, err)

		working := newOrder(pos.ID, "a")
		_, err = tx.InsertOrder(ctx, working)
		require.NoError(t, err)

		done := newOrder(pos.ID, "b")
		_, err = tx.InsertOrder(ctx, done)
		require.NoError(t, err)
		done.Status = domain.OrderStatusFilled
		done.FilledQuantity = done.Quantity
		done.AvgFillPrice = decimal.NewNullDecimal(d("101"))
		done.VenueOrderID = "42"
		require.NoError(t, tx.UpdateOrder(ctx, done))

		list, err := tx.WorkingOrders(ctx, "BTCUSDT")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "a", list[0].ClientOrderID)

		all, err := tx.OrdersByPosition(ctx, pos.ID)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "42", all[1].VenueOrderID)
		assert.True(t, all[1].AvgFillPrice.Decimal.Equal(d("101")))

		err = tx.UpdateOrder(ctx, &domain.Order{ID: 999, UpdatedAt: time.Now()})
		assert.ErrorIs(t, err, ports.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestRepository_WithinTxRollsBack(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.WithinTx(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		_, err := tx.InsertPosition(ctx, newPosition("BTCUSDT"))
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = repo.WithinTx(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		pos, err := tx.OpenPositionBySymbol(ctx, "BTCUSDT")
		require.NoError(t, err)
		assert.Nil(t, pos)
		return nil
	})
	require.NoError(t, err)
}

func TestRepository_SignalLogUpsert(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	bar := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	err := repo.WithinTx(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		first := (&domain.SignalLog{
			Symbol: "BTCUSDT", Timeframe: "1h", BarTime: bar, Strategy: "ema_rsi",
			EntrySignal: true, DecidedAction: domain.ActionBuy, Notes: "entry",
		}).WithSnapshot(domain.IndicatorSnapshot{Fast: 10, Slow: 9, Oscillator: 40, Volatility: 2})
		require.NoError(t, tx.UpsertSignalLog(ctx, first))

		second := &domain.SignalLog{
			Symbol: "BTCUSDT", Timeframe: "1h", BarTime: bar,
			DecidedAction: domain.ActionHold, Notes: "size-zero",
		}
		require.NoError(t, tx.UpsertSignalLog(ctx, second))

		got, err := tx.SignalLog(ctx, "BTCUSDT", "1h", bar)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, domain.ActionHold, got.DecidedAction)
		assert.Equal(t, "entry; size-zero", got.Notes)
		assert.Equal(t, "ema_rsi", got.Strategy)
		assert.True(t, got.EntrySignal)
		require.NotNil(t, got.FastMA)
		assert.Equal(t, 10.0, *got.FastMA)
		assert.True(t, got.BarTime.Equal(bar))

		none, err := tx.SignalLog(ctx, "BTCUSDT", "1h", bar.Add(time.Hour))
		require.NoError(t, err)
		assert.Nil(t, none)
		return nil
	})
	require.NoError(t, err)
}

func TestRepository_DailyPnL(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	err := repo.WithinTx(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		got, err := tx.DailyPnL(ctx, "2024-05-01")
		require.NoError(t, err)
		assert.Nil(t, got)

		require.NoError(t, tx.SaveDailyPnL(ctx, &domain.DailyPnL{Day: "2024-05-01", RealizedPNL: d("-12.5"), UpdatedAt: now}))
		require.NoError(t, tx.SaveDailyPnL(ctx, &domain.DailyPnL{
			Day: "2024-05-01", RealizedPNL: d("-20"), UnrealizedPNL: d("3"),
			Equity: decimal.NewNullDecimal(d("9980")), UpdatedAt: now,
		}))
		require.NoError(t, tx.SaveDailyPnL(ctx, &domain.DailyPnL{Day: "2024-04-30", RealizedPNL: d("1"), UpdatedAt: now}))

		got, err = tx.DailyPnL(ctx, "2024-05-01")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, got.RealizedPNL.Equal(d("-20")))
		assert.True(t, got.UnrealizedPNL.Equal(d("3")))
		assert.True(t, got.Equity.Decimal.Equal(d("9980")))

		history, err := tx.DailyPnLHistory(ctx)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "2024-04-30", history[0].Day)
		return nil
	})
	require.NoError(t, err)
}
