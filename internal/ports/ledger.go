package ports

import (
	"context"
	"time"

	"trendbot/internal/domain"
)

// LedgerStore is durable storage for positions, orders, trades, signal logs and
// daily PnL. All writes happen inside WithinTx.
type LedgerStore interface {
	// WithinTx runs fn in one transaction. It commits when fn returns nil and
	// rolls back otherwise, returning fn's error.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
	Close() error
}

// LedgerTx is the transactional view of the store. Finders return nil, nil when
// nothing matches. It enforces uniqueness but no business rules.
type LedgerTx interface {
	InsertPosition(ctx context.Context, pos *domain.Position) (int64, error)
	UpdatePosition(ctx context.Context, pos *domain.Position) error
	PositionByID(ctx context.Context, id int64) (*domain.Position, error)
	OpenPositionBySymbol(ctx context.Context, symbol string) (*domain.Position, error)
	// ClosedPositions lists closed positions by close time. Empty symbol means all.
	ClosedPositions(ctx context.Context, symbol string) ([]*domain.Position, error)

	InsertOrder(ctx context.Context, o *domain.Order) (int64, error)
	UpdateOrder(ctx context.Context, o *domain.Order) error
	OrderByID(ctx context.Context, id int64) (*domain.Order, error)
	OrderByClientID(ctx context.Context, clientOrderID string) (*domain.Order, error)
	OrdersByPosition(ctx context.Context, positionID int64) ([]*domain.Order, error)
	// WorkingOrders lists non-terminal orders for symbol.
	WorkingOrders(ctx context.Context, symbol string) ([]*domain.Order, error)

	InsertTrade(ctx context.Context, tr *domain.Trade) (int64, error)
	TradeByVenueID(ctx context.Context, orderID int64, venueTradeID string) (*domain.Trade, error)
	TradesByOrder(ctx context.Context, orderID int64) ([]*domain.Trade, error)

	// UpsertSignalLog inserts the row, or on a (symbol, timeframe, bar time) conflict
	// replaces the action, keeps indicator values the new row lacks and appends notes.
	UpsertSignalLog(ctx context.Context, s *domain.SignalLog) error
	SignalLog(ctx context.Context, symbol, timeframe string, barTime time.Time) (*domain.SignalLog, error)

	DailyPnL(ctx context.Context, day string) (*domain.DailyPnL, error)
	DailyPnLHistory(ctx context.Context) ([]*domain.DailyPnL, error)
	// SaveDailyPnL writes the row as given, inserting or replacing by day.
	SaveDailyPnL(ctx context.Context, d *domain.DailyPnL) error
}
