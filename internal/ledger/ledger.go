// Package ledger owns every write to positions, orders, trades, signal logs and
// daily PnL. All mutations of one invocation go through a single Unit and commit
// together.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trendbot/internal/domain"
	"trendbot/internal/ports"
)

// DefaultTargetFraction is the share of the position the TP1 order takes.
var DefaultTargetFraction = decimal.RequireFromString("0.5")

// Ledger runs units of work against a LedgerStore.
type Ledger struct {
	store          ports.LedgerStore
	logger         ports.Logger
	targetFraction decimal.Decimal
}

// Config holds ledger dependencies.
type Config struct {
	Store          ports.LedgerStore
	Logger         ports.Logger
	TargetFraction float64 // 0 selects DefaultTargetFraction
}

// New creates a Ledger.
func New(cfg Config) (*Ledger, error) {
	if cfg.Store == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for ledger")
	}
	frac := DefaultTargetFraction
	if cfg.TargetFraction != 0 {
		if cfg.TargetFraction < 0 || cfg.TargetFraction > 1 {
			return nil, fmt.Errorf("target fraction must be in (0, 1]: %w", ports.ErrConfigurationError)
		}
		frac = decimal.NewFromFloat(cfg.TargetFraction)
	}
	return &Ledger{store: cfg.Store, logger: cfg.Logger, targetFraction: frac}, nil
}

// Run executes fn as one all-or-nothing unit.
func (l *Ledger) Run(ctx context.Context, fn func(u *Unit) error) error {
	return l.store.WithinTx(ctx, func(ctx context.Context, tx ports.LedgerTx) error {
		return fn(&Unit{tx: tx, l: l})
	})
}

// Unit is a transactional view over the ledger. It is only valid inside Run.
type Unit struct {
	tx ports.LedgerTx
	l  *Ledger
}

// ClientOrderID builds the deterministic idempotency key for an order:
// PURPOSE-SYMBOL-YYYYMMDDHHMMSS (UTC). Only characters venues accept are used.
func ClientOrderID(purpose domain.OrderPurpose, symbol string, ts time.Time) string {
	return fmt.Sprintf("%s-%s-%s", purpose, strings.ToUpper(symbol), ts.UTC().Format("20060102150405"))
}

func (u *Unit) position(ctx context.Context, id int64) (*domain.Position, error) {
	pos, err := u.tx.PositionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, fmt.Errorf("position %d: %w", id, ports.ErrPositionNotFound)
	}
	return pos, nil
}

func (u *Unit) openPosition(ctx context.Context, id int64) (*domain.Position, error) {
	pos, err := u.position(ctx, id)
	if err != nil {
		return nil, err
	}
	if !pos.IsOpen() {
		return nil, fmt.Errorf("position %d: %w", id, ports.ErrPositionAlreadyClosed)
	}
	return pos, nil
}

// OpenPositionFor returns the open position for symbol, or nil.
func (u *Unit) OpenPositionFor(ctx context.Context, symbol string) (*domain.Position, error) {
	return u.tx.OpenPositionBySymbol(ctx, symbol)
}

// Position returns a position by id.
func (u *Unit) Position(ctx context.Context, id int64) (*domain.Position, error) {
	return u.position(ctx, id)
}

// Orders lists a position's orders.
func (u *Unit) Orders(ctx context.Context, positionID int64) ([]*domain.Order, error) {
	return u.tx.OrdersByPosition(ctx, positionID)
}

// Order returns an order by id.
func (u *Unit) Order(ctx context.Context, id int64) (*domain.Order, error) {
	o, err := u.tx.OrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("order %d: %w", id, ports.ErrOrderNotFound)
	}
	return o, nil
}

// Trades lists an order's fills.
func (u *Unit) Trades(ctx context.Context, orderID int64) ([]*domain.Trade, error) {
	return u.tx.TradesByOrder(ctx, orderID)
}

// WorkingOrders lists non-terminal orders for symbol.
func (u *Unit) WorkingOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	return u.tx.WorkingOrders(ctx, symbol)
}

// ClosedPositions lists closed positions; empty symbol means all.
func (u *Unit) ClosedPositions(ctx context.Context, symbol string) ([]*domain.Position, error) {
	return u.tx.ClosedPositions(ctx, symbol)
}

// LogSignal upserts the audit row for a bar.
func (u *Unit) LogSignal(ctx context.Context, s *domain.SignalLog) error {
	s.Symbol = strings.ToUpper(s.Symbol)
	return u.tx.UpsertSignalLog(ctx, s)
}

// SignalLog reads the audit row for a bar.
func (u *Unit) SignalLog(ctx context.Context, symbol, timeframe string, barTime time.Time) (*domain.SignalLog, error) {
	return u.tx.SignalLog(ctx, strings.ToUpper(symbol), timeframe, barTime)
}

// DailyPnL returns the bucket for day, or nil.
func (u *Unit) DailyPnL(ctx context.Context, day string) (*domain.DailyPnL, error) {
	return u.tx.DailyPnL(ctx, day)
}

// DailyPnLHistory lists all buckets, oldest first.
func (u *Unit) DailyPnLHistory(ctx context.Context) ([]*domain.DailyPnL, error) {
	return u.tx.DailyPnLHistory(ctx)
}

// UpsertDailyPnL adds realizedDelta to the day's realized bucket and overwrites
// the unrealized mark. Equity is overwritten only when given.
func (u *Unit) UpsertDailyPnL(ctx context.Context, day string, realizedDelta, unrealized decimal.Decimal, equity decimal.NullDecimal, at time.Time) (*domain.DailyPnL, error) {
	row, err := u.tx.DailyPnL(ctx, day)
	if err != nil {
		return nil, err
	}
	if row == nil {
		row = &domain.DailyPnL{Day: day, RealizedPNL: decimal.Zero}
	}
	row.RealizedPNL = row.RealizedPNL.Add(realizedDelta)
	row.UnrealizedPNL = unrealized
	if equity.Valid {
		row.Equity = equity
	}
	row.UpdatedAt = at.UTC()
	if err := u.tx.SaveDailyPnL(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}
