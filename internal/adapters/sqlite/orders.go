package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"trendbot/internal/domain"
	"trendbot/internal/ports"
)

const orderColumns = `id, position_id, client_order_id, venue_order_id, symbol, side, type, status, purpose,
	quantity, filled_quantity, avg_fill_price, price, stop_price, is_protective, created_at, updated_at`

// InsertOrder saves a new order. A reused client order id yields ports.ErrDuplicateEntry.
func (r *txRepo) InsertOrder(ctx context.Context, o *domain.Order) (int64, error) {
	const query = `
	INSERT INTO orders (position_id, client_order_id, venue_order_id, symbol, side, type, status, purpose,
		quantity, filled_quantity, avg_fill_price, price, stop_price, is_protective, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.tx.ExecContext(ctx, query,
		o.PositionID, o.ClientOrderID, nullString(o.VenueOrderID), o.Symbol, o.Side, o.Type, o.Status, o.Purpose,
		o.Quantity, o.FilledQuantity, o.AvgFillPrice, o.Price, o.StopPrice, o.IsProtective,
		o.CreatedAt.UTC(), o.UpdatedAt.UTC())
	if err != nil {
		return 0, mapErr(err, "failed to insert order %s", o.ClientOrderID)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for order %s: %w", o.ClientOrderID, err)
	}
	o.ID = id
	r.logger.Debug(ctx, "Order created", map[string]interface{}{"orderID": id, "clientOrderID": o.ClientOrderID, "purpose": o.Purpose})
	return id, nil
}

// UpdateOrder writes the mutable order fields.
func (r *txRepo) UpdateOrder(ctx context.Context, o *domain.Order) error {
	const query = `
	UPDATE orders
	SET venue_order_id = ?, status = ?, quantity = ?, filled_quantity = ?, avg_fill_price = ?, price = ?,
	    stop_price = ?, updated_at = ?
	WHERE id = ?`

	result, err := r.tx.ExecContext(ctx, query,
		nullString(o.VenueOrderID), o.Status, o.Quantity, o.FilledQuantity, o.AvgFillPrice, o.Price,
		o.StopPrice, o.UpdatedAt.UTC(), o.ID)
	if err != nil {
		return mapErr(err, "failed to update order ID %d", o.ID)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update order ID %d: %w", o.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("order ID %d not found for update: %w", o.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Order updated", map[string]interface{}{"orderID": o.ID, "status": o.Status, "filled": o.FilledQuantity.String()})
	return nil
}

// OrderByID retrieves an order by ID.
func (r *txRepo) OrderByID(ctx context.Context, id int64) (*domain.Order, error) {
	return r.queryOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
}

// OrderByClientID retrieves an order by its idempotency key.
func (r *txRepo) OrderByClientID(ctx context.Context, clientOrderID string) (*domain.Order, error) {
	return r.queryOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE client_order_id = ?`, clientOrderID)
}

func (r *txRepo) queryOrder(ctx context.Context, query string, arg interface{}) (*domain.Order, error) {
	o, err := scanOrder(r.tx.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapErr(err, "failed to query order %v", arg)
	}
	return o, nil
}

// OrdersByPosition lists a position's orders in creation order.
func (r *txRepo) OrdersByPosition(ctx context.Context, positionID int64) ([]*domain.Order, error) {
	return r.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE position_id = ? ORDER BY id`, positionID)
}

// WorkingOrders lists non-terminal orders for symbol.
func (r *txRepo) WorkingOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	return r.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE symbol = ? AND status IN ('NEW', 'PARTIALLY_FILLED') ORDER BY id`, symbol)
}

func (r *txRepo) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*domain.Order, error) {
	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "failed to query orders")
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", err)
	}
	return orders, nil
}

// InsertTrade appends a fill. A repeated (order, venue trade id) yields ports.ErrDuplicateEntry.
func (r *txRepo) InsertTrade(ctx context.Context, tr *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (order_id, venue_trade_id, price, quantity, fee, fee_asset, ts)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	result, err := r.tx.ExecContext(ctx, query,
		tr.OrderID, nullString(tr.VenueTradeID), tr.Price, tr.Quantity, tr.Fee, tr.FeeAsset, tr.Time.UTC())
	if err != nil {
		return 0, mapErr(err, "failed to insert trade for order %d", tr.OrderID)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade: %w", err)
	}
	tr.ID = id
	r.logger.Debug(ctx, "Trade recorded", map[string]interface{}{"tradeID": id, "orderID": tr.OrderID, "qty": tr.Quantity.String()})
	return id, nil
}

// TradeByVenueID finds a fill by its venue trade id.
func (r *txRepo) TradeByVenueID(ctx context.Context, orderID int64, venueTradeID string) (*domain.Trade, error) {
	const query = `SELECT id, order_id, venue_trade_id, price, quantity, fee, fee_asset, ts
	FROM trades WHERE order_id = ? AND venue_trade_id = ?`
	tr, err := scanTrade(r.tx.QueryRowContext(ctx, query, orderID, venueTradeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapErr(err, "failed to query trade %s", venueTradeID)
	}
	return tr, nil
}

// TradesByOrder lists an order's fills in insertion order.
func (r *txRepo) TradesByOrder(ctx context.Context, orderID int64) ([]*domain.Trade, error) {
	const query = `SELECT id, order_id, venue_trade_id, price, quantity, fee, fee_asset, ts
	FROM trades WHERE order_id = ? ORDER BY id`
	rows, err := r.tx.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, mapErr(err, "failed to query trades for order %d", orderID)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		tr, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, tr)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

func scanOrder(s scanner) (*domain.Order, error) {
	o := &domain.Order{}
	var venueID sql.NullString
	var side, typ, status, purpose string
	err := s.Scan(
		&o.ID, &o.PositionID, &o.ClientOrderID, &venueID, &o.Symbol, &side, &typ, &status, &purpose,
		&o.Quantity, &o.FilledQuantity, &o.AvgFillPrice, &o.Price, &o.StopPrice, &o.IsProtective,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.VenueOrderID = venueID.String
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	o.Purpose = domain.OrderPurpose(purpose)
	return o, nil
}

func scanTrade(s scanner) (*domain.Trade, error) {
	tr := &domain.Trade{}
	var venueID sql.NullString
	if err := s.Scan(&tr.ID, &tr.OrderID, &venueID, &tr.Price, &tr.Quantity, &tr.Fee, &tr.FeeAsset, &tr.Time); err != nil {
		return nil, err
	}
	tr.VenueTradeID = venueID.String
	return tr, nil
}
