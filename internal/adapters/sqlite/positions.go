package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"trendbot/internal/domain"
	"trendbot/internal/ports"
)

const positionColumns = `id, symbol, side, quantity, entry_price, initial_stop_price, stop_price, target_price,
	exit_price, opened_at, closed_at, realized_pnl, fees_paid, strategy, strategy_version, status, close_reason`

// InsertPosition saves a new position and returns its assigned ID.
func (r *txRepo) InsertPosition(ctx context.Context, pos *domain.Position) (int64, error) {
	const query = `
	INSERT INTO positions (symbol, side, quantity, entry_price, initial_stop_price, stop_price, target_price,
		exit_price, opened_at, closed_at, realized_pnl, fees_paid, strategy, strategy_version, status, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.tx.ExecContext(ctx, query,
		pos.Symbol, pos.Side, pos.Quantity, pos.EntryPrice, pos.InitialStopPrice, pos.StopPrice, pos.TargetPrice,
		pos.ExitPrice, pos.OpenedAt.UTC(), nullTime(pos.ClosedAt), pos.RealizedPNL, pos.FeesPaid,
		pos.Strategy, pos.StrategyVersion, pos.Status, pos.CloseReason)
	if err != nil {
		return 0, mapErr(err, "failed to insert position for symbol %s", pos.Symbol)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for position %s: %w", pos.Symbol, err)
	}
	pos.ID = id
	r.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": id, "symbol": pos.Symbol})
	return id, nil
}

// UpdatePosition modifies an existing position based on its ID.
func (r *txRepo) UpdatePosition(ctx context.Context, pos *domain.Position) error {
	const query = `
	UPDATE positions
	SET quantity = ?, entry_price = ?, initial_stop_price = ?, stop_price = ?, target_price = ?, exit_price = ?,
	    closed_at = ?, realized_pnl = ?, fees_paid = ?, status = ?, close_reason = ?
	WHERE id = ?`

	result, err := r.tx.ExecContext(ctx, query,
		pos.Quantity, pos.EntryPrice, pos.InitialStopPrice, pos.StopPrice, pos.TargetPrice, pos.ExitPrice,
		nullTime(pos.ClosedAt), pos.RealizedPNL, pos.FeesPaid, pos.Status, pos.CloseReason,
		pos.ID)
	if err != nil {
		return mapErr(err, "failed to update position ID %d", pos.ID)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update position ID %d: %w", pos.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position ID %d not found for update: %w", pos.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Position updated", map[string]interface{}{"positionID": pos.ID, "symbol": pos.Symbol, "status": pos.Status})
	return nil
}

// PositionByID retrieves a position by its unique ID.
func (r *txRepo) PositionByID(ctx context.Context, id int64) (*domain.Position, error) {
	row := r.tx.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapErr(err, "failed to query position by ID %d", id)
	}
	return pos, nil
}

// OpenPositionBySymbol retrieves the currently open position for a given symbol, if any.
func (r *txRepo) OpenPositionBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	row := r.tx.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE symbol = ? AND status = ?`,
		symbol, domain.StatusOpen)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapErr(err, "failed to query open position for symbol %s", symbol)
	}
	return pos, nil
}

// ClosedPositions lists closed positions ordered by close time.
func (r *txRepo) ClosedPositions(ctx context.Context, symbol string) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE status = ?`
	args := []interface{}{domain.StatusClosed}
	if symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY closed_at ASC, id ASC`

	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "failed to query closed positions")
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// scanPosition scans a row into a domain.Position struct.
func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var closedAt sql.NullTime
	var side, status, reason string
	err := s.Scan(
		&p.ID, &p.Symbol, &side, &p.Quantity, &p.EntryPrice, &p.InitialStopPrice, &p.StopPrice, &p.TargetPrice,
		&p.ExitPrice, &p.OpenedAt, &closedAt, &p.RealizedPNL, &p.FeesPaid, &p.Strategy, &p.StrategyVersion,
		&status, &reason)
	if err != nil {
		return nil, err // sql.ErrNoRows handled by the caller
	}
	if closedAt.Valid {
		t := closedAt.Time
		p.ClosedAt = &t
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	p.CloseReason = domain.CloseReason(reason)
	return p, nil
}
