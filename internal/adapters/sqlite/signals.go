package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trendbot/internal/domain"
)

// UpsertSignalLog records a bar evaluation. A second write for the same bar keeps
// the audit trail: notes are appended and missing indicator values are preserved.
func (r *txRepo) UpsertSignalLog(ctx context.Context, s *domain.SignalLog) error {
	const query = `
	INSERT INTO signal_logs (symbol, timeframe, bar_time_ms, strategy, strategy_version, fast_ma, slow_ma,
		oscillator, volatility, entry_signal, exit_signal, decided_action, notes, source, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (symbol, timeframe, bar_time_ms) DO UPDATE SET
		strategy = CASE WHEN excluded.strategy = '' THEN signal_logs.strategy ELSE excluded.strategy END,
		strategy_version = CASE WHEN excluded.strategy_version = '' THEN signal_logs.strategy_version ELSE excluded.strategy_version END,
		fast_ma = COALESCE(excluded.fast_ma, signal_logs.fast_ma),
		slow_ma = COALESCE(excluded.slow_ma, signal_logs.slow_ma),
		oscillator = COALESCE(excluded.oscillator, signal_logs.oscillator),
		volatility = COALESCE(excluded.volatility, signal_logs.volatility),
		entry_signal = MAX(signal_logs.entry_signal, excluded.entry_signal),
		exit_signal = MAX(signal_logs.exit_signal, excluded.exit_signal),
		decided_action = excluded.decided_action,
		notes = CASE
			WHEN signal_logs.notes = '' THEN excluded.notes
			WHEN excluded.notes = '' THEN signal_logs.notes
			ELSE signal_logs.notes || '; ' || excluded.notes END,
		source = CASE WHEN excluded.source = '' THEN signal_logs.source ELSE excluded.source END`

	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.tx.ExecContext(ctx, query,
		s.Symbol, s.Timeframe, s.BarTime.UnixMilli(), s.Strategy, s.StrategyVersion,
		nullFloat(s.FastMA), nullFloat(s.SlowMA), nullFloat(s.Oscillator), nullFloat(s.Volatility),
		s.EntrySignal, s.ExitSignal, s.DecidedAction, s.Notes, s.Source, createdAt.UTC())
	if err != nil {
		return mapErr(err, "failed to upsert signal log for %s %s", s.Symbol, s.Timeframe)
	}
	r.logger.Debug(ctx, "Signal logged", map[string]interface{}{
		"symbol": s.Symbol, "timeframe": s.Timeframe, "barTime": s.BarTime, "action": s.DecidedAction, "notes": s.Notes,
	})
	return nil
}

// SignalLog retrieves the audit row for one bar.
func (r *txRepo) SignalLog(ctx context.Context, symbol, timeframe string, barTime time.Time) (*domain.SignalLog, error) {
	const query = `
	SELECT id, symbol, timeframe, bar_time_ms, strategy, strategy_version, fast_ma, slow_ma, oscillator, volatility,
		entry_signal, exit_signal, decided_action, notes, source, created_at
	FROM signal_logs WHERE symbol = ? AND timeframe = ? AND bar_time_ms = ?`

	s := &domain.SignalLog{}
	var barMs int64
	var fast, slow, osc, vol sql.NullFloat64
	var action string
	err := r.tx.QueryRowContext(ctx, query, symbol, timeframe, barTime.UnixMilli()).Scan(
		&s.ID, &s.Symbol, &s.Timeframe, &barMs, &s.Strategy, &s.StrategyVersion, &fast, &slow, &osc, &vol,
		&s.EntrySignal, &s.ExitSignal, &action, &s.Notes, &s.Source, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapErr(err, "failed to query signal log for %s %s", symbol, timeframe)
	}
	s.BarTime = time.UnixMilli(barMs).UTC()
	s.FastMA, s.SlowMA, s.Oscillator, s.Volatility = floatPtr(fast), floatPtr(slow), floatPtr(osc), floatPtr(vol)
	s.DecidedAction = domain.Action(action)
	return s, nil
}

// DailyPnL retrieves the bucket for day.
func (r *txRepo) DailyPnL(ctx context.Context, day string) (*domain.DailyPnL, error) {
	const query = `SELECT day, realized_pnl, unrealized_pnl, equity, updated_at FROM daily_pnl WHERE day = ?`
	d, err := scanDaily(r.tx.QueryRowContext(ctx, query, day))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapErr(err, "failed to query daily pnl for %s", day)
	}
	return d, nil
}

// DailyPnLHistory lists all daily buckets, oldest first.
func (r *txRepo) DailyPnLHistory(ctx context.Context) ([]*domain.DailyPnL, error) {
	const query = `SELECT day, realized_pnl, unrealized_pnl, equity, updated_at FROM daily_pnl ORDER BY day`
	rows, err := r.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, mapErr(err, "failed to query daily pnl history")
	}
	defer rows.Close()

	days := make([]*domain.DailyPnL, 0)
	for rows.Next() {
		d, err := scanDaily(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily pnl: %w", err)
		}
		days = append(days, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily pnl rows: %w", err)
	}
	return days, nil
}

// SaveDailyPnL inserts or replaces the bucket for d.Day.
func (r *txRepo) SaveDailyPnL(ctx context.Context, d *domain.DailyPnL) error {
	const query = `
	INSERT INTO daily_pnl (day, realized_pnl, unrealized_pnl, equity, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (day) DO UPDATE SET
		realized_pnl = excluded.realized_pnl,
		unrealized_pnl = excluded.unrealized_pnl,
		equity = excluded.equity,
		updated_at = excluded.updated_at`

	if _, err := r.tx.ExecContext(ctx, query, d.Day, d.RealizedPNL, d.UnrealizedPNL, d.Equity, d.UpdatedAt.UTC()); err != nil {
		return mapErr(err, "failed to save daily pnl for %s", d.Day)
	}
	r.logger.Debug(ctx, "Daily PnL saved", map[string]interface{}{"day": d.Day, "realized": d.RealizedPNL.String()})
	return nil
}

func scanDaily(s scanner) (*domain.DailyPnL, error) {
	d := &domain.DailyPnL{}
	if err := s.Scan(&d.Day, &d.RealizedPNL, &d.UnrealizedPNL, &d.Equity, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return d, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
