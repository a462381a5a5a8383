package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"trendbot/internal/ports"
)

// Repository implements ports.LedgerStore using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository opens (creating if needed) the ledger database and its schema.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trendbot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// One connection serializes writers; transactions never interleave.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// Money columns are TEXT holding exact decimal strings.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		entry_price TEXT NOT NULL,
		initial_stop_price TEXT NULL,
		stop_price TEXT NULL,
		target_price TEXT NULL,
		exit_price TEXT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP NULL,
		realized_pnl TEXT NOT NULL DEFAULT '0',
		fees_paid TEXT NOT NULL DEFAULT '0',
		strategy TEXT NOT NULL DEFAULT '',
		strategy_version TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		close_reason TEXT NOT NULL DEFAULT ''
	);
	CREATE UNIQUE INDEX IF NOT EXISTS ux_positions_open_symbol ON positions (symbol) WHERE status = 'OPEN';
	CREATE INDEX IF NOT EXISTS idx_positions_symbol_status ON positions (symbol, status);

	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id INTEGER NOT NULL REFERENCES positions (id),
		client_order_id TEXT NOT NULL UNIQUE,
		venue_order_id TEXT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		purpose TEXT NOT NULL,
		quantity TEXT NOT NULL,
		filled_quantity TEXT NOT NULL DEFAULT '0',
		avg_fill_price TEXT NULL,
		price TEXT NULL,
		stop_price TEXT NULL,
		is_protective INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_position ON orders (position_id);
	CREATE INDEX IF NOT EXISTS idx_orders_symbol_status ON orders (symbol, status);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id INTEGER NOT NULL REFERENCES orders (id),
		venue_trade_id TEXT NULL,
		price TEXT NOT NULL,
		quantity TEXT NOT NULL,
		fee TEXT NOT NULL DEFAULT '0',
		fee_asset TEXT NOT NULL DEFAULT '',
		ts TIMESTAMP NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS ux_trades_order_venue ON trades (order_id, venue_trade_id) WHERE venue_trade_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS signal_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		bar_time_ms INTEGER NOT NULL,
		strategy TEXT NOT NULL DEFAULT '',
		strategy_version TEXT NOT NULL DEFAULT '',
		fast_ma REAL NULL,
		slow_ma REAL NULL,
		oscillator REAL NULL,
		volatility REAL NULL,
		entry_signal INTEGER NOT NULL DEFAULT 0,
		exit_signal INTEGER NOT NULL DEFAULT 0,
		decided_action TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		UNIQUE (symbol, timeframe, bar_time_ms)
	);

	CREATE TABLE IF NOT EXISTS daily_pnl (
		day TEXT PRIMARY KEY,
		realized_pnl TEXT NOT NULL DEFAULT '0',
		unrealized_pnl TEXT NOT NULL DEFAULT '0',
		equity TEXT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// WithinTx runs fn inside a single transaction.
func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.LedgerTx) error) (err error) {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w: %w", ports.ErrDBConnection, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &txRepo{tx: sqlTx, logger: r.logger}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.Error(ctx, rbErr, "Transaction rollback failed")
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w: %w", ports.ErrUpdateFailed, err)
	}
	return nil
}

// txRepo implements ports.LedgerTx on an open transaction.
type txRepo struct {
	tx     *sql.Tx
	logger ports.Logger
}

// mapErr translates driver errors into ports sentinels.
func mapErr(err error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%s: %w: %w", msg, ports.ErrDuplicateEntry, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", msg, ports.ErrQueryFailed, err)
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
