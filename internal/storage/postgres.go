// Package storage is the persistence adapter (spec.md §4.9): a Postgres
// store for the durable ledger (orders, positions, portfolios) and a
// Redis store for the bounded-retention market data (ticks, candles).
// Connection handling is grounded on libs/database/connection.go's
// retrying-pool Connect, raw parameterized SQL on
// internal/modules/execution/service.go's PostgresTradeStore and
// libs/ingest/sql.go's upsert queries.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
	"github.com/Krishnaraj-Irkal/flowsense/internal/obslog"
)

// PostgresConfig configures the connection pool and retry policy.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
}

func (c PostgresConfig) withDefaults() PostgresConfig {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 5
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	return c
}

// PostgresStore persists signals, orders, positions, and portfolios. It
// implements executor.PortfolioStore and executor.PositionStore.
type PostgresStore struct {
	db *sql.DB
}

// ConnectPostgres opens a connection pool, retrying with linear backoff
// (libs/database/connection.go's pattern), and pings before returning.
func ConnectPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	cfg = cfg.withDefaults()

	var db *sql.DB
	var err error
	delay := cfg.RetryDelay
	for attempt := 0; attempt <= cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay * time.Duration(attempt)):
			}
		}

		db, err = sql.Open("pgx", cfg.DSN)
		if err != nil {
			continue
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

		if err = db.PingContext(ctx); err == nil {
			if migErr := RunMigrations(db); migErr != nil {
				db.Close()
				return nil, fmt.Errorf("run migrations: %w", migErr)
			}
			return &PostgresStore{db: db}, nil
		}
		db.Close()
	}
	return nil, fmt.Errorf("connect postgres after %d attempts: %w", cfg.RetryAttempts+1, err)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// GetPortfolio returns the single-row portfolio for userID, or nil if it
// has never been seeded.
func (s *PostgresStore) GetPortfolio(ctx context.Context, userID string) (*domain.Portfolio, error) {
	const q = `
		SELECT user_id, total_capital, available_capital, used_margin, today_pnl,
		       total_pnl, total_trades, winning_trades, losing_trades, win_rate,
		       max_daily_loss, current_daily_loss
		FROM portfolios WHERE user_id = $1`

	var p domain.Portfolio
	err := s.db.QueryRowContext(ctx, q, userID).Scan(
		&p.UserID, &p.TotalCapital, &p.AvailableCapital, &p.UsedMargin, &p.TodayPnL,
		&p.TotalPnL, &p.TotalTrades, &p.WinningTrades, &p.LosingTrades, &p.WinRate,
		&p.MaxDailyLoss, &p.CurrentDailyLoss,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get portfolio: %w", err)
	}
	return &p, nil
}

// SavePortfolio upserts the single-row portfolio.
func (s *PostgresStore) SavePortfolio(ctx context.Context, p *domain.Portfolio) error {
	const q = `
		INSERT INTO portfolios (user_id, total_capital, available_capital, used_margin,
		                        today_pnl, total_pnl, total_trades, winning_trades,
		                        losing_trades, win_rate, max_daily_loss, current_daily_loss, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			total_capital = EXCLUDED.total_capital,
			available_capital = EXCLUDED.available_capital,
			used_margin = EXCLUDED.used_margin,
			today_pnl = EXCLUDED.today_pnl,
			total_pnl = EXCLUDED.total_pnl,
			total_trades = EXCLUDED.total_trades,
			winning_trades = EXCLUDED.winning_trades,
			losing_trades = EXCLUDED.losing_trades,
			win_rate = EXCLUDED.win_rate,
			max_daily_loss = EXCLUDED.max_daily_loss,
			current_daily_loss = EXCLUDED.current_daily_loss,
			updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, q,
		p.UserID, p.TotalCapital, p.AvailableCapital, p.UsedMargin,
		p.TodayPnL, p.TotalPnL, p.TotalTrades, p.WinningTrades,
		p.LosingTrades, p.WinRate, p.MaxDailyLoss, p.CurrentDailyLoss,
	)
	if err != nil {
		return fmt.Errorf("save portfolio: %w", err)
	}
	return nil
}

// ResetDaily zeroes the per-day counters for every portfolio row
// (spec.md §3 "a daily reset zeroes TodayPnL and CurrentDailyLoss").
func (s *PostgresStore) ResetDaily(ctx context.Context) error {
	const q = `UPDATE portfolios SET today_pnl = 0, current_daily_loss = 0, updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("reset daily portfolio counters: %w", err)
	}
	return nil
}

// SaveSignal upserts a signal by id (spec.md §4.9 "CRUD by id").
func (s *PostgresStore) SaveSignal(ctx context.Context, sig domain.Signal) error {
	const q = `
		INSERT INTO signals (id, strategy_name, security_id, side, price, stop_loss, target,
		                      quantity, reason, quality_score, status, created_at, decided_at, rejection_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			decided_at = EXCLUDED.decided_at,
			rejection_reason = EXCLUDED.rejection_reason`

	_, err := s.db.ExecContext(ctx, q,
		sig.ID, sig.StrategyName, sig.SecurityID, sig.Side, sig.Price, sig.StopLoss, sig.Target,
		sig.Quantity, sig.Reason, sig.QualityScore, sig.Status, sig.CreatedAt, sig.DecidedAt, sig.RejectionReason,
	)
	if err != nil {
		return fmt.Errorf("save signal: %w", err)
	}
	return nil
}

// SaveOrder inserts a paper order row (one-to-one with an executed
// signal); a repeated order id is ignored.
func (s *PostgresStore) SaveOrder(ctx context.Context, o domain.Order) error {
	const q = `
		INSERT INTO orders (id, signal_id, security_id, side, quantity, requested_price,
		                     fill_price, status, created_at, filled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, q,
		o.ID, o.SignalID, o.SecurityID, o.Side, o.Quantity, o.RequestedPrice,
		o.FillPrice, o.Status, o.CreatedAt, o.FilledAt,
	)
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

// SavePosition upserts a position by id.
func (s *PostgresStore) SavePosition(ctx context.Context, p domain.Position) error {
	const q = `
		INSERT INTO positions (id, security_id, strategy_name, side, quantity, entry_price,
		                        current_price, stop_loss, target, unrealized_pnl, realized_pnl,
		                        status, opened_at, closed_at, close_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			current_price = EXCLUDED.current_price,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			realized_pnl = EXCLUDED.realized_pnl,
			status = EXCLUDED.status,
			closed_at = EXCLUDED.closed_at,
			close_reason = EXCLUDED.close_reason`

	_, err := s.db.ExecContext(ctx, q,
		p.ID, p.SecurityID, p.StrategyName, p.Side, p.Quantity, p.EntryPrice,
		p.CurrentPrice, p.StopLoss, p.Target, p.UnrealizedPnL, p.RealizedPnL,
		p.Status, p.OpenedAt, p.ClosedAt, p.CloseReason,
	)
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// SaveInstrument upserts an instrument config row (the seed-instruments
// CLI subcommand's write path, spec.md §6).
func (s *PostgresStore) SaveInstrument(ctx context.Context, inst domain.Instrument) error {
	const q = `
		INSERT INTO instruments (security_id, symbol, exchange_segment, lot_size, tick_size)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (security_id) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			exchange_segment = EXCLUDED.exchange_segment,
			lot_size = EXCLUDED.lot_size,
			tick_size = EXCLUDED.tick_size`

	_, err := s.db.ExecContext(ctx, q, inst.SecurityID, inst.Symbol, inst.ExchangeSegment, inst.LotSize, inst.TickSize)
	if err != nil {
		return fmt.Errorf("save instrument: %w", err)
	}
	return nil
}

// Instruments returns every seeded instrument. The serve subcommand does
// not call it; its subscription set comes from cfg.SubscriptionSet only.
func (s *PostgresStore) Instruments(ctx context.Context) ([]domain.Instrument, error) {
	const q = `SELECT security_id, symbol, exchange_segment, lot_size, tick_size FROM instruments`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	defer rows.Close()

	var out []domain.Instrument
	for rows.Next() {
		var inst domain.Instrument
		if err := rows.Scan(&inst.SecurityID, &inst.Symbol, &inst.ExchangeSegment, &inst.LotSize, &inst.TickSize); err != nil {
			return nil, fmt.Errorf("scan instrument: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// OpenPositions returns every position with status 'open', most
// recently opened first.
func (s *PostgresStore) OpenPositions(ctx context.Context) ([]domain.Position, error) {
	return s.positionsByStatus(ctx, domain.PositionOpen)
}

// PositionsByStrategy returns every position for strategyName, most
// recent first (spec.md §4.9 "queries by (userId/strategyName,
// timestamp desc)").
func (s *PostgresStore) PositionsByStrategy(ctx context.Context, strategyName string) ([]domain.Position, error) {
	const q = `
		SELECT id, security_id, strategy_name, side, quantity, entry_price, current_price,
		       stop_loss, target, unrealized_pnl, realized_pnl, status, opened_at, closed_at, close_reason
		FROM positions WHERE strategy_name = $1 ORDER BY opened_at DESC`

	rows, err := s.db.QueryContext(ctx, q, strategyName)
	if err != nil {
		return nil, fmt.Errorf("positions by strategy: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (s *PostgresStore) positionsByStatus(ctx context.Context, status domain.PositionStatus) ([]domain.Position, error) {
	const q = `
		SELECT id, security_id, strategy_name, side, quantity, entry_price, current_price,
		       stop_loss, target, unrealized_pnl, realized_pnl, status, opened_at, closed_at, close_reason
		FROM positions WHERE status = $1 ORDER BY opened_at DESC`

	rows, err := s.db.QueryContext(ctx, q, status)
	if err != nil {
		return nil, fmt.Errorf("positions by status: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

func scanPositions(rows *sql.Rows) ([]domain.Position, error) {
	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(
			&p.ID, &p.SecurityID, &p.StrategyName, &p.Side, &p.Quantity, &p.EntryPrice, &p.CurrentPrice,
			&p.StopLoss, &p.Target, &p.UnrealizedPnL, &p.RealizedPnL, &p.Status, &p.OpenedAt, &p.ClosedAt, &p.CloseReason,
		); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// logDropped is a shared helper for callers that treat a persistence
// error as non-fatal: the error is logged; no count of dropped writes is
// kept.
func logDropped(ctx context.Context, op string, err error, fields obslog.Fields) {
	if fields == nil {
		fields = obslog.Fields{}
	}
	fields["op"] = op
	obslog.Error(ctx, "storage_write_dropped", err, fields)
}
