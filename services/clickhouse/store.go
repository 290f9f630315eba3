package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"backtest-service/services/engine"
)

// Store persists completed runs so result history survives restarts and
// can be queried alongside the market data already in ClickHouse.
type Store struct {
	conn driver.Conn
	log  *zap.Logger
}

// Options is the connection configuration for the result store.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
}

func NewStore(opts Options, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	return &Store{conn: conn, log: log}, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS backtest_runs (
		run_id          String,
		symbol          String,
		status          String,
		start_date      DateTime,
		end_date        DateTime,
		initial_capital Float64,
		final_capital   Float64,
		total_return    Float64,
		max_drawdown    Float64,
		sharpe_ratio    Float64,
		win_rate        Float64,
		total_trades    UInt32,
		skipped_entries UInt32,
		created_at      DateTime DEFAULT now()
	) ENGINE = MergeTree()
	ORDER BY (symbol, run_id)`,

	`CREATE TABLE IF NOT EXISTS backtest_equity (
		run_id         String,
		date           DateTime,
		cash           Float64,
		position_value Float64,
		total_equity   Float64
	) ENGINE = MergeTree()
	ORDER BY (run_id, date)`,

	`CREATE TABLE IF NOT EXISTS backtest_trades (
		run_id       String,
		symbol       String,
		entry_date   DateTime,
		exit_date    DateTime,
		entry_price  Float64,
		exit_price   Float64,
		quantity     Int64,
		commission   Float64,
		tax          Float64,
		realized_pnl Float64,
		profit_rate  Float64,
		holding_days Int32,
		exit_reason  String
	) ENGINE = MergeTree()
	ORDER BY (run_id, exit_date)`,
}

// EnsureSchema creates the result tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schema {
		if err := s.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// SaveResult writes one run, its equity curve, and its trades.
func (s *Store) SaveResult(ctx context.Context, res *engine.BacktestResult) error {
	if err := s.insertRun(ctx, res); err != nil {
		return err
	}
	if err := s.insertEquity(ctx, res); err != nil {
		return err
	}
	if err := s.insertTrades(ctx, res); err != nil {
		return err
	}
	s.log.Info("result persisted",
		zap.String("run_id", res.RunID),
		zap.String("symbol", res.Symbol),
		zap.Int("equity_points", len(res.EquityCurve)),
		zap.Int("trades", len(res.Trades)),
	)
	return nil
}

func (s *Store) insertRun(ctx context.Context, res *engine.BacktestResult) error {
	query := `
		INSERT INTO backtest_runs (
			run_id, symbol, status, start_date, end_date,
			initial_capital, final_capital, total_return, max_drawdown,
			sharpe_ratio, win_rate, total_trades, skipped_entries
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err := s.conn.Exec(ctx, query,
		res.RunID,
		res.Symbol,
		res.Status,
		res.StartDate,
		res.EndDate,
		res.InitialCapital.InexactFloat64(),
		res.FinalCapital.InexactFloat64(),
		res.Metrics.TotalReturn,
		res.Metrics.MaxDrawdown,
		res.Metrics.SharpeRatio,
		res.Metrics.WinRate,
		uint32(res.Metrics.TotalTrades),
		uint32(res.SkippedEntries),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *Store) insertEquity(ctx context.Context, res *engine.BacktestResult) error {
	if len(res.EquityCurve) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO backtest_equity (run_id, date, cash, position_value, total_equity)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare equity batch: %w", err)
	}
	for _, p := range res.EquityCurve {
		err := batch.Append(
			res.RunID,
			p.Date,
			p.Cash.InexactFloat64(),
			p.PositionValue.InexactFloat64(),
			p.TotalEquity.InexactFloat64(),
		)
		if err != nil {
			return fmt.Errorf("append equity point: %w", err)
		}
	}
	return batch.Send()
}

func (s *Store) insertTrades(ctx context.Context, res *engine.BacktestResult) error {
	if len(res.Trades) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO backtest_trades (
			run_id, symbol, entry_date, exit_date, entry_price, exit_price,
			quantity, commission, tax, realized_pnl, profit_rate, holding_days, exit_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare trade batch: %w", err)
	}
	for _, t := range res.Trades {
		err := batch.Append(
			res.RunID,
			t.Symbol,
			t.EntryDate,
			t.ExitDate,
			t.EntryPrice.InexactFloat64(),
			t.ExitPrice.InexactFloat64(),
			t.Quantity,
			t.Commission.InexactFloat64(),
			t.Tax.InexactFloat64(),
			t.RealizedPnl.InexactFloat64(),
			t.ProfitRate,
			int32(t.HoldingDays),
			string(t.ExitReason),
		)
		if err != nil {
			return fmt.Errorf("append trade: %w", err)
		}
	}
	return batch.Send()
}

// RunSummary is one persisted run row.
type RunSummary struct {
	RunID       string
	Symbol      string
	Status      string
	TotalReturn float64
	MaxDrawdown float64
	WinRate     float64
	TotalTrades uint32
	CreatedAt   time.Time
}

// RecentRuns returns the latest persisted runs for a symbol, newest first.
func (s *Store) RecentRuns(ctx context.Context, symbol string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.Query(ctx, `
		SELECT run_id, symbol, status, total_return, max_drawdown, win_rate, total_trades, created_at
		FROM backtest_runs
		WHERE symbol = ?
		ORDER BY created_at DESC
		LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Symbol, &r.Status, &r.TotalReturn,
			&r.MaxDrawdown, &r.WinRate, &r.TotalTrades, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
