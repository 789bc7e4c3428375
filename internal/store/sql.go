package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"klinelab/internal/domain"
	"klinelab/internal/metrics"
)

// dialect abstracts the differences between the SQL backends: DDL, bind
// placeholders, and how timestamps are stored (TIMESTAMPTZ columns on
// Postgres, Unix milliseconds on SQLite).
type dialect interface {
	name() string
	ddl() []string
	// rebind rewrites ? placeholders into the driver's syntax.
	rebind(query string) string
	// bindTime converts a timestamp into a driver-bindable value.
	bindTime(t time.Time) any
}

// Compile-time interface check.
var _ Store = (*SQLStore)(nil)

// SQLStore implements Store on top of database/sql with a backend dialect.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	for _, stmt := range d.ddl() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating %s schema: %w", d.name(), err)
		}
	}
	return &SQLStore{db: db, d: d}, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// barColumns is the full bar column list in insert/select order: the three
// key columns, OHLCV, then the indicator vocabulary.
func barColumns() []string {
	cols := []string{"symbol", "interval", "timestamp", "open", "high", "low", "close", "volume"}
	return append(cols, domain.IndicatorFields...)
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars upserts bars keyed by (symbol, interval, timestamp).
func (s *SQLStore) WriteBars(ctx context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	defer observe("write_bars")()

	cols := barColumns()
	var updates []string
	for _, c := range cols[3:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	query := s.d.rebind(fmt.Sprintf(
		"INSERT INTO bars (%s) VALUES (%s) ON CONFLICT (symbol, interval, timestamp) DO UPDATE SET %s",
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		strings.Join(updates, ", "),
	))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range bars {
		b := &bars[i]
		args := []any{
			b.Symbol, b.Interval, s.d.bindTime(b.Timestamp),
			b.Open, b.High, b.Low, b.Close, b.Volume,
		}
		for _, name := range domain.IndicatorFields {
			if v, ok := b.Field(name); ok {
				args = append(args, v)
			} else {
				args = append(args, nil)
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting bar %s/%s@%s: %w", b.Symbol, b.Interval, b.Timestamp, err)
		}
	}
	return tx.Commit()
}

// ReadBars returns the ordered series for symbol/interval within [start, end).
func (s *SQLStore) ReadBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Bar, error) {
	defer observe("read_bars")()

	query := fmt.Sprintf("SELECT %s FROM bars WHERE symbol = ? AND interval = ?", strings.Join(barColumns(), ", "))
	args := []any{symbol, interval}
	if !start.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, s.d.bindTime(start))
	}
	if !end.IsZero() {
		query += " AND timestamp < ?"
		args = append(args, s.d.bindTime(end))
	}
	query += " ORDER BY timestamp"

	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var b domain.Bar
		var ts scanTime
		indicators := make([]sql.NullFloat64, len(domain.IndicatorFields))

		dest := []any{&b.Symbol, &b.Interval, &ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume}
		for i := range indicators {
			dest = append(dest, &indicators[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		b.Timestamp = ts.Time
		for i, name := range domain.IndicatorFields {
			if indicators[i].Valid {
				b.SetIndicator(name, indicators[i].Float64)
			}
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// TimeRange returns the first and last timestamp of a series.
func (s *SQLStore) TimeRange(ctx context.Context, symbol, interval string) (time.Time, time.Time, bool, error) {
	query := s.d.rebind("SELECT MIN(timestamp), MAX(timestamp) FROM bars WHERE symbol = ? AND interval = ?")

	var first, last scanTime
	if err := s.db.QueryRowContext(ctx, query, symbol, interval).Scan(&first, &last); err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if !first.Valid || !last.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	return first.Time, last.Time, true, nil
}

// ---------------------------------------------------------------------------
// ResultStore implementation
// ---------------------------------------------------------------------------

// ReplaceTrades clears the result table and inserts the new trade set inside
// one transaction, so a concurrent reader sees either the old or the new
// run, never a mix.
func (s *SQLStore) ReplaceTrades(ctx context.Context, trades []domain.Trade) error {
	defer observe("replace_trades")()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM trades"); err != nil {
		tx.Rollback()
		return err
	}

	query := s.d.rebind(`INSERT INTO trades
		(entry_time, entry_price, stop_loss, take_profit, exit_time, result,
		 symbol, interval, strategy, what_indicators, profit_rate, cum_profit_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range trades {
		t := &trades[i]
		var exit any
		if t.ExitTime != nil {
			exit = s.d.bindTime(*t.ExitTime)
		}
		_, err := stmt.ExecContext(ctx,
			s.d.bindTime(t.EntryTime), t.EntryPrice, t.StopLoss, t.TakeProfit,
			exit, string(t.Result), t.Symbol, t.Interval, t.Strategy,
			t.Indicators, t.ProfitRate, t.CumProfitRate,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting trade @%s: %w", t.EntryTime, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	metrics.TradesPersisted.Set(float64(len(trades)))
	return nil
}

// ListTrades returns the persisted trades in ascending entry-time order.
// The explicit ORDER BY keeps the cumulative column meaningful regardless of
// physical row order.
func (s *SQLStore) ListTrades(ctx context.Context) ([]domain.Trade, error) {
	defer observe("list_trades")()

	query := `SELECT entry_time, entry_price, stop_loss, take_profit, exit_time, result,
		symbol, interval, strategy, what_indicators, profit_rate, cum_profit_rate
		FROM trades ORDER BY entry_time`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var entry, exit scanTime
		var result string
		err := rows.Scan(&entry, &t.EntryPrice, &t.StopLoss, &t.TakeProfit, &exit, &result,
			&t.Symbol, &t.Interval, &t.Strategy, &t.Indicators, &t.ProfitRate, &t.CumProfitRate)
		if err != nil {
			return nil, err
		}
		t.EntryTime = entry.Time
		if exit.Valid {
			et := exit.Time
			t.ExitTime = &et
		}
		t.Result = domain.Outcome(result)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ---------------------------------------------------------------------------
// StrategyStore implementation
// ---------------------------------------------------------------------------

// SaveStrategy appends a submitted backtest request to the strategy history.
func (s *SQLStore) SaveStrategy(ctx context.Context, st *domain.Strategy) error {
	var start, end any
	if st.StartTime != nil {
		start = s.d.bindTime(*st.StartTime)
	}
	if st.EndTime != nil {
		end = s.d.bindTime(*st.EndTime)
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}

	query := s.d.rebind(`INSERT INTO strategies
		(symbol, interval, strategy, risk_reward_ratio, start_time, end_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		st.Symbol, st.Interval, st.Expression, st.RiskReward, start, end, s.d.bindTime(st.CreatedAt))
	return err
}

// ListStrategies returns saved strategies, newest first.
func (s *SQLStore) ListStrategies(ctx context.Context) ([]domain.Strategy, error) {
	query := `SELECT id, symbol, interval, strategy, risk_reward_ratio, start_time, end_time, created_at
		FROM strategies ORDER BY id DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Strategy
	for rows.Next() {
		var st domain.Strategy
		var start, end, created scanTime
		err := rows.Scan(&st.ID, &st.Symbol, &st.Interval, &st.Expression, &st.RiskReward, &start, &end, &created)
		if err != nil {
			return nil, err
		}
		if start.Valid {
			t := start.Time
			st.StartTime = &t
		}
		if end.Valid {
			t := end.Time
			st.EndTime = &t
		}
		st.CreatedAt = created.Time
		out = append(out, st)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// scanTime scans a nullable timestamp from either backend: time.Time from
// Postgres TIMESTAMPTZ, int64 Unix milliseconds from SQLite.
type scanTime struct {
	Time  time.Time
	Valid bool
}

func (s *scanTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		s.Valid = false
		return nil
	case time.Time:
		s.Time = x.UTC()
	case int64:
		s.Time = time.UnixMilli(x).UTC()
	default:
		return fmt.Errorf("unsupported timestamp type %T", v)
	}
	s.Valid = true
	return nil
}

func observe(operation string) func() {
	started := time.Now()
	return func() {
		metrics.StoreQueryDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	}
}
