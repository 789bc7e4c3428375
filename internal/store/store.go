// Package store defines storage interfaces for bar series, backtest
// results, and saved strategies, with SQL (Postgres, SQLite) and Parquet
// implementations.
package store

import (
	"context"
	"time"

	"klinelab/internal/domain"
)

// BarStore persists and retrieves OHLCV+indicator bar series. Bars within
// one (symbol, interval) series are keyed and ordered by timestamp.
type BarStore interface {
	// WriteBars upserts a batch of bars.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns the ordered series for symbol/interval. A zero start
	// or end leaves that side unbounded; the window is [start, end).
	ReadBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Bar, error)

	// TimeRange returns the first and last timestamp of a series. A series
	// with no rows returns ok = false.
	TimeRange(ctx context.Context, symbol, interval string) (first, last time.Time, ok bool, err error)
}

// ResultStore persists the per-trade output of a backtest run. The table
// holds exactly one run: ReplaceTrades clears previous contents and inserts
// the new set in a single transaction, so readers never observe a
// half-replaced table.
type ResultStore interface {
	ReplaceTrades(ctx context.Context, trades []domain.Trade) error

	// ListTrades returns the persisted trades ordered by ascending entry
	// time. The cumulative-return column depends on this order.
	ListTrades(ctx context.Context) ([]domain.Trade, error)
}

// StrategyStore keeps a history of submitted backtest requests.
type StrategyStore interface {
	SaveStrategy(ctx context.Context, s *domain.Strategy) error
	ListStrategies(ctx context.Context) ([]domain.Strategy, error)
}

// Store is the combined persistence surface backing the server.
type Store interface {
	BarStore
	ResultStore
	StrategyStore
	Close() error
}
