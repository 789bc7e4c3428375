// Package metrics exposes Prometheus collectors for the backtest engine and
// storage layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BacktestRuns counts completed backtest runs by outcome ("ok"/"error").
	BacktestRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klinelab_backtest_runs_total",
			Help: "Total number of backtest runs",
		},
		[]string{"status"},
	)

	// BacktestDuration tracks wall time of a full compute-and-replace run.
	BacktestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "klinelab_backtest_duration_seconds",
			Help:    "Backtest run duration",
			Buckets: prometheus.DefBuckets,
		},
	)

	// TradesPersisted records the size of the last persisted trade set.
	TradesPersisted = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "klinelab_trades_persisted",
			Help: "Row count of the current backtest result table",
		},
	)

	// StoreQueryDuration tracks storage operation latency by operation name.
	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "klinelab_store_query_duration_seconds",
			Help:    "Storage query duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)
