// Package gather ingests bar series into the store: from the Alpaca crypto
// market-data API or from local parquet/CSV files. Indicator columns are
// recomputed over the full series after every ingest so warmup windows stay
// correct across incremental fetches.
package gather

import (
	"context"
	"fmt"
	"time"

	"klinelab/internal/domain"
	"klinelab/internal/indicator"
	"klinelab/internal/store"
)

// Gatherer is the interface for all data ingestion processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run ingests data until done or ctx is cancelled.
	Run(ctx context.Context) error
}

// writeEnriched merges new bars into the stored series for one
// (symbol, interval) and recomputes every indicator column over the full
// series. Incremental fetches would otherwise leave the first bars after the
// previous tail without lookback history.
func writeEnriched(ctx context.Context, s store.BarStore, symbol, interval string, incoming []domain.Bar) (int, error) {
	if len(incoming) == 0 {
		return 0, nil
	}
	if err := s.WriteBars(ctx, incoming); err != nil {
		return 0, fmt.Errorf("writing %s/%s bars: %w", symbol, interval, err)
	}

	full, err := s.ReadBars(ctx, symbol, interval, time.Time{}, time.Time{})
	if err != nil {
		return 0, fmt.Errorf("re-reading %s/%s series: %w", symbol, interval, err)
	}
	indicator.Enrich(full)
	if err := s.WriteBars(ctx, full); err != nil {
		return 0, fmt.Errorf("writing enriched %s/%s series: %w", symbol, interval, err)
	}
	return len(incoming), nil
}
