package gather

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"golang.org/x/time/rate"

	"klinelab/internal/domain"
	"klinelab/internal/store"
	"klinelab/internal/util"
)

// Compile-time interface check.
var _ Gatherer = (*CryptoBarGatherer)(nil)

// CryptoBarGatherer pulls crypto OHLCV bars from the Alpaca market-data API
// for every configured (symbol, interval) series and writes them, enriched,
// to the bar store. Fetches resume from the last stored timestamp.
type CryptoBarGatherer struct {
	client    *marketdata.Client
	store     store.BarStore
	symbols   []string
	intervals []string
	start     time.Time
	limiter   *rate.Limiter
	log       *slog.Logger
}

// NewCryptoBarGatherer creates a gatherer for the given series set. start is
// the history floor used when a series is empty.
func NewCryptoBarGatherer(apiKey, apiSecret, dataURL string, s store.BarStore, symbols, intervals []string, start time.Time) *CryptoBarGatherer {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}

	return &CryptoBarGatherer{
		client:    marketdata.NewClient(opts),
		store:     s,
		symbols:   symbols,
		intervals: intervals,
		start:     start,
		// The free data tier allows 200 requests/min; stay under it.
		limiter: rate.NewLimiter(rate.Limit(3), 1),
		log:     slog.Default().With("gatherer", "crypto-bars"),
	}
}

// Name returns the gatherer identifier.
func (g *CryptoBarGatherer) Name() string { return "crypto-bars" }

// Run fetches every configured series once and returns.
func (g *CryptoBarGatherer) Run(ctx context.Context) error {
	for _, symbol := range g.symbols {
		for _, interval := range g.intervals {
			if err := g.fetchSeries(ctx, symbol, interval); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *CryptoBarGatherer) fetchSeries(ctx context.Context, symbol, interval string) error {
	tf, err := timeFrame(interval)
	if err != nil {
		return err
	}

	start := g.start
	if _, last, ok, err := g.store.TimeRange(ctx, symbol, interval); err != nil {
		return err
	} else if ok {
		// Refetch the last stored bar in case it was still forming.
		start = last
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	var raw []marketdata.CryptoBar
	pair := symbol + "/USD"
	err = util.Retry(ctx, 4, time.Second, func() error {
		var reqErr error
		raw, reqErr = g.client.GetCryptoBars(pair, marketdata.GetCryptoBarsRequest{
			TimeFrame: tf,
			Start:     start,
			End:       time.Now().UTC(),
		})
		return reqErr
	})
	if err != nil {
		return fmt.Errorf("fetching %s %s bars: %w", pair, interval, err)
	}

	bars := make([]domain.Bar, 0, len(raw))
	for i := range raw {
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Interval:  interval,
			Timestamp: raw[i].Timestamp.UTC(),
			Open:      raw[i].Open,
			High:      raw[i].High,
			Low:       raw[i].Low,
			Close:     raw[i].Close,
			Volume:    raw[i].Volume,
		})
	}

	n, err := writeEnriched(ctx, g.store, symbol, interval, bars)
	if err != nil {
		return err
	}
	g.log.Info("series fetched", "symbol", symbol, "interval", interval, "bars", n, "from", start)
	return nil
}

// timeFrame maps an interval name onto an Alpaca bar timeframe.
func timeFrame(interval string) (marketdata.TimeFrame, error) {
	switch interval {
	case "1h":
		return marketdata.NewTimeFrame(1, marketdata.Hour), nil
	case "4h":
		return marketdata.NewTimeFrame(4, marketdata.Hour), nil
	case "1d":
		return marketdata.OneDay, nil
	default:
		return marketdata.TimeFrame{}, fmt.Errorf("unsupported interval %q", interval)
	}
}
