package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"klinelab/internal/domain"
	"klinelab/internal/metrics"
	"klinelab/internal/store"
)

var (
	// ErrUnknownSeries marks a symbol/interval outside the recognised set.
	ErrUnknownSeries = errors.New("unknown symbol or interval")
	// ErrInvalidTimeRange marks a window whose end precedes its start.
	ErrInvalidTimeRange = errors.New("invalid time range")
	// ErrInvalidRiskReward marks a non-positive risk/reward ratio, which
	// would collapse or invert the barrier pair.
	ErrInvalidRiskReward = errors.New("risk/reward ratio must be positive")
	// ErrPersistence marks a failed result-table replace, distinct from
	// computation errors so callers can tell a bad condition from a broken
	// store.
	ErrPersistence = errors.New("persisting backtest results")
)

// Window is an optional [Start, End) entry-selection window. A zero time
// leaves that side unbounded. The forward barrier scan is not window-bounded:
// an entry near the window edge may exit on a later bar.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

// Validate rejects a window whose end precedes its start.
func (w Window) Validate() error {
	if !w.Start.IsZero() && !w.End.IsZero() && w.End.Before(w.Start) {
		return fmt.Errorf("%w: end %s precedes start %s", ErrInvalidTimeRange,
			w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

// Request describes one backtest run.
type Request struct {
	Symbol     string
	Interval   string
	Expression string
	RiskReward float64
	Window     Window
}

// Summary is the success response of a run. RowCount is 0 when no bar
// matched the condition; that is a valid outcome, not a failure.
type Summary struct {
	RunID           string
	RowCount        int
	FinalProfitRate float64
}

// Runner executes backtests against a bar store and replaces the result
// table with each run's trades. A mutex serialises overlapping runs so the
// compute-and-replace sequence never interleaves.
type Runner struct {
	bars    store.BarStore
	results store.ResultStore
	namer   IndicatorNamer
	log     *slog.Logger

	symbols   map[string]bool
	intervals map[string]bool

	mu sync.Mutex
}

// NewRunner creates a Runner recognising the given symbol and interval sets.
func NewRunner(bars store.BarStore, results store.ResultStore, symbols, intervals []string, log *slog.Logger) *Runner {
	r := &Runner{
		bars:      bars,
		results:   results,
		namer:     ContainsNamer{},
		log:       log,
		symbols:   make(map[string]bool, len(symbols)),
		intervals: make(map[string]bool, len(intervals)),
	}
	for _, s := range symbols {
		r.symbols[s] = true
	}
	for _, iv := range intervals {
		r.intervals[iv] = true
	}
	return r
}

// KnownSeries reports whether the symbol/interval pair is recognised.
func (r *Runner) KnownSeries(symbol, interval string) bool {
	return r.symbols[symbol] && r.intervals[interval]
}

// Run validates the request, selects entries, scans each entry forward to
// its first barrier touch, composes and compounds the trade list, and
// replaces the result table. The whole computation happens in memory before
// the store is touched.
func (r *Runner) Run(ctx context.Context, req Request) (*Summary, error) {
	started := time.Now()
	sum, err := r.run(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.BacktestRuns.WithLabelValues(status).Inc()
	metrics.BacktestDuration.Observe(time.Since(started).Seconds())
	return sum, err
}

func (r *Runner) run(ctx context.Context, req Request) (*Summary, error) {
	if !r.KnownSeries(req.Symbol, req.Interval) {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownSeries, req.Symbol, req.Interval)
	}
	if req.RiskReward <= 0 {
		return nil, fmt.Errorf("%w: got %g", ErrInvalidRiskReward, req.RiskReward)
	}
	if err := req.Window.Validate(); err != nil {
		return nil, err
	}
	cond, err := CompileCondition(req.Expression)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// The scan may exit past the window end, so the full series is loaded
	// and the window applies to entry selection only.
	bars, err := r.bars.ReadBars(ctx, req.Symbol, req.Interval, time.Time{}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s bars: %w", req.Symbol, req.Interval, err)
	}

	trades := r.simulate(bars, cond, req)

	if err := r.results.ReplaceTrades(ctx, trades); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	sum := &Summary{RunID: uuid.NewString(), RowCount: len(trades)}
	if len(trades) > 0 {
		sum.FinalProfitRate = trades[len(trades)-1].CumProfitRate
	}
	r.log.Info("backtest run complete",
		"runID", sum.RunID,
		"symbol", req.Symbol,
		"interval", req.Interval,
		"strategy", req.Expression,
		"trades", sum.RowCount,
		"finalProfitRate", sum.FinalProfitRate,
	)
	return sum, nil
}

// simulate produces the trade list in ascending entry-time order. It is
// deterministic: fixed bars, condition, and ratio reproduce the output
// exactly.
func (r *Runner) simulate(bars []domain.Bar, cond *Condition, req Request) []domain.Trade {
	indicators := r.namer.UsedIndicators(req.Expression)
	entries := cond.SelectEntries(bars, req.Window)

	trades := make([]domain.Trade, 0, len(entries))
	for _, idx := range entries {
		entry := &bars[idx]
		b := BarriersFor(entry, req.RiskReward)

		var exit *domain.Bar
		if j := scanForward(bars, idx, b); j >= 0 {
			exit = &bars[j]
		}

		tr := composeTrade(entry, exit, b, req.Expression, indicators)
		if tr.Result == domain.OutcomeUnknown {
			// The scanner's search condition should make this unreachable.
			r.log.Error("exit bar touches neither barrier",
				"entryTime", tr.EntryTime, "stopLoss", b.StopLoss, "takeProfit", b.TakeProfit)
		}
		trades = append(trades, tr)
	}

	applyCumulative(trades)
	return trades
}

// Stats recomputes the statistics snapshot from the result store's current
// contents; nothing is cached from the run.
func (r *Runner) Stats(ctx context.Context) (domain.Stats, error) {
	trades, err := r.results.ListTrades(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("reading persisted trades: %w", err)
	}
	return ComputeStats(trades), nil
}
