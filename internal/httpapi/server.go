package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"klinelab/internal/backtest"
	"klinelab/internal/domain"
	"klinelab/internal/store"
)

// Layouts accepted on the query surface. Backtest windows are naive and
// interpreted as UTC; the filtered-candle endpoint requires an explicit
// offset because the frontend echoes back stored entry/exit timestamps.
const (
	naiveTime  = "2006-01-02 15:04:05"
	offsetTime = "2006-01-02 15:04:05Z07:00"
)

// Server serves the bar-series and backtest HTTP API.
type Server struct {
	store  store.Store
	runner *backtest.Runner
	log    *slog.Logger
}

// NewServer creates a Server over the given store and backtest runner.
func NewServer(st store.Store, runner *backtest.Runner, log *slog.Logger) *Server {
	return &Server{store: st, runner: runner, log: log}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ohlcv/{symbol}/{interval}", s.handleOHLCV)
	mux.HandleFunc("GET /time-range", s.handleTimeRange)
	mux.HandleFunc("POST /backtest", s.handleBacktest)
	mux.HandleFunc("GET /statistics", s.handleStatistics)
	mux.HandleFunc("GET /trades", s.handleTrades)
	mux.HandleFunc("GET /filtered-ohlcv", s.handleFilteredOHLCV)
	mux.HandleFunc("GET /filtered-candle-data", s.handleFilteredCandleData)
	mux.HandleFunc("GET /strategies", s.handleStrategies)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// normalizeSeries canonicalises a symbol/interval pair the way the frontend
// sends them: symbols upper-case, intervals lower-case.
func normalizeSeries(symbol, interval string) (string, string) {
	return strings.ToUpper(symbol), strings.ToLower(interval)
}

// sanitize converts NaN and infinities to nil so the row survives JSON
// encoding; encoding/json rejects them outright.
func sanitize(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// validColumn reports whether name is an OHLCV or indicator column.
func validColumn(name string) bool {
	for _, f := range domain.BaseFields {
		if f == name {
			return true
		}
	}
	for _, f := range domain.IndicatorFields {
		if f == name {
			return true
		}
	}
	return false
}

// barRows renders bars as timestamp-keyed rows holding the given columns.
// Absent indicator values become null.
func barRows(bars []domain.Bar, columns []string) []map[string]any {
	rows := make([]map[string]any, 0, len(bars))
	for i := range bars {
		b := &bars[i]
		row := make(map[string]any, len(columns)+1)
		row["timestamp"] = formatTime(b.Timestamp)
		for _, col := range columns {
			if v, ok := b.Field(col); ok {
				row[col] = sanitize(v)
			} else {
				row[col] = nil
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func (s *Server) handleOHLCV(w http.ResponseWriter, r *http.Request) {
	symbol, interval := normalizeSeries(r.PathValue("symbol"), r.PathValue("interval"))
	if !s.runner.KnownSeries(symbol, interval) {
		writeError(w, http.StatusBadRequest, "unknown symbol or interval")
		return
	}

	columns := domain.BaseFields
	if raw := r.URL.Query().Get("columns"); raw != "" {
		columns = nil
		for _, col := range strings.Split(raw, ",") {
			col = strings.TrimSpace(col)
			if !validColumn(col) {
				writeError(w, http.StatusBadRequest, "unknown column: "+col)
				return
			}
			columns = append(columns, col)
		}
	}

	bars, err := s.store.ReadBars(r.Context(), symbol, interval, time.Time{}, time.Time{})
	if err != nil {
		s.log.Error("reading bars", "symbol", symbol, "interval", interval, "error", err)
		writeError(w, http.StatusInternalServerError, "reading bars")
		return
	}
	writeJSON(w, barRows(bars, columns))
}

func (s *Server) handleTimeRange(w http.ResponseWriter, r *http.Request) {
	symbol, interval := normalizeSeries(r.URL.Query().Get("symbol"), r.URL.Query().Get("interval"))
	if !s.runner.KnownSeries(symbol, interval) {
		writeError(w, http.StatusBadRequest, "unknown symbol or interval")
		return
	}
	first, last, ok, err := s.store.TimeRange(r.Context(), symbol, interval)
	if err != nil {
		s.log.Error("reading time range", "symbol", symbol, "interval", interval, "error", err)
		writeError(w, http.StatusInternalServerError, "reading time range")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no data for "+symbol+"/"+interval)
		return
	}
	writeJSON(w, TimeRangeResponse{StartTime: formatTime(first), EndTime: formatTime(last)})
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	symbol, interval := normalizeSeries(req.Symbol, req.Interval)
	var window backtest.Window
	var startPtr, endPtr *time.Time
	if req.StartTime != "" {
		t, err := time.ParseInLocation(naiveTime, req.StartTime, time.UTC)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid time format")
			return
		}
		window.Start, startPtr = t, &t
	}
	if req.EndTime != "" {
		t, err := time.ParseInLocation(naiveTime, req.EndTime, time.UTC)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid time format")
			return
		}
		window.End, endPtr = t, &t
	}

	sum, err := s.runner.Run(r.Context(), backtest.Request{
		Symbol:     symbol,
		Interval:   interval,
		Expression: req.Strategy,
		RiskReward: float64(req.RiskReward),
		Window:     window,
	})
	if err != nil {
		switch {
		case errors.Is(err, backtest.ErrConditionSyntax),
			errors.Is(err, backtest.ErrUnknownSeries),
			errors.Is(err, backtest.ErrInvalidTimeRange),
			errors.Is(err, backtest.ErrInvalidRiskReward):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.log.Error("backtest run failed", "symbol", symbol, "interval", interval, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	// The submission is recorded even when no rows matched; a strategy that
	// selects nothing is still a strategy that was tried.
	if err := s.store.SaveStrategy(r.Context(), &domain.Strategy{
		Symbol:     symbol,
		Interval:   interval,
		Expression: req.Strategy,
		RiskReward: float64(req.RiskReward),
		StartTime:  startPtr,
		EndTime:    endPtr,
	}); err != nil {
		s.log.Warn("saving strategy", "error", err)
	}

	resp := BacktestResponse{
		RunID:           sum.RunID,
		RowCount:        sum.RowCount,
		FinalProfitRate: sum.FinalProfitRate,
	}
	if sum.RowCount == 0 {
		resp.Message = "no rows matched the given strategy"
	}
	writeJSON(w, resp)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.runner.Stats(r.Context())
	if err != nil {
		s.log.Error("computing statistics", "error", err)
		writeError(w, http.StatusInternalServerError, "computing statistics")
		return
	}
	writeJSON(w, toStatsJSON(stats))
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.ListTrades(r.Context())
	if err != nil {
		s.log.Error("listing trades", "error", err)
		writeError(w, http.StatusInternalServerError, "listing trades")
		return
	}
	out := make([]TradeJSON, 0, len(trades))
	for i := range trades {
		out = append(out, toTradeJSON(&trades[i]))
	}
	writeJSON(w, out)
}

func (s *Server) handleFilteredOHLCV(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.ListTrades(r.Context())
	if err != nil {
		s.log.Error("listing trades", "error", err)
		writeError(w, http.StatusInternalServerError, "listing trades")
		return
	}
	out := make([]FilteredRowJSON, 0, len(trades))
	for i := range trades {
		t := &trades[i]
		out = append(out, FilteredRowJSON{
			EntryTime: formatTime(t.EntryTime),
			ExitTime:  formatTimePtr(t.ExitTime),
			Symbol:    t.Symbol,
			Interval:  t.Interval,
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleFilteredCandleData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol, interval := normalizeSeries(q.Get("symbol"), q.Get("interval"))
	if !s.runner.KnownSeries(symbol, interval) {
		writeError(w, http.StatusBadRequest, "unknown symbol or interval")
		return
	}

	entry, err := time.Parse(offsetTime, q.Get("entry_time"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid time format")
		return
	}
	// An open trade has no exit; the window then runs to the series end.
	var exit time.Time
	if raw := q.Get("exit_time"); raw != "" {
		exit, err = time.Parse(offsetTime, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid time format")
			return
		}
		if entry.After(exit) {
			writeError(w, http.StatusBadRequest, "Entry time is ahead of Exit time")
			return
		}
		// ReadBars is half-open; nudge the end so the exit bar is included.
		exit = exit.Add(time.Millisecond)
	}

	bars, err := s.store.ReadBars(r.Context(), symbol, interval, entry, exit)
	if err != nil {
		s.log.Error("reading bars", "symbol", symbol, "interval", interval, "error", err)
		writeError(w, http.StatusInternalServerError, "reading bars")
		return
	}
	writeJSON(w, barRows(bars, domain.BaseFields))
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	strategies, err := s.store.ListStrategies(r.Context())
	if err != nil {
		s.log.Error("listing strategies", "error", err)
		writeError(w, http.StatusInternalServerError, "listing strategies")
		return
	}
	out := make([]StrategyJSON, 0, len(strategies))
	for i := range strategies {
		st := &strategies[i]
		out = append(out, StrategyJSON{
			ID:         st.ID,
			Symbol:     st.Symbol,
			Interval:   st.Interval,
			Strategy:   st.Expression,
			RiskReward: st.RiskReward,
			StartTime:  formatTimePtr(st.StartTime),
			EndTime:    formatTimePtr(st.EndTime),
			CreatedAt:  formatTime(st.CreatedAt),
		})
	}
	writeJSON(w, out)
}
