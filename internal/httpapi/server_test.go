package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"klinelab/internal/backtest"
	"klinelab/internal/domain"
	"klinelab/internal/store"
	"klinelab/internal/util"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.SQLStore) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	log := util.NewLogger("error", "text")
	runner := backtest.NewRunner(st, st, []string{"BTC"}, []string{"1h"}, log)
	ts := httptest.NewServer(NewServer(st, runner, log).Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func seedBars(t *testing.T, st *store.SQLStore) time.Time {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bar := func(i int, o, h, l, c float64) domain.Bar {
		return domain.Bar{
			Symbol: "BTC", Interval: "1h", Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open: o, High: h, Low: l, Close: c, Volume: 1000,
		}
	}
	bars := []domain.Bar{
		bar(0, 95, 110, 90, 100),
		bar(1, 100, 105, 95, 100),
		bar(2, 100, 125, 95, 100),
		bar(3, 100.2, 105, 100, 100.4),
		bar(4, 98.5, 105, 98, 100),
	}
	if err := st.WriteBars(context.Background(), bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	return base
}

func getJSON(t *testing.T, url string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d (body %s)", url, resp.StatusCode, wantStatus, body)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("decoding %s response: %v (body %s)", url, err, body)
		}
	}
}

func postJSON(t *testing.T, url string, payload string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s: status %d, want %d (body %s)", url, resp.StatusCode, wantStatus, body)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("decoding %s response: %v (body %s)", url, err, body)
		}
	}
}

func TestOHLCV(t *testing.T) {
	ts, st := newTestServer(t)
	seedBars(t, st)

	var rows []map[string]any
	getJSON(t, ts.URL+"/ohlcv/btc/1H", http.StatusOK, &rows)
	if len(rows) != 5 {
		t.Fatalf("got %d rows, want 5", len(rows))
	}
	if rows[0]["timestamp"] != "2024-01-01 00:00:00+00:00" {
		t.Errorf("timestamp = %v", rows[0]["timestamp"])
	}
	if rows[0]["close"] != 100.0 {
		t.Errorf("close = %v, want 100", rows[0]["close"])
	}

	// Column selection; an indicator column without a value comes back null.
	rows = nil
	getJSON(t, ts.URL+"/ohlcv/BTC/1h?columns=close,rsi", http.StatusOK, &rows)
	if _, present := rows[0]["open"]; present {
		t.Error("open should not be in a close,rsi selection")
	}
	if rows[0]["rsi"] != nil {
		t.Errorf("rsi = %v, want null", rows[0]["rsi"])
	}

	getJSON(t, ts.URL+"/ohlcv/BTC/1h?columns=typo", http.StatusBadRequest, nil)
	getJSON(t, ts.URL+"/ohlcv/DOGE/1h", http.StatusBadRequest, nil)
}

func TestTimeRange(t *testing.T) {
	ts, st := newTestServer(t)

	getJSON(t, ts.URL+"/time-range?symbol=BTC&interval=1h", http.StatusNotFound, nil)
	getJSON(t, ts.URL+"/time-range?symbol=SOL&interval=1h", http.StatusBadRequest, nil)

	seedBars(t, st)
	var tr TimeRangeResponse
	getJSON(t, ts.URL+"/time-range?symbol=BTC&interval=1h", http.StatusOK, &tr)
	if tr.StartTime != "2024-01-01 00:00:00+00:00" {
		t.Errorf("start = %q", tr.StartTime)
	}
	if tr.EndTime != "2024-01-01 04:00:00+00:00" {
		t.Errorf("end = %q", tr.EndTime)
	}
}

func TestBacktestFlow(t *testing.T) {
	ts, st := newTestServer(t)
	seedBars(t, st)

	// The ratio arrives as a string; the frontend submits it from a text box.
	var resp BacktestResponse
	postJSON(t, ts.URL+"/backtest",
		`{"symbol":"btc","interval":"1h","strategy":"close > open","risk_reward_ratio":"2.0"}`,
		http.StatusOK, &resp)
	if resp.RowCount != 2 {
		t.Fatalf("row_count = %d, want 2", resp.RowCount)
	}
	if resp.RunID == "" {
		t.Error("run_id is empty")
	}
	if math.Abs(resp.FinalProfitRate-20) > 1e-9 {
		t.Errorf("final_profit_rate = %g, want 20", resp.FinalProfitRate)
	}

	var trades []TradeJSON
	getJSON(t, ts.URL+"/trades", http.StatusOK, &trades)
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(trades))
	}
	if trades[0].Result != "TP" || trades[1].Result != "OPEN" {
		t.Errorf("results = %s, %s", trades[0].Result, trades[1].Result)
	}
	if trades[0].WhatIndicators != "None" {
		t.Errorf("what_indicators = %q, want None", trades[0].WhatIndicators)
	}
	if trades[1].ExitTime != nil {
		t.Errorf("open trade exit_time = %v, want null", *trades[1].ExitTime)
	}

	var stats StatsJSON
	getJSON(t, ts.URL+"/statistics", http.StatusOK, &stats)
	// The open trade is excluded from the closed-trade statistics.
	if stats.TotalCount != 1 || stats.TPCount != 1 {
		t.Errorf("total = %d tp = %d", stats.TotalCount, stats.TPCount)
	}
	if stats.TPRate != 100 {
		t.Errorf("tp_rate = %g, want 100", stats.TPRate)
	}

	var filtered []FilteredRowJSON
	getJSON(t, ts.URL+"/filtered-ohlcv", http.StatusOK, &filtered)
	if len(filtered) != 2 {
		t.Fatalf("got %d filtered rows, want 2", len(filtered))
	}
	if filtered[0].Symbol != "BTC" || filtered[0].Interval != "1h" {
		t.Errorf("filtered row = %+v", filtered[0])
	}

	var strategies []StrategyJSON
	getJSON(t, ts.URL+"/strategies", http.StatusOK, &strategies)
	if len(strategies) != 1 {
		t.Fatalf("got %d strategies, want 1", len(strategies))
	}
	if strategies[0].Strategy != "close > open" || strategies[0].RiskReward != 2 {
		t.Errorf("saved strategy = %+v", strategies[0])
	}
}

func TestBacktestNoRowsMatched(t *testing.T) {
	ts, st := newTestServer(t)
	seedBars(t, st)

	var resp BacktestResponse
	postJSON(t, ts.URL+"/backtest",
		`{"symbol":"BTC","interval":"1h","strategy":"close > 100000","risk_reward_ratio":2}`,
		http.StatusOK, &resp)
	if resp.RowCount != 0 {
		t.Fatalf("row_count = %d, want 0", resp.RowCount)
	}
	if resp.Message == "" {
		t.Error("expected a no-rows message")
	}
}

func TestBacktestValidation(t *testing.T) {
	ts, st := newTestServer(t)
	seedBars(t, st)

	cases := []struct {
		name    string
		payload string
	}{
		{"bad condition", `{"symbol":"BTC","interval":"1h","strategy":"close >","risk_reward_ratio":2}`},
		{"unknown symbol", `{"symbol":"SOL","interval":"1h","strategy":"close > open","risk_reward_ratio":2}`},
		{"zero ratio", `{"symbol":"BTC","interval":"1h","strategy":"close > open","risk_reward_ratio":0}`},
		{"bad start time", `{"symbol":"BTC","interval":"1h","strategy":"close > open","risk_reward_ratio":2,"start_time":"01/02/2024"}`},
		{"inverted window", `{"symbol":"BTC","interval":"1h","strategy":"close > open","risk_reward_ratio":2,"start_time":"2024-01-02 00:00:00","end_time":"2024-01-01 00:00:00"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			postJSON(t, ts.URL+"/backtest", tc.payload, http.StatusBadRequest, nil)
		})
	}
}

func escape(s string) string { return url.QueryEscape(s) }

func TestFilteredCandleData(t *testing.T) {
	ts, st := newTestServer(t)
	seedBars(t, st)

	base := "2024-01-01 00:00:00+00:00"
	exit := "2024-01-01 02:00:00+00:00"

	var rows []map[string]any
	getJSON(t, ts.URL+"/filtered-candle-data?symbol=BTC&interval=1h&entry_time="+
		escape(base)+"&exit_time="+escape(exit), http.StatusOK, &rows)
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3 (entry through exit inclusive)", len(rows))
	}

	// An open trade omits exit_time and runs to the series end.
	rows = nil
	getJSON(t, ts.URL+"/filtered-candle-data?symbol=BTC&interval=1h&entry_time="+
		escape("2024-01-01 03:00:00+00:00"), http.StatusOK, &rows)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}

	getJSON(t, ts.URL+"/filtered-candle-data?symbol=BTC&interval=1h&entry_time=2024-01-01",
		http.StatusBadRequest, nil)
	getJSON(t, ts.URL+"/filtered-candle-data?symbol=BTC&interval=1h&entry_time="+
		escape(exit)+"&exit_time="+escape(base), http.StatusBadRequest, nil)
}

func TestFloatParam(t *testing.T) {
	cases := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{`2`, 2, false},
		{`2.5`, 2.5, false},
		{`"3.0"`, 3, false},
		{`"abc"`, 0, true},
	}
	for _, tc := range cases {
		var f FloatParam
		err := json.Unmarshal([]byte(tc.in), &f)
		if tc.wantErr != (err != nil) {
			t.Errorf("%s: err = %v", tc.in, err)
			continue
		}
		if !tc.wantErr && float64(f) != tc.want {
			t.Errorf("%s: got %g, want %g", tc.in, float64(f), tc.want)
		}
	}
}
