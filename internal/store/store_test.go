package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"klinelab/internal/domain"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testBars(n int) []domain.Bar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, 0, n)
	for i := 0; i < n; i++ {
		b := domain.Bar{
			Symbol:    "BTC",
			Interval:  "4h",
			Timestamp: base.Add(time.Duration(i) * 4 * time.Hour),
			Open:      100 + float64(i),
			High:      110 + float64(i),
			Low:       95 + float64(i),
			Close:     105 + float64(i),
			Volume:    1000,
		}
		if i >= 2 {
			b.SetIndicator("rsi", 50+float64(i))
		}
		bars = append(bars, b)
	}
	return bars
}

func TestWriteReadBars(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.WriteBars(ctx, testBars(5)); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	bars, err := s.ReadBars(ctx, "BTC", "4h", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(bars) != 5 {
		t.Fatalf("got %d bars, want 5", len(bars))
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			t.Fatal("bars not in ascending timestamp order")
		}
	}

	// Indicator null round trip: absent on warmup bars, present later.
	if _, ok := bars[0].Field("rsi"); ok {
		t.Error("bar 0 should have no rsi value")
	}
	if v, ok := bars[4].Field("rsi"); !ok || v != 54 {
		t.Errorf("bar 4 rsi = (%v, %v), want (54, true)", v, ok)
	}

	// Unknown series reads empty, not an error.
	other, err := s.ReadBars(ctx, "ETH", "1h", time.Time{}, time.Time{})
	if err != nil || len(other) != 0 {
		t.Errorf("ReadBars(ETH/1h) = (%d bars, %v), want (0, nil)", len(other), err)
	}
}

func TestWriteBarsUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bars := testBars(3)
	if err := s.WriteBars(ctx, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	bars[1].Close = 999
	if err := s.WriteBars(ctx, bars); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	got, err := s.ReadBars(ctx, "BTC", "4h", time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d bars after upsert, want 3", len(got))
	}
	if got[1].Close != 999 {
		t.Errorf("bar 1 close = %v after upsert, want 999", got[1].Close)
	}
}

func TestReadBarsWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	bars := testBars(6)
	if err := s.WriteBars(ctx, bars); err != nil {
		t.Fatal(err)
	}

	// [start, end): the bar at end is excluded.
	got, err := s.ReadBars(ctx, "BTC", "4h", bars[1].Timestamp, bars[4].Timestamp)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("windowed read returned %d bars, want 3", len(got))
	}
	if !got[0].Timestamp.Equal(bars[1].Timestamp) || !got[2].Timestamp.Equal(bars[3].Timestamp) {
		t.Error("window boundaries wrong")
	}
}

func TestTimeRange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, _, ok, err := s.TimeRange(ctx, "BTC", "4h"); err != nil || ok {
		t.Fatalf("TimeRange on empty series = (ok=%v, err=%v), want (false, nil)", ok, err)
	}

	bars := testBars(4)
	if err := s.WriteBars(ctx, bars); err != nil {
		t.Fatal(err)
	}
	first, last, ok, err := s.TimeRange(ctx, "BTC", "4h")
	if err != nil || !ok {
		t.Fatalf("TimeRange = (ok=%v, err=%v)", ok, err)
	}
	if !first.Equal(bars[0].Timestamp) || !last.Equal(bars[3].Timestamp) {
		t.Errorf("TimeRange = [%s, %s], want [%s, %s]", first, last, bars[0].Timestamp, bars[3].Timestamp)
	}
}

func TestReplaceTrades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entry := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	exit := entry.Add(8 * time.Hour)
	first := []domain.Trade{
		{
			EntryTime: entry, EntryPrice: 100, StopLoss: 95, TakeProfit: 110,
			ExitTime: &exit, Result: domain.OutcomeTP,
			Symbol: "BTC", Interval: "4h", Strategy: "rsi > 70", Indicators: "rsi",
			ProfitRate: 10, CumProfitRate: 10,
		},
		{
			EntryTime: entry.Add(24 * time.Hour), EntryPrice: 100, StopLoss: 95, TakeProfit: 110,
			Result: domain.OutcomeOpen,
			Symbol: "BTC", Interval: "4h", Strategy: "rsi > 70", Indicators: "rsi",
		},
	}
	if err := s.ReplaceTrades(ctx, first); err != nil {
		t.Fatalf("ReplaceTrades: %v", err)
	}

	got, err := s.ListTrades(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d trades, want 2", len(got))
	}
	if got[0].Result != domain.OutcomeTP || got[0].ExitTime == nil || !got[0].ExitTime.Equal(exit) {
		t.Errorf("trade 0 = %+v, want TP with exit %s", got[0], exit)
	}
	if got[1].Result != domain.OutcomeOpen || got[1].ExitTime != nil {
		t.Errorf("trade 1 = %+v, want OPEN with nil exit", got[1])
	}

	// Replace wholesale: the previous run's rows are gone.
	second := []domain.Trade{{
		EntryTime: entry.Add(48 * time.Hour), EntryPrice: 200, StopLoss: 190, TakeProfit: 220,
		Result: domain.OutcomeOpen, Symbol: "ETH", Interval: "1h", Strategy: "close > open", Indicators: "None",
	}}
	if err := s.ReplaceTrades(ctx, second); err != nil {
		t.Fatal(err)
	}
	got, err = s.ListTrades(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Symbol != "ETH" {
		t.Errorf("after replace got %d trades (first %v), want the single ETH trade", len(got), got)
	}

	// Replacing with an empty run clears the table.
	if err := s.ReplaceTrades(ctx, nil); err != nil {
		t.Fatal(err)
	}
	got, err = s.ListTrades(ctx)
	if err != nil || len(got) != 0 {
		t.Errorf("after empty replace got (%d, %v), want (0, nil)", len(got), err)
	}
}

func TestStrategyHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.SaveStrategy(ctx, &domain.Strategy{
		Symbol: "BTC", Interval: "4h", Expression: "rsi > 70", RiskReward: 2, StartTime: &start,
	}); err != nil {
		t.Fatalf("SaveStrategy: %v", err)
	}
	if err := s.SaveStrategy(ctx, &domain.Strategy{
		Symbol: "ETH", Interval: "1h", Expression: "close > ema_25", RiskReward: 1.5,
	}); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListStrategies(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d strategies, want 2", len(got))
	}
	// Newest first.
	if got[0].Symbol != "ETH" || got[1].Symbol != "BTC" {
		t.Errorf("strategy order = [%s, %s], want [ETH, BTC]", got[0].Symbol, got[1].Symbol)
	}
	if got[1].StartTime == nil || !got[1].StartTime.Equal(start) {
		t.Errorf("BTC strategy start = %v, want %s", got[1].StartTime, start)
	}
	if got[0].StartTime != nil {
		t.Errorf("ETH strategy start = %v, want nil", got[0].StartTime)
	}
}

func TestParquetBarRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "btc_4h.parquet")
	bars := testBars(4)

	if err := WriteBarFile(path, bars); err != nil {
		t.Fatalf("WriteBarFile: %v", err)
	}
	got, err := ReadBarFile(path)
	if err != nil {
		t.Fatalf("ReadBarFile: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d bars, want 4", len(got))
	}
	if !got[0].Timestamp.Equal(bars[0].Timestamp) || got[3].Close != bars[3].Close {
		t.Error("bar values changed across parquet round trip")
	}
	if _, ok := got[0].Field("rsi"); ok {
		t.Error("absent indicator became present across round trip")
	}
	if v, ok := got[3].Field("rsi"); !ok || v != 53 {
		t.Errorf("bar 3 rsi = (%v, %v), want (53, true)", v, ok)
	}

	// Merge on rewrite: overlapping timestamps are deduplicated.
	if err := WriteBarFile(path, bars[2:]); err != nil {
		t.Fatal(err)
	}
	got, err = ReadBarFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Errorf("after merge got %d bars, want 4", len(got))
	}
}

func TestExportTrades(t *testing.T) {
	dir := t.TempDir()
	entry := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	exit := entry.Add(4 * time.Hour)
	trades := []domain.Trade{
		{
			EntryTime: entry, EntryPrice: 100, StopLoss: 95, TakeProfit: 110,
			ExitTime: &exit, Result: domain.OutcomeTP, Symbol: "BTC", Interval: "4h",
			Strategy: "rsi > 70", Indicators: "rsi", ProfitRate: 10, CumProfitRate: 10,
		},
		{
			EntryTime: exit, EntryPrice: 110, StopLoss: 105, TakeProfit: 120,
			Result: domain.OutcomeOpen, Symbol: "BTC", Interval: "4h",
			Strategy: "rsi > 70", Indicators: "rsi", CumProfitRate: 10,
		},
	}

	path, err := ExportTrades(dir, trades)
	if err != nil {
		t.Fatalf("ExportTrades: %v", err)
	}
	want := filepath.Join(dir, "results", "btc_4h.parquet")
	if path != want {
		t.Errorf("export path = %s, want %s", path, want)
	}
	records, err := readParquetFile[TradeRecord](path)
	if err != nil || len(records) != 2 {
		t.Fatalf("read back = (%d, %v), want 2 records", len(records), err)
	}
	if records[0].ExitTime == nil || *records[0].ExitTime != exit.UnixMilli() {
		t.Errorf("closed exit_time = %v, want %d", records[0].ExitTime, exit.UnixMilli())
	}
	if records[1].Result != "OPEN" || records[1].ExitTime != nil {
		t.Errorf("exported record = %+v, want OPEN with nil exit", records[1])
	}
}
