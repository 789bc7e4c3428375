package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"klinelab/internal/domain"
)

// BarRecord is the Parquet schema for OHLCV bars with optional indicator
// columns. It is the interchange format for file ingestion and archival.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Interval  string  `parquet:"interval"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`

	RSI        *float64 `parquet:"rsi,optional"`
	RSISignal  *float64 `parquet:"rsi_signal,optional"`
	EMA7       *float64 `parquet:"ema_7,optional"`
	EMA25      *float64 `parquet:"ema_25,optional"`
	EMA99      *float64 `parquet:"ema_99,optional"`
	MACD       *float64 `parquet:"macd,optional"`
	MACDSignal *float64 `parquet:"macd_signal,optional"`
	BollMA     *float64 `parquet:"boll_ma,optional"`
	BollUpper  *float64 `parquet:"boll_upper,optional"`
	BollLower  *float64 `parquet:"boll_lower,optional"`
	VolumeMA20 *float64 `parquet:"volume_ma_20,optional"`
}

// TradeRecord is the Parquet schema for exported backtest results.
type TradeRecord struct {
	EntryTime      int64   `parquet:"entry_time,timestamp(millisecond)"`
	EntryPrice     float64 `parquet:"entry_price"`
	StopLoss       float64 `parquet:"stop_loss"`
	TakeProfit     float64 `parquet:"take_profit"`
	// Unix milliseconds; the timestamp tag only applies to non-pointer
	// int64, so the optional column stays a raw integer.
	ExitTime       *int64  `parquet:"exit_time,optional"`
	Result         string  `parquet:"result"`
	Symbol         string  `parquet:"symbol"`
	Interval       string  `parquet:"interval"`
	Strategy       string  `parquet:"strategy"`
	WhatIndicators string  `parquet:"what_indicators"`
	ProfitRate     float64 `parquet:"profit_rate"`
	CumProfitRate  float64 `parquet:"cum_profit_rate"`
}

// ReadBarFile loads a bar series from a Parquet file.
func ReadBarFile(path string) ([]domain.Bar, error) {
	records, err := readParquetFile[BarRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	bars := make([]domain.Bar, 0, len(records))
	for i := range records {
		bars = append(bars, records[i].toBar())
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// WriteBarFile archives a bar series to a Parquet file, merging with any
// existing records at the path (new bars win on key collision).
func WriteBarFile(path string, bars []domain.Bar) error {
	incoming := make([]BarRecord, 0, len(bars))
	for i := range bars {
		incoming = append(incoming, toBarRecord(&bars[i]))
	}

	existing, _ := readParquetFile[BarRecord](path)
	return writeParquetFile(path, mergeBarRecords(existing, incoming))
}

// ExportTrades writes the trade set of a run to a Parquet file at
// <dataDir>/results/<symbol>_<interval>.parquet.
func ExportTrades(dataDir string, trades []domain.Trade) (string, error) {
	if len(trades) == 0 {
		return "", fmt.Errorf("no trades to export")
	}

	records := make([]TradeRecord, 0, len(trades))
	for i := range trades {
		t := &trades[i]
		r := TradeRecord{
			EntryTime:      t.EntryTime.UnixMilli(),
			EntryPrice:     t.EntryPrice,
			StopLoss:       t.StopLoss,
			TakeProfit:     t.TakeProfit,
			Result:         string(t.Result),
			Symbol:         t.Symbol,
			Interval:       t.Interval,
			Strategy:       t.Strategy,
			WhatIndicators: t.Indicators,
			ProfitRate:     t.ProfitRate,
			CumProfitRate:  t.CumProfitRate,
		}
		if t.ExitTime != nil {
			ms := t.ExitTime.UnixMilli()
			r.ExitTime = &ms
		}
		records = append(records, r)
	}

	name := fmt.Sprintf("%s_%s.parquet", strings.ToLower(trades[0].Symbol), strings.ToLower(trades[0].Interval))
	path := filepath.Join(dataDir, "results", name)
	if err := writeParquetFile(path, records); err != nil {
		return "", err
	}
	return path, nil
}

func (r *BarRecord) toBar() domain.Bar {
	b := domain.Bar{
		Symbol:    r.Symbol,
		Interval:  r.Interval,
		Timestamp: time.UnixMilli(r.Timestamp).UTC(),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
	}
	for name, p := range map[string]*float64{
		"rsi": r.RSI, "rsi_signal": r.RSISignal,
		"ema_7": r.EMA7, "ema_25": r.EMA25, "ema_99": r.EMA99,
		"macd": r.MACD, "macd_signal": r.MACDSignal,
		"boll_ma": r.BollMA, "boll_upper": r.BollUpper, "boll_lower": r.BollLower,
		"volume_ma_20": r.VolumeMA20,
	} {
		if p != nil {
			b.SetIndicator(name, *p)
		}
	}
	return b
}

func toBarRecord(b *domain.Bar) BarRecord {
	r := BarRecord{
		Symbol:    b.Symbol,
		Interval:  b.Interval,
		Timestamp: b.Timestamp.UnixMilli(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	}
	for name, p := range map[string]**float64{
		"rsi": &r.RSI, "rsi_signal": &r.RSISignal,
		"ema_7": &r.EMA7, "ema_25": &r.EMA25, "ema_99": &r.EMA99,
		"macd": &r.MACD, "macd_signal": &r.MACDSignal,
		"boll_ma": &r.BollMA, "boll_upper": &r.BollUpper, "boll_lower": &r.BollLower,
		"volume_ma_20": &r.VolumeMA20,
	} {
		if v, ok := b.Field(name); ok {
			val := v
			*p = &val
		}
	}
	return r
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (symbol, interval, timestamp),
// preferring incoming records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol   string
		interval string
		ts       int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Interval, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Interval, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
