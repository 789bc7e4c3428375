package gather

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"klinelab/internal/domain"
	"klinelab/internal/store"
)

// Compile-time interface check.
var _ Gatherer = (*FileGatherer)(nil)

// FileGatherer loads one bar series from a local parquet or CSV file into
// the store. CSV files need a header with at least
// timestamp,open,high,low,close,volume; parquet files use the BarRecord
// schema. The symbol and interval of the series are given explicitly and
// override whatever the file carries.
type FileGatherer struct {
	store    store.BarStore
	path     string
	symbol   string
	interval string
	log      *slog.Logger
}

// NewFileGatherer creates a gatherer for a single file.
func NewFileGatherer(s store.BarStore, path, symbol, interval string) *FileGatherer {
	return &FileGatherer{
		store:    s,
		path:     path,
		symbol:   symbol,
		interval: interval,
		log:      slog.Default().With("gatherer", "file"),
	}
}

// Name returns the gatherer identifier.
func (g *FileGatherer) Name() string { return "file" }

// Run loads the file, stamps the series identity, and writes the enriched
// series to the store.
func (g *FileGatherer) Run(ctx context.Context) error {
	var bars []domain.Bar
	var err error

	switch strings.ToLower(filepath.Ext(g.path)) {
	case ".parquet":
		bars, err = store.ReadBarFile(g.path)
	case ".csv":
		bars, err = readCSVBars(g.path)
	default:
		return fmt.Errorf("unsupported file type %q (want .parquet or .csv)", filepath.Ext(g.path))
	}
	if err != nil {
		return err
	}

	for i := range bars {
		bars[i].Symbol = g.symbol
		bars[i].Interval = g.interval
	}

	n, err := writeEnriched(ctx, g.store, g.symbol, g.interval, bars)
	if err != nil {
		return err
	}
	g.log.Info("file ingested", "path", g.path, "symbol", g.symbol, "interval", g.interval, "bars", n)
	return nil
}

// csvTimeLayouts are the accepted timestamp formats, tried in order.
var csvTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func readCSVBars(path string) ([]domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading %s header: %w", path, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"timestamp", "open", "high", "low", "close", "volume"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", path, required)
		}
	}

	var bars []domain.Bar
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		line++

		ts, err := parseCSVTime(record[col["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		b := domain.Bar{Timestamp: ts}
		for name, dst := range map[string]*float64{
			"open": &b.Open, "high": &b.High, "low": &b.Low, "close": &b.Close, "volume": &b.Volume,
		} {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[col[name]]), 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: bad %s: %w", path, line, name, err)
			}
			*dst = v
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func parseCSVTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	// Unix seconds or milliseconds.
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range csvTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
