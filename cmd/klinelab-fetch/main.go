package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"klinelab/internal/config"
	"klinelab/internal/gather"
	"klinelab/internal/store"
	"klinelab/internal/util"
)

func main() {
	startStr := flag.String("start", "", "earliest bar time to backfill (2006-01-02), default 2 years back")
	flag.Parse()

	cfgPath := "config/klinelab.yaml"
	if p := os.Getenv("KLINELAB_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		log.Fatal("APCA_API_KEY_ID and APCA_API_SECRET_KEY must be set")
	}

	start := time.Now().UTC().AddDate(-2, 0, 0)
	if *startStr != "" {
		start, err = time.Parse("2006-01-02", *startStr)
		if err != nil {
			log.Fatalf("invalid -start: %v", err)
		}
	}

	st, err := store.Open(cfg.Storage.Backend, cfg.Storage.SQLitePath, cfg.Storage.PostgresURL)
	if err != nil {
		log.Fatalf("opening %s store: %v", cfg.Storage.Backend, err)
	}
	defer st.Close()

	gatherer := gather.NewCryptoBarGatherer(
		cfg.Alpaca.APIKey,
		cfg.Alpaca.APISecret,
		cfg.Alpaca.DataURL,
		st,
		cfg.Market.Symbols,
		cfg.Market.Intervals,
		start,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting klinelab-fetch",
		"symbols", cfg.Market.Symbols,
		"intervals", cfg.Market.Intervals,
		"start", start.Format("2006-01-02"),
	)
	if err := gatherer.Run(ctx); err != nil {
		log.Fatalf("fetch error: %v", err)
	}
	logger.Info("fetch complete")
}
