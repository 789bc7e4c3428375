package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"klinelab/internal/config"
	"klinelab/internal/gather"
	"klinelab/internal/store"
	"klinelab/internal/util"
)

func main() {
	file := flag.String("file", "", "bar file to ingest (.parquet or .csv)")
	symbol := flag.String("symbol", "", "symbol to stamp on the ingested bars")
	interval := flag.String("interval", "", "interval to stamp on the ingested bars")
	exportTrades := flag.Bool("export-trades", false, "export the persisted trade set to a parquet file and exit")
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

	st, err := store.Open(cfg.Storage.Backend, cfg.Storage.SQLitePath, cfg.Storage.PostgresURL)
	if err != nil {
		log.Fatalf("opening %s store: %v", cfg.Storage.Backend, err)
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *exportTrades {
		trades, err := st.ListTrades(ctx)
		if err != nil {
			log.Fatalf("listing trades: %v", err)
		}
		path, err := store.ExportTrades(cfg.Storage.DataDir, trades)
		if err != nil {
			log.Fatalf("exporting trades: %v", err)
		}
		logger.Info("trades exported", "path", path, "count", len(trades))
		return
	}

	if *file == "" || *symbol == "" || *interval == "" {
		flag.Usage()
		os.Exit(2)
	}

	gatherer := gather.NewFileGatherer(st, *file, *symbol, *interval)
	if err := gatherer.Run(ctx); err != nil {
		log.Fatalf("ingest error: %v", err)
	}
	logger.Info("ingest complete", "file", *file, "symbol", *symbol, "interval", *interval)
}
