package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"klinelab/internal/backtest"
	"klinelab/internal/config"
	"klinelab/internal/httpapi"
	"klinelab/internal/store"
	"klinelab/internal/util"
)

func main() {
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

	runner := backtest.NewRunner(st, st, cfg.Market.Symbols, cfg.Market.Intervals, logger)
	server := httpapi.NewServer(st, runner, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: server.Handler()}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		if err := httpServer.Shutdown(shutCtx); err != nil {
			logger.Error("shutting down", "error", err)
		}
	}()

	logger.Info("klinelab-server listening",
		"addr", addr,
		"backend", cfg.Storage.Backend,
		"symbols", cfg.Market.Symbols,
		"intervals", cfg.Market.Intervals,
	)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
	logger.Info("klinelab-server stopped")
}
