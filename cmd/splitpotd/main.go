package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splitpot/splitpot/internal/config"
	"github.com/splitpot/splitpot/internal/middleware"
	"github.com/splitpot/splitpot/internal/notify"
	"github.com/splitpot/splitpot/internal/scheduler"
	"github.com/splitpot/splitpot/internal/service"
	"github.com/splitpot/splitpot/internal/storage/sqlite"
	"github.com/splitpot/splitpot/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	checkOnce := flag.Bool("check", false, "run a single scheduler pass and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.SetupWithLevel(logging.ParseLevel(cfg.LogLevel))

	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.DatabasePath)

	clk := clock.New()
	locks := service.NewGroupLocks()
	notifier := notify.NewLogNotifier(slog.Default())
	settlements := service.NewSettlementService(store, locks, notifier, clk)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Periods left SETTLING by a crashed run revert to OPEN before any
	// new settlement starts.
	if _, err := settlements.RecoverStuckSettlements(ctx); err != nil {
		slog.Error("Failed to recover stuck settlements", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(store, settlements, notifier, clk, cfg.TickInterval, cfg.ReminderLead)

	if *checkOnce {
		sched.RunOnce(ctx)
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: middleware.Logging(mux)}

	go func() {
		slog.Info("Metrics endpoint listening", "address", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Scheduler stopped unexpectedly", "error", err)
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Metrics server shutdown failed", "error", err)
	}
}
