// Package main provides the dashboard API server over the latest award snapshot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fedspend/internal/config"
	"fedspend/internal/dashboard"
	"fedspend/internal/logger"
	"fedspend/internal/storage"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML configuration file")
	envFile := flag.String("env", ".env", "Optional .env file with FEDSPEND_* overrides")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	dataDir := flag.String("data-dir", "", "Snapshot directory (overrides config)")

	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(3)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load config: %v\n", err)
		os.Exit(3)
	}

	if *addr != "" {
		cfg.Dashboard.Addr = *addr
	}

	if *dataDir != "" {
		cfg.Collector.Storage.DataDir = *dataDir
	}

	log := logger.NewLoggerWithWriter(os.Stderr, cfg.Collector.Logging.Level, cfg.Collector.Logging.Format)

	if err := run(cfg, log); err != nil {
		log.Error(fmt.Sprintf("❌ Dashboard stopped: %v", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	srv, err := buildServer(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.ListenAndServe(ctx, cfg.Dashboard.Addr)
}

// buildServer loads the latest snapshot, if any, and wires the API.
func buildServer(cfg *config.Config, log *logger.Logger) (*dashboard.Server, error) {
	d := cfg.Dashboard
	st := cfg.Collector.Storage

	store := dashboard.NewStore(dashboard.StoreOptions{
		Dir:            st.DataDir,
		Prefix:         st.FilePrefix,
		CacheThreshold: d.CacheThreshold,
		CacheTTL:       d.GetCacheTTL(),
	}, log)

	// The server starts without data; POST /api/reload picks up the first snapshot.
	if _, err := store.Reload(); err != nil {
		if !errors.Is(err, storage.ErrNoSnapshot) {
			return nil, err
		}

		log.Warn(fmt.Sprintf("⚠️  No snapshot in %s yet, run the collector first", st.DataDir))
	}

	return dashboard.NewServer(store, dashboard.ServerOptions{
		RatePerSec:  d.RatePerSec,
		RateBurst:   d.RateBurst,
		MaxPageSize: d.MaxPageSize,
	}, log), nil
}
