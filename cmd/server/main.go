package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/mdbulk/internal/api"
	"github.com/dgallion1/mdbulk/internal/config"
	"github.com/dgallion1/mdbulk/internal/drive"
	"github.com/dgallion1/mdbulk/internal/fields"
	"github.com/dgallion1/mdbulk/internal/pipeline"
)

func main() {
	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	engine, err := fields.Load(cfg.FieldsFile, fields.WithFrontMatter(cfg.FrontMatter))
	if err != nil {
		log.Error("invalid field configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graph latencies are shared by every request's client.
	stats := drive.NewStats(cfg.StatsWindow)

	// Initialize job pool.
	orch := pipeline.NewOrchestrator(cfg, log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, engine, stats, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
	}()

	log.Info("starting mdbulk",
		"port", cfg.Port,
		"graph_url", cfg.GraphURL,
		"fields", engine.Fields(),
		"max_concurrent", cfg.MaxConcurrent,
		"partial_failure", cfg.PartialFailure,
		"front_matter", cfg.FrontMatter,
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
