package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hycredit/internal/platform/config"
	"hycredit/internal/platform/httpserver"
	"hycredit/internal/platform/logger"
)

const shutdownTimeout = 20 * time.Second

// main wires dependencies, serves the HTTP API and drains background commits
// on shutdown. Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Environment, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialise", "error", err)
		os.Exit(1)
	}

	recovered, err := app.workflow.Recover(ctx)
	if err != nil {
		log.Error("failed to recover in-flight requests", "error", err)
		app.close(context.Background())
		os.Exit(1)
	}
	if recovered > 0 {
		log.Info("recovered in-flight requests", "count", recovered)
	}
	restored, err := app.workflow.RestoreReservations(ctx)
	if err != nil {
		log.Error("failed to restore issue reservations", "error", err)
		app.close(context.Background())
		os.Exit(1)
	}
	log.Info("issue reservations restored", "count", restored)
	go app.workflow.RunRecovery(ctx, app.recoveryInterval)

	srv := httpserver.New(cfg.Addr, app.router)
	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting hycredit", "addr", cfg.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error("server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	app.close(shutdownCtx)
	log.Info("stopped")
}
