// Server serves the registration HTTP API.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"manifold/backend/internal/app"
	"manifold/backend/internal/config"
	healthhandler "manifold/backend/internal/health/handler"
	"manifold/backend/internal/server"
	userhandler "manifold/backend/internal/user/handler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	logger, shutdownTelemetry, err := app.Observability(ctx, cfg, "manifold/backend/cmd/server")
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	a, err := app.Build(ctx, cfg, logger, nil)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer a.Close()

	handler := server.NewHandler(server.Deps{
		Registrar: a.Saga,
		Verifier:  a.Verifier,
		Users:     userhandler.NewServer(a.Users, a.Audit, logger, cfg.DBCallTimeout()),
		Health: healthhandler.NewServer(healthhandler.Deps{
			DB:     a.DB,
			KV:     a.Tokens,
			Policy: a.Policy,
		}, logger),
		Audit: a.Audit,
		Log:   logger,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr, "notifier", cfg.Notifier)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down HTTP server...")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Error("HTTP server shutdown", "error", err)
	}
	logger.Info("HTTP server stopped")
}
