package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sashko-guz/objstore/internal/config"
	"github.com/sashko-guz/objstore/internal/handler"
	"github.com/sashko-guz/objstore/internal/logger"
	"github.com/sashko-guz/objstore/internal/metrics"
	"github.com/sashko-guz/objstore/internal/signedlink"
	"github.com/sashko-guz/objstore/internal/storage"
	_ "github.com/sashko-guz/objstore/internal/storage/drivers"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Configure logging to stderr with timestamps
	logger.SetOutput(os.Stderr)
	logger.SetFlags(log.LstdFlags | log.Lshortfile)

	// Load .env file if it exists (optional)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("[Server] %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	// Deferred cleanup in run completes before a fatal exit.
	if err := run(cfg); err != nil {
		logger.Fatalf("[Server] %v", err)
	}
}

func run(cfg *config.Config) error {
	logger.Infof("[Server] Starting object storage server (log level: %s)…", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	registry, err := storage.NewRegistry(ctx, cfg.StorageConfig(), storage.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer registry.Close()

	router := handler.NewRouter(handler.RouterConfig{
		Registry:       registry,
		Metrics:        m,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[Server] Server listening on %s", server.Addr)
		logger.Infof("[Server] Example: %s/floorplans/{id}", cfg.PublicBaseURL)
		if registry.Driver() == storage.DriverLocal {
			logger.Infof("[Server] Local signed links served under %s%s/", cfg.PublicBaseURL, signedlink.RoutePrefix)
		}
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Infof("[Server] Shutting down…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("[Server] Graceful shutdown failed: %v", err)
		}
	}
	return nil
}
