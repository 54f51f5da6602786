/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the explosives inventory server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present), parse flags, load config
  2. Build the zap logger
  3. Initialize SQLite store
  4. Create batch and transfer services, API handler, router
  5. Start the expiry scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a yaml config file (default: search ./config.yaml, ./configs)
  -port    HTTP server port, overrides server.port
  -db      SQLite database path, overrides database.path
           Use ":memory:" for in-memory database

ENVIRONMENT:
  Every config key can be set as EXPLOSIVES_<SECTION>_<KEY>, for example
  EXPLOSIVES_DATABASE_PATH or EXPLOSIVES_TRANSFER_URGENT_DAYS.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (server.shutdown_timeout)
  4. Close database connection

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/warp/explosives-inventory/api"
	"github.com/warp/explosives-inventory/config"
	"github.com/warp/explosives-inventory/inventory"
	"github.com/warp/explosives-inventory/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.String("path", cfg.Database.Path), zap.Error(err))
	}
	defer store.Close()

	clock := inventory.SystemClock{}

	batches := inventory.NewBatchService(store, clock, logger.Named("batches"))

	transfers := inventory.NewTransferService(store, clock, logger.Named("transfers"))
	transfers.Numbers = inventory.NewRequestNumberGenerator(cfg.Transfer.RequestPrefix, clock)
	transfers.UrgentDays = cfg.Transfer.UrgentDays
	transfers.PreserveCancelLeak = !cfg.Transfer.FixCancelLeak

	handler := api.NewHandler(store, batches, transfers, logger.Named("api"))
	handler.ExpiringDays = cfg.Scheduler.ExpiringDays

	router := api.NewRouter(handler, cfg.CORS.AllowedOrigins)

	scheduler := api.NewExpiryScheduler(batches, transfers, logger)
	scheduler.CheckInterval = cfg.Scheduler.ExpiryInterval
	scheduler.ExpiringDays = cfg.Scheduler.ExpiringDays
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("db", cfg.Database.Path),
			zap.Bool("fix_cancel_leak", cfg.Transfer.FixCancelLeak))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
		return
	}

	logger.Info("server stopped")
}
