/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the booking operations engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment configuration (.env optional)
  2. Parse command-line flags (override environment)
  3. Build the zap logger
  4. Initialize SQLite store
  5. Wire workflow and task engines
  6. Start HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: SERVER_PORT or 8080)
  -db      SQLite database path (default: DB_PATH or opsengine.db)
           Use ":memory:" for an in-memory database
  -seed    Load demo data (tenant, staff, package, draft booking) on startup

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/opsengine.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - config/config.go: Environment configuration
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tidework/ops-engine/api"
	"github.com/tidework/ops-engine/config"
	"github.com/tidework/ops-engine/engine"
	"github.com/tidework/ops-engine/metrics"
	"github.com/tidework/ops-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags override environment
	port := flag.Int("port", cfg.Server.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	seed := flag.Bool("seed", false, "load demo data before serving")
	flag.Parse()

	logger, err := buildLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	if *seed {
		if err := seedDemoData(context.Background(), store, logger, cfg.Engine.Currency); err != nil {
			logger.Fatal("failed to seed demo data", zap.Error(err))
		}
	}

	// Wire engines
	publisher := meteredPublisher{next: engine.LogPublisher{Logger: logger}}
	workflow := engine.NewWorkflow(store, publisher, logger, engine.Config{
		Currency:           cfg.Engine.Currency,
		MaxTasksPerBooking: cfg.Engine.MaxTasksPerBooking,
		MinRescheduleLead:  cfg.Engine.MinRescheduleLead,
	})
	taskEngine := engine.NewTaskEngine(store, publisher, logger, cfg.Engine.Currency)
	workflow.Audit.OnFailure = metrics.AuditAppendFailures.Inc
	taskEngine.Audit.OnFailure = metrics.AuditAppendFailures.Inc

	// Create router
	handler := api.NewHandler(store, workflow, taskEngine, logger)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", zap.Int("port", *port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

// meteredPublisher counts published events before handing them to the sink.
type meteredPublisher struct {
	next engine.Publisher
}

func (p meteredPublisher) Publish(e engine.Event) {
	metrics.EventsPublishedTotal.WithLabelValues(string(e.Type)).Inc()
	p.next.Publish(e)
}
