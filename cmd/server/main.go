/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the reconciliation engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, optional thresholds file)
  2. Validate the document handler registry
  3. Initialize SQLite store
  4. Wire detector, orchestrator, API handler, and scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides RECON_PORT)
  -db      SQLite database path (overrides RECON_DB)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/recon.db"

  # Run with in-memory database
  ./server -db=":memory:"

ENVIRONMENT:
  RECON_PORT         HTTP port (default 8080)
  RECON_DB           Database path (default recon.db)
  RECON_CONCURRENCY  Rule evaluation workers per session (default 4)
  RECON_SCHEDULER    Set to "off" to disable the background scheduler
  RECON_THRESHOLDS   Path to a YAML anomaly threshold overlay

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration loading
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

	"github.com/warp/recon-engine/anomaly"
	"github.com/warp/recon-engine/api"
	"github.com/warp/recon-engine/config"
	"github.com/warp/recon-engine/engine"
	"github.com/warp/recon-engine/session"
	"github.com/warp/recon-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags override environment
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	// A broken handler registry means some document type can never be
	// reconciled; refuse to start.
	if err := engine.ValidateHandlers(); err != nil {
		log.Fatalf("Document handler registry invalid: %v", err)
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire the engine
	detector := anomaly.NewDetector(cfg.Anomaly)
	orchestrator := session.NewOrchestrator(store, detector)
	orchestrator.Concurrency = cfg.Concurrency

	handler := api.NewHandler(store, orchestrator)
	router := api.NewRouter(handler)

	scheduler := api.NewScheduler(store, orchestrator)
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
