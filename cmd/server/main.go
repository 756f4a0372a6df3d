/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the gacha engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load YAML configuration
  3. Initialize SQLite store
  4. Wire commerce client, ledger, guard, orchestrator, invites
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to YAML config (default: gacha.yaml; missing file
           falls back to built-in defaults)
  -port    HTTP server port (overrides config when set)
  -db      SQLite database path (overrides config when set)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/gacha.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run with explicit config
  ./server -config="./deploy/gacha.yaml"

SEE ALSO:
  - config/config.go: Configuration schema and defaults
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
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

	"github.com/toreca/gacha-engine/api"
	"github.com/toreca/gacha-engine/commerce"
	"github.com/toreca/gacha-engine/config"
	"github.com/toreca/gacha-engine/core"
	"github.com/toreca/gacha-engine/gacha"
	"github.com/toreca/gacha-engine/invite"
	"github.com/toreca/gacha-engine/ledger"
	"github.com/toreca/gacha-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "gacha.yaml", "Path to YAML config")
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

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Commerce backend
	commerceClient := commerce.NewClient(commerce.Config{
		BaseURL:     cfg.Commerce.BaseURL,
		AccessToken: cfg.Commerce.AccessToken,
		Timeout:     cfg.Commerce.Timeout(),
	})

	// Domain services
	loc, err := cfg.Gacha.Location()
	if err != nil {
		log.Fatalf("Failed to load time zone %q: %v", cfg.Gacha.TimeZone, err)
	}
	guard := gacha.NewGuard(store, loc)

	orchestrator := gacha.NewOrchestrator(store, commerceClient, guard)
	orchestrator.SelectionWindow = cfg.Gacha.SelectionWindow()

	ledgerService := ledger.NewService(store)

	invites := invite.NewService(store, core.Points(cfg.Invite.Points))
	if cfg.Invite.MaxUses > 0 {
		invites.DefaultUses = cfg.Invite.MaxUses
	}

	// Create router
	handler := api.NewHandler(store, ledgerService, orchestrator, invites)
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🎰 Gacha engine starting on http://localhost:%d", cfg.Server.Port)
		log.Printf("📊 API available at http://localhost:%d/api", cfg.Server.Port)
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
