/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the carbon credit ledger server. Handles
  configuration, dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and optional TOML config
  2. Initialize the SQLite store
  3. Wire the ledger engine (and anchor notifier if configured)
  4. Configure the HTTP router
  5. Start the server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides config)
  -db      SQLite database path; ":memory:" for ephemeral (overrides config)
  -config  TOML config file path (missing file = defaults)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (configurable timeout)
  3. Drain the anchor queue and close the database

SEE ALSO:
  - config/config.go: Configuration shape and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/verdant/carbon-ledger/anchor"
	"github.com/verdant/carbon-ledger/api"
	"github.com/verdant/carbon-ledger/config"
	"github.com/verdant/carbon-ledger/ledger"
	"github.com/verdant/carbon-ledger/store/sqlite"
)

func main() {
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	configPath := flag.String("config", "carbon-ledger.toml", "TOML config file path")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}

	store, err := sqlite.New(cfg.Store.Path)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	engine := ledger.NewEngine(store)
	engine.Log = log
	engine.MaxAttempts = cfg.Engine.MaxAttempts

	var notifier *anchor.Notifier
	if cfg.Anchor.Endpoint != "" {
		notifier = anchor.NewNotifier(anchor.NewHTTPSink(cfg.Anchor.Endpoint), log)
		engine.Anchor = notifier
		defer notifier.Close()
	}

	router := api.NewRouter(api.NewHandler(engine), cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}
	log.Info("server stopped")
}
