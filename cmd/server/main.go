/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the offer engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load config (YAML + .env + environment)
  2. Open the SQL store (SQLite or PostgreSQL)
  3. Optionally connect Redis for cross-process offer locks
  4. Optionally connect S3 for signature uploads
  5. Start the websocket hub and the reminder scheduler
  6. Configure HTTP router and serve with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config path (default: $CONFIG_PATH, else built-in defaults)
  -port    HTTP server port, overrides config
  -db      Database DSN, overrides config
           For sqlite use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the reminder scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close websocket connections and the database
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/offers.db"

  # Run against PostgreSQL with a distributed lock
  DB_DRIVER=postgres DB_DSN=postgres://... REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - store/sqldb/sqldb.go: Database implementation
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

	"github.com/warp/offer-engine/api"
	"github.com/warp/offer-engine/config"
	"github.com/warp/offer-engine/lock/redislock"
	"github.com/warp/offer-engine/notify"
	"github.com/warp/offer-engine/offer"
	"github.com/warp/offer-engine/signature"
	"github.com/warp/offer-engine/store/sqldb"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dsn := flag.String("db", "", "Database DSN (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dsn != "" {
		cfg.DB.DSN = *dsn
	}

	// Initialize store
	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Per-offer lock: in-process unless Redis is configured
	var locker offer.Locker
	if cfg.Redis.Addr != "" {
		client, err := redislock.Connect(redislock.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer client.Close()
		locker = redislock.New(client, cfg.Redis.Prefix, cfg.Redis.LockTTL)
		log.Printf("Using redis offer locks at %s", cfg.Redis.Addr)
	}

	// Notifications go to the log and to connected browsers
	hub := notify.NewHub()
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	svc := offer.NewService(store, offer.Deps{
		Properties: store,
		Enquiries:  store,
		Users:      store,
		Payments:   store,
		Sink:       notify.Fanout{notify.LogSink{}, hub},
		Locker:     locker,
	})

	// Initialize handler
	handler := api.NewHandler(svc, store)
	handler.Hub = hub

	vaultCfg := signature.Config{
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		Bucket:          cfg.S3.Bucket,
		UseSSL:          cfg.S3.UseSSL,
		Region:          cfg.S3.Region,
		Prefix:          cfg.S3.Prefix,
	}
	if vaultCfg.Enabled() {
		vault, err := signature.NewVault(vaultCfg)
		if err != nil {
			log.Fatalf("Failed to initialize signature storage: %v", err)
		}
		handler.Signatures = vault
		log.Printf("Storing signatures in s3://%s", vaultCfg.Bucket)
	}

	// Reminder sweep
	scheduler := api.NewReminderScheduler(svc)
	scheduler.Enabled = cfg.Reminders.Enabled
	scheduler.CheckInterval = cfg.Reminders.Interval
	scheduler.Start()
	handler.Scheduler = scheduler

	// Create router
	router := api.NewRouter(handler, cfg.Server.CORSOrigins...)

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
		log.Printf("Server starting on http://localhost:%d (%s)", cfg.Server.Port, cfg.DB.Driver)
		log.Printf("API available at http://localhost:%d/api", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func openStore(cfg *config.Config) (*sqldb.Store, error) {
	switch cfg.DB.Driver {
	case "postgres":
		return sqldb.NewPostgres(cfg.DB.DSN)
	default:
		return sqldb.NewSQLite(cfg.DB.DSN)
	}
}
