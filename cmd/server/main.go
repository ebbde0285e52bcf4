package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"github.com/skillsy/backend/docs"
	"github.com/skillsy/backend/internal/config"
	"github.com/skillsy/backend/internal/database"
	"github.com/skillsy/backend/internal/events"
	"github.com/skillsy/backend/internal/handlers"
	"github.com/skillsy/backend/internal/services"
	"github.com/skillsy/backend/internal/store"
)

// @title Skillsy Credits API
// @version 1.0
// @description Credit ledger and session settlement for the Skillsy skill exchange
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg := config.Load()
	config.ConfigureLogging(cfg.LogLevel)

	if err := run(cfg); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	log.Info("Server exited")
}

// run returns instead of exiting so its deferred closes always run.
func run(cfg *config.Config) error {
	// Initialize Swagger docs
	docs.SwaggerInfo.Host = "localhost:" + cfg.Server.Port

	// Initialize storage
	var (
		st     store.Store
		health func(*http.Request) error
	)
	if cfg.Database.InMemory {
		log.Warn("[DATABASE] Using in-memory store, data will not survive a restart")
		st = store.NewMemoryStore()
	} else {
		db, err := database.InitDatabase(cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		st = store.NewPostgresStore(db)
		health = func(r *http.Request) error { return db.PingContext(r.Context()) }
	}

	redisClient := database.InitRedis(cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	publisher, closePublisher, err := events.NewPublisher(cfg.Events, redisClient)
	if err != nil {
		return fmt.Errorf("failed to initialize event publisher: %w", err)
	}
	defer closePublisher()

	var queue services.RetryQueue
	if redisClient != nil {
		queue = services.NewRedisRetryQueue(redisClient, cfg.Ledger.RetryQueueKey)
	} else {
		log.Warn("[RECONCILER] Redis unavailable, pending settlements are found by sweep only")
	}

	ledgerService := services.NewCreditLedgerService(st, publisher, cfg.Ledger)
	settlementService := services.NewSessionSettlementService(st, ledgerService, queue, cfg.Ledger)
	reconciler := services.NewSettlementReconciler(settlementService, st, queue, cfg.Ledger)

	router := handlers.NewRouter(handlers.RouterDeps{
		Config:      cfg,
		Ledger:      ledgerService,
		Settlements: settlementService,
		Health:      withRedisHealth(health, redisClient),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Run(ctx)
	}()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("server failed to start: %w", err)
		}
		stop()
	}
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}
	wg.Wait()
	return runErr
}

func withRedisHealth(db func(*http.Request) error, rdb *redis.Client) func(*http.Request) error {
	return func(r *http.Request) error {
		if db != nil {
			if err := db(r); err != nil {
				return err
			}
		}
		if rdb != nil {
			return rdb.Ping(r.Context()).Err()
		}
		return nil
	}
}
