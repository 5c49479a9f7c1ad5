package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abkawan/banka-ledger/internal/api"
	"github.com/abkawan/banka-ledger/internal/auth"
	"github.com/abkawan/banka-ledger/internal/config"
	"github.com/abkawan/banka-ledger/internal/db"
	"github.com/abkawan/banka-ledger/internal/queue"
	"github.com/abkawan/banka-ledger/internal/ratelimit"
	"github.com/abkawan/banka-ledger/internal/service"
	"github.com/go-redis/redis/v8"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	store, closeStore, err := db.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.StoreBackend, err)
	}
	defer closeStore()

	// Audit entries go to RabbitMQ for the processor, or straight to the store
	var sink service.AuditSink = service.NewStoreSink(store)
	if cfg.AuditSink == config.AuditSinkQueue {
		log.Println("Connecting to RabbitMQ...")
		rabbitmq, err := queue.NewRabbitMQ(cfg.RabbitMQURI)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer rabbitmq.Close()
		sink = rabbitmq
	}
	auditor := service.NewAuditor(sink, cfg.AuditTimeout, logger)

	// Create services
	accountService := service.NewAccountService(store, auditor, logger)
	transactionService := service.NewTransactionService(store, auditor, logger)
	auditService := service.NewAuditService(store, logger)

	handler := api.NewHandler(accountService, transactionService, auditService)
	router := api.NewRouter(handler, api.Options{
		Verifier:          auth.NewTokenVerifier(cfg.JWTSecret),
		AccountLimiter:    ratelimit.New(connectRedis(ctx, cfg), "create-account", cfg.RateLimitMax, cfg.RateLimitWindow),
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on port %s with the %s store...", cfg.Port, cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown failed: %v", err)
		return
	}

	log.Println("Server shut down successfully")
}

// connectRedis returns nil when Redis is unreachable, which turns rate limiting off.
func connectRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("Redis connection failed, continuing without rate limiting: %v", err)
		rdb.Close()
		return nil
	}

	log.Println("Redis connection established")
	return rdb
}
