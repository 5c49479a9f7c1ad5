package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/abkawan/banka-ledger/internal/config"
	"github.com/abkawan/banka-ledger/internal/db"
	"github.com/abkawan/banka-ledger/internal/queue"
	"github.com/abkawan/banka-ledger/internal/service"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if cfg.StoreBackend == config.BackendMemory {
		log.Fatalf("the audit processor needs a shared store, STORE_BACKEND=memory cannot be used")
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	store, closeStore, err := db.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.StoreBackend, err)
	}
	defer closeStore()

	// Connect to RabbitMQ
	log.Println("Connecting to RabbitMQ...")
	rabbitmq, err := queue.NewRabbitMQ(cfg.RabbitMQURI)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer rabbitmq.Close()

	auditService := service.NewAuditService(store, logger)

	log.Println("Starting audit processor...")
	done, err := auditService.StartProcessor(ctx, rabbitmq)
	if err != nil {
		log.Fatalf("Failed to start audit processor: %v", err)
	}

	log.Println("Audit processor started")

	// Wait for interrupt signal, or for the queue to go away
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-done:
		// non-zero exit so the processor gets restarted
		log.Println("Audit queue closed, shutting down processor")
		closeStore()
		rabbitmq.Close()
		os.Exit(1)
	}

	log.Println("Shutting down processor...")
	cancel()
	<-done
	log.Println("Processor shut down successfully")
}
