package db

import (
	"context"
	"fmt"
	"log"

	"github.com/abkawan/banka-ledger/internal/config"
)

// Open connects the backend named by cfg.StoreBackend. The returned func
// releases the connection.
func Open(ctx context.Context, cfg *config.Config) (Store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendMongo:
		log.Println("Connecting to MongoDB...")
		mongodb, err := NewMongoDB(cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, nil, err
		}
		return mongodb, func() {
			if err := mongodb.Close(context.Background()); err != nil {
				log.Printf("failed to close MongoDB: %v", err)
			}
		}, nil

	case config.BackendPostgres:
		log.Println("Connecting to PostgreSQL...")
		postgres, err := NewPostgres(cfg.PostgresURI)
		if err != nil {
			return nil, nil, err
		}
		log.Println("Creating the schema...")
		if err := postgres.InitSchema(ctx); err != nil {
			postgres.Close()
			return nil, nil, err
		}
		return postgres, func() {
			if err := postgres.Close(); err != nil {
				log.Printf("failed to close PostgreSQL: %v", err)
			}
		}, nil

	case config.BackendMemory:
		log.Println("Using the in-memory store, data is lost on exit")
		return NewMemory(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
