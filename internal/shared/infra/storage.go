package infra

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"chat-router/internal/shared/storage"
	"chat-router/internal/shared/storage/dbutil"
	"chat-router/internal/shared/storage/driver/postgres"
	"chat-router/internal/shared/storage/driver/sqlite"
	"chat-router/internal/shared/storage/mongostore"
	"chat-router/internal/shared/storage/repository"
)

// NewPersistentStore 按驱动类型创建持久层
//
// driver: "postgres" / "sqlite" / "mongodb"
// dbName: 仅 MongoDB 使用
func NewPersistentStore(driver, databaseURL, dbName string) (storage.PersistentStore, error) {
	switch dbutil.DriverType(driver) {
	case dbutil.DriverPostgres, "":
		db, err := postgres.Open(databaseURL)
		if err != nil {
			return nil, err
		}
		return newSQLStore(db, postgres.NewDialect(), "PostgreSQL")
	case dbutil.DriverSQLite:
		db, err := sqlite.Open(databaseURL)
		if err != nil {
			return nil, err
		}
		return newSQLStore(db, sqlite.NewDialect(), "SQLite")
	case "mongodb":
		return mongostore.NewStore(databaseURL, dbName)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

func newSQLStore(db *sql.DB, dialect dbutil.Dialect, name string) (storage.PersistentStore, error) {
	if err := dialect.AutoMigrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s schema: %w", name, err)
	}
	store := repository.NewStore(db, dialect)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", name, err)
	}

	log.Printf("[Storage] Using %s durable store", name)
	return store, nil
}
