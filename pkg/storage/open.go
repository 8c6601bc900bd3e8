package storage

import (
	"database/sql"
	"fmt"
	"net/http"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/devraulu/webscraper/pkg/config"
)

// Open builds the storage backend named by cfg.Driver and runs migrations
// for SQL backends.
func Open(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := RunMigrations(db, DialectPostgres); err != nil {
			_ = db.Close()
			return nil, err
		}
		return NewPostgresStorage(db), nil

	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = "webscraper.db"
		}
		db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := RunMigrations(db, DialectSQLite); err != nil {
			_ = db.Close()
			return nil, err
		}
		return NewSQLiteStorage(db), nil

	case "remote":
		return NewRemoteStorage(&http.Client{}, cfg.APIURL, cfg.APIKey)

	case "memory":
		return NewMemoryStorage(), nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
