// Package storage implements the Postgres persistence layer: forms,
// submissions, the email retry queue, webhook audit logs, and download
// tokens. Each write is independent and per-row atomic; the intake design
// requires no cross-row transactions.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Sentinel errors for the storage layer.
var (
	ErrNotFound = errors.New("not found")
)

// Storage wraps the database handle. Safe for concurrent use.
type Storage struct {
	db *sql.DB
}

// New wraps an existing database handle.
func New(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// Open connects to Postgres, applies pool limits, and verifies the
// connection with a bounded ping.
func Open(url string, maxOpen, maxIdle int) (*Storage, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if maxOpen <= 0 {
		maxOpen = 10
	}
	if maxIdle <= 0 {
		maxIdle = 3
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(30 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Storage{db: db}, nil
}

// DB exposes the raw handle for the migration runner.
func (s *Storage) DB() *sql.DB { return s.db }

// Close closes the underlying pool.
func (s *Storage) Close() error { return s.db.Close() }
