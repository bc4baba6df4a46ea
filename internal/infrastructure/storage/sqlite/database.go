// Package sqlite provides the embedded SQLite backend of the transaction manager.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"labcontrol/internal/core/tx"
	"labcontrol/pkg/logger"
)

// Compile-time check that DB opens connections for tx.Transaction.
var _ tx.Connector = (*DB)(nil)

// Config holds SQLite settings.
type Config struct {
	Path         string
	BusyTimeout  int // milliseconds
	MaxOpenConns int
}

// DB wraps the SQLite database handle.
type DB struct {
	*sql.DB
	path string
}

// DSN builds the modernc connection string. Foreign keys are enforced, WAL
// lets readers proceed during a write, and transactions take the write lock
// up front so concurrent writers wait instead of failing on upgrade.
func (c Config) DSN() string {
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = 5000
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy))
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")
	return "file:" + c.Path + "?" + q.Encode()
}

// Open opens (creating if needed) the database file at cfg.Path.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite: empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)

	logger.Debug(ctx, "database connection established", "driver", "sqlite", "path", cfg.Path)

	return &DB{DB: db, path: cfg.Path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Connect pins one connection of the pool for a Transaction.
func (db *DB) Connect(ctx context.Context) (tx.Conn, error) {
	c, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &conn{conn: c}, nil
}

// ConnStats reports open connections, connections held by Transactions and
// idle connections.
func (db *DB) ConnStats() (open, inUse, idle int) {
	s := db.Stats()
	return s.OpenConnections, s.InUse, s.Idle
}
