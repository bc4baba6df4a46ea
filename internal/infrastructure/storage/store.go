// Package storage opens the configured database backend and hands out
// Transactions bound to it.
package storage

import (
	"context"
	"fmt"

	"labcontrol/internal/config"
	"labcontrol/internal/core/dialect"
	"labcontrol/internal/core/tx"
	"labcontrol/internal/infrastructure/storage/postgres"
	"labcontrol/internal/infrastructure/storage/sqlite"
	"labcontrol/pkg/logger"
)

// Store is an open database together with its dialect.
type Store struct {
	Dialect dialect.Dialect

	connector tx.Connector
	opts      []tx.Option
	pool      *postgres.Pool
	sqlite    *sqlite.DB
}

// Open connects to the backend selected by cfg.Driver. opts apply to every
// Transaction created by NewTransaction.
func Open(ctx context.Context, cfg config.Database, txCfg config.Transaction, opts ...tx.Option) (*Store, error) {
	d, err := dialect.ForDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	s := &Store{
		Dialect: d,
		opts:    append([]tx.Option{tx.WithBatching(txCfg.Batching)}, opts...),
	}

	switch d.Name {
	case dialect.Postgres.Name:
		poolCfg := postgres.DefaultPoolConfig(cfg.DSN())
		if cfg.MaxConns > 0 {
			poolCfg.MaxConns = cfg.MaxConns
		}
		poolCfg.MinConns = cfg.MinConns
		if cfg.ApplicationName != "" {
			poolCfg.ApplicationName = cfg.ApplicationName
		}
		pool, err := postgres.NewPool(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		txOpts := postgres.DefaultTxOptions()
		txOpts.StatementTimeout = txCfg.StatementTimeout
		s.pool = pool
		s.connector = postgres.NewConnector(pool, txOpts)

	case dialect.SQLite.Name:
		db, err := sqlite.Open(ctx, sqlite.Config{
			Path:        cfg.Path,
			BusyTimeout: cfg.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		s.sqlite = db
		s.connector = db
	}

	logger.Info(ctx, "database opened", "driver", d.Name)
	return s, nil
}

// Init prepares an empty deployment: on Postgres it creates the application
// role and database with the admin credentials; SQLite creates its file on
// first open. Reports whether anything was created.
func Init(ctx context.Context, cfg config.Database) (bool, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return postgres.CreateDatabase(ctx, cfg.AdminDSN(), cfg.Name, cfg.User, cfg.Password)
	case config.DriverSQLite:
		return false, nil
	}
	return false, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// NewTransaction returns a Transaction that borrows one connection from
// the store on first use. The caller must Close it.
func (s *Store) NewTransaction() *tx.Transaction {
	return tx.New(s.connector, s.opts...)
}

// ConnStats reports open connections, connections held by Transactions and
// idle connections of the backend.
func (s *Store) ConnStats() (open, inUse, idle int) {
	if s.pool != nil {
		return s.pool.ConnStats()
	}
	return s.sqlite.ConnStats()
}

// LogStats logs ConnStats.
func (s *Store) LogStats(ctx context.Context) {
	open, inUse, idle := s.ConnStats()
	logger.Info(ctx, "database connection stats",
		"driver", s.Dialect.Name,
		"open", open,
		"in_use", inUse,
		"idle", idle,
	)
}

// Close releases every pooled connection.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.sqlite != nil {
		_ = s.sqlite.Close()
	}
}
