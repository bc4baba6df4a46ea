package postgres

import (
	"context"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"labcontrol/internal/core/tx"
)

// Compile-time checks.
var (
	_ tx.Connector = (*Connector)(nil)
	_ tx.BatchConn = (*conn)(nil)
)

// TxOptions configures every physical transaction begun on a connection.
type TxOptions struct {
	// IsolationLevel: pgx.Serializable, pgx.RepeatableRead, pgx.ReadCommitted
	IsolationLevel pgx.TxIsoLevel

	// AccessMode: pgx.ReadWrite, pgx.ReadOnly
	AccessMode pgx.TxAccessMode

	// StatementTimeout protects against long-running queries (default 30s)
	StatementTimeout time.Duration
}

// DefaultTxOptions returns production-safe defaults.
func DefaultTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel:   pgx.ReadCommitted,
		AccessMode:       pgx.ReadWrite,
		StatementTimeout: 30 * time.Second,
	}
}

// SerializableTxOptions for critical operations requiring serializable isolation.
func SerializableTxOptions() TxOptions {
	opts := DefaultTxOptions()
	opts.IsolationLevel = pgx.Serializable
	return opts
}

// ReadOnlyTxOptions for reporting connections.
func ReadOnlyTxOptions() TxOptions {
	opts := DefaultTxOptions()
	opts.AccessMode = pgx.ReadOnly
	return opts
}

// Connector hands out pooled connections to tx.Transaction.
type Connector struct {
	pool *pgxpool.Pool
	opts TxOptions
}

// NewConnector creates a connector drawing from pool.
func NewConnector(pool *Pool, opts TxOptions) *Connector {
	return &Connector{pool: pool.Pool, opts: opts}
}

// Connect acquires one connection from the pool. It goes back to the pool
// when the Transaction is closed.
func (c *Connector) Connect(ctx context.Context) (tx.Conn, error) {
	pc, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &conn{conn: pc, opts: c.opts}, nil
}

// Querier is the subset of pgx shared by pooled connections and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type conn struct {
	conn *pgxpool.Conn
	tx   pgx.Tx
	opts TxOptions
}

func (c *conn) querier() Querier {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

func (c *conn) Begin(ctx context.Context) error {
	t, err := c.conn.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   c.opts.IsolationLevel,
		AccessMode: c.opts.AccessMode,
	})
	if err != nil {
		return err
	}

	// Set statement timeout for protection against runaway queries
	if c.opts.StatementTimeout > 0 {
		_, err = t.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", c.opts.StatementTimeout.Milliseconds()))
		if err != nil {
			_ = t.Rollback(context.WithoutCancel(ctx))
			return fmt.Errorf("set statement_timeout: %w", err)
		}
	}

	c.tx = t
	return nil
}

func (c *conn) Query(ctx context.Context, sql string, params tx.Params) (*tx.Result, error) {
	rows, err := c.querier().Query(ctx, sql, args(params)...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (c *conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Commit(ctx)
	c.tx = nil
	return err
}

func (c *conn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Rollback(ctx)
	c.tx = nil
	return err
}

func (c *conn) Close(ctx context.Context) error {
	err := c.Rollback(ctx)
	c.conn.Release()
	return err
}

// args turns validated parameters into pgx arguments. Named parameters use
// the @name syntax of pgx.NamedArgs.
func args(p tx.Params) []any {
	if p.Named != nil {
		return []any{pgx.NamedArgs(p.Named)}
	}
	return p.Positional
}

// collect materializes rows. Statements without a row description yield nil.
func collect(rows pgx.Rows) (*tx.Result, error) {
	defer rows.Close()

	data := [][]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			values[i] = normalize(v)
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	fields := rows.FieldDescriptions()
	if len(fields) == 0 {
		return nil, nil
	}
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}
	return &tx.Result{Columns: columns, Rows: data}, nil
}

// normalize converts pgx wire types into plain Go values: uuid columns
// become strings and pgtype values (numeric, interval) their driver value.
func normalize(v any) any {
	switch x := v.(type) {
	case [16]byte:
		return uuid.UUID(x).String()
	case driver.Valuer:
		if val, err := x.Value(); err == nil {
			return val
		}
	}
	return v
}
