package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"

	"labcontrol/internal/core/tx"
)

type conn struct {
	conn *sql.Conn
	tx   *sql.Tx
}

// querier is satisfied by both *sql.Conn and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (c *conn) querier() querier {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

func (c *conn) Begin(ctx context.Context) error {
	t, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	c.tx = t
	return nil
}

// Query runs one statement. Statements that cannot return rows go through
// ExecContext and yield no result.
func (c *conn) Query(ctx context.Context, query string, params tx.Params) (*tx.Result, error) {
	if !returnsRows(query) {
		_, err := c.querier().ExecContext(ctx, query, args(params)...)
		return nil, err
	}

	rows, err := c.querier().QueryContext(ctx, query, args(params)...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (c *conn) Commit(context.Context) error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Commit()
	c.tx = nil
	return err
}

func (c *conn) Rollback(context.Context) error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Rollback()
	c.tx = nil
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (c *conn) Close(ctx context.Context) error {
	return errors.Join(c.Rollback(ctx), c.conn.Close())
}

// args binds named parameters with sql.Named, which matches :name, @name
// and $name placeholders.
func args(p tx.Params) []any {
	if p.Named == nil {
		return p.Positional
	}
	out := make([]any, 0, len(p.Named))
	for k, v := range p.Named {
		out = append(out, sql.Named(k, v))
	}
	return out
}

func collect(rows *sql.Rows) (*tx.Result, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	data := [][]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(columns) == 0 {
		return nil, nil
	}
	return &tx.Result{Columns: columns, Rows: data}, nil
}

var (
	leadingComments = regexp.MustCompile(`^(\s*(--[^\n]*\n|/\*[\s\S]*?\*/))*\s*`)
	returningClause = regexp.MustCompile(`(?i)\bRETURNING\b`)
)

// returnsRows reports whether a statement produces a row set.
func returnsRows(query string) bool {
	q := strings.ToUpper(leadingComments.ReplaceAllString(query, ""))
	for _, kw := range []string{"SELECT", "WITH", "PRAGMA", "VALUES", "EXPLAIN"} {
		if strings.HasPrefix(q, kw) {
			return true
		}
	}
	return returningClause.MatchString(q)
}
