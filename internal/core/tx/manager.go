// Package tx provides the reentrant, queued transaction used by every layer
// that talks to the database.
//
// A Transaction owns one physical connection for its whole life. Callers
// acquire it (possibly many times, nested), queue statements with Add and
// AddMany, and run them with Execute. Only the outermost release commits or
// rolls back, so helpers can acquire the same Transaction freely and still
// share one atomic unit of work with their caller.
package tx

import (
	"context"
	"time"
)

// Manager defines the contract for scoped transaction use.
//
// Domain services depend on this interface, not on a concrete driver.
type Manager interface {
	// RunInTransaction acquires the transaction, runs fn and releases it.
	// If fn returns an error or panics the work is rolled back once the
	// outermost acquisition exits; otherwise it is committed there.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Conn is one physical database connection.
// Implementations live in internal/infrastructure/storage.
type Conn interface {
	// Begin opens a physical transaction.
	Begin(ctx context.Context) error

	// Query runs one statement inside the open transaction. It returns nil
	// for statements that produce no row description.
	Query(ctx context.Context, sql string, params Params) (*Result, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// Close releases the connection. An open transaction is rolled back.
	Close(ctx context.Context) error
}

// BatchConn is implemented by connections that can pipeline several
// statements in one round trip. On failure the results of the statements
// that succeeded are returned together with a *BatchError.
type BatchConn interface {
	Conn
	QueryBatch(ctx context.Context, stmts []Statement) ([]*Result, error)
}

// Connector opens physical connections.
type Connector interface {
	Connect(ctx context.Context) (Conn, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context) (Conn, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// Observer receives transaction lifecycle events, typically for metrics.
type Observer interface {
	StatementsExecuted(n int, elapsed time.Duration)
	StatementFailed()
	Committed()
	RolledBack()
}

type noopObserver struct{}

func (noopObserver) StatementsExecuted(int, time.Duration) {}
func (noopObserver) StatementFailed()                      {}
func (noopObserver) Committed()                            {}
func (noopObserver) RolledBack()                           {}
