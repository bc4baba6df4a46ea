package tx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"labcontrol/internal/core/id"
	"labcontrol/pkg/logger"
)

var tracer = otel.Tracer("labcontrol/tx")

// Compile-time check that Transaction implements Manager.
var _ Manager = (*Transaction)(nil)

// Option configures a Transaction.
type Option func(*Transaction)

// WithObserver reports lifecycle events to o.
func WithObserver(o Observer) Option {
	return func(t *Transaction) {
		if o != nil {
			t.observer = o
		}
	}
}

// WithBatching toggles pipelining of statements on connections that
// implement BatchConn. It is enabled by default.
func WithBatching(enabled bool) Option {
	return func(t *Transaction) {
		t.batching = enabled
	}
}

// Transaction is a reentrant execution context bound to one physical
// connection. It is meant to be used by a single goroutine at a time
// (typically one per request) and reused across many logical transactions.
type Transaction struct {
	id        id.ID
	connector Connector
	observer  Observer
	batching  bool

	conn   Conn
	depth  int
	begun  bool
	failed error

	queries  []Statement
	results  []*Result
	executed int

	postCommit   []func() error
	postRollback []func() error
}

// New creates a Transaction. No connection is opened until the first Acquire.
func New(connector Connector, opts ...Option) *Transaction {
	t := &Transaction{
		id:        id.New(),
		connector: connector,
		observer:  noopObserver{},
		batching:  true,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ID identifies the transaction in logs and traces.
func (t *Transaction) ID() string { return t.id.String() }

// Depth returns the number of currently nested acquisitions.
func (t *Transaction) Depth() int { return t.depth }

// Index returns the number of statements queued since the last commit or rollback.
func (t *Transaction) Index() int { return len(t.queries) }

// Acquire enters a (possibly nested) scope. The first acquisition of a
// Transaction opens its physical connection.
func (t *Transaction) Acquire(ctx context.Context) error {
	if t.depth == 0 && t.conn == nil {
		conn, err := t.connector.Connect(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConnection, err)
		}
		t.conn = conn
	}
	t.depth++
	logger.Debug(ctx, "transaction acquired", "tx_id", t.ID(), "depth", t.depth)
	return nil
}

// Release exits a scope. cause is the error, if any, that ended the scope.
//
// Inner releases only record the failure. The outermost release executes
// pending statements and commits, or rolls back when cause is non-nil or
// any earlier statement failed. The connection stays open for reuse.
func (t *Transaction) Release(ctx context.Context, cause error) error {
	if t.depth == 0 {
		return ErrNotAcquired
	}
	t.depth--
	logger.Debug(ctx, "transaction released", "tx_id", t.ID(), "depth", t.depth)

	if t.depth > 0 {
		if cause != nil && t.failed == nil {
			t.failed = cause
		}
		return cause
	}

	if cause == nil && t.failed == nil {
		err := t.commit(ctx)
		if err == nil || errors.Is(err, ErrCallback) {
			return err
		}
		return errors.Join(err, t.rollback(ctx))
	}

	if cause == nil {
		cause = t.failed
	}
	return errors.Join(cause, t.rollback(ctx))
}

// RunInTransaction acquires t, runs fn with t stored in the context and
// releases t on every exit path. A panic in fn rolls back at the outermost
// level and is re-raised.
func (t *Transaction) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := t.Acquire(ctx); err != nil {
		return err
	}
	ctx = WithTransaction(ctx, t)

	defer func() {
		if p := recover(); p != nil {
			_ = t.Release(ctx, fmt.Errorf("panic: %v", p))
			panic(p)
		}
		err = t.Release(ctx, err)
	}()

	return fn(ctx)
}

// Add queues one statement. params must be nil, a sequence or a mapping.
// Nothing is sent to the database until Execute or commit.
func (t *Transaction) Add(sql string, params any) error {
	if t.depth == 0 {
		return ErrNotAcquired
	}
	p, err := ParseParams(params)
	if err != nil {
		return err
	}
	t.queries = append(t.queries, Statement{SQL: sql, Params: p})
	return nil
}

// AddMany queues sql once per parameter set, in order. paramSets must be a
// sequence of sequences or mappings; nothing is queued if any set is invalid.
func (t *Transaction) AddMany(sql string, paramSets any) error {
	if t.depth == 0 {
		return ErrNotAcquired
	}
	sets, err := ParseParamSets(paramSets)
	if err != nil {
		return err
	}
	for _, p := range sets {
		t.queries = append(t.queries, Statement{SQL: sql, Params: p})
	}
	return nil
}

// Execute sends every statement queued since the previous Execute and
// returns the results of all statements queued since the last commit or
// rollback, indexed by queue position. Calling it again with nothing new
// queued returns the same results without touching the database.
func (t *Transaction) Execute(ctx context.Context) ([]*Result, error) {
	if t.depth == 0 {
		return nil, ErrNotAcquired
	}
	if t.failed != nil {
		return nil, fmt.Errorf("%w: %w", ErrAborted, t.failed)
	}
	return t.execute(ctx)
}

// ExecuteFetchLastValue executes and returns the last column of the last
// row of the last statement, or nil when it produced nothing.
func (t *Transaction) ExecuteFetchLastValue(ctx context.Context) (any, error) {
	results, err := t.Execute(ctx)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	last := results[len(results)-1]
	if last == nil || len(last.Rows) == 0 {
		return nil, nil
	}
	row := last.Rows[len(last.Rows)-1]
	if len(row) == 0 {
		return nil, nil
	}
	return row[len(row)-1], nil
}

// ExecuteFetchIndex executes and returns the result of the statement at
// position idx. Negative positions count from the end, so -1 is the most
// recently queued statement.
func (t *Transaction) ExecuteFetchIndex(ctx context.Context, idx int) (*Result, error) {
	results, err := t.Execute(ctx)
	if err != nil {
		return nil, err
	}
	pos := idx
	if pos < 0 {
		pos += len(results)
	}
	if pos < 0 || pos >= len(results) {
		return nil, fmt.Errorf("%w: statement index %d out of range (%d statements)", ErrInvalidReference, idx, len(results))
	}
	return results[pos], nil
}

// ExecuteFetchFlatten executes and returns every value of every row of
// every statement from position start onward, in statement, row and
// column order.
func (t *Transaction) ExecuteFetchFlatten(ctx context.Context, start int) ([]any, error) {
	results, err := t.Execute(ctx)
	if err != nil {
		return nil, err
	}
	if start < 0 || start > len(results) {
		return nil, fmt.Errorf("%w: start index %d out of range (%d statements)", ErrInvalidReference, start, len(results))
	}
	var flat []any
	for _, res := range results[start:] {
		if res == nil {
			continue
		}
		for _, row := range res.Rows {
			flat = append(flat, row...)
		}
	}
	return flat, nil
}

// Commit executes pending statements and commits immediately, regardless
// of nesting depth. The scope stays acquired.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.depth == 0 {
		return ErrNotAcquired
	}
	return t.commit(ctx)
}

// Rollback discards pending statements and rolls back immediately. The
// scope stays acquired; later statements start a new physical transaction.
func (t *Transaction) Rollback(ctx context.Context) error {
	if t.depth == 0 {
		return ErrNotAcquired
	}
	return t.rollback(ctx)
}

// AddPostCommitCallback registers fn to run once after the next commit.
func (t *Transaction) AddPostCommitCallback(fn func() error) error {
	if t.depth == 0 {
		return ErrNotAcquired
	}
	t.postCommit = append(t.postCommit, fn)
	return nil
}

// AddPostRollbackCallback registers fn to run once after the next rollback.
func (t *Transaction) AddPostRollbackCallback(fn func() error) error {
	if t.depth == 0 {
		return ErrNotAcquired
	}
	t.postRollback = append(t.postRollback, fn)
	return nil
}

// Close rolls back any open work and releases the physical connection,
// whatever the current depth. Post-commit callbacks of the abandoned scope
// are dropped; post-rollback callbacks run.
func (t *Transaction) Close(ctx context.Context) error {
	var rbErr error
	if t.pending() {
		rbErr = t.rollback(ctx)
	}
	t.depth = 0
	if t.conn == nil {
		return rbErr
	}
	closeErr := t.conn.Close(context.WithoutCancel(ctx))
	t.conn = nil
	if closeErr != nil {
		closeErr = fmt.Errorf("close connection: %w", closeErr)
	}
	return errors.Join(rbErr, closeErr)
}

func (t *Transaction) execute(ctx context.Context) ([]*Result, error) {
	pending := len(t.queries) - t.executed
	if pending == 0 {
		return t.results, nil
	}

	ctx, span := tracer.Start(ctx, "tx.execute", trace.WithAttributes(
		attribute.String("tx.id", t.ID()),
		attribute.Int("tx.statements", pending),
	))
	defer span.End()

	if !t.begun {
		if err := t.conn.Begin(ctx); err != nil {
			t.failed = fmt.Errorf("begin transaction: %w", err)
			span.RecordError(t.failed)
			return nil, t.failed
		}
		t.begun = true
	}

	first, start := t.executed, time.Now()
	for t.executed < len(t.queries) {
		if err := t.sendSegment(ctx, t.executed, t.segmentEnd(t.executed)); err != nil {
			t.failed = err
			t.observer.StatementsExecuted(t.executed-first, time.Since(start))
			t.observer.StatementFailed()
			span.RecordError(err)
			logger.Debug(ctx, "statement failed", "tx_id", t.ID(), "error", err)
			return nil, err
		}
	}
	t.observer.StatementsExecuted(pending, time.Since(start))
	return t.results, nil
}

// segmentEnd returns the end (exclusive) of the run of statements starting
// at start that can be sent in one round trip: no statement in the run may
// reference another statement of the same run.
func (t *Transaction) segmentEnd(start int) int {
	end := start + 1
	if _, ok := t.conn.(BatchConn); !ok || !t.batching {
		return end
	}
	for end < len(t.queries) && !referencesFrom(t.queries[end], start) {
		end++
	}
	return end
}

func referencesFrom(s Statement, start int) bool {
	for _, ref := range s.References() {
		if ref.Statement >= start {
			return true
		}
	}
	return false
}

func (t *Transaction) sendSegment(ctx context.Context, start, end int) error {
	stmts := make([]Statement, 0, end-start)
	for i := start; i < end; i++ {
		params, err := Resolve(t.queries[i].Params, t.results, i)
		if err != nil {
			return err
		}
		stmts = append(stmts, Statement{SQL: t.queries[i].SQL, Params: params})
	}

	if bc, ok := t.conn.(BatchConn); ok && len(stmts) > 1 {
		results, err := bc.QueryBatch(ctx, stmts)
		t.results = append(t.results, results...)
		t.executed += len(results)
		if err != nil {
			idx := start + len(results)
			var be *BatchError
			if errors.As(err, &be) && be.Index >= 0 && start+be.Index < end {
				idx, err = start+be.Index, be.Err
			}
			if idx >= end {
				idx = end - 1
			}
			return &StatementError{Index: idx, SQL: t.queries[idx].SQL, Err: err}
		}
		return nil
	}

	for i, s := range stmts {
		res, err := t.conn.Query(ctx, s.SQL, s.Params)
		if err != nil {
			return &StatementError{Index: start + i, SQL: s.SQL, Err: err}
		}
		t.results = append(t.results, res)
		t.executed++
	}
	return nil
}

func (t *Transaction) commit(ctx context.Context) error {
	if t.failed != nil {
		return fmt.Errorf("%w: %w", ErrAborted, t.failed)
	}
	if _, err := t.execute(ctx); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "tx.commit", trace.WithAttributes(
		attribute.String("tx.id", t.ID()),
		attribute.Int("tx.statements", len(t.queries)),
	))
	defer span.End()

	if t.begun {
		t.begun = false
		if err := t.conn.Commit(ctx); err != nil {
			t.failed = fmt.Errorf("commit transaction: %w", err)
			span.RecordError(t.failed)
			return t.failed
		}
		t.observer.Committed()
	}

	logger.Debug(ctx, "transaction committed", "tx_id", t.ID(), "statements", len(t.queries))
	callbacks := t.postCommit
	t.reset()
	return runCallbacks("commit", callbacks)
}

func (t *Transaction) rollback(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "tx.rollback", trace.WithAttributes(
		attribute.String("tx.id", t.ID()),
		attribute.Int("tx.statements", len(t.queries)),
	))
	defer span.End()

	var rbErr error
	if t.begun {
		t.begun = false
		// Roll back even if the caller's context is already cancelled.
		if err := t.conn.Rollback(context.WithoutCancel(ctx)); err != nil {
			rbErr = fmt.Errorf("rollback transaction: %w", err)
			span.RecordError(rbErr)
			logger.Error(ctx, "rollback failed", "tx_id", t.ID(), "error", err)
		}
		t.observer.RolledBack()
	}

	logger.Debug(ctx, "transaction rolled back", "tx_id", t.ID(), "statements", len(t.queries))
	callbacks := t.postRollback
	t.reset()
	return errors.Join(rbErr, runCallbacks("rollback", callbacks))
}

// pending reports whether an acquisition or any of its state is still open.
func (t *Transaction) pending() bool {
	return t.depth > 0 || t.begun || t.failed != nil ||
		len(t.queries) > 0 || len(t.postCommit) > 0 || len(t.postRollback) > 0
}

func (t *Transaction) reset() {
	t.queries = nil
	t.results = nil
	t.executed = 0
	t.failed = nil
	t.postCommit = nil
	t.postRollback = nil
}

func runCallbacks(phase string, callbacks []func() error) error {
	var errs []error
	for i, fn := range callbacks {
		if err := safeCall(fn); err != nil {
			errs = append(errs, fmt.Errorf("callback %d: %w", i, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &CallbackError{Phase: phase, Errors: errs}
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
