package tx

import (
	"context"
	"errors"
	"strings"
)

// fakeConn records every call made by a Transaction.
// INSERT ... RETURNING yields a generated id, SELECT echoes its positional
// parameters as a single row, everything else yields no result.
type fakeConn struct {
	connects, begins, commits, rollbacks, closes int
	roundTrips                                   int

	received []Statement
	failOn   map[string]error
	nextID   int64

	failBegin  error
	failCommit error
}

func newFakeConn() *fakeConn {
	return &fakeConn{failOn: map[string]error{}}
}

func (f *fakeConn) connector() Connector {
	return ConnectorFunc(func(context.Context) (Conn, error) {
		f.connects++
		return f, nil
	})
}

func (f *fakeConn) Begin(context.Context) error {
	if f.failBegin != nil {
		return f.failBegin
	}
	f.begins++
	return nil
}

func (f *fakeConn) Query(_ context.Context, sql string, params Params) (*Result, error) {
	f.roundTrips++
	return f.run(sql, params)
}

func (f *fakeConn) run(sql string, params Params) (*Result, error) {
	f.received = append(f.received, Statement{SQL: sql, Params: params})
	if err := f.failOn[sql]; err != nil {
		return nil, err
	}
	upper := strings.ToUpper(sql)
	switch {
	case strings.HasPrefix(upper, "INSERT") && strings.Contains(upper, "RETURNING"):
		f.nextID++
		return &Result{Columns: []string{"id"}, Rows: [][]any{{f.nextID}}}, nil
	case strings.HasPrefix(upper, "SELECT"):
		row := append([]any{}, params.Positional...)
		cols := make([]string, len(row))
		for i := range cols {
			cols[i] = "c" + string(rune('0'+i))
		}
		return &Result{Columns: cols, Rows: [][]any{row}}, nil
	}
	return nil, nil
}

func (f *fakeConn) Commit(context.Context) error {
	if f.failCommit != nil {
		return f.failCommit
	}
	f.commits++
	return nil
}

func (f *fakeConn) Rollback(context.Context) error {
	f.rollbacks++
	return nil
}

func (f *fakeConn) Close(context.Context) error {
	f.closes++
	return nil
}

// fakeBatchConn pipelines statements: one round trip per QueryBatch call.
type fakeBatchConn struct {
	*fakeConn
	batches [][]Statement
}

func newFakeBatchConn() *fakeBatchConn {
	return &fakeBatchConn{fakeConn: newFakeConn()}
}

func (f *fakeBatchConn) connector() Connector {
	return ConnectorFunc(func(context.Context) (Conn, error) {
		f.connects++
		return f, nil
	})
}

func (f *fakeBatchConn) QueryBatch(_ context.Context, stmts []Statement) ([]*Result, error) {
	f.roundTrips++
	f.batches = append(f.batches, stmts)
	results := make([]*Result, 0, len(stmts))
	for i, s := range stmts {
		res, err := f.run(s.SQL, s.Params)
		if err != nil {
			return results, &BatchError{Index: i, Err: err}
		}
		results = append(results, res)
	}
	return results, nil
}

var errConstraint = errors.New(`duplicate key value violates unique constraint "plate_pkey"`)
