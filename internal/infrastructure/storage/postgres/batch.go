package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"labcontrol/internal/core/tx"
)

// QueryBatch sends stmts in a single round trip using the extended protocol
// pipeline. Results are read back in order; the first failure stops reading
// and is reported with its position in stmts.
func (c *conn) QueryBatch(ctx context.Context, stmts []tx.Statement) ([]*tx.Result, error) {
	batch := &pgx.Batch{}
	for _, s := range stmts {
		batch.Queue(s.SQL, args(s.Params)...)
	}

	br := c.querier().SendBatch(ctx, batch)
	results := make([]*tx.Result, 0, len(stmts))
	for i := range stmts {
		rows, err := br.Query()
		var res *tx.Result
		if err == nil {
			res, err = collect(rows)
		}
		if err != nil {
			_ = br.Close()
			return results, &tx.BatchError{Index: i, Err: err}
		}
		results = append(results, res)
	}

	if err := br.Close(); err != nil {
		return results, &tx.BatchError{Index: len(stmts) - 1, Err: err}
	}
	return results, nil
}
