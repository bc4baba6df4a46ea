package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labcontrol/internal/core/tx"
)

func TestArgs(t *testing.T) {
	assert.Nil(t, args(tx.Params{}))
	assert.Equal(t, []any{1, "a"}, args(tx.Params{Positional: []any{1, "a"}}))

	named := args(tx.Params{Named: map[string]any{"plate": 3}})
	require.Len(t, named, 1)
	assert.Equal(t, pgx.NamedArgs{"plate": 3}, named[0])
}

func TestNormalize(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, id.String(), normalize([16]byte(id)))

	var num pgtype.Numeric
	require.NoError(t, num.Scan("12.50"))
	v := normalize(num)
	d, err := decimal.NewFromString(v.(string))
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("12.5")))

	assert.Equal(t, int32(5), normalize(int32(5)))
	assert.Nil(t, normalize(nil))
}

// openTestPool connects to LABCONTROL_TEST_POSTGRES_DSN or skips.
func openTestPool(t *testing.T) *Pool {
	t.Helper()
	dsn := os.Getenv("LABCONTROL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LABCONTROL_TEST_POSTGRES_DSN not set")
	}
	pool, err := NewPool(context.Background(), DefaultPoolConfig(dsn))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestTransactionOnPostgres(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	trn := tx.New(NewConnector(pool, DefaultTxOptions()))
	t.Cleanup(func() { _ = trn.Close(ctx) })

	require.NoError(t, trn.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := trn.Add("CREATE TEMP TABLE plate (id serial PRIMARY KEY, name text UNIQUE NOT NULL) ON COMMIT PRESERVE ROWS", nil); err != nil {
			return err
		}
		if err := trn.Add("INSERT INTO plate (name) VALUES (@name) RETURNING id", map[string]any{"name": "p1"}); err != nil {
			return err
		}
		if err := trn.Add("SELECT name FROM plate WHERE id = $1", []any{tx.Ref(1, 0, 0)}); err != nil {
			return err
		}
		results, err := trn.Execute(ctx)
		if err != nil {
			return err
		}
		assert.Nil(t, results[0])
		assert.Equal(t, "p1", results[2].Rows[0][0])
		return nil
	}))

	t.Run("failure index and rollback", func(t *testing.T) {
		err := trn.RunInTransaction(ctx, func(ctx context.Context) error {
			sets := make([][]any, 1000)
			for i := range sets {
				sets[i] = []any{"bulk-" + uuid.NewString()}
			}
			if err := trn.AddMany("INSERT INTO plate (name) VALUES ($1)", sets); err != nil {
				return err
			}
			if err := trn.Add("INSERT INTO plate (name) VALUES ($1)", []any{"p1"}); err != nil {
				return err
			}
			_, err := trn.Execute(ctx)
			return err
		})
		var stmtErr *tx.StatementError
		require.True(t, errors.As(err, &stmtErr))
		assert.Equal(t, 1000, stmtErr.Index)

		require.NoError(t, trn.RunInTransaction(ctx, func(ctx context.Context) error {
			if err := trn.Add("SELECT count(*) FROM plate", nil); err != nil {
				return err
			}
			count, err := trn.ExecuteFetchLastValue(ctx)
			assert.Equal(t, int64(1), count)
			return err
		}))
	})
}
