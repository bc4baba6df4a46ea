package schema

import (
	"context"
	"io/fs"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labcontrol/internal/core/dialect"
	"labcontrol/internal/core/tx"
	"labcontrol/internal/infrastructure/storage/sqlite"
)

func TestEmbeddedPatchSetsMatch(t *testing.T) {
	var sets [][]string
	for _, d := range []dialect.Dialect{dialect.Postgres, dialect.SQLite} {
		r, err := NewRunner(nil, d)
		require.NoError(t, err)
		names, err := r.Patches()
		require.NoError(t, err)
		sets = append(sets, names)
	}
	assert.Equal(t, []string{"1", "2"}, sets[0])
	assert.Equal(t, sets[0], sets[1])
}

func TestWellCountBackfill(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, sqlite.Config{Path: filepath.Join(t.TempDir(), "lab.db")})
	require.NoError(t, err)
	trn := tx.New(db)
	t.Cleanup(func() {
		_ = trn.Close(ctx)
		_ = db.Close()
	})

	embedded, err := Patches(dialect.SQLite)
	require.NoError(t, err)
	first, err := fs.ReadFile(embedded, "1.sql")
	require.NoError(t, err)

	// Bring the database to patch 1 and create data the way an old release would.
	r1, err := NewRunner(fstest.MapFS{"1.sql": {Data: first}}, dialect.SQLite)
	require.NoError(t, err)
	_, err = r1.Apply(ctx, trn)
	require.NoError(t, err)

	require.NoError(t, trn.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := trn.Add("INSERT INTO plates (name, num_rows, num_columns) VALUES (?, 1, 3) RETURNING plate_id", []any{"legacy"}); err != nil {
			return err
		}
		if err := trn.Add("INSERT INTO plates (name, num_rows, num_columns) VALUES (?, 1, 1) RETURNING plate_id", []any{"empty"}); err != nil {
			return err
		}
		return trn.AddMany("INSERT INTO wells (plate_id, row_num, col_num) VALUES (?, ?, ?)", [][]any{
			{tx.Ref(0, 0, 0), 0, 0},
			{tx.Ref(0, 0, 0), 0, 1},
			{tx.Ref(0, 0, 0), 0, 2},
		})
	}))

	r, err := NewRunner(nil, dialect.SQLite)
	require.NoError(t, err)
	applied, err := r.Apply(ctx, trn)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, applied)

	require.NoError(t, trn.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := trn.Add("SELECT name, well_count FROM plates ORDER BY name", nil); err != nil {
			return err
		}
		res, err := trn.ExecuteFetchIndex(ctx, -1)
		if err != nil {
			return err
		}
		assert.Equal(t, [][]any{{"empty", int64(0)}, {"legacy", int64(3)}}, res.Rows)
		return nil
	}))
}
