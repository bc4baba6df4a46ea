package patch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labcontrol/internal/core/dialect"
	"labcontrol/internal/core/tx"
	"labcontrol/internal/infrastructure/storage/sqlite"
)

func newTestTransaction(t *testing.T) *tx.Transaction {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, sqlite.Config{Path: filepath.Join(t.TempDir(), "patch.db")})
	require.NoError(t, err)
	trn := tx.New(db)
	t.Cleanup(func() {
		_ = trn.Close(ctx)
		_ = db.Close()
	})
	return trn
}

func file(sql string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(sql)}
}

func tableExists(t *testing.T, trn *tx.Transaction, table string) bool {
	t.Helper()
	var exists bool
	err := trn.RunInTransaction(context.Background(), func(ctx context.Context) error {
		sql, args := dialect.SQLite.TableExistsSQL(table)
		if err := trn.Add(sql, args); err != nil {
			return err
		}
		res, err := trn.ExecuteFetchIndex(ctx, -1)
		exists = err == nil && res != nil && len(res.Rows) > 0
		return err
	})
	require.NoError(t, err)
	return exists
}

func TestSplitStatements(t *testing.T) {
	sql := `-- plates
CREATE TABLE plates (
    plate_id INTEGER PRIMARY KEY,
    name TEXT NOT NULL
);

-- seed
INSERT INTO plates (name) VALUES ('a');
INSERT INTO plates (name) VALUES ('b')`

	assert.Equal(t, []string{
		"CREATE TABLE plates (\n    plate_id INTEGER PRIMARY KEY,\n    name TEXT NOT NULL\n);",
		"INSERT INTO plates (name) VALUES ('a');",
		"INSERT INTO plates (name) VALUES ('b')",
	}, SplitStatements(sql))

	assert.Empty(t, SplitStatements("-- nothing here\n\n;\n"))
}

func TestPatchesNaturalOrder(t *testing.T) {
	r := NewRunner(fstest.MapFS{
		"10.sql":    file("SELECT 10;"),
		"2.sql":     file("SELECT 2;"),
		"1.sql":     file("SELECT 1;"),
		"README.md": file("not a patch"),
	}, dialect.SQLite)

	names, err := r.Patches()
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "10"}, names)
}

func TestCurrentOnFreshDatabase(t *testing.T) {
	trn := newTestTransaction(t)
	r := NewRunner(fstest.MapFS{}, dialect.SQLite)

	current, err := r.Current(context.Background(), trn)
	require.NoError(t, err)
	assert.Equal(t, Unpatched, current)
	assert.False(t, tableExists(t, trn, "settings"))
}

func TestApplyInOrderAndIncrementally(t *testing.T) {
	ctx := context.Background()
	trn := newTestTransaction(t)
	source := fstest.MapFS{
		"1.sql":  file("CREATE TABLE plates (plate_id INTEGER PRIMARY KEY, name TEXT NOT NULL);"),
		"2.sql":  file("ALTER TABLE plates ADD COLUMN discarded BOOLEAN NOT NULL DEFAULT 0;"),
		"10.sql": file("CREATE INDEX idx_plates_name ON plates (name);\nINSERT INTO plates (name) VALUES ('control');"),
	}
	r := NewRunner(source, dialect.SQLite)

	pending, err := r.Pending(ctx, trn)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "10"}, pending)

	applied, err := r.Apply(ctx, trn)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "10"}, applied)

	current, err := r.Current(ctx, trn)
	require.NoError(t, err)
	assert.Equal(t, "10", current)

	applied, err = r.Apply(ctx, trn)
	require.NoError(t, err)
	assert.Empty(t, applied)

	source["11.sql"] = file("CREATE TABLE wells (well_id INTEGER PRIMARY KEY);")
	applied, err = r.Apply(ctx, trn)
	require.NoError(t, err)
	assert.Equal(t, []string{"11"}, applied)
	assert.True(t, tableExists(t, trn, "wells"))
}

func TestApplyFailureRollsBackWholeRun(t *testing.T) {
	ctx := context.Background()
	trn := newTestTransaction(t)
	r := NewRunner(fstest.MapFS{
		"1.sql": file("CREATE TABLE plates (plate_id INTEGER PRIMARY KEY);"),
		"2.sql": file("ALTER TABLE no_such_table ADD COLUMN x INTEGER;"),
	}, dialect.SQLite)

	applied, err := r.Apply(ctx, trn)
	assert.ErrorIs(t, err, tx.ErrStatement)
	assert.Contains(t, err.Error(), "patch 2")
	assert.Nil(t, applied)

	assert.False(t, tableExists(t, trn, "plates"))
	assert.False(t, tableExists(t, trn, "settings"))
}

func TestHooksShareThePatchTransaction(t *testing.T) {
	ctx := context.Background()
	trn := newTestTransaction(t)
	r := NewRunner(fstest.MapFS{
		"1.sql": file("CREATE TABLE plates (plate_id INTEGER PRIMARY KEY, name TEXT NOT NULL);"),
	}, dialect.SQLite)

	var depth int
	r.Register("1", func(ctx context.Context, t *tx.Transaction) error {
		depth = t.Depth()
		return t.Add("INSERT INTO plates (name) VALUES (?)", []any{"from hook"})
	})

	_, err := r.Apply(ctx, trn)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	err = trn.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := trn.Add("SELECT name FROM plates", nil); err != nil {
			return err
		}
		name, err := trn.ExecuteFetchLastValue(ctx)
		assert.Equal(t, "from hook", name)
		return err
	})
	require.NoError(t, err)
}

func TestHookFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	trn := newTestTransaction(t)
	r := NewRunner(fstest.MapFS{
		"1.sql": file("CREATE TABLE plates (plate_id INTEGER PRIMARY KEY);"),
	}, dialect.SQLite)
	errHook := errors.New("backfill failed")
	r.Register("1", func(context.Context, *tx.Transaction) error { return errHook })

	_, err := r.Apply(ctx, trn)
	assert.ErrorIs(t, err, errHook)

	current, err := r.Current(ctx, trn)
	require.NoError(t, err)
	assert.Equal(t, Unpatched, current)
}

func TestRegisterTwicePanics(t *testing.T) {
	r := NewRunner(fstest.MapFS{}, dialect.SQLite)
	hook := func(context.Context, *tx.Transaction) error { return nil }
	r.Register("1", hook)
	assert.Panics(t, func() { r.Register("1", hook) })
}

func TestApplyRejectsUnknownMarker(t *testing.T) {
	ctx := context.Background()
	trn := newTestTransaction(t)
	source := fstest.MapFS{
		"1.sql": file("CREATE TABLE plates (plate_id INTEGER PRIMARY KEY);"),
		"2.sql": file("CREATE TABLE wells (well_id INTEGER PRIMARY KEY);"),
	}
	r := NewRunner(source, dialect.SQLite)
	_, err := r.Apply(ctx, trn)
	require.NoError(t, err)

	delete(source, "2.sql")
	_, err = r.Apply(ctx, trn)
	assert.ErrorIs(t, err, ErrUnknownPatch)

	_, err = r.Pending(ctx, trn)
	assert.ErrorIs(t, err, ErrUnknownPatch)
}
