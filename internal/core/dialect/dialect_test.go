package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForDriver(t *testing.T) {
	for _, name := range []string{"postgres", "PostgreSQL", "pgx"} {
		d, err := ForDriver(name)
		require.NoError(t, err)
		assert.Equal(t, "postgres", d.Name)
	}

	d, err := ForDriver("sqlite")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name)

	_, err = ForDriver("oracle")
	assert.Error(t, err)
}

func TestBuilderPlaceholders(t *testing.T) {
	sql, args, err := Postgres.Builder().Update("settings").Set("current_patch", "2").ToSql()
	require.NoError(t, err)
	assert.Equal(t, "UPDATE settings SET current_patch = $1", sql)
	assert.Equal(t, []any{"2"}, args)

	sql, _, err = SQLite.Builder().Select("id").From("plate").Where("name = ?", "p1").ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM plate WHERE name = ?", sql)
}

func TestTableExistsSQL(t *testing.T) {
	sql, args := SQLite.TableExistsSQL("settings")
	assert.Contains(t, sql, "sqlite_master")
	assert.Equal(t, []any{"settings"}, args)

	sql, _ = Postgres.TableExistsSQL("settings")
	assert.Contains(t, sql, "$1")
}
