// Package dialect holds the few SQL differences between the supported engines.
package dialect

import (
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
)

// Dialect describes one SQL engine.
type Dialect struct {
	Name        string
	Placeholder squirrel.PlaceholderFormat

	// tableExists is a query returning one row when the table exists.
	tableExists string
}

var (
	Postgres = Dialect{
		Name:        "postgres",
		Placeholder: squirrel.Dollar,
		tableExists: "SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1",
	}

	SQLite = Dialect{
		Name:        "sqlite",
		Placeholder: squirrel.Question,
		tableExists: "SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?",
	}
)

// ForDriver returns the dialect registered under name.
func ForDriver(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return Dialect{}, fmt.Errorf("unsupported database driver %q", name)
}

// Builder returns a squirrel statement builder using the dialect's placeholders.
func (d Dialect) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(d.Placeholder)
}

// TableExistsSQL returns a query and its parameters that yield one row if table exists.
func (d Dialect) TableExistsSQL(table string) (string, []any) {
	return d.tableExists, []any{table}
}
