// Package patch brings a database schema up to date by applying numbered SQL
// patch files in order, recording the last applied patch in the settings table.
package patch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"sort"
	"strings"

	"github.com/maruel/natural"

	"labcontrol/internal/core/dialect"
	"labcontrol/internal/core/tx"
	"labcontrol/pkg/logger"
)

// Unpatched is the marker of a database on which no patch has run.
const Unpatched = "unpatched"

const settingsTable = "settings"

// ErrUnknownPatch is returned when the database marker names a patch that
// is not part of the patch set.
var ErrUnknownPatch = errors.New("patch: database is at an unknown patch")

// Hook runs Go code as part of a patch, after the patch's SQL and before the
// marker moves. It shares the patch run's Transaction.
type Hook func(ctx context.Context, t *tx.Transaction) error

// Runner applies the *.sql files of source in natural order of their names.
type Runner struct {
	source  fs.FS
	dialect dialect.Dialect
	hooks   map[string]Hook
}

// NewRunner creates a runner over the patch files in source.
func NewRunner(source fs.FS, d dialect.Dialect) *Runner {
	return &Runner{source: source, dialect: d, hooks: make(map[string]Hook)}
}

// Register attaches hook to the patch called name (file name without .sql).
func (r *Runner) Register(name string, hook Hook) {
	if _, dup := r.hooks[name]; dup {
		panic(fmt.Sprintf("patch: hook %q registered twice", name))
	}
	r.hooks[name] = hook
}

// Patches returns the patch names in application order.
func (r *Runner) Patches() ([]string, error) {
	files, err := fs.Glob(r.source, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list patches: %w", err)
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = strings.TrimSuffix(path.Base(f), ".sql")
	}
	sort.Sort(natural.StringSlice(names))
	return names, nil
}

// Current returns the last applied patch, or Unpatched.
func (r *Runner) Current(ctx context.Context, t *tx.Transaction) (current string, err error) {
	err = t.RunInTransaction(ctx, func(ctx context.Context) error {
		exists, err := r.settingsExist(ctx, t)
		if err != nil || !exists {
			current = Unpatched
			return err
		}
		current, err = r.readMarker(ctx, t)
		return err
	})
	return current, err
}

// Pending returns the patches that Apply would run.
func (r *Runner) Pending(ctx context.Context, t *tx.Transaction) ([]string, error) {
	current, err := r.Current(ctx, t)
	if err != nil {
		return nil, err
	}
	names, err := r.Patches()
	if err != nil {
		return nil, err
	}
	start, err := position(names, current)
	if err != nil {
		return nil, err
	}
	return names[start:], nil
}

// Apply runs every patch after the current marker. All patches of one run
// share a single acquisition of t, so any failure rolls back the whole run.
// It returns the names of the applied patches.
func (r *Runner) Apply(ctx context.Context, t *tx.Transaction) ([]string, error) {
	var applied []string
	err := t.RunInTransaction(ctx, func(ctx context.Context) error {
		current, err := r.ensureSettings(ctx, t)
		if err != nil {
			return err
		}
		names, err := r.Patches()
		if err != nil {
			return err
		}
		start, err := position(names, current)
		if err != nil {
			return err
		}

		for _, name := range names[start:] {
			logger.Info(ctx, "applying patch", "patch", name, "dialect", r.dialect.Name)
			if err := r.apply(ctx, t, name); err != nil {
				return fmt.Errorf("patch %s: %w", name, err)
			}
			applied = append(applied, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(applied) == 0 {
		logger.Info(ctx, "database is up to date")
	}
	return applied, nil
}

func (r *Runner) apply(ctx context.Context, t *tx.Transaction, name string) error {
	data, err := fs.ReadFile(r.source, name+".sql")
	if err != nil {
		return err
	}
	for _, stmt := range SplitStatements(string(data)) {
		if err := t.Add(stmt, nil); err != nil {
			return err
		}
	}
	if _, err := t.Execute(ctx); err != nil {
		return err
	}

	if hook, ok := r.hooks[name]; ok {
		if err := hook(ctx, t); err != nil {
			return fmt.Errorf("hook: %w", err)
		}
	}

	sql, args, err := r.dialect.Builder().
		Update(settingsTable).
		Set("current_patch", name).
		ToSql()
	if err != nil {
		return fmt.Errorf("build marker update: %w", err)
	}
	if err := t.Add(sql, args); err != nil {
		return err
	}
	_, err = t.Execute(ctx)
	return err
}

func (r *Runner) settingsExist(ctx context.Context, t *tx.Transaction) (bool, error) {
	sql, args := r.dialect.TableExistsSQL(settingsTable)
	if err := t.Add(sql, args); err != nil {
		return false, err
	}
	res, err := t.ExecuteFetchIndex(ctx, -1)
	if err != nil {
		return false, err
	}
	return res != nil && len(res.Rows) > 0, nil
}

// ensureSettings creates and seeds the settings table on a fresh database
// and returns the current marker.
func (r *Runner) ensureSettings(ctx context.Context, t *tx.Transaction) (string, error) {
	exists, err := r.settingsExist(ctx, t)
	if err != nil {
		return "", err
	}
	if exists {
		return r.readMarker(ctx, t)
	}

	logger.Info(ctx, "initializing settings table")
	if err := t.Add("CREATE TABLE "+settingsTable+" (current_patch VARCHAR(255) NOT NULL)", nil); err != nil {
		return "", err
	}
	sql, args, err := r.dialect.Builder().
		Insert(settingsTable).
		Columns("current_patch").
		Values(Unpatched).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build settings seed: %w", err)
	}
	if err := t.Add(sql, args); err != nil {
		return "", err
	}
	if _, err := t.Execute(ctx); err != nil {
		return "", err
	}
	return Unpatched, nil
}

func (r *Runner) readMarker(ctx context.Context, t *tx.Transaction) (string, error) {
	sql, args, err := r.dialect.Builder().
		Select("current_patch").
		From(settingsTable).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build marker query: %w", err)
	}
	if err := t.Add(sql, args); err != nil {
		return "", err
	}
	res, err := t.ExecuteFetchIndex(ctx, -1)
	if err != nil {
		return "", err
	}
	var current string
	if err := res.ScanOne(&current); err != nil {
		return "", fmt.Errorf("read current patch: %w", err)
	}
	return current, nil
}

// position returns the index in names of the first patch after current.
func position(names []string, current string) (int, error) {
	if current == Unpatched {
		return 0, nil
	}
	idx := slices.Index(names, current)
	if idx < 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPatch, current)
	}
	return idx + 1, nil
}
