// Package labrepo implements lab.Repository on top of tx.Transaction.
// The Transaction is obtained from context, so the same repository serves
// every request and every supported dialect.
package labrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"

	"labcontrol/internal/core/apperror"
	"labcontrol/internal/core/dialect"
	"labcontrol/internal/core/tx"
	"labcontrol/internal/domain/lab"
)

// Ensure interface compliance
var _ lab.Repository = (*Repo)(nil)

var (
	plateColumns       = columnsOf[lab.Plate]()
	wellColumns        = columnsOf[lab.Well]()
	compositionColumns = columnsOf[lab.Composition]()
	userColumns        = columnsOf[lab.User]()
)

// Repo implements lab.Repository.
type Repo struct {
	dialect dialect.Dialect
}

// New creates a repository producing SQL for d.
func New(d dialect.Dialect) *Repo {
	return &Repo{dialect: d}
}

// Builder returns a new squirrel builder with the dialect's placeholder format.
func (r *Repo) Builder() squirrel.StatementBuilderType {
	return r.dialect.Builder()
}

// run executes fn as a nested scope of the context's Transaction.
// Panics if there is none; this indicates a missing Transaction middleware.
func (r *Repo) run(ctx context.Context, fn func(ctx context.Context, t *tx.Transaction) error) error {
	t := tx.MustFromContext(ctx)
	return t.RunInTransaction(ctx, func(ctx context.Context) error {
		return fn(ctx, t)
	})
}

// queue builds q and adds it to t, returning its queue position.
func queue(t *tx.Transaction, q squirrel.Sqlizer) (int, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	pos := t.Index()
	if err := t.Add(query, args); err != nil {
		return 0, err
	}
	return pos, nil
}

// CreatePlate inserts the plate and one row per well in a single queue.
// Wells reference the generated plate id, so on pipelining backends the
// whole plate costs two round trips.
func (r *Repo) CreatePlate(ctx context.Context, p lab.NewPlate) (*lab.Plate, error) {
	var plate lab.Plate
	err := r.run(ctx, func(ctx context.Context, t *tx.Transaction) error {
		insert, err := queue(t, r.Builder().
			Insert("plates").
			SetMap(map[string]any{
				"name":        p.Name,
				"num_rows":    p.NumRows,
				"num_columns": p.NumColumns,
				"created_by":  p.CreatedBy,
				"well_count":  p.NumRows * p.NumColumns,
			}).
			Suffix("RETURNING plate_id"))
		if err != nil {
			return err
		}
		plateID := tx.Ref(insert, 0, 0)

		wellSQL, _, err := r.Builder().
			Insert("wells").
			Columns("plate_id", "row_num", "col_num").
			Values(0, 0, 0).
			ToSql()
		if err != nil {
			return fmt.Errorf("build query: %w", err)
		}
		sets := make([][]any, 0, p.NumRows*p.NumColumns)
		for row := 0; row < p.NumRows; row++ {
			for col := 0; col < p.NumColumns; col++ {
				sets = append(sets, []any{plateID, row, col})
			}
		}
		if err := t.AddMany(wellSQL, sets); err != nil {
			return err
		}

		sel, err := queue(t, r.Builder().
			Select(plateColumns...).
			From("plates").
			Where(squirrel.Eq{"plate_id": plateID}))
		if err != nil {
			return err
		}
		res, err := t.ExecuteFetchIndex(ctx, sel)
		if err != nil {
			return err
		}
		return res.ScanOne(&plate)
	})
	if err != nil {
		return nil, err
	}
	return &plate, nil
}

// GetPlate loads a plate and its wells with one Execute.
func (r *Repo) GetPlate(ctx context.Context, id int64) (*lab.Plate, error) {
	var plate lab.Plate
	err := r.run(ctx, func(ctx context.Context, t *tx.Transaction) error {
		pos, err := queue(t, r.Builder().
			Select(plateColumns...).
			From("plates").
			Where(squirrel.Eq{"plate_id": id}))
		if err != nil {
			return err
		}
		if _, err := queue(t, r.Builder().
			Select(wellColumns...).
			From("wells").
			Where(squirrel.Eq{"plate_id": id}).
			OrderBy("row_num", "col_num")); err != nil {
			return err
		}

		results, err := t.Execute(ctx)
		if err != nil {
			return err
		}
		if err := results[pos].ScanOne(&plate); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.NewNotFound("plate", id)
			}
			return fmt.Errorf("scan plate: %w", err)
		}
		plate.Wells = []lab.Well{}
		return results[pos+1].Scan(&plate.Wells)
	})
	if err != nil {
		return nil, err
	}
	return &plate, nil
}

// ListPlates returns plates without their wells.
func (r *Repo) ListPlates(ctx context.Context, filter lab.ListFilter) ([]lab.Plate, error) {
	q := r.Builder().
		Select(plateColumns...).
		From("plates").
		OrderBy("plate_id")
	if !filter.IncludeDiscarded {
		q = q.Where(squirrel.Eq{"discarded": false})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	plates := []lab.Plate{}
	err := r.run(ctx, func(ctx context.Context, t *tx.Transaction) error {
		pos, err := queue(t, q)
		if err != nil {
			return err
		}
		res, err := t.ExecuteFetchIndex(ctx, pos)
		if err != nil {
			return err
		}
		return res.Scan(&plates)
	})
	if err != nil {
		return nil, err
	}
	return plates, nil
}

// SetDiscarded flags a plate as discarded. The statement is only queued;
// it is sent with the next Execute or at commit.
func (r *Repo) SetDiscarded(ctx context.Context, id int64) error {
	return r.run(ctx, func(ctx context.Context, t *tx.Transaction) error {
		_, err := queue(t, r.Builder().
			Update("plates").
			Set("discarded", true).
			Where(squirrel.Eq{"plate_id": id}))
		return err
	})
}

// FindWell looks a well up by its coordinates.
func (r *Repo) FindWell(ctx context.Context, plateID int64, row, column int) (*lab.Well, error) {
	var well lab.Well
	err := r.run(ctx, func(ctx context.Context, t *tx.Transaction) error {
		pos, err := queue(t, r.Builder().
			Select(wellColumns...).
			From("wells").
			Where(squirrel.Eq{"plate_id": plateID, "row_num": row, "col_num": column}))
		if err != nil {
			return err
		}
		res, err := t.ExecuteFetchIndex(ctx, pos)
		if err != nil {
			return err
		}
		if err := res.ScanOne(&well); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.NewNotFound("well", lab.WellLabel(row, column))
			}
			return fmt.Errorf("scan well: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &well, nil
}

// AddComposition inserts a composition and reads it back with its defaults.
func (r *Repo) AddComposition(ctx context.Context, c lab.Composition) (*lab.Composition, error) {
	var comp lab.Composition
	err := r.run(ctx, func(ctx context.Context, t *tx.Transaction) error {
		insert, err := queue(t, r.Builder().
			Insert("compositions").
			SetMap(valuesOf(c, "composition_id", "created_at")).
			Suffix("RETURNING composition_id"))
		if err != nil {
			return err
		}
		sel, err := queue(t, r.Builder().
			Select(compositionColumns...).
			From("compositions").
			Where(squirrel.Eq{"composition_id": tx.Ref(insert, 0, 0)}))
		if err != nil {
			return err
		}
		res, err := t.ExecuteFetchIndex(ctx, sel)
		if err != nil {
			return err
		}
		return res.ScanOne(&comp)
	})
	if err != nil {
		return nil, err
	}
	return &comp, nil
}

// ListCompositions returns every composition of a plate in insertion order.
func (r *Repo) ListCompositions(ctx context.Context, plateID int64) ([]lab.Composition, error) {
	cols := make([]string, len(compositionColumns))
	for i, c := range compositionColumns {
		cols[i] = "c." + c
	}

	comps := []lab.Composition{}
	err := r.run(ctx, func(ctx context.Context, t *tx.Transaction) error {
		pos, err := queue(t, r.Builder().
			Select(cols...).
			From("compositions c").
			Join("wells w ON w.well_id = c.well_id").
			Where(squirrel.Eq{"w.plate_id": plateID}).
			OrderBy("c.composition_id"))
		if err != nil {
			return err
		}
		res, err := t.ExecuteFetchIndex(ctx, pos)
		if err != nil {
			return err
		}
		return res.Scan(&comps)
	})
	if err != nil {
		return nil, err
	}
	return comps, nil
}

// CreateUser inserts a user.
func (r *Repo) CreateUser(ctx context.Context, email, name, passwordHash string) (*lab.User, error) {
	var user lab.User
	err := r.run(ctx, func(ctx context.Context, t *tx.Transaction) error {
		insert, err := queue(t, r.Builder().
			Insert("users").
			Columns("email", "name", "password_hash").
			Values(email, name, passwordHash).
			Suffix("RETURNING user_id"))
		if err != nil {
			return err
		}
		sel, err := queue(t, r.Builder().
			Select(userColumns...).
			From("users").
			Where(squirrel.Eq{"user_id": tx.Ref(insert, 0, 0)}))
		if err != nil {
			return err
		}
		res, err := t.ExecuteFetchIndex(ctx, sel)
		if err != nil {
			return err
		}
		return res.ScanOne(&user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by email.
func (r *Repo) GetUserByEmail(ctx context.Context, email string) (*lab.User, error) {
	var user lab.User
	err := r.run(ctx, func(ctx context.Context, t *tx.Transaction) error {
		pos, err := queue(t, r.Builder().
			Select(userColumns...).
			From("users").
			Where(squirrel.Eq{"email": email}))
		if err != nil {
			return err
		}
		res, err := t.ExecuteFetchIndex(ctx, pos)
		if err != nil {
			return err
		}
		if err := res.ScanOne(&user); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.NewNotFound("user", email)
			}
			return fmt.Errorf("scan user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}
