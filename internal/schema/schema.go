// Package schema embeds the lab database patches for every supported dialect.
package schema

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"labcontrol/internal/core/dialect"
	"labcontrol/internal/core/tx"
	"labcontrol/internal/patch"
)

//go:embed patches
var patches embed.FS

// Patches returns the patch files for d.
func Patches(d dialect.Dialect) (fs.FS, error) {
	sub, err := fs.Sub(patches, "patches/"+d.Name)
	if err != nil {
		return nil, fmt.Errorf("no patches for dialect %s: %w", d.Name, err)
	}
	return sub, nil
}

// NewRunner returns a patch runner over source with the lab's Go hooks
// registered. A nil source selects the embedded patches of d.
func NewRunner(source fs.FS, d dialect.Dialect) (*patch.Runner, error) {
	if source == nil {
		var err error
		if source, err = Patches(d); err != nil {
			return nil, err
		}
	}
	r := patch.NewRunner(source, d)
	r.Register("2", backfillWellCount(d))
	return r, nil
}

// backfillWellCount sets plates.well_count for plates created before the
// column existed.
func backfillWellCount(d dialect.Dialect) patch.Hook {
	return func(ctx context.Context, t *tx.Transaction) error {
		if err := t.Add("SELECT plate_id, count(*) FROM wells GROUP BY plate_id ORDER BY plate_id", nil); err != nil {
			return err
		}
		counts, err := t.ExecuteFetchIndex(ctx, -1)
		if err != nil {
			return err
		}

		for _, row := range counts.Rows {
			sql, args, err := d.Builder().
				Update("plates").
				Set("well_count", row[1]).
				Where("plate_id = ?", row[0]).
				ToSql()
			if err != nil {
				return err
			}
			if err := t.Add(sql, args); err != nil {
				return err
			}
		}
		_, err = t.Execute(ctx)
		return err
	}
}
