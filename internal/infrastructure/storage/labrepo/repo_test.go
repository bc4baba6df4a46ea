package labrepo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labcontrol/internal/core/apperror"
	"labcontrol/internal/core/dialect"
	"labcontrol/internal/core/tx"
	"labcontrol/internal/domain/lab"
	"labcontrol/internal/infrastructure/storage/sqlite"
	"labcontrol/internal/schema"
)

// setup returns a patched SQLite database and a context carrying a Transaction on it.
func setup(t *testing.T) (context.Context, *tx.Transaction) {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, sqlite.Config{Path: filepath.Join(t.TempDir(), "lab.db")})
	require.NoError(t, err)
	trn := tx.New(db)
	t.Cleanup(func() {
		_ = trn.Close(ctx)
		_ = db.Close()
	})

	runner, err := schema.NewRunner(nil, dialect.SQLite)
	require.NoError(t, err)
	_, err = runner.Apply(ctx, trn)
	require.NoError(t, err)

	return tx.WithTransaction(ctx, trn), trn
}

func TestCreatePlateCreatesWells(t *testing.T) {
	ctx, _ := setup(t)
	repo := New(dialect.SQLite)

	plate, err := repo.CreatePlate(ctx, lab.NewPlate{Name: "P-001", NumRows: 8, NumColumns: 12})
	require.NoError(t, err)
	assert.NotZero(t, plate.ID)
	assert.Equal(t, "P-001", plate.Name)
	assert.Equal(t, 96, plate.WellCount)
	assert.False(t, plate.Discarded)
	assert.False(t, plate.CreatedAt.IsZero())

	got, err := repo.GetPlate(ctx, plate.ID)
	require.NoError(t, err)
	require.Len(t, got.Wells, 96)
	assert.Equal(t, "A1", got.Wells[0].Label())
	assert.Equal(t, "H12", got.Wells[95].Label())
	for _, w := range got.Wells {
		assert.Equal(t, plate.ID, w.PlateID)
	}
}

func TestCreatePlateDuplicateNameRollsBack(t *testing.T) {
	ctx, _ := setup(t)
	repo := New(dialect.SQLite)

	_, err := repo.CreatePlate(ctx, lab.NewPlate{Name: "dup", NumRows: 1, NumColumns: 2})
	require.NoError(t, err)

	_, err = repo.CreatePlate(ctx, lab.NewPlate{Name: "dup", NumRows: 2, NumColumns: 2})
	require.Error(t, err)
	appErr := apperror.FromTx(err)
	assert.Equal(t, apperror.CodeDuplicate, appErr.Code)

	plates, err := repo.ListPlates(ctx, lab.ListFilter{IncludeDiscarded: true})
	require.NoError(t, err)
	assert.Len(t, plates, 1)
}

func TestGetPlateNotFound(t *testing.T) {
	ctx, _ := setup(t)

	_, err := New(dialect.SQLite).GetPlate(ctx, 42)
	assert.True(t, apperror.IsNotFound(err))
}

func TestListPlatesFiltersDiscarded(t *testing.T) {
	ctx, trn := setup(t)
	repo := New(dialect.SQLite)

	var ids []int64
	for _, name := range []string{"a", "b", "c"} {
		p, err := repo.CreatePlate(ctx, lab.NewPlate{Name: name, NumRows: 1, NumColumns: 1})
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	// SetDiscarded only queues; the scope's release sends it.
	require.NoError(t, trn.RunInTransaction(ctx, func(ctx context.Context) error {
		return repo.SetDiscarded(ctx, ids[1])
	}))

	active, err := repo.ListPlates(ctx, lab.ListFilter{})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].Name)
	assert.Equal(t, "c", active[1].Name)

	all, err := repo.ListPlates(ctx, lab.ListFilter{IncludeDiscarded: true, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].Discarded)

	none, err := repo.ListPlates(ctx, lab.ListFilter{Offset: 10, Limit: 5})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestCompositions(t *testing.T) {
	ctx, _ := setup(t)
	repo := New(dialect.SQLite)

	plate, err := repo.CreatePlate(ctx, lab.NewPlate{Name: "mix", NumRows: 2, NumColumns: 3})
	require.NoError(t, err)

	well, err := repo.FindWell(ctx, plate.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "B3", well.Label())

	first, err := repo.AddComposition(ctx, lab.Composition{
		WellID:  well.ID,
		Reagent: "NaCl",
		Volume:  decimal.RequireFromString("12.5"),
	})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)
	assert.True(t, first.Volume.Equal(decimal.RequireFromString("12.5")))

	_, err = repo.AddComposition(ctx, lab.Composition{
		WellID:  well.ID,
		Reagent: "H2O",
		Volume:  decimal.RequireFromString("7.25"),
	})
	require.NoError(t, err)

	comps, err := repo.ListCompositions(ctx, plate.ID)
	require.NoError(t, err)
	require.Len(t, comps, 2)
	assert.Equal(t, "NaCl", comps[0].Reagent)
	assert.Equal(t, "H2O", comps[1].Reagent)
}

func TestFindWellNotFound(t *testing.T) {
	ctx, _ := setup(t)
	repo := New(dialect.SQLite)

	plate, err := repo.CreatePlate(ctx, lab.NewPlate{Name: "small", NumRows: 1, NumColumns: 1})
	require.NoError(t, err)

	_, err = repo.FindWell(ctx, plate.ID, 3, 3)
	assert.True(t, apperror.IsNotFound(err))
}

func TestCompositionForeignKey(t *testing.T) {
	ctx, _ := setup(t)

	_, err := New(dialect.SQLite).AddComposition(ctx, lab.Composition{
		WellID:  999,
		Reagent: "ghost",
		Volume:  decimal.NewFromInt(1),
	})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeConflict, apperror.FromTx(err).Code)
}

func TestUsers(t *testing.T) {
	ctx, _ := setup(t)
	repo := New(dialect.SQLite)

	created, err := repo.CreateUser(ctx, "ada@lab.example", "Ada", "hash")
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	found, err := repo.GetUserByEmail(ctx, "ada@lab.example")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "hash", found.PasswordHash)

	_, err = repo.GetUserByEmail(ctx, "nobody@lab.example")
	assert.True(t, apperror.IsNotFound(err))
}

func TestRepoPanicsWithoutTransaction(t *testing.T) {
	assert.Panics(t, func() {
		_, _ = New(dialect.SQLite).GetPlate(context.Background(), 1)
	})
}
