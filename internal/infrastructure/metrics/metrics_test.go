package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labcontrol/internal/core/tx"
	"labcontrol/internal/infrastructure/storage/sqlite"
)

func TestObserverCountsTransactions(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	obs, err := NewTxObserver(reg)
	require.NoError(t, err)

	db, err := sqlite.Open(ctx, sqlite.Config{Path: filepath.Join(t.TempDir(), "lab.db")})
	require.NoError(t, err)
	trn := tx.New(db, tx.WithObserver(obs))
	t.Cleanup(func() {
		_ = trn.Close(ctx)
		_ = db.Close()
	})

	require.NoError(t, trn.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := trn.Add("CREATE TABLE reagent (name TEXT PRIMARY KEY)", nil); err != nil {
			return err
		}
		return trn.AddMany("INSERT INTO reagent (name) VALUES (?)", [][]any{{"NaCl"}, {"KCl"}})
	}))

	err = trn.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := trn.Add("INSERT INTO reagent (name) VALUES (?)", []any{"NaCl"}); err != nil {
			return err
		}
		_, err := trn.Execute(ctx)
		return err
	})
	require.True(t, errors.Is(err, tx.ErrStatement))

	assert.Equal(t, 1.0, testutil.ToFloat64(obs.commits))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.rollbacks))
	assert.Equal(t, 3.0, testutil.ToFloat64(obs.statements))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.failures))

	var m dto.Metric
	require.NoError(t, obs.execute.Write(&m))
	assert.Equal(t, uint64(2), m.GetHistogram().GetSampleCount())
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewTxObserver(reg)
	require.NoError(t, err)

	_, err = NewTxObserver(reg)
	assert.Error(t, err)
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := NewTxObserver(reg)
	require.NoError(t, err)
	obs.Committed()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "labcontrol_tx_commits_total 1")
}

type fixedConns struct{ open, inUse, idle int }

func (f fixedConns) ConnStats() (int, int, int) { return f.open, f.inUse, f.idle }

func TestRegisterConnStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterConnStats(reg, fixedConns{open: 5, inUse: 2, idle: 3}))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		values[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
	}
	assert.Equal(t, map[string]float64{
		"labcontrol_db_connections_open":   5,
		"labcontrol_db_connections_in_use": 2,
		"labcontrol_db_connections_idle":   3,
	}, values)

	assert.Error(t, RegisterConnStats(reg, fixedConns{}))
}
