package labrepo

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"labcontrol/internal/domain/lab"
)

type auditFields struct {
	CreatedAt time.Time `db:"created_at"`
}

type taggedModel struct {
	auditFields
	ID      int64  `db:"id"`
	Name    string `db:"name"`
	Ignored string `db:"-"`
	Plain   string
}

func TestColumnsOf(t *testing.T) {
	assert.Equal(t, []string{"created_at", "id", "name"}, columnsOf[taggedModel]())
	assert.Equal(t, []string{"well_id", "plate_id", "row_num", "col_num"}, columnsOf[lab.Well]())
	assert.NotContains(t, columnsOf[lab.Plate](), "wells")
}

func TestValuesOf(t *testing.T) {
	c := lab.Composition{ID: 9, WellID: 3, Reagent: "NaCl", Volume: decimal.RequireFromString("1.5")}

	values := valuesOf(&c, "composition_id", "created_at")
	assert.Equal(t, map[string]any{
		"well_id":   int64(3),
		"reagent":   "NaCl",
		"volume_ul": c.Volume,
	}, values)

	assert.Nil(t, valuesOf(42))
}
