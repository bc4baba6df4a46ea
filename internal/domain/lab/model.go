// Package lab provides the plate and reagent bookkeeping of the lab.
// Every operation runs inside the request's tx.Transaction.
package lab

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"labcontrol/internal/core/apperror"
)

// Plate geometry limits (1536-well plates are 32 x 48).
const (
	MaxRows    = 32
	MaxColumns = 48
)

// User is a lab member allowed to record work.
type User struct {
	ID           int64     `db:"user_id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Name         string    `db:"name" json:"name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// Plate is a multi-well plate.
type Plate struct {
	ID         int64     `db:"plate_id" json:"id"`
	Name       string    `db:"name" json:"name"`
	NumRows    int       `db:"num_rows" json:"numRows"`
	NumColumns int       `db:"num_columns" json:"numColumns"`
	CreatedBy  *int64    `db:"created_by" json:"createdBy,omitempty"`
	Discarded  bool      `db:"discarded" json:"discarded"`
	WellCount  int       `db:"well_count" json:"wellCount"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`

	Wells []Well `db:"-" json:"wells,omitempty"`
}

// Well is one position of a plate. Row and Column are zero-based.
type Well struct {
	ID      int64 `db:"well_id" json:"id"`
	PlateID int64 `db:"plate_id" json:"plateId"`
	Row     int   `db:"row_num" json:"row"`
	Column  int   `db:"col_num" json:"column"`
}

// Label returns the conventional well name, e.g. "A1" or "AF48".
func (w Well) Label() string {
	return WellLabel(w.Row, w.Column)
}

// Composition records a reagent volume dispensed into a well.
type Composition struct {
	ID        int64           `db:"composition_id" json:"id"`
	WellID    int64           `db:"well_id" json:"wellId"`
	Reagent   string          `db:"reagent" json:"reagent"`
	Volume    decimal.Decimal `db:"volume_ul" json:"volume"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

// NewPlate holds the input for Service.CreatePlate.
type NewPlate struct {
	Name       string
	NumRows    int
	NumColumns int
	CreatedBy  *int64
}

// Validate checks plate geometry and naming.
func (p NewPlate) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return apperror.NewValidation("plate name is required").WithDetail("field", "name")
	}
	if p.NumRows < 1 || p.NumRows > MaxRows {
		return apperror.NewValidation(fmt.Sprintf("plate must have 1 to %d rows", MaxRows)).
			WithDetail("field", "numRows").
			WithDetail("value", p.NumRows)
	}
	if p.NumColumns < 1 || p.NumColumns > MaxColumns {
		return apperror.NewValidation(fmt.Sprintf("plate must have 1 to %d columns", MaxColumns)).
			WithDetail("field", "numColumns").
			WithDetail("value", p.NumColumns)
	}
	return nil
}

// NewComposition holds the input for Service.AddComposition.
type NewComposition struct {
	Well    string // label, e.g. "B3"
	Reagent string
	Volume  decimal.Decimal // microliters
}

// Validate checks reagent and volume.
func (c NewComposition) Validate() error {
	if strings.TrimSpace(c.Reagent) == "" {
		return apperror.NewValidation("reagent is required").WithDetail("field", "reagent")
	}
	if !c.Volume.IsPositive() {
		return apperror.NewValidation("volume must be positive").
			WithDetail("field", "volume").
			WithDetail("value", c.Volume.String())
	}
	if _, _, err := ParseWellLabel(c.Well); err != nil {
		return err
	}
	return nil
}

// WellLabel formats zero-based coordinates: rows A..Z then AA..AF, columns from 1.
func WellLabel(row, column int) string {
	var letters string
	if row >= 26 {
		letters = string(rune('A'+row/26-1)) + string(rune('A'+row%26))
	} else {
		letters = string(rune('A' + row))
	}
	return letters + strconv.Itoa(column+1)
}

var wellLabelPattern = regexp.MustCompile(`^([A-Z]{1,2})([0-9]{1,2})$`)

// ParseWellLabel is the inverse of WellLabel.
func ParseWellLabel(label string) (row, column int, err error) {
	m := wellLabelPattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(label)))
	if m == nil {
		return 0, 0, apperror.NewValidation("invalid well label").
			WithDetail("field", "well").
			WithDetail("value", label)
	}
	letters := m[1]
	if len(letters) == 2 {
		row = int(letters[0]-'A'+1)*26 + int(letters[1]-'A')
	} else {
		row = int(letters[0] - 'A')
	}
	column, _ = strconv.Atoi(m[2])
	column--
	if row >= MaxRows || column < 0 || column >= MaxColumns {
		return 0, 0, apperror.NewValidation("well label out of range").
			WithDetail("field", "well").
			WithDetail("value", label)
	}
	return row, column, nil
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func isValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}
