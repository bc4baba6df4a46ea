package tx

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/georgysavva/scany/v2/dbscan"
)

// Result is the full row set produced by one statement.
// A nil *Result marks a statement that returns no rows at all.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Value returns a single cell.
func (r *Result) Value(row, col int) (any, error) {
	if r == nil {
		return nil, errors.New("tx: statement produced no result set")
	}
	if row < 0 || row >= len(r.Rows) {
		return nil, fmt.Errorf("tx: row %d out of range (%d rows)", row, len(r.Rows))
	}
	if col < 0 || col >= len(r.Rows[row]) {
		return nil, fmt.Errorf("tx: column %d out of range (%d columns)", col, len(r.Rows[row]))
	}
	return r.Rows[row][col], nil
}

var scanAPI = mustNewScanAPI()

func mustNewScanAPI() *dbscan.API {
	api, err := dbscan.NewAPI(dbscan.WithStructTagKey("db"))
	if err != nil {
		panic(fmt.Sprintf("tx: init scan api: %v", err))
	}
	return api
}

// Scan maps every row onto dst, a pointer to a slice of structs, maps or scalars.
func (r *Result) Scan(dst any) error {
	if r == nil {
		return errors.New("tx: statement produced no result set")
	}
	return scanAPI.ScanAll(dst, &resultRows{res: r, pos: -1})
}

// ScanOne maps the single row onto dst. It returns sql.ErrNoRows when the
// result is empty.
func (r *Result) ScanOne(dst any) error {
	if r == nil {
		return errors.New("tx: statement produced no result set")
	}
	err := scanAPI.ScanOne(dst, &resultRows{res: r, pos: -1})
	if dbscan.NotFound(err) {
		return sql.ErrNoRows
	}
	return err
}

// resultRows adapts a materialized Result to dbscan.Rows.
type resultRows struct {
	res *Result
	pos int
}

func (rr *resultRows) Close() error        { return nil }
func (rr *resultRows) Err() error          { return nil }
func (rr *resultRows) NextResultSet() bool { return false }

func (rr *resultRows) Columns() ([]string, error) {
	return rr.res.Columns, nil
}

func (rr *resultRows) Next() bool {
	if rr.pos+1 >= len(rr.res.Rows) {
		return false
	}
	rr.pos++
	return true
}

func (rr *resultRows) Scan(dest ...any) error {
	row := rr.res.Rows[rr.pos]
	if len(dest) != len(row) {
		return fmt.Errorf("tx: scan expects %d destinations, got %d", len(row), len(dest))
	}
	for i, d := range dest {
		if err := assign(d, row[i]); err != nil {
			return fmt.Errorf("tx: column %q: %w", rr.res.Columns[i], err)
		}
	}
	return nil
}

// assign stores src into the pointer dst, converting between compatible kinds.
func assign(dst, src any) error {
	if s, ok := dst.(sql.Scanner); ok {
		return s.Scan(src)
	}

	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("destination must be a non-nil pointer, got %T", dst)
	}
	target := dv.Elem()

	if src == nil {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}

	// Nullable destinations (*T) get a freshly allocated value.
	if target.Kind() == reflect.Pointer {
		fresh := reflect.New(target.Type().Elem())
		if err := assign(fresh.Interface(), src); err != nil {
			return err
		}
		target.Set(fresh)
		return nil
	}

	sv := reflect.ValueOf(src)
	switch {
	case sv.Type().AssignableTo(target.Type()):
		target.Set(sv)
	case target.Kind() == reflect.String && sv.Type() == bytesType:
		target.SetString(string(src.([]byte)))
	case target.Kind() == reflect.Interface:
		target.Set(sv)
	case isNumeric(sv.Kind()) && isNumeric(target.Kind()):
		return convertNumber(target, sv)
	case target.Kind() == reflect.Bool && isNumeric(sv.Kind()):
		// SQLite stores booleans as integers.
		target.SetBool(!sv.IsZero())
	case sv.Type().ConvertibleTo(target.Type()) && sv.Kind() != reflect.String && target.Kind() != reflect.String:
		target.Set(sv.Convert(target.Type()))
	default:
		return fmt.Errorf("cannot assign %T to %s", src, target.Type())
	}
	return nil
}

// convertNumber stores sv into target, rejecting conversions that would
// change the value.
func convertNumber(target, sv reflect.Value) error {
	lossy := fmt.Errorf("cannot store %v in %s without loss", sv.Interface(), target.Type())

	switch {
	case isInt(target.Kind()):
		switch {
		case isInt(sv.Kind()):
			if target.OverflowInt(sv.Int()) {
				return lossy
			}
			target.SetInt(sv.Int())
		case isUint(sv.Kind()):
			u := sv.Uint()
			if u > math.MaxInt64 || target.OverflowInt(int64(u)) {
				return lossy
			}
			target.SetInt(int64(u))
		default:
			f := sv.Float()
			if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 || target.OverflowInt(int64(f)) {
				return lossy
			}
			target.SetInt(int64(f))
		}

	case isUint(target.Kind()):
		switch {
		case isInt(sv.Kind()):
			i := sv.Int()
			if i < 0 || target.OverflowUint(uint64(i)) {
				return lossy
			}
			target.SetUint(uint64(i))
		case isUint(sv.Kind()):
			if target.OverflowUint(sv.Uint()) {
				return lossy
			}
			target.SetUint(sv.Uint())
		default:
			f := sv.Float()
			if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 || target.OverflowUint(uint64(f)) {
				return lossy
			}
			target.SetUint(uint64(f))
		}

	default:
		// Float targets accept any number; float64 to float32 only
		// when the magnitude fits.
		var f float64
		switch {
		case isInt(sv.Kind()):
			f = float64(sv.Int())
		case isUint(sv.Kind()):
			f = float64(sv.Uint())
		default:
			f = sv.Float()
		}
		if target.OverflowFloat(f) {
			return lossy
		}
		target.SetFloat(f)
	}
	return nil
}

func isInt(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUint(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
