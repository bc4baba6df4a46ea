package labrepo

import (
	"reflect"
	"sync"
)

// fieldInfo describes one db-tagged field of a model.
type fieldInfo struct {
	index  []int
	column string
}

// typeCache holds the db-tagged fields of every model type seen.
var typeCache sync.Map // map[reflect.Type][]fieldInfo

// fieldsOf returns the db-tagged fields of t, embedded structs included.
// Reflection runs once per type.
func fieldsOf(t reflect.Type) []fieldInfo {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := typeCache.Load(t); ok {
		return cached.([]fieldInfo)
	}

	var fields []fieldInfo
	if t.Kind() == reflect.Struct {
		for _, f := range reflect.VisibleFields(t) {
			if f.Anonymous {
				continue
			}
			tag := f.Tag.Get("db")
			if tag == "" || tag == "-" {
				continue
			}
			fields = append(fields, fieldInfo{index: f.Index, column: tag})
		}
	}

	actual, _ := typeCache.LoadOrStore(t, fields)
	return actual.([]fieldInfo)
}

// columnsOf lists the columns of model T in field order.
//
//	columnsOf[lab.Well]() // ["well_id", "plate_id", "row_num", "col_num"]
func columnsOf[T any]() []string {
	fields := fieldsOf(reflect.TypeOf((*T)(nil)).Elem())
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.column
	}
	return cols
}

// valuesOf maps the columns of v to their values, leaving out the columns
// in skip (generated keys, database defaults).
func valuesOf(v any, skip ...string) map[string]any {
	rv := reflect.Indirect(reflect.ValueOf(v))
	if rv.Kind() != reflect.Struct {
		return nil
	}

	fields := fieldsOf(rv.Type())
	res := make(map[string]any, len(fields))
outer:
	for _, f := range fields {
		for _, s := range skip {
			if s == f.column {
				continue outer
			}
		}
		res[f.column] = rv.FieldByIndex(f.index).Interface()
	}
	return res
}
