package tx

import (
	"fmt"
	"reflect"
)

// Params is a validated parameter set for one statement.
// The zero value means the statement takes no parameters.
type Params struct {
	Positional []any
	Named      map[string]any
}

// IsZero reports whether the statement has no parameters.
func (p Params) IsZero() bool {
	return p.Positional == nil && p.Named == nil
}

// Statement is a single queued SQL statement with its parameters.
type Statement struct {
	SQL    string
	Params Params
}

// References returns every Reference found in the parameters, in order.
func (s Statement) References() []Reference {
	var refs []Reference
	for _, v := range s.Params.Positional {
		if ref, ok := v.(Reference); ok {
			refs = append(refs, ref)
		}
	}
	for _, v := range s.Params.Named {
		if ref, ok := v.(Reference); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

var bytesType = reflect.TypeOf([]byte(nil))

// ParseParams validates a caller supplied parameter value.
// Accepted shapes are nil, any slice or array (except []byte) and any map keyed by string.
func ParseParams(params any) (Params, error) {
	if params == nil {
		return Params{}, nil
	}

	switch p := params.(type) {
	case Params:
		if p.Positional != nil && p.Named != nil {
			return Params{}, fmt.Errorf("%w: parameters are either positional or named, not both", ErrInvalidParameter)
		}
		if p.Positional != nil {
			return ParseParams(p.Positional)
		}
		if p.Named != nil {
			return ParseParams(p.Named)
		}
		return Params{}, nil
	case []any:
		return Params{Positional: append([]any{}, p...)}, nil
	case map[string]any:
		named := make(map[string]any, len(p))
		for k, v := range p {
			named[k] = v
		}
		return Params{Named: named}, nil
	}

	v := reflect.ValueOf(params)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Type() == bytesType {
			return Params{}, fmt.Errorf("%w: got %T, want a sequence or a mapping", ErrInvalidParameter, params)
		}
		if v.Kind() == reflect.Slice && v.IsNil() {
			return Params{Positional: []any{}}, nil
		}
		positional := make([]any, v.Len())
		for i := range positional {
			positional[i] = v.Index(i).Interface()
		}
		return Params{Positional: positional}, nil

	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return Params{}, fmt.Errorf("%w: map keys must be strings, got %T", ErrInvalidParameter, params)
		}
		named := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			named[iter.Key().String()] = iter.Value().Interface()
		}
		return Params{Named: named}, nil
	}

	return Params{}, fmt.Errorf("%w: got %T, want a sequence or a mapping", ErrInvalidParameter, params)
}

// ParseParamSets validates the argument of a batch add: a sequence of
// non-nil parameter sets, each a sequence or a mapping.
func ParseParamSets(paramSets any) ([]Params, error) {
	if paramSets == nil {
		return nil, fmt.Errorf("%w: batch parameters must be a sequence of parameter sets", ErrInvalidParameter)
	}

	v := reflect.ValueOf(paramSets)
	if (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) || v.Type() == bytesType {
		return nil, fmt.Errorf("%w: batch parameters must be a sequence, got %T", ErrInvalidParameter, paramSets)
	}

	sets := make([]Params, v.Len())
	for i := range sets {
		elem := v.Index(i).Interface()
		if elem == nil {
			return nil, fmt.Errorf("%w: batch parameter set %d is nil", ErrInvalidParameter, i)
		}
		if p, ok := elem.(Params); ok && p.IsZero() {
			return nil, fmt.Errorf("%w: batch parameter set %d is empty", ErrInvalidParameter, i)
		}
		p, err := ParseParams(elem)
		if err != nil {
			return nil, fmt.Errorf("batch parameter set %d: %w", i, err)
		}
		sets[i] = p
	}
	return sets, nil
}
