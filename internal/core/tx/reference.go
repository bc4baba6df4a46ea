package tx

import "fmt"

// Reference is a parameter placeholder for a value produced by an earlier
// statement of the same transaction: the cell at (Row, Column) of the result
// of the statement at absolute queue position Statement.
//
// References are resolved when the referring statement is sent, so they may
// point at statements queued in the same batch that have not run yet.
type Reference struct {
	Statement int
	Row       int
	Column    int
}

// Ref builds a Reference.
func Ref(statement, row, column int) Reference {
	return Reference{Statement: statement, Row: row, Column: column}
}

func (r Reference) String() string {
	return fmt.Sprintf("[%d][%d][%d]", r.Statement, r.Row, r.Column)
}

// Resolve replaces every Reference in params with the value it points at in
// results. position is the queue position of the statement owning params;
// references must point strictly backward. Resolve does not modify its inputs.
func Resolve(params Params, results []*Result, position int) (Params, error) {
	if params.IsZero() {
		return params, nil
	}

	var out Params
	if params.Positional != nil {
		out.Positional = make([]any, len(params.Positional))
		for i, v := range params.Positional {
			resolved, err := resolveValue(v, results, position)
			if err != nil {
				return Params{}, err
			}
			out.Positional[i] = resolved
		}
	}
	if params.Named != nil {
		out.Named = make(map[string]any, len(params.Named))
		for k, v := range params.Named {
			resolved, err := resolveValue(v, results, position)
			if err != nil {
				return Params{}, err
			}
			out.Named[k] = resolved
		}
	}
	return out, nil
}

func resolveValue(v any, results []*Result, position int) (any, error) {
	ref, ok := v.(Reference)
	if !ok {
		return v, nil
	}

	fail := func(reason string) error {
		return &InvalidReferenceError{Ref: ref, Position: position, Reason: reason}
	}

	switch {
	case ref.Statement < 0:
		return nil, fail("negative statement index")
	case ref.Statement >= position:
		return nil, fail("reference must point to an earlier statement")
	case ref.Statement >= len(results):
		return nil, fail("referenced statement has not been executed")
	}

	res := results[ref.Statement]
	if res == nil {
		return nil, fail("referenced statement produced no result set")
	}
	if ref.Row < 0 || ref.Row >= len(res.Rows) {
		return nil, fail(fmt.Sprintf("row out of range (%d rows)", len(res.Rows)))
	}
	row := res.Rows[ref.Row]
	if ref.Column < 0 || ref.Column >= len(row) {
		return nil, fail(fmt.Sprintf("column out of range (%d columns)", len(row)))
	}
	return row[ref.Column], nil
}
