package tx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	results := []*Result{
		{Columns: []string{"id"}, Rows: [][]any{{int64(7)}, {int64(8)}}},
		nil,
		{Columns: []string{"row", "col"}, Rows: [][]any{{"B", 3}}},
	}

	t.Run("positional", func(t *testing.T) {
		params := Params{Positional: []any{Ref(0, 1, 0), "x", Ref(2, 0, 1)}}
		out, err := Resolve(params, results, 3)
		require.NoError(t, err)
		assert.Equal(t, []any{int64(8), "x", 3}, out.Positional)
		assert.Equal(t, Ref(0, 1, 0), params.Positional[0], "input must not be modified")
	})

	t.Run("named", func(t *testing.T) {
		params := Params{Named: map[string]any{"plate": Ref(0, 0, 0), "row": Ref(2, 0, 0)}}
		out, err := Resolve(params, results, 5)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"plate": int64(7), "row": "B"}, out.Named)
		assert.Equal(t, Ref(0, 0, 0), params.Named["plate"])
	})

	t.Run("no parameters", func(t *testing.T) {
		out, err := Resolve(Params{}, nil, 0)
		require.NoError(t, err)
		assert.True(t, out.IsZero())
	})

	t.Run("without references", func(t *testing.T) {
		out, err := Resolve(Params{Positional: []any{1, "a"}}, nil, 0)
		require.NoError(t, err)
		assert.Equal(t, []any{1, "a"}, out.Positional)
	})
}

func TestResolveRejectsInvalidReferences(t *testing.T) {
	results := []*Result{
		{Columns: []string{"id"}, Rows: [][]any{{int64(7)}}},
		nil,
	}

	cases := map[string]struct {
		ref      Reference
		position int
	}{
		"negative statement":  {Ref(-1, 0, 0), 2},
		"self":                {Ref(2, 0, 0), 2},
		"forward":             {Ref(3, 0, 0), 2},
		"not yet executed":    {Ref(2, 0, 0), 5},
		"no result set":       {Ref(1, 0, 0), 2},
		"row out of range":    {Ref(0, 1, 0), 2},
		"negative row":        {Ref(0, -1, 0), 2},
		"column out of range": {Ref(0, 0, 1), 2},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Resolve(Params{Positional: []any{tc.ref}}, results, tc.position)
			var refErr *InvalidReferenceError
			require.ErrorAs(t, err, &refErr)
			assert.Equal(t, tc.ref, refErr.Ref)
			assert.Equal(t, tc.position, refErr.Position)
			assert.ErrorIs(t, err, ErrInvalidReference)
		})
	}
}

func TestStatementReferences(t *testing.T) {
	s := Statement{SQL: "INSERT INTO well VALUES ($1, $2)", Params: Params{Positional: []any{Ref(0, 0, 0), 5, Ref(2, 1, 0)}}}
	assert.Equal(t, []Reference{Ref(0, 0, 0), Ref(2, 1, 0)}, s.References())
	assert.Empty(t, Statement{SQL: "SELECT 1"}.References())
	assert.Equal(t, "[2][1][0]", Ref(2, 1, 0).String())
}
