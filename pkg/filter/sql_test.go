package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSQLNil(t *testing.T) {
	clause, args, err := ToSQL(nil)
	require.NoError(t, err)
	assert.Equal(t, "1", clause)
	assert.Empty(t, args)
}

func TestToSQLComparisons(t *testing.T) {
	tests := []struct {
		name       string
		expr       *Expr
		wantClause string
		wantArgs   []any
	}{
		{
			name:       "string equality",
			expr:       Eq("lang", "en"),
			wantClause: "(json_type(meta, ?) = 'text' AND json_extract(meta, ?) = ?)",
			wantArgs:   []any{`$."lang"`, `$."lang"`, "en"},
		},
		{
			name:       "numeric equality coerces to float",
			expr:       Eq("rating", 3),
			wantClause: "(json_type(meta, ?) IN ('integer', 'real') AND json_extract(meta, ?) = ?)",
			wantArgs:   []any{`$."rating"`, `$."rating"`, float64(3)},
		},
		{
			name:       "bool equality",
			expr:       Eq("draft", true),
			wantClause: "json_type(meta, ?) = 'true'",
			wantArgs:   []any{`$."draft"`},
		},
		{
			name:       "null equality",
			expr:       Eq("reviewer", nil),
			wantClause: "json_type(meta, ?) = 'null'",
			wantArgs:   []any{`$."reviewer"`},
		},
		{
			name:       "ordering",
			expr:       Gte("date", 1420066800),
			wantClause: "(json_type(meta, ?) IN ('integer', 'real') AND json_extract(meta, ?) >= ?)",
			wantArgs:   []any{`$."date"`, `$."date"`, float64(1420066800)},
		},
		{
			name:       "nested path",
			expr:       Eq("author.name", "kim"),
			wantClause: "(json_type(meta, ?) = 'text' AND json_extract(meta, ?) = ?)",
			wantArgs:   []any{`$."author"."name"`, `$."author"."name"`, "kim"},
		},
		{
			name:       "bracketed path",
			expr:       Eq("tags[0]", "ai"),
			wantClause: "(json_type(meta, ?) = 'text' AND json_extract(meta, ?) = ?)",
			wantArgs:   []any{`$."tags"[0]`, `$."tags"[0]`, "ai"},
		},
		{
			name:       "meta prefix stripped",
			expr:       Eq("meta.lang", "en"),
			wantClause: "(json_type(meta, ?) = 'text' AND json_extract(meta, ?) = ?)",
			wantArgs:   []any{`$."lang"`, `$."lang"`, "en"},
		},
		{
			name:       "exists",
			expr:       Exists("lang"),
			wantClause: "json_type(meta, ?) IS NOT NULL",
			wantArgs:   []any{`$."lang"`},
		},
		{
			name:       "missing",
			expr:       Missing("lang"),
			wantClause: "json_type(meta, ?) IS NULL",
			wantArgs:   []any{`$."lang"`},
		},
		{
			name:       "id column",
			expr:       Eq("id", "doc-1"),
			wantClause: "id = ?",
			wantArgs:   []any{"doc-1"},
		},
		{
			name:       "id in",
			expr:       In("id", "a", "b"),
			wantClause: "id IN (?,?)",
			wantArgs:   []any{"a", "b"},
		},
		{
			name:       "column equality with wrong type never matches",
			expr:       Eq("id", 7),
			wantClause: "0",
			wantArgs:   nil,
		},
		{
			name:       "empty in matches nothing",
			expr:       In("lang"),
			wantClause: "0",
			wantArgs:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clause, args, err := ToSQL(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.wantClause, clause)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestToSQLLogical(t *testing.T) {
	expr := And(
		Eq("lang", "en"),
		Or(Gt("rating", 3), Exists("featured")),
	)
	clause, args, err := ToSQL(expr)
	require.NoError(t, err)
	assert.Equal(t,
		"((json_type(meta, ?) = 'text' AND json_extract(meta, ?) = ?)) AND "+
			"(((json_type(meta, ?) IN ('integer', 'real') AND json_extract(meta, ?) > ?)) OR "+
			"(json_type(meta, ?) IS NOT NULL))",
		clause)
	assert.Len(t, args, 7)
}

func TestToSQLNot(t *testing.T) {
	clause, args, err := ToSQL(Not(Eq("lang", "en")))
	require.NoError(t, err)
	assert.Equal(t, "NOT ((json_type(meta, ?) = 'text' AND json_extract(meta, ?) = ?))", clause)
	assert.Len(t, args, 3)

	// NOT with several children combines them with AND first.
	clause, _, err = ToSQL(Not(Eq("a", "x"), Eq("b", "y")))
	require.NoError(t, err)
	assert.Contains(t, clause, ") AND (")
}

func TestToSQLNotEqualRequiresPresence(t *testing.T) {
	clause, args, err := ToSQL(Ne("lang", "en"))
	require.NoError(t, err)
	assert.Equal(t,
		"(json_type(meta, ?) IS NOT NULL AND NOT ((json_type(meta, ?) = 'text' AND json_extract(meta, ?) = ?)))",
		clause)
	assert.Equal(t, []any{`$."lang"`, `$."lang"`, `$."lang"`, "en"}, args)
}

func TestFieldPathInjectionIsParameterized(t *testing.T) {
	// A hostile field path never reaches the SQL text; it either becomes a
	// bound parameter or is rejected outright.
	clause, args, err := ToSQL(Eq("x') OR 1=1 --", "v"))
	require.NoError(t, err)
	assert.NotContains(t, clause, "1=1")
	assert.Contains(t, args[0], "1=1")

	_, _, err = ToSQL(Eq(`x" --`, "v"))
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestValidateRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		expr *Expr
	}{
		{name: "unknown operator", expr: &Expr{Op: Op("between"), Field: "x", Value: 1}},
		{name: "comparison without field", expr: &Expr{Op: OpEq, Value: 1}},
		{name: "in without list", expr: &Expr{Op: OpIn, Field: "x", Value: "not-a-list"}},
		{name: "logical without children", expr: &Expr{Op: OpAnd}},
		{name: "ordering with bool", expr: Gt("x", true)},
		{name: "ordering with list", expr: Lt("x", []any{1})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.expr)
			assert.ErrorIs(t, err, ErrInvalidFilter)

			_, _, err = ToSQL(tt.expr)
			assert.ErrorIs(t, err, ErrInvalidFilter)
		})
	}
}

func TestJSONPathErrors(t *testing.T) {
	for _, field := range []string{"a..b", "tags[x]", "[0]", `bad"key`} {
		_, _, err := ToSQL(Eq(field, "v"))
		assert.ErrorIs(t, err, ErrInvalidFilter, "field %q", field)
	}
}
