package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONComparison(t *testing.T) {
	expr, err := ParseJSON([]byte(`{"field": "lang", "operator": "==", "value": "en"}`))
	require.NoError(t, err)
	assert.Equal(t, OpEq, expr.Op)
	assert.Equal(t, "lang", expr.Field)
	assert.Equal(t, "en", expr.Value)
}

func TestParseJSONLogicalTree(t *testing.T) {
	expr, err := ParseJSON([]byte(`{
		"operator": "AND",
		"conditions": [
			{"field": "lang", "operator": "in", "value": ["en", "fr"]},
			{"operator": "NOT", "conditions": [
				{"field": "draft", "operator": "==", "value": true}
			]}
		]
	}`))
	require.NoError(t, err)
	require.Equal(t, OpAnd, expr.Op)
	require.Len(t, expr.Children, 2)
	assert.Equal(t, OpIn, expr.Children[0].Op)
	assert.Equal(t, []any{"en", "fr"}, expr.Children[0].Value)
	assert.Equal(t, OpNot, expr.Children[1].Op)

	// The parsed tree translates like a hand-built one.
	_, _, err = ToSQL(expr)
	require.NoError(t, err)
}

func TestParseJSONExistence(t *testing.T) {
	expr, err := ParseJSON([]byte(`{"field": "tags", "operator": "exists"}`))
	require.NoError(t, err)
	assert.Equal(t, OpExists, expr.Op)

	expr, err = ParseJSON([]byte(`{"field": "tags", "operator": "missing"}`))
	require.NoError(t, err)
	assert.Equal(t, OpMissing, expr.Op)
}

func TestParseJSONRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"unknown operator":  `{"field": "x", "operator": "~", "value": 1}`,
		"missing operator":  `{"field": "x", "value": 1}`,
		"missing field":     `{"operator": "==", "value": 1}`,
		"empty conditions":  `{"operator": "AND", "conditions": []}`,
		"scalar membership": `{"field": "x", "operator": "in", "value": "en"}`,
		"ordering on bool":  `{"field": "x", "operator": ">", "value": true}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseJSON([]byte(payload))
			assert.ErrorIs(t, err, ErrInvalidFilter)
		})
	}
}
