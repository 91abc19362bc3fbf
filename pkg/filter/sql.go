package filter

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Reserved field names addressing document table columns instead of metadata.
const (
	fieldID      = "id"
	fieldContent = "content"
)

type valueKind int

const (
	kindInvalid valueKind = iota
	kindNull
	kindBool
	kindNumber
	kindString
	kindComposite // arrays and objects
)

func classifyValue(v any) valueKind {
	switch v.(type) {
	case nil:
		return kindNull
	case bool:
		return kindBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return kindNumber
	case string:
		return kindString
	case []any, map[string]any:
		return kindComposite
	default:
		return kindInvalid
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

// ToSQL translates a predicate tree into a SQL boolean expression over the
// documents table and its bound arguments. Field paths and comparison values
// are always passed as parameters; no caller-supplied text is interpolated
// into the clause. A nil predicate translates to "1" (match everything).
func ToSQL(e *Expr) (string, []any, error) {
	if e == nil {
		return "1", nil, nil
	}
	if err := Validate(e); err != nil {
		return "", nil, err
	}
	return translate(e)
}

func translate(e *Expr) (string, []any, error) {
	switch e.Op {
	case OpAnd, OpOr:
		return translateLogical(e)
	case OpNot:
		inner := e.Children[0]
		if len(e.Children) > 1 {
			inner = &Expr{Op: OpAnd, Children: e.Children}
		}
		clause, args, err := translate(inner)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + clause + ")", args, nil
	default:
		return translateComparison(e)
	}
}

func translateLogical(e *Expr) (string, []any, error) {
	joiner := " AND "
	if e.Op == OpOr {
		joiner = " OR "
	}

	clauses := make([]string, 0, len(e.Children))
	var args []any
	for _, c := range e.Children {
		clause, childArgs, err := translate(c)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, "("+clause+")")
		args = append(args, childArgs...)
	}
	return strings.Join(clauses, joiner), args, nil
}

func translateComparison(e *Expr) (string, []any, error) {
	field := strings.TrimPrefix(e.Field, "meta.")
	if field == fieldID || field == fieldContent {
		return columnClause(field, e)
	}

	path, err := jsonPath(field)
	if err != nil {
		return "", nil, err
	}
	return metaClause(path, e)
}

// jsonPath compiles a dotted/bracketed field path into a SQLite JSON path.
// Each key segment is double-quoted so keys never merge into path syntax;
// the compiled path is still passed to json_extract as a bound parameter.
func jsonPath(field string) (string, error) {
	var b strings.Builder
	b.WriteString("$")

	for _, seg := range strings.Split(field, ".") {
		if seg == "" {
			return "", fmt.Errorf("%w: empty segment in field path %q", ErrInvalidFilter, field)
		}
		key := seg
		var indexes []string
		for {
			open := strings.LastIndexByte(key, '[')
			if open < 0 || !strings.HasSuffix(key, "]") {
				break
			}
			idx := key[open+1 : len(key)-1]
			if idx == "" || strings.Trim(idx, "0123456789") != "" {
				return "", fmt.Errorf("%w: bad array index in field path %q", ErrInvalidFilter, field)
			}
			indexes = append([]string{idx}, indexes...)
			key = key[:open]
		}
		if key == "" {
			return "", fmt.Errorf("%w: empty key in field path %q", ErrInvalidFilter, field)
		}
		if strings.ContainsAny(key, `"\`) {
			return "", fmt.Errorf("%w: unsupported characters in field path %q", ErrInvalidFilter, field)
		}
		b.WriteString(`."` + key + `"`)
		for _, idx := range indexes {
			b.WriteString("[" + idx + "]")
		}
	}
	return b.String(), nil
}

// metaClause builds the clause for a comparison against a metadata path.
// json_type guards make matching type-aware: a stored value of the wrong
// type family never matches, and an absent field matches only OpMissing.
func metaClause(path string, e *Expr) (string, []any, error) {
	switch e.Op {
	case OpExists:
		return "json_type(meta, ?) IS NOT NULL", []any{path}, nil
	case OpMissing:
		return "json_type(meta, ?) IS NULL", []any{path}, nil
	case OpEq:
		return metaEq(path, e.Value)
	case OpNe:
		eq, args, err := metaEq(path, e.Value)
		if err != nil {
			return "", nil, err
		}
		clause := "(json_type(meta, ?) IS NOT NULL AND NOT (" + eq + "))"
		return clause, append([]any{path}, args...), nil
	case OpGt, OpGte, OpLt, OpLte:
		return metaOrder(path, e)
	case OpIn:
		return metaIn(path, e.Value.([]any))
	case OpNotIn:
		in, args, err := metaIn(path, e.Value.([]any))
		if err != nil {
			return "", nil, err
		}
		clause := "(json_type(meta, ?) IS NOT NULL AND NOT (" + in + "))"
		return clause, append([]any{path}, args...), nil
	}
	return "", nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, e.Op)
}

func metaEq(path string, value any) (string, []any, error) {
	switch classifyValue(value) {
	case kindNull:
		return "json_type(meta, ?) = 'null'", []any{path}, nil
	case kindBool:
		want := "'false'"
		if value.(bool) {
			want = "'true'"
		}
		return "json_type(meta, ?) = " + want, []any{path}, nil
	case kindNumber:
		clause := "(json_type(meta, ?) IN ('integer', 'real') AND json_extract(meta, ?) = ?)"
		return clause, []any{path, path, toFloat(value)}, nil
	case kindString:
		clause := "(json_type(meta, ?) = 'text' AND json_extract(meta, ?) = ?)"
		return clause, []any{path, path, value}, nil
	case kindComposite:
		// json() canonicalizes the comparison value so both sides are
		// minified JSON text.
		raw, err := json.Marshal(value)
		if err != nil {
			return "", nil, fmt.Errorf("%w: unrepresentable comparison value: %v", ErrInvalidFilter, err)
		}
		clause := "(json_type(meta, ?) IN ('array', 'object') AND json_extract(meta, ?) = json(?))"
		return clause, []any{path, path, string(raw)}, nil
	}
	return "", nil, fmt.Errorf("%w: unsupported comparison value type %T", ErrInvalidFilter, value)
}

func metaOrder(path string, e *Expr) (string, []any, error) {
	op := map[Op]string{OpGt: ">", OpGte: ">=", OpLt: "<", OpLte: "<="}[e.Op]

	switch classifyValue(e.Value) {
	case kindNumber:
		clause := "(json_type(meta, ?) IN ('integer', 'real') AND json_extract(meta, ?) " + op + " ?)"
		return clause, []any{path, path, toFloat(e.Value)}, nil
	case kindString:
		clause := "(json_type(meta, ?) = 'text' AND json_extract(meta, ?) " + op + " ?)"
		return clause, []any{path, path, e.Value}, nil
	}
	return "", nil, fmt.Errorf("%w: %q requires a number or string for field %q", ErrInvalidFilter, e.Op, e.Field)
}

func metaIn(path string, values []any) (string, []any, error) {
	if len(values) == 0 {
		return "0", nil, nil
	}
	clauses := make([]string, 0, len(values))
	var args []any
	for _, v := range values {
		clause, vArgs, err := metaEq(path, v)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, vArgs...)
	}
	return "(" + strings.Join(clauses, " OR ") + ")", args, nil
}

// columnClause builds the clause for the reserved "id" and "content" fields,
// which live in typed TEXT columns. Comparisons with non-string values
// cannot match and translate to a constant false.
func columnClause(col string, e *Expr) (string, []any, error) {
	switch e.Op {
	case OpExists:
		return "1", nil, nil
	case OpMissing:
		return "0", nil, nil
	case OpEq:
		s, ok := e.Value.(string)
		if !ok {
			return "0", nil, nil
		}
		return col + " = ?", []any{s}, nil
	case OpNe:
		s, ok := e.Value.(string)
		if !ok {
			return "1", nil, nil
		}
		return col + " != ?", []any{s}, nil
	case OpGt, OpGte, OpLt, OpLte:
		s, ok := e.Value.(string)
		if !ok {
			return "0", nil, nil
		}
		op := map[Op]string{OpGt: ">", OpGte: ">=", OpLt: "<", OpLte: "<="}[e.Op]
		return col + " " + op + " ?", []any{s}, nil
	case OpIn, OpNotIn:
		var args []any
		for _, v := range e.Value.([]any) {
			if s, ok := v.(string); ok {
				args = append(args, s)
			}
		}
		if len(args) == 0 {
			if e.Op == OpIn {
				return "0", nil, nil
			}
			return "1", nil, nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
		if e.Op == OpIn {
			return col + " IN (" + placeholders + ")", args, nil
		}
		return col + " NOT IN (" + placeholders + ")", args, nil
	}
	return "", nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, e.Op)
}
