// Package filter defines the predicate tree used to select documents by id,
// content, or metadata, and translates it into parameterized SQL runnable
// against the document table.
package filter

import (
	"errors"
	"fmt"
)

// Op identifies a predicate node kind.
type Op string

const (
	OpEq      Op = "=="
	OpNe      Op = "!="
	OpGt      Op = ">"
	OpGte     Op = ">="
	OpLt      Op = "<"
	OpLte     Op = "<="
	OpIn      Op = "in"
	OpNotIn   Op = "not_in"
	OpExists  Op = "exists"
	OpMissing Op = "missing"
	OpAnd     Op = "and"
	OpOr      Op = "or"
	OpNot     Op = "not"
)

// ErrInvalidFilter is returned when a predicate tree is malformed.
var ErrInvalidFilter = errors.New("invalid filter")

// Expr is a node in a predicate tree. Comparison nodes carry Field, Op and
// (for most operators) Value; logical nodes carry Children.
//
// Field addresses either the reserved columns "id" and "content", or a key in
// the document metadata. Metadata paths may be nested with dots and brackets,
// e.g. "author.name" or "tags[0]"; a leading "meta." prefix is accepted and
// stripped.
type Expr struct {
	Op       Op
	Field    string
	Value    any
	Children []*Expr
}

// Eq matches documents whose field equals value, comparing type and value
// jointly.
func Eq(field string, value any) *Expr { return &Expr{Op: OpEq, Field: field, Value: value} }

// Ne matches documents whose field is present and differs from value.
func Ne(field string, value any) *Expr { return &Expr{Op: OpNe, Field: field, Value: value} }

// Gt matches documents whose field is of the same type family as value and
// orders strictly greater.
func Gt(field string, value any) *Expr { return &Expr{Op: OpGt, Field: field, Value: value} }

// Gte is the inclusive variant of Gt.
func Gte(field string, value any) *Expr { return &Expr{Op: OpGte, Field: field, Value: value} }

// Lt matches documents whose field orders strictly less than value.
func Lt(field string, value any) *Expr { return &Expr{Op: OpLt, Field: field, Value: value} }

// Lte is the inclusive variant of Lt.
func Lte(field string, value any) *Expr { return &Expr{Op: OpLte, Field: field, Value: value} }

// In matches documents whose field equals any of the given values.
func In(field string, values ...any) *Expr {
	return &Expr{Op: OpIn, Field: field, Value: values}
}

// NotIn matches documents whose field is present and equals none of the
// given values.
func NotIn(field string, values ...any) *Expr {
	return &Expr{Op: OpNotIn, Field: field, Value: values}
}

// Exists matches documents that carry the field at all.
func Exists(field string) *Expr { return &Expr{Op: OpExists, Field: field} }

// Missing matches documents that do not carry the field.
func Missing(field string) *Expr { return &Expr{Op: OpMissing, Field: field} }

// And matches documents satisfying every child predicate.
func And(children ...*Expr) *Expr { return &Expr{Op: OpAnd, Children: children} }

// Or matches documents satisfying at least one child predicate.
func Or(children ...*Expr) *Expr { return &Expr{Op: OpOr, Children: children} }

// Not inverts a predicate. Multiple children are combined with AND before
// inversion.
func Not(children ...*Expr) *Expr { return &Expr{Op: OpNot, Children: children} }

// Validate checks the structural well-formedness of a predicate tree.
// Translation performs the same checks; Validate lets callers reject bad
// predicates before touching the store.
func Validate(e *Expr) error {
	if e == nil {
		return nil
	}
	switch e.Op {
	case OpAnd, OpOr, OpNot:
		if len(e.Children) == 0 {
			return fmt.Errorf("%w: %q requires at least one child", ErrInvalidFilter, e.Op)
		}
		for _, c := range e.Children {
			if c == nil {
				return fmt.Errorf("%w: nil child under %q", ErrInvalidFilter, e.Op)
			}
			if err := Validate(c); err != nil {
				return err
			}
		}
		return nil
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn, OpExists, OpMissing:
		if e.Field == "" {
			return fmt.Errorf("%w: comparison without field", ErrInvalidFilter)
		}
		if e.Op == OpIn || e.Op == OpNotIn {
			if _, ok := e.Value.([]any); !ok {
				return fmt.Errorf("%w: %q requires a list of values for field %q", ErrInvalidFilter, e.Op, e.Field)
			}
		}
		if e.Op == OpGt || e.Op == OpGte || e.Op == OpLt || e.Op == OpLte {
			switch classifyValue(e.Value) {
			case kindNumber, kindString:
			default:
				return fmt.Errorf("%w: %q requires a number or string for field %q", ErrInvalidFilter, e.Op, e.Field)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, e.Op)
	}
}
