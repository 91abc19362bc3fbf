package filter

import (
	"encoding/json"
	"fmt"
)

// jsonNode is the structural wire form of a predicate: comparison
// nodes carry field/operator/value, logical nodes carry operator and
// conditions.
type jsonNode struct {
	Field      string     `json:"field"`
	Operator   string     `json:"operator"`
	Value      any        `json:"value"`
	Conditions []jsonNode `json:"conditions"`
}

// ParseJSON decodes a predicate from its JSON wire form, e.g.
//
//	{"operator": "AND", "conditions": [
//	  {"field": "lang", "operator": "==", "value": "en"},
//	  {"field": "views", "operator": ">", "value": 100}
//	]}
func ParseJSON(data []byte) (*Expr, error) {
	var node jsonNode
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	expr, err := fromNode(node)
	if err != nil {
		return nil, err
	}
	if err := Validate(expr); err != nil {
		return nil, err
	}
	return expr, nil
}

func fromNode(node jsonNode) (*Expr, error) {
	switch node.Operator {
	case "AND", "OR", "NOT":
		if len(node.Conditions) == 0 {
			return nil, fmt.Errorf("%w: %s needs conditions", ErrInvalidFilter, node.Operator)
		}
		children := make([]*Expr, len(node.Conditions))
		for i, cond := range node.Conditions {
			child, err := fromNode(cond)
			if err != nil {
				return nil, err
			}
			children[i] = child
		}
		switch node.Operator {
		case "AND":
			return And(children...), nil
		case "OR":
			return Or(children...), nil
		default:
			return Not(children...), nil
		}
	}

	if node.Field == "" {
		return nil, fmt.Errorf("%w: comparison needs a field", ErrInvalidFilter)
	}

	switch node.Operator {
	case "==":
		return Eq(node.Field, node.Value), nil
	case "!=":
		return Ne(node.Field, node.Value), nil
	case ">":
		return Gt(node.Field, node.Value), nil
	case ">=":
		return Gte(node.Field, node.Value), nil
	case "<":
		return Lt(node.Field, node.Value), nil
	case "<=":
		return Lte(node.Field, node.Value), nil
	case "in":
		values, err := listValue(node.Value)
		if err != nil {
			return nil, err
		}
		return In(node.Field, values...), nil
	case "not in", "not_in":
		values, err := listValue(node.Value)
		if err != nil {
			return nil, err
		}
		return NotIn(node.Field, values...), nil
	case "exists":
		return Exists(node.Field), nil
	case "missing":
		return Missing(node.Field), nil
	case "":
		return nil, fmt.Errorf("%w: missing operator", ErrInvalidFilter)
	default:
		return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, node.Operator)
	}
}

func listValue(v any) ([]any, error) {
	values, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: membership value must be a list", ErrInvalidFilter)
	}
	return values, nil
}
