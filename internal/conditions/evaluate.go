// Package conditions evaluates subscription condition trees against findings.
//
// Evaluation never fails: malformed or unresolvable conditions evaluate to
// false so a subscription only fires when its conditions positively hold.
package conditions

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/djlord-it/findingsd/internal/domain"
)

// Base operators.
const (
	OpEquals     = "equals"
	OpGte        = "gte"
	OpGt         = "gt"
	OpLte        = "lte"
	OpLt         = "lt"
	OpContains   = "contains"
	OpStartsWith = "startsWith"
	OpEndsWith   = "endsWith"
)

// Operator modifiers.
const (
	notPrefix             = "not_"
	anyPrefix             = "or_"
	caseInsensitiveSuffix = "_i"
)

var baseOperators = map[string]bool{
	OpEquals: true, OpGte: true, OpGt: true, OpLte: true,
	OpLt: true, OpContains: true, OpStartsWith: true, OpEndsWith: true,
}

// operator is a parsed leaf operator.
type operator struct {
	base            string
	negate          bool
	any             bool
	caseInsensitive bool
}

func parseOperator(op string) operator {
	var o operator
	if strings.HasSuffix(op, caseInsensitiveSuffix) {
		o.caseInsensitive = true
		op = strings.TrimSuffix(op, caseInsensitiveSuffix)
	}
	for {
		switch {
		case strings.HasPrefix(op, notPrefix):
			op = strings.TrimPrefix(op, notPrefix)
			o.negate = !o.negate
		case strings.HasPrefix(op, anyPrefix):
			op = strings.TrimPrefix(op, anyPrefix)
			o.any = true
		default:
			o.base = op
			return o
		}
	}
}

// Evaluate substitutes the leaves of c against f and evaluates the tree.
// An empty And is true and an empty Or is false.
func Evaluate(c domain.Condition, f *domain.Finding) bool {
	return evaluate(c, NewContext(f))
}

// ShouldExecute reports whether a subscription fires for f: it must not be
// explicitly disabled and every top-level condition must hold.
func ShouldExecute(isEnabled *bool, conditions []domain.Condition, f *domain.Finding) bool {
	if isEnabled != nil && !*isEnabled {
		return false
	}
	return evaluateGroup(conditions, false, NewContext(f))
}

func evaluate(c domain.Condition, ctx Context) bool {
	switch c.Kind {
	case domain.ConditionAnd:
		return evaluateGroup(c.Children, false, ctx)
	case domain.ConditionOr:
		return evaluateGroup(c.Children, true, ctx)
	default:
		return evaluateLeaf(ctx.Substitute(c.LHS), c.Operator, ctx.Substitute(c.RHS))
	}
}

// evaluateGroup combines children with short-circuit. Empty nested groups
// do not take part, so they never change their parent's result.
func evaluateGroup(children []domain.Condition, anyOf bool, ctx Context) bool {
	for _, child := range children {
		if child.Kind != domain.ConditionLeaf && len(child.Children) == 0 {
			continue
		}
		r := evaluate(child, ctx)
		if anyOf && r {
			return true
		}
		if !anyOf && !r {
			return false
		}
	}
	return !anyOf
}

// EvaluateLeaf compares already substituted operands.
func EvaluateLeaf(lhs any, op string, rhs any) bool {
	return evaluateLeaf(lhs, op, rhs)
}

func evaluateLeaf(lhs any, op string, rhs any) bool {
	if op == "" {
		return false
	}
	lhsItems, rhsItems := items(lhs), items(rhs)
	if len(lhsItems) == 0 || len(rhsItems) == 0 {
		return false
	}

	o := parseOperator(op)
	if !baseOperators[o.base] {
		return false
	}

	result := !o.any
	for _, l := range lhsItems {
		if l == nil {
			return false
		}
		if o.caseInsensitive {
			s, ok := l.(string)
			if !ok {
				return false
			}
			l = strings.ToLower(s)
		}

		for _, r := range rhsItems {
			if r == nil {
				return false
			}
			if o.caseInsensitive {
				s, ok := r.(string)
				if !ok {
					return false
				}
				r = strings.ToLower(s)
			}

			ok, defined := compare(o.base, l, r)
			if !defined {
				return false
			}
			if o.negate {
				ok = !ok
			}

			if o.any {
				result = result || ok
			} else {
				result = result && ok
			}
			if result == o.any {
				return result
			}
		}
	}
	return result
}

func items(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

// compare applies a base operator. defined is false when the operand types
// are not supported by the operator.
func compare(op string, l, r any) (result, defined bool) {
	switch op {
	case OpEquals:
		return looseEquals(l, r), true
	case OpGte, OpGt, OpLte, OpLt:
		a, okA := number(l)
		b, okB := number(r)
		if !okA || !okB {
			return false, false
		}
		switch op {
		case OpGte:
			return a >= b, true
		case OpGt:
			return a > b, true
		case OpLte:
			return a <= b, true
		default:
			return a < b, true
		}
	case OpContains, OpStartsWith, OpEndsWith:
		a, okA := l.(string)
		b, okB := r.(string)
		if !okA || !okB {
			return false, false
		}
		switch op {
		case OpContains:
			return strings.Contains(a, b), true
		case OpStartsWith:
			return strings.HasPrefix(a, b), true
		default:
			return strings.HasSuffix(a, b), true
		}
	}
	return false, false
}

// number converts numeric Go values. Booleans and strings are not numbers.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// looseEquals compares scalars with numeric coercion: booleans count as 0
// and 1, numeric strings as their value. Strings compare exactly.
func looseEquals(l, r any) bool {
	if b, ok := l.(bool); ok {
		if rb, ok := r.(bool); ok {
			return b == rb
		}
		l = boolNumber(b)
	}
	if b, ok := r.(bool); ok {
		r = boolNumber(b)
	}

	ls, lIsString := l.(string)
	rs, rIsString := r.(string)
	if lIsString && rIsString {
		return ls == rs
	}

	a, okA := coerceNumber(l)
	b, okB := coerceNumber(r)
	if !okA || !okB || math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	return a == b
}

func boolNumber(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func coerceNumber(v any) (float64, bool) {
	if n, ok := number(v); ok {
		return n, true
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if n, ok := number(v); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
