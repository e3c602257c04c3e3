package domain

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ConditionKind tags a Condition node.
type ConditionKind int

const (
	ConditionLeaf ConditionKind = iota
	ConditionAnd
	ConditionOr
)

// Condition is a node of a boolean condition tree. Leaves compare LHS and
// RHS with Operator; groups combine Children.
type Condition struct {
	Kind     ConditionKind
	LHS      any
	Operator string
	RHS      any
	Children []Condition
}

// Leaf builds a comparison node.
func Leaf(lhs any, operator string, rhs any) Condition {
	return Condition{Kind: ConditionLeaf, LHS: lhs, Operator: operator, RHS: rhs}
}

// And builds a conjunction.
func And(children ...Condition) Condition {
	return Condition{Kind: ConditionAnd, Children: children}
}

// Or builds a disjunction.
func Or(children ...Condition) Condition {
	return Condition{Kind: ConditionOr, Children: children}
}

type conditionDoc struct {
	LHS      any         `json:"lhs,omitempty" yaml:"lhs,omitempty"`
	Operator string      `json:"operator,omitempty" yaml:"operator,omitempty"`
	RHS      any         `json:"rhs,omitempty" yaml:"rhs,omitempty"`
	And      []Condition `json:"and,omitempty" yaml:"and,omitempty"`
	Or       []Condition `json:"or,omitempty" yaml:"or,omitempty"`
}

// UnmarshalYAML accepts {lhs, operator, rhs}, {and: [...]} or {or: [...]}.
func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("condition: expected mapping at line %d", node.Line)
	}
	keys := map[string]bool{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		keys[node.Content[i].Value] = true
	}
	var doc conditionDoc
	if err := node.Decode(&doc); err != nil {
		return err
	}
	return c.fromDoc(doc, keys["and"], keys["or"])
}

// UnmarshalJSON accepts the same shapes as UnmarshalYAML.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	var doc conditionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	_, isAnd := keys["and"]
	_, isOr := keys["or"]
	return c.fromDoc(doc, isAnd, isOr)
}

func (c *Condition) fromDoc(doc conditionDoc, isAnd, isOr bool) error {
	switch {
	case isAnd && isOr:
		return fmt.Errorf("condition: and/or are mutually exclusive")
	case isAnd:
		*c = And(doc.And...)
	case isOr:
		*c = Or(doc.Or...)
	default:
		*c = Leaf(doc.LHS, doc.Operator, doc.RHS)
	}
	return nil
}

// MarshalJSON writes the node in its document shape.
func (c Condition) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case ConditionAnd:
		return json.Marshal(map[string][]Condition{"and": nonNil(c.Children)})
	case ConditionOr:
		return json.Marshal(map[string][]Condition{"or": nonNil(c.Children)})
	default:
		return json.Marshal(map[string]any{"lhs": c.LHS, "operator": c.Operator, "rhs": c.RHS})
	}
}

func nonNil(c []Condition) []Condition {
	if c == nil {
		return []Condition{}
	}
	return c
}
