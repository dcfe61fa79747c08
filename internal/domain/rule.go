package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Operator is a rule comparison operator. Operators are matched
// case-insensitively when a rule tree is compiled.
type Operator string

const (
	OpEquals        Operator = "equals"
	OpNotEquals     Operator = "not_equals"
	OpContains      Operator = "contains"
	OpNotContains   Operator = "not_contains"
	OpStartsWith    Operator = "starts_with"
	OpGreaterThan   Operator = "greater_than"
	OpLessThan      Operator = "less_than"
	OpIn            Operator = "in"
	OpNotIn         Operator = "not_in"
	OpIsEmpty       Operator = "is_empty"
	OpIsNotEmpty    Operator = "is_not_empty"
	OpWithinLast    Operator = "within_last"
	OpNotWithinLast Operator = "not_within_last"

	// Reserved operators are accepted by the rule model but not evaluated.
	OpEndsWith Operator = "ends_with"
	OpGte      Operator = "gte"
	OpLte      Operator = "lte"
	OpBetween  Operator = "between"
	OpBefore   Operator = "before"
	OpAfter    Operator = "after"
	OpOn       Operator = "on"
)

// Normalize lower-cases and trims the operator.
func (o Operator) Normalize() Operator {
	return Operator(strings.ToLower(strings.TrimSpace(string(o))))
}

// IsReserved reports whether the operator is part of the rule vocabulary
// but has no evaluation semantics.
func (o Operator) IsReserved() bool {
	switch o.Normalize() {
	case OpEndsWith, OpGte, OpLte, OpBetween, OpBefore, OpAfter, OpOn:
		return true
	default:
		return false
	}
}

// Combinator joins the children of a rule group.
type Combinator string

const (
	CombinatorAnd Combinator = "and"
	CombinatorOr  Combinator = "or"
)

// Normalize lower-cases and trims the combinator.
func (c Combinator) Normalize() Combinator {
	return Combinator(strings.ToLower(strings.TrimSpace(string(c))))
}

// IsValid returns true for "and"/"or" in any case.
func (c Combinator) IsValid() bool {
	n := c.Normalize()
	return n == CombinatorAnd || n == CombinatorOr
}

// ValueUnit is the unit of a time-relative rule value.
type ValueUnit string

const (
	UnitDays    ValueUnit = "days"
	UnitHours   ValueUnit = "hours"
	UnitMinutes ValueUnit = "minutes"
)

// Rule is a leaf predicate: field, operator, value.
type Rule struct {
	Field     string    `json:"field"`
	Operator  Operator  `json:"operator"`
	Value     any       `json:"value,omitempty"`
	ValueUnit ValueUnit `json:"valueUnit,omitempty"`
}

// RuleGroup is an ordered list of rules or nested groups joined by one combinator.
type RuleGroup struct {
	Combinator Combinator `json:"combinator"`
	Rules      []RuleNode `json:"rules"`
}

// NodeKind discriminates the RuleNode variant.
type NodeKind int

const (
	NodeRule NodeKind = iota + 1
	NodeGroup
)

// RuleNode holds exactly one of Rule or Group, selected by Kind.
// The kind is decided once when the node is decoded.
type RuleNode struct {
	Kind  NodeKind
	Rule  *Rule
	Group *RuleGroup
}

// LeafNode wraps a rule as a node.
func LeafNode(r Rule) RuleNode {
	return RuleNode{Kind: NodeRule, Rule: &r}
}

// GroupNode wraps a group as a node.
func GroupNode(g RuleGroup) RuleNode {
	return RuleNode{Kind: NodeGroup, Group: &g}
}

// And builds an AND group.
func And(nodes ...RuleNode) RuleGroup {
	return RuleGroup{Combinator: CombinatorAnd, Rules: nodes}
}

// Or builds an OR group.
func Or(nodes ...RuleNode) RuleGroup {
	return RuleGroup{Combinator: CombinatorOr, Rules: nodes}
}

// UnmarshalJSON decodes a node, treating any object with a "combinator"
// key as a group and everything else as a leaf rule.
func (n *RuleNode) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("rule node must be an object: %w", err)
	}

	if _, ok := probe["combinator"]; ok {
		var g RuleGroup
		if err := json.Unmarshal(data, &g); err != nil {
			return err
		}
		*n = RuleNode{Kind: NodeGroup, Group: &g}
		return nil
	}

	var r Rule
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return err
	}
	r.Value = normalizeJSONNumbers(r.Value)
	*n = RuleNode{Kind: NodeRule, Rule: &r}
	return nil
}

// MarshalJSON encodes the active variant flat.
func (n RuleNode) MarshalJSON() ([]byte, error) {
	switch n.Kind {
	case NodeGroup:
		return json.Marshal(n.Group)
	case NodeRule:
		return json.Marshal(n.Rule)
	default:
		return nil, errors.New("rule node has no kind")
	}
}

// normalizeJSONNumbers keeps numeric literals as their exact decimal text
// so large or fractional values survive until the compiler parses them.
func normalizeJSONNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		return t.String()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeJSONNumbers(e)
		}
		return out
	default:
		return v
	}
}

// Validation errors for rule trees.
var (
	ErrInvalidCombinator = errors.New("combinator must be 'and' or 'or'")
	ErrEmptyRuleField    = errors.New("rule field is required")
	ErrEmptyOperator     = errors.New("rule operator is required")
	ErrInvalidValueUnit  = errors.New("valueUnit must be 'days', 'hours', or 'minutes'")
	ErrMalformedRuleNode = errors.New("rule node has no rule or group")
)

// Validate checks structural integrity. It deliberately does not reject
// unknown operators: stored rule trees are evaluated leniently.
func (g *RuleGroup) Validate() error {
	if !g.Combinator.IsValid() {
		return ErrInvalidCombinator
	}
	for i := range g.Rules {
		if err := g.Rules[i].Validate(); err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate checks the active variant.
func (n *RuleNode) Validate() error {
	switch n.Kind {
	case NodeGroup:
		if n.Group == nil {
			return ErrMalformedRuleNode
		}
		return n.Group.Validate()
	case NodeRule:
		if n.Rule == nil {
			return ErrMalformedRuleNode
		}
		return n.Rule.Validate()
	default:
		return ErrMalformedRuleNode
	}
}

// Validate checks the leaf rule has a field, an operator and a known unit.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.Field) == "" {
		return ErrEmptyRuleField
	}
	if strings.TrimSpace(string(r.Operator)) == "" {
		return ErrEmptyOperator
	}
	switch ValueUnit(strings.ToLower(string(r.ValueUnit))) {
	case "", UnitDays, UnitHours, UnitMinutes:
		return nil
	default:
		return ErrInvalidValueUnit
	}
}

// IsEmpty returns true when the group has no children.
func (g *RuleGroup) IsEmpty() bool {
	return len(g.Rules) == 0
}
