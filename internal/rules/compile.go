// Package rules compiles segment rule trees into contact predicates.
//
// A compiled Query can be evaluated in memory with Match or rendered as a
// parameterized PostgreSQL WHERE fragment with SQL. Both forms select the
// same contacts. Rules that cannot be compiled (unknown operator, reserved
// operator, unknown field, bad value) are dropped and reported as warnings.
package rules

import (
	"errors"
	"log/slog"
	"time"

	"herald-go/internal/domain"
)

// WarningKind classifies why a rule was dropped.
type WarningKind string

const (
	// WarningUnknown is an unknown operator or a malformed rule node.
	WarningUnknown WarningKind = "unknown"
	// WarningReserved is an operator that is recognised but not supported.
	WarningReserved WarningKind = "reserved"
	// WarningField is a field path that does not resolve.
	WarningField WarningKind = "field"
	// WarningValue is a value the operator cannot use.
	WarningValue WarningKind = "value"
)

// Warning describes a rule that was dropped during compilation.
type Warning struct {
	Kind     WarningKind `json:"kind"`
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Reason   string      `json:"reason"`
}

// Compiler turns rule groups into queries.
type Compiler struct {
	Logger *slog.Logger
	// Now anchors time-relative operators. Defaults to time.Now.
	Now func() time.Time
}

// NewCompiler creates a compiler using the wall clock.
func NewCompiler(logger *slog.Logger) *Compiler {
	return &Compiler{Logger: logger, Now: time.Now}
}

// Query is a compiled rule tree.
type Query struct {
	root     condition
	Warnings []Warning
}

// Compile compiles the group. It never fails: problems become warnings.
// Extra log attributes (for example the segment id) are attached to each
// warning log line.
func (c *Compiler) Compile(group domain.RuleGroup, logAttrs ...any) *Query {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	s := &compileState{now: now().UTC()}

	root, dropped := s.group(&group)
	if root == nil && dropped > 0 {
		root = constCondition(false)
	}

	if c.Logger != nil {
		for _, w := range s.warnings {
			attrs := append([]any{"kind", w.Kind, "field", w.Field, "operator", w.Operator, "reason", w.Reason}, logAttrs...)
			c.Logger.Warn("dropping rule condition", attrs...)
		}
	}

	return &Query{root: root, Warnings: s.warnings}
}

type compileState struct {
	now      time.Time
	warnings []Warning
}

// group returns the compiled condition, or nil when the group contributes
// nothing, along with the number of its direct children that were dropped.
func (s *compileState) group(g *domain.RuleGroup) (condition, int) {
	and := g.Combinator.Normalize() != domain.CombinatorOr

	var children []condition
	dropped := 0
	for i := range g.Rules {
		node := &g.Rules[i]
		switch {
		case node.Kind == domain.NodeGroup && node.Group != nil:
			child, childDropped := s.group(node.Group)
			if child == nil && childDropped > 0 {
				child = constCondition(false)
			}
			if child != nil {
				children = append(children, child)
			}

		case node.Kind == domain.NodeRule && node.Rule != nil:
			cond, ok := s.rule(node.Rule)
			if !ok {
				dropped++
				continue
			}
			children = append(children, cond)

		default:
			s.warn(WarningUnknown, "", "", "rule node has no rule or group")
			dropped++
		}
	}

	switch len(children) {
	case 0:
		return nil, dropped
	case 1:
		return children[0], dropped
	default:
		return &groupCondition{and: and, children: children}, dropped
	}
}

func (s *compileState) rule(r *domain.Rule) (condition, bool) {
	f, err := resolveField(r.Field)
	if err != nil {
		s.warn(WarningField, r.Field, string(r.Operator), err.Error())
		return nil, false
	}
	cond, err := buildCondition(f, r, s.now)
	if err != nil {
		s.warn(conditionWarningKind(err), r.Field, string(r.Operator), err.Error())
		return nil, false
	}
	return cond, true
}

func conditionWarningKind(err error) WarningKind {
	switch {
	case errors.Is(err, errUnknownOperator):
		return WarningUnknown
	case errors.Is(err, errReservedOperator):
		return WarningReserved
	default:
		return WarningValue
	}
}

func (s *compileState) warn(kind WarningKind, field, op, reason string) {
	s.warnings = append(s.warnings, Warning{Kind: kind, Field: field, Operator: op, Reason: reason})
}

// MatchesAll reports whether the query selects every contact.
func (q *Query) MatchesAll() bool {
	return q.root == nil
}

// Match evaluates the query against one contact.
func (q *Query) Match(c *domain.Contact) bool {
	if q.root == nil {
		return true
	}
	return q.root.match(c)
}

// Filter returns the contacts that match, preserving order.
func (q *Query) Filter(contacts []*domain.Contact) []*domain.Contact {
	out := make([]*domain.Contact, 0, len(contacts))
	for _, c := range contacts {
		if q.Match(c) {
			out = append(out, c)
		}
	}
	return out
}

// SQL renders the query as a boolean expression over the contacts table.
// Placeholders are numbered from firstArg.
func (q *Query) SQL(firstArg int) (string, []any) {
	if q.root == nil {
		return "TRUE", nil
	}
	b := newSQLBuilder(firstArg)
	return q.root.sql(b), b.args
}
