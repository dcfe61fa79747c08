package rules

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"herald-go/internal/domain"
)

var (
	errUnknownOperator  = errors.New("unknown operator")
	errReservedOperator = errors.New("not supported")
)

// condition is one compiled node. match and sql must agree for every contact.
type condition interface {
	match(c *domain.Contact) bool
	sql(b *sqlBuilder) string
}

// buildCondition compiles a leaf rule. A non-nil error means the rule is
// dropped from the query.
func buildCondition(f *field, r *domain.Rule, now time.Time) (condition, error) {
	op := r.Operator.Normalize()

	switch op {
	case domain.OpEquals, domain.OpNotEquals, domain.OpContains, domain.OpNotContains, domain.OpStartsWith:
		return &textCondition{f: f, op: op, value: strings.ToLower(asText(r.Value))}, nil

	case domain.OpGreaterThan, domain.OpLessThan:
		v := asText(r.Value)
		_, numeric := asNumber(v)
		return &orderCondition{f: f, greater: op == domain.OpGreaterThan, value: v, numeric: numeric}, nil

	case domain.OpIn, domain.OpNotIn:
		return &inCondition{f: f, negate: op == domain.OpNotIn, values: lowerAll(asList(r.Value))}, nil

	case domain.OpIsEmpty, domain.OpIsNotEmpty:
		return &emptyCondition{f: f, negate: op == domain.OpIsNotEmpty}, nil

	case domain.OpWithinLast, domain.OpNotWithinLast:
		threshold, err := relativeThreshold(r, now)
		if err != nil {
			return nil, err
		}
		return &withinCondition{f: f, negate: op == domain.OpNotWithinLast, threshold: threshold}, nil
	}

	if op.IsReserved() {
		return nil, fmt.Errorf("operator %q is %w", op, errReservedOperator)
	}
	return nil, fmt.Errorf("%w %q", errUnknownOperator, op)
}

// relativeThreshold normalizes the rule value to days and returns now minus
// that many days.
func relativeThreshold(r *domain.Rule, now time.Time) (time.Time, error) {
	n, ok := asNumber(strings.TrimSpace(asText(r.Value)))
	if !ok {
		return time.Time{}, fmt.Errorf("value %v is not a number", r.Value)
	}

	days := n
	switch domain.ValueUnit(strings.ToLower(string(r.ValueUnit))) {
	case "", domain.UnitDays:
	case domain.UnitHours:
		days = n.Div(decimal.NewFromInt(24))
	case domain.UnitMinutes:
		days = n.Div(decimal.NewFromInt(1440))
	default:
		return time.Time{}, fmt.Errorf("unknown value unit %q", r.ValueUnit)
	}

	nanos := days.Mul(decimal.NewFromInt(int64(24 * time.Hour))).IntPart()
	return now.Add(-time.Duration(nanos)), nil
}

type textCondition struct {
	f     *field
	op    domain.Operator
	value string
}

func (t *textCondition) match(c *domain.Contact) bool {
	s := strings.ToLower(asText(t.f.get(c)))
	switch t.op {
	case domain.OpEquals:
		return s == t.value
	case domain.OpNotEquals:
		return s != t.value
	case domain.OpContains:
		return strings.Contains(s, t.value)
	case domain.OpNotContains:
		return !strings.Contains(s, t.value)
	case domain.OpStartsWith:
		return strings.HasPrefix(s, t.value)
	}
	return false
}

func (t *textCondition) sql(b *sqlBuilder) string {
	s := fmt.Sprintf("LOWER(COALESCE(%s, ''))", t.f.textSQL(b))
	v := b.bind(t.value) + "::text"
	switch t.op {
	case domain.OpEquals:
		return fmt.Sprintf("%s = %s", s, v)
	case domain.OpNotEquals:
		return fmt.Sprintf("%s <> %s", s, v)
	case domain.OpContains:
		return fmt.Sprintf("POSITION(%s IN %s) > 0", v, s)
	case domain.OpNotContains:
		return fmt.Sprintf("POSITION(%s IN %s) = 0", v, s)
	default:
		return fmt.Sprintf("POSITION(%s IN %s) = 1", v, s)
	}
}

// orderCondition compares numerically when both sides are numbers and
// byte-wise otherwise. Missing or empty fields never match.
type orderCondition struct {
	f       *field
	greater bool
	value   string
	numeric bool
}

func (o *orderCondition) match(c *domain.Contact) bool {
	raw := o.f.get(c)
	s := asText(raw)
	if raw == nil || s == "" {
		return false
	}

	var cmp int
	if o.numeric {
		if a, ok := asNumber(s); ok {
			b, _ := asNumber(o.value)
			cmp = a.Cmp(b)
			return o.holds(cmp)
		}
	}
	cmp = strings.Compare(s, o.value)
	return o.holds(cmp)
}

func (o *orderCondition) holds(cmp int) bool {
	if o.greater {
		return cmp > 0
	}
	return cmp < 0
}

func (o *orderCondition) sql(b *sqlBuilder) string {
	t := "(" + o.f.textSQL(b) + ")"
	v := b.bind(o.value) + "::text"
	sym := "<"
	if o.greater {
		sym = ">"
	}

	lexical := fmt.Sprintf(`%s COLLATE "C" %s %s`, t, sym, v)
	if !o.numeric {
		return fmt.Sprintf("(COALESCE(%s, '') <> '' AND %s)", t, lexical)
	}
	return fmt.Sprintf(
		"(COALESCE(%[1]s, '') <> '' AND CASE WHEN %[1]s ~ '%[2]s' THEN %[1]s::numeric %[3]s (%[4]s)::numeric ELSE %[5]s END)",
		t, sqlNumberPattern, sym, v, lexical,
	)
}

// inCondition tests membership for scalars and overlap for list fields.
type inCondition struct {
	f      *field
	negate bool
	values []string
}

func (in *inCondition) match(c *domain.Contact) bool {
	var hit bool
	if in.f.kind == kindList {
		for _, tag := range tagsFrom(in.f.get(c)) {
			if slices.Contains(in.values, strings.ToLower(tag)) {
				hit = true
				break
			}
		}
	} else {
		hit = slices.Contains(in.values, strings.ToLower(asText(in.f.get(c))))
	}
	return hit != in.negate
}

func (in *inCondition) sql(b *sqlBuilder) string {
	values := in.values
	if values == nil {
		values = []string{}
	}
	var expr string
	if in.f.kind == kindList {
		expr = fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(%s) AS tag WHERE LOWER(tag) = ANY(%s::text[]))", in.f.column, b.bind(values))
	} else {
		expr = fmt.Sprintf("LOWER(COALESCE(%s, '')) = ANY(%s::text[])", in.f.textSQL(b), b.bind(values))
	}
	if in.negate {
		return "NOT " + expr
	}
	return expr
}

func tagsFrom(v any) []string {
	if s, ok := v.([]string); ok {
		return s
	}
	return nil
}

type emptyCondition struct {
	f      *field
	negate bool
}

func (e *emptyCondition) match(c *domain.Contact) bool {
	return (asText(e.f.get(c)) == "") != e.negate
}

func (e *emptyCondition) sql(b *sqlBuilder) string {
	op := "="
	if e.negate {
		op = "<>"
	}
	return fmt.Sprintf("COALESCE(%s, '') %s ''", e.f.textSQL(b), op)
}

// withinCondition compares a timestamp against a fixed threshold. Missing
// or unparseable timestamps never match either direction.
type withinCondition struct {
	f         *field
	negate    bool
	threshold time.Time
}

func (w *withinCondition) match(c *domain.Contact) bool {
	if w.f.kind == kindNumber || w.f.kind == kindList {
		return false
	}
	ts, ok := asTime(w.f.get(c))
	if !ok {
		return false
	}
	if w.negate {
		return ts.Before(w.threshold)
	}
	return !ts.Before(w.threshold)
}

func (w *withinCondition) sql(b *sqlBuilder) string {
	ts := w.f.timeSQL(b)
	op := ">="
	if w.negate {
		op = "<"
	}
	return fmt.Sprintf("(%[1]s IS NOT NULL AND %[1]s %[2]s %[3]s::timestamptz)", ts, op, b.bind(w.threshold))
}

// groupCondition joins children with AND or OR, left to right.
type groupCondition struct {
	and      bool
	children []condition
}

func (g *groupCondition) match(c *domain.Contact) bool {
	result := g.children[0].match(c)
	for _, child := range g.children[1:] {
		if g.and {
			result = result && child.match(c)
		} else {
			result = result || child.match(c)
		}
	}
	return result
}

func (g *groupCondition) sql(b *sqlBuilder) string {
	parts := make([]string, len(g.children))
	for i, child := range g.children {
		parts[i] = child.sql(b)
	}
	if g.and {
		return joinSQL(parts, "AND")
	}
	return joinSQL(parts, "OR")
}

// constCondition is used for groups whose every rule was dropped.
type constCondition bool

func (k constCondition) match(*domain.Contact) bool { return bool(k) }

func (k constCondition) sql(*sqlBuilder) string {
	if k {
		return "TRUE"
	}
	return "FALSE"
}
