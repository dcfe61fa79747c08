package rules

import (
	"fmt"
	"strings"
)

// sqlBuilder collects positional arguments for a WHERE fragment.
type sqlBuilder struct {
	next int
	args []any
}

func newSQLBuilder(firstArg int) *sqlBuilder {
	if firstArg < 1 {
		firstArg = 1
	}
	return &sqlBuilder{next: firstArg}
}

// bind appends a value and returns its placeholder.
func (b *sqlBuilder) bind(v any) string {
	ph := fmt.Sprintf("$%d", b.next)
	b.next++
	b.args = append(b.args, v)
	return ph
}

const utcTextFormat = `'YYYY-MM-DD"T"HH24:MI:SS"Z"'`

// textSQL renders the field as text, NULL when absent. It matches asText
// applied to the in-memory value.
func (f *field) textSQL(b *sqlBuilder) string {
	if f.jsonPath == nil {
		switch f.kind {
		case kindTime:
			return fmt.Sprintf("to_char(%s AT TIME ZONE 'UTC', %s)", f.column, utcTextFormat)
		case kindList:
			return fmt.Sprintf("array_to_string(%s, ',')", f.column)
		default:
			return f.column
		}
	}

	path := b.bind(f.jsonPath) + "::text[]"
	switch f.kind {
	case kindTime:
		return fmt.Sprintf("to_char((%s #>> %s)::timestamptz AT TIME ZONE 'UTC', %s)", f.column, path, utcTextFormat)
	case kindDynamic:
		return fmt.Sprintf(
			"(CASE jsonb_typeof(%[1]s #> %[2]s) WHEN 'array' THEN (SELECT string_agg(elem, ',') FROM jsonb_array_elements_text(%[1]s #> %[2]s) AS elem) ELSE %[1]s #>> %[2]s END)",
			f.column, path,
		)
	default:
		return fmt.Sprintf("(%s #>> %s)", f.column, path)
	}
}

// timeSQL renders the field as a timestamptz, NULL when absent or not a
// timestamp.
func (f *field) timeSQL(b *sqlBuilder) string {
	switch f.kind {
	case kindTime:
		if f.jsonPath == nil {
			return f.column
		}
		return fmt.Sprintf("(%s #>> %s::text[])::timestamptz", f.column, b.bind(f.jsonPath))
	case kindText, kindDynamic:
		t := f.textSQL(b)
		return fmt.Sprintf("(CASE WHEN %[1]s ~ '%[2]s' THEN (%[1]s)::timestamptz END)", t, sqlTimestampPattern)
	default:
		return "NULL::timestamptz"
	}
}

func joinSQL(parts []string, op string) string {
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")"
}
