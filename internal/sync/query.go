package sync

import (
	"fmt"
	"strings"

	"github.com/njoerd114/batchrelay/internal/record"
)

// QueryCapabilities records which fields the store can match with a
// membership predicate ("field in (...)"). Fields it does not list support
// membership. Date fields, for example, reject "in" and must be matched with
// OR-ed equalities instead.
type QueryCapabilities struct {
	noMembership map[string]bool
}

// DefaultNoMembershipFields are the fields treated as lacking membership
// support when no capability table is configured.
var DefaultNoMembershipFields = []string{"date"}

// NewQueryCapabilities returns a table marking the given fields as lacking
// membership support.
func NewQueryCapabilities(noMembership ...string) QueryCapabilities {
	m := make(map[string]bool, len(noMembership))
	for _, f := range noMembership {
		m[f] = true
	}
	return QueryCapabilities{noMembership: m}
}

// SupportsMembership reports whether field may appear in an "in" predicate.
func (c QueryCapabilities) SupportsMembership(field string) bool {
	return !c.noMembership[field]
}

// quoteValue renders v as a query literal: strings double-quoted with
// backslash escapes, numbers and booleans bare.
func quoteValue(v any) string {
	s, ok := v.(string)
	if !ok {
		return record.KeyString(v)
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func equalsClause(field string, v any) string {
	return fmt.Sprintf("%s = %s", field, quoteValue(v))
}

// singleFieldQuery matches any of values on field, using "in" when the field
// supports it and OR-ed equalities otherwise.
func (c QueryCapabilities) singleFieldQuery(field string, values []any) string {
	if c.SupportsMembership(field) {
		lits := make([]string, len(values))
		for i, v := range values {
			lits[i] = quoteValue(v)
		}
		return fmt.Sprintf("%s in (%s)", field, strings.Join(lits, ", "))
	}

	clauses := make([]string, len(values))
	for i, v := range values {
		clauses[i] = equalsClause(field, v)
	}
	return "(" + strings.Join(clauses, " or ") + ")"
}

// compositeClause matches r on every field of spec. It reports false when a
// key field is missing.
func compositeClause(r record.Record, spec record.KeySpec) (string, bool) {
	parts := make([]string, 0, len(spec))
	for _, f := range spec {
		v, ok := record.Extract(r, f)
		if !ok {
			return "", false
		}
		parts = append(parts, equalsClause(f, v))
	}
	return "(" + strings.Join(parts, " and ") + ")", true
}
