// Package filter compiles URL-style filter query strings into structured
// predicate sets used to scope bulk job listings.
//
// A filter query is one or more clauses separated by a comma that follows a
// closing bracket, each clause of the form:
//
//	fieldName-operation[value1,value2,...]
//
// Commas inside the brackets belong to the value list, which is why clauses
// are split on the literal "]," boundary rather than on every comma.
package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/wolfeidau/queryjobs/internal/jobs"
)

// ErrBadFilter indicates a filter query string that could not be parsed, or
// that names an operation the job store does not support.
var ErrBadFilter = errors.New("malformed filter query")

// Operation identifies how a predicate compares a job field against its
// values. The vocabulary is fixed by the job store.
type Operation string

const (
	OpEquals     Operation = "eq"
	OpIn         Operation = "in"
	OpNotIn      Operation = "notin"
	OpContains   Operation = "contains"
	OpStartsWith Operation = "startswith"
)

// ParseOperation validates an operation token from a filter clause.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OpEquals, OpIn, OpNotIn, OpContains, OpStartsWith:
		return Operation(s), nil
	default:
		return "", fmt.Errorf("%w: unknown operation %q", ErrBadFilter, s)
	}
}

// Predicate is one compiled filter clause. Immutable once built.
type Predicate struct {
	Field     string
	Operation Operation
	Values    []string
}

// Matches reports whether the row satisfies this predicate. A row without
// the predicate's field never matches.
func (p Predicate) Matches(row *jobs.JobRow) bool {
	value, ok := row.Get(p.Field)
	if !ok {
		return false
	}

	switch p.Operation {
	case OpEquals, OpIn:
		for _, v := range p.Values {
			if value == v {
				return true
			}
		}
		return false
	case OpNotIn:
		for _, v := range p.Values {
			if value == v {
				return false
			}
		}
		return true
	case OpContains:
		for _, v := range p.Values {
			if strings.Contains(value, v) {
				return true
			}
		}
		return false
	case OpStartsWith:
		for _, v := range p.Values {
			if strings.HasPrefix(value, v) {
				return true
			}
		}
		return false
	}
	return false
}

// key is the structural identity used to collapse duplicate predicates.
func (p Predicate) key() string {
	return p.Field + "\x00" + string(p.Operation) + "\x00" + strings.Join(p.Values, "\x00")
}

// FilterSet is an insertion-ordered set of unique predicates. An empty
// FilterSet means "no filtering", which is distinct from a filter that can
// never match.
type FilterSet []Predicate

// MatchesAll reports whether the row satisfies every predicate in the set.
// The empty set matches everything.
func (fs FilterSet) MatchesAll(row *jobs.JobRow) bool {
	for _, p := range fs {
		if !p.Matches(row) {
			return false
		}
	}
	return true
}

// clausePattern matches a single clause once the "]," boundaries have been
// resolved: field name, operation, then a non-empty bracketed value list.
var clausePattern = regexp.MustCompile(`^([^\-\[\]]+)-([^\-\[\]]+)\[(.+)\]$`)

// Compile parses a filter query string into a FilterSet. An empty query
// compiles to an empty set. Clause order is preserved and duplicate clauses
// are collapsed by structural equality.
func Compile(query string) (FilterSet, error) {
	if query == "" {
		return FilterSet{}, nil
	}

	clauses := splitClauses(query)

	set := make(FilterSet, 0, len(clauses))
	seen := make(map[string]struct{}, len(clauses))

	for _, clause := range clauses {
		pred, err := parseClause(clause)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[pred.key()]; dup {
			continue
		}
		seen[pred.key()] = struct{}{}
		set = append(set, pred)
	}

	return set, nil
}

// splitClauses splits the query on the "]," boundary between clauses,
// restoring the closing bracket the split consumed. Commas inside a value
// list never follow a bracket, so they survive intact.
func splitClauses(query string) []string {
	parts := strings.Split(query, "],")
	for i := 0; i < len(parts)-1; i++ {
		parts[i] += "]"
	}
	return parts
}

func parseClause(clause string) (Predicate, error) {
	m := clausePattern.FindStringSubmatch(clause)
	if m == nil {
		return Predicate{}, fmt.Errorf("%w: clause %q does not match field-operation[values]", ErrBadFilter, clause)
	}

	op, err := ParseOperation(m[2])
	if err != nil {
		return Predicate{}, err
	}

	// Whitespace inside the brackets is part of the value tokens.
	values := strings.Split(m[3], ",")

	return Predicate{Field: m[1], Operation: op, Values: values}, nil
}
