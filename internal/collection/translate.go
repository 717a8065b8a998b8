package collection

import (
	"fmt"
	"reflect"
	"strings"
)

// Translator turns the shared operator set into one backend's native
// condition type. Each backend implements it once.
type Translator[T any] interface {
	Eq(field string, value any) (T, error)
	Neq(field string, value any) (T, error)
	In(field string, values []any) (T, error)
	Contains(field string, value any) (T, error)
	Range(field string, op Operator, value any) (T, error)
}

// Translate dispatches a validated filter to the translator.
func Translate[T any](t Translator[T], f Filter) (T, error) {
	var zero T
	if err := f.Validate(); err != nil {
		return zero, err
	}
	switch f.Operator {
	case OpEq:
		return t.Eq(f.Field, f.Value)
	case OpNeq:
		return t.Neq(f.Field, f.Value)
	case OpIn:
		values, _ := asList(f.Value)
		return t.In(f.Field, values)
	case OpContains:
		return t.Contains(f.Field, f.Value)
	case OpGt, OpGte, OpLt, OpLte:
		return t.Range(f.Field, f.Operator, f.Value)
	}
	return zero, configErr("unknown operator %q", f.Operator)
}

// Predicate is an in-memory condition over a record.
type Predicate func(Record) bool

// PredicateTranslator evaluates filters in process. Document backends use
// it for queries and the Store uses it to re-filter pushed changes.
type PredicateTranslator struct{}

// Eq matches equal values; a nil value matches missing or null fields.
func (PredicateTranslator) Eq(field string, value any) (Predicate, error) {
	return func(r Record) bool {
		v, _ := r.Value(field)
		return EqualValues(v, value)
	}, nil
}

// Neq is the negation of Eq.
func (PredicateTranslator) Neq(field string, value any) (Predicate, error) {
	return func(r Record) bool {
		v, _ := r.Value(field)
		return !EqualValues(v, value)
	}, nil
}

// In matches when the field equals any of values.
func (PredicateTranslator) In(field string, values []any) (Predicate, error) {
	return func(r Record) bool {
		v, _ := r.Value(field)
		for _, candidate := range values {
			if EqualValues(v, candidate) {
				return true
			}
		}
		return false
	}, nil
}

// Contains matches array fields holding an element equal to value. It is
// membership only, as in SQL "value = ANY(column)"; text search belongs to
// the search term.
func (PredicateTranslator) Contains(field string, value any) (Predicate, error) {
	return func(r Record) bool {
		v, ok := r.Value(field)
		if !ok || v == nil {
			return false
		}
		list, isList := asList(v)
		if !isList {
			return false
		}
		for _, item := range list {
			if EqualValues(item, value) {
				return true
			}
		}
		return false
	}, nil
}

// Range handles gt, gte, lt and lte. Incomparable values never match.
func (PredicateTranslator) Range(field string, op Operator, value any) (Predicate, error) {
	return func(r Record) bool {
		v, ok := r.Value(field)
		if !ok || v == nil {
			return false
		}
		c, comparable := CompareValues(v, value)
		if !comparable {
			return false
		}
		switch op {
		case OpGt:
			return c > 0
		case OpGte:
			return c >= 0
		case OpLt:
			return c < 0
		case OpLte:
			return c <= 0
		}
		return false
	}, nil
}

// Matcher decides whether a record belongs to a query's result set.
type Matcher struct {
	predicates []Predicate
	term       string
	fields     []string
	mode       SearchMode
}

// NewMatcher compiles the filters and search of q.
func NewMatcher(q Query, mode SearchMode) (*Matcher, error) {
	m := &Matcher{
		term:   strings.ToLower(strings.TrimSpace(q.SearchTerm)),
		fields: q.SearchFields,
		mode:   mode,
	}
	for _, f := range q.Filters {
		p, err := Translate[Predicate](PredicateTranslator{}, f)
		if err != nil {
			return nil, err
		}
		m.predicates = append(m.predicates, p)
	}
	return m, nil
}

// Match reports whether r satisfies every filter and the search term.
func (m *Matcher) Match(r Record) bool {
	for _, p := range m.predicates {
		if !p(r) {
			return false
		}
	}
	return m.matchSearch(r)
}

func (m *Matcher) matchSearch(r Record) bool {
	if m.term == "" {
		return true
	}
	for _, field := range m.fields {
		v, ok := r.Value(field)
		if !ok || v == nil {
			continue
		}
		text := strings.ToLower(searchText(v))
		if m.mode == SearchPrefix {
			if strings.HasPrefix(text, m.term) {
				return true
			}
			continue
		}
		if strings.Contains(text, m.term) {
			return true
		}
	}
	return false
}

func searchText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice {
		parts := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			parts = append(parts, fmt.Sprint(rv.Index(i).Interface()))
		}
		return strings.Join(parts, " ")
	}
	return fmt.Sprint(v)
}
