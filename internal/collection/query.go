package collection

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

// Direction controls result ordering.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Operator names a filter comparison understood by every backend.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
)

// DefaultOrderField is used when a query does not name one.
const DefaultOrderField = "created_at"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Filter is a single field condition. Filters in a query are ANDed.
type Filter struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Cursor is an opaque backend pagination token. The zero value means "first page".
type Cursor string

// Query describes which page of a source to fetch.
type Query struct {
	Source       string    `json:"source"`
	PageSize     int       `json:"pageSize"`
	OrderBy      string    `json:"orderBy"`
	Direction    Direction `json:"direction"`
	Filters      []Filter  `json:"filters,omitempty"`
	SearchTerm   string    `json:"searchTerm,omitempty"`
	SearchFields []string  `json:"searchFields,omitempty"`
	Cursor       Cursor    `json:"cursor,omitempty"`
}

// Normalize fills in ordering defaults without touching anything else.
func (q Query) Normalize() Query {
	if q.OrderBy == "" {
		q.OrderBy = DefaultOrderField
	}
	if q.Direction == "" {
		q.Direction = Asc
	}
	q.Direction = Direction(strings.ToLower(string(q.Direction)))
	q.SearchTerm = strings.TrimSpace(q.SearchTerm)
	return q
}

// Validate checks the query shape. Failures are configuration errors and
// are reported before any backend call is made.
func (q Query) Validate() error {
	if !ValidIdentifier(q.Source) {
		return configErr("invalid source name %q", q.Source)
	}
	if q.PageSize <= 0 {
		return configErr("page size must be positive, got %d", q.PageSize)
	}
	if !ValidIdentifier(q.OrderBy) {
		return configErr("invalid order field %q", q.OrderBy)
	}
	if q.Direction != Asc && q.Direction != Desc {
		return configErr("invalid order direction %q", q.Direction)
	}
	for _, f := range q.Filters {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	for _, field := range q.SearchFields {
		if !ValidIdentifier(field) {
			return configErr("invalid search field %q", field)
		}
	}
	if q.SearchTerm != "" && len(q.SearchFields) == 0 {
		return configErr("search term requires at least one search field")
	}
	return nil
}

// Validate checks a single filter.
func (f Filter) Validate() error {
	if !ValidIdentifier(f.Field) {
		return configErr("invalid filter field %q", f.Field)
	}
	switch f.Operator {
	case OpEq, OpNeq, OpContains, OpGt, OpGte, OpLt, OpLte:
		if f.Operator != OpEq && f.Operator != OpNeq && f.Value == nil {
			return configErr("operator %s on %q requires a value", f.Operator, f.Field)
		}
		if _, isList := asList(f.Value); isList {
			return configErr("operator %s on %q does not accept a list", f.Operator, f.Field)
		}
	case OpIn:
		values, ok := asList(f.Value)
		if !ok || len(values) == 0 {
			return configErr("operator in on %q requires a non-empty list", f.Field)
		}
	default:
		return configErr("unknown operator %q on %q", f.Operator, f.Field)
	}
	return nil
}

// Values returns the operand of an in filter as a list.
func (f Filter) Values() ([]any, bool) {
	return asList(f.Value)
}

// WithSearch returns a first-page copy of q with the given search applied.
func (q Query) WithSearch(term string, fields []string) Query {
	q.SearchTerm = strings.TrimSpace(term)
	q.SearchFields = append([]string(nil), fields...)
	q.Cursor = ""
	return q
}

// FirstPage returns q without a cursor.
func (q Query) FirstPage() Query {
	q.Cursor = ""
	return q
}

// ValidIdentifier reports whether name is a plain or dotted field name.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// ParseOperator maps a wire name to an Operator.
func ParseOperator(raw string) (Operator, error) {
	op := Operator(strings.ToLower(strings.TrimSpace(raw)))
	switch op {
	case OpEq, OpNeq, OpIn, OpContains, OpGt, OpGte, OpLt, OpLte:
		return op, nil
	}
	return "", configErr("unknown operator %q", raw)
}

func asList(v any) ([]any, bool) {
	switch typed := v.(type) {
	case nil:
		return nil, false
	case []any:
		return typed, true
	case string, []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func configErr(format string, args ...any) error {
	return appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf(format, args...))
}
