package postgres

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/noah-isme/prepmint-api/internal/collection"
	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

// condition is a SQL fragment using ? placeholders, rebound to $n before
// execution.
type condition struct {
	clause string
	args   []any
}

// sqlTranslator renders the shared operator set as PostgreSQL conditions.
type sqlTranslator struct{}

func (sqlTranslator) Eq(field string, value any) (condition, error) {
	col, err := column(field)
	if err != nil {
		return condition{}, err
	}
	if value == nil {
		return condition{clause: col + " IS NULL"}, nil
	}
	return condition{clause: col + " = ?", args: []any{bindValue(value)}}, nil
}

func (sqlTranslator) Neq(field string, value any) (condition, error) {
	col, err := column(field)
	if err != nil {
		return condition{}, err
	}
	if value == nil {
		return condition{clause: col + " IS NOT NULL"}, nil
	}
	return condition{clause: col + " IS DISTINCT FROM ?", args: []any{bindValue(value)}}, nil
}

func (sqlTranslator) In(field string, values []any) (condition, error) {
	col, err := column(field)
	if err != nil {
		return condition{}, err
	}
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = "?"
		args[i] = bindValue(v)
	}
	return condition{clause: fmt.Sprintf("%s IN (%s)", col, strings.Join(marks, ", ")), args: args}, nil
}

// Contains tests array membership; the column must be an array type.
func (sqlTranslator) Contains(field string, value any) (condition, error) {
	col, err := column(field)
	if err != nil {
		return condition{}, err
	}
	return condition{clause: fmt.Sprintf("? = ANY(%s)", col), args: []any{bindValue(value)}}, nil
}

func (sqlTranslator) Range(field string, op collection.Operator, value any) (condition, error) {
	col, err := column(field)
	if err != nil {
		return condition{}, err
	}
	var sym string
	switch op {
	case collection.OpGt:
		sym = ">"
	case collection.OpGte:
		sym = ">="
	case collection.OpLt:
		sym = "<"
	case collection.OpLte:
		sym = "<="
	default:
		return condition{}, appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("unsupported range operator %q", op))
	}
	return condition{clause: fmt.Sprintf("%s %s ?", col, sym), args: []any{bindValue(value)}}, nil
}

// idColumn compares ids bytewise so ties break the way CompareRecords
// breaks them. Source tables keep id as TEXT.
var idColumn = pq.QuoteIdentifier(columnID) + ` COLLATE "C"`

// orderClause sorts NULLs first ascending and last descending, matching
// CompareValues, with id as tie-breaker.
func orderClause(orderBy string, dir collection.Direction) (string, error) {
	sqlDir := "ASC"
	if dir == collection.Desc {
		sqlDir = "DESC"
	}
	if orderBy == columnID {
		return idColumn + " " + sqlDir, nil
	}
	col, err := column(orderBy)
	if err != nil {
		return "", err
	}
	nulls := "NULLS FIRST"
	if dir == collection.Desc {
		nulls = "NULLS LAST"
	}
	return fmt.Sprintf("%s %s %s, %s %s", col, sqlDir, nulls, idColumn, sqlDir), nil
}

// keysetCondition selects the rows sorting strictly after key under orderClause.
func keysetCondition(orderBy string, dir collection.Direction, key collection.SortKey) (condition, error) {
	cmp := ">"
	if dir == collection.Desc {
		cmp = "<"
	}
	if orderBy == columnID {
		return condition{clause: fmt.Sprintf("%s %s ?", idColumn, cmp), args: []any{key.ID}}, nil
	}
	col, err := column(orderBy)
	if err != nil {
		return condition{}, err
	}
	switch {
	case key.Value == nil && dir == collection.Desc:
		return condition{
			clause: fmt.Sprintf("(%s IS NULL AND %s < ?)", col, idColumn),
			args:   []any{key.ID},
		}, nil
	case key.Value == nil:
		return condition{
			clause: fmt.Sprintf("(%s IS NOT NULL OR %s > ?)", col, idColumn),
			args:   []any{key.ID},
		}, nil
	case dir == collection.Desc:
		return condition{
			clause: fmt.Sprintf("(%s < ? OR (%s = ? AND %s < ?) OR %s IS NULL)", col, col, idColumn, col),
			args:   []any{key.Value, key.Value, key.ID},
		}, nil
	}
	return condition{
		clause: fmt.Sprintf("(%s > ? OR (%s = ? AND %s > ?))", col, col, idColumn),
		args:   []any{key.Value, key.Value, key.ID},
	}, nil
}

// column quotes a field name. Nested paths have no column equivalent.
func column(field string) (string, error) {
	if !collection.ValidIdentifier(field) || strings.Contains(field, ".") {
		return "", appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("field %q is not a column name", field))
	}
	return pq.QuoteIdentifier(field), nil
}

// searchCondition ORs a case-insensitive substring match over fields.
func searchCondition(term string, fields []string) (condition, error) {
	pattern := "%" + escapeLike(term) + "%"
	parts := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	for _, field := range fields {
		col, err := column(field)
		if err != nil {
			return condition{}, err
		}
		parts = append(parts, fmt.Sprintf(`CAST(%s AS TEXT) ILIKE ? ESCAPE '\'`, col))
		args = append(args, pattern)
	}
	return condition{clause: "(" + strings.Join(parts, " OR ") + ")", args: args}, nil
}

func escapeLike(term string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
}
