package collection

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Record is one document or row of a source.
type Record struct {
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt *time.Time     `json:"updatedAt,omitempty"`
}

// Page is the result of a single query.
type Page struct {
	Items      []Record `json:"items"`
	HasMore    bool     `json:"hasMore"`
	NextCursor Cursor   `json:"nextCursor,omitempty"`
}

// ChangeOp classifies a pushed change.
type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeUpdate ChangeOp = "update"
	ChangeDelete ChangeOp = "delete"
)

// ChangeEvent is one real-time change for a source. Record is nil for deletes.
type ChangeEvent struct {
	Op     ChangeOp `json:"op"`
	Source string   `json:"source"`
	ID     string   `json:"id"`
	Record *Record  `json:"record,omitempty"`
}

// Clone returns a copy whose field map can be mutated independently.
func (r Record) Clone() Record {
	out := r
	if r.Fields != nil {
		out.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	if r.UpdatedAt != nil {
		ts := *r.UpdatedAt
		out.UpdatedAt = &ts
	}
	return out
}

// Value resolves a field by name. Dotted names walk nested maps; id and the
// timestamps resolve to the record metadata when absent from Fields.
func (r Record) Value(field string) (any, bool) {
	if v, ok := lookup(r.Fields, field); ok {
		return v, true
	}
	switch field {
	case "id":
		return r.ID, true
	case "created_at", "createdAt":
		return r.CreatedAt, true
	case "updated_at", "updatedAt":
		if r.UpdatedAt == nil {
			return nil, true
		}
		return *r.UpdatedAt, true
	}
	return nil, false
}

func lookup(fields map[string]any, path string) (any, bool) {
	if fields == nil {
		return nil, false
	}
	if v, ok := fields[path]; ok {
		return v, true
	}
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		return nil, false
	}
	child, ok := fields[head].(map[string]any)
	if !ok {
		return nil, false
	}
	return lookup(child, rest)
}

// CompareValues orders two field values. The second result is false when
// the values are of incomparable kinds; nil sorts before everything.
func CompareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, true
		case a == nil:
			return -1, true
		default:
			return 1, true
		}
	}
	if an, ok := toFloat(a); ok {
		if bn, ok := toFloat(b); ok {
			return cmpOrdered(an, bn), true
		}
		return 0, false
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
	case time.Time:
		if bv, ok := toTime(b); ok {
			return av.Compare(bv), true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0, true
			case !av:
				return -1, true
			default:
				return 1, true
			}
		}
	}
	if at, ok := toTime(a); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt), true
		}
	}
	return 0, false
}

// EqualValues reports whether two field values are equal, treating all
// numeric kinds as numbers.
func EqualValues(a, b any) bool {
	if c, ok := CompareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// CompareRecords orders records by field in the given direction, breaking
// ties by id so that ordering is total. Strings compare bytewise. SQL
// backends order ids with COLLATE "C" to agree, but other text columns follow
// the database collation, so a pushed change may land a few rows away from
// where a reload would put it under a non-C collation.
func CompareRecords(a, b Record, field string, dir Direction) int {
	av, _ := a.Value(field)
	bv, _ := b.Value(field)
	c, ok := CompareValues(av, bv)
	if !ok {
		c = strings.Compare(fmt.Sprint(av), fmt.Sprint(bv))
	}
	if c == 0 {
		c = strings.Compare(a.ID, b.ID)
	}
	if dir == Desc {
		return -c
	}
	return c
}

// AsNumber converts any Go numeric kind to float64.
func AsNumber(v any) (float64, bool) {
	return toFloat(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

func cmpOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
