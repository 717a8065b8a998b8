package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainsIsArrayMembershipOnly(t *testing.T) {
	match, err := Translate[Predicate](PredicateTranslator{}, Filter{Field: "tags", Operator: OpContains, Value: "math"})
	require.NoError(t, err)

	assert.True(t, match(Record{ID: "a", Fields: map[string]any{"tags": []string{"math", "bio"}}}))
	assert.True(t, match(Record{ID: "b", Fields: map[string]any{"tags": []any{"math"}}}))
	assert.False(t, match(Record{ID: "c", Fields: map[string]any{"tags": []string{"mathematics"}}}))
	assert.False(t, match(Record{ID: "d", Fields: map[string]any{"tags": "mathematics"}}))
	assert.False(t, match(Record{ID: "e", Fields: map[string]any{"tags": "math"}}))
	assert.False(t, match(Record{ID: "f", Fields: map[string]any{}}))
}

func TestCompareRecordsIsBytewise(t *testing.T) {
	upper := Record{ID: "1", Fields: map[string]any{"name": "Zed"}}
	lower := Record{ID: "2", Fields: map[string]any{"name": "alice"}}

	assert.Negative(t, CompareRecords(upper, lower, "name", Asc))
	assert.Positive(t, CompareRecords(upper, lower, "name", Desc))
}
