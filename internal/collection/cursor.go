package collection

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

// SortKey is the position of the last record of a page: its value for the
// order field plus the id tie-breaker. Backends resume strictly after it,
// so rows removed from earlier pages never shift the next one.
type SortKey struct {
	Value any
	ID    string
}

// sortKeyWire keeps the value's kind so it survives the JSON round trip.
type sortKeyWire struct {
	Kind string    `json:"k"`
	S    string    `json:"s,omitempty"`
	N    float64   `json:"n,omitempty"`
	T    time.Time `json:"t,omitempty"`
	B    bool      `json:"b,omitempty"`
	ID   string    `json:"id"`
}

// EncodeSortKey builds the cursor resuming after rec in a result ordered by orderBy.
func EncodeSortKey(rec Record, orderBy string) (Cursor, error) {
	wire := sortKeyWire{ID: rec.ID}
	v, _ := rec.Value(orderBy)
	switch typed := v.(type) {
	case nil:
		wire.Kind = "null"
	case string:
		wire.Kind, wire.S = "s", typed
	case time.Time:
		wire.Kind, wire.T = "t", typed
	case bool:
		wire.Kind, wire.B = "b", typed
	default:
		n, ok := toFloat(v)
		if !ok {
			return "", appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("field %q of type %T cannot be used for ordering", orderBy, v))
		}
		wire.Kind, wire.N = "n", n
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return Cursor(base64.RawURLEncoding.EncodeToString(raw)), nil
}

// DecodeSortKey parses a cursor produced by EncodeSortKey.
func DecodeSortKey(c Cursor) (SortKey, error) {
	var wire sortKeyWire
	raw, err := base64.RawURLEncoding.DecodeString(string(c))
	if err != nil {
		return SortKey{}, appErrors.Clone(appErrors.ErrConfiguration, "malformed cursor")
	}
	if err := json.Unmarshal(raw, &wire); err != nil || wire.ID == "" {
		return SortKey{}, appErrors.Clone(appErrors.ErrConfiguration, "malformed cursor")
	}
	key := SortKey{ID: wire.ID}
	switch wire.Kind {
	case "s":
		key.Value = wire.S
	case "t":
		key.Value = wire.T
	case "b":
		key.Value = wire.B
	case "n":
		key.Value = wire.N
	case "null":
	default:
		return SortKey{}, appErrors.Clone(appErrors.ErrConfiguration, "malformed cursor")
	}
	return key, nil
}

// Record rebuilds a stand-in record that sorts exactly where the cursor
// record sorted.
func (k SortKey) Record(orderBy string) Record {
	return Record{ID: k.ID, Fields: map[string]any{orderBy: k.Value}}
}
