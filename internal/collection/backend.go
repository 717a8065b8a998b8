package collection

import "context"

// SearchMode describes how a backend matches search terms.
type SearchMode int

const (
	// SearchSubstring matches the term anywhere in a field, case-insensitively.
	SearchSubstring SearchMode = iota
	// SearchPrefix only matches fields starting with the term. Document
	// stores without text indexes can do no better.
	SearchPrefix
)

// String returns the mode's wire name.
func (m SearchMode) String() string {
	if m == SearchPrefix {
		return "prefix"
	}
	return "substring"
}

// Capabilities advertises backend-dependent behaviour.
type Capabilities struct {
	Search SearchMode
	// ExactCount is true when Page.HasMore comes from a count query rather
	// than the "page came back full" heuristic.
	ExactCount bool
}

// Backend is the query/mutation port implemented once per storage engine.
type Backend interface {
	Select(ctx context.Context, q Query) (Page, error)
	Get(ctx context.Context, source, id string) (Record, error)
	Insert(ctx context.Context, source string, fields map[string]any) (Record, error)
	Update(ctx context.Context, source, id string, fields map[string]any) (Record, error)
	Delete(ctx context.Context, source, id string) error
	Capabilities() Capabilities
}

// Subscriber is implemented by backends that can push changes.
type Subscriber interface {
	Subscribe(ctx context.Context, source string) (Subscription, error)
}

// BulkDeleter is implemented by backends that delete many ids in one call.
// Outcomes follow the DeleteEach contract: one per id, in request order.
type BulkDeleter interface {
	BulkDelete(ctx context.Context, source string, ids []string) (BulkResult, error)
}

// Subscription streams change events for one source until closed.
type Subscription interface {
	Events() <-chan ChangeEvent
	Close() error
}

// Outcome is the result of one item of a bulk operation.
type Outcome struct {
	ID  string `json:"id"`
	Err error  `json:"-"`
}

// OK reports whether the item succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// BulkResult lists per-item outcomes in request order.
type BulkResult struct {
	Outcomes []Outcome
}

// Succeeded returns the ids that were processed successfully.
func (r BulkResult) Succeeded() []string {
	ids := make([]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.OK() {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// Failed returns the outcomes that carry an error.
func (r BulkResult) Failed() []Outcome {
	failed := make([]Outcome, 0)
	for _, o := range r.Outcomes {
		if !o.OK() {
			failed = append(failed, o)
		}
	}
	return failed
}

// DeleteAll uses the backend's batch delete when it has one and DeleteEach
// otherwise. A failed batch call is reported against every id.
func DeleteAll(ctx context.Context, backend Backend, source string, ids []string) BulkResult {
	bulk, ok := backend.(BulkDeleter)
	if !ok {
		return DeleteEach(ctx, backend, source, ids)
	}
	result, err := bulk.BulkDelete(ctx, source, ids)
	if err == nil {
		return result
	}
	err = classify(err)
	result = BulkResult{Outcomes: make([]Outcome, 0, len(ids))}
	for _, id := range ids {
		result.Outcomes = append(result.Outcomes, Outcome{ID: id, Err: err})
	}
	return result
}

// DeleteEach deletes ids one at a time. There is no cross-id transaction:
// a failure is recorded against its id and the remaining ids are still
// attempted.
func DeleteEach(ctx context.Context, backend Backend, source string, ids []string) BulkResult {
	result := BulkResult{Outcomes: make([]Outcome, 0, len(ids))}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			result.Outcomes = append(result.Outcomes, Outcome{ID: id, Err: classify(err)})
			continue
		}
		err := backend.Delete(ctx, source, id)
		if err != nil {
			err = classify(err)
		}
		result.Outcomes = append(result.Outcomes, Outcome{ID: id, Err: err})
	}
	return result
}
