// Package memory is an in-process document-store backend. It behaves like a
// hosted document database: cursors resume after the last document seen,
// hasMore is a "page came back full" guess and search is prefix-only.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/prepmint-api/internal/collection"
	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

// Option configures a Backend.
type Option func(*Backend)

// WithRequiredFields makes Insert reject documents of source lacking any of fields.
func WithRequiredFields(source string, fields ...string) Option {
	return func(b *Backend) {
		b.required[source] = append(b.required[source], fields...)
	}
}

// WithReadOnly rejects every write to source with a permission error.
func WithReadOnly(source string) Option {
	return func(b *Backend) { b.readOnly[source] = true }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// WithLogger sets the backend logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Backend stores documents in memory, grouped by source.
type Backend struct {
	mu       sync.RWMutex
	sources  map[string]map[string]collection.Record
	required map[string][]string
	readOnly map[string]bool
	now      func() time.Time
	logger   *zap.Logger
	hub      *collection.Hub
}

// New constructs an empty backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		sources:  make(map[string]map[string]collection.Record),
		required: make(map[string][]string),
		readOnly: make(map[string]bool),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   zap.NewNop(),
		hub:      collection.NewHub(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Capabilities reports prefix search and heuristic page counts.
func (b *Backend) Capabilities() collection.Capabilities {
	return collection.Capabilities{Search: collection.SearchPrefix, ExactCount: false}
}

// Select returns one page of documents matching q.
func (b *Backend) Select(ctx context.Context, q collection.Query) (collection.Page, error) {
	if err := ctx.Err(); err != nil {
		return collection.Page{}, err
	}
	q = q.Normalize()
	if err := q.Validate(); err != nil {
		return collection.Page{}, err
	}
	matcher, err := collection.NewMatcher(q, collection.SearchPrefix)
	if err != nil {
		return collection.Page{}, err
	}
	var after *collection.SortKey
	if q.Cursor != "" {
		decoded, err := collection.DecodeSortKey(q.Cursor)
		if err != nil {
			return collection.Page{}, err
		}
		after = &decoded
	}

	b.mu.RLock()
	matched := make([]collection.Record, 0)
	for _, rec := range b.sources[q.Source] {
		if matcher.Match(rec) {
			matched = append(matched, rec.Clone())
		}
	}
	b.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return collection.CompareRecords(matched[i], matched[j], q.OrderBy, q.Direction) < 0
	})

	start := 0
	if after != nil {
		anchor := after.Record(q.OrderBy)
		start = sort.Search(len(matched), func(i int) bool {
			return collection.CompareRecords(matched[i], anchor, q.OrderBy, q.Direction) > 0
		})
	}
	end := start + q.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	items := matched[start:end]

	page := collection.Page{Items: items, HasMore: len(items) == q.PageSize}
	if len(items) > 0 && page.HasMore {
		cursor, err := collection.EncodeSortKey(items[len(items)-1], q.OrderBy)
		if err != nil {
			return collection.Page{}, err
		}
		page.NextCursor = cursor
	}
	return page, nil
}

// Subscribe streams every change made to source until the subscription is
// closed or ctx ends.
func (b *Backend) Subscribe(ctx context.Context, source string) (collection.Subscription, error) {
	return b.hub.Subscribe(ctx, source)
}

// Get returns one document.
func (b *Backend) Get(ctx context.Context, source, id string) (collection.Record, error) {
	if err := ctx.Err(); err != nil {
		return collection.Record{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.sources[source][id]
	if !ok {
		return collection.Record{}, notFound(source, id)
	}
	return rec.Clone(), nil
}

// Insert stores a new document with a generated id.
func (b *Backend) Insert(ctx context.Context, source string, fields map[string]any) (collection.Record, error) {
	if err := ctx.Err(); err != nil {
		return collection.Record{}, err
	}
	if err := b.checkWritable(source); err != nil {
		return collection.Record{}, err
	}
	for _, field := range b.required[source] {
		if v, ok := fields[field]; !ok || v == nil {
			return collection.Record{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("missing required field %q for %s", field, source))
		}
	}
	rec := collection.Record{
		ID:        uuid.NewString(),
		Fields:    copyFields(fields),
		CreatedAt: b.now(),
	}

	b.mu.Lock()
	docs, ok := b.sources[source]
	if !ok {
		docs = make(map[string]collection.Record)
		b.sources[source] = docs
	}
	docs[rec.ID] = rec
	b.publishLocked(collection.ChangeEvent{Op: collection.ChangeInsert, Source: source, ID: rec.ID, Record: ptr(rec.Clone())})
	b.mu.Unlock()
	return rec.Clone(), nil
}

// Update merges fields into an existing document.
func (b *Backend) Update(ctx context.Context, source, id string, fields map[string]any) (collection.Record, error) {
	if err := ctx.Err(); err != nil {
		return collection.Record{}, err
	}
	if err := b.checkWritable(source); err != nil {
		return collection.Record{}, err
	}

	b.mu.Lock()
	rec, ok := b.sources[source][id]
	if !ok {
		b.mu.Unlock()
		return collection.Record{}, notFound(source, id)
	}
	rec = rec.Clone()
	if rec.Fields == nil {
		rec.Fields = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		rec.Fields[k] = v
	}
	now := b.now()
	rec.UpdatedAt = &now
	b.sources[source][id] = rec
	b.publishLocked(collection.ChangeEvent{Op: collection.ChangeUpdate, Source: source, ID: id, Record: ptr(rec.Clone())})
	b.mu.Unlock()
	return rec.Clone(), nil
}

// Delete removes a document.
func (b *Backend) Delete(ctx context.Context, source, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.checkWritable(source); err != nil {
		return err
	}
	b.mu.Lock()
	if _, ok := b.sources[source][id]; !ok {
		b.mu.Unlock()
		return notFound(source, id)
	}
	delete(b.sources[source], id)
	b.publishLocked(collection.ChangeEvent{Op: collection.ChangeDelete, Source: source, ID: id})
	b.mu.Unlock()
	return nil
}

// publishLocked runs under the write lock so subscribers see changes in
// write order. Hub.Publish never blocks.
func (b *Backend) publishLocked(ev collection.ChangeEvent) {
	if dropped := b.hub.Publish(ev); dropped > 0 {
		b.logger.Warn("dropped lagging collection subscribers",
			zap.String("source", ev.Source),
			zap.Int("dropped", dropped))
	}
}

func (b *Backend) checkWritable(source string) error {
	if !collection.ValidIdentifier(source) {
		return appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("invalid source name %q", source))
	}
	if b.readOnly[source] {
		return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("writes to %s are not permitted", source))
	}
	return nil
}

func notFound(source, id string) error {
	return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s/%s not found", source, id))
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
