// Package httpapi is a collection backend that talks to the prepmint
// collection API. Stores bound to it page, search, mutate and stream a
// server-side source exactly as they would a local backend.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/prepmint-api/internal/collection"
	"github.com/noah-isme/prepmint-api/internal/dto"
	"github.com/noah-isme/prepmint-api/pkg/apiclient"
	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

// Backend implements collection.Backend, Subscriber and BulkDeleter over HTTP.
type Backend struct {
	api    *apiclient.Client
	logger *zap.Logger

	mu   sync.RWMutex
	caps collection.Capabilities
}

// Option configures a Backend.
type Option func(*Backend)

// WithCapabilities sets the capabilities assumed until the server reports
// its own on a list call.
func WithCapabilities(caps collection.Capabilities) Option {
	return func(b *Backend) { b.caps = caps }
}

// WithLogger sets the backend logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a backend using api.
func New(api *apiclient.Client, opts ...Option) *Backend {
	b := &Backend{
		api:    api,
		logger: zap.NewNop(),
		caps:   collection.Capabilities{Search: collection.SearchSubstring},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Capabilities returns what the server last reported.
func (b *Backend) Capabilities() collection.Capabilities {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.caps
}

// LoadCapabilities lists one record of source so Capabilities reflects the server
// before a Store is bound.
func (b *Backend) LoadCapabilities(ctx context.Context, source string) error {
	_, err := b.Select(ctx, collection.Query{Source: source, PageSize: 1})
	return err
}

// Select fetches one page from GET /collections/:source.
func (b *Backend) Select(ctx context.Context, q collection.Query) (collection.Page, error) {
	q = q.Normalize()
	if err := q.Validate(); err != nil {
		return collection.Page{}, err
	}
	params, err := listParams(q)
	if err != nil {
		return collection.Page{}, err
	}
	req, err := b.api.NewRequest(ctx, http.MethodGet, sourcePath(q.Source)+"?"+params.Encode(), nil)
	if err != nil {
		return collection.Page{}, err
	}
	var body dto.CollectionListResponse
	var listing apiclient.Listing
	if err := b.api.DoPage(req, &body, &listing); err != nil {
		return collection.Page{}, err
	}
	b.learn(listing)

	page := collection.Page{Items: body.Items, HasMore: listing.Pagination.HasMore}
	if page.Items == nil {
		page.Items = []collection.Record{}
	}
	if page.HasMore {
		page.NextCursor = collection.Cursor(listing.Pagination.NextCursor)
	}
	return page, nil
}

// Get fetches GET /collections/:source/:id.
func (b *Backend) Get(ctx context.Context, source, id string) (collection.Record, error) {
	var rec collection.Record
	err := b.api.JSON(ctx, http.MethodGet, recordPath(source, id), nil, &rec)
	return rec, err
}

// Insert posts fields to POST /collections/:source.
func (b *Backend) Insert(ctx context.Context, source string, fields map[string]any) (collection.Record, error) {
	var rec collection.Record
	err := b.api.JSON(ctx, http.MethodPost, sourcePath(source), fields, &rec)
	return rec, err
}

// Update merges fields with PATCH /collections/:source/:id.
func (b *Backend) Update(ctx context.Context, source, id string, fields map[string]any) (collection.Record, error) {
	var rec collection.Record
	err := b.api.JSON(ctx, http.MethodPatch, recordPath(source, id), fields, &rec)
	return rec, err
}

// Delete calls DELETE /collections/:source/:id.
func (b *Backend) Delete(ctx context.Context, source, id string) error {
	return b.api.JSON(ctx, http.MethodDelete, recordPath(source, id), nil, nil)
}

// BulkDelete posts ids to /collections/:source/bulk-delete and rebuilds
// the per-id outcomes.
func (b *Backend) BulkDelete(ctx context.Context, source string, ids []string) (collection.BulkResult, error) {
	var body dto.BulkDeleteResponse
	if err := b.api.JSON(ctx, http.MethodPost, sourcePath(source)+"/bulk-delete", dto.BulkDeleteRequest{IDs: ids}, &body); err != nil {
		return collection.BulkResult{}, err
	}
	if len(body.Outcomes) != len(ids) {
		return collection.BulkResult{}, appErrors.Clone(appErrors.ErrTransient,
			fmt.Sprintf("bulk delete returned %d outcomes for %d ids", len(body.Outcomes), len(ids)))
	}
	result := collection.BulkResult{Outcomes: make([]collection.Outcome, 0, len(body.Outcomes))}
	for _, o := range body.Outcomes {
		outcome := collection.Outcome{ID: o.ID}
		if !o.OK {
			outcome.Err = appErrors.FromCode(o.Code, o.Error)
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	return result, nil
}

func (b *Backend) learn(listing apiclient.Listing) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.caps.ExactCount = listing.Pagination.ExactCount
	switch listing.Meta["search_mode"] {
	case collection.SearchPrefix.String():
		b.caps.Search = collection.SearchPrefix
	case collection.SearchSubstring.String():
		b.caps.Search = collection.SearchSubstring
	}
}

func sourcePath(source string) string {
	return "/collections/" + url.PathEscape(source)
}

func recordPath(source, id string) string {
	return sourcePath(source) + "/" + url.PathEscape(id)
}

// listParams renders q in the list endpoint's query syntax. Filter values
// travel as JSON literals so strings that look like numbers stay strings.
func listParams(q collection.Query) (url.Values, error) {
	params := url.Values{}
	params.Set("page_size", strconv.Itoa(q.PageSize))
	params.Set("order_by", q.OrderBy)
	params.Set("order", string(q.Direction))
	if q.Cursor != "" {
		params.Set("cursor", string(q.Cursor))
	}
	if q.SearchTerm != "" {
		params.Set("search", q.SearchTerm)
		params.Set("search_fields", strings.Join(q.SearchFields, ","))
	}
	for _, f := range q.Filters {
		value, err := filterValue(f)
		if err != nil {
			return nil, err
		}
		params.Add("filter", f.Field+":"+string(f.Operator)+":"+value)
	}
	return params, nil
}

func filterValue(f collection.Filter) (string, error) {
	if f.Operator != collection.OpIn {
		return literal(f.Value)
	}
	values, ok := f.Values()
	if !ok {
		return "", appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("filter on %q needs a list for in", f.Field))
	}
	parts := make([]string, 0, len(values))
	for _, v := range values {
		part, err := literal(v)
		if err != nil {
			return "", err
		}
		if strings.Contains(part, "|") {
			return "", appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("in value %s for %q cannot contain |", part, f.Field))
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "|"), nil
}

func literal(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrConfiguration.Code, appErrors.ErrConfiguration.Status, "filter value is not a JSON literal")
	}
	return string(raw), nil
}
