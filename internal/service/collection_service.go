package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/prepmint-api/internal/collection"
	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

// CollectionConfig bounds the generic collection API.
type CollectionConfig struct {
	Sources         []string
	DefaultPageSize int
	MaxPageSize     int
}

// CollectionService exposes allow-listed backend sources over the API.
type CollectionService struct {
	backend collection.Backend
	sources map[string]struct{}
	config  CollectionConfig
	metrics *MetricsService
	logger  *zap.Logger
}

// NewCollectionService constructs the service.
func NewCollectionService(backend collection.Backend, metrics *MetricsService, logger *zap.Logger, config CollectionConfig) *CollectionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DefaultPageSize <= 0 {
		config.DefaultPageSize = 20
	}
	if config.MaxPageSize < config.DefaultPageSize {
		config.MaxPageSize = config.DefaultPageSize
	}
	sources := make(map[string]struct{}, len(config.Sources))
	for _, source := range config.Sources {
		sources[source] = struct{}{}
	}
	return &CollectionService{backend: backend, sources: sources, config: config, metrics: metrics, logger: logger}
}

// Sources lists the served sources.
func (s *CollectionService) Sources() []string {
	out := make([]string, 0, len(s.sources))
	for source := range s.sources {
		out = append(out, source)
	}
	sort.Strings(out)
	return out
}

// Capabilities describes the backend behind the API.
func (s *CollectionService) Capabilities() collection.Capabilities {
	return s.backend.Capabilities()
}

// List returns one page. The query is validated before the backend is
// called; page sizes above the maximum are clamped.
func (s *CollectionService) List(ctx context.Context, q collection.Query) (collection.Page, error) {
	if err := s.checkSource(q.Source); err != nil {
		return collection.Page{}, err
	}
	q.PageSize = s.PageSize(q.PageSize)
	q = q.Normalize()
	if err := q.Validate(); err != nil {
		return collection.Page{}, err
	}
	page, err := s.backend.Select(ctx, q)
	s.observe(q.Source, "select", err)
	if err != nil {
		return collection.Page{}, err
	}
	return page, nil
}

// PageSize resolves a requested page size: zero means the default and
// sizes above the maximum are clamped. Negative sizes are left for Validate.
func (s *CollectionService) PageSize(requested int) int {
	switch {
	case requested == 0:
		return s.config.DefaultPageSize
	case requested > s.config.MaxPageSize:
		return s.config.MaxPageSize
	}
	return requested
}

// Get returns one record.
func (s *CollectionService) Get(ctx context.Context, source, id string) (collection.Record, error) {
	if err := s.checkSource(source); err != nil {
		return collection.Record{}, err
	}
	rec, err := s.backend.Get(ctx, source, id)
	s.observe(source, "get", err)
	return rec, err
}

// Create inserts a record.
func (s *CollectionService) Create(ctx context.Context, source string, fields map[string]any) (collection.Record, error) {
	if err := s.checkSource(source); err != nil {
		return collection.Record{}, err
	}
	if err := checkFields(fields, true); err != nil {
		return collection.Record{}, err
	}
	rec, err := s.backend.Insert(ctx, source, fields)
	s.observe(source, "insert", err)
	if err == nil {
		s.logger.Debug("collection record created", zap.String("source", source), zap.String("id", rec.ID))
	}
	return rec, err
}

// Update merges fields into a record.
func (s *CollectionService) Update(ctx context.Context, source, id string, fields map[string]any) (collection.Record, error) {
	if err := s.checkSource(source); err != nil {
		return collection.Record{}, err
	}
	if err := checkFields(fields, false); err != nil {
		return collection.Record{}, err
	}
	rec, err := s.backend.Update(ctx, source, id, fields)
	s.observe(source, "update", err)
	return rec, err
}

// Delete removes a record.
func (s *CollectionService) Delete(ctx context.Context, source, id string) error {
	if err := s.checkSource(source); err != nil {
		return err
	}
	err := s.backend.Delete(ctx, source, id)
	s.observe(source, "delete", err)
	return err
}

// BulkDelete deletes ids one by one and reports each outcome.
func (s *CollectionService) BulkDelete(ctx context.Context, source string, ids []string) (collection.BulkResult, error) {
	if err := s.checkSource(source); err != nil {
		return collection.BulkResult{}, err
	}
	result := collection.DeleteEach(ctx, s.backend, source, ids)
	for _, outcome := range result.Outcomes {
		s.observe(source, "delete", outcome.Err)
	}
	if failed := result.Failed(); len(failed) > 0 {
		s.logger.Warn("bulk delete partially failed",
			zap.String("source", source),
			zap.Int("requested", len(ids)),
			zap.Int("failed", len(failed)))
	}
	return result, nil
}

// Subscribe opens a change stream for source.
func (s *CollectionService) Subscribe(ctx context.Context, source string) (collection.Subscription, error) {
	if err := s.checkSource(source); err != nil {
		return nil, err
	}
	subscriber, ok := s.backend.(collection.Subscriber)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrConfiguration, "collection backend does not support change streams")
	}
	sub, err := subscriber.Subscribe(ctx, source)
	s.observe(source, "subscribe", err)
	if err != nil {
		return nil, err
	}
	s.metrics.StreamOpened()
	return &countedSubscription{Subscription: sub, metrics: s.metrics}, nil
}

func (s *CollectionService) checkSource(source string) error {
	if !collection.ValidIdentifier(source) {
		return appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("invalid source name %q", source))
	}
	if _, ok := s.sources[source]; !ok {
		return appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("source %q is not served", source))
	}
	return nil
}

func (s *CollectionService) observe(source, op string, err error) {
	s.metrics.ObserveCollectionOp(source, op, err)
}

var reservedFields = map[string]struct{}{"id": {}, "created_at": {}, "updated_at": {}}

func checkFields(fields map[string]any, create bool) error {
	if len(fields) == 0 {
		if create {
			return appErrors.Clone(appErrors.ErrValidation, "document has no fields")
		}
		return appErrors.Clone(appErrors.ErrValidation, "update has no fields")
	}
	for name := range fields {
		if !collection.ValidIdentifier(name) || strings.Contains(name, ".") {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid field name %q", name))
		}
		if _, reserved := reservedFields[name]; reserved {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("field %q is managed by the store", name))
		}
	}
	return nil
}

type countedSubscription struct {
	collection.Subscription
	metrics *MetricsService
	once    sync.Once
}

func (c *countedSubscription) Close() error {
	c.once.Do(c.metrics.StreamClosed)
	return c.Subscription.Close()
}
