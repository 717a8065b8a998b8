package collection

import (
	"context"
	"slices"
	"sort"
	"sync"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

// State is a snapshot of a bound source. Error is set after a failed fetch
// while Items keep their last loaded value.
type State struct {
	Items   []Record
	Loading bool
	Error   error
	HasMore bool
	Cursor  Cursor
}

// Observer receives the outcome of every backend call made by a Store.
type Observer interface {
	ObserveCollectionOp(source, op string, err error)
}

// Option customises a Store.
type Option func(*Store)

// WithRealtime subscribes the Store to backend push updates.
func WithRealtime() Option {
	return func(s *Store) { s.realtime = true }
}

// WithLogger sets the Store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithListener registers a callback invoked with a fresh snapshot after
// every state transition. It runs on the goroutine that caused the change
// and must not call Close.
func WithListener(fn func(State)) Option {
	return func(s *Store) { s.listener = fn }
}

// WithObserver reports backend call outcomes, typically to metrics.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// Store binds one query to a live, paginated view of a source.
type Store struct {
	backend  Backend
	logger   *zap.Logger
	realtime bool
	listener func(State)
	observer Observer
	search   SearchMode
	name     string

	ctx    context.Context
	cancel context.CancelFunc
	pump   sync.WaitGroup

	mu         sync.Mutex
	query      Query
	matcher    *Matcher
	items      []Record
	loading    bool
	err        error
	hasMore    bool
	cursor     Cursor
	generation uint64
	closed     bool
	sub        Subscription
}

// Bind validates q, attaches the optional real-time subscription and starts
// loading the first page in the background.
func Bind(backend Backend, q Query, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, configErr("collection backend is required")
	}
	q = q.Normalize()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	caps := backend.Capabilities()
	matcher, err := NewMatcher(q, caps.Search)
	if err != nil {
		return nil, err
	}

	s := &Store{
		backend: backend,
		logger:  zap.NewNop(),
		search:  caps.Search,
		name:    q.Source,
		query:   q.FirstPage(),
		matcher: matcher,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.realtime {
		subscriber, ok := backend.(Subscriber)
		if !ok {
			s.cancel()
			return nil, configErr("backend for %q does not support realtime subscriptions", q.Source)
		}
		sub, err := subscriber.Subscribe(s.ctx, q.Source)
		if err != nil {
			s.cancel()
			return nil, classify(err)
		}
		s.sub = sub
		s.pump.Add(1)
		go s.consume(sub)
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.loading = true
	first := s.query
	s.mu.Unlock()

	go func() {
		_ = s.fetch(s.ctx, gen, first, false)
	}()
	return s, nil
}

// State returns a snapshot of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Query returns the query currently bound.
func (s *Store) Query() Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

// LoadMore appends the next page. It is a no-op when there is nothing more
// to load or when a fetch is already in flight.
func (s *Store) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	if s.loading || !s.hasMore {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	gen := s.generation
	next := s.query
	next.Cursor = s.cursor
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)

	ctx, stop := s.scope(ctx)
	defer stop()
	return s.fetch(ctx, gen, next, true)
}

// Refresh drops the cursor chain and replaces Items with the first page.
// Any fetch still in flight is superseded and its result discarded.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.generation++
	gen := s.generation
	s.loading = true
	first := s.query.FirstPage()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)

	ctx, stop := s.scope(ctx)
	defer stop()
	return s.fetch(ctx, gen, first, false)
}

// Search rebinds the query with a new search term and reloads page one.
// An empty term clears the search. Matching is case-insensitive; backends
// reporting SearchPrefix only match from the start of a field.
func (s *Store) Search(ctx context.Context, term string, fields []string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	next := s.query.WithSearch(term, fields)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	matcher, err := NewMatcher(next, s.search)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.query = next
	s.matcher = matcher
	s.mu.Unlock()
	return s.Refresh(ctx)
}

// AddDocument inserts a record and returns its id. Without a real-time
// subscription the record only shows up after Refresh.
func (s *Store) AddDocument(ctx context.Context, fields map[string]any) (string, error) {
	source, err := s.source()
	if err != nil {
		return "", err
	}
	rec, err := s.backend.Insert(ctx, source, fields)
	err = classify(err)
	s.observe("insert", err)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// UpdateDocument merges fields into an existing record.
func (s *Store) UpdateDocument(ctx context.Context, id string, fields map[string]any) error {
	source, err := s.source()
	if err != nil {
		return err
	}
	rec, err := s.backend.Update(ctx, source, id, fields)
	err = classify(err)
	s.observe("update", err)
	if err != nil {
		return err
	}
	s.apply(ChangeEvent{Op: ChangeUpdate, Source: source, ID: rec.ID, Record: &rec})
	return nil
}

// DeleteDocument removes one record.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	source, err := s.source()
	if err != nil {
		return err
	}
	err = classify(s.backend.Delete(ctx, source, id))
	s.observe("delete", err)
	if err != nil {
		return err
	}
	s.apply(ChangeEvent{Op: ChangeDelete, Source: source, ID: id})
	return nil
}

// BulkDelete deletes ids, in one batch when the backend supports it, and
// reports a per-id outcome. Records
// whose deletion succeeded are removed from Items; the rest stay.
func (s *Store) BulkDelete(ctx context.Context, ids []string) (BulkResult, error) {
	source, err := s.source()
	if err != nil {
		return BulkResult{}, err
	}
	result := DeleteAll(ctx, s.backend, source, ids)
	changed := false
	s.mu.Lock()
	for _, outcome := range result.Outcomes {
		if outcome.OK() && !s.closed {
			changed = s.applyLocked(ChangeEvent{Op: ChangeDelete, Source: source, ID: outcome.ID}) || changed
		}
	}
	snap := s.snapshotLocked()
	closed := s.closed
	s.mu.Unlock()
	for _, outcome := range result.Outcomes {
		s.observe("delete", outcome.Err)
	}
	if changed && !closed {
		s.notify(snap)
	}
	return result, nil
}

// Close unbinds the Store. The subscription is detached before Close
// returns and fetches completing afterwards are discarded. Close is
// idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.items = nil
	s.mu.Unlock()

	s.cancel()
	var err error
	if sub != nil {
		err = sub.Close()
	}
	s.pump.Wait()
	return err
}

func (s *Store) fetch(ctx context.Context, gen uint64, q Query, appendPage bool) error {
	op := "refresh"
	if appendPage {
		op = "load_more"
	}
	page, err := s.backend.Select(ctx, q)
	err = classify(err)
	s.observe(op, err)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	if gen != s.generation {
		s.mu.Unlock()
		return nil
	}
	s.loading = false
	if err != nil {
		s.err = err
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Warn("collection fetch failed",
			zap.String("source", q.Source),
			zap.String("op", op),
			zap.Error(err))
		s.notify(snap)
		return err
	}

	if appendPage {
		for _, rec := range page.Items {
			if s.indexLocked(rec.ID) >= 0 {
				continue
			}
			s.items = append(s.items, rec.Clone())
		}
	} else {
		s.items = make([]Record, 0, len(page.Items))
		for _, rec := range page.Items {
			s.items = append(s.items, rec.Clone())
		}
	}
	s.err = nil
	s.hasMore = page.HasMore
	s.cursor = page.NextCursor
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
	return nil
}

func (s *Store) consume(sub Subscription) {
	defer s.pump.Done()
	events := sub.Events()
	source := s.name
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.mu.Lock()
				if s.closed {
					s.mu.Unlock()
					return
				}
				s.err = appErrors.Clone(appErrors.ErrTransient, "realtime subscription ended")
				snap := s.snapshotLocked()
				s.mu.Unlock()
				s.logger.Warn("collection subscription ended", zap.String("source", source))
				s.notify(snap)
				return
			}
			if ev.Source != "" && ev.Source != source {
				continue
			}
			s.apply(ev)
		}
	}
}

// apply is the single entry point for changes coming from the subscription
// or from this Store's own mutations.
func (s *Store) apply(ev ChangeEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	changed := s.applyLocked(ev)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	if changed {
		s.notify(snap)
	}
}

func (s *Store) applyLocked(ev ChangeEvent) bool {
	id := ev.ID
	if id == "" && ev.Record != nil {
		id = ev.Record.ID
	}
	if id == "" {
		return false
	}
	idx := s.indexLocked(id)

	switch ev.Op {
	case ChangeDelete:
		if idx < 0 {
			return false
		}
		s.items = slices.Delete(s.items, idx, idx+1)
		return true
	case ChangeInsert, ChangeUpdate:
		if ev.Record == nil {
			return false
		}
		rec := ev.Record.Clone()
		rec.ID = id
		changed := false
		if idx >= 0 {
			s.items = slices.Delete(s.items, idx, idx+1)
			changed = true
		}
		if !s.matcher.Match(rec) {
			return changed
		}
		orderBy, dir := s.query.OrderBy, s.query.Direction
		// Records sorting past the loaded window arrive with the next page.
		if s.hasMore && len(s.items) > 0 && CompareRecords(rec, s.items[len(s.items)-1], orderBy, dir) > 0 {
			return changed
		}
		pos := sort.Search(len(s.items), func(i int) bool {
			return CompareRecords(s.items[i], rec, orderBy, dir) > 0
		})
		s.items = slices.Insert(s.items, pos, rec)
		return true
	}
	return false
}

func (s *Store) indexLocked(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) snapshotLocked() State {
	items := make([]Record, len(s.items))
	copy(items, s.items)
	return State{
		Items:   items,
		Loading: s.loading,
		Error:   s.err,
		HasMore: s.hasMore,
		Cursor:  s.cursor,
	}
}

func (s *Store) source() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrStoreClosed
	}
	return s.name, nil
}

// scope derives a context that is also cancelled when the Store closes.
func (s *Store) scope(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Store) notify(snap State) {
	if s.listener != nil {
		s.listener(snap)
	}
}

func (s *Store) observe(op string, err error) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveCollectionOp(s.name, op, err)
}
