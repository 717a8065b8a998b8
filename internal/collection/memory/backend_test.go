package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/prepmint-api/internal/collection"
	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

func seeded(t *testing.T, n int, opts ...Option) *Backend {
	t.Helper()
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	b := New(append([]Option{WithClock(clock)}, opts...)...)
	for i := 0; i < n; i++ {
		_, err := b.Insert(context.Background(), "users", map[string]any{
			"name":  fmt.Sprintf("user %02d", i),
			"score": i * 10,
		})
		require.NoError(t, err)
	}
	return b
}

func TestSelectPaginatesWithStartAfterCursor(t *testing.T) {
	b := seeded(t, 5)
	q := collection.Query{Source: "users", PageSize: 2, OrderBy: "score", Direction: collection.Desc}

	var names []string
	pages := 0
	for {
		page, err := b.Select(context.Background(), q)
		require.NoError(t, err)
		pages++
		for _, rec := range page.Items {
			names = append(names, rec.Fields["name"].(string))
		}
		if !page.HasMore {
			break
		}
		q.Cursor = page.NextCursor
	}
	assert.Equal(t, []string{"user 04", "user 03", "user 02", "user 01", "user 00"}, names)
	assert.Equal(t, 3, pages)
}

func TestSelectHasMoreHeuristicOverReportsOnExactMultiple(t *testing.T) {
	b := seeded(t, 4)
	q := collection.Query{Source: "users", PageSize: 2}

	page, err := b.Select(context.Background(), q)
	require.NoError(t, err)
	q.Cursor = page.NextCursor
	page, err = b.Select(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)

	q.Cursor = page.NextCursor
	page, err = b.Select(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)
	assert.False(t, b.Capabilities().ExactCount)
}

func TestSelectSearchIsPrefixOnly(t *testing.T) {
	b := New()
	ctx := context.Background()
	for _, name := range []string{"Alice Smith", "Bob Alison", "alfred"} {
		_, err := b.Insert(ctx, "users", map[string]any{"name": name})
		require.NoError(t, err)
	}
	page, err := b.Select(ctx, collection.Query{Source: "users", PageSize: 10, OrderBy: "name", SearchTerm: "AL", SearchFields: []string{"name"}})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Alice Smith", page.Items[0].Fields["name"])
	assert.Equal(t, "alfred", page.Items[1].Fields["name"])
	assert.Equal(t, collection.SearchPrefix, b.Capabilities().Search)
}

func TestSelectFilters(t *testing.T) {
	b := New()
	ctx := context.Background()
	docs := []map[string]any{
		{"name": "a", "role": "student", "tags": []string{"math"}, "profile": map[string]any{"grade": 10}},
		{"name": "b", "role": "teacher", "tags": []string{"bio"}, "profile": map[string]any{"grade": 12}},
		{"name": "c", "role": "student", "tags": []string{"math", "bio"}, "profile": map[string]any{"grade": 11}},
	}
	for _, doc := range docs {
		_, err := b.Insert(ctx, "users", doc)
		require.NoError(t, err)
	}
	query := func(filters ...collection.Filter) []string {
		page, err := b.Select(ctx, collection.Query{Source: "users", PageSize: 10, OrderBy: "name", Filters: filters})
		require.NoError(t, err)
		out := []string{}
		for _, rec := range page.Items {
			out = append(out, rec.Fields["name"].(string))
		}
		return out
	}

	assert.Equal(t, []string{"a", "c"}, query(collection.Filter{Field: "role", Operator: collection.OpEq, Value: "student"}))
	assert.Equal(t, []string{"b"}, query(collection.Filter{Field: "role", Operator: collection.OpNeq, Value: "student"}))
	assert.Equal(t, []string{"a", "b"}, query(collection.Filter{Field: "name", Operator: collection.OpIn, Value: []string{"a", "b", "z"}}))
	assert.Equal(t, []string{"a", "c"}, query(collection.Filter{Field: "tags", Operator: collection.OpContains, Value: "math"}))
	assert.Empty(t, query(collection.Filter{Field: "role", Operator: collection.OpContains, Value: "stud"}))
	assert.Equal(t, []string{"b", "c"}, query(collection.Filter{Field: "profile.grade", Operator: collection.OpGt, Value: 10.5}))
	assert.Equal(t, []string{"c"}, query(
		collection.Filter{Field: "role", Operator: collection.OpEq, Value: "student"},
		collection.Filter{Field: "tags", Operator: collection.OpContains, Value: "bio"},
	))
}

func TestInsertEnforcesRules(t *testing.T) {
	b := New(WithRequiredFields("institutions", "name"), WithReadOnly("audit"))
	ctx := context.Background()

	_, err := b.Insert(ctx, "institutions", map[string]any{"country": "ID"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Contains(t, err.Error(), "name")

	_, err = b.Insert(ctx, "audit", map[string]any{"x": 1})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	rec, err := b.Insert(ctx, "institutions", map[string]any{"name": "SMA 1"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestUpdateAndDelete(t *testing.T) {
	b := seeded(t, 1)
	ctx := context.Background()
	page, err := b.Select(ctx, collection.Query{Source: "users", PageSize: 1})
	require.NoError(t, err)
	id := page.Items[0].ID

	rec, err := b.Update(ctx, "users", id, map[string]any{"score": 99})
	require.NoError(t, err)
	assert.Equal(t, 99, rec.Fields["score"])
	assert.Equal(t, "user 00", rec.Fields["name"])
	require.NotNil(t, rec.UpdatedAt)

	_, err = b.Update(ctx, "users", "missing", map[string]any{"score": 1})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	require.NoError(t, b.Delete(ctx, "users", id))
	_, err = b.Get(ctx, "users", id)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	assert.True(t, appErrors.Is(b.Delete(ctx, "users", id), appErrors.ErrNotFound))
}

func TestSubscribeDeliversChangesInWriteOrder(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.Subscribe(ctx, "users")
	require.NoError(t, err)

	rec, err := b.Insert(ctx, "users", map[string]any{"name": "a"})
	require.NoError(t, err)
	_, err = b.Update(ctx, "users", rec.ID, map[string]any{"name": "b"})
	require.NoError(t, err)
	_, err = b.Insert(ctx, "tests", map[string]any{"title": "ignored"})
	require.NoError(t, err)
	require.NoError(t, b.Delete(ctx, "users", rec.ID))

	var ops []collection.ChangeOp
	for i := 0; i < 3; i++ {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, rec.ID, ev.ID)
			ops = append(ops, ev.Op)
		case <-time.After(time.Second):
			t.Fatal("missing change event")
		}
	}
	assert.Equal(t, []collection.ChangeOp{collection.ChangeInsert, collection.ChangeUpdate, collection.ChangeDelete}, ops)

	cancel()
	require.Eventually(t, func() bool { return b.hub.Subscribers("users") == 0 }, time.Second, time.Millisecond)
}

func TestLaggingSubscriberDoesNotBlockWrites(t *testing.T) {
	b := New()
	ctx := context.Background()
	stalled, err := b.Subscribe(ctx, "users")
	require.NoError(t, err)
	defer stalled.Close()

	done := make(chan error, 1)
	go func() {
		for i := 0; i < collection.HubBuffer+20; i++ {
			if _, err := b.Insert(ctx, "users", map[string]any{"name": fmt.Sprintf("user %02d", i)}); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("inserts blocked behind a subscriber that never reads")
	}

	page, err := b.Select(ctx, collection.Query{Source: "users", PageSize: 5})
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)
	_, err = b.Insert(ctx, "institutions", map[string]any{"name": "North"})
	require.NoError(t, err)

	drained := 0
	for range stalled.Events() {
		drained++
	}
	assert.Equal(t, collection.HubBuffer, drained)
	assert.Zero(t, b.hub.Subscribers("users"))
}

func TestMalformedCursor(t *testing.T) {
	b := seeded(t, 1)
	_, err := b.Select(context.Background(), collection.Query{Source: "users", PageSize: 1, Cursor: "not-a-cursor"})
	assert.True(t, appErrors.Is(err, appErrors.ErrConfiguration))
}

func TestStoreOverMemoryBackend(t *testing.T) {
	b := seeded(t, 3)
	store, err := collection.Bind(b, collection.Query{Source: "users", PageSize: 10, OrderBy: "score"}, collection.WithRealtime())
	require.NoError(t, err)
	defer store.Close()
	require.Eventually(t, func() bool { return len(store.State().Items) == 3 }, time.Second, time.Millisecond)

	id, err := store.AddDocument(context.Background(), map[string]any{"name": "late", "score": 15})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		items := store.State().Items
		return len(items) == 4 && items[2].ID == id
	}, time.Second, time.Millisecond)
}
