package postgres

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/prepmint-api/internal/collection"
	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

func newMock(t *testing.T) (*Backend, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	backend := NewBackend(sqlx.NewDb(db, "postgres"), nil)
	backend.now = func() time.Time { return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC) }
	return backend, mock, func() {
		db.Close()
	}
}

// typedRows declares columns as "name:TYPE" so ColumnTypes reports database types.
func typedRows(mock sqlmock.Sqlmock, columns ...string) *sqlmock.Rows {
	cols := make([]*sqlmock.Column, 0, len(columns))
	for _, col := range columns {
		name, dbType, _ := strings.Cut(col, ":")
		cols = append(cols, mock.NewColumn(name).OfType(dbType, nil).Nullable(true))
	}
	return mock.NewRowsWithColumnDefinition(cols...)
}

func TestSelectBuildsFilteredSearchQuery(t *testing.T) {
	backend, mock, cleanup := newMock(t)
	defer cleanup()

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	where := ` WHERE "role" = $1 AND (CAST("name" AS TEXT) ILIKE $2 ESCAPE '\')`
	rows := typedRows(mock, "id:TEXT", "name:TEXT", "role:TEXT", "created_at:TIMESTAMPTZ", "updated_at:TIMESTAMPTZ").
		AddRow("u1", "Alice Smith", "student", created, nil).
		AddRow("u2", "Alicia Keys", "student", created, created)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users"` + where + ` ORDER BY "name" ASC NULLS FIRST, "id" COLLATE "C" ASC LIMIT 2`)).
		WithArgs("student", "%ali%").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "users"` + where)).
		WithArgs("student", "%ali%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	page, err := backend.Select(context.Background(), collection.Query{
		Source:       "users",
		PageSize:     2,
		OrderBy:      "name",
		Filters:      []collection.Filter{{Field: "role", Operator: collection.OpEq, Value: "student"}},
		SearchTerm:   "ali",
		SearchFields: []string{"name"},
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "u1", page.Items[0].ID)
	assert.Equal(t, "Alice Smith", page.Items[0].Fields["name"])
	assert.Nil(t, page.Items[0].UpdatedAt)
	assert.NotNil(t, page.Items[1].UpdatedAt)
	assert.NotContains(t, page.Items[0].Fields, "id")
	assert.True(t, page.HasMore)
	key, err := collection.DecodeSortKey(page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, collection.SortKey{Value: "Alicia Keys", ID: "u2"}, key)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectLastPageHasNoCursor(t *testing.T) {
	backend, mock, cleanup := newMock(t)
	defer cleanup()

	created := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	cursor, err := collection.EncodeSortKey(collection.Record{ID: "t2", CreatedAt: created}, "created_at")
	require.NoError(t, err)

	where := ` WHERE ("created_at" < $1 OR ("created_at" = $2 AND "id" COLLATE "C" < $3) OR "created_at" IS NULL)`
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "tests"` + where + ` ORDER BY "created_at" DESC NULLS LAST, "id" COLLATE "C" DESC LIMIT 2`)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "t2").
		WillReturnRows(typedRows(mock, "id:TEXT", "title:TEXT", "created_at:TIMESTAMPTZ").
			AddRow("t3", "Algebra", created.Add(-time.Hour)).
			AddRow("t4", "Biology", created.Add(-2*time.Hour)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "tests"` + where)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "t2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	page, err := backend.Select(context.Background(), collection.Query{
		Source:    "tests",
		PageSize:  2,
		Direction: collection.Desc,
		Cursor:    cursor,
	})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeysetConditionHandlesNullAnchors(t *testing.T) {
	cond, err := keysetCondition("score", collection.Asc, collection.SortKey{ID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, `("score" IS NOT NULL OR "id" COLLATE "C" > ?)`, cond.clause)
	assert.Equal(t, []any{"u1"}, cond.args)

	cond, err = keysetCondition("score", collection.Desc, collection.SortKey{ID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, `("score" IS NULL AND "id" COLLATE "C" < ?)`, cond.clause)

	cond, err = keysetCondition("id", collection.Asc, collection.SortKey{Value: "u1", ID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, `"id" COLLATE "C" > ?`, cond.clause)
}

func TestLoadMoreAfterDeleteKeepsEveryRow(t *testing.T) {
	backend, mock, cleanup := newMock(t)
	defer cleanup()

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	page := func(names ...string) *sqlmock.Rows {
		rows := typedRows(mock, "id:TEXT", "name:TEXT", "created_at:TIMESTAMPTZ")
		for _, name := range names {
			rows.AddRow("r"+name[1:], name, created)
		}
		return rows
	}
	order := ` ORDER BY "name" ASC NULLS FIRST, "id" COLLATE "C" ASC LIMIT 2`
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users"` + order)).WillReturnRows(page("n0", "n1"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "users"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "users" WHERE "id" = $1`)).
		WithArgs("r0").
		WillReturnResult(sqlmock.NewResult(0, 1))
	after := ` WHERE ("name" > $1 OR ("name" = $2 AND "id" COLLATE "C" > $3))`
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users"` + after + order)).
		WithArgs("n1", "n1", "r1").
		WillReturnRows(page("n2", "n3"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "users"` + after)).
		WithArgs("n1", "n1", "r1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	store, err := collection.Bind(backend, collection.Query{Source: "users", PageSize: 2, OrderBy: "name"})
	require.NoError(t, err)
	defer store.Close()
	require.Eventually(t, func() bool {
		state := store.State()
		return !state.Loading && len(state.Items) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, store.DeleteDocument(context.Background(), "r0"))
	require.NoError(t, store.LoadMore(context.Background()))

	state := store.State()
	ids := make([]string, 0, len(state.Items))
	for _, rec := range state.Items {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"r1", "r2", "r3"}, ids)
	assert.False(t, state.HasMore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectRejectsMalformedQueryWithoutCallingDatabase(t *testing.T) {
	backend, mock, cleanup := newMock(t)
	defer cleanup()

	cases := []collection.Query{
		{Source: "users", PageSize: 0},
		{Source: "users", PageSize: 10, Filters: []collection.Filter{{Field: "role", Operator: "like", Value: "x"}}},
		{Source: "users", PageSize: 10, OrderBy: "profile.name"},
		{Source: "users", PageSize: 10, Cursor: "!!"},
	}
	for _, q := range cases {
		_, err := backend.Select(context.Background(), q)
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrConfiguration), "query %+v", q)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTranslatorOperators(t *testing.T) {
	cond, err := collection.Translate[condition](sqlTranslator{}, collection.Filter{Field: "role", Operator: collection.OpIn, Value: []string{"student", "teacher"}})
	require.NoError(t, err)
	assert.Equal(t, `"role" IN (?, ?)`, cond.clause)
	assert.Equal(t, []any{"student", "teacher"}, cond.args)

	cond, err = collection.Translate[condition](sqlTranslator{}, collection.Filter{Field: "tags", Operator: collection.OpContains, Value: "math"})
	require.NoError(t, err)
	assert.Equal(t, `? = ANY("tags")`, cond.clause)

	cond, err = collection.Translate[condition](sqlTranslator{}, collection.Filter{Field: "institution_id", Operator: collection.OpNeq, Value: nil})
	require.NoError(t, err)
	assert.Equal(t, `"institution_id" IS NOT NULL`, cond.clause)

	cond, err = collection.Translate[condition](sqlTranslator{}, collection.Filter{Field: "score", Operator: collection.OpGte, Value: 50})
	require.NoError(t, err)
	assert.Equal(t, `"score" >= ?`, cond.clause)
}

func TestSearchEscapesLikeWildcards(t *testing.T) {
	cond, err := searchCondition(`50%_off\`, []string{"title", "subject"})
	require.NoError(t, err)
	assert.Equal(t, `(CAST("title" AS TEXT) ILIKE ? ESCAPE '\' OR CAST("subject" AS TEXT) ILIKE ? ESCAPE '\')`, cond.clause)
	assert.Equal(t, `%50\%\_off\\%`, cond.args[0])
}

func TestInsertReturnsStoredRow(t *testing.T) {
	backend, mock, cleanup := newMock(t)
	defer cleanup()

	now := backend.now()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "tests" ("id", "created_at", "tags", "title") VALUES ($1, $2, $3, $4) RETURNING *`)).
		WithArgs(sqlmock.AnyArg(), now, sqlmock.AnyArg(), "Algebra").
		WillReturnRows(typedRows(mock, "id:TEXT", "title:TEXT", "tags:_TEXT", "created_at:TIMESTAMPTZ", "updated_at:TIMESTAMPTZ").
			AddRow("t1", "Algebra", []byte(`{math,core}`), now, nil))

	rec, err := backend.Insert(context.Background(), "tests", map[string]any{
		"id":    "ignored",
		"title": "Algebra",
		"tags":  []any{"math", "core"},
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", rec.ID)
	assert.Equal(t, "Algebra", rec.Fields["title"])
	assert.Equal(t, now, rec.CreatedAt)
	assert.Equal(t, []string{"math", "core"}, rec.Fields["tags"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertConstraintViolationIsValidationError(t *testing.T) {
	backend, mock, cleanup := newMock(t)
	defer cleanup()

	mock.ExpectQuery(`INSERT INTO "users"`).
		WillReturnError(&pq.Error{Code: "23502", Message: `null value in column "email" violates not-null constraint`})

	_, err := backend.Insert(context.Background(), "users", map[string]any{"name": "Alice"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Contains(t, err.Error(), "email")
}

func TestUpdateMissingRowIsNotFound(t *testing.T) {
	backend, mock, cleanup := newMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE "users" SET "name" = $1, "updated_at" = $2 WHERE "id" = $3 RETURNING *`)).
		WithArgs("Bob", backend.now(), "missing").
		WillReturnRows(typedRows(mock, "id:TEXT", "name:TEXT", "created_at:TIMESTAMPTZ", "updated_at:TIMESTAMPTZ"))

	_, err := backend.Update(context.Background(), "users", "missing", map[string]any{"name": "Bob"})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePermissionDenied(t *testing.T) {
	backend, mock, cleanup := newMock(t)
	defer cleanup()

	mock.ExpectQuery(`UPDATE "institutions"`).
		WillReturnError(&pq.Error{Code: "42501", Message: "permission denied for table institutions"})

	_, err := backend.Update(context.Background(), "institutions", "i1", map[string]any{"name": "X"})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestDelete(t *testing.T) {
	backend, mock, cleanup := newMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "users" WHERE "id" = $1`)).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "users" WHERE "id" = $1`)).
		WithArgs("u2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, backend.Delete(context.Background(), "users", "u1"))
	err := backend.Delete(context.Background(), "users", "u2")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionFailureIsTransient(t *testing.T) {
	backend, mock, cleanup := newMock(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT \* FROM "users"`).WillReturnError(assert.AnError)

	_, err := backend.Get(context.Background(), "users", "u1")
	assert.True(t, appErrors.Is(err, appErrors.ErrTransient))
}

func TestDecodeColumn(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, decodeColumn([]byte(`{a,b}`), "_TEXT"))
	assert.Equal(t, []int64{1, 2}, decodeColumn([]byte(`{1,2}`), "_INT4"))
	assert.Equal(t, map[string]any{"score": float64(90)}, decodeColumn([]byte(`{"score":90}`), "JSONB"))
	assert.Equal(t, 12.5, decodeColumn([]byte("12.5"), "NUMERIC"))
	assert.Equal(t, "plain", decodeColumn([]byte("plain"), "TEXT"))
	assert.Equal(t, int64(7), decodeColumn(int64(7), "INT8"))
}
