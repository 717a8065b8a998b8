// Package postgres serves collection sources from PostgreSQL tables. Every
// source is a table with id, created_at and updated_at columns; all other
// columns become record fields.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/prepmint-api/internal/collection"
	appErrors "github.com/noah-isme/prepmint-api/pkg/errors"
)

const (
	columnID        = "id"
	columnCreatedAt = "created_at"
	columnUpdatedAt = "updated_at"
)

// Backend implements collection.Backend on top of sqlx.
type Backend struct {
	db     *sqlx.DB
	logger *zap.Logger
	now    func() time.Time
	hub    *collection.Hub
}

// NewBackend creates a backend over db.
func NewBackend(db *sqlx.DB, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		hub:    collection.NewHub(),
	}
}

// Capabilities reports substring search and exact page counts.
func (b *Backend) Capabilities() collection.Capabilities {
	return collection.Capabilities{Search: collection.SearchSubstring, ExactCount: true}
}

// Subscribe streams changes delivered by a Listener attached to this backend.
func (b *Backend) Subscribe(ctx context.Context, source string) (collection.Subscription, error) {
	return b.hub.Subscribe(ctx, source)
}

// Select returns one page ordered by q.OrderBy with id as tie-breaker. The
// cursor is the sort key of the previous page's last row, so deletes and
// filter changes behind it never skip rows. HasMore comes from a COUNT of
// the rows remaining after the cursor.
func (b *Backend) Select(ctx context.Context, q collection.Query) (collection.Page, error) {
	q = q.Normalize()
	if err := q.Validate(); err != nil {
		return collection.Page{}, err
	}
	table, err := column(q.Source)
	if err != nil {
		return collection.Page{}, err
	}
	var extra []condition
	if q.Cursor != "" {
		key, err := collection.DecodeSortKey(q.Cursor)
		if err != nil {
			return collection.Page{}, err
		}
		after, err := keysetCondition(q.OrderBy, q.Direction, key)
		if err != nil {
			return collection.Page{}, err
		}
		extra = append(extra, after)
	}
	order, err := orderClause(q.OrderBy, q.Direction)
	if err != nil {
		return collection.Page{}, err
	}

	where, args, err := buildWhere(q, extra...)
	if err != nil {
		return collection.Page{}, err
	}
	listQuery := b.db.Rebind(fmt.Sprintf("SELECT * FROM %s%s ORDER BY %s LIMIT %d", table, where, order, q.PageSize))

	rows, err := b.db.QueryxContext(ctx, listQuery, args...)
	if err != nil {
		return collection.Page{}, classify(err, "select "+q.Source)
	}
	items, err := scanRecords(rows)
	if err != nil {
		return collection.Page{}, classify(err, "scan "+q.Source)
	}

	countQuery := b.db.Rebind(fmt.Sprintf("SELECT COUNT(*) FROM %s%s", table, where))
	var remaining int
	if err := b.db.GetContext(ctx, &remaining, countQuery, args...); err != nil {
		return collection.Page{}, classify(err, "count "+q.Source)
	}

	page := collection.Page{Items: items, HasMore: len(items) > 0 && remaining > len(items)}
	if page.HasMore {
		cursor, err := collection.EncodeSortKey(items[len(items)-1], q.OrderBy)
		if err != nil {
			return collection.Page{}, err
		}
		page.NextCursor = cursor
	}
	return page, nil
}

// Get returns one row by id.
func (b *Backend) Get(ctx context.Context, source, id string) (collection.Record, error) {
	table, err := column(source)
	if err != nil {
		return collection.Record{}, err
	}
	query := b.db.Rebind(fmt.Sprintf("SELECT * FROM %s WHERE %s = ? LIMIT 1", table, pq.QuoteIdentifier(columnID)))
	rows, err := b.db.QueryxContext(ctx, query, id)
	if err != nil {
		return collection.Record{}, classify(err, "get "+source)
	}
	items, err := scanRecords(rows)
	if err != nil {
		return collection.Record{}, classify(err, "scan "+source)
	}
	if len(items) == 0 {
		return collection.Record{}, notFound(source, id)
	}
	return items[0], nil
}

// Insert adds a row with a generated id and returns it as stored.
func (b *Backend) Insert(ctx context.Context, source string, fields map[string]any) (collection.Record, error) {
	table, err := column(source)
	if err != nil {
		return collection.Record{}, err
	}
	cols := []string{pq.QuoteIdentifier(columnID), pq.QuoteIdentifier(columnCreatedAt)}
	args := []any{uuid.NewString(), b.now()}
	for _, name := range fieldNames(fields) {
		col, err := column(name)
		if err != nil {
			return collection.Record{}, err
		}
		cols = append(cols, col)
		args = append(args, bindValue(fields[name]))
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := b.db.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *", table, strings.Join(cols, ", "), marks))

	rows, err := b.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return collection.Record{}, classify(err, "insert "+source)
	}
	items, err := scanRecords(rows)
	if err != nil {
		return collection.Record{}, classify(err, "insert "+source)
	}
	if len(items) == 0 {
		return collection.Record{}, appErrors.Clone(appErrors.ErrInternal, "insert returned no row")
	}
	return items[0], nil
}

// Update sets the given columns and bumps updated_at.
func (b *Backend) Update(ctx context.Context, source, id string, fields map[string]any) (collection.Record, error) {
	table, err := column(source)
	if err != nil {
		return collection.Record{}, err
	}
	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+2)
	for _, name := range fieldNames(fields) {
		col, err := column(name)
		if err != nil {
			return collection.Record{}, err
		}
		sets = append(sets, col+" = ?")
		args = append(args, bindValue(fields[name]))
	}
	sets = append(sets, pq.QuoteIdentifier(columnUpdatedAt)+" = ?")
	args = append(args, b.now(), id)
	query := b.db.Rebind(fmt.Sprintf("UPDATE %s SET %s WHERE %s = ? RETURNING *", table, strings.Join(sets, ", "), pq.QuoteIdentifier(columnID)))

	rows, err := b.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return collection.Record{}, classify(err, "update "+source)
	}
	items, err := scanRecords(rows)
	if err != nil {
		return collection.Record{}, classify(err, "update "+source)
	}
	if len(items) == 0 {
		return collection.Record{}, notFound(source, id)
	}
	return items[0], nil
}

// Delete removes one row.
func (b *Backend) Delete(ctx context.Context, source, id string) error {
	table, err := column(source)
	if err != nil {
		return err
	}
	query := b.db.Rebind(fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, pq.QuoteIdentifier(columnID)))
	res, err := b.db.ExecContext(ctx, query, id)
	if err != nil {
		return classify(err, "delete "+source)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify(err, "delete "+source)
	}
	if affected == 0 {
		return notFound(source, id)
	}
	return nil
}

func buildWhere(q collection.Query, extra ...condition) (string, []any, error) {
	var clauses []string
	var args []any
	for _, f := range q.Filters {
		cond, err := collection.Translate[condition](sqlTranslator{}, f)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, cond.clause)
		args = append(args, cond.args...)
	}
	if q.SearchTerm != "" {
		cond, err := searchCondition(q.SearchTerm, q.SearchFields)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, cond.clause)
		args = append(args, cond.args...)
	}
	for _, cond := range extra {
		clauses = append(clauses, cond.clause)
		args = append(args, cond.args...)
	}
	if len(clauses) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// fieldNames returns writable field names in a stable order. Bookkeeping
// columns are owned by the backend.
func fieldNames(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		switch name {
		case columnID, columnCreatedAt, columnUpdatedAt:
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// bindValue adapts decoded JSON values to driver arguments: string lists
// become text arrays, other composites are stored as JSON.
func bindValue(v any) any {
	switch typed := v.(type) {
	case []string:
		return pq.StringArray(typed)
	case []any:
		strs := make([]string, 0, len(typed))
		for _, item := range typed {
			s, ok := item.(string)
			if !ok {
				return jsonValue(v)
			}
			strs = append(strs, s)
		}
		return pq.StringArray(strs)
	case map[string]any:
		return jsonValue(v)
	}
	return v
}

func jsonValue(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

func scanRecords(rows *sqlx.Rows) ([]collection.Record, error) {
	defer rows.Close()
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	dbTypes := make(map[string]string, len(types))
	for _, ct := range types {
		dbTypes[ct.Name()] = strings.ToUpper(ct.DatabaseTypeName())
	}
	items := make([]collection.Record, 0)
	for rows.Next() {
		row := make(map[string]any, len(types))
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		items = append(items, rowToRecord(row, dbTypes))
	}
	return items, rows.Err()
}

func rowToRecord(row map[string]any, dbTypes map[string]string) collection.Record {
	rec := collection.Record{Fields: make(map[string]any, len(row))}
	for name, raw := range row {
		value := decodeColumn(raw, dbTypes[name])
		switch name {
		case columnID:
			if value != nil {
				rec.ID = fmt.Sprint(value)
			}
		case columnCreatedAt:
			if ts, ok := value.(time.Time); ok {
				rec.CreatedAt = ts
			}
		case columnUpdatedAt:
			if ts, ok := value.(time.Time); ok {
				rec.UpdatedAt = &ts
			}
		default:
			rec.Fields[name] = value
		}
	}
	return rec
}

func decodeColumn(raw any, dbType string) any {
	b, ok := raw.([]byte)
	if !ok {
		return raw
	}
	switch dbType {
	case "JSON", "JSONB":
		var out any
		if err := json.Unmarshal(b, &out); err == nil {
			return out
		}
	case "_TEXT", "_VARCHAR", "_UUID":
		var arr pq.StringArray
		if err := arr.Scan(b); err == nil {
			return []string(arr)
		}
	case "_INT2", "_INT4", "_INT8":
		var arr pq.Int64Array
		if err := arr.Scan(b); err == nil {
			return []int64(arr)
		}
	case "NUMERIC":
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f
		}
	}
	return string(b)
}

func notFound(source, id string) error {
	return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s/%s not found", source, id))
}

// classify maps driver failures onto the shared error taxonomy.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, op+": no rows")
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "23" || pqErr.Code.Class() == "22":
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, pqErr.Message)
		case pqErr.Code == "42501":
			return appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, pqErr.Message)
		case pqErr.Code == "42P01" || pqErr.Code == "42703" || pqErr.Code.Class() == "42":
			return appErrors.Wrap(err, appErrors.ErrConfiguration.Code, appErrors.ErrConfiguration.Status, pqErr.Message)
		}
	}
	return appErrors.Wrap(fmt.Errorf("%s: %w", op, err), appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, appErrors.ErrTransient.Message)
}
