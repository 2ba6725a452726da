package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Postgres serves the record store contract from PostgreSQL tables named
// after the collections. Rows are produced with row_to_json so json/jsonb
// columns come back already decoded.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres constructs the adapter.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Select(ctx context.Context, q Query) ([]Row, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	where, args := buildWhere(q.Filters, 0)
	query := fmt.Sprintf("SELECT row_to_json(t) FROM (SELECT * FROM %s%s%s%s) t",
		q.Collection, where, buildOrder(q.Order), buildLimit(q.Limit))

	var raws []string
	if err := p.db.SelectContext(ctx, &raws, query, args...); err != nil {
		return nil, translate("select", q.Collection, err)
	}
	rows, err := decodeRaws(raws)
	if err != nil {
		return nil, err
	}
	for _, e := range q.Embeds {
		if err := p.embed(ctx, rows, e); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (p *Postgres) Insert(ctx context.Context, collection string, rows ...Row) ([]Row, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, translate("insert", collection, err)
	}
	defer tx.Rollback() //nolint:errcheck

	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		columns, values, err := splitRow(row)
		if err != nil {
			return nil, err
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING row_to_json(%s.*)",
			collection, strings.Join(columns, ", "), placeholders(len(columns), 0), collection)
		var raw string
		if err := tx.GetContext(ctx, &raw, query, values...); err != nil {
			return nil, translate("insert", collection, err)
		}
		decoded, err := decodeRaws([]string{raw})
		if err != nil {
			return nil, err
		}
		out = append(out, decoded[0])
	}
	if err := tx.Commit(); err != nil {
		return nil, translate("insert", collection, err)
	}
	return out, nil
}

func (p *Postgres) Update(ctx context.Context, collection string, patch Row, filters ...Filter) ([]Row, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return nil, ErrUnfilteredWrite
	}
	if err := validateFilters(filters); err != nil {
		return nil, err
	}
	columns, values, err := splitRow(patch)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("store: empty patch for %s", collection)
	}
	sets := make([]string, len(columns))
	for i, c := range columns {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}
	where, args := buildWhere(filters, len(values))
	query := fmt.Sprintf("UPDATE %s SET %s%s RETURNING row_to_json(%s.*)",
		collection, strings.Join(sets, ", "), where, collection)

	var raws []string
	if err := p.db.SelectContext(ctx, &raws, query, append(values, args...)...); err != nil {
		return nil, translate("update", collection, err)
	}
	return decodeRaws(raws)
}

func (p *Postgres) Delete(ctx context.Context, collection string, filters ...Filter) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	if len(filters) == 0 {
		return ErrUnfilteredWrite
	}
	if err := validateFilters(filters); err != nil {
		return err
	}
	where, args := buildWhere(filters, 0)
	if _, err := p.db.ExecContext(ctx, "DELETE FROM "+collection+where, args...); err != nil {
		return translate("delete", collection, err)
	}
	return nil
}

func (p *Postgres) Upsert(ctx context.Context, collection string, row Row) (Row, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	if id, _ := row["id"].(string); id == "" {
		return nil, fmt.Errorf("store: upsert into %s requires an id", collection)
	}
	columns, values, err := splitRow(row)
	if err != nil {
		return nil, err
	}
	var updates []string
	for _, c := range columns {
		if c != "id" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}
	conflict := "DO NOTHING"
	if len(updates) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(updates, ", ")
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) %s RETURNING row_to_json(%s.*)",
		collection, strings.Join(columns, ", "), placeholders(len(columns), 0), conflict, collection)

	var raw string
	if err := p.db.GetContext(ctx, &raw, query, values...); err != nil {
		return nil, translate("upsert", collection, err)
	}
	decoded, err := decodeRaws([]string{raw})
	if err != nil {
		return nil, err
	}
	return decoded[0], nil
}

func (p *Postgres) embed(ctx context.Context, rows []Row, e Embed) error {
	keys := make([]string, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		key, ok := row[e.Key].(string)
		if !ok || key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	related := make(map[string]Row, len(keys))
	if len(keys) > 0 {
		query := fmt.Sprintf("SELECT row_to_json(t) FROM (SELECT * FROM %s WHERE id = ANY($1)) t", e.Collection)
		var raws []string
		if err := p.db.SelectContext(ctx, &raws, query, pq.StringArray(keys)); err != nil {
			return translate("select", e.Collection, err)
		}
		decoded, err := decodeRaws(raws)
		if err != nil {
			return err
		}
		for _, r := range decoded {
			if id, ok := r["id"].(string); ok {
				related[id] = r
			}
		}
	}
	for _, row := range rows {
		key, _ := row[e.Key].(string)
		if r, ok := related[key]; ok {
			row[e.As] = r
		} else {
			row[e.As] = nil
		}
	}
	return nil
}

func buildWhere(filters []Filter, offset int) (string, []interface{}) {
	if len(filters) == 0 {
		return "", nil
	}
	var conditions []string
	var args []interface{}
	for _, f := range filters {
		switch f.Op {
		case OpEq:
			args = append(args, sqlValue(f.Value))
			conditions = append(conditions, fmt.Sprintf("%s = $%d", f.Column, offset+len(args)))
		case OpIn:
			values := make([]string, len(f.Values))
			for i, v := range f.Values {
				values[i] = fmt.Sprint(v)
			}
			args = append(args, pq.StringArray(values))
			conditions = append(conditions, fmt.Sprintf("%s = ANY($%d)", f.Column, offset+len(args)))
		case OpIsNull:
			conditions = append(conditions, f.Column+" IS NULL")
		}
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func buildOrder(order []Order) string {
	if len(order) == 0 {
		return ""
	}
	parts := make([]string, len(order))
	for i, o := range order {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		parts[i] = o.Column + " " + dir
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func buildLimit(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

func placeholders(n, offset int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", offset+i+1)
	}
	return strings.Join(parts, ", ")
}

// splitRow returns sorted columns and their SQL values. Nested values are
// sent as JSON text and cast by the json/jsonb column.
func splitRow(row Row) ([]string, []interface{}, error) {
	columns := make([]string, 0, len(row))
	for c := range row {
		if err := validateColumn(c); err != nil {
			return nil, nil, err
		}
		columns = append(columns, c)
	}
	sort.Strings(columns)
	values := make([]interface{}, len(columns))
	for i, c := range columns {
		values[i] = sqlValue(row[c])
	}
	return columns, values, nil
}

func sqlValue(v any) interface{} {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if t, ok := rv.Interface().(time.Time); ok {
		return t
	}
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	raw, err := json.Marshal(rv.Interface())
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

func decodeRaws(raws []string) ([]Row, error) {
	rows := make([]Row, 0, len(raws))
	for _, raw := range raws {
		var row Row
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			return nil, fmt.Errorf("store: decode row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func translate(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &Error{Op: op, Collection: collection, Code: "PGRST116", Message: "no rows returned", Err: err}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &Error{Op: op, Collection: collection, Code: string(pqErr.Code), Message: pqErr.Message, Err: err}
	}
	return &Error{Op: op, Collection: collection, Message: err.Error(), Err: err}
}
