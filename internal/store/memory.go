package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Op names a store operation, used by Memory failure hooks.
type Op string

const (
	OpSelect Op = "select"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpUpsert Op = "upsert"
)

// createdAtLayout keeps a fixed width so timestamps sort as strings.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FailureHook lets tests make a given operation fail. Returning nil lets
// the operation proceed.
type FailureHook func(op Op, collection string) error

type memoryRecord struct {
	seq int64
	row Row
}

// Memory is an in-process Client used for local development and tests.
// It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	seq     int64
	tables  map[string][]*memoryRecord
	hooks   []FailureHook
	journal []string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string][]*memoryRecord)}
}

// OnFailure registers a failure hook.
func (m *Memory) OnFailure(hook FailureHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// FailNext makes the next matching operation fail once with err.
func (m *Memory) FailNext(op Op, collection string, err error) {
	var once sync.Once
	m.OnFailure(func(o Op, c string) error {
		if o != op || c != collection {
			return nil
		}
		var out error
		once.Do(func() { out = err })
		return out
	})
}

// FailAlways makes every matching operation fail with err.
func (m *Memory) FailAlways(op Op, collection string, err error) {
	m.OnFailure(func(o Op, c string) error {
		if o == op && c == collection {
			return err
		}
		return nil
	})
}

// Journal lists successful writes as "op collection" in order.
func (m *Memory) Journal() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.journal))
	copy(out, m.journal)
	return out
}

// Count returns the number of rows in a collection matching filters.
func (m *Memory) Count(collection string, filters ...Filter) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.tables[collection] {
		if matchAll(rec.row, filters) {
			n++
		}
	}
	return n
}

func (m *Memory) Select(ctx context.Context, q Query) ([]Row, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(OpSelect, q.Collection); err != nil {
		return nil, err
	}

	var matched []*memoryRecord
	for _, rec := range m.tables[q.Collection] {
		if matchAll(rec.row, q.Filters) {
			matched = append(matched, rec)
		}
	}
	if len(q.Order) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, o := range q.Order {
				c := compareValues(matched[i].row[o.Column], matched[j].row[o.Column])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			if q.Order[0].Desc {
				return matched[i].seq > matched[j].seq
			}
			return matched[i].seq < matched[j].seq
		})
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	rows := make([]Row, 0, len(matched))
	for _, rec := range matched {
		row := cloneRow(rec.row)
		for _, e := range q.Embeds {
			row[e.As] = m.lookup(e.Collection, row[e.Key])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (m *Memory) Insert(ctx context.Context, collection string, rows ...Row) ([]Row, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(OpInsert, collection); err != nil {
		return nil, err
	}

	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		row, err := normalise(r)
		if err != nil {
			return nil, err
		}
		if id, _ := row["id"].(string); id == "" {
			row["id"] = uuid.NewString()
		} else if m.indexOf(collection, id) >= 0 {
			return nil, &Error{Op: string(OpInsert), Collection: collection, Code: "23505", Message: fmt.Sprintf("duplicate key id=%s", id)}
		}
		if _, ok := row["created_at"]; !ok {
			row["created_at"] = time.Now().UTC().Format(createdAtLayout)
		}
		m.seq++
		m.tables[collection] = append(m.tables[collection], &memoryRecord{seq: m.seq, row: row})
		out = append(out, cloneRow(row))
	}
	m.journal = append(m.journal, string(OpInsert)+" "+collection)
	return out, nil
}

func (m *Memory) Update(ctx context.Context, collection string, patch Row, filters ...Filter) ([]Row, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return nil, ErrUnfilteredWrite
	}
	if err := validateFilters(filters); err != nil {
		return nil, err
	}
	normalised, err := normalise(patch)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(OpUpdate, collection); err != nil {
		return nil, err
	}

	var out []Row
	for _, rec := range m.tables[collection] {
		if !matchAll(rec.row, filters) {
			continue
		}
		for k, v := range normalised {
			rec.row[k] = v
		}
		out = append(out, cloneRow(rec.row))
	}
	m.journal = append(m.journal, string(OpUpdate)+" "+collection)
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, collection string, filters ...Filter) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	if len(filters) == 0 {
		return ErrUnfilteredWrite
	}
	if err := validateFilters(filters); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(OpDelete, collection); err != nil {
		return err
	}

	kept := m.tables[collection][:0]
	for _, rec := range m.tables[collection] {
		if !matchAll(rec.row, filters) {
			kept = append(kept, rec)
		}
	}
	m.tables[collection] = kept
	m.journal = append(m.journal, string(OpDelete)+" "+collection)
	return nil
}

func (m *Memory) Upsert(ctx context.Context, collection string, row Row) (Row, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	normalised, err := normalise(row)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(OpUpsert, collection); err != nil {
		return nil, err
	}

	id, _ := normalised["id"].(string)
	if id == "" {
		id = uuid.NewString()
		normalised["id"] = id
	}
	if idx := m.indexOf(collection, id); idx >= 0 {
		rec := m.tables[collection][idx]
		for k, v := range normalised {
			rec.row[k] = v
		}
		m.journal = append(m.journal, string(OpUpsert)+" "+collection)
		return cloneRow(rec.row), nil
	}
	if _, ok := normalised["created_at"]; !ok {
		normalised["created_at"] = time.Now().UTC().Format(createdAtLayout)
	}
	m.seq++
	m.tables[collection] = append(m.tables[collection], &memoryRecord{seq: m.seq, row: normalised})
	m.journal = append(m.journal, string(OpUpsert)+" "+collection)
	return cloneRow(normalised), nil
}

func (m *Memory) fail(op Op, collection string) error {
	for _, hook := range m.hooks {
		if err := hook(op, collection); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) indexOf(collection, id string) int {
	for i, rec := range m.tables[collection] {
		if rec.row["id"] == id {
			return i
		}
	}
	return -1
}

func (m *Memory) lookup(collection string, key any) Row {
	id, ok := key.(string)
	if !ok || id == "" {
		return nil
	}
	if idx := m.indexOf(collection, id); idx >= 0 {
		return cloneRow(m.tables[collection][idx].row)
	}
	return nil
}

func matchAll(row Row, filters []Filter) bool {
	for _, f := range filters {
		if !match(row, f) {
			return false
		}
	}
	return true
}

func match(row Row, f Filter) bool {
	v, present := row[f.Column]
	switch f.Op {
	case OpIsNull:
		return !present || v == nil
	case OpEq:
		return present && sameValue(v, f.Value)
	case OpIn:
		for _, candidate := range f.Values {
			if present && sameValue(v, candidate) {
				return true
			}
		}
	}
	return false
}

// sameValue compares through JSON so 1 and 1.0 or typed strings match.
func sameValue(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	var na, nb any
	_ = json.Unmarshal(ra, &na)
	_ = json.Unmarshal(rb, &nb)
	return fmt.Sprint(na) == fmt.Sprint(nb)
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	}
	switch {
	case a == nil && b != nil:
		return -1
	case a != nil && b == nil:
		return 1
	}
	return 0
}

func normalise(row Row) (Row, error) {
	out, err := Encode(row)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = Row{}
	}
	return out, nil
}

func cloneRow(row Row) Row {
	out, err := normalise(row)
	if err != nil {
		return Row{}
	}
	return out
}
