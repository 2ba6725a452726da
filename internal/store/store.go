// Package store defines the record store contract used by the core and
// the adapters that satisfy it. Rows travel in JSON shape so that the SQL,
// REST and in-memory adapters return interchangeable results.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// Collections used by the dojo core.
const (
	CollectionDojos            = "dojos"
	CollectionStudents         = "students"
	CollectionExams            = "exams"
	CollectionGraduationEvents = "graduation_events"
	CollectionChampionships    = "championships"
	CollectionRoleLinks        = "student_user_links"
	CollectionJoinRequests     = "student_requests"
)

var knownCollections = map[string]struct{}{
	CollectionDojos:            {},
	CollectionStudents:         {},
	CollectionExams:            {},
	CollectionGraduationEvents: {},
	CollectionChampionships:    {},
	CollectionRoleLinks:        {},
	CollectionJoinRequests:     {},
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Row is a record in JSON shape.
type Row map[string]any

// Operator is a filter predicate.
type Operator string

const (
	OpEq     Operator = "eq"
	OpIn     Operator = "in"
	OpIsNull Operator = "is_null"
)

// Filter restricts the rows an operation touches.
type Filter struct {
	Column string
	Op     Operator
	Value  any
	Values []any
}

// Eq matches rows whose column equals value.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

// In matches rows whose column is one of values.
func In[T any](column string, values ...T) Filter {
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return Filter{Column: column, Op: OpIn, Values: vals}
}

// IsNull matches rows whose column is null or absent.
func IsNull(column string) Filter {
	return Filter{Column: column, Op: OpIsNull}
}

// Embed fetches the row of Collection whose id equals the parent's Key
// column and stores it under As.
type Embed struct {
	Collection string
	Key        string
	As         string
}

// Order sorts a selection.
type Order struct {
	Column string
	Desc   bool
}

// Query describes a selection.
type Query struct {
	Collection string
	Filters    []Filter
	Embeds     []Embed
	Order      []Order
	Limit      int
}

// Client is the record store contract.
type Client interface {
	Select(ctx context.Context, q Query) ([]Row, error)
	Insert(ctx context.Context, collection string, rows ...Row) ([]Row, error)
	Update(ctx context.Context, collection string, patch Row, filters ...Filter) ([]Row, error)
	Delete(ctx context.Context, collection string, filters ...Filter) error
	Upsert(ctx context.Context, collection string, row Row) (Row, error)
}

// ErrUnfilteredWrite guards against updates and deletes without a predicate.
var ErrUnfilteredWrite = errors.New("store: update or delete requires at least one filter")

// Error is a failure reported by the underlying store, carrying the
// provider's own code (SQLSTATE, PostgREST code or HTTP status).
type Error struct {
	Op         string
	Collection string
	Code       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("store %s %s [%s]: %s", e.Op, e.Collection, e.Code, msg)
	}
	return fmt.Sprintf("store %s %s: %s", e.Op, e.Collection, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Encode converts a value into a Row through its JSON representation.
func Encode(v any) (Row, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	var row Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	return row, nil
}

// Decode fills dst from a Row through its JSON representation.
func Decode(row Row, dst any) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}

func validateCollection(collection string) error {
	if _, ok := knownCollections[collection]; !ok {
		return fmt.Errorf("store: unknown collection %q", collection)
	}
	return nil
}

func validateColumn(column string) error {
	if !identifierPattern.MatchString(column) {
		return fmt.Errorf("store: invalid column %q", column)
	}
	return nil
}

func validateQuery(q Query) error {
	if err := validateCollection(q.Collection); err != nil {
		return err
	}
	if err := validateFilters(q.Filters); err != nil {
		return err
	}
	for _, o := range q.Order {
		if err := validateColumn(o.Column); err != nil {
			return err
		}
	}
	for _, e := range q.Embeds {
		if err := validateCollection(e.Collection); err != nil {
			return err
		}
		if err := validateColumn(e.Key); err != nil {
			return err
		}
		if err := validateColumn(e.As); err != nil {
			return err
		}
	}
	return nil
}

func validateFilters(filters []Filter) error {
	for _, f := range filters {
		if err := validateColumn(f.Column); err != nil {
			return err
		}
		switch f.Op {
		case OpEq, OpIn, OpIsNull:
		default:
			return fmt.Errorf("store: unsupported operator %q", f.Op)
		}
	}
	return nil
}
