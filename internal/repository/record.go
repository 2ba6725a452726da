package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/noah-isme/dojo-api/internal/store"
	appErrors "github.com/noah-isme/dojo-api/pkg/errors"
)

// storeErr tags a record store failure with STORE_ERROR, keeping the
// provider code in the message.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.CloneWrap(appErrors.ErrStore, err, fmt.Sprintf("%s: %v", op, err))
}

func notFound(kind, id string) error {
	return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s %s not found", kind, id))
}

// selectAll runs q and decodes every row into T.
func selectAll[T any](ctx context.Context, client store.Client, op string, q store.Query) ([]T, error) {
	rows, err := client.Select(ctx, q)
	if err != nil {
		return nil, storeErr(op, err)
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		var item T
		if err := store.Decode(row, &item); err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// selectOne returns the first row of q, or nil when nothing matches.
func selectOne[T any](ctx context.Context, client store.Client, op string, q store.Query) (*T, error) {
	q.Limit = 1
	items, err := selectAll[T](ctx, client, op, q)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

// insertOne writes v, dropping read-only keys, and decodes the stored row
// back into v.
func insertOne(ctx context.Context, client store.Client, op, collection string, v any, readOnly ...string) error {
	row, err := store.Encode(v)
	if err != nil {
		return storeErr(op, err)
	}
	if id, _ := row["id"].(string); id == "" {
		row["id"] = uuid.NewString()
	}
	for _, key := range readOnly {
		delete(row, key)
	}
	if row["created_at"] == nil {
		delete(row, "created_at")
	}
	stored, err := client.Insert(ctx, collection, row)
	if err != nil {
		return storeErr(op, err)
	}
	if len(stored) == 0 {
		return storeErr(op, fmt.Errorf("insert into %s returned no rows", collection))
	}
	if err := store.Decode(stored[0], v); err != nil {
		return storeErr(op, err)
	}
	return nil
}
