package repository

import (
	"context"

	"github.com/noah-isme/dojo-api/internal/models"
	"github.com/noah-isme/dojo-api/internal/store"
)

// RoleLinkRepository manages principal to student bindings.
type RoleLinkRepository struct {
	client store.Client
}

// NewRoleLinkRepository constructs the repository.
func NewRoleLinkRepository(client store.Client) *RoleLinkRepository {
	return &RoleLinkRepository{client: client}
}

// FindByUserID returns the principal's link, or nil when none exists.
func (r *RoleLinkRepository) FindByUserID(ctx context.Context, userID string) (*models.RoleLink, error) {
	return selectOne[models.RoleLink](ctx, r.client, "find role link", store.Query{
		Collection: store.CollectionRoleLinks,
		Filters:    []store.Filter{store.Eq("user_id", userID)},
	})
}

// Create inserts a link.
func (r *RoleLinkRepository) Create(ctx context.Context, link *models.RoleLink) error {
	return insertOne(ctx, r.client, "create role link", store.CollectionRoleLinks, link)
}

// Delete removes a link.
func (r *RoleLinkRepository) Delete(ctx context.Context, id string) error {
	return storeErr("delete role link", r.client.Delete(ctx, store.CollectionRoleLinks, store.Eq("id", id)))
}
