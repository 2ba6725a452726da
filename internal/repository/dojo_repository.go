package repository

import (
	"context"

	"github.com/noah-isme/dojo-api/internal/models"
	"github.com/noah-isme/dojo-api/internal/store"
)

// DojoRepository reads dojo configuration.
type DojoRepository struct {
	client store.Client
}

// NewDojoRepository constructs the repository.
func NewDojoRepository(client store.Client) *DojoRepository {
	return &DojoRepository{client: client}
}

// FindByID returns a dojo with its modalities.
func (r *DojoRepository) FindByID(ctx context.Context, id string) (*models.Dojo, error) {
	dojo, err := selectOne[models.Dojo](ctx, r.client, "find dojo", store.Query{
		Collection: store.CollectionDojos,
		Filters:    []store.Filter{store.Eq("id", id)},
	})
	if err != nil {
		return nil, err
	}
	if dojo == nil {
		return nil, notFound("dojo", id)
	}
	return dojo, nil
}

// FindByOwner returns the dojo owned by a principal, or nil.
func (r *DojoRepository) FindByOwner(ctx context.Context, ownerID string) (*models.Dojo, error) {
	return selectOne[models.Dojo](ctx, r.client, "find dojo by owner", store.Query{
		Collection: store.CollectionDojos,
		Filters:    []store.Filter{store.Eq("owner_id", ownerID)},
	})
}
