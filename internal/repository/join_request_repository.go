package repository

import (
	"context"

	"github.com/noah-isme/dojo-api/internal/models"
	"github.com/noah-isme/dojo-api/internal/store"
)

var dojoEmbed = store.Embed{Collection: store.CollectionDojos, Key: "dojo_id", As: "dojo"}

type joinRequestRow struct {
	models.JoinRequest
	Dojo *struct {
		Name string `json:"name"`
	} `json:"dojo"`
}

func (r joinRequestRow) request() models.JoinRequest {
	req := r.JoinRequest
	if r.Dojo != nil {
		req.DojoName = r.Dojo.Name
	}
	return req
}

// JoinRequestRepository manages self-service join requests.
type JoinRequestRepository struct {
	client store.Client
}

// NewJoinRequestRepository constructs the repository.
func NewJoinRequestRepository(client store.Client) *JoinRequestRepository {
	return &JoinRequestRepository{client: client}
}

// FindByID returns a request with its target dojo name.
func (r *JoinRequestRepository) FindByID(ctx context.Context, id string) (*models.JoinRequest, error) {
	row, err := selectOne[joinRequestRow](ctx, r.client, "find join request", store.Query{
		Collection: store.CollectionJoinRequests,
		Filters:    []store.Filter{store.Eq("id", id)},
		Embeds:     []store.Embed{dojoEmbed},
	})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, notFound("join request", id)
	}
	req := row.request()
	return &req, nil
}

// LatestOpenByUser returns the most recent pending or rejected request of
// the principal, or nil when there is none.
func (r *JoinRequestRepository) LatestOpenByUser(ctx context.Context, userID string) (*models.JoinRequest, error) {
	row, err := selectOne[joinRequestRow](ctx, r.client, "find join request", store.Query{
		Collection: store.CollectionJoinRequests,
		Filters: []store.Filter{
			store.Eq("user_id", userID),
			store.In("status", models.JoinRequestPending, models.JoinRequestRejected),
		},
		Embeds: []store.Embed{dojoEmbed},
		Order:  []store.Order{{Column: "created_at", Desc: true}},
	})
	if err != nil || row == nil {
		return nil, err
	}
	req := row.request()
	return &req, nil
}

// ListByDojo returns a dojo's requests in the given status, oldest first.
func (r *JoinRequestRepository) ListByDojo(ctx context.Context, dojoID string, status models.JoinRequestStatus) ([]models.JoinRequest, error) {
	return selectAll[models.JoinRequest](ctx, r.client, "list join requests", store.Query{
		Collection: store.CollectionJoinRequests,
		Filters:    []store.Filter{store.Eq("dojo_id", dojoID), store.Eq("status", status)},
		Order:      []store.Order{{Column: "created_at"}},
	})
}

// Create inserts a request.
func (r *JoinRequestRepository) Create(ctx context.Context, req *models.JoinRequest) error {
	return insertOne(ctx, r.client, "create join request", store.CollectionJoinRequests, req, "dojo_name")
}

// Transition moves a request from one status to another. It reports false
// when the request was not in the from status.
func (r *JoinRequestRepository) Transition(ctx context.Context, id string, from, to models.JoinRequestStatus) (bool, error) {
	rows, err := r.client.Update(ctx, store.CollectionJoinRequests,
		store.Row{"status": to},
		store.Eq("id", id), store.Eq("status", from))
	if err != nil {
		return false, storeErr("update join request", err)
	}
	return len(rows) > 0, nil
}
