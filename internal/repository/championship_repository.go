package repository

import (
	"context"

	"github.com/noah-isme/dojo-api/internal/models"
	"github.com/noah-isme/dojo-api/internal/store"
)

// ChampionshipRepository reads championship participations.
type ChampionshipRepository struct {
	client store.Client
}

// NewChampionshipRepository constructs the repository.
func NewChampionshipRepository(client store.Client) *ChampionshipRepository {
	return &ChampionshipRepository{client: client}
}

// ListByStudent returns a student's participations, newest first.
func (r *ChampionshipRepository) ListByStudent(ctx context.Context, studentID string) ([]models.ChampionshipParticipation, error) {
	return selectAll[models.ChampionshipParticipation](ctx, r.client, "list championships", store.Query{
		Collection: store.CollectionChampionships,
		Filters:    []store.Filter{store.Eq("student_id", studentID)},
		Order:      []store.Order{{Column: "date", Desc: true}},
	})
}
