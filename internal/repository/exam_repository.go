package repository

import (
	"context"

	"github.com/noah-isme/dojo-api/internal/models"
	"github.com/noah-isme/dojo-api/internal/store"
)

// ExamRepository reads exam definitions.
type ExamRepository struct {
	client store.Client
}

// NewExamRepository constructs the repository.
func NewExamRepository(client store.Client) *ExamRepository {
	return &ExamRepository{client: client}
}

// FindByID returns an exam.
func (r *ExamRepository) FindByID(ctx context.Context, id string) (*models.Exam, error) {
	exam, err := selectOne[models.Exam](ctx, r.client, "find exam", store.Query{
		Collection: store.CollectionExams,
		Filters:    []store.Filter{store.Eq("id", id)},
	})
	if err != nil {
		return nil, err
	}
	if exam == nil {
		return nil, notFound("exam", id)
	}
	return exam, nil
}
