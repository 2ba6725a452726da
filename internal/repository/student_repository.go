package repository

import (
	"context"

	"github.com/noah-isme/dojo-api/internal/models"
	"github.com/noah-isme/dojo-api/internal/store"
)

// StudentRepository provides access to student profiles.
type StudentRepository struct {
	client store.Client
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(client store.Client) *StudentRepository {
	return &StudentRepository{client: client}
}

// FindByID returns a student profile.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	student, err := selectOne[models.Student](ctx, r.client, "find student", store.Query{
		Collection: store.CollectionStudents,
		Filters:    []store.Filter{store.Eq("id", id)},
	})
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, notFound("student", id)
	}
	return student, nil
}

// FindByIDs returns the students found among ids, keyed by id.
func (r *StudentRepository) FindByIDs(ctx context.Context, ids []string) (map[string]*models.Student, error) {
	out := make(map[string]*models.Student, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	students, err := selectAll[models.Student](ctx, r.client, "list students", store.Query{
		Collection: store.CollectionStudents,
		Filters:    []store.Filter{store.In("id", ids...)},
	})
	if err != nil {
		return nil, err
	}
	for i := range students {
		out[students[i].ID] = &students[i]
	}
	return out, nil
}

// Create inserts a student and fills in the stored id and timestamps.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.PaymentHistory == nil {
		student.PaymentHistory = []models.Payment{}
	}
	if student.GraduationHistory == nil {
		student.GraduationHistory = []models.GraduationHistoryEntry{}
	}
	return insertOne(ctx, r.client, "create student", store.CollectionStudents, student, "championships")
}

// Delete removes a student.
func (r *StudentRepository) Delete(ctx context.Context, id string) error {
	return storeErr("delete student", r.client.Delete(ctx, store.CollectionStudents, store.Eq("id", id)))
}

// ApplyPromotion persists belt, last graduation date and history.
func (r *StudentRepository) ApplyPromotion(ctx context.Context, student *models.Student) error {
	patch := store.Row{
		"belt":                 student.Belt,
		"last_graduation_date": student.LastGraduationDate,
		"graduation_history":   student.GraduationHistory,
	}
	rows, err := r.client.Update(ctx, store.CollectionStudents, patch, store.Eq("id", student.ID))
	if err != nil {
		return storeErr("promote student", err)
	}
	if len(rows) == 0 {
		return notFound("student", student.ID)
	}
	return nil
}
