package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/noah-isme/dojo-api/internal/models"
	"github.com/noah-isme/dojo-api/internal/store"
)

// GraduationRepository manages graduation events.
type GraduationRepository struct {
	client store.Client
}

// NewGraduationRepository constructs the repository.
func NewGraduationRepository(client store.Client) *GraduationRepository {
	return &GraduationRepository{client: client}
}

// CreateMany inserts events in one call and returns the stored rows.
func (r *GraduationRepository) CreateMany(ctx context.Context, events []models.GraduationEvent) ([]models.GraduationEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}
	rows := make([]store.Row, 0, len(events))
	for _, event := range events {
		if event.ID == "" {
			event.ID = uuid.NewString()
		}
		row, err := store.Encode(event)
		if err != nil {
			return nil, storeErr("schedule graduation", err)
		}
		rows = append(rows, row)
	}
	stored, err := r.client.Insert(ctx, store.CollectionGraduationEvents, rows...)
	if err != nil {
		return nil, storeErr("schedule graduation", err)
	}
	out := make([]models.GraduationEvent, 0, len(stored))
	for _, row := range stored {
		var event models.GraduationEvent
		if err := store.Decode(row, &event); err != nil {
			return nil, storeErr("schedule graduation", err)
		}
		out = append(out, event)
	}
	return out, nil
}

// ListBatch returns the events of one exam on one date.
func (r *GraduationRepository) ListBatch(ctx context.Context, examID, date string) ([]models.GraduationEvent, error) {
	return selectAll[models.GraduationEvent](ctx, r.client, "list graduation batch", store.Query{
		Collection: store.CollectionGraduationEvents,
		Filters:    []store.Filter{store.Eq("exam_id", examID), store.Eq("date", date)},
		Order:      []store.Order{{Column: "created_at"}},
	})
}

// NextScheduledForStudent returns the earliest scheduled event of a
// student, or nil.
func (r *GraduationRepository) NextScheduledForStudent(ctx context.Context, studentID string) (*models.GraduationEvent, error) {
	return selectOne[models.GraduationEvent](ctx, r.client, "find scheduled graduation", store.Query{
		Collection: store.CollectionGraduationEvents,
		Filters:    []store.Filter{store.Eq("student_id", studentID), store.Eq("status", models.GraduationScheduled)},
		Order:      []store.Order{{Column: "date"}},
	})
}

// Complete marks a scheduled event completed with its grade. It reports
// false when the event was no longer scheduled.
func (r *GraduationRepository) Complete(ctx context.Context, id string, grade *float64, approved bool) (bool, error) {
	rows, err := r.client.Update(ctx, store.CollectionGraduationEvents,
		store.Row{"status": models.GraduationCompleted, "final_grade": grade, "is_approved": approved},
		store.Eq("id", id), store.Eq("status", models.GraduationScheduled))
	if err != nil {
		return false, storeErr("complete graduation", err)
	}
	return len(rows) > 0, nil
}
