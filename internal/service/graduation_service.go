package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/noah-isme/dojo-api/internal/models"
	appErrors "github.com/noah-isme/dojo-api/pkg/errors"
	"github.com/noah-isme/dojo-api/pkg/jobs"
)

type graduationRepository interface {
	CreateMany(ctx context.Context, events []models.GraduationEvent) ([]models.GraduationEvent, error)
	ListBatch(ctx context.Context, examID, date string) ([]models.GraduationEvent, error)
	Complete(ctx context.Context, id string, grade *float64, approved bool) (bool, error)
}

type graduationStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]*models.Student, error)
	ApplyPromotion(ctx context.Context, student *models.Student) error
}

type identityCacheFlusher interface {
	ForgetAll(ctx context.Context)
}

// ScheduleGraduationRequest books attendees for an exam on a date.
type ScheduleGraduationRequest struct {
	ExamID     string   `json:"exam_id" validate:"required"`
	Date       string   `json:"date" validate:"required,datetime=2006-01-02"`
	StudentIDs []string `json:"student_ids" validate:"required,min=1,dive,required"`
}

// FinalizeGraduationRequest closes one (exam, date) batch. Grades are keyed
// by event id; an attendee without a grade fails.
type FinalizeGraduationRequest struct {
	ExamID string              `json:"exam_id" validate:"required"`
	Date   string              `json:"date" validate:"required,datetime=2006-01-02"`
	Grades map[string]*float64 `json:"grades"`
}

// GraduationService schedules and finalizes graduation events.
type GraduationService struct {
	events     graduationRepository
	students   graduationStudentRepository
	exams      examReader
	identities identityCacheFlusher
	pool       *jobs.Pool
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewGraduationService constructs GraduationService. workers bounds the
// finalization fan-out.
func NewGraduationService(events graduationRepository, students graduationStudentRepository, exams examReader, identities identityCacheFlusher, workers int, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *GraduationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = 8
	}
	return &GraduationService{
		events:     events,
		students:   students,
		exams:      exams,
		identities: identities,
		pool:       jobs.NewPool("graduation-finalize", jobs.PoolConfig{Workers: workers, Logger: logger}),
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
	}
}

// Schedule inserts one scheduled event per attendee. Repeating a schedule
// for the same exam, date and student adds another row.
func (s *GraduationService) Schedule(ctx context.Context, dojoID string, req ScheduleGraduationRequest) ([]models.GraduationEvent, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid graduation schedule")
	}
	exam, err := s.scopedExam(ctx, dojoID, req.ExamID)
	if err != nil {
		return nil, err
	}
	students, err := s.students.FindByIDs(ctx, req.StudentIDs)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, id := range req.StudentIDs {
		if st, ok := students[id]; !ok || st.DojoID != exam.DojoID {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("students not found in dojo %s: %s", exam.DojoID, strings.Join(missing, ", ")))
	}

	events := make([]models.GraduationEvent, 0, len(req.StudentIDs))
	for _, id := range req.StudentIDs {
		events = append(events, models.GraduationEvent{
			ExamID:    exam.ID,
			DojoID:    exam.DojoID,
			StudentID: id,
			Date:      req.Date,
			Status:    models.GraduationScheduled,
		})
	}
	stored, err := s.events.CreateMany(ctx, events)
	if err != nil {
		return nil, err
	}
	s.flushIdentities(ctx)
	s.logger.Info("graduation scheduled", zap.String("exam_id", exam.ID), zap.String("date", req.Date), zap.Int("attendees", len(stored)))
	return stored, nil
}

// ListBatch returns the events of one exam on one date.
func (s *GraduationService) ListBatch(ctx context.Context, dojoID, examID, date string) ([]models.GraduationEvent, error) {
	if examID == "" || date == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "exam_id and date are required")
	}
	if _, err := s.scopedExam(ctx, dojoID, examID); err != nil {
		return nil, err
	}
	return s.events.ListBatch(ctx, examID, date)
}

// Finalize grades every scheduled attendee of a batch. Students are
// finalized concurrently; events of the same student run one after another
// in batch order so each approved event appends its own history entry.
// The first failure is returned once every student has finished. Writes
// that already succeeded stay in place and re-running the batch skips
// completed events.
func (s *GraduationService) Finalize(ctx context.Context, dojoID string, req FinalizeGraduationRequest) ([]models.GraduationOutcome, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid graduation finalization")
	}
	exam, err := s.scopedExam(ctx, dojoID, req.ExamID)
	if err != nil {
		return nil, err
	}
	events, err := s.events.ListBatch(ctx, req.ExamID, req.Date)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no graduation events for exam %s on %s", req.ExamID, req.Date))
	}
	known := make(map[string]struct{}, len(events))
	for _, e := range events {
		known[e.ID] = struct{}{}
	}
	var unknown []string
	for id := range req.Grades {
		if _, ok := known[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("grades reference events outside the batch: %s", strings.Join(unknown, ", ")))
	}

	outcomes := make([]models.GraduationOutcome, len(events))
	var studentOrder []string
	byStudent := make(map[string][]int)
	for i := range events {
		event := events[i]
		outcomes[i] = models.GraduationOutcome{EventID: event.ID, StudentID: event.StudentID}
		if event.Status == models.GraduationCompleted {
			outcomes[i].Skipped = true
			outcomes[i].Grade = event.FinalGrade
			outcomes[i].Approved = event.IsApproved != nil && *event.IsApproved
			continue
		}
		if _, seen := byStudent[event.StudentID]; !seen {
			studentOrder = append(studentOrder, event.StudentID)
		}
		byStudent[event.StudentID] = append(byStudent[event.StudentID], i)
	}
	batch := make([]jobs.Job, 0, len(studentOrder))
	for _, studentID := range studentOrder {
		batch = append(batch, jobs.Job{ID: studentID, Type: "finalize", Payload: byStudent[studentID]})
	}

	var mu sync.Mutex
	err = s.pool.Run(ctx, batch, func(ctx context.Context, job jobs.Job) error {
		var errs error
		for _, i := range job.Payload.([]int) {
			outcome, err := s.finalizeAttendee(ctx, exam, events[i], req.Grades[events[i].ID])
			mu.Lock()
			outcomes[i] = outcome
			mu.Unlock()
			errs = multierr.Append(errs, err)
		}
		return errs
	})
	s.flushIdentities(ctx)
	for _, o := range outcomes {
		s.metrics.RecordGraduation(o)
	}
	if err != nil {
		s.logger.Error("graduation finalization incomplete",
			zap.String("exam_id", exam.ID), zap.String("date", req.Date), zap.Error(err))
		return nil, err
	}
	s.logger.Info("graduation finalized", zap.String("exam_id", exam.ID), zap.String("date", req.Date), zap.Int("attendees", len(events)))
	return outcomes, nil
}

// finalizeAttendee closes the event and promotes the student only when
// this call moved the event out of scheduled. A promotion that fails after
// the event was closed is not retried by a re-run; the error names the
// event and the student so the belt can be applied by hand.
func (s *GraduationService) finalizeAttendee(ctx context.Context, exam *models.Exam, event models.GraduationEvent, grade *float64) (models.GraduationOutcome, error) {
	outcome := models.GraduationOutcome{EventID: event.ID, StudentID: event.StudentID, Grade: grade}
	approved := exam.Passes(grade)

	moved, err := s.events.Complete(ctx, event.ID, grade, approved)
	if err != nil {
		return outcome, fmt.Errorf("complete graduation event %s: %w", event.ID, err)
	}
	if !moved {
		outcome.Skipped = true
		return outcome, nil
	}
	outcome.Approved = approved
	if !approved {
		return outcome, nil
	}

	if err := s.promote(ctx, exam, event, *grade); err != nil {
		s.logger.Error("graduation event completed without promotion",
			zap.String("event_id", event.ID), zap.String("student_id", event.StudentID), zap.String("belt", exam.TargetBelt), zap.Error(err))
		return outcome, fmt.Errorf("event %s is completed as approved but student %s was not promoted to %s: %w",
			event.ID, event.StudentID, exam.TargetBelt, err)
	}
	outcome.NewBelt = exam.TargetBelt
	return outcome, nil
}

func (s *GraduationService) promote(ctx context.Context, exam *models.Exam, event models.GraduationEvent, grade float64) error {
	student, err := s.students.FindByID(ctx, event.StudentID)
	if err != nil {
		return err
	}
	date := event.Date
	student.Belt = exam.TargetBelt
	student.LastGraduationDate = &date
	student.GraduationHistory = append(student.GraduationHistory,
		models.GraduationHistoryEntry{Date: event.Date, Belt: exam.TargetBelt, Grade: grade, ExamName: exam.Name})
	return s.students.ApplyPromotion(ctx, student)
}

func (s *GraduationService) scopedExam(ctx context.Context, dojoID, examID string) (*models.Exam, error) {
	exam, err := s.exams.FindByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	if dojoID != "" && exam.DojoID != dojoID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("exam %s not found", examID))
	}
	return exam, nil
}

func (s *GraduationService) flushIdentities(ctx context.Context) {
	if s.identities != nil {
		s.identities.ForgetAll(ctx)
	}
}
