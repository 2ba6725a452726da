package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dojo-api/internal/models"
	"github.com/noah-isme/dojo-api/internal/repository"
	"github.com/noah-isme/dojo-api/internal/store"
	appErrors "github.com/noah-isme/dojo-api/pkg/errors"
)

const examDate = "2024-06-15"

func grade(v float64) *float64 { return &v }

func seedExam(h *harness, studentIDs ...string) {
	h.insert(store.CollectionExams, store.Row{
		"id":                "exam-1",
		"dojo_id":           testDojoID,
		"name":              "Yellow Belt Exam",
		"modality":          "judo",
		"target_belt":       "yellow",
		"min_passing_grade": 7.0,
	})
	for _, id := range studentIDs {
		h.insert(store.CollectionStudents, store.Row{
			"id":       id,
			"dojo_id":  testDojoID,
			"name":     "Student " + id,
			"belt":     "white",
			"modality": "judo",
			"graduation_history": []models.GraduationHistoryEntry{
				{Date: "2024-01-10", Belt: "white", Grade: 0, ExamName: models.InitialHistoryExamName},
			},
		})
	}
}

func schedule(t *testing.T, h *harness, studentIDs ...string) []models.GraduationEvent {
	t.Helper()
	events, err := h.graduations.Schedule(context.Background(), testDojoID, ScheduleGraduationRequest{
		ExamID: "exam-1", Date: examDate, StudentIDs: studentIDs,
	})
	require.NoError(t, err)
	require.Len(t, events, len(studentIDs))
	return events
}

func TestFinalizePromotesAtPassingBoundary(t *testing.T) {
	h := newHarness(t)
	seedExam(h, "s1")
	events := schedule(t, h, "s1")

	outcomes, err := h.graduations.Finalize(context.Background(), testDojoID, FinalizeGraduationRequest{
		ExamID: "exam-1", Date: examDate, Grades: map[string]*float64{events[0].ID: grade(7.0)},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Approved)
	assert.Equal(t, "yellow", outcomes[0].NewBelt)

	student := h.student("s1")
	assert.Equal(t, "yellow", student.Belt)
	require.NotNil(t, student.LastGraduationDate)
	assert.Equal(t, examDate, *student.LastGraduationDate)
	require.Len(t, student.GraduationHistory, 2)
	assert.Equal(t, models.GraduationHistoryEntry{Date: examDate, Belt: "yellow", Grade: 7.0, ExamName: "Yellow Belt Exam"}, student.GraduationHistory[1])

	batch, err := h.graduations.ListBatch(context.Background(), testDojoID, "exam-1", examDate)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, models.GraduationCompleted, batch[0].Status)
	require.NotNil(t, batch[0].IsApproved)
	assert.True(t, *batch[0].IsApproved)
}

func TestFinalizeFailsBelowBoundaryOrWithoutGrade(t *testing.T) {
	h := newHarness(t)
	seedExam(h, "s1", "s2")
	events := schedule(t, h, "s1", "s2")

	outcomes, err := h.graduations.Finalize(context.Background(), testDojoID, FinalizeGraduationRequest{
		ExamID: "exam-1", Date: examDate, Grades: map[string]*float64{events[0].ID: grade(6.99)},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.False(t, o.Approved, o.StudentID)
		assert.Empty(t, o.NewBelt)
	}

	for _, id := range []string{"s1", "s2"} {
		student := h.student(id)
		assert.Equal(t, "white", student.Belt)
		assert.Len(t, student.GraduationHistory, 1)
	}
	assert.Equal(t, 2, h.count(store.CollectionGraduationEvents, store.Eq("status", "completed"), store.Eq("is_approved", false)))
}

func TestScheduleTwiceCreatesDuplicateEvents(t *testing.T) {
	h := newHarness(t)
	seedExam(h, "s1")
	schedule(t, h, "s1")
	schedule(t, h, "s1")

	assert.Equal(t, 2, h.count(store.CollectionGraduationEvents, store.Eq("student_id", "s1"), store.Eq("date", examDate)))
}

func TestScheduleRejectsStudentsOutsideDojo(t *testing.T) {
	h := newHarness(t)
	seedExam(h, "s1")
	h.insert(store.CollectionStudents, store.Row{"id": "foreign", "dojo_id": "dojo-9", "name": "Other"})

	_, err := h.graduations.Schedule(context.Background(), testDojoID, ScheduleGraduationRequest{
		ExamID: "exam-1", Date: examDate, StudentIDs: []string{"s1", "foreign", "ghost"},
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
	assert.Contains(t, err.Error(), "foreign, ghost")
	assert.Zero(t, h.count(store.CollectionGraduationEvents))

	_, err = h.graduations.Schedule(context.Background(), "dojo-9", ScheduleGraduationRequest{
		ExamID: "exam-1", Date: examDate, StudentIDs: []string{"foreign"},
	})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))

	_, err = h.graduations.Schedule(context.Background(), testDojoID, ScheduleGraduationRequest{
		ExamID: "exam-1", Date: "15/06/2024", StudentIDs: []string{"s1"},
	})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestFinalizeEventFailureCanBeRerun(t *testing.T) {
	h := newHarness(t)
	seedExam(h, "s1")
	events := schedule(t, h, "s1")
	req := FinalizeGraduationRequest{ExamID: "exam-1", Date: examDate, Grades: map[string]*float64{events[0].ID: grade(9.5)}}

	h.store.FailNext(store.OpUpdate, store.CollectionGraduationEvents, &store.Error{Op: "update", Collection: "graduation_events", Code: "57014", Message: "statement timeout"})
	_, err := h.graduations.Finalize(context.Background(), testDojoID, req)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrStore.Code))
	assert.Contains(t, err.Error(), events[0].ID)

	student := h.student("s1")
	assert.Equal(t, "white", student.Belt)
	assert.Len(t, student.GraduationHistory, 1)
	assert.Equal(t, 1, h.count(store.CollectionGraduationEvents, store.Eq("status", "scheduled")))

	outcomes, err := h.graduations.Finalize(context.Background(), testDojoID, req)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Approved)
	assert.Equal(t, "yellow", h.student("s1").Belt)
	assert.Len(t, h.student("s1").GraduationHistory, 2)
	assert.Equal(t, 1, h.count(store.CollectionGraduationEvents, store.Eq("status", "completed")))
}

func TestFinalizePromotionFailureNamesEventAndStudent(t *testing.T) {
	h := newHarness(t)
	seedExam(h, "s1")
	events := schedule(t, h, "s1")
	req := FinalizeGraduationRequest{ExamID: "exam-1", Date: examDate, Grades: map[string]*float64{events[0].ID: grade(8)}}

	h.store.FailNext(store.OpUpdate, store.CollectionStudents, &store.Error{Op: "update", Collection: "students", Code: "57014", Message: "statement timeout"})
	_, err := h.graduations.Finalize(context.Background(), testDojoID, req)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrStore.Code))
	assert.Contains(t, err.Error(), events[0].ID)
	assert.Contains(t, err.Error(), "s1")
	assert.Equal(t, 1, h.count(store.CollectionGraduationEvents, store.Eq("status", "completed"), store.Eq("is_approved", true)))
	assert.Equal(t, "white", h.student("s1").Belt)

	mark := h.mark()
	outcomes, err := h.graduations.Finalize(context.Background(), testDojoID, req)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Skipped)
	assert.Empty(t, h.writesSince(mark))
}

// serialStudents records how many promotions of one student are in flight
// at the same time.
type serialStudents struct {
	graduationStudentRepository
	mu      sync.Mutex
	active  map[string]int
	maxSeen map[string]int
}

func (r *serialStudents) FindByID(ctx context.Context, id string) (*models.Student, error) {
	r.mu.Lock()
	r.active[id]++
	if r.active[id] > r.maxSeen[id] {
		r.maxSeen[id] = r.active[id]
	}
	r.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	return r.graduationStudentRepository.FindByID(ctx, id)
}

func (r *serialStudents) ApplyPromotion(ctx context.Context, student *models.Student) error {
	err := r.graduationStudentRepository.ApplyPromotion(ctx, student)
	r.mu.Lock()
	r.active[student.ID]--
	r.mu.Unlock()
	return err
}

func TestFinalizeDuplicateEventsAppendEveryPromotion(t *testing.T) {
	h := newHarness(t)
	seedExam(h, "s1", "s2")
	events := schedule(t, h, "s1", "s1", "s2", "s2")

	students := &serialStudents{
		graduationStudentRepository: repository.NewStudentRepository(h.store),
		active:                      map[string]int{},
		maxSeen:                     map[string]int{},
	}
	svc := NewGraduationService(repository.NewGraduationRepository(h.store), students, repository.NewExamRepository(h.store), h.resolver, 4, nil, nil, nil)

	outcomes, err := svc.Finalize(context.Background(), testDojoID, FinalizeGraduationRequest{
		ExamID: "exam-1",
		Date:   examDate,
		Grades: map[string]*float64{
			events[0].ID: grade(7.0),
			events[1].ID: grade(8.0),
			events[2].ID: grade(8.0),
			events[3].ID: grade(8.0),
		},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 4)
	for _, o := range outcomes {
		assert.True(t, o.Approved, o.EventID)
	}
	assert.Equal(t, 1, students.maxSeen["s1"])
	assert.Equal(t, 1, students.maxSeen["s2"])

	s1 := h.student("s1")
	require.Len(t, s1.GraduationHistory, 3)
	assert.ElementsMatch(t, []float64{7.0, 8.0}, []float64{s1.GraduationHistory[1].Grade, s1.GraduationHistory[2].Grade})

	s2 := h.student("s2")
	require.Len(t, s2.GraduationHistory, 3)
	assert.Equal(t, s2.GraduationHistory[1], s2.GraduationHistory[2])
}

// orderedEvents holds both finalizers until each has read the batch, then
// lets the failing grade close the event before the passing one tries.
type orderedEvents struct {
	graduationRepository
	listed     sync.WaitGroup
	failedDone chan struct{}
}

func (r *orderedEvents) ListBatch(ctx context.Context, examID, date string) ([]models.GraduationEvent, error) {
	events, err := r.graduationRepository.ListBatch(ctx, examID, date)
	r.listed.Done()
	r.listed.Wait()
	return events, err
}

func (r *orderedEvents) Complete(ctx context.Context, id string, grade *float64, approved bool) (bool, error) {
	if approved {
		<-r.failedDone
	}
	moved, err := r.graduationRepository.Complete(ctx, id, grade, approved)
	if !approved {
		close(r.failedDone)
	}
	return moved, err
}

func TestOverlappingFinalizeKeepsStudentInLineWithEvent(t *testing.T) {
	h := newHarness(t)
	seedExam(h, "s1")
	events := schedule(t, h, "s1")

	gated := &orderedEvents{graduationRepository: repository.NewGraduationRepository(h.store), failedDone: make(chan struct{})}
	gated.listed.Add(2)
	svc := NewGraduationService(gated, repository.NewStudentRepository(h.store), repository.NewExamRepository(h.store), h.resolver, 2, nil, nil, nil)

	finalize := func(g float64) ([]models.GraduationOutcome, error) {
		return svc.Finalize(context.Background(), testDojoID, FinalizeGraduationRequest{
			ExamID: "exam-1", Date: examDate, Grades: map[string]*float64{events[0].ID: grade(g)},
		})
	}

	var (
		wg                  sync.WaitGroup
		failing, passing    []models.GraduationOutcome
		failingErr, passErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		failing, failingErr = finalize(3)
	}()
	go func() {
		defer wg.Done()
		passing, passErr = finalize(9)
	}()
	wg.Wait()

	require.NoError(t, failingErr)
	require.NoError(t, passErr)
	require.Len(t, failing, 1)
	require.Len(t, passing, 1)
	assert.False(t, failing[0].Skipped)
	assert.False(t, failing[0].Approved)
	assert.True(t, passing[0].Skipped)
	assert.False(t, passing[0].Approved)

	batch, err := h.graduations.ListBatch(context.Background(), testDojoID, "exam-1", examDate)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.NotNil(t, batch[0].IsApproved)
	assert.False(t, *batch[0].IsApproved)
	require.NotNil(t, batch[0].FinalGrade)
	assert.Equal(t, 3.0, *batch[0].FinalGrade)

	student := h.student("s1")
	assert.Equal(t, "white", student.Belt)
	assert.Len(t, student.GraduationHistory, 1)
}

func TestFinalizeSkipsCompletedEvents(t *testing.T) {
	h := newHarness(t)
	seedExam(h, "s1", "s2")
	events := schedule(t, h, "s1", "s2")
	grades := map[string]*float64{events[0].ID: grade(8), events[1].ID: grade(8)}

	_, err := h.graduations.Finalize(context.Background(), testDojoID, FinalizeGraduationRequest{ExamID: "exam-1", Date: examDate, Grades: grades})
	require.NoError(t, err)

	mark := h.mark()
	outcomes, err := h.graduations.Finalize(context.Background(), testDojoID, FinalizeGraduationRequest{ExamID: "exam-1", Date: examDate, Grades: grades})
	require.NoError(t, err)
	for _, o := range outcomes {
		assert.True(t, o.Skipped)
		assert.True(t, o.Approved)
	}
	assert.Empty(t, h.writesSince(mark))
	assert.Len(t, h.student("s1").GraduationHistory, 2)
}

func TestFinalizeValidatesBatch(t *testing.T) {
	h := newHarness(t)
	seedExam(h, "s1")

	_, err := h.graduations.Finalize(context.Background(), testDojoID, FinalizeGraduationRequest{ExamID: "exam-1", Date: examDate})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))

	schedule(t, h, "s1")
	_, err = h.graduations.Finalize(context.Background(), testDojoID, FinalizeGraduationRequest{
		ExamID: "exam-1", Date: examDate, Grades: map[string]*float64{"not-in-batch": grade(10)},
	})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
	assert.Contains(t, err.Error(), "not-in-batch")
	assert.Equal(t, 1, h.count(store.CollectionGraduationEvents, store.Eq("status", "scheduled")))
}
