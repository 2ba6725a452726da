package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/dojo-api/internal/identity"
	"github.com/noah-isme/dojo-api/internal/models"
	"github.com/noah-isme/dojo-api/internal/saga"
	appErrors "github.com/noah-isme/dojo-api/pkg/errors"
)

const (
	approvalSaga = "approval"
	signupSaga   = "self_signup"
)

type joinRequestRepository interface {
	FindByID(ctx context.Context, id string) (*models.JoinRequest, error)
	ListByDojo(ctx context.Context, dojoID string, status models.JoinRequestStatus) ([]models.JoinRequest, error)
	Create(ctx context.Context, req *models.JoinRequest) error
	Transition(ctx context.Context, id string, from, to models.JoinRequestStatus) (bool, error)
}

type identityForgetter interface {
	Forget(ctx context.Context, userIDs ...string)
}

// SubmitJoinRequest is a self-service signup aimed at one dojo.
type SubmitJoinRequest struct {
	DojoID   string `json:"dojo_id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone"`
	Password string `json:"password" validate:"required,min=6"`
}

// SubmitResult carries the pending request and the applicant's session.
type SubmitResult struct {
	Request *models.JoinRequest `json:"request"`
	Session *models.Session     `json:"session,omitempty"`
}

// ApprovalResult is the outcome of an approval.
type ApprovalResult struct {
	Request *models.JoinRequest `json:"request"`
	Student *models.Student     `json:"student"`
	Link    *models.RoleLink    `json:"link"`
}

// JoinRequestService runs the self-service application workflow.
type JoinRequestService struct {
	identity   identity.Provider
	requests   joinRequestRepository
	dojos      dojoReader
	students   studentWriter
	links      roleLinkWriter
	identities identityForgetter
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// NewJoinRequestService constructs JoinRequestService.
func NewJoinRequestService(provider identity.Provider, requests joinRequestRepository, dojos dojoReader, students studentWriter, links roleLinkWriter, identities identityForgetter, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *JoinRequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JoinRequestService{
		identity:   provider,
		requests:   requests,
		dojos:      dojos,
		students:   students,
		links:      links,
		identities: identities,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
		now:        time.Now,
	}
}

// Submit creates the applicant's credential and a pending request.
func (s *JoinRequestService) Submit(ctx context.Context, req SubmitJoinRequest) (*SubmitResult, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid join request payload")
	}
	dojo, err := s.dojos.FindByID(ctx, req.DojoID)
	if err != nil {
		return nil, err
	}

	var signup *identity.SignUpResult
	request := &models.JoinRequest{
		DojoID: dojo.ID,
		Name:   req.Name,
		Email:  req.Email,
		Phone:  req.Phone,
		Status: models.JoinRequestPending,
	}
	steps := []saga.Step{
		{
			Name:         "credential",
			Irreversible: true,
			Action: func(ctx context.Context) error {
				res, err := s.identity.SignUp(ctx, req.Email, req.Password, map[string]string{
					identity.MetadataRole: string(models.RoleStudent),
					identity.MetadataName: req.Name,
				})
				if err != nil {
					return identityError(err, req.Email)
				}
				signup = res
				return nil
			},
		},
		{
			Name: "request",
			Action: func(ctx context.Context) error {
				request.UserID = signup.Principal.ID
				return s.requests.Create(ctx, request)
			},
		},
	}
	runErr := saga.Run(ctx, signupSaga, steps, s.logger)
	s.metrics.RecordSaga(signupSaga, runErr)
	if runErr != nil {
		return nil, sagaFailure(runErr, fmt.Sprintf("signup of %s", req.Email),
			fmt.Sprintf("the credential for %s exists without a join request; delete it manually from the identity provider admin console", req.Email))
	}
	request.DojoName = dojo.Name
	s.logger.Info("join request submitted", zap.String("request_id", request.ID), zap.String("dojo_id", dojo.ID), zap.String("email", req.Email))
	return &SubmitResult{Request: request, Session: signup.Session}, nil
}

// ListPending returns one page of the pending requests of a dojo, oldest
// first.
func (s *JoinRequestService) ListPending(ctx context.Context, dojoID string, page, size int) ([]models.JoinRequest, *models.Pagination, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	requests, err := s.requests.ListByDojo(ctx, dojoID, models.JoinRequestPending)
	if err != nil {
		return nil, nil, err
	}
	total := len(requests)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return requests[start:end], pagination, nil
}

// Approve turns a pending request of the master's dojo into a student
// profile and role link, unwinding in reverse order on failure.
func (s *JoinRequestService) Approve(ctx context.Context, dojoID, requestID string) (*ApprovalResult, error) {
	request, err := s.pendingRequest(ctx, dojoID, requestID)
	if err != nil {
		return nil, err
	}
	dojo, err := s.dojos.FindByID(ctx, request.DojoID)
	if err != nil {
		return nil, err
	}
	modality, belt, err := defaultPlacement(dojo)
	if err != nil {
		return nil, err
	}

	date := today(s.now)
	student := &models.Student{
		DojoID:         dojo.ID,
		Name:           request.Name,
		Email:          request.Email,
		Phone:          request.Phone,
		Modality:       modality.Name,
		Belt:           belt,
		TuitionFee:     0,
		PaymentHistory: []models.Payment{},
		GraduationHistory: []models.GraduationHistoryEntry{
			{Date: date, Belt: belt, Grade: 0, ExamName: models.InitialHistoryExamName},
		},
	}
	link := &models.RoleLink{UserID: request.UserID, Role: models.RoleStudent}

	steps := []saga.Step{
		{
			Name: "profile",
			Action: func(ctx context.Context) error {
				return s.students.Create(ctx, student)
			},
			Compensate: func(ctx context.Context) error {
				return s.students.Delete(ctx, student.ID)
			},
		},
		{
			Name: "link",
			Action: func(ctx context.Context) error {
				link.StudentID = student.ID
				return s.links.Create(ctx, link)
			},
			Compensate: func(ctx context.Context) error {
				return s.links.Delete(ctx, link.ID)
			},
		},
		{
			Name: "status",
			Action: func(ctx context.Context) error {
				moved, err := s.requests.Transition(ctx, request.ID, models.JoinRequestPending, models.JoinRequestApproved)
				if err != nil {
					return err
				}
				if !moved {
					return appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("join request %s is no longer pending", request.ID))
				}
				return nil
			},
		},
	}

	runErr := saga.Run(ctx, approvalSaga, steps, s.logger)
	s.metrics.RecordSaga(approvalSaga, runErr)
	if runErr != nil {
		if sagaErr, ok := saga.AsError(runErr); ok && sagaErr.Partial() {
			s.logger.Error("approval could not be unwound",
				zap.String("request_id", request.ID), zap.String("student_id", student.ID), zap.String("link_id", link.ID), zap.Error(runErr))
		}
		return nil, sagaFailure(runErr, fmt.Sprintf("approval of join request %s (%s)", request.ID, request.Email),
			fmt.Sprintf("remove student %s and role link %s by hand, the request stays pending", student.ID, link.ID))
	}

	s.forget(ctx, request.UserID)
	request.Status = models.JoinRequestApproved
	s.logger.Info("join request approved",
		zap.String("request_id", request.ID), zap.String("student_id", student.ID), zap.String("user_id", request.UserID))
	return &ApprovalResult{Request: request, Student: student, Link: link}, nil
}

// Reject closes a pending request without creating anything.
func (s *JoinRequestService) Reject(ctx context.Context, dojoID, requestID string) (*models.JoinRequest, error) {
	request, err := s.pendingRequest(ctx, dojoID, requestID)
	if err != nil {
		return nil, err
	}
	moved, err := s.requests.Transition(ctx, request.ID, models.JoinRequestPending, models.JoinRequestRejected)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("join request %s is no longer pending", request.ID))
	}
	s.forget(ctx, request.UserID)
	request.Status = models.JoinRequestRejected
	s.logger.Info("join request rejected", zap.String("request_id", request.ID), zap.String("user_id", request.UserID))
	return request, nil
}

func (s *JoinRequestService) pendingRequest(ctx context.Context, dojoID, requestID string) (*models.JoinRequest, error) {
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if dojoID != "" && request.DojoID != dojoID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("join request %s not found", requestID))
	}
	if request.Status != models.JoinRequestPending {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("join request %s is %s; only pending requests can change", requestID, request.Status))
	}
	return request, nil
}

func (s *JoinRequestService) forget(ctx context.Context, userID string) {
	if s.identities != nil {
		s.identities.Forget(ctx, userID)
	}
}
