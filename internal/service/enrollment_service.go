package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/noah-isme/dojo-api/internal/identity"
	"github.com/noah-isme/dojo-api/internal/models"
	"github.com/noah-isme/dojo-api/internal/saga"
	appErrors "github.com/noah-isme/dojo-api/pkg/errors"
)

const enrollmentSaga = "enrollment"

type dojoReader interface {
	FindByID(ctx context.Context, id string) (*models.Dojo, error)
}

type studentWriter interface {
	Create(ctx context.Context, student *models.Student) error
	Delete(ctx context.Context, id string) error
}

type roleLinkWriter interface {
	Create(ctx context.Context, link *models.RoleLink) error
	Delete(ctx context.Context, id string) error
}

// EnrollStudentRequest describes a master-initiated enrollment. Modality and
// belt default to the dojo's first modality and its entry belt.
type EnrollStudentRequest struct {
	Name       string  `json:"name" validate:"required"`
	Email      string  `json:"email" validate:"required,email"`
	Phone      string  `json:"phone"`
	Modality   string  `json:"modality"`
	Belt       string  `json:"belt"`
	TuitionFee float64 `json:"tuition_fee" validate:"gte=0"`
}

// EnrollmentResult is the outcome of a completed enrollment.
type EnrollmentResult struct {
	UserID  string           `json:"user_id"`
	Student *models.Student  `json:"student"`
	Link    *models.RoleLink `json:"link"`
}

// EnrollmentConfig configures the enrollment saga.
type EnrollmentConfig struct {
	DefaultPassword string
}

// EnrollmentService creates student accounts end to end on behalf of a
// master: credential, profile and role link.
type EnrollmentService struct {
	identity  identity.Provider
	dojos     dojoReader
	students  studentWriter
	links     roleLinkWriter
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    EnrollmentConfig
	inFlight  *keyedMutex
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(provider identity.Provider, dojos dojoReader, students studentWriter, links roleLinkWriter, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config EnrollmentConfig) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DefaultPassword == "" {
		config.DefaultPassword = "123456"
	}
	return &EnrollmentService{
		identity:  provider,
		dojos:     dojos,
		students:  students,
		links:     links,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    config,
		inFlight:  newKeyedMutex(),
	}
}

// EnrollStudent runs the enrollment saga for the acting master whose
// session is carried by ctx. Once the credential exists it cannot be
// removed from here, so any later failure is reported as a critical
// partial failure naming the email. Afterwards the acting session is
// always verified; if it no longer resolves the caller gets SESSION_LOST
// with any step error attached.
func (s *EnrollmentService) EnrollStudent(ctx context.Context, dojoID string, req EnrollStudentRequest) (result *EnrollmentResult, err error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid enrollment payload")
	}
	actorSession := identity.SessionFromContext(ctx)
	if actorSession == nil || actorSession.AccessToken == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "enrollment requires an authenticated master session")
	}
	actor := identity.PrincipalFromContext(ctx)

	lockKey := actorSession.AccessToken
	if actor != nil {
		lockKey = actor.ID
	}
	unlock := s.inFlight.Lock(lockKey)
	defer unlock()

	defer func() {
		if verifyErr := s.verifyActor(ctx, actorSession, actor); verifyErr != nil {
			msg := appErrors.ErrSessionLost.Message
			if err != nil {
				msg = fmt.Sprintf("%s; enrollment of %s also failed: %v", msg, req.Email, err)
			}
			s.logger.Error("acting session lost during enrollment", zap.String("email", req.Email), zap.Error(verifyErr))
			result = nil
			err = appErrors.CloneWrap(appErrors.ErrSessionLost, multierr.Combine(verifyErr, err), msg)
		}
	}()

	dojo, err := s.dojos.FindByID(ctx, dojoID)
	if err != nil {
		return nil, err
	}
	modality, belt, err := enrollmentPlacement(dojo, req)
	if err != nil {
		return nil, err
	}

	var (
		signup  *identity.SignUpResult
		student = &models.Student{
			DojoID:            dojo.ID,
			Name:              req.Name,
			Email:             req.Email,
			Phone:             req.Phone,
			Modality:          modality,
			Belt:              belt,
			TuitionFee:        req.TuitionFee,
			PaymentHistory:    []models.Payment{},
			GraduationHistory: []models.GraduationHistoryEntry{},
		}
		link = &models.RoleLink{Role: models.RoleStudent}
	)
	steps := []saga.Step{
		{
			Name:         "credential",
			Irreversible: true,
			Action: func(ctx context.Context) error {
				res, err := s.identity.SignUp(ctx, req.Email, s.config.DefaultPassword, map[string]string{
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
				link.UserID = signup.Principal.ID
				link.StudentID = student.ID
				return s.links.Create(ctx, link)
			},
		},
	}

	runErr := saga.Run(ctx, enrollmentSaga, steps, s.logger)
	s.metrics.RecordSaga(enrollmentSaga, runErr)
	if runErr != nil {
		if sagaErr, ok := saga.AsError(runErr); ok && sagaErr.Partial() {
			s.logger.Error("enrollment left an orphaned credential",
				zap.String("email", req.Email), zap.String("dojo_id", dojo.ID), zap.Error(runErr))
		}
		return nil, sagaFailure(runErr, fmt.Sprintf("enrollment of %s", req.Email),
			fmt.Sprintf("the credential for %s exists without a profile; delete it manually from the identity provider admin console", req.Email))
	}

	s.logger.Info("student enrolled",
		zap.String("user_id", signup.Principal.ID), zap.String("student_id", student.ID), zap.String("dojo_id", dojo.ID))
	return &EnrollmentResult{UserID: signup.Principal.ID, Student: student, Link: link}, nil
}

// verifyActor confirms the acting session still authenticates the master.
func (s *EnrollmentService) verifyActor(ctx context.Context, session *models.Session, actor *models.Principal) error {
	principal, err := s.identity.GetUser(ctx, session.AccessToken)
	if err != nil {
		return fmt.Errorf("verify acting session: %w", err)
	}
	if actor != nil && principal.ID != actor.ID {
		return fmt.Errorf("verify acting session: session now belongs to %s instead of %s", principal.ID, actor.ID)
	}
	return nil
}

func enrollmentPlacement(dojo *models.Dojo, req EnrollStudentRequest) (string, string, error) {
	if req.Modality == "" {
		modality, belt, err := defaultPlacement(dojo)
		if err != nil {
			return "", "", err
		}
		if req.Belt != "" {
			if !modality.HasBelt(req.Belt) {
				return "", "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("belt %q is not part of modality %q", req.Belt, modality.Name))
			}
			belt = req.Belt
		}
		return modality.Name, belt, nil
	}
	modality, ok := dojo.Modality(req.Modality)
	if !ok {
		return "", "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("dojo %s does not teach %q", dojo.ID, req.Modality))
	}
	if req.Belt == "" {
		if len(modality.Belts) == 0 {
			return "", "", appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("modality %q of dojo %s has no belts", modality.Name, dojo.ID))
		}
		return modality.Name, modality.Belts[0].Name, nil
	}
	if !modality.HasBelt(req.Belt) {
		return "", "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("belt %q is not part of modality %q", req.Belt, modality.Name))
	}
	return modality.Name, req.Belt, nil
}

// defaultPlacement picks the dojo's first modality and its entry belt.
func defaultPlacement(dojo *models.Dojo) (*models.Modality, string, error) {
	if len(dojo.Modalities) == 0 {
		return nil, "", appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("dojo %s has no modality configured", dojo.ID))
	}
	modality := &dojo.Modalities[0]
	if len(modality.Belts) == 0 {
		return nil, "", appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("modality %q of dojo %s has no belts", modality.Name, dojo.ID))
	}
	return modality, modality.Belts[0].Name, nil
}

func identityError(err error, email string) error {
	switch {
	case errors.Is(err, identity.ErrDuplicateIdentity):
		return appErrors.CloneWrap(appErrors.ErrDuplicateIdentity, err, fmt.Sprintf("an account for %s already exists", email))
	case errors.Is(err, identity.ErrInvalidCredentials):
		return appErrors.CloneWrap(appErrors.ErrValidation, err, fmt.Sprintf("credential for %s was rejected by the identity provider", email))
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("identity provider failed for %s", email))
}
