package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/dojo-api/internal/service"
	appErrors "github.com/noah-isme/dojo-api/pkg/errors"
	"github.com/noah-isme/dojo-api/pkg/response"
)

type enrollmentService interface {
	EnrollStudent(ctx context.Context, dojoID string, req service.EnrollStudentRequest) (*service.EnrollmentResult, error)
}

// EnrollmentHandler exposes master-initiated enrollment.
type EnrollmentHandler struct {
	enrollments enrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// Create godoc
// @Summary Enroll student
// @Description Creates a credential, a student profile and a role link for a new student
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param dojoID path string true "Dojo ID"
// @Param payload body service.EnrollStudentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /dojos/{dojoID}/students [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	var req service.EnrollStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.enrollments.EnrollStudent(c.Request.Context(), dojoScope(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}
