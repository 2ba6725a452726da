package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/dojo-api/internal/models"
	"github.com/noah-isme/dojo-api/internal/service"
	appErrors "github.com/noah-isme/dojo-api/pkg/errors"
	"github.com/noah-isme/dojo-api/pkg/response"
)

type graduationService interface {
	Schedule(ctx context.Context, dojoID string, req service.ScheduleGraduationRequest) ([]models.GraduationEvent, error)
	ListBatch(ctx context.Context, dojoID, examID, date string) ([]models.GraduationEvent, error)
	Finalize(ctx context.Context, dojoID string, req service.FinalizeGraduationRequest) ([]models.GraduationOutcome, error)
}

// GraduationHandler exposes graduation scheduling and finalization.
type GraduationHandler struct {
	graduations graduationService
}

// NewGraduationHandler constructs GraduationHandler.
func NewGraduationHandler(graduations graduationService) *GraduationHandler {
	return &GraduationHandler{graduations: graduations}
}

// Schedule godoc
// @Summary Schedule a graduation
// @Tags Graduations
// @Accept json
// @Produce json
// @Param dojoID path string true "Dojo ID"
// @Param payload body service.ScheduleGraduationRequest true "Attendees"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /dojos/{dojoID}/graduations [post]
func (h *GraduationHandler) Schedule(c *gin.Context) {
	var req service.ScheduleGraduationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	events, err := h.graduations.Schedule(c.Request.Context(), dojoScope(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, events)
}

// List godoc
// @Summary List a graduation batch
// @Tags Graduations
// @Produce json
// @Param dojoID path string true "Dojo ID"
// @Param exam_id query string true "Exam ID"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /dojos/{dojoID}/graduations [get]
func (h *GraduationHandler) List(c *gin.Context) {
	events, err := h.graduations.ListBatch(c.Request.Context(), dojoScope(c), c.Query("exam_id"), c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, nil)
}

// Finalize godoc
// @Summary Finalize a graduation batch
// @Description Grades every scheduled attendee; approved students are promoted to the exam's target belt
// @Tags Graduations
// @Accept json
// @Produce json
// @Param dojoID path string true "Dojo ID"
// @Param payload body service.FinalizeGraduationRequest true "Grades keyed by event id"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /dojos/{dojoID}/graduations/finalize [post]
func (h *GraduationHandler) Finalize(c *gin.Context) {
	var req service.FinalizeGraduationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	outcomes, err := h.graduations.Finalize(c.Request.Context(), dojoScope(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	approved := 0
	for _, o := range outcomes {
		if o.Approved {
			approved++
		}
	}
	response.JSON(c, http.StatusOK, outcomes, nil, map[string]interface{}{"attendees": len(outcomes), "approved": approved})
}
