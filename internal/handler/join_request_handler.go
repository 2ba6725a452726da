package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/dojo-api/internal/models"
	"github.com/noah-isme/dojo-api/internal/service"
	appErrors "github.com/noah-isme/dojo-api/pkg/errors"
	"github.com/noah-isme/dojo-api/pkg/response"
)

type joinRequestService interface {
	Submit(ctx context.Context, req service.SubmitJoinRequest) (*service.SubmitResult, error)
	ListPending(ctx context.Context, dojoID string, page, size int) ([]models.JoinRequest, *models.Pagination, error)
	Approve(ctx context.Context, dojoID, requestID string) (*service.ApprovalResult, error)
	Reject(ctx context.Context, dojoID, requestID string) (*models.JoinRequest, error)
}

// JoinRequestHandler exposes the application workflow.
type JoinRequestHandler struct {
	requests joinRequestService
}

// NewJoinRequestHandler constructs JoinRequestHandler.
func NewJoinRequestHandler(requests joinRequestService) *JoinRequestHandler {
	return &JoinRequestHandler{requests: requests}
}

// Submit godoc
// @Summary Apply to a dojo
// @Description Creates the applicant's credential and a pending join request
// @Tags JoinRequests
// @Accept json
// @Produce json
// @Param payload body service.SubmitJoinRequest true "Application"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /join-requests [post]
func (h *JoinRequestHandler) Submit(c *gin.Context) {
	var req service.SubmitJoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.requests.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// List godoc
// @Summary List pending join requests
// @Tags JoinRequests
// @Produce json
// @Param dojoID path string true "Dojo ID"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /dojos/{dojoID}/join-requests [get]
func (h *JoinRequestHandler) List(c *gin.Context) {
	page, size := 1, 20
	if v, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		page = v
	}
	if v, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		size = v
	}
	requests, pagination, err := h.requests.ListPending(c.Request.Context(), dojoScope(c), page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, pagination, map[string]interface{}{"count": len(requests)})
}

// Approve godoc
// @Summary Approve a join request
// @Description Creates the student profile and role link, then marks the request approved
// @Tags JoinRequests
// @Produce json
// @Param dojoID path string true "Dojo ID"
// @Param requestID path string true "Join request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /dojos/{dojoID}/join-requests/{requestID}/approve [post]
func (h *JoinRequestHandler) Approve(c *gin.Context) {
	result, err := h.requests.Approve(c.Request.Context(), dojoScope(c), c.Param("requestID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Reject godoc
// @Summary Reject a join request
// @Tags JoinRequests
// @Produce json
// @Param dojoID path string true "Dojo ID"
// @Param requestID path string true "Join request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /dojos/{dojoID}/join-requests/{requestID}/reject [post]
func (h *JoinRequestHandler) Reject(c *gin.Context) {
	req, err := h.requests.Reject(c.Request.Context(), dojoScope(c), c.Param("requestID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}
