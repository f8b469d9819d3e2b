package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-registrar-core/internal/models"
	"github.com/noah-isme/sma-registrar-core/internal/service"
	"github.com/noah-isme/sma-registrar-core/pkg/response"
)

type gradeRequestService interface {
	Create(ctx context.Context, facultyID string, req service.CreateGradeRequest) (*models.GradeInputRequest, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.GradeInputRequest, error)
	List(ctx context.Context, filter models.GradeRequestFilter, actor *models.JWTClaims) ([]models.GradeInputRequest, error)
	Approve(ctx context.Context, id string, req service.ApproveGradeRequest, reviewerID string) (*models.GradeInputRequest, error)
	Reject(ctx context.Context, id string, req service.RejectGradeRequest, reviewerID string) (*models.GradeInputRequest, error)
}

// GradeRequestHandler exposes grade input request endpoints.
type GradeRequestHandler struct {
	service gradeRequestService
}

// NewGradeRequestHandler constructs the handler.
func NewGradeRequestHandler(svc gradeRequestService) *GradeRequestHandler {
	return &GradeRequestHandler{service: svc}
}

// List godoc
// @Summary List grade input requests
// @Description Faculty only see their own requests
// @Tags GradeRequests
// @Produce json
// @Param termId query string false "Term ID"
// @Param sectionId query string false "Section ID"
// @Param subjectId query string false "Subject ID"
// @Param quarter query string false "Quarter"
// @Param status query string false "PENDING, APPROVED or REJECTED"
// @Param facultyId query string false "Faculty ID (registrar only)"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /grade-requests [get]
func (h *GradeRequestHandler) List(c *gin.Context) {
	filter := models.GradeRequestFilter{
		FacultyID: c.Query("facultyId"),
		TermID:    c.Query("termId"),
		SectionID: c.Query("sectionId"),
		SubjectID: c.Query("subjectId"),
		Quarter:   models.Quarter(c.Query("quarter")),
		Status:    models.GradeRequestStatus(c.Query("status")),
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(c.Query("offset")); err == nil {
		filter.Offset = offset
	}
	requests, err := h.service.List(c.Request.Context(), filter, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, requests)
}

// Get godoc
// @Summary Get a grade input request
// @Tags GradeRequests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /grade-requests/{id} [get]
func (h *GradeRequestHandler) Get(c *gin.Context) {
	request, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, request)
}

// Create godoc
// @Summary Request grade entry access
// @Tags GradeRequests
// @Accept json
// @Produce json
// @Param payload body service.CreateGradeRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Router /grade-requests [post]
func (h *GradeRequestHandler) Create(c *gin.Context) {
	var req service.CreateGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	request, err := h.service.Create(c.Request.Context(), actorID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// Approve godoc
// @Summary Approve a grade input request
// @Tags GradeRequests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body service.ApproveGradeRequest true "Approval"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /grade-requests/{id}/approve [post]
func (h *GradeRequestHandler) Approve(c *gin.Context) {
	var req service.ApproveGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	request, err := h.service.Approve(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, request)
}

// Reject godoc
// @Summary Reject a grade input request
// @Tags GradeRequests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body service.RejectGradeRequest true "Rejection"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /grade-requests/{id}/reject [post]
func (h *GradeRequestHandler) Reject(c *gin.Context) {
	var req service.RejectGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	request, err := h.service.Reject(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, request)
}
