package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-registrar-core/internal/models"
	"github.com/noah-isme/sma-registrar-core/internal/service"
	"github.com/noah-isme/sma-registrar-core/pkg/response"
)

type gradeService interface {
	List(ctx context.Context, filter models.GradeRecordFilter, actor *models.JWTClaims) ([]models.GradeRecord, error)
	SaveDraft(ctx context.Context, facultyID string, req service.SaveGradeRequest) (*models.GradeRecord, error)
	Submit(ctx context.Context, facultyID, recordID string, req service.SubmitGradeRequest) (*models.GradeRecord, error)
	BulkApprove(ctx context.Context, req service.BulkGradeRequest, actorID string) (*service.BulkResult, error)
	BulkReject(ctx context.Context, req service.BulkGradeRequest, actorID string) (*service.BulkResult, error)
	StudentGrades(ctx context.Context, studentID, termID string) ([]models.StudentGrade, error)
}

// GradeHandler exposes grade record endpoints.
type GradeHandler struct {
	grades gradeService
}

// NewGradeHandler constructs handler.
func NewGradeHandler(grades gradeService) *GradeHandler {
	return &GradeHandler{grades: grades}
}

// List godoc
// @Summary List grade records
// @Description Faculty only see records they own
// @Tags Grades
// @Produce json
// @Param termId query string false "Term ID"
// @Param sectionId query string false "Section ID"
// @Param subjectId query string false "Subject ID"
// @Param studentId query string false "Student ID"
// @Param status query string false "DRAFT, SUBMITTED_FOR_APPROVAL, APPROVED or REJECTED"
// @Success 200 {object} response.Envelope
// @Router /grades [get]
func (h *GradeHandler) List(c *gin.Context) {
	filter := models.GradeRecordFilter{
		TermID:    c.Query("termId"),
		SectionID: c.Query("sectionId"),
		SubjectID: c.Query("subjectId"),
		StudentID: c.Query("studentId"),
		FacultyID: c.Query("facultyId"),
		Status:    models.GradeStatus(c.Query("status")),
	}
	records, err := h.grades.List(c.Request.Context(), filter, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, records)
}

// Save godoc
// @Summary Save a draft quarter grade
// @Tags Grades
// @Accept json
// @Produce json
// @Param payload body service.SaveGradeRequest true "Grade payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /grades [put]
func (h *GradeHandler) Save(c *gin.Context) {
	var req service.SaveGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	record, err := h.grades.SaveDraft(c.Request.Context(), actorID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, record)
}

// Submit godoc
// @Summary Submit a grade record for approval
// @Tags Grades
// @Accept json
// @Produce json
// @Param id path string true "Grade record ID"
// @Param payload body service.SubmitGradeRequest true "Quarter covered by the grant"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /grades/{id}/submit [post]
func (h *GradeHandler) Submit(c *gin.Context) {
	var req service.SubmitGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	record, err := h.grades.Submit(c.Request.Context(), actorID(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, record)
}

// BulkApprove godoc
// @Summary Approve submitted grades
// @Description All records change or none do
// @Tags Grades
// @Accept json
// @Produce json
// @Param payload body service.BulkGradeRequest true "Record IDs"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /grades/bulk-approve [post]
func (h *GradeHandler) BulkApprove(c *gin.Context) {
	h.bulk(c, h.grades.BulkApprove)
}

// BulkReject godoc
// @Summary Reject submitted grades
// @Description All records change or none do; notes are required
// @Tags Grades
// @Accept json
// @Produce json
// @Param payload body service.BulkGradeRequest true "Record IDs and notes"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /grades/bulk-reject [post]
func (h *GradeHandler) BulkReject(c *gin.Context) {
	h.bulk(c, h.grades.BulkReject)
}

func (h *GradeHandler) bulk(c *gin.Context, apply func(context.Context, service.BulkGradeRequest, string) (*service.BulkResult, error)) {
	var req service.BulkGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	result, err := apply(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// StudentGrades godoc
// @Summary Approved grades of a student
// @Tags Grades
// @Produce json
// @Param id path string true "Student ID"
// @Param termId query string false "Term ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/grades [get]
func (h *GradeHandler) StudentGrades(c *gin.Context) {
	grades, err := h.grades.StudentGrades(c.Request.Context(), c.Param("id"), c.Query("termId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, grades)
}
