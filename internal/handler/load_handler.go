package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-registrar-core/internal/models"
	"github.com/noah-isme/sma-registrar-core/internal/service"
	"github.com/noah-isme/sma-registrar-core/pkg/response"
)

type loadService interface {
	Policy() models.LoadPolicy
	ListLoads(ctx context.Context, facultyID, termID string) ([]models.FacultyLoadAssignment, error)
	AssignLoad(ctx context.Context, req service.AssignLoadRequest) (*models.FacultyLoadAssignment, error)
	RemoveLoad(ctx context.Context, id string) error
	Utilization(ctx context.Context, facultyID, termID string) (*models.Utilization, error)
	SetFacultyMaxLoads(ctx context.Context, facultyID string, req service.SetFacultyMaxLoadsRequest) (*models.FacultyLoadOverride, error)
	ListAdvisers(ctx context.Context, termID string) ([]models.SectionAdviser, error)
	AssignAdviser(ctx context.Context, req service.AssignAdviserRequest, actorID string) (*models.SectionAdviser, error)
	RemoveAdviser(ctx context.Context, sectionID, termID, actorID string) error
}

// LoadHandler exposes the capacity ledger: faculty loads, adviser slots and load policy.
type LoadHandler struct {
	service loadService
}

// NewLoadHandler constructs a load handler.
func NewLoadHandler(svc loadService) *LoadHandler {
	return &LoadHandler{service: svc}
}

// Policy godoc
// @Summary Get load policy
// @Tags Loads
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /loads/policy [get]
func (h *LoadHandler) Policy(c *gin.Context) {
	response.OK(c, h.service.Policy())
}

// SetFacultyMaxLoads godoc
// @Summary Override the load ceiling of one faculty
// @Tags Loads
// @Accept json
// @Produce json
// @Param facultyId path string true "Faculty ID"
// @Param payload body service.SetFacultyMaxLoadsRequest true "Ceiling"
// @Success 200 {object} response.Envelope
// @Router /loads/policy/faculty/{facultyId} [put]
func (h *LoadHandler) SetFacultyMaxLoads(c *gin.Context) {
	var req service.SetFacultyMaxLoadsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	override, err := h.service.SetFacultyMaxLoads(c.Request.Context(), c.Param("facultyId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, override)
}

// List godoc
// @Summary List a faculty's loads
// @Tags Loads
// @Produce json
// @Param facultyId query string true "Faculty ID"
// @Param termId query string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /loads [get]
func (h *LoadHandler) List(c *gin.Context) {
	loads, err := h.service.ListLoads(c.Request.Context(), c.Query("facultyId"), c.Query("termId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, loads)
}

// Assign godoc
// @Summary Assign a load
// @Tags Loads
// @Accept json
// @Produce json
// @Param payload body service.AssignLoadRequest true "Load payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /loads [post]
func (h *LoadHandler) Assign(c *gin.Context) {
	var req service.AssignLoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	load, err := h.service.AssignLoad(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, load)
}

// Remove godoc
// @Summary Remove a load
// @Tags Loads
// @Param id path string true "Load ID"
// @Success 204
// @Router /loads/{id} [delete]
func (h *LoadHandler) Remove(c *gin.Context) {
	if err := h.service.RemoveLoad(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Utilization godoc
// @Summary Faculty load utilization
// @Tags Loads
// @Produce json
// @Param facultyId query string true "Faculty ID"
// @Param termId query string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /loads/utilization [get]
func (h *LoadHandler) Utilization(c *gin.Context) {
	util, err := h.service.Utilization(c.Request.Context(), c.Query("facultyId"), c.Query("termId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, util)
}

// ListAdvisers godoc
// @Summary List section advisers of a term
// @Tags Advisers
// @Produce json
// @Param termId query string true "Term ID"
// @Success 200 {object} response.Envelope
// @Router /advisers [get]
func (h *LoadHandler) ListAdvisers(c *gin.Context) {
	advisers, err := h.service.ListAdvisers(c.Request.Context(), c.Query("termId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, advisers)
}

// AssignAdviser godoc
// @Summary Assign a section adviser
// @Tags Advisers
// @Accept json
// @Produce json
// @Param payload body service.AssignAdviserRequest true "Adviser payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /advisers [post]
func (h *LoadHandler) AssignAdviser(c *gin.Context) {
	var req service.AssignAdviserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err)
		return
	}
	adviser, err := h.service.AssignAdviser(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, adviser, nil)
}

// RemoveAdviser godoc
// @Summary Clear a section adviser
// @Tags Advisers
// @Param sectionId query string true "Section ID"
// @Param termId query string true "Term ID"
// @Success 204
// @Router /advisers [delete]
func (h *LoadHandler) RemoveAdviser(c *gin.Context) {
	if err := h.service.RemoveAdviser(c.Request.Context(), c.Query("sectionId"), c.Query("termId"), actorID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
