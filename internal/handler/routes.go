package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-registrar-core/internal/middleware"
	"github.com/noah-isme/sma-registrar-core/internal/models"
)

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Routes groups the registrar API handlers.
type Routes struct {
	Terms         *TermHandler
	Loads         *LoadHandler
	GradeRequests *GradeRequestHandler
	Grades        *GradeHandler
	Audit         auditWriter
	Logger        *zap.Logger
}

// Register mounts every endpoint on api. auth must populate middleware.ContextUserKey.
func (r Routes) Register(api *gin.RouterGroup, auth gin.HandlerFunc) {
	registrar := middleware.RequireRegistrar()
	faculty := middleware.RequireRoles(models.RoleFaculty)
	staff := middleware.RequireRoles(models.RoleRegistrar, models.RoleSuperAdmin, models.RoleFaculty)

	secured := api.Group("", auth)

	terms := secured.Group("/terms")
	terms.GET("", staff, r.Terms.List)
	terms.GET("/active", r.Terms.GetActive)
	terms.GET("/:id", staff, r.Terms.Get)
	terms.POST("", registrar, r.Terms.Create)
	terms.PATCH("/:id/calendar", registrar, r.Terms.UpdateCalendar)
	terms.POST("/:id/activate", registrar, r.Terms.Activate)
	terms.POST("/:id/deactivate", registrar, r.Terms.Deactivate)
	terms.DELETE("/:id", registrar, r.Terms.Delete)

	loads := secured.Group("/loads")
	loads.GET("/policy", staff, r.Loads.Policy)
	loads.PUT("/policy/faculty/:facultyId", registrar,
		middleware.Audit(r.Audit, r.Logger, models.AuditActionLoadPolicyUpdate, "faculty_load_policy", "facultyId"),
		r.Loads.SetFacultyMaxLoads)
	loads.GET("", staff, r.Loads.List)
	loads.GET("/utilization", staff, r.Loads.Utilization)
	loads.POST("", registrar,
		middleware.Audit(r.Audit, r.Logger, models.AuditActionLoadAssign, "faculty_load"),
		r.Loads.Assign)
	loads.DELETE("/:id", registrar,
		middleware.Audit(r.Audit, r.Logger, models.AuditActionLoadRemove, "faculty_load", "id"),
		r.Loads.Remove)

	advisers := secured.Group("/advisers")
	advisers.GET("", staff, r.Loads.ListAdvisers)
	advisers.POST("", registrar, r.Loads.AssignAdviser)
	advisers.DELETE("", registrar, r.Loads.RemoveAdviser)

	requests := secured.Group("/grade-requests")
	requests.GET("", staff, r.GradeRequests.List)
	requests.GET("/:id", staff, r.GradeRequests.Get)
	requests.POST("", faculty, r.GradeRequests.Create)
	requests.POST("/:id/approve", registrar, r.GradeRequests.Approve)
	requests.POST("/:id/reject", registrar, r.GradeRequests.Reject)

	grades := secured.Group("/grades")
	grades.GET("", staff, r.Grades.List)
	grades.PUT("", faculty, r.Grades.Save)
	grades.POST("/:id/submit", faculty, r.Grades.Submit)
	grades.POST("/bulk-approve", registrar, r.Grades.BulkApprove)
	grades.POST("/bulk-reject", registrar, r.Grades.BulkReject)

	secured.GET("/students/:id/grades",
		middleware.RBAC(string(models.RoleRegistrar), string(models.RoleSuperAdmin), string(models.RoleFaculty), middleware.Self),
		r.Grades.StudentGrades)
}
