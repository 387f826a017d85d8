package api

import (
	"github.com/gin-gonic/gin"

	"github.com/taskhive/taskhive/internal/handlers"
	"github.com/taskhive/taskhive/internal/middleware"
	"github.com/taskhive/taskhive/internal/permissions"
)

type approvalRouteDeps struct {
	Gate            *permissions.Gate
	ApprovalHandler *handlers.ApprovalHandler
	AuditHandler    *handlers.AuditHandler
}

func registerApprovalRoutes(protected *gin.RouterGroup, deps approvalRouteDeps) {
	admin := protected.Group("/auth/admin")
	admin.Use(middleware.RequireSystemAdmin(deps.Gate))
	{
		admin.POST("/approve/company", deps.ApprovalHandler.ApproveCompany)
		admin.POST("/reject/company", deps.ApprovalHandler.RejectCompany)
		admin.GET("/pending/companies", deps.ApprovalHandler.PendingCompanies)
	}

	manager := protected.Group("/auth/manager")
	manager.Use(middleware.RequireManager(deps.Gate))
	{
		manager.POST("/approve/member", deps.ApprovalHandler.ApproveMember)
		manager.POST("/reject/member", deps.ApprovalHandler.RejectMember)
		manager.GET("/pending/members", deps.ApprovalHandler.PendingMembers)
	}

	protected.GET("/admin/audit", middleware.RequireSystemAdmin(deps.Gate), deps.AuditHandler.List)
}
