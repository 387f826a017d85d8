package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/taskhive/taskhive/internal/app"
	iauth "github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/handlers"
	"github.com/taskhive/taskhive/internal/middleware"
	"github.com/taskhive/taskhive/internal/permissions"
	"github.com/taskhive/taskhive/internal/services"
)

// Dependencies are the long-lived services the HTTP layer is built from.
type Dependencies struct {
	DB            *gorm.DB
	Config        *app.Config
	Sessions      *iauth.SessionService
	Gate          *permissions.Gate
	Registrations *services.RegistrationService
	Approvals     *services.ApprovalService
	Users         *services.UserService
	Audit         *services.AuditService
}

func (d Dependencies) validate() error {
	switch {
	case d.DB == nil:
		return errors.New("database handle must be provided")
	case d.Config == nil:
		return errors.New("config must be provided")
	case d.Sessions == nil:
		return errors.New("session service must be provided")
	case d.Gate == nil:
		return errors.New("authorization gate must be provided")
	case d.Registrations == nil || d.Approvals == nil || d.Users == nil || d.Audit == nil:
		return errors.New("registration, approval, user and audit services must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders(cfg.Server.HSTS))

	registerHealthRoutes(r, deps.DB)
	registerMonitoringRoutes(r, cfg)

	requireAuth := middleware.Auth(deps.Gate)
	api := r.Group("/api")
	protected := api.Group("")
	protected.Use(requireAuth)

	registerAuthRoutes(api, protected, authRouteDeps{
		AuthHandler: handlers.NewAuthHandler(deps.Sessions, handlers.CookieSettings{
			Secure: cfg.Server.CookieSecure,
			Domain: cfg.Server.CookieDomain,
		}),
		RegistrationHandler: handlers.NewRegistrationHandler(deps.Registrations),
	})

	registerApprovalRoutes(protected, approvalRouteDeps{
		Gate:            deps.Gate,
		ApprovalHandler: handlers.NewApprovalHandler(deps.Approvals, deps.Gate),
		AuditHandler:    handlers.NewAuditHandler(deps.Audit),
	})

	registerUserRoutes(protected, handlers.NewProfileHandler(deps.Users, deps.Gate))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
