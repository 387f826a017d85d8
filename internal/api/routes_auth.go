package api

import (
	"github.com/gin-gonic/gin"

	"github.com/taskhive/taskhive/internal/handlers"
)

type authRouteDeps struct {
	AuthHandler         *handlers.AuthHandler
	RegistrationHandler *handlers.RegistrationHandler
}

func registerAuthRoutes(api, protected *gin.RouterGroup, deps authRouteDeps) {
	auth := api.Group("/auth")
	{
		auth.POST("/login", deps.AuthHandler.Login)
		auth.POST("/refresh", deps.AuthHandler.Refresh)
		auth.POST("/password/forgot", deps.AuthHandler.ForgotPassword)
		auth.GET("/password/verify", deps.AuthHandler.VerifyResetToken)
		auth.POST("/password/reset", deps.AuthHandler.ResetPassword)
		auth.POST("/register/company", deps.RegistrationHandler.RegisterCompany)
		auth.POST("/register/member", deps.RegistrationHandler.RegisterMember)
	}

	protected.GET("/auth/me", deps.AuthHandler.Me)
	protected.POST("/auth/logout", deps.AuthHandler.Logout)
}
