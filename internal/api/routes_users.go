package api

import (
	"github.com/gin-gonic/gin"

	"github.com/taskhive/taskhive/internal/handlers"
)

func registerUserRoutes(protected *gin.RouterGroup, profile *handlers.ProfileHandler) {
	users := protected.Group("/users")
	{
		users.GET("/:id", profile.Get)
		users.PATCH("/:id/profile", profile.Update)
	}
}
