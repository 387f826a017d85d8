package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/taskhive/taskhive/internal/models"
	"github.com/taskhive/taskhive/internal/permissions"
	apperrors "github.com/taskhive/taskhive/pkg/errors"
	"github.com/taskhive/taskhive/pkg/response"
)

// RequireRoles allows the request when the authenticated user's stored role is one of roles.
// Company scoping is left to handlers, which know the target company.
func RequireRoles(gate *permissions.Gate, roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if !ok {
			response.Abort(c, apperrors.ErrUnauthorized)
			return
		}
		if err := gate.RequireRole(identity, roles...); err != nil {
			response.Abort(c, TranslateError(err))
			return
		}
		c.Next()
	}
}

// RequireSystemAdmin allows system administrators only.
func RequireSystemAdmin(gate *permissions.Gate) gin.HandlerFunc {
	return RequireRoles(gate, models.RoleSystemAdmin)
}

// RequireManager allows company managers and system administrators.
func RequireManager(gate *permissions.Gate) gin.HandlerFunc {
	return RequireRoles(gate, models.RoleCompanyManager, models.RoleSystemAdmin)
}
