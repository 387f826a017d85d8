package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/permissions"
	apperrors "github.com/taskhive/taskhive/pkg/errors"
	"github.com/taskhive/taskhive/pkg/logger"
	"github.com/taskhive/taskhive/pkg/response"
)

const (
	CtxIdentityKey = "authIdentity"
	CtxUserIDKey   = "userID"
)

// Auth authenticates the bearer token through the gate and stores the resolved identity.
func Auth(gate *permissions.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Header("WWW-Authenticate", "Bearer")
			response.Abort(c, apperrors.ErrUnauthorized)
			return
		}

		identity, err := gate.Authenticate(c.Request.Context(), token)
		if err != nil {
			if isTokenError(err) {
				c.Header("WWW-Authenticate", "Bearer")
			}
			appErr := TranslateError(err)
			if appErr.Internal != nil {
				logger.WithModule("http").Error("authentication failed", zap.Error(err))
			} else if errors.Is(err, auth.ErrTokenRevoked) {
				logger.Security("revoked_token_presented", zap.String("ip", c.ClientIP()))
			}
			response.Abort(c, appErr)
			return
		}

		// Propagate identity into request context
		c.Set(CtxIdentityKey, identity)
		c.Set(CtxUserIDKey, identity.UserID())

		c.Next()
	}
}

// IdentityFrom returns the identity stored by Auth.
func IdentityFrom(c *gin.Context) (*permissions.Identity, bool) {
	v, ok := c.Get(CtxIdentityKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*permissions.Identity)
	return identity, ok && identity != nil
}

func bearerToken(header string) (string, bool) {
	if len(header) < 8 || !strings.EqualFold(header[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

func isTokenError(err error) bool {
	for _, target := range []error{auth.ErrTokenExpired, auth.ErrTokenInvalid, auth.ErrTokenRevoked} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
