package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/middleware"
	"github.com/taskhive/taskhive/internal/permissions"
	appErrors "github.com/taskhive/taskhive/pkg/errors"
	"github.com/taskhive/taskhive/pkg/logger"
	"github.com/taskhive/taskhive/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

func clientInfo(c *gin.Context) iauth.ClientInfo {
	info := iauth.ClientInfo{IPAddress: c.ClientIP()}
	if c.Request != nil {
		info.UserAgent = c.Request.UserAgent()
		info.Device = c.GetHeader("X-Device-Name")
	}
	return info
}

// respondError renders err through the API error taxonomy. Internal causes are logged, never returned.
func respondError(c *gin.Context, err error) {
	appErr := middleware.TranslateError(err)
	if appErr.Internal != nil {
		logger.WithModule("http").Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(appErr.Internal),
		)
	}
	response.Error(c, appErr)
}

// requireIdentity returns the authenticated identity or writes a 401.
func requireIdentity(c *gin.Context) (*permissions.Identity, bool) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return identity, true
}
