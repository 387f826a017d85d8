package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	iauth "github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/models"
	appErrors "github.com/taskhive/taskhive/pkg/errors"
	"github.com/taskhive/taskhive/pkg/response"
)

const (
	RefreshCookieName = "refresh_token"
	refreshCookiePath = "/api/auth"
)

// CookieSettings controls the refresh token cookie.
type CookieSettings struct {
	Secure bool
	Domain string
}

// AuthHandler manages authentication flows (login/refresh/logout/me/password reset).
type AuthHandler struct {
	sessions *iauth.SessionService
	cookie   CookieSettings
}

func NewAuthHandler(sessions *iauth.SessionService, cookie CookieSettings) *AuthHandler {
	return &AuthHandler{sessions: sessions, cookie: cookie}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	AllDevices bool `json:"all_devices"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

type tokenResponse struct {
	AccessToken     string       `json:"access_token"`
	TokenType       string       `json:"token_type"`
	AccessExpiresAt time.Time    `json:"access_expires_at"`
	User            *models.User `json:"user,omitempty"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.sessions.Login(requestContext(c), req.Email, req.Password, clientInfo(c))
	if err != nil {
		respondError(c, err)
		return
	}

	h.setRefreshCookie(c, result.Tokens.RefreshToken)
	response.Success(c, http.StatusOK, tokenResponse{
		AccessToken:     result.Tokens.AccessToken,
		TokenType:       "Bearer",
		AccessExpiresAt: result.Tokens.AccessExpiresAt,
		User:            result.User,
	})
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	raw, _ := c.Cookie(RefreshCookieName)
	if strings.TrimSpace(raw) == "" {
		var req refreshRequest
		_ = c.ShouldBindJSON(&req)
		raw = req.RefreshToken
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	pair, err := h.sessions.Refresh(requestContext(c), raw, clientInfo(c))
	if err != nil {
		if isSessionEnding(err) {
			h.clearRefreshCookie(c)
		}
		respondError(c, err)
		return
	}

	h.setRefreshCookie(c, pair.RefreshToken)
	response.Success(c, http.StatusOK, tokenResponse{
		AccessToken:     pair.AccessToken,
		TokenType:       "Bearer",
		AccessExpiresAt: pair.AccessExpiresAt,
	})
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	var req logoutRequest
	if c.Request.ContentLength > 0 && !bindAndValidate(c, &req) {
		return
	}

	refresh, _ := c.Cookie(RefreshCookieName)
	err := h.sessions.Logout(requestContext(c), iauth.LogoutInput{
		UserID:       identity.UserID(),
		AccessToken:  identity.Token,
		RefreshToken: refresh,
		AllDevices:   req.AllDevices,
		Client:       clientInfo(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	h.clearRefreshCookie(c)
	response.Success(c, http.StatusOK, gin.H{"logged_out": true, "all_devices": req.AllDevices})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, identity.User)
}

// POST /api/auth/password/forgot
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.sessions.ForgotPassword(requestContext(c), req.Email, clientInfo(c)); err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "If the email is registered, a password reset link has been sent",
	})
}

// GET /api/auth/password/verify?token=
func (h *AuthHandler) VerifyResetToken(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.NewValidation("token is required"))
		return
	}

	status, err := h.sessions.VerifyResetToken(requestContext(c), token)
	if err != nil {
		respondError(c, err)
		return
	}

	payload := gin.H{"valid": status.Valid}
	if status.Valid {
		payload["email"] = status.Email
	}
	response.Success(c, http.StatusOK, payload)
}

// POST /api/auth/password/reset
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.sessions.ResetPassword(requestContext(c), req.Token, req.NewPassword, clientInfo(c)); err != nil {
		respondError(c, err)
		return
	}

	h.clearRefreshCookie(c)
	response.Success(c, http.StatusOK, gin.H{"password_reset": true})
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, token string) {
	maxAge := int(h.sessions.Codec().RefreshTokenTTL() / time.Second)
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(RefreshCookieName, token, maxAge, refreshCookiePath, h.cookie.Domain, h.cookie.Secure, true)
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(RefreshCookieName, "", -1, refreshCookiePath, h.cookie.Domain, h.cookie.Secure, true)
}

func isSessionEnding(err error) bool {
	for _, target := range []error{
		iauth.ErrTokenExpired,
		iauth.ErrTokenInvalid,
		iauth.ErrTokenReuseDetected,
		iauth.ErrAccountInactive,
		iauth.ErrAccountPending,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
