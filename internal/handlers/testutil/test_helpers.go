package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/taskhive/taskhive/internal/api"
	"github.com/taskhive/taskhive/internal/app"
	iauth "github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/cache"
	sharedtestutil "github.com/taskhive/taskhive/internal/database/testutil"
	"github.com/taskhive/taskhive/internal/handlers"
	"github.com/taskhive/taskhive/internal/models"
	"github.com/taskhive/taskhive/internal/permissions"
	"github.com/taskhive/taskhive/internal/services"
	"github.com/taskhive/taskhive/pkg/mail"
	"github.com/taskhive/taskhive/pkg/response"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T             *testing.T
	DB            *gorm.DB
	Router        *gin.Engine
	Codec         *iauth.TokenCodec
	Tokens        iauth.TokenStore
	Registrations *services.RegistrationService
	Mailer        *CaptureMailer
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	cfg := &app.Config{
		Server: app.ServerConfig{FrontendURL: "https://app.taskhive.test"},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				AccessSecret:  "test-suite-access-secret",
				RefreshSecret: "test-suite-refresh-secret",
				ResetSecret:   "test-suite-reset-secret",
				Issuer:        "test-suite",
			},
		},
		Monitoring: app.MonitoringConfig{Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"}},
	}
	require.NoError(t, cfg.Auth.ValidateSecrets())

	codec, err := iauth.NewTokenCodec(cfg.Auth.CodecConfig())
	require.NoError(t, err)

	gormTokens, err := iauth.NewGormTokenStore(db, nil)
	require.NoError(t, err)
	tokens := iauth.WithBlacklistCache(gormTokens, cache.NewDatabaseStore(db), nil)

	users, err := iauth.NewGormUserStore(db)
	require.NoError(t, err)

	auditSvc, err := services.NewAuditService(db, nil)
	require.NoError(t, err)

	mailer := &CaptureMailer{}
	sessionCfg := cfg.SessionConfig()
	sessionCfg.Audit = auditSvc
	sessions, err := iauth.NewSessionService(users, tokens, codec, mailer, sessionCfg)
	require.NoError(t, err)
	mailer.wait = sessions.WaitForMail

	gate, err := permissions.NewGate(codec, tokens, users)
	require.NoError(t, err)

	registrations, err := services.NewRegistrationService(db, auditSvc, services.RegistrationConfig{})
	require.NoError(t, err)
	approvals, err := services.NewApprovalService(db, auditSvc, nil)
	require.NoError(t, err)
	userSvc, err := services.NewUserService(db, auditSvc, nil)
	require.NoError(t, err)

	router, err := api.NewRouter(api.Dependencies{
		DB:            db,
		Config:        cfg,
		Sessions:      sessions,
		Gate:          gate,
		Registrations: registrations,
		Approvals:     approvals,
		Users:         userSvc,
		Audit:         auditSvc,
	})
	require.NoError(t, err)

	return &Env{
		T:             t,
		DB:            db,
		Router:        router,
		Codec:         codec,
		Tokens:        tokens,
		Registrations: registrations,
		Mailer:        mailer,
	}
}

// CreateSystemAdmin inserts an active system administrator.
func (e *Env) CreateSystemAdmin(email, password string) *models.User {
	e.T.Helper()

	user, err := e.Registrations.CreateSystemAdmin(context.Background(), services.AccountInput{
		Email:    email,
		Password: password,
		Name:     "System Admin",
	})
	require.NoError(e.T, err)
	return user
}

// LoginResult bundles the JSON response from POST /api/auth/login and the refresh cookie.
type LoginResult struct {
	AccessToken   string       `json:"access_token"`
	TokenType     string       `json:"token_type"`
	User          UserPayload  `json:"user"`
	RefreshCookie *http.Cookie `json:"-"`
}

// UserPayload captures the subset of user fields returned from auth endpoints.
type UserPayload struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	Name      string  `json:"name"`
	RoleID    int     `json:"role_id"`
	StatusID  int     `json:"status_id"`
	CompanyID *string `json:"company_id"`
}

// Login authenticates and returns the issued access token and refresh cookie.
func (e *Env) Login(email, password string) LoginResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.AccessToken)
	require.Equal(e.T, strings.ToLower(email), result.User.Email)

	result.RefreshCookie = RefreshCookie(w)
	require.NotNil(e.T, result.RefreshCookie)
	require.NotEmpty(e.T, result.RefreshCookie.Value)
	return result
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// RefreshCookie returns the refresh token cookie set by the response, if any.
func RefreshCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == handlers.RefreshCookieName {
			return c
		}
	}
	return nil
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	e.T.Helper()

	buf := bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, c := range cookies {
		if c != nil {
			req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// CaptureMailer records outbound messages instead of delivering them.
type CaptureMailer struct {
	mu       sync.Mutex
	messages []mail.Message
	// wait drains background deliveries before messages are inspected.
	wait func()
}

func (m *CaptureMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

// ResetToken extracts the token from the most recent reset email sent to email.
func (m *CaptureMailer) ResetToken(t *testing.T, email string) string {
	t.Helper()
	if m.wait != nil {
		m.wait()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if len(msg.To) == 0 || !strings.EqualFold(msg.To[0], email) {
			continue
		}
		for _, line := range strings.Split(msg.Body, "\r\n") {
			if !strings.Contains(line, "token=") {
				continue
			}
			link, err := url.Parse(strings.TrimSpace(line))
			require.NoError(t, err)
			return link.Query().Get("token")
		}
	}
	t.Fatalf("no reset email sent to %s", email)
	return ""
}
