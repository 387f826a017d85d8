package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taskhive/taskhive/internal/handlers/testutil"
	"github.com/taskhive/taskhive/internal/models"
)

const (
	adminPassword   = "Adm1nPassword"
	managerPassword = "Manag3rPassword"
	memberPassword  = "Memb3rPassword"
)

type companyPayload struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	StatusID       int     `json:"status_id"`
	InvitationCode *string `json:"invitation_code"`
	ManagerID      *string `json:"manager_id"`
}

type registeredCompany struct {
	Company companyPayload       `json:"company"`
	User    testutil.UserPayload `json:"user"`
}

type registeredMember struct {
	User testutil.UserPayload `json:"user"`
}

func expectError(t *testing.T, env *testutil.Env, method, path string, body any, token string, status int, code string) {
	t.Helper()
	w := env.Request(method, path, body, token)
	require.Equal(t, status, w.Code, w.Body.String())
	resp := testutil.DecodeResponse(t, w)
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	require.Equal(t, code, resp.Error.Code)
}

func TestAuthLifecycleEndToEnd(t *testing.T) {
	env := testutil.NewEnv(t)

	env.CreateSystemAdmin("admin@taskhive.test", adminPassword)
	admin := env.Login("admin@taskhive.test", adminPassword)
	require.Equal(t, int(models.RoleSystemAdmin), admin.User.RoleID)

	// Manager signs up and is held for approval.
	w := env.Request(http.MethodPost, "/api/auth/register/company", map[string]any{
		"manager": map[string]string{"email": "Manager@Acme.test", "password": managerPassword, "name": "Mia Manager"},
		"company": map[string]string{"name": "Acme", "description": "Widgets"},
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var signup registeredCompany
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &signup)
	require.Equal(t, int(models.StatusPending), signup.Company.StatusID)
	require.Equal(t, int(models.StatusPending), signup.User.StatusID)
	require.Equal(t, "manager@acme.test", signup.User.Email)
	require.Nil(t, signup.Company.InvitationCode)

	expectError(t, env, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "manager@acme.test", "password": managerPassword}, "",
		http.StatusForbidden, "ACCOUNT_PENDING")

	// Only system admins may approve companies.
	expectError(t, env, http.MethodGet, "/api/auth/admin/pending/companies", nil, "", http.StatusUnauthorized, "UNAUTHORIZED")

	w = env.Request(http.MethodGet, "/api/auth/admin/pending/companies", nil, admin.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var pending []companyPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &pending)
	require.Len(t, pending, 1)
	require.Equal(t, signup.Company.ID, pending[0].ID)

	w = env.Request(http.MethodPost, "/api/auth/admin/approve/company", map[string]string{"company_id": signup.Company.ID}, admin.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var approved companyPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &approved)
	require.Equal(t, int(models.StatusActive), approved.StatusID)
	require.NotNil(t, approved.InvitationCode)
	code := *approved.InvitationCode
	require.NotEmpty(t, code)

	// A second approval keeps the original code.
	w = env.Request(http.MethodPost, "/api/auth/admin/approve/company", map[string]string{"company_id": signup.Company.ID}, admin.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var again companyPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &again)
	require.Equal(t, code, *again.InvitationCode)

	manager := env.Login("manager@acme.test", managerPassword)
	require.Equal(t, int(models.RoleCompanyManager), manager.User.RoleID)

	expectError(t, env, http.MethodPost, "/api/auth/admin/approve/company",
		map[string]string{"company_id": signup.Company.ID}, manager.AccessToken,
		http.StatusForbidden, "AUTHORIZATION_DENIED")

	// Team member signs up with the invitation code.
	expectError(t, env, http.MethodPost, "/api/auth/register/member", map[string]string{
		"email": "member@acme.test", "password": memberPassword, "name": "Max Member", "invitation_code": "WRONGCODE1",
	}, "", http.StatusBadRequest, "INVALID_INVITATION_CODE")

	w = env.Request(http.MethodPost, "/api/auth/register/member", map[string]string{
		"email": "member@acme.test", "password": memberPassword, "name": "Max Member", "invitation_code": code,
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var memberSignup registeredMember
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &memberSignup)
	require.Equal(t, int(models.StatusPending), memberSignup.User.StatusID)
	require.NotNil(t, memberSignup.User.CompanyID)
	require.Equal(t, signup.Company.ID, *memberSignup.User.CompanyID)

	expectError(t, env, http.MethodPost, "/api/auth/register/member", map[string]string{
		"email": "MEMBER@acme.test", "password": memberPassword, "name": "Dup", "invitation_code": code,
	}, "", http.StatusConflict, "DUPLICATE_EMAIL")

	expectError(t, env, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "member@acme.test", "password": memberPassword}, "",
		http.StatusForbidden, "ACCOUNT_PENDING")

	w = env.Request(http.MethodGet, "/api/auth/manager/pending/members", nil, manager.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var pendingMembers []testutil.UserPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &pendingMembers)
	require.Len(t, pendingMembers, 1)
	require.Equal(t, memberSignup.User.ID, pendingMembers[0].ID)

	w = env.Request(http.MethodPost, "/api/auth/manager/approve/member", map[string]string{"member_id": memberSignup.User.ID}, manager.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var approvedMember testutil.UserPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &approvedMember)
	require.Equal(t, int(models.StatusActive), approvedMember.StatusID)

	member := env.Login("member@acme.test", memberPassword)

	// Refresh rotates both tokens.
	w = env.Request(http.MethodPost, "/api/auth/refresh", nil, "", member.RefreshCookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var refreshed testutil.LoginResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &refreshed)
	rotated := testutil.RefreshCookie(w)
	require.NotNil(t, rotated)
	require.NotEqual(t, member.AccessToken, refreshed.AccessToken)
	require.NotEqual(t, member.RefreshCookie.Value, rotated.Value)
	require.True(t, rotated.HttpOnly)
	require.Equal(t, http.SameSiteStrictMode, rotated.SameSite)

	w = env.Request(http.MethodGet, "/api/auth/me", nil, refreshed.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Logout clears the cookie and blacklists the presented access token.
	w = env.Request(http.MethodPost, "/api/auth/logout", nil, refreshed.AccessToken, rotated)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cleared := testutil.RefreshCookie(w)
	require.NotNil(t, cleared)
	require.Empty(t, cleared.Value)
	require.Less(t, cleared.MaxAge, 0)

	expectError(t, env, http.MethodGet, "/api/auth/me", nil, refreshed.AccessToken, http.StatusUnauthorized, "UNAUTHORIZED")

	w = env.Request(http.MethodPost, "/api/auth/refresh", nil, "", rotated)
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())

	// Password reset invalidates the member's earlier sessions.
	member = env.Login("member@acme.test", memberPassword)

	w = env.Request(http.MethodPost, "/api/auth/password/forgot", map[string]string{"email": "member@acme.test"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resetToken := env.Mailer.ResetToken(t, "member@acme.test")

	w = env.Request(http.MethodGet, "/api/auth/password/verify?token="+resetToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var status struct {
		Valid bool   `json:"valid"`
		Email string `json:"email"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &status)
	require.True(t, status.Valid)
	require.Equal(t, "member@acme.test", status.Email)

	const newPassword = "N3wMemberPassword"
	w = env.Request(http.MethodPost, "/api/auth/password/reset", map[string]string{"token": resetToken, "new_password": newPassword}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodPost, "/api/auth/refresh", nil, "", member.RefreshCookie)
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/auth/password/verify?token="+resetToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &status)
	require.False(t, status.Valid)

	expectError(t, env, http.MethodPost, "/api/auth/password/reset",
		map[string]string{"token": resetToken, "new_password": "An0therPassword"}, "",
		http.StatusBadRequest, "RESET_TOKEN_ALREADY_USED")

	expectError(t, env, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "member@acme.test", "password": memberPassword}, "",
		http.StatusUnauthorized, "INVALID_CREDENTIALS")
	env.Login("member@acme.test", newPassword)
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateSystemAdmin("admin@taskhive.test", adminPassword)
	session := env.Login("admin@taskhive.test", adminPassword)

	w := env.Request(http.MethodPost, "/api/auth/refresh", nil, "", session.RefreshCookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	successor := testutil.RefreshCookie(w)
	require.NotNil(t, successor)

	// Replaying the consumed token is treated as theft.
	w = env.Request(http.MethodPost, "/api/auth/refresh", nil, "", session.RefreshCookie)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, "TOKEN_REUSE_DETECTED", resp.Error.Code)
	require.NotNil(t, testutil.RefreshCookie(w))

	// The legitimate successor was revoked with the family.
	w = env.Request(http.MethodPost, "/api/auth/refresh", nil, "", successor)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Body fallback is accepted when no cookie is sent.
	fresh := env.Login("admin@taskhive.test", adminPassword)
	w = env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": fresh.RefreshCookie.Value}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestLoginDoesNotRevealUnknownEmails(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateSystemAdmin("admin@taskhive.test", adminPassword)

	unknown := env.Request(http.MethodPost, "/api/auth/login", map[string]string{"email": "nobody@taskhive.test", "password": adminPassword}, "")
	wrong := env.Request(http.MethodPost, "/api/auth/login", map[string]string{"email": "admin@taskhive.test", "password": "Wr0ngPassword"}, "")

	require.Equal(t, http.StatusUnauthorized, unknown.Code)
	require.Equal(t, unknown.Code, wrong.Code)
	require.JSONEq(t, unknown.Body.String(), wrong.Body.String())

	w := env.Request(http.MethodPost, "/api/auth/password/forgot", map[string]string{"email": "nobody@taskhive.test"}, "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRequestValidation(t *testing.T) {
	env := testutil.NewEnv(t)

	expectError(t, env, http.MethodPost, "/api/auth/login", map[string]string{"email": "not-an-email"}, "", http.StatusBadRequest, "VALIDATION_ERROR")
	expectError(t, env, http.MethodPost, "/api/auth/register/company", map[string]any{
		"manager": map[string]string{"email": "weak@acme.test", "password": "weak", "name": "Weak"},
		"company": map[string]string{"name": "Weak Co"},
	}, "", http.StatusBadRequest, "VALIDATION_ERROR")
	expectError(t, env, http.MethodGet, "/api/auth/password/verify", nil, "", http.StatusBadRequest, "VALIDATION_ERROR")
	expectError(t, env, http.MethodGet, "/api/does-not-exist", nil, "", http.StatusNotFound, "NOT_FOUND")
}

func TestHealthAndMetrics(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	w = env.Request(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "taskhive_api_latency_seconds")
}
