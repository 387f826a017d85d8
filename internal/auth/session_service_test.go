package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	testutil "github.com/taskhive/taskhive/internal/database/testutil"
	"github.com/taskhive/taskhive/internal/models"
	"github.com/taskhive/taskhive/pkg/crypto"
	"github.com/taskhive/taskhive/pkg/mail"
	"github.com/taskhive/taskhive/pkg/validator"
)

const testPassword = "Passw0rdOK"

type sessionFixture struct {
	db     *gorm.DB
	svc    *SessionService
	tokens *GormTokenStore
	clock  *testClock
	mailer *captureMailer
	audit  *captureAudit
}

func setupSessionService(t *testing.T) *sessionFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()

	users, err := NewGormUserStore(db)
	require.NoError(t, err)
	tokens, err := NewGormTokenStore(db, clock.Now)
	require.NoError(t, err)

	mailer := &captureMailer{}
	audit := &captureAudit{}
	svc, err := NewSessionService(users, tokens, newTestCodec(t, clock), mailer, SessionConfig{
		FrontendURL: "https://app.example.com",
		Clock:       clock.Now,
		Audit:       audit,
	})
	require.NoError(t, err)
	mailer.wait = svc.WaitForMail

	return &sessionFixture{db: db, svc: svc, tokens: tokens, clock: clock, mailer: mailer, audit: audit}
}

func createTestUser(t *testing.T, db *gorm.DB, email string, status models.Status) *models.User {
	t.Helper()

	hash, err := crypto.HashPassword(testPassword)
	require.NoError(t, err)

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         "Test User",
		Role:         models.RoleTeamMember,
		Status:       status,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestLoginIssuesTokenPair(t *testing.T) {
	f := setupSessionService(t)
	user := createTestUser(t, f.db, "jane@example.com", models.StatusActive)

	result, err := f.svc.Login(context.Background(), "  Jane@Example.com ", testPassword, ClientInfo{Device: "laptop"})
	require.NoError(t, err)
	require.Equal(t, user.ID, result.User.ID)
	require.Empty(t, result.User.PasswordHash)
	require.NotNil(t, result.User.LastLoginAt)

	claims, err := f.svc.Codec().VerifyAccessToken(result.Tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.Subject)

	row, err := f.tokens.FindRefreshToken(context.Background(), result.Tokens.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, row.UserID)
	require.Equal(t, "laptop", row.DeviceInfo)

	require.Equal(t, AuditActionLogin, f.audit.last().Action)
	require.Equal(t, "success", f.audit.last().Result)
}

func TestLoginFailures(t *testing.T) {
	f := setupSessionService(t)
	createTestUser(t, f.db, "active@example.com", models.StatusActive)
	createTestUser(t, f.db, "pending@example.com", models.StatusPending)
	createTestUser(t, f.db, "inactive@example.com", models.StatusInactive)
	createTestUser(t, f.db, "rejected@example.com", models.StatusRejected)
	ctx := context.Background()

	cases := []struct {
		email    string
		password string
		want     error
	}{
		{"missing@example.com", testPassword, ErrInvalidCredentials},
		{"active@example.com", "WrongPass1", ErrInvalidCredentials},
		{"pending@example.com", "WrongPass1", ErrInvalidCredentials},
		{"pending@example.com", testPassword, ErrAccountPending},
		{"inactive@example.com", testPassword, ErrAccountInactive},
		{"rejected@example.com", testPassword, ErrAccountInactive},
	}
	for _, tc := range cases {
		_, err := f.svc.Login(ctx, tc.email, tc.password, ClientInfo{})
		require.ErrorIs(t, err, tc.want, tc.email)
	}

	var count int64
	require.NoError(t, f.db.Model(&models.RefreshToken{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestRefreshRotatesWithinFamily(t *testing.T) {
	f := setupSessionService(t)
	createTestUser(t, f.db, "jane@example.com", models.StatusActive)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "jane@example.com", testPassword, ClientInfo{})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	pair, err := f.svc.Refresh(ctx, login.Tokens.RefreshToken, ClientInfo{})
	require.NoError(t, err)
	require.NotEqual(t, login.Tokens.RefreshToken, pair.RefreshToken)
	require.NotEqual(t, login.Tokens.AccessToken, pair.AccessToken)

	first, err := f.svc.Codec().VerifyRefreshToken(login.Tokens.RefreshToken)
	require.NoError(t, err)
	second, err := f.svc.Codec().VerifyRefreshToken(pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, first.TokenFamily, second.TokenFamily)

	family, err := f.tokens.FindTokensByFamily(ctx, first.TokenFamily)
	require.NoError(t, err)
	require.Len(t, family, 2)
	require.Nil(t, family[0].RevokedAt)
	require.NotNil(t, family[1].RevokedAt)
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	f := setupSessionService(t)
	user := createTestUser(t, f.db, "jane@example.com", models.StatusActive)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "jane@example.com", testPassword, ClientInfo{})
	require.NoError(t, err)
	other, err := f.svc.Login(ctx, "jane@example.com", testPassword, ClientInfo{})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	rotated, err := f.svc.Refresh(ctx, login.Tokens.RefreshToken, ClientInfo{})
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, login.Tokens.RefreshToken, ClientInfo{})
	require.ErrorIs(t, err, ErrTokenReuseDetected)

	_, err = f.svc.Refresh(ctx, rotated.RefreshToken, ClientInfo{})
	require.ErrorIs(t, err, ErrTokenReuseDetected)

	_, err = f.svc.Refresh(ctx, other.Tokens.RefreshToken, ClientInfo{})
	require.NoError(t, err, "other families are unaffected")

	event := f.audit.find(AuditActionRefreshReuse)
	require.NotNil(t, event)
	require.Equal(t, user.ID, event.ActorID)
}

func TestRefreshConcurrentPresentationsSucceedOnce(t *testing.T) {
	f := setupSessionService(t)
	createTestUser(t, f.db, "jane@example.com", models.StatusActive)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "jane@example.com", testPassword, ClientInfo{})
	require.NoError(t, err)

	const workers = 5
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		reuses    int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(ctx, login.Tokens.RefreshToken, ClientInfo{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrTokenReuseDetected):
				reuses++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Equal(t, workers-1, reuses)
}

func TestRefreshRejectsExpiredAndInactive(t *testing.T) {
	f := setupSessionService(t)
	user := createTestUser(t, f.db, "jane@example.com", models.StatusActive)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "jane@example.com", testPassword, ClientInfo{})
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", user.ID).Update("status", models.StatusInactive).Error)
	_, err = f.svc.Refresh(ctx, login.Tokens.RefreshToken, ClientInfo{})
	require.ErrorIs(t, err, ErrAccountInactive)

	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", user.ID).Update("status", models.StatusActive).Error)
	f.clock.Advance(DefaultRefreshTokenTTL + time.Second)
	_, err = f.svc.Refresh(ctx, login.Tokens.RefreshToken, ClientInfo{})
	require.ErrorIs(t, err, ErrTokenExpired)

	_, err = f.svc.Refresh(ctx, "garbage", ClientInfo{})
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestLogoutBlacklistsAccessAndRevokesRefresh(t *testing.T) {
	f := setupSessionService(t)
	user := createTestUser(t, f.db, "jane@example.com", models.StatusActive)
	ctx := context.Background()

	first, err := f.svc.Login(ctx, "jane@example.com", testPassword, ClientInfo{})
	require.NoError(t, err)
	second, err := f.svc.Login(ctx, "jane@example.com", testPassword, ClientInfo{})
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, LogoutInput{
		UserID:       user.ID,
		AccessToken:  first.Tokens.AccessToken,
		RefreshToken: first.Tokens.RefreshToken,
	}))

	claims, err := f.svc.Codec().VerifyAccessToken(first.Tokens.AccessToken)
	require.NoError(t, err)
	listed, err := f.tokens.IsBlacklisted(ctx, claims.ID)
	require.NoError(t, err)
	require.True(t, listed)

	_, err = f.tokens.FindRefreshToken(ctx, first.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrTokenNotFound)
	_, err = f.tokens.FindRefreshToken(ctx, second.Tokens.RefreshToken)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, LogoutInput{UserID: user.ID, AccessToken: second.Tokens.AccessToken, AllDevices: true}))
	_, err = f.tokens.FindRefreshToken(ctx, second.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestLogoutIgnoresForeignRefreshToken(t *testing.T) {
	f := setupSessionService(t)
	jane := createTestUser(t, f.db, "jane@example.com", models.StatusActive)
	createTestUser(t, f.db, "john@example.com", models.StatusActive)
	ctx := context.Background()

	john, err := f.svc.Login(ctx, "john@example.com", testPassword, ClientInfo{})
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, LogoutInput{UserID: jane.ID, RefreshToken: john.Tokens.RefreshToken}))
	_, err = f.tokens.FindRefreshToken(ctx, john.Tokens.RefreshToken)
	require.NoError(t, err)
}

func TestForgotPasswordDoesNotRevealAccounts(t *testing.T) {
	f := setupSessionService(t)
	createTestUser(t, f.db, "pending@example.com", models.StatusPending)
	ctx := context.Background()

	require.NoError(t, f.svc.ForgotPassword(ctx, "missing@example.com", ClientInfo{}))
	require.NoError(t, f.svc.ForgotPassword(ctx, "pending@example.com", ClientInfo{}))
	f.svc.WaitForMail()
	require.Empty(t, f.mailer.sent())

	var count int64
	require.NoError(t, f.db.Model(&models.PasswordResetToken{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestPasswordResetFlow(t *testing.T) {
	f := setupSessionService(t)
	user := createTestUser(t, f.db, "jane@example.com", models.StatusActive)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "jane@example.com", testPassword, ClientInfo{})
	require.NoError(t, err)

	require.NoError(t, f.svc.ForgotPassword(ctx, "jane@example.com", ClientInfo{}))
	token := f.mailer.resetToken(t)

	status, err := f.svc.VerifyResetToken(ctx, token)
	require.NoError(t, err)
	require.True(t, status.Valid)
	require.Equal(t, "jane@example.com", status.Email)

	err = f.svc.ResetPassword(ctx, token, "weak", ClientInfo{})
	require.ErrorIs(t, err, validator.ErrWeakPassword)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.svc.ResetPassword(ctx, token, "N3wPassword", ClientInfo{}))

	err = f.svc.ResetPassword(ctx, token, "An0therPassword", ClientInfo{})
	require.ErrorIs(t, err, ErrResetTokenAlreadyUsed)

	status, err = f.svc.VerifyResetToken(ctx, token)
	require.NoError(t, err)
	require.False(t, status.Valid)

	_, err = f.svc.Refresh(ctx, login.Tokens.RefreshToken, ClientInfo{})
	require.ErrorIs(t, err, ErrTokenReuseDetected)

	_, err = f.svc.Login(ctx, "jane@example.com", testPassword, ClientInfo{})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "jane@example.com", "N3wPassword", ClientInfo{})
	require.NoError(t, err)

	var stored models.User
	require.NoError(t, f.db.Take(&stored, "id = ?", user.ID).Error)
	require.NotNil(t, stored.TokensValidAfter)
	require.True(t, stored.TokensValidAfter.Equal(f.clock.Now()))

	var revoked models.RefreshToken
	require.NoError(t, f.db.Take(&revoked, "token_hash = ?", crypto.HashToken(login.Tokens.RefreshToken)).Error)
	require.Equal(t, models.RevokePasswordReset, *revoked.RevokedReason)
}

func TestResetPasswordRejectsExpiredToken(t *testing.T) {
	f := setupSessionService(t)
	createTestUser(t, f.db, "jane@example.com", models.StatusActive)
	ctx := context.Background()

	require.NoError(t, f.svc.ForgotPassword(ctx, "jane@example.com", ClientInfo{}))
	token := f.mailer.resetToken(t)

	f.clock.Advance(DefaultResetTokenTTL + time.Second)
	err := f.svc.ResetPassword(ctx, token, "N3wPassword", ClientInfo{})
	require.ErrorIs(t, err, ErrTokenExpired)

	err = f.svc.ResetPassword(ctx, "garbage", "N3wPassword", ClientInfo{})
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestForgotPasswordReturnsBeforeDelivery(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()
	users, err := NewGormUserStore(db)
	require.NoError(t, err)
	tokens, err := NewGormTokenStore(db, clock.Now)
	require.NoError(t, err)

	mailer := &blockingMailer{entered: make(chan struct{}, 1), release: make(chan struct{})}
	svc, err := NewSessionService(users, tokens, newTestCodec(t, clock), mailer, SessionConfig{
		FrontendURL: "https://app.example.com",
		Clock:       clock.Now,
	})
	require.NoError(t, err)
	createTestUser(t, db, "jane@example.com", models.StatusActive)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.ForgotPassword(ctx, "jane@example.com", ClientInfo{}))
	cancel()

	select {
	case <-mailer.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("reset email was never handed to the mailer")
	}
	require.Empty(t, mailer.sent())

	close(mailer.release)
	svc.WaitForMail()
	require.Len(t, mailer.sent(), 1)
	require.Equal(t, []string{"jane@example.com"}, mailer.sent()[0].To)
}

func TestResetPasswordKeepsTokenWhenUpdateFails(t *testing.T) {
	f := setupSessionService(t)
	createTestUser(t, f.db, "jane@example.com", models.StatusActive)
	ctx := context.Background()

	require.NoError(t, f.svc.ForgotPassword(ctx, "jane@example.com", ClientInfo{}))
	token := f.mailer.resetToken(t)

	users, err := NewGormUserStore(f.db)
	require.NoError(t, err)
	broken, err := NewSessionService(failingPasswordStore{UserStore: users}, f.tokens, f.svc.Codec(), f.mailer, SessionConfig{
		FrontendURL: "https://app.example.com",
		Clock:       f.clock.Now,
	})
	require.NoError(t, err)

	require.Error(t, broken.ResetPassword(ctx, token, "N3wPassword", ClientInfo{}))

	status, err := f.svc.VerifyResetToken(ctx, token)
	require.NoError(t, err)
	require.True(t, status.Valid)

	require.NoError(t, f.svc.ResetPassword(ctx, token, "N3wPassword", ClientInfo{}))
	_, err = f.svc.Login(ctx, "jane@example.com", "N3wPassword", ClientInfo{})
	require.NoError(t, err)
}

type captureMailer struct {
	mu       sync.Mutex
	messages []mail.Message
	wait     func()
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *captureMailer) sent() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.messages...)
}

func (m *captureMailer) resetToken(t *testing.T) string {
	t.Helper()

	if m.wait != nil {
		m.wait()
	}
	msgs := m.sent()
	require.NotEmpty(t, msgs)
	for _, line := range strings.Split(msgs[len(msgs)-1].Body, "\r\n") {
		if !strings.Contains(line, "/reset-password?") {
			continue
		}
		link, err := url.Parse(strings.TrimSpace(line))
		require.NoError(t, err)
		return link.Query().Get("token")
	}
	t.Fatal("reset link not found in email body")
	return ""
}

// blockingMailer holds every Send until release is closed.
type blockingMailer struct {
	captureMailer
	entered chan struct{}
	release chan struct{}
}

func (m *blockingMailer) Send(ctx context.Context, msg mail.Message) error {
	m.entered <- struct{}{}
	<-m.release
	return m.captureMailer.Send(ctx, msg)
}

// failingPasswordStore rejects password updates and delegates everything else.
type failingPasswordStore struct {
	UserStore
}

func (failingPasswordStore) UpdatePassword(context.Context, string, string, time.Time) error {
	return errors.New("database is read-only")
}

type captureAudit struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *captureAudit) Record(_ context.Context, event AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *captureAudit) last() AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.events[len(a.events)-1]
}

func (a *captureAudit) find(action string) *AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.events {
		if a.events[i].Action == action {
			return &a.events[i]
		}
	}
	return nil
}
