package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskhive/taskhive/internal/models"
	"github.com/taskhive/taskhive/pkg/crypto"
	"github.com/taskhive/taskhive/pkg/logger"
	"github.com/taskhive/taskhive/pkg/mail"
	"github.com/taskhive/taskhive/pkg/metrics"
	"github.com/taskhive/taskhive/pkg/validator"
)

// Audit actions emitted by the session engine.
const (
	AuditActionLogin         = "auth.login"
	AuditActionLogout        = "auth.logout"
	AuditActionRefreshReuse  = "auth.refresh.reuse_detected"
	AuditActionResetRequest  = "auth.password_reset.requested"
	AuditActionResetComplete = "auth.password_reset.completed"
)

// AuditEvent describes a security-relevant event for the audit trail.
type AuditEvent struct {
	ActorID   string
	Action    string
	Result    string
	IPAddress string
	UserAgent string
	Metadata  map[string]any
}

// AuditRecorder receives audit events. Implementations must not block the caller on failure.
type AuditRecorder interface {
	Record(ctx context.Context, event AuditEvent)
}

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	PasswordMinLength int
	FrontendURL       string
	Clock             func() time.Time
	Audit             AuditRecorder
}

// ClientInfo captures contextual information about the caller.
type ClientInfo struct {
	IPAddress string
	UserAgent string
	Device    string
}

// TokenPair represents an access token and refresh token pair.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Tokens TokenPair
	User   *models.User
}

// LogoutInput identifies what a logout should revoke.
type LogoutInput struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	AllDevices   bool
	Client       ClientInfo
}

// SessionService implements login, refresh rotation, logout and the password reset flow.
type SessionService struct {
	users  UserStore
	tokens TokenStore
	codec  *TokenCodec
	mailer mail.Mailer
	audit  AuditRecorder

	minPasswordLength int
	frontendURL       string
	now               func() time.Time
	log               *zap.Logger

	mailWG sync.WaitGroup
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// timingHash returns a bcrypt hash used to keep failed lookups as slow as real verifications.
func timingHash() string {
	dummyHashOnce.Do(func() {
		dummyHash, _ = crypto.HashPassword("taskhive-timing-equaliser")
	})
	return dummyHash
}

// NewSessionService wires the session engine to its stores and codec.
func NewSessionService(users UserStore, tokens TokenStore, codec *TokenCodec, mailer mail.Mailer, cfg SessionConfig) (*SessionService, error) {
	if users == nil {
		return nil, errors.New("session service: user store is required")
	}
	if tokens == nil {
		return nil, errors.New("session service: token store is required")
	}
	if codec == nil {
		return nil, errors.New("session service: token codec is required")
	}
	if mailer == nil {
		mailer = mail.NewLogMailer()
	}

	minLength := cfg.PasswordMinLength
	if minLength <= 0 {
		minLength = validator.DefaultPasswordMinLength
	}

	clock := func() time.Time { return time.Now().UTC() }
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		users:             users,
		tokens:            tokens,
		codec:             codec,
		mailer:            mailer,
		audit:             cfg.Audit,
		minPasswordLength: minLength,
		frontendURL:       cfg.FrontendURL,
		now:               clock,
		log:               logger.WithModule("auth"),
	}, nil
}

// Codec exposes the token codec used by the engine.
func (s *SessionService) Codec() *TokenCodec { return s.codec }

// Login verifies credentials and starts a new token family.
// Unknown emails and wrong passwords produce the same error after comparable work.
func (s *SessionService) Login(ctx context.Context, email, password string, client ClientInfo) (*LoginResult, error) {
	user, err := s.users.FindByEmailWithPassword(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			crypto.VerifyPassword(timingHash(), password)
			s.recordLogin(ctx, "", "invalid_credentials", client)
			return nil, ErrInvalidCredentials
		}
		metrics.AuthAttempts.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("session service: load user: %w", err)
	}

	if !crypto.VerifyPassword(user.PasswordHash, password) {
		s.recordLogin(ctx, user.ID, "invalid_credentials", client)
		return nil, ErrInvalidCredentials
	}

	if err := StatusError(user.Status); err != nil {
		result := "inactive"
		if errors.Is(err, ErrAccountPending) {
			result = "pending"
		}
		s.recordLogin(ctx, user.ID, result, client)
		return nil, err
	}

	pair, err := s.issuePair(ctx, user, "", client.Device)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("error").Inc()
		return nil, err
	}

	now := s.now()
	if err := s.users.RecordLogin(ctx, user.ID, now); err != nil {
		s.log.Warn("failed to record last login", zap.String("user_id", user.ID), zap.Error(err))
	}
	user.LastLoginAt = &now
	user.PasswordHash = ""

	s.recordLogin(ctx, user.ID, "success", client)
	return &LoginResult{Tokens: pair, User: user}, nil
}

// Refresh rotates a refresh token. A validly signed token that is no longer live
// is treated as reuse: its whole family is revoked and ErrTokenReuseDetected returned.
func (s *SessionService) Refresh(ctx context.Context, rawRefresh string, client ClientInfo) (TokenPair, error) {
	claims, err := s.codec.VerifyRefreshToken(rawRefresh)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			metrics.TokenRefreshes.WithLabelValues("expired").Inc()
		} else {
			metrics.TokenRefreshes.WithLabelValues("invalid").Inc()
		}
		return TokenPair{}, err
	}

	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			metrics.TokenRefreshes.WithLabelValues("invalid").Inc()
			return TokenPair{}, ErrTokenInvalid
		}
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return TokenPair{}, fmt.Errorf("session service: load user: %w", err)
	}
	if err := StatusError(user.Status); err != nil {
		metrics.TokenRefreshes.WithLabelValues("invalid").Inc()
		return TokenPair{}, err
	}

	access, err := s.codec.IssueAccessToken(AccessTokenInputFor(user))
	if err != nil {
		return TokenPair{}, fmt.Errorf("session service: issue access token: %w", err)
	}
	refresh, err := s.codec.IssueRefreshToken(user.ID, claims.TokenFamily)
	if err != nil {
		return TokenPair{}, fmt.Errorf("session service: issue refresh token: %w", err)
	}

	_, err = s.tokens.RotateRefreshToken(ctx, rawRefresh, RefreshTokenRecord{
		UserID:      user.ID,
		Raw:         refresh.Raw,
		JTI:         refresh.JTI,
		TokenFamily: claims.TokenFamily,
		DeviceInfo:  client.Device,
		ExpiresAt:   refresh.ExpiresAt,
	})
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return TokenPair{}, s.handleReuse(ctx, claims, client)
		}
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return TokenPair{}, err
	}

	metrics.TokenRefreshes.WithLabelValues("rotated").Inc()
	return TokenPair{
		AccessToken:      access.Raw,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh.Raw,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

func (s *SessionService) handleReuse(ctx context.Context, claims *RefreshClaims, client ClientInfo) error {
	revoked, err := s.tokens.InvalidateTokenFamily(ctx, claims.TokenFamily)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return fmt.Errorf("session service: revoke token family: %w", err)
	}

	metrics.TokenRefreshes.WithLabelValues("reuse_detected").Inc()
	metrics.TokenFamiliesRevoked.Inc()
	logger.Security("refresh_token_reuse",
		zap.String("user_id", claims.Subject),
		zap.String("token_family", claims.TokenFamily),
		zap.Int64("revoked", revoked),
		zap.String("ip", client.IPAddress),
	)
	s.record(ctx, AuditEvent{
		ActorID:   claims.Subject,
		Action:    AuditActionRefreshReuse,
		Result:    "revoked",
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		Metadata:  map[string]any{"token_family": claims.TokenFamily, "revoked": revoked},
	})
	return ErrTokenReuseDetected
}

// Logout blacklists the presented access token and revokes the refresh token,
// or every refresh token of the user when AllDevices is set.
func (s *SessionService) Logout(ctx context.Context, in LogoutInput) error {
	if strings.TrimSpace(in.UserID) == "" {
		return errors.New("session service: user id is required")
	}

	if err := s.blacklistAccessToken(ctx, in.UserID, in.AccessToken, "logout"); err != nil {
		return err
	}

	scope := "device"
	if in.AllDevices {
		scope = "all"
		if _, err := s.tokens.InvalidateUserTokens(ctx, in.UserID, models.RevokeUserLogout); err != nil {
			return fmt.Errorf("session service: revoke user tokens: %w", err)
		}
	} else if raw := strings.TrimSpace(in.RefreshToken); raw != "" {
		row, err := s.tokens.FindRefreshToken(ctx, raw)
		switch {
		case errors.Is(err, ErrTokenNotFound):
		case err != nil:
			return fmt.Errorf("session service: find refresh token: %w", err)
		case row.UserID == in.UserID:
			if err := s.tokens.InvalidateToken(ctx, raw); err != nil {
				return fmt.Errorf("session service: revoke refresh token: %w", err)
			}
		}
	}

	s.record(ctx, AuditEvent{
		ActorID:   in.UserID,
		Action:    AuditActionLogout,
		Result:    "success",
		IPAddress: in.Client.IPAddress,
		UserAgent: in.Client.UserAgent,
		Metadata:  map[string]any{"scope": scope},
	})
	return nil
}

func (s *SessionService) blacklistAccessToken(ctx context.Context, userID, raw, reason string) error {
	claims, ok := s.codec.DecodeUnsafe(raw)
	if !ok || claims.ID == "" || claims.ExpiresAt == nil || claims.Subject != userID {
		return nil
	}
	if !claims.ExpiresAt.After(s.now()) {
		return nil
	}

	if err := s.tokens.AddToBlacklist(ctx, BlacklistEntry{
		JTI:       claims.ID,
		TokenType: models.TokenTypeAccess,
		UserID:    userID,
		ExpiresAt: claims.ExpiresAt.Time,
		Reason:    reason,
	}); err != nil {
		return fmt.Errorf("session service: blacklist access token: %w", err)
	}
	return nil
}

func (s *SessionService) issuePair(ctx context.Context, user *models.User, family, device string) (TokenPair, error) {
	access, err := s.codec.IssueAccessToken(AccessTokenInputFor(user))
	if err != nil {
		return TokenPair{}, fmt.Errorf("session service: issue access token: %w", err)
	}
	refresh, err := s.codec.IssueRefreshToken(user.ID, family)
	if err != nil {
		return TokenPair{}, fmt.Errorf("session service: issue refresh token: %w", err)
	}

	if _, err := s.tokens.SaveRefreshToken(ctx, RefreshTokenRecord{
		UserID:      user.ID,
		Raw:         refresh.Raw,
		JTI:         refresh.JTI,
		TokenFamily: refresh.TokenFamily,
		DeviceInfo:  device,
		ExpiresAt:   refresh.ExpiresAt,
	}); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access.Raw,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh.Raw,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

func (s *SessionService) recordLogin(ctx context.Context, userID, result string, client ClientInfo) {
	metrics.AuthAttempts.WithLabelValues(result).Inc()
	if result != "success" {
		logger.Security("login_failed",
			zap.String("user_id", userID),
			zap.String("reason", result),
			zap.String("ip", client.IPAddress),
		)
	}
	s.record(ctx, AuditEvent{
		ActorID:   userID,
		Action:    AuditActionLogin,
		Result:    result,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	})
}

func (s *SessionService) record(ctx context.Context, event AuditEvent) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, event)
}

// StatusError maps a non-active account status to the error reported to callers.
func StatusError(status models.Status) error {
	switch status {
	case models.StatusActive:
		return nil
	case models.StatusPending:
		return ErrAccountPending
	default:
		return ErrAccountInactive
	}
}

