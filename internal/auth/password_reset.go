package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taskhive/taskhive/internal/models"
	"github.com/taskhive/taskhive/pkg/crypto"
	"github.com/taskhive/taskhive/pkg/logger"
	"github.com/taskhive/taskhive/pkg/mail"
	"github.com/taskhive/taskhive/pkg/metrics"
	"github.com/taskhive/taskhive/pkg/validator"
)

const revokeAttempts = 3

// ResetTokenStatus is the outcome of VerifyResetToken.
type ResetTokenStatus struct {
	Valid bool
	Email string
}

// ForgotPassword issues a reset token and emails it when email belongs to an active account.
// The outcome is never revealed to the caller. Token persistence and delivery run in the
// background so the response time does not depend on whether the account exists.
func (s *SessionService) ForgotPassword(ctx context.Context, email string, client ClientInfo) error {
	user, err := s.users.FindByEmailWithPassword(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			metrics.PasswordResets.WithLabelValues("request", "unknown").Inc()
			return nil
		}
		return fmt.Errorf("session service: load user: %w", err)
	}
	if user.Status != models.StatusActive {
		metrics.PasswordResets.WithLabelValues("request", "inactive").Inc()
		return nil
	}

	bg := context.WithoutCancel(ctx)
	s.mailWG.Add(1)
	go func() {
		defer s.mailWG.Done()
		s.sendResetEmail(bg, user, client)
	}()
	return nil
}

// WaitForMail blocks until every reset email queued by ForgotPassword has been handled.
func (s *SessionService) WaitForMail() {
	s.mailWG.Wait()
}

func (s *SessionService) sendResetEmail(ctx context.Context, user *models.User, client ClientInfo) {
	token, err := s.codec.IssueResetToken(user.ID)
	if err != nil {
		s.log.Error("failed to issue password reset token", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	if _, err := s.tokens.SaveResetToken(ctx, ResetTokenRecord{
		UserID:    user.ID,
		Raw:       token.Raw,
		JTI:       token.JTI,
		ExpiresAt: token.ExpiresAt,
	}); err != nil {
		s.log.Error("failed to store password reset token", zap.String("user_id", user.ID), zap.Error(err))
		return
	}

	msg, err := mail.PasswordResetMessage(user.Email, s.frontendURL, token.Raw)
	if err == nil {
		err = s.mailer.Send(ctx, msg)
	}
	if err != nil {
		metrics.PasswordResets.WithLabelValues("request", "mail_failed").Inc()
		s.log.Error("failed to send password reset email", zap.String("user_id", user.ID), zap.Error(err))
		return
	}

	metrics.PasswordResets.WithLabelValues("request", "sent").Inc()
	s.record(ctx, AuditEvent{
		ActorID:   user.ID,
		Action:    AuditActionResetRequest,
		Result:    "sent",
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	})
}

// VerifyResetToken reports whether raw can still be used to reset a password.
// Token problems yield an invalid status; only infrastructure failures return an error.
func (s *SessionService) VerifyResetToken(ctx context.Context, raw string) (ResetTokenStatus, error) {
	user, err := s.checkResetToken(ctx, raw)
	if err != nil {
		if isResetTokenError(err) {
			return ResetTokenStatus{}, nil
		}
		return ResetTokenStatus{}, err
	}
	return ResetTokenStatus{Valid: true, Email: user.Email}, nil
}

// ResetPassword consumes a reset token, stores the new password hash and revokes every
// session of the user. Access tokens issued up to and including the second of the reset
// stop verifying at the gate. The token is claimed before the password changes, so two
// concurrent resets cannot both succeed; a failed update releases the claim.
func (s *SessionService) ResetPassword(ctx context.Context, raw, newPassword string, client ClientInfo) error {
	user, err := s.checkResetToken(ctx, raw)
	if err != nil {
		metrics.PasswordResets.WithLabelValues("complete", "invalid_token").Inc()
		return err
	}

	if err := validator.ValidatePassword(newPassword, s.minPasswordLength); err != nil {
		metrics.PasswordResets.WithLabelValues("complete", "weak_password").Inc()
		return err
	}

	hash, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("session service: hash password: %w", err)
	}

	if err := s.tokens.MarkResetTokenUsed(ctx, raw); err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			metrics.PasswordResets.WithLabelValues("complete", "already_used").Inc()
			return ErrResetTokenAlreadyUsed
		}
		return err
	}

	validAfter := s.now().Truncate(time.Second)
	if err := s.users.UpdatePassword(ctx, user.ID, hash, validAfter); err != nil {
		// Give the link back so the user can retry.
		if restoreErr := s.tokens.RestoreResetToken(ctx, raw); restoreErr != nil {
			s.log.Error("failed to restore password reset token", zap.String("user_id", user.ID), zap.Error(restoreErr))
		}
		return err
	}

	revoked, err := s.revokeAllWithRetry(ctx, user.ID)
	if err != nil {
		return err
	}

	metrics.PasswordResets.WithLabelValues("complete", "success").Inc()
	logger.Security("password_reset",
		zap.String("user_id", user.ID),
		zap.Int64("sessions_revoked", revoked),
		zap.String("ip", client.IPAddress),
	)
	s.record(ctx, AuditEvent{
		ActorID:   user.ID,
		Action:    AuditActionResetComplete,
		Result:    "success",
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		Metadata:  map[string]any{"sessions_revoked": revoked},
	})
	return nil
}

func (s *SessionService) revokeAllWithRetry(ctx context.Context, userID string) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < revokeAttempts; attempt++ {
		revoked, err := s.tokens.InvalidateUserTokens(ctx, userID, models.RevokePasswordReset)
		if err == nil {
			return revoked, nil
		}
		lastErr = err
		s.log.Warn("revoking sessions after password reset failed",
			zap.String("user_id", userID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	return 0, fmt.Errorf("session service: revoke sessions after reset: %w", lastErr)
}

// checkResetToken verifies signature, purpose and single use and resolves the owner.
func (s *SessionService) checkResetToken(ctx context.Context, raw string) (*models.User, error) {
	claims, err := s.codec.VerifyResetToken(raw)
	if err != nil {
		return nil, err
	}

	row, err := s.tokens.FindResetToken(ctx, raw)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, ErrResetTokenAlreadyUsed
		}
		return nil, err
	}
	if row.JTI != claims.ID || row.UserID != claims.Subject {
		return nil, ErrTokenInvalid
	}

	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	return user, nil
}

func isResetTokenError(err error) bool {
	return errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenInvalid) ||
		errors.Is(err, ErrWrongTokenPurpose) ||
		errors.Is(err, ErrResetTokenAlreadyUsed)
}
