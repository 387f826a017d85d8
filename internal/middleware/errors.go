package middleware

import (
	"errors"

	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/permissions"
	"github.com/taskhive/taskhive/internal/services"
	apperrors "github.com/taskhive/taskhive/pkg/errors"
	"github.com/taskhive/taskhive/pkg/validator"
)

var domainErrors = []struct {
	err    error
	appErr *apperrors.AppError
}{
	{auth.ErrInvalidCredentials, apperrors.ErrInvalidCredentials},
	{auth.ErrAccountPending, apperrors.ErrAccountPending},
	{auth.ErrAccountInactive, apperrors.ErrAccountInactive},
	{auth.ErrTokenExpired, apperrors.ErrTokenExpired},
	{auth.ErrTokenInvalid, apperrors.ErrTokenInvalid},
	{auth.ErrTokenRevoked, apperrors.ErrUnauthorized},
	{auth.ErrTokenReuseDetected, apperrors.ErrTokenReuseDetected},
	{auth.ErrWrongTokenPurpose, apperrors.ErrWrongTokenPurpose},
	{auth.ErrResetTokenAlreadyUsed, apperrors.ErrResetTokenAlreadyUsed},
	{permissions.ErrAuthorizationDenied, apperrors.ErrForbidden},
	{services.ErrDuplicateEmail, apperrors.ErrDuplicateEmail},
	{services.ErrInvalidInvitationCode, apperrors.ErrInvalidInvitationCode},
	{services.ErrCompanyNotFound, apperrors.ErrNotFound},
	{services.ErrUserNotFound, apperrors.ErrNotFound},
	{services.ErrInvalidTransition, apperrors.ErrConflict},
}

// TranslateError maps domain errors onto the API error taxonomy.
// Anything unrecognised becomes an internal error whose cause is kept for logging only.
func TranslateError(err error) *apperrors.AppError {
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	for _, m := range domainErrors {
		if errors.Is(err, m.err) {
			return m.appErr
		}
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return apperrors.NewValidation("Invalid request").WithDetails(verrs)
	}
	if errors.Is(err, validator.ErrWeakPassword) {
		return apperrors.NewValidation(err.Error())
	}

	return apperrors.ErrInternalServer.WithInternal(err)
}
