package auth

import "errors"

var (
	// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrAccountPending marks an account that has not been approved yet.
	ErrAccountPending = errors.New("auth: account pending approval")
	// ErrAccountInactive marks a deactivated or rejected account.
	ErrAccountInactive = errors.New("auth: account inactive")

	// ErrTokenExpired signals a correctly signed token past its exp claim.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid covers signature, algorithm and shape failures.
	ErrTokenInvalid = errors.New("auth: token invalid")
	// ErrWrongTokenPurpose is returned when a reset token carries an unexpected purpose claim.
	ErrWrongTokenPurpose = errors.New("auth: wrong token purpose")
	// ErrTokenRevoked marks a well-formed access token that was blacklisted or predates a password reset.
	ErrTokenRevoked = errors.New("auth: token revoked")
	// ErrTokenReuseDetected is returned after a rotated refresh token was presented again.
	// The whole token family has been revoked by the time the caller sees it.
	ErrTokenReuseDetected = errors.New("auth: refresh token reuse detected")
	// ErrResetTokenAlreadyUsed marks a reset token that was consumed or superseded.
	ErrResetTokenAlreadyUsed = errors.New("auth: reset token already used")

	// ErrTokenNotFound is returned by TokenStore lookups that match no live row.
	ErrTokenNotFound = errors.New("token store: token not found")
	// ErrUserNotFound is returned by UserStore lookups.
	ErrUserNotFound = errors.New("user store: user not found")
)
