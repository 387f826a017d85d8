package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/taskhive/taskhive/internal/models"
)

const (
	// DefaultAccessTokenTTL is the fallback validity period for access tokens.
	DefaultAccessTokenTTL = 15 * time.Minute
	// DefaultRefreshTokenTTL is the fallback refresh token lifetime.
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
	// DefaultResetTokenTTL is the fallback password reset token lifetime.
	DefaultResetTokenTTL = time.Hour

	// PurposePasswordReset is the purpose claim carried by reset tokens.
	PurposePasswordReset = "password_reset"
)

// CodecConfig bundles the secrets and lifetimes of the three token kinds.
// Each kind is signed with its own secret so a token of one kind never verifies as another.
type CodecConfig struct {
	AccessSecret    string
	RefreshSecret   string
	ResetSecret     string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ResetTokenTTL   time.Duration
	Clock           func() time.Time
}

// AccessClaims are embedded in access tokens. Role and status are informational only;
// authorization decisions always use the stored user.
type AccessClaims struct {
	Email     string        `json:"email"`
	RoleID    models.Role   `json:"role_id"`
	CompanyID *string       `json:"company_id"`
	StatusID  models.Status `json:"status_id"`
	jwt.RegisteredClaims
}

// RefreshClaims are embedded in refresh tokens.
type RefreshClaims struct {
	TokenFamily string `json:"token_family"`
	jwt.RegisteredClaims
}

// ResetClaims are embedded in password reset tokens.
type ResetClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// UnverifiedClaims is the loosely typed view returned by DecodeUnsafe.
type UnverifiedClaims struct {
	TokenFamily string `json:"token_family,omitempty"`
	Purpose     string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// AccessTokenInput holds the user attributes copied into an access token.
type AccessTokenInput struct {
	UserID    string
	Email     string
	Role      models.Role
	CompanyID *string
	Status    models.Status
}

// AccessTokenInputFor builds the access token input from a stored user.
func AccessTokenInputFor(user *models.User) AccessTokenInput {
	return AccessTokenInput{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		CompanyID: user.CompanyID,
		Status:    user.Status,
	}
}

// IssuedToken is a freshly signed token with the metadata needed to persist it.
type IssuedToken struct {
	Raw         string
	JTI         string
	TokenFamily string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// TokenCodec issues and verifies access, refresh and reset tokens.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	resetSecret   []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	resetTTL      time.Duration
	now           func() time.Time
}

// NewTokenCodec validates the configuration and constructs a codec.
func NewTokenCodec(cfg CodecConfig) (*TokenCodec, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" || cfg.ResetSecret == "" {
		return nil, errors.New("token codec: access, refresh and reset secrets must be provided")
	}
	if cfg.AccessSecret == cfg.RefreshSecret || cfg.AccessSecret == cfg.ResetSecret || cfg.RefreshSecret == cfg.ResetSecret {
		return nil, errors.New("token codec: secrets must be distinct")
	}

	now := func() time.Time { return time.Now().UTC() }
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &TokenCodec{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		resetSecret:   []byte(cfg.ResetSecret),
		issuer:        cfg.Issuer,
		accessTTL:     orDuration(cfg.AccessTokenTTL, DefaultAccessTokenTTL),
		refreshTTL:    orDuration(cfg.RefreshTokenTTL, DefaultRefreshTokenTTL),
		resetTTL:      orDuration(cfg.ResetTokenTTL, DefaultResetTokenTTL),
		now:           now,
	}, nil
}

// AccessTokenTTL returns the configured access token lifetime.
func (c *TokenCodec) AccessTokenTTL() time.Duration { return c.accessTTL }

// RefreshTokenTTL returns the configured refresh token lifetime.
func (c *TokenCodec) RefreshTokenTTL() time.Duration { return c.refreshTTL }

// ResetTokenTTL returns the configured reset token lifetime.
func (c *TokenCodec) ResetTokenTTL() time.Duration { return c.resetTTL }

// IssueAccessToken signs a short-lived access token with a fresh jti.
func (c *TokenCodec) IssueAccessToken(input AccessTokenInput) (IssuedToken, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return IssuedToken{}, errors.New("token codec: user id is required")
	}

	registered := c.registered(input.UserID, c.accessTTL)
	claims := &AccessClaims{
		Email:            input.Email,
		RoleID:           input.Role,
		CompanyID:        input.CompanyID,
		StatusID:         input.Status,
		RegisteredClaims: registered,
	}

	raw, err := sign(claims, c.accessSecret)
	if err != nil {
		return IssuedToken{}, err
	}
	return issued(raw, registered, ""), nil
}

// IssueRefreshToken signs a refresh token. An empty family starts a new lineage.
func (c *TokenCodec) IssueRefreshToken(userID, tokenFamily string) (IssuedToken, error) {
	if strings.TrimSpace(userID) == "" {
		return IssuedToken{}, errors.New("token codec: user id is required")
	}
	if tokenFamily == "" {
		tokenFamily = uuid.NewString()
	}

	registered := c.registered(userID, c.refreshTTL)
	claims := &RefreshClaims{
		TokenFamily:      tokenFamily,
		RegisteredClaims: registered,
	}

	raw, err := sign(claims, c.refreshSecret)
	if err != nil {
		return IssuedToken{}, err
	}
	return issued(raw, registered, tokenFamily), nil
}

// IssueResetToken signs a single-purpose password reset token.
func (c *TokenCodec) IssueResetToken(userID string) (IssuedToken, error) {
	if strings.TrimSpace(userID) == "" {
		return IssuedToken{}, errors.New("token codec: user id is required")
	}

	registered := c.registered(userID, c.resetTTL)
	claims := &ResetClaims{
		Purpose:          PurposePasswordReset,
		RegisteredClaims: registered,
	}

	raw, err := sign(claims, c.resetSecret)
	if err != nil {
		return IssuedToken{}, err
	}
	return issued(raw, registered, ""), nil
}

// VerifyAccessToken checks signature and expiry of an access token.
func (c *TokenCodec) VerifyAccessToken(raw string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := c.parse(raw, &claims, c.accessSecret); err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", ErrTokenInvalid)
	}
	return &claims, nil
}

// VerifyRefreshToken checks signature and expiry of a refresh token.
func (c *TokenCodec) VerifyRefreshToken(raw string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := c.parse(raw, &claims, c.refreshSecret); err != nil {
		return nil, err
	}
	if claims.TokenFamily == "" {
		return nil, fmt.Errorf("%w: missing token family", ErrTokenInvalid)
	}
	return &claims, nil
}

// VerifyResetToken checks signature, expiry and purpose of a reset token.
func (c *TokenCodec) VerifyResetToken(raw string) (*ResetClaims, error) {
	var claims ResetClaims
	if err := c.parse(raw, &claims, c.resetSecret); err != nil {
		return nil, err
	}
	if claims.Purpose != PurposePasswordReset {
		return nil, ErrWrongTokenPurpose
	}
	return &claims, nil
}

// DecodeUnsafe parses claims without checking the signature or expiry.
// The result must only be used to locate records, never to grant access.
func (c *TokenCodec) DecodeUnsafe(raw string) (*UnverifiedClaims, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}

	var claims UnverifiedClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, false
	}
	return &claims, true
}

func (c *TokenCodec) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := c.now()
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (c *TokenCodec) parse(raw string, claims jwt.Claims, secret []byte) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	_, err := jwt.NewParser(opts...).ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	subject, _ := claims.GetSubject()
	if subject == "" {
		return fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return nil
}

func sign(claims jwt.Claims, secret []byte) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("token codec: sign token: %w", err)
	}
	return signed, nil
}

func issued(raw string, claims jwt.RegisteredClaims, family string) IssuedToken {
	return IssuedToken{
		Raw:         raw,
		JTI:         claims.ID,
		TokenFamily: family,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
	}
}

func orDuration(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}
