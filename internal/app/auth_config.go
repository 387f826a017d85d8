package app

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/taskhive/taskhive/internal/auth"
)

// ValidateSecrets fails when a signing secret is missing or shared between token kinds.
func (c AuthConfig) ValidateSecrets() error {
	secrets := []struct {
		key   string
		value string
	}{
		{"auth.jwt.access_secret", c.JWT.AccessSecret},
		{"auth.jwt.refresh_secret", c.JWT.RefreshSecret},
		{"auth.jwt.reset_secret", c.JWT.ResetSecret},
	}

	var errs error
	seen := make(map[string]string, len(secrets))
	for _, s := range secrets {
		value := strings.TrimSpace(s.value)
		if value == "" {
			errs = multierr.Append(errs, fmt.Errorf("%s must be configured", s.key))
			continue
		}
		if other, ok := seen[value]; ok {
			errs = multierr.Append(errs, fmt.Errorf("%s must differ from %s", s.key, other))
			continue
		}
		seen[value] = s.key
	}
	return errs
}

// CodecConfig converts AuthConfig into the parameters expected by the token codec.
// Zero TTLs fall back to the codec defaults.
func (c AuthConfig) CodecConfig() auth.CodecConfig {
	return auth.CodecConfig{
		AccessSecret:    strings.TrimSpace(c.JWT.AccessSecret),
		RefreshSecret:   strings.TrimSpace(c.JWT.RefreshSecret),
		ResetSecret:     strings.TrimSpace(c.JWT.ResetSecret),
		Issuer:          strings.TrimSpace(c.JWT.Issuer),
		AccessTokenTTL:  c.JWT.AccessTTL,
		RefreshTokenTTL: c.JWT.RefreshTTL,
		ResetTokenTTL:   c.JWT.ResetTTL,
	}
}

// SessionConfig converts AuthConfig into SessionService parameters.
func (c Config) SessionConfig() auth.SessionConfig {
	return auth.SessionConfig{
		PasswordMinLength: c.Auth.Password.MinLength,
		FrontendURL:       strings.TrimSpace(c.Server.FrontendURL),
	}
}
