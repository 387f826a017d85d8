package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/taskhive/taskhive/internal/models"
	"github.com/taskhive/taskhive/pkg/crypto"
)

// RefreshTokenRecord describes a refresh token about to be persisted.
type RefreshTokenRecord struct {
	UserID      string
	Raw         string
	JTI         string
	TokenFamily string
	DeviceInfo  string
	ExpiresAt   time.Time
}

// ResetTokenRecord describes a password reset token about to be persisted.
type ResetTokenRecord struct {
	UserID    string
	Raw       string
	JTI       string
	ExpiresAt time.Time
}

// BlacklistEntry revokes a signed token by jti until ExpiresAt.
type BlacklistEntry struct {
	JTI       string
	TokenType models.TokenType
	UserID    string
	ExpiresAt time.Time
	Reason    string
}

// CleanupStats reports rows removed by CleanExpiredTokens.
type CleanupStats struct {
	RefreshTokens int64
	ResetTokens   int64
	Blacklist     int64
}

// Total returns the number of rows removed across all tables.
func (s CleanupStats) Total() int64 {
	return s.RefreshTokens + s.ResetTokens + s.Blacklist
}

// TokenStore persists refresh tokens, reset tokens and the access token blacklist.
// Raw tokens are accepted at the boundary and only their SHA-256 digests are stored.
type TokenStore interface {
	SaveRefreshToken(ctx context.Context, rec RefreshTokenRecord) (*models.RefreshToken, error)
	// FindRefreshToken returns the live row for raw or ErrTokenNotFound.
	FindRefreshToken(ctx context.Context, raw string) (*models.RefreshToken, error)
	// RotateRefreshToken atomically revokes the live row for raw and stores next in the same family.
	// It returns ErrTokenNotFound when raw is not live, so at most one concurrent caller succeeds.
	RotateRefreshToken(ctx context.Context, raw string, next RefreshTokenRecord) (*models.RefreshToken, error)
	InvalidateToken(ctx context.Context, raw string) error
	InvalidateUserTokens(ctx context.Context, userID string, reason models.RevokeReason) (int64, error)
	InvalidateTokenFamily(ctx context.Context, family string) (int64, error)
	// FindTokensByFamily returns every row of a family, newest first.
	FindTokensByFamily(ctx context.Context, family string) ([]models.RefreshToken, error)

	SaveResetToken(ctx context.Context, rec ResetTokenRecord) (*models.PasswordResetToken, error)
	FindResetToken(ctx context.Context, raw string) (*models.PasswordResetToken, error)
	// MarkResetTokenUsed consumes a live reset token exactly once, returning ErrTokenNotFound otherwise.
	MarkResetTokenUsed(ctx context.Context, raw string) error
	// RestoreResetToken undoes MarkResetTokenUsed after the reset it guarded failed.
	RestoreResetToken(ctx context.Context, raw string) error

	AddToBlacklist(ctx context.Context, entry BlacklistEntry) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
	// BlacklistExpiry returns when a live blacklist entry lapses; found is false when jti is not listed.
	BlacklistExpiry(ctx context.Context, jti string) (expiresAt time.Time, found bool, err error)

	CleanExpiredTokens(ctx context.Context) (CleanupStats, error)
}

// GormTokenStore implements TokenStore on the primary database.
type GormTokenStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormTokenStore constructs a database-backed token store.
func NewGormTokenStore(db *gorm.DB, clock func() time.Time) (*GormTokenStore, error) {
	if db == nil {
		return nil, errors.New("token store: db is required")
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &GormTokenStore{db: db, now: clock}, nil
}

func (s *GormTokenStore) SaveRefreshToken(ctx context.Context, rec RefreshTokenRecord) (*models.RefreshToken, error) {
	row, err := s.newRefreshRow(rec)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("token store: save refresh token: %w", err)
	}
	return row, nil
}

func (s *GormTokenStore) FindRefreshToken(ctx context.Context, raw string) (*models.RefreshToken, error) {
	var row models.RefreshToken
	err := s.db.WithContext(ctx).
		Where("token_hash = ? AND revoked_at IS NULL AND expires_at > ?", crypto.HashToken(raw), s.now()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("token store: find refresh token: %w", err)
	}
	return &row, nil
}

func (s *GormTokenStore) RotateRefreshToken(ctx context.Context, raw string, next RefreshTokenRecord) (*models.RefreshToken, error) {
	row, err := s.newRefreshRow(next)
	if err != nil {
		return nil, err
	}

	now := s.now()
	hash := crypto.HashToken(raw)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.RefreshToken
		if err := tx.Where("token_hash = ?", hash).Take(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTokenNotFound
			}
			return err
		}
		if current.TokenFamily != row.TokenFamily || current.UserID != row.UserID {
			return ErrTokenNotFound
		}

		res := tx.Model(&models.RefreshToken{}).
			Where("id = ? AND revoked_at IS NULL AND expires_at > ?", current.ID, now).
			Updates(map[string]any{
				"revoked_at":     now,
				"revoked_reason": models.RevokeRotated,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTokenNotFound
		}

		return tx.Create(row).Error
	})
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("token store: rotate refresh token: %w", err)
	}
	return row, nil
}

func (s *GormTokenStore) InvalidateToken(ctx context.Context, raw string) error {
	_, err := s.revoke(ctx, "token_hash = ?", crypto.HashToken(raw), models.RevokeManualInvalidation)
	return err
}

func (s *GormTokenStore) InvalidateUserTokens(ctx context.Context, userID string, reason models.RevokeReason) (int64, error) {
	if reason == "" {
		reason = models.RevokeUserLogout
	}
	return s.revoke(ctx, "user_id = ?", userID, reason)
}

func (s *GormTokenStore) InvalidateTokenFamily(ctx context.Context, family string) (int64, error) {
	return s.revoke(ctx, "token_family = ?", family, models.RevokeTokenReuseDetected)
}

func (s *GormTokenStore) revoke(ctx context.Context, query string, arg any, reason models.RevokeReason) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where(query, arg).
		Where("revoked_at IS NULL").
		Updates(map[string]any{
			"revoked_at":     s.now(),
			"revoked_reason": reason,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("token store: revoke refresh tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormTokenStore) FindTokensByFamily(ctx context.Context, family string) ([]models.RefreshToken, error) {
	var rows []models.RefreshToken
	if err := s.db.WithContext(ctx).
		Where("token_family = ?", family).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("token store: find family: %w", err)
	}
	return rows, nil
}

// SaveResetToken stores a reset token and retires any unused token previously issued to the user.
func (s *GormTokenStore) SaveResetToken(ctx context.Context, rec ResetTokenRecord) (*models.PasswordResetToken, error) {
	if strings.TrimSpace(rec.UserID) == "" || rec.Raw == "" {
		return nil, errors.New("token store: reset token user and value are required")
	}

	now := s.now()
	row := &models.PasswordResetToken{
		UserID:    rec.UserID,
		JTI:       rec.JTI,
		TokenHash: crypto.HashToken(rec.Raw),
		ExpiresAt: rec.ExpiresAt,
		CreatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.PasswordResetToken{}).
			Where("user_id = ? AND used_at IS NULL", rec.UserID).
			Update("used_at", now).Error; err != nil {
			return err
		}
		return tx.Create(row).Error
	})
	if err != nil {
		return nil, fmt.Errorf("token store: save reset token: %w", err)
	}
	return row, nil
}

func (s *GormTokenStore) FindResetToken(ctx context.Context, raw string) (*models.PasswordResetToken, error) {
	var row models.PasswordResetToken
	err := s.db.WithContext(ctx).
		Where("token_hash = ? AND used_at IS NULL AND expires_at > ?", crypto.HashToken(raw), s.now()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("token store: find reset token: %w", err)
	}
	return &row, nil
}

func (s *GormTokenStore) MarkResetTokenUsed(ctx context.Context, raw string) error {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.PasswordResetToken{}).
		Where("token_hash = ? AND used_at IS NULL AND expires_at > ?", crypto.HashToken(raw), now).
		Update("used_at", now)
	if res.Error != nil {
		return fmt.Errorf("token store: mark reset token used: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func (s *GormTokenStore) RestoreResetToken(ctx context.Context, raw string) error {
	res := s.db.WithContext(ctx).Model(&models.PasswordResetToken{}).
		Where("token_hash = ? AND used_at IS NOT NULL", crypto.HashToken(raw)).
		Update("used_at", nil)
	if res.Error != nil {
		return fmt.Errorf("token store: restore reset token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func (s *GormTokenStore) AddToBlacklist(ctx context.Context, entry BlacklistEntry) error {
	if strings.TrimSpace(entry.JTI) == "" {
		return errors.New("token store: blacklist jti is required")
	}

	row := &models.TokenBlacklist{
		JTI:       entry.JTI,
		TokenType: entry.TokenType,
		UserID:    entry.UserID,
		ExpiresAt: entry.ExpiresAt,
		Reason:    entry.Reason,
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "jti"}}, DoNothing: true}).
		Create(row).Error; err != nil {
		return fmt.Errorf("token store: blacklist token: %w", err)
	}
	return nil
}

func (s *GormTokenStore) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	_, found, err := s.BlacklistExpiry(ctx, jti)
	return found, err
}

func (s *GormTokenStore) BlacklistExpiry(ctx context.Context, jti string) (time.Time, bool, error) {
	if jti == "" {
		return time.Time{}, false, nil
	}
	var rows []models.TokenBlacklist
	if err := s.db.WithContext(ctx).
		Where("jti = ? AND expires_at > ?", jti, s.now()).
		Limit(1).
		Find(&rows).Error; err != nil {
		return time.Time{}, false, fmt.Errorf("token store: check blacklist: %w", err)
	}
	if len(rows) == 0 {
		return time.Time{}, false, nil
	}
	return rows[0].ExpiresAt, true, nil
}

func (s *GormTokenStore) CleanExpiredTokens(ctx context.Context) (CleanupStats, error) {
	now := s.now()
	var stats CleanupStats

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("expires_at <= ?", now).Delete(&models.RefreshToken{})
		if res.Error != nil {
			return res.Error
		}
		stats.RefreshTokens = res.RowsAffected

		res = tx.Where("expires_at <= ?", now).Delete(&models.PasswordResetToken{})
		if res.Error != nil {
			return res.Error
		}
		stats.ResetTokens = res.RowsAffected

		res = tx.Where("expires_at <= ?", now).Delete(&models.TokenBlacklist{})
		if res.Error != nil {
			return res.Error
		}
		stats.Blacklist = res.RowsAffected
		return nil
	})
	if err != nil {
		return CleanupStats{}, fmt.Errorf("token store: clean expired tokens: %w", err)
	}
	return stats, nil
}

func (s *GormTokenStore) newRefreshRow(rec RefreshTokenRecord) (*models.RefreshToken, error) {
	if strings.TrimSpace(rec.UserID) == "" || rec.Raw == "" || rec.TokenFamily == "" {
		return nil, errors.New("token store: refresh token user, value and family are required")
	}
	return &models.RefreshToken{
		UserID:      rec.UserID,
		TokenHash:   crypto.HashToken(rec.Raw),
		JTI:         rec.JTI,
		TokenFamily: rec.TokenFamily,
		DeviceInfo:  strings.TrimSpace(rec.DeviceInfo),
		ExpiresAt:   rec.ExpiresAt,
		CreatedAt:   s.now(),
	}, nil
}
