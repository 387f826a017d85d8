package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RefreshToken is a persisted refresh token. Only the SHA-256 digest of the token is stored.
type RefreshToken struct {
	ID            string        `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string        `gorm:"type:uuid;not null;index" json:"user_id"`
	TokenHash     string        `gorm:"uniqueIndex;not null;size:64" json:"-"`
	JTI           string        `gorm:"column:jti;index;size:64" json:"jti"`
	TokenFamily   string        `gorm:"not null;index;size:64" json:"token_family"`
	DeviceInfo    string        `json:"device_info"`
	ExpiresAt     time.Time     `gorm:"index" json:"expires_at"`
	RevokedAt     *time.Time    `json:"revoked_at"`
	RevokedReason *RevokeReason `gorm:"size:32" json:"revoked_reason"`
	CreatedAt     time.Time     `json:"created_at"`
}

func (t *RefreshToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// Live reports whether the token is neither revoked nor expired at now.
func (t *RefreshToken) Live(now time.Time) bool {
	return t.RevokedAt == nil && t.ExpiresAt.After(now)
}

// PasswordResetToken is a single-use reset token.
type PasswordResetToken struct {
	ID        string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID    string     `gorm:"type:uuid;not null;index" json:"user_id"`
	JTI       string     `gorm:"column:jti;uniqueIndex;size:64" json:"jti"`
	TokenHash string     `gorm:"uniqueIndex;not null;size:64" json:"-"`
	ExpiresAt time.Time  `gorm:"index" json:"expires_at"`
	UsedAt    *time.Time `json:"used_at"`
	CreatedAt time.Time  `json:"created_at"`
}

func (t *PasswordResetToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// TokenBlacklist revokes a signed token by jti until its natural expiry.
type TokenBlacklist struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	JTI       string    `gorm:"column:jti;uniqueIndex;not null;size:64" json:"jti"`
	TokenType TokenType `gorm:"size:16;not null" json:"token_type"`
	UserID    string    `gorm:"type:uuid;index" json:"user_id"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	Reason    string    `gorm:"size:64" json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

func (TokenBlacklist) TableName() string {
	return "token_blacklist"
}

func (t *TokenBlacklist) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
