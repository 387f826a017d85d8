package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is an account belonging to at most one company. System admins have no company.
type User struct {
	ID           string `gorm:"primaryKey;type:uuid" json:"id"`
	Email        string `gorm:"index;not null;size:320" json:"email"`
	PasswordHash string `gorm:"column:password_hash;not null" json:"-"`
	Name         string `gorm:"not null" json:"name"`
	Phone        string `json:"phone"`

	Role   Role   `gorm:"type:smallint;not null;index" json:"role_id"`
	Status Status `gorm:"type:smallint;not null;index" json:"status_id"`

	CompanyID *string  `gorm:"type:uuid;index" json:"company_id"`
	Company   *Company `gorm:"foreignKey:CompanyID" json:"company,omitempty"`

	LastLoginAt *time.Time `json:"last_login_at"`
	// TokensValidAfter invalidates every access token issued at or before it.
	TokensValidAfter *time.Time `json:"-"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// InCompany reports whether the user belongs to companyID.
func (u *User) InCompany(companyID string) bool {
	return u != nil && u.CompanyID != nil && companyID != "" && *u.CompanyID == companyID
}
