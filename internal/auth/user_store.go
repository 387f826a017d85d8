package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/taskhive/taskhive/internal/models"
)

// UserStore is the slice of user persistence the session engine and gate depend on.
type UserStore interface {
	// FindByEmailWithPassword is the only lookup that loads the password hash.
	FindByEmailWithPassword(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	RecordLogin(ctx context.Context, id string, at time.Time) error
	// UpdatePassword replaces the hash and invalidates access tokens issued before validAfter.
	UpdatePassword(ctx context.Context, id, passwordHash string, validAfter time.Time) error
}

// GormUserStore implements UserStore on the primary database.
type GormUserStore struct {
	db *gorm.DB
}

// NewGormUserStore constructs a database-backed user store.
func NewGormUserStore(db *gorm.DB) (*GormUserStore, error) {
	if db == nil {
		return nil, errors.New("user store: db is required")
	}
	return &GormUserStore{db: db}, nil
}

// NormalizeEmail lowercases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *GormUserStore) FindByEmailWithPassword(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("email = ?", NormalizeEmail(email)).
		Take(&user).Error
	return s.result(&user, err)
}

func (s *GormUserStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrUserNotFound
	}
	var user models.User
	err := s.db.WithContext(ctx).
		Omit("password_hash").
		Preload("Company").
		Take(&user, "id = ?", id).Error
	return s.result(&user, err)
}

func (s *GormUserStore) RecordLogin(ctx context.Context, id string, at time.Time) error {
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Update("last_login_at", at).Error; err != nil {
		return fmt.Errorf("user store: record login: %w", err)
	}
	return nil
}

func (s *GormUserStore) UpdatePassword(ctx context.Context, id, passwordHash string, validAfter time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"password_hash":      passwordHash,
			"tokens_valid_after": validAfter,
		})
	if res.Error != nil {
		return fmt.Errorf("user store: update password: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *GormUserStore) result(user *models.User, err error) (*models.User, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user store: %w", err)
	}
	return user, nil
}
