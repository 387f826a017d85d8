package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/taskhive/taskhive/internal/models"
	"github.com/taskhive/taskhive/pkg/validator"
)

// UpdateProfileInput captures mutable profile attributes. Nil fields are left untouched.
type UpdateProfileInput struct {
	Name  *string `json:"name" validate:"omitnil,min=1,max=200"`
	Phone *string `json:"phone" validate:"omitempty,max=32"`
}

// UserService reads users and applies profile edits.
type UserService struct {
	db    *gorm.DB
	audit *AuditService
	now   func() time.Time
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB, audit *AuditService, clock func() time.Time) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db, audit: audit, now: defaultClock(clock)}, nil
}

// GetByID loads a user without the password hash.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(id) == "" {
		return nil, ErrUserNotFound
	}

	var user models.User
	err := s.db.WithContext(ctx).Omit("password_hash").Take(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: load user: %w", err)
	}
	return &user, nil
}

// UpdateProfile applies name and phone changes on behalf of actorID.
func (s *UserService) UpdateProfile(ctx context.Context, actorID, id string, input UpdateProfileInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	if input.Name != nil {
		trimmed := strings.TrimSpace(*input.Name)
		input.Name = &trimmed
	}
	if input.Phone != nil {
		trimmed := strings.TrimSpace(*input.Phone)
		input.Phone = &trimmed
	}
	if err := validator.ValidateStruct(input); err != nil {
		return nil, err
	}

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Name != nil && *input.Name != user.Name {
		updates["name"] = *input.Name
	}
	if input.Phone != nil && *input.Phone != user.Phone {
		updates["phone"] = *input.Phone
	}
	if len(updates) == 0 {
		return user, nil
	}
	updates["updated_at"] = s.now()

	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("user service: update profile: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  actorPtr(actorID),
		Action:   "user.profile.update",
		Resource: "users",
		Result:   "success",
		Metadata: map[string]any{"target_id": user.ID},
	})

	return s.GetByID(ctx, user.ID)
}
