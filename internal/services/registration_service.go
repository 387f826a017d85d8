package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/taskhive/taskhive/internal/models"
	"github.com/taskhive/taskhive/pkg/crypto"
	"github.com/taskhive/taskhive/pkg/validator"
)

// AccountInput describes a new user account.
type AccountInput struct {
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required,max=200"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
}

// CompanyInput describes a company registration.
type CompanyInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"omitempty,max=2000"`
}

// RegistrationConfig tunes the RegistrationService.
type RegistrationConfig struct {
	PasswordMinLength int
	Clock             func() time.Time
}

// RegistrationService creates companies, their managers, team members and system admins.
type RegistrationService struct {
	db        *gorm.DB
	audit     *AuditService
	minLength int
	now       func() time.Time
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(db *gorm.DB, audit *AuditService, cfg RegistrationConfig) (*RegistrationService, error) {
	if db == nil {
		return nil, errors.New("registration service: db is required")
	}
	return &RegistrationService{
		db:        db,
		audit:     audit,
		minLength: cfg.PasswordMinLength,
		now:       defaultClock(cfg.Clock),
	}, nil
}

// RegisterCompany creates a PENDING company with a PENDING manager account.
func (s *RegistrationService) RegisterCompany(ctx context.Context, account AccountInput, company CompanyInput) (*models.Company, *models.User, error) {
	ctx = ensureContext(ctx)

	if err := validator.ValidateStruct(company); err != nil {
		return nil, nil, err
	}
	manager, err := s.newUser(account, models.RoleCompanyManager, models.StatusPending)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	record := &models.Company{
		BaseModel:   models.BaseModel{CreatedAt: now, UpdatedAt: now},
		Name:        strings.TrimSpace(company.Name),
		Description: strings.TrimSpace(company.Description),
		Status:      models.StatusPending,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureEmailAvailable(tx, manager.Email); err != nil {
			return err
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("create company: %w", err)
		}

		manager.CompanyID = &record.ID
		if err := tx.Create(manager).Error; err != nil {
			return userCreateError(err)
		}

		record.ManagerID = &manager.ID
		return tx.Model(record).Update("manager_id", manager.ID).Error
	})
	if err != nil {
		return nil, nil, wrapRegistrationError(err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  &manager.ID,
		Action:   "company.register",
		Resource: "companies",
		Result:   "pending",
		Metadata: map[string]any{"company_id": record.ID},
	})

	manager.PasswordHash = ""
	return record, manager, nil
}

// RegisterMember creates a PENDING team member in the ACTIVE company owning invitationCode.
func (s *RegistrationService) RegisterMember(ctx context.Context, account AccountInput, invitationCode string) (*models.User, error) {
	ctx = ensureContext(ctx)

	code := strings.TrimSpace(invitationCode)
	if code == "" {
		return nil, ErrInvalidInvitationCode
	}
	member, err := s.newUser(account, models.RoleTeamMember, models.StatusPending)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var company models.Company
		if err := tx.Where("invitation_code = ? AND status = ?", code, models.StatusActive).Take(&company).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidInvitationCode
			}
			return fmt.Errorf("load company: %w", err)
		}
		if err := ensureEmailAvailable(tx, member.Email); err != nil {
			return err
		}

		member.CompanyID = &company.ID
		if err := tx.Create(member).Error; err != nil {
			return userCreateError(err)
		}
		return nil
	})
	if err != nil {
		return nil, wrapRegistrationError(err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  &member.ID,
		Action:   "member.register",
		Resource: "users",
		Result:   "pending",
		Metadata: map[string]any{"company_id": *member.CompanyID},
	})

	member.PasswordHash = ""
	return member, nil
}

// CreateSystemAdmin creates an ACTIVE system administrator with no company.
func (s *RegistrationService) CreateSystemAdmin(ctx context.Context, account AccountInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	admin, err := s.newUser(account, models.RoleSystemAdmin, models.StatusActive)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureEmailAvailable(tx, admin.Email); err != nil {
			return err
		}
		if err := tx.Create(admin).Error; err != nil {
			return userCreateError(err)
		}
		return nil
	})
	if err != nil {
		return nil, wrapRegistrationError(err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  &admin.ID,
		Action:   "admin.create",
		Resource: "users",
		Result:   "success",
	})

	admin.PasswordHash = ""
	return admin, nil
}

func (s *RegistrationService) newUser(account AccountInput, role models.Role, status models.Status) (*models.User, error) {
	account.Email = normaliseEmail(account.Email)
	account.Name = strings.TrimSpace(account.Name)
	account.Phone = strings.TrimSpace(account.Phone)

	if err := validator.ValidateStruct(account); err != nil {
		return nil, err
	}
	if err := validator.ValidatePassword(account.Password, s.minLength); err != nil {
		return nil, err
	}

	hash, err := crypto.HashPassword(account.Password)
	if err != nil {
		return nil, fmt.Errorf("registration service: hash password: %w", err)
	}

	now := s.now()
	return &models.User{
		Email:        account.Email,
		PasswordHash: hash,
		Name:         account.Name,
		Phone:        account.Phone,
		Role:         role,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func ensureEmailAvailable(tx *gorm.DB, email string) error {
	var count int64
	if err := tx.Model(&models.User{}).Where("LOWER(email) = ?", email).Count(&count).Error; err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if count > 0 {
		return ErrDuplicateEmail
	}
	return nil
}

func userCreateError(err error) error {
	if isUniqueConstraintError(err) {
		return ErrDuplicateEmail
	}
	return fmt.Errorf("create user: %w", err)
}

func wrapRegistrationError(err error) error {
	switch {
	case errors.Is(err, ErrDuplicateEmail), errors.Is(err, ErrInvalidInvitationCode):
		return err
	default:
		return fmt.Errorf("registration service: %w", err)
	}
}
