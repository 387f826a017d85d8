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
)

const (
	invitationCodeLength   = 10
	invitationCodeAttempts = 5
)

// ApprovalService moves companies and team members out of PENDING.
// Authorization is enforced by the caller through the permissions gate.
type ApprovalService struct {
	db    *gorm.DB
	audit *AuditService
	now   func() time.Time
}

// NewApprovalService constructs an ApprovalService.
func NewApprovalService(db *gorm.DB, audit *AuditService, clock func() time.Time) (*ApprovalService, error) {
	if db == nil {
		return nil, errors.New("approval service: db is required")
	}
	return &ApprovalService{db: db, audit: audit, now: defaultClock(clock)}, nil
}

// ApproveCompany activates a PENDING company, assigns its invitation code and activates its
// pending manager. Approving an ACTIVE company returns it unchanged, keeping the existing code.
func (s *ApprovalService) ApproveCompany(ctx context.Context, actorID, companyID string) (*models.Company, error) {
	ctx = ensureContext(ctx)

	var company models.Company
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadCompany(tx, companyID, &company); err != nil {
			return err
		}
		switch company.Status {
		case models.StatusActive:
			return nil
		case models.StatusPending:
		default:
			return ErrInvalidTransition
		}

		code, err := uniqueInvitationCode(tx)
		if err != nil {
			return err
		}

		now := s.now()
		res := tx.Model(&models.Company{}).
			Where("id = ? AND status = ?", company.ID, models.StatusPending).
			Updates(map[string]any{
				"status":          models.StatusActive,
				"invitation_code": code,
				"approved_at":     now,
				"updated_at":      now,
			})
		if res.Error != nil {
			return fmt.Errorf("activate company: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}

		if company.ManagerID != nil {
			if err := setUserStatus(tx, *company.ManagerID, models.StatusPending, models.StatusActive, now); err != nil {
				return err
			}
		}
		return loadCompany(tx, company.ID, &company)
	})
	if err != nil {
		return nil, s.fail(ctx, actorID, "company.approve", companyID, err)
	}

	s.succeed(ctx, actorID, "company.approve", "companies", company.ID)
	return &company, nil
}

// RejectCompany moves a PENDING company and its pending manager to REJECTED.
func (s *ApprovalService) RejectCompany(ctx context.Context, actorID, companyID string) (*models.Company, error) {
	ctx = ensureContext(ctx)

	var company models.Company
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadCompany(tx, companyID, &company); err != nil {
			return err
		}
		switch company.Status {
		case models.StatusRejected:
			return nil
		case models.StatusPending:
		default:
			return ErrInvalidTransition
		}

		now := s.now()
		res := tx.Model(&models.Company{}).
			Where("id = ? AND status = ?", company.ID, models.StatusPending).
			Updates(map[string]any{"status": models.StatusRejected, "updated_at": now})
		if res.Error != nil {
			return fmt.Errorf("reject company: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}

		if company.ManagerID != nil {
			if err := setUserStatus(tx, *company.ManagerID, models.StatusPending, models.StatusRejected, now); err != nil {
				return err
			}
		}
		return loadCompany(tx, company.ID, &company)
	})
	if err != nil {
		return nil, s.fail(ctx, actorID, "company.reject", companyID, err)
	}

	s.succeed(ctx, actorID, "company.reject", "companies", company.ID)
	return &company, nil
}

// GetMember loads a team member so the caller can check company scope before acting.
func (s *ApprovalService) GetMember(ctx context.Context, memberID string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var member models.User
	if err := loadMember(s.db.WithContext(ctx), memberID, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

// ApproveMember activates a PENDING team member. Approving an ACTIVE member is a no-op.
func (s *ApprovalService) ApproveMember(ctx context.Context, actorID, memberID string) (*models.User, error) {
	return s.transitionMember(ctx, actorID, memberID, models.StatusActive, "member.approve")
}

// RejectMember moves a PENDING team member to REJECTED.
func (s *ApprovalService) RejectMember(ctx context.Context, actorID, memberID string) (*models.User, error) {
	return s.transitionMember(ctx, actorID, memberID, models.StatusRejected, "member.reject")
}

func (s *ApprovalService) transitionMember(ctx context.Context, actorID, memberID string, target models.Status, action string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var member models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadMember(tx, memberID, &member); err != nil {
			return err
		}
		if member.Status == target {
			return nil
		}
		if member.Status != models.StatusPending {
			return ErrInvalidTransition
		}
		if err := setUserStatus(tx, member.ID, models.StatusPending, target, s.now()); err != nil {
			return err
		}
		return loadMember(tx, member.ID, &member)
	})
	if err != nil {
		return nil, s.fail(ctx, actorID, action, memberID, err)
	}

	s.succeed(ctx, actorID, action, "users", member.ID)
	return &member, nil
}

// ListPendingCompanies returns companies awaiting approval, oldest first.
func (s *ApprovalService) ListPendingCompanies(ctx context.Context) ([]models.Company, error) {
	ctx = ensureContext(ctx)

	var companies []models.Company
	if err := s.db.WithContext(ctx).
		Where("status = ?", models.StatusPending).
		Order("created_at ASC").
		Find(&companies).Error; err != nil {
		return nil, fmt.Errorf("approval service: list pending companies: %w", err)
	}
	return companies, nil
}

// ListPendingMembers returns team members awaiting approval. An empty companyID lists all companies.
func (s *ApprovalService) ListPendingMembers(ctx context.Context, companyID string) ([]models.User, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).
		Omit("password_hash").
		Where("role = ? AND status = ?", models.RoleTeamMember, models.StatusPending)
	if id := strings.TrimSpace(companyID); id != "" {
		query = query.Where("company_id = ?", id)
	}

	var members []models.User
	if err := query.Order("created_at ASC").Find(&members).Error; err != nil {
		return nil, fmt.Errorf("approval service: list pending members: %w", err)
	}
	return members, nil
}

func (s *ApprovalService) succeed(ctx context.Context, actorID, action, resource, id string) {
	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:  actorPtr(actorID),
		Action:   action,
		Resource: resource,
		Result:   "success",
		Metadata: map[string]any{"target_id": id},
	})
}

func (s *ApprovalService) fail(ctx context.Context, actorID, action, id string, err error) error {
	switch {
	case errors.Is(err, ErrCompanyNotFound), errors.Is(err, ErrUserNotFound), errors.Is(err, ErrInvalidTransition):
		recordAudit(s.audit, ctx, AuditEntry{
			ActorID:  actorPtr(actorID),
			Action:   action,
			Result:   "failure",
			Metadata: map[string]any{"target_id": id, "reason": err.Error()},
		})
		return err
	default:
		return fmt.Errorf("approval service: %s: %w", action, err)
	}
}

func loadCompany(tx *gorm.DB, id string, company *models.Company) error {
	if strings.TrimSpace(id) == "" {
		return ErrCompanyNotFound
	}
	if err := tx.Take(company, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCompanyNotFound
		}
		return fmt.Errorf("load company: %w", err)
	}
	return nil
}

func loadMember(tx *gorm.DB, id string, member *models.User) error {
	if strings.TrimSpace(id) == "" {
		return ErrUserNotFound
	}
	err := tx.Omit("password_hash").
		Where("id = ? AND role = ?", id, models.RoleTeamMember).
		Take(member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("load member: %w", err)
	}
	return nil
}

func setUserStatus(tx *gorm.DB, userID string, from, to models.Status, now time.Time) error {
	if err := tx.Model(&models.User{}).
		Where("id = ? AND status = ?", userID, from).
		Updates(map[string]any{"status": to, "updated_at": now}).Error; err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	return nil
}

// uniqueInvitationCode draws codes until one is unused. Codes are never reissued.
func uniqueInvitationCode(tx *gorm.DB) (string, error) {
	for attempt := 0; attempt < invitationCodeAttempts; attempt++ {
		code, err := crypto.GenerateInvitationCode(invitationCodeLength)
		if err != nil {
			return "", fmt.Errorf("generate invitation code: %w", err)
		}
		var count int64
		if err := tx.Model(&models.Company{}).Where("invitation_code = ?", code).Count(&count).Error; err != nil {
			return "", fmt.Errorf("check invitation code: %w", err)
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", errors.New("could not allocate a unique invitation code")
}

func actorPtr(actorID string) *string {
	if strings.TrimSpace(actorID) == "" {
		return nil
	}
	return stringPtr(actorID)
}
