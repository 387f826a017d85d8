package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/taskhive/taskhive/internal/models"
	"github.com/taskhive/taskhive/internal/permissions"
	"github.com/taskhive/taskhive/internal/services"
	appErrors "github.com/taskhive/taskhive/pkg/errors"
	"github.com/taskhive/taskhive/pkg/response"
)

// ApprovalHandler exposes the company and member approval workflow.
// Role gates run as middleware; company scope is checked here against the target member.
type ApprovalHandler struct {
	approvals *services.ApprovalService
	gate      *permissions.Gate
}

func NewApprovalHandler(approvals *services.ApprovalService, gate *permissions.Gate) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals, gate: gate}
}

type companyDecisionRequest struct {
	CompanyID string `json:"company_id" validate:"required,uuid"`
}

type memberDecisionRequest struct {
	MemberID string `json:"member_id" validate:"required,uuid"`
}

// POST /api/auth/admin/approve/company
func (h *ApprovalHandler) ApproveCompany(c *gin.Context) {
	h.decideCompany(c, h.approvals.ApproveCompany)
}

// POST /api/auth/admin/reject/company
func (h *ApprovalHandler) RejectCompany(c *gin.Context) {
	h.decideCompany(c, h.approvals.RejectCompany)
}

// GET /api/auth/admin/pending/companies
func (h *ApprovalHandler) PendingCompanies(c *gin.Context) {
	companies, err := h.approvals.ListPendingCompanies(requestContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, companies)
}

// POST /api/auth/manager/approve/member
func (h *ApprovalHandler) ApproveMember(c *gin.Context) {
	h.decideMember(c, h.approvals.ApproveMember)
}

// POST /api/auth/manager/reject/member
func (h *ApprovalHandler) RejectMember(c *gin.Context) {
	h.decideMember(c, h.approvals.RejectMember)
}

// GET /api/auth/manager/pending/members
// Managers see their own company; system admins may filter with ?company_id=.
func (h *ApprovalHandler) PendingMembers(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	companyID := strings.TrimSpace(c.Query("company_id"))
	if identity.User.Role != models.RoleSystemAdmin {
		if identity.User.CompanyID == nil {
			respondError(c, permissions.ErrAuthorizationDenied)
			return
		}
		companyID = *identity.User.CompanyID
	}

	members, err := h.approvals.ListPendingMembers(requestContext(c), companyID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, members)
}

type companyDecision func(ctx context.Context, actorID, companyID string) (*models.Company, error)

type memberDecision func(ctx context.Context, actorID, memberID string) (*models.User, error)

func (h *ApprovalHandler) decideCompany(c *gin.Context, decide companyDecision) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	var req companyDecisionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	company, err := decide(requestContext(c), identity.UserID(), req.CompanyID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, company)
}

func (h *ApprovalHandler) decideMember(c *gin.Context, decide memberDecision) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	var req memberDecisionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	member, err := h.approvals.GetMember(ctx, req.MemberID)
	if err != nil {
		respondError(c, err)
		return
	}
	if member.CompanyID == nil {
		response.Error(c, appErrors.ErrNotFound)
		return
	}
	if err := h.gate.RequireCompanyManager(identity, *member.CompanyID); err != nil {
		respondError(c, err)
		return
	}

	member, err = decide(ctx, identity.UserID(), member.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, member)
}
