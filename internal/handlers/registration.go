package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskhive/taskhive/internal/services"
	"github.com/taskhive/taskhive/pkg/response"
)

// RegistrationHandler exposes public sign-up endpoints for companies and team members.
type RegistrationHandler struct {
	registrations *services.RegistrationService
}

func NewRegistrationHandler(registrations *services.RegistrationService) *RegistrationHandler {
	return &RegistrationHandler{registrations: registrations}
}

type registerCompanyRequest struct {
	Manager services.AccountInput `json:"manager" validate:"required"`
	Company services.CompanyInput `json:"company" validate:"required"`
}

type registerMemberRequest struct {
	services.AccountInput
	InvitationCode string `json:"invitation_code" validate:"required"`
}

// POST /api/auth/register/company
func (h *RegistrationHandler) RegisterCompany(c *gin.Context) {
	var req registerCompanyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	company, manager, err := h.registrations.RegisterCompany(requestContext(c), req.Manager, req.Company)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"company": company, "user": manager})
}

// POST /api/auth/register/member
func (h *RegistrationHandler) RegisterMember(c *gin.Context) {
	var req registerMemberRequest
	if !bindAndValidate(c, &req) {
		return
	}

	member, err := h.registrations.RegisterMember(requestContext(c), req.AccountInput, req.InvitationCode)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"user": member})
}
