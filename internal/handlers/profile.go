package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskhive/taskhive/internal/permissions"
	"github.com/taskhive/taskhive/internal/services"
	"github.com/taskhive/taskhive/pkg/response"
)

// ProfileHandler exposes user profile reads and edits, guarded by the self-or-privileged check.
type ProfileHandler struct {
	users *services.UserService
	gate  *permissions.Gate
}

// NewProfileHandler configures a profile handler with required services.
func NewProfileHandler(users *services.UserService, gate *permissions.Gate) *ProfileHandler {
	return &ProfileHandler{users: users, gate: gate}
}

// GET /api/users/:id
func (h *ProfileHandler) Get(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	target, err := h.users.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.gate.CanActOnUser(identity, target); err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusOK, target)
}

// PATCH /api/users/:id/profile
func (h *ProfileHandler) Update(c *gin.Context) {
	identity, ok := requireIdentity(c)
	if !ok {
		return
	}

	var req services.UpdateProfileInput
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	target, err := h.users.GetByID(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.gate.CanActOnUser(identity, target); err != nil {
		respondError(c, err)
		return
	}

	updated, err := h.users.UpdateProfile(ctx, identity.UserID(), target.ID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, updated)
}
