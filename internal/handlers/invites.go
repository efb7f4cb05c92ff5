package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atriumhq/atrium/internal/auth"
	"github.com/atriumhq/atrium/internal/models"
	pkghttp "github.com/atriumhq/atrium/pkg/http"
)

// InviteServiceInterface defines the interface for invite business logic
type InviteServiceInterface interface {
	Create(ctx context.Context, email, role, issuerID string, message *string) (*models.Invite, error)
	CreateSelfService(ctx context.Context, email, role, issuerID string, message *string) (*models.Invite, error)
	Validate(ctx context.Context, rawToken string) (*models.Invite, error)
	Revoke(ctx context.Context, id, adminID string) error
	List(ctx context.Context, limit, offset int) ([]*models.Invite, error)
}

// InviteHandler handles invite-related HTTP requests
type InviteHandler struct {
	service InviteServiceInterface
}

// NewInviteHandler creates a new InviteHandler
func NewInviteHandler(service InviteServiceInterface) *InviteHandler {
	return &InviteHandler{service: service}
}

// CreateInviteRequest represents the request body for issuing an invite
type CreateInviteRequest struct {
	Email   string  `json:"email" validate:"required,email"`
	Role    string  `json:"role" validate:"required,oneof=user moderator admin super_admin"`
	Message *string `json:"message,omitempty" validate:"omitempty,max=500"`
}

// SelfServiceInviteRequest represents the request body for a member-initiated
// invite. The role is always the base role.
type SelfServiceInviteRequest struct {
	Email   string  `json:"email" validate:"required,email"`
	Message *string `json:"message,omitempty" validate:"omitempty,max=500"`
}

// InviteResponse is the public projection of an invite. The token hash never
// leaves the server.
type InviteResponse struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	Status     string     `json:"status"`
	Message    *string    `json:"message,omitempty"`
	InvitedBy  string     `json:"invited_by"`
	ConsumedBy *string    `json:"consumed_by,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toInviteResponse(invite *models.Invite) *InviteResponse {
	return &InviteResponse{
		ID:         invite.ID,
		Email:      invite.Email,
		Role:       invite.Role,
		Status:     invite.Status,
		Message:    invite.Message,
		InvitedBy:  invite.InvitedBy,
		ConsumedBy: invite.ConsumedBy,
		ExpiresAt:  invite.ExpiresAt,
		UsedAt:     invite.UsedAt,
		CreatedAt:  invite.CreatedAt,
	}
}

// Create issues an invite (admin surface)
// @Summary Issue an invite
// @Accept json
// @Param request body CreateInviteRequest true "Invite request"
// @Produce json
// @Success 201 {object} InviteResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/invites [post]
func (h *InviteHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req CreateInviteRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	invite, err := h.service.Create(r.Context(), req.Email, req.Role, claims.UserID, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "An account or pending invite already exists for this email")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid invite request")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, toInviteResponse(invite))
}

// CreateSelfService lets any member invite someone at the base role
// @Summary Invite a new member
// @Accept json
// @Param request body SelfServiceInviteRequest true "Invite request"
// @Produce json
// @Success 201 {object} InviteResponse
// @Failure 409 {object} ErrorResponse
// @Router /invites [post]
func (h *InviteHandler) CreateSelfService(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req SelfServiceInviteRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	invite, err := h.service.CreateSelfService(r.Context(), req.Email, models.RoleUser, claims.UserID, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "An account already exists for this email")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid invite request")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, toInviteResponse(invite))
}

// Validate reports whether an invite token is usable, for pre-registration UX
// @Summary Validate an invite token
// @Produce json
// @Success 200 {object} InviteResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /invites/{token} [get]
func (h *InviteHandler) Validate(w http.ResponseWriter, r *http.Request) {
	rawToken := chi.URLParam(r, "token")
	if rawToken == "" {
		pkghttp.WriteBadRequest(w, "Missing invite token")
		return
	}

	invite, err := h.service.Validate(r.Context(), rawToken)
	if err != nil {
		writeInviteValidationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":      true,
		"email":      invite.Email,
		"invited_by": invite.InvitedBy,
		"message":    invite.Message,
		"role":       invite.Role,
		"expires_at": invite.ExpiresAt,
	})
}

// writeInviteValidationError emits the validation surface's error shape: an
// unknown token is 404, a known but unusable token reports its state with 400.
func writeInviteValidationError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	reason := "invite_unusable"

	switch {
	case errors.Is(err, models.ErrInviteNotFound):
		status, reason = http.StatusNotFound, "invite_not_found"
	case errors.Is(err, models.ErrInviteExpired):
		reason = "invite_expired"
	case errors.Is(err, models.ErrInviteUsed):
		reason = "invite_used"
	case errors.Is(err, models.ErrInviteRevoked):
		reason = "invite_revoked"
	case errors.Is(err, models.ErrInternalServer):
		status, reason = http.StatusInternalServerError, "internal_error"
	}

	writeJSON(w, status, map[string]interface{}{
		"valid": false,
		"error": reason,
	})
}

// List returns invites for the admin surface
// @Summary List invites
// @Produce json
// @Success 200 {array} InviteResponse
// @Router /admin/invites [get]
func (h *InviteHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	invites, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	responses := make([]*InviteResponse, 0, len(invites))
	for _, invite := range invites {
		responses = append(responses, toInviteResponse(invite))
	}

	writeJSON(w, http.StatusOK, responses)
}

// Revoke withdraws a pending invite
// @Summary Revoke an invite
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /admin/invites/{id} [delete]
func (h *InviteHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		pkghttp.WriteBadRequest(w, "Missing invite ID")
		return
	}

	if err := h.service.Revoke(r.Context(), id, claims.UserID); err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Invite not found")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
