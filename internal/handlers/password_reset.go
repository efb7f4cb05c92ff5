package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atriumhq/atrium/internal/models"
	pkghttp "github.com/atriumhq/atrium/pkg/http"
)

// PasswordResetServiceInterface defines the interface for reset business logic
type PasswordResetServiceInterface interface {
	Request(ctx context.Context, email, ipAddress, userAgent string) error
	Validate(ctx context.Context, rawToken string) (bool, error)
	Consume(ctx context.Context, rawToken, newPassword string) error
}

// PasswordResetHandler handles the self-service reset HTTP surface
type PasswordResetHandler struct {
	service  PasswordResetServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewPasswordResetHandler creates a new PasswordResetHandler
func NewPasswordResetHandler(service PasswordResetServiceInterface, ipConfig *pkghttp.IPConfig) *PasswordResetHandler {
	return &PasswordResetHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// RequestResetRequest represents the request body for requesting a reset
type RequestResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ValidateResetRequest represents the request body for checking a reset token
type ValidateResetRequest struct {
	Token string `json:"token" validate:"required"`
}

// ConsumeResetRequest represents the request body for completing a reset
type ConsumeResetRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

const resetRequestedMessage = "If an account exists for that email, a reset link has been sent."

// Request issues a reset token. The response is identical whether or not the
// account exists.
// @Summary Request a password reset
// @Accept json
// @Param request body RequestResetRequest true "Reset request"
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 429 {object} ErrorResponse
// @Router /auth/password-reset [post]
func (h *PasswordResetHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req RequestResetRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	if err := h.service.Request(r.Context(), req.Email, ipAddress, userAgent); err != nil {
		switch {
		case errors.Is(err, models.ErrRateLimited):
			pkghttp.WriteTooManyRequests(w, "Too many reset requests. Please try again later.")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": resetRequestedMessage})
}

// Validate reports whether a reset token is usable, for the reset form
// @Summary Validate a reset token
// @Accept json
// @Param request body ValidateResetRequest true "Validate request"
// @Produce json
// @Success 200 {object} map[string]bool
// @Router /auth/password-reset/validate [post]
func (h *PasswordResetHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateResetRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	valid, err := h.service.Validate(r.Context(), req.Token)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

// Consume completes a reset with a new password
// @Summary Complete a password reset
// @Accept json
// @Param request body ConsumeResetRequest true "Consume request"
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Router /auth/password-reset/consume [post]
func (h *PasswordResetHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var req ConsumeResetRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.Consume(r.Context(), req.Token, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, models.ErrResetTokenInvalid):
			pkghttp.WriteBadRequest(w, "Reset token is invalid or expired")
		case errors.Is(err, models.ErrInternalServer):
			pkghttp.WriteInternalError(w, "Internal server error")
		default:
			pkghttp.WriteBadRequest(w, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Your password has been updated. Please sign in again."})
}
