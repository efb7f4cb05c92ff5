package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/atriumhq/atrium/internal/auth"
	"github.com/atriumhq/atrium/internal/models"
	"github.com/atriumhq/atrium/internal/services"
	pkghttp "github.com/atriumhq/atrium/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password, ipAddress, userAgent string) (*services.AuthResult, error)
	RegisterWithInvite(ctx context.Context, rawToken, name, password string) (*services.AuthResult, error)
	ElevateMFA(ctx context.Context, claims *models.SessionClaims, code string) (*services.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*services.AuthResult, error)
	Logout(ctx context.Context, claims *models.SessionClaims) error
	LogoutAll(ctx context.Context, userID string) error
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
	SignInExternal(ctx context.Context, provider, providerID, email, name string) (*services.AuthResult, error)
	DisconnectExternal(ctx context.Context, userID, provider string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest represents the request body for invite-gated registration
type RegisterRequest struct {
	Token    string `json:"token" validate:"required"`
	Name     string `json:"name" validate:"required,min=1,max=100"`
	Password string `json:"password" validate:"required"`
}

// MFAVerifyRequest represents the request body for second-factor verification
type MFAVerifyRequest struct {
	Code string `json:"code" validate:"required,min=6,max=8"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ChangePasswordRequest represents the request body for a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// ExternalSignInRequest carries a verified external identity assertion.
// Assertion verification happens upstream; this surface trusts the provider
// identifier pair it is handed.
type ExternalSignInRequest struct {
	Provider   string `json:"provider" validate:"required,oneof=google github oidc"`
	ProviderID string `json:"provider_id" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Name       string `json:"name" validate:"required,min=1,max=100"`
}

// DisconnectExternalRequest names the provider link to remove
type DisconnectExternalRequest struct {
	Provider string `json:"provider" validate:"required"`
}

// Response DTOs

// UserResponse is the public projection of an account
type UserResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Status     string `json:"status"`
	MFAEnabled bool   `json:"mfa_enabled"`
}

// AuthResponse represents a successful authentication
type AuthResponse struct {
	AccessToken          string       `json:"access_token"`
	RefreshToken         string       `json:"refresh_token"`
	MFARequired          bool         `json:"mfa_required"`
	Verified             bool         `json:"verified,omitempty"`
	BackupCodesRemaining *int         `json:"backup_codes_remaining,omitempty"`
	User                 UserResponse `json:"user"`
}

func toAuthResponse(result *services.AuthResult) *AuthResponse {
	return &AuthResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		MFARequired:  result.MFARequired,
		User: UserResponse{
			ID:         result.User.ID,
			Email:      result.User.Email,
			Name:       result.User.Name,
			Role:       result.User.Role,
			Status:     result.User.Status,
			MFAEnabled: result.User.MFAIsEnabled(),
		},
	}
}

// Login handles user login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

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

	result, err := h.service.Login(r.Context(), req.Email, req.Password, ipAddress, userAgent)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		case errors.Is(err, models.ErrAccountInactive):
			pkghttp.WriteForbidden(w, "Account is not active")
		case errors.Is(err, models.ErrRateLimited):
			pkghttp.WriteTooManyRequests(w, "Too many login attempts. Please try again later.")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, toAuthResponse(result))
}

// Register handles invite-gated registration
// @Summary Register with an invite token
// @Accept json
// @Param request body RegisterRequest true "Register request"
// @Produce json
// @Success 201 {object} AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Name = strings.TrimSpace(req.Name)

	result, err := h.service.RegisterWithInvite(r.Context(), req.Token, req.Name, req.Password)
	if err != nil {
		writeInviteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAuthResponse(result))
}

// VerifyMFA handles second-factor verification for the current session
// @Summary Verify an MFA code and elevate the session
// @Accept json
// @Param request body MFAVerifyRequest true "MFA verify request"
// @Produce json
// @Success 200 {object} AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/mfa/verify [post]
func (h *AuthHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req MFAVerifyRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.ElevateMFA(r.Context(), claims, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrMFAInvalidCode),
			errors.Is(err, models.ErrMFAInvalidBackupCode):
			pkghttp.WriteBadRequest(w, "Invalid code")
		case errors.Is(err, models.ErrMFANotEnabled):
			pkghttp.WriteBadRequest(w, "MFA is not enabled")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	resp := toAuthResponse(result)
	resp.Verified = true
	resp.BackupCodesRemaining = result.BackupCodesRemaining

	writeJSON(w, http.StatusOK, resp)
}

// RefreshToken handles token refresh
// @Summary Refresh access token
// @Accept json
// @Param request body RefreshTokenRequest true "Refresh token request"
// @Produce json
// @Success 200 {object} AuthResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		case errors.Is(err, models.ErrAccountInactive):
			pkghttp.WriteForbidden(w, "Account is not active")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, toAuthResponse(result))
}

// Logout revokes the presented session
// @Summary Log out
// @Success 204
// @Failure 401 {object} ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.Logout(r.Context(), claims); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll revokes every session for the current user
// @Summary Log out everywhere
// @Success 204
// @Failure 401 {object} ErrorResponse
// @Router /auth/logout-all [post]
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.LogoutAll(r.Context(), claims.UserID); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword rewrites the password for the current user
// @Summary Change password
// @Accept json
// @Param request body ChangePasswordRequest true "Change password request"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/password [put]
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ChangePasswordRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	err := h.service.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		case errors.Is(err, models.ErrInternalServer):
			pkghttp.WriteInternalError(w, "Internal server error")
		default:
			// Password policy failures carry a generic message
			pkghttp.WriteBadRequest(w, err.Error())
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ExternalSignIn resolves an external identity into a session
// @Summary Sign in with an external identity
// @Accept json
// @Param request body ExternalSignInRequest true "External sign-in request"
// @Produce json
// @Success 200 {object} AuthResponse
// @Failure 403 {object} ErrorResponse
// @Router /auth/external [post]
func (h *AuthHandler) ExternalSignIn(w http.ResponseWriter, r *http.Request) {
	var req ExternalSignInRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.SignInExternal(r.Context(), req.Provider, req.ProviderID, req.Email, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrAdmissionDenied):
			pkghttp.WriteForbidden(w, "An invitation is required to join")
		case errors.Is(err, models.ErrAccountInactive):
			pkghttp.WriteForbidden(w, "Account is not active")
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Identity is already linked")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, toAuthResponse(result))
}

// DisconnectExternal removes a linked provider identity
// @Summary Disconnect an external identity
// @Accept json
// @Param request body DisconnectExternalRequest true "Disconnect request"
// @Success 204
// @Failure 409 {object} ErrorResponse
// @Router /auth/external [delete]
func (h *AuthHandler) DisconnectExternal(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req DisconnectExternalRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	err := h.service.DisconnectExternal(r.Context(), claims.UserID, req.Provider)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrLastCredential):
			pkghttp.WriteConflict(w, "Cannot remove the last sign-in method")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "No linked identity for that provider")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeInviteError maps invite lifecycle errors onto the registration surface:
// an unknown token is indistinguishable from no token (404); a known but
// unusable token reports its state (400).
func writeInviteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInviteNotFound):
		pkghttp.WriteNotFound(w, "Invite not found")
	case errors.Is(err, models.ErrInviteExpired):
		pkghttp.WriteBadRequest(w, "Invite has expired")
	case errors.Is(err, models.ErrInviteUsed):
		pkghttp.WriteBadRequest(w, "Invite has already been used")
	case errors.Is(err, models.ErrInviteRevoked):
		pkghttp.WriteBadRequest(w, "Invite has been revoked")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "An account already exists for this email")
	case errors.Is(err, models.ErrInternalServer):
		pkghttp.WriteInternalError(w, "Internal server error")
	default:
		pkghttp.WriteBadRequest(w, err.Error())
	}
}
