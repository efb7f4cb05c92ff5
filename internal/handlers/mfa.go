package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atriumhq/atrium/internal/auth"
	"github.com/atriumhq/atrium/internal/models"
	pkghttp "github.com/atriumhq/atrium/pkg/http"
)

// MFAServiceInterface defines the interface for MFA business logic
type MFAServiceInterface interface {
	BeginSetup(ctx context.Context, userID string) (*models.MFASetup, error)
	ConfirmSetup(ctx context.Context, userID, code string) ([]string, error)
	Disable(ctx context.Context, userID, password string) error
	RegenerateBackupCodes(ctx context.Context, userID, password string) ([]string, error)
}

// MFAHandler handles MFA enrollment HTTP requests
type MFAHandler struct {
	service MFAServiceInterface
}

// NewMFAHandler creates a new MFAHandler
func NewMFAHandler(service MFAServiceInterface) *MFAHandler {
	return &MFAHandler{service: service}
}

// ConfirmSetupRequest carries the first TOTP code proving enrollment
type ConfirmSetupRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// PasswordGatedRequest re-authenticates a sensitive MFA operation
type PasswordGatedRequest struct {
	Password string `json:"password" validate:"required"`
}

// MFASetupResponse carries the provisioning material for an authenticator app
type MFASetupResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCode          string `json:"qr_code"`
}

// BackupCodesResponse carries a freshly generated batch of backup codes. This
// is the only time the raw codes are visible.
type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// BeginSetup starts TOTP enrollment
// @Summary Begin MFA enrollment
// @Produce json
// @Success 200 {object} MFASetupResponse
// @Failure 409 {object} ErrorResponse
// @Router /mfa/setup [post]
func (h *MFAHandler) BeginSetup(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	setup, err := h.service.BeginSetup(r.Context(), claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrMFAAlreadyEnabled):
			pkghttp.WriteConflict(w, "MFA is already enabled")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "User not found")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, &MFASetupResponse{
		Secret:          setup.Secret,
		ProvisioningURI: setup.ProvisioningURI,
		QRCode:          setup.QRCode,
	})
}

// ConfirmSetup completes TOTP enrollment and returns backup codes
// @Summary Confirm MFA enrollment
// @Accept json
// @Param request body ConfirmSetupRequest true "Confirm request"
// @Produce json
// @Success 200 {object} BackupCodesResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /mfa/setup/confirm [post]
func (h *MFAHandler) ConfirmSetup(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ConfirmSetupRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	codes, err := h.service.ConfirmSetup(r.Context(), claims.UserID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrMFAInvalidCode):
			pkghttp.WriteUnauthorized(w, "Invalid code")
		case errors.Is(err, models.ErrMFANoPendingSetup):
			pkghttp.WriteBadRequest(w, "No enrollment in progress")
		case errors.Is(err, models.ErrMFAAlreadyEnabled):
			pkghttp.WriteConflict(w, "MFA is already enabled")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, &BackupCodesResponse{BackupCodes: codes})
}

// Disable turns MFA off, gated on the account password
// @Summary Disable MFA
// @Accept json
// @Param request body PasswordGatedRequest true "Disable request"
// @Success 204
// @Failure 401 {object} ErrorResponse
// @Router /mfa [delete]
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req PasswordGatedRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.Disable(r.Context(), claims.UserID, req.Password); err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		case errors.Is(err, models.ErrMFANotEnabled):
			pkghttp.WriteBadRequest(w, "MFA is not enabled")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RegenerateBackupCodes replaces the backup code batch, gated on the password
// @Summary Regenerate backup codes
// @Accept json
// @Param request body PasswordGatedRequest true "Regenerate request"
// @Produce json
// @Success 200 {object} BackupCodesResponse
// @Failure 401 {object} ErrorResponse
// @Router /mfa/backup-codes [post]
func (h *MFAHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req PasswordGatedRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	codes, err := h.service.RegenerateBackupCodes(r.Context(), claims.UserID, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		case errors.Is(err, models.ErrMFANotEnabled):
			pkghttp.WriteBadRequest(w, "MFA is not enabled")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, &BackupCodesResponse{BackupCodes: codes})
}
