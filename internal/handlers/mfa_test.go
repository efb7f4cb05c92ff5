package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atriumhq/atrium/internal/handlers"
	"github.com/atriumhq/atrium/internal/models"
)

// ============================================================================
// BeginSetup Tests
// ============================================================================

func TestMFABeginSetup_Success(t *testing.T) {
	mockMFA := &handlers.MockMFAService{
		BeginSetupFunc: func(ctx context.Context, userID string) (*models.MFASetup, error) {
			assert.Equal(t, "user-123", userID)
			return &models.MFASetup{
				Secret:          "JBSWY3DPEHPK3PXP",
				ProvisioningURI: "otpauth://totp/Atrium:user@example.com?secret=JBSWY3DPEHPK3PXP",
				QRCode:          "data:image/png;base64,abc",
			}, nil
		},
	}

	handler := handlers.NewMFAHandler(mockMFA)
	req := handlers.NewTestRequest(t, "POST", "/mfa/setup", nil)
	req = handlers.WithAuthContext(req, "user-123", models.RoleUser)

	w := httptest.NewRecorder()
	handler.BeginSetup(w, req)

	var resp handlers.MFASetupResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", resp.Secret)
	assert.Contains(t, resp.ProvisioningURI, "otpauth://totp/")
	assert.Contains(t, resp.QRCode, "data:image/png;base64,")
}

func TestMFABeginSetup_AlreadyEnabled(t *testing.T) {
	mockMFA := &handlers.MockMFAService{
		BeginSetupFunc: func(ctx context.Context, userID string) (*models.MFASetup, error) {
			return nil, models.ErrMFAAlreadyEnabled
		},
	}

	handler := handlers.NewMFAHandler(mockMFA)
	req := handlers.NewTestRequest(t, "POST", "/mfa/setup", nil)
	req = handlers.WithAuthContext(req, "user-123", models.RoleUser)

	w := httptest.NewRecorder()
	handler.BeginSetup(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusConflict, "conflict")
}

func TestMFABeginSetup_NoSession(t *testing.T) {
	handler := handlers.NewMFAHandler(&handlers.MockMFAService{})
	req := handlers.NewTestRequest(t, "POST", "/mfa/setup", nil)

	w := httptest.NewRecorder()
	handler.BeginSetup(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

// ============================================================================
// ConfirmSetup Tests
// ============================================================================

func TestMFAConfirmSetup_ReturnsBackupCodes(t *testing.T) {
	codes := []string{"AAAA2222", "BBBB3333", "CCCC4444"}
	mockMFA := &handlers.MockMFAService{
		ConfirmSetupFunc: func(ctx context.Context, userID, code string) ([]string, error) {
			assert.Equal(t, "123456", code)
			return codes, nil
		},
	}

	handler := handlers.NewMFAHandler(mockMFA)
	req := handlers.NewTestRequest(t, "POST", "/mfa/setup/confirm", handlers.ConfirmSetupRequest{Code: "123456"})
	req = handlers.WithAuthContext(req, "user-123", models.RoleUser)

	w := httptest.NewRecorder()
	handler.ConfirmSetup(w, req)

	var resp handlers.BackupCodesResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, codes, resp.BackupCodes)
}

func TestMFAConfirmSetup_WrongCode(t *testing.T) {
	mockMFA := &handlers.MockMFAService{
		ConfirmSetupFunc: func(ctx context.Context, userID, code string) ([]string, error) {
			return nil, models.ErrMFAInvalidCode
		},
	}

	handler := handlers.NewMFAHandler(mockMFA)
	req := handlers.NewTestRequest(t, "POST", "/mfa/setup/confirm", handlers.ConfirmSetupRequest{Code: "000000"})
	req = handlers.WithAuthContext(req, "user-123", models.RoleUser)

	w := httptest.NewRecorder()
	handler.ConfirmSetup(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestMFAConfirmSetup_NoPendingEnrollment(t *testing.T) {
	mockMFA := &handlers.MockMFAService{
		ConfirmSetupFunc: func(ctx context.Context, userID, code string) ([]string, error) {
			return nil, models.ErrMFANoPendingSetup
		},
	}

	handler := handlers.NewMFAHandler(mockMFA)
	req := handlers.NewTestRequest(t, "POST", "/mfa/setup/confirm", handlers.ConfirmSetupRequest{Code: "123456"})
	req = handlers.WithAuthContext(req, "user-123", models.RoleUser)

	w := httptest.NewRecorder()
	handler.ConfirmSetup(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestMFAConfirmSetup_NonNumericCode(t *testing.T) {
	handler := handlers.NewMFAHandler(&handlers.MockMFAService{})
	req := handlers.NewTestRequest(t, "POST", "/mfa/setup/confirm", handlers.ConfirmSetupRequest{Code: "abcdef"})
	req = handlers.WithAuthContext(req, "user-123", models.RoleUser)

	w := httptest.NewRecorder()
	handler.ConfirmSetup(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

// ============================================================================
// Disable / Regenerate Tests
// ============================================================================

func TestMFADisable_Success(t *testing.T) {
	mockMFA := &handlers.MockMFAService{
		DisableFunc: func(ctx context.Context, userID, password string) error {
			assert.Equal(t, "SecureP@ss123", password)
			return nil
		},
	}

	handler := handlers.NewMFAHandler(mockMFA)
	req := handlers.NewTestRequest(t, "DELETE", "/mfa", handlers.PasswordGatedRequest{Password: "SecureP@ss123"})
	req = handlers.WithAuthContext(req, "user-123", models.RoleUser)

	w := httptest.NewRecorder()
	handler.Disable(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestMFADisable_WrongPassword(t *testing.T) {
	mockMFA := &handlers.MockMFAService{
		DisableFunc: func(ctx context.Context, userID, password string) error {
			return models.ErrUnauthorized
		},
	}

	handler := handlers.NewMFAHandler(mockMFA)
	req := handlers.NewTestRequest(t, "DELETE", "/mfa", handlers.PasswordGatedRequest{Password: "wrong"})
	req = handlers.WithAuthContext(req, "user-123", models.RoleUser)

	w := httptest.NewRecorder()
	handler.Disable(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestMFARegenerateBackupCodes_Success(t *testing.T) {
	mockMFA := &handlers.MockMFAService{
		RegenerateBackupCodesFunc: func(ctx context.Context, userID, password string) ([]string, error) {
			return []string{"NEWC0DE2", "NEWC0DE3"}, nil
		},
	}

	handler := handlers.NewMFAHandler(mockMFA)
	req := handlers.NewTestRequest(t, "POST", "/mfa/backup-codes", handlers.PasswordGatedRequest{Password: "SecureP@ss123"})
	req = handlers.WithAuthContext(req, "user-123", models.RoleUser)

	w := httptest.NewRecorder()
	handler.RegenerateBackupCodes(w, req)

	var resp handlers.BackupCodesResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Len(t, resp.BackupCodes, 2)
}
