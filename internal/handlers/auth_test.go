package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atriumhq/atrium/internal/handlers"
	"github.com/atriumhq/atrium/internal/models"
	"github.com/atriumhq/atrium/internal/services"
)

func authResult(mfaRequired bool) *services.AuthResult {
	return &services.AuthResult{
		User: &models.User{
			ID:     "user-123",
			Email:  "user@example.com",
			Name:   "Test User",
			Role:   models.RoleUser,
			Status: models.StatusActive,
		},
		AccessToken:  "access_token_123",
		RefreshToken: "refresh_token_123",
		MFARequired:  mfaRequired,
	}
}

// ============================================================================
// Login Tests
// ============================================================================

func TestLogin_Success(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, email, password, ipAddress, userAgent string) (*services.AuthResult, error) {
			assert.Equal(t, "user@example.com", email)
			return authResult(false), nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "SecureP@ss123",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	var resp handlers.AuthResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "access_token_123", resp.AccessToken)
	assert.Equal(t, "refresh_token_123", resp.RefreshToken)
	assert.False(t, resp.MFARequired)
	assert.Equal(t, "user-123", resp.User.ID)
}

func TestLogin_MFARequired(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, email, password, ipAddress, userAgent string) (*services.AuthResult, error) {
			return authResult(true), nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "SecureP@ss123",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	var resp handlers.AuthResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.True(t, resp.MFARequired)
}

func TestLogin_AuthenticationFailed(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, email, password, ipAddress, userAgent string) (*services.AuthResult, error) {
			return nil, models.ErrUnauthorized
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "wrongpassword",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestLogin_InactiveAccount(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, email, password, ipAddress, userAgent string) (*services.AuthResult, error) {
			return nil, models.ErrAccountInactive
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "SecureP@ss123",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusForbidden, "forbidden")
}

func TestLogin_RateLimitExceeded(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, email, password, ipAddress, userAgent string) (*services.AuthResult, error) {
			return nil, models.ErrRateLimited
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "SecureP@ss123",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusTooManyRequests, "rate_limit_exceeded")
}

func TestLogin_InvalidBody(t *testing.T) {
	handler := handlers.NewAuthHandler(&handlers.MockAuthService{}, nil)

	req := httptest.NewRequest("POST", "/auth/login", nil)
	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestLogin_MissingEmail(t *testing.T) {
	handler := handlers.NewAuthHandler(&handlers.MockAuthService{}, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Password: "SecureP@ss123",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

// ============================================================================
// Register Tests
// ============================================================================

func TestRegister_Success(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		RegisterWithInviteFunc: func(ctx context.Context, rawToken, name, password string) (*services.AuthResult, error) {
			assert.Equal(t, "raw-invite-token", rawToken)
			assert.Equal(t, "New User", name)
			return authResult(false), nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/register", handlers.RegisterRequest{
		Token:    "raw-invite-token",
		Name:     "  New User  ", // whitespace is trimmed
		Password: "SecureP@ss123",
	})

	w := httptest.NewRecorder()
	handler.Register(w, req)

	var resp handlers.AuthResponse
	handlers.AssertJSONResponse(t, w, http.StatusCreated, &resp)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestRegister_InviteErrors(t *testing.T) {
	tests := []struct {
		name       string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{"unknown token", models.ErrInviteNotFound, http.StatusNotFound, "not_found"},
		{"expired invite", models.ErrInviteExpired, http.StatusBadRequest, "bad_request"},
		{"consumed invite", models.ErrInviteUsed, http.StatusBadRequest, "bad_request"},
		{"revoked invite", models.ErrInviteRevoked, http.StatusBadRequest, "bad_request"},
		{"email already registered", models.ErrConflict, http.StatusConflict, "conflict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAuth := &handlers.MockAuthService{
				RegisterWithInviteFunc: func(ctx context.Context, rawToken, name, password string) (*services.AuthResult, error) {
					return nil, tt.serviceErr
				},
			}

			handler := handlers.NewAuthHandler(mockAuth, nil)
			req := handlers.NewTestRequest(t, "POST", "/auth/register", handlers.RegisterRequest{
				Token:    "raw-invite-token",
				Name:     "New User",
				Password: "SecureP@ss123",
			})

			w := httptest.NewRecorder()
			handler.Register(w, req)

			handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}

// ============================================================================
// VerifyMFA Tests
// ============================================================================

func TestVerifyMFA_Success(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		ElevateMFAFunc: func(ctx context.Context, claims *models.SessionClaims, code string) (*services.AuthResult, error) {
			assert.Equal(t, "123456", code)
			return authResult(false), nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/mfa/verify", handlers.MFAVerifyRequest{Code: "123456"})
	req = handlers.WithClaims(req, &models.SessionClaims{
		UserID:      "user-123",
		MFAEnabled:  true,
		MFAVerified: false,
	})

	w := httptest.NewRecorder()
	handler.VerifyMFA(w, req)

	var resp handlers.AuthResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.True(t, resp.Verified)
	assert.Nil(t, resp.BackupCodesRemaining, "TOTP verification carries no backup code count")
}

func TestVerifyMFA_BackupCodeReportsRemaining(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		ElevateMFAFunc: func(ctx context.Context, claims *models.SessionClaims, code string) (*services.AuthResult, error) {
			result := authResult(false)
			remaining := 4
			result.BackupCodesRemaining = &remaining
			return result, nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/mfa/verify", handlers.MFAVerifyRequest{Code: "AAAA-BBBB"})
	req = handlers.WithAuthContext(req, "user-123", models.RoleUser)

	w := httptest.NewRecorder()
	handler.VerifyMFA(w, req)

	var resp handlers.AuthResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.True(t, resp.Verified)
	if assert.NotNil(t, resp.BackupCodesRemaining) {
		assert.Equal(t, 4, *resp.BackupCodesRemaining)
	}
}

func TestVerifyMFA_InvalidCode(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		ElevateMFAFunc: func(ctx context.Context, claims *models.SessionClaims, code string) (*services.AuthResult, error) {
			return nil, models.ErrMFAInvalidCode
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/mfa/verify", handlers.MFAVerifyRequest{Code: "000000"})
	req = handlers.WithAuthContext(req, "user-123", models.RoleUser)

	w := httptest.NewRecorder()
	handler.VerifyMFA(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestVerifyMFA_NoSession(t *testing.T) {
	handler := handlers.NewAuthHandler(&handlers.MockAuthService{}, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/mfa/verify", handlers.MFAVerifyRequest{Code: "123456"})

	w := httptest.NewRecorder()
	handler.VerifyMFA(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

// ============================================================================
// Refresh / Logout Tests
// ============================================================================

func TestRefreshToken_Success(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		RefreshFunc: func(ctx context.Context, refreshToken string) (*services.AuthResult, error) {
			assert.Equal(t, "refresh_token_123", refreshToken)
			return authResult(false), nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/refresh", handlers.RefreshTokenRequest{
		RefreshToken: "refresh_token_123",
	})

	w := httptest.NewRecorder()
	handler.RefreshToken(w, req)

	var resp handlers.AuthResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
}

func TestRefreshToken_Rotated(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		RefreshFunc: func(ctx context.Context, refreshToken string) (*services.AuthResult, error) {
			return nil, models.ErrUnauthorized
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/refresh", handlers.RefreshTokenRequest{
		RefreshToken: "already_rotated",
	})

	w := httptest.NewRecorder()
	handler.RefreshToken(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestLogout_Success(t *testing.T) {
	logoutCalled := false
	mockAuth := &handlers.MockAuthService{
		LogoutFunc: func(ctx context.Context, claims *models.SessionClaims) error {
			logoutCalled = true
			return nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/logout", nil)
	req = handlers.WithAuthContext(req, "user-123", models.RoleUser)

	w := httptest.NewRecorder()
	handler.Logout(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, logoutCalled)
}

// ============================================================================
// ChangePassword Tests
// ============================================================================

func TestChangePassword_Success(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		ChangePasswordFunc: func(ctx context.Context, userID, currentPassword, newPassword string) error {
			assert.Equal(t, "user-123", userID)
			return nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "PUT", "/auth/password", handlers.ChangePasswordRequest{
		CurrentPassword: "OldP@ssw0rd",
		NewPassword:     "NewP@ssw0rd1",
	})
	req = handlers.WithAuthContext(req, "user-123", models.RoleUser)

	w := httptest.NewRecorder()
	handler.ChangePassword(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestChangePassword_WrongCurrentPassword(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		ChangePasswordFunc: func(ctx context.Context, userID, currentPassword, newPassword string) error {
			return models.ErrUnauthorized
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "PUT", "/auth/password", handlers.ChangePasswordRequest{
		CurrentPassword: "wrong",
		NewPassword:     "NewP@ssw0rd1",
	})
	req = handlers.WithAuthContext(req, "user-123", models.RoleUser)

	w := httptest.NewRecorder()
	handler.ChangePassword(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

// ============================================================================
// External Identity Tests
// ============================================================================

func TestExternalSignIn_Success(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		SignInExternalFunc: func(ctx context.Context, provider, providerID, email, name string) (*services.AuthResult, error) {
			assert.Equal(t, "google", provider)
			assert.Equal(t, "google-uid-1", providerID)
			return authResult(false), nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/external", handlers.ExternalSignInRequest{
		Provider:   "google",
		ProviderID: "google-uid-1",
		Email:      "user@example.com",
		Name:       "Test User",
	})

	w := httptest.NewRecorder()
	handler.ExternalSignIn(w, req)

	var resp handlers.AuthResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
}

func TestExternalSignIn_AdmissionDenied(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		SignInExternalFunc: func(ctx context.Context, provider, providerID, email, name string) (*services.AuthResult, error) {
			return nil, models.ErrAdmissionDenied
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/external", handlers.ExternalSignInRequest{
		Provider:   "github",
		ProviderID: "gh-uid-1",
		Email:      "stranger@example.com",
		Name:       "Stranger",
	})

	w := httptest.NewRecorder()
	handler.ExternalSignIn(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusForbidden, "forbidden")
}

func TestExternalSignIn_UnknownProvider(t *testing.T) {
	handler := handlers.NewAuthHandler(&handlers.MockAuthService{}, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/external", handlers.ExternalSignInRequest{
		Provider:   "myspace",
		ProviderID: "id-1",
		Email:      "user@example.com",
		Name:       "Test User",
	})

	w := httptest.NewRecorder()
	handler.ExternalSignIn(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestDisconnectExternal_LastCredential(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		DisconnectExternalFunc: func(ctx context.Context, userID, provider string) error {
			return models.ErrLastCredential
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "DELETE", "/auth/external", handlers.DisconnectExternalRequest{
		Provider: "google",
	})
	req = handlers.WithAuthContext(req, "user-123", models.RoleUser)

	w := httptest.NewRecorder()
	handler.DisconnectExternal(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusConflict, "conflict")
}
