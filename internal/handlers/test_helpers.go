package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atriumhq/atrium/internal/auth"
	"github.com/atriumhq/atrium/internal/models"
	"github.com/atriumhq/atrium/internal/services"
	pkghttp "github.com/atriumhq/atrium/pkg/http"
)

// NewTestRequest creates an HTTP request with a JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext injects fully verified session claims into the request
// context, as RequireAuth would after validating a bearer token.
func WithAuthContext(req *http.Request, userID, role string) *http.Request {
	claims := &models.SessionClaims{
		Type:        "access",
		UserID:      userID,
		Role:        role,
		Status:      models.StatusActive,
		MFAVerified: true,
	}
	return WithClaims(req, claims)
}

// WithClaims injects arbitrary session claims into the request context.
func WithClaims(req *http.Request, claims *models.SessionClaims) *http.Request {
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks the response status and decodes the JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that the response is a well-formed error body
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc              func(ctx context.Context, email, password, ipAddress, userAgent string) (*services.AuthResult, error)
	RegisterWithInviteFunc func(ctx context.Context, rawToken, name, password string) (*services.AuthResult, error)
	ElevateMFAFunc         func(ctx context.Context, claims *models.SessionClaims, code string) (*services.AuthResult, error)
	RefreshFunc            func(ctx context.Context, refreshToken string) (*services.AuthResult, error)
	LogoutFunc             func(ctx context.Context, claims *models.SessionClaims) error
	LogoutAllFunc          func(ctx context.Context, userID string) error
	ChangePasswordFunc     func(ctx context.Context, userID, currentPassword, newPassword string) error
	SignInExternalFunc     func(ctx context.Context, provider, providerID, email, name string) (*services.AuthResult, error)
	DisconnectExternalFunc func(ctx context.Context, userID, provider string) error
}

func (m *MockAuthService) Login(ctx context.Context, email, password, ipAddress, userAgent string) (*services.AuthResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, email, password, ipAddress, userAgent)
}

func (m *MockAuthService) RegisterWithInvite(ctx context.Context, rawToken, name, password string) (*services.AuthResult, error) {
	if m.RegisterWithInviteFunc == nil {
		return nil, models.ErrInviteNotFound
	}
	return m.RegisterWithInviteFunc(ctx, rawToken, name, password)
}

func (m *MockAuthService) ElevateMFA(ctx context.Context, claims *models.SessionClaims, code string) (*services.AuthResult, error) {
	if m.ElevateMFAFunc == nil {
		return nil, models.ErrMFAInvalidCode
	}
	return m.ElevateMFAFunc(ctx, claims, code)
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string) (*services.AuthResult, error) {
	if m.RefreshFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.RefreshFunc(ctx, refreshToken)
}

func (m *MockAuthService) Logout(ctx context.Context, claims *models.SessionClaims) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, claims)
}

func (m *MockAuthService) LogoutAll(ctx context.Context, userID string) error {
	if m.LogoutAllFunc == nil {
		return nil
	}
	return m.LogoutAllFunc(ctx, userID)
}

func (m *MockAuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if m.ChangePasswordFunc == nil {
		return nil
	}
	return m.ChangePasswordFunc(ctx, userID, currentPassword, newPassword)
}

func (m *MockAuthService) SignInExternal(ctx context.Context, provider, providerID, email, name string) (*services.AuthResult, error) {
	if m.SignInExternalFunc == nil {
		return nil, models.ErrAdmissionDenied
	}
	return m.SignInExternalFunc(ctx, provider, providerID, email, name)
}

func (m *MockAuthService) DisconnectExternal(ctx context.Context, userID, provider string) error {
	if m.DisconnectExternalFunc == nil {
		return nil
	}
	return m.DisconnectExternalFunc(ctx, userID, provider)
}

// MockInviteService implements InviteServiceInterface for testing
type MockInviteService struct {
	CreateFunc            func(ctx context.Context, email, role, issuerID string, message *string) (*models.Invite, error)
	CreateSelfServiceFunc func(ctx context.Context, email, role, issuerID string, message *string) (*models.Invite, error)
	ValidateFunc          func(ctx context.Context, rawToken string) (*models.Invite, error)
	RevokeFunc            func(ctx context.Context, id, adminID string) error
	ListFunc              func(ctx context.Context, limit, offset int) ([]*models.Invite, error)
}

func (m *MockInviteService) Create(ctx context.Context, email, role, issuerID string, message *string) (*models.Invite, error) {
	if m.CreateFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.CreateFunc(ctx, email, role, issuerID, message)
}

func (m *MockInviteService) CreateSelfService(ctx context.Context, email, role, issuerID string, message *string) (*models.Invite, error) {
	if m.CreateSelfServiceFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.CreateSelfServiceFunc(ctx, email, role, issuerID, message)
}

func (m *MockInviteService) Validate(ctx context.Context, rawToken string) (*models.Invite, error) {
	if m.ValidateFunc == nil {
		return nil, models.ErrInviteNotFound
	}
	return m.ValidateFunc(ctx, rawToken)
}

func (m *MockInviteService) Revoke(ctx context.Context, id, adminID string) error {
	if m.RevokeFunc == nil {
		return nil
	}
	return m.RevokeFunc(ctx, id, adminID)
}

func (m *MockInviteService) List(ctx context.Context, limit, offset int) ([]*models.Invite, error) {
	if m.ListFunc == nil {
		return nil, nil
	}
	return m.ListFunc(ctx, limit, offset)
}

// MockMFAService implements MFAServiceInterface for testing
type MockMFAService struct {
	BeginSetupFunc            func(ctx context.Context, userID string) (*models.MFASetup, error)
	ConfirmSetupFunc          func(ctx context.Context, userID, code string) ([]string, error)
	DisableFunc               func(ctx context.Context, userID, password string) error
	RegenerateBackupCodesFunc func(ctx context.Context, userID, password string) ([]string, error)
}

func (m *MockMFAService) BeginSetup(ctx context.Context, userID string) (*models.MFASetup, error) {
	if m.BeginSetupFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.BeginSetupFunc(ctx, userID)
}

func (m *MockMFAService) ConfirmSetup(ctx context.Context, userID, code string) ([]string, error) {
	if m.ConfirmSetupFunc == nil {
		return nil, models.ErrMFAInvalidCode
	}
	return m.ConfirmSetupFunc(ctx, userID, code)
}

func (m *MockMFAService) Disable(ctx context.Context, userID, password string) error {
	if m.DisableFunc == nil {
		return nil
	}
	return m.DisableFunc(ctx, userID, password)
}

func (m *MockMFAService) RegenerateBackupCodes(ctx context.Context, userID, password string) ([]string, error) {
	if m.RegenerateBackupCodesFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.RegenerateBackupCodesFunc(ctx, userID, password)
}

// MockPasswordResetService implements PasswordResetServiceInterface for testing
type MockPasswordResetService struct {
	RequestFunc  func(ctx context.Context, email, ipAddress, userAgent string) error
	ValidateFunc func(ctx context.Context, rawToken string) (bool, error)
	ConsumeFunc  func(ctx context.Context, rawToken, newPassword string) error
}

func (m *MockPasswordResetService) Request(ctx context.Context, email, ipAddress, userAgent string) error {
	if m.RequestFunc == nil {
		return nil
	}
	return m.RequestFunc(ctx, email, ipAddress, userAgent)
}

func (m *MockPasswordResetService) Validate(ctx context.Context, rawToken string) (bool, error) {
	if m.ValidateFunc == nil {
		return false, nil
	}
	return m.ValidateFunc(ctx, rawToken)
}

func (m *MockPasswordResetService) Consume(ctx context.Context, rawToken, newPassword string) error {
	if m.ConsumeFunc == nil {
		return models.ErrResetTokenInvalid
	}
	return m.ConsumeFunc(ctx, rawToken, newPassword)
}
