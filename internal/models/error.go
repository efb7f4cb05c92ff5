package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountInactive = errors.New("account is not active")
	ErrLastCredential  = errors.New("cannot remove last sign-in method")

	// Invite lifecycle errors
	ErrInviteNotFound  = errors.New("invite not found")
	ErrInviteExpired   = errors.New("invite has expired")
	ErrInviteUsed      = errors.New("invite has already been used")
	ErrInviteRevoked   = errors.New("invite has been revoked")
	ErrAdmissionDenied = errors.New("admission denied: no valid invite")

	// Password reset errors. Unknown and expired tokens share a single sentinel
	// so the caller cannot distinguish which case occurred.
	ErrResetTokenInvalid = errors.New("reset token is invalid or expired")

	// MFA errors
	ErrMFANotEnabled        = errors.New("mfa is not enabled")
	ErrMFAAlreadyEnabled    = errors.New("mfa is already enabled")
	ErrMFANoPendingSetup    = errors.New("no pending mfa enrollment")
	ErrMFAInvalidCode       = errors.New("invalid mfa code")
	ErrMFAInvalidBackupCode = errors.New("invalid backup code")
)
