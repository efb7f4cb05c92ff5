package models

import (
	"time"
)

// BackupCodeLength is the length of a raw backup code. Submitted MFA codes of
// this length are dispatched to the backup-code path; 6-digit codes go to TOTP.
const BackupCodeLength = 8

// TOTPCodeLength is the length of a time-based code.
const TOTPCodeLength = 6

// BackupCode is a single-use recovery credential issued in a batch at MFA
// enrollment. Only the SHA-256 hash of the raw code is stored.
type BackupCode struct {
	ID        string
	UserID    string
	CodeHash  string
	UsedAt    *time.Time // nil = unused
	CreatedAt time.Time
}

// MFASetup contains the material returned once at enrollment start.
type MFASetup struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCode          string `json:"qr_code"` // data:image/png;base64 URL
}

// MFAVerification is the result of a code check during login.
type MFAVerification struct {
	Verified             bool
	UsedBackupCode       bool
	BackupCodesRemaining int // meaningful only when UsedBackupCode
}
