package logger

import (
	"log/slog"
	"strings"
)

// SanitizedEmail masks an email address for logging (e.g., "u***@e***.com").
// Raw addresses never land in log storage; audit records carry user IDs.
func SanitizedEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "[invalid-email]"
	}

	username := email[:at]
	domain := email[at+1:]

	if len(username) > 1 {
		username = string(username[0]) + strings.Repeat("*", len(username)-1)
	}

	// Mask every domain label except the TLD.
	labels := strings.Split(domain, ".")
	if len(labels) > 1 {
		for i := 0; i < len(labels)-1; i++ {
			labels[i] = strings.Repeat("*", len(labels[i]))
		}
		domain = strings.Join(labels, ".")
	}

	return username + "@" + domain
}

// RedactedAttr returns a redacted slog attribute for sensitive values.
// Production builds never log the raw value.
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// sensitiveParams lists query parameter substrings that carry credential
// material. Invite and reset tokens arrive via URL, so "token" matters here.
var sensitiveParams = []string{
	"password",
	"token",
	"secret",
	"code",
	"invite",
	"email",
	"auth",
}

// SanitizeQueryString reports whether a raw query string contains sensitive
// parameters and should be dropped from request logs entirely.
func SanitizeQueryString(rawQuery string) bool {
	if rawQuery == "" {
		return false
	}
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
