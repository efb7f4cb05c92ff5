package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent captures the who/where of a security-relevant action.
type AuditEvent struct {
	EventType     string
	UserID        string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger emits structured audit records alongside the application log.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

func (al *AuditLogger) emit(level slog.Level, auditType string, attrs []slog.Attr) {
	base := []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	al.logger.LogAttrs(context.Background(), level, "audit", append(base, attrs...)...)
}

// LogAuthAttempt records login, MFA and token-refresh outcomes. Failures are
// logged at warn so they stand out in aggregated logs.
func (al *AuditLogger) LogAuthAttempt(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.emit(level, "auth", attrs)
}

// LogPasswordChange records password changes and reset consumptions.
func (al *AuditLogger) LogPasswordChange(userID, ipAddress string, success bool) {
	attrs := []slog.Attr{
		slog.String("event_type", "password_change"),
		slog.Bool("success", success),
		slog.String("user_id", userID),
	}
	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", ipAddress))
	}

	level := slog.LevelInfo
	if !success {
		level = slog.LevelWarn
	}
	al.emit(level, "password", attrs)
}

// LogInviteEvent records invite lifecycle transitions (created, consumed,
// revoked, admission denied). actorID may be empty for self-service flows.
func (al *AuditLogger) LogInviteEvent(eventType, inviteID, actorID string, metadata map[string]string) {
	attrs := []slog.Attr{
		slog.String("event_type", eventType),
		slog.String("invite_id", inviteID),
	}
	if actorID != "" {
		attrs = append(attrs, slog.String("actor_id", actorID))
	}
	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}
	al.emit(slog.LevelInfo, "invite", attrs)
}

// LogAccountAction records general account state changes (MFA enrollment,
// external identity linking, session revocation).
func (al *AuditLogger) LogAccountAction(eventType, userID, ipAddress string, metadata map[string]string) {
	attrs := []slog.Attr{
		slog.String("event_type", eventType),
		slog.String("user_id", userID),
	}
	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", ipAddress))
	}
	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}
	al.emit(slog.LevelInfo, "account", attrs)
}
