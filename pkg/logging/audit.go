package logging

import (
	"context"
	"log/slog"
)

// AuditEvent describes a security-relevant action of the identity manager.
type AuditEvent struct {
	// Action is what happened, e.g. "sign_in", "state_mismatch", "revoke".
	Action string
	// Outcome is "success", "failure" or "denied".
	Outcome string
	// Portal is the portal the action ran against.
	Portal string
	// Target is the server or client the action concerned, if any.
	Target string
	// Username is the user involved, if known.
	Username string
	// Token is a truncated token identifier. Use TruncateToken to fill it.
	Token string
	// Error carries the failure reason for failed outcomes.
	Error string
}

// Audit logs an audit event at INFO level with an [AUDIT] prefix.
func Audit(event AuditEvent) {
	l := logger()
	if l == nil {
		return
	}

	attrs := []slog.Attr{
		slog.String("subsystem", "Audit"),
		slog.String("action", event.Action),
		slog.String("outcome", event.Outcome),
	}
	if event.Portal != "" {
		attrs = append(attrs, slog.String("portal", event.Portal))
	}
	if event.Target != "" {
		attrs = append(attrs, slog.String("target", event.Target))
	}
	if event.Username != "" {
		attrs = append(attrs, slog.String("username", event.Username))
	}
	if event.Token != "" {
		attrs = append(attrs, slog.String("token", event.Token))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}

	l.LogAttrs(context.Background(), slog.LevelInfo, "[AUDIT] "+event.Action, attrs...)
}

// TruncateToken returns a short, non-reversible prefix of a token suitable for
// correlating log lines. Tokens of eight characters or fewer are fully masked.
func TruncateToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
