// Package logging provides the structured logging used across gisauth.
//
// It wraps Go's slog package with a subsystem-oriented API so every line
// carries a "subsystem" attribute:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Resolver", "Using primary token for %s", url)
//	logging.Debug("Federation", "Cache miss for %s", root)
//	logging.Warn("Flow", "OAuth state mismatch for client %s", clientID)
//	logging.Error("Refresh", err, "Failed to refresh primary token")
//
// # Audit Logging
//
// Security-sensitive operations (sign-in, state mismatches, revocations) are
// additionally recorded as audit events:
//
//	logging.Audit(logging.AuditEvent{
//	    Action:  "sign_in",
//	    Outcome: "success",
//	    Portal:  portal,
//	    Token:   logging.TruncateToken(token),
//	})
//
// Audit events are logged at INFO level with an [AUDIT] prefix for easy
// filtering. Token values must never be logged in full; use TruncateToken.
package logging
