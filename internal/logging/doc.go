// Package logging provides structured logging helpers for calagent.
//
// All packages log through log/slog. This package fixes the attribute names
// shared across the codebase and builds the process logger from the
// configured format and level.
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "publish_events")
//	logger.Info("event created", logging.RequestID(id), logging.Status("success"))
//
// # Security Considerations
//
// Tokens are never logged directly (SanitizeToken), and instruction text is
// only logged as a Fingerprint.
package logging
