// Package logging provides structured logging utilities for the eventrelay service.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Key Features
//
//   - Structured logging with slog (text or JSON)
//   - Optional size-based log file rotation
//   - Consistent attribute naming across the codebase
//   - Secret and identifier sanitization helpers
//
// # Usage Patterns
//
// Create a component logger:
//
//	logger := logging.WithComponent(base, "relay")
//	logger.Info("webhook accepted",
//	    logging.Subscription(subID),
//	    logging.Status("success"))
//
// # Security Considerations
//
//   - Session secrets, webhook secrets and OAuth tokens are never logged directly
//   - Provider user IDs can be hashed with AnonymizeID when correlation is enough
package logging
