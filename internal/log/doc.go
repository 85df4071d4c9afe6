// Package log provides slog loggers that mask sensitive values.
//
// Crawled pages link to login forms, password resets and signed
// downloads, and S3 credentials pass through configuration. The
// SecureHandler keeps them out of log output:
//   - attributes with sensitive keys (cookie, password, secret_key) are masked
//   - values that look like tokens or private keys are masked
//   - URLs keep their shape but lose passwords and sensitive query parameters
//
// # Usage
//
//	logger := log.NewSecureLogger(os.Stderr, verbose)
//	logger.Info("navigating", "url", "https://example.com/reset?token=abc")
//	// url=https://example.com/reset?token=%2A%2A%2AREDACTED%2A%2A%2A
//
// The JSON variant is meant for the HTTP server:
//
//	slog.SetDefault(log.NewSecureJSONLogger(os.Stderr, false))
package log
