// Package log provides secure logging built on top of the standard slog
// package.
//
// # Security Features
//
// The SecureHandler sanitizes sensitive information in log output:
//   - HTTP headers (Authorization, Cookie, Set-Cookie, X-Api-Key)
//   - attributes whose names mark them as secrets (passwords, tokens)
//   - values detected by pattern matching (JWTs, bearer and basic auth)
//   - userinfo and sensitive query parameters of URL attributes
//
// Even in verbose mode, sensitive values are masked so that crawl logs can
// be shared.
//
// # Usage
//
//	logger := log.NewSecureLogger(os.Stderr, true) // verbose=true
//	logger.Info("fetched",
//	    "url", "https://example.com/a?token=abc", // token becomes REDACTED
//	    "cookie", "session=abc123",                // fully masked
//	)
package log
