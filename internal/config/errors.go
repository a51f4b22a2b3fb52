package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrNoSeed is returned when no seed URL is given.
	ErrNoSeed = errors.New("no seed url specified")

	// ErrInvalidTimeout is returned when the fetch timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid fetch timeout: must be positive")

	// ErrInvalidConcurrency is returned when the worker count is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrInvalidHostConcurrency is returned when the per-host concurrency is
	// not positive.
	ErrInvalidHostConcurrency = errors.New("invalid per-host concurrency: must be positive")

	// ErrInvalidDelay is returned when the per-host delay is negative.
	ErrInvalidDelay = errors.New("invalid per-host delay: must be non-negative")

	// ErrInvalidRate is returned when the per-host rate is negative or its
	// burst is not positive.
	ErrInvalidRate = errors.New("invalid per-host rate: rate must be non-negative and burst positive")

	// ErrInvalidMaxContentLength is returned when the body limit is negative.
	ErrInvalidMaxContentLength = errors.New("invalid max content length: must be non-negative")

	// ErrInvalidMaxRedirects is returned when the redirect limit is negative.
	ErrInvalidMaxRedirects = errors.New("invalid max redirects: must be non-negative")

	// ErrInvalidRetries is returned when a retry count is negative.
	ErrInvalidRetries = errors.New("invalid retries: must be non-negative")

	// ErrInvalidRetryDelay is returned when the backoff base is not positive
	// or the cap is below the base.
	ErrInvalidRetryDelay = errors.New("invalid retry delay: base must be positive and not above the maximum")

	// ErrInvalidDuplicateSensitivity is returned when the sensitivity is
	// outside 0 to 64.
	ErrInvalidDuplicateSensitivity = errors.New("invalid duplicate sensitivity: must be between 0 and 64")

	// ErrInvalidDuration is returned when the stall threshold or run timeout
	// is negative.
	ErrInvalidDuration = errors.New("invalid duration: must be non-negative")

	// ErrUnknownSelection is returned for an unknown selection policy.
	ErrUnknownSelection = errors.New("unknown selection policy")

	// ErrUnknownReportFormat is returned for an unknown report format.
	ErrUnknownReportFormat = errors.New("unknown report format: use text, json or markdown")

	// ErrUnknownLogFormat is returned for an unknown log format.
	ErrUnknownLogFormat = errors.New("unknown log format: use text or json")

	// ErrConflictingProxy is returned when both --proxy and --tor are given.
	ErrConflictingProxy = errors.New("conflicting proxy settings: --proxy and --tor cannot be used together")

	// ErrConfigNotFound is returned when the configuration file does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")
)
