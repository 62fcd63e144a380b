package config

import "errors"

var (
	// ErrConfigFileNotFound is returned when the config file does not exist
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrClientIDRequired is returned when the Twitch client ID is missing
	ErrClientIDRequired = errors.New("twitch client id is required")

	// ErrClientSecretRequired is returned when the Twitch client secret is missing
	ErrClientSecretRequired = errors.New("twitch client secret is required")

	// ErrBaseURLRequired is returned when no public base URL is configured
	ErrBaseURLRequired = errors.New("base url is required")

	// ErrInvalidBaseURL is returned when the base URL is not absolute
	ErrInvalidBaseURL = errors.New("base url must be an absolute URL")

	// ErrInvalidSessionTimeout is returned for a non-positive session timeout
	ErrInvalidSessionTimeout = errors.New("session timeout must be positive")

	// ErrInvalidGCInterval is returned for a non-positive GC interval
	ErrInvalidGCInterval = errors.New("session gc interval must be positive")

	// ErrUnknownStoreType is returned for an unsupported store backend
	ErrUnknownStoreType = errors.New("unknown store type (allowed: memory, redis)")

	// ErrRedisAddrRequired is returned when the redis store has no address
	ErrRedisAddrRequired = errors.New("redis address is required when store type is redis")

	// ErrIncompleteTLS is returned when only one of cert/key is set
	ErrIncompleteTLS = errors.New("both tls cert file and tls key file must be set")

	// ErrMissingScope is returned when an event type needs a scope that is not requested
	ErrMissingScope = errors.New("event type requires a scope that is not configured")
)
