package twitch

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthorization means the credential could not be validated or renewed.
	// It is terminal for the call.
	ErrAuthorization = errors.New("twitch: authorization failed")

	// ErrNoResult means Helix answered with a non-2xx status or an empty result.
	ErrNoResult = errors.New("twitch: no result")
)

// UpstreamError describes a non-2xx Helix response.
// errors.Is(err, ErrNoResult) is true for every UpstreamError.
type UpstreamError struct {
	Op         string
	StatusCode int
	Body       string
}

// Error implements the error interface
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("twitch: %s failed with status %d", e.Op, e.StatusCode)
}

// Unwrap returns ErrNoResult.
func (e *UpstreamError) Unwrap() error {
	return ErrNoResult
}
