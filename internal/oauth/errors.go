package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthExchange matches every *AuthExchangeError via errors.Is.
	ErrAuthExchange = errors.New("oauth token exchange failed")

	// ErrNoRefreshToken is returned by Refresh for credentials that cannot be renewed.
	ErrNoRefreshToken = errors.New("no refresh token available")
)

// AuthExchangeError is returned when the token endpoint rejects an exchange.
type AuthExchangeError struct {
	Grant      string // authorization_code, client_credentials or refresh_token
	StatusCode int    // 0 when no response was received
	Body       string // truncated response body
	Err        error
}

// Error implements the error interface
func (e *AuthExchangeError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s exchange failed: %v", e.Grant, e.Err)
	}
	return fmt.Sprintf("%s exchange failed with status %d: %s", e.Grant, e.StatusCode, e.Body)
}

// Unwrap returns the underlying transport or oauth2 error.
func (e *AuthExchangeError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrAuthExchange.
func (e *AuthExchangeError) Is(target error) bool {
	return target == ErrAuthExchange
}
