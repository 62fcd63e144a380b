package session

import "errors"

var (
	// ErrUnauthorized is returned for an unknown session or a wrong secret.
	ErrUnauthorized = errors.New("session: unauthorized")

	// ErrSetupFailed wraps the cause of a failed first-time subscription setup.
	ErrSetupFailed = errors.New("session: subscription setup failed")

	// ErrConnectionLost is returned when the client cannot be told it is connected.
	ErrConnectionLost = errors.New("session: connection lost during bind")

	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("session: not found")
)
