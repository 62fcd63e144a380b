// Package twitch is a small Helix client for the user and EventSub
// subscription endpoints, plus EventSub webhook signature verification.
//
// Every call validates the credential against the OAuth validate endpoint
// first. An invalid token is refreshed once; a failed refresh surfaces as
// ErrAuthorization. Non-2xx Helix responses surface as *UpstreamError, which
// matches ErrNoResult.
package twitch
