package oauth

import (
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Credential holds one OAuth token set. It is safe for concurrent use and is
// updated in place when the token is refreshed.
type Credential struct {
	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// NewCredential creates a Credential from an oauth2 token.
func NewCredential(tok *oauth2.Token) *Credential {
	c := &Credential{}
	c.Update(tok)
	return c
}

// AccessToken returns the current access token.
func (c *Credential) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// RefreshToken returns the current refresh token. It is empty for app credentials.
func (c *Credential) RefreshToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshToken
}

// ExpiresAt returns when the access token expires, as reported at issue time.
func (c *Credential) ExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiresAt
}

// Token returns a copy of the credential as an oauth2 token.
func (c *Credential) Token() *oauth2.Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &oauth2.Token{
		AccessToken:  c.accessToken,
		RefreshToken: c.refreshToken,
		TokenType:    "Bearer",
		Expiry:       c.expiresAt,
	}
}

// Update replaces all three fields with the values from tok.
func (c *Credential) Update(tok *oauth2.Token) {
	if tok == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = tok.AccessToken
	c.refreshToken = tok.RefreshToken
	c.expiresAt = tok.Expiry
}
