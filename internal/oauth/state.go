package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/teemow/eventrelay/internal/store"
)

// DefaultStateTTL bounds how long a login may take between /login and /authorize.
const DefaultStateTTL = 10 * time.Minute

const stateKeyPrefix = "state:"

// StateStore issues and consumes single-use OAuth state values.
type StateStore struct {
	store store.Store
	ttl   time.Duration
}

// NewStateStore creates a StateStore on top of s. A non-positive ttl uses DefaultStateTTL.
func NewStateStore(s store.Store, ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateStore{store: s, ttl: ttl}
}

// Issue generates and records a new state value.
func (s *StateStore) Issue(ctx context.Context) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(b)

	if err := s.store.Set(ctx, stateKeyPrefix+state, []byte{1}, s.ttl); err != nil {
		return "", fmt.Errorf("failed to save state: %w", err)
	}
	return state, nil
}

// Consume reports whether state was issued and not yet used, and removes it.
func (s *StateStore) Consume(ctx context.Context, state string) (bool, error) {
	if state == "" {
		return false, nil
	}
	if _, err := s.store.Take(ctx, stateKeyPrefix+state); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to consume state: %w", err)
	}
	return true, nil
}
