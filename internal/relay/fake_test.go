package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/teemow/eventrelay/internal/oauth"
	"github.com/teemow/eventrelay/internal/session"
	"github.com/teemow/eventrelay/internal/twitch"
)

// fakeTwitch serves as both the user and the app provider.
type fakeTwitch struct {
	mu      sync.Mutex
	nextID  int
	types   map[string]string
	deleted []string
}

func newFakeTwitch() *fakeTwitch {
	return &fakeTwitch{types: make(map[string]string)}
}

func (f *fakeTwitch) ForCredential(*oauth.Credential) session.Provider { return f }
func (f *fakeTwitch) App() session.Provider { return f }

func (f *fakeTwitch) IdentifyCurrentUser(context.Context) (*twitch.User, error) {
	return &twitch.User{ID: "1234", Login: "streamer"}, nil
}

func (f *fakeTwitch) ListSubscriptions(context.Context, twitch.ListFilter, string) (*twitch.SubscriptionPage, error) {
	return &twitch.SubscriptionPage{}, nil
}

func (f *fakeTwitch) CreateSubscription(_ context.Context, subType, _, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("sub-%d", f.nextID)
	f.types[id] = subType
	return id, nil
}

func (f *fakeTwitch) DeleteSubscription(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeTwitch) DeleteAllSubscriptions(context.Context, twitch.ListFilter) (int, error) {
	return 0, nil
}

func (f *fakeTwitch) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeTwitch) typeOf(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.types[id]
}

type fakeConn struct {
	mu      sync.Mutex
	events  [][]byte
	sendErr error
}

func (c *fakeConn) SendStatus(context.Context, session.Status) error { return nil }

func (c *fakeConn) SendEvent(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.events = append(c.events, append([]byte(nil), payload...))
	return nil
}

func (c *fakeConn) Close(string) error { return nil }

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.events...)
}
