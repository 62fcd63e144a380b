package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/teemow/eventrelay/internal/oauth"
	"github.com/teemow/eventrelay/internal/twitch"
)

type createCall struct {
	eventType string
	userID    string
	callback  string
	secret    string
}

// fakeTwitch records subscription calls. The same fake serves as the user
// and the app provider.
type fakeTwitch struct {
	mu             sync.Mutex
	user           *twitch.User
	identifyErr    error
	identifyCalls  int
	failCreateType string
	deleteErr      error
	nextID         int
	created        []createCall
	live           map[string]bool
	deleted        []string
	deleteAll      []twitch.ListFilter
	createDelay    time.Duration
}

func newFakeTwitch() *fakeTwitch {
	return &fakeTwitch{
		user: &twitch.User{ID: "1234", Login: "streamer"},
		live: make(map[string]bool),
	}
}

func (f *fakeTwitch) ForCredential(*oauth.Credential) Provider { return f }
func (f *fakeTwitch) App() Provider { return f }

func (f *fakeTwitch) IdentifyCurrentUser(context.Context) (*twitch.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identifyCalls++
	if f.identifyErr != nil {
		return nil, f.identifyErr
	}
	u := *f.user
	return &u, nil
}

func (f *fakeTwitch) ListSubscriptions(context.Context, twitch.ListFilter, string) (*twitch.SubscriptionPage, error) {
	return &twitch.SubscriptionPage{}, nil
}

func (f *fakeTwitch) CreateSubscription(_ context.Context, subType, userID, callbackURL, secret string) (string, error) {
	f.mu.Lock()
	delay := f.createDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if subType == f.failCreateType {
		return "", fmt.Errorf("%w: conflict", twitch.ErrNoResult)
	}
	f.nextID++
	id := fmt.Sprintf("sub-%d", f.nextID)
	f.created = append(f.created, createCall{eventType: subType, userID: userID, callback: callbackURL, secret: secret})
	f.live[id] = true
	return id, nil
}

func (f *fakeTwitch) DeleteSubscription(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	delete(f.live, id)
	return nil
}

func (f *fakeTwitch) DeleteAllSubscriptions(_ context.Context, filter twitch.ListFilter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteAll = append(f.deleteAll, filter)
	return 0, nil
}

func (f *fakeTwitch) with(fn func(f *fakeTwitch)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeTwitch) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

func (f *fakeTwitch) identifyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identifyCalls
}

type fakeConn struct {
	mu          sync.Mutex
	onStatus    func(Status)
	statusErr   error
	statuses    []Status
	events      [][]byte
	closed      bool
	closeReason string
}

func (c *fakeConn) SendStatus(_ context.Context, status Status) error {
	if c.onStatus != nil {
		c.onStatus(status)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statusErr != nil {
		return c.statusErr
	}
	c.statuses = append(c.statuses, status)
	return nil
}

func (c *fakeConn) SendEvent(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, payload)
	return nil
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeReason = reason
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) sentStatuses() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Status(nil), c.statuses...)
}

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
