package session

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/oauth2"

	"github.com/teemow/eventrelay/internal/config"
	"github.com/teemow/eventrelay/internal/oauth"
	"github.com/teemow/eventrelay/internal/twitch"
)

const testCallback = "https://relay.example.com/webhook"

func newTestRegistry(t *testing.T, opts Options) (*Registry, *fakeTwitch, *clock) {
	t.Helper()

	fake := newFakeTwitch()
	if opts.CallbackURL == "" {
		opts.CallbackURL = testCallback
	}
	r := NewRegistry(fake, opts)
	c := newClock()
	r.now = c.Now
	t.Cleanup(r.Stop)
	return r, fake, c
}

func testCred() *oauth.Credential {
	return oauth.NewCredential(&oauth2.Token{AccessToken: "user-token", RefreshToken: "user-refresh"})
}

func mustCreate(t *testing.T, r *Registry) *Session {
	t.Helper()
	s, err := r.CreateSession(context.Background(), testCred())
	require.NoError(t, err)
	return s
}

func TestRegistry_CreateSession(t *testing.T) {
	r, fake, _ := newTestRegistry(t, Options{})

	s := mustCreate(t, r)
	other := mustCreate(t, r)

	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`), s.ID)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), s.Secret)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{16}$`), s.WebhookSecret)
	assert.NotEqual(t, s.ID, other.ID)
	assert.NotEqual(t, s.Secret, other.Secret)

	assert.Equal(t, 2, r.Len())
	assert.Same(t, s, r.GetSession(s.ID))
	assert.Nil(t, r.GetSession("missing"))
	assert.Empty(t, s.SubscriptionIDs())
	assert.Nil(t, s.Conn())
	assert.Equal(t, 0, fake.identifyCount(), "creating a session makes no API calls")
}

func TestRegistry_BindConnection_Unauthorized(t *testing.T) {
	r, fake, _ := newTestRegistry(t, Options{})
	s := mustCreate(t, r)

	tests := []struct {
		name   string
		id     string
		secret string
	}{
		{"unknown session", "00000000-0000-4000-8000-000000000000", s.Secret},
		{"wrong secret", s.ID, "not-the-secret"},
		{"empty secret", s.ID, ""},
		{"empty id", "", s.Secret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.BindConnection(context.Background(), tt.id, tt.secret, &fakeConn{})
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}

	assert.Nil(t, s.Conn())
	assert.Equal(t, 0, fake.identifyCount())
}

func TestRegistry_BindConnection_SetsUpSubscriptions(t *testing.T) {
	r, fake, _ := newTestRegistry(t, Options{})
	s := mustCreate(t, r)
	conn := &fakeConn{}

	require.NoError(t, r.BindConnection(context.Background(), s.ID, s.Secret, conn))

	assert.Same(t, conn, s.Conn())
	assert.Equal(t, "1234", s.UserID())
	assert.Equal(t, "streamer", s.Login())

	ids := s.SubscriptionIDs()
	require.Len(t, ids, len(config.DefaultEventTypes))
	for _, id := range ids {
		assert.Same(t, s, r.LookupSessionForWebhook(id))
	}

	fake.with(func(f *fakeTwitch) {
		require.Len(t, f.created, len(config.DefaultEventTypes))
		for i, call := range f.created {
			assert.Equal(t, config.DefaultEventTypes[i], call.eventType)
			assert.Equal(t, "1234", call.userID)
			assert.Equal(t, testCallback, call.callback)
			assert.Equal(t, s.WebhookSecret, call.secret)
		}
		assert.Equal(t, []twitch.ListFilter{{UserID: "1234"}}, f.deleteAll, "stale subscriptions are removed first")
	})
}

func TestRegistry_BindConnection_SwitchesSocket(t *testing.T) {
	r, fake, _ := newTestRegistry(t, Options{})
	s := mustCreate(t, r)
	first, second := &fakeConn{}, &fakeConn{}

	require.NoError(t, r.BindConnection(context.Background(), s.ID, s.Secret, first))
	require.NoError(t, r.BindConnection(context.Background(), s.ID, s.Secret, second))

	assert.Equal(t, []Status{StatusConnected, StatusSwitchingSocket}, first.sentStatuses())
	assert.Equal(t, []Status{StatusConnected}, second.sentStatuses())
	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())
	assert.Same(t, second, s.Conn())

	assert.Equal(t, 1, fake.identifyCount(), "setup runs once")
	assert.Len(t, s.SubscriptionIDs(), len(config.DefaultEventTypes))
}

func TestRegistry_BindConnection_ConnectedBeforeVisible(t *testing.T) {
	r, _, _ := newTestRegistry(t, Options{})
	s := mustCreate(t, r)

	var visible []bool
	conn := &fakeConn{}
	conn.onStatus = func(status Status) {
		if status != StatusConnected {
			return
		}
		for _, id := range s.SubscriptionIDs() {
			owner := r.LookupSessionForWebhook(id)
			visible = append(visible, owner != nil && owner.Conn() != nil)
		}
	}

	require.NoError(t, r.BindConnection(context.Background(), s.ID, s.Secret, conn))
	require.Len(t, visible, len(config.DefaultEventTypes))
	for _, v := range visible {
		assert.False(t, v, "no event can be forwarded before CONNECTED")
	}
	assert.Same(t, conn, s.Conn())
}

func TestRegistry_BindConnection_ConnectedSendFails(t *testing.T) {
	r, fake, _ := newTestRegistry(t, Options{})
	s := mustCreate(t, r)
	gone := &fakeConn{statusErr: errors.New("broken pipe")}

	err := r.BindConnection(context.Background(), s.ID, s.Secret, gone)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.Nil(t, s.Conn())
	assert.Len(t, s.SubscriptionIDs(), len(config.DefaultEventTypes), "subscriptions are kept for the next bind")

	conn := &fakeConn{}
	require.NoError(t, r.BindConnection(context.Background(), s.ID, s.Secret, conn))
	assert.Same(t, conn, s.Conn())
	assert.Equal(t, 1, fake.identifyCount())
}

func TestRegistry_UnbindDoesNotWaitForSetup(t *testing.T) {
	r, fake, _ := newTestRegistry(t, Options{})
	fake.with(func(f *fakeTwitch) { f.createDelay = 200 * time.Millisecond })
	s := mustCreate(t, r)
	conn := &fakeConn{}

	bound := make(chan error, 1)
	go func() { bound <- r.BindConnection(context.Background(), s.ID, s.Secret, conn) }()

	require.Eventually(t, func() bool { return fake.identifyCount() == 1 }, 2*time.Second, time.Millisecond)

	start := time.Now()
	r.UnbindConnection(s.ID, &fakeConn{})
	assert.Less(t, time.Since(start), 100*time.Millisecond, "unbind does not queue behind setup")

	require.NoError(t, <-bound)
	assert.Same(t, conn, s.Conn(), "a stale unbind leaves the new connection bound")
}

func TestRegistry_BindConnection_Concurrent(t *testing.T) {
	r, fake, _ := newTestRegistry(t, Options{})
	fake.with(func(f *fakeTwitch) { f.createDelay = 5 * time.Millisecond })
	s := mustCreate(t, r)

	const n = 8
	conns := make([]*fakeConn, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		conns[i] = &fakeConn{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.BindConnection(context.Background(), s.ID, s.Secret, conns[i])
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, fake.identifyCount(), "setup runs at most once")
	assert.Len(t, s.SubscriptionIDs(), len(config.DefaultEventTypes))

	open := 0
	for _, c := range conns {
		if !c.isClosed() {
			open++
			assert.Same(t, c, s.Conn())
			assert.Equal(t, []Status{StatusConnected}, c.sentStatuses())
		} else {
			assert.Equal(t, []Status{StatusConnected, StatusSwitchingSocket}, c.sentStatuses())
		}
	}
	assert.Equal(t, 1, open, "exactly one live connection")
}

func TestRegistry_BindConnection_SetupFailureRollsBack(t *testing.T) {
	r, fake, _ := newTestRegistry(t, Options{})
	fake.with(func(f *fakeTwitch) { f.failCreateType = "channel.cheer" })
	s := mustCreate(t, r)
	conn := &fakeConn{}

	err := r.BindConnection(context.Background(), s.ID, s.Secret, conn)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSetupFailed)
	assert.ErrorIs(t, err, twitch.ErrNoResult)

	assert.Nil(t, s.Conn())
	assert.Empty(t, s.SubscriptionIDs())
	assert.Equal(t, 0, fake.liveCount(), "created subscriptions are deleted")
	fake.with(func(f *fakeTwitch) {
		assert.Equal(t, []string{"sub-1", "sub-2"}, f.deleted)
	})
	for _, id := range []string{"sub-1", "sub-2"} {
		assert.Nil(t, r.LookupSessionForWebhook(id))
	}
	assert.NotNil(t, r.GetSession(s.ID), "the session survives a failed setup")

	// A later bind retries setup.
	fake.with(func(f *fakeTwitch) { f.failCreateType = "" })
	require.NoError(t, r.BindConnection(context.Background(), s.ID, s.Secret, conn))
	assert.Len(t, s.SubscriptionIDs(), len(config.DefaultEventTypes))
}

func TestRegistry_BindConnection_IdentifyFailure(t *testing.T) {
	r, fake, _ := newTestRegistry(t, Options{})
	fake.with(func(f *fakeTwitch) { f.identifyErr = twitch.ErrAuthorization })
	s := mustCreate(t, r)

	err := r.BindConnection(context.Background(), s.ID, s.Secret, &fakeConn{})
	assert.ErrorIs(t, err, ErrSetupFailed)
	assert.ErrorIs(t, err, twitch.ErrAuthorization)

	fake.with(func(f *fakeTwitch) { assert.Empty(t, f.created) })
}

func TestRegistry_BindAfterCleanup(t *testing.T) {
	r, _, _ := newTestRegistry(t, Options{})
	s := mustCreate(t, r)

	s.setupMu.Lock()
	done := make(chan error, 1)
	go func() {
		done <- r.BindConnection(context.Background(), s.ID, s.Secret, &fakeConn{})
	}()
	r.cleanupLocked(context.Background(), s, reasonExplicit)
	s.setupMu.Unlock()

	assert.ErrorIs(t, <-done, ErrUnauthorized)
	assert.Nil(t, s.Conn())
}

func TestRegistry_UnbindConnection(t *testing.T) {
	r, _, c := newTestRegistry(t, Options{})
	s := mustCreate(t, r)
	first, second := &fakeConn{}, &fakeConn{}

	require.NoError(t, r.BindConnection(context.Background(), s.ID, s.Secret, first))
	require.NoError(t, r.BindConnection(context.Background(), s.ID, s.Secret, second))

	c.Advance(time.Minute)
	r.UnbindConnection(s.ID, first)
	assert.Same(t, second, s.Conn(), "a stale close does not unbind the new connection")
	assert.Equal(t, c.Now(), s.LastActivityAt())

	c.Advance(time.Minute)
	r.UnbindConnection(s.ID, second)
	assert.Nil(t, s.Conn())
	assert.Equal(t, c.Now(), s.LastActivityAt())

	// Unbinding again or for an unknown session is harmless.
	r.UnbindConnection(s.ID, second)
	r.UnbindConnection("missing", second)
}

func TestRegistry_LookupSessionForWebhook(t *testing.T) {
	r, _, _ := newTestRegistry(t, Options{})
	assert.Nil(t, r.LookupSessionForWebhook(""))
	assert.Nil(t, r.LookupSessionForWebhook("unknown"))
}

func TestRegistry_CleanupSession(t *testing.T) {
	r, fake, _ := newTestRegistry(t, Options{})
	s := mustCreate(t, r)
	conn := &fakeConn{}
	require.NoError(t, r.BindConnection(context.Background(), s.ID, s.Secret, conn))
	ids := s.SubscriptionIDs()

	r.CleanupSession(context.Background(), s.ID)

	assert.Nil(t, r.GetSession(s.ID))
	assert.Equal(t, 0, r.Len())
	assert.True(t, conn.isClosed())
	assert.Equal(t, 0, fake.liveCount())
	for _, id := range ids {
		assert.Nil(t, r.LookupSessionForWebhook(id))
	}

	// Idempotent.
	r.CleanupSession(context.Background(), s.ID)
	fake.with(func(f *fakeTwitch) { assert.Len(t, f.deleted, len(ids)) })
}

func TestRegistry_CleanupSession_DeleteFailuresAreBestEffort(t *testing.T) {
	r, fake, _ := newTestRegistry(t, Options{})
	s := mustCreate(t, r)
	require.NoError(t, r.BindConnection(context.Background(), s.ID, s.Secret, &fakeConn{}))
	ids := s.SubscriptionIDs()

	fake.with(func(f *fakeTwitch) { f.deleteErr = errors.New("twitch unavailable") })
	r.CleanupSession(context.Background(), s.ID)

	assert.Nil(t, r.GetSession(s.ID))
	for _, id := range ids {
		assert.Nil(t, r.LookupSessionForWebhook(id))
	}
}

func TestRegistry_RemoveSubscription(t *testing.T) {
	r, fake, _ := newTestRegistry(t, Options{})
	s := mustCreate(t, r)
	require.NoError(t, r.BindConnection(context.Background(), s.ID, s.Secret, &fakeConn{}))
	ids := s.SubscriptionIDs()

	require.NoError(t, r.RemoveSubscription(context.Background(), s.ID, ids[0]))

	assert.Equal(t, ids[1:], s.SubscriptionIDs())
	assert.Nil(t, r.LookupSessionForWebhook(ids[0]))
	assert.Same(t, s, r.LookupSessionForWebhook(ids[1]))
	assert.NotNil(t, r.GetSession(s.ID), "the session remains")
	fake.with(func(f *fakeTwitch) { assert.Equal(t, []string{ids[0]}, f.deleted) })

	// Removing it again is a no-op.
	require.NoError(t, r.RemoveSubscription(context.Background(), s.ID, ids[0]))
	fake.with(func(f *fakeTwitch) { assert.Len(t, f.deleted, 1) })

	assert.ErrorIs(t, r.RemoveSubscription(context.Background(), "missing", ids[1]), ErrNotFound)
}

func TestRegistry_SpanEvents(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	r, _, _ := newTestRegistry(t, Options{})
	s := mustCreate(t, r)
	require.NoError(t, r.BindConnection(context.Background(), s.ID, s.Secret, &fakeConn{}))
	require.NoError(t, r.BindConnection(context.Background(), s.ID, s.Secret, &fakeConn{}))

	tracer := tp.Tracer("test")
	ctx, span := tracer.Start(context.Background(), "webhook.deliver")
	require.NoError(t, r.RemoveSubscription(ctx, s.ID, s.SubscriptionIDs()[0]))
	span.End()

	events := map[string]int{}
	for _, sp := range rec.Ended() {
		for _, ev := range sp.Events() {
			events[ev.Name]++
		}
	}
	assert.Equal(t, 1, events["connection.superseded"])
	assert.Equal(t, 1, events["subscription.removed"])
}

func TestRegistry_RemoveSubscription_AlreadyGoneAtTwitch(t *testing.T) {
	r, fake, _ := newTestRegistry(t, Options{})
	s := mustCreate(t, r)
	require.NoError(t, r.BindConnection(context.Background(), s.ID, s.Secret, &fakeConn{}))
	ids := s.SubscriptionIDs()

	fake.with(func(f *fakeTwitch) { f.deleteErr = &twitch.UpstreamError{Op: "delete_subscription", StatusCode: 404} })
	require.NoError(t, r.RemoveSubscription(context.Background(), s.ID, ids[0]))
	assert.Nil(t, r.LookupSessionForWebhook(ids[0]))

	fake.with(func(f *fakeTwitch) { f.deleteErr = &twitch.UpstreamError{Op: "delete_subscription", StatusCode: 500} })
	err := r.RemoveSubscription(context.Background(), s.ID, ids[1])
	assert.ErrorIs(t, err, twitch.ErrNoResult)
	assert.Nil(t, r.LookupSessionForWebhook(ids[1]), "the local index is updated regardless")
}

func TestRegistry_GarbageCollect(t *testing.T) {
	r, fake, c := newTestRegistry(t, Options{SessionTimeout: 10 * time.Minute})

	idle := mustCreate(t, r)
	require.NoError(t, r.BindConnection(context.Background(), idle.ID, idle.Secret, &fakeConn{}))
	r.UnbindConnection(idle.ID, idle.Conn())
	idleSubs := idle.SubscriptionIDs()

	connected := mustCreate(t, r)
	require.NoError(t, r.BindConnection(context.Background(), connected.ID, connected.Secret, &fakeConn{}))

	never := mustCreate(t, r)

	c.Advance(11 * time.Minute)
	fresh := mustCreate(t, r)

	removed := r.GarbageCollect(context.Background())
	assert.Equal(t, 2, removed)

	assert.Nil(t, r.GetSession(idle.ID))
	assert.Nil(t, r.GetSession(never.ID))
	assert.NotNil(t, r.GetSession(connected.ID), "sessions with a connection are kept")
	assert.NotNil(t, r.GetSession(fresh.ID), "recent sessions are kept")

	for _, id := range idleSubs {
		assert.Nil(t, r.LookupSessionForWebhook(id))
	}
	fake.with(func(f *fakeTwitch) { assert.Subset(t, f.deleted, idleSubs) })
}

func TestRegistry_GarbageCollect_SkipsSessionMidBind(t *testing.T) {
	r, _, c := newTestRegistry(t, Options{SessionTimeout: time.Minute})
	s := mustCreate(t, r)
	c.Advance(2 * time.Minute)

	s.setupMu.Lock()
	assert.Equal(t, 0, r.GarbageCollect(context.Background()))
	s.setupMu.Unlock()
	assert.NotNil(t, r.GetSession(s.ID))

	assert.Equal(t, 1, r.GarbageCollect(context.Background()))
	assert.Nil(t, r.GetSession(s.ID))
}

func TestRegistry_StartStop(t *testing.T) {
	r, _, c := newTestRegistry(t, Options{SessionTimeout: time.Minute, GCInterval: 10 * time.Millisecond})
	s := mustCreate(t, r)
	c.Advance(2 * time.Minute)

	r.Start(context.Background())
	r.Start(context.Background())

	assert.Eventually(t, func() bool {
		return r.GetSession(s.ID) == nil
	}, 2*time.Second, 10*time.Millisecond)

	r.Stop()
	r.Stop()
}

func TestRegistry_Shutdown(t *testing.T) {
	r, fake, _ := newTestRegistry(t, Options{})
	conns := []*fakeConn{{}, {}}
	for _, conn := range conns {
		s := mustCreate(t, r)
		require.NoError(t, r.BindConnection(context.Background(), s.ID, s.Secret, conn))
	}

	r.Shutdown(context.Background())

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, fake.liveCount())
	for _, conn := range conns {
		assert.True(t, conn.isClosed())
	}
}

// Three subscriptions are created on first bind; once the client leaves and
// the session times out, every subscription stops routing.
func TestRegistry_SessionLifecycle(t *testing.T) {
	eventTypes := []string{"channel.subscribe", "channel.subscription.gift", "channel.cheer"}
	r, fake, c := newTestRegistry(t, Options{SessionTimeout: 10 * time.Minute, EventTypes: eventTypes})

	s := mustCreate(t, r)
	conn := &fakeConn{}
	require.NoError(t, r.BindConnection(context.Background(), s.ID, s.Secret, conn))

	ids := s.SubscriptionIDs()
	require.Len(t, ids, 3)
	for _, id := range ids {
		require.Same(t, s, r.LookupSessionForWebhook(id))
	}

	r.UnbindConnection(s.ID, conn)
	c.Advance(5 * time.Minute)
	assert.Equal(t, 0, r.GarbageCollect(context.Background()), "not idle long enough")

	c.Advance(6 * time.Minute)
	assert.Equal(t, 1, r.GarbageCollect(context.Background()))

	for _, id := range ids {
		assert.Nil(t, r.LookupSessionForWebhook(id))
	}
	assert.Equal(t, 0, fake.liveCount())
}
