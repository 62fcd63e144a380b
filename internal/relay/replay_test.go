package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/eventrelay/internal/store"
)

func TestReplayGuard_Check(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	format := func(d time.Duration) string { return now.Add(d).Format(time.RFC3339Nano) }

	tests := []struct {
		name      string
		messageID string
		timestamp string
		want      Verdict
	}{
		{"recent", "m-1", format(-time.Minute), VerdictFresh},
		{"exactly now", "m-2", format(0), VerdictFresh},
		{"repeated id", "m-1", format(-time.Minute), VerdictDuplicate},
		{"repeated id with a new timestamp", "m-1", format(0), VerdictDuplicate},
		{"older than window", "m-3", format(-11 * time.Minute), VerdictStale},
		{"far in the future", "m-4", format(11 * time.Minute), VerdictStale},
		{"unparsable", "m-5", "not-a-time", VerdictStale},
		{"empty timestamp", "m-6", "", VerdictStale},
	}

	s := store.NewMemoryStore(0)
	t.Cleanup(func() { _ = s.Close() })
	g := NewReplayGuard(s, 10*time.Minute)
	g.now = func() time.Time { return now }

	// Subtests share the guard and run in order.
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Check(context.Background(), tt.messageID, tt.timestamp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReplayGuard_StaleDoesNotOccupyID(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := store.NewMemoryStore(0)
	t.Cleanup(func() { _ = s.Close() })
	g := NewReplayGuard(s, time.Minute)
	g.now = func() time.Time { return now }

	v, err := g.Check(context.Background(), "m-1", now.Add(-time.Hour).Format(time.RFC3339))
	require.NoError(t, err)
	assert.Equal(t, VerdictStale, v)

	v, err = g.Check(context.Background(), "m-1", now.Format(time.RFC3339))
	require.NoError(t, err)
	assert.Equal(t, VerdictFresh, v)
}

func TestReplayGuard_StoreError(t *testing.T) {
	s := store.NewMemoryStore(0)
	require.NoError(t, s.Close())
	g := NewReplayGuard(s, 0)

	v, err := g.Check(context.Background(), "m-1", time.Now().UTC().Format(time.RFC3339Nano))
	assert.ErrorIs(t, err, store.ErrClosed)
	assert.Equal(t, VerdictFresh, v)
	assert.Equal(t, DefaultReplayWindow, g.window)
}

func TestVerdict_String(t *testing.T) {
	assert.Equal(t, "fresh", VerdictFresh.String())
	assert.Equal(t, "duplicate", VerdictDuplicate.String())
	assert.Equal(t, "stale", VerdictStale.String())
	assert.Equal(t, "verdict(7)", Verdict(7).String())
}
