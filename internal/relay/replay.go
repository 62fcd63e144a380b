package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/teemow/eventrelay/internal/store"
)

// DefaultReplayWindow is how old a delivery may be before it is rejected,
// and how long its message id is remembered.
const DefaultReplayWindow = 10 * time.Minute

const messageKeyPrefix = "msg:"

// Verdict is the result of a replay check.
type Verdict int

const (
	// VerdictFresh means the message has not been seen and is recent.
	VerdictFresh Verdict = iota
	// VerdictDuplicate means the message id was already accepted.
	VerdictDuplicate
	// VerdictStale means the timestamp is outside the window or unparsable.
	VerdictStale
)

func (v Verdict) String() string {
	switch v {
	case VerdictFresh:
		return "fresh"
	case VerdictDuplicate:
		return "duplicate"
	case VerdictStale:
		return "stale"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// ReplayGuard rejects deliveries that are too old or whose message id has
// already been accepted. Twitch retries a delivery with the same message id,
// so a duplicate is acknowledged without being forwarded again.
type ReplayGuard struct {
	store  store.Store
	window time.Duration
	now    func() time.Time
}

// NewReplayGuard creates a ReplayGuard remembering message ids in s.
func NewReplayGuard(s store.Store, window time.Duration) *ReplayGuard {
	if window <= 0 {
		window = DefaultReplayWindow
	}
	return &ReplayGuard{
		store:  s,
		window: window,
		now:    time.Now,
	}
}

// Check classifies a delivery by its message id and timestamp. The timestamp
// is checked before the store is touched, so stale messages never occupy a
// key. On a store error the verdict is VerdictFresh together with the error;
// callers decide whether to fail open.
func (g *ReplayGuard) Check(ctx context.Context, messageID, timestamp string) (Verdict, error) {
	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return VerdictStale, nil
	}
	age := g.now().Sub(ts)
	if age > g.window || age < -g.window {
		return VerdictStale, nil
	}

	stored, err := g.store.SetIfAbsent(ctx, messageKeyPrefix+messageID, []byte(timestamp), g.window)
	if err != nil {
		return VerdictFresh, fmt.Errorf("failed to record message id: %w", err)
	}
	if !stored {
		return VerdictDuplicate, nil
	}
	return VerdictFresh, nil
}
