package session

import (
	"context"
	"time"
)

// GarbageCollect removes sessions that have had no connection for longer
// than the session timeout and returns how many were removed. Sessions with
// a bind in progress are skipped.
func (r *Registry) GarbageCollect(ctx context.Context) int {
	now := r.now()
	removed := 0

	for _, id := range r.sessionIDs() {
		s := r.GetSession(id)
		if s == nil || !s.idle(now, r.sessionTimeout) {
			continue
		}
		if !s.setupMu.TryLock() {
			continue
		}
		// Re-check under the lock: a bind may have completed in between.
		if !s.removed && s.idle(now, r.sessionTimeout) {
			r.cleanupLocked(ctx, s, reasonIdle)
			removed++
		}
		s.setupMu.Unlock()
	}

	r.metrics.RecordSessionsExpired(ctx, removed)
	return removed
}

// Start runs GarbageCollect every GC interval until Stop is called or ctx
// is done. Calling Start more than once has no effect.
func (r *Registry) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.ticker = time.NewTicker(r.gcInterval)
		go r.gcLoop(ctx, r.ticker)
	})
}

func (r *Registry) gcLoop(ctx context.Context, ticker *time.Ticker) {
	for {
		select {
		case <-ticker.C:
			if n := r.GarbageCollect(ctx); n > 0 {
				r.logger.Info("Cleaned up idle sessions", "count", n)
			}
		case <-r.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops the garbage collection loop. It is safe to call more than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	// Wait for a concurrent Start and prevent later ones.
	r.startOnce.Do(func() {})
	if r.ticker != nil {
		r.ticker.Stop()
	}
}
