package session

import (
	"context"
	"fmt"
	"time"

	"github.com/teemow/eventrelay/internal/instrumentation"
	"github.com/teemow/eventrelay/internal/logging"
	"github.com/teemow/eventrelay/internal/twitch"
)

// setupSubscriptions creates the session's EventSub subscriptions. It
// requires s.setupMu. On failure every subscription created so far is
// deleted again and the session is left without subscriptions.
func (r *Registry) setupSubscriptions(ctx context.Context, s *Session) error {
	start := time.Now()
	logger := logging.WithSession(r.logger, s.ID)

	user, err := r.providers.ForCredential(s.credential).IdentifyCurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("failed to identify user: %w", err)
	}
	s.setIdentity(user.ID, user.Login)
	logger = logger.With(logging.User(logging.AnonymizeID(user.ID)))

	app := r.providers.App()

	// Subscriptions left over from an earlier session of the same user would
	// deliver with a secret nobody holds any more.
	n, err := app.DeleteAllSubscriptions(ctx, twitch.ListFilter{UserID: user.ID})
	if err != nil {
		logger.Warn("failed to remove stale subscriptions", "deleted", n, logging.Err(err))
	} else if n > 0 {
		logger.Info("removed stale subscriptions", "deleted", n)
	}

	for _, eventType := range r.eventTypes {
		subID, err := app.CreateSubscription(ctx, eventType, user.ID, r.callbackURL, s.WebhookSecret)
		if err != nil {
			logger.Warn("failed to create subscription", logging.EventType(eventType), logging.Err(err))
			instrumentation.AddSpanEvent(ctx, "setup.rollback",
				instrumentation.NewSpanAttributeBuilder().WithSubscription("", eventType).Build()...)
			r.rollback(ctx, s, app)
			return fmt.Errorf("failed to create %s subscription: %w", eventType, err)
		}
		r.indexSubscription(s, subID)
		logger.Debug("subscription created", logging.EventType(eventType), logging.Subscription(subID))
	}

	logger.Info("subscriptions created", "count", len(r.eventTypes), logging.Duration(time.Since(start)))
	return nil
}

// rollback deletes the subscriptions created by a failed setup.
func (r *Registry) rollback(ctx context.Context, s *Session, app Provider) {
	ids := s.takeSubscriptions()

	r.mu.Lock()
	for _, subID := range ids {
		delete(r.webhooks, subID)
	}
	r.mu.Unlock()

	for _, subID := range ids {
		if err := app.DeleteSubscription(ctx, subID); err != nil {
			r.logger.Warn("failed to roll back subscription",
				logging.Session(s.ID),
				logging.Subscription(subID),
				logging.Err(err))
		}
	}
}
