package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/teemow/eventrelay/internal/instrumentation"
	"github.com/teemow/eventrelay/internal/logging"
	"github.com/teemow/eventrelay/internal/session"
	"github.com/teemow/eventrelay/internal/twitch"
)

// MaxBodyBytes bounds the size of a webhook request body.
const MaxBodyBytes = 1 << 20

// Registry is the part of the session registry the relay needs.
// *session.Registry implements it.
type Registry interface {
	LookupSessionForWebhook(subID string) *session.Session
	RemoveSubscription(ctx context.Context, id, subID string) error
}

// Options configures a Handler.
type Options struct {
	// Replay rejects stale and repeated deliveries. Nil disables the check.
	Replay *ReplayGuard

	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// Handler serves POST /webhook.
type Handler struct {
	registry Registry
	replay   *ReplayGuard
	metrics  *instrumentation.Metrics
	logger   *slog.Logger
}

// NewHandler creates a Handler routing deliveries through registry.
func NewHandler(registry Registry, opts Options) *Handler {
	return &Handler{
		registry: registry,
		replay:   opts.Replay,
		metrics:  opts.Metrics,
		logger:   logging.WithComponent(opts.Logger, "relay"),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.metrics.RecordWebhookDelivery(r.Context(), "", instrumentation.DeliveryMalformed)
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.Debug("failed to read webhook body", logging.Err(err))
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var d twitch.Delivery
	if err := json.Unmarshal(body, &d); err != nil || d.Subscription.ID == "" {
		h.metrics.RecordWebhookDelivery(r.Context(), "", instrumentation.DeliveryMalformed)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	status, resp := h.HandleDelivery(r.Context(), body, r.Header, &d)
	if len(resp) > 0 {
		w.Header().Set("Content-Type", "text/plain")
	}
	w.WriteHeader(status)
	if len(resp) > 0 {
		_, _ = w.Write(resp)
	}
}

// HandleDelivery processes one parsed delivery and returns the HTTP status
// and body to answer Twitch with. rawBody must be the exact request body the
// signature was computed over.
func (h *Handler) HandleDelivery(ctx context.Context, rawBody []byte, header http.Header, d *twitch.Delivery) (int, []byte) {
	subID := d.Subscription.ID
	subType := d.Subscription.Type

	ctx, span := instrumentation.StartRelaySpan(ctx, "webhook.deliver",
		instrumentation.NewSpanAttributeBuilder().WithSubscription(subID, subType).Build()...)
	defer span.End()

	s := h.registry.LookupSessionForWebhook(subID)
	if s == nil {
		h.logger.Debug("delivery for unknown subscription", logging.Subscription(subID))
		return h.reject(ctx, subType, instrumentation.DeliveryUnknownSession, http.StatusUnauthorized)
	}
	logger := h.logger.With(logging.Session(s.ID), logging.Subscription(subID))

	messageID := header.Get(twitch.HeaderMessageID)
	timestamp := header.Get(twitch.HeaderMessageTimestamp)
	signature := header.Get(twitch.HeaderMessageSignature)
	if !twitch.VerifySignature(rawBody, messageID, timestamp, signature, s.WebhookSecret) {
		logger.Warn("webhook signature mismatch", "message_id", messageID)
		return h.reject(ctx, subType, instrumentation.DeliveryBadSignature, http.StatusUnauthorized)
	}

	if h.replay != nil {
		verdict, err := h.replay.Check(ctx, messageID, timestamp)
		if err != nil {
			logger.Warn("replay check failed, accepting delivery", logging.Err(err))
		}
		switch verdict {
		case VerdictStale:
			logger.Warn("stale webhook delivery", "message_id", messageID, "timestamp", timestamp)
			return h.reject(ctx, subType, instrumentation.DeliveryStale, http.StatusUnauthorized)
		case VerdictDuplicate:
			logger.Debug("duplicate webhook delivery", "message_id", messageID)
			h.record(ctx, subType, instrumentation.DeliveryDuplicate)
			return http.StatusNoContent, nil
		}
	}

	if d.Challenge != "" {
		logger.Info("webhook callback verified", logging.EventType(subType))
		h.record(ctx, subType, instrumentation.DeliveryChallenge)
		instrumentation.SetSpanSuccess(span)
		return http.StatusOK, []byte(d.Challenge)
	}

	if d.Subscription.Status != twitch.StatusEnabled {
		logger.Info("subscription no longer enabled",
			logging.EventType(subType),
			logging.Status(d.Subscription.Status))
		if err := h.registry.RemoveSubscription(ctx, s.ID, subID); err != nil {
			logger.Warn("failed to remove revoked subscription", logging.Err(err))
		}
		h.metrics.RecordSubscription(ctx, subType, instrumentation.SubscriptionRevoked)
		return h.reject(ctx, subType, instrumentation.DeliveryRevoked, http.StatusUnauthorized)
	}

	conn := s.Conn()
	if conn == nil {
		logger.Debug("no connection bound, dropping event", logging.EventType(subType))
		h.record(ctx, subType, instrumentation.DeliveryDropped)
		return http.StatusNoContent, nil
	}
	if err := conn.SendEvent(ctx, rawBody); err != nil {
		logger.Warn("failed to forward event", logging.EventType(subType), logging.Err(err))
		h.record(ctx, subType, instrumentation.DeliveryDropped)
		return http.StatusNoContent, nil
	}

	h.record(ctx, subType, instrumentation.DeliveryForwarded)
	instrumentation.SetSpanSuccess(span)
	return http.StatusNoContent, nil
}

func (h *Handler) reject(ctx context.Context, subType, outcome string, status int) (int, []byte) {
	h.record(ctx, subType, outcome)
	return status, nil
}

// record counts the delivery outcome and notes it on the delivery span.
func (h *Handler) record(ctx context.Context, subType, outcome string) {
	h.metrics.RecordWebhookDelivery(ctx, subType, outcome)
	instrumentation.AddSpanEvent(ctx, "webhook.outcome",
		instrumentation.NewSpanAttributeBuilder().WithStatus(outcome).Build()...)
}
