package instrumentation

// Cardinality management helpers for metrics.
// These functions reduce high-cardinality label values to prevent metrics explosion.
//
// # Warning
//
// The subscription type of an inbound webhook is attacker-controlled until the
// signature has been checked, and Twitch keeps adding new types. Always pass
// it through EventTypeLabel before using it as a metric label.

// OtherEventType is the label used for subscription types outside the known set.
const OtherEventType = "other"

// knownEventTypes is the closed set of EventSub types that become metric labels.
var knownEventTypes = func() map[string]struct{} {
	types := []string{
		"channel.follow",
		"channel.subscribe",
		"channel.subscription.gift",
		"channel.subscription.message",
		"channel.subscription.end",
		"channel.cheer",
		"channel.raid",
		"channel.update",
		"channel.ban",
		"channel.unban",
		"channel.channel_points_custom_reward_redemption.add",
		"channel.hype_train.begin",
		"channel.hype_train.progress",
		"channel.hype_train.end",
		"stream.online",
		"stream.offline",
		"user.authorization.revoke",
	}
	m := make(map[string]struct{}, len(types))
	for _, t := range types {
		m[t] = struct{}{}
	}
	return m
}()

// EventTypeLabel maps an EventSub subscription type to a bounded metric label.
//
// Example:
//
//	EventTypeLabel("channel.follow", false)    // "channel.follow"
//	EventTypeLabel("channel.brand_new", false) // "other"
//	EventTypeLabel("channel.brand_new", true)  // "channel.brand_new"
//	EventTypeLabel("", true)                   // "unknown"
func EventTypeLabel(t string, detailed bool) string {
	if t == "" {
		return StatusUnknown
	}
	if _, ok := knownEventTypes[t]; ok {
		return t
	}
	if detailed && len(t) <= 64 {
		return t
	}
	return OtherEventType
}

// Twitch API operation names used for metrics and spans.
const (
	OperationValidate           = "validate_token"
	OperationIdentifyUser       = "identify_user"
	OperationListSubscriptions  = "list_subscriptions"
	OperationCreateSubscription = "create_subscription"
	OperationDeleteSubscription = "delete_subscription"
)
