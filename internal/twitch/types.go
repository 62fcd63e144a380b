package twitch

import "encoding/json"

// Subscription statuses reported by EventSub.
const (
	StatusEnabled                            = "enabled"
	StatusWebhookCallbackVerificationPending = "webhook_callback_verification_pending"
	StatusAuthorizationRevoked               = "authorization_revoked"
	StatusUserRemoved                        = "user_removed"
)

// TransportWebhook is the only transport method this relay creates.
const TransportWebhook = "webhook"

// User is a Helix user object.
type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	Type            string `json:"type"`
	BroadcasterType string `json:"broadcaster_type"`
	Description     string `json:"description"`
	ProfileImageURL string `json:"profile_image_url"`
	OfflineImageURL string `json:"offline_image_url"`
	Email           string `json:"email,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// Condition scopes a subscription to a broadcaster.
type Condition struct {
	BroadcasterUserID string `json:"broadcaster_user_id,omitempty"`
}

// Transport describes where Twitch delivers notifications.
type Transport struct {
	Method   string `json:"method"`
	Callback string `json:"callback,omitempty"`
	Secret   string `json:"secret,omitempty"`
}

// Subscription is an EventSub subscription.
type Subscription struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Type      string    `json:"type"`
	Version   string    `json:"version"`
	Condition Condition `json:"condition"`
	Transport Transport `json:"transport"`
	CreatedAt string    `json:"created_at,omitempty"`
	Cost      int       `json:"cost"`
}

// SubscriptionPage is one page of a subscription listing.
// An empty Cursor marks the last page.
type SubscriptionPage struct {
	Subscriptions []Subscription
	Total         int
	TotalCost     int
	MaxTotalCost  int
	Cursor        string
}

// ListFilter narrows a subscription listing. Helix accepts at most one of
// the fields per request.
type ListFilter struct {
	UserID string
	Status string
	Type   string
}

type usersResponse struct {
	Data []User `json:"data"`
}

type subscriptionsResponse struct {
	Data         []Subscription `json:"data"`
	Total        int            `json:"total"`
	TotalCost    int            `json:"total_cost"`
	MaxTotalCost int            `json:"max_total_cost"`
	Pagination   struct {
		Cursor string `json:"cursor"`
	} `json:"pagination"`
}

type createSubscriptionRequest struct {
	Type      string    `json:"type"`
	Version   string    `json:"version"`
	Condition Condition `json:"condition"`
	Transport Transport `json:"transport"`
}

// Delivery is the body of an inbound EventSub webhook request.
type Delivery struct {
	Subscription Subscription    `json:"subscription"`
	Event        json.RawMessage `json:"event,omitempty"`
	Challenge    string          `json:"challenge,omitempty"`
}
