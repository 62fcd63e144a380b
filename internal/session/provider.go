package session

import (
	"context"

	"github.com/teemow/eventrelay/internal/oauth"
	"github.com/teemow/eventrelay/internal/twitch"
)

// Provider is the subset of the Twitch API the registry needs.
// *twitch.Client implements it.
type Provider interface {
	IdentifyCurrentUser(ctx context.Context) (*twitch.User, error)
	ListSubscriptions(ctx context.Context, filter twitch.ListFilter, cursor string) (*twitch.SubscriptionPage, error)
	CreateSubscription(ctx context.Context, subType, userID, callbackURL, secret string) (string, error)
	DeleteSubscription(ctx context.Context, id string) error
	DeleteAllSubscriptions(ctx context.Context, filter twitch.ListFilter) (int, error)
}

// ProviderFactory hands out Providers acting as a user or as the application.
type ProviderFactory interface {
	ForCredential(cred *oauth.Credential) Provider
	App() Provider
}

// TwitchProviders adapts a *twitch.Factory to ProviderFactory.
type TwitchProviders struct {
	Factory *twitch.Factory
}

// ForCredential implements ProviderFactory.
func (p TwitchProviders) ForCredential(cred *oauth.Credential) Provider {
	return p.Factory.ForCredential(cred)
}

// App implements ProviderFactory.
func (p TwitchProviders) App() Provider {
	return p.Factory.App()
}
